//go:build !linux

package transport

import "net"

// listenBacklog falls back to the platform default backlog.
func listenBacklog(addr string, _ int) (net.Listener, error) {
	return net.Listen("tcp4", addr)
}
