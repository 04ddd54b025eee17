package server

import (
	"io"

	"github.com/chronologos/epdserve/internal/protocol"
)

// Framer assembles one fixed-size command record from however many reads it
// takes.
type Framer struct {
	buf [protocol.CommandSize]byte
	n   int
}

// Fill performs one read into the unfilled part of the record. It never reads
// past the record, so bytes that follow it (a Draw payload) stay in r.
func (f *Framer) Fill(r io.Reader) (complete bool, err error) {
	n, err := r.Read(f.buf[f.n:])
	f.n += n
	if f.n == len(f.buf) {
		return true, nil
	}
	if err == nil && n == 0 {
		return false, io.ErrNoProgress
	}
	return false, err
}

// Take returns the completed record and starts a new one.
func (f *Framer) Take() [protocol.CommandSize]byte {
	rec := f.buf
	f.n = 0
	return rec
}

// Buffered returns how many bytes of the current record have arrived.
func (f *Framer) Buffered() int {
	return f.n
}
