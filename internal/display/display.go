// Package display defines the panel driver the render pipeline feeds, plus a
// headless Recorder implementation.
package display

// Display is the panel driver. All calls are synchronous. OutputRow must not
// retain row after it returns.
type Display interface {
	// Init prepares the driver for rows of rowWidth pixels.
	Init(rowWidth int) error
	StartFrame()
	// OutputRow drives one scanline; budget is the row's output time in
	// driver units.
	OutputRow(row []byte, budget uint32)
	EndFrame()
	PowerOn()
	PowerOff()
}
