// Package decoder turns the run-length token stream of a Draw payload into
// fixed-size scanlines.
//
// Token grammar:
//
//	v                  literal byte v (v != Escape)
//	Escape, n, v       v repeated n+MinRun times
//
// Input may arrive in arbitrary chunks. Decode consumes only whole tokens; an
// escape whose two trailing bytes have not arrived yet is left unconsumed so
// the caller can present it again together with the next chunk. A run whose
// header is known is always written out completely before Decode returns.
package decoder

// Escape marks the start of a 3-byte run token.
const Escape = 0xFF

// MinRun is the bias added to a run's length byte, so one byte expresses
// runs of 2..257.
const MinRun = 2

// Sink receives every completed scanline. The slice is reused after the call
// returns, so a Sink that keeps it must copy. A Sink may block; an error
// aborts decoding.
type Sink func(line []byte) error

// Decoder holds the partial scanline between Decode calls.
type Decoder struct {
	line []byte
	pos  int

	runRemaining int
	runValue     byte

	emit  Sink
	lines int
}

// New creates a decoder producing scanlines of lineSize bytes.
func New(lineSize int, emit Sink) *Decoder {
	return &Decoder{
		line: make([]byte, lineSize),
		emit: emit,
	}
}

// Decode consumes the longest prefix of input made of whole tokens and
// returns its length. The unconsumed tail is at most two bytes long and
// always starts with Escape.
//
// A non-nil error comes from the Sink; decoding state is then undefined and
// the decoder should be discarded.
func (d *Decoder) Decode(input []byte) (int, error) {
	i := 0
	for i < len(input) {
		b := input[i]
		if b != Escape {
			if err := d.put(b); err != nil {
				return i + 1, err
			}
			i++
			continue
		}

		if len(input)-i < 3 {
			break
		}
		d.runRemaining = int(input[i+1]) + MinRun
		d.runValue = input[i+2]
		i += 3
		if err := d.drainRun(); err != nil {
			return i, err
		}
	}
	return i, nil
}

func (d *Decoder) drainRun() error {
	for d.runRemaining > 0 {
		d.runRemaining--
		if err := d.put(d.runValue); err != nil {
			return err
		}
	}
	return nil
}

func (d *Decoder) put(b byte) error {
	d.line[d.pos] = b
	d.pos++
	if d.pos < len(d.line) {
		return nil
	}
	d.pos = 0
	d.lines++
	return d.emit(d.line)
}

// Pending returns the number of bytes in the unfinished scanline.
func (d *Decoder) Pending() int {
	return d.pos
}

// Lines returns the number of scanlines emitted so far.
func (d *Decoder) Lines() int {
	return d.lines
}

// Reset discards the partial scanline.
func (d *Decoder) Reset() {
	d.pos = 0
	d.runRemaining = 0
	d.lines = 0
}
