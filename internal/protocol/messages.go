package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrUnknownCommand = errors.New("unknown command tag")
	ErrShortCommand   = errors.New("command record too short")
)

// Command is one of *Hello, *Draw, *Power or *Goodbye.
type Command interface {
	Tag() Tag
}

type Hello struct {
	Priority uint32
}

type Draw struct {
	Offset      uint32
	Amount      uint32
	TimeBudget  uint32
	PayloadSize uint32
}

type Power struct {
	On bool
}

type Goodbye struct{}

func (*Hello) Tag() Tag   { return TagHello }
func (*Draw) Tag() Tag    { return TagDraw }
func (*Power) Tag() Tag   { return TagPower }
func (*Goodbye) Tag() Tag { return TagGoodbye }

// --- Encoding ---

// EncodeCommand serializes cmd into its fixed-size record. Unused fields are
// zero.
func EncodeCommand(cmd Command) ([CommandSize]byte, error) {
	var rec [CommandSize]byte
	var fields [fieldCount]uint32

	switch c := cmd.(type) {
	case *Hello:
		fields[0] = c.Priority
	case *Draw:
		fields = [fieldCount]uint32{c.Offset, c.Amount, c.TimeBudget, c.PayloadSize}
	case *Power:
		if c.On {
			fields[0] = 1
		}
	case *Goodbye:
	default:
		return rec, fmt.Errorf("unsupported command type: %T", cmd)
	}

	rec[0] = byte(cmd.Tag())
	for i, f := range fields {
		binary.LittleEndian.PutUint32(rec[1+i*fieldSize:], f)
	}
	return rec, nil
}

// WriteCommand writes the record for cmd to w.
func WriteCommand(w io.Writer, cmd Command) error {
	rec, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	_, err = w.Write(rec[:])
	return err
}

// --- Decoding ---

// DecodeCommand decodes a complete record. An unrecognized tag yields an
// error wrapping ErrUnknownCommand; the record is still fully consumed.
func DecodeCommand(rec []byte) (Command, error) {
	if len(rec) < CommandSize {
		return nil, ErrShortCommand
	}

	var f [fieldCount]uint32
	for i := range f {
		f[i] = binary.LittleEndian.Uint32(rec[1+i*fieldSize:])
	}

	switch tag := Tag(rec[0]); tag {
	case TagHello:
		return &Hello{Priority: f[0]}, nil
	case TagDraw:
		return &Draw{Offset: f[0], Amount: f[1], TimeBudget: f[2], PayloadSize: f[3]}, nil
	case TagPower:
		return &Power{On: f[0] != 0}, nil
	case TagGoodbye:
		return &Goodbye{}, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownCommand, byte(tag))
	}
}

// ReadCommand reads exactly one record from r.
func ReadCommand(r io.Reader) (Command, error) {
	var rec [CommandSize]byte
	if _, err := io.ReadFull(r, rec[:]); err != nil {
		return nil, err
	}
	return DecodeCommand(rec[:])
}

// --- Server notifications ---

// WriteOpcode writes a single notification byte.
func WriteOpcode(w io.Writer, op Opcode) error {
	b := [1]byte{byte(op)}
	_, err := w.Write(b[:])
	return err
}

// ReadOpcode reads a single notification byte.
func ReadOpcode(r io.Reader) (Opcode, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return Opcode(b[0]), nil
}
