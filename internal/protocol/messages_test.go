package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestEveryCommandHasFixedSize(t *testing.T) {
	for _, cmd := range []Command{
		&Hello{Priority: 7},
		&Draw{Offset: 1, Amount: 2, TimeBudget: 3, PayloadSize: 4},
		&Power{On: true},
		&Goodbye{},
	} {
		var buf bytes.Buffer
		if err := WriteCommand(&buf, cmd); err != nil {
			t.Fatal(err)
		}
		if buf.Len() != CommandSize {
			t.Fatalf("%T encoded to %d bytes, want %d", cmd, buf.Len(), CommandSize)
		}
	}
}

func TestDrawLayout(t *testing.T) {
	rec, err := EncodeCommand(&Draw{Offset: 1, Amount: 825, TimeBudget: 120, PayloadSize: 0x01020304})
	if err != nil {
		t.Fatal(err)
	}
	if rec[0] != 'D' {
		t.Fatalf("tag: got %q, want 'D'", rec[0])
	}
	if got := binary.LittleEndian.Uint32(rec[5:9]); got != 825 {
		t.Fatalf("amount: got %d", got)
	}
	// payload_size is the last field, little-endian
	want := []byte{0x04, 0x03, 0x02, 0x01}
	if !bytes.Equal(rec[13:17], want) {
		t.Fatalf("payload_size bytes: got %x, want %x", rec[13:17], want)
	}
}

func TestDrawRoundTrip(t *testing.T) {
	original := &Draw{Offset: 10, Amount: 20, TimeBudget: 120, PayloadSize: 4096}
	var buf bytes.Buffer
	if err := WriteCommand(&buf, original); err != nil {
		t.Fatal(err)
	}
	cmd, err := ReadCommand(&buf)
	if err != nil {
		t.Fatal(err)
	}
	decoded, ok := cmd.(*Draw)
	if !ok {
		t.Fatalf("expected *Draw, got %T", cmd)
	}
	if *decoded != *original {
		t.Fatalf("draw mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestUnusedFieldsAreZero(t *testing.T) {
	rec, err := EncodeCommand(&Power{On: true})
	if err != nil {
		t.Fatal(err)
	}
	if binary.LittleEndian.Uint32(rec[1:5]) != 1 {
		t.Fatal("power on should encode as 1")
	}
	for i := 5; i < CommandSize; i++ {
		if rec[i] != 0 {
			t.Fatalf("byte %d not zero-filled: %x", i, rec)
		}
	}
}

func TestPowerNonZeroIsOn(t *testing.T) {
	rec := make([]byte, CommandSize)
	rec[0] = 'P'
	binary.LittleEndian.PutUint32(rec[1:], 42)
	cmd, err := DecodeCommand(rec)
	if err != nil {
		t.Fatal(err)
	}
	if !cmd.(*Power).On {
		t.Fatal("non-zero status should decode as on")
	}
}

func TestUnknownTag(t *testing.T) {
	rec := make([]byte, CommandSize)
	rec[0] = 'Z'
	_, err := DecodeCommand(rec)
	if !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestShortRecord(t *testing.T) {
	_, err := DecodeCommand([]byte{'H', 1, 0})
	if !errors.Is(err, ErrShortCommand) {
		t.Fatalf("expected ErrShortCommand, got %v", err)
	}
}

func TestReadCommandTruncated(t *testing.T) {
	rec, _ := EncodeCommand(&Hello{Priority: 1})
	_, err := ReadCommand(bytes.NewReader(rec[:CommandSize-1]))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestOpcodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	ops := []Opcode{OpActivated, OpEnqueued, OpGoodbyeAck, OpDrawOK, OpInvalid}
	for _, op := range ops {
		if err := WriteOpcode(&buf, op); err != nil {
			t.Fatal(err)
		}
	}
	if buf.Len() != len(ops) {
		t.Fatalf("opcodes should be one byte each, got %d bytes", buf.Len())
	}
	for _, want := range ops {
		got, err := ReadOpcode(&buf)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
