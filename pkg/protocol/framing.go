package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single length-prefixed frame (packet plus cipher overhead)
const MaxFrameSize = MaxPacketSize + 4096

var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// WriteFrame writes a 4-byte big-endian length followed by data
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(data)))
	copy(buf[4:], data)

	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed frame. A stream that ends, cleanly or
// mid-frame, before a complete frame is reported as io.EOF so callers can
// treat it as connection termination.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, normalizeEOF(err)
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return nil, io.EOF
	}
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, normalizeEOF(err)
	}

	return data, nil
}

func normalizeEOF(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}
