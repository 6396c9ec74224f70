package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/pierrec/lz4/v4"
)

var (
	ErrInvalidMagic   = errors.New("invalid protocol magic")
	ErrInvalidVersion = errors.New("unsupported protocol version")
	ErrTruncated      = errors.New("packet truncated")
	ErrFieldTooLong   = errors.New("packet field too long")
)

// Flags
const (
	FlagCompressed uint16 = 0x0002 // Body is an LZ4 block
)

const (
	// encodedHeaderSize is magic(4) + version(2) + flags(2)
	encodedHeaderSize = 8

	// compressThreshold is the smallest body worth trying to compress
	compressThreshold = 512

	// MaxPacketSize caps the decoded body so a compressed frame cannot
	// expand into an arbitrary allocation
	MaxPacketSize = 4 * FileChunkSize
)

// Encode serializes the packet. Bodies above the compression threshold are
// LZ4-compressed when that makes them smaller.
func (p *Packet) Encode() ([]byte, error) {
	body, err := p.encodeBody()
	if err != nil {
		return nil, err
	}

	flags := uint16(0)
	if len(body) >= compressThreshold {
		if compressed, ok := compressBody(body); ok {
			body = compressed
			flags |= FlagCompressed
		}
	}

	buf := make([]byte, encodedHeaderSize+len(body))
	binary.BigEndian.PutUint32(buf[0:4], ProtocolMagic)
	binary.BigEndian.PutUint16(buf[4:6], ProtocolVersion)
	binary.BigEndian.PutUint16(buf[6:8], flags)
	copy(buf[encodedHeaderSize:], body)

	return buf, nil
}

// Decode parses an encoded packet and validates it
func Decode(buf []byte) (*Packet, error) {
	if len(buf) < encodedHeaderSize {
		return nil, ErrTruncated
	}

	if binary.BigEndian.Uint32(buf[0:4]) != ProtocolMagic {
		return nil, ErrInvalidMagic
	}
	if binary.BigEndian.Uint16(buf[4:6]) != ProtocolVersion {
		return nil, ErrInvalidVersion
	}

	flags := binary.BigEndian.Uint16(buf[6:8])
	body := buf[encodedHeaderSize:]

	if flags&FlagCompressed != 0 {
		var err error
		body, err = decompressBody(body)
		if err != nil {
			return nil, err
		}
	}

	p, err := decodeBody(body)
	if err != nil {
		return nil, err
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Packet) encodeBody() ([]byte, error) {
	strs := []string{p.Sender, p.Receiver, p.Group, p.FileID, p.FileName, p.TransactionID}
	size := 1 + 2 + 8 + 4 + 4 + 4 + len(p.Payload)
	for _, s := range strs {
		if len(s) > math.MaxUint16 {
			return nil, ErrFieldTooLong
		}
		size += 2 + len(s)
	}
	if p.Priority < math.MinInt16 || p.Priority > math.MaxInt16 {
		return nil, fmt.Errorf("priority %d out of range", p.Priority)
	}

	buf := make([]byte, size)
	offset := 0

	buf[offset] = byte(p.Type)
	offset++

	binary.BigEndian.PutUint16(buf[offset:], uint16(int16(p.Priority)))
	offset += 2

	for _, s := range strs[:5] {
		offset = putString(buf, offset, s)
	}

	binary.BigEndian.PutUint64(buf[offset:], uint64(p.FileSize))
	offset += 8

	binary.BigEndian.PutUint32(buf[offset:], uint32(int32(p.ChunkIndex)))
	offset += 4

	binary.BigEndian.PutUint32(buf[offset:], uint32(int32(p.TotalChunks)))
	offset += 4

	offset = putString(buf, offset, p.TransactionID)

	binary.BigEndian.PutUint32(buf[offset:], uint32(len(p.Payload)))
	offset += 4

	copy(buf[offset:], p.Payload)

	return buf, nil
}

func putString(buf []byte, offset int, s string) int {
	binary.BigEndian.PutUint16(buf[offset:], uint16(len(s)))
	offset += 2
	copy(buf[offset:], s)
	return offset + len(s)
}

// bodyReader walks a body buffer, remembering the first short read
type bodyReader struct {
	buf    []byte
	offset int
	err    error
}

func (r *bodyReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.offset+n > len(r.buf) {
		r.err = ErrTruncated
		return nil
	}
	b := r.buf[r.offset : r.offset+n]
	r.offset += n
	return b
}

func (r *bodyReader) uint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *bodyReader) uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *bodyReader) uint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *bodyReader) string() string {
	n := int(r.uint16())
	return string(r.take(n))
}

func decodeBody(buf []byte) (*Packet, error) {
	r := &bodyReader{buf: buf}
	p := &Packet{}

	if t := r.take(1); t != nil {
		p.Type = PacketType(t[0])
	}
	p.Priority = int(int16(r.uint16()))
	p.Sender = r.string()
	p.Receiver = r.string()
	p.Group = r.string()
	p.FileID = r.string()
	p.FileName = r.string()
	p.FileSize = int64(r.uint64())
	p.ChunkIndex = int(int32(r.uint32()))
	p.TotalChunks = int(int32(r.uint32()))
	p.TransactionID = r.string()

	payloadLen := int(r.uint32())
	if payload := r.take(payloadLen); payloadLen > 0 && payload != nil {
		p.Payload = append([]byte(nil), payload...)
	}

	if r.err != nil {
		return nil, r.err
	}

	return p, nil
}

// compressBody returns [uncompressed length (4 bytes)] + [lz4 block] when the
// block is smaller than the input
func compressBody(body []byte) ([]byte, bool) {
	dst := make([]byte, 4+lz4.CompressBlockBound(len(body)))
	n, err := lz4.CompressBlock(body, dst[4:], nil)
	if err != nil || n == 0 || 4+n >= len(body) {
		return nil, false
	}
	binary.BigEndian.PutUint32(dst[0:4], uint32(len(body)))
	return dst[:4+n], true
}

func decompressBody(body []byte) ([]byte, error) {
	if len(body) < 4 {
		return nil, ErrTruncated
	}
	size := binary.BigEndian.Uint32(body[0:4])
	if size > MaxPacketSize {
		return nil, fmt.Errorf("decompressed size %d exceeds limit", size)
	}

	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(body[4:], dst)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress packet: %w", err)
	}
	if n != int(size) {
		return nil, fmt.Errorf("decompressed %d bytes, expected %d", n, size)
	}
	return dst, nil
}
