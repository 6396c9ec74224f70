package protocol

import (
	"encoding/hex"
	"errors"
	"strconv"
	"sync"

	"golang.org/x/crypto/blake2b"
)

var ErrChunkCountMismatch = errors.New("total chunk count differs from transaction")

// ChunkCount returns ceil(size/chunkSize), with a minimum of one chunk so
// empty payloads still produce a packet
func ChunkCount(size int64, chunkSize int) int {
	if size <= 0 {
		return 1
	}
	return int((size + int64(chunkSize) - 1) / int64(chunkSize))
}

// SplitMessage slices payload into chunkSize pieces. An empty payload yields a
// single empty chunk.
func SplitMessage(payload []byte, chunkSize int) [][]byte {
	count := ChunkCount(int64(len(payload)), chunkSize)
	chunks := make([][]byte, 0, count)

	for i := 0; i < count; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, payload[start:end])
	}

	return chunks
}

// LastChunkForSize returns the index of the last chunk fully covered by size
// bytes, or NoProgress
func LastChunkForSize(size int64, chunkSize int) int {
	if size <= 0 {
		return NoProgress
	}
	return int(size/int64(chunkSize)) - 1
}

// LastChunkOfFile returns the index of the final chunk of a complete file
func LastChunkOfFile(size int64, chunkSize int) int {
	return ChunkCount(size, chunkSize) - 1
}

// FileID returns a stable identifier for a file so retried and resumed
// transfers reuse the same ID
func FileID(name string, size int64) string {
	sum := blake2b.Sum256([]byte(name + strconv.FormatInt(size, 10)))
	return hex.EncodeToString(sum[:])
}

// assembly collects the chunks of one transaction
type assembly struct {
	mu     sync.Mutex
	total  int
	chunks map[int][]byte
	done   bool
}

// Reassembler rebuilds chunked messages keyed by transaction ID. Buffers are
// dropped on completion; abandoned transactions stay until the process ends,
// bounded by MaxTotalChunks per transaction.
type Reassembler struct {
	pending sync.Map // transactionID -> *assembly
}

// NewReassembler creates an empty reassembler
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Add stores one chunk. When the last missing chunk arrives it returns the
// concatenated payload and complete=true. Invalid chunks are rejected without
// touching other transactions.
func (r *Reassembler) Add(p *Packet) ([]byte, bool, error) {
	if err := ValidateChunk(p.ChunkIndex, p.TotalChunks); err != nil {
		return nil, false, err
	}

	v, _ := r.pending.LoadOrStore(p.TransactionID, &assembly{
		total:  p.TotalChunks,
		chunks: make(map[int][]byte),
	})
	a := v.(*assembly)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.done {
		return nil, false, nil
	}
	if a.total != p.TotalChunks {
		return nil, false, ErrChunkCountMismatch
	}

	a.chunks[p.ChunkIndex] = p.Payload
	if len(a.chunks) < a.total {
		return nil, false, nil
	}

	a.done = true
	r.pending.CompareAndDelete(p.TransactionID, a)

	size := 0
	for _, c := range a.chunks {
		size += len(c)
	}
	full := make([]byte, 0, size)
	for i := 0; i < a.total; i++ {
		full = append(full, a.chunks[i]...)
	}

	return full, true, nil
}

// Pending returns the number of incomplete transactions
func (r *Reassembler) Pending() int {
	n := 0
	r.pending.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
