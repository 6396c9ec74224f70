package protocol

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitAndReassemble(t *testing.T) {
	c := MessageChunkSize
	sizes := []int{0, 1, c - 1, c, c + 1, 10 * c}

	for _, n := range sizes {
		t.Run(fmt.Sprintf("N=%d", n), func(t *testing.T) {
			payload := make([]byte, n)
			_, err := rand.Read(payload)
			require.NoError(t, err)

			chunks := SplitMessage(payload, c)
			expected := (n + c - 1) / c
			if expected == 0 {
				expected = 1
			}
			require.Len(t, chunks, expected)

			r := NewReassembler()
			var full []byte
			var complete bool

			// Deliver in reverse order to exercise index-ordered concatenation
			for i := len(chunks) - 1; i >= 0; i-- {
				full, complete, err = r.Add(&Packet{
					Type:          TypeDM,
					TransactionID: "tx",
					ChunkIndex:    i,
					TotalChunks:   len(chunks),
					Payload:       chunks[i],
				})
				require.NoError(t, err)
				if i > 0 {
					assert.False(t, complete)
				}
			}

			require.True(t, complete)
			assert.Len(t, full, n)
			assert.True(t, bytes.Equal(payload, full))
			assert.Zero(t, r.Pending())
		})
	}
}

func TestReassemblerRejectsInvalidChunks(t *testing.T) {
	r := NewReassembler()

	// An unrelated transaction in progress must survive bad packets
	_, complete, err := r.Add(&Packet{TransactionID: "good", ChunkIndex: 0, TotalChunks: 2, Payload: []byte("he")})
	require.NoError(t, err)
	require.False(t, complete)

	bad := []*Packet{
		{TransactionID: "bad", ChunkIndex: 0, TotalChunks: 0},
		{TransactionID: "bad", ChunkIndex: 0, TotalChunks: -5},
		{TransactionID: "bad", ChunkIndex: 0, TotalChunks: MaxTotalChunks + 1},
		{TransactionID: "bad", ChunkIndex: 2, TotalChunks: 2},
		{TransactionID: "bad", ChunkIndex: -1, TotalChunks: 2},
		{TransactionID: "good", ChunkIndex: 1, TotalChunks: 3},
	}
	for _, p := range bad {
		_, complete, err := r.Add(p)
		assert.Error(t, err)
		assert.False(t, complete)
	}

	full, complete, err := r.Add(&Packet{TransactionID: "good", ChunkIndex: 1, TotalChunks: 2, Payload: []byte("llo")})
	require.NoError(t, err)
	require.True(t, complete)
	assert.Equal(t, "hello", string(full))
}

func TestReassemblerConcurrentTransactions(t *testing.T) {
	r := NewReassembler()
	const txCount = 20
	const chunks = 8

	results := make(chan string, txCount)
	var wg sync.WaitGroup
	for tx := 0; tx < txCount; tx++ {
		for i := 0; i < chunks; i++ {
			wg.Add(1)
			go func(tx, i int) {
				defer wg.Done()
				full, complete, err := r.Add(&Packet{
					TransactionID: fmt.Sprintf("tx-%d", tx),
					ChunkIndex:    i,
					TotalChunks:   chunks,
					Payload:       []byte{byte('a' + i)},
				})
				assert.NoError(t, err)
				if complete {
					results <- string(full)
				}
			}(tx, i)
		}
	}
	wg.Wait()
	close(results)

	count := 0
	for s := range results {
		assert.Equal(t, "abcdefgh", s)
		count++
	}
	assert.Equal(t, txCount, count, "each transaction completes exactly once")
}

func TestChunkMath(t *testing.T) {
	assert.Equal(t, 1, ChunkCount(0, FileChunkSize))
	assert.Equal(t, 1, ChunkCount(FileChunkSize, FileChunkSize))
	assert.Equal(t, 2, ChunkCount(FileChunkSize+1, FileChunkSize))

	assert.Equal(t, NoProgress, LastChunkForSize(0, FileChunkSize))
	assert.Equal(t, NoProgress, LastChunkForSize(FileChunkSize-1, FileChunkSize))
	assert.Equal(t, 0, LastChunkForSize(FileChunkSize, FileChunkSize))
	assert.Equal(t, 2, LastChunkForSize(3*FileChunkSize+10, FileChunkSize))

	assert.Equal(t, 3, LastChunkOfFile(3*FileChunkSize+10, FileChunkSize))
}

func TestFileIDStable(t *testing.T) {
	a := FileID("photo.png", 1234)
	assert.Equal(t, a, FileID("photo.png", 1234))
	assert.NotEqual(t, a, FileID("photo.png", 1235))
	assert.NotEqual(t, a, FileID("photo2.png", 1234))
	assert.Len(t, a, 64)
}
