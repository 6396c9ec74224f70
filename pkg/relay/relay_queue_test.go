package relay

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/securechat/pkg/protocol"
)

func TestQueueDrainsByPriorityThenArrival(t *testing.T) {
	q := NewPacketQueue()
	rng := rand.New(rand.NewSource(42))

	const n = 300
	for i := 0; i < n; i++ {
		q.Push(&protocol.Packet{
			Type:       protocol.TypeDM,
			Priority:   rng.Intn(3),
			ChunkIndex: i, // arrival order
		})
	}
	require.Equal(t, n, q.Len())

	ctx := context.Background()
	prev, err := q.Take(ctx)
	require.NoError(t, err)
	for i := 1; i < n; i++ {
		next, err := q.Take(ctx)
		require.NoError(t, err)

		require.LessOrEqual(t, prev.Priority, next.Priority, "priority must be non-decreasing")
		if prev.Priority == next.Priority {
			require.Less(t, prev.ChunkIndex, next.ChunkIndex, "ties resolved by arrival")
		}
		prev = next
	}
	assert.Zero(t, q.Len())
}

func TestQueueTakeBlocksUntilPush(t *testing.T) {
	q := NewPacketQueue()

	got := make(chan *protocol.Packet, 1)
	go func() {
		p, err := q.Take(context.Background())
		if err == nil {
			got <- p
		}
	}()

	select {
	case <-got:
		t.Fatal("Take returned on empty queue")
	case <-time.After(50 * time.Millisecond):
	}

	q.Push(&protocol.Packet{Type: protocol.TypeHeartbeat})
	select {
	case p := <-got:
		assert.Equal(t, protocol.TypeHeartbeat, p.Type)
	case <-time.After(time.Second):
		t.Fatal("Take did not wake on push")
	}
}

func TestQueueTakeHonorsContext(t *testing.T) {
	q := NewPacketQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Take(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueCountType(t *testing.T) {
	q := NewPacketQueue()
	for i := 0; i < 3; i++ {
		q.Push(&protocol.Packet{Type: protocol.TypeFileChunk, Priority: protocol.PriorityBulk})
	}
	q.Push(&protocol.Packet{Type: protocol.TypeDM, Priority: protocol.PriorityChat})

	assert.Equal(t, 3, q.CountType(protocol.TypeFileChunk))

	p, err := q.Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeDM, p.Type)
	assert.Equal(t, 3, q.CountType(protocol.TypeFileChunk))

	q.Take(context.Background())
	assert.Equal(t, 2, q.CountType(protocol.TypeFileChunk))
}
