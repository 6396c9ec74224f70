package relay

import (
	"container/heap"
	"context"
	"sync"

	"github.com/ZentaChain/securechat/pkg/protocol"
)

type queuedPacket struct {
	pkt *protocol.Packet
	seq uint64
}

// packetHeap orders by priority, then arrival
type packetHeap []*queuedPacket

func (h packetHeap) Len() int { return len(h) }

func (h packetHeap) Less(i, j int) bool {
	if h[i].pkt.Priority != h[j].pkt.Priority {
		return h[i].pkt.Priority < h[j].pkt.Priority
	}
	return h[i].seq < h[j].seq
}

func (h packetHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *packetHeap) Push(x any) { *h = append(*h, x.(*queuedPacket)) }

func (h *packetHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// PacketQueue is an unbounded blocking priority queue. Lower Priority values
// come out first; equal priorities come out in arrival order.
type PacketQueue struct {
	mu     sync.Mutex
	items  packetHeap
	seq    uint64
	counts map[protocol.PacketType]int
	notify chan struct{}
}

// NewPacketQueue creates an empty queue
func NewPacketQueue() *PacketQueue {
	return &PacketQueue{
		counts: make(map[protocol.PacketType]int),
		notify: make(chan struct{}, 1),
	}
}

// Push adds p to the queue
func (q *PacketQueue) Push(p *protocol.Packet) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.items, &queuedPacket{pkt: p, seq: q.seq})
	q.counts[p.Type]++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Take blocks until a packet is available or ctx is done
func (q *PacketQueue) Take(ctx context.Context) (*protocol.Packet, error) {
	for {
		if p, ok := q.tryPop(); ok {
			return p, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *PacketQueue) tryPop() (*protocol.Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	item := heap.Pop(&q.items).(*queuedPacket)
	q.counts[item.pkt.Type]--

	// Wake another consumer if more work remains
	if len(q.items) > 0 {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return item.pkt, true
}

// Len returns the number of queued packets
func (q *PacketQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// CountType returns how many packets of type t are queued
func (q *PacketQueue) CountType(t protocol.PacketType) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.counts[t]
}
