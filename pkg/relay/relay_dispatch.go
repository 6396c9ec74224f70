package relay

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/securechat/pkg/protocol"
)

// Stats are the relay traffic counters
type Stats struct {
	Connections      atomic.Uint64
	AuthFailures     atomic.Uint64
	PacketsQueued    atomic.Uint64
	PacketsRouted    atomic.Uint64
	PacketsDropped   atomic.Uint64
	PriorityBypasses atomic.Uint64
}

// Dispatcher is the single consumer of the relay PacketQueue. Connection
// handlers Enqueue; Run routes.
type Dispatcher struct {
	queue    *PacketQueue
	registry *Registry
	stats    *Stats
	log      *logrus.Entry

	// OnPriorityBypass fires when a chat packet is queued while file chunks
	// are waiting, i.e. it will overtake them. Diagnostics only.
	OnPriorityBypass func(p *protocol.Packet, queuedChunks int)
}

// NewDispatcher creates a dispatcher over registry. stats may be nil.
func NewDispatcher(registry *Registry, stats *Stats) *Dispatcher {
	if stats == nil {
		stats = &Stats{}
	}
	return &Dispatcher{
		queue:    NewPacketQueue(),
		registry: registry,
		stats:    stats,
		log:      logrus.WithField("component", "dispatcher"),
	}
}

// Queue exposes the underlying queue
func (d *Dispatcher) Queue() *PacketQueue {
	return d.queue
}

// Enqueue schedules p for routing. Acknowledgements are promoted to the top
// priority regardless of what the sender asked for.
func (d *Dispatcher) Enqueue(p *protocol.Packet) {
	if protocol.IsAck(p.Type) {
		p.Priority = protocol.PriorityAck
	}

	if protocol.IsChat(p.Type) {
		if chunks := d.queue.CountType(protocol.TypeFileChunk); chunks > 0 {
			d.stats.PriorityBypasses.Add(1)
			d.log.WithFields(logrus.Fields{
				"type":          p.Type.String(),
				"priority":      p.Priority,
				"queued_chunks": chunks,
			}).Info("Traffic shaping: chat packet skips ahead of queued file chunks")
			if d.OnPriorityBypass != nil {
				d.OnPriorityBypass(p, chunks)
			}
		}
	}

	d.stats.PacketsQueued.Add(1)
	d.queue.Push(p)
}

// Run drains the queue until ctx is cancelled
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("Dispatcher started")
	for {
		p, err := d.queue.Take(ctx)
		if err != nil {
			d.log.Info("Dispatcher stopped")
			return err
		}
		d.route(p)
	}
}

func (d *Dispatcher) route(p *protocol.Packet) {
	switch p.Type {
	case protocol.TypeHeartbeat, protocol.TypeStatusUpdate,
		protocol.TypeUserListQuery, protocol.TypeGroupListQuery:
		// handled inline by the connection
		return
	}

	entry := d.log.WithFields(logrus.Fields{
		"type":   p.Type.String(),
		"sender": p.Sender,
	})

	switch {
	case p.Receiver != "":
		if err := d.registry.Deliver(p.Receiver, p); err != nil {
			d.stats.PacketsDropped.Add(1)
			entry.WithField("receiver", p.Receiver).Debugf("Dropped: %v", err)
			return
		}
		d.stats.PacketsRouted.Add(1)
		entry.WithField("receiver", p.Receiver).Debugf("Routed chunk %d/%d", p.ChunkIndex+1, p.TotalChunks)

	case p.Group != "":
		members, err := d.registry.GroupMembers(p.Group)
		if err != nil {
			d.stats.PacketsDropped.Add(1)
			entry.WithField("group", p.Group).Debug("Dropped: unknown group")
			return
		}
		for _, member := range members {
			if member == p.Sender {
				continue
			}
			if err := d.registry.Deliver(member, p); err == nil {
				d.stats.PacketsRouted.Add(1)
			}
		}
		entry.WithField("group", p.Group).Debugf("Broadcast chunk %d/%d", p.ChunkIndex+1, p.TotalChunks)

	default:
		d.stats.PacketsDropped.Add(1)
		entry.Debug("Dropped: no receiver or group")
	}
}
