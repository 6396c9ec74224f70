package relay

import (
	"context"
	"crypto/rsa"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/securechat/pkg/config"
	"github.com/ZentaChain/securechat/pkg/protocol"
)

var ErrNotStarted = errors.New("relay server not started")

// RelayServer accepts client connections, authenticates them and routes
// their traffic. It owns the registry and the dispatcher; every connection
// handler gets a reference to the server instead of reaching for globals.
type RelayServer struct {
	cfg        *config.RelayConfig
	privateKey *rsa.PrivateKey

	registry   *Registry
	dispatcher *Dispatcher
	stats      Stats

	listener  net.Listener
	conns     sync.Map // *Connection -> struct{}
	startTime time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	log       *logrus.Entry
}

// StatsSnapshot is a point-in-time view of relay activity
type StatsSnapshot struct {
	ConnectedUsers   int    `json:"connected_users"`
	Groups           int    `json:"groups"`
	QueueDepth       int    `json:"queue_depth"`
	QueuedFileChunks int    `json:"queued_file_chunks"`
	Connections      uint64 `json:"connections_total"`
	AuthFailures     uint64 `json:"auth_failures"`
	PacketsQueued    uint64 `json:"packets_queued"`
	PacketsRouted    uint64 `json:"packets_routed"`
	PacketsDropped   uint64 `json:"packets_dropped"`
	PriorityBypasses uint64 `json:"priority_bypasses"`
	Uptime           string `json:"uptime"`
}

// NewRelayServer creates a relay server. A nil auth accepts and registers any
// new username on first login.
func NewRelayServer(cfg *config.RelayConfig, privateKey *rsa.PrivateKey, auth Authenticator) *RelayServer {
	if cfg == nil {
		cfg = config.DefaultRelayConfig()
	}

	rs := &RelayServer{
		cfg:        cfg,
		privateKey: privateKey,
		registry:   NewRegistry(auth),
		log:        logrus.WithField("component", "relay"),
	}
	rs.dispatcher = NewDispatcher(rs.registry, &rs.stats)
	return rs
}

// Start listens on the configured address and serves until ctx is cancelled
// or Stop is called
func (rs *RelayServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", rs.cfg.ListenAddr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	rs.listener = listener
	rs.cancel = cancel
	rs.startTime = time.Now()

	rs.wg.Add(2)
	go func() {
		defer rs.wg.Done()
		rs.dispatcher.Run(ctx)
	}()
	go func() {
		defer rs.wg.Done()
		rs.acceptLoop(ctx)
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	rs.log.WithField("addr", listener.Addr().String()).Info("Relay server listening")
	return nil
}

func (rs *RelayServer) acceptLoop(ctx context.Context) {
	for {
		conn, err := rs.listener.Accept()
		if err != nil {
			if ctx.Err() == nil {
				rs.log.WithError(err).Error("Accept error")
			}
			return
		}

		rs.stats.Connections.Add(1)
		c := newConnection(rs, conn)
		rs.conns.Store(c, struct{}{})

		rs.wg.Add(1)
		go func() {
			defer rs.wg.Done()
			defer rs.conns.Delete(c)
			c.Serve()
		}()
	}
}

// Addr returns the bound listen address
func (rs *RelayServer) Addr() net.Addr {
	if rs.listener == nil {
		return nil
	}
	return rs.listener.Addr()
}

// Stop closes the listener and every connection, then waits for the
// handlers to exit
func (rs *RelayServer) Stop() error {
	if rs.cancel == nil {
		return ErrNotStarted
	}
	rs.cancel()

	rs.conns.Range(func(k, _ any) bool {
		k.(*Connection).Close()
		return true
	})

	rs.wg.Wait()
	rs.log.Info("Relay server stopped")
	return nil
}

// Registry returns the presence and group registry
func (rs *RelayServer) Registry() *Registry {
	return rs.registry
}

// Dispatcher returns the packet dispatcher
func (rs *RelayServer) Dispatcher() *Dispatcher {
	return rs.dispatcher
}

// GetStats returns current counters
func (rs *RelayServer) GetStats() StatsSnapshot {
	queue := rs.dispatcher.Queue()
	var uptime time.Duration
	if !rs.startTime.IsZero() {
		uptime = time.Since(rs.startTime).Round(time.Second)
	}

	return StatsSnapshot{
		ConnectedUsers:   len(rs.registry.ConnectedUsers()),
		Groups:           len(rs.registry.Groups()),
		QueueDepth:       queue.Len(),
		QueuedFileChunks: queue.CountType(protocol.TypeFileChunk),
		Connections:      rs.stats.Connections.Load(),
		AuthFailures:     rs.stats.AuthFailures.Load(),
		PacketsQueued:    rs.stats.PacketsQueued.Load(),
		PacketsRouted:    rs.stats.PacketsRouted.Load(),
		PacketsDropped:   rs.stats.PacketsDropped.Load(),
		PriorityBypasses: rs.stats.PriorityBypasses.Load(),
		Uptime:           uptime.String(),
	}
}
