package relay

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/securechat/pkg/network"
	"github.com/ZentaChain/securechat/pkg/protocol"
)

// ConnState is the lifecycle stage of a client connection
type ConnState int32

const (
	StateHandshaking ConnState = iota
	StateAuthenticating
	StateAuthenticated
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateHandshaking:
		return "HANDSHAKING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

var ErrConnectionClosed = errors.New("connection closed")

// Connection is the relay side of one client session
type Connection struct {
	server *RelayServer
	raw    net.Conn

	mu       sync.RWMutex
	sc       *network.SecureConn
	username string

	state     atomic.Int32
	closeOnce sync.Once
	log       *logrus.Entry
}

func newConnection(server *RelayServer, raw net.Conn) *Connection {
	return &Connection{
		server: server,
		raw:    raw,
		log: logrus.WithFields(logrus.Fields{
			"component": "connection",
			"remote":    raw.RemoteAddr().String(),
		}),
	}
}

// State returns the current lifecycle stage
func (c *Connection) State() ConnState {
	return ConnState(c.state.Load())
}

// Username returns the authenticated name, or "" before login
func (c *Connection) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// Serve runs the handshake and the read loop until the peer goes away
func (c *Connection) Serve() {
	defer c.cleanup()

	c.log.Debug("New connection")

	sc, err := network.Accept(c.raw, c.server.privateKey, c.server.cfg.HandshakeTimeout)
	if err != nil {
		c.log.WithError(err).Warn("Handshake failed")
		return
	}
	sc.SetWriteTimeout(c.server.cfg.WriteTimeout)

	c.mu.Lock()
	c.sc = sc
	c.mu.Unlock()
	if !c.state.CompareAndSwap(int32(StateHandshaking), int32(StateAuthenticating)) {
		return
	}

	for {
		p, err := sc.ReadPacket()
		if err != nil {
			if errors.Is(err, network.ErrMalformedPacket) {
				c.log.WithError(err).Warn("Dropping malformed packet")
				continue
			}
			if !errors.Is(err, io.EOF) && c.State() != StateClosed {
				c.log.WithError(err).Info("Connection read failed")
			}
			return
		}

		c.handlePacket(p)
	}
}

// Send writes p to the client. Any write failure marks the connection dead.
func (c *Connection) Send(p *protocol.Packet) error {
	c.mu.RLock()
	sc := c.sc
	c.mu.RUnlock()

	if sc == nil || c.State() == StateClosed {
		return ErrConnectionClosed
	}

	if err := sc.WritePacket(p); err != nil {
		c.log.WithError(err).Warn("Write failed, closing connection")
		c.Close()
		return err
	}
	return nil
}

// ForceDisconnect tells the client its account logged in elsewhere, then
// closes the socket
func (c *Connection) ForceDisconnect() {
	notice := protocol.NewPacket(protocol.TypeDM)
	notice.Priority = protocol.PriorityControl
	notice.Sender = protocol.SystemSender
	notice.Receiver = c.Username()
	notice.Payload = []byte(protocol.ForcedDisconnectNotice)

	c.Send(notice)
	c.log.WithField("user", c.Username()).Info("Session replaced by a new login")
	c.Close()
}

// Close shuts the socket down. The read loop then exits and runs cleanup.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		err = c.raw.Close()
	})
	return err
}

func (c *Connection) cleanup() {
	c.Close()

	name := c.Username()
	if name == "" {
		return
	}

	if c.server.registry.RemoveClient(name, c) {
		c.log.WithField("user", name).Info("User disconnected")
		c.server.broadcastUserList()
	}
}
