// Package client implements the chat client: login, messaging, end-to-end
// encrypted direct messages, resumable file transfer and reconnection.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/securechat/pkg/config"
	"github.com/ZentaChain/securechat/pkg/crypto"
	"github.com/ZentaChain/securechat/pkg/network"
	"github.com/ZentaChain/securechat/pkg/protocol"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotLoggedIn      = errors.New("not logged in")
	ErrAuthFailed       = errors.New("authentication failed")
	ErrConnectionLost   = errors.New("connection lost")
	ErrGroupRequired    = errors.New("group name is required")
)

type connState int32

const (
	stateDisconnected connState = iota
	stateConnected
	stateAuthenticated
	stateReconnecting
)

// session is one live relay socket and its read loop
type session struct {
	sc   *network.SecureConn
	done chan struct{} // closed when the read loop ends
}

// packetSender is what the E2EE and file transfer layers write through
type packetSender interface {
	send(p *protocol.Packet) error
	sendChunked(t protocol.PacketType, receiver, group string, payload []byte) error
}

// Client is a connection to one relay on behalf of one user
type Client struct {
	cfg *config.ClientConfig
	ui  Presenter
	log *logrus.Entry

	mu        sync.RWMutex
	sess      *session
	state     connState
	username  string
	password  string // client-side hash, kept for reconnection
	runCtx    context.Context
	runCancel context.CancelFunc

	intentional atomic.Bool
	forced      atomic.Bool
	loginWait   atomic.Pointer[waiter[protocol.AuthResult]]

	reassembler *protocol.Reassembler
	e2ee        *E2EEManager
	files       *fileTransfers

	wg sync.WaitGroup

	// OnReconnect runs after a dropped session has been restored and
	// re-authenticated
	OnReconnect func()
}

// New creates a client. A nil config uses defaults, a nil presenter
// discards all notifications.
func New(cfg *config.ClientConfig, ui Presenter) *Client {
	if cfg == nil {
		cfg = config.DefaultClientConfig()
	}
	if ui == nil {
		ui = NopPresenter{}
	}

	c := &Client{
		cfg:         cfg,
		ui:          ui,
		log:         logrus.WithField("component", "client"),
		reassembler: protocol.NewReassembler(),
	}
	c.e2ee = newE2EEManager(c, ui)
	c.files = newFileTransfers(cfg.FileTransfer, c, ui)
	return c
}

// Connect dials the relay and performs the transport handshake
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != stateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.runCtx, c.runCancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	c.intentional.Store(false)
	c.forced.Store(false)

	if _, err := c.open(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.state = stateConnected
	c.mu.Unlock()

	c.log.WithField("server", c.cfg.ServerAddr).Info("Connected to relay")
	return nil
}

// open dials, installs the new session and starts its read loop
func (c *Client) open(ctx context.Context) (*session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sc, err := network.DialTCP(c.cfg.ServerAddr, c.cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", c.cfg.ServerAddr, err)
	}

	s := &session{sc: sc, done: make(chan struct{})}

	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()

	c.wg.Add(1)
	go c.listen(s)
	return s, nil
}

// detach forgets s if it is still the current session and closes it
func (c *Client) detach(s *session) {
	c.mu.Lock()
	if c.sess == s {
		c.sess = nil
	}
	c.mu.Unlock()
	s.sc.Close()
}

// Login authenticates with the relay. The password is hashed before it
// leaves the process.
func (c *Client) Login(ctx context.Context, username, password string) error {
	return c.authenticate(ctx, username, crypto.HashPassword(password))
}

func (c *Client) authenticate(ctx context.Context, username, hashed string) error {
	c.mu.RLock()
	s := c.sess
	c.mu.RUnlock()
	if s == nil {
		return ErrNotConnected
	}

	w := newWaiter[protocol.AuthResult]()
	c.loginWait.Store(w)
	defer c.loginWait.CompareAndSwap(w, nil)

	p := protocol.NewPacket(protocol.TypeLogin)
	p.Payload = protocol.FormatLogin(username, hashed)
	if err := s.sc.WritePacket(p); err != nil {
		return fmt.Errorf("send login: %w", err)
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	res, err := w.wait(waitCtx, c.cfg.LoginTimeout)
	if err != nil {
		select {
		case <-s.done:
			return ErrConnectionLost
		default:
		}
		return err
	}
	if !res.Success {
		return fmt.Errorf("%w: %s", ErrAuthFailed, res.Message)
	}

	c.mu.Lock()
	c.username = username
	c.password = hashed
	c.state = stateAuthenticated
	ctx = c.runCtx
	c.mu.Unlock()

	c.startHeartbeat(ctx, s)
	c.log.WithField("user", username).Info("Logged in")
	return nil
}

// Disconnect closes the session for good. No reconnection follows.
func (c *Client) Disconnect() error {
	c.intentional.Store(true)

	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.state = stateDisconnected
	if c.runCancel != nil {
		c.runCancel()
	}
	c.mu.Unlock()

	c.files.closeAll()

	if s == nil {
		return nil
	}
	return s.sc.Close()
}

// Wait blocks until every background goroutine of the client has exited
func (c *Client) Wait() {
	c.wg.Wait()
}

// Username returns the name of the last successful login
func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// LoggedIn reports whether the current session is authenticated
func (c *Client) LoggedIn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == stateAuthenticated
}

func (c *Client) send(p *protocol.Packet) error {
	c.mu.RLock()
	s := c.sess
	c.mu.RUnlock()
	if s == nil {
		return ErrNotConnected
	}
	return s.sc.WritePacket(p)
}

// sendChunked splits payload into message chunks under one transaction ID
func (c *Client) sendChunked(t protocol.PacketType, receiver, group string, payload []byte) error {
	txID := uuid.NewString()
	chunks := protocol.SplitMessage(payload, protocol.MessageChunkSize)

	for i, chunk := range chunks {
		p := protocol.NewPacket(t)
		p.Receiver = receiver
		p.Group = group
		p.TransactionID = txID
		p.ChunkIndex = i
		p.TotalChunks = len(chunks)
		p.Payload = chunk
		if err := c.send(p); err != nil {
			return fmt.Errorf("send chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return nil
}

// listen runs the read loop of s and hands every packet to the dispatcher
func (c *Client) listen(s *session) {
	defer c.wg.Done()

	for {
		p, err := s.sc.ReadPacket()
		if err != nil {
			if errors.Is(err, network.ErrMalformedPacket) {
				c.log.WithError(err).Warn("Dropped malformed packet")
				continue
			}
			if !errors.Is(err, io.EOF) {
				c.log.WithError(err).Debug("Read loop ended")
			}
			break
		}
		c.handlePacket(p)
	}

	s.sc.Close()
	close(s.done)
	c.connectionLost(s)
}

// SendGroupMessage sends text to every other member of group
func (c *Client) SendGroupMessage(group, text string) error {
	if group == "" {
		return ErrGroupRequired
	}
	return c.sendChunked(protocol.TypeGroupMessage, "", group, []byte(text))
}

// SendSecureDM sends an end-to-end encrypted direct message. Without an
// established session the message is queued and a key exchange is started.
func (c *Client) SendSecureDM(peer, text string) error {
	return c.e2ee.Send(peer, text)
}

// InitiateE2EE starts a key exchange with peer unless one exists
func (c *Client) InitiateE2EE(peer string) error {
	_, err := c.e2ee.Initiate(peer)
	return err
}

// E2EE exposes the session table
func (c *Client) E2EE() *E2EEManager {
	return c.e2ee
}

// SendDirectFile transfers the file at path to peer and returns when the
// transfer finishes, is denied or fails
func (c *Client) SendDirectFile(ctx context.Context, path, peer string) error {
	return c.files.SendDirectFile(ctx, path, peer)
}

// SendGroupFile offers the file at path to group. It returns once the offer
// is out; each acceptance starts its own transfer bounded by ctx.
func (c *Client) SendGroupFile(ctx context.Context, path, group string) error {
	return c.files.SendGroupFile(ctx, path, group)
}

// GroupResumePoint asks the relay for the lowest chunk every online member
// of group has acknowledged for the file at path
func (c *Client) GroupResumePoint(ctx context.Context, path, group string) (int, error) {
	return c.files.GroupResumePoint(ctx, path, group)
}

func (c *Client) groupPacket(t protocol.PacketType, group string) error {
	if group == "" {
		return ErrGroupRequired
	}
	p := protocol.NewPacket(t)
	p.Group = group
	return c.send(p)
}

// CreateGroup creates group and joins it
func (c *Client) CreateGroup(group string) error {
	return c.groupPacket(protocol.TypeGroupCreate, group)
}

// JoinGroup joins group, creating it if needed
func (c *Client) JoinGroup(group string) error {
	return c.groupPacket(protocol.TypeGroupJoin, group)
}

// LeaveGroup leaves group
func (c *Client) LeaveGroup(group string) error {
	return c.groupPacket(protocol.TypeGroupLeave, group)
}

// UpdateStatus publishes a new presence status
func (c *Client) UpdateStatus(status string) error {
	if !c.LoggedIn() {
		return ErrNotLoggedIn
	}
	p := protocol.NewPacket(protocol.TypeStatusUpdate)
	p.Payload = []byte(status)
	return c.send(p)
}

// RequestUserList asks the relay for the online user list
func (c *Client) RequestUserList() error {
	return c.send(protocol.NewPacket(protocol.TypeUserListQuery))
}

// RequestGroupList asks the relay for the group list
func (c *Client) RequestGroupList() error {
	return c.send(protocol.NewPacket(protocol.TypeGroupListQuery))
}
