package client

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/securechat/pkg/crypto"
	"github.com/ZentaChain/securechat/pkg/protocol"
)

// SecurePlaceholder replaces a direct message that could not be decrypted
// while the session with its sender is renegotiated
const SecurePlaceholder = "[SECURE MESSAGE - RE-ESTABLISHING SECURE CONNECTION...]"

// peerSession holds at most one of an established key or a pending
// handshake, plus the messages waiting for the key
type peerSession struct {
	mu      sync.Mutex
	aead    *crypto.AEAD
	pending *crypto.EphemeralKeyPair
	queue   []string
}

// E2EEManager is the per-peer session table for direct messages
type E2EEManager struct {
	out   packetSender
	ui    Presenter
	peers sync.Map // username -> *peerSession
	log   *logrus.Entry
}

func newE2EEManager(out packetSender, ui Presenter) *E2EEManager {
	return &E2EEManager{
		out: out,
		ui:  ui,
		log: logrus.WithField("component", "e2ee"),
	}
}

func (m *E2EEManager) peer(name string) *peerSession {
	v, _ := m.peers.LoadOrStore(name, &peerSession{})
	return v.(*peerSession)
}

// Initiate starts a key exchange with peer unless a session is established
// or already in flight. It reports whether a KEY_EXCHANGE was sent.
func (m *E2EEManager) Initiate(peer string) (bool, error) {
	ps := m.peer(peer)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return m.initiateLocked(peer, ps)
}

func (m *E2EEManager) initiateLocked(peer string, ps *peerSession) (bool, error) {
	if ps.aead != nil || ps.pending != nil {
		return false, nil
	}

	kp, err := crypto.GenerateEphemeral()
	if err != nil {
		return false, err
	}

	p := protocol.NewPacket(protocol.TypeKeyExchange)
	p.Receiver = peer
	p.Payload = append([]byte(nil), kp.Public[:]...)
	if err := m.out.send(p); err != nil {
		return false, fmt.Errorf("send key exchange: %w", err)
	}

	ps.pending = kp
	m.log.WithField("peer", peer).Debug("Key exchange initiated")
	m.ui.AppendSystemMessage("Initiated E2EE with " + peer + "...")
	return true, nil
}

// HandleKeyExchange processes a peer's public contribution. With a local
// handshake pending it completes it, otherwise it answers as responder.
func (m *E2EEManager) HandleKeyExchange(p *protocol.Packet) error {
	if len(p.Payload) == 0 {
		return crypto.ErrInvalidPublicKey
	}

	peer := p.Sender
	ps := m.peer(peer)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.pending != nil {
		key, err := ps.pending.DeriveSessionKey(p.Payload)
		ps.pending = nil
		if err != nil {
			return err
		}
		if err := ps.install(key); err != nil {
			return err
		}
		m.ui.AppendSystemMessage("E2EE established with " + peer)
	} else {
		kp, err := crypto.GenerateEphemeral()
		if err != nil {
			return err
		}
		key, err := kp.DeriveSessionKey(p.Payload)
		if err != nil {
			return err
		}

		reply := protocol.NewPacket(protocol.TypeKeyExchange)
		reply.Receiver = peer
		reply.Payload = append([]byte(nil), kp.Public[:]...)
		if err := m.out.send(reply); err != nil {
			return fmt.Errorf("answer key exchange: %w", err)
		}

		if err := ps.install(key); err != nil {
			return err
		}
		m.ui.AppendSystemMessage("E2EE established with " + peer + " (Response)")
	}

	m.log.WithField("peer", peer).Info("E2EE session established")
	return m.flushLocked(peer, ps)
}

func (ps *peerSession) install(key []byte) error {
	aead, err := crypto.NewAEAD(key)
	if err != nil {
		return err
	}
	ps.aead = aead
	return nil
}

// flushLocked sends the queued messages in order. Whatever fails to go out
// stays queued.
func (m *E2EEManager) flushLocked(peer string, ps *peerSession) error {
	for len(ps.queue) > 0 {
		if err := m.sealAndSendLocked(peer, ps, ps.queue[0]); err != nil {
			return err
		}
		ps.queue = ps.queue[1:]
	}
	ps.queue = nil
	return nil
}

func (m *E2EEManager) sealAndSendLocked(peer string, ps *peerSession, text string) error {
	ct, err := ps.aead.Seal([]byte(text))
	if err != nil {
		return err
	}
	return m.out.sendChunked(protocol.TypeDM, peer, "", ct)
}

// Send encrypts text for peer, or queues it and starts a handshake when no
// session exists yet
func (m *E2EEManager) Send(peer, text string) error {
	ps := m.peer(peer)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.aead != nil {
		return m.sealAndSendLocked(peer, ps, text)
	}

	ps.queue = append(ps.queue, text)
	if _, err := m.initiateLocked(peer, ps); err != nil {
		return err
	}
	m.ui.AppendSystemMessage("Securing connection with " + peer + "... (Message will be sent automatically)")
	return nil
}

// Open decrypts a direct message from peer. Without a usable session it
// returns SecurePlaceholder and renegotiates.
func (m *E2EEManager) Open(peer string, ciphertext []byte) string {
	ps := m.peer(peer)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.aead != nil {
		pt, err := ps.aead.Open(ciphertext)
		if err == nil {
			return string(pt)
		}
		// Most likely the peer restarted with a new key
		m.log.WithField("peer", peer).Warn("Decryption failed, renegotiating session")
		ps.aead = nil
	}

	if _, err := m.initiateLocked(peer, ps); err != nil {
		m.log.WithError(err).WithField("peer", peer).Warn("Could not renegotiate session")
	}
	return SecurePlaceholder
}

// Established reports whether a session key for peer is installed
func (m *E2EEManager) Established(peer string) bool {
	v, ok := m.peers.Load(peer)
	if !ok {
		return false
	}
	ps := v.(*peerSession)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.aead != nil
}

// Pending reports whether a handshake with peer is in flight
func (m *E2EEManager) Pending(peer string) bool {
	v, ok := m.peers.Load(peer)
	if !ok {
		return false
	}
	ps := v.(*peerSession)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.pending != nil
}

// Queued returns the number of messages waiting for a session with peer
func (m *E2EEManager) Queued(peer string) int {
	v, ok := m.peers.Load(peer)
	if !ok {
		return 0
	}
	ps := v.(*peerSession)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.queue)
}

// Reset forgets every key and pending handshake. Peers with queued messages
// get a fresh handshake right away.
func (m *E2EEManager) Reset() {
	m.peers.Range(func(k, v any) bool {
		peer, ps := k.(string), v.(*peerSession)

		ps.mu.Lock()
		ps.aead = nil
		ps.pending = nil
		if len(ps.queue) > 0 {
			if _, err := m.initiateLocked(peer, ps); err != nil {
				m.log.WithError(err).WithField("peer", peer).Warn("Could not restart handshake")
			}
		}
		ps.mu.Unlock()
		return true
	})
}
