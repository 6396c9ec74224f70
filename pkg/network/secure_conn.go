package network

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ZentaChain/securechat/pkg/crypto"
	"github.com/ZentaChain/securechat/pkg/protocol"
)

var (
	ErrHandshakeFailed = errors.New("handshake failed")
	// ErrFrameAuth means a frame failed AES-GCM authentication. The stream is
	// no longer trustworthy and the connection must be dropped.
	ErrFrameAuth = errors.New("frame authentication failed")
	// ErrMalformedPacket wraps decode failures of an authenticated frame. The
	// packet is dropped but the connection stays usable.
	ErrMalformedPacket = errors.New("malformed packet")
)

// SecureConn is a length-prefixed, AES-GCM protected packet stream over a
// net.Conn. Reads must come from a single goroutine; writes may come from any.
type SecureConn struct {
	conn net.Conn
	aead *crypto.AEAD

	writeMu      sync.Mutex
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// Accept runs the server side of the handshake: send the relay public key,
// then receive the client's session key wrapped with it.
func Accept(conn net.Conn, priv *rsa.PrivateKey, timeout time.Duration) (*SecureConn, error) {
	if timeout > 0 {
		conn.SetDeadline(time.Now().Add(timeout))
		defer conn.SetDeadline(time.Time{})
	}

	der, err := crypto.ExportPublicKeyDER(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	if err := protocol.WriteFrame(conn, der); err != nil {
		return nil, fmt.Errorf("%w: send public key: %v", ErrHandshakeFailed, err)
	}

	wrapped, err := protocol.ReadFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("%w: read session key: %v", ErrHandshakeFailed, err)
	}

	key, err := crypto.RSADecrypt(wrapped, priv)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap session key: %v", ErrHandshakeFailed, err)
	}

	return newSecureConn(conn, key)
}

// Dial runs the client side of the handshake on an established connection:
// read the relay public key, generate a fresh AES-256 key and send it wrapped.
func Dial(conn net.Conn, timeout time.Duration) (*SecureConn, error) {
	if timeout > 0 {
		conn.SetDeadline(time.Now().Add(timeout))
		defer conn.SetDeadline(time.Time{})
	}

	der, err := protocol.ReadFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("%w: read public key: %v", ErrHandshakeFailed, err)
	}

	pub, err := crypto.ImportPublicKeyDER(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	key, err := crypto.GenerateAESKey()
	if err != nil {
		return nil, err
	}

	wrapped, err := crypto.RSAEncrypt(key, pub)
	if err != nil {
		return nil, fmt.Errorf("%w: wrap session key: %v", ErrHandshakeFailed, err)
	}
	if err := protocol.WriteFrame(conn, wrapped); err != nil {
		return nil, fmt.Errorf("%w: send session key: %v", ErrHandshakeFailed, err)
	}

	return newSecureConn(conn, key)
}

// DialTCP connects to addr and performs the client handshake
func DialTCP(addr string, timeout time.Duration) (*SecureConn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}

	sc, err := Dial(conn, timeout)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return sc, nil
}

func newSecureConn(conn net.Conn, key []byte) (*SecureConn, error) {
	aead, err := crypto.NewAEAD(key)
	if err != nil {
		return nil, err
	}
	return &SecureConn{conn: conn, aead: aead}, nil
}

// ReadPacket blocks for the next frame and decodes it. A clean shutdown by
// the peer, a zero-length frame or a closed socket all return io.EOF.
func (sc *SecureConn) ReadPacket() (*protocol.Packet, error) {
	frame, err := protocol.ReadFrame(sc.conn)
	if err != nil {
		if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			return nil, io.EOF
		}
		return nil, err
	}

	plaintext, err := sc.aead.Open(frame)
	if err != nil {
		return nil, ErrFrameAuth
	}

	p, err := protocol.Decode(plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}
	return p, nil
}

// SetWriteTimeout bounds every later frame write. A peer that stops reading
// then fails the write instead of blocking the caller. Zero disables it.
func (sc *SecureConn) SetWriteTimeout(d time.Duration) {
	sc.writeMu.Lock()
	sc.writeTimeout = d
	sc.writeMu.Unlock()
}

// WritePacket encrypts and writes one packet as a single frame
func (sc *SecureConn) WritePacket(p *protocol.Packet) error {
	data, err := p.Encode()
	if err != nil {
		return err
	}

	sealed, err := sc.aead.Seal(data)
	if err != nil {
		return err
	}

	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	if sc.writeTimeout > 0 {
		if err := sc.conn.SetWriteDeadline(time.Now().Add(sc.writeTimeout)); err != nil {
			return err
		}
	}
	return protocol.WriteFrame(sc.conn, sealed)
}

// Close closes the underlying connection. Safe to call more than once.
func (sc *SecureConn) Close() error {
	sc.closeOnce.Do(func() {
		sc.closeErr = sc.conn.Close()
	})
	return sc.closeErr
}

// RemoteAddr returns the peer address
func (sc *SecureConn) RemoteAddr() net.Addr {
	return sc.conn.RemoteAddr()
}
