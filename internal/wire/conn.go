package wire

import (
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/meshdrop/transfer/internal/crypto"
)

// Conn wraps a net.Conn with the transfer protocol's framing: the 4-byte
// length-prefixed envelope from frame.go, an AEAD layer applied once a
// session key has been established by the handshake, and a codec
// (JSONCodec or BinaryCodec) picked once at AuthOk and held fixed for the
// connection's lifetime.
type Conn struct {
	nc    net.Conn
	mu    sync.Mutex
	codec Codec

	sessionKey []byte // nil until the handshake completes
}

// NewConn wraps a raw connection. Handshake frames travel in the clear
// (there is no key yet); SetSessionKey and SetCodec are called once the
// handshake finishes, after which every subsequent frame is AEAD-sealed.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, codec: JSONCodec}
}

// SetCodec fixes the codec for the rest of this connection's lifetime.
// Callers MUST NOT call this more than once per connection.
func (c *Conn) SetCodec(codec Codec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codec = codec
}

// SetSessionKey installs the handshake-derived key, enabling AEAD sealing
// for all frames sent and received after this call.
func (c *Conn) SetSessionKey(key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionKey = key
}

// RemoteAddr returns the underlying connection's remote address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// SetReadDeadline forwards to the underlying connection, letting callers
// implement a bounded-timeout ack poll. A zero time.Time clears any
// deadline.
func (c *Conn) SetReadDeadline(t time.Time) error { return c.nc.SetReadDeadline(t) }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.nc.Close() }

// Send encodes, optionally seals, and writes one frame.
func (c *Conn) Send(t Type, body any) error {
	c.mu.Lock()
	codec := c.codec
	key := c.sessionKey
	c.mu.Unlock()

	payload, err := codec.Encode(t, body)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", t, err)
	}

	if key != nil {
		payload, err = sealFrame(key, payload)
		if err != nil {
			return fmt.Errorf("seal %s frame: %w", t, err)
		}
	}

	return WriteEnvelope(c.nc, payload)
}

// Recv reads, optionally opens, and decodes one frame.
func (c *Conn) Recv() (Type, any, error) {
	raw, err := ReadEnvelope(c.nc)
	if err != nil {
		return 0, nil, err
	}

	c.mu.Lock()
	codec := c.codec
	key := c.sessionKey
	c.mu.Unlock()

	if key != nil {
		raw, err = openFrame(key, raw)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: %v", ErrFrameAuthFailed, err)
		}
	}

	return codec.Decode(raw)
}

// sealFrame prepends a fresh random 12-byte nonce to the AES-256-GCM
// ciphertext. The frame type is already part of the codec-encoded
// plaintext (the JSON envelope's "type" field, or the binary codec's
// leading tag byte), so no separate AAD is needed.
func sealFrame(key []byte, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext, err := crypto.Seal(key, nonce, nil, plaintext)
	if err != nil {
		return nil, err
	}
	return append(nonce, ciphertext...), nil
}

// openFrame splits the leading 12-byte nonce from an AEAD-sealed frame and
// verifies it.
func openFrame(key []byte, sealed []byte) ([]byte, error) {
	if len(sealed) < 12 {
		return nil, fmt.Errorf("sealed frame too short: %d bytes", len(sealed))
	}
	nonce := sealed[:12]
	ciphertext := sealed[12:]
	return crypto.Open(key, nonce, nil, ciphertext)
}
