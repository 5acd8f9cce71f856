package handshake

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/meshdrop/transfer/internal/wire"
)

// ChallengeLifetime sets the expires_at advertised in AuthChallenge
// (expires_at = now + 120s). ServerAccept does not check it; it checks the
// outstanding pairing code's own expiry.
const ChallengeLifetime = 120 * time.Second

// Result carries everything a completed handshake hands back to the
// pipeline layer: the negotiated codec, the derived session key, and the
// peer's advertised identity.
type Result struct {
	SessionKey       []byte
	Codec            wire.Codec
	PeerDeviceID     string
	PeerName         string
	PeerVersion      int
	PeerCapabilities []string
}

// Sentinel errors surfaced to callers; ErrAuthFailed is also what gets sent
// back to the remote peer as an ErrorFrame.
var (
	ErrAuthFailed        = errors.New("transfer_auth_failed")
	ErrPeerBlocked       = errors.New("transfer_peer_blocked")
	ErrNoOutstandingCode = errors.New("transfer_no_pairing_code")
	ErrChallengeExpired  = errors.New("transfer_challenge_expired")
	ErrUnexpectedFrame   = errors.New("transfer_unexpected_frame")
)

// Authenticator is the server side's narrow view into pairing-code and
// peer-lockout state, kept separate from internal/store to avoid an import
// cycle; internal/service supplies the concrete implementation.
type Authenticator interface {
	// CurrentPairCode returns the single outstanding pairing code and its
	// expiry, or ok=false if none has been issued.
	CurrentPairCode() (code string, expiresAtMS int64, ok bool)
	// IsBlocked reports whether the peer is under a failed-attempt lockout.
	IsBlocked(peerDeviceID string) bool
	// RecordFailedAttempt increments the peer's failed-attempts counter,
	// sets blocked_until = now + 60s, and drops its trust level.
	RecordFailedAttempt(peerDeviceID string)
	// RecordSuccess clears any failed-attempts state for the peer.
	RecordSuccess(peerDeviceID string)
}

// ClientDial runs the client side of the handshake over an already-dialed
// connection: Hello -> (wait AuthChallenge) -> AuthResponse -> (wait
// AuthOk | Error).
func ClientDial(conn *wire.Conn, deviceID, deviceName, pairCode string) (*Result, error) {
	clientNonce, err := randomNonceHex()
	if err != nil {
		return nil, fmt.Errorf("generate client nonce: %w", err)
	}

	caps := wire.DefaultCapabilities()
	if err := conn.Send(wire.TypeHello, &wire.Hello{
		DeviceID:     deviceID,
		DeviceName:   deviceName,
		ClientNonce:  clientNonce,
		Version:      wire.CurrentVersion,
		Capabilities: caps,
	}); err != nil {
		return nil, fmt.Errorf("send hello: %w", err)
	}

	typ, body, err := conn.Recv()
	if err != nil {
		return nil, fmt.Errorf("recv auth_challenge: %w", err)
	}
	if typ != wire.TypeAuthChallenge {
		if typ == wire.TypeErrorFrame {
			return nil, fmt.Errorf("%w: %s", ErrAuthFailed, body.(*wire.ErrorFrame).Message)
		}
		return nil, fmt.Errorf("%w: expected auth_challenge, got %s", ErrUnexpectedFrame, typ)
	}
	challenge := body.(*wire.AuthChallenge)

	proof := computeProof(pairCode, clientNonce, challenge.ServerNonce)
	if err := conn.Send(wire.TypeAuthResponse, &wire.AuthResponse{
		PairCode: pairCode,
		Proof:    hex.EncodeToString(proof),
	}); err != nil {
		return nil, fmt.Errorf("send auth_response: %w", err)
	}

	typ, body, err = conn.Recv()
	if err != nil {
		return nil, fmt.Errorf("recv auth_ok: %w", err)
	}
	if typ == wire.TypeErrorFrame {
		return nil, fmt.Errorf("%w: %s", ErrAuthFailed, body.(*wire.ErrorFrame).Message)
	}
	if typ != wire.TypeAuthOk {
		return nil, fmt.Errorf("%w: expected auth_ok, got %s", ErrUnexpectedFrame, typ)
	}
	ok := body.(*wire.AuthOk)

	sessionKey := computeSessionKey(pairCode, clientNonce, challenge.ServerNonce)
	codec := wire.NegotiateCodec(caps, ok.Capabilities)

	conn.SetCodec(codec)
	conn.SetSessionKey(sessionKey)

	return &Result{
		SessionKey:       sessionKey,
		Codec:            codec,
		PeerDeviceID:     ok.PeerDeviceID,
		PeerName:         ok.PeerName,
		PeerVersion:      ok.Version,
		PeerCapabilities: ok.Capabilities,
	}, nil
}

// ServerAccept runs the server side of the handshake over a freshly
// accepted connection. On auth failure it sends an ErrorFrame, records the
// failed attempt via auth, and returns ErrAuthFailed; the caller is
// responsible for closing the connection in that case.
func ServerAccept(conn *wire.Conn, deviceID, deviceName string, auth Authenticator) (*Result, error) {
	typ, body, err := conn.Recv()
	if err != nil {
		return nil, fmt.Errorf("recv hello: %w", err)
	}
	if typ != wire.TypeHello {
		return nil, fmt.Errorf("%w: expected hello, got %s", ErrUnexpectedFrame, typ)
	}
	hello := body.(*wire.Hello)

	if auth.IsBlocked(hello.DeviceID) {
		_ = conn.Send(wire.TypeErrorFrame, &wire.ErrorFrame{Code: "transfer_peer_blocked", Message: "peer is locked out"})
		return nil, ErrPeerBlocked
	}

	serverNonce, err := randomNonceHex()
	if err != nil {
		return nil, fmt.Errorf("generate server nonce: %w", err)
	}
	expiresAtMS := time.Now().Add(ChallengeLifetime).UnixMilli()
	if err := conn.Send(wire.TypeAuthChallenge, &wire.AuthChallenge{
		ServerNonce: serverNonce,
		ExpiresAtMS: expiresAtMS,
	}); err != nil {
		return nil, fmt.Errorf("send auth_challenge: %w", err)
	}

	typ, body, err = conn.Recv()
	if err != nil {
		return nil, fmt.Errorf("recv auth_response: %w", err)
	}
	if typ != wire.TypeAuthResponse {
		return nil, fmt.Errorf("%w: expected auth_response, got %s", ErrUnexpectedFrame, typ)
	}
	resp := body.(*wire.AuthResponse)

	code, codeExpiresAtMS, ok := auth.CurrentPairCode()
	if !ok {
		_ = conn.Send(wire.TypeErrorFrame, &wire.ErrorFrame{Code: "transfer_no_pairing_code", Message: "no pairing code outstanding"})
		return nil, ErrNoOutstandingCode
	}
	if time.Now().UnixMilli() > codeExpiresAtMS {
		_ = conn.Send(wire.TypeErrorFrame, &wire.ErrorFrame{Code: "transfer_challenge_expired", Message: "pairing code expired"})
		return nil, ErrChallengeExpired
	}
	if resp.PairCode != code {
		auth.RecordFailedAttempt(hello.DeviceID)
		_ = conn.Send(wire.TypeErrorFrame, &wire.ErrorFrame{Code: "transfer_auth_failed", Message: "pair code mismatch"})
		return nil, ErrAuthFailed
	}

	wantProof := computeProof(code, hello.ClientNonce, serverNonce)
	gotProof, err := hex.DecodeString(resp.Proof)
	if err != nil || subtle.ConstantTimeCompare(wantProof, gotProof) != 1 {
		auth.RecordFailedAttempt(hello.DeviceID)
		_ = conn.Send(wire.TypeErrorFrame, &wire.ErrorFrame{Code: "transfer_auth_failed", Message: "proof mismatch"})
		return nil, ErrAuthFailed
	}

	auth.RecordSuccess(hello.DeviceID)

	codec := wire.NegotiateCodec(wire.DefaultCapabilities(), hello.Capabilities)
	sessionKey := computeSessionKey(code, hello.ClientNonce, serverNonce)

	if err := conn.Send(wire.TypeAuthOk, &wire.AuthOk{
		PeerDeviceID: deviceID,
		PeerName:     deviceName,
		Version:      wire.CurrentVersion,
		Capabilities: wire.DefaultCapabilities(),
	}); err != nil {
		return nil, fmt.Errorf("send auth_ok: %w", err)
	}

	conn.SetCodec(codec)
	conn.SetSessionKey(sessionKey)

	return &Result{
		SessionKey:       sessionKey,
		Codec:            codec,
		PeerDeviceID:     hello.DeviceID,
		PeerName:         hello.DeviceName,
		PeerVersion:      hello.Version,
		PeerCapabilities: hello.Capabilities,
	}, nil
}

func randomNonceHex() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
