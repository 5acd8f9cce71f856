// Package handshake implements the pairing-code handshake that establishes
// a session key for a connection: Hello -> AuthChallenge -> AuthResponse ->
// AuthOk.
package handshake

import (
	"github.com/zeebo/blake3"
)

// derive computes a 32-byte keyed digest of (label, clientNonce,
// serverNonce) under a key derived from the pair code. The proof and the
// session key use the same primitive with distinct domain-separator labels.
func derive(label, pairCode, clientNonceHex, serverNonceHex string) []byte {
	key := blake3.Sum256([]byte(pairCode))

	// NewKeyed only fails for keys that are not 32 bytes; Sum256 guarantees 32.
	h, _ := blake3.NewKeyed(key[:])
	h.Write([]byte(label))
	h.Write([]byte{0})
	h.Write([]byte(clientNonceHex))
	h.Write([]byte{0})
	h.Write([]byte(serverNonceHex))

	out := make([]byte, 32)
	h.Sum(out[:0])
	return out
}

// computeProof derives the handshake proof.
func computeProof(pairCode, clientNonceHex, serverNonceHex string) []byte {
	return derive("transfer-proof-v1", pairCode, clientNonceHex, serverNonceHex)
}

// computeSessionKey derives the AES-256-GCM key used for all frames after
// AuthOk (session_key = kdf(session, pair_code, client_nonce, server_nonce)).
func computeSessionKey(pairCode, clientNonceHex, serverNonceHex string) []byte {
	return derive("transfer-session-v1", pairCode, clientNonceHex, serverNonceHex)
}
