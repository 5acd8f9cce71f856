// Package crypto provides the cryptographic primitives used by the transfer
// engine: AES-256-GCM frame encryption and an Argon2id-wrapped keystore for
// the on-disk device secret.
package crypto

// KeystoreEntry represents an encrypted secret stored on disk.
type KeystoreEntry struct {
	Version       int    `json:"version"`        // Format version (currently 1)
	KDF           string `json:"kdf"`            // Key derivation function ("argon2id")
	Argon2Time    int    `json:"argon2_time"`    // Argon2 time parameter
	Argon2Memory  int    `json:"argon2_memory"`  // Argon2 memory in KiB
	Argon2Threads int    `json:"argon2_threads"` // Argon2 parallelism
	Salt          []byte `json:"salt"`           // Random salt for KDF
	Nonce         []byte `json:"nonce"`          // Random nonce for AES-GCM
	Ciphertext    []byte `json:"ciphertext"`     // Encrypted secret + auth tag
}
