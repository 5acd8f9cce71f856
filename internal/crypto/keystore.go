package crypto

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
)

const (
	argon2Time      = 3
	argon2Memory    = 65536
	argon2Threads   = 4
	argon2KeyLen    = 32
	saltSize        = 32
	keystoreVersion = 1
)

// ErrInvalidPassphrase is returned when the passphrase fails to decrypt the keystore.
var ErrInvalidPassphrase = errors.New("invalid passphrase or corrupted keystore")

// SaveSecret encrypts and saves an arbitrary secret (the device identity
// blob) to disk. If passphrase is empty the secret is stored unencrypted,
// suffixed ".insecure", intended for headless/test daemons only.
func SaveSecret(secret []byte, keystorePath string, passphrase string) error {
	dir := filepath.Dir(keystorePath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create keystore directory: %w", err)
	}

	var data []byte
	if passphrase == "" {
		data = secret
		keystorePath += ".insecure"
	} else {
		entry, err := encryptSecret(secret, passphrase)
		if err != nil {
			return fmt.Errorf("encrypt secret: %w", err)
		}
		data, err = json.MarshalIndent(entry, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal keystore entry: %w", err)
		}
	}

	if err := os.WriteFile(keystorePath, data, 0o600); err != nil {
		return fmt.Errorf("write keystore file: %w", err)
	}
	return nil
}

// LoadSecret loads and decrypts a secret previously saved with SaveSecret.
func LoadSecret(keystorePath string, passphrase string) ([]byte, error) {
	data, err := os.ReadFile(keystorePath)
	if err != nil {
		return nil, fmt.Errorf("read keystore file: %w", err)
	}
	if filepath.Ext(keystorePath) == ".insecure" {
		return data, nil
	}

	var entry KeystoreEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal keystore entry: %w", err)
	}
	return decryptSecret(&entry, passphrase)
}

func encryptSecret(secret []byte, passphrase string) (*KeystoreEntry, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	derivedKey := argon2.IDKey([]byte(passphrase), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext, err := Seal(derivedKey, nonce, nil, secret)
	if err != nil {
		return nil, err
	}

	return &KeystoreEntry{
		Version:       keystoreVersion,
		KDF:           "argon2id",
		Argon2Time:    argon2Time,
		Argon2Memory:  argon2Memory,
		Argon2Threads: argon2Threads,
		Salt:          salt,
		Nonce:         nonce,
		Ciphertext:    ciphertext,
	}, nil
}

func decryptSecret(entry *KeystoreEntry, passphrase string) ([]byte, error) {
	if entry.Version != keystoreVersion {
		return nil, fmt.Errorf("unsupported keystore version: %d", entry.Version)
	}
	if entry.KDF != "argon2id" {
		return nil, fmt.Errorf("unsupported KDF: %s", entry.KDF)
	}
	derivedKey := argon2.IDKey([]byte(passphrase), entry.Salt,
		uint32(entry.Argon2Time), uint32(entry.Argon2Memory), uint8(entry.Argon2Threads), argon2KeyLen)

	plaintext, err := Open(derivedKey, entry.Nonce, nil, entry.Ciphertext)
	if err != nil {
		return nil, ErrInvalidPassphrase
	}
	return plaintext, nil
}

// DefaultKeystorePath returns the default keystore directory.
// Windows: %APPDATA%\meshdrop\keys. Unix: $XDG_DATA_HOME/meshdrop/keys or
// ~/.local/share/meshdrop/keys.
func DefaultKeystorePath() string {
	if appData := os.Getenv("APPDATA"); appData != "" {
		return filepath.Join(appData, "meshdrop", "keys")
	}
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "meshdrop", "keys")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".local", "share", "meshdrop", "keys")
}
