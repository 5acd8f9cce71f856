package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand key: %v", err)
	}
	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		t.Fatalf("rand nonce: %v", err)
	}
	plaintext := []byte("hello meshdrop")
	aad := []byte("frame-type:chunk")

	ct, err := Seal(key, nonce, aad, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	pt, err := Open(key, nonce, aad, ct)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Errorf("round trip mismatch: got %q want %q", pt, plaintext)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key := make([]byte, 32)
	nonce := make([]byte, 12)
	ct, err := Seal(key, nonce, nil, []byte("payload"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	ct[0] ^= 0xFF
	if _, err := Open(key, nonce, nil, ct); err == nil {
		t.Error("expected Open to reject tampered ciphertext")
	}
}

func TestKeystoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/device.key"
	secret := []byte("0123456789abcdef0123456789abcdef")

	if err := SaveSecret(secret, path, "correct horse"); err != nil {
		t.Fatalf("SaveSecret: %v", err)
	}
	got, err := LoadSecret(path, "correct horse")
	if err != nil {
		t.Fatalf("LoadSecret: %v", err)
	}
	if !bytes.Equal(got, secret) {
		t.Errorf("secret mismatch after round trip")
	}

	if _, err := LoadSecret(path, "wrong passphrase"); err == nil {
		t.Error("expected error for wrong passphrase")
	}
}

func TestKeystoreInsecureRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/device.key"
	secret := []byte("unencrypted-secret")

	if err := SaveSecret(secret, path, ""); err != nil {
		t.Fatalf("SaveSecret: %v", err)
	}
	got, err := LoadSecret(path+".insecure", "")
	if err != nil {
		t.Fatalf("LoadSecret: %v", err)
	}
	if !bytes.Equal(got, secret) {
		t.Errorf("secret mismatch")
	}
}
