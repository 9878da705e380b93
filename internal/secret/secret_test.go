package secret

import (
	"encoding/hex"
	"errors"
	"testing"
)

func newTestBox(t *testing.T) *Box {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key failed: %v", err)
	}
	box, err := New(key, nil)
	if err != nil {
		t.Fatalf("new box failed: %v", err)
	}
	return box
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	box := newTestBox(t)
	cipher, err := box.Encrypt("ABCD-1234-EFGH")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if cipher == "ABCD-1234-EFGH" {
		t.Fatalf("ciphertext should differ from plaintext")
	}
	again, err := box.Encrypt("ABCD-1234-EFGH")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if again == cipher {
		t.Fatalf("expected random nonce to produce distinct ciphertexts")
	}
	plain, err := box.Decrypt(cipher)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if plain != "ABCD-1234-EFGH" {
		t.Fatalf("unexpected plaintext: %s", plain)
	}
}

func TestDecryptRejectsTamperedInput(t *testing.T) {
	box := newTestBox(t)
	if _, err := box.Decrypt("not-base64!"); !errors.Is(err, ErrInvalidCiphertext) {
		t.Fatalf("expected ErrInvalidCiphertext, got %v", err)
	}
	other := newTestBox(t)
	cipher, err := other.Encrypt("code")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if _, err := box.Decrypt(cipher); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestHashIsDeterministicPerKey(t *testing.T) {
	box := newTestBox(t)
	if box.Hash("code-1") != box.Hash("code-1") {
		t.Fatalf("hash should be deterministic")
	}
	if box.Hash("code-1") == box.Hash("code-2") {
		t.Fatalf("different values should hash differently")
	}
	other := newTestBox(t)
	if box.Hash("code-1") == other.Hash("code-1") {
		t.Fatalf("hash should depend on key")
	}
}

func TestNewFromConfigAcceptsHex(t *testing.T) {
	key, _ := GenerateKey()
	box, err := NewFromConfig(hex.EncodeToString(key), "")
	if err != nil {
		t.Fatalf("new from config failed: %v", err)
	}
	if box == nil {
		t.Fatalf("expected box")
	}
	if _, err := NewFromConfig("short", ""); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}
