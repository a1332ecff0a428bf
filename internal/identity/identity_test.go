package identity

import "testing"

func TestGenerateProducesUsableSecrets(t *testing.T) {
	s, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if s.IsEmpty() {
		t.Fatal("freshly generated secrets must not be empty")
	}

	priv, err := s.PrivateKey()
	if err != nil {
		t.Fatalf("PrivateKey: %v", err)
	}
	if priv == nil {
		t.Fatal("expected non-nil private key")
	}

	psk, err := s.PSK()
	if err != nil {
		t.Fatalf("PSK: %v", err)
	}
	if len(psk) != PSKSize {
		t.Errorf("got psk length %d, want %d", len(psk), PSKSize)
	}

	pid, err := s.LocalPeerID()
	if err != nil {
		t.Fatalf("LocalPeerID: %v", err)
	}
	if pid == "" {
		t.Error("expected non-empty peer ID")
	}
}

func TestGenerateIsRandom(t *testing.T) {
	a, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	b, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	if a.KeypairB64 == b.KeypairB64 {
		t.Error("two generated keypairs must differ")
	}
	if a.PSKB64 == b.PSKB64 {
		t.Error("two generated PSKs must differ")
	}
}

func TestEmptySecretsIsEmpty(t *testing.T) {
	var s Secrets
	if !s.IsEmpty() {
		t.Error("zero-value Secrets must report IsEmpty")
	}
}

func TestPSKRejectsWrongLength(t *testing.T) {
	s := Secrets{PSKB64: "YWJj"} // "abc", 3 bytes
	if _, err := s.PSK(); err == nil {
		t.Error("expected error for wrong-length PSK")
	}
}
