package wallet

import (
	"bytes"
	"testing"
)

func TestDerivePrivateDeterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{0x11}, SeedSize)
	a, err := DerivePrivate(seed, 0)
	if err != nil {
		t.Fatalf("DerivePrivate: %v", err)
	}
	b, err := DerivePrivate(seed, 0)
	if err != nil {
		t.Fatalf("DerivePrivate: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("DerivePrivate is not deterministic for the same seed/index")
	}

	c, err := DerivePrivate(seed, 1)
	if err != nil {
		t.Fatalf("DerivePrivate: %v", err)
	}
	if bytes.Equal(a, c) {
		t.Error("DerivePrivate produced the same key for different indices")
	}
}

func TestDerivePrivateRejectsBadSeedLength(t *testing.T) {
	if _, err := DerivePrivate([]byte{1, 2, 3}, 0); err == nil {
		t.Error("expected error for undersized seed")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, SeedSize)
	priv, err := DerivePrivate(seed, 0)
	if err != nil {
		t.Fatalf("DerivePrivate: %v", err)
	}
	pub, err := PublicOf(priv)
	if err != nil {
		t.Fatalf("PublicOf: %v", err)
	}

	msg := []byte("state block hash goes here, 32 b")
	sig, err := Sign(priv, msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) != SignatureSize {
		t.Fatalf("signature length = %d, want %d", len(sig), SignatureSize)
	}

	ok, err := Verify(pub, msg, sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("Verify rejected a valid signature")
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	seed := bytes.Repeat([]byte{0x7a}, SeedSize)
	priv, err := DerivePrivate(seed, 3)
	if err != nil {
		t.Fatalf("DerivePrivate: %v", err)
	}
	pub, err := PublicOf(priv)
	if err != nil {
		t.Fatalf("PublicOf: %v", err)
	}
	sig, err := Sign(priv, []byte("original message"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	ok, err := Verify(pub, []byte("tampered message"), sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Error("Verify accepted a signature over the wrong message")
	}
}

func TestWorkVerifyThreshold(t *testing.T) {
	var root [32]byte
	root[0] = 0x01

	work, ok := WorkGenerateLocal(nil, root, WorkThreshold(0), 16)
	if !ok {
		t.Fatal("WorkGenerateLocal failed against a zero threshold")
	}
	if !WorkVerify(root, work, WorkThreshold(0)) {
		t.Error("WorkVerify rejected work satisfying a zero threshold")
	}
}

func TestWorkGenerateLocalCancels(t *testing.T) {
	var root [32]byte
	done := make(chan struct{})
	close(done)

	_, ok := WorkGenerateLocal(done, root, NanoWorkThreshold, 1)
	if ok {
		t.Error("WorkGenerateLocal should not succeed immediately against the real Nano threshold with a pre-closed done channel")
	}
}
