package migrations

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opd-ai/pippin"
	"github.com/opd-ai/pippin/wallet"
)

func setupTestDirectory(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "pippin_migration_*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func seedWallet(t *testing.T, base, id string) {
	t.Helper()
	store := pippin.NewFileStore(base)
	w := &pippin.Wallet{
		ID:                 id,
		Seed:               []byte("0123456789abcdef0123456789abcdef"),
		DeterministicIndex: 1,
		Work:               true,
		Network:            wallet.Nano,
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
	}
	account := &pippin.Account{WalletID: id, Address: "nano_placeholder_" + id, Kind: pippin.Deterministic}
	if err := store.CreateWallet(w, account); err != nil {
		t.Fatalf("seed wallet %s: %v", id, err)
	}
}

func TestEncryptExisting_MigratesWallets(t *testing.T) {
	base := setupTestDirectory(t)
	seedWallet(t, base, "wallet1")
	seedWallet(t, base, "wallet2")

	keyPath := filepath.Join(base, "store.key")
	if err := EncryptExisting(keyPath, base); err != nil {
		t.Fatalf("EncryptExisting failed: %v", err)
	}

	for _, id := range []string{"wallet1", "wallet2"} {
		encPath := filepath.Join(base, "wallets", id+".enc")
		if _, err := os.Stat(encPath); os.IsNotExist(err) {
			t.Errorf("expected encrypted wallet file %s", encPath)
		}
		jsonPath := filepath.Join(base, "wallets", id+".json")
		if _, err := os.Stat(jsonPath); os.IsNotExist(err) {
			t.Errorf("plaintext wallet file %s should still exist", jsonPath)
		}
	}
}

func TestEncryptExisting_SkipsAlreadyEncrypted(t *testing.T) {
	base := setupTestDirectory(t)
	seedWallet(t, base, "wallet1")

	encPath := filepath.Join(base, "wallets", "wallet1.enc")
	if err := os.WriteFile(encPath, []byte("already encrypted"), 0o600); err != nil {
		t.Fatalf("seed existing encrypted file: %v", err)
	}

	keyPath := filepath.Join(base, "store.key")
	if err := EncryptExisting(keyPath, base); err != nil {
		t.Fatalf("EncryptExisting failed: %v", err)
	}

	content, err := os.ReadFile(encPath)
	if err != nil {
		t.Fatalf("read encrypted file: %v", err)
	}
	if string(content) != "already encrypted" {
		t.Error("already-encrypted wallet was overwritten")
	}
}

func TestEncryptExisting_EmptyDirectory(t *testing.T) {
	base := setupTestDirectory(t)
	pippin.NewFileStore(base)

	keyPath := filepath.Join(base, "store.key")
	if err := EncryptExisting(keyPath, base); err != nil {
		t.Fatalf("EncryptExisting on empty store failed: %v", err)
	}
}

func TestEncryptExisting_InvalidKeyPath(t *testing.T) {
	base := setupTestDirectory(t)
	seedWallet(t, base, "wallet1")

	keyPath := "/nonexistent-root-parent/nope/store.key"
	if err := EncryptExisting(keyPath, base); err == nil {
		t.Error("expected error with an unwritable key path")
	}
}
