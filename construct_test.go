package pippin

import (
	"os"
	"testing"

	"github.com/opd-ai/pippin/wallet"
)

func TestConstructUsesFileStore(t *testing.T) {
	dir, err := os.MkdirTemp("", "pippin-construct-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	p, err := Construct(dir, wallet.Banano, "http://unused.invalid", nil)
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	if _, ok := p.Store.(*FileStore); !ok {
		t.Errorf("Store type = %T, want *FileStore", p.Store)
	}
	if p.Config.Network != wallet.Banano {
		t.Errorf("Network = %v, want Banano", p.Config.Network)
	}

	w, err := p.Wallets.Create("")
	if err != nil {
		t.Fatalf("Create wallet: %v", err)
	}
	if _, err := os.Stat(dir + "/wallets/" + w.ID + ".json"); err != nil {
		t.Errorf("wallet was not persisted to disk: %v", err)
	}
}

func TestConstructEncryptedUsesEncryptedFileStore(t *testing.T) {
	dir, err := os.MkdirTemp("", "pippin-construct-enc-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	keyPath := dir + "/store.key"

	p, err := ConstructEncrypted(dir, keyPath, wallet.Nano, "http://unused.invalid", nil)
	if err != nil {
		t.Fatalf("ConstructEncrypted: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	if _, ok := p.Store.(*EncryptedFileStore); !ok {
		t.Errorf("Store type = %T, want *EncryptedFileStore", p.Store)
	}
	if _, err := os.Stat(keyPath); err != nil {
		t.Errorf("key file was not created: %v", err)
	}
}

func TestConstructDefaultsDataDir(t *testing.T) {
	dir, err := os.MkdirTemp("", "pippin-construct-default-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	origWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	t.Cleanup(func() { os.Chdir(origWD) })
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}

	p, err := Construct("", wallet.Nano, "http://unused.invalid", nil)
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	if p.Config.DataDir != "./pippindata" {
		t.Errorf("DataDir = %q, want ./pippindata", p.Config.DataDir)
	}
}
