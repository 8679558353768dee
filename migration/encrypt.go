// Package migrations provides a bulk retrofit tool that writes encrypted
// EncryptedFileStore copies of the wallet rows of an existing plaintext
// FileStore data directory, in place.
package migrations

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/opd-ai/pippin"
)

// EncryptExisting writes an encrypted copy alongside every plaintext wallet
// row under base, skipping wallets that already have an encrypted
// counterpart. Account, adhoc-key and block rows are not encrypted: they are
// only counted, and the number of them without an encrypted copy is logged
// as the "errors" figure. The plaintext rows are left in place; callers
// wanting them removed do so as a separate step once the encrypted copies
// are verified.
func EncryptExisting(keyPath, base string) error {
	encStore, err := pippin.NewEncryptedFileStore(keyPath, base)
	if err != nil {
		return fmt.Errorf("create encrypted store: %w", err)
	}
	plainStore := pippin.NewFileStore(base)

	var processed, failed int

	walletIDs, err := migrateWallets(base, plainStore, encStore)
	if err != nil {
		return err
	}
	processed += len(walletIDs)

	for _, sub := range []string{"accounts", "adhoc", "blocks"} {
		n, f, err := migrateRows(filepath.Join(base, sub))
		if err != nil {
			return err
		}
		processed += n
		failed += f
	}

	log.Printf("pippin: migration complete. processed: %d, errors: %d", processed, failed)
	return nil
}

func migrateWallets(base string, plainStore *pippin.FileStore, encStore *pippin.EncryptedFileStore) ([]string, error) {
	dir := filepath.Join(base, "wallets")
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read wallets directory: %w", err)
	}

	var migrated []string
	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}
		id := strings.TrimSuffix(file.Name(), ".json")

		encPath := filepath.Join(dir, id+".enc")
		if _, err := os.Stat(encPath); err == nil {
			log.Printf("pippin: skipping already-encrypted wallet %s", id)
			continue
		}

		w, err := plainStore.GetWallet(id)
		if err != nil || w == nil {
			log.Printf("pippin: error reading wallet %s: %v", id, err)
			continue
		}
		if err := encStore.UpdateWallet(w); err != nil {
			log.Printf("pippin: error encrypting wallet %s: %v", id, err)
			continue
		}
		migrated = append(migrated, id)
		log.Printf("pippin: encrypted wallet %s", id)
	}
	return migrated, nil
}

// migrateRows is a counter pass over a row directory: it writes nothing and
// returns zero processed rows plus the number of plaintext rows that have
// no encrypted counterpart. EncryptedFileStore reads only encrypted rows, so
// such plaintext rows are not visible through it.
func migrateRows(dir string) (int, int, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("read %s: %w", dir, err)
	}
	var pending int
	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}
		id := strings.TrimSuffix(file.Name(), ".json")
		if _, err := os.Stat(filepath.Join(dir, id+".enc")); err == nil {
			continue
		}
		pending++
	}
	return 0, pending, nil
}
