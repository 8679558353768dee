package pippin

import (
	"testing"
	"time"

	"github.com/opd-ai/pippin/wallet"
)

// testStoreContract exercises the Store interface the same way against any
// backing implementation, so MemoryStore and FileStore are held to
// identical behavior.
func testStoreContract(t *testing.T, newStore func() Store) {
	t.Helper()

	t.Run("wallet and account lifecycle", func(t *testing.T) {
		store := newStore()
		w := &Wallet{ID: "w1", Seed: []byte("seed"), Network: wallet.Nano, CreatedAt: time.Now(), UpdatedAt: time.Now()}
		first := &Account{WalletID: "w1", Address: "nano_first", Kind: Deterministic, Index: 0}
		if err := store.CreateWallet(w, first); err != nil {
			t.Fatalf("CreateWallet: %v", err)
		}

		got, err := store.GetWallet("w1")
		if err != nil {
			t.Fatalf("GetWallet: %v", err)
		}
		if got == nil || got.ID != "w1" {
			t.Fatalf("GetWallet returned %+v", got)
		}

		got.Representative = "nano_rep"
		if err := store.UpdateWallet(got); err != nil {
			t.Fatalf("UpdateWallet: %v", err)
		}
		reloaded, err := store.GetWallet("w1")
		if err != nil || reloaded.Representative != "nano_rep" {
			t.Fatalf("UpdateWallet did not persist: %+v, %v", reloaded, err)
		}

		missing, err := store.GetWallet("does-not-exist")
		if err != nil || missing != nil {
			t.Fatalf("GetWallet(missing) = %+v, %v, want nil, nil", missing, err)
		}

		second := &Account{WalletID: "w1", Address: "nano_second", Kind: Deterministic, Index: 1}
		if err := store.CreateAccount(second); err != nil {
			t.Fatalf("CreateAccount: %v", err)
		}
		if err := store.CreateAccount(&Account{WalletID: "no-such-wallet", Address: "x"}); err != ErrWalletNotFound {
			t.Fatalf("CreateAccount against unknown wallet = %v, want ErrWalletNotFound", err)
		}

		accounts, err := store.ListAccounts("w1", 0)
		if err != nil {
			t.Fatalf("ListAccounts: %v", err)
		}
		if len(accounts) != 2 {
			t.Fatalf("ListAccounts returned %d accounts, want 2", len(accounts))
		}

		second.Representative = "nano_override"
		if err := store.UpdateAccount(second); err != nil {
			t.Fatalf("UpdateAccount: %v", err)
		}
		reloadedAccount, err := store.GetAccount("w1", "nano_second")
		if err != nil || reloadedAccount.Representative != "nano_override" {
			t.Fatalf("UpdateAccount did not persist: %+v, %v", reloadedAccount, err)
		}
	})

	t.Run("adhoc accounts", func(t *testing.T) {
		store := newStore()
		w := &Wallet{ID: "w2", Seed: []byte("seed"), Network: wallet.Nano, CreatedAt: time.Now(), UpdatedAt: time.Now()}
		first := &Account{WalletID: "w2", Address: "nano_first", Kind: Deterministic}
		if err := store.CreateWallet(w, first); err != nil {
			t.Fatalf("CreateWallet: %v", err)
		}

		a := &AdhocAccount{WalletID: "w2", Address: "nano_adhoc", PrivateKey: []byte("key-bytes")}
		if err := store.CreateAdhocAccount(a); err != nil {
			t.Fatalf("CreateAdhocAccount: %v", err)
		}
		got, err := store.GetAdhocAccount("w2", "nano_adhoc")
		if err != nil || got == nil || string(got.PrivateKey) != "key-bytes" {
			t.Fatalf("GetAdhocAccount = %+v, %v", got, err)
		}

		a.PrivateKey = []byte("rotated-key")
		if err := store.UpdateAdhocAccount(a); err != nil {
			t.Fatalf("UpdateAdhocAccount: %v", err)
		}
		reloaded, err := store.GetAdhocAccount("w2", "nano_adhoc")
		if err != nil || string(reloaded.PrivateKey) != "rotated-key" {
			t.Fatalf("UpdateAdhocAccount did not persist: %+v, %v", reloaded, err)
		}

		list, err := store.ListAdhocAccounts("w2")
		if err != nil || len(list) != 1 {
			t.Fatalf("ListAdhocAccounts = %+v, %v", list, err)
		}
	})

	t.Run("blocks and send id idempotency", func(t *testing.T) {
		store := newStore()
		w := &Wallet{ID: "w3", Seed: []byte("seed"), Network: wallet.Nano, CreatedAt: time.Now(), UpdatedAt: time.Now()}
		first := &Account{WalletID: "w3", Address: "nano_first", Kind: Deterministic}
		if err := store.CreateWallet(w, first); err != nil {
			t.Fatalf("CreateWallet: %v", err)
		}

		b := &Block{Hash: "hash1", Wallet: "w3", Account: "nano_first", Subtype: SubtypeSend, SendID: "client-id-1", CreatedAt: time.Now()}
		if err := store.InsertBlock(b); err != nil {
			t.Fatalf("InsertBlock: %v", err)
		}

		found, err := store.GetBlockBySendID("w3", "client-id-1")
		if err != nil || found == nil || found.Hash != "hash1" {
			t.Fatalf("GetBlockBySendID = %+v, %v", found, err)
		}

		notFound, err := store.GetBlockBySendID("w3", "never-sent")
		if err != nil || notFound != nil {
			t.Fatalf("GetBlockBySendID(unknown) = %+v, %v, want nil, nil", notFound, err)
		}
	})

	t.Run("work failure flag", func(t *testing.T) {
		store := newStore()
		flag, err := store.GetWorkFailure()
		if err != nil || flag.Set {
			t.Fatalf("initial GetWorkFailure = %+v, %v, want unset", flag, err)
		}

		if err := store.SetWorkFailure(time.Hour); err != nil {
			t.Fatalf("SetWorkFailure: %v", err)
		}
		flag, err = store.GetWorkFailure()
		if err != nil || !flag.Set {
			t.Fatalf("GetWorkFailure after set = %+v, %v, want set", flag, err)
		}

		if err := store.SetWorkFailure(-time.Hour); err != nil {
			t.Fatalf("SetWorkFailure: %v", err)
		}
		flag, err = store.GetWorkFailure()
		if err != nil || flag.Set {
			t.Fatalf("GetWorkFailure after expiry = %+v, %v, want unset", flag, err)
		}
	})
}
