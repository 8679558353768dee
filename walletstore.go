package pippin

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/opd-ai/pippin/wallet"
	"github.com/pkg/errors"
)

// unlockEntry is the process-local, in-memory record held for a wallet
// between unlock and lock: the derived key and the plaintext seed. Lost on
// restart — users must unlock again. Grounded in CryptoChainMonitor's
// per-resource mutex-map pattern (verification.go's btcMux/xmrMux),
// generalized from two fixed mutexes to a lazily-populated map.
type unlockEntry struct {
	key  *wallet.DerivedKey
	seed []byte
}

// WalletManager implements the §4.7 wallet-store operations: lifecycle of
// wallets and accounts backed by a Store, with an in-memory table of
// derived keys for currently-unlocked wallets.
type WalletManager struct {
	store    Store
	network  wallet.Network
	mu       sync.RWMutex
	unlocked map[string]*unlockEntry

	walletMu  sync.Mutex
	perWallet map[string]*sync.Mutex
}

// NewWalletManager builds a manager over store for the given network.
func NewWalletManager(store Store, network wallet.Network) *WalletManager {
	return &WalletManager{
		store:     store,
		network:   network,
		unlocked:  make(map[string]*unlockEntry),
		perWallet: make(map[string]*sync.Mutex),
	}
}

// lockWallet returns the (lazily created) mutex serializing index
// reservation for walletID, generalizing CryptoChainMonitor's per-resource
// mutex map (verification.go's btcMux/xmrMux) from two fixed fields to an
// arbitrary, process-lifetime-retained key set.
func (m *WalletManager) lockWallet(walletID string) *sync.Mutex {
	m.walletMu.Lock()
	defer m.walletMu.Unlock()
	l, ok := m.perWallet[walletID]
	if !ok {
		l = &sync.Mutex{}
		m.perWallet[walletID] = l
	}
	return l
}

func randomID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "generate wallet id")
	}
	return hex.EncodeToString(b), nil
}

func deriveAddress(seed []byte, index uint32, network wallet.Network) (string, []byte, error) {
	priv, err := wallet.DerivePrivate(seed, index)
	if err != nil {
		return "", nil, err
	}
	pub, err := wallet.PublicOf(priv)
	if err != nil {
		return "", nil, err
	}
	addr, err := wallet.EncodeAddress(network, pub)
	if err != nil {
		return "", nil, err
	}
	return addr, priv, nil
}

// Create generates or validates a 32-byte seed (a caller-supplied seed must
// be 64 hex chars), inserts a wallet and its index-0 account in one Store
// call, and returns the wallet.
func (m *WalletManager) Create(seedHex string) (*Wallet, error) {
	var seed []byte
	if seedHex != "" {
		decoded, err := hex.DecodeString(seedHex)
		if err != nil || len(decoded) != wallet.SeedSize {
			return nil, ErrInvalidSeed
		}
		seed = decoded
	} else {
		seed = make([]byte, wallet.SeedSize)
		if _, err := rand.Read(seed); err != nil {
			return nil, errors.Wrap(err, "generate seed")
		}
	}

	id, err := randomID()
	if err != nil {
		return nil, err
	}
	addr, _, err := deriveAddress(seed, 0, m.network)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	w := &Wallet{
		ID:                 id,
		Seed:               seed,
		Encrypted:          false,
		DeterministicIndex: 1,
		Work:               true,
		Network:            m.network,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	firstAccount := &Account{WalletID: id, Address: addr, Kind: Deterministic, Index: 0}
	if err := m.store.CreateWallet(w, firstAccount); err != nil {
		return nil, err
	}
	return w, nil
}

// requireUnlockedSeed returns the wallet's plaintext seed, straight from
// the wallet row when unencrypted or from the in-memory unlock cache when
// encrypted.
func (m *WalletManager) requireUnlockedSeed(w *Wallet) ([]byte, error) {
	if !w.Encrypted {
		return w.Seed, nil
	}
	m.mu.RLock()
	entry, ok := m.unlocked[w.ID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrWalletLocked
	}
	return entry.seed, nil
}

// AccountCreate atomically selects the wallet's next deterministic index,
// derives its address, and inserts the account. Index reservation, address
// derivation and insertion run under a per-wallet lock so two concurrent
// calls for the same wallet never derive the same index.
func (m *WalletManager) AccountCreate(walletID string) (*Account, error) {
	lock := m.lockWallet(walletID)
	lock.Lock()
	defer lock.Unlock()

	w, err := m.store.GetWallet(walletID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, ErrWalletNotFound
	}
	seed, err := m.requireUnlockedSeed(w)
	if err != nil {
		return nil, err
	}

	idx := w.DeterministicIndex
	addr, _, err := deriveAddress(seed, idx, w.Network)
	if err != nil {
		return nil, err
	}

	w.DeterministicIndex++
	if err := m.store.UpdateWallet(w); err != nil {
		return nil, err
	}
	account := &Account{WalletID: walletID, Address: addr, Kind: Deterministic, Index: idx}
	if err := m.store.CreateAccount(account); err != nil {
		return nil, err
	}
	return account, nil
}

// AccountsCreate produces n contiguous deterministic accounts.
func (m *WalletManager) AccountsCreate(walletID string, n int) ([]*Account, error) {
	out := make([]*Account, 0, n)
	for i := 0; i < n; i++ {
		a, err := m.AccountCreate(walletID)
		if err != nil {
			return out, err
		}
		out = append(out, a)
	}
	return out, nil
}

// AccountList returns up to count addresses of a wallet.
func (m *WalletManager) AccountList(walletID string, count int) ([]*Account, error) {
	return m.store.ListAccounts(walletID, count)
}

// GetWallet returns the wallet, failing with ErrWalletNotFound if absent and
// ErrWalletLocked (returned together with the still-encrypted record) if
// encrypted.
func (m *WalletManager) GetWallet(id string) (*Wallet, error) {
	w, err := m.store.GetWallet(id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, ErrWalletNotFound
	}
	if w.Encrypted {
		return w, ErrWalletLocked
	}
	return w, nil
}

// AdhocAccountCreate derives the public address for priv, fails with
// ErrAccountAlreadyExists if already present in the wallet, and otherwise
// inserts the account and its adhoc key row under the wallet's current
// encryption state.
func (m *WalletManager) AdhocAccountCreate(walletID string, priv []byte) (*Account, error) {
	if len(priv) != wallet.KeySize {
		return nil, ErrInvalidKey
	}
	w, err := m.store.GetWallet(walletID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, ErrWalletNotFound
	}
	pub, err := wallet.PublicOf(priv)
	if err != nil {
		return nil, ErrInvalidKey
	}
	addr, err := wallet.EncodeAddress(w.Network, pub)
	if err != nil {
		return nil, err
	}
	if existing, err := m.store.GetAccount(walletID, addr); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrAccountAlreadyExists
	}

	stored := priv
	if w.Encrypted {
		m.mu.RLock()
		entry, ok := m.unlocked[walletID]
		m.mu.RUnlock()
		if !ok {
			return nil, ErrWalletLocked
		}
		ciphertext, err := entry.key.EncryptWithKey(priv)
		if err != nil {
			return nil, err
		}
		stored = []byte(ciphertext)
	}

	account := &Account{WalletID: walletID, Address: addr, Kind: Adhoc}
	if err := m.store.CreateAccount(account); err != nil {
		return nil, err
	}
	if err := m.store.CreateAdhocAccount(&AdhocAccount{WalletID: walletID, Address: addr, PrivateKey: stored}); err != nil {
		return nil, err
	}
	return account, nil
}

// Lock re-encrypts every secret in the wallet using the cached
// key-derived key from the last unlock and drops that key from the
// in-memory table. If no cached key is held, lock only drops the (already
// absent) in-memory entry; it is a no-op at the data level.
func (m *WalletManager) Lock(walletID string) error {
	m.mu.Lock()
	entry, ok := m.unlocked[walletID]
	delete(m.unlocked, walletID)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	w, err := m.store.GetWallet(walletID)
	if err != nil {
		return err
	}
	if w == nil {
		return ErrWalletNotFound
	}
	ciphertext, err := entry.key.EncryptWithKey(entry.seed)
	if err != nil {
		return err
	}
	w.Seed = []byte(ciphertext)
	w.Encrypted = true
	if err := m.store.UpdateWallet(w); err != nil {
		return err
	}

	adhocAccounts, err := m.store.ListAdhocAccounts(walletID)
	if err != nil {
		return err
	}
	for _, a := range adhocAccounts {
		plain, err := entry.key.DecryptWithKey(string(a.PrivateKey))
		if err != nil {
			return err
		}
		ct, err := entry.key.EncryptWithKey(plain)
		if err != nil {
			return err
		}
		a.PrivateKey = []byte(ct)
		if err := m.store.UpdateAdhocAccount(a); err != nil {
			return err
		}
	}
	return nil
}

// Unlock decrypts the seed with passphrase, failing with ErrDecryptionError
// on tag mismatch, and on success holds the derived key for the wallet
// until Lock.
func (m *WalletManager) Unlock(walletID, passphrase string) error {
	w, err := m.store.GetWallet(walletID)
	if err != nil {
		return err
	}
	if w == nil {
		return ErrWalletNotFound
	}
	if !w.Encrypted {
		return ErrWalletNotLocked
	}

	seed, err := wallet.DecryptSecret(passphrase, string(w.Seed))
	if err != nil {
		return ErrDecryptionError
	}

	salt, key, err := deriveKeyFromCiphertext(passphrase, string(w.Seed))
	if err != nil {
		return err
	}
	_ = salt

	m.mu.Lock()
	m.unlocked[walletID] = &unlockEntry{key: key, seed: seed}
	m.mu.Unlock()
	return nil
}

// deriveKeyFromCiphertext reconstructs a *wallet.DerivedKey bound to the
// salt embedded in an already-encrypted secret, so further re-encryption
// within the same unlock session reuses that salt's key.
func deriveKeyFromCiphertext(passphrase, encoded string) ([]byte, *wallet.DerivedKey, error) {
	salt, err := wallet.SaltOf(encoded)
	if err != nil {
		return nil, nil, err
	}
	key := wallet.DeriveKeyWithSalt(passphrase, salt)
	return salt, key, nil
}

// EncryptWallet handles both first-time encryption and passphrase change
// under one contract: it recovers plaintext for every secret (straight from
// the row when unencrypted, through the cached unlock key when already
// encrypted), then re-encrypts everything under a freshly derived key. The
// wallet is left locked afterward; callers must Unlock with the new
// passphrase before touching accounts again.
func (m *WalletManager) EncryptWallet(walletID, passphrase string) error {
	w, err := m.store.GetWallet(walletID)
	if err != nil {
		return err
	}
	if w == nil {
		return ErrWalletNotFound
	}

	wasEncrypted := w.Encrypted
	var oldKey *wallet.DerivedKey
	if wasEncrypted {
		m.mu.RLock()
		entry, ok := m.unlocked[walletID]
		m.mu.RUnlock()
		if !ok {
			return ErrWalletLocked
		}
		oldKey = entry.key
	}

	seed, err := m.requireUnlockedSeed(w)
	if err != nil {
		return err
	}

	adhocAccounts, err := m.store.ListAdhocAccounts(walletID)
	if err != nil {
		return err
	}
	plainKeys := make([][]byte, len(adhocAccounts))
	for i, a := range adhocAccounts {
		if !wasEncrypted {
			plainKeys[i] = a.PrivateKey
			continue
		}
		plain, err := oldKey.DecryptWithKey(string(a.PrivateKey))
		if err != nil {
			return err
		}
		plainKeys[i] = plain
	}

	newKey, err := wallet.DeriveKey(passphrase)
	if err != nil {
		return err
	}
	ciphertext, err := newKey.EncryptWithKey(seed)
	if err != nil {
		return err
	}
	w.Seed = []byte(ciphertext)
	w.Encrypted = true
	if err := m.store.UpdateWallet(w); err != nil {
		return err
	}

	for i, a := range adhocAccounts {
		ct, err := newKey.EncryptWithKey(plainKeys[i])
		if err != nil {
			return err
		}
		a.PrivateKey = []byte(ct)
		if err := m.store.UpdateAdhocAccount(a); err != nil {
			return err
		}
	}

	m.mu.Lock()
	delete(m.unlocked, walletID)
	m.mu.Unlock()
	return nil
}

// BulkRepresentativeUpdate sets every account's representative override to
// rep and returns the accounts whose representative actually changed, for
// the caller to optionally publish change blocks for.
func (m *WalletManager) BulkRepresentativeUpdate(walletID, rep string) ([]*Account, error) {
	accounts, err := m.store.ListAccounts(walletID, 0)
	if err != nil {
		return nil, err
	}
	var changed []*Account
	for _, a := range accounts {
		if a.Representative == rep {
			continue
		}
		a.Representative = rep
		if err := m.store.UpdateAccount(a); err != nil {
			return changed, err
		}
		changed = append(changed, a)
	}
	return changed, nil
}

// PrivateKeyFor resolves the signing key for an account, deriving it from
// the seed for deterministic accounts or decrypting the stored key for
// adhoc accounts. Fails with ErrWalletLocked if the wallet is encrypted and
// not currently unlocked.
func (m *WalletManager) PrivateKeyFor(walletID, address string) ([]byte, error) {
	w, err := m.store.GetWallet(walletID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, ErrWalletNotFound
	}
	account, err := m.store.GetAccount(walletID, address)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}

	if account.Kind == Deterministic {
		seed, err := m.requireUnlockedSeed(w)
		if err != nil {
			return nil, err
		}
		return wallet.DerivePrivate(seed, account.Index)
	}

	adhoc, err := m.store.GetAdhocAccount(walletID, address)
	if err != nil {
		return nil, err
	}
	if adhoc == nil {
		return nil, ErrAccountNotFound
	}
	if !w.Encrypted {
		return adhoc.PrivateKey, nil
	}
	m.mu.RLock()
	entry, ok := m.unlocked[walletID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrWalletLocked
	}
	return entry.key.DecryptWithKey(string(adhoc.PrivateKey))
}

// PasswordValid reports whether passphrase currently unlocks walletID,
// without changing unlock state.
func (m *WalletManager) PasswordValid(walletID, passphrase string) (bool, error) {
	w, err := m.store.GetWallet(walletID)
	if err != nil {
		return false, err
	}
	if w == nil {
		return false, ErrWalletNotFound
	}
	if !w.Encrypted {
		return true, nil
	}
	_, err = wallet.DecryptSecret(passphrase, string(w.Seed))
	return err == nil, nil
}

// SetWalletRepresentative updates the wallet-level default representative,
// used by accounts with no per-account override.
func (m *WalletManager) SetWalletRepresentative(walletID, rep string) error {
	w, err := m.store.GetWallet(walletID)
	if err != nil {
		return err
	}
	if w == nil {
		return ErrWalletNotFound
	}
	w.Representative = rep
	return m.store.UpdateWallet(w)
}

// Locked reports the wallet's current encrypted flag.
func (m *WalletManager) Locked(walletID string) (bool, error) {
	w, err := m.store.GetWallet(walletID)
	if err != nil {
		return false, err
	}
	if w == nil {
		return false, ErrWalletNotFound
	}
	return w.Encrypted, nil
}
