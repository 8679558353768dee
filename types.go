// Package pippin implements a developer-facing wallet server for the Nano
// and BANANO cryptocurrency networks, speaking the reference node's wallet
// RPC dialect while proxying everything else upstream.
package pippin

import (
	"time"

	"github.com/opd-ai/pippin/wallet"
)

// AccountKind distinguishes a deterministically-derived account from one
// whose private key was supplied directly.
type AccountKind string

const (
	// Deterministic accounts derive their private key on demand from the
	// wallet seed and their index.
	Deterministic AccountKind = "deterministic"
	// Adhoc accounts carry their own stored private key.
	Adhoc AccountKind = "adhoc"
)

// BlockSubtype identifies which of the three state-block shapes a Block
// record represents.
type BlockSubtype string

const (
	SubtypeOpen    BlockSubtype = "open"
	SubtypeSend    BlockSubtype = "send"
	SubtypeReceive BlockSubtype = "receive"
	SubtypeChange  BlockSubtype = "change"
)

// Wallet is a stable collection of accounts sharing one deterministic seed.
// Related types: Account, AdhocAccount, Store
type Wallet struct {
	// ID is a random 128-bit identifier, rendered as hex to clients.
	ID string `json:"id"`
	// Seed is the 32-byte seed, ciphertext when Encrypted is true.
	Seed []byte `json:"seed"`
	// Encrypted reports whether Seed and every AdhocAccount key in this
	// wallet are stored ciphertext.
	Encrypted bool `json:"encrypted"`
	// Representative is the wallet-level default representative address,
	// used when an account has no per-account override.
	Representative string `json:"representative,omitempty"`
	// DeterministicIndex is the count of deterministic accounts derived;
	// the wallet's deterministic accounts are exactly indices
	// 0..DeterministicIndex-1.
	DeterministicIndex uint32 `json:"deterministic_index"`
	// Work controls whether receive operations attempt local/peer PoW.
	Work bool `json:"work"`
	// Network selects the address prefix and difficulty this wallet uses.
	Network wallet.Network `json:"network"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Account belongs to exactly one wallet and carries its public address.
// Related types: Wallet, AdhocAccount
type Account struct {
	WalletID string `json:"wallet_id"`
	// Address is the network-prefixed, base-32, checksummed account string.
	Address string `json:"address"`
	Kind    AccountKind `json:"kind"`
	// Index is meaningful only when Kind == Deterministic.
	Index uint32 `json:"index,omitempty"`
	// Representative is this account's override; empty means "use the
	// wallet default".
	Representative string `json:"representative,omitempty"`
}

// AdhocAccount holds the stored private key bytes for an adhoc account,
// encrypted under the wallet's key derivation when the wallet is encrypted.
type AdhocAccount struct {
	WalletID string `json:"wallet_id"`
	Address  string `json:"address"`
	// PrivateKey is raw bytes when the wallet is unencrypted, or the
	// wallet/encrypt.go ciphertext string decoded to bytes when encrypted.
	PrivateKey []byte `json:"private_key"`
}

// Block records one state block this server has created.
type Block struct {
	Hash    string       `json:"hash"`
	Wallet  string       `json:"wallet_id"`
	Account string       `json:"account"`
	Subtype BlockSubtype `json:"subtype"`
	// Serialized is the full JSON-encoded state block as published to the
	// node (account, previous, representative, balance, link, signature,
	// work).
	Serialized []byte `json:"serialized"`
	// SendID is the client-supplied idempotency key for send blocks; empty
	// for receive/open/change blocks.
	SendID    string    `json:"send_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// WorkFailure is a process-wide, TTL-backed flag recording that the peer
// work pool is currently unhealthy.
type WorkFailure struct {
	Set       bool      `json:"set"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store exposes per-entity CRUD for the five entities above. It has no
// transaction type: each method is a single call under the implementation's
// own lock, and a multi-step operation made of several calls (such as
// WalletManager.AccountCreate's UpdateWallet followed by CreateAccount) is
// not rolled back as a unit when a later call fails. MemoryStore and
// FileStore are the reference/test-grade implementations shipped here.
type Store interface {
	// CreateWallet inserts w and its index-0 account in one call.
	CreateWallet(w *Wallet, firstAccount *Account) error
	// GetWallet looks up a wallet by id. Returns nil, nil if absent.
	GetWallet(id string) (*Wallet, error)
	// UpdateWallet persists changes to an existing wallet row.
	UpdateWallet(w *Wallet) error

	// CreateAccount inserts an account as given; the caller is responsible
	// for having already assigned account.Index and bumped the wallet's
	// DeterministicIndex (via UpdateWallet) under its own serialization.
	CreateAccount(account *Account) error
	// GetAccount looks up an account by (wallet, address).
	GetAccount(walletID, address string) (*Account, error)
	// ListAccounts returns up to limit accounts of a wallet, oldest first.
	// limit <= 0 means unlimited.
	ListAccounts(walletID string, limit int) ([]*Account, error)
	// UpdateAccount persists changes (e.g. a representative override).
	UpdateAccount(account *Account) error

	// CreateAdhocAccount inserts the adhoc private-key row alongside its
	// Account row, which must already exist.
	CreateAdhocAccount(a *AdhocAccount) error
	// GetAdhocAccount fetches the stored key material for an account.
	GetAdhocAccount(walletID, address string) (*AdhocAccount, error)
	// ListAdhocAccounts returns every adhoc key row for a wallet, used when
	// re-encrypting on lock/unlock/encrypt_wallet.
	ListAdhocAccounts(walletID string) ([]*AdhocAccount, error)
	// UpdateAdhocAccount rewrites the stored key material (re-encryption).
	UpdateAdhocAccount(a *AdhocAccount) error

	// InsertBlock appends a block row.
	InsertBlock(b *Block) error
	// GetBlockBySendID fetches a prior send by its idempotency key. Returns
	// nil, nil if no such block exists.
	GetBlockBySendID(walletID, sendID string) (*Block, error)

	// GetWorkFailure returns the current flag state; a zero-value,
	// unexpired WorkFailure means "not set".
	GetWorkFailure() (*WorkFailure, error)
	// SetWorkFailure records the flag with the given TTL.
	SetWorkFailure(ttl time.Duration) error

	// Close releases any resources the store holds open.
	Close() error
}

// Config carries every value an external loader (YAML/env/flags — not
// specified here) must populate before constructing a server: network
// selection, peer/node endpoints, bind address and timeouts. Mirrors how
// example/example.go populates it from command-line flags.
type Config struct {
	// Network selects nano or banano: address prefix, raw-unit exponent,
	// and default work thresholds all follow from it.
	Network wallet.Network
	// NodeURL is the upstream node's RPC endpoint.
	NodeURL string
	// PeerURLs are work-generation peer endpoints raced by the work client.
	PeerURLs []string
	// NodeWorkGenerate, when true, adds NodeURL itself as an extra peer in
	// the work-generation fan-out.
	NodeWorkGenerate bool
	// BindHost and BindPort describe the RPC listener address; nothing in
	// this package reads them, the program that serves Pippin binds its own
	// listener.
	BindHost string
	BindPort int
	// RequestTimeout bounds outbound HTTP calls to the node and peers.
	RequestTimeout time.Duration
	// DataDir is where FileStore/EncryptedFileStore keep their JSON rows.
	DataDir string
}
