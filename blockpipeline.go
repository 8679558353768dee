package pippin

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"sync"

	"github.com/opd-ai/pippin/wallet"
	"github.com/pkg/errors"
)

// zeroHash is the all-zero 32-byte root/link used for a wallet's first
// (open) block's "previous" field and for a change block with no source.
var zeroHash [32]byte

// BlockPipeline assembles, signs and publishes state blocks for send,
// receive and representative-change operations. Each account's frontier is
// guarded by a lazily-created, process-lifetime mutex so two requests
// against the same account never race on the same previous-block hash,
// generalizing the same per-resource mutex-map shape WalletManager uses for
// index reservation.
type BlockPipeline struct {
	Node    *NodeClient
	Work    *WorkClient
	Store   Store
	Wallets *WalletManager

	// Threshold overrides the PoW difficulty assembleAndPublish requests,
	// for tests that need real (not skipped) work generation to finish
	// quickly; zero means "use the wallet's network default".
	Threshold wallet.WorkThreshold

	acctMu  sync.Mutex
	perAcct map[string]*sync.Mutex
}

// NewBlockPipeline builds a pipeline over the given collaborators.
func NewBlockPipeline(node *NodeClient, work *WorkClient, store Store, wallets *WalletManager) *BlockPipeline {
	return &BlockPipeline{
		Node:    node,
		Work:    work,
		Store:   store,
		Wallets: wallets,
		perAcct: make(map[string]*sync.Mutex),
	}
}

func (p *BlockPipeline) lockAccount(walletID, address string) *sync.Mutex {
	key := walletID + "_" + address
	p.acctMu.Lock()
	defer p.acctMu.Unlock()
	l, ok := p.perAcct[key]
	if !ok {
		l = &sync.Mutex{}
		p.perAcct[key] = l
	}
	return l
}

// stateBlock is the wire shape a state block takes in the process action's
// json_block form.
type stateBlock struct {
	Type           string `json:"type"`
	Account        string `json:"account"`
	Previous       string `json:"previous"`
	Representative string `json:"representative"`
	Balance        string `json:"balance"`
	Link           string `json:"link"`
	Signature      string `json:"signature"`
	Work           string `json:"work"`
}

func hashToHex(h [32]byte) string { return hex.EncodeToString(h[:]) }

func hexToHash(s string) ([32]byte, error) {
	var out [32]byte
	if s == "" {
		return out, nil
	}
	decoded, err := hex.DecodeString(s)
	if err != nil || len(decoded) != 32 {
		return out, errors.New("invalid 32-byte hex value")
	}
	copy(out[:], decoded)
	return out, nil
}

func balanceToBytes(decimal string) ([16]byte, error) {
	var out [16]byte
	v, ok := new(big.Int).SetString(decimal, 10)
	if !ok || v.Sign() < 0 {
		return out, errors.New("invalid balance")
	}
	if v.BitLen() > 128 {
		return out, errors.New("balance overflows 128 bits")
	}
	v.FillBytes(out[:])
	return out, nil
}

// assembleAndPublish derives the signing key for (walletID, address),
// builds the state block for the given fields, runs proof-of-work (unless
// the wallet disables it), signs, and publishes it, recording the result as
// a Block row. When the wallet disables PoW the block's work field is all
// zeros; otherwise the root passed to PoW is previous unless previous is the
// zero hash (an open block), in which case root is the account's own public
// key per the reference protocol.
func (p *BlockPipeline) assembleAndPublish(ctx context.Context, w *Wallet, address string, previous, representative [32]byte, balance [16]byte, link [32]byte, subtype BlockSubtype, sendID string) (*Block, error) {
	priv, err := p.Wallets.PrivateKeyFor(w.ID, address)
	if err != nil {
		return nil, err
	}
	pub, err := wallet.PublicOf(priv)
	if err != nil {
		return nil, err
	}
	var account [32]byte
	copy(account[:], pub)

	hash := wallet.BlockHash(account, previous, representative, balance, link)

	root := previous
	if root == zeroHash {
		root = account
	}

	var work [wallet.WorkSize]byte
	if w.Work {
		threshold := w.Network.WorkThresholdDefault()
		if p.Threshold != 0 {
			threshold = p.Threshold
		}
		work, err = p.Work.Generate(ctx, root, threshold)
		if err != nil {
			return nil, err
		}
	}

	sig, err := wallet.Sign(priv, hash[:])
	if err != nil {
		return nil, err
	}

	addr, err := wallet.EncodeAddress(w.Network, pub)
	if err != nil {
		return nil, err
	}
	repAddr, _, err := addressOrSelf(representative, w.Network, addr)
	if err != nil {
		return nil, err
	}

	linkField := hashToHex(link)
	if subtype == SubtypeSend {
		linkAddr, err := linkAsAddress(link, w.Network)
		if err != nil {
			return nil, err
		}
		linkField = linkAddr
	}

	block := stateBlock{
		Type:           "state",
		Account:        addr,
		Previous:       hashToHex(previous),
		Representative: repAddr,
		Balance:        new(big.Int).SetBytes(balance[:]).String(),
		Link:           linkField,
		Signature:      hex.EncodeToString(sig),
		Work:           hex.EncodeToString(work[:]),
	}

	serialized, err := json.Marshal(block)
	if err != nil {
		return nil, errors.Wrap(err, "marshal block")
	}
	blockMap := map[string]interface{}{}
	if err := json.Unmarshal(serialized, &blockMap); err != nil {
		return nil, errors.Wrap(err, "remarshal block")
	}

	publishedHash, err := p.Node.Process(ctx, blockMap, string(subtype))
	if err != nil {
		return nil, err
	}

	record := &Block{
		Hash:       publishedHash,
		Wallet:     w.ID,
		Account:    addr,
		Subtype:    subtype,
		Serialized: serialized,
		SendID:     sendID,
	}
	if err := p.Store.InsertBlock(record); err != nil {
		return nil, err
	}
	return record, nil
}

func addressOrSelf(representative [32]byte, network wallet.Network, self string) (string, bool, error) {
	if representative == zeroHash {
		return self, true, nil
	}
	addr, err := wallet.EncodeAddress(network, representative[:])
	if err != nil {
		return "", false, err
	}
	return addr, false, nil
}

func linkAsAddress(link [32]byte, network wallet.Network) (string, error) {
	return wallet.EncodeAddress(network, link[:])
}

// Send debits amount raw from the wallet's account to destination, returning
// the published send block. A repeated call with the same sendID (when
// non-empty) returns the original block instead of creating a second send.
func (p *BlockPipeline) Send(ctx context.Context, walletID, address, destination, amountRaw, sendID string) (*Block, error) {
	w, err := p.Wallets.GetWallet(walletID)
	if err != nil && errors.Cause(err) != ErrWalletLocked {
		return nil, err
	}
	if w == nil {
		return nil, ErrWalletNotFound
	}

	if sendID != "" {
		existing, err := p.Store.GetBlockBySendID(walletID, sendID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	destPub, destNetwork, err := wallet.DecodeAddress(destination)
	if err != nil {
		return nil, ErrInvalidDestination
	}
	_ = destNetwork
	var link [32]byte
	copy(link[:], destPub)

	lock := p.lockAccount(walletID, address)
	lock.Lock()
	defer lock.Unlock()

	info, err := p.Node.AccountInfo(ctx, address)
	if err != nil {
		return nil, err
	}

	balance, ok := new(big.Int).SetString(info.Balance, 10)
	if !ok {
		return nil, errors.New("invalid account balance from node")
	}
	amount, ok := new(big.Int).SetString(amountRaw, 10)
	if !ok || amount.Sign() < 0 {
		return nil, errors.New("invalid send amount")
	}
	if balance.Cmp(amount) < 0 {
		return nil, ErrInsufficientBalance
	}
	newBalance := new(big.Int).Sub(balance, amount)

	previous, err := hexToHash(info.Frontier)
	if err != nil {
		return nil, err
	}
	var representative [32]byte
	if info.Representative != "" {
		repPub, _, err := wallet.DecodeAddress(info.Representative)
		if err != nil {
			return nil, err
		}
		copy(representative[:], repPub)
	}

	balanceBytes, err := balanceToBytes(newBalance.String())
	if err != nil {
		return nil, err
	}

	return p.assembleAndPublish(ctx, w, address, previous, representative, balanceBytes, link, SubtypeSend, sendID)
}

// Receive pockets a pending send block identified by its hash into the
// wallet's account, opening the account (previous == zero hash) if this is
// its first block.
func (p *BlockPipeline) Receive(ctx context.Context, walletID, address, sourceHash string) (*Block, error) {
	w, err := p.Wallets.GetWallet(walletID)
	if err != nil && errors.Cause(err) != ErrWalletLocked {
		return nil, err
	}
	if w == nil {
		return nil, ErrWalletNotFound
	}

	source, err := p.Node.BlockInfo(ctx, sourceHash)
	if err != nil {
		return nil, err
	}
	if source.Subtype != "send" {
		return nil, ErrInvalidSource
	}
	amount, ok := new(big.Int).SetString(source.Amount, 10)
	if !ok {
		return nil, errors.New("invalid pending amount")
	}

	lock := p.lockAccount(walletID, address)
	lock.Lock()
	defer lock.Unlock()

	var previous [32]byte
	var representative [32]byte
	balance := new(big.Int)

	info, err := p.Node.AccountInfo(ctx, address)
	if err != nil && errors.Cause(err) != ErrAccountNotFound {
		return nil, err
	}
	if info != nil {
		previous, err = hexToHash(info.Frontier)
		if err != nil {
			return nil, err
		}
		if info.Representative != "" {
			repPub, _, err := wallet.DecodeAddress(info.Representative)
			if err != nil {
				return nil, err
			}
			copy(representative[:], repPub)
		}
		existing, ok := new(big.Int).SetString(info.Balance, 10)
		if !ok {
			return nil, errors.New("invalid account balance from node")
		}
		balance = existing
	} else {
		rep := w.Representative
		if account, err := p.Store.GetAccount(walletID, address); err == nil && account != nil && account.Representative != "" {
			rep = account.Representative
		}
		if rep != "" {
			repPub, _, err := wallet.DecodeAddress(rep)
			if err != nil {
				return nil, err
			}
			copy(representative[:], repPub)
		} else {
			pub, err := wallet.PublicOf(mustPrivateKey(p.Wallets, w.ID, address))
			if err != nil {
				return nil, err
			}
			copy(representative[:], pub)
		}
	}

	newBalance := new(big.Int).Add(balance, amount)
	balanceBytes, err := balanceToBytes(newBalance.String())
	if err != nil {
		return nil, err
	}

	var link [32]byte
	decoded, err := hex.DecodeString(sourceHash)
	if err != nil || len(decoded) != 32 {
		return nil, errors.New("invalid source hash")
	}
	copy(link[:], decoded)

	subtype := SubtypeReceive
	if previous == zeroHash {
		subtype = SubtypeOpen
	}

	return p.assembleAndPublish(ctx, w, address, previous, representative, balanceBytes, link, subtype, "")
}

func mustPrivateKey(wallets *WalletManager, walletID, address string) []byte {
	priv, err := wallets.PrivateKeyFor(walletID, address)
	if err != nil {
		return make([]byte, wallet.KeySize)
	}
	return priv
}

// RepresentativeSet publishes a change block switching address's
// representative to newRepresentative.
func (p *BlockPipeline) RepresentativeSet(ctx context.Context, walletID, address, newRepresentative string) (*Block, error) {
	w, err := p.Wallets.GetWallet(walletID)
	if err != nil && errors.Cause(err) != ErrWalletLocked {
		return nil, err
	}
	if w == nil {
		return nil, ErrWalletNotFound
	}

	repPub, _, err := wallet.DecodeAddress(newRepresentative)
	if err != nil {
		return nil, ErrInvalidAddress
	}
	var representative [32]byte
	copy(representative[:], repPub)

	lock := p.lockAccount(walletID, address)
	lock.Lock()
	defer lock.Unlock()

	info, err := p.Node.AccountInfo(ctx, address)
	if err != nil {
		return nil, err
	}
	previous, err := hexToHash(info.Frontier)
	if err != nil {
		return nil, err
	}
	balance, ok := new(big.Int).SetString(info.Balance, 10)
	if !ok {
		return nil, errors.New("invalid account balance from node")
	}
	balanceBytes, err := balanceToBytes(balance.String())
	if err != nil {
		return nil, err
	}

	return p.assembleAndPublish(ctx, w, address, previous, representative, balanceBytes, zeroHash, SubtypeChange, "")
}
