package pippin

import (
	"context"
	"net/http"
	"time"

	"github.com/opd-ai/pippin/wallet"
)

// Pippin is the top-level server: the HTTP gateway plus every collaborator
// it dispatches to. Mirrors paywall.go's Paywall struct — a root type
// holding injected service handles rather than module-global state — per
// spec.md §9's explicit-singletons note.
type Pippin struct {
	Config  Config
	Store   Store
	Node    *NodeClient
	Work    *WorkClient
	Wallets *WalletManager
	Blocks  *BlockPipeline
	Gateway *Gateway

	ctx    context.Context
	cancel context.CancelFunc
}

// New wires every collaborator from config and an already-constructed
// store, returning a server ready to be handed to an http.Server as its
// Handler.
func New(config Config, store Store) (*Pippin, error) {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.Network == "" {
		config.Network = wallet.Nano
	}

	node := NewNodeClient(config.NodeURL, config.RequestTimeout)

	work, err := NewWorkClient(config.PeerURLs, config.NodeURL, config.NodeWorkGenerate, store, config.RequestTimeout, 20, time.Minute)
	if err != nil {
		return nil, err
	}

	proxy, err := NewNodeProxy(config.NodeURL)
	if err != nil {
		return nil, err
	}

	wallets := NewWalletManager(store, config.Network)
	blocks := NewBlockPipeline(node, work, store, wallets)
	gateway := NewGateway(wallets, blocks, proxy)

	pctx, cancel := context.WithCancel(context.Background())
	return &Pippin{
		Config:  config,
		Store:   store,
		Node:    node,
		Work:    work,
		Wallets: wallets,
		Blocks:  blocks,
		Gateway: gateway,
		ctx:     pctx,
		cancel:  cancel,
	}, nil
}

// ServeHTTP delegates to the gateway, letting Pippin itself be used
// directly as an http.Handler.
func (p *Pippin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.Gateway.ServeHTTP(w, r)
}

// Close cancels the server's background context and releases the store,
// mirroring Paywall.Close()'s cancel()+monitor.Close() pairing.
func (p *Pippin) Close() error {
	p.cancel()
	return p.Store.Close()
}
