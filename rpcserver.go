package pippin

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/opd-ai/pippin/wallet"
	"github.com/pkg/errors"
)

// notImplementedActions is the explicit list of reference-node wallet verbs
// Pippin deliberately never proxies: calling one returns
// {"error":"not_implemented"} instead of reaching the upstream node.
var notImplementedActions = map[string]bool{
	"account_move": true, "account_remove": true, "receive_minimum": true,
	"receive_minimum_set": true, "search_pending": true, "search_pending_all": true,
	"wallet_add_watch": true, "wallet_balances": true, "wallet_change_seed": true,
	"wallet_contains": true, "wallet_destroy": true, "wallet_export": true,
	"wallet_frontiers": true, "wallet_history": true, "wallet_info": true,
	"wallet_ledger": true, "wallet_pending": true, "wallet_representative": true,
	"wallet_republish": true, "wallet_work_get": true, "work_get": true, "work_set": true,
}

// Gateway implements the §6 wire protocol: POST / with a JSON body carrying
// a string action, dispatched through a flat action-to-handler map rather
// than a router package, matching handlers.go's one-function-per-action
// style.
type Gateway struct {
	Wallets *WalletManager
	Blocks  *BlockPipeline
	Proxy   *NodeProxy
}

// NewGateway builds a dispatcher over the given collaborators.
func NewGateway(wallets *WalletManager, blocks *BlockPipeline, proxy *NodeProxy) *Gateway {
	return &Gateway{Wallets: wallets, Blocks: blocks, Proxy: proxy}
}

func writeJSONResponse(w http.ResponseWriter, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("pippin: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSONResponse(w, map[string]interface{}{"error": ErrorMessage(err)})
}

// ServeHTTP implements the gateway's single route.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONResponse(w, map[string]interface{}{"error": defaultErrorMessage})
		return
	}
	r.Body.Close()

	var req map[string]interface{}
	if err := json.Unmarshal(raw, &req); err != nil {
		writeJSONResponse(w, map[string]interface{}{"error": defaultErrorMessage})
		return
	}
	actionField, _ := req["action"].(string)
	action := strings.ToLower(strings.TrimSpace(actionField))

	if notImplementedActions[action] {
		writeJSONResponse(w, map[string]interface{}{"error": "not_implemented"})
		return
	}

	if handler, ok := g.handlers()[action]; ok {
		handler(w, r.Context(), req)
		return
	}

	// Unknown action: proxy verbatim to the upstream node.
	r.Body = io.NopCloser(bytes.NewReader(raw))
	r.ContentLength = int64(len(raw))
	g.Proxy.ServeHTTP(w, r)
}

func stringField(req map[string]interface{}, key string) string {
	v, _ := req[key].(string)
	return v
}

func intField(req map[string]interface{}, key string) int {
	switch v := req[key].(type) {
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// boolField reads a reference-node-style boolean field, which clients may
// send as a JSON bool or as the strings "true"/"1". Anything else,
// including an absent field, is false.
func boolField(req map[string]interface{}, key string) bool {
	switch v := req[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	default:
		return false
	}
}

type actionHandler func(w http.ResponseWriter, ctx context.Context, req map[string]interface{})

func (g *Gateway) handlers() map[string]actionHandler {
	return map[string]actionHandler{
		"wallet_create":              g.walletCreate,
		"account_create":             g.accountCreate,
		"accounts_create":            g.accountsCreate,
		"account_list":               g.accountList,
		"receive":                    g.receive,
		"send":                       g.send,
		"account_representative_set": g.accountRepresentativeSet,
		"password_change":            g.passwordChange,
		"password_enter":             g.passwordEnter,
		"password_valid":             g.passwordValid,
		"wallet_representative_set":  g.walletRepresentativeSet,
		"wallet_add":                 g.walletAdd,
		"wallet_lock":                g.walletLock,
		"wallet_locked":              g.walletLocked,
	}
}

func (g *Gateway) walletCreate(w http.ResponseWriter, ctx context.Context, req map[string]interface{}) {
	wal, err := g.Wallets.Create(stringField(req, "seed"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, map[string]interface{}{"wallet": wal.ID})
}

func (g *Gateway) accountCreate(w http.ResponseWriter, ctx context.Context, req map[string]interface{}) {
	account, err := g.Wallets.AccountCreate(stringField(req, "wallet"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, map[string]interface{}{"account": account.Address})
}

func (g *Gateway) accountsCreate(w http.ResponseWriter, ctx context.Context, req map[string]interface{}) {
	n := intField(req, "count")
	if n <= 0 {
		n = 1
	}
	accounts, err := g.Wallets.AccountsCreate(stringField(req, "wallet"), n)
	if err != nil {
		writeError(w, err)
		return
	}
	addrs := make([]string, len(accounts))
	for i, a := range accounts {
		addrs[i] = a.Address
	}
	writeJSONResponse(w, map[string]interface{}{"accounts": addrs})
}

// accountList follows the documented field name "count"; the reference
// source also shows a field named "acount", treated as a typo (see
// DESIGN.md) and intentionally not accepted here.
func (g *Gateway) accountList(w http.ResponseWriter, ctx context.Context, req map[string]interface{}) {
	count := intField(req, "count")
	accounts, err := g.Wallets.AccountList(stringField(req, "wallet"), count)
	if err != nil {
		writeError(w, err)
		return
	}
	addrs := make([]string, len(accounts))
	for i, a := range accounts {
		addrs[i] = a.Address
	}
	writeJSONResponse(w, map[string]interface{}{"accounts": addrs})
}

func (g *Gateway) receive(w http.ResponseWriter, ctx context.Context, req map[string]interface{}) {
	block, err := g.Blocks.Receive(ctx, stringField(req, "wallet"), stringField(req, "account"), stringField(req, "block"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, map[string]interface{}{"block": block.Hash})
}

func (g *Gateway) send(w http.ResponseWriter, ctx context.Context, req map[string]interface{}) {
	block, err := g.Blocks.Send(ctx, stringField(req, "wallet"), stringField(req, "source"), stringField(req, "destination"), stringField(req, "amount"), stringField(req, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, map[string]interface{}{"block": block.Hash})
}

func (g *Gateway) accountRepresentativeSet(w http.ResponseWriter, ctx context.Context, req map[string]interface{}) {
	block, err := g.Blocks.RepresentativeSet(ctx, stringField(req, "wallet"), stringField(req, "account"), stringField(req, "representative"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, map[string]interface{}{"block": block.Hash})
}

func (g *Gateway) passwordChange(w http.ResponseWriter, ctx context.Context, req map[string]interface{}) {
	if err := g.Wallets.EncryptWallet(stringField(req, "wallet"), stringField(req, "password")); err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, map[string]interface{}{"changed": "1"})
}

func (g *Gateway) passwordEnter(w http.ResponseWriter, ctx context.Context, req map[string]interface{}) {
	err := g.Wallets.Unlock(stringField(req, "wallet"), stringField(req, "password"))
	if err != nil {
		if errors.Cause(err) == ErrDecryptionError {
			writeJSONResponse(w, map[string]interface{}{"valid": "0"})
			return
		}
		writeError(w, err)
		return
	}
	writeJSONResponse(w, map[string]interface{}{"valid": "1"})
}

func (g *Gateway) passwordValid(w http.ResponseWriter, ctx context.Context, req map[string]interface{}) {
	valid, err := g.Wallets.PasswordValid(stringField(req, "wallet"), stringField(req, "password"))
	if err != nil {
		writeError(w, err)
		return
	}
	result := "0"
	if valid {
		result = "1"
	}
	writeJSONResponse(w, map[string]interface{}{"valid": result})
}

// walletRepresentativeSet sets the wallet-level default representative.
// Unless the caller passes update_existing_accounts (default false), this
// only affects future opens/receives that fall back to the wallet default
// — existing accounts' on-chain representative is left untouched. When
// update_existing_accounts is true, every account's representative
// override is also set to rep and a change block is published for each
// account whose stored override was different from rep; the account's
// on-chain representative is not consulted.
func (g *Gateway) walletRepresentativeSet(w http.ResponseWriter, ctx context.Context, req map[string]interface{}) {
	walletID := stringField(req, "wallet")
	rep := stringField(req, "representative")
	if err := g.Wallets.SetWalletRepresentative(walletID, rep); err != nil {
		writeError(w, err)
		return
	}
	if boolField(req, "update_existing_accounts") {
		changed, err := g.Wallets.BulkRepresentativeUpdate(walletID, rep)
		if err != nil {
			writeError(w, err)
			return
		}
		for _, account := range changed {
			go func(address string) {
				if _, err := g.Blocks.RepresentativeSet(context.Background(), walletID, address, rep); err != nil {
					log.Printf("pippin: publish representative change for %s: %v", address, err)
				}
			}(account.Address)
		}
	}
	writeJSONResponse(w, map[string]interface{}{"set": "1"})
}

func (g *Gateway) walletAdd(w http.ResponseWriter, ctx context.Context, req map[string]interface{}) {
	keyHex := stringField(req, "key")
	priv, err := hex.DecodeString(keyHex)
	if err != nil || len(priv) != wallet.KeySize {
		writeError(w, ErrInvalidKey)
		return
	}
	account, err := g.Wallets.AdhocAccountCreate(stringField(req, "wallet"), priv)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, map[string]interface{}{"account": account.Address})
}

func (g *Gateway) walletLock(w http.ResponseWriter, ctx context.Context, req map[string]interface{}) {
	if err := g.Wallets.Lock(stringField(req, "wallet")); err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, map[string]interface{}{"locked": "1"})
}

func (g *Gateway) walletLocked(w http.ResponseWriter, ctx context.Context, req map[string]interface{}) {
	locked, err := g.Wallets.Locked(stringField(req, "wallet"))
	if err != nil {
		writeError(w, err)
		return
	}
	result := "0"
	if locked {
		result = "1"
	}
	writeJSONResponse(w, map[string]interface{}{"locked": result})
}
