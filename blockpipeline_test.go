package pippin

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opd-ai/pippin/wallet"
)

// fakeNode serves account_info/block_info/process against an in-memory
// ledger, enough to drive BlockPipeline.Send/Receive/RepresentativeSet
// end to end without a real Nano node.
type fakeNode struct {
	frontier       string
	balance        string
	representative string
	pending        map[string]fakePending

	lastProcessed map[string]interface{}
}

type fakePending struct {
	amount  string
	subtype string
}

func newFakeNodeServer(t *testing.T, state *fakeNode) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		json.NewDecoder(r.Body).Decode(&req)
		switch req["action"] {
		case "account_info":
			if state.frontier == "" {
				json.NewEncoder(w).Encode(map[string]string{"error": "Account not found"})
				return
			}
			json.NewEncoder(w).Encode(map[string]string{
				"frontier":       state.frontier,
				"balance":        state.balance,
				"representative": state.representative,
			})
		case "block_info":
			hash, _ := req["hash"].(string)
			p, ok := state.pending[hash]
			if !ok {
				json.NewEncoder(w).Encode(map[string]string{"error": "Block not found"})
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"amount": p.amount, "subtype": p.subtype})
		case "process":
			block := req["block"].(map[string]interface{})
			state.lastProcessed = block
			state.frontier = "NEWFRONTIERHASH"
			state.balance = block["balance"].(string)
			json.NewEncoder(w).Encode(map[string]string{"hash": "PUBLISHEDHASH"})
		default:
			json.NewEncoder(w).Encode(map[string]string{"error": "unsupported"})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setupPipeline(t *testing.T, state *fakeNode) (*BlockPipeline, *WalletManager, *Wallet, *Account) {
	t.Helper()
	srv := newFakeNodeServer(t, state)
	store := NewMemoryStore()
	wallets := NewWalletManager(store, wallet.Nano)

	w, err := wallets.Create("")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	w.Work = false // skip real proof-of-work in tests
	if err := store.UpdateWallet(w); err != nil {
		t.Fatalf("UpdateWallet: %v", err)
	}
	accounts, err := wallets.AccountList(w.ID, 1)
	if err != nil || len(accounts) != 1 {
		t.Fatalf("AccountList: %+v, %v", accounts, err)
	}

	node := NewNodeClient(srv.URL, time.Second)
	work, err := NewWorkClient(nil, "", false, store, time.Second, 20, time.Minute)
	if err != nil {
		t.Fatalf("NewWorkClient: %v", err)
	}
	pipeline := NewBlockPipeline(node, work, store, wallets)
	return pipeline, wallets, w, accounts[0]
}

var (
	testSourceHash = strings.Repeat("0", 63) + "1"
	testFrontier   = strings.Repeat("1", 64)
)

func TestBlockPipelineReceiveOpensAccount(t *testing.T) {
	state := &fakeNode{pending: map[string]fakePending{
		testSourceHash: {amount: "1000", subtype: "send"},
	}}
	pipeline, _, w, account := setupPipeline(t, state)

	block, err := pipeline.Receive(context.Background(), w.ID, account.Address, testSourceHash)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if block.Subtype != SubtypeOpen {
		t.Errorf("Subtype = %v, want open", block.Subtype)
	}
	if block.Hash != "PUBLISHEDHASH" {
		t.Errorf("Hash = %q", block.Hash)
	}
}

func TestBlockPipelineReceiveOpenPrefersAccountRepresentativeOverride(t *testing.T) {
	state := &fakeNode{pending: map[string]fakePending{
		testSourceHash: {amount: "1000", subtype: "send"},
	}}
	pipeline, wallets, w, account := setupPipeline(t, state)

	overrideRep, err := wallets.Create("")
	if err != nil {
		t.Fatalf("Create representative wallet: %v", err)
	}
	repAccounts, err := wallets.AccountList(overrideRep.ID, 1)
	if err != nil || len(repAccounts) != 1 {
		t.Fatalf("AccountList: %v", err)
	}
	overrideAddress := repAccounts[0].Address

	if _, err := wallets.BulkRepresentativeUpdate(w.ID, overrideAddress); err != nil {
		t.Fatalf("BulkRepresentativeUpdate: %v", err)
	}

	if _, err := pipeline.Receive(context.Background(), w.ID, account.Address, testSourceHash); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if state.lastProcessed["representative"] != overrideAddress {
		t.Errorf("representative = %v, want account override %q", state.lastProcessed["representative"], overrideAddress)
	}
}

func TestBlockPipelineSendInsufficientBalance(t *testing.T) {
	state := &fakeNode{frontier: testFrontier, balance: "100", representative: ""}
	pipeline, wallets, w, account := setupPipeline(t, state)

	other, err := wallets.Create("")
	if err != nil {
		t.Fatalf("Create destination wallet: %v", err)
	}
	destAccounts, err := wallets.AccountList(other.ID, 1)
	if err != nil || len(destAccounts) != 1 {
		t.Fatalf("AccountList: %v", err)
	}

	_, err = pipeline.Send(context.Background(), w.ID, account.Address, destAccounts[0].Address, "1000", "")
	if err != ErrInsufficientBalance {
		t.Errorf("err = %v, want ErrInsufficientBalance", err)
	}
}

// TestBlockPipelineSendEmbedsVerifiableWork generates real (not skipped)
// proof-of-work, at a threshold low enough to finish instantly, and checks
// that the hex string embedded in the published block's own "work" field
// decodes straight back into a value wallet.WorkVerify accepts against the
// same root it was generated for — i.e. the wire value is not reversed a
// second time on its way into the block.
func TestBlockPipelineSendEmbedsVerifiableWork(t *testing.T) {
	state := &fakeNode{frontier: testFrontier, balance: "1000", representative: ""}
	pipeline, wallets, w, account := setupPipeline(t, state)
	pipeline.Threshold = 1 // any nonce satisfies this; keeps the test fast
	w.Work = true
	if err := pipeline.Store.UpdateWallet(w); err != nil {
		t.Fatalf("UpdateWallet: %v", err)
	}

	other, err := wallets.Create("")
	if err != nil {
		t.Fatalf("Create destination wallet: %v", err)
	}
	destAccounts, err := wallets.AccountList(other.ID, 1)
	if err != nil || len(destAccounts) != 1 {
		t.Fatalf("AccountList: %v", err)
	}

	if _, err := pipeline.Send(context.Background(), w.ID, account.Address, destAccounts[0].Address, "100", ""); err != nil {
		t.Fatalf("Send: %v", err)
	}

	workHex, _ := state.lastProcessed["work"].(string)
	if workHex == "" {
		t.Fatal("published block carries no work field")
	}
	workBytes, err := hex.DecodeString(workHex)
	if err != nil || len(workBytes) != wallet.WorkSize {
		t.Fatalf("work field %q is not a valid %d-byte hex value: %v", workHex, wallet.WorkSize, err)
	}
	var work [wallet.WorkSize]byte
	copy(work[:], workBytes)

	root, err := hexToHash(testFrontier)
	if err != nil {
		t.Fatalf("hexToHash(testFrontier): %v", err)
	}
	if !wallet.WorkVerify(root, work, pipeline.Threshold) {
		t.Errorf("published work %q does not verify against root %s at threshold %d", workHex, testFrontier, pipeline.Threshold)
	}
}

func TestBlockPipelineSendIdempotentBySendID(t *testing.T) {
	state := &fakeNode{frontier: testFrontier, balance: "1000", representative: ""}
	pipeline, wallets, w, account := setupPipeline(t, state)

	other, err := wallets.Create("")
	if err != nil {
		t.Fatalf("Create destination wallet: %v", err)
	}
	destAccounts, err := wallets.AccountList(other.ID, 1)
	if err != nil || len(destAccounts) != 1 {
		t.Fatalf("AccountList: %v", err)
	}

	first, err := pipeline.Send(context.Background(), w.ID, account.Address, destAccounts[0].Address, "100", "idempotent-1")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	second, err := pipeline.Send(context.Background(), w.ID, account.Address, destAccounts[0].Address, "999", "idempotent-1")
	if err != nil {
		t.Fatalf("Send (repeat): %v", err)
	}
	if first.Hash != second.Hash {
		t.Error("repeated send with the same send_id produced a second block")
	}
}
