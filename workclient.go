package pippin

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/opd-ai/pippin/wallet"
	limiter "github.com/sethvargo/go-limiter"
	"github.com/sethvargo/go-limiter/memorystore"
)

const (
	workFailureTTL     = 300 * time.Second
	workRoundTimeout   = 30 * time.Second
	workRequestTimeout = 300 * time.Second
)

// WorkClient fans a work_generate request out across peer URLs and a local
// CPU fallback, racing them for the first result. Grounded in
// original_source/network/work_client.py's work_generate: per-peer
// requests plus a conditional local task, raced with a 30-second window,
// best-effort work_cancel broadcast to every peer, and a TTL failure
// flag when every task comes up empty. The Go race itself follows the
// "race several backends under one mutex-guarded shared state" shape of
// CryptoChainMonitor (verification.go) rather than Python's
// asyncio.wait(FIRST_COMPLETED): a single buffered result channel where the
// first successful send wins.
type WorkClient struct {
	Peers            []string
	NodeURL          string
	NodeWorkGenerate bool
	Store            Store
	HTTP             *http.Client
	limiter          limiter.Store
}

// NewWorkClient builds a work client, giving each peer its own token bucket
// (tokensPerInterval per interval) so one misbehaving peer can't be fanned
// out to on every round.
func NewWorkClient(peers []string, nodeURL string, nodeWorkGenerate bool, store Store, requestTimeout time.Duration, tokensPerInterval uint64, interval time.Duration) (*WorkClient, error) {
	if requestTimeout <= 0 {
		requestTimeout = workRequestTimeout
	}
	if tokensPerInterval == 0 {
		tokensPerInterval = 20
	}
	if interval <= 0 {
		interval = time.Minute
	}
	limiterStore, err := memorystore.New(&memorystore.Config{
		Tokens:   tokensPerInterval,
		Interval: interval,
	})
	if err != nil {
		return nil, err
	}
	return &WorkClient{
		Peers:            peers,
		NodeURL:          nodeURL,
		NodeWorkGenerate: nodeWorkGenerate,
		Store:            store,
		HTTP:             &http.Client{Timeout: requestTimeout},
		limiter:          limiterStore,
	}, nil
}

func (w *WorkClient) peerURLs() []string {
	peers := w.Peers
	if w.NodeWorkGenerate && w.NodeURL != "" {
		peers = append(append([]string{}, peers...), w.NodeURL)
	}
	return peers
}

// throttled reports whether peer has exhausted its token bucket for this
// round; such a peer is skipped rather than fanned out to.
func (w *WorkClient) throttled(ctx context.Context, peer string) bool {
	_, _, _, ok, err := w.limiter.Take(ctx, peer)
	if err != nil {
		log.Printf("pippin: work client rate limiter error for %s: %v", peer, err)
		return false
	}
	return !ok
}

type workResult struct {
	work [wallet.WorkSize]byte
	ok   bool
}

// parseWorkHex decodes a work_generate response's "work" field, which
// carries the same little-endian-nonce byte order wallet.WorkVerify expects
// directly, with no reversal.
func parseWorkHex(hexWork string) ([wallet.WorkSize]byte, bool) {
	var out [wallet.WorkSize]byte
	decoded, err := hex.DecodeString(hexWork)
	if err != nil || len(decoded) != wallet.WorkSize {
		return out, false
	}
	copy(out[:], decoded)
	return out, true
}

// Generate races peer work_generate requests and a local fallback for root
// at the given difficulty threshold: fan out to every peer, take the first
// valid result, fall back to local generation if no peer answers in time.
func (w *WorkClient) Generate(ctx context.Context, root [32]byte, threshold wallet.WorkThreshold) ([wallet.WorkSize]byte, error) {
	var zero [wallet.WorkSize]byte
	peers := w.peerURLs()

	failure, err := w.Store.GetWorkFailure()
	if err != nil {
		log.Printf("pippin: read work failure flag: %v", err)
	}
	needsLocal := len(peers) == 0 || (failure != nil && failure.Set)

	roundCtx, cancel := context.WithTimeout(ctx, workRoundTimeout)
	defer cancel()

	results := make(chan workResult, len(peers)+1)
	pending := 0

	for _, peer := range peers {
		if w.throttled(roundCtx, peer) {
			continue
		}
		pending++
		go func(peer string) {
			work, ok := w.requestPeerWork(roundCtx, peer, root, threshold)
			results <- workResult{work: work, ok: ok}
		}(peer)
	}
	if needsLocal {
		pending++
		go func() {
			done := make(chan struct{})
			go func() {
				<-roundCtx.Done()
				close(done)
			}()
			work, ok := wallet.WorkGenerateLocal(done, root, threshold, 1<<16)
			results <- workResult{work: work, ok: ok}
		}()
	}

waitLoop:
	for i := 0; i < pending; i++ {
		select {
		case r := <-results:
			if r.ok {
				w.broadcastCancel(peers, root)
				return r.work, nil
			}
		case <-roundCtx.Done():
			break waitLoop
		}
	}

	if err := w.Store.SetWorkFailure(workFailureTTL); err != nil {
		log.Printf("pippin: set work failure flag: %v", err)
	}

	work, ok := wallet.WorkGenerateLocal(nil, root, threshold, 1<<16)
	if !ok {
		return zero, ErrWorkFailed
	}
	return work, nil
}

func (w *WorkClient) requestPeerWork(ctx context.Context, peer string, root [32]byte, threshold wallet.WorkThreshold) ([wallet.WorkSize]byte, bool) {
	var zero [wallet.WorkSize]byte
	body, _ := json.Marshal(map[string]interface{}{
		"action":     "work_generate",
		"hash":       hex.EncodeToString(root[:]),
		"difficulty": fmt.Sprintf("%016x", uint64(threshold)),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peer, bytes.NewReader(body))
	if err != nil {
		return zero, false
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.HTTP.Do(req)
	if err != nil {
		log.Printf("pippin: work_generate request to %s failed: %v", peer, err)
		return zero, false
	}
	defer resp.Body.Close()

	var decoded struct {
		Work  string `json:"work"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		log.Printf("pippin: decode work_generate response from %s: %v", peer, err)
		return zero, false
	}
	if decoded.Error != "" || decoded.Work == "" {
		return zero, false
	}
	work, ok := parseWorkHex(decoded.Work)
	if !ok {
		return zero, false
	}
	if !wallet.WorkVerify(root, work, threshold) {
		return zero, false
	}
	return work, true
}

// broadcastCancel fires a best-effort work_cancel to every peer once a
// winner is found; correctness never depends on these completing or
// succeeding.
func (w *WorkClient) broadcastCancel(peers []string, root [32]byte) {
	body, _ := json.Marshal(map[string]interface{}{
		"action": "work_cancel",
		"hash":   hex.EncodeToString(root[:]),
	})
	for _, peer := range peers {
		go func(peer string) {
			req, err := http.NewRequest(http.MethodPost, peer, bytes.NewReader(body))
			if err != nil {
				return
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := w.HTTP.Do(req)
			if err != nil {
				return
			}
			resp.Body.Close()
		}(peer)
	}
}
