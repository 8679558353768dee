package pippin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// NodeClient is a single long-lived HTTP client over the upstream node's
// flat `{"action": ...}` JSON dialect: marshal request, POST, decode
// envelope, map error string to a Go error, with the JSON-RPC 2.0 envelope
// swapped for Nano's flat action/error shape.
type NodeClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewNodeClient builds a client over baseURL using a pooled transport
// shared across requests, with requestTimeout applied per call.
func NewNodeClient(baseURL string, requestTimeout time.Duration) *NodeClient {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &NodeClient{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: requestTimeout},
	}
}

func (c *NodeClient) call(ctx context.Context, body map[string]interface{}) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal node request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "create node request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "node request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read node response")
	}
	return raw, nil
}

// AccountInfoResult is the subset of account_info fields the block pipeline
// needs.
type AccountInfoResult struct {
	Frontier       string
	Balance        string
	Representative string
}

// AccountInfo fetches the frontier, balance and representative for address.
// Returns ErrAccountNotFound when the node reports "Account not found".
func (c *NodeClient) AccountInfo(ctx context.Context, address string) (*AccountInfoResult, error) {
	raw, err := c.call(ctx, map[string]interface{}{
		"action":  "account_info",
		"account": address,
	})
	if err != nil {
		return nil, err
	}
	var decoded struct {
		Error          string `json:"error"`
		Frontier       string `json:"frontier"`
		Balance        string `json:"balance"`
		Representative string `json:"representative"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, errors.Wrap(err, "decode account_info response")
	}
	if decoded.Error == "Account not found" {
		return nil, ErrAccountNotFound
	}
	if decoded.Error != "" {
		return nil, errors.Errorf("account_info: %s", decoded.Error)
	}
	return &AccountInfoResult{
		Frontier:       decoded.Frontier,
		Balance:        decoded.Balance,
		Representative: decoded.Representative,
	}, nil
}

// BlockInfoResult is the subset of block_info fields the receive pipeline
// needs to compute the receivable amount.
type BlockInfoResult struct {
	Amount  string
	Balance string
	Subtype string
}

// BlockInfo fetches the contents of hash. Returns ErrBlockNotFound when the
// node reports "Block not found".
func (c *NodeClient) BlockInfo(ctx context.Context, hash string) (*BlockInfoResult, error) {
	raw, err := c.call(ctx, map[string]interface{}{
		"action":     "block_info",
		"json_block": "true",
		"hash":       hash,
	})
	if err != nil {
		return nil, err
	}
	var decoded struct {
		Error   string `json:"error"`
		Amount  string `json:"amount"`
		Balance string `json:"balance"`
		Subtype string `json:"subtype"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, errors.Wrap(err, "decode block_info response")
	}
	if decoded.Error == "Block not found" {
		return nil, ErrBlockNotFound
	}
	if decoded.Error != "" {
		return nil, errors.Errorf("block_info: %s", decoded.Error)
	}
	return &BlockInfoResult{Amount: decoded.Amount, Balance: decoded.Balance, Subtype: decoded.Subtype}, nil
}

// Process publishes a signed, fully-assembled state block and returns its
// hash. Returns ErrProcessFailed on any non-success response.
func (c *NodeClient) Process(ctx context.Context, block map[string]interface{}, subtype string) (string, error) {
	raw, err := c.call(ctx, map[string]interface{}{
		"action":     "process",
		"json_block": "true",
		"subtype":    subtype,
		"block":      block,
	})
	if err != nil {
		return "", err
	}
	var decoded struct {
		Error string `json:"error"`
		Hash  string `json:"hash"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", errors.Wrap(err, "decode process response")
	}
	if decoded.Error != "" || decoded.Hash == "" {
		return "", errors.Wrapf(ErrProcessFailed, "node response: %s", decoded.Error)
	}
	return decoded.Hash, nil
}

// Pending lists receivable blocks for address at or above threshold raw,
// capped at count. Not part of the mandatory core surface; used only by
// optional receive-minimum flows.
func (c *NodeClient) Pending(ctx context.Context, address string, threshold string, count int) ([]string, error) {
	raw, err := c.call(ctx, map[string]interface{}{
		"action":    "pending",
		"account":   address,
		"threshold": threshold,
		"count":     fmt.Sprintf("%d", count),
	})
	if err != nil {
		return nil, err
	}
	var decoded struct {
		Error  string   `json:"error"`
		Blocks []string `json:"blocks"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, errors.Wrap(err, "decode pending response")
	}
	if decoded.Error != "" {
		return nil, errors.Errorf("pending: %s", decoded.Error)
	}
	return decoded.Blocks, nil
}

// MakeRequest forwards an arbitrary already-encoded JSON request body to the
// node and returns its raw response verbatim, for the proxy path: any
// action Pippin doesn't implement is forwarded unchanged.
func (c *NodeClient) MakeRequest(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create proxy request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "proxy request failed")
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
