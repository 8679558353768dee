package pippin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer(t *testing.T, handler func(action string) interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		action, _ := req["action"].(string)
		json.NewEncoder(w).Encode(handler(action))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNodeClientAccountInfo(t *testing.T) {
	srv := newTestServer(t, func(action string) interface{} {
		return map[string]string{
			"frontier":       "ABCD",
			"balance":        "100",
			"representative": "nano_rep",
		}
	})
	c := NewNodeClient(srv.URL, time.Second)

	info, err := c.AccountInfo(context.Background(), "nano_account")
	if err != nil {
		t.Fatalf("AccountInfo: %v", err)
	}
	if info.Frontier != "ABCD" || info.Balance != "100" {
		t.Errorf("info = %+v", info)
	}
}

func TestNodeClientAccountInfoNotFound(t *testing.T) {
	srv := newTestServer(t, func(action string) interface{} {
		return map[string]string{"error": "Account not found"}
	})
	c := NewNodeClient(srv.URL, time.Second)

	if _, err := c.AccountInfo(context.Background(), "nano_account"); err != ErrAccountNotFound {
		t.Errorf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestNodeClientProcess(t *testing.T) {
	srv := newTestServer(t, func(action string) interface{} {
		if action != "process" {
			t.Errorf("action = %q, want process", action)
		}
		return map[string]string{"hash": "DEADBEEF"}
	})
	c := NewNodeClient(srv.URL, time.Second)

	hash, err := c.Process(context.Background(), map[string]interface{}{"type": "state"}, "send")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if hash != "DEADBEEF" {
		t.Errorf("hash = %q, want DEADBEEF", hash)
	}
}

func TestNodeClientProcessFailure(t *testing.T) {
	srv := newTestServer(t, func(action string) interface{} {
		return map[string]string{"error": "Fork"}
	})
	c := NewNodeClient(srv.URL, time.Second)

	if _, err := c.Process(context.Background(), map[string]interface{}{}, "send"); err == nil {
		t.Error("expected an error for a failed process call")
	}
}

func TestNodeClientBlockInfoNotFound(t *testing.T) {
	srv := newTestServer(t, func(action string) interface{} {
		return map[string]string{"error": "Block not found"}
	})
	c := NewNodeClient(srv.URL, time.Second)

	if _, err := c.BlockInfo(context.Background(), "deadbeef"); err != ErrBlockNotFound {
		t.Errorf("err = %v, want ErrBlockNotFound", err)
	}
}
