package pippin

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/opd-ai/pippin/wallet"
)

func TestNewDefaultsNetworkAndTimeout(t *testing.T) {
	p, err := New(Config{NodeURL: "http://unused.invalid"}, NewMemoryStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Config.Network != wallet.Nano {
		t.Errorf("Network = %v, want default Nano", p.Config.Network)
	}
	if p.Config.RequestTimeout <= 0 {
		t.Error("RequestTimeout was not defaulted")
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestPippinServeHTTPDispatchesToGateway(t *testing.T) {
	p, err := New(Config{NodeURL: "http://unused.invalid"}, NewMemoryStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	body, _ := json.Marshal(map[string]interface{}{"action": "wallet_create"})
	req := httptest.NewRequest("POST", "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response %q: %v", rec.Body.String(), err)
	}
	if _, ok := resp["wallet"].(string); !ok {
		t.Errorf("response = %+v, want a wallet id", resp)
	}
}
