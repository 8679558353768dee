package pippin

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// NodeProxy forwards an HTTP request verbatim to the upstream node, used by
// rpcserver.go for any action Pippin doesn't implement itself. Adapted
// directly from the teacher's reverse-proxy example ReverseProxy type: same
// Target/Transport shape and the same forward-headers/forward-body/
// forward-status ServeHTTP flow, reused here for a client call against one
// fixed upstream rather than a general-purpose reverse-proxy handler.
type NodeProxy struct {
	Target    *url.URL
	Transport http.RoundTripper
}

// NewNodeProxy builds a proxy targeting the node's RPC endpoint.
func NewNodeProxy(target string) (*NodeProxy, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse node URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("node URL must include scheme and host")
	}
	return &NodeProxy{Target: u, Transport: http.DefaultTransport}, nil
}

// ServeHTTP forwards r to the node target unchanged and copies the node's
// response back to w verbatim, including headers and status.
func (p *NodeProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	proxyRequest := http.Request{
		Method: r.Method,
		URL:    p.Target,
		Proto:  r.Proto,
		Header: r.Header,
		Body:   r.Body,
	}
	proxyRequest.Host = p.Target.Host
	proxyRequest.URL.Scheme = p.Target.Scheme

	response, err := p.Transport.RoundTrip(&proxyRequest)
	if err != nil {
		http.Error(w, fmt.Sprintf("proxy request failed: %v", err), http.StatusBadGateway)
		return
	}
	defer response.Body.Close()

	for key, values := range response.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(response.StatusCode)
	if _, err := io.Copy(w, response.Body); err != nil {
		http.Error(w, fmt.Sprintf("failed to write response: %v", err), http.StatusInternalServerError)
	}
}
