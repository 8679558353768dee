// Package main wires up a minimal Pippin server: a persistent FileStore, a
// configured node/peer set, and an HTTP listener with per-IP token-bucket
// rate limiting.
package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/opd-ai/pippin"
	"github.com/opd-ai/pippin/wallet"
	"github.com/sethvargo/go-limiter/httplimit"
	"github.com/sethvargo/go-limiter/memorystore"
)

var (
	network  = flag.String("network", "nano", "nano or banano")
	nodeURL  = flag.String("node", "http://localhost:7076", "upstream node RPC endpoint")
	peerURLs = flag.String("peers", "", "comma-separated work_generate peer endpoints")
	dataDir  = flag.String("data", "./pippindata", "wallet data directory")
	host     = flag.String("host", "localhost", "bind host")
	port     = flag.String("port", "7077", "bind port")
	tokens   = flag.Uint64("tokens", 60, "requests allowed per interval per client")
	interval = flag.Duration("interval", time.Minute, "rate-limit interval")
)

func splitPeers(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func main() {
	flag.Parse()

	net := wallet.Nano
	if *network == "banano" {
		net = wallet.Banano
	}

	server, err := pippin.Construct(*dataDir, net, *nodeURL, splitPeers(*peerURLs))
	if err != nil {
		log.Fatal(err)
	}
	defer server.Close()

	store, err := memorystore.New(&memorystore.Config{
		Tokens:   *tokens,
		Interval: *interval,
	})
	if err != nil {
		log.Fatal(err)
	}
	limiter, err := httplimit.NewMiddleware(store, httplimit.IPKeyFunc())
	if err != nil {
		log.Fatal(err)
	}

	addr := *host + ":" + *port
	log.Printf("pippin: listening on %s, proxying unhandled actions to %s", addr, *nodeURL)
	log.Fatal(http.ListenAndServe(addr, limiter.Handle(server)))
}
