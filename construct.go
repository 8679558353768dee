package pippin

import (
	"github.com/opd-ai/pippin/wallet"
)

// Construct builds a Pippin server backed by a persistent FileStore rooted
// at base, the same "auto-configure a persistent backing store" shape as
// the teacher's ConstructPaywall — but wallets are created on demand via
// the wallet_create RPC rather than eagerly at construction time, since
// Pippin hosts many independent wallets rather than one HD wallet per
// process.
func Construct(base string, network wallet.Network, nodeURL string, peerURLs []string) (*Pippin, error) {
	if base == "" {
		base = "./pippindata"
	}
	store := NewFileStore(base)

	config := Config{
		Network:  network,
		NodeURL:  nodeURL,
		PeerURLs: peerURLs,
		DataDir:  base,
	}
	return New(config, store)
}

// ConstructEncrypted is Construct, but rows are sealed at rest under
// AES-256-GCM keyed by keyPath, via EncryptedFileStore.
func ConstructEncrypted(base, keyPath string, network wallet.Network, nodeURL string, peerURLs []string) (*Pippin, error) {
	if base == "" {
		base = "./pippindata"
	}
	store, err := NewEncryptedFileStore(keyPath, base)
	if err != nil {
		return nil, err
	}

	config := Config{
		Network:  network,
		NodeURL:  nodeURL,
		PeerURLs: peerURLs,
		DataDir:  base,
	}
	return New(config, store)
}
