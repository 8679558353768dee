package wallet

import (
	"math/big"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// addressAlphabet is the Nano/BANANO account encoding alphabet: base-32,
// excluding characters that are easily confused with one another (0, 2, l,
// v).
const addressAlphabet = "13456789abcdefghijkmnopqrstuwxyz"

// Network selects which protocol's address prefix and difficulty constants
// a wallet or codec operation uses.
type Network string

const (
	// Nano is the primary ("XNO") network.
	Nano Network = "nano"
	// Banano is the BANANO network, a Nano fork with its own raw-unit
	// exponent and address prefix.
	Banano Network = "banano"
)

// Prefix returns the account-string prefix for the network.
func (n Network) Prefix() string {
	if n == Banano {
		return "ban_"
	}
	return "nano_"
}

// WorkThresholdDefault returns the default send/change PoW threshold.
func (n Network) WorkThresholdDefault() WorkThreshold {
	if n == Banano {
		return BananoWorkThreshold
	}
	return NanoWorkThreshold
}

// RawExponent returns the power-of-ten count of raw units per whole coin.
func (n Network) RawExponent() int {
	if n == Banano {
		return 29
	}
	return 30
}

const (
	pubkeyGroups   = 52 // 260 bits / 5 bits per base-32 group
	checksumGroups = 8  // 40 bits / 5 bits per base-32 group
	checksumBytes  = 5
)

// EncodeAddress renders a 32-byte public key as a network-prefixed,
// checksummed base-32 account string.
func EncodeAddress(network Network, pub []byte) (string, error) {
	if len(pub) != KeySize {
		return "", errors.Errorf("public key must be %d bytes, got %d", KeySize, len(pub))
	}

	body := encodeGroups(new(big.Int).SetBytes(pub), pubkeyGroups)

	sum, err := checksum(pub)
	if err != nil {
		return "", err
	}
	chk := encodeGroups(new(big.Int).SetBytes(sum[:]), checksumGroups)

	return network.Prefix() + body + chk, nil
}

// DecodeAddress parses a network-prefixed account string back into a
// 32-byte public key, rejecting unknown prefixes and checksum mismatches.
func DecodeAddress(address string) ([]byte, Network, error) {
	var network Network
	var rest string
	switch {
	case strings.HasPrefix(address, Nano.Prefix()):
		network = Nano
		rest = address[len(Nano.Prefix()):]
	case strings.HasPrefix(address, Banano.Prefix()):
		network = Banano
		rest = address[len(Banano.Prefix()):]
	default:
		return nil, "", errors.New("unknown address prefix")
	}

	if len(rest) != pubkeyGroups+checksumGroups {
		return nil, "", errors.New("invalid address length")
	}

	bodyPart := rest[:pubkeyGroups]
	checksumPart := rest[pubkeyGroups:]

	bodyValue, err := decodeGroups(bodyPart)
	if err != nil {
		return nil, "", errors.Wrap(err, "decode account body")
	}
	if bodyValue.BitLen() > KeySize*8 {
		return nil, "", errors.New("invalid address: leading bits must be zero")
	}
	pub := make([]byte, KeySize)
	bodyValue.FillBytes(pub)

	checksumValue, err := decodeGroups(checksumPart)
	if err != nil {
		return nil, "", errors.Wrap(err, "decode account checksum")
	}
	gotChecksum := make([]byte, checksumBytes)
	checksumValue.FillBytes(gotChecksum)

	wantChecksum, err := checksum(pub)
	if err != nil {
		return nil, "", err
	}
	if string(gotChecksum) != string(wantChecksum[:]) {
		return nil, "", errors.New("address checksum mismatch")
	}

	return pub, network, nil
}

// checksum computes the Blake2b-40 checksum of a public key, byte-reversed
// as the Nano account encoding requires.
func checksum(pub []byte) ([checksumBytes]byte, error) {
	var out [checksumBytes]byte
	h, err := blake2b.New(checksumBytes, nil)
	if err != nil {
		return out, errors.Wrap(err, "create blake2b-40 hasher")
	}
	h.Write(pub)
	sum := h.Sum(nil)
	for i := range sum {
		out[i] = sum[len(sum)-1-i]
	}
	return out, nil
}

func encodeGroups(value *big.Int, groups int) string {
	chars := make([]byte, groups)
	v := new(big.Int).Set(value)
	mask := big.NewInt(31)
	tmp := new(big.Int)
	for i := groups - 1; i >= 0; i-- {
		tmp.And(v, mask)
		chars[i] = addressAlphabet[tmp.Int64()]
		v.Rsh(v, 5)
	}
	return string(chars)
}

func decodeGroups(s string) (*big.Int, error) {
	v := new(big.Int)
	five := uint(5)
	for _, r := range s {
		idx := strings.IndexRune(addressAlphabet, r)
		if idx < 0 {
			return nil, errors.Errorf("invalid address character %q", r)
		}
		v.Lsh(v, five)
		v.Or(v, big.NewInt(int64(idx)))
	}
	return v, nil
}
