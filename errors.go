package pippin

import "github.com/pkg/errors"

// Sentinel error kinds bubbled from the wallet store, block pipeline and
// work client up to the RPC boundary, where rpcserver.go maps each one (via
// errors.Cause) to the wire string a reference-node client expects.
var (
	ErrWalletNotFound       = errors.New("wallet not found")
	ErrWalletLocked         = errors.New("wallet locked")
	ErrWalletNotLocked      = errors.New("wallet not locked")
	ErrAccountNotFound      = errors.New("account not found")
	ErrBlockNotFound        = errors.New("block not found")
	ErrAccountAlreadyExists = errors.New("account already exists")
	ErrDecryptionError      = errors.New("decryption failed")
	ErrWorkFailed           = errors.New("work generation failed")
	ErrProcessFailed        = errors.New("node process failed")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInvalidSeed          = errors.New("invalid seed")
	ErrInvalidKey           = errors.New("invalid key")
	ErrInvalidAddress       = errors.New("invalid address")
	ErrInvalidSource        = errors.New("invalid source")
	ErrInvalidDestination   = errors.New("invalid destination")
	ErrNotImplemented       = errors.New("not implemented")
)

// errorMessages maps each sentinel to the exact wire string the reference
// node returns for the equivalent condition. ErrDecryptionError is
// deliberately absent: its only live call site (password_enter) special-
// cases it into {"valid":"0"} before ever reaching ErrorMessage, and spec
// §7 has no "Invalid key"-style wire mapping for a decryption failure — only
// for malformed key input to wallet_add (ErrInvalidKey, below). If a
// decryption failure ever does reach this map unhandled, it should fall
// through to defaultErrorMessage rather than claim a string §7 doesn't
// document for it.
var errorMessages = map[error]string{
	ErrWalletNotFound:       "wallet not found",
	ErrWalletLocked:         "wallet locked",
	ErrWalletNotLocked:      "wallet not locked",
	ErrAccountNotFound:      "Account not found",
	ErrBlockNotFound:        "Block not found",
	ErrAccountAlreadyExists: "account already exists",
	ErrWorkFailed:           "Failed to generate work",
	ErrProcessFailed:        "RPC Process failed",
	ErrInsufficientBalance:  "insufficient balance",
	ErrInvalidSeed:          "Invalid seed",
	ErrInvalidKey:           "Invalid key",
	ErrInvalidAddress:       "Invalid address",
	ErrInvalidSource:        "Invalid source",
	ErrInvalidDestination:   "Invalid destination",
	ErrNotImplemented:       "not_implemented",
}

// defaultErrorMessage is returned for any error that doesn't map to a known
// kind, matching the reference node's behavior of collapsing unrecognized
// crypto/database failures into its generic parse-error string.
const defaultErrorMessage = "Unable to parse json"

// ErrorMessage maps err to the wire string an RPC caller expects, unwrapping
// pkg/errors wrap chains to find the original sentinel.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	cause := errors.Cause(err)
	if msg, ok := errorMessages[cause]; ok {
		return msg
	}
	return defaultErrorMessage
}
