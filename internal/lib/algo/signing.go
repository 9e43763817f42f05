package algo

import (
	"errors"

	"golang.org/x/crypto/ed25519"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/types"
)

var ErrNoSigner = errors.New("no local keys for any of the requested accounts")

type MultipleWalletSigner interface {
	HasAccount(publicAddress string) bool
	// FindFirstSigner returns the first address in the list we have keys for
	FindFirstSigner(addresses []string) (string, error)
	// Accounts returns all addresses we have keys for
	Accounts() []string
	// SignBytes signs arbitrary data (MX prefixed, so it can never be mistaken for a transaction) with the
	// key of the given account.
	SignBytes(publicAddress string, data []byte) ([]byte, error)
}

// VerifySignedBytes checks a signature produced by SignBytes against the account's public key.
func VerifySignedBytes(account types.Address, data []byte, signature []byte) bool {
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return crypto.VerifyBytes(ed25519.PublicKey(account[:]), data, signature)
}
