package chains

import (
	"crypto/rand"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
)

// Family groups source chains by address format.
type Family int

const (
	FamilyEVM Family = iota
	FamilyBase58
)

func (f Family) String() string {
	switch f {
	case FamilyEVM:
		return "evm"
	case FamilyBase58:
		return "base58"
	}
	return "unknown"
}

// Chain is a supported source ledger.
type Chain struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Family Family `json:"-"`
}

var registry = []Chain{
	{ID: "ethereum", Name: "Ethereum", Family: FamilyEVM},
	{ID: "polygon", Name: "Polygon", Family: FamilyEVM},
	{ID: "bsc", Name: "BNB Chain", Family: FamilyEVM},
	{ID: "near", Name: "NEAR", Family: FamilyBase58},
	{ID: "solana", Name: "Solana", Family: FamilyBase58},
}

// All returns the supported source chains in display order.
func All() []Chain {
	out := make([]Chain, len(registry))
	copy(out, registry)
	return out
}

// Lookup resolves a chain by its identifier.
func Lookup(id string) (Chain, bool) {
	for _, c := range registry {
		if c.ID == id {
			return c, true
		}
	}
	return Chain{}, false
}

// ValidAddress reports whether addr is plausibly an address of this
// chain's family. Base58 validation accepts the ed25519 public key
// shapes NEAR implicit accounts and Solana accounts share.
func (c Chain) ValidAddress(addr string) bool {
	switch c.Family {
	case FamilyEVM:
		return common.IsHexAddress(addr)
	case FamilyBase58:
		if len(addr) < 32 || len(addr) > 44 {
			return false
		}
		raw, err := base58.Decode(addr)
		return err == nil && len(raw) == 32
	}
	return false
}

// RandomAddress fabricates an address in this chain's format. Used by
// the offline bridge to shape custody and payment addresses.
func (c Chain) RandomAddress() (string, error) {
	switch c.Family {
	case FamilyEVM:
		buf := make([]byte, common.AddressLength)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("random address: %w", err)
		}
		return common.BytesToAddress(buf).Hex(), nil
	case FamilyBase58:
		// Re-roll until the encoding lands on 44 characters, the width
		// wallet UIs expect for a 32-byte key. High bytes encode to 44;
		// a leading zero byte shortens the string, so a few tries max.
		for {
			buf := make([]byte, 32)
			if _, err := rand.Read(buf); err != nil {
				return "", fmt.Errorf("random address: %w", err)
			}
			enc := base58.Encode(buf)
			if len(enc) == 44 {
				return enc, nil
			}
		}
	}
	return "", fmt.Errorf("unknown chain family %d", c.Family)
}
