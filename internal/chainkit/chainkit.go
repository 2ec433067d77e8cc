// Package chainkit derives the engine's module-owned addresses (treasury,
// collateral vault, reward escrow) and converts between the bech32
// crypto.Address identity and go-ethereum's common.Address, the key type
// internal/token collaborators use. Grounded on the teacher's
// core/node.go deriveModuleAddress helper.
package chainkit

import (
	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"marketcore/crypto"
)

// DeriveModuleAddress deterministically derives an engine-owned address
// from a human-readable seed string, the same keccak256-of-seed,
// last-20-bytes scheme the teacher uses for its treasury/collateral/payout
// vaults.
func DeriveModuleAddress(seed string) crypto.Address {
	hash := ethcrypto.Keccak256([]byte(seed))
	raw := append([]byte(nil), hash[len(hash)-20:]...)
	return crypto.MustNewAddress(crypto.ModulePrefix, raw)
}

// ToCommon converts a bech32 crypto.Address to go-ethereum's common.Address,
// the key type Token implementations and the price oracle are keyed on.
func ToCommon(addr crypto.Address) ethcommon.Address {
	return ethcommon.BytesToAddress(addr.Bytes())
}

// FromCommon converts a go-ethereum common.Address back to the engine's own
// account-prefixed bech32 address.
func FromCommon(addr ethcommon.Address) crypto.Address {
	return crypto.MustNewAddress(crypto.AccountPrefix, addr.Bytes())
}
