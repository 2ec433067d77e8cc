// Package token defines the external asset-transfer collaborator the engine
// pulls and pushes underlying and reward assets through, per spec §6's
// Token interface. Addresses are keyed on go-ethereum's common.Address, the
// same EVM-style account identity the teacher's crypto package derives its
// own bech32 addresses from.
package token

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrTransferFailed is returned by a Token implementation when a transfer
// cannot be completed; the market engine reports it as errs.ErrTransferFailed
// and aborts the whole operation.
var ErrTransferFailed = errors.New("token: transfer failed")

// Token is the asset the engine moves on behalf of users. A failed transfer
// must leave the caller's balance untouched.
type Token interface {
	// TransferFrom pulls amount from from into the engine's custody.
	TransferFrom(from common.Address, amount *big.Int) error
	// Transfer pushes amount from the engine's custody to to.
	Transfer(to common.Address, amount *big.Int) error
	// BalanceOf returns the engine's own custodied balance of this asset,
	// used by RewardAccumulator to bound notify_reward.
	BalanceOf() *big.Int
}

// MemToken is an in-memory Token used by engine unit and integration tests.
// It tracks a ledger of external holder balances plus the engine's own
// custodied balance.
type MemToken struct {
	holders *big.Int
	custody *big.Int
	balance map[common.Address]*big.Int
}

// NewMemToken constructs a MemToken whose engine custody balance starts at
// zero.
func NewMemToken() *MemToken {
	return &MemToken{
		holders: big.NewInt(0),
		custody: big.NewInt(0),
		balance: make(map[common.Address]*big.Int),
	}
}

// Mint credits addr with amount, simulating an external faucet; tests use
// this to fund accounts before exercising the engine.
func (m *MemToken) Mint(addr common.Address, amount *big.Int) {
	current := m.balance[addr]
	if current == nil {
		current = big.NewInt(0)
	}
	m.balance[addr] = new(big.Int).Add(current, amount)
	m.holders.Add(m.holders, amount)
}

// BalanceOfHolder returns an external address's tracked balance, used by
// tests asserting round-trip behavior.
func (m *MemToken) BalanceOfHolder(addr common.Address) *big.Int {
	v := m.balance[addr]
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (m *MemToken) TransferFrom(from common.Address, amount *big.Int) error {
	current := m.balance[from]
	if current == nil || current.Cmp(amount) < 0 {
		return ErrTransferFailed
	}
	m.balance[from] = new(big.Int).Sub(current, amount)
	m.custody.Add(m.custody, amount)
	return nil
}

func (m *MemToken) Transfer(to common.Address, amount *big.Int) error {
	if m.custody.Cmp(amount) < 0 {
		return ErrTransferFailed
	}
	m.custody.Sub(m.custody, amount)
	current := m.balance[to]
	if current == nil {
		current = big.NewInt(0)
	}
	m.balance[to] = new(big.Int).Add(current, amount)
	return nil
}

func (m *MemToken) BalanceOf() *big.Int {
	return new(big.Int).Set(m.custody)
}
