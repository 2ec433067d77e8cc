// Package host implements the ProtocolHost of spec §4.6: the binding layer
// that owns the authority address, wires markets/risk manager/reward pools
// together, and exposes the administrative and user-facing surface an
// adapter calls into. Grounded on the teacher's core/node.go Node — a
// single controller struct holding every subsystem plus role-gated admin
// methods — scaled down to this module's much smaller component set.
package host

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"marketcore/internal/clock"
	"marketcore/internal/errs"
	"marketcore/internal/fixedpoint"
	"marketcore/internal/ledgerstore"
	"marketcore/internal/market"
	"marketcore/internal/oracle"
	"marketcore/internal/ratemodel"
	"marketcore/internal/rewards"
	"marketcore/internal/risk"
	"marketcore/observability"
)

// Host binds the engine's components and gates administrative calls to a
// single authority address, per spec §4.6.
type Host struct {
	authority common.Address
	clock     clock.Clock
	risk      *risk.Manager
	store     *ledgerstore.Store

	marketsMu sync.RWMutex
	markets   map[common.Address]*market.Market
	order     []common.Address

	poolsMu   sync.RWMutex
	pools     map[common.Address]*rewards.Pool
	poolOrder []common.Address

	marketMetrics *observability.MarketMetrics
	rewardMetrics *observability.RewardMetrics
}

// New constructs a Host with no markets or reward pools registered yet.
func New(authority common.Address, r *risk.Manager, c clock.Clock, store *ledgerstore.Store) *Host {
	return &Host{
		authority:     authority,
		clock:         c,
		risk:          r,
		store:         store,
		markets:       make(map[common.Address]*market.Market),
		pools:         make(map[common.Address]*rewards.Pool),
		marketMetrics: observability.Market(),
		rewardMetrics: observability.Rewards(),
	}
}

func (h *Host) requireAuthority(caller common.Address) error {
	if caller != h.authority {
		return errs.ErrUnauthorized
	}
	return nil
}

func toFloat(v *big.Int) float64 {
	f := new(big.Float).SetInt(v)
	f.Quo(f, new(big.Float).SetInt(fixedpoint.WAD))
	out, _ := f.Float64()
	return out
}

// --- Administrative surface (spec §4.6) ---

// SupportMarket registers a newly constructed market and lists it with the
// risk manager at the given collateral factor. Idempotent: re-registering
// an already-listed market only updates its collateral factor.
func (h *Host) SupportMarket(caller common.Address, m *market.Market, collateralFactor *big.Int) error {
	if err := h.requireAuthority(caller); err != nil {
		return err
	}
	if err := h.risk.SupportMarket(caller, m, collateralFactor); err != nil {
		return err
	}
	h.marketsMu.Lock()
	defer h.marketsMu.Unlock()
	addr := m.Address()
	if _, ok := h.markets[addr]; !ok {
		h.order = append(h.order, addr)
	}
	h.markets[addr] = m
	return nil
}

// SetCollateralFactor updates a listed market's collateral factor.
func (h *Host) SetCollateralFactor(caller, marketAddr common.Address, collateralFactor *big.Int) error {
	return h.risk.SetCollateralFactor(caller, marketAddr, collateralFactor)
}

// SetPause toggles the global pause flag.
func (h *Host) SetPause(caller common.Address, flag bool) error {
	if err := h.risk.SetPause(caller, flag); err != nil {
		return err
	}
	h.marketsMu.RLock()
	defer h.marketsMu.RUnlock()
	for _, addr := range h.order {
		h.marketMetrics.SetPaused(addr.Hex(), flag)
	}
	return nil
}

// SetPriceOracle replaces the oracle the risk manager reads prices from.
func (h *Host) SetPriceOracle(caller common.Address, o oracle.Oracle) error {
	return h.risk.SetOracle(caller, o)
}

// SetCloseFactor updates the global close factor.
func (h *Host) SetCloseFactor(caller common.Address, value *big.Int) error {
	return h.risk.SetCloseFactor(caller, value)
}

// SetLiquidationIncentive updates the global liquidation incentive.
func (h *Host) SetLiquidationIncentive(caller common.Address, value *big.Int) error {
	return h.risk.SetLiquidationIncentive(caller, value)
}

// SetReserveFactor updates a market's reserve factor.
func (h *Host) SetReserveFactor(caller, marketAddr common.Address, value *big.Int) error {
	if err := h.requireAuthority(caller); err != nil {
		return err
	}
	m, ok := h.Market(marketAddr)
	if !ok {
		return errs.ErrNotListed
	}
	return m.SetReserveFactor(value)
}

// SetInterestRateModel swaps a market's kinked rate curve.
func (h *Host) SetInterestRateModel(caller, marketAddr common.Address, rateModel *ratemodel.Params) error {
	if err := h.requireAuthority(caller); err != nil {
		return err
	}
	m, ok := h.Market(marketAddr)
	if !ok {
		return errs.ErrNotListed
	}
	m.SetRateModel(rateModel)
	return nil
}

// SetDeveloperFee configures a market's borrow fee routing, resolving
// SPEC_FULL §4.3.1's administrative surface.
func (h *Host) SetDeveloperFee(caller, marketAddr common.Address, bps, capBps uint32, recipient common.Address) error {
	if err := h.requireAuthority(caller); err != nil {
		return err
	}
	m, ok := h.Market(marketAddr)
	if !ok {
		return errs.ErrNotListed
	}
	m.SetDeveloperFee(bps, capBps, recipient)
	return nil
}

// ReduceReserves withdraws a market's protocol reserves, resolving
// SPEC_FULL §4.3.2.
func (h *Host) ReduceReserves(caller, marketAddr, recipient common.Address, amount *big.Int) error {
	if err := h.requireAuthority(caller); err != nil {
		return err
	}
	m, ok := h.Market(marketAddr)
	if !ok {
		return errs.ErrNotListed
	}
	return m.ReduceReserves(h.clock.Now(), recipient, amount)
}

// RegisterRewardPool lists a newly constructed reward pool. Supplementary
// wiring: spec §4.6's admin surface does not itself name pool lifecycle,
// but something must bind a Pool into the host the way markets are bound.
func (h *Host) RegisterRewardPool(caller common.Address, p *rewards.Pool) error {
	if err := h.requireAuthority(caller); err != nil {
		return err
	}
	h.poolsMu.Lock()
	defer h.poolsMu.Unlock()
	addr := p.Address()
	if _, ok := h.pools[addr]; !ok {
		h.poolOrder = append(h.poolOrder, addr)
	}
	h.pools[addr] = p
	return nil
}

// --- Query surface (spec §6) ---

// Market returns a listed market by address.
func (h *Host) Market(addr common.Address) (*market.Market, bool) {
	h.marketsMu.RLock()
	defer h.marketsMu.RUnlock()
	m, ok := h.markets[addr]
	return m, ok
}

// Markets returns every listed market address in listing order.
func (h *Host) Markets() []common.Address {
	h.marketsMu.RLock()
	defer h.marketsMu.RUnlock()
	out := make([]common.Address, len(h.order))
	copy(out, h.order)
	return out
}

// RewardPool returns a registered reward pool by address.
func (h *Host) RewardPool(addr common.Address) (*rewards.Pool, bool) {
	h.poolsMu.RLock()
	defer h.poolsMu.RUnlock()
	p, ok := h.pools[addr]
	return p, ok
}

// RewardPools returns every registered pool address in registration order.
func (h *Host) RewardPools() []common.Address {
	h.poolsMu.RLock()
	defer h.poolsMu.RUnlock()
	out := make([]common.Address, len(h.poolOrder))
	copy(out, h.poolOrder)
	return out
}

// GetAccountLiquidity returns (liquidity, shortfall) for account.
func (h *Host) GetAccountLiquidity(account common.Address) (*big.Int, *big.Int, error) {
	return h.risk.GetAccountLiquidity(h.clock.Now(), account)
}

// GetAssetsIn returns the markets account has entered.
func (h *Host) GetAssetsIn(account common.Address) []common.Address {
	return h.risk.GetAssetsIn(account)
}

// Paused reports the current global pause state.
func (h *Host) Paused() bool {
	return h.risk.Paused()
}

// --- User-facing operations (spec §4.3/§4.4/§4.5, timed and counted) ---

func (h *Host) observe(marketAddr common.Address, operation string, start time.Time) {
	h.marketMetrics.ObserveOp(marketAddr.Hex(), operation, time.Since(start))
}

// EnterMarkets opts the caller into the given markets as collateral.
func (h *Host) EnterMarkets(account common.Address, markets []common.Address) error {
	return h.risk.EnterMarkets(account, markets)
}

// ExitMarket removes the caller's membership in a market.
func (h *Host) ExitMarket(account, marketAddr common.Address) error {
	return h.risk.ExitMarket(h.clock.Now(), account, marketAddr)
}

// Supply deposits amount of underlying into market on behalf of onBehalf.
func (h *Host) Supply(marketAddr common.Address, payer, onBehalf common.Address, amount *big.Int) (*big.Int, error) {
	start := time.Now()
	m, ok := h.Market(marketAddr)
	if !ok {
		return nil, errs.ErrNotListed
	}
	shares, err := m.Supply(h.clock.Now(), payer, onBehalf, amount)
	h.observe(marketAddr, "supply", start)
	if err != nil {
		return nil, err
	}
	h.marketMetrics.Supply(marketAddr.Hex(), toFloat(amount))
	return shares, nil
}

// WithdrawShares burns shares of from's supply balance in market.
func (h *Host) WithdrawShares(marketAddr common.Address, from, to common.Address, shares *big.Int) (*big.Int, error) {
	start := time.Now()
	m, ok := h.Market(marketAddr)
	if !ok {
		return nil, errs.ErrNotListed
	}
	amount, err := m.WithdrawShares(h.clock.Now(), from, to, shares)
	h.observe(marketAddr, "withdraw_shares", start)
	return amount, err
}

// WithdrawUnderlying burns as many shares as needed to deliver amount.
func (h *Host) WithdrawUnderlying(marketAddr common.Address, from, to common.Address, amount *big.Int) (*big.Int, error) {
	start := time.Now()
	m, ok := h.Market(marketAddr)
	if !ok {
		return nil, errs.ErrNotListed
	}
	shares, err := m.WithdrawUnderlying(h.clock.Now(), from, to, amount)
	h.observe(marketAddr, "withdraw_underlying", start)
	return shares, err
}

// Borrow draws amount of underlying against borrower's collateral.
func (h *Host) Borrow(marketAddr common.Address, borrower common.Address, amount *big.Int) error {
	start := time.Now()
	m, ok := h.Market(marketAddr)
	if !ok {
		return errs.ErrNotListed
	}
	err := m.Borrow(h.clock.Now(), borrower, amount)
	h.observe(marketAddr, "borrow", start)
	if err != nil {
		return err
	}
	h.marketMetrics.Borrow(marketAddr.Hex(), toFloat(amount))
	return nil
}

// Repay settles amount (or market.All) of borrower's debt.
func (h *Host) Repay(marketAddr common.Address, payer, borrower common.Address, amount market.Amount) (*big.Int, error) {
	start := time.Now()
	m, ok := h.Market(marketAddr)
	if !ok {
		return nil, errs.ErrNotListed
	}
	actual, err := m.Repay(h.clock.Now(), payer, borrower, amount)
	h.observe(marketAddr, "repay", start)
	if err != nil {
		return nil, err
	}
	h.marketMetrics.Repay(marketAddr.Hex(), toFloat(actual))
	return actual, nil
}

// Liquidate repays part of borrower's debt in debtMarket on liquidator's
// behalf and seizes shares from collateralMarket.
func (h *Host) Liquidate(debtMarketAddr common.Address, liquidator, borrower common.Address, repayAmount *big.Int, collateralMarketAddr common.Address) error {
	start := time.Now()
	debtMarket, ok := h.Market(debtMarketAddr)
	if !ok {
		return errs.ErrNotListed
	}
	collateralMarket, ok := h.Market(collateralMarketAddr)
	if !ok {
		return errs.ErrNotListed
	}
	err := debtMarket.Liquidate(h.clock.Now(), liquidator, borrower, repayAmount, collateralMarket)
	h.observe(debtMarketAddr, "liquidate", start)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	h.marketMetrics.Liquidate(debtMarketAddr.Hex(), outcome)
	return err
}

// Stake deposits amount of the pool's staking asset on behalf of account.
func (h *Host) Stake(poolAddr common.Address, account common.Address, amount *big.Int) error {
	p, ok := h.RewardPool(poolAddr)
	if !ok {
		return errs.ErrNotListed
	}
	if err := p.Stake(h.clock.Now(), account, amount); err != nil {
		return err
	}
	h.rewardMetrics.SetStaked(poolAddr.Hex(), toFloat(p.TotalStaked()))
	return nil
}

// WithdrawStake returns amount of the pool's staking asset to account.
func (h *Host) WithdrawStake(poolAddr common.Address, account common.Address, amount *big.Int) error {
	p, ok := h.RewardPool(poolAddr)
	if !ok {
		return errs.ErrNotListed
	}
	if err := p.Withdraw(h.clock.Now(), account, amount); err != nil {
		return err
	}
	h.rewardMetrics.SetStaked(poolAddr.Hex(), toFloat(p.TotalStaked()))
	return nil
}

// Claim pays out account's accrued rewards in pool.
func (h *Host) Claim(poolAddr common.Address, account common.Address) (*big.Int, error) {
	p, ok := h.RewardPool(poolAddr)
	if !ok {
		return nil, errs.ErrNotListed
	}
	paid, err := p.Claim(h.clock.Now(), account)
	if err != nil {
		return nil, err
	}
	h.rewardMetrics.RecordPayout(poolAddr.Hex(), toFloat(paid))
	return paid, nil
}

// ExitRewardPool withdraws account's full staked balance and claims rewards.
func (h *Host) ExitRewardPool(poolAddr common.Address, account common.Address) (*big.Int, error) {
	p, ok := h.RewardPool(poolAddr)
	if !ok {
		return nil, errs.ErrNotListed
	}
	paid, err := p.Exit(h.clock.Now(), account)
	if err != nil {
		return nil, err
	}
	h.rewardMetrics.SetStaked(poolAddr.Hex(), toFloat(p.TotalStaked()))
	h.rewardMetrics.RecordPayout(poolAddr.Hex(), toFloat(paid))
	return paid, nil
}

// Fund tops up a pool's reward period, pulling amount from funder.
func (h *Host) Fund(poolAddr common.Address, caller, funder common.Address, amount *big.Int) error {
	p, ok := h.RewardPool(poolAddr)
	if !ok {
		return errs.ErrNotListed
	}
	if err := p.Fund(h.clock.Now(), caller, funder, amount); err != nil {
		return err
	}
	h.rewardMetrics.RecordFunding(poolAddr.Hex(), toFloat(amount))
	h.rewardMetrics.SetRewardRate(poolAddr.Hex(), toFloat(p.RewardRate()))
	return nil
}

// --- Persistence ---

// Persist writes every market, the risk manager, and every reward pool's
// current state to the bound ledgerstore.
func (h *Host) Persist() error {
	h.marketsMu.RLock()
	for _, addr := range h.order {
		if err := h.store.SaveMarket(addr, h.markets[addr].Snapshot()); err != nil {
			h.marketsMu.RUnlock()
			return err
		}
	}
	h.marketsMu.RUnlock()

	if err := h.store.SaveRiskManager(h.risk.Snapshot()); err != nil {
		return err
	}

	h.poolsMu.RLock()
	defer h.poolsMu.RUnlock()
	for _, addr := range h.poolOrder {
		if err := h.store.SaveRewardPool(addr, h.pools[addr].Snapshot()); err != nil {
			return err
		}
	}
	return nil
}

// Restore overlays any persisted snapshots onto already-registered markets
// and reward pools, and onto the risk manager's policy state. Call after
// every component has been registered via SupportMarket/RegisterRewardPool.
func (h *Host) Restore() error {
	h.marketsMu.RLock()
	for _, addr := range h.order {
		snap, ok, err := h.store.LoadMarket(addr)
		if err != nil {
			h.marketsMu.RUnlock()
			return err
		}
		if ok {
			h.markets[addr].Restore(snap)
		}
	}
	h.marketsMu.RUnlock()

	snap, ok, err := h.store.LoadRiskManager()
	if err != nil {
		return err
	}
	if ok {
		h.risk.Restore(snap)
	}

	h.poolsMu.RLock()
	defer h.poolsMu.RUnlock()
	for _, addr := range h.poolOrder {
		snap, ok, err := h.store.LoadRewardPool(addr)
		if err != nil {
			return err
		}
		if ok {
			h.pools[addr].Restore(snap)
		}
	}
	return nil
}
