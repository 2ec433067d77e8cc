// Package risk implements cross-market policy: which markets are listed,
// each one's collateral factor, which markets an account has entered,
// the global pause flag, and the solvency/liquidation math that spans
// markets. Grounded on the teacher's native/lending package's
// RiskManager-equivalent checks (collateral factor lookups, shortfall
// gating on borrow/redeem) generalized to this module's multi-market
// liquidity algorithm, since the teacher's own engine is effectively
// single-pool.
package risk

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"marketcore/internal/clock"
	"marketcore/internal/errs"
	"marketcore/internal/fixedpoint"
	"marketcore/internal/oracle"
)

// MarketView is the slice of a Market's surface the risk manager needs to
// compute liquidity and to seize collateral. Satisfied structurally by
// *market.Market.
type MarketView interface {
	Address() common.Address
	Underlying() common.Address
	ExchangeRateStored() (*big.Int, error)
	SharesOf(account common.Address) *big.Int
	BorrowBalanceCurrent(account common.Address) (*big.Int, error)
	Accrue(now uint64) error
	Seize(caller, liquidator, borrower common.Address, shares *big.Int) error
}

// hypothetical augments the liquidity calculation with a proposed action
// not yet committed, per spec §4.4.
type hypothetical struct {
	market       common.Address
	redeemShares *big.Int
	borrowAmount *big.Int
}

// Manager is the RiskManager of spec §4.4.
type Manager struct {
	mu sync.RWMutex

	authority common.Address
	oracle    oracle.Oracle
	clock     clock.Clock

	order     []common.Address
	markets   map[common.Address]MarketView
	collateralFactor map[common.Address]*big.Int

	membership map[common.Address]map[common.Address]bool

	paused               bool
	closeFactor          *big.Int
	liquidationIncentive *big.Int
}

// New constructs a Manager with no listed markets.
func New(authority common.Address, o oracle.Oracle, c clock.Clock, closeFactor, liquidationIncentive *big.Int) *Manager {
	return &Manager{
		authority:            authority,
		oracle:               o,
		clock:                c,
		markets:              make(map[common.Address]MarketView),
		collateralFactor:     make(map[common.Address]*big.Int),
		membership:           make(map[common.Address]map[common.Address]bool),
		closeFactor:          closeFactor,
		liquidationIncentive: liquidationIncentive,
	}
}

func (r *Manager) requireAuthority(caller common.Address) error {
	if caller != r.authority {
		return errs.ErrUnauthorized
	}
	return nil
}

// --- Admin surface (spec §4.6) ---

// SupportMarket lists a new market with the given collateral factor.
func (r *Manager) SupportMarket(caller common.Address, view MarketView, collateralFactor *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireAuthority(caller); err != nil {
		return err
	}
	addr := view.Address()
	if _, ok := r.markets[addr]; !ok {
		r.order = append(r.order, addr)
	}
	r.markets[addr] = view
	r.collateralFactor[addr] = new(big.Int).Set(collateralFactor)
	return nil
}

// SetCollateralFactor updates a listed market's collateral factor.
func (r *Manager) SetCollateralFactor(caller common.Address, market common.Address, collateralFactor *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireAuthority(caller); err != nil {
		return err
	}
	if _, ok := r.markets[market]; !ok {
		return errs.ErrNotListed
	}
	if collateralFactor.Cmp(fixedpoint.One()) >= 0 {
		return errs.ErrInvalidReserveFactor
	}
	r.collateralFactor[market] = new(big.Int).Set(collateralFactor)
	return nil
}

// SetPause toggles the global pause flag.
func (r *Manager) SetPause(caller common.Address, flag bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireAuthority(caller); err != nil {
		return err
	}
	r.paused = flag
	return nil
}

// SetCloseFactor updates the global close factor.
func (r *Manager) SetCloseFactor(caller common.Address, value *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireAuthority(caller); err != nil {
		return err
	}
	r.closeFactor = new(big.Int).Set(value)
	return nil
}

// SetOracle replaces the price oracle the manager reads from, resolving
// spec §4.6's set_price_oracle.
func (r *Manager) SetOracle(caller common.Address, o oracle.Oracle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireAuthority(caller); err != nil {
		return err
	}
	r.oracle = o
	return nil
}

// SetLiquidationIncentive updates the global liquidation incentive.
func (r *Manager) SetLiquidationIncentive(caller common.Address, value *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireAuthority(caller); err != nil {
		return err
	}
	r.liquidationIncentive = new(big.Int).Set(value)
	return nil
}

// Markets returns the listed markets in listing order.
func (r *Manager) Markets() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, len(r.order))
	copy(out, r.order)
	return out
}

// Paused reports the current global pause state.
func (r *Manager) Paused() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused
}

// GetAssetsIn returns the markets account has entered, in listing order.
func (r *Manager) GetAssetsIn(account common.Address) []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.membership[account]
	out := make([]common.Address, 0, len(set))
	for _, addr := range r.order {
		if set[addr] {
			out = append(out, addr)
		}
	}
	return out
}

// --- Enter / exit (spec §4.4) ---

// EnterMarkets opts account into each listed market in list, as collateral
// for solvency checks. Duplicates are ignored; any unlisted market fails
// the whole call with NotListed.
func (r *Manager) EnterMarkets(account common.Address, list []common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, addr := range list {
		if _, ok := r.markets[addr]; !ok {
			return errs.ErrNotListed
		}
	}
	set := r.membership[account]
	if set == nil {
		set = make(map[common.Address]bool)
		r.membership[account] = set
	}
	for _, addr := range list {
		set[addr] = true
	}
	return nil
}

// ExitMarket removes account's membership in market, provided account has
// no outstanding borrow there and remains solvent without its collateral.
func (r *Manager) ExitMarket(now uint64, account, marketAddr common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	view, ok := r.markets[marketAddr]
	if !ok {
		return errs.ErrNotListed
	}
	if err := view.Accrue(now); err != nil {
		return err
	}
	debt, err := view.BorrowBalanceCurrent(account)
	if err != nil {
		return err
	}
	if debt.Sign() != 0 {
		return errs.ErrInsufficientCollateral
	}

	set := r.membership[account]
	if !set[marketAddr] {
		return nil
	}
	// Temporarily treat the market as exited for the hypothetical check.
	delete(set, marketAddr)
	_, shortfall, err := r.accountLiquidityLocked(now, account, nil)
	if err != nil {
		set[marketAddr] = true
		return err
	}
	if shortfall.Sign() > 0 {
		set[marketAddr] = true
		return errs.ErrInsufficientCollateral
	}
	return nil
}

// --- Liquidity algorithm (spec §4.4) ---

// GetAccountLiquidity returns (liquidity, shortfall) for account with no
// hypothetical action applied.
func (r *Manager) GetAccountLiquidity(now uint64, account common.Address) (*big.Int, *big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accountLiquidityLocked(now, account, nil)
}

func (r *Manager) accountLiquidityLocked(now uint64, account common.Address, h *hypothetical) (*big.Int, *big.Int, error) {
	sumCollateral := big.NewInt(0)
	sumBorrow := big.NewInt(0)

	for _, addr := range r.order {
		if !r.membership[account][addr] {
			continue
		}
		view := r.markets[addr]
		if err := view.Accrue(now); err != nil {
			return nil, nil, err
		}
		price, err := r.oracle.PriceOf(view.Underlying())
		if err != nil {
			return nil, nil, err
		}
		rate, err := view.ExchangeRateStored()
		if err != nil {
			return nil, nil, err
		}
		cf := r.collateralFactor[addr]

		sharesHeld := view.SharesOf(account)
		underlyingValue, err := fixedpoint.Mul(sharesHeld, rate)
		if err != nil {
			return nil, nil, err
		}
		priceByCF, err := fixedpoint.Mul(price, cf)
		if err != nil {
			return nil, nil, err
		}
		collateralValue, err := fixedpoint.Mul(underlyingValue, priceByCF)
		if err != nil {
			return nil, nil, err
		}

		borrowBal, err := view.BorrowBalanceCurrent(account)
		if err != nil {
			return nil, nil, err
		}
		borrowValue, err := fixedpoint.Mul(borrowBal, price)
		if err != nil {
			return nil, nil, err
		}

		if h != nil && h.market == addr {
			redeemValue, err := fixedpoint.Mul(h.redeemShares, rate)
			if err != nil {
				return nil, nil, err
			}
			redeemValue, err = fixedpoint.Mul(redeemValue, priceByCF)
			if err != nil {
				return nil, nil, err
			}
			collateralValue.Sub(collateralValue, redeemValue)

			borrowDelta, err := fixedpoint.Mul(h.borrowAmount, price)
			if err != nil {
				return nil, nil, err
			}
			borrowValue.Add(borrowValue, borrowDelta)
		}

		sumCollateral.Add(sumCollateral, collateralValue)
		sumBorrow.Add(sumBorrow, borrowValue)
	}

	if sumCollateral.Cmp(sumBorrow) >= 0 {
		return new(big.Int).Sub(sumCollateral, sumBorrow), big.NewInt(0), nil
	}
	return big.NewInt(0), new(big.Int).Sub(sumBorrow, sumCollateral), nil
}

// --- Pre-hooks (spec §4.4) ---

func (r *Manager) requireListed(market common.Address) error {
	if _, ok := r.markets[market]; !ok {
		return errs.ErrNotListed
	}
	return nil
}

// MintAllowed implements market.RiskGate.
func (r *Manager) MintAllowed(market, _ common.Address, _ *big.Int) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.paused {
		return errs.ErrPaused
	}
	return r.requireListed(market)
}

// RedeemAllowed implements market.RiskGate.
func (r *Manager) RedeemAllowed(market, redeemer common.Address, shares *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused {
		return errs.ErrPaused
	}
	if err := r.requireListed(market); err != nil {
		return err
	}
	if !r.membership[redeemer][market] {
		return nil
	}
	now := r.clock.Now()
	_, shortfall, err := r.accountLiquidityLocked(now, redeemer, &hypothetical{market: market, redeemShares: shares, borrowAmount: big.NewInt(0)})
	if err != nil {
		return err
	}
	if shortfall.Sign() > 0 {
		return errs.ErrInsufficientCollateral
	}
	return nil
}

// BorrowAllowed implements market.RiskGate, auto-entering the market if
// borrower is not already a member.
func (r *Manager) BorrowAllowed(market, borrower common.Address, amount *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused {
		return errs.ErrPaused
	}
	if err := r.requireListed(market); err != nil {
		return err
	}
	set := r.membership[borrower]
	if set == nil {
		set = make(map[common.Address]bool)
		r.membership[borrower] = set
	}
	set[market] = true

	now := r.clock.Now()
	_, shortfall, err := r.accountLiquidityLocked(now, borrower, &hypothetical{market: market, redeemShares: big.NewInt(0), borrowAmount: amount})
	if err != nil {
		return err
	}
	if shortfall.Sign() > 0 {
		return errs.ErrInsufficientCollateral
	}
	return nil
}

// RepayAllowed implements market.RiskGate.
func (r *Manager) RepayAllowed(market, _ common.Address) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.paused {
		return errs.ErrPaused
	}
	return r.requireListed(market)
}

// SeizeAllowed implements market.RiskGate. Per spec §9's resolved Open
// Question, only a caller that is itself a listed market is honoured —
// in practice, the debt market driving a Liquidate call.
func (r *Manager) SeizeAllowed(market, caller common.Address) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.paused {
		return errs.ErrPaused
	}
	if err := r.requireListed(market); err != nil {
		return err
	}
	if err := r.requireListed(caller); err != nil {
		return errs.ErrUnauthorized
	}
	return nil
}

// LiquidateAllowed implements market.RiskGate: validates the liquidation is
// authorised and returns the number of collateral shares to seize.
func (r *Manager) LiquidateAllowed(debtMarket, collateralMarket, liquidator, borrower common.Address, repayAmount *big.Int) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused {
		return nil, errs.ErrPaused
	}
	if err := r.requireListed(debtMarket); err != nil {
		return nil, err
	}
	if err := r.requireListed(collateralMarket); err != nil {
		return nil, err
	}

	now := r.clock.Now()
	_, shortfall, err := r.accountLiquidityLocked(now, borrower, nil)
	if err != nil {
		return nil, err
	}
	if shortfall.Sign() <= 0 {
		return nil, errs.ErrHealthyBorrower
	}

	debtView := r.markets[debtMarket]
	debt, err := debtView.BorrowBalanceCurrent(borrower)
	if err != nil {
		return nil, err
	}
	maxRepay, err := fixedpoint.Mul(debt, r.closeFactor)
	if err != nil {
		return nil, err
	}
	if repayAmount.Cmp(maxRepay) > 0 {
		return nil, errs.ErrInsufficientLiquidity
	}

	return r.seizeSharesLocked(debtMarket, collateralMarket, repayAmount)
}

// seizeSharesLocked implements the Seize calculation of spec §4.4.
func (r *Manager) seizeSharesLocked(debtMarket, collateralMarket common.Address, repayAmount *big.Int) (*big.Int, error) {
	debtView := r.markets[debtMarket]
	collateralView := r.markets[collateralMarket]

	priceDebt, err := r.oracle.PriceOf(debtView.Underlying())
	if err != nil {
		return nil, err
	}
	priceCollateral, err := r.oracle.PriceOf(collateralView.Underlying())
	if err != nil {
		return nil, err
	}
	if priceCollateral.Sign() == 0 {
		return nil, errs.ErrPriceUnavailable
	}

	priceRatio, err := fixedpoint.Div(priceDebt, priceCollateral)
	if err != nil {
		return nil, err
	}
	incentiveRatio, err := fixedpoint.Mul(r.liquidationIncentive, priceRatio)
	if err != nil {
		return nil, err
	}
	seizeUnderlying, err := fixedpoint.Mul(repayAmount, incentiveRatio)
	if err != nil {
		return nil, err
	}
	collateralRate, err := collateralView.ExchangeRateStored()
	if err != nil {
		return nil, err
	}
	return fixedpoint.Div(seizeUnderlying, collateralRate)
}

// SeizeSplit apportions a seized share amount between the liquidator, the
// protocol, and a developer collector, resolving SPEC_FULL §4.4.1. It never
// changes the total seized; it only splits it.
func (r *Manager) SeizeSplit(seizeShares *big.Int, liquidatorBps, protocolBps, developerBps uint32) (liquidatorShare, protocolShare, developerShare *big.Int, err error) {
	total := liquidatorBps + protocolBps + developerBps
	if total == 0 || total > 10000 {
		return nil, nil, nil, errs.ErrInvalidReserveFactor
	}
	bpsDenom := big.NewInt(10000)
	liquidatorShare = new(big.Int).Mul(seizeShares, big.NewInt(int64(liquidatorBps)))
	liquidatorShare.Quo(liquidatorShare, bpsDenom)
	protocolShare = new(big.Int).Mul(seizeShares, big.NewInt(int64(protocolBps)))
	protocolShare.Quo(protocolShare, bpsDenom)
	developerShare = new(big.Int).Sub(seizeShares, liquidatorShare)
	developerShare.Sub(developerShare, protocolShare)
	return liquidatorShare, protocolShare, developerShare, nil
}

// --- Persistence (internal/ledgerstore) ---

// Snapshot is the serializable form of the manager's policy state. Listed
// markets themselves are not included — ledgerstore does not register
// markets, so each must already be listed via SupportMarket before
// Restore is called; Restore then overlays the remaining policy fields.
type Snapshot struct {
	CollateralFactor     map[common.Address]*big.Int
	Membership           map[common.Address]map[common.Address]bool
	Paused               bool
	CloseFactor          *big.Int
	LiquidationIncentive *big.Int
}

// Snapshot returns a copy of the manager's current policy state.
func (r *Manager) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cf := make(map[common.Address]*big.Int, len(r.collateralFactor))
	for addr, v := range r.collateralFactor {
		cf[addr] = new(big.Int).Set(v)
	}
	membership := make(map[common.Address]map[common.Address]bool, len(r.membership))
	for account, set := range r.membership {
		copied := make(map[common.Address]bool, len(set))
		for addr, v := range set {
			copied[addr] = v
		}
		membership[account] = copied
	}
	return Snapshot{
		CollateralFactor:     cf,
		Membership:           membership,
		Paused:               r.paused,
		CloseFactor:          new(big.Int).Set(r.closeFactor),
		LiquidationIncentive: new(big.Int).Set(r.liquidationIncentive),
	}
}

// Restore overlays s onto the manager's policy state. Markets named in s
// must already be listed via SupportMarket.
func (r *Manager) Restore(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for addr, v := range s.CollateralFactor {
		if _, ok := r.markets[addr]; ok {
			r.collateralFactor[addr] = new(big.Int).Set(v)
		}
	}
	r.membership = make(map[common.Address]map[common.Address]bool, len(s.Membership))
	for account, set := range s.Membership {
		copied := make(map[common.Address]bool, len(set))
		for addr, v := range set {
			copied[addr] = v
		}
		r.membership[account] = copied
	}
	r.paused = s.Paused
	r.closeFactor = new(big.Int).Set(s.CloseFactor)
	r.liquidationIncentive = new(big.Int).Set(s.LiquidationIncentive)
}
