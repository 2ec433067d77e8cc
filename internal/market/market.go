// Package market implements the per-market Compound-style accounting
// engine: supply receipts, borrows carried at a shared interest index,
// reserves, and the parameters that drive them. Grounded throughout on the
// teacher's native/lending/engine.go state-machine shape (accrue-then-act
// entry points, fee routing on borrow, checks-effects-interactions
// ordering) generalized onto this module's own WAD fixed-point math
// instead of the teacher's ray-based one.
package market

import (
	"bytes"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"marketcore/internal/errs"
	"marketcore/internal/events"
	"marketcore/internal/fixedpoint"
	"marketcore/internal/ratemodel"
	"marketcore/internal/token"
)

// RiskGate is the permission collaborator a Market consults before every
// mutating operation, per spec §4.3/§4.4. Satisfied by *risk.Manager
// without either package importing the other.
type RiskGate interface {
	MintAllowed(market, minter common.Address, amount *big.Int) error
	RedeemAllowed(market, redeemer common.Address, shares *big.Int) error
	BorrowAllowed(market, borrower common.Address, amount *big.Int) error
	RepayAllowed(market, payer common.Address) error
	SeizeAllowed(market, caller common.Address) error
	LiquidateAllowed(debtMarket, collateralMarket, liquidator, borrower common.Address, repayAmount *big.Int) (seizeShares *big.Int, err error)
}

// BorrowSnapshot is a borrower's principal and the index it was last
// refreshed against.
type BorrowSnapshot struct {
	Principal *big.Int
	Index     *big.Int
}

// Params is a market's immutable-at-creation configuration.
type Params struct {
	Address             common.Address
	Underlying          common.Address
	Decimals            uint8
	RateModel           *ratemodel.Params
	ReserveFactor       *big.Int
	InitialExchangeRate *big.Int
}

// Market is the sole mutator of its own cash/borrows/reserves/shares, per
// spec §3's ownership rule.
type Market struct {
	mu sync.RWMutex

	address             common.Address
	underlying          common.Address
	decimals            uint8
	rateModel           *ratemodel.Params
	reserveFactor       *big.Int
	initialExchangeRate *big.Int

	cash          *big.Int
	totalBorrows  *big.Int
	totalReserves *big.Int
	borrowIndex   *big.Int
	accrualTime   uint64
	totalShares   *big.Int

	shares  map[common.Address]*big.Int
	borrows map[common.Address]BorrowSnapshot

	// developerFeeBps/developerFeeRecipient implement SPEC_FULL §4.3.1:
	// an optional basis-point fee deducted from a borrow and routed to a
	// collector. Zero/zero-address degenerates to the unmodified core
	// borrow behavior.
	developerFeeBps       uint32
	developerFeeCapBps    uint32
	developerFeeRecipient common.Address

	token   token.Token
	risk    RiskGate
	emitter events.Emitter
}

// New constructs a Market with zeroed accounting state.
func New(p Params, t token.Token, risk RiskGate, emitter events.Emitter) *Market {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	return &Market{
		address:             p.Address,
		underlying:          p.Underlying,
		decimals:            p.Decimals,
		rateModel:           p.RateModel,
		reserveFactor:       p.ReserveFactor,
		initialExchangeRate: p.InitialExchangeRate,
		cash:                big.NewInt(0),
		totalBorrows:        big.NewInt(0),
		totalReserves:       big.NewInt(0),
		borrowIndex:         fixedpoint.One(),
		totalShares:         big.NewInt(0),
		shares:              make(map[common.Address]*big.Int),
		borrows:             make(map[common.Address]BorrowSnapshot),
		token:               t,
		risk:                risk,
		emitter:             emitter,
	}
}

// Address returns the market's own identity, used by RiskManager listing
// and by cross-market liquidation.
func (m *Market) Address() common.Address { return m.address }

// Underlying returns the asset this market accepts as collateral/cash.
func (m *Market) Underlying() common.Address { return m.underlying }

// SetDeveloperFee configures the basis-point fee routed to recipient on
// every borrow, capped by capBps. Authority-gated at the ProtocolHost
// layer.
func (m *Market) SetDeveloperFee(bps, capBps uint32, recipient common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.developerFeeBps = bps
	m.developerFeeCapBps = capBps
	m.developerFeeRecipient = recipient
}

// SetReserveFactor updates the share of accrued interest routed to
// reserves on every future accrual tick. Authority-gated at the
// ProtocolHost layer (spec §4.6 set_reserve_factor).
func (m *Market) SetReserveFactor(factor *big.Int) error {
	if factor.Sign() < 0 || factor.Cmp(fixedpoint.One()) > 0 {
		return errs.ErrInvalidReserveFactor
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserveFactor = new(big.Int).Set(factor)
	return nil
}

// SetRateModel swaps the kinked interest-rate curve this market accrues
// against. Authority-gated at the ProtocolHost layer (spec §4.6
// set_interest_rate_model).
func (m *Market) SetRateModel(rateModel *ratemodel.Params) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateModel = rateModel
}

// --- Read-only query surface (spec §6) ---

// ExchangeRateStored returns the current underlying-per-share ratio without
// accruing interest first.
func (m *Market) ExchangeRateStored() (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exchangeRateStoredLocked()
}

func (m *Market) exchangeRateStoredLocked() (*big.Int, error) {
	if m.totalShares.Sign() == 0 {
		return new(big.Int).Set(m.initialExchangeRate), nil
	}
	numerator := new(big.Int).Add(m.cash, m.totalBorrows)
	numerator.Sub(numerator, m.totalReserves)
	return fixedpoint.Div(numerator, m.totalShares)
}

// Cash returns the market's current underlying balance.
func (m *Market) Cash() *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return new(big.Int).Set(m.cash)
}

// TotalBorrows returns the market's current aggregate debt.
func (m *Market) TotalBorrows() *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return new(big.Int).Set(m.totalBorrows)
}

// TotalReserves returns the market's current protocol reserves.
func (m *Market) TotalReserves() *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return new(big.Int).Set(m.totalReserves)
}

// TotalShares returns the market's current aggregate supply-share count.
func (m *Market) TotalShares() *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return new(big.Int).Set(m.totalShares)
}

// AccrualTime returns the clock value of the last accrual tick.
func (m *Market) AccrualTime() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accrualTime
}

// SharesOf returns an account's current supply-share balance.
func (m *Market) SharesOf(account common.Address) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sharesOfLocked(account)
}

func (m *Market) sharesOfLocked(account common.Address) *big.Int {
	v := m.shares[account]
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// BorrowBalanceCurrent returns an account's live debt. Callers wanting an
// up-to-date figure should Accrue first; this method does not accrue on
// its own.
func (m *Market) BorrowBalanceCurrent(account common.Address) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.borrowBalanceLocked(account)
}

func (m *Market) borrowBalanceLocked(account common.Address) (*big.Int, error) {
	snap, ok := m.borrows[account]
	if !ok || snap.Principal.Sign() == 0 {
		return big.NewInt(0), nil
	}
	debt, err := fixedpoint.Mul(snap.Principal, m.borrowIndex)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Div(debt, snap.Index)
}

// --- Accrual ---

// Accrue advances the interest index to now, a no-op if now equals the
// market's accrual_time.
func (m *Market) Accrue(now uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accrueLocked(now)
}

func (m *Market) accrueLocked(now uint64) error {
	if now == m.accrualTime {
		return nil
	}
	elapsed := new(big.Int).SetUint64(now - m.accrualTime)
	rate, err := m.rateModel.BorrowRate(m.cash, m.totalBorrows, m.totalReserves)
	if err != nil {
		return err
	}
	simpleFactor := new(big.Int).Mul(rate, elapsed)

	interest, err := fixedpoint.Mul(simpleFactor, m.totalBorrows)
	if err != nil {
		return err
	}
	reserveShare, err := fixedpoint.Mul(interest, m.reserveFactor)
	if err != nil {
		return err
	}
	indexDelta, err := fixedpoint.Mul(simpleFactor, m.borrowIndex)
	if err != nil {
		return err
	}

	cashPrior := new(big.Int).Set(m.cash)
	m.totalBorrows = new(big.Int).Add(m.totalBorrows, interest)
	m.totalReserves = new(big.Int).Add(m.totalReserves, reserveShare)
	m.borrowIndex = new(big.Int).Add(m.borrowIndex, indexDelta)
	m.accrualTime = now

	m.emitter.Emit(events.AccrueInterest{
		Market:       m.address.Hex(),
		CashPrior:    cashPrior,
		Interest:     interest,
		BorrowIndex:  new(big.Int).Set(m.borrowIndex),
		TotalBorrows: new(big.Int).Set(m.totalBorrows),
	})
	return nil
}

// --- Mutating operations (spec §4.3) ---

// Supply pulls amount of underlying from payer and credits onBehalf with
// the minted shares.
func (m *Market) Supply(now uint64, payer, onBehalf common.Address, amount *big.Int) (*big.Int, error) {
	if amount.Sign() <= 0 {
		return nil, errs.ErrZeroAmount
	}
	m.mu.Lock()
	if err := m.accrueLocked(now); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	// The risk pre-hook is consulted with m.mu released: it may read this
	// same market's state through RiskGate's own locking (e.g. while
	// walking an account's entered markets), which would self-deadlock
	// against the RWMutex held here.
	if err := m.risk.MintAllowed(m.address, onBehalf, amount); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rate, err := m.exchangeRateStoredLocked()
	if err != nil {
		return nil, err
	}
	sharesMinted, err := fixedpoint.Div(amount, rate)
	if err != nil {
		return nil, err
	}

	if err := m.token.TransferFrom(payer, amount); err != nil {
		return nil, errs.ErrTransferFailed
	}

	current := m.sharesOfLocked(onBehalf)
	m.shares[onBehalf] = new(big.Int).Add(current, sharesMinted)
	m.totalShares = new(big.Int).Add(m.totalShares, sharesMinted)
	m.cash = new(big.Int).Add(m.cash, amount)

	m.emitter.Emit(events.Mint{
		Market: m.address.Hex(),
		Minter: onBehalf.Hex(),
		Amount: new(big.Int).Set(amount),
		Shares: new(big.Int).Set(sharesMinted),
	})
	return sharesMinted, nil
}

// WithdrawShares burns shares of from's supply balance and pushes the
// corresponding underlying to to.
func (m *Market) WithdrawShares(now uint64, from, to common.Address, shares *big.Int) (*big.Int, error) {
	if shares.Sign() <= 0 {
		return nil, errs.ErrZeroAmount
	}
	m.mu.Lock()
	if err := m.accrueLocked(now); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	if err := m.risk.RedeemAllowed(m.address, from, shares); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rate, err := m.exchangeRateStoredLocked()
	if err != nil {
		return nil, err
	}
	amount, err := fixedpoint.Mul(shares, rate)
	if err != nil {
		return nil, err
	}
	if amount.Cmp(m.cash) > 0 {
		return nil, errs.ErrInsufficientLiquidity
	}

	return amount, m.redeemCommon(from, to, shares, amount)
}

// WithdrawUnderlying burns as many shares of from's supply balance as are
// needed to deliver exactly amount of underlying to to. The share count is
// amount / exchange rate truncated toward zero, so the burned shares can be
// worth slightly less than amount; that rounding difference falls on the
// remaining suppliers, not on the withdrawer.
func (m *Market) WithdrawUnderlying(now uint64, from, to common.Address, amount *big.Int) (*big.Int, error) {
	if amount.Sign() <= 0 {
		return nil, errs.ErrZeroAmount
	}
	m.mu.Lock()
	if err := m.accrueLocked(now); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	rate, err := m.exchangeRateStoredLocked()
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	shares, err := fixedpoint.Div(amount, rate)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	if err := m.risk.RedeemAllowed(m.address, from, shares); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if amount.Cmp(m.cash) > 0 {
		return nil, errs.ErrInsufficientLiquidity
	}

	return shares, m.redeemCommon(from, to, shares, amount)
}

func (m *Market) redeemCommon(from, to common.Address, shares, amount *big.Int) error {
	held := m.sharesOfLocked(from)
	if shares.Cmp(held) > 0 {
		return errs.ErrInsufficientCollateral
	}
	m.shares[from] = new(big.Int).Sub(held, shares)
	m.totalShares = new(big.Int).Sub(m.totalShares, shares)
	m.cash = new(big.Int).Sub(m.cash, amount)

	if err := m.token.Transfer(to, amount); err != nil {
		// Roll back the accounting mutation: no partial state persists
		// across a failed interaction, per spec §7.
		m.shares[from] = held
		m.totalShares = new(big.Int).Add(m.totalShares, shares)
		m.cash = new(big.Int).Add(m.cash, amount)
		return errs.ErrTransferFailed
	}

	m.emitter.Emit(events.Redeem{
		Market:   m.address.Hex(),
		Redeemer: from.Hex(),
		Amount:   new(big.Int).Set(amount),
		Shares:   new(big.Int).Set(shares),
	})
	return nil
}

// Borrow draws amount of underlying against borrower's collateral,
// deducting the market's configured developer fee (if any) before the
// underlying is pushed, while recording the full amount as debt.
func (m *Market) Borrow(now uint64, borrower common.Address, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return errs.ErrZeroAmount
	}
	m.mu.Lock()
	if err := m.accrueLocked(now); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	// BorrowAllowed auto-enters this market and walks every market the
	// borrower has entered, including this one — it must run with m.mu
	// released or it deadlocks re-locking this market's own mutex.
	if err := m.risk.BorrowAllowed(m.address, borrower, amount); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if amount.Cmp(m.cash) > 0 {
		return errs.ErrInsufficientLiquidity
	}

	debt, err := m.borrowBalanceLocked(borrower)
	if err != nil {
		return err
	}
	newPrincipal := new(big.Int).Add(debt, amount)

	payout := new(big.Int).Set(amount)
	feeBps := m.developerFeeBps
	if feeBps > m.developerFeeCapBps {
		feeBps = m.developerFeeCapBps
	}
	var fee *big.Int
	if feeBps > 0 && !isZeroAddress(m.developerFeeRecipient) {
		fee = new(big.Int).Mul(amount, big.NewInt(int64(feeBps)))
		fee.Quo(fee, big.NewInt(10000))
		payout.Sub(payout, fee)
	}

	if err := m.token.Transfer(borrower, payout); err != nil {
		return errs.ErrTransferFailed
	}
	if fee != nil && fee.Sign() > 0 {
		if err := m.token.Transfer(m.developerFeeRecipient, fee); err != nil {
			return errs.ErrTransferFailed
		}
	}

	m.borrows[borrower] = BorrowSnapshot{Principal: newPrincipal, Index: new(big.Int).Set(m.borrowIndex)}
	m.totalBorrows = new(big.Int).Add(m.totalBorrows, amount)
	m.cash = new(big.Int).Sub(m.cash, amount)

	m.emitter.Emit(events.Borrow{
		Market:       m.address.Hex(),
		Borrower:     borrower.Hex(),
		Amount:       new(big.Int).Set(amount),
		NewDebt:      new(big.Int).Set(newPrincipal),
		TotalBorrows: new(big.Int).Set(m.totalBorrows),
	})
	return nil
}

// Repay settles amount (or Amount.All) of borrower's debt, pulling the
// settled quantity from payer.
func (m *Market) Repay(now uint64, payer, borrower common.Address, amount Amount) (*big.Int, error) {
	m.mu.Lock()
	if err := m.accrueLocked(now); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	if err := m.risk.RepayAllowed(m.address, payer); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	debt, err := m.borrowBalanceLocked(borrower)
	if err != nil {
		return nil, err
	}
	requested := amount.resolve(debt)
	if requested.Sign() <= 0 {
		return nil, errs.ErrZeroAmount
	}
	actual := requested
	if actual.Cmp(debt) > 0 {
		actual = new(big.Int).Set(debt)
	}

	if err := m.token.TransferFrom(payer, actual); err != nil {
		return nil, errs.ErrTransferFailed
	}

	newDebt := new(big.Int).Sub(debt, actual)
	if newDebt.Sign() == 0 {
		delete(m.borrows, borrower)
	} else {
		m.borrows[borrower] = BorrowSnapshot{Principal: newDebt, Index: new(big.Int).Set(m.borrowIndex)}
	}
	m.totalBorrows = new(big.Int).Sub(m.totalBorrows, actual)

	m.emitter.Emit(events.RepayBorrow{
		Market:       m.address.Hex(),
		Payer:        payer.Hex(),
		Borrower:     borrower.Hex(),
		Amount:       new(big.Int).Set(actual),
		NewDebt:      new(big.Int).Set(newDebt),
		TotalBorrows: new(big.Int).Set(m.totalBorrows),
	})
	return actual, nil
}

// Seize transfers shares of borrower's supply balance to liquidator without
// moving underlying, per spec §4.3. caller must be a listed market — in
// practice, the debt market driving a Liquidate call.
func (m *Market) Seize(caller, liquidator, borrower common.Address, shares *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seizeLocked(caller, liquidator, borrower, shares)
}

func (m *Market) seizeLocked(caller, liquidator, borrower common.Address, shares *big.Int) error {
	if err := m.risk.SeizeAllowed(m.address, caller); err != nil {
		return err
	}
	held := m.sharesOfLocked(borrower)
	if shares.Cmp(held) > 0 {
		shares = held
	}
	m.shares[borrower] = new(big.Int).Sub(held, shares)
	liquidatorShares := m.sharesOfLocked(liquidator)
	m.shares[liquidator] = new(big.Int).Add(liquidatorShares, shares)
	return nil
}

// lockPair locks first and then second (second skipped when the two are the
// same market), matching the deterministic address order Liquidate
// establishes, so concurrent liquidations can never acquire the pair in
// opposite order.
func lockPair(first, second *Market, sameMarket bool) {
	first.mu.Lock()
	if !sameMarket {
		second.mu.Lock()
	}
}

// unlockPair reverses lockPair.
func unlockPair(first, second *Market, sameMarket bool) {
	if !sameMarket {
		second.mu.Unlock()
	}
	first.mu.Unlock()
}

// Liquidate repays up to close_factor*debt of borrower's obligation to this
// market on liquidator's behalf, then seizes the equivalent (plus
// incentive) shares from collateral. Debt and collateral market locks are
// acquired here, in deterministic address order, so a reimplementation
// running markets concurrently cannot deadlock (spec §5). Both locks are
// released for the duration of the risk pre-hook: LiquidateAllowed reads
// every market the borrower has entered, including debt and collateral
// themselves, through its own locking, and would deadlock re-locking a
// market this call still held.
func (m *Market) Liquidate(now uint64, liquidator, borrower common.Address, repayAmount *big.Int, collateral *Market) error {
	if liquidator == borrower {
		return errs.ErrSelfLiquidation
	}
	if repayAmount.Sign() <= 0 {
		return errs.ErrZeroAmount
	}

	first, second := m, collateral
	sameMarket := m == collateral
	if !sameMarket && bytes.Compare(m.address.Bytes(), collateral.address.Bytes()) > 0 {
		first, second = collateral, m
	}

	lockPair(first, second, sameMarket)
	if err := m.accrueLocked(now); err != nil {
		unlockPair(first, second, sameMarket)
		return err
	}
	if !sameMarket {
		if err := collateral.accrueLocked(now); err != nil {
			unlockPair(first, second, sameMarket)
			return err
		}
	}
	unlockPair(first, second, sameMarket)

	seizeShares, err := m.risk.LiquidateAllowed(m.address, collateral.address, liquidator, borrower, repayAmount)
	if err != nil {
		return err
	}

	lockPair(first, second, sameMarket)
	defer unlockPair(first, second, sameMarket)

	debt, err := m.borrowBalanceLocked(borrower)
	if err != nil {
		return err
	}
	actual := repayAmount
	if actual.Cmp(debt) > 0 {
		actual = new(big.Int).Set(debt)
	}

	if err := m.token.TransferFrom(liquidator, actual); err != nil {
		return errs.ErrTransferFailed
	}
	newDebt := new(big.Int).Sub(debt, actual)
	if newDebt.Sign() == 0 {
		delete(m.borrows, borrower)
	} else {
		m.borrows[borrower] = BorrowSnapshot{Principal: newDebt, Index: new(big.Int).Set(m.borrowIndex)}
	}
	m.totalBorrows = new(big.Int).Sub(m.totalBorrows, actual)

	m.emitter.Emit(events.RepayBorrow{
		Market:       m.address.Hex(),
		Payer:        liquidator.Hex(),
		Borrower:     borrower.Hex(),
		Amount:       new(big.Int).Set(actual),
		NewDebt:      new(big.Int).Set(newDebt),
		TotalBorrows: new(big.Int).Set(m.totalBorrows),
	})

	if err := collateral.seizeLocked(m.address, liquidator, borrower, seizeShares); err != nil {
		return err
	}

	m.emitter.Emit(events.LiquidateBorrow{
		DebtMarket:       m.address.Hex(),
		Liquidator:       liquidator.Hex(),
		Borrower:         borrower.Hex(),
		RepayAmount:      new(big.Int).Set(actual),
		CollateralMarket: collateral.address.Hex(),
		SeizeShares:      new(big.Int).Set(seizeShares),
	})
	return nil
}

// ReduceReserves withdraws amount of protocol reserves to recipient,
// resolving SPEC_FULL §4.3.2. Authority-gated at the ProtocolHost layer.
func (m *Market) ReduceReserves(now uint64, recipient common.Address, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return errs.ErrZeroAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.accrueLocked(now); err != nil {
		return err
	}
	if amount.Cmp(m.totalReserves) > 0 {
		return errs.ErrInsufficientLiquidity
	}
	remainingCash := new(big.Int).Sub(m.cash, amount)
	remainingReserves := new(big.Int).Sub(m.totalReserves, amount)
	check := new(big.Int).Add(remainingCash, m.totalBorrows)
	if check.Cmp(remainingReserves) < 0 {
		return errs.ErrInsufficientLiquidity
	}

	if err := m.token.Transfer(recipient, amount); err != nil {
		return errs.ErrTransferFailed
	}
	m.cash = remainingCash
	m.totalReserves = remainingReserves

	m.emitter.Emit(events.ReservesReduced{
		Market:    m.address.Hex(),
		Recipient: recipient.Hex(),
		Amount:    new(big.Int).Set(amount),
	})
	return nil
}

func isZeroAddress(addr common.Address) bool {
	return addr == common.Address{}
}

// --- Persistence (internal/ledgerstore) ---

// Snapshot is the serializable form of a Market's mutable state, used by
// internal/ledgerstore to persist and restore markets across restarts.
type Snapshot struct {
	Cash          *big.Int
	TotalBorrows  *big.Int
	TotalReserves *big.Int
	BorrowIndex   *big.Int
	TotalShares   *big.Int
	AccrualTime   uint64
	Shares        map[common.Address]*big.Int
	Borrows       map[common.Address]BorrowSnapshot

	DeveloperFeeBps       uint32
	DeveloperFeeCapBps    uint32
	DeveloperFeeRecipient common.Address
}

// Snapshot returns a copy of the market's current mutable state.
func (m *Market) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	shares := make(map[common.Address]*big.Int, len(m.shares))
	for addr, v := range m.shares {
		shares[addr] = new(big.Int).Set(v)
	}
	borrows := make(map[common.Address]BorrowSnapshot, len(m.borrows))
	for addr, v := range m.borrows {
		borrows[addr] = BorrowSnapshot{Principal: new(big.Int).Set(v.Principal), Index: new(big.Int).Set(v.Index)}
	}
	return Snapshot{
		Cash:                  new(big.Int).Set(m.cash),
		TotalBorrows:          new(big.Int).Set(m.totalBorrows),
		TotalReserves:         new(big.Int).Set(m.totalReserves),
		BorrowIndex:           new(big.Int).Set(m.borrowIndex),
		TotalShares:           new(big.Int).Set(m.totalShares),
		AccrualTime:           m.accrualTime,
		Shares:                shares,
		Borrows:               borrows,
		DeveloperFeeBps:       m.developerFeeBps,
		DeveloperFeeCapBps:    m.developerFeeCapBps,
		DeveloperFeeRecipient: m.developerFeeRecipient,
	}
}

// Restore replaces the market's mutable state with s, bypassing accrual and
// risk checks. Used only at startup, before the market is exposed to
// traffic.
func (m *Market) Restore(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cash = new(big.Int).Set(s.Cash)
	m.totalBorrows = new(big.Int).Set(s.TotalBorrows)
	m.totalReserves = new(big.Int).Set(s.TotalReserves)
	m.borrowIndex = new(big.Int).Set(s.BorrowIndex)
	m.totalShares = new(big.Int).Set(s.TotalShares)
	m.accrualTime = s.AccrualTime
	m.developerFeeBps = s.DeveloperFeeBps
	m.developerFeeCapBps = s.DeveloperFeeCapBps
	m.developerFeeRecipient = s.DeveloperFeeRecipient

	m.shares = make(map[common.Address]*big.Int, len(s.Shares))
	for addr, v := range s.Shares {
		m.shares[addr] = new(big.Int).Set(v)
	}
	m.borrows = make(map[common.Address]BorrowSnapshot, len(s.Borrows))
	for addr, v := range s.Borrows {
		m.borrows[addr] = BorrowSnapshot{Principal: new(big.Int).Set(v.Principal), Index: new(big.Int).Set(v.Index)}
	}
}
