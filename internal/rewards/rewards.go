// Package rewards implements the Synthetix-style staking reward
// accumulator: a finite rewards budget distributed pro-rata over a
// configurable period, tracked via a time-weighted reward-per-token
// integral. No pack repo implements this pattern directly — it is
// original code grounded on spec §4.5's own formulas, built with the same
// accrue-then-mutate discipline and events.Emitter/clock.Clock
// collaborators the rest of this module uses.
package rewards

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"marketcore/internal/clock"
	"marketcore/internal/errs"
	"marketcore/internal/events"
	"marketcore/internal/token"
)

// Precision is the fixed-point scale the reward-per-token integral is
// carried at, per spec §4.5.
var Precision = big.NewInt(0).Exp(big.NewInt(10), big.NewInt(18), nil)

// Pool is a single RewardPool of spec §3/§4.5.
type Pool struct {
	mu       sync.Mutex
	inFlight bool

	address         common.Address
	stakingAsset    token.Token
	rewardsAsset    token.Token
	distributor     common.Address
	rewardsDuration uint64

	periodFinish         uint64
	rewardRate           *big.Int
	rewardPerTokenStored *big.Int
	lastUpdateTime       uint64
	totalStaked          *big.Int

	balance     map[common.Address]*big.Int
	userRptPaid map[common.Address]*big.Int
	rewardsOwed map[common.Address]*big.Int

	clock   clock.Clock
	emitter events.Emitter
}

// Params configures a new Pool.
type Params struct {
	Address         common.Address
	StakingAsset    token.Token
	RewardsAsset    token.Token
	Distributor     common.Address
	RewardsDuration uint64
}

// New constructs a Pool with zeroed accounting state.
func New(p Params, c clock.Clock, emitter events.Emitter) *Pool {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	return &Pool{
		address:              p.Address,
		stakingAsset:         p.StakingAsset,
		rewardsAsset:         p.RewardsAsset,
		distributor:          p.Distributor,
		rewardsDuration:      p.RewardsDuration,
		rewardRate:           big.NewInt(0),
		rewardPerTokenStored: big.NewInt(0),
		totalStaked:          big.NewInt(0),
		balance:              make(map[common.Address]*big.Int),
		userRptPaid:          make(map[common.Address]*big.Int),
		rewardsOwed:          make(map[common.Address]*big.Int),
		clock:                c,
		emitter:              emitter,
	}
}

func (p *Pool) enter() error {
	if p.inFlight {
		return errs.ErrReentrant
	}
	p.inFlight = true
	return nil
}

func (p *Pool) leave() {
	p.inFlight = false
}

func (p *Pool) effectiveTime(now uint64) uint64 {
	if now > p.periodFinish {
		return p.periodFinish
	}
	return now
}

// RewardPerToken returns the time-weighted reward density as of now,
// without mutating any state.
func (p *Pool) RewardPerToken(now uint64) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rewardPerTokenLocked(now)
}

func (p *Pool) rewardPerTokenLocked(now uint64) *big.Int {
	if p.totalStaked.Sign() == 0 {
		return new(big.Int).Set(p.rewardPerTokenStored)
	}
	elapsed := new(big.Int).SetUint64(p.effectiveTime(now) - p.lastUpdateTime)
	numerator := new(big.Int).Mul(elapsed, p.rewardRate)
	numerator.Mul(numerator, Precision)
	delta := new(big.Int).Quo(numerator, p.totalStaked)
	return new(big.Int).Add(p.rewardPerTokenStored, delta)
}

// Earned returns account's total claimable rewards as of now.
func (p *Pool) Earned(now uint64, account common.Address) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.earnedLocked(now, account)
}

func (p *Pool) earnedLocked(now uint64, account common.Address) *big.Int {
	rpt := p.rewardPerTokenLocked(now)
	paid := p.userRptPaid[account]
	if paid == nil {
		paid = big.NewInt(0)
	}
	delta := new(big.Int).Sub(rpt, paid)
	bal := p.balance[account]
	if bal == nil {
		bal = big.NewInt(0)
	}
	earned := new(big.Int).Mul(bal, delta)
	earned.Quo(earned, Precision)
	owed := p.rewardsOwed[account]
	if owed == nil {
		owed = big.NewInt(0)
	}
	return earned.Add(earned, owed)
}

// update performs the mandatory pre-mutation bookkeeping of spec §4.5: it
// must run before every operation's effect, including notify_reward (whose
// account is the zero address).
func (p *Pool) update(now uint64, account common.Address) {
	p.rewardPerTokenStored = p.rewardPerTokenLocked(now)
	p.lastUpdateTime = p.effectiveTime(now)
	if account == (common.Address{}) {
		return
	}
	p.rewardsOwed[account] = p.earnedLocked(now, account)
	p.userRptPaid[account] = new(big.Int).Set(p.rewardPerTokenStored)
}

// --- Operations (spec §4.5) ---

// Stake pulls amount of the staking asset from account and credits its
// balance.
func (p *Pool) Stake(now uint64, account common.Address, amount *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(); err != nil {
		return err
	}
	defer p.leave()

	p.update(now, account)
	if amount.Sign() <= 0 {
		return errs.ErrZeroAmount
	}
	if err := p.stakingAsset.TransferFrom(account, amount); err != nil {
		return errs.ErrTransferFailed
	}
	p.totalStaked = new(big.Int).Add(p.totalStaked, amount)
	bal := p.balance[account]
	if bal == nil {
		bal = big.NewInt(0)
	}
	p.balance[account] = new(big.Int).Add(bal, amount)

	p.emitter.Emit(events.Staked{Pool: p.address.Hex(), Account: account.Hex(), Amount: new(big.Int).Set(amount)})
	return nil
}

// Withdraw returns amount of the staking asset to account.
func (p *Pool) Withdraw(now uint64, account common.Address, amount *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(); err != nil {
		return err
	}
	defer p.leave()

	p.update(now, account)
	if amount.Sign() <= 0 {
		return errs.ErrZeroAmount
	}
	bal := p.balance[account]
	if bal == nil {
		bal = big.NewInt(0)
	}
	if amount.Cmp(bal) > 0 {
		return errs.ErrInsufficientCollateral
	}
	p.balance[account] = new(big.Int).Sub(bal, amount)
	p.totalStaked = new(big.Int).Sub(p.totalStaked, amount)
	if err := p.stakingAsset.Transfer(account, amount); err != nil {
		p.balance[account] = bal
		p.totalStaked = new(big.Int).Add(p.totalStaked, amount)
		return errs.ErrTransferFailed
	}

	p.emitter.Emit(events.Withdrawn{Pool: p.address.Hex(), Account: account.Hex(), Amount: new(big.Int).Set(amount)})
	return nil
}

// Claim pays out account's accrued rewards.
func (p *Pool) Claim(now uint64, account common.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	p.update(now, account)
	owed := p.rewardsOwed[account]
	if owed == nil || owed.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := p.rewardsAsset.Transfer(account, owed); err != nil {
		return nil, errs.ErrTransferFailed
	}
	p.rewardsOwed[account] = big.NewInt(0)

	p.emitter.Emit(events.RewardPaid{Pool: p.address.Hex(), Account: account.Hex(), Amount: new(big.Int).Set(owed)})
	return owed, nil
}

// Exit withdraws account's full staked balance and claims its rewards.
func (p *Pool) Exit(now uint64, account common.Address) (*big.Int, error) {
	p.mu.Lock()
	bal := p.balance[account]
	p.mu.Unlock()
	if bal == nil {
		bal = big.NewInt(0)
	}
	if bal.Sign() > 0 {
		if err := p.Withdraw(now, account, bal); err != nil {
			return nil, err
		}
	}
	return p.Claim(now, account)
}

// --- Period administration (spec §4.5) ---

// NotifyReward starts or tops up the current rewards period with an amount
// already held by the pool's rewards-asset custody.
func (p *Pool) NotifyReward(now uint64, caller common.Address, amount *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.distributor {
		return errs.ErrUnauthorized
	}
	if err := p.enter(); err != nil {
		return err
	}
	defer p.leave()
	return p.notifyRewardLocked(now, amount)
}

// Fund pulls amount of the rewards asset from funder into the pool's
// custody, then starts or tops up the period with it — SPEC_FULL §4.5.1's
// administrative convenience.
func (p *Pool) Fund(now uint64, caller, funder common.Address, amount *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.distributor {
		return errs.ErrUnauthorized
	}
	if err := p.enter(); err != nil {
		return err
	}
	defer p.leave()

	if err := p.rewardsAsset.TransferFrom(funder, amount); err != nil {
		return errs.ErrTransferFailed
	}
	return p.notifyRewardLocked(now, amount)
}

func (p *Pool) notifyRewardLocked(now uint64, amount *big.Int) error {
	p.update(now, common.Address{})

	duration := new(big.Int).SetUint64(p.rewardsDuration)
	var newRate *big.Int
	if now >= p.periodFinish {
		newRate = new(big.Int).Quo(amount, duration)
	} else {
		remaining := new(big.Int).SetUint64(p.periodFinish - now)
		leftover := new(big.Int).Mul(remaining, p.rewardRate)
		newRate = new(big.Int).Add(amount, leftover)
		newRate.Quo(newRate, duration)
	}

	maxRate := new(big.Int).Quo(p.rewardsAsset.BalanceOf(), duration)
	if newRate.Cmp(maxRate) > 0 {
		return errs.ErrRewardTooHigh
	}

	p.rewardRate = newRate
	p.lastUpdateTime = now
	p.periodFinish = now + p.rewardsDuration

	p.emitter.Emit(events.RewardAdded{Pool: p.address.Hex(), Amount: new(big.Int).Set(amount), Rate: new(big.Int).Set(newRate)})
	return nil
}

// SetRewardsDuration updates the period length for the next notify_reward
// call. Requires the current period to have finished.
func (p *Pool) SetRewardsDuration(now uint64, caller common.Address, d uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.distributor {
		return errs.ErrUnauthorized
	}
	if now <= p.periodFinish {
		return errs.ErrRewardPeriodNotFinished
	}
	if d == 0 {
		return errs.ErrZeroAmount
	}
	p.rewardsDuration = d
	return nil
}

// --- Query surface (spec §6) ---

func (p *Pool) BalanceOf(account common.Address) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	bal := p.balance[account]
	if bal == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(bal)
}

func (p *Pool) TotalStaked() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.totalStaked)
}

func (p *Pool) PeriodFinish() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.periodFinish
}

func (p *Pool) RewardRate() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.rewardRate)
}

func (p *Pool) RewardsDuration() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rewardsDuration
}

func (p *Pool) Address() common.Address { return p.address }

// --- Persistence (internal/ledgerstore) ---

// Snapshot is the serializable form of a Pool's mutable state.
type Snapshot struct {
	PeriodFinish         uint64
	RewardRate           *big.Int
	RewardPerTokenStored *big.Int
	LastUpdateTime       uint64
	TotalStaked          *big.Int
	Balance              map[common.Address]*big.Int
	UserRptPaid          map[common.Address]*big.Int
	RewardsOwed          map[common.Address]*big.Int
	RewardsDuration      uint64
}

// Snapshot returns a copy of the pool's current mutable state.
func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	balance := make(map[common.Address]*big.Int, len(p.balance))
	for addr, v := range p.balance {
		balance[addr] = new(big.Int).Set(v)
	}
	paid := make(map[common.Address]*big.Int, len(p.userRptPaid))
	for addr, v := range p.userRptPaid {
		paid[addr] = new(big.Int).Set(v)
	}
	owed := make(map[common.Address]*big.Int, len(p.rewardsOwed))
	for addr, v := range p.rewardsOwed {
		owed[addr] = new(big.Int).Set(v)
	}
	return Snapshot{
		PeriodFinish:         p.periodFinish,
		RewardRate:           new(big.Int).Set(p.rewardRate),
		RewardPerTokenStored: new(big.Int).Set(p.rewardPerTokenStored),
		LastUpdateTime:       p.lastUpdateTime,
		TotalStaked:          new(big.Int).Set(p.totalStaked),
		Balance:              balance,
		UserRptPaid:          paid,
		RewardsOwed:          owed,
		RewardsDuration:      p.rewardsDuration,
	}
}

// Restore replaces the pool's mutable state with s. Used only at startup,
// before the pool is exposed to traffic.
func (p *Pool) Restore(s Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.periodFinish = s.PeriodFinish
	p.rewardRate = new(big.Int).Set(s.RewardRate)
	p.rewardPerTokenStored = new(big.Int).Set(s.RewardPerTokenStored)
	p.lastUpdateTime = s.LastUpdateTime
	p.totalStaked = new(big.Int).Set(s.TotalStaked)
	p.rewardsDuration = s.RewardsDuration

	p.balance = make(map[common.Address]*big.Int, len(s.Balance))
	for addr, v := range s.Balance {
		p.balance[addr] = new(big.Int).Set(v)
	}
	p.userRptPaid = make(map[common.Address]*big.Int, len(s.UserRptPaid))
	for addr, v := range s.UserRptPaid {
		p.userRptPaid[addr] = new(big.Int).Set(v)
	}
	p.rewardsOwed = make(map[common.Address]*big.Int, len(s.RewardsOwed))
	for addr, v := range s.RewardsOwed {
		p.rewardsOwed[addr] = new(big.Int).Set(v)
	}
}
