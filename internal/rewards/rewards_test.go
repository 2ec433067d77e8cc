package rewards_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketcore/internal/errs"
	"marketcore/internal/rewards"
	"marketcore/internal/token"
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), rewards.Precision)
}

func newPool(t *testing.T, distributor common.Address, duration uint64) (*rewards.Pool, *token.MemToken, *token.MemToken) {
	t.Helper()
	staking := token.NewMemToken()
	rewardsAsset := token.NewMemToken()
	p := rewards.New(rewards.Params{
		Address:         common.HexToAddress("0xPool"),
		StakingAsset:    staking,
		RewardsAsset:    rewardsAsset,
		Distributor:     distributor,
		RewardsDuration: duration,
	}, nil, nil)
	return p, staking, rewardsAsset
}

func TestSingleStakerEarnsFullReward(t *testing.T) {
	distributor := common.HexToAddress("0xD")
	alice := common.HexToAddress("0xA")

	p, staking, rewardsAsset := newPool(t, distributor, 1000)
	staking.Mint(alice, wad(100))
	rewardsAsset.Mint(distributor, wad(1000))

	require.NoError(t, p.Stake(0, alice, wad(100)))
	require.NoError(t, p.Fund(0, distributor, distributor, wad(1000)))

	earned := p.Earned(1000, alice)
	assert.Equal(t, wad(1000), earned)
}

func TestTwoStakersSplitProportionally(t *testing.T) {
	distributor := common.HexToAddress("0xD")
	alice := common.HexToAddress("0xA")
	bob := common.HexToAddress("0xB")

	p, staking, rewardsAsset := newPool(t, distributor, 1000)
	staking.Mint(alice, wad(100))
	staking.Mint(bob, wad(300))
	rewardsAsset.Mint(distributor, wad(1000))

	require.NoError(t, p.Stake(0, alice, wad(100)))
	require.NoError(t, p.Stake(0, bob, wad(300)))
	require.NoError(t, p.Fund(0, distributor, distributor, wad(1000)))

	aliceEarned := p.Earned(1000, alice)
	bobEarned := p.Earned(1000, bob)

	assert.Equal(t, wad(250), aliceEarned)
	assert.Equal(t, wad(750), bobEarned)
}

func TestLateJoinerOnlyEarnsFromJoinTime(t *testing.T) {
	distributor := common.HexToAddress("0xD")
	alice := common.HexToAddress("0xA")
	bob := common.HexToAddress("0xB")

	p, staking, rewardsAsset := newPool(t, distributor, 1000)
	staking.Mint(alice, wad(100))
	staking.Mint(bob, wad(100))
	rewardsAsset.Mint(distributor, wad(1000))

	require.NoError(t, p.Stake(0, alice, wad(100)))
	require.NoError(t, p.Fund(0, distributor, distributor, wad(1000)))

	require.NoError(t, p.Stake(500, bob, wad(100)))

	aliceEarned := p.Earned(1000, alice)
	bobEarned := p.Earned(1000, bob)

	assert.Equal(t, wad(750), aliceEarned)
	assert.Equal(t, wad(250), bobEarned)
}

func TestClaimPaysAndZeroesOwed(t *testing.T) {
	distributor := common.HexToAddress("0xD")
	alice := common.HexToAddress("0xA")

	p, staking, rewardsAsset := newPool(t, distributor, 1000)
	staking.Mint(alice, wad(100))
	rewardsAsset.Mint(distributor, wad(1000))

	require.NoError(t, p.Stake(0, alice, wad(100)))
	require.NoError(t, p.Fund(0, distributor, distributor, wad(1000)))

	paid, err := p.Claim(1000, alice)
	require.NoError(t, err)
	assert.Equal(t, wad(1000), paid)
	assert.Equal(t, rewardsAsset.BalanceOfHolder(alice), wad(1000))

	assert.Equal(t, big.NewInt(0), p.Earned(1000, alice))
}

func TestNotifyRewardBlendsRemainingPeriod(t *testing.T) {
	distributor := common.HexToAddress("0xD")
	p, _, rewardsAsset := newPool(t, distributor, 1000)
	rewardsAsset.Mint(distributor, wad(2000))

	require.NoError(t, p.Fund(0, distributor, distributor, wad(1000)))
	require.Equal(t, wad(1), p.RewardRate())

	require.NoError(t, p.Fund(500, distributor, distributor, wad(1000)))
	// leftover = (1000-500)*1 = 500; new rate = (1000+500)/1000 = 1.5
	want := new(big.Int).Div(wad(1500), big.NewInt(1000))
	assert.Equal(t, want, p.RewardRate())
}

func TestNotifyRewardTooHighRejected(t *testing.T) {
	distributor := common.HexToAddress("0xD")
	p, _, rewardsAsset := newPool(t, distributor, 1000)
	rewardsAsset.Mint(distributor, wad(1))
	// Only wad(1) ever reaches the pool's custody; requesting a reward rate
	// the custodied balance cannot cover must be rejected.
	require.NoError(t, p.Fund(0, distributor, distributor, wad(1)))

	err := p.NotifyReward(0, distributor, wad(1000))
	assert.ErrorIs(t, err, errs.ErrRewardTooHigh)
}

func TestNotifyRewardUnauthorized(t *testing.T) {
	distributor := common.HexToAddress("0xD")
	stranger := common.HexToAddress("0xE")
	p, _, rewardsAsset := newPool(t, distributor, 1000)
	rewardsAsset.Mint(stranger, wad(1000))

	err := p.Fund(0, stranger, stranger, wad(1000))
	require.Error(t, err)
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	distributor := common.HexToAddress("0xD")
	alice := common.HexToAddress("0xA")
	p, staking, _ := newPool(t, distributor, 1000)
	staking.Mint(alice, wad(10))
	require.NoError(t, p.Stake(0, alice, wad(10)))

	err := p.Withdraw(0, alice, wad(20))
	require.Error(t, err)
}

func TestExitWithdrawsAndClaims(t *testing.T) {
	distributor := common.HexToAddress("0xD")
	alice := common.HexToAddress("0xA")
	p, staking, rewardsAsset := newPool(t, distributor, 1000)
	staking.Mint(alice, wad(100))
	rewardsAsset.Mint(distributor, wad(1000))

	require.NoError(t, p.Stake(0, alice, wad(100)))
	require.NoError(t, p.Fund(0, distributor, distributor, wad(1000)))

	paid, err := p.Exit(1000, alice)
	require.NoError(t, err)
	assert.Equal(t, wad(1000), paid)
	assert.Equal(t, big.NewInt(0), p.BalanceOf(alice))
	assert.Equal(t, wad(100), staking.BalanceOfHolder(alice))
}
