package host_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketcore/internal/clock"
	"marketcore/internal/events"
	"marketcore/internal/fixedpoint"
	"marketcore/internal/host"
	"marketcore/internal/ledgerstore"
	"marketcore/internal/market"
	"marketcore/internal/oracle"
	"marketcore/internal/ratemodel"
	"marketcore/internal/rewards"
	"marketcore/internal/risk"
	"marketcore/internal/token"
	"marketcore/storage"
)

func wad(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), fixedpoint.WAD) }

func pct(bps int64) *big.Int {
	v := new(big.Int).Mul(big.NewInt(bps), fixedpoint.WAD)
	return v.Quo(v, big.NewInt(10000))
}

type harness struct {
	authority   common.Address
	manual      *clock.Manual
	priceOracle *oracle.Manual
	riskMgr     *risk.Manager
	h           *host.Host
	usdc        *token.MemToken
	weth        *token.MemToken
	usdcMarket  *market.Market
	wethMarket  *market.Market
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	authority := common.HexToAddress("0xA0")
	manual := clock.NewManual(0)
	priceOracle := oracle.NewManual(24 * time.Hour)

	riskMgr := risk.New(authority, priceOracle, manual, pct(5000), pct(10800))
	db := storage.NewMemDB()
	store := ledgerstore.New(db)
	h := host.New(authority, riskMgr, manual, store)

	usdc := token.NewMemToken()
	weth := token.NewMemToken()

	rateModel := ratemodel.NewParamsFromAnnual(pct(200), pct(1000), pct(30000), pct(8000))

	usdcAddr := common.HexToAddress("0x1001")
	usdcMarket := market.New(market.Params{
		Address:             usdcAddr,
		Underlying:          common.HexToAddress("0x1000"),
		Decimals:            18,
		RateModel:           rateModel,
		ReserveFactor:       pct(1000),
		InitialExchangeRate: fixedpoint.One(),
	}, usdc, riskMgr, events.NoopEmitter{})

	wethAddr := common.HexToAddress("0x2001")
	wethMarket := market.New(market.Params{
		Address:             wethAddr,
		Underlying:          common.HexToAddress("0x2000"),
		Decimals:            18,
		RateModel:           rateModel,
		ReserveFactor:       pct(1000),
		InitialExchangeRate: fixedpoint.One(),
	}, weth, riskMgr, events.NoopEmitter{})

	require.NoError(t, h.SupportMarket(authority, usdcMarket, pct(8000)))
	require.NoError(t, h.SupportMarket(authority, wethMarket, pct(7000)))

	priceOracle.SetPrice(usdcMarket.Underlying(), fixedpoint.One())
	priceOracle.SetPrice(wethMarket.Underlying(), wad(2000))

	return &harness{
		authority:   authority,
		manual:      manual,
		priceOracle: priceOracle,
		riskMgr:     riskMgr,
		h:           h,
		usdc:        usdc,
		weth:        weth,
		usdcMarket:  usdcMarket,
		wethMarket:  wethMarket,
	}
}

func TestSupplyWithdrawRoundTrip(t *testing.T) {
	hs := newHarness(t)
	alice := common.HexToAddress("0xAlice")
	hs.usdc.Mint(alice, wad(1000))

	shares, err := hs.h.Supply(hs.usdcMarket.Address(), alice, alice, wad(1000))
	require.NoError(t, err)
	assert.Equal(t, wad(1000), shares)
	assert.Equal(t, wad(1000), hs.usdcMarket.TotalShares())

	amount, err := hs.h.WithdrawShares(hs.usdcMarket.Address(), alice, alice, shares)
	require.NoError(t, err)
	assert.Equal(t, wad(1000), amount)
	assert.Equal(t, big.NewInt(0), hs.usdcMarket.TotalShares())
	assert.Equal(t, wad(1000), hs.usdc.BalanceOfHolder(alice))
}

func TestInterestAccrualOverOneYear(t *testing.T) {
	hs := newHarness(t)
	alice := common.HexToAddress("0xAlice")
	bob := common.HexToAddress("0xBob")
	hs.usdc.Mint(alice, wad(1000))
	hs.usdc.Mint(bob, wad(1000))
	hs.weth.Mint(bob, wad(10))

	_, err := hs.h.Supply(hs.usdcMarket.Address(), alice, alice, wad(1000))
	require.NoError(t, err)
	_, err = hs.h.Supply(hs.usdcMarket.Address(), bob, bob, wad(1000))
	require.NoError(t, err)
	_, err = hs.h.Supply(hs.wethMarket.Address(), bob, bob, wad(10))
	require.NoError(t, err)

	require.NoError(t, hs.h.EnterMarkets(bob, []common.Address{hs.wethMarket.Address()}))
	require.NoError(t, hs.h.Borrow(hs.usdcMarket.Address(), bob, wad(500)))

	hs.manual.Advance(365 * 86400)
	require.NoError(t, hs.usdcMarket.Accrue(hs.manual.Now()))

	totalBorrows := hs.usdcMarket.TotalBorrows()
	assert.True(t, totalBorrows.Cmp(wad(500)) > 0, "expected total_borrows > 500 after a year of interest")

	rate, err := hs.usdcMarket.ExchangeRateStored()
	require.NoError(t, err)
	assert.True(t, rate.Cmp(fixedpoint.One()) > 0, "expected exchange_rate_stored > WAD after interest accrues")

	aliceShares := hs.usdcMarket.SharesOf(alice)
	redeemed, err := hs.h.WithdrawShares(hs.usdcMarket.Address(), alice, alice, aliceShares)
	require.NoError(t, err)
	assert.True(t, redeemed.Cmp(wad(1000)) > 0, "expected Alice's redemption to exceed her original deposit")
}

func TestLiquidationOnPriceDrop(t *testing.T) {
	hs := newHarness(t)
	alice := common.HexToAddress("0xAlice")
	bob := common.HexToAddress("0xBob")
	hs.weth.Mint(alice, wad(10))
	hs.usdc.Mint(bob, wad(100000))

	_, err := hs.h.Supply(hs.wethMarket.Address(), alice, alice, wad(10))
	require.NoError(t, err)
	_, err = hs.h.Supply(hs.usdcMarket.Address(), bob, bob, wad(100000))
	require.NoError(t, err)

	require.NoError(t, hs.h.EnterMarkets(alice, []common.Address{hs.wethMarket.Address()}))
	// 10 WETH at 2000 USDC, 70% CF => 14000 USDC of borrowing power.
	require.NoError(t, hs.h.Borrow(hs.usdcMarket.Address(), alice, wad(10000)))

	hs.priceOracle.SetPrice(hs.wethMarket.Underlying(), wad(800))

	_, shortfall, err := hs.h.GetAccountLiquidity(alice)
	require.NoError(t, err)
	assert.True(t, shortfall.Sign() > 0, "expected Alice to be underwater after the price drop")

	liquidator := common.HexToAddress("0x3000")
	hs.usdc.Mint(liquidator, wad(5000))

	err = hs.h.Liquidate(hs.usdcMarket.Address(), liquidator, alice, wad(5000), hs.wethMarket.Address())
	require.NoError(t, err)

	assert.True(t, hs.wethMarket.SharesOf(liquidator).Sign() > 0, "expected liquidator to receive seized collateral shares")
	assert.True(t, hs.wethMarket.SharesOf(alice).Cmp(wad(10)) < 0, "expected Alice's collateral shares to decrease")
}

func TestRewardTimeWeighting(t *testing.T) {
	hs := newHarness(t)
	distributor := hs.authority
	alice := common.HexToAddress("0xAlice")
	bob := common.HexToAddress("0xBob")

	staking := token.NewMemToken()
	rewardAsset := token.NewMemToken()
	staking.Mint(alice, wad(100))
	staking.Mint(bob, wad(100))
	rewardAsset.Mint(distributor, wad(1000))

	pool := rewards.New(rewards.Params{
		Address:         common.HexToAddress("0x4000"),
		StakingAsset:    staking,
		RewardsAsset:    rewardAsset,
		Distributor:     distributor,
		RewardsDuration: 1000,
	}, hs.manual, events.NoopEmitter{})
	require.NoError(t, hs.h.RegisterRewardPool(hs.authority, pool))

	require.NoError(t, hs.h.Stake(pool.Address(), alice, wad(100)))
	require.NoError(t, hs.h.Fund(pool.Address(), distributor, distributor, wad(1000)))

	hs.manual.Advance(500)
	require.NoError(t, hs.h.Stake(pool.Address(), bob, wad(100)))
	hs.manual.Advance(500)

	aliceEarned := pool.Earned(hs.manual.Now(), alice)
	bobEarned := pool.Earned(hs.manual.Now(), bob)
	assert.Equal(t, wad(750), aliceEarned)
	assert.Equal(t, wad(250), bobEarned)
}

func TestPreHookRejection(t *testing.T) {
	hs := newHarness(t)
	alice := common.HexToAddress("0xAlice")
	hs.usdc.Mint(alice, wad(1000))

	require.NoError(t, hs.h.SetPause(hs.authority, true))

	_, err := hs.h.Supply(hs.usdcMarket.Address(), alice, alice, wad(1000))
	require.Error(t, err)

	require.NoError(t, hs.h.SetPause(hs.authority, false))
	_, err = hs.h.Supply(hs.usdcMarket.Address(), alice, alice, wad(1000))
	require.NoError(t, err)
}

func TestSelfLiquidationRejected(t *testing.T) {
	hs := newHarness(t)
	alice := common.HexToAddress("0xAlice")
	hs.weth.Mint(alice, wad(10))
	hs.usdc.Mint(alice, wad(100000))

	_, err := hs.h.Supply(hs.wethMarket.Address(), alice, alice, wad(10))
	require.NoError(t, err)
	_, err = hs.h.Supply(hs.usdcMarket.Address(), alice, alice, wad(100000))
	require.NoError(t, err)

	require.NoError(t, hs.h.EnterMarkets(alice, []common.Address{hs.wethMarket.Address()}))
	require.NoError(t, hs.h.Borrow(hs.usdcMarket.Address(), alice, wad(1000)))

	err = hs.h.Liquidate(hs.usdcMarket.Address(), alice, alice, wad(500), hs.wethMarket.Address())
	require.Error(t, err)
}

func TestPersistAndRestoreRoundTrip(t *testing.T) {
	hs := newHarness(t)
	alice := common.HexToAddress("0xAlice")
	hs.usdc.Mint(alice, wad(1000))
	_, err := hs.h.Supply(hs.usdcMarket.Address(), alice, alice, wad(1000))
	require.NoError(t, err)

	require.NoError(t, hs.h.Persist())

	before := hs.usdcMarket.SharesOf(alice)
	hs.usdcMarket.Restore(market.Snapshot{
		Cash:          big.NewInt(0),
		TotalBorrows:  big.NewInt(0),
		TotalReserves: big.NewInt(0),
		BorrowIndex:   fixedpoint.One(),
		TotalShares:   big.NewInt(0),
		Shares:        map[common.Address]*big.Int{},
		Borrows:       map[common.Address]market.BorrowSnapshot{},
	})
	assert.Equal(t, big.NewInt(0), hs.usdcMarket.SharesOf(alice))

	require.NoError(t, hs.h.Restore())
	assert.Equal(t, before, hs.usdcMarket.SharesOf(alice))
}
