package ledgerstore_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketcore/internal/ledgerstore"
	"marketcore/internal/market"
	"marketcore/internal/rewards"
	"marketcore/internal/risk"
	"marketcore/storage"
)

func TestMarketSnapshotRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	store := ledgerstore.New(db)

	addr := common.HexToAddress("0xMarket")
	alice := common.HexToAddress("0xAlice")
	snap := market.Snapshot{
		Cash:          big.NewInt(1000),
		TotalBorrows:  big.NewInt(500),
		TotalReserves: big.NewInt(10),
		BorrowIndex:   big.NewInt(1e9),
		TotalShares:   big.NewInt(900),
		AccrualTime:   42,
		Shares:        map[common.Address]*big.Int{alice: big.NewInt(900)},
		Borrows: map[common.Address]market.BorrowSnapshot{
			alice: {Principal: big.NewInt(500), Index: big.NewInt(1e9)},
		},
		DeveloperFeeBps:       25,
		DeveloperFeeCapBps:    100,
		DeveloperFeeRecipient: common.HexToAddress("0xDev"),
	}

	require.NoError(t, store.SaveMarket(addr, snap))

	loaded, ok, err := store.LoadMarket(addr)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, snap.Cash.Cmp(loaded.Cash))
	assert.Equal(t, 0, snap.TotalBorrows.Cmp(loaded.TotalBorrows))
	assert.Equal(t, snap.AccrualTime, loaded.AccrualTime)
	assert.Equal(t, 0, snap.Shares[alice].Cmp(loaded.Shares[alice]))
	assert.Equal(t, 0, snap.Borrows[alice].Principal.Cmp(loaded.Borrows[alice].Principal))
	assert.Equal(t, snap.DeveloperFeeRecipient, loaded.DeveloperFeeRecipient)

	addrs, err := store.MarketAddresses()
	require.NoError(t, err)
	assert.Equal(t, []common.Address{addr}, addrs)
}

func TestMarketSnapshotMissing(t *testing.T) {
	db := storage.NewMemDB()
	store := ledgerstore.New(db)

	_, ok, err := store.LoadMarket(common.HexToAddress("0xGhost"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRiskManagerSnapshotRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	store := ledgerstore.New(db)

	marketAddr := common.HexToAddress("0xMarket")
	account := common.HexToAddress("0xAlice")
	snap := risk.Snapshot{
		CollateralFactor: map[common.Address]*big.Int{marketAddr: big.NewInt(8e17)},
		Membership:       map[common.Address]map[common.Address]bool{account: {marketAddr: true}},
		Paused:           true,
		CloseFactor:      big.NewInt(5e17),
		LiquidationIncentive: big.NewInt(108e16),
	}

	require.NoError(t, store.SaveRiskManager(snap))
	loaded, ok, err := store.LoadRiskManager()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, loaded.Paused)
	assert.Equal(t, 0, snap.CloseFactor.Cmp(loaded.CloseFactor))
	assert.True(t, loaded.Membership[account][marketAddr])
	assert.Equal(t, 0, snap.CollateralFactor[marketAddr].Cmp(loaded.CollateralFactor[marketAddr]))
}

func TestRewardPoolSnapshotRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	store := ledgerstore.New(db)

	poolAddr := common.HexToAddress("0xPool")
	alice := common.HexToAddress("0xAlice")
	snap := rewards.Snapshot{
		PeriodFinish:         1000,
		RewardRate:           big.NewInt(5),
		RewardPerTokenStored: big.NewInt(123),
		LastUpdateTime:       500,
		TotalStaked:          big.NewInt(777),
		Balance:              map[common.Address]*big.Int{alice: big.NewInt(777)},
		UserRptPaid:          map[common.Address]*big.Int{alice: big.NewInt(100)},
		RewardsOwed:          map[common.Address]*big.Int{alice: big.NewInt(1)},
		RewardsDuration:      7 * 86400,
	}

	require.NoError(t, store.SaveRewardPool(poolAddr, snap))
	loaded, ok, err := store.LoadRewardPool(poolAddr)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap.PeriodFinish, loaded.PeriodFinish)
	assert.Equal(t, 0, snap.TotalStaked.Cmp(loaded.TotalStaked))
	assert.Equal(t, 0, snap.Balance[alice].Cmp(loaded.Balance[alice]))

	addrs, err := store.RewardPoolAddresses()
	require.NoError(t, err)
	assert.Equal(t, []common.Address{poolAddr}, addrs)
}
