// Package ledgerstore persists market, risk-manager, and reward-pool
// snapshots to a storage.Database, and restores them at startup. Grounded
// on the teacher's consensus/potso/rewards/ledger.go: RLP-encoded "stored"
// structs keyed by a string prefix plus a hex-encoded identity, with
// *big.Int fields carried as raw bytes. Where the teacher maintains its own
// index key to enumerate entries, this package instead walks
// storage.Database's Iterate method (added to the Database interface
// specifically for this use), since RLP itself cannot encode Go maps.
package ledgerstore

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"marketcore/internal/market"
	"marketcore/internal/rewards"
	"marketcore/internal/risk"
	"marketcore/storage"
)

const (
	marketKeyPrefix     = "ledgerstore/market/"
	rewardPoolKeyPrefix = "ledgerstore/rewardpool/"
	riskManagerKey      = "ledgerstore/riskmanager"
)

// Store binds market/risk/reward snapshot persistence to a storage.Database.
type Store struct {
	db storage.Database
}

// New constructs a Store over db.
func New(db storage.Database) *Store {
	return &Store{db: db}
}

func marketKey(addr common.Address) []byte {
	return []byte(marketKeyPrefix + hex.EncodeToString(addr.Bytes()))
}

func rewardPoolKey(addr common.Address) []byte {
	return []byte(rewardPoolKeyPrefix + hex.EncodeToString(addr.Bytes()))
}

// addressAmount carries one map[common.Address]*big.Int entry through RLP,
// which has no native map support.
type addressAmount struct {
	Address []byte
	Amount  []byte
}

func encodeAmounts(m map[common.Address]*big.Int) []addressAmount {
	out := make([]addressAmount, 0, len(m))
	for addr, v := range m {
		out = append(out, addressAmount{Address: append([]byte(nil), addr.Bytes()...), Amount: v.Bytes()})
	}
	return out
}

func decodeAmounts(entries []addressAmount) map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, len(entries))
	for _, e := range entries {
		out[common.BytesToAddress(e.Address)] = new(big.Int).SetBytes(e.Amount)
	}
	return out
}

// --- Market snapshots ---

type storedBorrow struct {
	Address   []byte
	Principal []byte
	Index     []byte
}

type storedMarket struct {
	Cash          []byte
	TotalBorrows  []byte
	TotalReserves []byte
	BorrowIndex   []byte
	TotalShares   []byte
	AccrualTime   uint64
	Shares        []addressAmount
	Borrows       []storedBorrow

	DeveloperFeeBps       uint32
	DeveloperFeeCapBps    uint32
	DeveloperFeeRecipient []byte
}

// SaveMarket persists addr's current snapshot.
func (s *Store) SaveMarket(addr common.Address, snap market.Snapshot) error {
	borrows := make([]storedBorrow, 0, len(snap.Borrows))
	for account, b := range snap.Borrows {
		borrows = append(borrows, storedBorrow{
			Address:   append([]byte(nil), account.Bytes()...),
			Principal: b.Principal.Bytes(),
			Index:     b.Index.Bytes(),
		})
	}
	encoded, err := rlp.EncodeToBytes(storedMarket{
		Cash:                  snap.Cash.Bytes(),
		TotalBorrows:          snap.TotalBorrows.Bytes(),
		TotalReserves:         snap.TotalReserves.Bytes(),
		BorrowIndex:           snap.BorrowIndex.Bytes(),
		TotalShares:           snap.TotalShares.Bytes(),
		AccrualTime:           snap.AccrualTime,
		Shares:                encodeAmounts(snap.Shares),
		Borrows:               borrows,
		DeveloperFeeBps:       snap.DeveloperFeeBps,
		DeveloperFeeCapBps:    snap.DeveloperFeeCapBps,
		DeveloperFeeRecipient: append([]byte(nil), snap.DeveloperFeeRecipient.Bytes()...),
	})
	if err != nil {
		return fmt.Errorf("ledgerstore: encode market %s: %w", addr, err)
	}
	return s.db.Put(marketKey(addr), encoded)
}

// LoadMarket returns addr's persisted snapshot, or ok=false if none exists.
func (s *Store) LoadMarket(addr common.Address) (market.Snapshot, bool, error) {
	data, err := s.db.Get(marketKey(addr))
	if err == storage.ErrNotFound {
		return market.Snapshot{}, false, nil
	}
	if err != nil {
		return market.Snapshot{}, false, err
	}
	var stored storedMarket
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return market.Snapshot{}, false, fmt.Errorf("ledgerstore: decode market %s: %w", addr, err)
	}

	borrows := make(map[common.Address]market.BorrowSnapshot, len(stored.Borrows))
	for _, b := range stored.Borrows {
		borrows[common.BytesToAddress(b.Address)] = market.BorrowSnapshot{
			Principal: new(big.Int).SetBytes(b.Principal),
			Index:     new(big.Int).SetBytes(b.Index),
		}
	}
	snap := market.Snapshot{
		Cash:                  new(big.Int).SetBytes(stored.Cash),
		TotalBorrows:          new(big.Int).SetBytes(stored.TotalBorrows),
		TotalReserves:         new(big.Int).SetBytes(stored.TotalReserves),
		BorrowIndex:           new(big.Int).SetBytes(stored.BorrowIndex),
		TotalShares:           new(big.Int).SetBytes(stored.TotalShares),
		AccrualTime:           stored.AccrualTime,
		Shares:                decodeAmounts(stored.Shares),
		Borrows:               borrows,
		DeveloperFeeBps:       stored.DeveloperFeeBps,
		DeveloperFeeCapBps:    stored.DeveloperFeeCapBps,
		DeveloperFeeRecipient: common.BytesToAddress(stored.DeveloperFeeRecipient),
	}
	return snap, true, nil
}

// MarketAddresses returns every market address with a persisted snapshot.
func (s *Store) MarketAddresses() ([]common.Address, error) {
	var out []common.Address
	err := s.db.Iterate([]byte(marketKeyPrefix), func(key, _ []byte) bool {
		hexAddr := string(key[len(marketKeyPrefix):])
		raw, decodeErr := hex.DecodeString(hexAddr)
		if decodeErr == nil {
			out = append(out, common.BytesToAddress(raw))
		}
		return true
	})
	return out, err
}

// --- Risk manager snapshot ---

type storedMembership struct {
	Account []byte
	Markets [][]byte
}

type storedRisk struct {
	CollateralFactor     []addressAmount
	Membership           []storedMembership
	Paused               bool
	CloseFactor          []byte
	LiquidationIncentive []byte
}

// SaveRiskManager persists the manager's current policy snapshot.
func (s *Store) SaveRiskManager(snap risk.Snapshot) error {
	membership := make([]storedMembership, 0, len(snap.Membership))
	for account, set := range snap.Membership {
		markets := make([][]byte, 0, len(set))
		for addr, in := range set {
			if in {
				markets = append(markets, append([]byte(nil), addr.Bytes()...))
			}
		}
		membership = append(membership, storedMembership{Account: append([]byte(nil), account.Bytes()...), Markets: markets})
	}
	encoded, err := rlp.EncodeToBytes(storedRisk{
		CollateralFactor:     encodeAmounts(snap.CollateralFactor),
		Membership:           membership,
		Paused:               snap.Paused,
		CloseFactor:          snap.CloseFactor.Bytes(),
		LiquidationIncentive: snap.LiquidationIncentive.Bytes(),
	})
	if err != nil {
		return fmt.Errorf("ledgerstore: encode risk manager: %w", err)
	}
	return s.db.Put([]byte(riskManagerKey), encoded)
}

// LoadRiskManager returns the persisted policy snapshot, or ok=false if none
// exists.
func (s *Store) LoadRiskManager() (risk.Snapshot, bool, error) {
	data, err := s.db.Get([]byte(riskManagerKey))
	if err == storage.ErrNotFound {
		return risk.Snapshot{}, false, nil
	}
	if err != nil {
		return risk.Snapshot{}, false, err
	}
	var stored storedRisk
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return risk.Snapshot{}, false, fmt.Errorf("ledgerstore: decode risk manager: %w", err)
	}

	membership := make(map[common.Address]map[common.Address]bool, len(stored.Membership))
	for _, entry := range stored.Membership {
		set := make(map[common.Address]bool, len(entry.Markets))
		for _, m := range entry.Markets {
			set[common.BytesToAddress(m)] = true
		}
		membership[common.BytesToAddress(entry.Account)] = set
	}
	snap := risk.Snapshot{
		CollateralFactor:     decodeAmounts(stored.CollateralFactor),
		Membership:           membership,
		Paused:               stored.Paused,
		CloseFactor:          new(big.Int).SetBytes(stored.CloseFactor),
		LiquidationIncentive: new(big.Int).SetBytes(stored.LiquidationIncentive),
	}
	return snap, true, nil
}

// --- Reward pool snapshots ---

type storedRewardPool struct {
	PeriodFinish         uint64
	RewardRate           []byte
	RewardPerTokenStored []byte
	LastUpdateTime       uint64
	TotalStaked          []byte
	Balance              []addressAmount
	UserRptPaid          []addressAmount
	RewardsOwed          []addressAmount
	RewardsDuration      uint64
}

// SaveRewardPool persists addr's current snapshot.
func (s *Store) SaveRewardPool(addr common.Address, snap rewards.Snapshot) error {
	encoded, err := rlp.EncodeToBytes(storedRewardPool{
		PeriodFinish:         snap.PeriodFinish,
		RewardRate:           snap.RewardRate.Bytes(),
		RewardPerTokenStored: snap.RewardPerTokenStored.Bytes(),
		LastUpdateTime:       snap.LastUpdateTime,
		TotalStaked:          snap.TotalStaked.Bytes(),
		Balance:              encodeAmounts(snap.Balance),
		UserRptPaid:          encodeAmounts(snap.UserRptPaid),
		RewardsOwed:          encodeAmounts(snap.RewardsOwed),
		RewardsDuration:      snap.RewardsDuration,
	})
	if err != nil {
		return fmt.Errorf("ledgerstore: encode reward pool %s: %w", addr, err)
	}
	return s.db.Put(rewardPoolKey(addr), encoded)
}

// LoadRewardPool returns addr's persisted snapshot, or ok=false if none
// exists.
func (s *Store) LoadRewardPool(addr common.Address) (rewards.Snapshot, bool, error) {
	data, err := s.db.Get(rewardPoolKey(addr))
	if err == storage.ErrNotFound {
		return rewards.Snapshot{}, false, nil
	}
	if err != nil {
		return rewards.Snapshot{}, false, err
	}
	var stored storedRewardPool
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return rewards.Snapshot{}, false, fmt.Errorf("ledgerstore: decode reward pool %s: %w", addr, err)
	}
	snap := rewards.Snapshot{
		PeriodFinish:         stored.PeriodFinish,
		RewardRate:           new(big.Int).SetBytes(stored.RewardRate),
		RewardPerTokenStored: new(big.Int).SetBytes(stored.RewardPerTokenStored),
		LastUpdateTime:       stored.LastUpdateTime,
		TotalStaked:          new(big.Int).SetBytes(stored.TotalStaked),
		Balance:              decodeAmounts(stored.Balance),
		UserRptPaid:          decodeAmounts(stored.UserRptPaid),
		RewardsOwed:          decodeAmounts(stored.RewardsOwed),
		RewardsDuration:      stored.RewardsDuration,
	}
	return snap, true, nil
}

// RewardPoolAddresses returns every reward pool address with a persisted
// snapshot.
func (s *Store) RewardPoolAddresses() ([]common.Address, error) {
	var out []common.Address
	err := s.db.Iterate([]byte(rewardPoolKeyPrefix), func(key, _ []byte) bool {
		hexAddr := string(key[len(rewardPoolKeyPrefix):])
		raw, decodeErr := hex.DecodeString(hexAddr)
		if decodeErr == nil {
			out = append(out, common.BytesToAddress(raw))
		}
		return true
	})
	return out, err
}
