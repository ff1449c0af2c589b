package lending

import (
	"math/big"
	"testing"

	"lendpool/core/types"
	"lendpool/storage"
)

func TestStoreLenderRoundTrip(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	addr := makeAddress(0x01)

	got, err := store.GetLender(addr)
	if err != nil {
		t.Fatalf("get missing lender: %v", err)
	}
	if got != nil {
		t.Fatalf("missing lender must be nil, got %+v", got)
	}

	position := &LenderPosition{
		Address:   addr,
		Principal: big.NewInt(500),
		Shares:    big.NewInt(480),
	}
	if err := store.PutLender(position); err != nil {
		t.Fatalf("put lender: %v", err)
	}
	got, err = store.GetLender(addr)
	if err != nil {
		t.Fatalf("get lender: %v", err)
	}
	if got.Principal.Cmp(position.Principal) != 0 || got.Shares.Cmp(position.Shares) != 0 {
		t.Fatalf("unexpected lender: %+v", got)
	}
}

func TestStoreBorrowerRoundTrip(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	addr := makeAddress(0x02)

	position := &BorrowerPosition{
		Address:    addr,
		Debt:       big.NewInt(60),
		ScaledDebt: big.NewInt(60),
		Collateral: map[string]*big.Int{testAsset: big.NewInt(100)},
		Liquidation: &LiquidationRecord{
			Borrower:  addr,
			StartedAt: 1_700_000_000,
			Status:    LiquidationGrace,
		},
	}
	if err := store.PutBorrower(position); err != nil {
		t.Fatalf("put borrower: %v", err)
	}
	got, err := store.GetBorrower(addr)
	if err != nil {
		t.Fatalf("get borrower: %v", err)
	}
	if got.Debt.Cmp(position.Debt) != 0 {
		t.Fatalf("unexpected debt: %s", got.Debt)
	}
	if got.CollateralOf(testAsset).Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected collateral: %s", got.CollateralOf(testAsset))
	}
	if got.Liquidation == nil || got.Liquidation.Status != LiquidationGrace {
		t.Fatalf("unexpected liquidation record: %+v", got.Liquidation)
	}
}

func TestStoreListBorrowers(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	first := makeAddress(0x02)
	second := makeAddress(0x03)
	for _, addr := range []types.Address{first, second} {
		position := &BorrowerPosition{
			Address:    addr,
			Debt:       big.NewInt(0),
			ScaledDebt: big.NewInt(0),
			Collateral: map[string]*big.Int{},
		}
		if err := store.PutBorrower(position); err != nil {
			t.Fatalf("put borrower: %v", err)
		}
	}

	addrs, err := store.ListBorrowers()
	if err != nil {
		t.Fatalf("list borrowers: %v", err)
	}
	if len(addrs) != 2 {
		t.Fatalf("expected two borrowers, got %d", len(addrs))
	}
	seen := map[string]bool{}
	for _, addr := range addrs {
		seen[addr.Hex()] = true
	}
	if !seen[first.Hex()] || !seen[second.Hex()] {
		t.Fatalf("unexpected borrower set: %v", seen)
	}
}

func TestStorePoolRoundTrip(t *testing.T) {
	store := NewStore(storage.NewMemDB())

	got, err := store.GetPool()
	if err != nil {
		t.Fatalf("get missing pool: %v", err)
	}
	if got != nil {
		t.Fatalf("missing pool must be nil, got %+v", got)
	}

	pool := &PoolState{
		Balance:           big.NewInt(1_000),
		TotalDebt:         big.NewInt(300),
		TotalSupplyShares: big.NewInt(990),
		SupplyIndex:       new(big.Int).Set(ray),
		BorrowIndex:       new(big.Int).Set(ray),
		LastAccrual:       1_700_000_000,
		Paused:            true,
		Custody:           map[string]*big.Int{testAsset: big.NewInt(100)},
		Treasury:          map[string]*big.Int{testAsset: big.NewInt(25)},
	}
	if err := store.PutPool(pool); err != nil {
		t.Fatalf("put pool: %v", err)
	}
	got, err = store.GetPool()
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if got.Balance.Cmp(pool.Balance) != 0 || got.TotalDebt.Cmp(pool.TotalDebt) != 0 {
		t.Fatalf("unexpected pool scalars: %+v", got)
	}
	if !got.Paused {
		t.Fatalf("paused flag must round-trip")
	}
	if got.Custody[testAsset].Cmp(big.NewInt(100)) != 0 || got.Treasury[testAsset].Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("unexpected asset maps: custody=%v treasury=%v", got.Custody, got.Treasury)
	}
}
