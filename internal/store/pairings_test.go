package store

import (
	"os"
	"path/filepath"
	"testing"
)

func newPairingTestStore(t *testing.T) *Store {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "ledgertool-store-pairings-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	s, err := New(Config{Path: filepath.Join(tmpDir, "ledger.db"), RateMode: "daily"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

const pairingTestDay = 86400

func mustInsertPairingTrade(t *testing.T, s *Store, tr *Trade) int64 {
	t.Helper()
	id, _, err := s.InsertTrade(tr)
	if err != nil {
		t.Fatalf("InsertTrade() error = %v", err)
	}
	return id
}

func TestLockPairingsInYearIsNoOpOnAlreadyLocked(t *testing.T) {
	s := newPairingTestStore(t)
	isin, err := s.GetOrCreateSecurity("US0000000001", "AAA", "Test Co")
	if err != nil {
		t.Fatalf("GetOrCreateSecurity() error = %v", err)
	}

	buyID := mustInsertPairingTrade(t, s, &Trade{
		Timestamp: 18000 * pairingTestDay, ISINID: isin, IDString: "buy-1", TradeType: TradeTypeBuy,
		NumberOfShares: 10, PriceForShare: 100, CurrencyOfPrice: "CZK", TotalCZK: 1000,
	})
	saleID := mustInsertPairingTrade(t, s, &Trade{
		Timestamp: 18100 * pairingTestDay, ISINID: isin, IDString: "sell-1", TradeType: TradeTypeSell,
		NumberOfShares: -10, PriceForShare: 150, CurrencyOfPrice: "CZK", TotalCZK: -1500,
	})

	pairingID, err := s.CreatePairing(&Pairing{
		SaleTradeID: saleID, PurchaseTradeID: buyID, Quantity: 10, Method: "FIFO",
	})
	if err != nil {
		t.Fatalf("CreatePairing() error = %v", err)
	}

	year := 2019
	affected, err := s.LockPairingsInYear(year, "year closed")
	if err != nil {
		t.Fatalf("LockPairingsInYear() error = %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected 1 pairing locked, got %d", affected)
	}

	pairing, err := s.GetPairing(pairingID)
	if err != nil {
		t.Fatalf("GetPairing() error = %v", err)
	}
	if !pairing.Locked || pairing.LockedReason != "year closed" {
		t.Fatalf("expected pairing locked with reason, got %+v", pairing)
	}

	affected, err = s.LockPairingsInYear(year, "year closed again")
	if err != nil {
		t.Fatalf("second LockPairingsInYear() error = %v", err)
	}
	if affected != 0 {
		t.Errorf("expected 0 rows affected on already-locked pairing, got %d", affected)
	}

	pairing, err = s.GetPairing(pairingID)
	if err != nil {
		t.Fatalf("GetPairing() error = %v", err)
	}
	if pairing.LockedReason != "year closed" {
		t.Errorf("expected locked reason to survive untouched, got %q", pairing.LockedReason)
	}

	if err := s.DeletePairing(pairingID); err == nil {
		t.Error("expected DeletePairing() on locked pairing to fail")
	}
}

func TestLockPairingsInYearOnlyLocksGivenYear(t *testing.T) {
	s := newPairingTestStore(t)
	isin, err := s.GetOrCreateSecurity("US0000000002", "BBB", "Other Co")
	if err != nil {
		t.Fatalf("GetOrCreateSecurity() error = %v", err)
	}

	buy2019 := mustInsertPairingTrade(t, s, &Trade{
		Timestamp: 17900 * pairingTestDay, ISINID: isin, IDString: "buy-2019", TradeType: TradeTypeBuy,
		NumberOfShares: 5, PriceForShare: 100, CurrencyOfPrice: "CZK", TotalCZK: 500,
	})
	sale2019 := mustInsertPairingTrade(t, s, &Trade{
		Timestamp: 18100 * pairingTestDay, ISINID: isin, IDString: "sell-2019", TradeType: TradeTypeSell,
		NumberOfShares: -5, PriceForShare: 150, CurrencyOfPrice: "CZK", TotalCZK: -750,
	})
	buy2020 := mustInsertPairingTrade(t, s, &Trade{
		Timestamp: 18300 * pairingTestDay, ISINID: isin, IDString: "buy-2020", TradeType: TradeTypeBuy,
		NumberOfShares: 5, PriceForShare: 100, CurrencyOfPrice: "CZK", TotalCZK: 500,
	})
	sale2020 := mustInsertPairingTrade(t, s, &Trade{
		Timestamp: 18500 * pairingTestDay, ISINID: isin, IDString: "sell-2020", TradeType: TradeTypeSell,
		NumberOfShares: -5, PriceForShare: 150, CurrencyOfPrice: "CZK", TotalCZK: -750,
	})

	p2019, err := s.CreatePairing(&Pairing{SaleTradeID: sale2019, PurchaseTradeID: buy2019, Quantity: 5, Method: "FIFO"})
	if err != nil {
		t.Fatalf("CreatePairing(2019) error = %v", err)
	}
	p2020, err := s.CreatePairing(&Pairing{SaleTradeID: sale2020, PurchaseTradeID: buy2020, Quantity: 5, Method: "FIFO"})
	if err != nil {
		t.Fatalf("CreatePairing(2020) error = %v", err)
	}

	affected, err := s.LockPairingsInYear(2019, "year closed")
	if err != nil {
		t.Fatalf("LockPairingsInYear(2019) error = %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected 1 pairing locked for 2019, got %d", affected)
	}

	locked, err := s.GetPairing(p2019)
	if err != nil {
		t.Fatalf("GetPairing(2019) error = %v", err)
	}
	if !locked.Locked {
		t.Error("expected 2019 pairing locked")
	}

	unlocked, err := s.GetPairing(p2020)
	if err != nil {
		t.Fatalf("GetPairing(2020) error = %v", err)
	}
	if unlocked.Locked {
		t.Error("expected 2020 pairing to remain unlocked")
	}
}
