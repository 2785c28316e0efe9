package pairing

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jnovotny/ledgertool/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "ledgertool-pairing-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	s, err := store.New(store.Config{Path: filepath.Join(tmpDir, "ledger.db"), RateMode: "daily"})
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustInsertTrade(t *testing.T, s *store.Store, tr *store.Trade) int64 {
	t.Helper()
	id, _, err := s.InsertTrade(tr)
	if err != nil {
		t.Fatalf("InsertTrade() error = %v", err)
	}
	return id
}

const day = 86400

func TestApplyFIFOSinglePair(t *testing.T) {
	s := newTestStore(t)
	isin, err := s.GetOrCreateSecurity("US0000000001", "AAA", "Test Co")
	if err != nil {
		t.Fatalf("GetOrCreateSecurity() error = %v", err)
	}

	buyID := mustInsertTrade(t, s, &store.Trade{
		Timestamp: 1000 * day, ISINID: isin, IDString: "buy-1", TradeType: store.TradeTypeBuy,
		NumberOfShares: 10, PriceForShare: 100, CurrencyOfPrice: "CZK", TotalCZK: 1000,
	})
	saleID := mustInsertTrade(t, s, &store.Trade{
		Timestamp: 2000 * day, ISINID: isin, IDString: "sell-1", TradeType: store.TradeTypeSell,
		NumberOfShares: -10, PriceForShare: 150, CurrencyOfPrice: "CZK", TotalCZK: -1500,
	})

	engine := New(s, 3, nil)
	result, err := engine.Apply(saleID, MethodFIFO)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got failure: %s", result.Error)
	}
	if result.PairingsCreated != 1 {
		t.Errorf("expected 1 pairing, got %d", result.PairingsCreated)
	}
	if result.TotalQuantityPaired != 10 {
		t.Errorf("expected 10 paired, got %v", result.TotalQuantityPaired)
	}

	buy, err := s.GetTrade(buyID)
	if err != nil {
		t.Fatalf("GetTrade(buy) error = %v", err)
	}
	if buy.RemainingQuantity != 0 {
		t.Errorf("expected buy remaining_quantity 0, got %v", buy.RemainingQuantity)
	}
	sale, err := s.GetTrade(saleID)
	if err != nil {
		t.Fatalf("GetTrade(sale) error = %v", err)
	}
	if sale.RemainingQuantity != 0 {
		t.Errorf("expected sale remaining_quantity 0, got %v", sale.RemainingQuantity)
	}
}

func TestApplyFIFOSplitAcrossTwoLots(t *testing.T) {
	s := newTestStore(t)
	isin, _ := s.GetOrCreateSecurity("US0000000002", "BBB", "Split Co")

	buy1 := mustInsertTrade(t, s, &store.Trade{
		Timestamp: 1000 * day, ISINID: isin, IDString: "buy-1", TradeType: store.TradeTypeBuy,
		NumberOfShares: 5, PriceForShare: 100, CurrencyOfPrice: "CZK", TotalCZK: 500,
	})
	buy2 := mustInsertTrade(t, s, &store.Trade{
		Timestamp: 1100 * day, ISINID: isin, IDString: "buy-2", TradeType: store.TradeTypeBuy,
		NumberOfShares: 10, PriceForShare: 110, CurrencyOfPrice: "CZK", TotalCZK: 1100,
	})
	saleID := mustInsertTrade(t, s, &store.Trade{
		Timestamp: 2000 * day, ISINID: isin, IDString: "sell-1", TradeType: store.TradeTypeSell,
		NumberOfShares: -12, PriceForShare: 150, CurrencyOfPrice: "CZK", TotalCZK: -1800,
	})

	engine := New(s, 3, nil)
	result, err := engine.Apply(saleID, MethodFIFO)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !result.Success || result.PairingsCreated != 2 {
		t.Fatalf("expected success with 2 pairings, got %+v", result)
	}

	b1, _ := s.GetTrade(buy1)
	if b1.RemainingQuantity != 0 {
		t.Errorf("expected buy1 fully consumed, got %v", b1.RemainingQuantity)
	}
	b2, _ := s.GetTrade(buy2)
	if b2.RemainingQuantity != 3 {
		t.Errorf("expected buy2 remaining 3, got %v", b2.RemainingQuantity)
	}
}

func TestApplyInsufficientQuantity(t *testing.T) {
	s := newTestStore(t)
	isin, _ := s.GetOrCreateSecurity("US0000000003", "CCC", "Short Co")

	mustInsertTrade(t, s, &store.Trade{
		Timestamp: 1000 * day, ISINID: isin, IDString: "buy-1", TradeType: store.TradeTypeBuy,
		NumberOfShares: 3, PriceForShare: 100, CurrencyOfPrice: "CZK", TotalCZK: 300,
	})
	saleID := mustInsertTrade(t, s, &store.Trade{
		Timestamp: 2000 * day, ISINID: isin, IDString: "sell-1", TradeType: store.TradeTypeSell,
		NumberOfShares: -10, PriceForShare: 150, CurrencyOfPrice: "CZK", TotalCZK: -1500,
	})

	engine := New(s, 3, nil)
	result, err := engine.Apply(saleID, MethodFIFO)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if result.Success {
		t.Fatal("expected failure due to insufficient lots")
	}
	if result.PairingsCreated != 1 || result.TotalQuantityPaired != 3 {
		t.Errorf("expected partial pairing of 3 recorded, got %+v", result)
	}
}

func TestDeletePairingRestoresQuantitiesButLockedSurvives(t *testing.T) {
	s := newTestStore(t)
	isin, _ := s.GetOrCreateSecurity("US0000000004", "DDD", "Lock Co")

	buyID := mustInsertTrade(t, s, &store.Trade{
		Timestamp: 1000 * day, ISINID: isin, IDString: "buy-1", TradeType: store.TradeTypeBuy,
		NumberOfShares: 10, PriceForShare: 100, CurrencyOfPrice: "CZK", TotalCZK: 1000,
	})
	saleID := mustInsertTrade(t, s, &store.Trade{
		Timestamp: 2000 * day, ISINID: isin, IDString: "sell-1", TradeType: store.TradeTypeSell,
		NumberOfShares: -10, PriceForShare: 150, CurrencyOfPrice: "CZK", TotalCZK: -1500,
	})

	engine := New(s, 3, nil)
	result, err := engine.Apply(saleID, MethodFIFO)
	if err != nil || !result.Success {
		t.Fatalf("Apply() = %+v, err = %v", result, err)
	}

	pairings, err := s.PairingsForSale(saleID)
	if err != nil || len(pairings) != 1 {
		t.Fatalf("PairingsForSale() = %+v, err = %v", pairings, err)
	}
	pairingID := pairings[0].ID

	if err := s.LockPairing(pairingID, "year closed"); err != nil {
		t.Fatalf("LockPairing() error = %v", err)
	}
	if err := s.DeletePairing(pairingID); err == nil {
		t.Fatal("expected DeletePairing() on locked pairing to fail")
	}

	buy, _ := s.GetTrade(buyID)
	if buy.RemainingQuantity != 0 {
		t.Errorf("expected locked pairing to leave remaining_quantity untouched, got %v", buy.RemainingQuantity)
	}

	if err := s.UnlockPairing(pairingID); err != nil {
		t.Fatalf("UnlockPairing() error = %v", err)
	}
	if err := s.DeletePairing(pairingID); err != nil {
		t.Fatalf("DeletePairing() after unlock error = %v", err)
	}

	buy, _ = s.GetTrade(buyID)
	if buy.RemainingQuantity != 10 {
		t.Errorf("expected buy remaining_quantity restored to 10, got %v", buy.RemainingQuantity)
	}
	sale, _ := s.GetTrade(saleID)
	if sale.RemainingQuantity != -10 {
		t.Errorf("expected sale remaining_quantity restored to -10, got %v", sale.RemainingQuantity)
	}
}

func TestCheckTimeTestLeapDayPurchase(t *testing.T) {
	engine := New(nil, 3, nil)

	leapPurchase := mustUnixSeconds(t, "2020-02-29 00:00:00")
	justBeforeAnchor := mustUnixSeconds(t, "2023-02-27 00:00:00")
	justAfterAnchor := mustUnixSeconds(t, "2023-03-01 00:00:00")

	if engine.CheckTimeTest(leapPurchase, justBeforeAnchor) {
		t.Error("expected sale before Feb 28 anchor to not qualify")
	}
	if !engine.CheckTimeTest(leapPurchase, justAfterAnchor) {
		t.Error("expected sale after Feb 28 anchor (non-leap year) to qualify")
	}
}

func TestManualPairValidatesChronologyAndSecurity(t *testing.T) {
	s := newTestStore(t)
	isinA, _ := s.GetOrCreateSecurity("US0000000005", "EEE", "A Co")
	isinB, _ := s.GetOrCreateSecurity("US0000000006", "FFF", "B Co")

	buyA := mustInsertTrade(t, s, &store.Trade{
		Timestamp: 1000 * day, ISINID: isinA, IDString: "buy-a", TradeType: store.TradeTypeBuy,
		NumberOfShares: 5, PriceForShare: 100, CurrencyOfPrice: "CZK", TotalCZK: 500,
	})
	buyB := mustInsertTrade(t, s, &store.Trade{
		Timestamp: 1000 * day, ISINID: isinB, IDString: "buy-b", TradeType: store.TradeTypeBuy,
		NumberOfShares: 5, PriceForShare: 100, CurrencyOfPrice: "CZK", TotalCZK: 500,
	})
	saleA := mustInsertTrade(t, s, &store.Trade{
		Timestamp: 2000 * day, ISINID: isinA, IDString: "sell-a", TradeType: store.TradeTypeSell,
		NumberOfShares: -5, PriceForShare: 150, CurrencyOfPrice: "CZK", TotalCZK: -750,
	})

	engine := New(s, 3, nil)

	if _, err := engine.ManualPair(saleA, buyB, 5); err != ErrDifferentSecurities {
		t.Errorf("expected ErrDifferentSecurities, got %v", err)
	}

	earlySale := mustInsertTrade(t, s, &store.Trade{
		Timestamp: 500 * day, ISINID: isinA, IDString: "sell-early", TradeType: store.TradeTypeSell,
		NumberOfShares: -1, PriceForShare: 150, CurrencyOfPrice: "CZK", TotalCZK: -150,
	})
	if _, err := engine.ManualPair(earlySale, buyA, 1); err != ErrChronology {
		t.Errorf("expected ErrChronology, got %v", err)
	}

	pairing, err := engine.ManualPair(saleA, buyA, 5)
	if err != nil {
		t.Fatalf("ManualPair() error = %v", err)
	}
	if pairing.Method != string(MethodManual) {
		t.Errorf("expected method Manual, got %s", pairing.Method)
	}
}

func TestDeriveMethodCombinationAndBreakdown(t *testing.T) {
	s := newTestStore(t)
	isin, _ := s.GetOrCreateSecurity("US0000000007", "GGG", "Combo Co")

	oldBuy := mustInsertTrade(t, s, &store.Trade{
		Timestamp: 0, ISINID: isin, IDString: "buy-old", TradeType: store.TradeTypeBuy,
		NumberOfShares: 5, PriceForShare: 100, CurrencyOfPrice: "CZK", TotalCZK: 500,
	})
	recentBuy := mustInsertTrade(t, s, &store.Trade{
		Timestamp: 3900 * day, ISINID: isin, IDString: "buy-recent", TradeType: store.TradeTypeBuy,
		NumberOfShares: 5, PriceForShare: 100, CurrencyOfPrice: "CZK", TotalCZK: 500,
	})
	saleID := mustInsertTrade(t, s, &store.Trade{
		Timestamp: 4000 * day, ISINID: isin, IDString: "sell-combo", TradeType: store.TradeTypeSell,
		NumberOfShares: -10, PriceForShare: 150, CurrencyOfPrice: "CZK", TotalCZK: -1500,
	})

	engine := New(s, 3, nil)
	if _, err := engine.ManualPair(saleID, oldBuy, 5); err != nil {
		t.Fatalf("ManualPair(old) error = %v", err)
	}
	if _, err := engine.ManualPair(saleID, recentBuy, 5); err != nil {
		t.Fatalf("ManualPair(recent) error = %v", err)
	}

	applied, err := engine.IsTimeTestApplied(saleID)
	if err != nil {
		t.Fatalf("IsTimeTestApplied() error = %v", err)
	}
	if !applied {
		t.Error("expected time test to be applied across qualified and unqualified lots")
	}

	combo, err := engine.DeriveMethodCombination(saleID)
	if err != nil {
		t.Fatalf("DeriveMethodCombination() error = %v", err)
	}
	if combo != "Manual+TT -> Manual" {
		t.Errorf("expected \"Manual+TT -> Manual\", got %q", combo)
	}

	breakdown, err := engine.MethodBreakdown(saleID)
	if err != nil {
		t.Fatalf("MethodBreakdown() error = %v", err)
	}
	if len(breakdown) != 2 {
		t.Fatalf("expected 2 breakdown rows, got %d", len(breakdown))
	}
}

func mustUnixSeconds(t *testing.T, value string) int64 {
	t.Helper()
	parsed, err := time.ParseInLocation("2006-01-02 15:04:05", value, time.Local)
	if err != nil {
		t.Fatalf("failed to parse %q: %v", value, err)
	}
	return parsed.Unix()
}
