package importer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jnovotny/ledgertool/internal/store"
)

type fixedRateProvider struct {
	rates map[string]float64
}

func (f *fixedRateProvider) Rate(ctx context.Context, currency string, date time.Time) (float64, error) {
	if currency == "CZK" {
		return 1.0, nil
	}
	return f.rates[currency], nil
}

func newImportTestStore(t *testing.T) *store.Store {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "ledgertool-importer-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	s, err := store.New(store.Config{Path: filepath.Join(tmpDir, "ledger.db")})
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

const csvHeader = "Action,Time,ISIN,Ticker,Name,ID,No. of shares,Price / share,Currency (Price / share),Total,Currency (Total),Withholding tax,Currency (Withholding tax),Notes,Stamp duty reserve tax,Currency (Stamp duty reserve tax),Currency conversion fee,Currency (Currency conversion fee),French transaction tax,Currency (French transaction tax)\n"

func TestImportBuyAndSell(t *testing.T) {
	s := newImportTestStore(t)
	imp := New(s, &fixedRateProvider{rates: map[string]float64{"USD": 22.0}}, nil)

	csv := csvHeader +
		"Market buy,2024-01-10 09:00:00,US0000000001,AAA,Test Co,buy-1,10,100,USD,1000,USD,,,,,,,,,\n" +
		"Market sell,2024-06-10 09:00:00,US0000000001,AAA,Test Co,sell-1,4,150,USD,600,USD,,,,,,,,,\n"

	report, err := imp.Import(context.Background(), strings.NewReader(csv))
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if report.Read.Buy != 1 || report.Added.Buy != 1 {
		t.Errorf("expected 1 read/added buy, got read=%d added=%d", report.Read.Buy, report.Added.Buy)
	}
	if report.Read.Sell != 1 || report.Added.Sell != 1 {
		t.Errorf("expected 1 read/added sell, got read=%d added=%d", report.Read.Sell, report.Added.Sell)
	}

	sec, err := s.GetSecurityByISIN("US0000000001")
	if err != nil || sec == nil {
		t.Fatalf("expected security to exist, err=%v", err)
	}

	trades, err := s.TradesBySecurity(sec.ID)
	if err != nil {
		t.Fatalf("TradesBySecurity() error = %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}

	buy := trades[0]
	if buy.NumberOfShares != 10 {
		t.Errorf("expected buy shares 10, got %v", buy.NumberOfShares)
	}
	if buy.TotalCZK != -22000 {
		t.Errorf("expected buy total -22000 CZK (cost out), got %v", buy.TotalCZK)
	}

	sell := trades[1]
	if sell.NumberOfShares != -4 {
		t.Errorf("expected sell shares -4, got %v", sell.NumberOfShares)
	}
	if sell.TotalCZK != 13200 {
		t.Errorf("expected sell total 13200 CZK (proceeds in), got %v", sell.TotalCZK)
	}
}

func TestImportSkipsUnknownActionAndMissingISIN(t *testing.T) {
	s := newImportTestStore(t)
	imp := New(s, &fixedRateProvider{}, nil)

	csv := csvHeader +
		"Some Weird Action,2024-01-10 09:00:00,,,,id-1,,,,,,,,,,,,,,\n" +
		"Market buy,2024-01-10 09:00:00,,AAA,Test Co,buy-2,10,100,CZK,1000,CZK,,,,,,,,,\n" +
		"Deposit,2024-01-10 09:00:00,,,,,,,,,,,,,,,,,,\n"

	report, err := imp.Import(context.Background(), strings.NewReader(csv))
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if report.Read.Unknown != 1 {
		t.Errorf("expected 1 unknown row, got %d", report.Read.Unknown)
	}
	if report.Read.Buy != 1 || report.Added.Buy != 0 {
		t.Errorf("expected buy read but not added due to missing ISIN, got read=%d added=%d", report.Read.Buy, report.Added.Buy)
	}
	if report.Read.Insignificant != 1 {
		t.Errorf("expected 1 insignificant row, got %d", report.Read.Insignificant)
	}
}

func TestImportInterestDispatchByNote(t *testing.T) {
	s := newImportTestStore(t)
	imp := New(s, &fixedRateProvider{}, nil)

	csv := csvHeader +
		"Interest on cash,2024-01-10 09:00:00,,,,int-1,,,,5,CZK,,,Interest on cash,,,,,,\n" +
		"Lending interest,2024-01-11 09:00:00,,,,int-2,,,,3,CZK,,,Share lending interest,,,,,,\n"

	report, err := imp.Import(context.Background(), strings.NewReader(csv))
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if report.Added.Interest != 2 {
		t.Errorf("expected 2 interests added, got %d", report.Added.Interest)
	}

	start, end := int64(0), time.Now().Unix()+86400
	totals, err := s.InterestTotalsByType(start, end)
	if err != nil {
		t.Fatalf("InterestTotalsByType() error = %v", err)
	}
	if totals[store.InterestCash] != 5 {
		t.Errorf("expected cash interest total 5, got %v", totals[store.InterestCash])
	}
	if totals[store.InterestLending] != 3 {
		t.Errorf("expected lending interest total 3, got %v", totals[store.InterestLending])
	}
}

func TestImportInterestConvertsNonCZKTotal(t *testing.T) {
	s := newImportTestStore(t)
	imp := New(s, &fixedRateProvider{rates: map[string]float64{"USD": 22.0}}, nil)

	csv := csvHeader +
		"Interest on cash,2024-01-10 09:00:00,,,,int-usd-1,,,,5,USD,,,Interest on cash,,,,,,\n"

	report, err := imp.Import(context.Background(), strings.NewReader(csv))
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if report.Added.Interest != 1 {
		t.Errorf("expected 1 interest added, got %d", report.Added.Interest)
	}

	start, end := int64(0), time.Now().Unix()+86400
	totals, err := s.InterestTotalsByType(start, end)
	if err != nil {
		t.Fatalf("InterestTotalsByType() error = %v", err)
	}
	if totals[store.InterestCash] != 110 {
		t.Errorf("expected cash interest total 110 CZK (5 USD * 22), got %v", totals[store.InterestCash])
	}
}

func TestImportDuplicateIDStringNotAddedTwice(t *testing.T) {
	s := newImportTestStore(t)
	imp := New(s, &fixedRateProvider{}, nil)

	csv := csvHeader +
		"Market buy,2024-01-10 09:00:00,US0000000002,AAA,Test Co,dup-1,10,100,CZK,1000,CZK,,,,,,,,,\n" +
		"Market buy,2024-01-10 09:00:00,US0000000002,AAA,Test Co,dup-1,10,100,CZK,1000,CZK,,,,,,,,,\n"

	report, err := imp.Import(context.Background(), strings.NewReader(csv))
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if report.Read.Buy != 2 {
		t.Errorf("expected 2 reads, got %d", report.Read.Buy)
	}
	if report.Added.Buy != 1 {
		t.Errorf("expected only 1 added (insert-or-ignore on duplicate ID), got %d", report.Added.Buy)
	}
}
