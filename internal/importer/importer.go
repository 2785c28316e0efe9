// Package importer implements the CSV transaction importer: dispatching
// each row to a trade, interest, or dividend insert (or ignoring/counting
// it) by its Action column, converting every monetary column to CZK via a
// rate Provider as it goes.
package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jnovotny/ledgertool/internal/rates"
	"github.com/jnovotny/ledgertool/internal/store"
	"github.com/jnovotny/ledgertool/pkg/logging"
)

const reportingCurrency = "CZK"

const timeLayout = "2006-01-02 15:04:05"

// Counts is a per-category row tally, used for both "read" and "added"
// sections of an ImportReport.
type Counts struct {
	Buy           int
	Sell          int
	Interest      int
	Dividend      int
	Insignificant int
	Unknown       int
}

// ImportReport summarizes one Import call: how many rows of each category
// were read from the input, and how many were actually added (insert-or-
// ignore natural keys mean "read" can exceed "added"). RunID is an
// internal identifier for this call, not a natural key, useful for
// correlating a report with log lines from the same import.
type ImportReport struct {
	RunID        string
	TotalRecords int
	Read         Counts
	Added        Counts
}

// Importer parses a CSV transaction export and loads it into a store.
type Importer struct {
	store *store.Store
	rates rates.Provider
	log   *logging.Logger
}

// New constructs an Importer backed by s, converting monetary columns via
// provider.
func New(s *store.Store, provider rates.Provider, log *logging.Logger) *Importer {
	if log == nil {
		log = logging.Default()
	}
	return &Importer{store: s, rates: provider, log: log.WithPrefix("importer")}
}

// Import reads a header row followed by data rows from r and loads each
// recognized row into the store. Parsing errors on an individual row are
// logged and counted as a failed read; they never abort the whole import.
func (imp *Importer) Import(ctx context.Context, r io.Reader) (*ImportReport, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}

	report := &ImportReport{RunID: uuid.NewString()}
	index := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			imp.log.Warn("failed to read row, skipping", "row", index, "error", err)
			index++
			continue
		}

		row := newRow(columns, record)
		imp.importRow(ctx, index, row, report)
		report.TotalRecords++
		index++
	}

	imp.log.Info("import complete",
		"run_id", report.RunID,
		"records", report.TotalRecords,
		"read_buy", report.Read.Buy, "read_sell", report.Read.Sell,
		"read_interest", report.Read.Interest, "read_dividend", report.Read.Dividend,
		"added_buy", report.Added.Buy, "added_sell", report.Added.Sell,
		"added_interest", report.Added.Interest, "added_dividend", report.Added.Dividend,
	)
	return report, nil
}

// row is one parsed CSV record, addressable by column name. Missing
// columns read as "".
type row struct {
	columns map[string]int
	fields  []string
}

func newRow(columns map[string]int, fields []string) *row {
	return &row{columns: columns, fields: fields}
}

func (r *row) get(name string) string {
	i, ok := r.columns[name]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

func (imp *Importer) importRow(ctx context.Context, index int, row *row, report *ImportReport) {
	action := row.get("Action")
	date := imp.parseTime(row.get("Time"))

	switch action {
	case "Market buy", "Limit buy", "Stock split open":
		report.Read.Buy++
		if imp.importTrade(ctx, index, row, date, store.TradeTypeBuy) {
			report.Added.Buy++
		}

	case "Market sell", "Limit sell", "Stock split close":
		report.Read.Sell++
		if imp.importTrade(ctx, index, row, date, store.TradeTypeSell) {
			report.Added.Sell++
		}

	case "Interest on cash", "Lending interest":
		report.Read.Interest++
		if imp.importInterest(ctx, index, row, date) {
			report.Added.Interest++
		}

	case "Dividend (Dividend)", "Dividend (Dividend manufactured payment)":
		report.Read.Dividend++
		if imp.importDividend(ctx, index, row, date) {
			report.Added.Dividend++
		}

	case "Deposit", "Currency conversion", "Card debit", "Withdrawal", "Result adjustment":
		report.Read.Insignificant++

	default:
		imp.log.Warn("unknown action, skipping", "row", index, "action", action)
		report.Read.Unknown++
	}
}

func (imp *Importer) parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation(timeLayout, raw, time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

// convert parses rawValue, defaulting empty/NaN to 0.0 in the reporting
// currency, and otherwise converts it to CZK via the rate provider. When
// negate is true the raw amount is negated before conversion (fee and
// BUY-side outflow columns).
func (imp *Importer) convert(ctx context.Context, rawValue, currency string, date time.Time, negate bool) (float64, error) {
	amount, empty := parseOptionalFloat(rawValue)
	if empty {
		return 0.0, nil
	}
	if negate {
		amount = -amount
	}
	if currency == "" {
		currency = reportingCurrency
	}
	rate, err := imp.rates.Rate(ctx, currency, date)
	if err != nil {
		return 0, err
	}
	return amount * rate, nil
}

func parseOptionalFloat(raw string) (value float64, empty bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) {
		return 0, true
	}
	return v, false
}

func (imp *Importer) importTrade(ctx context.Context, index int, row *row, date time.Time, tradeType store.TradeType) bool {
	isin := row.get("ISIN")
	idString := row.get("ID")
	if isin == "" || idString == "" {
		imp.log.Warn("missing ISIN or ID for trade, skipping", "row", index)
		return false
	}

	shares, err := strconv.ParseFloat(row.get("No. of shares"), 64)
	if err != nil {
		imp.log.Warn("failed to parse number of shares, skipping", "row", index, "error", err)
		return false
	}
	if tradeType == store.TradeTypeSell {
		shares = -shares
	}

	priceForShare, priceCurrency, err := imp.readPair(ctx, row, "Price / share", "Currency (Price / share)", date, false)
	if err != nil {
		imp.log.Warn("failed to convert price for share, skipping", "row", index, "error", err)
		return false
	}

	total, _, err := imp.readPair(ctx, row, "Total", "Currency (Total)", date, tradeType == store.TradeTypeBuy)
	if err != nil {
		imp.log.Warn("failed to convert total, skipping", "row", index, "error", err)
		return false
	}

	stampTax, _, err := imp.readPair(ctx, row, "Stamp duty reserve tax", "Currency (Stamp duty reserve tax)", date, true)
	if err != nil {
		imp.log.Warn("failed to convert stamp tax, skipping", "row", index, "error", err)
		return false
	}
	conversionFee, _, err := imp.readPair(ctx, row, "Currency conversion fee", "Currency (Currency conversion fee)", date, true)
	if err != nil {
		imp.log.Warn("failed to convert conversion fee, skipping", "row", index, "error", err)
		return false
	}
	frenchTax, _, err := imp.readPair(ctx, row, "French transaction tax", "Currency (French transaction tax)", date, true)
	if err != nil {
		imp.log.Warn("failed to convert french transaction tax, skipping", "row", index, "error", err)
		return false
	}

	isinID, err := imp.store.GetOrCreateSecurity(isin, row.get("Ticker"), row.get("Name"))
	if err != nil {
		imp.log.Warn("failed to resolve security, skipping", "row", index, "error", err)
		return false
	}

	_, inserted, err := imp.store.InsertTrade(&store.Trade{
		Timestamp:               date.Unix(),
		ISINID:                  isinID,
		IDString:                idString,
		TradeType:               tradeType,
		NumberOfShares:          shares,
		PriceForShare:           priceForShare,
		CurrencyOfPrice:         priceCurrency,
		TotalCZK:                total,
		StampTaxCZK:             stampTax,
		ConversionFeeCZK:        conversionFee,
		FrenchTransactionTaxCZK: frenchTax,
	})
	if err != nil {
		imp.log.Warn("failed to insert trade", "row", index, "error", err)
		return false
	}
	return inserted
}

func (imp *Importer) importInterest(ctx context.Context, index int, row *row, date time.Time) bool {
	idString := row.get("ID")
	if idString == "" {
		imp.log.Warn("missing ID for interest, skipping", "row", index)
		return false
	}

	total, currency, err := imp.readPair(ctx, row, "Total", "Currency (Total)", date, false)
	if err != nil {
		imp.log.Warn("failed to convert total, skipping", "row", index, "error", err)
		return false
	}

	interestType := store.InterestUnknown
	switch row.get("Notes") {
	case "Interest on cash":
		interestType = store.InterestCash
	case "Share lending interest":
		interestType = store.InterestLending
	}

	_, inserted, err := imp.store.InsertInterest(&store.Interest{
		Timestamp:       date.Unix(),
		Type:            interestType,
		IDString:        idString,
		CurrencyOfTotal: currency,
		TotalCZK:        total,
	})
	if err != nil {
		imp.log.Warn("failed to insert interest", "row", index, "error", err)
		return false
	}
	return inserted
}

func (imp *Importer) importDividend(ctx context.Context, index int, row *row, date time.Time) bool {
	isin := row.get("ISIN")
	if isin == "" {
		imp.log.Warn("missing ISIN for dividend, skipping", "row", index)
		return false
	}

	shares, err := strconv.ParseFloat(row.get("No. of shares"), 64)
	if err != nil {
		shares = 0.0
	}

	priceForShare, priceCurrency, err := imp.readPair(ctx, row, "Price / share", "Currency (Price / share)", date, false)
	if err != nil {
		imp.log.Warn("failed to convert price for share, skipping", "row", index, "error", err)
		return false
	}
	total, _, err := imp.readPair(ctx, row, "Total", "Currency (Total)", date, false)
	if err != nil {
		imp.log.Warn("failed to convert total, skipping", "row", index, "error", err)
		return false
	}
	withholding, _, err := imp.readPair(ctx, row, "Withholding tax", "Currency (Withholding tax)", date, false)
	if err != nil {
		imp.log.Warn("failed to convert withholding tax, skipping", "row", index, "error", err)
		return false
	}

	isinID, err := imp.store.GetOrCreateSecurity(isin, row.get("Ticker"), row.get("Name"))
	if err != nil {
		imp.log.Warn("failed to resolve security, skipping", "row", index, "error", err)
		return false
	}

	_, inserted, err := imp.store.InsertDividend(&store.Dividend{
		Timestamp:         date.Unix(),
		ISINID:            isinID,
		NumberOfShares:    shares,
		PriceForShare:     priceForShare,
		CurrencyOfPrice:   priceCurrency,
		TotalCZK:          total,
		WithholdingTaxCZK: withholding,
	})
	if err != nil {
		imp.log.Warn("failed to insert dividend", "row", index, "error", err)
		return false
	}
	return inserted
}

// readPair converts a value/currency column pair to CZK, returning the
// resolved currency code alongside the converted amount.
func (imp *Importer) readPair(ctx context.Context, row *row, valueCol, currencyCol string, date time.Time, negate bool) (float64, string, error) {
	currency := row.get(currencyCol)
	if currency == "" {
		currency = reportingCurrency
	}
	amount, err := imp.convert(ctx, row.get(valueCol), currency, date, negate)
	if err != nil {
		return 0, "", err
	}
	return amount, currency, nil
}
