// Package rates implements the Rate Provider: currency-to-CZK conversion
// either fetched live from the Czech National Bank's daily fixing feed or
// looked up from a set of annual rates persisted in the transaction store.
package rates

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jnovotny/ledgertool/internal/store"
	"github.com/jnovotny/ledgertool/pkg/helpers"
	"github.com/jnovotny/ledgertool/pkg/logging"
)

var (
	ErrInvalidCurrency = errors.New("currency must be a three-letter alpha code")
	ErrRateUnavailable = errors.New("rate unavailable")
	ErrWrongRateMode   = errors.New("wrong rate mode for this operation")
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Provider converts an amount of currency on date into CZK per unit.
type Provider interface {
	Rate(ctx context.Context, currency string, date time.Time) (float64, error)
}

func normalizeCurrency(currency string) (string, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if !currencyPattern.MatchString(currency) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}
	return currency, nil
}

// DailyProvider fetches rates from the CNB daily fixing feed over HTTP,
// caching successful lookups in-process for the process lifetime. Failed
// fetches are never cached so a transient outage can be retried later.
type DailyProvider struct {
	baseURL    string
	httpClient *http.Client
	log        *logging.Logger

	mu    sync.Mutex
	cache map[time.Time]map[string]float64
}

const defaultDailyFeedURL = "https://www.cnb.cz/en/financial-markets/foreign-exchange-market/central-bank-exchange-rate-fixing/central-bank-exchange-rate-fixing/daily.txt"

// NewDailyProvider constructs a DailyProvider against the CNB feed. An empty
// baseURL uses the production feed URL.
func NewDailyProvider(baseURL string, log *logging.Logger) *DailyProvider {
	if baseURL == "" {
		baseURL = defaultDailyFeedURL
	}
	if log == nil {
		log = logging.Default()
	}
	return &DailyProvider{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log.WithPrefix("rates"),
		cache:      make(map[time.Time]map[string]float64),
	}
}

// Rate returns the CZK-per-unit rate for currency on date's calendar day.
func (p *DailyProvider) Rate(ctx context.Context, currency string, date time.Time) (float64, error) {
	currency, err := normalizeCurrency(currency)
	if err != nil {
		return 0, err
	}
	if currency == "CZK" {
		return 1.0, nil
	}

	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())

	p.mu.Lock()
	cached, ok := p.cache[day]
	p.mu.Unlock()
	if ok {
		rate, ok := cached[currency]
		if !ok {
			return 0, fmt.Errorf("%w: %s on %s", ErrRateUnavailable, currency, day.Format("2006-01-02"))
		}
		return rate, nil
	}

	fetched, err := p.fetchDay(ctx, day)
	if err != nil {
		return 0, fmt.Errorf("%w: %s on %s: %v", ErrRateUnavailable, currency, day.Format("2006-01-02"), err)
	}

	p.mu.Lock()
	p.cache[day] = fetched
	p.mu.Unlock()

	rate, ok := fetched[currency]
	if !ok {
		return 0, fmt.Errorf("%w: %s on %s", ErrRateUnavailable, currency, day.Format("2006-01-02"))
	}
	return rate, nil
}

// fetchDay retrieves and parses one day's feed. The first two lines (date
// header, column header) are discarded; each remaining line is
// pipe-delimited country|currency|amount|code|rate. Malformed lines are
// skipped rather than failing the whole fetch.
func (p *DailyProvider) fetchDay(ctx context.Context, day time.Time) (map[string]float64, error) {
	url := fmt.Sprintf("%s?date=%s", p.baseURL, day.Format("02.01.2006"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return parseDailyFeed(string(body)), nil
}

func parseDailyFeed(body string) map[string]float64 {
	rates := make(map[string]float64)
	lines := strings.Split(strings.TrimSpace(body), "\n")
	if len(lines) <= 2 {
		return rates
	}
	for _, line := range lines[2:] {
		parts := strings.Split(strings.TrimSpace(line), "|")
		if len(parts) != 5 {
			continue
		}
		code := strings.ToUpper(strings.TrimSpace(parts[3]))
		var amount, rate float64
		if _, err := fmt.Sscanf(parts[2], "%g", &amount); err != nil || amount == 0 {
			continue
		}
		if _, err := fmt.Sscanf(parts[4], "%g", &rate); err != nil {
			continue
		}
		rates[code] = rate / amount
	}
	return rates
}

// AnnualProvider looks up rates persisted in the transaction store, one per
// (year, currency). It never performs network I/O.
type AnnualProvider struct {
	store *store.Store
}

// NewAnnualProvider constructs an AnnualProvider backed by s.
func NewAnnualProvider(s *store.Store) *AnnualProvider {
	return &AnnualProvider{store: s}
}

// Rate returns the persisted rate for currency in date's calendar year.
func (p *AnnualProvider) Rate(ctx context.Context, currency string, date time.Time) (float64, error) {
	currency, err := normalizeCurrency(currency)
	if err != nil {
		return 0, err
	}
	if currency == "CZK" {
		return 1.0, nil
	}

	rate, found, err := p.store.AnnualRatePerUnit(date.Year(), currency)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%w: %s in %d", ErrRateUnavailable, currency, date.Year())
	}
	return rate, nil
}

// AvailableYears returns the distinct years with at least one stored rate.
func (p *AnnualProvider) AvailableYears(ctx context.Context) ([]int, error) {
	return p.store.AvailableYears()
}

// RatesForYear returns every stored rate row for year.
func (p *AnnualProvider) RatesForYear(ctx context.Context, year int) ([]store.AnnualRate, error) {
	return p.store.RatesForYear(year)
}

// LoadAnnualRate persists a single (year, currency) rate, replacing any
// existing value for that pair. It fails with ErrWrongRateMode when the
// backing store was created in daily mode.
func (p *AnnualProvider) LoadAnnualRate(year int, currency string, amount int, rate float64, description string) error {
	currency, err := normalizeCurrency(currency)
	if err != nil {
		return err
	}
	mode, err := p.store.RateMode()
	if err != nil {
		return err
	}
	if mode != "annual" {
		return fmt.Errorf("%w: store is in %q mode", ErrWrongRateMode, mode)
	}
	return p.store.UpsertAnnualRate(&store.AnnualRate{
		Year: year, Currency: currency, Amount: amount, Rate: rate, Description: description,
	})
}

// annualFileRow is one parsed line of a GFŘ-style annual rate file.
type annualFileRow struct {
	Currency string
	Amount   int
	Rate     float64
}

// parseAnnualRateFile parses the whitespace-separated annual rate file
// format: "country_desc currency_desc amount CODE rate", one entry per
// line, blank lines skipped. The description columns may themselves
// contain spaces, so only the last three fields (amount, code, rate) are
// taken from each line. Rate accepts either comma or dot as the decimal
// separator.
func parseAnnualRateFile(body string) []annualFileRow {
	var rows []annualFileRow
	for _, line := range strings.Split(body, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		rateStr := fields[len(fields)-1]
		code := fields[len(fields)-2]
		amountStr := fields[len(fields)-3]

		amount, err := strconv.Atoi(amountStr)
		if err != nil || amount == 0 {
			continue
		}
		rate, err := helpers.ParseDecimal(rateStr)
		if err != nil {
			continue
		}
		currency, err := normalizeCurrency(code)
		if err != nil {
			continue
		}
		rows = append(rows, annualFileRow{Currency: currency, Amount: amount, Rate: rate})
	}
	return rows
}

// LoadAnnualRateFile parses body as a whole annual rate file for year and
// upserts every row, replacing any existing (year, currency) entries. It
// returns the number of rows loaded and fails with ErrWrongRateMode when
// the backing store was created in daily mode.
func (p *AnnualProvider) LoadAnnualRateFile(year int, body, description string) (int, error) {
	mode, err := p.store.RateMode()
	if err != nil {
		return 0, err
	}
	if mode != "annual" {
		return 0, fmt.Errorf("%w: store is in %q mode", ErrWrongRateMode, mode)
	}

	rows := parseAnnualRateFile(body)
	for _, row := range rows {
		if err := p.store.UpsertAnnualRate(&store.AnnualRate{
			Year: year, Currency: row.Currency, Amount: row.Amount, Rate: row.Rate, Description: description,
		}); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}
