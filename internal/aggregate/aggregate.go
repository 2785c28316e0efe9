// Package aggregate computes per-calendar-year income summaries: dividend
// and interest rollups plus realized capital gains, combining the pairing
// store with the Country Resolver.
package aggregate

import (
	"context"
	"math"
	"sort"

	"github.com/jnovotny/ledgertool/internal/calendar"
	"github.com/jnovotny/ledgertool/internal/country"
	"github.com/jnovotny/ledgertool/internal/store"
	"github.com/jnovotny/ledgertool/pkg/logging"
)

// GainMode records which of the two realized-gain computations produced a
// SecurityRealizedGain row.
type GainMode string

const (
	GainModeExplicit GainMode = "explicit"
	GainModeFIFO     GainMode = "fifo"
)

// DividendSummary is the year's total dividend income plus its per-security
// breakdown.
type DividendSummary struct {
	GrossCZK   float64
	TaxCZK     float64
	NetCZK     float64
	BySecurity []store.SecurityDividendSummary
}

// CountryDividendSummary is the dividend totals attributed to one resolved
// country of source.
type CountryDividendSummary struct {
	CountryCode string
	GrossCZK    float64
	TaxCZK      float64
}

// SecurityRealizedGain is one security's realized P&L for the year, computed
// either from stored pairings or, absent any, from a streaming FIFO walk of
// its trade history.
type SecurityRealizedGain struct {
	ISINID           int64
	ISIN             string
	Ticker           string
	Name             string
	RealizedPnLCZK   float64
	SharesSold       float64
	UnrealizedShares float64
	Mode             GainMode
}

// YearSummary is the complete income picture for one calendar year.
type YearSummary struct {
	Year               int
	Dividends          DividendSummary
	DividendsByCountry []CountryDividendSummary
	InterestByType     map[store.InterestType]float64
	RealizedGains      []SecurityRealizedGain
}

// Aggregator assembles YearSummary values from a store and a country
// resolver.
type Aggregator struct {
	store    *store.Store
	resolver *country.Resolver
	log      *logging.Logger
}

// New constructs an Aggregator. resolver may be nil, in which case a
// resolver with no overrides is used and every dividend is attributed to
// the country in its ISIN's first two characters ("XX" for a shorter ISIN).
func New(s *store.Store, resolver *country.Resolver, log *logging.Logger) *Aggregator {
	if log == nil {
		log = logging.Default()
	}
	if resolver == nil {
		resolver = country.NewResolver("")
	}
	return &Aggregator{store: s, resolver: resolver, log: log.WithPrefix("aggregate")}
}

// Aggregate computes the full income summary for year.
func (a *Aggregator) Aggregate(ctx context.Context, year int) (*YearSummary, error) {
	start, end := calendar.YearBounds(year)

	divTotal, err := a.store.DividendSummaryByDateRange(start, end)
	if err != nil {
		return nil, err
	}
	bySecurity, err := a.store.DividendSummaryBySecurity(start, end)
	if err != nil {
		return nil, err
	}

	interestByType, err := a.store.InterestTotalsByType(start, end)
	if err != nil {
		return nil, err
	}

	gains, err := a.realizedGains(year, start, end)
	if err != nil {
		return nil, err
	}

	return &YearSummary{
		Year: year,
		Dividends: DividendSummary{
			GrossCZK:   divTotal.GrossCZK,
			TaxCZK:     divTotal.TaxCZK,
			NetCZK:     divTotal.NetCZK,
			BySecurity: bySecurity,
		},
		DividendsByCountry: a.dividendsByCountry(bySecurity),
		InterestByType:     interestByType,
		RealizedGains:      gains,
	}, nil
}

func (a *Aggregator) dividendsByCountry(bySecurity []store.SecurityDividendSummary) []CountryDividendSummary {
	totals := make(map[string]*CountryDividendSummary)
	for _, row := range bySecurity {
		code, _ := a.resolver.Resolve(row.ISIN)
		entry, ok := totals[code]
		if !ok {
			entry = &CountryDividendSummary{CountryCode: code}
			totals[code] = entry
		}
		entry.GrossCZK += row.GrossCZK
		entry.TaxCZK += row.TaxCZK
	}

	out := make([]CountryDividendSummary, 0, len(totals))
	for _, entry := range totals {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CountryCode < out[j].CountryCode })
	return out
}

func (a *Aggregator) realizedGains(year int, yearStart, yearEnd int64) ([]SecurityRealizedGain, error) {
	securityIDs, err := a.store.SecuritiesWithSellsInYear(year)
	if err != nil {
		return nil, err
	}

	var out []SecurityRealizedGain
	for _, isinID := range securityIDs {
		sec, err := a.store.GetSecurity(isinID)
		if err != nil {
			return nil, err
		}
		trades, err := a.store.TradesBySecurity(isinID)
		if err != nil {
			return nil, err
		}

		hasPairings, err := a.securityHasPairings(trades)
		if err != nil {
			return nil, err
		}

		var gain SecurityRealizedGain
		if hasPairings {
			gain, err = a.explicitGain(trades, yearStart, yearEnd)
		} else {
			gain, err = a.fifoGain(trades, yearStart, yearEnd)
		}
		if err != nil {
			return nil, err
		}
		gain.ISINID = isinID
		gain.ISIN = sec.ISIN
		gain.Ticker = sec.Ticker
		gain.Name = sec.Name
		out = append(out, gain)
	}
	return out, nil
}

// CountryTaxReconciliation compares a country's stored dividend tax against
// the figure the Tax-Rate Catalog's withholding rate would produce from the
// same net income, surfacing the two independent figures side by side
// rather than silently overriding the stored one.
type CountryTaxReconciliation struct {
	CountryCode      string
	StoredTaxCZK     float64
	RecomputedTaxCZK float64
	Available        bool
}

// ReconcileCountryTax recomputes each row's dividend tax from its stored net
// income via catalog's withholding rate. A country with no configured rate
// reports Available=false and a zero recomputed value.
func ReconcileCountryTax(rows []CountryDividendSummary, catalog *country.TaxRateCatalog) []CountryTaxReconciliation {
	out := make([]CountryTaxReconciliation, 0, len(rows))
	for _, row := range rows {
		net := row.GrossCZK - row.TaxCZK
		tax, ok := catalog.CalculateTaxFromNet(net, row.CountryCode)
		out = append(out, CountryTaxReconciliation{
			CountryCode:      row.CountryCode,
			StoredTaxCZK:     row.TaxCZK,
			RecomputedTaxCZK: tax,
			Available:        ok,
		})
	}
	return out
}

func (a *Aggregator) securityHasPairings(trades []*store.Trade) (bool, error) {
	for _, t := range trades {
		if t.TradeType != store.TradeTypeSell {
			continue
		}
		pairings, err := a.store.PairingsForSale(t.ID)
		if err != nil {
			return false, err
		}
		if len(pairings) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// perShareCZK returns |total_czk| / |number_of_shares| for t, the per-share
// reporting-currency value used by the explicit pairings path.
func perShareCZK(t *store.Trade) float64 {
	if t.NumberOfShares == 0 {
		return 0
	}
	return math.Abs(t.TotalCZK) / math.Abs(t.NumberOfShares)
}

// explicitGain sums realized P&L across every stored pairing whose sale
// trade falls within [yearStart, yearEnd].
func (a *Aggregator) explicitGain(trades []*store.Trade, yearStart, yearEnd int64) (SecurityRealizedGain, error) {
	var gain SecurityRealizedGain
	for _, t := range trades {
		if t.TradeType != store.TradeTypeSell {
			continue
		}
		if t.Timestamp < yearStart || t.Timestamp > yearEnd {
			continue
		}

		pairings, err := a.store.PairingsForSale(t.ID)
		if err != nil {
			return gain, err
		}
		salePerShare := perShareCZK(t)
		for _, p := range pairings {
			purchase, err := a.store.GetTrade(p.PurchaseTradeID)
			if err != nil {
				return gain, err
			}
			purchasePerShare := perShareCZK(purchase)
			gain.RealizedPnLCZK += (salePerShare - purchasePerShare) * p.Quantity
			gain.SharesSold += p.Quantity
		}
	}
	gain.Mode = GainModeExplicit
	return gain, nil
}

// fifoGain walks trades (already ordered by timestamp) maintaining a FIFO
// queue of open lots, crediting realized P&L only for the slices consumed
// by a sell that falls within [yearStart, yearEnd] while still consuming
// out-of-range sells to preserve queue order.
func (a *Aggregator) fifoGain(trades []*store.Trade, yearStart, yearEnd int64) (SecurityRealizedGain, error) {
	type lot struct {
		shares       float64
		costPerShare float64
	}

	var queue []lot
	var gain SecurityRealizedGain

	for _, t := range trades {
		fees := math.Abs(t.StampTaxCZK) + math.Abs(t.ConversionFeeCZK) + math.Abs(t.FrenchTransactionTaxCZK)
		shares := math.Abs(t.NumberOfShares)
		if shares == 0 {
			continue
		}

		switch t.TradeType {
		case store.TradeTypeBuy:
			costPerShare := (math.Abs(t.TotalCZK) + fees) / shares
			queue = append(queue, lot{shares: shares, costPerShare: costPerShare})

		case store.TradeTypeSell:
			sellProceeds := math.Abs(t.TotalCZK) - fees
			sellPricePerShare := sellProceeds / shares
			inYear := t.Timestamp >= yearStart && t.Timestamp <= yearEnd

			remaining := shares
			for remaining > 0 && len(queue) > 0 {
				head := &queue[0]
				consumed := remaining
				if head.shares < consumed {
					consumed = head.shares
				}
				if inYear {
					gain.RealizedPnLCZK += (sellPricePerShare - head.costPerShare) * consumed
					gain.SharesSold += consumed
				}
				head.shares -= consumed
				remaining -= consumed
				if head.shares <= 0 {
					queue = queue[1:]
				}
			}
		}
	}

	for _, l := range queue {
		gain.UnrealizedShares += l.shares
	}
	gain.Mode = GainModeFIFO
	return gain, nil
}
