// Package pairing implements the lot-pairing engine: matching a sale
// against prior purchase lots of the same security under one of several
// selection policies, subject to a calendar-based holding-period test.
package pairing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jnovotny/ledgertool/internal/calendar"
	"github.com/jnovotny/ledgertool/internal/store"
	"github.com/jnovotny/ledgertool/pkg/helpers"
	"github.com/jnovotny/ledgertool/pkg/logging"
)

// Method is a lot-selection policy.
type Method string

const (
	MethodFIFO      Method = "FIFO"
	MethodLIFO      Method = "LIFO"
	MethodMaxLose   Method = "MaxLose"
	MethodMaxProfit Method = "MaxProfit"
	MethodManual    Method = "Manual"
)

var (
	ErrInsufficientQuantity = errors.New("insufficient quantity to fully pair sale")
	ErrNotASale             = errors.New("trade is not a sell")
	ErrNotAPurchase         = errors.New("trade is not a buy")
	ErrDifferentSecurities  = errors.New("purchase and sale are of different securities")
	ErrChronology           = errors.New("purchase must precede sale")
)

var methodOrdering = map[Method]store.Ordering{
	MethodFIFO:      store.OrderTimestampAsc,
	MethodLIFO:      store.OrderTimestampDesc,
	MethodMaxLose:   store.OrderPriceDesc,
	MethodMaxProfit: store.OrderPriceAsc,
}

// Result reports the outcome of applying a policy to one sale.
type Result struct {
	Success             bool
	PairingsCreated     int
	TotalQuantityPaired float64
	Error               string
}

// Engine applies pairing policies against a transaction store.
type Engine struct {
	store              *store.Store
	holdingPeriodYears int
	log                *logging.Logger
}

// New constructs an Engine. holdingPeriodYears is the configured time-test
// exemption period (3 in the default Czech configuration).
func New(s *store.Store, holdingPeriodYears int, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Default()
	}
	return &Engine{store: s, holdingPeriodYears: holdingPeriodYears, log: log.WithPrefix("pairing")}
}

// Apply runs method against saleTradeID, looping until the sale is fully
// paired or candidate lots are exhausted. Manual pairing is handled by
// ManualPair instead; passing MethodManual here fails with InvalidInput.
func (e *Engine) Apply(saleTradeID int64, method Method) (*Result, error) {
	ordering, ok := methodOrdering[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an automatic method", store.ErrInvalidInput, method)
	}
	return e.applyWithOrdering(saleTradeID, method, ordering, false)
}

// ApplyQualifiedOnly behaves like Apply but restricts candidate lots to
// those that already satisfy the holding-period time test, pre-filtering
// at the query level by subtracting the holding period from the sale date
// (with the same Feb-29 fallback as the time-test check itself) rather
// than scanning every candidate and checking after the fact.
func (e *Engine) ApplyQualifiedOnly(saleTradeID int64, method Method) (*Result, error) {
	ordering, ok := methodOrdering[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an automatic method", store.ErrInvalidInput, method)
	}
	return e.applyWithOrdering(saleTradeID, method, ordering, true)
}

func (e *Engine) applyWithOrdering(saleTradeID int64, method Method, ordering store.Ordering, timeTestOnly bool) (*Result, error) {
	sale, err := e.store.GetTrade(saleTradeID)
	if err != nil {
		return nil, err
	}
	if sale.TradeType != store.TradeTypeSell {
		return nil, ErrNotASale
	}

	remaining := -sale.RemainingQuantity // sale.RemainingQuantity <= 0
	if helpers.NearZero(remaining) {
		return &Result{Success: true, PairingsCreated: 0, TotalQuantityPaired: 0}, nil
	}

	var threshold *int64
	if timeTestOnly {
		saleTime := time.Unix(sale.Timestamp, 0)
		t := calendar.SubtractYearsCivil(saleTime, e.holdingPeriodYears).Unix()
		threshold = &t
	}

	created := 0
	paired := 0.0
	for remaining > helpers.QuantityEpsilon {
		lot, err := e.store.NextAvailableLot(sale.ISINID, sale.Timestamp, ordering, threshold)
		if err != nil {
			return nil, err
		}
		if lot == nil {
			if created == 0 {
				return &Result{Success: false, PairingsCreated: 0, TotalQuantityPaired: 0,
					Error: "no available purchase lots for this security before the sale date"}, nil
			}
			return &Result{Success: false, PairingsCreated: created, TotalQuantityPaired: paired,
				Error: "insufficient quantity: candidate lots exhausted before the sale was fully paired"}, nil
		}

		quantity := remaining
		if lot.RemainingQuantity < quantity {
			quantity = lot.RemainingQuantity
		}

		qualified := checkTimeTest(lot.Timestamp, sale.Timestamp, e.holdingPeriodYears)
		holdingDays := holdingPeriodDays(lot.Timestamp, sale.Timestamp)

		if _, err := e.store.CreatePairing(&store.Pairing{
			SaleTradeID:       saleTradeID,
			PurchaseTradeID:   lot.PurchaseTradeID,
			Quantity:          quantity,
			Method:            string(method),
			TimeTestQualified: qualified,
			HoldingPeriodDays: holdingDays,
		}); err != nil {
			return nil, err
		}

		created++
		paired += quantity
		remaining -= quantity
	}

	return &Result{Success: true, PairingsCreated: created, TotalQuantityPaired: paired}, nil
}

// checkTimeTest reports whether a lot purchased at purchaseTS and sold at
// saleTS satisfies the holding-period exemption: the sale must fall
// strictly after purchase date + years years, with Feb-29 purchases
// falling back to Feb 28 in non-leap target years.
func checkTimeTest(purchaseTS, saleTS int64, years int) bool {
	purchase := time.Unix(purchaseTS, 0)
	sale := time.Unix(saleTS, 0)
	anchor := calendar.AddYearsCivil(purchase, years)
	return sale.After(anchor)
}

// holdingPeriodDays is the whole-day duration from purchase to sale.
func holdingPeriodDays(purchaseTS, saleTS int64) int64 {
	return (saleTS - purchaseTS) / 86400
}

// CheckTimeTest exposes the holding-period rule for callers that need it
// independent of a matching pass (e.g. UI previews, tests).
func (e *Engine) CheckTimeTest(purchaseTS, saleTS int64) bool {
	return checkTimeTest(purchaseTS, saleTS, e.holdingPeriodYears)
}

// ValidatePairingAvailability is a pre-flight check for Manual pairing: it
// reports whether quantity units of purchaseTradeID are still available to
// pair, along with a human-readable reason when they are not.
func (e *Engine) ValidatePairingAvailability(purchaseTradeID int64, quantity float64) (bool, string, error) {
	if quantity <= helpers.QuantityEpsilon {
		return false, "quantity must be positive", nil
	}
	purchase, err := e.store.GetTrade(purchaseTradeID)
	if err != nil {
		return false, "", err
	}
	if purchase.TradeType != store.TradeTypeBuy {
		return false, "trade is not a purchase", nil
	}
	if purchase.RemainingQuantity < quantity-helpers.QuantityEpsilon {
		return false, fmt.Sprintf("only %.8f of %.8f requested remains available", purchase.RemainingQuantity, quantity), nil
	}
	return true, "", nil
}

// ManualPair records a user-chosen pairing between a specific purchase and
// sale, after validating that both trades are of the same security, that
// the purchase strictly precedes the sale, and that both sides have enough
// remaining quantity.
func (e *Engine) ManualPair(saleTradeID, purchaseTradeID int64, quantity float64) (*store.Pairing, error) {
	sale, err := e.store.GetTrade(saleTradeID)
	if err != nil {
		return nil, err
	}
	purchase, err := e.store.GetTrade(purchaseTradeID)
	if err != nil {
		return nil, err
	}
	if sale.TradeType != store.TradeTypeSell {
		return nil, ErrNotASale
	}
	if purchase.TradeType != store.TradeTypeBuy {
		return nil, ErrNotAPurchase
	}
	if sale.ISINID != purchase.ISINID {
		return nil, ErrDifferentSecurities
	}
	if purchase.Timestamp >= sale.Timestamp {
		return nil, ErrChronology
	}
	if quantity <= helpers.QuantityEpsilon {
		return nil, fmt.Errorf("%w: quantity must be positive", store.ErrInvalidInput)
	}
	if purchase.RemainingQuantity < quantity-helpers.QuantityEpsilon {
		return nil, fmt.Errorf("%w: purchase lot only has %.8f remaining", ErrInsufficientQuantity, purchase.RemainingQuantity)
	}
	if -sale.RemainingQuantity < quantity-helpers.QuantityEpsilon {
		return nil, fmt.Errorf("%w: sale only has %.8f remaining to pair", ErrInsufficientQuantity, -sale.RemainingQuantity)
	}

	qualified := checkTimeTest(purchase.Timestamp, sale.Timestamp, e.holdingPeriodYears)
	holdingDays := holdingPeriodDays(purchase.Timestamp, sale.Timestamp)

	id, err := e.store.CreatePairing(&store.Pairing{
		SaleTradeID:       saleTradeID,
		PurchaseTradeID:   purchaseTradeID,
		Quantity:          quantity,
		Method:            string(MethodManual),
		TimeTestQualified: qualified,
		HoldingPeriodDays: holdingDays,
	})
	if err != nil {
		return nil, err
	}
	return e.store.GetPairing(id)
}

// MethodBreakdownEntry is one row of a method breakdown: the summed
// quantity paired under method, split by whether it qualified for the
// holding-period exemption.
type MethodBreakdownEntry struct {
	Method            string
	TimeTestQualified bool
	Quantity          float64
}

// MethodBreakdown sums, for each (time_test_qualified, method) pair among
// the pairings of a sale, the total quantity paired under it.
func (e *Engine) MethodBreakdown(saleTradeID int64) ([]MethodBreakdownEntry, error) {
	pairings, err := e.store.PairingsForSale(saleTradeID)
	if err != nil {
		return nil, err
	}
	type key struct {
		method    string
		qualified bool
	}
	totals := make(map[key]float64)
	var order []key
	for _, p := range pairings {
		k := key{p.Method, p.TimeTestQualified}
		if _, seen := totals[k]; !seen {
			order = append(order, k)
		}
		totals[k] += p.Quantity
	}
	out := make([]MethodBreakdownEntry, 0, len(order))
	for _, k := range order {
		out = append(out, MethodBreakdownEntry{Method: k.method, TimeTestQualified: k.qualified, Quantity: totals[k]})
	}
	return out, nil
}

// IsTimeTestApplied reports whether a sale's pairings contain both
// qualified and non-qualified lots, i.e. the time test actually split the
// disposal into two tax treatments.
func (e *Engine) IsTimeTestApplied(saleTradeID int64) (bool, error) {
	pairings, err := e.store.PairingsForSale(saleTradeID)
	if err != nil {
		return false, err
	}
	var qualified, unqualified int
	for _, p := range pairings {
		if p.TimeTestQualified {
			qualified++
		} else {
			unqualified++
		}
	}
	return qualified > 0 && unqualified > 0, nil
}

// DeriveMethodCombination summarizes how a sale was paired as a single
// human-readable string. Pairings are partitioned by TimeTestQualified; a
// class with a single method contributes that method's name, a class with
// several contributes "Mixed(A, B, ...)" in first-seen order. A sale paired
// entirely within one class yields just that class's label; a sale spanning
// both classes yields "<TT-label>+TT -> <non-TT-label>".
func (e *Engine) DeriveMethodCombination(saleTradeID int64) (string, error) {
	pairings, err := e.store.PairingsForSale(saleTradeID)
	if err != nil {
		return "", err
	}
	if len(pairings) == 0 {
		return "", nil
	}

	qualifiedLabel := classLabel(pairings, true)
	unqualifiedLabel := classLabel(pairings, false)

	switch {
	case qualifiedLabel != "" && unqualifiedLabel != "":
		return fmt.Sprintf("%s+TT -> %s", qualifiedLabel, unqualifiedLabel), nil
	case qualifiedLabel != "":
		return qualifiedLabel, nil
	default:
		return unqualifiedLabel, nil
	}
}

// classLabel returns the method-combination label for the pairings of a
// sale within one time-test class (qualified or not), or "" if the class is
// empty.
func classLabel(pairings []*store.Pairing, qualified bool) string {
	var methods []string
	seen := make(map[string]bool)
	for _, p := range pairings {
		if p.TimeTestQualified != qualified {
			continue
		}
		if !seen[p.Method] {
			seen[p.Method] = true
			methods = append(methods, p.Method)
		}
	}
	switch len(methods) {
	case 0:
		return ""
	case 1:
		return methods[0]
	default:
		return fmt.Sprintf("Mixed(%s)", strings.Join(methods, ", "))
	}
}
