package country

import (
	"encoding/json"
	"os"
	"strings"
)

// ratesFile is the on-disk shape of the withholding tax rate catalog.
type ratesFile struct {
	Rates []struct {
		CountryCode string  `json:"country_code"`
		Rate        float64 `json:"rate"`
	} `json:"rates"`
}

// TaxRateCatalog holds per-country withholding tax rates as decimals
// (a 15 in the source JSON becomes 0.15 here).
type TaxRateCatalog struct {
	ratesByCountry map[string]float64
}

// NewTaxRateCatalog loads rates from the JSON file at path. A missing or
// unparsable file yields an empty catalog: every lookup then reports
// unavailable, and callers fall back to stored gross/tax figures.
func NewTaxRateCatalog(path string) *TaxRateCatalog {
	c := &TaxRateCatalog{ratesByCountry: make(map[string]float64)}
	if path == "" {
		return c
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return c
	}
	var parsed ratesFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return c
	}
	for _, entry := range parsed.Rates {
		if entry.CountryCode == "" {
			continue
		}
		c.ratesByCountry[strings.ToUpper(entry.CountryCode)] = entry.Rate / 100.0
	}
	return c
}

// Rate returns the decimal withholding rate for countryCode, and whether
// one is configured.
func (c *TaxRateCatalog) Rate(countryCode string) (float64, bool) {
	rate, ok := c.ratesByCountry[strings.ToUpper(countryCode)]
	return rate, ok
}

// CalculateTaxFromNet computes tax = net * r / (1 - r) for the configured
// rate of countryCode. ok is false when no rate is configured or the rate
// is outside [0, 1).
func (c *TaxRateCatalog) CalculateTaxFromNet(netAmount float64, countryCode string) (tax float64, ok bool) {
	rate, found := c.Rate(countryCode)
	if !found || rate < 0 || rate >= 1.0 {
		return 0, false
	}
	return netAmount * rate / (1.0 - rate), true
}

// CalculateGrossFromNet computes gross = net / (1 - r) for the configured
// rate of countryCode. ok is false when no rate is configured or the rate
// is outside [0, 1).
func (c *TaxRateCatalog) CalculateGrossFromNet(netAmount float64, countryCode string) (gross float64, ok bool) {
	rate, found := c.Rate(countryCode)
	if !found || rate < 0 || rate >= 1.0 {
		return 0, false
	}
	return netAmount / (1.0 - rate), true
}
