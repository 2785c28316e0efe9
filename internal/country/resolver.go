// Package country implements the Country Resolver and Tax-Rate Catalog:
// mapping a security's ISIN to a country of origin, and converting net
// dividend amounts to gross/tax figures using per-country withholding
// rates.
package country

import (
	"encoding/json"
	"os"
	"strings"
)

// Source identifies how a resolved country code was determined.
type Source string

const (
	SourceOverride Source = "override"
	SourceISIN     Source = "isin"
	SourceUnknown  Source = "unknown"
)

// overridesFile is the on-disk shape of the manual override mapping.
type overridesFile struct {
	Overrides map[string]overrideEntry `json:"overrides"`
}

// overrideEntry accepts either a bare country-code string or an object
// carrying a country_code field, matching the two formats the original
// tool's JSON resource supports.
type overrideEntry struct {
	CountryCode string
}

func (e *overrideEntry) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		e.CountryCode = asString
		return nil
	}
	var asObject struct {
		CountryCode string `json:"country_code"`
	}
	if err := json.Unmarshal(data, &asObject); err != nil {
		return err
	}
	e.CountryCode = asObject.CountryCode
	return nil
}

// Resolver resolves a security's country of origin from a manual override
// map, falling back to the first two characters of its ISIN.
type Resolver struct {
	overrides map[string]string
}

// NewResolver loads overrides from the JSON file at path. A missing or
// unparsable file yields an empty override map rather than an error: the
// resolver still functions via the ISIN fallback.
func NewResolver(path string) *Resolver {
	r := &Resolver{overrides: make(map[string]string)}
	if path == "" {
		return r
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return r
	}
	var parsed overridesFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return r
	}
	for isin, entry := range parsed.Overrides {
		if entry.CountryCode == "" {
			continue
		}
		r.overrides[strings.ToUpper(isin)] = strings.ToUpper(entry.CountryCode)
	}
	return r
}

// Resolve returns the country code for isin and how it was determined.
func (r *Resolver) Resolve(isin string) (string, Source) {
	if isin == "" {
		return "XX", SourceUnknown
	}
	isinUpper := strings.ToUpper(isin)
	if code, ok := r.overrides[isinUpper]; ok {
		return code, SourceOverride
	}
	if len(isin) >= 2 {
		return strings.ToUpper(isin[:2]), SourceISIN
	}
	return "XX", SourceUnknown
}
