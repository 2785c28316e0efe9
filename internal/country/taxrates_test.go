package country

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRatesFile(t *testing.T, content string) string {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "ledgertool-taxrates-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	path := filepath.Join(tmpDir, "rates.json")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write rates file: %v", err)
	}
	return path
}

func TestTaxRateCatalogConvertsPercentageToDecimal(t *testing.T) {
	path := writeRatesFile(t, `{"rates": [{"country_code": "US", "rate": 15}]}`)
	c := NewTaxRateCatalog(path)

	rate, ok := c.Rate("us")
	if !ok || rate != 0.15 {
		t.Errorf("expected rate 0.15, got %v (ok=%v)", rate, ok)
	}
}

func TestCalculateTaxAndGrossFromNet(t *testing.T) {
	path := writeRatesFile(t, `{"rates": [{"country_code": "US", "rate": 15}]}`)
	c := NewTaxRateCatalog(path)

	tax, ok := c.CalculateTaxFromNet(85, "US")
	if !ok {
		t.Fatal("expected tax calculation to succeed")
	}
	if diff := tax - 15; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected tax ~15, got %v", tax)
	}

	gross, ok := c.CalculateGrossFromNet(85, "US")
	if !ok {
		t.Fatal("expected gross calculation to succeed")
	}
	if diff := gross - 100; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected gross ~100, got %v", gross)
	}
}

func TestTaxRateCatalogRejectsFullConfiscationRate(t *testing.T) {
	path := writeRatesFile(t, `{"rates": [{"country_code": "ZZ", "rate": 100}]}`)
	c := NewTaxRateCatalog(path)

	if _, ok := c.CalculateTaxFromNet(100, "ZZ"); ok {
		t.Error("expected rate >= 1.0 to be rejected")
	}
}

func TestTaxRateCatalogMissingCountry(t *testing.T) {
	c := NewTaxRateCatalog("")
	if _, ok := c.CalculateTaxFromNet(100, "XX"); ok {
		t.Error("expected missing country to be rejected")
	}
}
