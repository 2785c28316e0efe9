// Command ledgerctl is the CLI front end for the ledger engine: it imports
// broker CSV exports, applies lot-pairing methods, and prints per-year
// income reports.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jnovotny/ledgertool/internal/aggregate"
	"github.com/jnovotny/ledgertool/internal/config"
	"github.com/jnovotny/ledgertool/internal/country"
	"github.com/jnovotny/ledgertool/internal/importer"
	"github.com/jnovotny/ledgertool/internal/pairing"
	"github.com/jnovotny/ledgertool/internal/rates"
	"github.com/jnovotny/ledgertool/internal/store"
	"github.com/jnovotny/ledgertool/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	dataDir := os.Getenv("LEDGERTOOL_HOME")
	if dataDir == "" {
		dataDir = config.DefaultConfig().Store.DataDir
	}
	cfg, err := config.LoadConfig(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(&logging.Config{Level: cfg.Logging.Level, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	switch os.Args[1] {
	case "import":
		err = runImport(log, os.Args[2:])
	case "pair":
		err = runPair(log, cfg, os.Args[2:])
	case "report":
		err = runReport(log, os.Args[2:])
	case "rates":
		err = runRates(log, os.Args[2:])
	case "years":
		err = runYears(log, os.Args[2:])
	case "save-as":
		err = runSaveAs(log, os.Args[2:])
	case "-version", "--version", "version":
		fmt.Printf("ledgerctl %s (commit: %s)\n", version, commit)
		return
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatal(err.Error())
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ledgerctl <import|pair|report|rates|years|save-as> [flags]")
}

func runYears(_ *logging.Logger, args []string) error {
	fs := flag.NewFlagSet("years", flag.ExitOnError)
	dbPath := fs.String("db", "ledger.db", "path to the ledger database file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := mustOpenStore(*dbPath, "daily")
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer s.Close()

	years, err := s.Years()
	if err != nil {
		return err
	}
	return printJSON(years)
}

func runSaveAs(_ *logging.Logger, args []string) error {
	fs := flag.NewFlagSet("save-as", flag.ExitOnError)
	dbPath := fs.String("db", "ledger.db", "path to the ledger database file")
	dest := fs.String("to", "", "destination path for the cloned database")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dest == "" {
		return fmt.Errorf("save-as: -to is required")
	}

	s, err := mustOpenStore(*dbPath, "daily")
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer s.Close()

	if err := s.SaveAs(*dest); err != nil {
		return err
	}
	return printJSON(map[string]string{"saved_to": s.Path()})
}

func mustOpenStore(dbPath, rateMode string) (*store.Store, error) {
	return store.New(store.Config{Path: dbPath, RateMode: rateMode})
}

func runImport(log *logging.Logger, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dbPath := fs.String("db", "ledger.db", "path to the ledger database file")
	rateModeFlag := fs.String("rate-mode", "daily", "rate mode for a newly created database: daily or annual")
	csvPath := fs.String("csv", "", "path to the broker CSV export")
	cnbURL := fs.String("cnb-url", "", "override the CNB daily rate feed URL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *csvPath == "" {
		return fmt.Errorf("import: -csv is required")
	}

	s, err := mustOpenStore(*dbPath, *rateModeFlag)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer s.Close()

	provider, err := resolveProvider(s, *cnbURL, log)
	if err != nil {
		return err
	}

	f, err := os.Open(*csvPath)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer f.Close()

	imp := importer.New(s, provider, log)
	report, err := imp.Import(context.Background(), f)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	return printJSON(report)
}

func resolveProvider(s *store.Store, cnbURL string, log *logging.Logger) (rates.Provider, error) {
	if cnbURL != "" {
		return rates.NewDailyProvider(cnbURL, log), nil
	}

	mode, err := s.RateMode()
	if err != nil {
		return nil, err
	}
	if mode == "annual" {
		return rates.NewAnnualProvider(s), nil
	}
	return rates.NewDailyProvider("", log), nil
}

func runPair(log *logging.Logger, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("pair", flag.ExitOnError)
	dbPath := fs.String("db", "ledger.db", "path to the ledger database file")
	mode := fs.String("mode", "apply", "apply, qualified, manual, or lock")
	sale := fs.Int64("sale", 0, "sale trade id")
	purchase := fs.Int64("purchase", 0, "purchase trade id (manual mode)")
	quantity := fs.Float64("quantity", 0, "quantity to pair (manual mode)")
	method := fs.String("method", cfg.Pairing.DefaultMethod, "pairing method: FIFO, LIFO, MaxLose, MaxProfit")
	holdingYears := fs.Int("holding-years", cfg.Tax.CzechRepublic.TimeTestExemption.HoldingPeriodYears, "time-test holding period in years")
	year := fs.Int("year", 0, "calendar year (lock mode)")
	reason := fs.String("reason", "", "lock reason (lock mode)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := mustOpenStore(*dbPath, "daily")
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer s.Close()

	eng := pairing.New(s, *holdingYears, log)

	switch *mode {
	case "apply":
		result, err := eng.Apply(*sale, pairing.Method(*method))
		if err != nil {
			return err
		}
		return printJSON(result)
	case "qualified":
		result, err := eng.ApplyQualifiedOnly(*sale, pairing.Method(*method))
		if err != nil {
			return err
		}
		return printJSON(result)
	case "manual":
		p, err := eng.ManualPair(*sale, *purchase, *quantity)
		if err != nil {
			return err
		}
		return printJSON(p)
	case "lock":
		count, err := s.LockPairingsInYear(*year, *reason)
		if err != nil {
			return err
		}
		return printJSON(map[string]int64{"locked": count})
	default:
		return fmt.Errorf("pair: unknown mode %q", *mode)
	}
}

func runReport(log *logging.Logger, args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	dbPath := fs.String("db", "ledger.db", "path to the ledger database file")
	year := fs.Int("year", 0, "calendar year to report")
	overridesPath := fs.String("country-overrides", "", "path to the ISIN-to-country override JSON file")
	taxRatesPath := fs.String("tax-rates", "", "path to the withholding tax-rate catalog JSON file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *year == 0 {
		return fmt.Errorf("report: -year is required")
	}

	s, err := mustOpenStore(*dbPath, "daily")
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer s.Close()

	resolver := country.NewResolver(*overridesPath)
	agg := aggregate.New(s, resolver, log)
	summary, err := agg.Aggregate(context.Background(), *year)
	if err != nil {
		return fmt.Errorf("failed to aggregate year %d: %w", *year, err)
	}

	if *taxRatesPath == "" {
		return printJSON(summary)
	}

	catalog := country.NewTaxRateCatalog(*taxRatesPath)
	return printJSON(struct {
		*aggregate.YearSummary
		TaxReconciliation []aggregate.CountryTaxReconciliation `json:"TaxReconciliation"`
	}{
		YearSummary:       summary,
		TaxReconciliation: aggregate.ReconcileCountryTax(summary.DividendsByCountry, catalog),
	})
}

func runRates(log *logging.Logger, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("rates: subcommand required (list, load, import)")
	}
	switch args[0] {
	case "list":
		return runRatesList(log, args[1:])
	case "load":
		return runRatesLoad(log, args[1:])
	case "import":
		return runRatesImport(log, args[1:])
	default:
		return fmt.Errorf("rates: unknown subcommand %q", args[0])
	}
}

func runRatesImport(_ *logging.Logger, args []string) error {
	fs := flag.NewFlagSet("rates import", flag.ExitOnError)
	dbPath := fs.String("db", "ledger.db", "path to the ledger database file")
	year := fs.Int("year", 0, "rate year")
	filePath := fs.String("file", "", "path to the annual rate file")
	description := fs.String("description", "", "free-text description applied to every loaded row")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *year == 0 || *filePath == "" {
		return fmt.Errorf("rates import: -year and -file are required")
	}

	body, err := os.ReadFile(*filePath)
	if err != nil {
		return fmt.Errorf("failed to read annual rate file: %w", err)
	}

	s, err := mustOpenStore(*dbPath, "annual")
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer s.Close()

	provider := rates.NewAnnualProvider(s)
	count, err := provider.LoadAnnualRateFile(*year, string(body), *description)
	if err != nil {
		return err
	}
	return printJSON(map[string]int{"loaded": count})
}

func runRatesList(_ *logging.Logger, args []string) error {
	fs := flag.NewFlagSet("rates list", flag.ExitOnError)
	dbPath := fs.String("db", "ledger.db", "path to the ledger database file")
	year := fs.Int("year", 0, "restrict to a single year (0 lists available years)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := mustOpenStore(*dbPath, "annual")
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer s.Close()

	provider := rates.NewAnnualProvider(s)
	if *year == 0 {
		years, err := provider.AvailableYears(context.Background())
		if err != nil {
			return err
		}
		return printJSON(years)
	}

	rows, err := provider.RatesForYear(context.Background(), *year)
	if err != nil {
		return err
	}
	return printJSON(rows)
}

func runRatesLoad(_ *logging.Logger, args []string) error {
	fs := flag.NewFlagSet("rates load", flag.ExitOnError)
	dbPath := fs.String("db", "ledger.db", "path to the ledger database file")
	year := fs.Int("year", 0, "rate year")
	currency := fs.String("currency", "", "currency code")
	amount := fs.Int("amount", 1, "unit amount the rate is quoted per")
	rate := fs.Float64("rate", 0, "CZK per amount units of currency")
	description := fs.String("description", "", "free-text description")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *year == 0 || *currency == "" || *rate == 0 {
		return fmt.Errorf("rates load: -year, -currency, and -rate are required")
	}

	s, err := mustOpenStore(*dbPath, "annual")
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer s.Close()

	provider := rates.NewAnnualProvider(s)
	if err := provider.LoadAnnualRate(*year, *currency, *amount, *rate, *description); err != nil {
		return err
	}
	return printJSON(map[string]string{"status": "ok"})
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
