// Command tern-batch evaluates a coupon CSV against a contracts file and
// writes the nested JSON report and, optionally, the flat CSV records.
//
// Usage:
//
//	tern-batch -coupons coupons.csv -contracts rules.json -out result.json [-records out.csv]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/opensource-finance/tern/internal/batch"
	"github.com/opensource-finance/tern/internal/config"
	"github.com/opensource-finance/tern/internal/contracts"
	"github.com/opensource-finance/tern/internal/domain"
	"github.com/opensource-finance/tern/internal/ingest"
	"github.com/opensource-finance/tern/internal/logging"
	"github.com/opensource-finance/tern/internal/report"
	"github.com/opensource-finance/tern/internal/rules"
)

// options are the parsed command-line flags.
type options struct {
	coupons   string
	contracts string
	out       string
	records   string
	workers   int
	precision int
	logLevel  string
}

var errUsage = errors.New("usage")

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("tern-batch", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{}
	fs.StringVar(&opts.coupons, "coupons", "", "Path to the coupon CSV file")
	fs.StringVar(&opts.contracts, "contracts", "", "Path to the contracts JSON file")
	fs.StringVar(&opts.out, "out", "", "Path of the JSON report to write")
	fs.StringVar(&opts.records, "records", "", "Path of the flat CSV records to write (optional)")
	fs.IntVar(&opts.workers, "workers", 10, "Number of concurrent evaluation workers")
	fs.IntVar(&opts.precision, "precision", rules.DefaultPrecision, "Payout decimal places (0-6)")
	fs.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.coupons == "" || opts.contracts == "" || opts.out == "" {
		fmt.Fprintln(stderr, "Usage: tern-batch -coupons coupons.csv -contracts rules.json -out result.json [-records out.csv]")
		fmt.Fprintln(stderr, "\nFlags:")
		fs.PrintDefaults()
		return nil, errUsage
	}
	if opts.workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1, got %d", opts.workers)
	}
	if opts.precision < 0 || opts.precision > config.MaxOutputPrecision {
		return nil, fmt.Errorf("precision %d out of range 0-%d", opts.precision, config.MaxOutputPrecision)
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if !errors.Is(err, errUsage) && !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		}
		os.Exit(2)
	}

	logger, err := logging.NewTo(os.Stderr, opts.logLevel, "text")
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		logger.Error("batch failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options, logger *slog.Logger) error {
	validator, err := contracts.NewValidator()
	if err != nil {
		return err
	}
	configs, schemaErrs, err := validator.LoadFile(opts.contracts)
	if err != nil {
		return err
	}

	engine := rules.NewEngine(rules.WithPrecision(opts.precision), opts.workers)
	loadReport := engine.Load(configs)
	loadReport.Reject(schemaErrs...)
	for _, le := range schemaErrs {
		logger.Warn("contract rejected", "contract_id", le.ContractID, "kind", le.Kind(), "error", le.Err)
	}
	logger.Info("contracts loaded",
		"loaded", loadReport.Loaded,
		"rejected", loadReport.Rejected,
		"skipped", loadReport.Skipped,
	)

	f, err := os.Open(opts.coupons)
	if err != nil {
		return fmt.Errorf("failed to open coupons file: %w", err)
	}
	coupons, err := ingest.ReadCSV(f, logger)
	f.Close()
	if err != nil {
		return fmt.Errorf("failed to read coupons: %w", err)
	}
	logger.Info("coupons read", "path", opts.coupons, "count", len(coupons))

	runner := batch.NewRunner(engine, batch.WithWorkers(opts.workers), batch.WithLogger(logger))
	res, err := runner.Run(ctx, coupons)
	if err != nil {
		return err
	}

	rep := report.Build(
		report.Input{Name: filepath.Base(opts.coupons), Total: len(coupons)},
		res.Outcomes,
		res.Catalog.Report(),
		time.Now(),
	)
	if err := writeJSON(opts.out, rep); err != nil {
		return err
	}

	records := res.Records()
	if opts.records != "" {
		if err := writeRecords(opts.records, records); err != nil {
			return err
		}
	}

	logger.Info("batch completed",
		"coupons", len(coupons),
		"eligible", res.EligibleCount(),
		"records", len(records),
		"duration_ms", res.Duration.Milliseconds(),
		"out", opts.out,
	)
	return nil
}

func writeJSON(path string, rep *report.Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func writeRecords(path string, records []domain.OutputRecord) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create records file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close records file: %w", cerr)
		}
	}()
	return report.WriteRecordsCSV(f, records)
}
