// Command disburse runs a one-shot batch submission pass, or an export, from
// the command line. It is the operational entry point the financial aid
// office runs ahead of each disbursement date.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/reportengine/disbursement/internal/app"
	"github.com/reportengine/disbursement/internal/app/domain/disbursement"
	"github.com/reportengine/disbursement/internal/app/services/batch"
	"github.com/reportengine/disbursement/internal/app/services/export"
	"github.com/reportengine/disbursement/internal/config"
)

func main() {
	_ = godotenv.Load()

	var (
		configPath   = flag.String("config", "config.yaml", "path to the configuration file")
		dryRun       = flag.Bool("dry-run", false, "report what would be submitted without submitting")
		system       = flag.String("system", "", "override the financial aid system for every candidate")
		daysAhead    = flag.Int("days-ahead", 0, "widen the due window to today plus N days")
		status       = flag.String("status", "", "candidate status filter (default approved)")
		limit        = flag.Int("limit", 0, "cap the number of candidates (default batch_size)")
		exportFormat = flag.String("export", "", "write an export instead of submitting (banner-csv, csv, json, xml)")
		output       = flag.String("output", "", "export destination file (default stdout)")
	)
	flag.Parse()

	if err := run(*configPath, *exportFormat, *output, batch.Options{
		DaysAhead: *daysAhead,
		System:    *system,
		Status:    disbursement.Status(*status),
		Limit:     *limit,
		DryRun:    *dryRun,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "disburse:", err)
		os.Exit(1)
	}
}

func run(configPath, exportFormat, output string, opts batch.Options) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if exportFormat != "" {
		return runExport(ctx, a, exportFormat, output, opts)
	}

	summary, err := a.Processor.Run(ctx, opts)
	if errors.Is(err, batch.ErrAutoSubmitDisabled) {
		fmt.Println("automatic submission is disabled in configuration; nothing submitted")
		return nil
	}
	if err != nil {
		return err
	}

	if opts.DryRun {
		fmt.Printf("dry run: %d candidate(s) would be submitted\n", summary.Candidates)
		return nil
	}

	fmt.Printf("batch complete: %d candidate(s), %d submitted, %d failed, %d skipped\n",
		summary.Candidates, summary.Submitted, summary.Failed, summary.Skipped)
	for _, failure := range summary.Failures {
		fmt.Printf("  failed %s: %s\n", failure.TransactionID, failure.Error)
	}
	return nil
}

func runExport(ctx context.Context, a *app.Application, format, output string, opts batch.Options) error {
	dst := os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create export file: %w", err)
		}
		defer f.Close()
		dst = f
	}
	return a.Exporter.Export(ctx, dst, export.Format(format), export.Filter{
		Status: opts.Status,
		Limit:  opts.Limit,
	})
}
