package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"movimenti/internal/cli"
	"movimenti/internal/ingest"
	"movimenti/internal/log"
	"movimenti/internal/services"
)

func main() {
	os.Exit(run())
}

func run() int {
	file := flag.String("file", "", "CSV file to import, - for stdin")
	header := flag.Bool("header", true, "first row is a header")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: movimenti-import -file export.csv [-header=false]")
		return 2
	}

	cli.LoadEnvFile()
	// Logs go to stderr so stdout carries only the report.
	logger := log.New(log.Config{
		Level:     log.ParseLevel(os.Getenv("LOG_LEVEL")),
		Component: log.ComponentApp,
		Format:    os.Getenv("LOG_FORMAT"),
		Output:    os.Stderr,
	})
	log.SetDefault(logger)
	cfg := cli.LoadAndValidateConfig(logger)

	var (
		in     io.Reader = os.Stdin
		source           = "stdin"
	)
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			logger.Error("Cannot open input", log.FieldError, err)
			return 1
		}
		defer f.Close()
		in, source = f, filepath.Base(*file)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backendResult := cli.InitStore(ctx, logger, cfg)
	defer backendResult.Close()

	svc := services.NewTransactionService(backendResult.Store, cli.IngestConfig(cfg), nil, logger)
	// A local operator is trusted.
	report, err := svc.Import(ctx, ingest.Input{
		Data:       in,
		HasHeader:  *header,
		Authorized: true,
		Source:     source,
	})
	if err != nil {
		logger.Error("Import failed", log.FieldError, err, log.FieldSource, source)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logger.Error("Cannot write report", log.FieldError, err)
		return 1
	}
	printSummary(report)
	if report.Status == ingest.StatusFailed {
		return 1
	}
	return 0
}

// printSummary writes a one-line outcome to stderr, colored when it is a
// terminal.
func printSummary(rep *ingest.Report) {
	paint := color.New(color.FgGreen, color.Bold)
	switch rep.Status {
	case ingest.StatusPartial:
		paint = color.New(color.FgYellow, color.Bold)
	case ingest.StatusFailed:
		paint = color.New(color.FgRed, color.Bold)
	}
	paint.Fprintf(color.Error, "%s", rep.Status)
	fmt.Fprintf(color.Error, ": %d rows, %d persisted, %d rejected, %d failed to persist\n",
		rep.Attempted, rep.Persisted, rep.NormalizationFailed, rep.PersistFailed)
}
