package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rumor-ml/commons.systems/preimport/internal/broker"
	"github.com/rumor-ml/commons.systems/preimport/internal/config"
	"github.com/rumor-ml/commons.systems/preimport/internal/ledger"
	"github.com/rumor-ml/commons.systems/preimport/internal/logger"
	"github.com/rumor-ml/commons.systems/preimport/internal/output"
	"github.com/rumor-ml/commons.systems/preimport/internal/payload"
	"github.com/rumor-ml/commons.systems/preimport/internal/pipeline"
	"github.com/rumor-ml/commons.systems/preimport/internal/reconcile"
	"github.com/rumor-ml/commons.systems/preimport/internal/rules"
	"github.com/rumor-ml/commons.systems/preimport/internal/scanner"
	"github.com/rumor-ml/commons.systems/preimport/internal/ui"
	"github.com/rumor-ml/commons.systems/preimport/internal/upload"
)

const (
	version = "0.1.0"

	batchTagPrefix = "preimport"
)

// httpTransport replaces the HTTP transport of every remote call when set
var httpTransport http.RoundTripper

type options struct {
	configPath       string
	accountID        string
	output           string
	upload           bool
	broker           bool
	dryRun           bool
	uploadDuplicates bool
	stdout           bool
	nonInteractive   bool
	verbose          bool
	quiet            bool
	version          bool
	targets          []string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("preimport", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{}
	fs.StringVar(&opts.configPath, "config", "", "Path to configuration TOML (default: "+config.DefaultPath+")")
	fs.StringVar(&opts.accountID, "account-id", "", "Ledger asset account id used when a file's account cannot be matched")
	fs.StringVar(&opts.output, "output", "", "Output file (single input) or directory")
	fs.BoolVar(&opts.upload, "upload", false, "Upload normalized transactions to the ledger")
	fs.BoolVar(&opts.broker, "broker", false, "With -upload, send each file through the import broker instead")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Resolve accounts and build uploads without sending them")
	fs.BoolVar(&opts.uploadDuplicates, "upload-duplicates", false, "Disable duplicate detection on upload")
	fs.BoolVar(&opts.stdout, "stdout", false, "Print the normalized CSV to stdout (single input only)")
	fs.BoolVar(&opts.nonInteractive, "non-interactive", false, "Fail instead of prompting for an account")
	fs.BoolVar(&opts.verbose, "verbose", false, "Show per-transaction details")
	fs.BoolVar(&opts.quiet, "quiet", false, "Only report errors")
	fs.BoolVar(&opts.version, "version", false, "Show version")

	fs.Usage = func() {
		fmt.Fprint(stderr, `preimport - Normalize bank statements and upload them to a ledger

Usage:
  preimport [flags] <file|dir>...

Flags:
`)
		fs.PrintDefaults()
		fmt.Fprint(stderr, `
Examples:
  # Normalize every statement in a directory next to the inputs
  preimport ~/Downloads/statements

  # Upload one export, preview what would be sent
  preimport -upload -dry-run checking.ofx

  # Upload through the import broker
  preimport -upload -broker -account-id 3 export.csv

`)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	opts.targets = fs.Args()
	return opts, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		return 1
	}

	if opts.version {
		fmt.Fprintf(stdout, "preimport version %s\n", version)
		return 0
	}

	if opts.stdout {
		ui.SetOutput(stderr, stderr)
	} else {
		ui.SetOutput(stdout, stderr)
	}

	summary, err := execute(ctx, opts, stdin, stdout, stderr)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}

	if !opts.quiet {
		report(summary)
	}
	if summary.Failed() > 0 {
		return 1
	}
	return 0
}

func execute(ctx context.Context, opts *options, stdin io.Reader, stdout, stderr io.Writer) (*pipeline.Summary, error) {
	if len(opts.targets) == 0 {
		return nil, errors.New("at least one input file or directory is required")
	}
	if opts.verbose && opts.quiet {
		return nil, errors.New("-verbose and -quiet are mutually exclusive")
	}
	if opts.broker && !opts.upload {
		return nil, errors.New("-broker requires -upload")
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	mode := cfg.DefaultUploadMode
	if opts.upload {
		mode = config.UploadLedger
		if opts.broker {
			mode = config.UploadBroker
		}
	}
	if opts.dryRun && mode == config.UploadNone {
		return nil, errors.New("-dry-run requires -upload")
	}
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	jobs, err := scanner.Expand(opts.targets)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("no statement files found in %v", opts.targets)
	}
	if opts.stdout && len(jobs) != 1 {
		return nil, errors.New("-stdout can only be used with a single input file")
	}
	if opts.stdout && opts.output != "" {
		return nil, errors.New("-stdout is incompatible with -output")
	}
	targets, err := output.ResolveTargets(opts.output, len(jobs))
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := logger.WithRunID(logger.New(logLevel(opts, cfg), stderr), runID)
	ctx = logger.WithContext(ctx, log)
	for _, w := range cfg.Warnings {
		log.Warn().Str("config", cfg.Path).Msg(w)
	}

	now := time.Now()
	pcfg := pipeline.Config{
		Mode:            mode,
		AccountOverride: opts.accountID,
		DuplicateGuard:  cfg.DefaultDuplicateGuard && !opts.uploadDuplicates,
		AllowDuplicates: opts.uploadDuplicates,
		BrokerConfig:    cfg.BrokerJSONConfig,
		Targets:         targets,
		Logger:          log,
	}
	if opts.stdout {
		pcfg.Stdout = stdout
	}
	if opts.dryRun {
		pcfg.Preview = stderr
	}
	if !opts.quiet && len(jobs) > 1 {
		pcfg.Progress = func(index, total int, path string) {
			ui.Step(index, total, filepath.Base(path))
		}
	}

	if mode != config.UploadNone {
		if err := wireUploads(&pcfg, cfg, opts, now, stdin, stderr); err != nil {
			return nil, err
		}
		log.Info().Str("mode", string(mode)).Bool("dry_run", opts.dryRun).Msg("uploads enabled")
	}

	p, err := pipeline.NewPipeline(pcfg)
	if err != nil {
		return nil, err
	}

	log.Debug().Int("files", len(jobs)).Msg("starting run")
	return p.Run(ctx, jobs)
}

// loadConfig requires the file for uploads or an explicit -config, and
// otherwise reads the default file only when it exists
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, config.ErrNotFound) && opts.configPath == "" && !opts.upload {
		return config.NewDefaultConfig(), nil
	}
	return nil, err
}

func wireUploads(pcfg *pipeline.Config, cfg *config.Config, opts *options, now time.Time, stdin io.Reader, stderr io.Writer) error {
	dispatcher, err := upload.NewDispatcher(upload.Options{
		Token:              cfg.PersonalAccessToken,
		Timeout:            cfg.Timeout(),
		CACertPath:         cfg.CACertPath,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		DryRun:             opts.dryRun,
		Transport:          httpTransport,
	})
	if err != nil {
		return err
	}

	client := ledger.NewClient(cfg.LedgerAPIBase, dispatcher)
	var selector reconcile.Selector
	if !opts.nonInteractive {
		selector = ui.NewPrompter(stdin, stderr, terminalWidth())
	}
	pcfg.Resolver = reconcile.NewResolver(reconcile.NewDirectory(client), selector)

	switch pcfg.Mode {
	case config.UploadLedger:
		engine, err := rules.Load(cfg.RulesFile)
		if err != nil {
			return err
		}
		pcfg.Rules = engine
		pcfg.Ledger = ledger.NewUploader(client, payload.BatchTag(batchTagPrefix, now))
	case config.UploadBroker:
		pcfg.Broker = broker.NewUploader(cfg.BrokerURL, cfg.ImportSecret, dispatcher)
	}
	return nil
}

func logLevel(opts *options, cfg *config.Config) string {
	switch {
	case opts.verbose:
		return zerolog.LevelDebugValue
	case opts.quiet:
		return zerolog.LevelErrorValue
	default:
		return cfg.LogLevel
	}
}

func terminalWidth() int {
	if n, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && n > 0 {
		return n
	}
	return ui.DefaultWidth
}

func report(summary *pipeline.Summary) {
	ui.Header("preimport summary")
	for _, r := range summary.Results {
		switch {
		case r.Skipped:
			ui.Warning(fmt.Sprintf("%s: skipped", r.Path))
		case r.Failed():
			// r.Err is a *domain.FileError and already names the path
			ui.Error(r.Err.Error())
		case r.DryRun:
			ui.Info(fmt.Sprintf("%s: %d transactions (dry-run, nothing uploaded)", r.Path, r.Transactions))
		case r.Uploaded > 0:
			ui.Success(fmt.Sprintf("%s: uploaded %d of %d transactions", r.Path, r.Uploaded, r.Transactions))
		case r.OutputPath != "":
			ui.Success(fmt.Sprintf("%s: %d transactions written to %s", r.Path, r.Transactions, r.OutputPath))
		default:
			ui.Success(fmt.Sprintf("%s: %d transactions", r.Path, r.Transactions))
		}
		if r.TagFailures > 0 {
			ui.Warning(fmt.Sprintf("%s: %d transactions could not be tagged", r.Path, r.TagFailures))
		}
	}

	msg := fmt.Sprintf("%d succeeded, %d failed, %d skipped", summary.Succeeded(), summary.Failed(), summary.Skipped())
	if summary.Failed() > 0 {
		ui.Warning(msg)
		return
	}
	ui.Info(msg)
}
