package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rumor-ml/commons.systems/preimport/internal/broker"
	"github.com/rumor-ml/commons.systems/preimport/internal/config"
	"github.com/rumor-ml/commons.systems/preimport/internal/domain"
	"github.com/rumor-ml/commons.systems/preimport/internal/ledger"
	"github.com/rumor-ml/commons.systems/preimport/internal/output"
	"github.com/rumor-ml/commons.systems/preimport/internal/parser"
	"github.com/rumor-ml/commons.systems/preimport/internal/payload"
	"github.com/rumor-ml/commons.systems/preimport/internal/reconcile"
	"github.com/rumor-ml/commons.systems/preimport/internal/registry"
	"github.com/rumor-ml/commons.systems/preimport/internal/rules"
	"github.com/rumor-ml/commons.systems/preimport/internal/scanner"
	"github.com/rumor-ml/commons.systems/preimport/internal/upload"
	"github.com/rumor-ml/commons.systems/preimport/internal/validate"
)

// Config wires the collaborators of one run
type Config struct {
	Registry *registry.Registry // nil means the built-in parsers
	Mode     config.UploadMode

	// Resolver is required for both upload modes
	Resolver *reconcile.Resolver
	Ledger   *ledger.Uploader
	Broker   *broker.Uploader

	BrokerConfig    map[string]any // overrides merged over the built-in broker config
	Rules           *rules.Engine  // nil disables categories
	AccountOverride string
	DuplicateGuard  bool
	AllowDuplicates bool

	Targets output.Targets
	// Stdout receives the canonical CSV instead of a file when set
	Stdout io.Writer
	// Preview receives the JSON of every request a dry-run suppresses
	Preview io.Writer
	// Progress is called before each file with its 1-based position
	Progress func(index, total int, path string)

	Logger zerolog.Logger
	Now    func() time.Time
}

// FileResult reports what happened to one input file
type FileResult struct {
	Path         string
	Format       domain.SourceFormat
	Transactions int
	Warnings     []string
	OutputPath   string
	Account      *domain.ResolvedAccount
	Uploaded     int
	DryRun       bool
	TagFailures  int
	Skipped      bool
	Err          error
}

// Failed reports whether the file counts against the exit status
func (r FileResult) Failed() bool {
	return r.Err != nil && !r.Skipped
}

// Summary collects the per-file results of a run in input order
type Summary struct {
	Results []FileResult
}

// Failed returns how many files failed
func (s *Summary) Failed() int {
	n := 0
	for _, r := range s.Results {
		if r.Failed() {
			n++
		}
	}
	return n
}

// Skipped returns how many files the user skipped
func (s *Summary) Skipped() int {
	n := 0
	for _, r := range s.Results {
		if r.Skipped {
			n++
		}
	}
	return n
}

// Succeeded returns how many files completed
func (s *Summary) Succeeded() int {
	return len(s.Results) - s.Failed() - s.Skipped()
}

// Pipeline normalizes files one at a time and optionally uploads them
type Pipeline struct {
	cfg      Config
	registry *registry.Registry
	log      zerolog.Logger
}

// NewPipeline creates a pipeline, checking that the upload mode has its collaborators
func NewPipeline(cfg Config) (*Pipeline, error) {
	reg := cfg.Registry
	if reg == nil {
		var err error
		reg, err = registry.New()
		if err != nil {
			return nil, err
		}
	}

	switch cfg.Mode {
	case config.UploadNone:
	case config.UploadLedger:
		if cfg.Resolver == nil || cfg.Ledger == nil {
			return nil, fmt.Errorf("ledger uploads need an account resolver and a ledger uploader")
		}
	case config.UploadBroker:
		if cfg.Resolver == nil || cfg.Broker == nil {
			return nil, fmt.Errorf("broker uploads need an account resolver and a broker uploader")
		}
	default:
		return nil, fmt.Errorf("unknown upload mode %q", cfg.Mode)
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rules != nil {
		cfg.Logger.Debug().Int("category_rules", len(cfg.Rules.GetRules())).Msg("category rules loaded")
	}
	cfg.Logger.Debug().Strs("parsers", reg.ListParsers()).Str("mode", string(cfg.Mode)).Msg("pipeline ready")

	return &Pipeline{cfg: cfg, registry: reg, log: cfg.Logger}, nil
}

// ParseFile detects the format of path and normalizes it.
// The file is closed on every return path.
func (p *Pipeline) ParseFile(ctx context.Context, path string) (*domain.Statement, error) {
	selectedParser, err := p.registry.Detect(path)
	if err != nil {
		return nil, err
	}

	meta, err := parser.NewMetadata(path, p.cfg.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	stmt, err := selectedParser.Parse(ctx, f, meta)
	if err != nil {
		return nil, err
	}
	return stmt, nil
}

// Run processes jobs in order. A failing file is recorded and the run moves on;
// only a cancelled context stops it early.
func (p *Pipeline) Run(ctx context.Context, jobs []scanner.ScanResult) (*Summary, error) {
	summary := &Summary{Results: make([]FileResult, 0, len(jobs))}

	for i, job := range jobs {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}
		if p.cfg.Progress != nil {
			p.cfg.Progress(i+1, len(jobs), job.Path)
		}

		result := p.ProcessFile(ctx, job.Path)
		summary.Results = append(summary.Results, result)

		switch {
		case result.Skipped:
			p.log.Info().Str("path", job.Path).Msg("skipped at user request")
		case result.Err != nil:
			p.log.Error().
				Str("kind", string(domain.KindOf(result.Err))).
				Str("path", job.Path).
				Err(result.Err).
				Msg("failed to process file")
		default:
			p.log.Info().
				Str("path", job.Path).
				Str("format", string(result.Format)).
				Int("transactions", result.Transactions).
				Int("uploaded", result.Uploaded).
				Bool("dry_run", result.DryRun).
				Msg("processed file")
		}
	}

	return summary, nil
}

// ProcessFile runs one file through parse, validation, reconciliation,
// output and upload. Failures are returned inside the result as *domain.FileError.
func (p *Pipeline) ProcessFile(ctx context.Context, path string) FileResult {
	result := FileResult{Path: path}
	if err := p.processFile(ctx, path, &result); err != nil {
		result.Skipped = errors.Is(err, domain.ErrSkipped)
		result.Err = &domain.FileError{Path: path, Err: err}
	}
	return result
}

func (p *Pipeline) processFile(ctx context.Context, path string, result *FileResult) error {
	stmt, err := p.ParseFile(ctx, path)
	if err != nil {
		return err
	}
	result.Format = stmt.Format
	result.Transactions = len(stmt.Transactions)
	result.Warnings = append(result.Warnings, stmt.Warnings...)

	validation := validate.ValidateStatement(stmt, p.cfg.Now())
	for _, w := range validation.Warnings {
		result.Warnings = append(result.Warnings, w.String())
	}
	for _, w := range result.Warnings {
		p.log.Warn().Str("path", path).Msg(w)
	}
	if validation.HasErrors() {
		messages := make([]string, len(validation.Errors))
		for i, e := range validation.Errors {
			messages[i] = e.String()
		}
		return fmt.Errorf("%w: %s", domain.ErrMalformedStatement, strings.Join(messages, "; "))
	}

	accountID := p.cfg.AccountOverride
	if p.cfg.Mode != config.UploadNone {
		account, err := p.cfg.Resolver.ResolveFile(ctx, reconcile.SelectionRequest{
			Path:          path,
			RawAccountRef: stmt.RawAccountRef,
			Preview:       stmt.Transactions,
		}, p.cfg.AccountOverride)
		if err != nil {
			return err
		}
		result.Account = &account
		accountID = strconv.FormatInt(account.ID, 10)
	}

	csvData, err := output.Render(accountID, stmt.Transactions)
	if err != nil {
		return err
	}
	if err := p.writeOutput(path, csvData, result); err != nil {
		return err
	}

	switch p.cfg.Mode {
	case config.UploadLedger:
		return p.uploadLedger(ctx, path, stmt, *result.Account, result)
	case config.UploadBroker:
		return p.uploadBroker(ctx, path, stmt, csvData, *result.Account, result)
	}
	return nil
}

// writeOutput sends the canonical CSV to stdout or a file. Upload runs only
// write a file when an output target was given.
func (p *Pipeline) writeOutput(path string, csvData []byte, result *FileResult) error {
	if p.cfg.Stdout != nil {
		if _, err := p.cfg.Stdout.Write(csvData); err != nil {
			return fmt.Errorf("failed to write to stdout: %w", err)
		}
		return nil
	}

	if p.cfg.Mode != config.UploadNone && p.cfg.Targets == (output.Targets{}) {
		return nil
	}

	dest := p.cfg.Targets.PathFor(path)
	if err := output.WriteFile(dest, csvData); err != nil {
		return err
	}
	result.OutputPath = dest
	p.log.Debug().Str("path", path).Str("output", dest).Msg("wrote canonical CSV")
	return nil
}

// uploadLedger stores every transaction. A rejected transaction does not stop
// the rest of the file, but the file is reported as failed.
func (p *Pipeline) uploadLedger(ctx context.Context, path string, stmt *domain.Statement, account domain.ResolvedAccount, result *FileResult) error {
	var firstErr error
	failed := 0

	for _, txn := range stmt.Transactions {
		if err := ctx.Err(); err != nil {
			return err
		}

		pl, err := payload.Build(txn, account, p.cfg.Ledger.Tag(), p.cfg.DuplicateGuard)
		if err != nil {
			return err
		}
		if match, ok := p.cfg.Rules.Match(txn.Description, txn.Amount); ok {
			pl = pl.WithCategory(match.Category)
			p.log.Debug().Str("transaction_id", txn.ID).Str("rule", match.RuleName).Msg("categorized transaction")
		}

		p.log.Debug().
			Str("path", filepath.Base(path)).
			Str("transaction_id", txn.ID).
			Str("date", txn.DateString()).
			Str("amount", txn.AmountString()).
			Msg("uploading transaction")

		res, err := p.cfg.Ledger.Upload(ctx, pl)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			p.log.Error().Str("path", path).Str("transaction_id", txn.ID).Err(err).Msg("failed to upload transaction")
			continue
		}

		switch res.Status {
		case upload.StatusDryRun:
			result.DryRun = true
			if err := p.preview(path, "transaction "+txn.ID, res.Request.JSON); err != nil {
				return err
			}
		case upload.StatusSuccess:
			result.Uploaded++
		}
		if res.TagErr != nil {
			result.TagFailures++
			p.log.Warn().Str("path", path).Str("transaction_id", txn.ID).Err(res.TagErr).Msg("failed to tag transaction")
		}
	}

	if firstErr != nil {
		return fmt.Errorf("%d of %d transactions failed to upload: %w", failed, len(stmt.Transactions), firstErr)
	}
	return nil
}

// uploadBroker posts the file's CSV with its import config. Empty files are not sent.
func (p *Pipeline) uploadBroker(ctx context.Context, path string, stmt *domain.Statement, csvData []byte, account domain.ResolvedAccount, result *FileResult) error {
	if !stmt.HasTransactions() {
		p.log.Debug().Str("path", path).Msg("no transactions, skipping broker upload")
		return nil
	}

	brokerConfig, err := payload.BrokerConfig(p.cfg.BrokerConfig, account.ID, p.cfg.AllowDuplicates)
	if err != nil {
		return err
	}

	out, err := p.cfg.Broker.Upload(ctx, csvData, brokerConfig)
	if err != nil {
		return err
	}

	switch out.Status {
	case upload.StatusDryRun:
		result.DryRun = true
		p.log.Info().Str("path", path).Msg("dry-run: skipped broker upload")
		if err := p.preview(path, broker.ConfigName, brokerConfig); err != nil {
			return err
		}
	case upload.StatusSuccess:
		result.Uploaded = len(stmt.Transactions)
		p.log.Debug().
			Str("path", path).
			Int("status", out.StatusCode).
			Str("body", responseSnippet(out.Body)).
			Msg("broker response")
	}
	return nil
}

// preview logs the body a dry-run did not send and writes it to Config.Preview
func (p *Pipeline) preview(path, label string, body any) error {
	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s preview: %w", label, err)
	}
	p.log.Debug().Str("path", path).Str("request", label).RawJSON("body", data).Msg("dry-run preview")

	if p.cfg.Preview == nil {
		return nil
	}
	if _, err := fmt.Fprintf(p.cfg.Preview, "%s: %s (dry-run preview)\n%s\n", filepath.Base(path), label, data); err != nil {
		return fmt.Errorf("failed to write preview: %w", err)
	}
	return nil
}

func responseSnippet(body []byte) string {
	s := upload.Truncate(strings.TrimSpace(string(body)), upload.MaxErrorBody)
	if s == "" {
		return "<empty response body>"
	}
	return s
}
