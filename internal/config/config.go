// Package config loads the TOML configuration file
package config

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/rumor-ml/commons.systems/preimport/internal/domain"
)

// DefaultPath is where the configuration lives when no -config flag is given
const DefaultPath = "~/.local/etc/firefly_import.toml"

// DefaultRequestTimeout is the per-request timeout in seconds
const DefaultRequestTimeout = 30

// ErrNotFound is returned when the configuration file does not exist
var ErrNotFound = errors.New("configuration file not found")

// UploadMode selects the remote destination of normalized transactions
type UploadMode string

const (
	UploadNone   UploadMode = ""
	UploadLedger UploadMode = "ledger"
	UploadBroker UploadMode = "broker"
)

// ParseUploadMode accepts the canonical mode names and their legacy aliases
func ParseUploadMode(s string) (UploadMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return UploadNone, nil
	case "ledger", "firefly":
		return UploadLedger, nil
	case "broker", "fidi":
		return UploadBroker, nil
	default:
		return UploadNone, fmt.Errorf("unknown upload mode %q (want ledger or broker)", s)
	}
}

// Error is a configuration failure
type Error struct {
	Path  string
	Field string
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("config")
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Field != "" {
		b.WriteString(": ")
		b.WriteString(e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Kind reports configuration failures as domain.KindConfig
func (e *Error) Kind() domain.Kind {
	return domain.KindConfig
}

// Config holds every setting the CLI reads from the TOML file
type Config struct {
	PersonalAccessToken   string
	ImportSecret          string
	LedgerAPIBase         string
	BrokerURL             string
	CACertPath            string
	InsecureSkipVerify    bool
	RequestTimeout        int // seconds
	DefaultDuplicateGuard bool
	DefaultUploadMode     UploadMode
	RulesFile             string
	LogLevel              string
	// BrokerJSONConfig is merged over the built-in broker configuration
	BrokerJSONConfig map[string]any

	// Path is the file the configuration was loaded from, empty for defaults
	Path string
	// Warnings lists non-fatal problems found while loading
	Warnings []string
}

// NewDefaultConfig returns a Config with built-in defaults
func NewDefaultConfig() *Config {
	return &Config{
		RequestTimeout:        DefaultRequestTimeout,
		DefaultDuplicateGuard: true,
		LogLevel:              "info",
		BrokerJSONConfig:      map[string]any{},
	}
}

// fileConfig mirrors the TOML document; pointers distinguish absent keys.
// Legacy key names are accepted as aliases; the canonical key wins when both are set.
type fileConfig struct {
	PersonalAccessToken   *string        `toml:"personal_access_token"`
	ImportSecret          *string        `toml:"import_secret"`
	LedgerAPIBase         *string        `toml:"ledger_api_base"`
	BrokerURL             *string        `toml:"broker_url"`
	CACertPath            *string        `toml:"ca_cert_path"`
	InsecureSkipVerify    *bool          `toml:"insecure_skip_verify"`
	RequestTimeout        *int           `toml:"request_timeout"`
	DefaultDuplicateGuard *bool          `toml:"default_duplicate_guard"`
	DefaultUploadMode     *string        `toml:"default_upload_mode"`
	RulesFile             *string        `toml:"rules_file"`
	LogLevel              *string        `toml:"log_level"`
	BrokerJSONConfig      map[string]any `toml:"broker_json_config"`

	FidiImportSecret        *string        `toml:"fidi_import_secret"`
	FireflyAPIBase          *string        `toml:"firefly_api_base"`
	FidiAutouploadURL       *string        `toml:"fidi_autoupload_url"`
	FireflyErrorOnDuplicate *bool          `toml:"firefly_error_on_duplicate"`
	DefaultUpload           *string        `toml:"default_upload"`
	DefaultJSONConfig       map[string]any `toml:"default_json_config"`
}

// Load reads the file at path, or DefaultPath when path is empty.
// A missing file is an *Error wrapping ErrNotFound.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	path = ExpandHome(path)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &Error{Path: path, Err: ErrNotFound}
	}
	if err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("failed to read: %w", err)}
	}

	cfg, err := Parse(data)
	if err != nil {
		var cfgErr *Error
		if errors.As(err, &cfgErr) {
			cfgErr.Path = path
			return nil, cfgErr
		}
		return nil, &Error{Path: path, Err: err}
	}
	cfg.Path = path
	return cfg, nil
}

// Parse decodes a TOML document over the defaults
func Parse(data []byte) (*Config, error) {
	var raw fileConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, &Error{Err: fmt.Errorf("failed to parse TOML: %w", err)}
	}

	cfg := NewDefaultConfig()
	setString(&cfg.PersonalAccessToken, raw.PersonalAccessToken)
	setString(&cfg.ImportSecret, raw.FidiImportSecret, raw.ImportSecret)
	setString(&cfg.LedgerAPIBase, raw.FireflyAPIBase, raw.LedgerAPIBase)
	setString(&cfg.BrokerURL, raw.FidiAutouploadURL, raw.BrokerURL)
	setString(&cfg.CACertPath, raw.CACertPath)
	setString(&cfg.RulesFile, raw.RulesFile)
	setString(&cfg.LogLevel, raw.LogLevel)
	setBool(&cfg.InsecureSkipVerify, raw.InsecureSkipVerify)
	setBool(&cfg.DefaultDuplicateGuard, raw.FireflyErrorOnDuplicate, raw.DefaultDuplicateGuard)
	if raw.RequestTimeout != nil {
		cfg.RequestTimeout = *raw.RequestTimeout
	}

	var mode string
	setString(&mode, raw.DefaultUpload, raw.DefaultUploadMode)
	uploadMode, err := ParseUploadMode(mode)
	if err != nil {
		return nil, &Error{Field: "default_upload_mode", Err: err}
	}
	cfg.DefaultUploadMode = uploadMode

	maps.Copy(cfg.BrokerJSONConfig, raw.DefaultJSONConfig)
	maps.Copy(cfg.BrokerJSONConfig, raw.BrokerJSONConfig)

	cfg.LedgerAPIBase = strings.TrimRight(cfg.LedgerAPIBase, "/")
	applyEnvOverrides(cfg)
	cfg.checkCACert()
	return cfg, nil
}

// setString assigns the last non-nil candidate
func setString(dst *string, candidates ...*string) {
	for _, c := range candidates {
		if c != nil {
			*dst = strings.TrimSpace(*c)
		}
	}
}

// setBool assigns the last non-nil candidate
func setBool(dst *bool, candidates ...*bool) {
	for _, c := range candidates {
		if c != nil {
			*dst = *c
		}
	}
}

// applyEnvOverrides lets credentials stay out of the file
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PREIMPORT_PERSONAL_ACCESS_TOKEN"); v != "" {
		cfg.PersonalAccessToken = v
	}
	if v := os.Getenv("PREIMPORT_IMPORT_SECRET"); v != "" {
		cfg.ImportSecret = v
	}
}

// checkCACert expands the CA path; a missing bundle falls back to default verification
func (c *Config) checkCACert() {
	if c.CACertPath == "" {
		return
	}
	c.CACertPath = ExpandHome(c.CACertPath)
	if _, err := os.Stat(c.CACertPath); err != nil {
		c.Warnings = append(c.Warnings,
			fmt.Sprintf("CA bundle %s not found, using default certificate verification", c.CACertPath))
		c.CACertPath = ""
	}
}

// Timeout returns the request timeout as a duration
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// Validate checks the settings needed for mode
func (c *Config) Validate(mode UploadMode) error {
	if c.RequestTimeout <= 0 {
		return &Error{Path: c.Path, Field: "request_timeout", Err: fmt.Errorf("must be positive, got %d", c.RequestTimeout)}
	}

	switch mode {
	case UploadNone:
		return nil
	case UploadLedger:
		if err := requireURL(c.LedgerAPIBase); err != nil {
			return &Error{Path: c.Path, Field: "ledger_api_base", Err: err}
		}
		if c.PersonalAccessToken == "" {
			return &Error{Path: c.Path, Field: "personal_access_token", Err: errors.New("required for ledger uploads")}
		}
	case UploadBroker:
		if err := requireURL(c.BrokerURL); err != nil {
			return &Error{Path: c.Path, Field: "broker_url", Err: err}
		}
		if c.ImportSecret == "" {
			return &Error{Path: c.Path, Field: "import_secret", Err: errors.New("required for broker uploads")}
		}
		if c.PersonalAccessToken == "" {
			return &Error{Path: c.Path, Field: "personal_access_token", Err: errors.New("required for broker uploads")}
		}
		// Broker uploads still resolve accounts against the ledger directory
		if err := requireURL(c.LedgerAPIBase); err != nil {
			return &Error{Path: c.Path, Field: "ledger_api_base", Err: err}
		}
	default:
		return &Error{Path: c.Path, Field: "upload mode", Err: fmt.Errorf("unknown mode %q", mode)}
	}
	return nil
}

func requireURL(raw string) error {
	if raw == "" {
		return errors.New("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("invalid URL %q: want http(s)://host/...", raw)
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
