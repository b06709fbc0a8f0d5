// Package config provides environment-variable-first configuration loading
// with optional YAML file and .env fallbacks for mail merge campaigns.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Transport kinds accepted in TRANSPORT.
const (
	TransportDirectSMTP  = "direct-smtp"
	TransportProviderAPI = "provider-api"
	TransportSES         = "ses"
	TransportDryRun      = "dry-run"
)

// MaxDelay is the largest pause between recipients accepted by Validate.
const MaxDelay = 60.0

// ErrInvalidConfig is returned by Validate when a required value is missing
// or out of range.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config holds the complete application configuration.
type Config struct {
	Transport string         `yaml:"transport"`
	Delay     float64        `yaml:"email_delay"`
	SMTP      SMTPConfig     `yaml:"smtp"`
	Google    GoogleConfig   `yaml:"google"`
	SES       SESConfig      `yaml:"ses"`
	Evidence  EvidenceConfig `yaml:"evidence"`
	History   HistoryConfig  `yaml:"history"`
	Archive   ArchiveConfig  `yaml:"archive"`
	Logging   LoggingConfig  `yaml:"logging"`
}

// SMTPConfig holds direct SMTP submission settings.
type SMTPConfig struct {
	Server   string `yaml:"server"`
	Port     int    `yaml:"port"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	TLSMode  string `yaml:"tls_mode"`
	CAFile   string `yaml:"ca_file"`
}

// GoogleConfig holds the provider API identity and OAuth client settings.
type GoogleConfig struct {
	Email           string        `yaml:"email"`
	CredentialsFile string        `yaml:"credentials_file"`
	CredentialsDir  string        `yaml:"credentials_dir"`
	OAuthTimeout    time.Duration `yaml:"oauth_timeout"`
}

// SESConfig holds Amazon SES settings.
type SESConfig struct {
	Region          string `yaml:"region"`
	Sender          string `yaml:"sender"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// EvidenceConfig holds the campaign evidence root.
type EvidenceConfig struct {
	Dir string `yaml:"dir"`
}

// HistoryConfig holds the campaign history database path. Empty disables it.
type HistoryConfig struct {
	DB string `yaml:"db"`
}

// ArchiveConfig holds the S3 evidence archive settings. Empty bucket
// disables archiving.
type ArchiveConfig struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Prefix   string `yaml:"prefix"`
	Endpoint string `yaml:"endpoint"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile exports the variables of a .env file into the process
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// SaveEnv persists the transport settings to a .env file, keeping any
// unrelated keys already present. The file holds secrets and is written 0600.
func (c *Config) SaveEnv(path string) error {
	if err := c.validateTransport(c.Transport); err != nil {
		return err
	}

	values, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to read env file: %w", err)
		}
		values = map[string]string{}
	}

	values["TRANSPORT"] = c.Transport
	values["USE_OAUTH"] = strconv.FormatBool(c.Transport == TransportProviderAPI)
	values["EMAIL_DELAY"] = strconv.FormatFloat(c.Delay, 'f', -1, 64)
	values["SMTP_SERVER"] = c.SMTP.Server
	values["SMTP_PORT"] = strconv.Itoa(c.SMTP.Port)
	values["SMTP_EMAIL"] = c.SMTP.Email
	values["SMTP_PASSWORD"] = c.SMTP.Password
	if c.Google.Email != "" {
		values["GOOGLE_EMAIL"] = c.Google.Email
	}
	if c.SES.Region != "" {
		values["SES_REGION"] = c.SES.Region
	}
	if c.SES.Sender != "" {
		values["SES_SENDER"] = c.SES.Sender
	}

	if err := godotenv.Write(values, path); err != nil {
		return fmt.Errorf("failed to write env file: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("failed to restrict env file: %w", err)
	}
	return nil
}

// Validate reports whether the configuration can drive a campaign over the
// given transport kind. An empty kind validates c.Transport.
func (c *Config) Validate(kind string) error {
	if kind == "" {
		kind = c.Transport
	}
	var errs []error
	if c.Delay < 0 || c.Delay > MaxDelay {
		errs = append(errs, fmt.Errorf("email delay must be between 0 and %g seconds, got %g", MaxDelay, c.Delay))
	}

	switch kind {
	case TransportDirectSMTP:
		if c.SMTP.Server == "" {
			errs = append(errs, errors.New("SMTP_SERVER is required"))
		}
		if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
			errs = append(errs, fmt.Errorf("SMTP_PORT must be between 1 and 65535, got %d", c.SMTP.Port))
		}
		if c.SMTP.Email == "" || c.SMTP.Password == "" {
			errs = append(errs, errors.New("SMTP_EMAIL and SMTP_PASSWORD are required for direct SMTP"))
		}
		switch c.SMTP.TLSMode {
		case "starttls", "implicit", "none":
		default:
			errs = append(errs, fmt.Errorf("unknown SMTP_TLS_MODE %q", c.SMTP.TLSMode))
		}
	case TransportProviderAPI:
		if c.Google.Email == "" {
			errs = append(errs, errors.New("GOOGLE_EMAIL is required for the provider API"))
		}
	case TransportSES:
		if c.SES.Region == "" || c.SES.Sender == "" {
			errs = append(errs, errors.New("SES_REGION and SES_SENDER are required for SES"))
		}
	case TransportDryRun:
	default:
		errs = append(errs, c.validateTransport(kind))
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
}

// DelayDuration returns the pause between recipients.
func (c *Config) DelayDuration() time.Duration {
	return time.Duration(c.Delay * float64(time.Second))
}

// Sender returns the From identity of the configured transport.
func (c *Config) Sender() string {
	switch c.Transport {
	case TransportProviderAPI:
		return c.Google.Email
	case TransportSES:
		return c.SES.Sender
	default:
		return c.SMTP.Email
	}
}

// HistoryEnabled returns true if a history database path is set.
func (c *Config) HistoryEnabled() bool {
	return c.History.DB != ""
}

// ArchiveEnabled returns true if an archive bucket is set.
func (c *Config) ArchiveEnabled() bool {
	return c.Archive.Bucket != ""
}

func (c *Config) validateTransport(kind string) error {
	switch kind {
	case TransportDirectSMTP, TransportProviderAPI, TransportSES, TransportDryRun:
		return nil
	}
	return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, kind)
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Transport = TransportDirectSMTP
	c.Delay = 2.5
	c.SMTP.Server = "smtp.gmail.com"
	c.SMTP.Port = 587
	c.SMTP.TLSMode = "starttls"
	c.Google.CredentialsFile = "credentials.json"
	c.Google.CredentialsDir = "credentials"
	c.Google.OAuthTimeout = 300 * time.Second
	c.Evidence.Dir = "comprovacoes"
	c.Logging.Level = "info"
	c.Logging.Format = "text"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values. Numeric
// values that do not parse are reported rather than ignored.
func (c *Config) applyEnvVars() error {
	if v := os.Getenv("USE_OAUTH"); v != "" {
		if on, err := strconv.ParseBool(v); err == nil && on {
			c.Transport = TransportProviderAPI
		}
	}
	if v := os.Getenv("TRANSPORT"); v != "" {
		c.Transport = strings.ToLower(v)
	}
	if v := os.Getenv("EMAIL_DELAY"); v != "" {
		d, err := strconv.ParseFloat(strings.Replace(v, ",", ".", 1), 64)
		if err != nil {
			return fmt.Errorf("%w: EMAIL_DELAY must be a number, got %q", ErrInvalidConfig, v)
		}
		c.Delay = d
	}

	if v := os.Getenv("SMTP_SERVER"); v != "" {
		c.SMTP.Server = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: SMTP_PORT must be a number, got %q", ErrInvalidConfig, v)
		}
		c.SMTP.Port = port
	}
	if v := os.Getenv("SMTP_EMAIL"); v != "" {
		c.SMTP.Email = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		c.SMTP.Password = v
	}
	if v := os.Getenv("SMTP_TLS_MODE"); v != "" {
		c.SMTP.TLSMode = strings.ToLower(v)
	}
	if v := os.Getenv("SMTP_CA_FILE"); v != "" {
		c.SMTP.CAFile = v
	}

	if v := os.Getenv("GOOGLE_EMAIL"); v != "" {
		c.Google.Email = v
	}
	if v := os.Getenv("GOOGLE_CREDENTIALS_FILE"); v != "" {
		c.Google.CredentialsFile = v
	}
	if v := os.Getenv("CREDENTIALS_DIR"); v != "" {
		c.Google.CredentialsDir = v
	}
	if v := os.Getenv("OAUTH_TIMEOUT"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("%w: OAUTH_TIMEOUT: %v", ErrInvalidConfig, err)
		}
		c.Google.OAuthTimeout = d
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_SENDER"); v != "" {
		c.SES.Sender = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}

	if v := os.Getenv("EVIDENCE_DIR"); v != "" {
		c.Evidence.Dir = v
	}
	if v := os.Getenv("HISTORY_DB"); v != "" {
		c.History.DB = v
	}

	if v := os.Getenv("ARCHIVE_BUCKET"); v != "" {
		c.Archive.Bucket = v
	}
	if v := os.Getenv("ARCHIVE_REGION"); v != "" {
		c.Archive.Region = v
	}
	if v := os.Getenv("ARCHIVE_PREFIX"); v != "" {
		c.Archive.Prefix = v
	}
	if v := os.Getenv("ARCHIVE_ENDPOINT"); v != "" {
		c.Archive.Endpoint = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
	return nil
}

// parseSeconds accepts a Go duration ("90s", "5m") or a bare number of seconds.
func parseSeconds(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}
