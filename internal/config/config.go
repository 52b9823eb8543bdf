package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config represents the main configuration for r2mig.
type Config struct {
	BaseDir    string           `toml:"base_dir" validate:"required"`
	LogDir     string           `toml:"log_dir" validate:"required"`
	LogLevel   string           `toml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Database   DatabaseConfig   `toml:"database"`
	Store      StoreConfig      `toml:"store"`
	Backup     BackupConfig     `toml:"backup"`
	Encryption EncryptionConfig `toml:"encryption"`
	Migration  MigrationConfig  `toml:"migration"`
}

// DatabaseConfig points at the app database whose expenses are migrated.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type string `toml:"type" validate:"oneof=sqlite memory"`
	Path string `toml:"path,omitempty" env:"R2MIG_DB_PATH" validate:"required_if=Type sqlite"` // only used for type=sqlite
}

// StoreConfig represents configuration for the receipt bucket.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type string `toml:"type" validate:"oneof=s3 filesystem memory"`

	// S3-specific fields (R2, S3 or MinIO). Credentials normally come from
	// the environment rather than the file.
	Bucket          string `toml:"bucket,omitempty" env:"R2_BUCKET" validate:"required_if=Type s3"`
	Endpoint        string `toml:"endpoint,omitempty" env:"R2_ENDPOINT"`
	Region          string `toml:"region,omitempty" env:"R2_REGION"`
	AccessKeyID     string `toml:"access_key_id,omitempty" env:"R2_ACCESS_KEY_ID"`
	SecretAccessKey string `toml:"secret_access_key,omitempty" env:"R2_SECRET_ACCESS_KEY"`
	UsePathStyle    bool   `toml:"use_path_style,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	Root string `toml:"root,omitempty" validate:"required_if=Type filesystem"`
}

// BackupConfig controls the database snapshot taken before a real run.
type BackupConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir,omitempty"`
	Encrypt bool   `toml:"encrypt"`
}

// EncryptionConfig holds paths to the age key pair used for backups.
type EncryptionConfig struct {
	Type           string `toml:"type" validate:"omitempty,oneof=age test"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// MigrationConfig tunes the batch run.
type MigrationConfig struct {
	BatchSize           int      `toml:"batch_size" validate:"gte=1"`
	MaxConcurrency      int      `toml:"max_concurrency" validate:"gte=1"`
	RetryAttempts       int      `toml:"retry_attempts" validate:"gte=1"`
	RetryBaseDelay      Duration `toml:"retry_base_delay"`
	RetryMaxDelay       Duration `toml:"retry_max_delay"`
	ControlPollInterval Duration `toml:"control_poll_interval"`
	Exclude             []string `toml:"exclude,omitempty"`
	CreatedBy           string   `toml:"created_by,omitempty" env:"R2MIG_CREATED_BY"`
}

// Duration is a time.Duration written as a string ("500ms") in TOML and env.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// NewConfig creates a new Config with the provided base directory and defaults.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Database: DatabaseConfig{Type: "sqlite", Path: filepath.Join(baseDir, "app.db")},
		Store:    StoreConfig{Type: "s3", Region: "auto"},
		Backup: BackupConfig{
			Enabled: true,
			Dir:     filepath.Join(baseDir, "backups"),
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "r2mig.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "r2mig.key"),
		},
		Migration: MigrationConfig{
			BatchSize:           100,
			MaxConcurrency:      8,
			RetryAttempts:       3,
			RetryBaseDelay:      Duration{500 * time.Millisecond},
			RetryMaxDelay:       Duration{10 * time.Second},
			ControlPollInterval: Duration{2 * time.Second},
		},
	}
}

// ApplyDefaults fills fields left empty by an older or hand-written file.
func (c *Config) ApplyDefaults() {
	d := NewConfig(c.BaseDir)
	if c.LogDir == "" {
		c.LogDir = d.LogDir
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Backup.Dir == "" {
		c.Backup.Dir = d.Backup.Dir
	}
	if c.Encryption.Type == "" {
		c.Encryption.Type = d.Encryption.Type
	}
	m := &c.Migration
	if m.BatchSize == 0 {
		m.BatchSize = d.Migration.BatchSize
	}
	if m.MaxConcurrency == 0 {
		m.MaxConcurrency = d.Migration.MaxConcurrency
	}
	if m.RetryAttempts == 0 {
		m.RetryAttempts = d.Migration.RetryAttempts
	}
	if m.RetryBaseDelay.Duration == 0 {
		m.RetryBaseDelay = d.Migration.RetryBaseDelay
	}
	if m.RetryMaxDelay.Duration == 0 {
		m.RetryMaxDelay = d.Migration.RetryMaxDelay
	}
	if m.ControlPollInterval.Duration == 0 {
		m.ControlPollInterval = d.Migration.ControlPollInterval
	}
}

// ApplyEnv overrides fields that carry an env tag with variables that are set.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the cross-section rules struct tags
// cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Backup.Encrypt {
		if !c.Backup.Enabled {
			return errors.New("invalid config: backup.encrypt requires backup.enabled")
		}
		if c.Encryption.Type != "test" && c.Encryption.PublicKeyPath == "" {
			return errors.New("invalid config: backup.encrypt requires encryption.public_key_path")
		}
	}
	if c.Migration.RetryMaxDelay.Duration < c.Migration.RetryBaseDelay.Duration {
		return fmt.Errorf("invalid config: retry_max_delay %s is below retry_base_delay %s",
			c.Migration.RetryMaxDelay, c.Migration.RetryBaseDelay)
	}
	return nil
}

// LoadDotEnv loads variables from path into the process environment if the
// file exists. Variables already set are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Load reads the file at path, fills defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := ReadFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may hold R2 credentials.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
