package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := NewConfig("/home/user/.local/share/r2mig")
	original.Store = StoreConfig{Type: "filesystem", Root: "/srv/bucket"}
	original.Migration.Exclude = []string{"*.tmp", "receipts/test/*"}
	original.Migration.RetryBaseDelay = Duration{250 * time.Millisecond}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !strings.Contains(buf.String(), `retry_base_delay = "250ms"`) {
		t.Errorf("durations should be written as strings, got:\n%s", buf.String())
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.BaseDir != original.BaseDir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, original.BaseDir)
	}
	if got.LogDir != original.LogDir {
		t.Errorf("LogDir = %q, want %q", got.LogDir, original.LogDir)
	}
	if got.Store.Type != "filesystem" || got.Store.Root != "/srv/bucket" {
		t.Errorf("Store = %+v, want filesystem at /srv/bucket", got.Store)
	}
	if got.Database.Path != original.Database.Path {
		t.Errorf("Database.Path = %q, want %q", got.Database.Path, original.Database.Path)
	}
	if got.Migration.RetryBaseDelay.Duration != 250*time.Millisecond {
		t.Errorf("RetryBaseDelay = %v, want 250ms", got.Migration.RetryBaseDelay)
	}
	if got.Migration.ControlPollInterval.Duration != 2*time.Second {
		t.Errorf("ControlPollInterval = %v, want 2s", got.Migration.ControlPollInterval)
	}
	if len(got.Migration.Exclude) != 2 {
		t.Fatalf("len(Migration.Exclude) = %d, want 2", len(got.Migration.Exclude))
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/r2mig")

	if cfg.LogDir != "/data/r2mig/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/r2mig/log")
	}
	if cfg.Encryption.PublicKeyPath != "/data/r2mig/keys/r2mig.pub" {
		t.Errorf("Encryption.PublicKeyPath = %q", cfg.Encryption.PublicKeyPath)
	}
	if cfg.Backup.Dir != "/data/r2mig/backups" {
		t.Errorf("Backup.Dir = %q", cfg.Backup.Dir)
	}
	if cfg.Migration.BatchSize != 100 || cfg.Migration.MaxConcurrency != 8 || cfg.Migration.RetryAttempts != 3 {
		t.Errorf("Migration = %+v, want 100/8/3", cfg.Migration)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{
		BaseDir:   "/data",
		Migration: MigrationConfig{BatchSize: 10},
	}
	cfg.ApplyDefaults()

	if cfg.Migration.BatchSize != 10 {
		t.Errorf("BatchSize = %d, want explicit 10 kept", cfg.Migration.BatchSize)
	}
	if cfg.Migration.MaxConcurrency != 8 {
		t.Errorf("MaxConcurrency = %d, want 8", cfg.Migration.MaxConcurrency)
	}
	if cfg.Migration.RetryMaxDelay.Duration != 10*time.Second {
		t.Errorf("RetryMaxDelay = %v, want 10s", cfg.Migration.RetryMaxDelay)
	}
	if cfg.LogDir != "/data/log" {
		t.Errorf("LogDir = %q, want /data/log", cfg.LogDir)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("R2_BUCKET", "receipts-prod")
	t.Setenv("R2_ENDPOINT", "https://acct.r2.cloudflarestorage.com")
	t.Setenv("R2_ACCESS_KEY_ID", "AKID")
	t.Setenv("R2_SECRET_ACCESS_KEY", "SECRET")
	t.Setenv("R2MIG_DB_PATH", "/tmp/app.db")

	cfg := NewConfig("/data")
	cfg.Store.Bucket = "from-file"
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}

	if cfg.Store.Bucket != "receipts-prod" {
		t.Errorf("Bucket = %q, want env value", cfg.Store.Bucket)
	}
	if cfg.Store.Endpoint != "https://acct.r2.cloudflarestorage.com" {
		t.Errorf("Endpoint = %q", cfg.Store.Endpoint)
	}
	if cfg.Store.AccessKeyID != "AKID" || cfg.Store.SecretAccessKey != "SECRET" {
		t.Errorf("credentials not applied: %+v", cfg.Store)
	}
	if cfg.Database.Path != "/tmp/app.db" {
		t.Errorf("Database.Path = %q, want /tmp/app.db", cfg.Database.Path)
	}
	if cfg.Store.Region != "auto" {
		t.Errorf("Region = %q, unset env should keep file value", cfg.Store.Region)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := NewConfig("/data")
		cfg.Store.Bucket = "receipts"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults with bucket", mutate: func(*Config) {}},
		{name: "memory store and database", mutate: func(c *Config) {
			c.Store = StoreConfig{Type: "memory"}
			c.Database = DatabaseConfig{Type: "memory"}
		}},
		{name: "unknown store type", mutate: func(c *Config) { c.Store.Type = "gcs" }, wantErr: true},
		{name: "s3 without bucket", mutate: func(c *Config) { c.Store.Bucket = "" }, wantErr: true},
		{name: "filesystem without root", mutate: func(c *Config) { c.Store = StoreConfig{Type: "filesystem"} }, wantErr: true},
		{name: "sqlite without path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "zero concurrency", mutate: func(c *Config) { c.Migration.MaxConcurrency = 0 }, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: true},
		{name: "encrypt without backup", mutate: func(c *Config) {
			c.Backup.Enabled = false
			c.Backup.Encrypt = true
		}, wantErr: true},
		{name: "max delay below base", mutate: func(c *Config) {
			c.Migration.RetryMaxDelay = Duration{time.Millisecond}
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if d.Duration != 90*time.Second {
		t.Errorf("Duration = %v, want 1m30s", d.Duration)
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Error("UnmarshalText() expected error for invalid duration")
	}
}

func TestLoadDotEnv(t *testing.T) {
	t.Run("missing file is ignored", func(t *testing.T) {
		if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
			t.Errorf("LoadDotEnv() error = %v", err)
		}
	})

	t.Run("loads variables", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		if err := os.WriteFile(path, []byte("R2MIG_TEST_DOTENV=loaded\n"), 0600); err != nil {
			t.Fatal(err)
		}
		t.Setenv("R2MIG_TEST_DOTENV", "")
		os.Unsetenv("R2MIG_TEST_DOTENV")

		if err := LoadDotEnv(path); err != nil {
			t.Fatalf("LoadDotEnv() error = %v", err)
		}
		if got := os.Getenv("R2MIG_TEST_DOTENV"); got != "loaded" {
			t.Errorf("R2MIG_TEST_DOTENV = %q, want loaded", got)
		}
	})
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "r2mig.toml")

		if err := Init(path, NewConfig(dir)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("config file not created: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("config file mode = %o, want 600", perm)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "r2mig.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}
		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestLoad(t *testing.T) {
	t.Run("reads, defaults and validates", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "r2mig.toml")
		content := `base_dir = "` + dir + `"
log_dir = "` + filepath.Join(dir, "log") + `"

[database]
type = "memory"

[store]
type = "memory"

[migration]
max_concurrency = 4
`
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}

		got, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got.Migration.MaxConcurrency != 4 {
			t.Errorf("MaxConcurrency = %d, want 4", got.Migration.MaxConcurrency)
		}
		if got.Migration.BatchSize != 100 {
			t.Errorf("BatchSize = %d, want default 100", got.Migration.BatchSize)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := Load("/nonexistent/path/r2mig.toml"); err == nil {
			t.Fatal("Load() expected error for missing file")
		}
	})
}
