package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"r2mig/internal/backup"
	"r2mig/internal/config"
	"r2mig/internal/database"
	"r2mig/internal/database/migrations"
	"r2mig/internal/database/sqlc"
	"r2mig/internal/encryption"
	"r2mig/internal/metrics"
	"r2mig/internal/r2mig"
	"r2mig/internal/store"
)

// App is the application layer between the CLI and MigrationService.
// It constructs all dependencies from config, exposes the operator commands,
// and manages the database and log file lifecycle on Close.
type App struct {
	cfg       *config.Config
	db        *database.SQLiteDatabase
	store     r2mig.ObjectStore
	encryptor r2mig.Encryptor
	backup    *backup.Manager
	metrics   *metrics.Recorder
	service   *r2mig.MigrationService
	logger    r2mig.Logger
	logFile   *os.File
}

// NewApp creates a fully wired App from the given config. Log lines go to
// <log_dir>/r2mig.log and, when console is non-nil, to console as well.
// The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config, console io.Writer) (*App, error) {
	opID := time.Now().UTC().Format("20060102T150405Z")
	l, logFile, err := newLogger(cfg.LogDir, opID, cfg.LogLevel, console)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: l}

	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating database: %w", err)
	}

	st, err := store.NewStoreFromConfig(ctx, cfg.Store)
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating object store: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	var bm *backup.Manager
	if cfg.Backup.Enabled {
		var backupEnc r2mig.Encryptor
		if cfg.Backup.Encrypt {
			backupEnc = enc
		}
		bm = backup.NewManager(db, cfg.Backup.Dir, backupEnc, r2mig.RealClock{}, logger)
	}

	rec := metrics.NewRecorder()

	m := cfg.Migration
	svcCfg := r2mig.ServiceConfig{
		Batch: r2mig.BatchConfig{
			BatchSize:      m.BatchSize,
			MaxConcurrency: m.MaxConcurrency,
			Retry: r2mig.RetryPolicy{
				MaxAttempts: m.RetryAttempts,
				BaseDelay:   m.RetryBaseDelay.Duration,
				MaxDelay:    m.RetryMaxDelay.Duration,
			},
		},
		Exclude:             m.Exclude,
		ControlPollInterval: m.ControlPollInterval.Duration,
		CreatedBy:           m.CreatedBy,
	}

	var svcBackup r2mig.Backup
	if bm != nil {
		svcBackup = bm
	}
	svc := r2mig.NewMigrationService(db, st, svcBackup, logger, r2mig.RealClock{}, r2mig.UUIDGenerator{}, rec, svcCfg)

	return &App{
		cfg:       cfg,
		db:        db,
		store:     st,
		encryptor: enc,
		backup:    bm,
		metrics:   rec,
		service:   svc,
		logger:    logger,
		logFile:   logFile,
	}, nil
}

// checkSchema refuses to work against a database that db migrate has not
// brought up to date.
func (a *App) checkSchema() error {
	if err := a.db.CheckMigrations(); err != nil {
		return fmt.Errorf("database schema out of date (run r2mig db migrate): %w", err)
	}
	return nil
}

// Start runs a migration in the foreground. Real runs with encrypted
// backups need the key pair from keys init.
func (a *App) Start(ctx context.Context, opts r2mig.StartOptions) (*r2mig.StartResult, error) {
	if err := a.checkSchema(); err != nil {
		return nil, err
	}
	if !opts.DryRun && a.cfg.Backup.Enabled && a.cfg.Backup.Encrypt && !a.encryptor.IsConfigured() {
		return nil, errors.New("backup encryption is enabled but no keys exist (run r2mig keys init)")
	}
	return a.service.Start(ctx, opts)
}

// Status reports progress of the migration with the given log ID.
func (a *App) Status(ctx context.Context, logID int64) (*r2mig.StatusReport, error) {
	if err := a.checkSchema(); err != nil {
		return nil, err
	}
	return a.service.Status(ctx, logID)
}

// GetMigrationLog returns the raw migration_log row.
func (a *App) GetMigrationLog(ctx context.Context, logID int64) (*sqlc.MigrationLog, error) {
	if err := a.checkSchema(); err != nil {
		return nil, err
	}
	return a.db.GetMigrationLog(ctx, logID)
}

func (a *App) Pause(ctx context.Context, logID int64) error {
	if err := a.checkSchema(); err != nil {
		return err
	}
	return a.service.Pause(ctx, logID)
}

func (a *App) Resume(ctx context.Context, logID int64) error {
	if err := a.checkSchema(); err != nil {
		return err
	}
	return a.service.Resume(ctx, logID)
}

func (a *App) Stop(ctx context.Context, logID int64) error {
	if err := a.checkSchema(); err != nil {
		return err
	}
	return a.service.Stop(ctx, logID)
}

// History returns the most recent migration runs.
func (a *App) History(ctx context.Context, limit int) ([]*sqlc.MigrationLog, error) {
	if err := a.checkSchema(); err != nil {
		return nil, err
	}
	return a.service.History(ctx, limit)
}

// Validate compares the expense table with the bucket.
func (a *App) Validate(ctx context.Context) (*r2mig.IntegrityReport, error) {
	if err := a.checkSchema(); err != nil {
		return nil, err
	}
	return a.service.ValidateIntegrity(ctx)
}

// Stats counts expense rows by receipt_url layout.
func (a *App) Stats(ctx context.Context) (*r2mig.DatabaseStatistics, error) {
	if err := a.checkSchema(); err != nil {
		return nil, err
	}
	return a.service.Updater().GetDatabaseStatistics(ctx)
}

// DBMigrate applies pending schema migrations.
func (a *App) DBMigrate() error {
	if err := a.db.MigrateUp(); err != nil {
		return err
	}
	a.logger.Info("database migrated", "path", a.db.Path())
	return nil
}

// DBStatus reports the schema version of the database.
func (a *App) DBStatus() (*migrations.Status, error) {
	return a.db.SchemaStatus()
}

// ServeMetrics exposes Prometheus metrics on addr until ctx is done.
func (a *App) ServeMetrics(ctx context.Context, addr string) (net.Addr, <-chan error, error) {
	return a.metrics.Serve(ctx, addr)
}

// Close closes the database and the log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.db.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// InitKeys generates the age key pair used for encrypted backups. It does
// not touch the database or the bucket.
func InitKeys(cfg config.EncryptionConfig, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if err := enc.Setup(passphrase); err != nil {
		return fmt.Errorf("generating keys: %w", err)
	}
	return nil
}

// DecryptBackup unlocks the private key with passphrase and writes the
// plaintext of the encrypted backup src to dst.
func DecryptBackup(cfg config.EncryptionConfig, passphrase, src, dst string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	dc, err := enc.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking private key: %w", err)
	}
	return backup.DecryptFile(dc, src, dst)
}
