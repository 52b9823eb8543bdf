// Package backup snapshots the app database before a migration run rewrites
// receipt URLs.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"r2mig/internal/r2mig"
)

// Snapshotter writes a consistent copy of a database to a path.
type Snapshotter interface {
	BackupTo(ctx context.Context, destPath string) error
}

// Manager creates backups in dir. With an encryptor, only the encrypted
// file (suffix .age) is kept.
type Manager struct {
	db        Snapshotter
	dir       string
	encryptor r2mig.Encryptor
	clock     r2mig.Clock
	logger    r2mig.Logger
}

// NewManager returns a Manager. encryptor may be nil for plaintext backups.
func NewManager(db Snapshotter, dir string, encryptor r2mig.Encryptor, clock r2mig.Clock, logger r2mig.Logger) *Manager {
	if clock == nil {
		clock = r2mig.RealClock{}
	}
	if logger == nil {
		logger = r2mig.NewNopLogger()
	}
	return &Manager{db: db, dir: dir, encryptor: encryptor, clock: clock, logger: logger}
}

// Create snapshots the database and returns the path of the backup file.
func (m *Manager) Create(ctx context.Context, label string) (string, error) {
	if err := os.MkdirAll(m.dir, 0700); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}

	name := fmt.Sprintf("r2mig-%s-%s.db", m.clock.Now().UTC().Format("20060102T150405Z"), label)
	path := filepath.Join(m.dir, name)

	if err := m.db.BackupTo(ctx, path); err != nil {
		return "", err
	}
	if err := os.Chmod(path, 0600); err != nil {
		return "", fmt.Errorf("restricting backup permissions: %w", err)
	}

	if m.encryptor == nil {
		m.logger.Info("database backup created", "path", path)
		return path, nil
	}

	encPath := path + ".age"
	if err := encryptFile(m.encryptor, path, encPath); err != nil {
		os.Remove(encPath)
		return "", err
	}
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("removing plaintext backup: %w", err)
	}

	m.logger.Info("encrypted database backup created", "path", encPath)
	return encPath, nil
}

func encryptFile(enc r2mig.Encryptor, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening backup: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating encrypted backup: %w", err)
	}
	if err := enc.Encrypt(in, out); err != nil {
		out.Close()
		return fmt.Errorf("encrypting backup: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing encrypted backup: %w", err)
	}
	return nil
}

// DecryptFile writes the plaintext of an encrypted backup to dst. dst must
// not exist.
func DecryptFile(dc r2mig.DecryptionContext, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening encrypted backup: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	if err := dc.Decrypt(in, out); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("decrypting backup: %w", err)
	}
	return out.Close()
}

var _ r2mig.Backup = (*Manager)(nil)
