package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"

	"r2mig/internal/config"
	"r2mig/internal/r2mig"
)

// AgeEncryptor seals database backups with an X25519 key pair. The public key
// sits in plaintext so unattended runs can encrypt; the private key is sealed
// with the operator's passphrase and only `backup decrypt` opens it.
type AgeEncryptor struct {
	publicKeyPath  string
	privateKeyPath string
}

var _ r2mig.Encryptor = (*AgeEncryptor)(nil)

func NewAgeEncryptor(cfg config.EncryptionConfig) *AgeEncryptor {
	return &AgeEncryptor{
		publicKeyPath:  cfg.PublicKeyPath,
		privateKeyPath: cfg.PrivateKeyPath,
	}
}

func (e *AgeEncryptor) keyPaths() []string {
	return []string{e.publicKeyPath, e.privateKeyPath}
}

// Setup creates the key pair. Existing key files are never replaced, since
// backups encrypted to the old key would become unreadable.
func (e *AgeEncryptor) Setup(passphrase string) error {
	if passphrase == "" {
		return errors.New("passphrase must not be empty")
	}
	for _, p := range e.keyPaths() {
		if _, err := os.Stat(p); err == nil {
			return fmt.Errorf("key file already exists at %s", p)
		}
		if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
			return fmt.Errorf("creating key directory: %w", err)
		}
	}

	id, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	lock, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("deriving passphrase key: %w", err)
	}
	var sealed bytes.Buffer
	if err := seal(bytes.NewReader([]byte(id.String()+"\n")), &sealed, lock); err != nil {
		return fmt.Errorf("sealing private key: %w", err)
	}

	if err := os.WriteFile(e.publicKeyPath, []byte(id.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	f, err := os.OpenFile(e.privateKeyPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating private key file: %w", err)
	}
	if _, err := sealed.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("writing private key: %w", err)
	}
	return f.Close()
}

// Recipient returns the stored public key in its age1... form.
func (e *AgeEncryptor) Recipient() (string, error) {
	r, err := e.recipient()
	if err != nil {
		return "", err
	}
	x, ok := r.(*age.X25519Recipient)
	if !ok {
		return "", fmt.Errorf("unexpected recipient type %T", r)
	}
	return x.String(), nil
}

func (e *AgeEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	to, err := e.recipient()
	if err != nil {
		return fmt.Errorf("loading public key: %w", err)
	}
	return seal(r, w, to)
}

// Unlock opens the private key. A wrong passphrase fails here, before any
// backup is touched.
func (e *AgeEncryptor) Unlock(passphrase string) (r2mig.DecryptionContext, error) {
	sealed, err := os.ReadFile(e.privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}
	key, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("deriving passphrase key: %w", err)
	}

	var plain bytes.Buffer
	if err := open(bytes.NewReader(sealed), &plain, key); err != nil {
		return nil, fmt.Errorf("unsealing private key: %w", err)
	}
	ids, err := age.ParseIdentities(&plain)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if len(ids) == 0 {
		return nil, errors.New("private key file holds no identity")
	}
	return &AgeDecryptionContext{identity: ids[0]}, nil
}

// IsConfigured reports whether both key files exist.
func (e *AgeEncryptor) IsConfigured() bool {
	for _, p := range e.keyPaths() {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func (e *AgeEncryptor) recipient() (age.Recipient, error) {
	data, err := os.ReadFile(e.publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	rs, err := age.ParseRecipients(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if len(rs) == 0 {
		return nil, errors.New("public key file holds no recipient")
	}
	return rs[0], nil
}

// AgeDecryptionContext holds an unlocked identity in memory.
type AgeDecryptionContext struct {
	identity age.Identity
}

var _ r2mig.DecryptionContext = (*AgeDecryptionContext)(nil)

func (c *AgeDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	return open(r, w, c.identity)
}

func seal(r io.Reader, w io.Writer, to age.Recipient) error {
	aw, err := age.Encrypt(w, to)
	if err != nil {
		return fmt.Errorf("starting age stream: %w", err)
	}
	if _, err := io.Copy(aw, r); err != nil {
		return fmt.Errorf("encrypting: %w", err)
	}
	if err := aw.Close(); err != nil {
		return fmt.Errorf("closing age stream: %w", err)
	}
	return nil
}

func open(r io.Reader, w io.Writer, id age.Identity) error {
	ar, err := age.Decrypt(r, id)
	if err != nil {
		return fmt.Errorf("opening age stream: %w", err)
	}
	if _, err := io.Copy(w, ar); err != nil {
		return fmt.Errorf("decrypting: %w", err)
	}
	return nil
}
