package testutil

import (
	"r2mig/internal/encryption"
	"r2mig/internal/r2mig"
)

// NewTestEncryptor returns the deterministic header-only encryptor.
func NewTestEncryptor() r2mig.Encryptor {
	return encryption.NewTestEncryptor()
}
