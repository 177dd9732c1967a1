package testutil

import (
	"pakr/internal/encryption"
	"pakr/internal/pakr"
)

// NewTestEncryptor creates a keyless encryptor for testing.
func NewTestEncryptor() pakr.Encryptor {
	return encryption.NewTestEncryptor()
}
