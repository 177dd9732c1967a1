package encryption

import (
	"fmt"

	"pakr/internal/config"
	"pakr/internal/pakr"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration
// type. Type "none" returns a nil Encryptor: generations are then stored in
// plaintext.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (pakr.Encryptor, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("age encryption requires public_key_path and private_key_path")
		}
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
