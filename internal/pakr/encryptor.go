package pakr

import "io"

// Encryptor encrypts archive generations before they reach the vault.
// Encryption only needs the public key; decryption requires unlocking the
// private key with a passphrase.
type Encryptor interface {
	// Setup generates a key pair once, storing the private key encrypted
	// with passphrase.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock returns a DecryptionContext for the session, or an error if
	// the passphrase is wrong.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether the key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
