// Package vault seals client portal secrets at rest.
//
// Sealed values use AES-256-GCM with a fresh random nonce per call and are
// encoded as three dot-separated base64 fields:
//
//	base64(nonce) "." base64(tag) "." base64(ciphertext)
//
// The key is derived once from the operator's MASTER_KEY with HKDF-SHA256
// and lives in the Vault for the process lifetime. Rotating MASTER_KEY means
// restarting the process; values sealed under the old key stop opening.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"
)

const (
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
	info      = "slotwatch credential vault v1"
)

// IntegrityError is returned by Decrypt when a sealed value is malformed or
// fails authentication.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string { return "vault: integrity check failed: " + e.Reason }

type Vault struct {
	aead cipher.AEAD
}

// New derives the vault key from secret.
func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, errors.New("vault: empty master key")
	}
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(info)), key); err != nil {
		return nil, errors.Wrap(err, "vault: derive key")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "vault: cipher")
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, errors.Wrap(err, "vault: gcm")
	}
	return &Vault{aead: aead}, nil
}

func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "vault: nonce")
	}
	out := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := out[:len(out)-tagSize], out[len(out)-tagSize:]
	enc := base64.StdEncoding
	return enc.EncodeToString(nonce) + "." + enc.EncodeToString(tag) + "." + enc.EncodeToString(ct), nil
}

// Decrypt opens a sealed value. Nothing is returned unless the tag verifies.
func (v *Vault) Decrypt(sealed string) (string, error) {
	nonce, tag, ct, err := split(sealed)
	if err != nil {
		return "", err
	}
	msg := make([]byte, 0, len(ct)+len(tag))
	msg = append(append(msg, ct...), tag...)
	plain, err := v.aead.Open(nil, nonce, msg, nil)
	if err != nil {
		return "", &IntegrityError{Reason: "authentication failed"}
	}
	return string(plain), nil
}

// Reveal is Decrypt for display paths: any failure yields "".
func (v *Vault) Reveal(sealed string) string {
	plain, err := v.Decrypt(sealed)
	if err != nil {
		return ""
	}
	return plain
}

// IsSealed reports whether s has the sealed shape. It does not check the tag.
func IsSealed(s string) bool {
	_, _, _, err := split(s)
	return err == nil
}

func split(sealed string) (nonce, tag, ct []byte, err error) {
	parts := strings.Split(sealed, ".")
	if len(parts) != 3 {
		return nil, nil, nil, &IntegrityError{Reason: "expected three fields"}
	}
	enc := base64.StdEncoding
	if nonce, err = enc.DecodeString(parts[0]); err != nil || len(nonce) != nonceSize {
		return nil, nil, nil, &IntegrityError{Reason: "bad nonce"}
	}
	if tag, err = enc.DecodeString(parts[1]); err != nil || len(tag) != tagSize {
		return nil, nil, nil, &IntegrityError{Reason: "bad tag"}
	}
	if ct, err = enc.DecodeString(parts[2]); err != nil {
		return nil, nil, nil, &IntegrityError{Reason: "bad ciphertext"}
	}
	return nonce, tag, ct, nil
}
