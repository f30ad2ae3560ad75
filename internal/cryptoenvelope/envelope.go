// Package cryptoenvelope implements the salt:iv:ciphertext framing used to
// encrypt collection files at rest, plus the legacy iv:ct form kept for
// backward-compatible reads.
package cryptoenvelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/VochanecA/TextDBX/internal/errs"
	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltLen       = 16
	IVLen         = 16
	KeyLen        = 32
	PBKDF2Rounds  = 100_000
	blockSize     = aes.BlockSize
)

// Seal encrypts plaintext under passphrase, producing the current
// three-field salt:iv:ciphertext hex envelope. A fresh salt and IV are
// generated on every call so repeated encryptions of identical plaintext
// never produce identical ciphertext.
func Seal(passphrase string, plaintext []byte) (string, error) {
	salt := make([]byte, SaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", errs.Wrap(errs.KindEncryption, "generate salt", err)
	}
	iv := make([]byte, IVLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", errs.Wrap(errs.KindEncryption, "generate iv", err)
	}

	key := pbkdf2.Key([]byte(passphrase), salt, PBKDF2Rounds, KeyLen, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", errs.Wrap(errs.KindEncryption, "init cipher", err)
	}

	padded := pkcs7Pad(plaintext, blockSize)
	ciphertext := make([]byte, len(padded))
	cbc := cipher.NewCBCEncrypter(block, iv)
	cbc.CryptBlocks(ciphertext, padded)

	return strings.Join([]string{
		hex.EncodeToString(salt),
		hex.EncodeToString(iv),
		hex.EncodeToString(ciphertext),
	}, ":"), nil
}

// Open decrypts an envelope produced by Seal, or a legacy two-field
// iv:ct envelope whose key is derived by hashing the passphrase directly
// with SHA-256 (no salt, no KDF).
func Open(passphrase string, envelope string) ([]byte, error) {
	fields := strings.Split(envelope, ":")

	switch len(fields) {
	case 3:
		return openCurrent(passphrase, fields)
	case 2:
		return openLegacy(passphrase, fields)
	default:
		return nil, errs.New(errs.KindDecryption, fmt.Sprintf("envelope has %d fields, want 2 or 3", len(fields)))
	}
}

func openCurrent(passphrase string, fields []string) ([]byte, error) {
	salt, err := hex.DecodeString(fields[0])
	if err != nil {
		return nil, errs.Wrap(errs.KindDecryption, "decode salt", err)
	}
	if len(salt) != SaltLen {
		return nil, errs.New(errs.KindDecryption, fmt.Sprintf("salt length %d, want %d", len(salt), SaltLen))
	}
	iv, err := hex.DecodeString(fields[1])
	if err != nil {
		return nil, errs.Wrap(errs.KindDecryption, "decode iv", err)
	}
	ciphertext, err := hex.DecodeString(fields[2])
	if err != nil {
		return nil, errs.Wrap(errs.KindDecryption, "decode ciphertext", err)
	}

	key := pbkdf2.Key([]byte(passphrase), salt, PBKDF2Rounds, KeyLen, sha256.New)
	return decryptCBC(key, iv, ciphertext)
}

func openLegacy(passphrase string, fields []string) ([]byte, error) {
	iv, err := hex.DecodeString(fields[0])
	if err != nil {
		return nil, errs.Wrap(errs.KindDecryption, "decode iv", err)
	}
	ciphertext, err := hex.DecodeString(fields[1])
	if err != nil {
		return nil, errs.Wrap(errs.KindDecryption, "decode ciphertext", err)
	}

	sum := sha256.Sum256([]byte(passphrase))
	return decryptCBC(sum[:], iv, ciphertext)
}

func decryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	if len(iv) != IVLen {
		return nil, errs.New(errs.KindDecryption, fmt.Sprintf("iv length %d, want %d", len(iv), IVLen))
	}
	if len(ciphertext) == 0 || len(ciphertext)%blockSize != 0 {
		return nil, errs.New(errs.KindDecryption, "ciphertext is not a multiple of the block size")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.Wrap(errs.KindDecryption, "init cipher", err)
	}

	plainPadded := make([]byte, len(ciphertext))
	cbc := cipher.NewCBCDecrypter(block, iv)
	cbc.CryptBlocks(plainPadded, ciphertext)

	plaintext, err := pkcs7Unpad(plainPadded, blockSize)
	if err != nil {
		return nil, errs.Wrap(errs.KindDecryption, "remove padding", err)
	}
	return plaintext, nil
}

func pkcs7Pad(data []byte, size int) []byte {
	padLen := size - len(data)%size
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(data, padding...)
}

func pkcs7Unpad(data []byte, size int) ([]byte, error) {
	n := len(data)
	if n == 0 || n%size != 0 {
		return nil, fmt.Errorf("invalid padded length %d", n)
	}
	padLen := int(data[n-1])
	if padLen == 0 || padLen > size || padLen > n {
		return nil, fmt.Errorf("invalid padding byte %d", padLen)
	}
	for _, b := range data[n-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("corrupt padding")
		}
	}
	return data[:n-padLen], nil
}
