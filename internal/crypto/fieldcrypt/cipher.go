// Package fieldcrypt provides authenticated field-level encryption.
// Each ciphertext is self-describing: it carries the key version it was
// produced under plus the nonce, so decryption needs only the keyring.
package fieldcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrDecryption is returned when a ciphertext is malformed or its
// authentication tag does not verify (wrong key or tampering).
// Decryption fails closed; it never returns garbage plaintext.
var ErrDecryption = errors.New("fieldcrypt: decryption failed")

// KeySource supplies versioned symmetric key material. The current key
// is used for encryption; historical versions stay addressable so that
// ciphertexts written before a rotation remain readable.
type KeySource interface {
	Current() (version uint32, key []byte, err error)
	ByVersion(version uint32) ([]byte, error)
}

// Cipher encrypts and decrypts individual string fields with AES-256-GCM.
type Cipher struct {
	keys KeySource
}

func New(keys KeySource) *Cipher {
	return &Cipher{keys: keys}
}

// Encrypt seals plaintext under the current key. Output form is
// "v<version>:" + base64(nonce || sealed).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	version, key, err := c.keys.Current()
	if err != nil {
		return "", fmt.Errorf("fieldcrypt: load current key: %w", err)
	}
	sealed, err := seal(key, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("v%d:%s", version, base64.StdEncoding.EncodeToString(sealed)), nil
}

// Decrypt reverses Encrypt. The key is selected by the version tag
// embedded in the ciphertext.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	i := strings.IndexByte(ciphertext, ':')
	if i < 2 || ciphertext[0] != 'v' {
		return "", ErrDecryption
	}
	version, err := strconv.ParseUint(ciphertext[1:i], 10, 32)
	if err != nil {
		return "", ErrDecryption
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext[i+1:])
	if err != nil {
		return "", ErrDecryption
	}
	key, err := c.keys.ByVersion(uint32(version))
	if err != nil {
		return "", ErrDecryption
	}
	plain, err := open(key, raw)
	if err != nil {
		return "", ErrDecryption
	}
	return string(plain), nil
}

// Blob container magic for whole-store backup artifacts.
var blobMagic = []byte("VLBK")

// SealBlob encrypts an opaque byte blob (a store snapshot) under the
// current key. Layout: magic, 4-byte big-endian key version, sealed bytes.
func (c *Cipher) SealBlob(plain []byte) ([]byte, error) {
	version, key, err := c.keys.Current()
	if err != nil {
		return nil, fmt.Errorf("fieldcrypt: load current key: %w", err)
	}
	sealed, err := seal(key, plain)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(blobMagic)+4+len(sealed))
	out = append(out, blobMagic...)
	out = binary.BigEndian.AppendUint32(out, version)
	return append(out, sealed...), nil
}

// OpenBlob reverses SealBlob.
func (c *Cipher) OpenBlob(blob []byte) ([]byte, error) {
	if len(blob) < len(blobMagic)+4 || string(blob[:len(blobMagic)]) != string(blobMagic) {
		return nil, ErrDecryption
	}
	version := binary.BigEndian.Uint32(blob[len(blobMagic):])
	key, err := c.keys.ByVersion(version)
	if err != nil {
		return nil, ErrDecryption
	}
	plain, err := open(key, blob[len(blobMagic)+4:])
	if err != nil {
		return nil, ErrDecryption
	}
	return plain, nil
}

// seal produces nonce || AES-GCM ciphertext.
func seal(key, plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("fieldcrypt: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("fieldcrypt: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("fieldcrypt: %w", err)
	}
	return aead.Seal(nonce, nonce, plain, nil), nil
}

func open(key, raw []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(raw) < aead.NonceSize() {
		return nil, ErrDecryption
	}
	return aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], nil)
}
