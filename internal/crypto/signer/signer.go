// Package signer owns the long-lived asymmetric keypair used to sign
// and verify audit messages. The private key never leaves the process
// that writes audit rows; the public key travels to wherever entries
// are displayed.
package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sync"
)

const rsaKeyBits = 2048

// Service signs messages with RSA-PSS over SHA-256. Signatures are
// salted, so two signatures over the same message differ but both
// verify. Key files are generated lazily on first use.
type Service struct {
	mu          sync.Mutex
	privatePath string
	publicPath  string
	private     *rsa.PrivateKey
	public      *rsa.PublicKey
}

func New(privatePath, publicPath string) *Service {
	return &Service{privatePath: privatePath, publicPath: publicPath}
}

// Sign produces a PSS signature over the UTF-8 bytes of message.
func (s *Service) Sign(message string) ([]byte, error) {
	priv, err := s.loadPrivate()
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256([]byte(message))
	sig, err := rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
	})
	if err != nil {
		return nil, fmt.Errorf("signer: sign: %w", err)
	}
	return sig, nil
}

// Verify reports whether signature was produced by the matching private
// key over exactly message. A bad or malformed signature yields false,
// never an error; errors are reserved for key infrastructure failures.
func (s *Service) Verify(message string, signature []byte) (bool, error) {
	pub, err := s.loadPublic()
	if err != nil {
		return false, err
	}
	digest := sha256.Sum256([]byte(message))
	verr := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], signature, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
	})
	return verr == nil, nil
}

func (s *Service) loadPrivate() (*rsa.PrivateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.private != nil {
		return s.private, nil
	}
	if err := s.ensureKeysLocked(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(s.privatePath)
	if err != nil {
		return nil, fmt.Errorf("signer: read private key: %w", err)
	}
	priv, err := parsePrivatePEM(raw)
	if err != nil {
		return nil, err
	}
	s.private = priv
	return priv, nil
}

func (s *Service) loadPublic() (*rsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.public != nil {
		return s.public, nil
	}
	if err := s.ensureKeysLocked(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(s.publicPath)
	if err != nil {
		return nil, fmt.Errorf("signer: read public key: %w", err)
	}
	pub, err := parsePublicPEM(raw)
	if err != nil {
		return nil, err
	}
	s.public = pub
	return pub, nil
}

// ensureKeysLocked generates and persists a fresh keypair if either
// PEM file is missing.
func (s *Service) ensureKeysLocked() error {
	_, privErr := os.Stat(s.privatePath)
	_, pubErr := os.Stat(s.publicPath)
	if privErr == nil && pubErr == nil {
		return nil
	}
	if privErr != nil && !errors.Is(privErr, os.ErrNotExist) {
		return fmt.Errorf("signer: stat private key: %w", privErr)
	}
	if pubErr != nil && !errors.Is(pubErr, os.ErrNotExist) {
		return fmt.Errorf("signer: stat public key: %w", pubErr)
	}

	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return fmt.Errorf("signer: generate keypair: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("signer: marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return fmt.Errorf("signer: marshal public key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(s.privatePath, privPEM, 0o600); err != nil {
		return fmt.Errorf("signer: write private key: %w", err)
	}
	if err := os.WriteFile(s.publicPath, pubPEM, 0o644); err != nil {
		return fmt.Errorf("signer: write public key: %w", err)
	}
	return nil
}

func parsePrivatePEM(raw []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("signer: private key is not PEM")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("signer: parse private key: %w", err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("signer: private key is not RSA")
	}
	return priv, nil
}

func parsePublicPEM(raw []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("signer: public key is not PEM")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("signer: parse public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("signer: public key is not RSA")
	}
	return pub, nil
}
