package signer

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	return New(filepath.Join(dir, "priv.pem"), filepath.Join(dir, "pub.pem")), dir
}

func TestSignAndVerify(t *testing.T) {
	s, _ := newTestService(t)
	sig, err := s.Sign("4:some7:message")
	if err != nil {
		t.Fatal(err)
	}
	ok, err := s.Verify("4:some7:message", sig)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("valid signature did not verify")
	}
}

func TestVerifyRejectsMismatch(t *testing.T) {
	s, _ := newTestService(t)
	sig, err := s.Sign("original")
	if err != nil {
		t.Fatal(err)
	}

	ok, err := s.Verify("altered", sig)
	if err != nil || ok {
		t.Fatalf("altered message verified: ok=%t err=%v", ok, err)
	}
	ok, err = s.Verify("original", []byte("garbage"))
	if err != nil || ok {
		t.Fatalf("garbage signature verified: ok=%t err=%v", ok, err)
	}
	tampered := append([]byte(nil), sig...)
	tampered[0] ^= 0xFF
	ok, err = s.Verify("original", tampered)
	if err != nil || ok {
		t.Fatalf("tampered signature verified: ok=%t err=%v", ok, err)
	}
}

func TestSignaturesAreSalted(t *testing.T) {
	s, _ := newTestService(t)
	a, err := s.Sign("same message")
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Sign("same message")
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("PSS signatures over identical messages were identical")
	}
	for _, sig := range [][]byte{a, b} {
		ok, err := s.Verify("same message", sig)
		if err != nil || !ok {
			t.Fatalf("salted signature did not verify: ok=%t err=%v", ok, err)
		}
	}
}

func TestKeysPersistAcrossServices(t *testing.T) {
	s, dir := newTestService(t)
	sig, err := s.Sign("durable")
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"priv.pem", "pub.pem"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("key file %s not persisted: %v", name, err)
		}
	}

	// A fresh service over the same files must verify old signatures.
	other := New(filepath.Join(dir, "priv.pem"), filepath.Join(dir, "pub.pem"))
	ok, err := other.Verify("durable", sig)
	if err != nil || !ok {
		t.Fatalf("reloaded keys failed verification: ok=%t err=%v", ok, err)
	}
}

func TestDistinctKeypairsDoNotCrossVerify(t *testing.T) {
	a, _ := newTestService(t)
	b, _ := newTestService(t)
	sig, err := a.Sign("message")
	if err != nil {
		t.Fatal(err)
	}
	ok, err := b.Verify("message", sig)
	if err != nil || ok {
		t.Fatalf("foreign key verified signature: ok=%t err=%v", ok, err)
	}
}
