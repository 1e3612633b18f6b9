package keyring

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreatePersists(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)

	k, err := m.LoadOrCreate()
	if err != nil {
		t.Fatal(err)
	}
	if k.Version != 1 {
		t.Fatalf("fresh key version = %d, want 1", k.Version)
	}
	if len(k.Material) != keySize {
		t.Fatalf("key material length = %d", len(k.Material))
	}

	// A second manager over the same directory must load the same key.
	again, err := New(dir).LoadOrCreate()
	if err != nil {
		t.Fatal(err)
	}
	if again.Version != k.Version || !bytes.Equal(again.Material, k.Material) {
		t.Fatal("reload produced different key material")
	}
}

func TestLoadRejectsMalformedKeyFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, keyFileName), []byte("too short"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := New(dir).LoadOrCreate(); !errors.Is(err, ErrKeyFormat) {
		t.Fatalf("expected ErrKeyFormat, got %v", err)
	}
}

func TestRotate(t *testing.T) {
	dir := t.TempDir()
	m := New(dir)

	v1, err := m.LoadOrCreate()
	if err != nil {
		t.Fatal(err)
	}
	v2, err := m.Rotate()
	if err != nil {
		t.Fatal(err)
	}
	if v2.Version != v1.Version+1 {
		t.Fatalf("rotated version = %d, want %d", v2.Version, v1.Version+1)
	}
	if bytes.Equal(v1.Material, v2.Material) {
		t.Fatal("rotation reused key material")
	}

	// The prior version must stay addressable through the backup dir.
	oldMaterial, err := m.ByVersion(v1.Version)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(oldMaterial, v1.Material) {
		t.Fatal("backup does not hold the pre-rotation key")
	}
	entries, err := os.ReadDir(filepath.Join(dir, backupDirName))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one backup file, found %d", len(entries))
	}
}

func TestByVersionUnknown(t *testing.T) {
	m := New(t.TempDir())
	if _, err := m.LoadOrCreate(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ByVersion(42); err == nil {
		t.Fatal("expected error for unknown version")
	}
}

func TestCipherReadsAcrossRotation(t *testing.T) {
	m := New(t.TempDir())
	c := m.Cipher()

	ct, err := c.Encrypt("sensitive")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Rotate(); err != nil {
		t.Fatal(err)
	}
	got, err := c.Decrypt(ct)
	if err != nil {
		t.Fatalf("pre-rotation ciphertext unreadable after rotate: %v", err)
	}
	if got != "sensitive" {
		t.Fatalf("got %q", got)
	}
}
