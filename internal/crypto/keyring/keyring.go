// Package keyring owns the symmetric encryption key lifecycle: load or
// create the current key, rotate it with timestamped backups, and keep
// every historical version addressable so old ciphertexts stay readable.
package keyring

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"vaultledger.org/internal/crypto/fieldcrypt"
)

const (
	keyFileName   = "encryption.key"
	backupDirName = "key_backups"
	keySize       = 32
	// key file = 4-byte big-endian version + 32 key bytes
	keyFileSize = 4 + keySize
)

// ErrKeyFormat means a key file exists but its contents are not a valid
// versioned key. Fatal at startup; never auto-repaired.
var ErrKeyFormat = errors.New("keyring: invalid key file format")

// Key is versioned symmetric key material.
type Key struct {
	Version  uint32
	Material []byte
}

// Manager manages key files under a single directory.
type Manager struct {
	mu  sync.Mutex
	dir string
}

func New(dir string) *Manager {
	return &Manager{dir: dir}
}

func (m *Manager) keyPath() string   { return filepath.Join(m.dir, keyFileName) }
func (m *Manager) backupDir() string { return filepath.Join(m.dir, backupDirName) }

// LoadOrCreate reads the current key, generating and persisting a fresh
// version-1 key when none exists yet.
func (m *Manager) LoadOrCreate() (Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadOrCreateLocked()
}

func (m *Manager) loadOrCreateLocked() (Key, error) {
	raw, err := os.ReadFile(m.keyPath())
	if err == nil {
		return parseKeyFile(raw)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Key{}, fmt.Errorf("keyring: read key file: %w", err)
	}
	k, err := generateKey(1)
	if err != nil {
		return Key{}, err
	}
	if err := m.writeKeyLocked(k); err != nil {
		return Key{}, err
	}
	return k, nil
}

// Rotate moves the current key file into a timestamped backup and
// persists a fresh key with the next version number. Ciphertexts
// written under prior versions keep decrypting through the backups.
func (m *Manager) Rotate() (Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.loadOrCreateLocked()
	if err != nil {
		return Key{}, err
	}
	if err := os.MkdirAll(m.backupDir(), 0o700); err != nil {
		return Key{}, fmt.Errorf("keyring: create backup dir: %w", err)
	}
	stamp := time.Now().Format("20060102_150405")
	backupPath := filepath.Join(m.backupDir(), fmt.Sprintf("key_v%d_%s.bak", current.Version, stamp))
	if err := os.Rename(m.keyPath(), backupPath); err != nil {
		return Key{}, fmt.Errorf("keyring: back up current key: %w", err)
	}
	next, err := generateKey(current.Version + 1)
	if err != nil {
		return Key{}, err
	}
	if err := m.writeKeyLocked(next); err != nil {
		return Key{}, err
	}
	return next, nil
}

// Current implements fieldcrypt.KeySource.
func (m *Manager) Current() (uint32, []byte, error) {
	k, err := m.LoadOrCreate()
	if err != nil {
		return 0, nil, err
	}
	return k.Version, k.Material, nil
}

// ByVersion implements fieldcrypt.KeySource. The current key is tried
// first, then the backup directory is scanned.
func (m *Manager) ByVersion(version uint32) ([]byte, error) {
	k, err := m.LoadOrCreate()
	if err != nil {
		return nil, err
	}
	if k.Version == version {
		return k.Material, nil
	}
	backups, err := m.listBackups()
	if err != nil {
		return nil, err
	}
	for _, b := range backups {
		if b.Version == version {
			return b.Material, nil
		}
	}
	return nil, fmt.Errorf("keyring: no key for version %d", version)
}

// Cipher returns a field cipher bound to this keyring.
func (m *Manager) Cipher() *fieldcrypt.Cipher {
	return fieldcrypt.New(m)
}

func (m *Manager) listBackups() ([]Key, error) {
	entries, err := os.ReadDir(m.backupDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("keyring: read backup dir: %w", err)
	}
	var keys []Key
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(m.backupDir(), e.Name()))
		if err != nil {
			return nil, fmt.Errorf("keyring: read backup %s: %w", e.Name(), err)
		}
		k, err := parseKeyFile(raw)
		if err != nil {
			// A corrupt backup must not strand readable ones.
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Version < keys[j].Version })
	return keys, nil
}

func (m *Manager) writeKeyLocked(k Key) error {
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return fmt.Errorf("keyring: create key dir: %w", err)
	}
	buf := make([]byte, 0, keyFileSize)
	buf = binary.BigEndian.AppendUint32(buf, k.Version)
	buf = append(buf, k.Material...)
	if err := os.WriteFile(m.keyPath(), buf, 0o600); err != nil {
		return fmt.Errorf("keyring: write key file: %w", err)
	}
	return nil
}

func parseKeyFile(raw []byte) (Key, error) {
	if len(raw) != keyFileSize {
		return Key{}, ErrKeyFormat
	}
	version := binary.BigEndian.Uint32(raw)
	if version == 0 {
		return Key{}, ErrKeyFormat
	}
	material := make([]byte, keySize)
	copy(material, raw[4:])
	return Key{Version: version, Material: material}, nil
}

func generateKey(version uint32) (Key, error) {
	material := make([]byte, keySize)
	if _, err := cryptorand.Read(material); err != nil {
		return Key{}, fmt.Errorf("keyring: generate key: %w", err)
	}
	return Key{Version: version, Material: material}, nil
}
