// Package backup produces and restores encrypted whole-store snapshots.
package backup

import (
	"context"
	"fmt"
	"os"
	"time"

	"vaultledger.org/internal/crypto/fieldcrypt"
	"vaultledger.org/internal/ids"
	"vaultledger.org/internal/obs"
	"vaultledger.org/internal/store/sqlite"
)

// Manager snapshots the live store into a single encrypted blob and
// restores such blobs over the live store file.
type Manager struct {
	store  *sqlite.Store
	cipher *fieldcrypt.Cipher
}

func New(store *sqlite.Store, cipher *fieldcrypt.Cipher) *Manager {
	return &Manager{store: store, cipher: cipher}
}

// Backup writes a point-in-time snapshot of the store, encrypted as one
// blob, to destinationPath. The intermediate clean snapshot is removed.
func (m *Manager) Backup(ctx context.Context, destinationPath string) (err error) {
	started := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		obs.ObserveOp("backup", status, started)
	}()

	snapshotPath := destinationPath + ".snapshot." + ids.New()
	defer os.Remove(snapshotPath)

	// VACUUM INTO produces a clean, defragmented copy without blocking
	// concurrent readers of the live store.
	if _, err := m.store.DB().ExecContext(ctx, `vacuum into ?`, snapshotPath); err != nil {
		return fmt.Errorf("backup: snapshot: %w", err)
	}
	plain, err := os.ReadFile(snapshotPath)
	if err != nil {
		return fmt.Errorf("backup: read snapshot: %w", err)
	}
	blob, err := m.cipher.SealBlob(plain)
	if err != nil {
		return fmt.Errorf("backup: encrypt snapshot: %w", err)
	}
	if err := os.WriteFile(destinationPath, blob, 0o600); err != nil {
		return fmt.Errorf("backup: write artifact: %w", err)
	}
	return nil
}

// Restore decrypts the blob at sourcePath and replaces the live store's
// database file with it. Restore needs exclusive access: it closes the
// store's connections, and the caller must have quiesced all workers
// beforehand and must reopen the store afterwards. Any decryption or
// read failure aborts before the live store is touched.
func (m *Manager) Restore(ctx context.Context, sourcePath string) (err error) {
	started := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		obs.ObserveOp("restore", status, started)
	}()

	blob, err := os.ReadFile(sourcePath)
	if err != nil {
		return fmt.Errorf("restore: read artifact: %w", err)
	}
	plain, err := m.cipher.OpenBlob(blob)
	if err != nil {
		return fmt.Errorf("restore: decrypt artifact: %w", err)
	}

	if err := m.store.Close(); err != nil {
		return fmt.Errorf("restore: close store: %w", err)
	}
	// Stale WAL sidecar files would shadow the restored image.
	path := m.store.Path()
	_ = os.Remove(path + "-wal")
	_ = os.Remove(path + "-shm")
	if err := os.WriteFile(path, plain, 0o600); err != nil {
		return fmt.Errorf("restore: replace store file: %w", err)
	}
	return nil
}
