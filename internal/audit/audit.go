// Package audit reads the append-only signed trail of ledger mutations
// and projects it for display. Rows are written by the store inside the
// same transaction as the balance change they describe; this package
// never writes.
package audit

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"vaultledger.org/internal/crypto/fieldcrypt"
	"vaultledger.org/internal/crypto/signer"
	"vaultledger.org/internal/ledger"
)

const (
	// Display truncation widths for decrypted values and signatures.
	valueDisplayLimit     = 50
	signatureDisplayLimit = 10

	// encryptedPlaceholder is shown when a row's values cannot be
	// decrypted. Display is a read-only path; a decryption failure
	// degrades the row instead of failing the listing.
	encryptedPlaceholder = "[Encrypted]"
)

// Log reads signed audit rows from the ledger store.
type Log struct {
	db     *sql.DB
	cipher *fieldcrypt.Cipher
	signer *signer.Service
}

func New(db *sql.DB, cipher *fieldcrypt.Cipher, sig *signer.Service) *Log {
	return &Log{db: db, cipher: cipher, signer: sig}
}

// ListAll returns every audit row as stored (ciphertext values, raw
// signature), ordered by id.
func (l *Log) ListAll(ctx context.Context) ([]ledger.AuditEntry, error) {
	rows, err := l.db.QueryContext(ctx, `
		select id, operation, table_name, old_value, new_value, changed_at, signature
		from audit_log
		order by id asc
	`)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	var res []ledger.AuditEntry
	for rows.Next() {
		var (
			e         ledger.AuditEntry
			changedAt string
			sigHex    string
		)
		if err := rows.Scan(&e.ID, &e.Operation, &e.TableName, &e.OldValue, &e.NewValue, &changedAt, &sigHex); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		ts, err := time.Parse(ChangedAtFormat, changedAt)
		if err != nil {
			return nil, fmt.Errorf("audit: row %d has malformed timestamp: %w", e.ID, err)
		}
		e.ChangedAt = ts
		sig, err := hex.DecodeString(sigHex)
		if err != nil {
			return nil, fmt.Errorf("audit: row %d has malformed signature: %w", e.ID, err)
		}
		e.Signature = sig
		res = append(res, e)
	}
	return res, rows.Err()
}

// Verify checks the entry's signature against the stored fields. An
// unverifiable row is a security-relevant fact, so the result is
// reported rather than suppressed.
func (l *Log) Verify(entry ledger.AuditEntry) (bool, error) {
	msg := EncodeMessage(entry.Operation, entry.TableName, entry.OldValue, entry.NewValue, entry.ChangedAt)
	return l.signer.Verify(msg, entry.Signature)
}

// VerifyAll verifies the whole trail and returns the ids of rows whose
// signatures do not check out.
func (l *Log) VerifyAll(ctx context.Context) (bad []int64, err error) {
	entries, err := l.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		ok, err := l.Verify(e)
		if err != nil {
			return nil, err
		}
		if !ok {
			bad = append(bad, e.ID)
		}
	}
	return bad, nil
}

// DisplayView is the masked, decrypted projection of an audit row that
// is safe to render.
type DisplayView struct {
	ID             int64
	Operation      string
	TableName      string
	OldValue       string
	NewValue       string
	ChangedAt      time.Time
	Signature      string
	SignatureValid bool
}

// Display decrypts and truncates an entry for rendering. Decryption
// failure falls back to a placeholder; signature state is carried so
// viewers always see an unverifiable row flagged.
func (l *Log) Display(entry ledger.AuditEntry) DisplayView {
	oldValue, err := l.cipher.Decrypt(entry.OldValue)
	if err != nil {
		oldValue = encryptedPlaceholder
	}
	newValue, err := l.cipher.Decrypt(entry.NewValue)
	if err != nil {
		newValue = encryptedPlaceholder
	}
	valid, err := l.Verify(entry)
	if err != nil {
		valid = false
	}
	return DisplayView{
		ID:             entry.ID,
		Operation:      entry.Operation,
		TableName:      entry.TableName,
		OldValue:       truncate(oldValue, valueDisplayLimit),
		NewValue:       truncate(newValue, valueDisplayLimit),
		ChangedAt:      entry.ChangedAt,
		Signature:      truncate(hex.EncodeToString(entry.Signature), signatureDisplayLimit),
		SignatureValid: valid,
	}
}

// DisplayAll projects every entry.
func (l *Log) DisplayAll(ctx context.Context) ([]DisplayView, error) {
	entries, err := l.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]DisplayView, 0, len(entries))
	for _, e := range entries {
		views = append(views, l.Display(e))
	}
	return views, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
