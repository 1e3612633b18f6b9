package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vaultledger.org/internal/ids"
	"vaultledger.org/internal/ledger"
	"vaultledger.org/internal/obs"
	"vaultledger.org/internal/stream"
)

// Secure erasure: the target row is read back and decrypted for the
// audit trail, its sensitive fields are overwritten with random tokens
// (hash-index columns re-derived from the tokens, so no lookup can
// recover the originals), a signed DELETE-* audit row is appended, and
// only then is the row deleted and the freed space reclaimed. If the
// original cannot be decrypted, nothing is deleted: erasure never
// happens without its audit record.

// SecureDeleteUser crypto-shreds and removes a user row.
func (s *Store) SecureDeleteUser(ctx context.Context, id string) (err error) {
	started := time.Now()
	defer func() { obs.ObserveOp("secure_delete_user", opStatus(err), started) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		encUsername string
		encEmail    string
		roleID      int
	)
	row := tx.QueryRowContext(ctx, `select username, email, role_id from users where id=?`, id)
	if err := row.Scan(&encUsername, &encEmail, &roleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.ErrNotFound
		}
		return mapErr(err)
	}
	username, err := s.cipher.Decrypt(encUsername)
	if err != nil {
		return fmt.Errorf("user %s: %w", id, err)
	}
	email, err := s.cipher.Decrypt(encEmail)
	if err != nil {
		return fmt.Errorf("user %s: %w", id, err)
	}
	original := fmt.Sprintf("id=%s username=%s email=%s role=%s",
		id, username, email, ledger.Role(roleID))

	userToken, emailToken, pwToken := eraseToken(), eraseToken(), eraseToken()
	if _, err := tx.ExecContext(ctx, `
		update users
		set username=?, email=?, password_hash=?, username_hash=?, email_hash=?
		where id=?
	`, userToken, emailToken, pwToken,
		ids.HashIdentity(userToken), ids.HashIdentity(emailToken), id); err != nil {
		return mapErr(err)
	}

	now := time.Now().UTC()
	if err := s.appendAuditTx(ctx, tx, ledger.OpDeleteUser, ledger.TableUser,
		original, deletionMarker(now), now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from users where id=?`, id); err != nil {
		return mapErr(err)
	}
	if err := tx.Commit(); err != nil {
		return mapErr(err)
	}

	s.publish(stream.MutationEvent{Operation: ledger.OpDeleteUser, AccountID: id, Timestamp: now})
	return s.reclaim(ctx)
}

// SecureDeleteAccount crypto-shreds and removes an account row.
func (s *Store) SecureDeleteAccount(ctx context.Context, id string) (err error) {
	started := time.Now()
	defer func() { obs.ObserveOp("secure_delete_account", opStatus(err), started) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		ownerID    string
		encType    string
		encBalance string
	)
	row := tx.QueryRowContext(ctx, `select owner_user_id, account_type, balance from accounts where id=?`, id)
	if err := row.Scan(&ownerID, &encType, &encBalance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.ErrNotFound
		}
		return mapErr(err)
	}
	accType, err := s.cipher.Decrypt(encType)
	if err != nil {
		return fmt.Errorf("account %s: %w", id, err)
	}
	balStr, err := s.cipher.Decrypt(encBalance)
	if err != nil {
		return fmt.Errorf("account %s: %w", id, err)
	}
	original := fmt.Sprintf("id=%s owner=%s type=%s balance=%s", id, ownerID, accType, balStr)

	if _, err := tx.ExecContext(ctx, `
		update accounts set account_type=?, balance=? where id=?
	`, eraseToken(), eraseToken(), id); err != nil {
		return mapErr(err)
	}

	now := time.Now().UTC()
	if err := s.appendAuditTx(ctx, tx, ledger.OpDeleteAccount, ledger.TableAccount,
		original, deletionMarker(now), now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from accounts where id=?`, id); err != nil {
		return mapErr(err)
	}
	if err := tx.Commit(); err != nil {
		return mapErr(err)
	}

	s.publish(stream.MutationEvent{Operation: ledger.OpDeleteAccount, AccountID: id, Timestamp: now})
	return s.reclaim(ctx)
}

// reclaim gives freed pages back to the filesystem after a deletion.
func (s *Store) reclaim(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM;"); err != nil {
		return fmt.Errorf("sqlite: vacuum after erase: %w", err)
	}
	return nil
}

// eraseToken returns a cryptographically random overwrite token.
func eraseToken() string {
	return "ERASED-" + uuid.NewString()
}

func deletionMarker(at time.Time) string {
	return "record deleted at " + at.Format(time.RFC3339)
}
