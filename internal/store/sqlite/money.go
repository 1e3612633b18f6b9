package sqlite

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"vaultledger.org/internal/audit"
	"vaultledger.org/internal/ledger"
	"vaultledger.org/internal/obs"
	"vaultledger.org/internal/stream"
)

// Balance returns an account's current balance.
func (s *Store) Balance(ctx context.Context, accountID string) (ledger.Amount, error) {
	return s.readBalance(ctx, s.db, accountID)
}

// queryRower abstracts *sql.DB and *sql.Tx for balance reads.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) readBalance(ctx context.Context, q queryRower, accountID string) (ledger.Amount, error) {
	var encBalance string
	err := q.QueryRowContext(ctx, `select balance from accounts where id=?`, accountID).Scan(&encBalance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ledger.ErrNotFound
	}
	if err != nil {
		return 0, mapErr(err)
	}
	balStr, err := s.cipher.Decrypt(encBalance)
	if err != nil {
		return 0, fmt.Errorf("account %s: %w", accountID, err)
	}
	return ledger.ParseBalance(balStr)
}

func (s *Store) writeBalanceTx(ctx context.Context, tx *sql.Tx, accountID string, balance ledger.Amount) error {
	encBalance, err := s.cipher.Encrypt(balance.String())
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `update accounts set balance=? where id=?`, encBalance, accountID); err != nil {
		return mapErr(err)
	}
	return nil
}

// appendAuditTx encrypts the old and new values, signs the encoded
// audit message with them, and inserts the row inside the caller's
// transaction. The signature covers the stored ciphertexts, so any
// later modification of the row is detectable.
func (s *Store) appendAuditTx(ctx context.Context, tx *sql.Tx, op, table, oldPlain, newPlain string, at time.Time) error {
	encOld, err := s.cipher.Encrypt(oldPlain)
	if err != nil {
		return err
	}
	encNew, err := s.cipher.Encrypt(newPlain)
	if err != nil {
		return err
	}
	msg := audit.EncodeMessage(op, table, encOld, encNew, at)
	sig, err := s.signer.Sign(msg)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		insert into audit_log(operation, table_name, old_value, new_value, changed_at, signature)
		values (?,?,?,?,?,?)
	`, op, table, encOld, encNew, at.UTC().Format(audit.ChangedAtFormat), hex.EncodeToString(sig))
	if err != nil {
		return mapErr(err)
	}
	obs.CountAuditRow()
	return nil
}

// Deposit adds amount to the account and appends a signed DEPOSIT audit
// row in the same transaction. Returns the new balance.
func (s *Store) Deposit(ctx context.Context, accountID string, amount ledger.Amount) (newBalance ledger.Amount, err error) {
	started := time.Now()
	defer func() { obs.ObserveOp("deposit", opStatus(err), started) }()

	if !amount.IsPositive() {
		return 0, ledger.ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	oldBalance, err := s.readBalance(ctx, tx, accountID)
	if err != nil {
		return 0, err
	}
	newBalance = oldBalance + amount
	if err := s.writeBalanceTx(ctx, tx, accountID, newBalance); err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	if err := s.appendAuditTx(ctx, tx, ledger.OpDeposit, ledger.TableAccount,
		oldBalance.String(), newBalance.String(), now); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, mapErr(err)
	}

	s.publish(stream.MutationEvent{
		Operation: ledger.OpDeposit,
		AccountID: accountID,
		Amount:    int64(amount),
		Timestamp: now,
	})
	return newBalance, nil
}

// Withdraw removes amount from the account if funds suffice and appends
// a signed WITHDRAW audit row in the same transaction. A withdrawal
// never partially applies: any failure rolls the balance change back.
func (s *Store) Withdraw(ctx context.Context, accountID string, amount ledger.Amount) (newBalance ledger.Amount, err error) {
	started := time.Now()
	defer func() { obs.ObserveOp("withdraw", opStatus(err), started) }()

	if !amount.IsPositive() {
		return 0, ledger.ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	oldBalance, err := s.readBalance(ctx, tx, accountID)
	if err != nil {
		return 0, err
	}
	if oldBalance < amount {
		return 0, ledger.ErrInsufficientFunds
	}
	newBalance = oldBalance - amount
	if err := s.writeBalanceTx(ctx, tx, accountID, newBalance); err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	if err := s.appendAuditTx(ctx, tx, ledger.OpWithdraw, ledger.TableAccount,
		oldBalance.String(), newBalance.String(), now); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, mapErr(err)
	}

	s.publish(stream.MutationEvent{
		Operation: ledger.OpWithdraw,
		AccountID: accountID,
		Amount:    int64(amount),
		Timestamp: now,
	})
	return newBalance, nil
}

// Transfer moves amount between two accounts. Both balance updates and
// both audit rows (TRANSFER-WITHDRAWAL, TRANSFER-DEPOSIT) commit in one
// transaction; rejection at any validation step leaves no side effects.
func (s *Store) Transfer(ctx context.Context, fromID, toID string, amount ledger.Amount) (err error) {
	started := time.Now()
	defer func() { obs.ObserveOp("transfer", opStatus(err), started) }()

	if !amount.IsPositive() {
		return ledger.ErrInvalidAmount
	}
	if fromID == toID {
		return ledger.ErrSameAccount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	fromOld, err := s.readBalance(ctx, tx, fromID)
	if err != nil {
		return err
	}
	if fromOld < amount {
		return ledger.ErrInsufficientFunds
	}
	toOld, err := s.readBalance(ctx, tx, toID)
	if err != nil {
		return err
	}

	fromNew := fromOld - amount
	toNew := toOld + amount
	if err := s.writeBalanceTx(ctx, tx, fromID, fromNew); err != nil {
		return err
	}
	if err := s.writeBalanceTx(ctx, tx, toID, toNew); err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := s.appendAuditTx(ctx, tx, ledger.OpTransferWithdrawal, ledger.TableAccount,
		fromOld.String(), fromNew.String(), now); err != nil {
		return err
	}
	if err := s.appendAuditTx(ctx, tx, ledger.OpTransferDeposit, ledger.TableAccount,
		toOld.String(), toNew.String(), now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapErr(err)
	}

	s.publish(stream.MutationEvent{
		Operation:      ledger.OpTransferWithdrawal,
		AccountID:      fromID,
		CounterpartyID: toID,
		Amount:         int64(amount),
		Timestamp:      now,
	})
	return nil
}

func opStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
