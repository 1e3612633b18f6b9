// Package sqlite is the embedded persistence engine for the ledger:
// user and account records with field-level encryption, hash-indexed
// identity lookups, and the transactional money-movement operations
// that append a signed audit row in the same transaction as every
// balance change.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"vaultledger.org/internal/crypto/fieldcrypt"
	"vaultledger.org/internal/crypto/signer"
	"vaultledger.org/internal/ids"
	"vaultledger.org/internal/ledger"
	"vaultledger.org/internal/obs"
	"vaultledger.org/internal/stream"
)

// busyTimeoutMS bounds how long a writer waits on a competing writer
// before the operation fails with ledger.ErrStorageBusy.
const busyTimeoutMS = 10000

const schema = `
create table if not exists users (
	id            text primary key,
	username      text not null,
	email         text not null,
	password_hash text not null,
	role_id       integer not null,
	username_hash text not null,
	email_hash    text not null
);
create index if not exists idx_users_username_hash on users(username_hash);
create index if not exists idx_users_email_hash on users(email_hash);

create table if not exists accounts (
	id            text primary key,
	owner_user_id text not null references users(id),
	account_type  text not null,
	balance       text not null
);
create index if not exists idx_accounts_owner on accounts(owner_user_id);

create table if not exists audit_log (
	id         integer primary key autoincrement,
	operation  text not null,
	table_name text not null,
	old_value  text not null,
	new_value  text not null,
	changed_at text not null,
	signature  text not null
);
`

// Store is the ledger handle. Construct one and pass it by reference;
// there is no process-wide instance. database/sql hands each worker a
// lazily-opened connection from its pool, which in WAL mode lets
// readers proceed alongside the single active writer.
type Store struct {
	db     *sql.DB
	path   string
	cipher *fieldcrypt.Cipher
	signer *signer.Service
	events *stream.Stream
}

// Option configures a Store.
type Option func(*Store)

// WithStream publishes a mutation event after every committed
// balance-affecting operation.
func WithStream(s *stream.Stream) Option {
	return func(st *Store) { st.events = s }
}

// Open opens (creating if needed) the store at path and ensures the
// baseline schema. WAL journaling and the engine busy timeout are
// configured on every connection via the DSN.
func Open(path string, cipher *fieldcrypt.Cipher, sig *signer.Service, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ensure schema: %w", err)
	}
	s := &Store{db: db, path: path, cipher: cipher, signer: sig}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMS))
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for collaborators that read the
// same store (audit listing, migrations).
func (s *Store) DB() *sql.DB { return s.db }

// Path is the store's database file on disk.
func (s *Store) Path() string { return s.path }

// mapErr classifies driver errors into the ledger taxonomy. A busy or
// locked engine is transient and retryable; a unique-constraint hit on
// insert means the id was already taken.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	le := strings.ToLower(err.Error())
	if strings.Contains(le, "database is locked") || strings.Contains(le, "busy") {
		return fmt.Errorf("%w: %v", ledger.ErrStorageBusy, err)
	}
	if strings.Contains(le, "unique") || strings.Contains(le, "constraint") {
		return fmt.Errorf("%w: %v", ledger.ErrDuplicateID, err)
	}
	return err
}

// CreateUser encrypts the identity fields, derives their lookup
// hashes and inserts the row. Username and Email on u are plaintext.
func (s *Store) CreateUser(ctx context.Context, u ledger.User) error {
	encUsername, err := s.cipher.Encrypt(u.Username)
	if err != nil {
		return err
	}
	encEmail, err := s.cipher.Encrypt(u.Email)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into users(id, username, email, password_hash, role_id, username_hash, email_hash)
		values (?,?,?,?,?,?,?)
	`, u.ID, encUsername, encEmail, u.PasswordHash, int(u.Role),
		ids.HashIdentity(u.Username), ids.HashIdentity(u.Email))
	return mapErr(err)
}

// CreateAccount encrypts the account type and opening balance and
// inserts the row. Owner existence is validated by the caller.
func (s *Store) CreateAccount(ctx context.Context, a ledger.Account) error {
	encType, err := s.cipher.Encrypt(a.Type)
	if err != nil {
		return err
	}
	encBalance, err := s.cipher.Encrypt(a.Balance.String())
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into accounts(id, owner_user_id, account_type, balance)
		values (?,?,?,?)
	`, a.ID, a.OwnerUserID, encType, encBalance)
	return mapErr(err)
}

// GetUserAccounts decrypts every account owned by ownerUserID. A row
// whose fields fail to decrypt is logged and skipped rather than
// failing the whole listing.
func (s *Store) GetUserAccounts(ctx context.Context, ownerUserID string) ([]ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, owner_user_id, account_type, balance from accounts where owner_user_id=?
	`, ownerUserID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var res []ledger.Account
	for rows.Next() {
		var (
			acc        ledger.Account
			encType    string
			encBalance string
		)
		if err := rows.Scan(&acc.ID, &acc.OwnerUserID, &encType, &encBalance); err != nil {
			return nil, err
		}
		accType, terr := s.cipher.Decrypt(encType)
		balStr, berr := s.cipher.Decrypt(encBalance)
		if terr != nil || berr != nil {
			obs.LogEvent("store.account_row_undecryptable", map[string]any{"account_id": acc.ID})
			continue
		}
		bal, err := ledger.ParseBalance(balStr)
		if err != nil {
			obs.LogEvent("store.account_balance_malformed", map[string]any{"account_id": acc.ID})
			continue
		}
		acc.Type = accType
		acc.Balance = bal
		res = append(res, acc)
	}
	return res, rows.Err()
}

// FindUserByUsernameHash resolves a user by the precomputed lookup
// hash: an O(1) indexed equality probe, no decrypt scan.
func (s *Store) FindUserByUsernameHash(ctx context.Context, hash string) (*ledger.User, error) {
	return s.findUser(ctx, `username_hash=?`, hash)
}

// FindUserByEmailHash is the email-hash equivalent.
func (s *Store) FindUserByEmailHash(ctx context.Context, hash string) (*ledger.User, error) {
	return s.findUser(ctx, `email_hash=?`, hash)
}

// GetUserByUsername hashes the plaintext and looks it up.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*ledger.User, error) {
	return s.FindUserByUsernameHash(ctx, ids.HashIdentity(username))
}

// GetUserByEmail hashes the plaintext and looks it up.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*ledger.User, error) {
	return s.FindUserByEmailHash(ctx, ids.HashIdentity(email))
}

func (s *Store) findUser(ctx context.Context, where string, arg any) (*ledger.User, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, username, email, password_hash, role_id, username_hash, email_hash
		from users where `+where, arg)
	var (
		u           ledger.User
		encUsername string
		encEmail    string
		roleID      int
	)
	err := row.Scan(&u.ID, &encUsername, &encEmail, &u.PasswordHash, &roleID, &u.UsernameHash, &u.EmailHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, mapErr(err)
	}
	username, uerr := s.cipher.Decrypt(encUsername)
	email, eerr := s.cipher.Decrypt(encEmail)
	if uerr != nil || eerr != nil {
		// On identity lookups an undecryptable row is treated as no match.
		return nil, ledger.ErrNotFound
	}
	u.Username = username
	u.Email = email
	u.Role = ledger.Role(roleID)
	return &u, nil
}

// PasswordReset replaces the stored password hash for the user whose
// username and email both match by hash index.
func (s *Store) PasswordReset(ctx context.Context, username, email, newPasswordHash string) error {
	res, err := s.db.ExecContext(ctx, `
		update users set password_hash=? where username_hash=? and email_hash=?
	`, newPasswordHash, ids.HashIdentity(username), ids.HashIdentity(email))
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

// Existence probes used by identifier-generation retry loops. Pure
// lookups, no mutation.

func (s *Store) UserIDInUse(ctx context.Context, id string) (bool, error) {
	return s.exists(ctx, `select 1 from users where id=?`, id)
}

func (s *Store) AccountIDInUse(ctx context.Context, id string) (bool, error) {
	return s.exists(ctx, `select 1 from accounts where id=?`, id)
}

func (s *Store) EmailInUse(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, `select 1 from users where email_hash=?`, ids.HashIdentity(email))
}

func (s *Store) exists(ctx context.Context, query string, arg any) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, mapErr(err)
	}
	return true, nil
}

// Maintain reclaims freed pages and checkpoints the write-ahead log.
func (s *Store) Maintain(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize;"); err != nil {
		return fmt.Errorf("sqlite: optimize: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM;"); err != nil {
		return fmt.Errorf("sqlite: vacuum: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		return fmt.Errorf("sqlite: wal checkpoint: %w", err)
	}
	return nil
}

func (s *Store) publish(evt stream.MutationEvent) {
	if s.events != nil {
		s.events.Publish(evt)
	}
}
