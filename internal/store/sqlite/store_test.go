package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"vaultledger.org/internal/crypto/fieldcrypt"
	"vaultledger.org/internal/crypto/keyring"
	"vaultledger.org/internal/crypto/signer"
	"vaultledger.org/internal/ledger"
)

type testEnv struct {
	store  *Store
	cipher *fieldcrypt.Cipher
	signer *signer.Service
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cipher := keyring.New(filepath.Join(dir, "keys")).Cipher()
	sig := signer.New(filepath.Join(dir, "priv.pem"), filepath.Join(dir, "pub.pem"))
	st, err := Open(filepath.Join(dir, "ledger.db"), cipher, sig, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return &testEnv{store: st, cipher: cipher, signer: sig}
}

func (e *testEnv) createUser(t *testing.T, id, username, email string) {
	t.Helper()
	err := e.store.CreateUser(context.Background(), ledger.User{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: "$2a$10$fakedhashforstoretests",
		Role:         ledger.RoleCustomer,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func (e *testEnv) createAccount(t *testing.T, id, ownerID, accType string, balance ledger.Amount) {
	t.Helper()
	err := e.store.CreateAccount(context.Background(), ledger.Account{
		ID: id, OwnerUserID: ownerID, Type: accType, Balance: balance,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCreateUserEncryptsAtRest(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.createUser(t, "1111111111", "alice", "alice@example.com")

	var storedUsername, storedEmail string
	err := e.store.DB().QueryRowContext(ctx,
		`select username, email from users where id=?`, "1111111111").
		Scan(&storedUsername, &storedEmail)
	if err != nil {
		t.Fatal(err)
	}
	if storedUsername == "alice" || storedEmail == "alice@example.com" {
		t.Fatal("identity fields stored in plaintext")
	}
	if got, _ := e.cipher.Decrypt(storedUsername); got != "alice" {
		t.Fatalf("stored username decrypts to %q", got)
	}
}

func TestGetUserByUsernameAndEmail(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.createUser(t, "1111111111", "alice", "Alice@Example.com")

	u, err := e.store.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if u.ID != "1111111111" || u.Username != "alice" || u.Role != ledger.RoleCustomer {
		t.Fatalf("unexpected user: %+v", u)
	}

	// Email lookup goes through the same normalized hash.
	u, err = e.store.GetUserByEmail(ctx, "  alice@example.com ")
	if err != nil {
		t.Fatal(err)
	}
	if u.Email != "Alice@Example.com" {
		t.Fatalf("email did not round trip: %q", u.Email)
	}

	if _, err := e.store.GetUserByUsername(ctx, "nobody"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHashLookupMatchesDecryptScan(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.createUser(t, "1111111111", "alice", "alice@example.com")
	e.createUser(t, "4444444444", "bob", "bob@example.com")
	e.createUser(t, "5555555555", "carol", "carol@example.com")

	// Brute-force path: decrypt every username and compare plaintext.
	rows, err := e.store.DB().QueryContext(ctx, `select id, username from users`)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	var scanned string
	for rows.Next() {
		var id, encUsername string
		if err := rows.Scan(&id, &encUsername); err != nil {
			t.Fatal(err)
		}
		username, err := e.cipher.Decrypt(encUsername)
		if err != nil {
			t.Fatal(err)
		}
		if username == "bob" {
			scanned = id
		}
	}
	if err := rows.Err(); err != nil {
		t.Fatal(err)
	}

	indexed, err := e.store.GetUserByUsername(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if scanned == "" || indexed.ID != scanned {
		t.Fatalf("hash lookup found %q, decrypt scan found %q", indexed.ID, scanned)
	}
}

func TestCreateUserDuplicateID(t *testing.T) {
	e := newTestEnv(t)
	e.createUser(t, "1111111111", "alice", "alice@example.com")
	err := e.store.CreateUser(context.Background(), ledger.User{
		ID: "1111111111", Username: "bob", Email: "bob@example.com",
		PasswordHash: "x", Role: ledger.RoleCustomer,
	})
	if !errors.Is(err, ledger.ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}

func TestGetUserAccounts(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.createUser(t, "1111111111", "alice", "alice@example.com")
	e.createAccount(t, "2222222222", "1111111111", "Checking", 100000)
	e.createAccount(t, "3333333333", "1111111111", "Savings", 50000)

	accounts, err := e.store.GetUserAccounts(ctx, "1111111111")
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
	byID := map[string]ledger.Account{}
	for _, a := range accounts {
		byID[a.ID] = a
	}
	if byID["2222222222"].Type != "Checking" || byID["2222222222"].Balance != 100000 {
		t.Fatalf("unexpected checking account: %+v", byID["2222222222"])
	}
	if byID["3333333333"].Type != "Savings" || byID["3333333333"].Balance != 50000 {
		t.Fatalf("unexpected savings account: %+v", byID["3333333333"])
	}
}

func TestGetUserAccountsSkipsUndecryptableRows(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.createUser(t, "1111111111", "alice", "alice@example.com")
	e.createAccount(t, "2222222222", "1111111111", "Checking", 100000)
	e.createAccount(t, "3333333333", "1111111111", "Savings", 50000)

	// Corrupt one row's ciphertext out of band.
	if _, err := e.store.DB().ExecContext(ctx,
		`update accounts set balance='corrupted' where id=?`, "3333333333"); err != nil {
		t.Fatal(err)
	}

	accounts, err := e.store.GetUserAccounts(ctx, "1111111111")
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 1 || accounts[0].ID != "2222222222" {
		t.Fatalf("expected only the intact account, got %+v", accounts)
	}
}

func TestPasswordReset(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.createUser(t, "1111111111", "alice", "alice@example.com")

	if err := e.store.PasswordReset(ctx, "alice", "alice@example.com", "new-hash"); err != nil {
		t.Fatal(err)
	}
	u, err := e.store.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if u.PasswordHash != "new-hash" {
		t.Fatalf("password hash not replaced: %q", u.PasswordHash)
	}

	// Both identity fields must match; a wrong email resets nothing.
	err = e.store.PasswordReset(ctx, "alice", "wrong@example.com", "other-hash")
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExistenceProbes(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.createUser(t, "1111111111", "alice", "alice@example.com")
	e.createAccount(t, "2222222222", "1111111111", "Checking", 0)

	cases := []struct {
		name  string
		probe func(context.Context, string) (bool, error)
		arg   string
		want  bool
	}{
		{"user taken", e.store.UserIDInUse, "1111111111", true},
		{"user free", e.store.UserIDInUse, "9999999999", false},
		{"account taken", e.store.AccountIDInUse, "2222222222", true},
		{"account free", e.store.AccountIDInUse, "9999999999", false},
		{"email taken", e.store.EmailInUse, "ALICE@example.com", true},
		{"email free", e.store.EmailInUse, "bob@example.com", false},
	}
	for _, c := range cases {
		got, err := c.probe(ctx, c.arg)
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if got != c.want {
			t.Fatalf("%s: got %t, want %t", c.name, got, c.want)
		}
	}
}

func TestMaintain(t *testing.T) {
	e := newTestEnv(t)
	e.createUser(t, "1111111111", "alice", "alice@example.com")
	if err := e.store.Maintain(context.Background()); err != nil {
		t.Fatal(err)
	}
	// The store must stay usable afterwards.
	if _, err := e.store.GetUserByUsername(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
}
