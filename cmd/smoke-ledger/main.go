// Command smoke-ledger exercises a full deposit/withdraw/transfer
// scenario against a throwaway store and verifies the signed audit
// trail it leaves behind.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"vaultledger.org/internal/audit"
	"vaultledger.org/internal/auth"
	"vaultledger.org/internal/crypto/keyring"
	"vaultledger.org/internal/crypto/signer"
	"vaultledger.org/internal/ids"
	"vaultledger.org/internal/ledger"
	"vaultledger.org/internal/obs"
	"vaultledger.org/internal/store/sqlite"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dir, err := os.MkdirTemp("", "vaultledger-smoke-")
	if err != nil {
		log.Fatalf("temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	keys := keyring.New(filepath.Join(dir, "keys"))
	cipher := keys.Cipher()
	sig := signer.New(filepath.Join(dir, "signature_private_key.pem"), filepath.Join(dir, "signature_public_key.pem"))

	st, err := sqlite.Open(filepath.Join(dir, "ledger.db"), cipher, sig)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	userID, err := ids.GenerateNumericID(ctx, st.UserIDInUse)
	if err != nil {
		log.Fatalf("generate user id: %v", err)
	}
	pwHash, err := auth.HashPassword("Sm0ke-Test!")
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}
	if err := st.CreateUser(ctx, ledger.User{
		ID: userID, Username: "smokeuser", Email: "smoke@example.com",
		PasswordHash: pwHash, Role: ledger.RoleCustomer,
	}); err != nil {
		log.Fatalf("create user: %v", err)
	}

	checking, err := ids.GenerateNumericID(ctx, st.AccountIDInUse)
	if err != nil {
		log.Fatalf("generate account id: %v", err)
	}
	savings, err := ids.GenerateNumericID(ctx, st.AccountIDInUse)
	if err != nil {
		log.Fatalf("generate account id: %v", err)
	}
	if err := st.CreateAccount(ctx, ledger.Account{ID: checking, OwnerUserID: userID, Type: "Checking", Balance: 100000}); err != nil {
		log.Fatalf("create checking: %v", err)
	}
	if err := st.CreateAccount(ctx, ledger.Account{ID: savings, OwnerUserID: userID, Type: "Savings", Balance: 50000}); err != nil {
		log.Fatalf("create savings: %v", err)
	}

	mustAmount := func(s string) ledger.Amount {
		a, err := ledger.ParseAmount(s)
		if err != nil {
			log.Fatalf("parse amount %s: %v", s, err)
		}
		return a
	}

	if _, err := st.Deposit(ctx, checking, mustAmount("200.00")); err != nil {
		log.Fatalf("deposit: %v", err)
	}
	if _, err := st.Withdraw(ctx, checking, mustAmount("300.00")); err != nil {
		log.Fatalf("withdraw: %v", err)
	}
	if err := st.Transfer(ctx, checking, savings, mustAmount("300.00")); err != nil {
		log.Fatalf("transfer: %v", err)
	}

	balChecking, err := st.Balance(ctx, checking)
	if err != nil {
		log.Fatalf("balance checking: %v", err)
	}
	balSavings, err := st.Balance(ctx, savings)
	if err != nil {
		log.Fatalf("balance savings: %v", err)
	}
	if balChecking.String() != "600.00" || balSavings.String() != "800.00" {
		log.Fatalf("unexpected balances: checking=%s savings=%s", balChecking, balSavings)
	}

	trail := audit.New(st.DB(), cipher, sig)
	entries, err := trail.ListAll(ctx)
	if err != nil {
		log.Fatalf("list audit: %v", err)
	}
	if len(entries) != 4 {
		log.Fatalf("expected 4 audit rows, got %d", len(entries))
	}
	bad, err := trail.VerifyAll(ctx)
	if err != nil {
		log.Fatalf("verify audit: %v", err)
	}
	if len(bad) != 0 {
		log.Fatalf("unverifiable audit rows: %v", bad)
	}

	fmt.Printf("ledger smoke test passed: accounts=%s,%s audit_rows=%d\n", checking, savings, len(entries))
}
