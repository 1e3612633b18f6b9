// Command ledgerctl performs out-of-band operational tasks against a
// ledger store: key rotation, encrypted backup and restore, audit
// trail verification and display, and store maintenance. These are
// operator actions; callers must quiesce workers before restore.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"vaultledger.org/internal/audit"
	"vaultledger.org/internal/backup"
	"vaultledger.org/internal/crypto/keyring"
	"vaultledger.org/internal/crypto/signer"
	"vaultledger.org/internal/obs"
	"vaultledger.org/internal/store/sqlite"
)

func main() {
	log.SetFlags(0)
	obs.Init()
	var (
		dbPath   = flag.String("db", os.Getenv("VAULTLEDGER_DB"), "Path to the ledger database file")
		keyDir   = flag.String("keys", os.Getenv("VAULTLEDGER_KEYS"), "Directory holding encryption key material")
		privPath = flag.String("sign-priv", "signature_private_key.pem", "PEM-encoded private signing key")
		pubPath  = flag.String("sign-pub", "signature_public_key.pem", "PEM-encoded public signing key")
		artifact = flag.String("artifact", "", "Backup artifact path (backup/restore)")
	)
	flag.Parse()

	if *keyDir == "" {
		log.Fatal("missing key directory: provide via -keys or VAULTLEDGER_KEYS")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: ledgerctl [rotate-key|backup|restore|verify-audit|show-audit|maintain]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	keys := keyring.New(*keyDir)
	cipher := keys.Cipher()
	sig := signer.New(*privPath, *pubPath)

	cmd := flag.Arg(0)
	if cmd == "rotate-key" {
		k, err := keys.Rotate()
		if err != nil {
			log.Fatalf("rotate-key: %v", err)
		}
		fmt.Printf("encryption key rotated, current version v%d\n", k.Version)
		return
	}

	if *dbPath == "" {
		log.Fatal("missing database path: provide via -db or VAULTLEDGER_DB")
	}
	st, err := sqlite.Open(*dbPath, cipher, sig)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	switch cmd {
	case "backup":
		if *artifact == "" {
			log.Fatal("backup: -artifact is required")
		}
		if err := backup.New(st, cipher).Backup(ctx, *artifact); err != nil {
			log.Fatalf("backup: %v", err)
		}
		fmt.Printf("encrypted backup written to %s\n", *artifact)
	case "restore":
		if *artifact == "" {
			log.Fatal("restore: -artifact is required")
		}
		if err := backup.New(st, cipher).Restore(ctx, *artifact); err != nil {
			log.Fatalf("restore: %v", err)
		}
		fmt.Printf("store restored from %s\n", *artifact)
	case "verify-audit":
		trail := audit.New(st.DB(), cipher, sig)
		bad, err := trail.VerifyAll(ctx)
		if err != nil {
			log.Fatalf("verify-audit: %v", err)
		}
		if len(bad) > 0 {
			log.Fatalf("verify-audit: %d rows failed signature verification: %v", len(bad), bad)
		}
		fmt.Println("all audit signatures verify")
	case "show-audit":
		trail := audit.New(st.DB(), cipher, sig)
		views, err := trail.DisplayAll(ctx)
		if err != nil {
			log.Fatalf("show-audit: %v", err)
		}
		for _, v := range views {
			fmt.Printf("%d\t%s\t%s\t%s -> %s\t%s\tsig=%s valid=%t\n",
				v.ID, v.Operation, v.TableName, v.OldValue, v.NewValue,
				v.ChangedAt.Format(time.RFC3339), v.Signature, v.SignatureValid)
		}
	case "maintain":
		if err := st.Maintain(ctx); err != nil {
			log.Fatalf("maintain: %v", err)
		}
		fmt.Println("store maintenance complete")
	default:
		log.Fatalf("unknown command %q", cmd)
	}
}
