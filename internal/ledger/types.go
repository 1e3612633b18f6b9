package ledger

import (
	"errors"
	"time"
)

// Role is the access level attached to a user record. Authorization
// decisions themselves happen in the caller's request layer.
type Role int

const (
	RoleAdmin    Role = 1
	RoleTeller   Role = 2
	RoleCustomer Role = 3
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleTeller || r == RoleCustomer
}

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleTeller:
		return "teller"
	case RoleCustomer:
		return "customer"
	default:
		return "unknown"
	}
}

// User is a decrypted user record. Username and Email are plaintext here;
// at rest both are ciphertext with deterministic lookup hashes alongside.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	UsernameHash string
	EmailHash    string
}

// Account is a decrypted account record. Balance is minor units (cents);
// at rest it is ciphertext wrapping the canonical two-decimal string.
type Account struct {
	ID          string
	OwnerUserID string
	Type        string
	Balance     Amount
}

// Operation tags recorded in the audit trail.
const (
	OpDeposit            = "DEPOSIT"
	OpWithdraw           = "WITHDRAW"
	OpTransferWithdrawal = "TRANSFER-WITHDRAWAL"
	OpTransferDeposit    = "TRANSFER-DEPOSIT"
	OpDeleteUser         = "DELETE-USER"
	OpDeleteAccount      = "DELETE-ACCOUNT"
)

// Table names recorded in audit rows.
const (
	TableUser    = "User"
	TableAccount = "Account"
)

// AuditEntry is a signed audit row as stored: OldValue/NewValue are
// ciphertext, Signature is raw bytes over the encoded message of the
// five preceding fields.
type AuditEntry struct {
	ID        int64
	Operation string
	TableName string
	OldValue  string
	NewValue  string
	ChangedAt time.Time
	Signature []byte
}

var (
	ErrNotFound          = errors.New("ledger: not found")
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrInvalidAmount     = errors.New("ledger: invalid amount (must be > 0, at most 2 decimals)")
	ErrSameAccount       = errors.New("ledger: transfer source and destination are the same account")
	ErrDuplicateID       = errors.New("ledger: id already in use")
	ErrStorageBusy       = errors.New("ledger: storage busy, retry")
)
