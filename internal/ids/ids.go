// Package ids generates the identifiers used across the ledger:
// sortable ULIDs for internal artifacts, fixed-length numeric strings
// for user and account numbers, and the deterministic lookup hashes
// stored beside encrypted identity fields.
package ids

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// NumericIDLength is the shape callers validate before handing an
// identifier to the store: exactly this many decimal digits.
const NumericIDLength = 10

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for
// backup artifacts and audit correlation.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NumericID returns n cryptographically random decimal digits.
func NumericID(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("ids: %w", err)
	}
	var b strings.Builder
	b.Grow(n)
	for _, c := range buf {
		b.WriteByte('0' + c%10)
	}
	return b.String(), nil
}

// InUseFunc probes whether an identifier is already taken.
type InUseFunc func(ctx context.Context, id string) (bool, error)

const maxIDAttempts = 100

// GenerateNumericID draws fixed-length numeric identifiers until one is
// free according to the probe.
func GenerateNumericID(ctx context.Context, inUse InUseFunc) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id, err := NumericID(NumericIDLength)
		if err != nil {
			return "", err
		}
		taken, err := inUse(ctx, id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
	return "", errors.New("ids: exhausted attempts generating a free identifier")
}

// HashIdentity produces the deterministic lookup hash stored alongside
// an encrypted identity field: SHA-256 hex of the lower-cased, trimmed
// plaintext. The hash never leaks the plaintext but allows O(1)
// equality lookups without a decrypt scan.
func HashIdentity(plaintext string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(plaintext))))
	return hex.EncodeToString(sum[:])
}
