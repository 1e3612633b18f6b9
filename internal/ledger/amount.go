package ledger

import (
	"fmt"
	"strconv"
	"strings"
)

// Amount is money in minor units (cents). No floats anywhere in the
// ledger; the canonical external form is a two-decimal string.
type Amount int64

// ParseAmount parses a positive decimal string with at most two
// fractional digits ("200", "300.5", "1200.00"). Anything else,
// including zero and negatives, returns ErrInvalidAmount.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" || len(frac) > 2 {
		return 0, ErrInvalidAmount
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	cents := int64(0)
	if frac != "" {
		f, err := strconv.ParseUint(frac, 10, 64)
		if err != nil {
			return 0, ErrInvalidAmount
		}
		cents = int64(f)
		if len(frac) == 1 {
			cents *= 10
		}
	}
	total := w*100 + cents
	if w > (1<<62)/100 || total <= 0 {
		return 0, ErrInvalidAmount
	}
	return Amount(total), nil
}

// ParseBalance parses a stored balance string. Unlike ParseAmount it
// accepts zero, since a drained account is a legal state.
func ParseBalance(s string) (Amount, error) {
	if strings.TrimSpace(s) == "0" || strings.TrimSpace(s) == "0.00" {
		return 0, nil
	}
	return ParseAmount(s)
}

// String renders the canonical two-decimal form, e.g. "1200.00".
func (a Amount) String() string {
	return fmt.Sprintf("%d.%02d", int64(a)/100, int64(a)%100)
}

func (a Amount) IsPositive() bool { return a > 0 }
