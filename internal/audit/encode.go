package audit

import (
	"fmt"
	"strings"
	"time"
)

// ChangedAtFormat is the canonical timestamp rendering inside signed
// audit messages and the changed_at column. A signed message must
// reproduce byte-for-byte, so the format is fixed here.
const ChangedAtFormat = time.RFC3339Nano

// EncodeMessage builds the canonical byte string that gets signed for
// an audit row. Each field is length-prefixed ("<len>:<value>") before
// joining, so no field content can collide with a delimiter and forge a
// different parse of the same bytes.
func EncodeMessage(operation, tableName, oldValue, newValue string, changedAt time.Time) string {
	fields := []string{
		operation,
		tableName,
		oldValue,
		newValue,
		changedAt.UTC().Format(ChangedAtFormat),
	}
	var b strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&b, "%d:%s", len(f), f)
	}
	return b.String()
}
