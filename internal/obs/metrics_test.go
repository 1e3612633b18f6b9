package obs

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveOpCountsByStatus(t *testing.T) {
	before := testutil.ToFloat64(opsTotal.WithLabelValues("deposit", "ok"))
	ObserveOp("deposit", "ok", time.Now())
	ObserveOp("deposit", "ok", time.Now())
	after := testutil.ToFloat64(opsTotal.WithLabelValues("deposit", "ok"))
	if after-before != 2 {
		t.Fatalf("counter delta = %v, want 2", after-before)
	}
	if testutil.ToFloat64(opsTotal.WithLabelValues("deposit", "error")) != 0 {
		t.Fatal("error status counted without an error")
	}
}

func TestCountAuditRow(t *testing.T) {
	before := testutil.ToFloat64(auditRowsTotal)
	CountAuditRow()
	if testutil.ToFloat64(auditRowsTotal)-before != 1 {
		t.Fatal("audit row counter did not increment")
	}
}
