package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegister_Idempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second Register must tolerate AlreadyRegistered: %v", err)
	}
}

func TestObserve(t *testing.T) {
	before := testutil.ToFloat64(Operations.WithLabelValues("verify", "error"))
	beforeKind := testutil.ToFloat64(Errors.WithLabelValues("verify", "identity_mismatch"))

	Observe("verify", "identity_mismatch")

	if got := testutil.ToFloat64(Operations.WithLabelValues("verify", "error")); got != before+1 {
		t.Fatalf("operations error counter = %v, want %v", got, before+1)
	}
	if got := testutil.ToFloat64(Errors.WithLabelValues("verify", "identity_mismatch")); got != beforeKind+1 {
		t.Fatalf("errors counter = %v, want %v", got, beforeKind+1)
	}
}
