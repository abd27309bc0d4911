package ingress

import (
	"net/http"
	"testing"

	"github.com/kairoslab/sentryd/internal/inject"
)

func TestBeginGeneratesTraceIDWhenAbsent(t *testing.T) {
	t.Parallel()

	injector := inject.New()
	h := New("api", injector)

	r := h.Begin(http.Header{}, "/checkout", "POST")
	if r.TraceID == "" {
		t.Fatalf("expected a generated trace id")
	}
}

func TestBeginPropagatesTraceIDHeader(t *testing.T) {
	t.Parallel()

	injector := inject.New()
	h := New("api", injector)

	header := http.Header{}
	header.Set(TraceIDHeader, "upstream-trace-1")
	r := h.Begin(header, "/checkout", "POST")
	if r.TraceID != "upstream-trace-1" {
		t.Fatalf("TraceID = %q, want propagated value", r.TraceID)
	}
}

func TestEndWithNoInjectionReturnsRealOutcome(t *testing.T) {
	t.Parallel()

	injector := inject.New()
	h := New("api", injector)

	r := h.Begin(http.Header{}, "/checkout", "POST")
	rec := h.End(r, 200, 42.5, "")
	if rec.StatusCode != 200 {
		t.Fatalf("StatusCode = %d, want 200", rec.StatusCode)
	}
	if rec.Endpoint != "/checkout" {
		t.Fatalf("Endpoint = %q, want /checkout", rec.Endpoint)
	}
}

func TestEndWithInjectedErrorOverridesStatus(t *testing.T) {
	t.Parallel()

	injector := inject.New()
	injector.SetErrorRate("/payment", 1.0)
	h := New("api", injector)

	r := h.Begin(http.Header{}, "/payment", "POST")
	rec := h.End(r, 200, 10, "")
	if rec.StatusCode != 500 {
		t.Fatalf("StatusCode = %d, want 500 (injected)", rec.StatusCode)
	}
	if rec.ErrorMessage == "" {
		t.Fatalf("expected an injected error message")
	}
}

// A caller's record must stamp later than any downstream record emitted
// while it was in flight, so trace reconstruction sorts the downstream
// failure first.
func TestEndStampsCompletionTime(t *testing.T) {
	t.Parallel()

	injector := inject.New()
	h := New("api", injector)

	outer := h.Begin(http.Header{}, "/checkout", "POST")
	inner := h.Begin(http.Header{}, "/payment", "POST")
	innerRec := h.End(inner, 500, 5, "payment gateway timeout")
	outerRec := h.End(outer, 500, 10, "downstream payment failure")

	if outerRec.Timestamp.Before(innerRec.Timestamp) {
		t.Fatalf("caller stamped %v before downstream %v; completion order inverted",
			outerRec.Timestamp, innerRec.Timestamp)
	}
	if outerRec.Timestamp.Before(outer.StartedAt()) {
		t.Fatalf("record timestamp %v precedes request start %v", outerRec.Timestamp, outer.StartedAt())
	}
}

func TestDelayReflectsCapturedRule(t *testing.T) {
	t.Parallel()

	injector := inject.New()
	injector.SetDelay("/slow", 250)
	h := New("api", injector)

	r := h.Begin(http.Header{}, "/slow", "GET")
	if r.Delay().Milliseconds() != 250 {
		t.Fatalf("Delay() = %v, want 250ms", r.Delay())
	}
}

func TestRecoverReportsPanicAsServerError(t *testing.T) {
	t.Parallel()

	injector := inject.New()
	h := New("api", injector)

	r := h.Begin(http.Header{}, "/checkout", "POST")
	rec := h.Recover(r, 5, "boom")
	if rec.StatusCode != 500 {
		t.Fatalf("StatusCode = %d, want 500", rec.StatusCode)
	}
	if rec.ErrorMessage != "boom" {
		t.Fatalf("ErrorMessage = %q, want boom", rec.ErrorMessage)
	}
}
