package ingress

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kairoslab/sentryd/internal/inject"
	"github.com/kairoslab/sentryd/internal/telemetry"
)

// TraceIDHeader is the header used to propagate a trace id from an
// upstream caller; a request without it gets a freshly generated one.
const TraceIDHeader = "X-Trace-Id"

// Injector is the subset of the failure injection table the hook needs.
type Injector interface {
	CheckInjection(endpoint string) inject.Rule
	Apply(rule inject.Rule) inject.Outcome
}

// Request captures everything the hook needs to know about an
// in-flight request at Begin time.
type Request struct {
	ServiceName string
	Endpoint    string
	Method      string
	TraceID     string

	startedAt time.Time
	rule      inject.Rule
}

// Hook ties trace-id assignment and failure injection to the lifetime
// of one request, per the determinism contract: the injection rule is
// captured once, at Begin, and never re-queried for this request.
type Hook struct {
	serviceName string
	injector    Injector
}

// New constructs a Hook for one monitored service.
func New(serviceName string, injector Injector) *Hook {
	return &Hook{serviceName: serviceName, injector: injector}
}

// Begin resolves the trace id (propagated via header, else generated)
// and captures the injection rule in effect for endpoint at this
// instant.
func (h *Hook) Begin(header http.Header, endpoint, method string) Request {
	traceID := header.Get(TraceIDHeader)
	if traceID == "" {
		traceID = uuid.NewString()
	}
	return Request{
		ServiceName: h.serviceName,
		Endpoint:    endpoint,
		Method:      method,
		TraceID:     traceID,
		startedAt:   time.Now(),
		rule:        h.injector.CheckInjection(endpoint),
	}
}

// Delay returns the artificial delay this request's captured rule
// configures, or zero. The caller is responsible for actually sleeping;
// Hook never blocks on its own.
func (r Request) Delay() time.Duration {
	return time.Duration(r.rule.DelayMS) * time.Millisecond
}

// StartedAt reports when Begin captured this request.
func (r Request) StartedAt() time.Time {
	return r.startedAt
}

// ElapsedMS reports the milliseconds since Begin, the latency value an
// instrumentation wrapper passes to End when it has no better measure.
func (r Request) ElapsedMS() float64 {
	return float64(time.Since(r.startedAt)) / float64(time.Millisecond)
}

// End evaluates the captured rule's error injection and produces the
// completed telemetry record, stamped with the completion instant.
// Completion-time stamping is what keeps trace reconstruction honest: a
// caller finishes after the downstream calls it made, so the downstream
// failure sorts first within the trace. statusCode/errMsg reflect what
// the real handler produced; if the injector triggers an error, it
// takes precedence and is reported as first-class telemetry, not a
// system error.
func (h *Hook) End(r Request, statusCode int, latencyMS float64, errMsg string) telemetry.Record {
	outcome := h.injector.Apply(r.rule)
	if outcome.Triggered {
		statusCode = http.StatusInternalServerError
		errMsg = outcome.ErrorMessage
	}

	return telemetry.Record{
		ServiceName:  r.ServiceName,
		Endpoint:     r.Endpoint,
		Method:       r.Method,
		StatusCode:   statusCode,
		LatencyMS:    latencyMS,
		ErrorMessage: errMsg,
		TraceID:      r.TraceID,
		Timestamp:    time.Now(),
	}
}

// Recover converts a recovered panic into a 500 telemetry record rather
// than letting the instrumentation wrapper propagate the panic across
// the request boundary.
func (h *Hook) Recover(r Request, latencyMS float64, panicValue any) telemetry.Record {
	return h.End(r, http.StatusInternalServerError, latencyMS, panicMessage(panicValue))
}

func panicMessage(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "panic in request handler"
}
