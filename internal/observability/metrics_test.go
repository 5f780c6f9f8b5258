package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/caseflow/caseflow/internal/authz"
	"github.com/caseflow/caseflow/internal/security"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/clients/{id}")

	req := httptest.NewRequest(http.MethodGet, "/clients/4", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	body := scrape(t, metrics)
	if !strings.Contains(body, `caseflow_http_requests_total{code="418",route="/clients/{id}"} 1`) {
		t.Fatalf("expected metrics to record request, got: %s", body)
	}
	if !strings.Contains(body, `caseflow_http_request_duration_seconds_bucket{route="/clients/{id}"`) {
		t.Fatalf("expected duration histogram to be present, got: %s", body)
	}
}

func TestObserversCountThrottleAndVerdicts(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveThrottle(security.UserLogin, security.WaitSeconds(4))
	metrics.ObserveThrottle(security.GlobalEmail, security.CaptchaRequired)
	metrics.ObserveVerdict(authz.KindClient, authz.PrivilegeCreateReadUpdate)
	metrics.ObserveVerdict(authz.KindClient, authz.PrivilegeCreateReadUpdate)

	body := scrape(t, metrics)
	for _, want := range []string{
		`caseflow_security_throttle_total{outcome="delay",type="user_login"} 1`,
		`caseflow_security_throttle_total{outcome="captcha",type="global_email"} 1`,
		`caseflow_authz_verdicts_total{kind="client",privilege="CRU"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in: %s", want, body)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveThrottle(security.UserLogin, security.CaptchaRequired)
	m.ObserveVerdict(authz.KindNote, authz.PrivilegeRead)
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	if got := m.Middleware(next); got == nil {
		t.Fatal("expected passthrough handler")
	}
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
