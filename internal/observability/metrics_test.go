package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveAction(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.ObserveAction("[Exercise] Tick", "applied", time.Millisecond)
	m.ObserveAction("[Exercise] Tick", "applied", time.Millisecond)
	m.ObserveAction("[Patient] Remove patient", "rejected", time.Millisecond)

	if got := testutil.ToFloat64(m.Actions.WithLabelValues("[Exercise] Tick", "applied")); got != 2 {
		t.Fatalf("applied ticks = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(m.ActionDurations); got != 2 {
		t.Fatalf("duration series = %d, want 2", got)
	}
}

func TestNewIsIdempotentOnSameRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(reg)
	if err != nil {
		t.Fatalf("second New: %v", err)
	}
	a.Tick()
	b.Tick()
	if got := testutil.ToFloat64(a.Ticks); got != 2 {
		t.Fatalf("ticks = %v, want 2", got)
	}
}

func TestHandlerExposesQueues(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.ExerciseLoaded(1)
	m.ClientJoined(3)
	m.ClientJoined(-1)
	if err := m.RegisterQueue("mirror", func() (int, int, uint64) { return 4, 256, 7 }); err != nil {
		t.Fatalf("RegisterQueue: %v", err)
	}

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	for _, want := range []string{
		"manv_exercises_active 1",
		"manv_clients_connected 2",
		`manv_queue_depth{queue="mirror"} 4`,
		`manv_queue_dropped_total{queue="mirror"} 7`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveAction("x", "applied", 0)
	m.Tick()
	m.SlowClient()
	if err := m.RegisterQueue("x", nil); err != nil {
		t.Fatalf("nil RegisterQueue: %v", err)
	}
}
