package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/batalabs/soundgrab/internal/domain"
)

func TestMetrics_counters(t *testing.T) {
	m := New(nil)
	m.Update("message")
	m.Update("message")
	m.Command("/likes")
	m.Listing("likes", "ok", 2*time.Second)
	m.Delivery(domain.OutcomeDelivered, 1<<20)
	m.Delivery(domain.OutcomeFailed, 0)
	m.CallbackRejected("session_expired")
	m.SessionEvicted()

	if got := testutil.ToFloat64(m.updates.WithLabelValues("message")); got != 2 {
		t.Errorf("updates{message} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.listings.WithLabelValues("likes", "ok")); got != 1 {
		t.Errorf("listings{likes,ok} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.deliveries.WithLabelValues("failed")); got != 1 {
		t.Errorf("deliveries{failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.evictions); got != 1 {
		t.Errorf("evictions = %v, want 1", got)
	}
}

func TestMetrics_nilSafe(t *testing.T) {
	var m *Metrics
	m.Update("message")
	m.Command("/start")
	m.Listing("search", "empty", time.Second)
	m.Fetch(time.Second)
	m.Delivery(domain.OutcomeCached, 10)
	m.SessionEvicted()
	m.CallbackRejected("bad_index")
	if m.Registry() != nil {
		t.Error("nil Metrics should have nil registry")
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("nil handler status = %d, want 404", rec.Code)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New(func() int { return 3 })
	m.Command("/search")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`soundgrab_commands_total{command="/search"} 1`,
		`soundgrab_active_sessions 3`,
		`go_goroutines`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
