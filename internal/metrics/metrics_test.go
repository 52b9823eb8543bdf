package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"r2mig/internal/r2mig"
)

func TestRecorder_Counters(t *testing.T) {
	r := NewRecorder()

	r.ItemProcessed(r2mig.OutcomeSuccess, 100, 20*time.Millisecond)
	r.ItemProcessed(r2mig.OutcomeSuccess, 50, 10*time.Millisecond)
	r.ItemProcessed(r2mig.OutcomeFailed, 7, time.Millisecond)
	r.RetryAttempted(r2mig.StageCopy)
	r.URLsUpdated(r2mig.OutcomeSuccess, 2)
	r.URLsUpdated(r2mig.OutcomeFailed, 0)
	r.InFlight(3)
	r.RunFinished(r2mig.StatusCompleted, time.Minute)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"items success", testutil.ToFloat64(r.items.WithLabelValues(r2mig.OutcomeSuccess)), 2},
		{"items failed", testutil.ToFloat64(r.items.WithLabelValues(r2mig.OutcomeFailed)), 1},
		{"bytes success", testutil.ToFloat64(r.itemBytes.WithLabelValues(r2mig.OutcomeSuccess)), 150},
		{"copy retries", testutil.ToFloat64(r.retries.WithLabelValues(r2mig.StageCopy)), 1},
		{"urls updated", testutil.ToFloat64(r.urls.WithLabelValues(r2mig.OutcomeSuccess)), 2},
		{"in flight", testutil.ToFloat64(r.inFlight), 3},
		{"runs completed", testutil.ToFloat64(r.runs.WithLabelValues(r2mig.StatusCompleted)), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	if n := testutil.CollectAndCount(r.urls); n != 1 {
		t.Errorf("receipt_urls_total series = %d, want 1 (zero adds skipped)", n)
	}
}

func TestRecorder_SeparateRegistries(t *testing.T) {
	a := NewRecorder()
	b := NewRecorder()

	a.RetryAttempted(r2mig.StageRead)
	if got := testutil.ToFloat64(b.retries.WithLabelValues(r2mig.StageRead)); got != 0 {
		t.Errorf("second recorder saw %v retries, want 0", got)
	}
}

func TestRecorder_Serve(t *testing.T) {
	r := NewRecorder()
	r.RunFinished(r2mig.StatusFailed, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	addr, done, err := r.Serve(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if !strings.Contains(string(body), `r2mig_runs_total{status="failed"} 1`) {
		t.Errorf("/metrics missing run counter:\n%s", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("server exited with %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
