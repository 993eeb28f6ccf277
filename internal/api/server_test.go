package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgevision/framenode/internal/capture"
	"github.com/edgevision/framenode/internal/events"
	"github.com/edgevision/framenode/internal/pipeline"
	"github.com/edgevision/framenode/internal/provider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer wires a full sim-backed stack: provider, consumer
// loop with snapshot retention, and the HTTP mux under test.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	bus := events.New()
	src := capture.NewSimSource(capture.WithFrameInterval(2 * time.Millisecond))
	prov, err := provider.New(src, provider.Config{
		Width:     320,
		Height:    240,
		KeepCount: 2,
		PoolSize:  4,
		Bus:       bus,
	}, testLogger())
	if err != nil {
		t.Fatalf("provider.New failed: %v", err)
	}
	if err := prov.Start(); err != nil {
		t.Fatalf("provider.Start failed: %v", err)
	}

	runner := pipeline.NewRunner(prov, pipeline.DiscardSink{}, bus, testLogger(), pipeline.WithSnapshot())
	ctx, cancel := context.WithCancel(context.Background())
	go runner.Run(ctx)

	server := NewServer(&Options{
		Provider:          prov,
		Runner:            runner,
		EventBus:          bus,
		PrometheusHandler: promhttp.Handler(),
	})

	ts := httptest.NewServer(server.GetMux())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		prov.Close()
	})
	return ts
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s status = %d, want 200", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decoding %s response: %v", url, err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	var health HealthData
	getJSON(t, ts.URL+"/api/health", &health)
	if health.Status != "ok" {
		t.Errorf("status = %q, want ok", health.Status)
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)

	var status StatusData
	getJSON(t, ts.URL+"/api/status", &status)

	if status.Provider.Width != 320 || status.Provider.Height != 240 {
		t.Errorf("resolution = %dx%d, want 320x240", status.Provider.Width, status.Provider.Height)
	}
	if status.Provider.PoolSize != 4 {
		t.Errorf("pool size = %d, want 4", status.Provider.PoolSize)
	}
	if status.Provider.KeepCount != 2 {
		t.Errorf("keep count = %d, want 2", status.Provider.KeepCount)
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	ts := newTestServer(t)

	// The consumer loop needs a moment to retain its first frame
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(ts.URL + "/api/snapshot")
		if err != nil {
			t.Fatalf("GET snapshot failed: %v", err)
		}

		if resp.StatusCode == http.StatusOK {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				t.Fatalf("reading snapshot body: %v", readErr)
			}
			if len(body) != 320*240*2 {
				t.Errorf("snapshot payload = %d bytes, want %d", len(body), 320*240*2)
			}
			if got := resp.Header.Get("X-Frame-Width"); got != "320" {
				t.Errorf("X-Frame-Width = %q, want 320", got)
			}
			return
		}
		resp.Body.Close()

		if time.Now().After(deadline) {
			t.Fatalf("snapshot never became available, last status %d", resp.StatusCode)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading metrics body: %v", err)
	}
	if !strings.Contains(string(body), "framenode_provider_pool_size") {
		t.Error("provider metrics missing from exposition")
	}
}
