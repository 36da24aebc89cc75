package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsSnapshotSeparatesSpooledFromPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Join([]string{
			"# HELP relay_cycles_total Relay cycles started.",
			"relay_cycles_total 12",
			"relay_cycle_failures_total 1",
			"relay_meta_inserted_total 2",
			"relay_spooled_total 5",
			"relay_spool_pending 3",
		}, "\n") + "\n"))
	}))
	defer srv.Close()

	var out bytes.Buffer
	if err := printMetricsSnapshot(&out, srv.URL); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	line := out.String()
	for _, want := range []string{"cycles=12", "failures=1", "inserted=2", "spooled=5", "spool_pending=3"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
}

func TestMetricsSnapshotRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var out bytes.Buffer
	if err := printMetricsSnapshot(&out, srv.URL); err == nil {
		t.Fatalf("expected a non-200 scrape to fail")
	}
	if out.Len() != 0 {
		t.Fatalf("expected nothing printed on failure, got %q", out.String())
	}
}
