package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://api.fda.gov/food/enforcement.json", "api.fda.gov"},
		{"standard https", "https://Www.FSIS.usda.gov/recalls", "www.fsis.usda.gov"},
		{"no scheme", "tools.cdc.gov/api", "tools.cdc.gov"},
		{"host with port", "localhost:8080", "localhost"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeHost(tc.input); got != tc.expected {
				t.Errorf("SanitizeHost(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	if fetchAttemptsTotal == nil || alertsTotal == nil || sourceHealthState == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObservers(t *testing.T) {
	ObserveFetch("https://metrics-test.example/feed", "ok", 512)
	ObserveFetch("https://metrics-test.example/feed", "server_error", 0)
	ObserveFallback("https://metrics-test.example/feed")
	ObserveAlert("metrics-test", "inserted")
	ObserveAlert("metrics-test", "inserted")
	SetHealthState("metrics-test", 2)

	if val := testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues("metrics-test.example", "ok")); val != 1 {
		t.Errorf("expected one ok fetch, got %f", val)
	}
	if val := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("metrics-test.example")); val != 512 {
		t.Errorf("expected 512 bytes, got %f", val)
	}
	if val := testutil.ToFloat64(fetchFallbacksTotal.WithLabelValues("metrics-test.example")); val != 1 {
		t.Errorf("expected one fallback, got %f", val)
	}
	if val := testutil.ToFloat64(alertsTotal.WithLabelValues("metrics-test", "inserted")); val != 2 {
		t.Errorf("expected two inserted alerts, got %f", val)
	}
	if val := testutil.ToFloat64(sourceHealthState.WithLabelValues("metrics-test")); val != 2 {
		t.Errorf("expected unhealthy gauge, got %f", val)
	}
}

// Fuzz test for SanitizeHost.
func FuzzSanitizeHost(f *testing.F) {
	testcases := []string{"http://example.com", "https://www.fda.gov", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeHost(orig) == "" {
			t.Errorf("SanitizeHost(%q) returned an empty string", orig)
		}
	})
}
