package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

// counterValue sums every series of the named family.
func counterValue(t *testing.T, m *Metrics, name string, label string) float64 {
	t.Helper()
	families, err := m.gatherer.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			match := label == ""
			for _, lp := range metric.GetLabel() {
				if lp.GetValue() == label {
					match = true
				}
			}
			if !match {
				continue
			}
			if c := metric.GetCounter(); c != nil {
				total += c.GetValue()
			}
			if g := metric.GetGauge(); g != nil {
				total += g.GetValue()
			}
		}
	}
	return total
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveFetch(3, errors.New("boom"))
	m.RecordSegment("resolved", 0.1)
	m.RecordAssembly("complete", 1)
	m.RecordConnectionState("open", []string{"open"})
	m.RecordReconnect()
	m.RecordTranscription(nil, 0.2)
	m.RecordEventPublish("t", "e", nil, 0.01)
	if m.Handler() == nil {
		t.Error("expected default handler for nil metrics")
	}
}

func TestObserveFetch_Outcomes(t *testing.T) {
	m := NewIsolated()

	m.ObserveFetch(1, nil)
	m.ObserveFetch(3, errors.New("exhausted"))
	m.ObserveFetch(2, context.Canceled)

	if v := counterValue(t, m, "voicepipe_fetch_total", "success"); v != 1 {
		t.Errorf("expected 1 success, got %v", v)
	}
	if v := counterValue(t, m, "voicepipe_fetch_total", "exhausted"); v != 1 {
		t.Errorf("expected 1 exhausted, got %v", v)
	}
	if v := counterValue(t, m, "voicepipe_fetch_total", "cancelled"); v != 1 {
		t.Errorf("expected 1 cancelled, got %v", v)
	}
}

func TestRecordConnectionState_OneHot(t *testing.T) {
	m := NewIsolated()
	all := []string{"connecting", "open", "closed"}

	m.RecordConnectionState("open", all)
	if v := counterValue(t, m, "voicepipe_connection_state", "open"); v != 1 {
		t.Errorf("expected open=1, got %v", v)
	}
	if v := counterValue(t, m, "voicepipe_connection_state", ""); v != 1 {
		t.Errorf("expected exactly one state set, got sum %v", v)
	}
}

func TestHandler_ServesRegistry(t *testing.T) {
	m := NewIsolated()
	m.RecordReconnect()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "voicepipe_reconnects_total 1") {
		t.Errorf("expected reconnect counter in output, got:\n%s", body)
	}
}
