package alerting

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestCorrelator(m *Manager) *Correlator {
	return NewCorrelator(m, nil, 5*time.Minute, zap.NewNop())
}

func requestFor(source, metric, category string) CreateRequest {
	return CreateRequest{
		Title:    "alert " + source + "/" + metric,
		Severity: SeverityWarning,
		Category: category,
		Source:   source,
		Metric:   metric,
	}
}

func TestOnAlertCorrelatesSharedCategory(t *testing.T) {
	m := newTestManager()
	c := newTestCorrelator(m)

	a1, _ := m.Create(requestFor("host-1", "cpu.usage", "system"))
	a2, _ := m.Create(requestFor("host-2", "mem.heap", "system"))
	a3, _ := m.Create(requestFor("host-3", "disk.free", "system"))

	corr := c.OnAlert(a3)
	if corr == nil {
		t.Fatal("expected a correlation")
	}
	if len(corr.AlertIDs) != 3 {
		t.Fatalf("expected 3 member alerts, got %d", len(corr.AlertIDs))
	}

	for _, id := range []string{a1.ID, a2.ID, a3.ID} {
		got, _ := m.Get(id)
		if got.CorrelationID != corr.ID {
			t.Fatalf("expected alert %s tagged with correlation %s, got %q", id, corr.ID, got.CorrelationID)
		}
	}
}

func TestOnAlertNoMatchNoCorrelation(t *testing.T) {
	m := newTestManager()
	c := newTestCorrelator(m)

	alert, _ := m.Create(requestFor("host-1", "cpu.usage", "system"))
	if corr := c.OnAlert(alert); corr != nil {
		t.Fatalf("expected no correlation for a lone alert, got %+v", corr)
	}
}

func TestOnAlertConfidence(t *testing.T) {
	m := newTestManager()
	c := newTestCorrelator(m)

	m.Create(requestFor("host-1", "cpu.usage", "system"))
	alert, _ := m.Create(requestFor("host-2", "mem.heap", "system"))

	corr := c.OnAlert(alert)
	if corr == nil {
		t.Fatal("expected correlation")
	}
	want := 1.0 / 3.0
	if diff := corr.Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected confidence %v, got %v", want, corr.Confidence)
	}
}

func TestOnAlertIgnoresResolved(t *testing.T) {
	m := newTestManager()
	c := newTestCorrelator(m)

	old, _ := m.Create(requestFor("host-1", "cpu.usage", "system"))
	m.Resolve(old.ID, "ops", "")

	alert, _ := m.Create(requestFor("host-2", "mem.heap", "system"))
	if corr := c.OnAlert(alert); corr != nil {
		t.Fatal("expected resolved alerts excluded from correlation")
	}
}

func TestSweepGroupsByCategory(t *testing.T) {
	m := newTestManager()
	c := newTestCorrelator(m)

	m.Create(requestFor("host-1", "cpu.usage", "system"))
	m.Create(requestFor("host-2", "mem.heap", "system"))
	m.Create(requestFor("svc-1", "latency.p99", "service"))

	c.Sweep()

	correlations := c.Correlations()
	if len(correlations) != 1 {
		t.Fatalf("expected 1 category correlation, got %d", len(correlations))
	}
	if len(correlations[0].AlertIDs) != 2 {
		t.Fatalf("expected 2 members, got %d", len(correlations[0].AlertIDs))
	}
	want := 2.0 / 5.0
	if diff := correlations[0].Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected confidence %v, got %v", want, correlations[0].Confidence)
	}
}

func TestSweepUpdatesInPlace(t *testing.T) {
	m := newTestManager()
	c := newTestCorrelator(m)

	m.Create(requestFor("host-1", "cpu.usage", "system"))
	m.Create(requestFor("host-2", "mem.heap", "system"))
	c.Sweep()

	first := c.Correlations()
	m.Create(requestFor("host-3", "disk.free", "system"))
	c.Sweep()

	second := c.Correlations()
	if len(second) != 1 {
		t.Fatalf("expected sweep to update one correlation, got %d", len(second))
	}
	if second[0].ID != first[0].ID {
		t.Fatal("expected stable correlation id across sweeps")
	}
	if len(second[0].AlertIDs) != 3 {
		t.Fatalf("expected 3 members after update, got %d", len(second[0].AlertIDs))
	}
}

func TestCorrelationPrune(t *testing.T) {
	m := newTestManager()
	c := newTestCorrelator(m)

	m.Create(requestFor("host-1", "cpu.usage", "system"))
	m.Create(requestFor("host-2", "mem.heap", "system"))
	c.Sweep()

	removed := c.Prune(time.Now().UTC().Add(time.Hour))
	if removed != 1 {
		t.Fatalf("expected 1 pruned correlation, got %d", removed)
	}
	if len(c.Correlations()) != 0 {
		t.Fatal("expected no correlations after prune")
	}
}
