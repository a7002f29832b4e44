package alerting

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestManager() *Manager {
	return NewManager(nil, 5*time.Minute, zap.NewNop())
}

func cpuRequest() CreateRequest {
	return CreateRequest{
		Title:     "cpu high",
		Severity:  SeverityCritical,
		Category:  "system",
		Source:    "host-1",
		Metric:    "cpu.usage",
		Value:     92,
		Threshold: 80,
	}
}

func TestCreateDeduplicatesWithinWindow(t *testing.T) {
	m := newTestManager()

	first, created := m.Create(cpuRequest())
	if !created {
		t.Fatal("expected first create to succeed")
	}

	second, created := m.Create(cpuRequest())
	if created {
		t.Fatal("expected second create to deduplicate")
	}
	if second.ID != first.ID {
		t.Fatalf("expected same alert id %s, got %s", first.ID, second.ID)
	}
	if len(m.All()) != 1 {
		t.Fatalf("expected 1 alert held, got %d", len(m.All()))
	}
}

func TestCreateAfterResolveIsNotDeduplicated(t *testing.T) {
	m := newTestManager()

	first, _ := m.Create(cpuRequest())
	if !m.Resolve(first.ID, "ops", "restarted") {
		t.Fatal("expected resolve to succeed")
	}

	second, created := m.Create(cpuRequest())
	if !created {
		t.Fatal("expected new alert after previous was resolved")
	}
	if second.ID == first.ID {
		t.Fatal("expected a fresh alert id")
	}
}

func TestAcknowledgeOnlyFromOpen(t *testing.T) {
	m := newTestManager()
	alert, _ := m.Create(cpuRequest())

	if !m.Acknowledge(alert.ID, "ops", "looking") {
		t.Fatal("expected acknowledge from open to succeed")
	}
	if m.Acknowledge(alert.ID, "ops", "") {
		t.Fatal("expected acknowledge on acknowledged alert to fail")
	}
	if m.Acknowledge("missing", "ops", "") {
		t.Fatal("expected acknowledge on missing alert to fail")
	}

	got, _ := m.Get(alert.ID)
	if got.Status != StatusAcknowledged {
		t.Fatalf("expected acknowledged, got %s", got.Status)
	}
	if got.AcknowledgedAt == nil || got.AcknowledgedBy != "ops" {
		t.Fatal("expected actor and timestamp recorded")
	}
}

func TestResolveIsTerminal(t *testing.T) {
	m := newTestManager()
	alert, _ := m.Create(cpuRequest())

	if !m.Resolve(alert.ID, "ops", "fixed") {
		t.Fatal("expected resolve to succeed")
	}
	if m.Resolve(alert.ID, "ops", "again") {
		t.Fatal("expected resolve on resolved alert to fail")
	}

	got, _ := m.Get(alert.ID)
	if got.Status != StatusResolved {
		t.Fatalf("expected resolved, got %s", got.Status)
	}
	if _, ok := got.Metadata[MetadataResolutionMillis]; !ok {
		t.Fatal("expected resolution time recorded in metadata")
	}
}

func TestResolveFromAcknowledged(t *testing.T) {
	m := newTestManager()
	alert, _ := m.Create(cpuRequest())

	m.Acknowledge(alert.ID, "ops", "")
	if !m.Resolve(alert.ID, "ops", "") {
		t.Fatal("expected resolve from acknowledged to succeed")
	}
}

func TestSuppressHidesFromActive(t *testing.T) {
	m := newTestManager()
	alert, _ := m.Create(cpuRequest())

	if !m.Suppress(alert.ID, time.Minute, "maintenance") {
		t.Fatal("expected suppress to succeed")
	}
	if len(m.Active()) != 0 {
		t.Fatalf("expected suppressed alert hidden from active set, got %d", len(m.Active()))
	}

	got, _ := m.Get(alert.ID)
	if got.Status != StatusSuppressed || got.SuppressedUntil == nil {
		t.Fatal("expected suppressed status with expiry")
	}
}

func TestSuppressOnlyFromOpen(t *testing.T) {
	m := newTestManager()
	alert, _ := m.Create(cpuRequest())
	m.Resolve(alert.ID, "ops", "")

	if m.Suppress(alert.ID, time.Minute, "late") {
		t.Fatal("expected suppress on resolved alert to fail")
	}
}

func TestSweepSuppressedReopensWhenConditionHolds(t *testing.T) {
	m := newTestManager()
	m.SetConditionChecker(func(Alert) bool { return true })

	alert, _ := m.Create(cpuRequest())
	m.Suppress(alert.ID, 10*time.Millisecond, "maintenance")

	m.now = func() time.Time { return time.Now().Add(time.Second) }
	m.SweepSuppressed()

	got, _ := m.Get(alert.ID)
	if got.Status != StatusOpen {
		t.Fatalf("expected re-opened alert, got %s", got.Status)
	}
	if got.SuppressedUntil != nil {
		t.Fatal("expected suppression expiry cleared")
	}
}

func TestSweepSuppressedResolvesWhenConditionCleared(t *testing.T) {
	m := newTestManager()
	m.SetConditionChecker(func(Alert) bool { return false })

	alert, _ := m.Create(cpuRequest())
	m.Suppress(alert.ID, 10*time.Millisecond, "maintenance")

	m.now = func() time.Time { return time.Now().Add(time.Second) }
	m.SweepSuppressed()

	got, _ := m.Get(alert.ID)
	if got.Status != StatusResolved {
		t.Fatalf("expected resolved alert, got %s", got.Status)
	}
	if got.Metadata["resolution"] != "suppression expired" {
		t.Fatalf("expected expiry resolution note, got %q", got.Metadata["resolution"])
	}
}

func TestSweepLeavesUnexpiredSuppressions(t *testing.T) {
	m := newTestManager()
	alert, _ := m.Create(cpuRequest())
	m.Suppress(alert.ID, time.Hour, "maintenance")

	m.SweepSuppressed()

	got, _ := m.Get(alert.ID)
	if got.Status != StatusSuppressed {
		t.Fatalf("expected still suppressed, got %s", got.Status)
	}
}

func TestStatistics(t *testing.T) {
	m := newTestManager()

	a1, _ := m.Create(cpuRequest())
	req := cpuRequest()
	req.Source = "host-2"
	req.Severity = SeverityWarning
	req.Category = "service"
	a2, _ := m.Create(req)
	_ = a2

	m.Resolve(a1.ID, "ops", "fixed")

	stats := m.Statistics()
	if stats.Total != 2 {
		t.Fatalf("expected 2 alerts, got %d", stats.Total)
	}
	if stats.ByStatus[StatusResolved] != 1 || stats.ByStatus[StatusOpen] != 1 {
		t.Fatalf("unexpected status counts: %+v", stats.ByStatus)
	}
	if stats.BySeverity[SeverityCritical] != 1 || stats.BySeverity[SeverityWarning] != 1 {
		t.Fatalf("unexpected severity counts: %+v", stats.BySeverity)
	}
	if stats.ByCategory["system"] != 1 || stats.ByCategory["service"] != 1 {
		t.Fatalf("unexpected category counts: %+v", stats.ByCategory)
	}
}

func TestPruneDropsOldResolved(t *testing.T) {
	m := newTestManager()
	alert, _ := m.Create(cpuRequest())
	m.Resolve(alert.ID, "ops", "")

	removed := m.Prune(time.Now().UTC().Add(time.Hour))
	if removed != 1 {
		t.Fatalf("expected 1 pruned alert, got %d", removed)
	}
	if _, ok := m.Get(alert.ID); ok {
		t.Fatal("expected alert gone after prune")
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("host-1", "cpu.usage", "system")
	b := Fingerprint(" HOST-1 ", "CPU.usage", "System")
	if a != b {
		t.Fatalf("expected normalized fingerprints to match: %s vs %s", a, b)
	}
	if a == Fingerprint("host-2", "cpu.usage", "system") {
		t.Fatal("expected different sources to produce different fingerprints")
	}
}
