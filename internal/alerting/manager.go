package alerting

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/calder-ops/vigil/internal/events"
)

// ConditionChecker reports whether the condition behind an alert currently
// holds; the suppression sweep uses it to decide between re-open and resolve.
type ConditionChecker func(alert Alert) bool

// MetadataResolutionMillis records resolution time for statistics.
const MetadataResolutionMillis = "resolution_ms"

// Manager owns the alert map and is the only component allowed to mutate
// alerts. Deduplication happens under the same lock as insertion so two
// near-simultaneous creations cannot both succeed for one fingerprint.
type Manager struct {
	bus    *events.Bus
	logger *zap.Logger

	dedupWindow time.Duration

	mu      sync.Mutex
	alerts  map[string]*Alert
	checker ConditionChecker

	now func() time.Time
}

// NewManager creates an alert lifecycle manager.
func NewManager(bus *events.Bus, dedupWindow time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dedupWindow <= 0 {
		dedupWindow = 5 * time.Minute
	}
	return &Manager{
		bus:         bus,
		logger:      logger,
		dedupWindow: dedupWindow,
		alerts:      make(map[string]*Alert),
		now:         time.Now,
	}
}

// SetConditionChecker attaches the hook consulted on suppression expiry.
// Safe to call before the sweeps start.
func (m *Manager) SetConditionChecker(checker ConditionChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checker = checker
}

// Create turns a creation request into an alert. When an open alert with the
// same fingerprint exists inside the dedup window, the existing alert is
// returned unchanged and created is false: no new alert, no new actions.
func (m *Manager) Create(req CreateRequest) (Alert, bool) {
	now := m.now().UTC()
	fp := Fingerprint(req.Source, req.Metric, req.Category)

	m.mu.Lock()
	for _, existing := range m.alerts {
		if existing.Fingerprint != fp || existing.Status != StatusOpen {
			continue
		}
		if now.Sub(existing.CreatedAt) <= m.dedupWindow {
			dup := copyAlert(existing)
			m.mu.Unlock()
			m.logger.Debug("alert deduplicated",
				zap.String("alert_id", dup.ID),
				zap.String("fingerprint", fp))
			return dup, false
		}
	}

	severity := req.Severity
	if !ValidSeverity(severity) {
		severity = SeverityWarning
	}

	alert := &Alert{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		Severity:    severity,
		Status:      StatusOpen,
		Category:    req.Category,
		Source:      req.Source,
		Metric:      req.Metric,
		Value:       req.Value,
		Threshold:   req.Threshold,
		Fingerprint: fp,
		CreatedAt:   now,
		Metadata:    copyMetadata(req.Metadata),
	}
	m.alerts[alert.ID] = alert
	created := copyAlert(alert)
	m.mu.Unlock()

	m.logger.Info("alert created",
		zap.String("alert_id", created.ID),
		zap.String("severity", string(created.Severity)),
		zap.String("category", created.Category),
		zap.String("metric", created.Metric))
	m.publish(events.AlertCreated, created, fmt.Sprintf("[%s] %s", created.Severity, created.Title))

	return created, true
}

// Acknowledge marks an open alert acknowledged. Returns false when the alert
// is missing or not open.
func (m *Manager) Acknowledge(id, by, note string) bool {
	m.mu.Lock()
	alert, ok := m.alerts[id]
	if !ok || alert.Status != StatusOpen {
		m.mu.Unlock()
		return false
	}

	now := m.now().UTC()
	alert.Status = StatusAcknowledged
	alert.AcknowledgedAt = &now
	alert.AcknowledgedBy = by
	if note != "" {
		if alert.Metadata == nil {
			alert.Metadata = make(map[string]string)
		}
		alert.Metadata["ack_note"] = note
	}
	snapshot := copyAlert(alert)
	m.mu.Unlock()

	m.publish(events.AlertAcknowledged, snapshot, fmt.Sprintf("%s acknowledged by %s", snapshot.Title, by))
	return true
}

// Resolve marks an alert resolved from any non-resolved status and records
// the resolution time for statistics. Returns false when the alert is
// missing or already resolved.
func (m *Manager) Resolve(id, by, resolution string) bool {
	m.mu.Lock()
	alert, ok := m.alerts[id]
	if !ok || alert.Status == StatusResolved {
		m.mu.Unlock()
		return false
	}

	now := m.now().UTC()
	alert.Status = StatusResolved
	alert.ResolvedAt = &now
	alert.ResolvedBy = by
	alert.SuppressedUntil = nil
	if alert.Metadata == nil {
		alert.Metadata = make(map[string]string)
	}
	alert.Metadata[MetadataResolutionMillis] = strconv.FormatInt(now.Sub(alert.CreatedAt).Milliseconds(), 10)
	if resolution != "" {
		alert.Metadata["resolution"] = resolution
	}
	snapshot := copyAlert(alert)
	m.mu.Unlock()

	m.publish(events.AlertResolved, snapshot, fmt.Sprintf("%s resolved by %s", snapshot.Title, by))
	return true
}

// Suppress silences an open alert until now+duration. Returns false when the
// alert is missing or not open.
func (m *Manager) Suppress(id string, duration time.Duration, reason string) bool {
	if duration <= 0 {
		return false
	}

	m.mu.Lock()
	alert, ok := m.alerts[id]
	if !ok || alert.Status != StatusOpen {
		m.mu.Unlock()
		return false
	}

	until := m.now().UTC().Add(duration)
	alert.Status = StatusSuppressed
	alert.SuppressedUntil = &until
	if alert.Metadata == nil {
		alert.Metadata = make(map[string]string)
	}
	alert.Metadata["suppress_reason"] = reason
	snapshot := copyAlert(alert)
	m.mu.Unlock()

	m.publish(events.AlertSuppressed, snapshot, fmt.Sprintf("%s suppressed until %s", snapshot.Title, until.Format(time.RFC3339)))
	return true
}

// SweepSuppressed transitions expired suppressions: back to open when the
// underlying condition still holds, otherwise resolved. Idempotent per tick.
func (m *Manager) SweepSuppressed() {
	now := m.now().UTC()

	m.mu.Lock()
	checker := m.checker
	var reopened, expired []Alert
	for _, alert := range m.alerts {
		if alert.Status != StatusSuppressed {
			continue
		}
		if alert.SuppressedUntil == nil || now.Before(*alert.SuppressedUntil) {
			continue
		}

		if checker != nil && checker(copyAlert(alert)) {
			alert.Status = StatusOpen
			alert.SuppressedUntil = nil
			reopened = append(reopened, copyAlert(alert))
			continue
		}
		expired = append(expired, copyAlert(alert))
	}
	m.mu.Unlock()

	for _, alert := range reopened {
		m.logger.Info("suppression expired, condition still active; re-opening",
			zap.String("alert_id", alert.ID))
	}
	for _, alert := range expired {
		m.Resolve(alert.ID, "system", "suppression expired")
	}
}

// Restore inserts a previously persisted alert without publishing events.
// Used at engine start to reload state from the side-store.
func (m *Manager) Restore(alert Alert) {
	if alert.ID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	restored := copyAlert(&alert)
	m.alerts[alert.ID] = &restored
}

// Get returns one alert by id.
func (m *Manager) Get(id string) (Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, ok := m.alerts[id]
	if !ok {
		return Alert{}, false
	}
	return copyAlert(alert), true
}

// Active returns open alerts, newest first. Suppressed and acknowledged
// alerts are excluded.
func (m *Manager) Active() []Alert {
	return m.filtered(func(a *Alert) bool { return a.Status == StatusOpen })
}

// All returns every held alert, newest first.
func (m *Manager) All() []Alert {
	return m.filtered(func(*Alert) bool { return true })
}

// Recent returns non-resolved alerts created within window of now, newest
// first; the correlator scans these.
func (m *Manager) Recent(window time.Duration) []Alert {
	cutoff := m.now().UTC().Add(-window)
	return m.filtered(func(a *Alert) bool {
		return a.Status != StatusResolved && a.CreatedAt.After(cutoff)
	})
}

func (m *Manager) filtered(keep func(*Alert) bool) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Alert, 0, len(m.alerts))
	for _, alert := range m.alerts {
		if keep(alert) {
			out = append(out, copyAlert(alert))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// SetCorrelationID stamps a correlation onto the given alerts, overwriting
// any prior value (last correlation wins; see Correlator).
func (m *Manager) SetCorrelationID(alertIDs []string, correlationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range alertIDs {
		if alert, ok := m.alerts[id]; ok {
			alert.CorrelationID = correlationID
		}
	}
}

// Prune drops resolved alerts older than cutoff; called on the cleanup
// schedule to bound memory.
func (m *Manager) Prune(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, alert := range m.alerts {
		if alert.Status == StatusResolved && alert.ResolvedAt != nil && alert.ResolvedAt.Before(cutoff) {
			delete(m.alerts, id)
			removed++
		}
	}
	return removed
}

func (m *Manager) publish(evtType events.EventType, alert Alert, summary string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{
		Type:    evtType,
		AlertID: alert.ID,
		Summary: summary,
		Detail:  alert,
	})
}

func copyAlert(a *Alert) Alert {
	out := *a
	out.Metadata = copyMetadata(a.Metadata)
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		out.AcknowledgedAt = &t
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		out.ResolvedAt = &t
	}
	if a.SuppressedUntil != nil {
		t := *a.SuppressedUntil
		out.SuppressedUntil = &t
	}
	return out
}

func copyMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
