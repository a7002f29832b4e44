package alerting

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/calder-ops/vigil/internal/events"
)

// Correlator groups related alerts inside a sliding window. Both the
// per-alert scan and the periodic category sweep may run concurrently; each
// simply overwrites correlationId on participants, so later passes win.
// That last-wins behavior is deliberate and documented.
type Correlator struct {
	manager *Manager
	bus     *events.Bus
	logger  *zap.Logger
	window  time.Duration

	mu           sync.Mutex
	correlations map[string]*Correlation
	// byPattern lets the sweep update its coarse per-category correlations
	// in place instead of multiplying them each pass.
	byPattern map[string]string

	now func() time.Time
}

// NewCorrelator creates a correlation engine over the manager's alerts.
func NewCorrelator(manager *Manager, bus *events.Bus, window time.Duration, logger *zap.Logger) *Correlator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Correlator{
		manager:      manager,
		bus:          bus,
		logger:       logger,
		window:       window,
		correlations: make(map[string]*Correlation),
		byPattern:    make(map[string]string),
		now:          time.Now,
	}
}

// OnAlert correlates one newly created alert against recent alerts sharing
// category, source, or metric. Returns the correlation when one was formed.
func (c *Correlator) OnAlert(alert Alert) *Correlation {
	var matches []Alert
	for _, candidate := range c.manager.Recent(c.window) {
		if candidate.ID == alert.ID {
			continue
		}
		if absDuration(candidate.CreatedAt.Sub(alert.CreatedAt)) > c.window {
			continue
		}
		if shareGroupingKey(alert, candidate) {
			matches = append(matches, candidate)
		}
	}
	if len(matches) == 0 {
		return nil
	}

	ids := make([]string, 0, len(matches)+1)
	ids = append(ids, alert.ID)
	for _, m := range matches {
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)

	corr := &Correlation{
		ID:         uuid.NewString(),
		AlertIDs:   ids,
		Pattern:    describeMatches(alert, matches),
		Confidence: math.Min(float64(len(matches))/3.0, 1.0),
		CreatedAt:  c.now().UTC(),
		UpdatedAt:  c.now().UTC(),
	}

	c.mu.Lock()
	c.correlations[corr.ID] = corr
	snapshot := copyCorrelation(corr)
	c.mu.Unlock()

	c.manager.SetCorrelationID(ids, corr.ID)
	c.logger.Info("correlation detected",
		zap.String("correlation_id", corr.ID),
		zap.Int("alerts", len(ids)),
		zap.Float64("confidence", corr.Confidence))
	c.publish(snapshot)

	return &snapshot
}

// Sweep re-groups windowed alerts by category and creates or updates one
// coarse correlation per category with two or more members.
func (c *Correlator) Sweep() {
	byCategory := make(map[string][]Alert)
	for _, alert := range c.manager.Recent(c.window) {
		if alert.Category == "" {
			continue
		}
		byCategory[alert.Category] = append(byCategory[alert.Category], alert)
	}

	for category, group := range byCategory {
		if len(group) < 2 {
			continue
		}

		ids := make([]string, 0, len(group))
		for _, alert := range group {
			ids = append(ids, alert.ID)
		}
		sort.Strings(ids)

		pattern := fmt.Sprintf("%d alerts in category %q", len(group), category)
		confidence := math.Min(float64(len(group))/5.0, 1.0)
		now := c.now().UTC()

		c.mu.Lock()
		key := "category:" + category
		var snapshot Correlation
		if id, ok := c.byPattern[key]; ok {
			corr := c.correlations[id]
			corr.AlertIDs = ids
			corr.Pattern = pattern
			corr.Confidence = confidence
			corr.UpdatedAt = now
			snapshot = copyCorrelation(corr)
		} else {
			corr := &Correlation{
				ID:         uuid.NewString(),
				AlertIDs:   ids,
				Pattern:    pattern,
				Confidence: confidence,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			c.correlations[corr.ID] = corr
			c.byPattern[key] = corr.ID
			snapshot = copyCorrelation(corr)
		}
		c.mu.Unlock()

		c.manager.SetCorrelationID(ids, snapshot.ID)
		c.publish(snapshot)
	}
}

// Restore inserts a previously persisted correlation without publishing.
func (c *Correlator) Restore(corr Correlation) {
	if corr.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	restored := copyCorrelation(&corr)
	c.correlations[corr.ID] = &restored
}

// Correlations returns all held correlations, newest first.
func (c *Correlator) Correlations() []Correlation {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Correlation, 0, len(c.correlations))
	for _, corr := range c.correlations {
		out = append(out, copyCorrelation(corr))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Prune drops correlations not updated since cutoff.
func (c *Correlator) Prune(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, corr := range c.correlations {
		if corr.UpdatedAt.Before(cutoff) {
			delete(c.correlations, id)
			removed++
		}
	}
	for key, id := range c.byPattern {
		if _, ok := c.correlations[id]; !ok {
			delete(c.byPattern, key)
		}
	}
	return removed
}

func (c *Correlator) publish(corr Correlation) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.Event{
		Type:    events.CorrelationFound,
		Summary: corr.Pattern,
		Detail:  corr,
	})
}

func shareGroupingKey(a, b Alert) bool {
	if a.Category != "" && a.Category == b.Category {
		return true
	}
	if a.Source != "" && a.Source == b.Source {
		return true
	}
	if a.Metric != "" && a.Metric == b.Metric {
		return true
	}
	return false
}

func describeMatches(alert Alert, matches []Alert) string {
	keys := make([]string, 0, 3)
	sameCategory, sameSource, sameMetric := true, true, true
	for _, m := range matches {
		if m.Category != alert.Category {
			sameCategory = false
		}
		if m.Source != alert.Source {
			sameSource = false
		}
		if m.Metric != alert.Metric {
			sameMetric = false
		}
	}
	if sameCategory && alert.Category != "" {
		keys = append(keys, "category="+alert.Category)
	}
	if sameSource && alert.Source != "" {
		keys = append(keys, "source="+alert.Source)
	}
	if sameMetric && alert.Metric != "" {
		keys = append(keys, "metric="+alert.Metric)
	}
	if len(keys) == 0 {
		keys = append(keys, "mixed grouping keys")
	}
	return fmt.Sprintf("%d related alerts (%s)", len(matches)+1, strings.Join(keys, ", "))
}

func copyCorrelation(c *Correlation) Correlation {
	out := *c
	out.AlertIDs = append([]string(nil), c.AlertIDs...)
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
