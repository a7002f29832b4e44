// Package engine wires the sampling, evaluation, alerting, correlation, and
// dispatch components into one embeddable facade. An Engine owns everything
// it constructs: New builds the parts, Start runs the loops, Stop tears them
// down. There is no package-level state.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/zapr"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/calder-ops/vigil/internal/alerting"
	"github.com/calder-ops/vigil/internal/config"
	"github.com/calder-ops/vigil/internal/events"
	"github.com/calder-ops/vigil/internal/metrics"
	"github.com/calder-ops/vigil/internal/notify"
	"github.com/calder-ops/vigil/internal/sampler"
	"github.com/calder-ops/vigil/internal/series"
	"github.com/calder-ops/vigil/internal/store"
	"github.com/calder-ops/vigil/internal/telemetry"
)

// KV namespaces for persisted state.
const (
	nsAlerts       = "alerts"
	nsRules        = "rules"
	nsChannels     = "channels"
	nsCorrelations = "correlations"
)

const persistTimeout = 2 * time.Second

// Engine is the alerting engine facade.
type Engine struct {
	cfg *config.Config
	log *zap.Logger
	bus *events.Bus
	kv  store.Store

	seriesStore *series.Store
	sampler     *sampler.Sampler
	rules       *alerting.Registry
	evaluator   *alerting.Evaluator
	manager     *alerting.Manager
	correlator  *alerting.Correlator
	dispatcher  *notify.Dispatcher

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// New constructs an engine from configuration. kv may be nil: the engine
// then runs purely in memory with no persistence.
func New(cfg *config.Config, kv store.Store, log *zap.Logger) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}

	bus := events.NewBus(256)
	seriesStore := series.NewStore(seriesCapacity(cfg))

	intervals := make(map[string]time.Duration, len(cfg.Sampling.Intervals))
	for category, d := range cfg.Sampling.Intervals {
		intervals[category] = d.Std()
	}
	smp := sampler.New(seriesStore, kv, sampler.Config{
		Intervals:   intervals,
		SnapshotTTL: cfg.Sampling.Retention.Std(),
	}, zapr.NewLogger(log))
	smp.Register(sampler.NewRuntimeSource())

	rules := alerting.NewRegistry()
	manager := alerting.NewManager(bus, cfg.Alerting.DedupWindow.Std(), log)
	correlator := alerting.NewCorrelator(manager, bus, cfg.Alerting.CorrelationWindow.Std(), log)
	dispatcher := notify.NewDispatcher(log, cfg.Alerting.AutoRemediation)

	e := &Engine{
		cfg:         cfg,
		log:         log.Named("engine"),
		bus:         bus,
		kv:          kv,
		seriesStore: seriesStore,
		sampler:     smp,
		rules:       rules,
		manager:     manager,
		correlator:  correlator,
		dispatcher:  dispatcher,
	}
	e.evaluator = alerting.NewEvaluator(rules, seriesStore, e, cfg.Evaluation.DefaultWindow.Std(), log)

	// Suppression expiry consults the originating rule's condition: still
	// true re-opens, cleared resolves.
	manager.SetConditionChecker(func(alert alerting.Alert) bool {
		ruleID := alert.Metadata[alerting.MetadataRuleID]
		if ruleID == "" {
			return false
		}
		rule, ok := rules.Get(ruleID)
		if !ok {
			return false
		}
		return e.evaluator.ConditionNow(rule)
	})

	return e
}

// seriesCapacity sizes per-metric buffers so retention at the fastest
// sampling interval fits.
func seriesCapacity(cfg *config.Config) int {
	shortest := 10 * time.Second
	for _, d := range cfg.Sampling.Intervals {
		if d.Std() > 0 && d.Std() < shortest {
			shortest = d.Std()
		}
	}
	capacity := int(cfg.Sampling.Retention.Std() / shortest)
	if capacity < 1000 {
		capacity = 1000
	}
	if capacity > 1<<20 {
		capacity = 1 << 20
	}
	return capacity
}

// RegisterSource adds a metric source. Must be called before Start.
func (e *Engine) RegisterSource(src sampler.Source) {
	e.sampler.Register(src)
}

// Bus exposes the event bus for subscribers (dashboards, reporting).
func (e *Engine) Bus() *events.Bus { return e.bus }

// Start loads persisted state, seeds config-declared rules and channels, and
// runs the sampling, evaluation, correlation, retry, and cleanup loops.
// Calling Start on a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	e.loadState(ctx)
	e.seedFromConfig()

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_ = e.sampler.Start(runCtx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.evaluationLoop(runCtx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.tickLoop(runCtx, e.cfg.Alerting.CorrelationSweep.Std(), func() {
			e.correlator.Sweep()
			e.persistCorrelations()
		})
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.tickLoop(runCtx, e.cfg.Alerting.RetrySweep.Std(), e.dispatcher.SweepPending)
	}()

	e.cron = cron.New()
	if _, err := e.cron.AddFunc(fmt.Sprintf("@every %s", e.cfg.Alerting.SuppressionSweep.Std()), e.sweepSuppressed); err != nil {
		cancel()
		return fmt.Errorf("schedule suppression sweep: %w", err)
	}
	if _, err := e.cron.AddFunc("@hourly", e.pruneRetention); err != nil {
		cancel()
		return fmt.Errorf("schedule retention pruning: %w", err)
	}
	e.cron.Start()

	e.log.Info("engine started",
		zap.Duration("evaluation_interval", e.cfg.Evaluation.Interval.Std()),
		zap.Int("rules", len(e.rules.List())),
		zap.Int("channels", len(e.dispatcher.Channels())))
	e.bus.Publish(events.Event{Type: events.EngineStarted, Summary: "engine started"})
	return nil
}

// Stop halts all loops and waits for them to exit. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	cancel := e.cancel
	c := e.cron
	e.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	e.bus.Publish(events.Event{Type: events.EngineStopped, Summary: "engine stopped"})
	e.log.Info("engine stopped")
}

func (e *Engine) tickLoop(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func (e *Engine) evaluationLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Evaluation.Interval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.EvaluateNow(ctx)
		}
	}
}

// EvaluateNow runs one evaluation pass immediately. The ticker calls this;
// tests and embedders may as well.
func (e *Engine) EvaluateNow(ctx context.Context) {
	enabled := len(e.rules.Enabled())
	_, span := telemetry.StartEvaluationSpan(ctx, enabled)
	fired, errored := e.evaluator.EvaluateAll()
	telemetry.EndEvaluationSpan(span, fired, errored)

	for i := 0; i < fired; i++ {
		metrics.RecordEvaluation("fired")
	}
	for i := 0; i < errored; i++ {
		metrics.RecordEvaluation("error")
	}
	for i := 0; i < enabled-fired-errored; i++ {
		metrics.RecordEvaluation("quiet")
	}
}

func (e *Engine) sweepSuppressed() {
	e.manager.SweepSuppressed()
	metrics.SetOpenAlerts(len(e.manager.Active()))
}

func (e *Engine) pruneRetention() {
	now := time.Now().UTC()
	pruned := e.seriesStore.Prune(now.Add(-e.cfg.Sampling.Retention.Std()))
	droppedAlerts := e.manager.Prune(now.Add(-e.cfg.Alerting.ResolvedRetention.Std()))
	droppedCorr := e.correlator.Prune(now.Add(-e.cfg.Alerting.ResolvedRetention.Std()))
	if pruned > 0 || droppedAlerts > 0 || droppedCorr > 0 {
		e.log.Info("retention pruning",
			zap.Int("samples", pruned),
			zap.Int("alerts", droppedAlerts),
			zap.Int("correlations", droppedCorr))
	}
}

// RequestAlert implements the evaluator's sink: rule firings become alerts
// with dispatch and correlation.
func (e *Engine) RequestAlert(req alerting.CreateRequest) {
	e.CreateAlert(req)
}

// CreateAlert creates (or deduplicates) an alert, correlates it, and runs the
// originating rule's actions. created is false when an existing open alert
// absorbed the request; no actions run in that case.
func (e *Engine) CreateAlert(req alerting.CreateRequest) (alerting.Alert, bool) {
	alert, created := e.manager.Create(req)
	if !created {
		metrics.RecordDeduplicated()
		return alert, false
	}

	metrics.RecordAlertCreated(string(alert.Severity), alert.Category)
	metrics.SetOpenAlerts(len(e.manager.Active()))
	e.persist(nsAlerts, alert.ID, alert)

	if corr := e.correlator.OnAlert(alert); corr != nil {
		metrics.RecordCorrelation()
		e.persist(nsCorrelations, corr.ID, *corr)
	}

	if ruleID := alert.Metadata[alerting.MetadataRuleID]; ruleID != "" {
		if rule, ok := e.rules.Get(ruleID); ok && len(rule.Actions) > 0 {
			_, span := telemetry.StartDispatchSpan(context.Background(), alert.ID, len(rule.Actions))
			e.dispatcher.ExecuteActions(rule.Actions, alert)
			span.End()
		}
	}
	return alert, true
}

// AcknowledgeAlert marks an open alert acknowledged.
func (e *Engine) AcknowledgeAlert(id, by, note string) bool {
	if !e.manager.Acknowledge(id, by, note) {
		return false
	}
	e.syncAlert(id)
	return true
}

// ResolveAlert marks an alert resolved.
func (e *Engine) ResolveAlert(id, by, resolution string) bool {
	if !e.manager.Resolve(id, by, resolution) {
		return false
	}
	metrics.SetOpenAlerts(len(e.manager.Active()))
	e.syncAlert(id)
	return true
}

// SuppressAlert silences an open alert for the given duration.
func (e *Engine) SuppressAlert(id string, duration time.Duration, reason string) bool {
	if !e.manager.Suppress(id, duration, reason) {
		return false
	}
	metrics.SetOpenAlerts(len(e.manager.Active()))
	e.syncAlert(id)
	return true
}

// GetAlert returns one alert by id.
func (e *Engine) GetAlert(id string) (alerting.Alert, bool) {
	return e.manager.Get(id)
}

// ActiveAlerts returns open alerts, newest first.
func (e *Engine) ActiveAlerts() []alerting.Alert {
	return e.manager.Active()
}

// AllAlerts returns every held alert, newest first.
func (e *Engine) AllAlerts() []alerting.Alert {
	return e.manager.All()
}

// AlertStatistics computes current aggregate alert counters.
func (e *Engine) AlertStatistics() alerting.Statistics {
	return e.manager.Statistics()
}

// AddRule validates and registers a rule.
func (e *Engine) AddRule(rule alerting.Rule) (*alerting.Rule, error) {
	added, err := e.rules.Add(rule)
	if err != nil {
		return nil, err
	}
	e.persist(nsRules, added.ID, *added)
	e.bus.Publish(events.Event{Type: events.RuleAdded, Summary: "rule added: " + added.Name, Detail: *added})
	return added, nil
}

// UpdateRule validates and replaces an existing rule.
func (e *Engine) UpdateRule(rule alerting.Rule) (*alerting.Rule, error) {
	updated, err := e.rules.Update(rule)
	if err != nil {
		return nil, err
	}
	e.persist(nsRules, updated.ID, *updated)
	e.bus.Publish(events.Event{Type: events.RuleUpdated, Summary: "rule updated: " + updated.Name, Detail: *updated})
	return updated, nil
}

// RemoveRule deletes a rule.
func (e *Engine) RemoveRule(id string) bool {
	if !e.rules.Remove(id) {
		return false
	}
	e.unpersist(nsRules, id)
	e.bus.Publish(events.Event{Type: events.RuleRemoved, Summary: "rule removed: " + id})
	return true
}

// Rules lists all registered rules.
func (e *Engine) Rules() []alerting.Rule {
	return e.rules.List()
}

// AddChannel validates and registers a notification channel.
func (e *Engine) AddChannel(cfg notify.ChannelConfig) (notify.ChannelConfig, error) {
	added, err := e.dispatcher.AddChannel(cfg)
	if err != nil {
		return notify.ChannelConfig{}, err
	}
	e.persist(nsChannels, added.ID, added)
	e.bus.Publish(events.Event{Type: events.ChannelAdded, Summary: "channel added: " + added.Name, Detail: added})
	return added, nil
}

// RemoveChannel unregisters a notification channel.
func (e *Engine) RemoveChannel(id string) bool {
	if !e.dispatcher.RemoveChannel(id) {
		return false
	}
	e.unpersist(nsChannels, id)
	e.bus.Publish(events.Event{Type: events.ChannelRemoved, Summary: "channel removed: " + id})
	return true
}

// Channels lists registered notification channels.
func (e *Engine) Channels() []notify.ChannelConfig {
	return e.dispatcher.Channels()
}

// Correlations lists detected correlations, newest first.
func (e *Engine) Correlations() []alerting.Correlation {
	return e.correlator.Correlations()
}

// --- persistence (best effort) ---

func (e *Engine) persist(namespace, id string, value interface{}) {
	if e.kv == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		e.log.Warn("persist marshal failed", zap.String("namespace", namespace), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := e.kv.Set(ctx, store.Key(namespace, id), data, 0); err != nil {
		e.log.Warn("persist failed", zap.String("namespace", namespace), zap.String("id", id), zap.Error(err))
	}
}

func (e *Engine) unpersist(namespace, id string) {
	if e.kv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := e.kv.Delete(ctx, store.Key(namespace, id)); err != nil {
		e.log.Warn("delete failed", zap.String("namespace", namespace), zap.String("id", id), zap.Error(err))
	}
}

func (e *Engine) syncAlert(id string) {
	if alert, ok := e.manager.Get(id); ok {
		e.persist(nsAlerts, alert.ID, alert)
	}
}

func (e *Engine) persistCorrelations() {
	for _, corr := range e.correlator.Correlations() {
		e.persist(nsCorrelations, corr.ID, corr)
	}
}

// loadState reloads persisted alerts, rules, channels, and correlations.
// Any single bad record is logged and skipped.
func (e *Engine) loadState(ctx context.Context) {
	if e.kv == nil {
		return
	}

	if entries, err := e.kv.List(ctx, nsRules+"/"); err == nil {
		for key, data := range entries {
			var rule alerting.Rule
			if err := json.Unmarshal(data, &rule); err != nil {
				e.log.Warn("skipping corrupt persisted rule", zap.String("key", key), zap.Error(err))
				continue
			}
			if err := e.rules.Restore(rule); err != nil {
				e.log.Warn("skipping invalid persisted rule", zap.String("key", key), zap.Error(err))
			}
		}
	}

	if entries, err := e.kv.List(ctx, nsAlerts+"/"); err == nil {
		for key, data := range entries {
			var alert alerting.Alert
			if err := json.Unmarshal(data, &alert); err != nil {
				e.log.Warn("skipping corrupt persisted alert", zap.String("key", key), zap.Error(err))
				continue
			}
			e.manager.Restore(alert)
		}
	}

	if entries, err := e.kv.List(ctx, nsChannels+"/"); err == nil {
		for key, data := range entries {
			var cfg notify.ChannelConfig
			if err := json.Unmarshal(data, &cfg); err != nil {
				e.log.Warn("skipping corrupt persisted channel", zap.String("key", key), zap.Error(err))
				continue
			}
			if _, err := e.dispatcher.AddChannel(cfg); err != nil {
				e.log.Warn("skipping invalid persisted channel", zap.String("key", key), zap.Error(err))
			}
		}
	}

	if entries, err := e.kv.List(ctx, nsCorrelations+"/"); err == nil {
		for key, data := range entries {
			var corr alerting.Correlation
			if err := json.Unmarshal(data, &corr); err != nil {
				e.log.Warn("skipping corrupt persisted correlation", zap.String("key", key), zap.Error(err))
				continue
			}
			e.correlator.Restore(corr)
		}
	}

	metrics.SetOpenAlerts(len(e.manager.Active()))
}

// seedFromConfig registers config-declared rules and channels. Entries
// already restored from the side-store (matched by name) are not re-added.
func (e *Engine) seedFromConfig() {
	for _, spec := range e.cfg.Channels {
		cfg := spec.ChannelConfig()
		exists := false
		for _, existing := range e.dispatcher.Channels() {
			if existing.Name == cfg.Name {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		if _, err := e.AddChannel(cfg); err != nil {
			e.log.Warn("skipping config channel", zap.String("name", cfg.Name), zap.Error(err))
		}
	}

	for _, spec := range e.cfg.Rules {
		rule := spec.Rule()
		if e.rules.HasName(rule.Name) {
			continue
		}
		if _, err := e.AddRule(rule); err != nil {
			e.log.Warn("skipping config rule", zap.String("name", rule.Name), zap.Error(err))
		}
	}
}
