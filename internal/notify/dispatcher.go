/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package notify

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/calder-ops/vigil/internal/alerting"
	"github.com/calder-ops/vigil/internal/metrics"
)

const (
	// DefaultChannelID is the built-in console channel every dispatcher carries.
	DefaultChannelID = "default"

	defaultRetryMaxAttempts    = 3
	defaultRetryInitialBackoff = time.Second
	defaultRetryMultiplier     = 2.0
	defaultRetryMaxBackoff     = 30 * time.Second

	actionTimeout = 30 * time.Second
)

// ChannelConfig describes a registered notification channel.
type ChannelConfig struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Type      string            `json:"type"`
	Settings  map[string]string `json:"settings,omitempty"`
	Filters   []Filter          `json:"filters,omitempty"`
	Enabled   bool              `json:"enabled"`
	CreatedAt time.Time         `json:"created_at"`
}

// BuildChannel constructs the concrete channel for a configuration.
func BuildChannel(cfg ChannelConfig, log *zap.Logger) (Channel, error) {
	get := func(key string) string { return strings.TrimSpace(cfg.Settings[key]) }

	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "console":
		return NewConsoleChannel(log), nil
	case "file":
		path := get("path")
		if path == "" {
			return nil, fmt.Errorf("file channel: path setting required")
		}
		return NewFileChannel(path), nil
	case "webhook":
		url := get("url")
		if url == "" {
			return nil, fmt.Errorf("webhook channel: url setting required")
		}
		return NewWebhookChannel(url, get("secret"), nil), nil
	case "email":
		host := get("host")
		if host == "" {
			return nil, fmt.Errorf("email channel: host setting required")
		}
		port := 25
		if raw := get("port"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				return nil, fmt.Errorf("email channel: invalid port %q", raw)
			}
			port = parsed
		}
		to := splitList(get("to"))
		if len(to) == 0 {
			return nil, fmt.Errorf("email channel: to setting required")
		}
		return NewEmailChannel(host, port, get("from"), to, get("username"), get("password")), nil
	case "slack":
		url := get("webhook_url")
		if url == "" {
			return nil, fmt.Errorf("slack channel: webhook_url setting required")
		}
		return NewSlackChannel(url, get("channel")), nil
	case "teams":
		url := get("webhook_url")
		if url == "" {
			return nil, fmt.Errorf("teams channel: webhook_url setting required")
		}
		return NewTeamsChannel(url), nil
	case "discord":
		url := get("webhook_url")
		if url == "" {
			return nil, fmt.Errorf("discord channel: webhook_url setting required")
		}
		return NewDiscordChannel(url), nil
	default:
		return nil, fmt.Errorf("unknown channel type %q", cfg.Type)
	}
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

type registeredChannel struct {
	cfg     ChannelConfig
	ch      Channel
	filters []compiledFilter
}

type resolvedRetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration
	Jitter         bool
}

func defaultResolvedRetryPolicy() resolvedRetryPolicy {
	return resolvedRetryPolicy{
		MaxAttempts:    defaultRetryMaxAttempts,
		InitialBackoff: defaultRetryInitialBackoff,
		Multiplier:     defaultRetryMultiplier,
		MaxBackoff:     defaultRetryMaxBackoff,
		Jitter:         true,
	}
}

func resolveRetryPolicy(policy *alerting.RetryPolicy) (resolvedRetryPolicy, error) {
	base := defaultResolvedRetryPolicy()
	if policy == nil {
		return base, nil
	}

	if policy.MaxAttempts < 0 {
		return resolvedRetryPolicy{}, fmt.Errorf("retry_policy.max_attempts must be >= 1")
	}
	if policy.MaxAttempts > 0 {
		base.MaxAttempts = policy.MaxAttempts
	}

	if raw := strings.TrimSpace(policy.InitialBackoff); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return resolvedRetryPolicy{}, fmt.Errorf("retry_policy.initial_backoff must be a positive duration")
		}
		base.InitialBackoff = d
	}

	if policy.Multiplier < 0 || (policy.Multiplier > 0 && policy.Multiplier < 1) {
		return resolvedRetryPolicy{}, fmt.Errorf("retry_policy.multiplier must be >= 1")
	}
	if policy.Multiplier >= 1 {
		base.Multiplier = policy.Multiplier
	}

	if raw := strings.TrimSpace(policy.MaxBackoff); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return resolvedRetryPolicy{}, fmt.Errorf("retry_policy.max_backoff must be a positive duration")
		}
		base.MaxBackoff = d
	}

	if policy.Jitter != nil {
		base.Jitter = *policy.Jitter
	}
	return base, nil
}

// nextRetryDelay returns the delay before scheduling the next attempt after
// failedAttempt has completed.
func (p resolvedRetryPolicy) nextRetryDelay(failedAttempt int) time.Duration {
	if failedAttempt < 1 {
		failedAttempt = 1
	}

	exponent := float64(failedAttempt - 1)
	multiplier := math.Pow(p.Multiplier, exponent)
	delay := time.Duration(float64(p.InitialBackoff) * multiplier)
	if delay <= 0 {
		delay = p.InitialBackoff
	}
	if p.MaxBackoff > 0 && delay > p.MaxBackoff {
		delay = p.MaxBackoff
	}
	if p.Jitter {
		delay = applyJitter(delay)
	}
	return delay
}

// applyJitter adds 0-50% random jitter to a duration to prevent thundering herd.
func applyJitter(d time.Duration) time.Duration {
	max := int64(d / 2)
	if max <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(max))
}

type pendingAction struct {
	id          string
	action      alerting.Action
	alert       alerting.Alert
	policy      resolvedRetryPolicy
	attempts    int
	nextAttempt time.Time
}

// Dispatcher executes rule actions: notifications through registered
// channels, one-off webhooks, and scripts. Failed actions land in a pending
// queue and are retried with exponential backoff until the retry policy is
// exhausted.
type Dispatcher struct {
	log                *zap.Logger
	remediationEnabled bool

	mu       sync.RWMutex
	channels map[string]*registeredChannel

	pmu     sync.Mutex
	pending []*pendingAction

	now       func() time.Time
	runScript func(ctx context.Context, command string) error
}

// NewDispatcher creates a dispatcher with the built-in default console channel.
func NewDispatcher(log *zap.Logger, remediationEnabled bool) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		log:                log,
		remediationEnabled: remediationEnabled,
		channels:           make(map[string]*registeredChannel),
		now:                time.Now,
	}
	d.runScript = d.execScript
	d.channels[DefaultChannelID] = &registeredChannel{
		cfg: ChannelConfig{
			ID:      DefaultChannelID,
			Name:    "default console",
			Type:    "console",
			Enabled: true,
		},
		ch: NewConsoleChannel(log),
	}
	return d
}

// AddChannel validates, builds, and registers a channel. A zero ID gets a
// generated one.
func (d *Dispatcher) AddChannel(cfg ChannelConfig) (ChannelConfig, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return ChannelConfig{}, fmt.Errorf("channel name required")
	}
	filters, err := compileFilters(cfg.Filters)
	if err != nil {
		return ChannelConfig{}, err
	}
	ch, err := BuildChannel(cfg, d.log)
	if err != nil {
		return ChannelConfig{}, err
	}

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = d.now().UTC()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[cfg.ID] = &registeredChannel{cfg: cfg, ch: ch, filters: filters}
	return cfg, nil
}

// RemoveChannel unregisters a channel. The built-in default cannot be removed.
func (d *Dispatcher) RemoveChannel(id string) bool {
	if id == DefaultChannelID {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.channels[id]; !ok {
		return false
	}
	delete(d.channels, id)
	return true
}

// Channels lists registered channel configurations sorted by name.
func (d *Dispatcher) Channels() []ChannelConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]ChannelConfig, 0, len(d.channels))
	for _, rc := range d.channels {
		out = append(out, rc.cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (d *Dispatcher) channelFor(id string) *registeredChannel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if id != "" {
		if rc, ok := d.channels[id]; ok {
			return rc
		}
		d.log.Warn("channel not registered, falling back to default", zap.String("channel_id", id))
	}
	return d.channels[DefaultChannelID]
}

// ExecuteActions runs every action for a newly created alert. Actions are
// independent: one failing never blocks the others. Delayed actions are
// queued; immediate ones run on their own goroutine.
func (d *Dispatcher) ExecuteActions(actions []alerting.Action, alert alerting.Alert) {
	for _, action := range actions {
		policy, err := resolveRetryPolicy(action.RetryPolicy)
		if err != nil {
			d.log.Warn("invalid retry policy, using defaults",
				zap.String("alert_id", alert.ID), zap.Error(err))
			policy = defaultResolvedRetryPolicy()
		}

		item := &pendingAction{
			id:     uuid.NewString(),
			action: action,
			alert:  alert,
			policy: policy,
		}

		if action.DelaySeconds > 0 {
			item.nextAttempt = d.now().Add(time.Duration(action.DelaySeconds) * time.Second)
			d.enqueue(item)
			continue
		}
		go d.attempt(item)
	}
}

func (d *Dispatcher) enqueue(item *pendingAction) {
	d.pmu.Lock()
	defer d.pmu.Unlock()
	d.pending = append(d.pending, item)
}

// PendingCount reports queued actions awaiting execution or retry.
func (d *Dispatcher) PendingCount() int {
	d.pmu.Lock()
	defer d.pmu.Unlock()
	return len(d.pending)
}

// SweepPending executes every queued action that is due. Call it on a short
// ticker.
func (d *Dispatcher) SweepPending() {
	now := d.now()

	d.pmu.Lock()
	var due []*pendingAction
	remaining := d.pending[:0]
	for _, item := range d.pending {
		if !item.nextAttempt.After(now) {
			due = append(due, item)
		} else {
			remaining = append(remaining, item)
		}
	}
	d.pending = remaining
	d.pmu.Unlock()

	for _, item := range due {
		d.attempt(item)
	}
}

// attempt executes one action attempt and either finishes, requeues with
// backoff, or drops the action when the policy is exhausted.
func (d *Dispatcher) attempt(item *pendingAction) {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	err := d.executeAction(ctx, item.action, item.alert)
	cancel()

	item.attempts++
	if err == nil {
		return
	}

	if item.attempts >= item.policy.MaxAttempts {
		d.log.Error("action dropped after exhausting retries",
			zap.String("alert_id", item.alert.ID),
			zap.String("action_type", item.action.Type),
			zap.Int("attempts", item.attempts),
			zap.Error(err))
		return
	}

	delay := item.policy.nextRetryDelay(item.attempts)
	item.nextAttempt = d.now().Add(delay)
	metrics.RecordNotificationRetry()
	d.log.Warn("action failed, scheduling retry",
		zap.String("alert_id", item.alert.ID),
		zap.String("action_type", item.action.Type),
		zap.Int("attempt", item.attempts),
		zap.Duration("retry_in", delay),
		zap.Error(err))
	d.enqueue(item)
}

func (d *Dispatcher) executeAction(ctx context.Context, action alerting.Action, alert alerting.Alert) error {
	switch action.Type {
	case alerting.ActionNotification:
		return d.sendNotification(ctx, action.ChannelID, alert)
	case alerting.ActionWebhook:
		ch := NewWebhookChannel(action.URL, "", nil)
		err := ch.Send(ctx, MessageFromAlert(alert))
		metrics.RecordNotification(ch.Type(), outcome(err))
		return err
	case alerting.ActionScript:
		return d.runScript(ctx, action.Command)
	case alerting.ActionAutoRemediation:
		if !d.remediationEnabled {
			d.log.Warn("auto-remediation disabled, skipping",
				zap.String("alert_id", alert.ID))
			return nil
		}
		return d.runScript(ctx, action.Command)
	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

func (d *Dispatcher) sendNotification(ctx context.Context, channelID string, alert alerting.Alert) error {
	rc := d.channelFor(channelID)
	if rc == nil {
		return fmt.Errorf("no channel available")
	}
	if !rc.cfg.Enabled {
		d.log.Info("channel disabled, skipping",
			zap.String("channel_id", rc.cfg.ID), zap.String("alert_id", alert.ID))
		return nil
	}

	msg := MessageFromAlert(alert)
	if !matchesAll(rc.filters, msg) {
		return nil
	}

	err := rc.ch.Send(ctx, msg)
	metrics.RecordNotification(rc.ch.Type(), outcome(err))
	if err != nil {
		return fmt.Errorf("channel %s: %w", rc.cfg.ID, err)
	}
	d.log.Info("notification sent",
		zap.String("channel_id", rc.cfg.ID),
		zap.String("type", rc.ch.Type()),
		zap.String("alert_id", alert.ID),
		zap.String("severity", string(alert.Severity)))
	return nil
}

func (d *Dispatcher) execScript(ctx context.Context, command string) error {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("script failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// MessageFromAlert converts an alert into a channel message. Tags come from
// the comma-separated "tags" metadata entry when present.
func MessageFromAlert(alert alerting.Alert) Message {
	return Message{
		AlertID:   alert.ID,
		Title:     alert.Title,
		Body:      alert.Description,
		Severity:  string(alert.Severity),
		Category:  alert.Category,
		Source:    alert.Source,
		Metric:    alert.Metric,
		Value:     alert.Value,
		Threshold: alert.Threshold,
		Tags:      splitList(alert.Metadata["tags"]),
		Metadata:  alert.Metadata,
		Timestamp: alert.CreatedAt,
	}
}
