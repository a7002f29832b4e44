package alerting

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/calder-ops/vigil/internal/series"
)

// AlertSink receives alert creation requests from the evaluator. The
// evaluator never mutates alerts itself.
type AlertSink interface {
	RequestAlert(req CreateRequest)
}

// Evaluator runs threshold rules against the series store on each tick.
type Evaluator struct {
	rules       *Registry
	seriesStore *series.Store
	sink        AlertSink
	logger      *zap.Logger

	// defaultWindow is the sample window when a rule sets no explicit
	// evaluation window; it should match the tick interval.
	defaultWindow time.Duration

	mu sync.Mutex
	// conditionStart tracks when each rule's condition first became true,
	// for sustained-duration gating. Cleared the instant it goes false.
	conditionStart map[string]time.Time
	// fired marks rules that already fired in the current sustained episode;
	// cleared when the condition toggles false.
	fired map[string]bool
	// lastEval is the previous tick time per rule, the default window start.
	lastEval map[string]time.Time

	now func() time.Time
}

// NewEvaluator creates a rule evaluator. defaultWindow should equal the
// evaluation tick interval.
func NewEvaluator(rules *Registry, seriesStore *series.Store, sink AlertSink, defaultWindow time.Duration, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultWindow <= 0 {
		defaultWindow = 30 * time.Second
	}
	return &Evaluator{
		rules:          rules,
		seriesStore:    seriesStore,
		sink:           sink,
		logger:         logger,
		defaultWindow:  defaultWindow,
		conditionStart: make(map[string]time.Time),
		fired:          make(map[string]bool),
		lastEval:       make(map[string]time.Time),
		now:            time.Now,
	}
}

// EvaluateAll runs one evaluation pass over all enabled rules and reports
// how many fired and how many errored. A failure in one rule never prevents
// the others from evaluating.
func (e *Evaluator) EvaluateAll() (fired, errored int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now().UTC()
	seen := make(map[string]struct{})

	for _, rule := range e.rules.Enabled() {
		seen[rule.ID] = struct{}{}
		didFire, err := e.evaluateRule(rule, now)
		if err != nil {
			errored++
			e.logger.Warn("rule evaluation failed",
				zap.String("rule_id", rule.ID),
				zap.String("rule_name", rule.Name),
				zap.Error(err))
		}
		if didFire {
			fired++
		}
	}

	// Drop gating state for rules that were removed or disabled.
	for id := range e.conditionStart {
		if _, ok := seen[id]; !ok {
			delete(e.conditionStart, id)
			delete(e.fired, id)
			delete(e.lastEval, id)
		}
	}
	return fired, errored
}

func (e *Evaluator) evaluateRule(rule Rule, now time.Time) (didFire bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	from := e.windowStart(rule, now)
	e.lastEval[rule.ID] = now

	samples := e.seriesStore.Range(rule.Condition.Metric, from, now)
	if len(samples) == 0 {
		// No data is not a trigger; gating state is left untouched.
		return false, nil
	}

	value, ok := series.Aggregate(samples, rule.Condition.Aggregation)
	if !ok {
		return false, nil
	}

	if !compare(value, rule.Condition.Operator, rule.Condition.Threshold) {
		delete(e.conditionStart, rule.ID)
		delete(e.fired, rule.ID)
		return false, nil
	}

	if e.fired[rule.ID] {
		// Already fired this sustained episode; wait for the condition to
		// toggle off before firing again.
		return false, nil
	}

	duration, err := parseOptionalDuration(rule.Condition.Duration)
	if err != nil {
		return false, fmt.Errorf("parse duration: %w", err)
	}
	if duration > 0 {
		start, tracked := e.conditionStart[rule.ID]
		if !tracked {
			e.conditionStart[rule.ID] = now
			return false, nil
		}
		if now.Sub(start) < duration {
			return false, nil
		}
	}

	e.fired[rule.ID] = true
	delete(e.conditionStart, rule.ID)
	e.fire(rule, value, samples)
	return true, nil
}

func (e *Evaluator) fire(rule Rule, value float64, samples []series.Sample) {
	source := "rule-evaluator"
	if len(samples) > 0 && samples[len(samples)-1].Category != "" {
		source = samples[len(samples)-1].Category
	}

	e.logger.Info("rule fired",
		zap.String("rule_id", rule.ID),
		zap.String("metric", rule.Condition.Metric),
		zap.Float64("value", value),
		zap.Float64("threshold", rule.Condition.Threshold))

	e.sink.RequestAlert(CreateRequest{
		Title: rule.Name,
		Description: fmt.Sprintf("%s %s(%s) = %.2f %s %.2f",
			rule.Name, rule.Condition.Aggregation, rule.Condition.Metric,
			value, rule.Condition.Operator, rule.Condition.Threshold),
		Severity:  rule.Severity,
		Category:  rule.Category,
		Source:    source,
		Metric:    rule.Condition.Metric,
		Value:     value,
		Threshold: rule.Condition.Threshold,
		Metadata:  map[string]string{MetadataRuleID: rule.ID},
	})
}

func (e *Evaluator) windowStart(rule Rule, now time.Time) time.Time {
	if window, err := parseOptionalDuration(rule.Condition.EvaluationWindow); err == nil && window > 0 {
		return now.Add(-window)
	}
	if last, ok := e.lastEval[rule.ID]; ok {
		return last
	}
	return now.Add(-e.defaultWindow)
}

// ConditionNow reports whether the rule's condition holds over its window
// ending at the current time. Used by the suppression sweep to decide
// whether an expired suppression re-opens.
func (e *Evaluator) ConditionNow(rule Rule) bool {
	now := e.now().UTC()

	window, err := parseOptionalDuration(rule.Condition.EvaluationWindow)
	if err != nil || window <= 0 {
		window = e.defaultWindow
	}

	samples := e.seriesStore.Range(rule.Condition.Metric, now.Add(-window), now)
	value, ok := series.Aggregate(samples, rule.Condition.Aggregation)
	if !ok {
		return false
	}
	return compare(value, rule.Condition.Operator, rule.Condition.Threshold)
}

func compare(value float64, operator string, threshold float64) bool {
	switch operator {
	case OpGreater:
		return value > threshold
	case OpLess:
		return value < threshold
	case OpGreaterEqual:
		return value >= threshold
	case OpLessEqual:
		return value <= threshold
	case OpEqual:
		return value == threshold
	case OpNotEqual:
		return value != threshold
	default:
		return false
	}
}
