package alerting

import (
	"fmt"
	"strings"
	"time"

	"github.com/calder-ops/vigil/internal/series"
)

// Severity classifies alert importance.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// ValidSeverity reports whether sev is a known severity.
func ValidSeverity(sev Severity) bool {
	switch sev {
	case SeverityCritical, SeverityWarning, SeverityInfo:
		return true
	default:
		return false
	}
}

// Status is the alert lifecycle state.
//
// Transitions: open → {acknowledged, resolved, suppressed};
// acknowledged → {resolved}; suppressed → {open} on expiry when the
// underlying condition still holds. resolved is terminal.
type Status string

const (
	StatusOpen         Status = "open"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
	StatusSuppressed   Status = "suppressed"
)

// Comparison operators accepted in rule conditions.
const (
	OpGreater      = ">"
	OpLess         = "<"
	OpGreaterEqual = ">="
	OpLessEqual    = "<="
	OpEqual        = "=="
	OpNotEqual     = "!="
)

func validOperator(op string) bool {
	switch op {
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual, OpEqual, OpNotEqual:
		return true
	default:
		return false
	}
}

// Condition defines what a rule evaluates.
type Condition struct {
	Metric      string             `json:"metric"`
	Operator    string             `json:"operator"`
	Threshold   float64            `json:"threshold"`
	Aggregation series.Aggregation `json:"aggregation"`
	// Duration is how long the condition must hold continuously before the
	// rule fires, e.g. "5m". Empty means fire on first detection.
	Duration string `json:"duration,omitempty"`
	// EvaluationWindow bounds the sample window, e.g. "10m". Empty means
	// samples since the previous evaluation tick.
	EvaluationWindow string `json:"evaluation_window,omitempty"`
}

// Action types a rule can trigger.
const (
	ActionNotification    = "notification"
	ActionWebhook         = "webhook"
	ActionScript          = "script"
	ActionAutoRemediation = "auto-remediation"
)

// Action defines one configured response to a firing rule. Actions execute
// independently and are independently retryable.
type Action struct {
	Type string `json:"type"`
	// ChannelID targets a notification channel; empty falls back to "default".
	ChannelID string `json:"channel_id,omitempty"`
	// URL is the webhook target for webhook actions.
	URL string `json:"url,omitempty"`
	// Command is the shell command for script and auto-remediation actions.
	Command string `json:"command,omitempty"`
	// DelaySeconds defers execution after the alert is created.
	DelaySeconds int `json:"delay_seconds,omitempty"`
	// RetryPolicy overrides the dispatcher's global retry policy.
	RetryPolicy *RetryPolicy `json:"retry_policy,omitempty"`
}

func validActionType(t string) bool {
	switch t {
	case ActionNotification, ActionWebhook, ActionScript, ActionAutoRemediation:
		return true
	default:
		return false
	}
}

// RetryPolicy configures exponential retry behavior for actions.
// MaxAttempts includes the first attempt.
type RetryPolicy struct {
	MaxAttempts    int     `json:"max_attempts,omitempty"`
	InitialBackoff string  `json:"initial_backoff,omitempty"`
	Multiplier     float64 `json:"multiplier,omitempty"`
	MaxBackoff     string  `json:"max_backoff,omitempty"`
	Jitter         *bool   `json:"jitter,omitempty"`
}

// Rule defines one alerting rule.
type Rule struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category"`
	Severity    Severity  `json:"severity"`
	Condition   Condition `json:"condition"`
	Actions     []Action  `json:"actions,omitempty"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate rejects malformed rules synchronously at creation time.
// It normalizes an empty severity to warning.
func (r *Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("rule name required")
	}
	if strings.TrimSpace(r.Condition.Metric) == "" {
		return fmt.Errorf("condition.metric required")
	}
	if !validOperator(r.Condition.Operator) {
		return fmt.Errorf("invalid condition.operator %q", r.Condition.Operator)
	}
	if !series.ValidAggregation(r.Condition.Aggregation) {
		return fmt.Errorf("invalid condition.aggregation %q", r.Condition.Aggregation)
	}
	if _, err := parseOptionalDuration(r.Condition.Duration); err != nil {
		return fmt.Errorf("invalid condition.duration: %w", err)
	}
	if _, err := parseOptionalDuration(r.Condition.EvaluationWindow); err != nil {
		return fmt.Errorf("invalid condition.evaluation_window: %w", err)
	}

	if r.Severity == "" {
		r.Severity = SeverityWarning
	}
	if !ValidSeverity(r.Severity) {
		return fmt.Errorf("invalid severity %q", r.Severity)
	}

	for i, action := range r.Actions {
		if !validActionType(action.Type) {
			return fmt.Errorf("action %d: invalid type %q", i, action.Type)
		}
		if action.Type == ActionWebhook && strings.TrimSpace(action.URL) == "" {
			return fmt.Errorf("action %d: webhook url required", i)
		}
		if (action.Type == ActionScript || action.Type == ActionAutoRemediation) &&
			strings.TrimSpace(action.Command) == "" {
			return fmt.Errorf("action %d: command required", i)
		}
		if action.DelaySeconds < 0 {
			return fmt.Errorf("action %d: delay_seconds must be >= 0", i)
		}
	}

	return nil
}

func parseOptionalDuration(raw string) (time.Duration, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be >= 0")
	}
	return d, nil
}

// Alert is one alert entity. The lifecycle Manager exclusively owns
// mutation; everything handed out is a copy.
type Alert struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Description     string            `json:"description,omitempty"`
	Severity        Severity          `json:"severity"`
	Status          Status            `json:"status"`
	Category        string            `json:"category"`
	Source          string            `json:"source"`
	Metric          string            `json:"metric,omitempty"`
	Value           float64           `json:"value"`
	Threshold       float64           `json:"threshold"`
	Fingerprint     string            `json:"fingerprint"`
	CorrelationID   string            `json:"correlation_id,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	AcknowledgedAt  *time.Time        `json:"acknowledged_at,omitempty"`
	AcknowledgedBy  string            `json:"acknowledged_by,omitempty"`
	ResolvedAt      *time.Time        `json:"resolved_at,omitempty"`
	ResolvedBy      string            `json:"resolved_by,omitempty"`
	SuppressedUntil *time.Time        `json:"suppressed_until,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// CreateRequest asks the Manager for a new alert. The rule evaluator and
// external callers both use it; neither mutates alerts directly.
type CreateRequest struct {
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Severity    Severity          `json:"severity"`
	Category    string            `json:"category"`
	Source      string            `json:"source"`
	Metric      string            `json:"metric,omitempty"`
	Value       float64           `json:"value"`
	Threshold   float64           `json:"threshold"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// MetadataRuleID is the metadata key linking an alert back to the rule that
// fired it, used for action lookup and suppression-expiry checks.
const MetadataRuleID = "rule_id"

// Correlation groups alerts believed to share a root cause.
type Correlation struct {
	ID         string    `json:"id"`
	AlertIDs   []string  `json:"alert_ids"`
	Pattern    string    `json:"pattern"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
