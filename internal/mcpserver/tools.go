package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/calder-ops/vigil/internal/alerting"
)

type listAlertsInput struct {
	Status   string `json:"status,omitempty" jsonschema:"alert status filter: open, acknowledged, resolved, suppressed, or all (default open)"`
	Severity string `json:"severity,omitempty" jsonschema:"optional severity filter: critical, warning, info"`
	Category string `json:"category,omitempty" jsonschema:"optional category filter"`
}

type createAlertInput struct {
	Title       string  `json:"title" jsonschema:"short alert title"`
	Description string  `json:"description,omitempty" jsonschema:"optional longer description"`
	Severity    string  `json:"severity,omitempty" jsonschema:"severity: critical, warning, info (default warning)"`
	Category    string  `json:"category,omitempty" jsonschema:"alert category, e.g. system or application"`
	Source      string  `json:"source" jsonschema:"originating source, e.g. a host or service name"`
	Metric      string  `json:"metric,omitempty" jsonschema:"optional metric name behind the alert"`
	Value       float64 `json:"value,omitempty" jsonschema:"observed value"`
	Threshold   float64 `json:"threshold,omitempty" jsonschema:"threshold that was crossed"`
}

type acknowledgeAlertInput struct {
	AlertID string `json:"alert_id" jsonschema:"alert identifier"`
	By      string `json:"by" jsonschema:"who is acknowledging"`
	Note    string `json:"note,omitempty" jsonschema:"optional acknowledgement note"`
}

type resolveAlertInput struct {
	AlertID    string `json:"alert_id" jsonschema:"alert identifier"`
	By         string `json:"by" jsonschema:"who is resolving"`
	Resolution string `json:"resolution,omitempty" jsonschema:"optional resolution note"`
}

type suppressAlertInput struct {
	AlertID  string `json:"alert_id" jsonschema:"alert identifier"`
	Duration string `json:"duration" jsonschema:"suppression duration, e.g. 30m or 2h"`
	Reason   string `json:"reason,omitempty" jsonschema:"optional suppression reason"`
}

type emptyInput struct{}

type alertSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Severity  string    `json:"severity"`
	Status    string    `json:"status"`
	Category  string    `json:"category,omitempty"`
	Source    string    `json:"source,omitempty"`
	Metric    string    `json:"metric,omitempty"`
	Value     float64   `json:"value,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *MCPServer) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "vigil_list_alerts",
		Description: "List alerts with status/severity/category filtering",
	}, s.handleListAlerts)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "vigil_create_alert",
		Description: "Create a manual alert (deduplicated against open alerts)",
	}, s.handleCreateAlert)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "vigil_acknowledge_alert",
		Description: "Acknowledge an open alert",
	}, s.handleAcknowledgeAlert)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "vigil_resolve_alert",
		Description: "Resolve an alert with an optional resolution note",
	}, s.handleResolveAlert)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "vigil_suppress_alert",
		Description: "Silence an open alert for a duration",
	}, s.handleSuppressAlert)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "vigil_alert_stats",
		Description: "Aggregate alert counts by status, severity, and category",
	}, s.handleAlertStats)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "vigil_list_rules",
		Description: "List configured threshold rules",
	}, s.handleListRules)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "vigil_list_correlations",
		Description: "List detected alert correlations",
	}, s.handleListCorrelations)
}

func (s *MCPServer) handleListAlerts(_ context.Context, _ *mcp.CallToolRequest, input listAlertsInput) (*mcp.CallToolResult, any, error) {
	if s.engine == nil {
		return nil, nil, fmt.Errorf("engine unavailable")
	}

	status := strings.ToLower(strings.TrimSpace(input.Status))
	if status == "" {
		status = "open"
	}
	switch status {
	case "all", string(alerting.StatusOpen), string(alerting.StatusAcknowledged),
		string(alerting.StatusResolved), string(alerting.StatusSuppressed):
	default:
		return nil, nil, fmt.Errorf("invalid status %q", input.Status)
	}

	severity := strings.ToLower(strings.TrimSpace(input.Severity))
	category := strings.TrimSpace(input.Category)

	out := make([]alertSummary, 0)
	for _, alert := range s.engine.AllAlerts() {
		if status != "all" && string(alert.Status) != status {
			continue
		}
		if severity != "" && string(alert.Severity) != severity {
			continue
		}
		if category != "" && alert.Category != category {
			continue
		}
		out = append(out, alertSummary{
			ID:        alert.ID,
			Title:     alert.Title,
			Severity:  string(alert.Severity),
			Status:    string(alert.Status),
			Category:  alert.Category,
			Source:    alert.Source,
			Metric:    alert.Metric,
			Value:     alert.Value,
			CreatedAt: alert.CreatedAt,
		})
	}

	return jsonToolResult(out)
}

func (s *MCPServer) handleCreateAlert(_ context.Context, _ *mcp.CallToolRequest, input createAlertInput) (*mcp.CallToolResult, any, error) {
	if s.engine == nil {
		return nil, nil, fmt.Errorf("engine unavailable")
	}
	if strings.TrimSpace(input.Title) == "" {
		return nil, nil, fmt.Errorf("title is required")
	}
	if strings.TrimSpace(input.Source) == "" {
		return nil, nil, fmt.Errorf("source is required")
	}

	alert, created := s.engine.CreateAlert(alerting.CreateRequest{
		Title:       input.Title,
		Description: input.Description,
		Severity:    alerting.Severity(strings.ToLower(strings.TrimSpace(input.Severity))),
		Category:    strings.TrimSpace(input.Category),
		Source:      strings.TrimSpace(input.Source),
		Metric:      strings.TrimSpace(input.Metric),
		Value:       input.Value,
		Threshold:   input.Threshold,
	})

	return jsonToolResult(map[string]any{
		"alert":   alert,
		"created": created,
	})
}

func (s *MCPServer) handleAcknowledgeAlert(_ context.Context, _ *mcp.CallToolRequest, input acknowledgeAlertInput) (*mcp.CallToolResult, any, error) {
	if s.engine == nil {
		return nil, nil, fmt.Errorf("engine unavailable")
	}
	alertID := strings.TrimSpace(input.AlertID)
	if alertID == "" {
		return nil, nil, fmt.Errorf("alert_id is required")
	}
	by := strings.TrimSpace(input.By)
	if by == "" {
		return nil, nil, fmt.Errorf("by is required")
	}

	if !s.engine.AcknowledgeAlert(alertID, by, input.Note) {
		return nil, nil, fmt.Errorf("alert %s not found or not open", alertID)
	}
	return textToolResult(fmt.Sprintf("alert %s acknowledged by %s", alertID, by)), nil, nil
}

func (s *MCPServer) handleResolveAlert(_ context.Context, _ *mcp.CallToolRequest, input resolveAlertInput) (*mcp.CallToolResult, any, error) {
	if s.engine == nil {
		return nil, nil, fmt.Errorf("engine unavailable")
	}
	alertID := strings.TrimSpace(input.AlertID)
	if alertID == "" {
		return nil, nil, fmt.Errorf("alert_id is required")
	}
	by := strings.TrimSpace(input.By)
	if by == "" {
		return nil, nil, fmt.Errorf("by is required")
	}

	if !s.engine.ResolveAlert(alertID, by, input.Resolution) {
		return nil, nil, fmt.Errorf("alert %s not found or already resolved", alertID)
	}
	return textToolResult(fmt.Sprintf("alert %s resolved by %s", alertID, by)), nil, nil
}

func (s *MCPServer) handleSuppressAlert(_ context.Context, _ *mcp.CallToolRequest, input suppressAlertInput) (*mcp.CallToolResult, any, error) {
	if s.engine == nil {
		return nil, nil, fmt.Errorf("engine unavailable")
	}
	alertID := strings.TrimSpace(input.AlertID)
	if alertID == "" {
		return nil, nil, fmt.Errorf("alert_id is required")
	}
	duration, err := time.ParseDuration(strings.TrimSpace(input.Duration))
	if err != nil || duration <= 0 {
		return nil, nil, fmt.Errorf("invalid duration %q", input.Duration)
	}

	if !s.engine.SuppressAlert(alertID, duration, input.Reason) {
		return nil, nil, fmt.Errorf("alert %s not found or not open", alertID)
	}
	return textToolResult(fmt.Sprintf("alert %s suppressed for %s", alertID, duration)), nil, nil
}

func (s *MCPServer) handleAlertStats(_ context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	if s.engine == nil {
		return nil, nil, fmt.Errorf("engine unavailable")
	}
	return jsonToolResult(s.engine.AlertStatistics())
}

func (s *MCPServer) handleListRules(_ context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	if s.engine == nil {
		return nil, nil, fmt.Errorf("engine unavailable")
	}
	return jsonToolResult(s.engine.Rules())
}

func (s *MCPServer) handleListCorrelations(_ context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	if s.engine == nil {
		return nil, nil, fmt.Errorf("engine unavailable")
	}
	return jsonToolResult(s.engine.Correlations())
}

func jsonToolResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	return textToolResult(string(data)), nil, nil
}

func textToolResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
