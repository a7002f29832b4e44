package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/calder-ops/vigil/internal/alerting"
	"github.com/calder-ops/vigil/internal/config"
	"github.com/calder-ops/vigil/internal/engine"
)

func newTestMCPServer(t *testing.T) (*MCPServer, *engine.Engine) {
	t.Helper()
	eng := engine.New(config.Default(), nil, zap.NewNop())
	return New(eng, zap.NewNop()), eng
}

func connectClient(t *testing.T, srv *MCPServer) *mcp.ClientSession {
	t.Helper()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	runCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.server.Run(runCtx, serverTransport)
	}()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	session, err := client.Connect(context.Background(), clientTransport, nil)
	if err != nil {
		cancel()
		t.Fatalf("connect client: %v", err)
	}

	t.Cleanup(func() {
		_ = session.Close()
		cancel()
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Logf("mcp server run exited with: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Log("timed out waiting for mcp server shutdown")
		}
	})

	return session
}

func decodeToolJSON(t *testing.T, result *mcp.CallToolResult, out any) {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatalf("empty tool result: %#v", result)
	}

	var text string
	switch content := result.Content[0].(type) {
	case *mcp.TextContent:
		text = content.Text
	default:
		t.Fatalf("unexpected content type %T", result.Content[0])
	}

	if err := json.Unmarshal([]byte(text), out); err != nil {
		t.Fatalf("decode tool json: %v (text=%q)", err, text)
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatalf("empty tool result: %#v", result)
	}
	content, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", result.Content[0])
	}
	return content.Text
}

func TestToolsRegistered(t *testing.T) {
	srv, _ := newTestMCPServer(t)
	session := connectClient(t, srv)

	result, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}

	names := make([]string, 0, len(result.Tools))
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)

	expected := []string{
		"vigil_acknowledge_alert",
		"vigil_alert_stats",
		"vigil_create_alert",
		"vigil_list_alerts",
		"vigil_list_correlations",
		"vigil_list_rules",
		"vigil_resolve_alert",
		"vigil_suppress_alert",
	}

	if len(names) != len(expected) {
		t.Fatalf("expected %d tools, got %d: %v", len(expected), len(names), names)
	}
	for i := range expected {
		if names[i] != expected[i] {
			t.Fatalf("unexpected tool list: got %v want %v", names, expected)
		}
	}
}

func TestCreateAndListAlertsTools(t *testing.T) {
	srv, _ := newTestMCPServer(t)
	session := connectClient(t, srv)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "vigil_create_alert",
		Arguments: map[string]any{
			"title":    "disk filling",
			"severity": "critical",
			"category": "system",
			"source":   "host-1",
			"metric":   "disk.used_percent",
			"value":    97.5,
		},
	})
	if err != nil {
		t.Fatalf("call vigil_create_alert: %v", err)
	}

	var created struct {
		Alert   alerting.Alert `json:"alert"`
		Created bool           `json:"created"`
	}
	decodeToolJSON(t, result, &created)
	if !created.Created || created.Alert.ID == "" {
		t.Fatalf("unexpected create result: %+v", created)
	}

	// The same source/metric/category inside the dedup window is absorbed.
	result, err = session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "vigil_create_alert",
		Arguments: map[string]any{
			"title":    "disk filling",
			"category": "system",
			"source":   "host-1",
			"metric":   "disk.used_percent",
		},
	})
	if err != nil {
		t.Fatalf("call vigil_create_alert (dup): %v", err)
	}
	decodeToolJSON(t, result, &created)
	if created.Created {
		t.Fatal("expected duplicate to be absorbed")
	}

	result, err = session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "vigil_list_alerts",
		Arguments: map[string]any{"status": "open", "severity": "critical"},
	})
	if err != nil {
		t.Fatalf("call vigil_list_alerts: %v", err)
	}
	var alerts []alertSummary
	decodeToolJSON(t, result, &alerts)
	if len(alerts) != 1 || alerts[0].Metric != "disk.used_percent" {
		t.Fatalf("unexpected alert list: %+v", alerts)
	}
}

func TestListAlertsToolRejectsBadStatus(t *testing.T) {
	srv, _ := newTestMCPServer(t)
	session := connectClient(t, srv)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "vigil_list_alerts",
		Arguments: map[string]any{"status": "sideways"},
	})
	if err == nil && (result == nil || !result.IsError) {
		t.Fatal("expected error for invalid status")
	}
}

func TestAlertLifecycleTools(t *testing.T) {
	srv, eng := newTestMCPServer(t)
	alert, _ := eng.CreateAlert(alerting.CreateRequest{
		Title: "latency spike", Category: "service", Source: "api", Metric: "latency.p99",
	})
	session := connectClient(t, srv)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "vigil_acknowledge_alert",
		Arguments: map[string]any{"alert_id": alert.ID, "by": "oncall", "note": "looking"},
	})
	if err != nil {
		t.Fatalf("call vigil_acknowledge_alert: %v", err)
	}
	if text := toolText(t, result); !strings.Contains(text, "acknowledged") {
		t.Fatalf("unexpected ack result: %q", text)
	}

	if _, err = session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "vigil_resolve_alert",
		Arguments: map[string]any{"alert_id": alert.ID, "by": "oncall", "resolution": "rolled back"},
	}); err != nil {
		t.Fatalf("call vigil_resolve_alert: %v", err)
	}

	got, _ := eng.GetAlert(alert.ID)
	if got.Status != alerting.StatusResolved {
		t.Fatalf("unexpected status after resolve: %s", got.Status)
	}

	// Resolving again must surface an error.
	result, err = session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "vigil_resolve_alert",
		Arguments: map[string]any{"alert_id": alert.ID, "by": "oncall"},
	})
	if err == nil && (result == nil || !result.IsError) {
		t.Fatal("expected error resolving a resolved alert")
	}
}

func TestSuppressAlertTool(t *testing.T) {
	srv, eng := newTestMCPServer(t)
	alert, _ := eng.CreateAlert(alerting.CreateRequest{
		Title: "noisy check", Category: "application", Source: "worker",
	})
	session := connectClient(t, srv)

	if _, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "vigil_suppress_alert",
		Arguments: map[string]any{"alert_id": alert.ID, "duration": "30m", "reason": "maintenance"},
	}); err != nil {
		t.Fatalf("call vigil_suppress_alert: %v", err)
	}

	got, _ := eng.GetAlert(alert.ID)
	if got.Status != alerting.StatusSuppressed {
		t.Fatalf("unexpected status: %s", got.Status)
	}

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "vigil_suppress_alert",
		Arguments: map[string]any{"alert_id": alert.ID, "duration": "soon"},
	})
	if err == nil && (result == nil || !result.IsError) {
		t.Fatal("expected error for unparseable duration")
	}
}

func TestAlertStatsTool(t *testing.T) {
	srv, eng := newTestMCPServer(t)
	eng.CreateAlert(alerting.CreateRequest{Title: "a", Category: "system", Source: "s1", Severity: alerting.SeverityCritical})
	eng.CreateAlert(alerting.CreateRequest{Title: "b", Category: "system", Source: "s2", Severity: alerting.SeverityWarning})
	session := connectClient(t, srv)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: "vigil_alert_stats"})
	if err != nil {
		t.Fatalf("call vigil_alert_stats: %v", err)
	}
	var stats alerting.Statistics
	decodeToolJSON(t, result, &stats)
	if stats.Total != 2 || stats.BySeverity[alerting.SeverityCritical] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestListRulesTool(t *testing.T) {
	srv, eng := newTestMCPServer(t)
	if _, err := eng.AddRule(alerting.Rule{
		Name: "cpu high", Category: "system", Severity: alerting.SeverityWarning,
		Condition: alerting.Condition{Metric: "cpu.usage", Operator: alerting.OpGreater, Threshold: 80, Aggregation: "avg"},
		Enabled:   true,
	}); err != nil {
		t.Fatalf("AddRule error: %v", err)
	}
	session := connectClient(t, srv)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: "vigil_list_rules"})
	if err != nil {
		t.Fatalf("call vigil_list_rules: %v", err)
	}
	var rules []alerting.Rule
	decodeToolJSON(t, result, &rules)
	if len(rules) != 1 || rules[0].Name != "cpu high" {
		t.Fatalf("unexpected rules: %+v", rules)
	}
}

func TestResourcesRegistered(t *testing.T) {
	srv, eng := newTestMCPServer(t)
	eng.CreateAlert(alerting.CreateRequest{Title: "a", Category: "system", Source: "s1"})
	session := connectClient(t, srv)

	listed, err := session.ListResources(context.Background(), &mcp.ListResourcesParams{})
	if err != nil {
		t.Fatalf("list resources: %v", err)
	}
	if len(listed.Resources) != 3 {
		t.Fatalf("expected 3 resources, got %d", len(listed.Resources))
	}

	read, err := session.ReadResource(context.Background(), &mcp.ReadResourceParams{URI: resourceAlertSummary})
	if err != nil {
		t.Fatalf("read alert summary: %v", err)
	}
	if len(read.Contents) != 1 || read.Contents[0].MIMEType != "application/json" {
		t.Fatalf("unexpected resource contents: %+v", read.Contents)
	}
	var stats alerting.Statistics
	if err := json.Unmarshal([]byte(read.Contents[0].Text), &stats); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if stats.Total != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
