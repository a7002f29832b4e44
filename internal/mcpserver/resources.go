package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	resourceAlertSummary = "vigil://alerts/summary"
	resourceRulesList    = "vigil://rules/list"
	resourceChannelsList = "vigil://channels/list"
)

func (s *MCPServer) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         resourceAlertSummary,
		Name:        "Alert Summary",
		Description: "Aggregate alert counts by status, severity, and category",
		MIMEType:    "application/json",
	}, s.handleAlertSummaryResource)

	s.server.AddResource(&mcp.Resource{
		URI:         resourceRulesList,
		Name:        "Rules List",
		Description: "Configured threshold rules",
		MIMEType:    "application/json",
	}, s.handleRulesListResource)

	s.server.AddResource(&mcp.Resource{
		URI:         resourceChannelsList,
		Name:        "Channels List",
		Description: "Registered notification channels",
		MIMEType:    "application/json",
	}, s.handleChannelsListResource)
}

func (s *MCPServer) handleAlertSummaryResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	if s.engine == nil {
		return nil, fmt.Errorf("engine unavailable")
	}
	return jsonResourceResult(resourceAlertSummary, req, s.engine.AlertStatistics())
}

func (s *MCPServer) handleRulesListResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	if s.engine == nil {
		return nil, fmt.Errorf("engine unavailable")
	}
	return jsonResourceResult(resourceRulesList, req, s.engine.Rules())
}

func (s *MCPServer) handleChannelsListResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	if s.engine == nil {
		return nil, fmt.Errorf("engine unavailable")
	}
	return jsonResourceResult(resourceChannelsList, req, s.engine.Channels())
}

func jsonResourceResult(uri string, req *mcp.ReadResourceRequest, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if req != nil && req.Params != nil && req.Params.URI != "" {
		uri = req.Params.URI
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
