// Package mcpserver exposes the alerting engine as MCP tools and resources
// over an SSE HTTP transport, so agent clients can inspect and drive alerts.
package mcpserver

import (
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/calder-ops/vigil/internal/engine"
)

// Version is injected from the daemon build metadata.
var Version = "dev"

// MCPServer exposes engine capabilities as MCP tools/resources.
type MCPServer struct {
	server  *mcp.Server
	handler http.Handler
	engine  *engine.Engine
	logger  *zap.Logger
}

// New creates and wires the MCP server surface over the engine.
func New(eng *engine.Engine, logger *zap.Logger) *MCPServer {
	if logger == nil {
		logger = zap.NewNop()
	}

	implVersion := Version
	if implVersion == "" {
		implVersion = "dev"
	}

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "vigil",
		Version: implVersion,
	}, nil)

	s := &MCPServer{
		server: srv,
		engine: eng,
		logger: logger.Named("mcp"),
	}

	s.registerTools()
	s.registerResources()
	s.handler = mcp.NewSSEHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil)

	return s
}

// Handler returns the HTTP SSE transport handler mounted at /mcp.
func (s *MCPServer) Handler() http.Handler {
	if s == nil {
		return http.NotFoundHandler()
	}
	return s.handler
}
