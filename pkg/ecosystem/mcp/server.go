// Package mcp exposes scenario authoring tools to AI agents over the Model
// Context Protocol: validation, schema export, the capability catalog, and
// scenario execution.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates a new MCP server with skyconform tools registered.
func NewServer(version string) *server.MCPServer {
	s := server.NewMCPServer(
		"skyconform",
		version,
		server.WithToolCapabilities(true),
	)

	// Register tools
	s.AddTool(
		mcp.NewTool("skyconform/validate",
			mcp.WithDescription("Validate a conformance scenario YAML file"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the scenario YAML file")),
		),
		HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("skyconform/run",
			mcp.WithDescription("Execute a conformance scenario (defaults to dry-run, which skips every step but verifies wiring and flow)"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the scenario YAML file")),
			mcp.WithBoolean("execute", mcp.Description("Invoke capabilities for real instead of dry-running")),
		),
		HandleRun,
	)

	s.AddTool(
		mcp.NewTool("skyconform/capabilities",
			mcp.WithDescription("List the capability catalog with parameter schemas"),
		),
		HandleCapabilities,
	)

	s.AddTool(
		mcp.NewTool("skyconform/schema",
			mcp.WithDescription("Export the scenario JSON Schema"),
		),
		HandleSchema,
	)

	return s
}
