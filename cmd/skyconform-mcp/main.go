// Package main provides the skyconform-mcp binary, an MCP server that lets
// AI agents validate, inspect and dry-run conformance scenarios.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	scmcp "github.com/aerovista/skyconform/pkg/ecosystem/mcp"
)

var version = "dev"

func main() {
	s := scmcp.NewServer(version)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
