// Command repcam-mcp exposes a running repcam instance to MCP clients over
// stdio, reading sessions and live status through its REST API.
package main

import (
	"flag"
	"log/slog"
	"os"

	mcpserver "github.com/mark3labs/mcp-go/server"

	repmcp "github.com/claude/repcam/internal/mcp"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	baseURL := flag.String("url", "http://repcam", "base URL of the repcam server")
	flag.Parse()

	// stdout carries the protocol, so logs go to stderr.
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if v := os.Getenv("REPCAM_URL"); v != "" {
		*baseURL = v
	}

	m := repmcp.New(repmcp.NewHTTPClient(*baseURL), Version, log)
	log.Info("repcam-mcp serving stdio", "url", *baseURL, "version", Version)
	if err := mcpserver.ServeStdio(m); err != nil {
		log.Error("stdio server stopped", "error", err)
		os.Exit(1)
	}
}
