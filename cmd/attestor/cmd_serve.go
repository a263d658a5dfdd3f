package main

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"attestor/internal/audit"
	"attestor/internal/logging"
	mcpserver "attestor/internal/mcp"
	"attestor/internal/registry"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server over stdio for agent integration",
	Long: "Starts an MCP server over stdin/stdout exposing scan, agent certify,\n" +
		"reconcile and policy report tools. The server monitors for parent\n" +
		"process death and self-terminates when its host disconnects.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	root, err := filepath.Abs(rootFlags.root)
	if err != nil {
		return err
	}

	var auditLog *audit.Log
	if log, err := audit.Open(filepath.Join(root, registry.DirName, audit.FileName)); err != nil {
		logging.New("mcp").Warn("audit log unavailable", "err", err)
	} else {
		auditLog = log
		defer auditLog.Close()
	}

	srv := mcpserver.NewServer(root, rootFlags.policy, auditLog, version)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	mcpserver.WatchParent(ctx, cancel)

	logging.New("mcp").Info("starting attestor MCP server over stdio", "root", root)
	return srv.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}
