package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/episim/internal/mcp"
)

func newMCPServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Run an MCP server over stdio",
		Long: `Serve episim tools to an MCP client over stdin/stdout.

Tools: episim_scenarios, episim_run, episim_runs, episim_series.
Resources: episim://scenarios and episim://runs/{id}.

Logs go to stderr; stdout carries the protocol. Every tool call is
appended to <root>/.episim/audit.jsonl.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			path, _ := cmd.Flags().GetString("config")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			server, err := mcp.NewServer(&mcp.Config{
				Name:       "episim",
				Version:    version,
				Root:       root,
				ConfigPath: path,
				Logger:     newLogger(cmd, cfg),
			})
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}
			return server.Run(cmd.Context())
		},
	}
}
