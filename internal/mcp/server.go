// Package mcp provides an MCP (Model Context Protocol) server for episim.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/episim/internal/config"
	"github.com/nvandessel/episim/internal/logging"
	"github.com/nvandessel/episim/internal/ratelimit"
	"github.com/nvandessel/episim/internal/store"
)

// Server wraps the MCP SDK server and exposes episim runs as tools.
type Server struct {
	server       *sdk.Server
	store        *store.SQLiteStore
	root         string
	configPath   string
	logger       *slog.Logger
	audit        *AuditLogger
	toolLimiters ratelimit.ToolLimiters

	// runMu serializes episim_run calls.
	runMu sync.Mutex
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "episim")
	Version string // Server version
	Root    string // Project root directory
	// ConfigPath is an explicit config file. Empty means the project's
	// episim.{yaml,yml,toml}, if any.
	ConfigPath string
	Logger     *slog.Logger
}

// NewServer creates a new MCP server with episim tools. The configuration
// is validated once here and reloaded on every call.
func NewServer(cfg *Config) (*Server, error) {
	simCfg, err := config.Load(cfg.Root, cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := simCfg.Validate(); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to open results store: %w", err)
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	s := &Server{
		server:       mcpServer,
		store:        st,
		root:         cfg.Root,
		configPath:   cfg.ConfigPath,
		logger:       logging.OrDiscard(cfg.Logger),
		audit:        NewAuditLogger(cfg.Root),
		toolLimiters: ratelimit.NewToolLimiters(),
	}
	s.registerTools()
	s.registerResources()
	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, shutdownSignals...)
	defer stop()

	err := s.server.Run(ctx, &sdk.StdioTransport{})
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close closes the results store and the audit log.
func (s *Server) Close() error {
	s.audit.Close()
	return s.store.Close()
}

func (s *Server) loadConfig() (*config.Config, error) {
	return config.Load(s.root, s.configPath)
}
