package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/mdcapital/claimsight/internal/api"
	"github.com/mdcapital/claimsight/internal/config"
	"github.com/mdcapital/claimsight/internal/warmup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		return runServer(addr)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running server's status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
}

// loadApp reads configuration, sets up logging and builds the app.
func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log.Level)
	return newApp(ctx, cfg)
}

func (a *app) interactions() api.InteractionStore {
	if a.store == nil {
		return nil
	}
	return a.store
}

func runServer(addrOverride string) error {
	fmt.Fprintf(os.Stderr, "claimsight version %s\n", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.ensureLocalModels(ctx); err != nil {
		return err
	}

	go warmup.NewWorker(a.cfg.Retrieval.WarmInterval, warmup.IndexTask(a.searcher)).Run(ctx)

	handler := api.NewHandler(api.Deps{
		Data:         a.data,
		Agents:       a.agents,
		Searcher:     a.searcher,
		Interactions: a.interactions(),
		Mode:         a.cfg.Agent.Mode,
		Token:        a.cfg.Server.Token,
	})

	addr := a.cfg.Server.Addr
	if addrOverride != "" {
		addr = addrOverride
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("claimsight listening", "addr", addr, "mode", a.cfg.Agent.Mode, "provider", a.cfg.LLM.Provider)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMCP() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.ensureLocalModels(ctx); err != nil {
		return err
	}

	go warmup.NewWorker(a.cfg.Retrieval.WarmInterval, warmup.IndexTask(a.searcher)).Run(ctx)

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Data:         a.data,
		Agents:       a.agents,
		Searcher:     a.searcher,
		Interactions: a.interactions(),
		Version:      version,
	})
	slog.Info("MCP server started (stdio transport)")

	stdioSrv := server.NewStdioServer(mcpSrv)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

type healthInfo struct {
	Status      string `json:"status"`
	AgentType   string `json:"agent_type"`
	DataLoaded  bool   `json:"data_loaded"`
	RecordCount int    `json:"record_count"`
}

func showStatus(ctx context.Context) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
		return nil
	}
	var h healthInfo
	if err := decodeJSON(resp, &h); err != nil {
		printStatus("Server", "error (%v)", err)
		return nil
	}
	printStatus("Server", "running at %s", client.baseURL)
	printStatus("Agent", "%s", h.AgentType)
	printStatus("Records", "%d", h.RecordCount)

	resp, err = client.get(ctx, "/interactions?limit=100")
	if err == nil {
		var interactions []json.RawMessage
		if decodeJSON(resp, &interactions) == nil {
			printStatus("Interactions", "%s", countLabel(len(interactions), 100))
		}
	}
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
