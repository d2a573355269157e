package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tau-run/tau/internal/proxy"
	"github.com/tau-run/tau/internal/rpc"
)

// buildServeRPCCmd drives the NDJSON RPC engine over stdin/stdout: one
// agent.Loop per run_id, each built from the same resolution steps as
// "tau run" so the credential, model, and tool-policy handling are
// shared across every dispatch path.
func buildServeRPCCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve-rpc",
		Short: "Serve the NDJSON run-lifecycle RPC protocol over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			loopFor := func(runID string) (rpc.RunLoop, error) {
				loop, _, _, err := buildLoop(0, "")
				if err != nil {
					return nil, fmt.Errorf("build loop for run %s: %w", runID, err)
				}
				return loop, nil
			}
			engine := rpc.New(rpc.Config{}, loopFor)
			reader := rpc.NewFrameReader(cmd.InOrStdin())
			writer := rpc.NewFrameWriter(cmd.OutOrStdout())
			return engine.Serve(ctx, reader, writer)
		},
	}
}

// buildServeProxyCmd starts the training attribution reverse proxy in
// front of the configured upstream, listening until interrupted.
func buildServeProxyCmd() *cobra.Command {
	var upstream string
	var listenAddr string
	var attributionLog string

	cmd := &cobra.Command{
		Use:   "serve-proxy",
		Short: "Serve the training attribution reverse proxy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := url.Parse(upstream)
			if err != nil {
				return fmt.Errorf("parse --upstream: %w", err)
			}
			if attributionLog == "" {
				attributionLog = flags.tauRoot + "/attribution.jsonl"
			}
			p := proxy.New(proxy.Config{
				Upstream:           target,
				AttributionLogPath: attributionLog,
			})

			server := &http.Server{
				Addr:              listenAddr,
				Handler:           p,
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- server.ListenAndServe() }()

			select {
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&upstream, "upstream", "https://api.anthropic.com", "Upstream base URL to forward requests to")
	cmd.Flags().StringVar(&listenAddr, "listen", ":8089", "Address to listen on")
	cmd.Flags().StringVar(&attributionLog, "attribution-log", "", "Path to append attribution records to (default: <tau-root>/attribution.jsonl)")
	return cmd
}
