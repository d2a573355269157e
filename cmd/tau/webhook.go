package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tau-run/tau/internal/cron"
	"github.com/tau-run/tau/pkg/models"
)

// buildEventsWebhookCmd starts an HTTP listener that turns a signed
// inbound webhook delivery into a new immediate event definition, per
// §4.G's webhook ingestion: the next scheduler tick (or the very next
// one, via its fsnotify watch) picks the definition up and runs it like
// any other due event.
//
// A request targets one channel via the "channel" path segment
// (POST /webhook/{channel}) and carries its provider's signature
// envelope in headers: X-Tau-Signature, X-Tau-Algorithm
// ("github_sha256" or "slack_v0"), and (slack_v0 only) X-Tau-Timestamp.
// The channel's HMAC secret is never accepted from the request; it is
// resolved from the credential store under "webhook:<channel>", the
// same per-provider-name convention buildOutboundProviders uses for bot
// tokens.
func buildEventsWebhookCmd() *cobra.Command {
	var listenAddr string
	var maxSkew time.Duration

	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Listen for signed webhook deliveries and materialize them as immediate events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			schedulerCfg, err := buildSchedulerConfig()
			if err != nil {
				return err
			}
			store, err := loadCredentialStore(defaultCredentialStorePath(flags.tauRoot))
			if err != nil {
				return err
			}

			handler := &webhookHandler{
				definitionsDir: schedulerCfg.DefinitionsDir,
				store:          store,
				maxSkewSecs:    int64(maxSkew.Seconds()),
			}

			server := &http.Server{
				Addr:              listenAddr,
				Handler:           handler,
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
				return nil
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			}
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", ":8090", "Address to listen on")
	cmd.Flags().DurationVar(&maxSkew, "max-skew", 5*time.Minute, "Maximum allowed clock skew for slack_v0 signatures")
	return cmd
}

type webhookHandler struct {
	definitionsDir string
	store          *CredentialStore
	maxSkewSecs    int64
}

func (h *webhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	channel := channelFromPath(r.URL.Path)
	if channel == "" {
		http.Error(w, "missing channel path segment", http.StatusBadRequest)
		return
	}

	secret, ok := lookupCredentialValue(h.store, "webhook:"+channel)
	if !ok {
		http.Error(w, fmt.Sprintf("no webhook secret registered for channel %q", channel), http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	req := models.WebhookImmediateEvent{
		Channel:              channel,
		Signature:            r.Header.Get("X-Tau-Signature"),
		Algorithm:            models.WebhookSignatureAlgorithm(r.Header.Get("X-Tau-Algorithm")),
		Secret:               secret,
		SignatureMaxSkewSecs: h.maxSkewSecs,
	}
	if ts := r.Header.Get("X-Tau-Timestamp"); ts != "" {
		if parsed, err := strconv.ParseInt(ts, 10, 64); err == nil {
			req.Timestamp = parsed
		}
	}

	def, err := cron.IngestWebhook(h.definitionsDir, req, body, time.Now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"event_id": def.ID, "status": "accepted"})
}

// channelFromPath extracts the channel name from a "/webhook/<channel>"
// request path, tolerating a missing or present trailing slash.
func channelFromPath(path string) string {
	const prefix = "/webhook/"
	if len(path) <= len(prefix) || path[:len(prefix)] != prefix {
		return ""
	}
	channel := path[len(prefix):]
	for len(channel) > 0 && channel[len(channel)-1] == '/' {
		channel = channel[:len(channel)-1]
	}
	return channel
}
