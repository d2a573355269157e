package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tau-run/tau/internal/config"
	"github.com/tau-run/tau/internal/router"
	"github.com/tau-run/tau/pkg/models"
)

// loadChannelPolicyTable reads a models.ChannelPolicyTable from path,
// defaulting to <tau-root>/channel-policy.json. A missing file yields an
// empty table (router.ResolveChannelPolicy's zero-value default verdict
// allows everything), so a deployment with no policy configured behaves
// the same as one with no router section at all.
func loadChannelPolicyTable(path string) (models.ChannelPolicyTable, error) {
	if path == "" {
		path = filepath.Join(flags.tauRoot, "channel-policy.json")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.ChannelPolicyTable{}, nil
		}
		return models.ChannelPolicyTable{}, fmt.Errorf("channels: read %s: %w", path, err)
	}
	var table models.ChannelPolicyTable
	if err := json.Unmarshal(data, &table); err != nil {
		return models.ChannelPolicyTable{}, fmt.Errorf("channels: parse %s: %w", path, err)
	}
	return table, nil
}

// loadRouteTable reads a models.RouteTable from path, defaulting to
// <tau-root>/route-table.json. A missing file yields no bindings, so
// router.Route's "no match" path is exercised rather than erroring.
func loadRouteTable(path string) (models.RouteTable, error) {
	if path == "" {
		path = filepath.Join(flags.tauRoot, "route-table.json")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.RouteTable{}, nil
		}
		return models.RouteTable{}, fmt.Errorf("channels: read %s: %w", path, err)
	}
	var table models.RouteTable
	if err := json.Unmarshal(data, &table); err != nil {
		return models.RouteTable{}, fmt.Errorf("channels: parse %s: %w", path, err)
	}
	return table, nil
}

// channelRouter bundles the two data tables the multi-channel router
// resolves an inbound event against, loaded once per command invocation
// (both files are small and read-only from the scheduler's perspective).
type channelRouter struct {
	policies models.ChannelPolicyTable
	bindings models.RouteTable
}

func newChannelRouter(cfg config.Config) (*channelRouter, error) {
	policies, err := loadChannelPolicyTable(cfg.Router.ChannelPolicyPath)
	if err != nil {
		return nil, err
	}
	bindings, err := loadRouteTable(cfg.Router.RouteTablePath)
	if err != nil {
		return nil, err
	}
	return &channelRouter{policies: policies, bindings: bindings}, nil
}

// decide resolves event's channel policy and (if allowed) its route
// binding, logging a multi_channel_route_trace_v1 record on a match. The
// boolean return is false only when the event is explicitly denied by a
// configured ChannelPolicy; an empty RouteTable (the default for a
// deployment that has not configured any bindings) allows the event
// through unrouted rather than denying everything, so the scheduler
// keeps working exactly as it did before the router existed.
func (cr *channelRouter) decide(event models.MultiChannelInboundEvent, accountID string) (models.RouteDecision, bool) {
	policy := router.ResolveChannelPolicy(cr.policies, event.Transport, event.ConversationID)
	verdict := router.DecidePolicy(policy, event)
	if verdict.Verdict == models.PolicyDeny {
		slog.Info("channel event denied", "transport", event.Transport, "conversation_id", event.ConversationID, "reason_code", verdict.ReasonCode)
		return models.RouteDecision{}, false
	}

	if len(cr.bindings.Bindings) == 0 {
		return models.RouteDecision{}, true
	}

	decision, trace, ok := router.Route(cr.bindings, event, accountID, models.PhasePlanner)
	if !ok {
		slog.Info("channel event unrouted", "transport", event.Transport, "conversation_id", event.ConversationID)
		return models.RouteDecision{}, false
	}
	slog.Info("channel event routed", "schema", trace.Schema, "binding_id", trace.BindingID, "chosen_role", trace.ChosenRole, "session_key", trace.SessionKey)
	return decision, true
}
