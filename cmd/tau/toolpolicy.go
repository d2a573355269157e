package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tau-run/tau/internal/channels"
	"github.com/tau-run/tau/internal/gate"
	"github.com/tau-run/tau/pkg/models"
)

// defaultRBACPolicyPath resolves the principal/policy file a deployment
// may place under its tau-root, consulted once at startup alongside the
// --deny-principal flags.
func defaultRBACPolicyPath(tauRoot string) string {
	return filepath.Join(tauRoot, "security", "rbac.json")
}

// resolvePrincipal derives the RBAC principal string the gate evaluates
// a mutating action against, from the active channel context: an event
// arriving on a channel binds its principal to "<transport>:<actor_id>";
// the interactive (non-channel) loop binds to "local:<user>".
func resolvePrincipal(event *models.MultiChannelInboundEvent, localUser string) string {
	if event != nil {
		transport := string(channels.NormalizeChatChannelID(event.Transport))
		if transport == "" {
			transport = event.Transport
		}
		return fmt.Sprintf("%s:%s", transport, event.ActorID)
	}
	if strings.TrimSpace(localUser) == "" {
		localUser = "operator"
	}
	return fmt.Sprintf("local:%s", localUser)
}

// buildGate constructs the Gate every tool invocation in this process
// calls through, wiring the policy, RBAC checker, and approval ticket
// store together. The RBAC checker resolves policy.RBACPolicyPath (or
// defaultRBACPolicyPath(tauRoot) when unset) once here, so every tool
// invocation afterward evaluates against the same immutable rule set.
func buildGate(policy gate.Policy, tauRoot string, deniedPrincipals []string, tickets *gate.TicketStore) (*gate.Gate, error) {
	rbacPath := policy.RBACPolicyPath
	if rbacPath == "" {
		rbacPath = defaultRBACPolicyPath(tauRoot)
	}
	rbacPolicy, err := gate.LoadRBACPolicyFile(rbacPath)
	if err != nil {
		return nil, fmt.Errorf("load rbac policy: %w", err)
	}
	return gate.New(policy, gate.NewFileRBACChecker(rbacPolicy, deniedPrincipals), tickets)
}
