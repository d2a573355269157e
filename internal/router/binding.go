package router

import (
	"regexp"
	"strings"

	"github.com/tau-run/tau/pkg/models"
)

// ResolveBinding picks the best-matching RouteBinding for an event within
// a given phase, per §4.H.5: each selector (transport, account_id,
// conversation_id, actor_id) scores 0 for "*" or an empty pattern, 1 for
// an exact match, and 0 disqualifies no binding — a mismatched non-"*"
// selector eliminates the row entirely. Highest specificity wins; the
// earlier-listed row wins ties.
func ResolveBinding(table models.RouteTable, event models.MultiChannelInboundEvent, accountID string, phase models.Phase) (models.RouteBinding, int, bool) {
	var best models.RouteBinding
	bestScore := -1
	found := false

	for _, binding := range table.Bindings {
		if binding.Phase != phase {
			continue
		}
		score, ok := matchSpecificity(binding, event, accountID)
		if !ok {
			continue
		}
		if score > bestScore {
			bestScore = score
			best = binding
			found = true
		}
	}

	return best, bestScore, found
}

func matchSpecificity(binding models.RouteBinding, event models.MultiChannelInboundEvent, accountID string) (int, bool) {
	score := 0

	for _, pair := range [][2]string{
		{binding.Transport, event.Transport},
		{binding.AccountID, accountID},
		{binding.ConversationID, event.ConversationID},
		{binding.ActorID, event.ActorID},
	} {
		pattern, actual := pair[0], pair[1]
		if pattern == "" || pattern == "*" {
			continue
		}
		if pattern != actual {
			return 0, false
		}
		score++
	}

	return score, true
}

// AttemptOrder resolves the ordered list of roles an event should be
// dispatched to: the delegated_categories override when phase is
// delegated_step and category_hint matches one of its keys, else the
// binding's primary role followed by its fallback roles.
func AttemptOrder(binding models.RouteBinding) (string, []string) {
	if binding.Phase == models.PhaseDelegatedStep && binding.CategoryHint != "" {
		if role, ok := binding.DelegatedCategories[binding.CategoryHint]; ok {
			return role, nil
		}
	}
	return binding.PrimaryRole, binding.FallbackRoles
}

var sessionKeyPlaceholder = regexp.MustCompile(`\{([a-zA-Z_]+)\}`)
var sessionKeyInvalidChar = regexp.MustCompile(`[^A-Za-z0-9_\-:.]`)

// RenderSessionKey substitutes {transport}, {account_id}, {conversation_id},
// {actor_id}, {thread_id}, and {role} placeholders in template, then
// sanitizes the result to [A-Za-z0-9_-:.], replacing every other rune
// with "_" and trimming leading/trailing "_".
func RenderSessionKey(template string, event models.MultiChannelInboundEvent, accountID, role string) string {
	values := map[string]string{
		"transport":       event.Transport,
		"account_id":      accountID,
		"conversation_id": event.ConversationID,
		"actor_id":        event.ActorID,
		"thread_id":       event.ThreadID,
		"role":            role,
	}

	rendered := sessionKeyPlaceholder.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		if v, ok := values[name]; ok {
			return v
		}
		return match
	})

	sanitized := sessionKeyInvalidChar.ReplaceAllString(rendered, "_")
	return strings.Trim(sanitized, "_")
}

// Route resolves the full routing decision for an inbound event: binding
// match, attempt order, and rendered session key, plus the
// multi_channel_route_trace_v1 trace record.
func Route(table models.RouteTable, event models.MultiChannelInboundEvent, accountID string, phase models.Phase) (models.RouteDecision, models.RouteTrace, bool) {
	binding, specificity, ok := ResolveBinding(table, event, accountID, phase)
	if !ok {
		return models.RouteDecision{}, models.RouteTrace{}, false
	}

	primary, fallbacks := AttemptOrder(binding)
	attemptOrder := append([]string{primary}, fallbacks...)
	sessionKey := RenderSessionKey(binding.SessionKeyTemplate, event, accountID, primary)

	decision := models.RouteDecision{
		BindingID:    binding.ID,
		Specificity:  specificity,
		ChosenRole:   primary,
		Fallbacks:    fallbacks,
		AttemptOrder: attemptOrder,
		SessionKey:   sessionKey,
	}
	trace := models.RouteTrace{
		Schema:       models.RouteTraceSchemaV1,
		BindingID:    decision.BindingID,
		Specificity:  decision.Specificity,
		ChosenRole:   decision.ChosenRole,
		Fallbacks:    decision.Fallbacks,
		AttemptOrder: decision.AttemptOrder,
		SessionKey:   decision.SessionKey,
	}
	return decision, trace, true
}
