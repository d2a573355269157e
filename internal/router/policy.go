// Package router resolves an inbound multi-channel event to a channel
// policy decision and a route binding, entirely through pure functions —
// no I/O, so the ingress runner owns persistence and the resolvers stay
// trivially testable.
package router

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tau-run/tau/pkg/models"
)

const (
	ReasonDenyChannelPolicyDM              = "deny_channel_policy_dm"
	ReasonDenyChannelPolicyGroup           = "deny_channel_policy_group"
	ReasonDenyChannelPolicyMentionRequired = "deny_channel_policy_mention_required"
	ReasonAllowFromList                    = "allow_from_list"
	ReasonAllowDefault                     = "allow_default"
)

// ResolveChannelPolicy prefix-matches "<transport>:<conversation>" →
// "<transport>:*" → "*" over table.Policies, falling back to
// table.Default when nothing matches.
func ResolveChannelPolicy(table models.ChannelPolicyTable, transport, conversationID string) models.ChannelPolicy {
	for _, key := range []string{
		fmt.Sprintf("%s:%s", transport, conversationID),
		fmt.Sprintf("%s:*", transport),
		"*",
	} {
		if policy, ok := table.Policies[key]; ok {
			return policy
		}
	}
	return table.Default
}

// ClassifyConversation decides dm vs group per §4.H.2: whatsapp is always
// a dm; explicit metadata fields override; guild_id/thread_id implies
// group; otherwise group.
func ClassifyConversation(event models.MultiChannelInboundEvent) models.ConversationKind {
	if event.Transport == "whatsapp" {
		return models.ConversationDM
	}

	for _, key := range []string{"conversation_mode", "chat_type", "channel_type"} {
		if raw, ok := event.Metadata[key]; ok {
			if s, ok := raw.(string); ok {
				switch strings.ToLower(strings.TrimSpace(s)) {
				case "dm", "direct", "private":
					return models.ConversationDM
				case "group", "channel", "public":
					return models.ConversationGroup
				}
			}
		}
	}
	if raw, ok := event.Metadata["is_dm"]; ok {
		if b, ok := raw.(bool); ok {
			if b {
				return models.ConversationDM
			}
			return models.ConversationGroup
		}
	}

	if event.ThreadID != "" {
		return models.ConversationGroup
	}
	if raw, ok := event.Metadata["guild_id"]; ok {
		if s, ok := raw.(string); ok && s != "" {
			return models.ConversationGroup
		}
	}

	return models.ConversationGroup
}

var mentionTextPattern = regexp.MustCompile(`@tau|<@|/tau`)

// DetectMention reports whether event carries a mention, per §4.H.3:
// a Command event kind is always a mention; explicit metadata mention
// flags/count/list win next; otherwise the raw text is scanned for
// "@tau", "<@" (a platform mention token), or "/tau".
func DetectMention(event models.MultiChannelInboundEvent) bool {
	if event.EventKind == models.EventKindCommand {
		return true
	}

	if raw, ok := event.Metadata["mentioned"]; ok {
		if b, ok := raw.(bool); ok {
			return b
		}
	}
	if raw, ok := event.Metadata["mention_count"]; ok {
		if n, ok := raw.(float64); ok && n > 0 {
			return true
		}
		if n, ok := raw.(int); ok && n > 0 {
			return true
		}
	}
	if raw, ok := event.Metadata["mentions"]; ok {
		if list, ok := raw.([]any); ok && len(list) > 0 {
			return true
		}
		if list, ok := raw.([]string); ok && len(list) > 0 {
			return true
		}
	}

	return mentionTextPattern.MatchString(event.Text)
}

// DecidePolicy applies the channel policy to the event's conversation kind
// and mention status, returning an allow/deny verdict with reason_code.
func DecidePolicy(policy models.ChannelPolicy, event models.MultiChannelInboundEvent) models.PolicyDecision {
	kind := ClassifyConversation(event)
	mentioned := DetectMention(event)

	decision := models.PolicyDecision{ConversationKind: kind, Mentioned: mentioned}

	if kind == models.ConversationDM {
		if policy.DMPolicy == models.PolicyDeny {
			decision.Verdict = models.PolicyDeny
			decision.ReasonCode = ReasonDenyChannelPolicyDM
			return decision
		}
		decision.Verdict = models.PolicyAllow
		decision.ReasonCode = allowFromReason(policy, event.ActorID)
		return decision
	}

	if policy.GroupPolicy == models.PolicyDeny {
		decision.Verdict = models.PolicyDeny
		decision.ReasonCode = ReasonDenyChannelPolicyGroup
		return decision
	}
	if policy.RequireMention && !mentioned {
		decision.Verdict = models.PolicyDeny
		decision.ReasonCode = ReasonDenyChannelPolicyMentionRequired
		return decision
	}
	decision.Verdict = models.PolicyAllow
	decision.ReasonCode = allowFromReason(policy, event.ActorID)
	return decision
}

func allowFromReason(policy models.ChannelPolicy, actorID string) string {
	for _, allowed := range policy.AllowFrom {
		if allowed == actorID {
			return ReasonAllowFromList
		}
	}
	return ReasonAllowDefault
}
