package router

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tau-run/tau/pkg/models"
)

func TestResolveChannelPolicyPrefersMostSpecificKey(t *testing.T) {
	table := models.ChannelPolicyTable{
		Policies: map[string]models.ChannelPolicy{
			"telegram:123": {DMPolicy: models.PolicyDeny},
			"telegram:*":   {DMPolicy: models.PolicyAllow, GroupPolicy: models.PolicyDeny},
			"*":            {DMPolicy: models.PolicyAllow, GroupPolicy: models.PolicyAllow},
		},
		Default: models.ChannelPolicy{DMPolicy: models.PolicyAllow, GroupPolicy: models.PolicyAllow},
	}

	exact := ResolveChannelPolicy(table, "telegram", "123")
	require.Equal(t, models.PolicyDeny, exact.DMPolicy)

	wildcardTransport := ResolveChannelPolicy(table, "telegram", "999")
	require.Equal(t, models.PolicyDeny, wildcardTransport.GroupPolicy)

	fallback := ResolveChannelPolicy(table, "discord", "anything")
	require.Equal(t, models.PolicyAllow, fallback.GroupPolicy)
}

func TestResolveChannelPolicyFallsBackToDefault(t *testing.T) {
	table := models.ChannelPolicyTable{Default: models.ChannelPolicy{DMPolicy: models.PolicyDeny}}
	got := ResolveChannelPolicy(table, "slack", "c1")
	require.Equal(t, models.PolicyDeny, got.DMPolicy)
}

func TestClassifyConversationWhatsAppIsAlwaysDM(t *testing.T) {
	event := models.MultiChannelInboundEvent{Transport: "whatsapp", ThreadID: "t1"}
	require.Equal(t, models.ConversationDM, ClassifyConversation(event))
}

func TestClassifyConversationMetadataOverride(t *testing.T) {
	event := models.MultiChannelInboundEvent{
		Transport: "discord",
		ThreadID:  "t1",
		Metadata:  map[string]any{"conversation_mode": "dm"},
	}
	require.Equal(t, models.ConversationDM, ClassifyConversation(event))
}

func TestClassifyConversationIsDMFlag(t *testing.T) {
	event := models.MultiChannelInboundEvent{Transport: "discord", Metadata: map[string]any{"is_dm": true}}
	require.Equal(t, models.ConversationDM, ClassifyConversation(event))
}

func TestClassifyConversationThreadIDImpliesGroup(t *testing.T) {
	event := models.MultiChannelInboundEvent{Transport: "slack", ThreadID: "t1"}
	require.Equal(t, models.ConversationGroup, ClassifyConversation(event))
}

func TestClassifyConversationDefaultsToGroup(t *testing.T) {
	event := models.MultiChannelInboundEvent{Transport: "slack"}
	require.Equal(t, models.ConversationGroup, ClassifyConversation(event))
}

func TestDetectMentionCommandEventKindIsAlwaysMention(t *testing.T) {
	event := models.MultiChannelInboundEvent{EventKind: models.EventKindCommand}
	require.True(t, DetectMention(event))
}

func TestDetectMentionMetadataFlag(t *testing.T) {
	event := models.MultiChannelInboundEvent{Metadata: map[string]any{"mentioned": true}}
	require.True(t, DetectMention(event))
}

func TestDetectMentionTextPatterns(t *testing.T) {
	for _, text := range []string{"hey @tau help", "<@123456> hi", "/tau status"} {
		event := models.MultiChannelInboundEvent{Text: text}
		require.True(t, DetectMention(event), text)
	}
}

func TestDetectMentionNoneDetected(t *testing.T) {
	event := models.MultiChannelInboundEvent{Text: "just a normal message"}
	require.False(t, DetectMention(event))
}

func TestDecidePolicyDMDenied(t *testing.T) {
	policy := models.ChannelPolicy{DMPolicy: models.PolicyDeny}
	event := models.MultiChannelInboundEvent{Transport: "whatsapp"}
	d := DecidePolicy(policy, event)
	require.Equal(t, models.PolicyDeny, d.Verdict)
	require.Equal(t, ReasonDenyChannelPolicyDM, d.ReasonCode)
}

func TestDecidePolicyDMAllowedWithAllowFromReason(t *testing.T) {
	policy := models.ChannelPolicy{DMPolicy: models.PolicyAllow, AllowFrom: []string{"user-1"}}
	event := models.MultiChannelInboundEvent{Transport: "whatsapp", ActorID: "user-1"}
	d := DecidePolicy(policy, event)
	require.Equal(t, models.PolicyAllow, d.Verdict)
	require.Equal(t, ReasonAllowFromList, d.ReasonCode)
}

func TestDecidePolicyGroupDenied(t *testing.T) {
	policy := models.ChannelPolicy{GroupPolicy: models.PolicyDeny}
	event := models.MultiChannelInboundEvent{Transport: "discord", ThreadID: "t1"}
	d := DecidePolicy(policy, event)
	require.Equal(t, models.PolicyDeny, d.Verdict)
	require.Equal(t, ReasonDenyChannelPolicyGroup, d.ReasonCode)
}

func TestDecidePolicyGroupRequiresMention(t *testing.T) {
	policy := models.ChannelPolicy{GroupPolicy: models.PolicyAllow, RequireMention: true}
	event := models.MultiChannelInboundEvent{Transport: "discord", ThreadID: "t1", Text: "no mention here"}
	d := DecidePolicy(policy, event)
	require.Equal(t, models.PolicyDeny, d.Verdict)
	require.Equal(t, ReasonDenyChannelPolicyMentionRequired, d.ReasonCode)
}

func TestDecidePolicyGroupAllowedWithMention(t *testing.T) {
	policy := models.ChannelPolicy{GroupPolicy: models.PolicyAllow, RequireMention: true}
	event := models.MultiChannelInboundEvent{Transport: "discord", ThreadID: "t1", Text: "@tau help"}
	d := DecidePolicy(policy, event)
	require.Equal(t, models.PolicyAllow, d.Verdict)
	require.Equal(t, ReasonAllowDefault, d.ReasonCode)
}
