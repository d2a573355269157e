package models

// EventKind classifies a MultiChannelInboundEvent.
type EventKind string

const (
	EventKindMessage EventKind = "message"
	EventKindEdit    EventKind = "edit"
	EventKindCommand EventKind = "command"
	EventKindSystem  EventKind = "system"
)

// Attachment is one file/media item carried by an inbound event.
type Attachment struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// MultiChannelInboundEvent is one ingress event, transport-neutral.
type MultiChannelInboundEvent struct {
	Transport      string            `json:"transport"`
	EventKind      EventKind         `json:"event_kind"`
	EventID        string            `json:"event_id"`
	ConversationID string            `json:"conversation_id"`
	ThreadID       string            `json:"thread_id,omitempty"`
	ActorID        string            `json:"actor_id"`
	TimestampMS    int64             `json:"timestamp_ms"`
	Text           string            `json:"text"`
	Attachments    []Attachment      `json:"attachments,omitempty"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
}

// Phase is an orchestration stage a RouteBinding is scoped to.
type Phase string

const (
	PhasePlanner       Phase = "planner"
	PhaseDelegatedStep Phase = "delegated_step"
	PhaseReview        Phase = "review"
)

// RouteBinding is one row of a RouteTable, matched by specificity over
// (transport, account_id, conversation_id, actor_id).
type RouteBinding struct {
	ID                string            `json:"id"`
	Transport         string            `json:"transport"`
	AccountID         string            `json:"account_id"`
	ConversationID    string            `json:"conversation_id"`
	ActorID           string            `json:"actor_id"`
	Phase             Phase             `json:"phase"`
	CategoryHint      string            `json:"category_hint,omitempty"`
	PrimaryRole       string            `json:"primary_role"`
	FallbackRoles     []string          `json:"fallback_roles,omitempty"`
	DelegatedCategories map[string]string `json:"delegated_categories,omitempty"`
	SessionKeyTemplate  string          `json:"session_key_template"`
}

// RouteTable is an ordered list of RouteBinding rows; earlier entries win
// specificity ties.
type RouteTable struct {
	Bindings []RouteBinding `json:"bindings"`
}

// RouteDecision is the outcome of resolving a RouteBinding against an
// inbound event: the chosen role, its fallbacks, and the rendered
// session key.
type RouteDecision struct {
	BindingID    string   `json:"binding_id"`
	Specificity  int      `json:"specificity"`
	ChosenRole   string   `json:"chosen_role"`
	Fallbacks    []string `json:"fallbacks"`
	AttemptOrder []string `json:"attempt_order"`
	SessionKey   string   `json:"session_key"`
}

// PolicyVerdict is allow or deny.
type PolicyVerdict string

const (
	PolicyAllow PolicyVerdict = "allow"
	PolicyDeny  PolicyVerdict = "deny"
)

// ChannelPolicy governs whether an inbound event from a given channel key
// is admitted, keyed by prefix-matching "<transport>:<conversation>" →
// "<transport>:*" → "*" against a ChannelPolicyTable.
type ChannelPolicy struct {
	DMPolicy       PolicyVerdict `json:"dm_policy"`
	GroupPolicy    PolicyVerdict `json:"group_policy"`
	RequireMention bool          `json:"require_mention"`
	AllowFrom      []string      `json:"allow_from,omitempty"`
}

// ChannelPolicyTable maps channel-key patterns ("telegram:123", "telegram:*",
// "*") to the ChannelPolicy in effect for that key.
type ChannelPolicyTable struct {
	Policies map[string]ChannelPolicy `json:"policies"`
	Default  ChannelPolicy            `json:"default"`
}

// ConversationKind classifies an inbound event as a direct message or a
// group conversation.
type ConversationKind string

const (
	ConversationDM    ConversationKind = "dm"
	ConversationGroup ConversationKind = "group"
)

// PolicyDecision is the allow/deny verdict for one inbound event, with the
// reason_code a trace record surfaces.
type PolicyDecision struct {
	Verdict          PolicyVerdict    `json:"verdict"`
	ReasonCode       string           `json:"reason_code"`
	ConversationKind ConversationKind `json:"conversation_kind"`
	Mentioned        bool             `json:"mentioned"`
}

// RouteTrace is the multi_channel_route_trace_v1 record emitted once per
// routed event.
type RouteTrace struct {
	Schema       string   `json:"schema"`
	BindingID    string   `json:"binding_id"`
	Specificity  int      `json:"specificity"`
	ChosenRole   string   `json:"chosen_role"`
	Fallbacks    []string `json:"fallbacks"`
	AttemptOrder []string `json:"attempt_order"`
	SessionKey   string   `json:"session_key"`
}

const RouteTraceSchemaV1 = "multi_channel_route_trace_v1"
