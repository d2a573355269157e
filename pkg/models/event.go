package models

// ScheduleKind discriminates an EventDefinition's Schedule variant.
type ScheduleKind string

const (
	ScheduleImmediate ScheduleKind = "immediate"
	ScheduleAt        ScheduleKind = "at"
	SchedulePeriodic  ScheduleKind = "periodic"
)

// Schedule is the tagged-variant schedule of an EventDefinition. Only the
// fields matching Kind are meaningful.
type Schedule struct {
	Kind ScheduleKind `json:"kind"`

	// ScheduleAt
	AtUnixMS int64 `json:"at_unix_ms,omitempty"`

	// SchedulePeriodic
	Cron     string `json:"cron,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// EventDefinition is one scheduled event's on-disk definition file.
type EventDefinition struct {
	ID        string   `json:"id"`
	Channel   string   `json:"channel"`
	Prompt    string   `json:"prompt"`
	Schedule  Schedule `json:"schedule"`
	Enabled   bool     `json:"enabled"`
	CreatedAt int64    `json:"created_unix_ms"`
}

// WebhookSignatureAlgorithm identifies the HMAC scheme verifying a
// webhook-delivered immediate event.
type WebhookSignatureAlgorithm string

const (
	WebhookSignatureGitHubSHA256 WebhookSignatureAlgorithm = "github_sha256"
	WebhookSignatureSlackV0      WebhookSignatureAlgorithm = "slack_v0"
)

// WebhookImmediateEvent describes an inbound webhook delivery awaiting
// signature verification before it is materialized as an immediate
// EventDefinition.
type WebhookImmediateEvent struct {
	PayloadPath          string                    `json:"payload_path"`
	Channel              string                    `json:"channel"`
	Signature            string                    `json:"signature,omitempty"`
	Timestamp            int64                     `json:"timestamp,omitempty"`
	Secret               string                    `json:"-"`
	Algorithm             WebhookSignatureAlgorithm `json:"algorithm,omitempty"`
	SignatureMaxSkewSecs int64                     `json:"signature_max_skew_seconds,omitempty"`
}

// DueReason explains why a due-evaluation pass skipped or accepted an
// event; reported by the scheduler's offline diagnostics.
type DueReason string

const (
	DueReasonDue             DueReason = "due"
	DueReasonNotDue          DueReason = "not_due"
	DueReasonAlreadyRun      DueReason = "already_run"
	DueReasonStaleImmediate  DueReason = "stale_immediate"
	DueReasonDisabled        DueReason = "disabled"
	DueReasonMalformed       DueReason = "malformed"
)
