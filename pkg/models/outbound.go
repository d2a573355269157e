package models

// DeliveryMode selects how the Outbound Dispatcher handles a send.
type DeliveryMode string

const (
	DeliveryModeChannelStore DeliveryMode = "channel_store"
	DeliveryModeDryRun       DeliveryMode = "dry_run"
	DeliveryModeProvider     DeliveryMode = "provider"
)

// OutboundReceipt records the outcome of delivering one chunk of an
// outbound message. ProviderMessageID is always redacted to a 4-char
// prefix before the receipt leaves the dispatcher.
type OutboundReceipt struct {
	Mode              DeliveryMode `json:"mode"`
	Transport         string       `json:"transport"`
	ConversationID    string       `json:"conversation_id"`
	ChunkIndex        int          `json:"chunk_index"`
	ChunkCount        int          `json:"chunk_count"`
	ProviderMessageID string       `json:"provider_message_id,omitempty"`
	Endpoint          string       `json:"endpoint,omitempty"`
	RequestBody       string       `json:"request_body,omitempty"`
	SentAtUnixMS      int64        `json:"sent_at_unix_ms"`
}

// DeliveryError is the error shape the dispatcher returns for a failed
// chunk send.
type DeliveryError struct {
	ReasonCode string `json:"reason_code"`
	Detail     string `json:"detail"`
	Retryable  bool   `json:"retryable"`
	ChunkIndex int    `json:"chunk_index"`
	ChunkCount int    `json:"chunk_count"`
	Endpoint   string `json:"endpoint,omitempty"`
	HTTPStatus int    `json:"http_status,omitempty"`
}

func (e *DeliveryError) Error() string {
	return e.ReasonCode + ": " + e.Detail
}

// BreakerState is the per-channel circuit breaker status.
type BreakerState string

const (
	BreakerClosed BreakerState = "closed"
	BreakerOpen   BreakerState = "open"
)

// ChannelBreakerStatus is the circuit breaker state for one
// (transport, conversation_id) FIFO.
type ChannelBreakerStatus struct {
	State               BreakerState `json:"state"`
	OpenUntilUnixMS     int64        `json:"breaker_open_until_unix_ms,omitempty"`
	LastOpenReason      string       `json:"breaker_last_open_reason,omitempty"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
}
