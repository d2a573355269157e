package models

// AttributionRecord is one JSONL row appended to the training
// attribution log for every request the proxy forwards, successfully
// or not.
type AttributionRecord struct {
	RolloutID     string `json:"rollout_id"`
	AttemptID     string `json:"attempt_id"`
	Sequence      int64  `json:"sequence"`
	TraceID       string `json:"trace_id,omitempty"`
	RequestBytes  int    `json:"request_bytes"`
	ResponseBytes int    `json:"response_bytes"`
	StatusCode    int    `json:"status_code"`
	DurationMS    int64  `json:"duration_ms"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	TimestampMS   int64  `json:"timestamp_ms"`
}
