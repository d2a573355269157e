package models

import "encoding/json"

// Direction marks a ChannelLogEntry as inbound or outbound.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// ChannelArtifactRecord describes one artifact written under a channel
// store's artifacts/ directory, as recorded in artifacts-index.jsonl.
type ChannelArtifactRecord struct {
	ArtifactType  string `json:"artifact_type"`
	EventKey      string `json:"event_key"`
	Author        string `json:"author"`
	RetentionDays int    `json:"retention_days,omitempty"`
	FormatSuffix  string `json:"format_suffix"`
	RelativePath  string `json:"relative_path"`
	BytesWritten  int64  `json:"bytes_written"`
	CreatedAt     int64  `json:"created_unix_ms"`
}

// ChannelLogEntry is one line of a channel's log.jsonl.
type ChannelLogEntry struct {
	Timestamp int64           `json:"timestamp_unix_ms"`
	Direction Direction       `json:"direction"`
	EventKey  string          `json:"event_key,omitempty"`
	Source    string          `json:"source"`
	Payload   json.RawMessage `json:"payload"`
}
