// Package channelstore implements the per-conversation on-disk layout
// every channel adapter reads and writes: an append-only inbound/outbound
// log, durable text artifacts with a tolerant index, a synced context
// snapshot, and a FIFO-bounded idempotency cache keyed by event_key.
package channelstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tau-run/tau/internal/atomicfile"
	"github.com/tau-run/tau/pkg/models"
)

const (
	logFileName           = "log.jsonl"
	artifactsDirName      = "artifacts"
	artifactsIndexName    = "artifacts-index.jsonl"
	contextFileName       = "context.json"
	processedEventsName   = "processed-events.idempotency"
	sessionFileName       = "session.jsonl"
	defaultProcessedCap   = 10000
)

// Store is one conversation's channel-store directory:
// root/<transport>/<conversation_id>/...
type Store struct {
	dir          string
	processedCap int
}

// Open creates (if necessary) and returns the channel store for
// transport/conversationID under root.
func Open(root, transport, conversationID string) (*Store, error) {
	dir := filepath.Join(root, transport, conversationID)
	if err := os.MkdirAll(filepath.Join(dir, artifactsDirName), 0o755); err != nil {
		return nil, fmt.Errorf("channelstore: create %s: %w", dir, err)
	}
	return &Store{dir: dir, processedCap: defaultProcessedCap}, nil
}

// SessionPath returns the path the channel's agent session is stored at,
// for wiring with internal/sessions.Load.
func (s *Store) SessionPath() string {
	return filepath.Join(s.dir, sessionFileName)
}

// AppendLogEntry appends entry as one JSONL line to log.jsonl.
func (s *Store) AppendLogEntry(entry models.ChannelLogEntry) error {
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("channelstore: encode log entry: %w", err)
	}
	return appendLine(filepath.Join(s.dir, logFileName), line)
}

// appendLine appends line plus a trailing newline to path, creating the
// file if necessary. Unlike atomicfile.AppendLine, this does not rewrite
// the whole file: log.jsonl and artifacts-index.jsonl are pure tails that
// only ever grow, so a plain O_APPEND write (synced before return) is
// sufficient and avoids an O(n) rewrite per entry.
func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("channelstore: open %s: %w", path, err)
	}
	_, writeErr := f.Write(append(line, '\n'))
	syncErr := f.Sync()
	closeErr := f.Close()
	if writeErr != nil {
		return fmt.Errorf("channelstore: append %s: %w", path, writeErr)
	}
	if syncErr != nil {
		return fmt.Errorf("channelstore: sync %s: %w", path, syncErr)
	}
	return closeErr
}

// WriteTextArtifact writes payload to
// artifacts/<event_key>-<artifact_type>-<nonce>.<format_suffix> and
// appends a ChannelArtifactRecord describing it to artifacts-index.jsonl.
func (s *Store) WriteTextArtifact(eventKey, artifactType, author string, retentionDays int, formatSuffix, payload string) (models.ChannelArtifactRecord, error) {
	nonce := uuid.NewString()[:8]
	filename := fmt.Sprintf("%s-%s-%s.%s", eventKey, artifactType, nonce, formatSuffix)
	relPath := filepath.Join(artifactsDirName, filename)
	fullPath := filepath.Join(s.dir, relPath)

	if err := atomicfile.WriteText(fullPath, []byte(payload)); err != nil {
		return models.ChannelArtifactRecord{}, fmt.Errorf("channelstore: write artifact: %w", err)
	}

	record := models.ChannelArtifactRecord{
		ArtifactType:  artifactType,
		EventKey:      eventKey,
		Author:        author,
		RetentionDays: retentionDays,
		FormatSuffix:  formatSuffix,
		RelativePath:  relPath,
		BytesWritten:  int64(len(payload)),
		CreatedAt:     time.Now().UnixMilli(),
	}
	line, err := json.Marshal(record)
	if err != nil {
		return models.ChannelArtifactRecord{}, fmt.Errorf("channelstore: encode artifact record: %w", err)
	}
	if err := appendLine(filepath.Join(s.dir, artifactsIndexName), line); err != nil {
		return models.ChannelArtifactRecord{}, err
	}
	return record, nil
}

// LoadArtifactRecordsTolerant reads artifacts-index.jsonl, skipping any
// line that fails to parse rather than failing the whole load: an index
// corrupted by a partial write from a crashed process should not hide
// every artifact recorded before it.
func (s *Store) LoadArtifactRecordsTolerant() ([]models.ChannelArtifactRecord, error) {
	path := filepath.Join(s.dir, artifactsIndexName)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("channelstore: open %s: %w", path, err)
	}
	defer f.Close()

	var records []models.ChannelArtifactRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record models.ChannelArtifactRecord
		if err := json.Unmarshal(line, &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("channelstore: read %s: %w", path, err)
	}
	return records, nil
}

// SyncContextFromMessages overwrites context.json with a snapshot of
// messages, atomically.
func (s *Store) SyncContextFromMessages(messages []models.Message) error {
	body, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return fmt.Errorf("channelstore: encode context: %w", err)
	}
	return atomicfile.WriteText(filepath.Join(s.dir, contextFileName), body)
}
