// Package sessions implements the append-only branching session store:
// an on-disk JSONL ledger of SessionEntry nodes forming a DAG keyed by
// monotonic ids and parent_id links, with repair, compaction, and
// merge/replace snapshot import on top.
package sessions

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tau-run/tau/pkg/models"
)

// schemaVersion is written into every line so a future format change can
// be detected without guessing from field presence.
const schemaVersion = 1

type storedLine struct {
	SchemaVersion int                 `json:"schema_version"`
	Entry         models.SessionEntry `json:"entry"`
}

// marshalStoredLine encodes a single entry as one JSONL line body
// (without trailing newline), shared by append, repair, and compaction.
func marshalStoredLine(entry models.SessionEntry) ([]byte, error) {
	return json.Marshal(storedLine{SchemaVersion: schemaVersion, Entry: entry})
}

// Store is a single session's ledger, backed by one JSONL file on disk.
// All mutating methods hold the sidecar file lock for their duration.
type Store struct {
	path    string
	waitMS  int64
	staleMS int64

	entries map[uint64]models.SessionEntry
	order   []uint64 // append order, oldest first
	nextID  uint64
	head    uint64
}

// Load reads path into a Store, creating an empty one if the file does
// not yet exist. A malformed line reports its 1-based line number.
func Load(path string) (*Store, error) {
	s := &Store{
		path:    path,
		entries: make(map[uint64]models.SessionEntry),
		nextID:  1,
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("sessions: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var stored storedLine
		if err := json.Unmarshal(line, &stored); err != nil {
			return nil, fmt.Errorf("sessions: %s:%d: malformed entry: %w", path, lineNo, err)
		}
		s.entries[stored.Entry.ID] = stored.Entry
		s.order = append(s.order, stored.Entry.ID)
		if stored.Entry.ID >= s.nextID {
			s.nextID = stored.Entry.ID + 1
		}
		s.head = stored.Entry.ID
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("sessions: read %s: %w", path, err)
	}
	return s, nil
}

// SetLockPolicy overrides the default wait/stale thresholds for the
// sidecar lock file this store acquires around mutating operations.
func (s *Store) SetLockPolicy(waitMS, staleMS int64) {
	s.waitMS = waitMS
	s.staleMS = staleMS
}

func (s *Store) withLock(fn func() error) error {
	lock := newFileLock(s.path, s.waitMS, s.staleMS)
	release, err := lock.acquire()
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// HeadID returns the id of the most recently appended entry, or 0 if the
// store is empty.
func (s *Store) HeadID() uint64 {
	return s.head
}

// EnsureInitialized appends a root system-prompt entry if the store is
// currently empty, so every session has a single deterministic root.
func (s *Store) EnsureInitialized(systemPrompt string) error {
	if len(s.order) > 0 {
		return nil
	}
	_, err := s.AppendMessages(nil, []models.Message{models.NewTextMessage(models.RoleSystem, systemPrompt)})
	return err
}

// AppendMessages appends one or more messages as a chain rooted at
// parentID (nil appends a new root), allocating monotonically increasing
// ids, and returns the appended entries in order.
func (s *Store) AppendMessages(parentID *uint64, messages []models.Message) ([]models.SessionEntry, error) {
	if len(messages) == 0 {
		return nil, nil
	}
	var appended []models.SessionEntry
	err := s.withLock(func() error {
		parent := parentID
		for _, msg := range messages {
			entry := models.SessionEntry{
				ID:        s.nextID,
				ParentID:  parent,
				Message:   msg,
				CreatedAt: time.Now().UnixMilli(),
			}
			if err := s.appendLocked(entry); err != nil {
				return err
			}
			appended = append(appended, entry)
			id := entry.ID
			parent = &id
			s.nextID++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appended, nil
}

// appendLocked writes a single entry to disk and updates in-memory state.
// Caller must hold the sidecar lock.
func (s *Store) appendLocked(entry models.SessionEntry) error {
	line, err := json.Marshal(storedLine{SchemaVersion: schemaVersion, Entry: entry})
	if err != nil {
		return fmt.Errorf("sessions: encode entry %d: %w", entry.ID, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("sessions: create session dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("sessions: open %s for append: %w", s.path, err)
	}
	_, writeErr := f.Write(append(line, '\n'))
	syncErr := f.Sync()
	closeErr := f.Close()
	if writeErr != nil {
		return fmt.Errorf("sessions: append entry %d: %w", entry.ID, writeErr)
	}
	if syncErr != nil {
		return fmt.Errorf("sessions: sync %s: %w", s.path, syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("sessions: close %s: %w", s.path, closeErr)
	}

	s.entries[entry.ID] = entry
	s.order = append(s.order, entry.ID)
	s.head = entry.ID
	return nil
}

// LineageEntries walks parent links from head (or the store head if nil)
// back to the root and returns entries in root-to-head order.
func (s *Store) LineageEntries(head *uint64) ([]models.SessionEntry, error) {
	target := s.head
	if head != nil {
		target = *head
	}
	if target == 0 {
		return nil, nil
	}
	var chain []models.SessionEntry
	id := target
	visited := make(map[uint64]bool)
	for {
		entry, ok := s.entries[id]
		if !ok {
			return nil, fmt.Errorf("sessions: lineage walk: entry %d not found", id)
		}
		if visited[id] {
			return nil, fmt.Errorf("sessions: lineage walk: cycle detected at entry %d", id)
		}
		visited[id] = true
		chain = append(chain, entry)
		if entry.ParentID == nil {
			break
		}
		id = *entry.ParentID
	}
	// chain is head-to-root; reverse to root-to-head.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// LineageMessages is LineageEntries with the Message field projected out.
func (s *Store) LineageMessages(head *uint64) ([]models.Message, error) {
	entries, err := s.LineageEntries(head)
	if err != nil {
		return nil, err
	}
	msgs := make([]models.Message, len(entries))
	for i, e := range entries {
		msgs[i] = e.Message
	}
	return msgs, nil
}

// BranchTips returns the ids of every entry that is not itself a parent
// of any other entry: the leaves of the DAG, candidate branch heads.
func (s *Store) BranchTips() []uint64 {
	hasChild := make(map[uint64]bool, len(s.entries))
	for _, e := range s.entries {
		if e.ParentID != nil {
			hasChild[*e.ParentID] = true
		}
	}
	var tips []uint64
	for _, id := range s.order {
		if !hasChild[id] {
			tips = append(tips, id)
		}
	}
	return tips
}
