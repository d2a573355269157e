package sessions

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tau-run/tau/pkg/models"
)

// ExportLineage writes the root-to-head chain ending at head (or the
// current store head if nil) to dest as a standalone JSONL snapshot,
// suitable for later ImportSnapshot on this or another store.
func (s *Store) ExportLineage(head *uint64, dest string) error {
	lineage, err := s.LineageEntries(head)
	if err != nil {
		return err
	}
	var buf []byte
	for _, e := range lineage {
		line, err := marshalStoredLine(e)
		if err != nil {
			return err
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("sessions: create export dir: %w", err)
	}
	return writeAtomic(dest, buf)
}

// readSnapshot parses a JSONL snapshot file into entries in file order.
func readSnapshot(path string) ([]models.SessionEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sessions: open snapshot %s: %w", path, err)
	}
	defer f.Close()

	var entries []models.SessionEntry
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
			return nil, fmt.Errorf("sessions: %s:%d: malformed snapshot entry: %w", path, lineNo, err)
		}
		entries = append(entries, stored.Entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("sessions: read snapshot %s: %w", path, err)
	}
	return entries, nil
}

// ImportSnapshot merges or replaces this store's contents with the
// entries found in src.
//
// ImportReplace discards every existing entry and adopts src verbatim,
// preserving its ids.
//
// ImportMerge never overwrites an existing id: any source entry whose id
// collides with one already present is assigned a fresh id from this
// store's counter, and every entry that references the remapped id as a
// parent (including later entries within the same snapshot) is rewritten
// to point at the new id. The remap table returned is a bijection from
// every remapped source id to its new id.
func (s *Store) ImportSnapshot(src string, mode models.ImportMode) (models.ImportResult, error) {
	entries, err := readSnapshot(src)
	if err != nil {
		return models.ImportResult{}, err
	}

	switch mode {
	case models.ImportReplace:
		return s.importReplace(entries)
	case models.ImportMerge:
		return s.importMerge(entries)
	default:
		return models.ImportResult{}, fmt.Errorf("sessions: unknown import mode %q", mode)
	}
}

func (s *Store) importReplace(entries []models.SessionEntry) (models.ImportResult, error) {
	ids := make([]uint64, len(entries))
	newEntries := make(map[uint64]models.SessionEntry, len(entries))
	var maxID uint64
	for i, e := range entries {
		ids[i] = e.ID
		newEntries[e.ID] = e
		if e.ID > maxID {
			maxID = e.ID
		}
	}

	if err := s.rewriteWith(ids); err != nil {
		return models.ImportResult{}, err
	}
	s.nextID = maxID + 1

	return models.ImportResult{
		Imported:   len(entries),
		Replaced:   true,
		Total:      len(entries),
		ActiveHead: s.head,
	}, nil
}

func (s *Store) importMerge(entries []models.SessionEntry) (models.ImportResult, error) {
	remap := make(map[uint64]uint64)
	var appended []models.SessionEntry

	if err := s.withLock(func() error {
		return s.importMergeLocked(entries, remap, &appended)
	}); err != nil {
		return models.ImportResult{}, err
	}

	var resultRemap map[uint64]uint64
	if len(remap) > 0 {
		resultRemap = remap
	}

	var activeHead uint64
	if len(appended) > 0 {
		activeHead = appended[len(appended)-1].ID
	}

	return models.ImportResult{
		Imported:   len(appended),
		Remapped:   resultRemap,
		Replaced:   false,
		Total:      len(s.order),
		ActiveHead: activeHead,
	}, nil
}

func (s *Store) importMergeLocked(entries []models.SessionEntry, remap map[uint64]uint64, appended *[]models.SessionEntry) error {
	for _, e := range entries {
		newID := e.ID
		if _, exists := s.entries[newID]; exists {
			newID = s.nextID
			s.nextID++
			remap[e.ID] = newID
		} else if newID >= s.nextID {
			s.nextID = newID + 1
		}

		parent := e.ParentID
		if parent != nil {
			if mapped, ok := remap[*parent]; ok {
				remapped := mapped
				parent = &remapped
			}
		}

		remapped := models.SessionEntry{
			ID:        newID,
			ParentID:  parent,
			Message:   e.Message,
			CreatedAt: e.CreatedAt,
		}
		if err := s.appendLocked(remapped); err != nil {
			return err
		}
		*appended = append(*appended, remapped)
	}
	return nil
}
