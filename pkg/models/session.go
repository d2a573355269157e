package models

// SessionEntry is one node of a session's append-only branching DAG.
// Entries are never mutated in place: once appended, only repair or
// compaction ever remove one, and both operate on whole entries.
type SessionEntry struct {
	ID        uint64  `json:"id"`
	ParentID  *uint64 `json:"parent_id,omitempty"`
	Message   Message `json:"message"`
	CreatedAt int64   `json:"created_unix_ms"`
}

// IsRoot reports whether this entry has no parent.
func (e SessionEntry) IsRoot() bool {
	return e.ParentID == nil
}

// ImportMode selects how import_snapshot reconciles a source lineage
// against an existing store.
type ImportMode string

const (
	// ImportMerge remaps colliding ids to fresh ids, preserving parent
	// links via the remap table; no existing id is ever overwritten.
	ImportMerge ImportMode = "merge"
	// ImportReplace overwrites all entries with the source snapshot.
	ImportReplace ImportMode = "replace"
)

// ImportResult reports the outcome of import_snapshot.
type ImportResult struct {
	Imported  int            `json:"imported"`
	Remapped  map[uint64]uint64 `json:"remapped,omitempty"`
	Replaced  bool           `json:"replaced"`
	Total     int            `json:"total"`
	ActiveHead uint64        `json:"active_head"`
}

// RepairResult reports which invariant violations repair() removed.
type RepairResult struct {
	RemovedDuplicates   int      `json:"removed_duplicates"`
	DuplicateIDs        []uint64 `json:"duplicate_ids,omitempty"`
	RemovedInvalidParent int     `json:"removed_invalid_parent"`
	InvalidParentIDs    []uint64 `json:"invalid_parent_ids,omitempty"`
	RemovedCycles       int      `json:"removed_cycles"`
	CycleIDs            []uint64 `json:"cycle_ids,omitempty"`
}

// CompactResult reports the outcome of compact_to_lineage.
type CompactResult struct {
	Retained int    `json:"retained"`
	Removed  int    `json:"removed"`
	HeadID   uint64 `json:"head_id"`
}
