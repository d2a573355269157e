package sessions

import "github.com/tau-run/tau/pkg/models"

// Repair detects and removes invariant violations from the in-memory
// entry set: duplicate ids (keeping the first occurrence in append
// order), entries whose parent_id points at a nonexistent id, and
// entries that participate in a parent-link cycle. It then rewrites the
// backing file to the surviving entries in order, so the on-disk ledger
// matches memory. Repair is idempotent: running it twice in a row is a
// no-op the second time.
func (s *Store) Repair() (models.RepairResult, error) {
	var result models.RepairResult

	seen := make(map[uint64]bool, len(s.order))
	var deduped []uint64
	for _, id := range s.order {
		if seen[id] {
			result.RemovedDuplicates++
			result.DuplicateIDs = append(result.DuplicateIDs, id)
			continue
		}
		seen[id] = true
		deduped = append(deduped, id)
	}

	liveSet := make(map[uint64]bool, len(deduped))
	for _, id := range deduped {
		liveSet[id] = true
	}

	var orphanFiltered []uint64
	for _, id := range deduped {
		entry := s.entries[id]
		if entry.ParentID != nil && !liveSet[*entry.ParentID] {
			result.RemovedInvalidParent++
			result.InvalidParentIDs = append(result.InvalidParentIDs, id)
			delete(liveSet, id)
			continue
		}
		orphanFiltered = append(orphanFiltered, id)
	}

	cycleIDs := s.detectCycles(orphanFiltered, liveSet)
	if len(cycleIDs) > 0 {
		result.RemovedCycles = len(cycleIDs)
		result.CycleIDs = cycleIDs
		for _, id := range cycleIDs {
			delete(liveSet, id)
		}
	}

	var final []uint64
	for _, id := range orphanFiltered {
		if liveSet[id] {
			final = append(final, id)
		}
	}

	if err := s.rewriteWith(final); err != nil {
		return result, err
	}
	return result, nil
}

// detectCycles walks each entry's parent chain using visited/visiting
// sets; any id reached while still marked visiting is part of a cycle,
// and the whole chain from that point is removed.
func (s *Store) detectCycles(ids []uint64, liveSet map[uint64]bool) []uint64 {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[uint64]int, len(ids))
	var cycles []uint64

	var walk func(id uint64) bool
	walk = func(id uint64) bool {
		if state[id] == done {
			return false
		}
		if state[id] == visiting {
			return true
		}
		if !liveSet[id] {
			return false
		}
		state[id] = visiting
		entry := s.entries[id]
		inCycle := false
		if entry.ParentID != nil && liveSet[*entry.ParentID] {
			inCycle = walk(*entry.ParentID)
		}
		state[id] = done
		if inCycle {
			cycles = append(cycles, id)
		}
		return inCycle
	}

	for _, id := range ids {
		if state[id] == unvisited {
			walk(id)
		}
	}
	return cycles
}

// rewriteWith replaces the backing file and in-memory order with exactly
// the given surviving ids, preserving their relative append order.
func (s *Store) rewriteWith(survivingIDs []uint64) error {
	return s.withLock(func() error {
		newEntries := make(map[uint64]models.SessionEntry, len(survivingIDs))
		var buf []byte
		for _, id := range survivingIDs {
			entry := s.entries[id]
			newEntries[id] = entry
			line, err := marshalStoredLine(entry)
			if err != nil {
				return err
			}
			buf = append(buf, line...)
			buf = append(buf, '\n')
		}
		if err := writeAtomic(s.path, buf); err != nil {
			return err
		}
		s.entries = newEntries
		s.order = survivingIDs
		if len(survivingIDs) > 0 {
			s.head = survivingIDs[len(survivingIDs)-1]
		} else {
			s.head = 0
		}
		return nil
	})
}
