package sessions

import "github.com/tau-run/tau/pkg/models"

// CompactToLineage discards every entry that is not an ancestor of head
// (or the current store head if nil), retaining only the single
// root-to-head chain. Unlike the summarization-based compaction some
// session stores use, this keeps the retained entries byte-identical;
// it only prunes branches the caller has decided to abandon.
func (s *Store) CompactToLineage(head *uint64) (models.CompactResult, error) {
	target := s.head
	if head != nil {
		target = *head
	}

	lineage, err := s.LineageEntries(&target)
	if err != nil {
		return models.CompactResult{}, err
	}

	keep := make([]uint64, len(lineage))
	for i, e := range lineage {
		keep[i] = e.ID
	}

	removed := len(s.order) - len(keep)
	if err := s.rewriteWith(keep); err != nil {
		return models.CompactResult{}, err
	}

	return models.CompactResult{
		Retained: len(keep),
		Removed:  removed,
		HeadID:   target,
	}, nil
}
