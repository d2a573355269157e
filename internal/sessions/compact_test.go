package sessions

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tau-run/tau/pkg/models"
)

func TestCompactToLineageRetainsOnlyAncestors(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(filepath.Join(dir, "session.jsonl"))
	require.NoError(t, err)

	root, err := s.AppendMessages(nil, []models.Message{models.NewTextMessage(models.RoleUser, "root")})
	require.NoError(t, err)
	rootID := root[0].ID

	branchA, err := s.AppendMessages(&rootID, []models.Message{models.NewTextMessage(models.RoleAssistant, "branch a")})
	require.NoError(t, err)
	_, err = s.AppendMessages(&rootID, []models.Message{models.NewTextMessage(models.RoleAssistant, "branch b")})
	require.NoError(t, err)

	keepHead := branchA[0].ID
	result, err := s.CompactToLineage(&keepHead)
	require.NoError(t, err)
	require.Equal(t, 2, result.Retained)
	require.Equal(t, 1, result.Removed)
	require.Equal(t, keepHead, result.HeadID)

	lineage, err := s.LineageEntries(nil)
	require.NoError(t, err)
	require.Len(t, lineage, 2)
	require.Equal(t, "branch a", lineage[1].Message.TextContent())
}

func TestCompactToLineageDefaultsToCurrentHead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	s, err := Load(path)
	require.NoError(t, err)

	_, err = s.AppendMessages(nil, []models.Message{
		models.NewTextMessage(models.RoleUser, "one"),
		models.NewTextMessage(models.RoleAssistant, "two"),
	})
	require.NoError(t, err)

	result, err := s.CompactToLineage(nil)
	require.NoError(t, err)
	require.Equal(t, 2, result.Retained)
	require.Zero(t, result.Removed)
}
