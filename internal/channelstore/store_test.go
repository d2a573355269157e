package channelstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tau-run/tau/pkg/models"
)

func TestOpenCreatesDirectoryLayout(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root, "discord", "conv-1")
	require.NoError(t, err)
	require.DirExists(t, filepath.Join(root, "discord", "conv-1", artifactsDirName))
}

func TestAppendLogEntryThenReload(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root, "slack", "conv-1")
	require.NoError(t, err)

	require.NoError(t, s.AppendLogEntry(models.ChannelLogEntry{
		Direction: models.DirectionInbound,
		EventKey:  "evt-1",
		Source:    "slack",
		Payload:   []byte(`{"text":"hi"}`),
	}))
	require.NoError(t, s.AppendLogEntry(models.ChannelLogEntry{
		Direction: models.DirectionOutbound,
		EventKey:  "evt-1",
		Source:    "agent",
		Payload:   []byte(`{"text":"hello back"}`),
	}))

	require.FileExists(t, filepath.Join(root, "slack", "conv-1", logFileName))
}

func TestWriteTextArtifactAndLoadTolerant(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root, "telegram", "conv-1")
	require.NoError(t, err)

	record, err := s.WriteTextArtifact("evt-1", "transcript", "agent", 30, "txt", "hello world")
	require.NoError(t, err)
	require.Equal(t, int64(len("hello world")), record.BytesWritten)
	require.FileExists(t, filepath.Join(root, "telegram", "conv-1", record.RelativePath))

	records, err := s.LoadArtifactRecordsTolerant()
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "transcript", records[0].ArtifactType)
}

func TestLoadArtifactRecordsTolerantSkipsMalformedLines(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root, "telegram", "conv-1")
	require.NoError(t, err)

	_, err = s.WriteTextArtifact("evt-1", "transcript", "agent", 0, "txt", "ok")
	require.NoError(t, err)
	require.NoError(t, appendLine(filepath.Join(root, "telegram", "conv-1", artifactsIndexName), []byte("not json")))

	records, err := s.LoadArtifactRecordsTolerant()
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestSyncContextFromMessagesOverwritesAtomically(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root, "discord", "conv-1")
	require.NoError(t, err)

	require.NoError(t, s.SyncContextFromMessages([]models.Message{
		models.NewTextMessage(models.RoleUser, "first"),
	}))
	require.NoError(t, s.SyncContextFromMessages([]models.Message{
		models.NewTextMessage(models.RoleUser, "second"),
	}))

	require.FileExists(t, filepath.Join(root, "discord", "conv-1", contextFileName))
}

func TestSessionPathIsUnderConversationDirectory(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root, "discord", "conv-1")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "discord", "conv-1", sessionFileName), s.SessionPath())
}
