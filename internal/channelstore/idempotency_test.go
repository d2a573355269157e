package channelstore

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarkProcessedFirstTimeFalseThenTrue(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root, "discord", "conv-1")
	require.NoError(t, err)

	seen, err := s.MarkProcessed("evt-1")
	require.NoError(t, err)
	require.False(t, seen)

	seen, err = s.MarkProcessed("evt-1")
	require.NoError(t, err)
	require.True(t, seen)
}

func TestMarkProcessedIsFIFOBounded(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root, "discord", "conv-1")
	require.NoError(t, err)
	s.processedCap = 3

	for i := 0; i < 5; i++ {
		seen, err := s.MarkProcessed(fmt.Sprintf("evt-%d", i))
		require.NoError(t, err)
		require.False(t, seen)
	}

	// The two oldest keys should have been evicted.
	seen, err := s.MarkProcessed("evt-0")
	require.NoError(t, err)
	require.False(t, seen, "evicted key should be treated as new again")

	seen, err = s.MarkProcessed("evt-4")
	require.NoError(t, err)
	require.True(t, seen, "recent key should still be remembered")
}
