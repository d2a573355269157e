package gate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalizeExistingPathResolvesSymlinks(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	require.NoError(t, os.Mkdir(real, 0o755))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(real, link))

	canon, err := canonicalize(filepath.Join(link, "file.txt"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(real, "file.txt"), canon)
}

func TestCanonicalizeNonexistentLeafRejoinsTail(t *testing.T) {
	dir := t.TempDir()
	canon, err := canonicalize(filepath.Join(dir, "does-not-exist-yet.txt"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "does-not-exist-yet.txt"), canon)
}

func TestWithinRootsEmptyAllowsEverything(t *testing.T) {
	require.True(t, withinRoots("/anything/at/all", nil))
}

func TestWithinRootsRejectsSiblingWithSharedPrefix(t *testing.T) {
	roots := []string{"/workspace/safe"}
	require.False(t, withinRoots("/workspace/safe-but-not-really", roots))
	require.True(t, withinRoots("/workspace/safe/inner", roots))
}
