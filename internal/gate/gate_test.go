package gate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckReadRejectsPathOutsideAllowedRoots(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	policy := DefaultPolicy()
	policy.AllowedRoots = []string{root}
	g, err := New(policy, nil, nil)
	require.NoError(t, err)

	target := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	_, err = g.CheckRead(target, 1)
	require.Error(t, err)
	var reasonErr *Error
	require.ErrorAs(t, err, &reasonErr)
	require.Equal(t, ReasonPathOutsideRoots, reasonErr.ReasonCode())
}

func TestCheckReadAllowsPathInsideAllowedRoot(t *testing.T) {
	root := t.TempDir()
	policy := DefaultPolicy()
	policy.AllowedRoots = []string{root}
	g, err := New(policy, nil, nil)
	require.NoError(t, err)

	target := filepath.Join(root, "file.txt")
	require.NoError(t, os.WriteFile(target, []byte("hello"), 0o644))

	canon, err := g.CheckRead(target, 5)
	require.NoError(t, err)
	require.NotEmpty(t, canon)
}

func TestCheckReadRejectsOversizedFile(t *testing.T) {
	root := t.TempDir()
	policy := DefaultPolicy()
	policy.AllowedRoots = []string{root}
	policy.MaxFileReadBytes = 10
	g, err := New(policy, nil, nil)
	require.NoError(t, err)

	target := filepath.Join(root, "big.txt")
	require.NoError(t, os.WriteFile(target, []byte("0123456789abcdef"), 0o644))

	_, err = g.CheckRead(target, 16)
	require.Error(t, err)
	var reasonErr *Error
	require.ErrorAs(t, err, &reasonErr)
	require.Equal(t, ReasonReadTooLarge, reasonErr.ReasonCode())
}

func TestCheckReadRejectsSymlink(t *testing.T) {
	root := t.TempDir()
	policy := DefaultPolicy()
	policy.AllowedRoots = []string{root}
	g, err := New(policy, nil, nil)
	require.NoError(t, err)

	realFile := filepath.Join(root, "real.txt")
	require.NoError(t, os.WriteFile(realFile, []byte("x"), 0o644))
	link := filepath.Join(root, "link.txt")
	require.NoError(t, os.Symlink(realFile, link))

	_, err = g.CheckRead(link, 1)
	require.Error(t, err)
	var reasonErr *Error
	require.ErrorAs(t, err, &reasonErr)
	require.Equal(t, ReasonSymlinkRejected, reasonErr.ReasonCode())
}

func TestCheckWriteWithoutTicketStoreAllowsOutright(t *testing.T) {
	root := t.TempDir()
	policy := DefaultPolicy()
	policy.AllowedRoots = []string{root}
	g, err := New(policy, nil, nil)
	require.NoError(t, err)

	_, decision, err := g.CheckWrite("user-1", filepath.Join(root, "new.txt"), 4)
	require.NoError(t, err)
	require.True(t, decision.Allow)
}

func TestCheckWriteWithTicketStoreGoesPending(t *testing.T) {
	root := t.TempDir()
	policy := DefaultPolicy()
	policy.AllowedRoots = []string{root}
	tickets := NewTicketStore(root, []byte("secret"))
	g, err := New(policy, nil, tickets)
	require.NoError(t, err)

	_, decision, err := g.CheckWrite("user-1", filepath.Join(root, "new.txt"), 4)
	require.Error(t, err)
	require.False(t, decision.Allow)
	require.Equal(t, ReasonApprovalPending, decision.ReasonCode)
	require.NotEmpty(t, decision.TicketID)
}

type denyAll struct{}

func (denyAll) Allow(principal string, action ApprovalAction) bool { return false }

func TestCheckWriteDeniedByRBAC(t *testing.T) {
	root := t.TempDir()
	policy := DefaultPolicy()
	policy.AllowedRoots = []string{root}
	g, err := New(policy, denyAll{}, nil)
	require.NoError(t, err)

	_, decision, err := g.CheckWrite("user-1", filepath.Join(root, "new.txt"), 4)
	require.Error(t, err)
	require.False(t, decision.Allow)
	require.Equal(t, ReasonApprovalDenied, decision.ReasonCode)
}

func TestCheckCommandEnforcesAllowlist(t *testing.T) {
	policy := DefaultPolicy()
	policy.CommandAllowlist = []string{"git status", "npm *"}
	g, err := New(policy, nil, nil)
	require.NoError(t, err)

	_, err = g.CheckCommand("user-1", "rm -rf /")
	require.Error(t, err)
	var reasonErr *Error
	require.ErrorAs(t, err, &reasonErr)
	require.Equal(t, ReasonCommandNotAllowed, reasonErr.ReasonCode())

	decision, err := g.CheckCommand("user-1", "npm install")
	require.NoError(t, err)
	require.True(t, decision.Allow)
}

func TestCheckCommandRejectsNewlinesByDefault(t *testing.T) {
	policy := DefaultPolicy()
	g, err := New(policy, nil, nil)
	require.NoError(t, err)

	_, err = g.CheckCommand("user-1", "echo hi\nrm -rf /")
	require.Error(t, err)
	var reasonErr *Error
	require.ErrorAs(t, err, &reasonErr)
	require.Equal(t, ReasonCommandNewlines, reasonErr.ReasonCode())
}
