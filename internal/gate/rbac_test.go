package gate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadRBACPolicyFileMissingIsEmpty(t *testing.T) {
	policy, err := LoadRBACPolicyFile(filepath.Join(t.TempDir(), "rbac.json"))
	require.NoError(t, err)
	require.Empty(t, policy.Principals)
}

func TestLoadRBACPolicyFileParsesPrincipals(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rbac.json")
	body := `{
		"version": 1,
		"principals": {
			"local:readonly": {"allowed_tools": ["write"], "allowed_roots": ["` + filepath.Join(dir, "scratch") + `"]}
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	policy, err := LoadRBACPolicyFile(path)
	require.NoError(t, err)
	rule, ok := policy.Principals["local:readonly"]
	require.True(t, ok)
	require.Equal(t, []string{"write"}, rule.AllowedTools)
}

func TestFileRBACCheckerUnknownPrincipalAllowed(t *testing.T) {
	checker := NewFileRBACChecker(nil, nil)
	require.True(t, checker.Allow("local:anyone", ApprovalAction{Kind: ApprovalKindCommand}))
}

func TestFileRBACCheckerDeniedListWins(t *testing.T) {
	checker := NewFileRBACChecker(nil, []string{"local:blocked"})
	require.False(t, checker.Allow("local:blocked", ApprovalAction{Kind: ApprovalKindWrite}))
}

func TestFileRBACCheckerRestrictsToolKind(t *testing.T) {
	policy := &RBACPolicyFile{Principals: map[string]RBACPrincipalRule{
		"local:readonly": {AllowedTools: []string{"write"}},
	}}
	checker := NewFileRBACChecker(policy, nil)

	require.True(t, checker.Allow("local:readonly", ApprovalAction{Kind: ApprovalKindWrite, Path: "/tmp/x"}))
	require.False(t, checker.Allow("local:readonly", ApprovalAction{Kind: ApprovalKindCommand, Command: "ls"}))
}

func TestFileRBACCheckerRestrictsWriteRoot(t *testing.T) {
	root := t.TempDir()
	scratch := filepath.Join(root, "scratch")
	require.NoError(t, os.MkdirAll(scratch, 0o755))
	other := filepath.Join(root, "other")
	require.NoError(t, os.MkdirAll(other, 0o755))

	policy := &RBACPolicyFile{Principals: map[string]RBACPrincipalRule{
		"local:writer": {AllowedRoots: []string{scratch}},
	}}
	checker := NewFileRBACChecker(policy, nil)

	require.True(t, checker.Allow("local:writer", ApprovalAction{Kind: ApprovalKindWrite, Path: filepath.Join(scratch, "a.txt")}))
	require.False(t, checker.Allow("local:writer", ApprovalAction{Kind: ApprovalKindWrite, Path: filepath.Join(other, "a.txt")}))
}

func TestFileRBACCheckerGateIntegration(t *testing.T) {
	root := t.TempDir()
	dpolicy := DefaultPolicy()
	dpolicy.AllowedRoots = []string{root}

	rbacPolicy := &RBACPolicyFile{Principals: map[string]RBACPrincipalRule{
		"local:readonly": {AllowedTools: []string{"command"}},
	}}
	checker := NewFileRBACChecker(rbacPolicy, nil)

	g, err := New(dpolicy, checker, nil)
	require.NoError(t, err)

	_, decision, err := g.CheckWrite("local:readonly", filepath.Join(root, "new.txt"), 4)
	require.Error(t, err)
	require.False(t, decision.Allow)
	require.Equal(t, ReasonApprovalDenied, decision.ReasonCode)
}
