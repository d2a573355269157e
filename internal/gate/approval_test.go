package gate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTicketStoreCreateThenApprove(t *testing.T) {
	root := t.TempDir()
	store := NewTicketStore(root, []byte("secret"))

	ticketID, err := store.Create(ApprovalAction{Kind: ApprovalKindWrite, Path: "/tmp/x"})
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(root, "security", "pending", ticketID+".json"))

	record, found, err := store.Status(ticketID)
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, record.Decided)

	require.NoError(t, store.Decide(ticketID, true))

	record, found, err = store.Status(ticketID)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, record.Decided)
	require.True(t, record.Approved)
}

func TestTicketStoreRejectsDoubleDecision(t *testing.T) {
	root := t.TempDir()
	store := NewTicketStore(root, []byte("secret"))

	ticketID, err := store.Create(ApprovalAction{Kind: ApprovalKindCommand, Command: "ls"})
	require.NoError(t, err)
	require.NoError(t, store.Decide(ticketID, false))

	err = store.Decide(ticketID, true)
	require.Error(t, err)
	var reasonErr *Error
	require.ErrorAs(t, err, &reasonErr)
	require.Equal(t, ReasonTicketAlreadyDone, reasonErr.ReasonCode())
}

func TestTicketStoreRejectsTamperedAction(t *testing.T) {
	root := t.TempDir()
	store := NewTicketStore(root, []byte("secret"))

	ticketID, err := store.Create(ApprovalAction{Kind: ApprovalKindCommand, Command: "ls"})
	require.NoError(t, err)

	path := filepath.Join(root, "security", "pending", ticketID+".json")
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(body), `"command":"ls"`, `"command":"rm -rf /"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o644))

	err = store.Decide(ticketID, true)
	require.Error(t, err)
	var reasonErr *Error
	require.ErrorAs(t, err, &reasonErr)
	require.Equal(t, ReasonTicketTampered, reasonErr.ReasonCode())
}

func TestTicketStoreUnknownTicket(t *testing.T) {
	root := t.TempDir()
	store := NewTicketStore(root, []byte("secret"))

	err := store.Decide("does-not-exist", true)
	require.Error(t, err)
	var reasonErr *Error
	require.ErrorAs(t, err, &reasonErr)
	require.Equal(t, ReasonTicketNotFound, reasonErr.ReasonCode())
}
