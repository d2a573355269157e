package gate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tau-run/tau/internal/atomicfile"
)

// ApprovalActionKind names the kind of mutating operation awaiting a
// decision.
type ApprovalActionKind string

const (
	ApprovalKindWrite   ApprovalActionKind = "write"
	ApprovalKindCommand ApprovalActionKind = "command"
	ApprovalKindHTTP    ApprovalActionKind = "http"
)

// ApprovalAction describes one mutating tool invocation the gate is
// deciding on, carrying only the salient inputs a human reviewer needs.
type ApprovalAction struct {
	Kind    ApprovalActionKind `json:"kind"`
	Path    string             `json:"path,omitempty"`
	Bytes   int64              `json:"bytes,omitempty"`
	Command string             `json:"command,omitempty"`
	URL     string             `json:"url,omitempty"`
}

// ApprovalDecision is the gate's verdict on an ApprovalAction.
type ApprovalDecision struct {
	Allow      bool
	ReasonCode string
	TicketID   string
}

// ticketClaims is the JWT payload signed over a pending ticket, binding
// its decision to the exact action that was requested so a tampered
// on-disk ticket file fails verification rather than silently approving
// a different action.
type ticketClaims struct {
	Kind        ApprovalActionKind `json:"kind"`
	Path        string             `json:"path,omitempty"`
	Command     string             `json:"command,omitempty"`
	RequestedAt int64              `json:"requested_at"`
	jwt.RegisteredClaims
}

// ticketRecord is the JSON file persisted under
// <tau_root>/security/pending/<ticket_id>.json.
type ticketRecord struct {
	TicketID string             `json:"ticket_id"`
	Token    string             `json:"token"`
	Action   ApprovalAction     `json:"action"`
	Decided  bool               `json:"decided"`
	Approved bool               `json:"approved,omitempty"`
}

// TicketStore persists and decides pending approval tickets under
// <tau_root>/security/pending/.
type TicketStore struct {
	dir    string
	secret []byte
}

// NewTicketStore builds a ticket store rooted at tauRoot's security
// directory, signing tickets with secret (HS256).
func NewTicketStore(tauRoot string, secret []byte) *TicketStore {
	return &TicketStore{
		dir:    filepath.Join(tauRoot, "security", "pending"),
		secret: secret,
	}
}

func (t *TicketStore) ticketPath(ticketID string) string {
	return filepath.Join(t.dir, ticketID+".json")
}

// Create mints a new pending ticket for action and persists it signed.
func (t *TicketStore) Create(action ApprovalAction) (string, error) {
	ticketID := uuid.NewString()
	now := time.Now()

	claims := ticketClaims{
		Kind:        action.Kind,
		Path:        action.Path,
		Command:     action.Command,
		RequestedAt: now.Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  ticketID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", newError(ReasonApprovalPending, "sign approval ticket", err)
	}

	record := ticketRecord{TicketID: ticketID, Token: signed, Action: action}
	body, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", newError(ReasonApprovalPending, "encode approval ticket", err)
	}
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return "", newError(ReasonApprovalPending, "create pending directory", err)
	}
	if err := atomicfile.WriteText(t.ticketPath(ticketID), body); err != nil {
		return "", newError(ReasonApprovalPending, "persist approval ticket", err)
	}
	return ticketID, nil
}

// Decide verifies ticketID's signed token and marks it approved or
// denied. A ticket already decided, or one whose token no longer
// verifies against its stored action (tampering), is rejected.
func (t *TicketStore) Decide(ticketID string, approve bool) error {
	path := t.ticketPath(ticketID)
	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newError(ReasonTicketNotFound, ticketID, err)
		}
		return newError(ReasonTicketNotFound, ticketID, err)
	}

	var record ticketRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return newError(ReasonTicketTampered, ticketID, err)
	}
	if record.Decided {
		return newError(ReasonTicketAlreadyDone, ticketID, nil)
	}

	if err := t.verify(record); err != nil {
		return err
	}

	record.Decided = true
	record.Approved = approve
	updated, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return newError(ReasonApprovalPending, "encode decided ticket", err)
	}
	return atomicfile.WriteText(path, updated)
}

// verify checks record.Token's signature and confirms its claims still
// describe record.Action, catching a ticket file whose action field was
// edited after issuance.
func (t *TicketStore) verify(record ticketRecord) error {
	parsed, err := jwt.ParseWithClaims(record.Token, &ticketClaims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !parsed.Valid {
		return newError(ReasonTicketTampered, record.TicketID, err)
	}
	claims, ok := parsed.Claims.(*ticketClaims)
	if !ok {
		return newError(ReasonTicketTampered, record.TicketID, nil)
	}
	if claims.Kind != record.Action.Kind || claims.Path != record.Action.Path || claims.Command != record.Action.Command {
		return newError(ReasonTicketTampered, record.TicketID, nil)
	}
	return nil
}

// Status reports whether ticketID exists, and if so whether it has been
// decided and the outcome, for the status preflight command.
func (t *TicketStore) Status(ticketID string) (record ticketRecord, found bool, err error) {
	body, err := os.ReadFile(t.ticketPath(ticketID))
	if err != nil {
		if os.IsNotExist(err) {
			return ticketRecord{}, false, nil
		}
		return ticketRecord{}, false, newError(ReasonTicketNotFound, ticketID, err)
	}
	if err := json.Unmarshal(body, &record); err != nil {
		return ticketRecord{}, false, newError(ReasonTicketTampered, ticketID, err)
	}
	return record, true, nil
}
