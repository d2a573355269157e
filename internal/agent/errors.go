package agent

import (
	"fmt"

	"github.com/tau-run/tau/pkg/models"
)

// MaxTurnsExceededError is returned when the loop reaches MaxTurns without
// producing a tool-less assistant message.
type MaxTurnsExceededError struct {
	MaxTurns int
}

func (e *MaxTurnsExceededError) Error() string {
	return fmt.Sprintf("agent: exceeded max turns (%d) without a final response", e.MaxTurns)
}

func (e *MaxTurnsExceededError) ReasonCode() string { return "max_turns_exceeded" }

// CancelledError is returned when the loop observes cancellation at a turn
// boundary.
type CancelledError struct{}

func (e *CancelledError) Error() string      { return "agent: cancelled" }
func (e *CancelledError) ReasonCode() string { return "cancelled" }

// BudgetExceededError is returned when cumulative cost crosses CostBudgetUSD.
type BudgetExceededError struct {
	SpentUSD, BudgetUSD float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("agent: cost budget exceeded: spent $%.4f of $%.4f", e.SpentUSD, e.BudgetUSD)
}

func (e *BudgetExceededError) ReasonCode() string { return "cost_budget_exceeded" }

// SafetyBlockedError is returned when a prompt-injection scan in Block
// mode finds a match in the inbound user message before it ever joins
// the conversation buffer.
type SafetyBlockedError struct {
	Matches []models.SafetyMatch
}

func (e *SafetyBlockedError) Error() string {
	return fmt.Sprintf("agent: blocked by safety policy (%d match(es))", len(e.Matches))
}

func (e *SafetyBlockedError) ReasonCode() string { return "safety_policy_blocked" }
