package agent

import (
	"context"
	"time"

	"github.com/tau-run/tau/internal/backoff"
	"github.com/tau-run/tau/internal/safety"
	"github.com/tau-run/tau/pkg/models"
)

// ModelPricing gives per-million-token prices for cost accounting.
type ModelPricing struct {
	InputPerMillionUSD  float64
	OutputPerMillionUSD float64
}

// Config holds every construction input for a Loop.
type Config struct {
	Model        string
	SystemPrompt string

	MaxTurns             int
	MaxParallelToolCalls int
	MaxContextMessages   int

	Temperature *float64
	MaxTokens   *int

	RequestTimeout  time.Duration
	ToolTimeout     time.Duration
	RequestMaxRetries int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration

	Pricing       ModelPricing
	CostBudgetUSD float64
	AlertPercents []float64

	// SafetyPolicy and SafetyRules gate and scan the turn loop per the
	// safety/policy evaluator: inbound user text is scanned for prompt
	// injection before it joins the buffer (blocked or redacted
	// depending on Mode), and every assistant reply is scanned for
	// secret leaks and redacted in place before the model or any
	// subscriber ever sees the raw match. A nil SafetyRules disables
	// both regardless of SafetyPolicy.Enabled.
	SafetyPolicy models.SafetyPolicy
	SafetyRules  *safety.RuleSet
}

func (c Config) withDefaults() Config {
	if c.MaxTurns <= 0 {
		c.MaxTurns = 25
	}
	if c.MaxParallelToolCalls <= 0 {
		c.MaxParallelToolCalls = 1
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 30 * time.Second
	}
	if c.RequestMaxRetries < 0 {
		c.RequestMaxRetries = 0
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	return c
}

// RetryableError is implemented by client errors the loop should retry
// rather than fail the turn on.
type RetryableError interface {
	Retryable() bool
}

// Loop runs bounded request/response turns against an LlmClient, routing
// tool calls to a ToolRegistry and emitting the fixed event taxonomy.
type Loop struct {
	cfg      Config
	client   LlmClient
	registry ToolRegistry
	bus      eventBus

	systemPrompt string
	messages     []models.Message

	turn                   int
	cumulativeUSD          float64
	cumulativeInputTokens  int
	cumulativeOutputTokens int
	startedAt              time.Time
	alertsFired            map[float64]bool
}

// New constructs a Loop. registry may be nil, in which case the loop never
// offers tools to the model.
func New(client LlmClient, registry ToolRegistry, cfg Config) *Loop {
	if registry == nil {
		registry = NewRegistry()
	}
	cfg = cfg.withDefaults()
	return &Loop{
		cfg:          cfg,
		client:       client,
		registry:     registry,
		systemPrompt: cfg.SystemPrompt,
		alertsFired:  make(map[float64]bool),
		startedAt:    time.Now(),
	}
}

// Stats reports the loop's cumulative usage and cost, for status
// reporting and the RPC run.status response.
type Stats struct {
	Turn          int
	InputTokens   int
	OutputTokens  int
	CumulativeUSD float64
	StartedAt     time.Time
}

// Stats returns a snapshot of the loop's running totals.
func (l *Loop) Stats() Stats {
	return Stats{
		Turn:          l.turn,
		InputTokens:   l.cumulativeInputTokens,
		OutputTokens:  l.cumulativeOutputTokens,
		CumulativeUSD: l.cumulativeUSD,
		StartedAt:     l.startedAt,
	}
}

// Subscribe registers fn to receive every future event.
func (l *Loop) Subscribe(fn Subscriber) { l.bus.subscribe(fn) }

// RegisterTool adds tool to the loop's registry.
func (l *Loop) RegisterTool(tool Tool) { l.registry.Register(tool) }

// RegisterExtensionTools registers every tool in tools, in order.
func (l *Loop) RegisterExtensionTools(tools []Tool) {
	for _, t := range tools {
		l.registry.Register(t)
	}
}

// ReplaceSystemPrompt swaps the system prompt used on subsequent turns.
func (l *Loop) ReplaceSystemPrompt(prompt string) { l.systemPrompt = prompt }

// ReplaceMessages overwrites the mutable conversation buffer wholesale.
func (l *Loop) ReplaceMessages(messages []models.Message) { l.messages = messages }

// AppendMessage appends one message without running a turn.
func (l *Loop) AppendMessage(m models.Message) { l.messages = append(l.messages, m) }

// Messages returns the current conversation buffer.
func (l *Loop) Messages() []models.Message { return l.messages }

// Prompt appends a user message and runs turns until the assistant
// responds without tool calls, MaxTurns is reached, or ctx is cancelled.
func (l *Loop) Prompt(ctx context.Context, text string) ([]models.Message, error) {
	return l.PromptWithStream(ctx, text, nil)
}

// PromptWithStream is Prompt with an optional per-turn streaming delta
// handler.
func (l *Loop) PromptWithStream(ctx context.Context, text string, onDelta DeltaHandler) ([]models.Message, error) {
	l.bus.emit(Event{Kind: EventAgentStart})

	if l.cfg.SafetyRules != nil && l.cfg.SafetyPolicy.Enabled && l.cfg.SafetyPolicy.ApplyToInboundMessages {
		result := l.cfg.SafetyRules.ScanPromptInjection(text, l.cfg.SafetyPolicy.RedactionToken)
		if len(result.Matches) > 0 {
			if l.cfg.SafetyPolicy.Mode == models.SafetyModeBlock {
				return nil, &SafetyBlockedError{Matches: result.Matches}
			}
			text = result.RedactedText
		}
	}

	userMsg := models.NewTextMessage(models.RoleUser, text)
	l.messages = append(l.messages, userMsg)
	l.bus.emit(Event{Kind: EventMessageAdded, Message: userMsg})
	return l.ContinueTurnWithStream(ctx, onDelta)
}

// ContinueTurn runs turns from the current buffer state (no new user
// message appended) until a tool-less assistant reply, MaxTurns, or
// cancellation.
func (l *Loop) ContinueTurn(ctx context.Context) ([]models.Message, error) {
	return l.ContinueTurnWithStream(ctx, nil)
}

// ContinueTurnWithStream is ContinueTurn with an optional streaming delta
// handler.
func (l *Loop) ContinueTurnWithStream(ctx context.Context, onDelta DeltaHandler) ([]models.Message, error) {
	startLen := len(l.messages)

	for {
		select {
		case <-ctx.Done():
			cancelMsg := models.NewTextMessage(models.RoleAssistant, "The request was cancelled.")
			l.messages = append(l.messages, cancelMsg)
			l.bus.emit(Event{Kind: EventMessageAdded, Message: cancelMsg})
			l.bus.emit(Event{Kind: EventAgentEnd, NewMessages: l.messages[startLen:]})
			return l.messages[startLen:], &CancelledError{}
		default:
		}

		l.turn++
		if l.turn > l.cfg.MaxTurns {
			return l.messages[startLen:], &MaxTurnsExceededError{MaxTurns: l.cfg.MaxTurns}
		}
		l.bus.emit(Event{Kind: EventTurnStart, Turn: l.turn})

		req := l.buildRequest()
		resp, err := l.completeWithRetry(ctx, req, onDelta)
		if err != nil {
			return l.messages[startLen:], err
		}

		if err := l.accountUsage(resp.Usage); err != nil {
			return l.messages[startLen:], err
		}

		if l.cfg.SafetyRules != nil && l.cfg.SafetyPolicy.SecretLeakDetectionOn {
			resp.Message = l.redactSecretLeaks(resp.Message)
		}

		l.messages = append(l.messages, resp.Message)
		l.bus.emit(Event{Kind: EventMessageAdded, Message: resp.Message})

		calls := resp.Message.ToolCalls()
		if len(calls) == 0 {
			l.bus.emit(Event{Kind: EventTurnEnd, Turn: l.turn, ToolResults: 0, Usage: resp.Usage})
			l.bus.emit(Event{Kind: EventAgentEnd, NewMessages: l.messages[startLen:]})
			return l.messages[startLen:], nil
		}

		pending := make([]pendingCall, len(calls))
		for i, c := range calls {
			pending[i] = pendingCall{index: i, toolCallID: c.ToolCallID, toolName: c.ToolName, argsJSON: c.ToolArgsJSON}
		}
		outcomes := l.runToolBatch(ctx, pending)

		toolMsg := toolMessageFromOutcomes(outcomes)
		l.messages = append(l.messages, toolMsg)
		l.bus.emit(Event{Kind: EventMessageAdded, Message: toolMsg})

		l.bus.emit(Event{Kind: EventTurnEnd, Turn: l.turn, ToolResults: len(outcomes), Usage: resp.Usage})
	}
}

// redactSecretLeaks scans every text block of an assistant message for
// secret-shaped substrings and replaces each block's text with the scan's
// redacted form. Tool-call and tool-result blocks are left untouched; only
// BlockText carries model-authored prose that could echo a credential back
// from context.
func (l *Loop) redactSecretLeaks(msg models.Message) models.Message {
	for i, b := range msg.Content {
		if b.Kind != models.BlockText || b.Text == "" {
			continue
		}
		result := l.cfg.SafetyRules.ScanSecretLeak(b.Text, l.cfg.SafetyPolicy.SecretLeakRedactionToken)
		if len(result.Matches) > 0 {
			msg.Content[i].Text = result.RedactedText
		}
	}
	return msg
}

// buildRequest assembles a ChatRequest from the current buffer, trimming
// the oldest non-system messages once MaxContextMessages is exceeded.
func (l *Loop) buildRequest() ChatRequest {
	messages := l.messages
	if limit := l.cfg.MaxContextMessages; limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return ChatRequest{
		Model:       l.cfg.Model,
		System:      l.systemPrompt,
		Messages:    messages,
		Tools:       l.registry.Schemas(),
		Temperature: l.cfg.Temperature,
		MaxTokens:   l.cfg.MaxTokens,
	}
}

// completeWithRetry invokes the client with exponential backoff on
// retryable errors, bounded by RequestMaxRetries and RequestTimeout.
// The backoff schedule itself is internal/backoff.ComputeBackoff, the
// same jittered doubling the outbound dispatcher uses for provider
// sends, built from RetryBaseDelay/RetryMaxDelay so a turn's retry
// pacing is configured the same way a delivery retry's is.
func (l *Loop) completeWithRetry(ctx context.Context, req ChatRequest, onDelta DeltaHandler) (ChatResponse, error) {
	policy := backoff.BackoffPolicy{
		InitialMs: float64(l.cfg.RetryBaseDelay.Milliseconds()),
		MaxMs:     float64(l.cfg.RetryMaxDelay.Milliseconds()),
		Factor:    2,
		Jitter:    0.1,
	}

	var lastErr error
	for attempt := 0; attempt <= l.cfg.RequestMaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, l.cfg.RequestTimeout)
		resp, err := l.client.CompleteWithStream(callCtx, req, onDelta)
		cancel()
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var retryable RetryableError
		if asErr, ok := err.(RetryableError); ok {
			retryable = asErr
		}
		if retryable == nil || !retryable.Retryable() || attempt == l.cfg.RequestMaxRetries {
			break
		}

		if sleepErr := backoff.SleepWithContext(ctx, backoff.ComputeBackoff(policy, attempt+1)); sleepErr != nil {
			return ChatResponse{}, sleepErr
		}
	}
	return ChatResponse{}, lastErr
}

// accountUsage folds usage into cumulative cost and returns a
// BudgetExceededError once CostBudgetUSD is crossed, firing percent-
// threshold alerts as events along the way.
func (l *Loop) accountUsage(u Usage) error {
	l.cumulativeInputTokens += u.InputTokens
	l.cumulativeOutputTokens += u.OutputTokens

	if l.cfg.Pricing.InputPerMillionUSD == 0 && l.cfg.Pricing.OutputPerMillionUSD == 0 {
		return nil
	}
	cost := float64(u.InputTokens)/1_000_000*l.cfg.Pricing.InputPerMillionUSD +
		float64(u.OutputTokens)/1_000_000*l.cfg.Pricing.OutputPerMillionUSD
	l.cumulativeUSD += cost

	if l.cfg.CostBudgetUSD <= 0 {
		return nil
	}
	for _, pct := range l.cfg.AlertPercents {
		if !l.alertsFired[pct] && l.cumulativeUSD >= l.cfg.CostBudgetUSD*pct/100 {
			l.alertsFired[pct] = true
		}
	}
	if l.cumulativeUSD >= l.cfg.CostBudgetUSD {
		return &BudgetExceededError{SpentUSD: l.cumulativeUSD, BudgetUSD: l.cfg.CostBudgetUSD}
	}
	return nil
}
