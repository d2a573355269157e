package outbound

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tau-run/tau/internal/backoff"
	"github.com/tau-run/tau/internal/channels"
	"github.com/tau-run/tau/internal/channelstore"
	"github.com/tau-run/tau/pkg/models"
)

// RateLimit bounds how often one transport's FIFO may send: rate tokens
// per second, refilled up to a burst capacity.
type RateLimit struct {
	Rate  float64
	Burst int
}

// defaultTransportRateLimits approximates each channel API's published
// per-bot send limits, loose enough to never throttle a single
// deployment's normal traffic while still smoothing a burst.
var defaultTransportRateLimits = map[string]RateLimit{
	"telegram": {Rate: 25, Burst: 25},
	"discord":  {Rate: 5, Burst: 5},
	"slack":    {Rate: 1, Burst: 5},
	"whatsapp": {Rate: 5, Burst: 5},
}

// Config holds the Dispatcher's construction inputs.
type Config struct {
	Mode             models.DeliveryMode
	MaxChars         int
	MaxAttempts      int
	BackoffPolicy    backoff.BackoffPolicy
	BreakerThreshold int
	BreakerCooldown  time.Duration
	RateLimits       map[string]RateLimit

	// ChannelStoreRoot is the directory channel_store mode persists
	// each chunk's delivery under, as
	// <root>/<transport>/<conversation_id>/log.jsonl. Required when
	// Mode is DeliveryModeChannelStore.
	ChannelStoreRoot string
}

func (c Config) withDefaults() Config {
	if c.MaxChars <= 0 {
		c.MaxChars = 4000
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffPolicy == (backoff.BackoffPolicy{}) {
		c.BackoffPolicy = backoff.DefaultPolicy()
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	if c.RateLimits == nil {
		c.RateLimits = defaultTransportRateLimits
	}
	return c
}

// Dispatcher delivers outbound text to channel providers with a
// per-channel FIFO queue, retry budget, circuit breaker, and per-transport
// rate limit, grounded on the teacher's internal/backoff (exponential
// backoff with jitter, reused directly for the retry budget),
// internal/channels/chunker.go (chunking algorithm, reused via
// outbound.Chunk), and internal/channels/ratelimit.go's MultiRateLimiter
// (reused directly, one token bucket per transport). Breaker-failure
// accounting is per-channel: one (transport, conversation_id) pair owns
// one FIFO and one breaker, so an outage on one conversation never opens
// the breaker for another conversation on the same provider endpoint.
type Dispatcher struct {
	cfg       Config
	providers map[string]Provider
	limiters  *channels.MultiRateLimiter

	mu       sync.Mutex
	channels map[string]*channelQueue
}

// New constructs a Dispatcher. providers is keyed by transport name
// ("telegram", "discord", "slack", "whatsapp"). One token-bucket
// limiter is registered per provided transport so a burst of due
// events never trips a channel API's own throttling.
func New(cfg Config, providers map[string]Provider) *Dispatcher {
	cfg = cfg.withDefaults()
	limiters := channels.NewMultiRateLimiter()
	for transport := range providers {
		limit, ok := cfg.RateLimits[transport]
		if !ok {
			limit = RateLimit{Rate: 5, Burst: 5}
		}
		limiters.Add(transport, limit.Rate, limit.Burst)
	}
	return &Dispatcher{cfg: cfg, providers: providers, limiters: limiters, channels: make(map[string]*channelQueue)}
}

func channelKey(transport, conversationID string) string {
	return transport + ":" + conversationID
}

func (d *Dispatcher) queueFor(key string) *channelQueue {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.channels[key]
	if !ok {
		q = &channelQueue{jobs: make(chan deliverJob, 64)}
		d.channels[key] = q
		go q.run(d)
	}
	return q
}

// BreakerStatus reports the current breaker state for one channel, for
// operational inspection.
func (d *Dispatcher) BreakerStatus(transport, conversationID string) (models.ChannelBreakerStatus, bool) {
	d.mu.Lock()
	q, ok := d.channels[channelKey(transport, conversationID)]
	d.mu.Unlock()
	if !ok {
		return models.ChannelBreakerStatus{}, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.breaker, true
}

type deliverJob struct {
	ctx    context.Context
	event  models.MultiChannelInboundEvent
	chunks []string
	result chan deliverResult
}

type deliverResult struct {
	receipts []models.OutboundReceipt
	err      error
}

type channelQueue struct {
	mu      sync.Mutex
	breaker models.ChannelBreakerStatus
	jobs    chan deliverJob
}

func (q *channelQueue) run(d *Dispatcher) {
	for job := range q.jobs {
		q.waitForBreaker(job.ctx)
		receipts, err := d.processJob(q, job)
		job.result <- deliverResult{receipts: receipts, err: err}
	}
}

// waitForBreaker blocks the worker (not the caller, who already
// returned from enqueue) until the breaker window passes or ctx ends.
func (q *channelQueue) waitForBreaker(ctx context.Context) {
	for {
		q.mu.Lock()
		open := q.breaker.State == models.BreakerOpen
		until := q.breaker.OpenUntilUnixMS
		q.mu.Unlock()
		if !open {
			return
		}
		remaining := time.Until(time.UnixMilli(until))
		if remaining <= 0 {
			q.mu.Lock()
			q.breaker.State = models.BreakerClosed
			q.breaker.ConsecutiveFailures = 0
			q.mu.Unlock()
			return
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (d *Dispatcher) recordFailure(q *channelQueue, reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.breaker.ConsecutiveFailures++
	if q.breaker.ConsecutiveFailures >= d.cfg.BreakerThreshold {
		q.breaker.State = models.BreakerOpen
		q.breaker.OpenUntilUnixMS = time.Now().Add(d.cfg.BreakerCooldown).UnixMilli()
		q.breaker.LastOpenReason = reason
	}
}

func (d *Dispatcher) recordSuccess(q *channelQueue) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.breaker.ConsecutiveFailures = 0
	q.breaker.State = models.BreakerClosed
}

// Deliver chunks text and sends each chunk through the channel's FIFO,
// per §4.I: channel_store mode skips the network, dry_run composes
// requests without sending, provider mode actually sends.
func (d *Dispatcher) Deliver(ctx context.Context, event models.MultiChannelInboundEvent, text string) ([]models.OutboundReceipt, error) {
	chunks := Chunk(text, d.cfg.MaxChars)
	if len(chunks) == 0 {
		return nil, nil
	}

	if d.cfg.Mode == models.DeliveryModeChannelStore {
		return d.deliverChannelStore(event, chunks)
	}
	if d.cfg.Mode == models.DeliveryModeDryRun {
		return d.deliverDryRun(event, chunks), nil
	}

	q := d.queueFor(channelKey(event.Transport, event.ConversationID))
	result := make(chan deliverResult, 1)
	q.jobs <- deliverJob{ctx: ctx, event: event, chunks: chunks, result: result}

	select {
	case r := <-result:
		return r.receipts, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// deliverChannelStore persists each chunk as an outbound log.jsonl entry
// under ChannelStoreRoot instead of sending over the network, per §4.I's
// channel_store mode. Receipts already written stand even if a later
// chunk's append fails; the caller gets both the partial receipts and
// the first error, matching provider mode's partial-success contract.
func (d *Dispatcher) deliverChannelStore(event models.MultiChannelInboundEvent, chunks []string) ([]models.OutboundReceipt, error) {
	now := time.Now().UnixMilli()
	receipts := make([]models.OutboundReceipt, 0, len(chunks))

	store, err := channelstore.Open(d.cfg.ChannelStoreRoot, event.Transport, event.ConversationID)
	if err != nil {
		return nil, &models.DeliveryError{
			ReasonCode: "channel_store_open_failed",
			Detail:     err.Error(),
			ChunkCount: len(chunks),
		}
	}

	for i, chunk := range chunks {
		payload, err := json.Marshal(chunk)
		if err == nil {
			err = store.AppendLogEntry(models.ChannelLogEntry{
				Timestamp: now,
				Direction: models.DirectionOutbound,
				EventKey:  event.EventID,
				Source:    "dispatcher",
				Payload:   payload,
			})
		}
		if err != nil {
			return receipts, &models.DeliveryError{
				ReasonCode: "channel_store_append_failed",
				Detail:     err.Error(),
				ChunkIndex: i,
				ChunkCount: len(chunks),
			}
		}
		receipts = append(receipts, models.OutboundReceipt{
			Mode:           models.DeliveryModeChannelStore,
			Transport:      event.Transport,
			ConversationID: event.ConversationID,
			ChunkIndex:     i,
			ChunkCount:     len(chunks),
			SentAtUnixMS:   now,
		})
	}
	return receipts, nil
}

func (d *Dispatcher) deliverDryRun(event models.MultiChannelInboundEvent, chunks []string) []models.OutboundReceipt {
	now := time.Now().UnixMilli()
	receipts := make([]models.OutboundReceipt, len(chunks))
	for i, chunk := range chunks {
		receipts[i] = models.OutboundReceipt{
			Mode:           models.DeliveryModeDryRun,
			Transport:      event.Transport,
			ConversationID: event.ConversationID,
			ChunkIndex:     i,
			ChunkCount:     len(chunks),
			Endpoint:       fmt.Sprintf("%s:would-send", event.Transport),
			RequestBody:    chunk,
			SentAtUnixMS:   now,
		}
	}
	return receipts
}

func (d *Dispatcher) processJob(q *channelQueue, job deliverJob) ([]models.OutboundReceipt, error) {
	provider, ok := d.providers[job.event.Transport]
	if !ok {
		return nil, &models.DeliveryError{
			ReasonCode: "unknown_provider",
			Detail:     fmt.Sprintf("no provider registered for transport %q", job.event.Transport),
			ChunkCount: len(job.chunks),
		}
	}

	receipts := make([]models.OutboundReceipt, 0, len(job.chunks))
	for i, chunk := range job.chunks {
		if err := d.limiters.Wait(job.ctx, job.event.Transport); err != nil {
			return receipts, toDeliveryError(err, i, len(job.chunks))
		}
		result, err := retrySend(job.ctx, d.cfg, provider, job.event.ConversationID, chunk)
		if err != nil {
			d.recordFailure(q, err.Error())
			return receipts, toDeliveryError(err, i, len(job.chunks))
		}
		d.recordSuccess(q)
		receipts = append(receipts, models.OutboundReceipt{
			Mode:              models.DeliveryModeProvider,
			Transport:         job.event.Transport,
			ConversationID:    job.event.ConversationID,
			ChunkIndex:        i,
			ChunkCount:        len(job.chunks),
			ProviderMessageID: redactMessageID(result.ProviderMessageID),
			Endpoint:          result.Endpoint,
			SentAtUnixMS:      time.Now().UnixMilli(),
		})
	}
	return receipts, nil
}

// retrySend attempts provider.Send up to cfg.MaxAttempts times with
// exponential backoff (internal/backoff.ComputeBackoff/SleepWithContext),
// stopping early the moment an error reports itself non-retryable.
func retrySend(ctx context.Context, cfg Config, provider Provider, conversationID, chunk string) (SendResult, error) {
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return SendResult{}, err
		}

		result, err := provider.Send(ctx, conversationID, chunk)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if re, ok := err.(interface{ Retryable() bool }); ok && !re.Retryable() {
			return SendResult{}, lastErr
		}
		if attempt < cfg.MaxAttempts {
			if sleepErr := backoff.SleepWithContext(ctx, backoff.ComputeBackoff(cfg.BackoffPolicy, attempt)); sleepErr != nil {
				return SendResult{}, sleepErr
			}
		}
	}
	return SendResult{}, lastErr
}

func toDeliveryError(err error, chunkIndex, chunkCount int) *models.DeliveryError {
	retryable := false
	reasonCode := "delivery_failed"
	httpStatus := 0
	endpoint := ""
	if pe, ok := err.(*providerError); ok {
		retryable = pe.retryable
		reasonCode = pe.reasonCode
		httpStatus = pe.httpStatus
		endpoint = pe.endpoint
	}
	return &models.DeliveryError{
		ReasonCode: reasonCode,
		Detail:     err.Error(),
		Retryable:  retryable,
		ChunkIndex: chunkIndex,
		ChunkCount: chunkCount,
		Endpoint:   endpoint,
		HTTPStatus: httpStatus,
	}
}

// redactMessageID keeps only the first 4 characters of a provider
// message id, per §4.I: receipts never contain the id unredacted.
func redactMessageID(id string) string {
	if len(id) <= 4 {
		return id
	}
	return id[:4]
}
