package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-authorizations/core"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	JobIDRefresh = "authorizations.refresh"

	ParamOwnerID = "owner_id"
	ParamName    = "name"

	dedupPolicyDrop = job.DeduplicationPolicy("drop")
)

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
	Backoff         core.BackoffScheduler
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		MaxDelay:        5 * time.Minute,
		DeadLetterOnMax: true,
		Backoff:         core.ExponentialBackoffScheduler{Initial: 5 * time.Second, Max: 5 * time.Minute},
	}
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

func (p RetryPolicy) delayFor(attempt int) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff.NextDelay(attempt)
}

// RefreshMessage builds the queue message that refreshes the authorization
// addressed by key. The idempotency key lets the queue drop duplicate
// refreshes of one record.
func RefreshMessage(key core.RecordKey) (*job.ExecutionMessage, error) {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return &job.ExecutionMessage{
		JobID:      JobIDRefresh,
		ScriptPath: JobIDRefresh,
		Parameters: map[string]any{
			ParamOwnerID: key.OwnerID,
			ParamName:    key.Name,
		},
		IdempotencyKey: JobIDRefresh + ":" + key.String(),
		DedupPolicy:    dedupPolicyDrop,
	}, nil
}

// RecordKeyFromMessage reads the record key carried by a refresh message.
func RecordKeyFromMessage(msg *job.ExecutionMessage) (core.RecordKey, error) {
	if msg == nil {
		return core.RecordKey{}, fmt.Errorf("gojob: execution message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDRefresh {
		return core.RecordKey{}, fmt.Errorf("gojob: unsupported job %q", msg.JobID)
	}
	ownerID, _ := msg.Parameters[ParamOwnerID].(string)
	name, _ := msg.Parameters[ParamName].(string)
	key := core.NewRecordKey(ownerID, name)
	if err := key.Validate(); err != nil {
		return core.RecordKey{}, err
	}
	return key, nil
}

type RefreshEnqueuer struct {
	enqueuer queue.Enqueuer
}

func NewRefreshEnqueuer(enqueuer queue.Enqueuer) *RefreshEnqueuer {
	return &RefreshEnqueuer{enqueuer: enqueuer}
}

func (e *RefreshEnqueuer) EnqueueRefresh(ctx context.Context, key core.RecordKey) error {
	if e == nil || e.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	msg, err := RefreshMessage(key)
	if err != nil {
		return err
	}
	return e.enqueuer.Enqueue(ctx, msg)
}

// Refresher is the part of the authorization service a refresh worker drives.
type Refresher interface {
	Refresh(ctx context.Context, key core.RecordKey) (bool, error)
}

type RefreshWorkerOption func(*RefreshWorker)

func WithRetryPolicy(policy RetryPolicy) RefreshWorkerOption {
	return func(w *RefreshWorker) {
		w.policy = policy
	}
}

func WithHook(hook worker.Hook) RefreshWorkerOption {
	return func(w *RefreshWorker) {
		if hook != nil {
			w.hook = hook
		}
	}
}

func WithClock(now func() time.Time) RefreshWorkerOption {
	return func(w *RefreshWorker) {
		if now != nil {
			w.now = now
		}
	}
}

// RefreshWorker drains refresh jobs one delivery at a time. Scheduling the
// calls to ProcessNext is left to the host.
type RefreshWorker struct {
	dequeuer  queue.Dequeuer
	refresher Refresher
	policy    RetryPolicy
	hook      worker.Hook
	now       func() time.Time

	mu       sync.Mutex
	attempts map[string]int
}

func NewRefreshWorker(dequeuer queue.Dequeuer, refresher Refresher, opts ...RefreshWorkerOption) *RefreshWorker {
	w := &RefreshWorker{
		dequeuer:  dequeuer,
		refresher: refresher,
		policy:    DefaultRetryPolicy(),
		hook:      nopHook{},
		now:       func() time.Time { return time.Now().UTC() },
		attempts:  map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// ProcessNext handles a single delivery. Refreshes that succeed or are not
// due are acked. Records that are gone or inactive are dead-lettered straight
// away; other failures are retried with backoff until the policy gives up.
func (w *RefreshWorker) ProcessNext(ctx context.Context) error {
	if w == nil || w.dequeuer == nil || w.refresher == nil {
		return fmt.Errorf("gojob: refresh worker is not configured")
	}
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	if delivery == nil {
		return nil
	}
	msg := delivery.Message()
	attemptKey := attemptKeyFor(msg)
	attempt := w.nextAttempt(attemptKey)
	event := worker.Event{Message: msg, Delivery: delivery, Attempt: attempt, StartedAt: w.now()}
	w.hook.OnStart(ctx, event)

	key, err := RecordKeyFromMessage(msg)
	if err != nil {
		return w.fail(ctx, delivery, event, attemptKey, err, queue.NackOptions{DeadLetter: true, Reason: err.Error()})
	}

	_, err = w.refresher.Refresh(ctx, key)
	event.Duration = w.now().Sub(event.StartedAt)
	if err == nil {
		w.forget(attemptKey)
		w.hook.OnSuccess(ctx, event)
		return delivery.Ack(ctx)
	}

	opts := queue.NackOptions{Requeue: true, Reason: err.Error()}
	switch {
	case core.IsNotFound(err), core.IsInactiveAuthorization(err), core.IsInvalidState(err):
		opts = queue.NackOptions{DeadLetter: true, Reason: err.Error()}
	case core.IsConflict(err):
		// another writer is already moving this record; retry at once
	default:
		opts.Delay = w.policy.delayFor(attempt)
	}
	return w.fail(ctx, delivery, event, attemptKey, err, opts)
}

func (w *RefreshWorker) fail(
	ctx context.Context,
	delivery queue.Delivery,
	event worker.Event,
	attemptKey string,
	cause error,
	opts queue.NackOptions,
) error {
	normalized := w.policy.NormalizeAttempt(opts, event.Attempt)
	event.Err = cause
	event.Delay = normalized.Delay
	if normalized.Requeue {
		w.hook.OnRetry(ctx, event)
	} else {
		w.forget(attemptKey)
		w.hook.OnFailure(ctx, event)
	}
	return delivery.Nack(ctx, normalized)
}

func (w *RefreshWorker) nextAttempt(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[key]++
	return w.attempts[key]
}

func (w *RefreshWorker) forget(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.attempts, key)
}

func attemptKeyFor(msg *job.ExecutionMessage) string {
	if msg == nil {
		return ""
	}
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		return key
	}
	return strings.TrimSpace(msg.JobID)
}

// LoggingHook reports refresh worker events through glog.
type LoggingHook struct {
	logger glog.Logger
}

func NewLoggingHook(logger glog.Logger) *LoggingHook {
	return &LoggingHook{logger: glog.Ensure(logger)}
}

func (h *LoggingHook) OnStart(ctx context.Context, event worker.Event) {
	h.log(ctx).Debug("authorization refresh started", eventFields(event)...)
}

func (h *LoggingHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.log(ctx).Info("authorization refresh completed", eventFields(event)...)
}

func (h *LoggingHook) OnFailure(ctx context.Context, event worker.Event) {
	h.log(ctx).Error("authorization refresh dead-lettered", eventFields(event)...)
}

func (h *LoggingHook) OnRetry(ctx context.Context, event worker.Event) {
	h.log(ctx).Warn("authorization refresh scheduled for retry", eventFields(event)...)
}

func (h *LoggingHook) log(ctx context.Context) glog.Logger {
	if h == nil || h.logger == nil {
		return glog.Nop()
	}
	return glog.Ensure(h.logger.WithContext(ctx))
}

func eventFields(event worker.Event) []any {
	fields := []any{"attempt", event.Attempt}
	if event.Message != nil {
		fields = append(fields, "job_id", event.Message.JobID, "idempotency_key", event.Message.IdempotencyKey)
		if ownerID, ok := event.Message.Parameters[ParamOwnerID].(string); ok {
			fields = append(fields, "owner_id", ownerID)
		}
	}
	if event.Delay > 0 {
		fields = append(fields, "delay", event.Delay.String())
	}
	if event.Duration > 0 {
		fields = append(fields, "duration", event.Duration.String())
	}
	if event.Err != nil {
		fields = append(fields, "error", event.Err.Error())
	}
	return fields
}

type nopHook struct{}

func (nopHook) OnStart(context.Context, worker.Event)   {}
func (nopHook) OnSuccess(context.Context, worker.Event) {}
func (nopHook) OnFailure(context.Context, worker.Event) {}
func (nopHook) OnRetry(context.Context, worker.Event)   {}

var (
	_ worker.Hook = (*LoggingHook)(nil)
	_ worker.Hook = nopHook{}
	_ Refresher   = (*core.Service)(nil)
)
