package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/sendrotor/sendrotor/internal/account"
	"github.com/sendrotor/sendrotor/internal/outcome"
	"github.com/sendrotor/sendrotor/internal/plan"
	"github.com/sendrotor/sendrotor/internal/queue"
	"github.com/sendrotor/sendrotor/internal/ratelimit"
	"github.com/sendrotor/sendrotor/internal/sender"
	"github.com/sendrotor/sendrotor/internal/validator"
)

// Config tunes the pipeline's worker pool and failure handling.
type Config struct {
	// Workers is the number of concurrent executors.
	Workers int `toml:"workers" json:"workers"`
	// PollInterval is how long an idle worker waits before re-checking the
	// queue.
	PollInterval time.Duration `toml:"poll_interval" json:"poll_interval"`
	// AttemptTimeout bounds a single send or probe attempt.
	AttemptTimeout time.Duration `toml:"attempt_timeout" json:"attempt_timeout"`
	// NoAccountRetryAfter is the deferral applied when no account is
	// available for a tenant.
	NoAccountRetryAfter time.Duration `toml:"no_account_retry_after" json:"no_account_retry_after"`
	// BreakerThreshold is the consecutive infrastructure failures that open
	// an account's circuit.
	BreakerThreshold uint32 `toml:"breaker_threshold" json:"breaker_threshold"`
	// BreakerCooldown is how long an open circuit stays open.
	BreakerCooldown time.Duration `toml:"breaker_cooldown" json:"breaker_cooldown"`
}

// DefaultConfig returns the standard pipeline tuning.
func DefaultConfig() Config {
	return Config{
		Workers:             4,
		PollInterval:        500 * time.Millisecond,
		AttemptTimeout:      90 * time.Second,
		NoAccountRetryAfter: time.Minute,
		BreakerThreshold:    5,
		BreakerCooldown:     2 * time.Minute,
	}
}

// Validate rejects unusable tunings.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.PollInterval <= 0 || c.AttemptTimeout <= 0 {
		return fmt.Errorf("poll_interval and attempt_timeout must be positive")
	}
	return nil
}

// Sender executes a send through a provider account.
type Sender interface {
	Send(ctx context.Context, acct account.Account, msg sender.Message) error
}

// Checker produces deliverability verdicts for probe work items.
type Checker interface {
	CheckEmail(ctx context.Context, address string) (validator.Verdict, error)
}

// Pipeline pulls work items from the engine and executes them: sends go
// through rotated provider accounts, probes through the validator. Outcomes
// feed back into account health, the retry engine and the notifier.
type Pipeline struct {
	config   Config
	engine   *queue.Engine
	accounts *account.Store
	selector *account.Selector
	limiter  *ratelimit.Limiter
	plans    *plan.Registry
	sender   Sender
	checker  Checker
	notifier Notifier
	metrics  *Metrics
	logger   *slog.Logger

	breakerMu sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker

	now func() time.Time
}

// New wires a pipeline from its collaborators. A nil notifier falls back to
// the log notifier.
func New(config Config, engine *queue.Engine, accounts *account.Store, limiter *ratelimit.Limiter, plans *plan.Registry, sender Sender, checker Checker, notifier Notifier) (*Pipeline, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if notifier == nil {
		notifier = NewLogNotifier()
	}

	return &Pipeline{
		config:   config,
		engine:   engine,
		accounts: accounts,
		selector: account.NewSelector(accounts),
		limiter:  limiter,
		plans:    plans,
		sender:   sender,
		checker:  checker,
		notifier: notifier,
		metrics:  GetMetrics(),
		logger:   slog.Default().With("component", "pipeline"),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		now:      time.Now,
	}, nil
}

// Run starts the worker pool and blocks until the context is canceled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("Pipeline starting",
		"event_type", "pipeline_started",
		"workers", p.config.Workers)

	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.config.Workers; i++ {
		worker := i
		g.Go(func() error {
			return p.workerLoop(ctx, worker)
		})
	}

	g.Go(func() error {
		return p.statsLoop(ctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	p.logger.Info("Pipeline stopped", "event_type", "pipeline_stopped")
	return err
}

func (p *Pipeline) workerLoop(ctx context.Context, worker int) error {
	logger := p.logger.With("worker", worker)
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		item, ok := p.engine.Dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
			continue
		}

		p.process(ctx, logger, item)

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// statsLoop mirrors engine queue depths into gauges.
func (p *Pipeline) statsLoop(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			stats := p.engine.GetStats()
			p.metrics.QueuePending.Set(float64(stats.PendingCount))
			p.metrics.QueueInFlight.Set(float64(stats.InFlightCount))
		}
	}
}

// process executes one dequeued item and reports the outcome to the engine.
func (p *Pipeline) process(ctx context.Context, logger *slog.Logger, item queue.WorkItem) {
	var (
		rec     queue.AttemptRecord
		execErr error
	)

	switch item.Kind {
	case queue.KindSend:
		rec, execErr = p.executeSend(ctx, item)
	case queue.KindProbe:
		rec, execErr = p.executeProbe(ctx, item)
	default:
		execErr = &outcome.ConfigurationError{Reason: fmt.Sprintf("unknown work item kind %q", item.Kind)}
	}

	resolution, err := p.engine.Resolve(ctx, item.ID, rec, execErr)
	if err != nil {
		logger.Error("Failed to resolve work item",
			"event_type", "resolve_failed",
			"work_item_id", item.ID,
			"error", err)
		return
	}

	p.metrics.ItemsResolved.WithLabelValues(string(resolution)).Inc()

	switch resolution {
	case queue.ResolutionCompleted, queue.ResolutionDeadLettered:
		if resolution == queue.ResolutionDeadLettered {
			p.metrics.DeadLettered.Inc()
		}
		p.notifyTerminal(ctx, item.ID)
	case queue.ResolutionDeferred:
		p.metrics.Deferrals.WithLabelValues(deferralReason(execErr)).Inc()
	}
}

// executeSend runs one delivery attempt: admit against the tenant's send
// budget, claim an account, then send through the account's circuit breaker.
func (p *Pipeline) executeSend(ctx context.Context, item queue.WorkItem) (queue.AttemptRecord, error) {
	limits, err := p.plans.Lookup(item.Tier)
	if err != nil {
		return queue.AttemptRecord{}, &outcome.ConfigurationError{Reason: err.Error()}
	}

	decision, err := p.limiter.TryAdmit(ctx, item.TenantID, item.Tier, ratelimit.ResourceSend)
	if err != nil {
		return queue.AttemptRecord{}, &outcome.TransientNetworkError{Op: "rate-limit", Err: err}
	}
	if !decision.Admitted {
		return queue.AttemptRecord{}, &outcome.ResourceExhausted{
			Resource:   "send rate limit",
			RetryAfter: decision.RetryAfter,
		}
	}

	acct, err := p.selector.Select(item.TenantID, item.RotationGroup, limits.AccountHourlyCap, limits.AccountDailyCap)
	if errors.Is(err, account.ErrNoAccountAvailable) {
		return queue.AttemptRecord{}, &outcome.ResourceExhausted{
			Resource:   "account pool",
			RetryAfter: p.config.NoAccountRetryAfter,
		}
	}
	if err != nil {
		return queue.AttemptRecord{}, &outcome.TransientNetworkError{Op: "account-select", Err: err}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.config.AttemptTimeout)
	defer cancel()

	start := p.now()
	var sendErr error
	_, breakerErr := p.breakerFor(acct.ID).Execute(func() (interface{}, error) {
		sendErr = p.sender.Send(attemptCtx, acct, sender.Message{To: item.Target, Data: item.Payload})
		if sendErr != nil && !accountFault(sendErr) {
			// recipient rejections don't count against the account's circuit
			return nil, nil
		}
		return nil, sendErr
	})
	latency := p.now().Sub(start)
	p.metrics.AttemptDuration.Observe(latency.Seconds())

	if errors.Is(breakerErr, gobreaker.ErrOpenState) || errors.Is(breakerErr, gobreaker.ErrTooManyRequests) {
		return queue.AttemptRecord{}, &outcome.ResourceExhausted{
			Resource:   "account circuit",
			RetryAfter: p.config.BreakerCooldown,
		}
	}

	if err := p.accounts.Report(acct.ID, healthOutcome(sendErr)); err != nil {
		p.logger.Warn("Failed to report account outcome",
			"event_type", "health_report_failed",
			"account_id", acct.ID,
			"error", err)
	}

	// Account-scoped failures (bad credentials, provider blocks) retry the
	// item on another account instead of condemning it; the health report
	// above already took the account out of rotation.
	execErr := sendErr
	if accountScoped(sendErr) {
		execErr = &outcome.TransientNetworkError{Op: "account", Err: sendErr}
	}

	result := outcome.ForError(execErr)
	p.metrics.SendsTotal.WithLabelValues(string(result)).Inc()

	rec := queue.AttemptRecord{
		Timestamp: start,
		AccountID: acct.ID,
		Result:    result,
		Latency:   latency,
	}
	if sendErr != nil {
		rec.Error = sendErr.Error()
	}
	return rec, execErr
}

// executeProbe runs one validation attempt. A conclusive verdict completes
// the item; an unknown verdict counts as a transient failure so the item
// retries with backoff.
func (p *Pipeline) executeProbe(ctx context.Context, item queue.WorkItem) (queue.AttemptRecord, error) {
	decision, err := p.limiter.TryAdmit(ctx, item.TenantID, item.Tier, ratelimit.ResourceProbe)
	if err != nil {
		return queue.AttemptRecord{}, &outcome.TransientNetworkError{Op: "rate-limit", Err: err}
	}
	if !decision.Admitted {
		return queue.AttemptRecord{}, &outcome.ResourceExhausted{
			Resource:   "probe rate limit",
			RetryAfter: decision.RetryAfter,
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.config.AttemptTimeout)
	defer cancel()

	start := p.now()
	verdict, err := p.checker.CheckEmail(attemptCtx, item.Target)
	latency := p.now().Sub(start)
	p.metrics.AttemptDuration.Observe(latency.Seconds())

	if err != nil {
		return queue.AttemptRecord{}, &outcome.TransientNetworkError{Op: "probe", Err: err}
	}

	p.metrics.ProbesTotal.WithLabelValues(string(verdict.State)).Inc()

	rec := queue.AttemptRecord{
		Timestamp: start,
		Result:    outcome.ResultValidated,
		Error:     verdict.Detail,
		Latency:   latency,
	}

	if !verdict.Conclusive() {
		rec.Result = outcome.ResultTempFailed
		return rec, &outcome.TransientNetworkError{
			Op:  "probe",
			Err: fmt.Errorf("verdict unknown: %s", verdict.Detail),
		}
	}
	return rec, nil
}

// notifyTerminal emits the terminal event for an item.
func (p *Pipeline) notifyTerminal(ctx context.Context, itemID string) {
	item, status, attempts, err := p.engine.Get(itemID)
	if err != nil {
		return
	}

	p.notifier.Notify(ctx, Event{
		WorkItemID:   item.ID,
		TenantID:     item.TenantID,
		FinalStatus:  status,
		AttemptCount: len(attempts),
		Timestamp:    p.now(),
	})
}

// breakerFor returns the account's circuit breaker, creating it on first use.
func (p *Pipeline) breakerFor(accountID string) *gobreaker.CircuitBreaker {
	p.breakerMu.Lock()
	defer p.breakerMu.Unlock()

	if cb, ok := p.breakers[accountID]; ok {
		return cb
	}

	threshold := p.config.BreakerThreshold
	if threshold == 0 {
		threshold = 5
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "account:" + accountID,
		Timeout: p.config.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})
	p.breakers[accountID] = cb
	return cb
}

// accountFault reports whether a send error reflects on the account rather
// than the recipient.
func accountFault(err error) bool {
	var rejection *outcome.ProtocolRejection
	if errors.As(err, &rejection) {
		return spamBlock(rejection)
	}
	return true
}

// accountScoped reports whether a send failure would follow the account, not
// the work item: credential rejections, undecryptable credentials, provider
// blocks.
func accountScoped(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sender.ErrAuthFailed) {
		return true
	}
	var cfgErr *outcome.ConfigurationError
	if errors.As(err, &cfgErr) {
		return true
	}
	var rejection *outcome.ProtocolRejection
	if errors.As(err, &rejection) {
		return spamBlock(rejection)
	}
	return false
}

// healthOutcome maps a send error to the account health report. Recipient
// rejections leave the account healthy; credential and spam-block rejections
// are hard failures; everything else is a soft failure.
func healthOutcome(err error) account.Outcome {
	if err == nil {
		return account.OutcomeSuccess
	}

	if errors.Is(err, sender.ErrAuthFailed) {
		return account.OutcomeHardFailure
	}

	var cfgErr *outcome.ConfigurationError
	if errors.As(err, &cfgErr) {
		return account.OutcomeHardFailure
	}

	var rejection *outcome.ProtocolRejection
	if errors.As(err, &rejection) {
		if spamBlock(rejection) {
			return account.OutcomeHardFailure
		}
		return account.OutcomeSuccess
	}

	return account.OutcomeSoftFailure
}

// spamBlock recognizes provider responses that indicate the sending account
// itself is blocked.
func spamBlock(rejection *outcome.ProtocolRejection) bool {
	if rejection.Code == 554 {
		return true
	}
	msg := strings.ToLower(rejection.Message)
	return strings.Contains(msg, "spam") || strings.Contains(msg, "blocked") || strings.Contains(msg, "blacklist")
}

func deferralReason(err error) string {
	var exhausted *outcome.ResourceExhausted
	if errors.As(err, &exhausted) {
		switch exhausted.Resource {
		case "send rate limit", "probe rate limit":
			return "rate_limit"
		case "account pool":
			return "no_account"
		case "account circuit":
			return "breaker_open"
		}
	}
	return "other"
}
