package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/casa-followups/internal/model"
	"github.com/d60-Lab/casa-followups/internal/repository"
	"github.com/d60-Lab/casa-followups/pkg/logger"
	"github.com/d60-Lab/casa-followups/pkg/metrics"
)

// RelayOptions OutboxRelay 参数，零值取默认
type RelayOptions struct {
	Workers           int
	BatchSize         int
	PollInterval      time.Duration
	MaxAttempts       int
	Lease             time.Duration
	DeliverTimeout    time.Duration
	RatePerSecond     float64
	Burst             int
	RetryBaseInterval time.Duration
	RetryMaxInterval  time.Duration
}

func (o *RelayOptions) defaults() {
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 64
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 8
	}
	if o.Lease <= 0 {
		o.Lease = 2 * time.Minute
	}
	if o.DeliverTimeout <= 0 {
		o.DeliverTimeout = 10 * time.Second
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	if o.RetryBaseInterval <= 0 {
		o.RetryBaseInterval = 5 * time.Second
	}
	if o.RetryMaxInterval <= 0 {
		o.RetryMaxInterval = 30 * time.Minute
	}
	// 租期在每条投递前续约，只需覆盖单次投递
	if o.Lease <= o.DeliverTimeout {
		o.Lease = 2 * o.DeliverTimeout
	}
}

// RelayStats 一次 ProcessOnce 的统计
type RelayStats struct {
	Claimed   int
	Delivered int
	Retried   int
	Failed    int
	Lost      int // 认领被收回，交给新的认领者
	Released  int64
}

// OutboxRelay 轮询外发盒，把到期事件投递到各渠道。
// 投递失败按指数退避重试，超过 MaxAttempts 标记为 failed 并上报。
type OutboxRelay struct {
	repo      repository.NotificationRepository
	deliverer Deliverer
	opts      RelayOptions
	limiter   *rate.Limiter
	now       func() time.Time
}

func NewOutboxRelay(repo repository.NotificationRepository, deliverer Deliverer, opts RelayOptions) *OutboxRelay {
	opts.defaults()
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	return &OutboxRelay{
		repo:      repo,
		deliverer: deliverer,
		opts:      opts,
		limiter:   rate.NewLimiter(limit, opts.Burst),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start 启动若干轮询协程；返回停止函数，等待进行中的批次结束。
func (r *OutboxRelay) Start(ctx context.Context) func(context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{}, r.opts.Workers)
	for i := 0; i < r.opts.Workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			r.loop(ctx)
		}()
	}
	return func(stopCtx context.Context) error {
		cancel()
		for i := 0; i < r.opts.Workers; i++ {
			select {
			case <-done:
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		}
		return nil
	}
}

func (r *OutboxRelay) loop(ctx context.Context) {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("relay pass failed", zap.Error(err))
			}
		}
	}
}

// ProcessOnce 放回过期认领，认领一批到期记录并投递
func (r *OutboxRelay) ProcessOnce(ctx context.Context) (RelayStats, error) {
	var stats RelayStats
	now := r.now()

	released, err := r.repo.ReleaseStale(ctx, now.Add(-r.opts.Lease))
	if err != nil {
		return stats, fmt.Errorf("release stale: %w", err)
	}
	if released > 0 {
		logger.Warn("released stale outbox claims", zap.Int64("count", released))
	}
	stats.Released = released

	batch, err := r.repo.ClaimDue(ctx, now, r.opts.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("claim due: %w", err)
	}
	stats.Claimed = len(batch)

	for _, o := range batch {
		if err := r.limiter.Wait(ctx); err != nil {
			// 被取消：剩余记录在租期后由 ReleaseStale 放回
			return stats, err
		}
		switch r.handle(ctx, o) {
		case model.OutboxDone:
			stats.Delivered++
		case model.OutboxPending:
			stats.Retried++
		case model.OutboxFailed:
			stats.Failed++
		case outcomeLost:
			stats.Lost++
		}
	}
	return stats, nil
}

// outcomeLost 表示认领在处理途中被 ReleaseStale 收回
const outcomeLost = "lost"

func (r *OutboxRelay) handle(ctx context.Context, o *model.NotificationOutbox) string {
	// 批次内排在后面的记录可能已等待较久，投递前续约
	if err := r.repo.Renew(ctx, o, r.now()); err != nil {
		r.logMarkErr("renew", o, err)
		return outcomeLost
	}

	var e Event
	if err := json.Unmarshal(o.Payload, &e); err != nil {
		// 负载损坏，重试没有意义
		return r.fail(ctx, o, fmt.Errorf("decode payload: %w", err))
	}

	dctx, cancel := context.WithTimeout(ctx, r.opts.DeliverTimeout)
	delivered, err := deliverPending(dctx, r.deliverer, e, o.ChannelDelivered)
	cancel()
	o.AddDeliveredChannels(delivered...)

	if err == nil {
		if merr := r.repo.MarkDone(ctx, o, r.now()); merr != nil {
			r.logMarkErr("done", o, merr)
			if errors.Is(merr, repository.ErrClaimLost) {
				return outcomeLost
			}
		}
		metrics.DeliveryLatency.WithLabelValues(string(o.Kind)).Observe(time.Since(o.CreatedAt).Seconds())
		return model.OutboxDone
	}

	if o.Attempts >= r.opts.MaxAttempts {
		return r.fail(ctx, o, err)
	}

	next := r.now().Add(r.retryDelay(o.Attempts))
	logger.Warn("notification delivery failed, will retry",
		zap.String("id", o.ID),
		zap.String("followup_id", o.FollowupID),
		zap.Int("attempts", o.Attempts),
		zap.String("delivered_channels", o.DeliveredChannels),
		zap.Time("next_attempt_at", next),
		zap.Error(err),
	)
	if merr := r.repo.MarkRetry(ctx, o, next, err.Error()); merr != nil {
		r.logMarkErr("retry", o, merr)
		if errors.Is(merr, repository.ErrClaimLost) {
			return outcomeLost
		}
	}
	return model.OutboxPending
}

// deliverPending 只投递尚未成功的渠道
func deliverPending(ctx context.Context, d Deliverer, e Event, delivered func(string) bool) ([]string, error) {
	if m, ok := d.(MultiDeliverer); ok {
		return m.DeliverPending(ctx, e, delivered)
	}
	if delivered(d.Name()) {
		return nil, nil
	}
	if err := d.Deliver(ctx, e); err != nil {
		return nil, err
	}
	return []string{d.Name()}, nil
}

func (r *OutboxRelay) logMarkErr(step string, o *model.NotificationOutbox, err error) {
	if errors.Is(err, repository.ErrClaimLost) {
		logger.Warn("outbox claim lost", zap.String("step", step), zap.String("id", o.ID))
		return
	}
	logger.Error("update outbox", zap.String("step", step), zap.String("id", o.ID), zap.Error(err))
}

func (r *OutboxRelay) fail(ctx context.Context, o *model.NotificationOutbox, err error) string {
	if merr := r.repo.MarkFailed(ctx, o, r.now(), err.Error()); merr != nil {
		r.logMarkErr("failed", o, merr)
		if errors.Is(merr, repository.ErrClaimLost) {
			return outcomeLost
		}
	}
	derr := &DispatchError{Kind: o.Kind, FollowupID: o.FollowupID, Stage: "deliver", Err: err}
	logger.Error("notification delivery gave up",
		zap.String("id", o.ID),
		zap.String("followup_id", o.FollowupID),
		zap.Int("attempts", o.Attempts),
		zap.Error(err),
	)
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", "relay")
		scope.SetExtra("outbox_id", o.ID)
		scope.SetExtra("attempts", o.Attempts)
		sentry.CaptureException(derr)
	})
	return model.OutboxFailed
}

// retryDelay = base * 2^(attempts-1)，上限 RetryMaxInterval
func (r *OutboxRelay) retryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.RetryBaseInterval
	b.MaxInterval = r.opts.RetryMaxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	d := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}
