package notify

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/casa-followups/internal/model"
	"github.com/d60-Lab/casa-followups/internal/repository"
	"github.com/d60-Lab/casa-followups/pkg/logger"
	"github.com/d60-Lab/casa-followups/pkg/metrics"
)

const enqueueTimeout = 5 * time.Second

// OutboxDispatcher 把事件写入通知外发盒，由 OutboxRelay 投递；进程重启也不丢（至少一次）
type OutboxDispatcher struct {
	repo     repository.NotificationRepository
	resolver RecipientResolver
	now      func() time.Time
}

func NewOutboxDispatcher(repo repository.NotificationRepository, resolver RecipientResolver) *OutboxDispatcher {
	return &OutboxDispatcher{repo: repo, resolver: resolver, now: func() time.Time { return time.Now().UTC() }}
}

func (d *OutboxDispatcher) NotifyCreated(ctx context.Context, f *model.Followup, createdBy string) {
	d.dispatch(ctx, model.NotificationCreated, f, createdBy)
}

func (d *OutboxDispatcher) NotifyResolved(ctx context.Context, f *model.Followup, createdBy string) {
	d.dispatch(ctx, model.NotificationResolved, f, createdBy)
}

func (d *OutboxDispatcher) dispatch(ctx context.Context, kind model.NotificationKind, f *model.Followup, actorID string) {
	// 状态已经提交，请求取消不应再影响事件落地
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
	defer cancel()

	recipients := resolve(ctx, d.resolver, kind, f, actorID)
	e := NewEvent(kind, f, actorID, recipients)
	payload, err := json.Marshal(e)
	if err != nil {
		report(ctx, &DispatchError{Kind: kind, FollowupID: f.ID, Stage: "enqueue", Err: err})
		metrics.NotificationsDispatched.WithLabelValues(string(kind), "outbox", "error").Inc()
		return
	}

	inserted, err := d.repo.Enqueue(ctx, &model.NotificationOutbox{
		FollowupID:    f.ID,
		Kind:          kind,
		ActorID:       actorID,
		Recipients:    model.JoinRecipients(recipients),
		Payload:       payload,
		Status:        model.OutboxPending,
		NextAttemptAt: d.now(),
	})
	if err != nil {
		report(ctx, &DispatchError{Kind: kind, FollowupID: f.ID, Stage: "enqueue", Err: err})
		metrics.NotificationsDispatched.WithLabelValues(string(kind), "outbox", "error").Inc()
		return
	}
	if !inserted {
		logger.Debug("notification already queued", zap.String("key", e.Key()))
		metrics.NotificationsDispatched.WithLabelValues(string(kind), "outbox", "duplicate").Inc()
		return
	}
	metrics.NotificationsDispatched.WithLabelValues(string(kind), "outbox", "ok").Inc()
}
