package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/d60-Lab/casa-followups/internal/model"
	"github.com/d60-Lab/casa-followups/pkg/logger"
)

var errQueueFull = errors.New("notify queue full")

// DispatchError 通知失败；只记录和上报，不返回给跟进服务的调用方
type DispatchError struct {
	Kind       model.NotificationKind
	FollowupID string
	Stage      string // recipients, enqueue, queue, deliver
	Err        error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("notify %s %s: %s: %v", e.Kind, e.FollowupID, e.Stage, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

func report(ctx context.Context, derr *DispatchError) {
	logger.Error("notification dispatch failed",
		zap.String("kind", string(derr.Kind)),
		zap.String("followup_id", derr.FollowupID),
		zap.String("stage", derr.Stage),
		zap.Error(derr.Err),
	)
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", "notify")
		scope.SetTag("stage", derr.Stage)
		scope.SetTag("kind", string(derr.Kind))
		scope.SetExtra("followup_id", derr.FollowupID)
		hub.CaptureException(derr)
	})
}

// resolve 查询收件人；失败时上报并返回空收件人，不依赖收件人的渠道照常投递
func resolve(ctx context.Context, r RecipientResolver, kind model.NotificationKind, f *model.Followup, actorID string) []string {
	if r == nil {
		return nil
	}
	ids, err := r.Recipients(ctx, kind, f, actorID)
	if err != nil {
		report(ctx, &DispatchError{Kind: kind, FollowupID: f.ID, Stage: "recipients", Err: err})
		return nil
	}
	return ids
}
