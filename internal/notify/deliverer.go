package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/d60-Lab/casa-followups/pkg/logger"
	"github.com/d60-Lab/casa-followups/pkg/metrics"
)

// Deliverer 外部投递渠道（邮件、推送、站内信、webhook 等），实现需并发安全
type Deliverer interface {
	Name() string
	Deliver(ctx context.Context, e Event) error
}

// MultiDeliverer 把事件扇出到所有渠道，合并各渠道错误
type MultiDeliverer []Deliverer

func (m MultiDeliverer) Name() string { return "multi" }

func (m MultiDeliverer) Deliver(ctx context.Context, e Event) error {
	_, err := m.DeliverPending(ctx, e, nil)
	return err
}

// DeliverPending 跳过 skip 返回 true 的渠道，返回本次投递成功的渠道名
func (m MultiDeliverer) DeliverPending(ctx context.Context, e Event, skip func(name string) bool) ([]string, error) {
	var (
		ok   []string
		errs []error
	)
	for _, d := range m {
		if skip != nil && skip(d.Name()) {
			continue
		}
		if err := d.Deliver(ctx, e); err != nil {
			metrics.Deliveries.WithLabelValues(d.Name(), "error").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
			continue
		}
		metrics.Deliveries.WithLabelValues(d.Name(), "ok").Inc()
		ok = append(ok, d.Name())
	}
	return ok, errors.Join(errs...)
}

// LogDeliverer 写应用日志，始终启用
type LogDeliverer struct{}

func (LogDeliverer) Name() string { return "log" }

func (LogDeliverer) Deliver(_ context.Context, e Event) error {
	logger.Info("followup notification",
		zap.String("kind", string(e.Kind)),
		zap.String("followup_id", e.FollowupID),
		zap.String("subject", e.Subject.String()),
		zap.String("actor_id", e.ActorID),
		zap.Strings("recipients", e.Recipients),
	)
	return nil
}
