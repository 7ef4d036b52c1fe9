package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/casa-followups/internal/model"
	"github.com/d60-Lab/casa-followups/pkg/logger"
	"github.com/d60-Lab/casa-followups/pkg/metrics"
)

type asyncJob struct {
	kind     model.NotificationKind
	followup model.Followup
	actorID  string
	enqAt    time.Time
}

// AsyncDispatcher 进程内异步派发：有界队列 + worker 直接投递，不经过外发盒。
// 队列满时丢弃并告警，进程退出时未投递的事件会丢失。
type AsyncDispatcher struct {
	deliverer Deliverer
	resolver  RecipientResolver
	timeout   time.Duration
	ch        chan asyncJob
	stopCh    chan struct{}
	wg        sync.WaitGroup
	once      sync.Once
}

func NewAsyncDispatcher(deliverer Deliverer, resolver RecipientResolver, queueSize int, timeout time.Duration) *AsyncDispatcher {
	if queueSize <= 0 {
		queueSize = 10000
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AsyncDispatcher{
		deliverer: deliverer,
		resolver:  resolver,
		timeout:   timeout,
		ch:        make(chan asyncJob, queueSize),
		stopCh:    make(chan struct{}),
	}
}

// Start 启动 workers 个投递协程；返回的停止函数会先排空队列再返回，或在 ctx 到期时放弃。
func (d *AsyncDispatcher) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 4
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.loop()
	}
	return func(ctx context.Context) error {
		d.once.Do(func() { close(d.stopCh) })
		done := make(chan struct{})
		go func() { d.wg.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *AsyncDispatcher) loop() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.ch:
			d.deliver(job)
		case <-d.stopCh:
			for {
				select {
				case job := <-d.ch:
					d.deliver(job)
				default:
					return
				}
			}
		}
	}
}

func (d *AsyncDispatcher) deliver(job asyncJob) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	f := &job.followup
	e := NewEvent(job.kind, f, job.actorID, resolve(ctx, d.resolver, job.kind, f, job.actorID))
	if err := d.deliverer.Deliver(ctx, e); err != nil {
		report(ctx, &DispatchError{Kind: job.kind, FollowupID: f.ID, Stage: "deliver", Err: err})
		return
	}
	metrics.DeliveryLatency.WithLabelValues(string(job.kind)).Observe(time.Since(job.enqAt).Seconds())
}

func (d *AsyncDispatcher) NotifyCreated(ctx context.Context, f *model.Followup, createdBy string) {
	d.enqueue(ctx, model.NotificationCreated, f, createdBy)
}

func (d *AsyncDispatcher) NotifyResolved(ctx context.Context, f *model.Followup, createdBy string) {
	d.enqueue(ctx, model.NotificationResolved, f, createdBy)
}

func (d *AsyncDispatcher) enqueue(ctx context.Context, kind model.NotificationKind, f *model.Followup, actorID string) {
	select {
	case d.ch <- asyncJob{kind: kind, followup: *f, actorID: actorID, enqAt: time.Now()}:
		metrics.NotificationsDispatched.WithLabelValues(string(kind), "async", "ok").Inc()
	default:
		logger.Warn("notify queue full, drop event", zap.String("kind", string(kind)), zap.String("followup_id", f.ID))
		metrics.NotificationsDispatched.WithLabelValues(string(kind), "async", "dropped").Inc()
		report(ctx, &DispatchError{Kind: kind, FollowupID: f.ID, Stage: "queue", Err: errQueueFull})
	}
}

// QueueLen 返回当前队列长度（采样值）
func (d *AsyncDispatcher) QueueLen() int { return len(d.ch) }
