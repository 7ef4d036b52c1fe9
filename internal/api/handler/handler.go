package handler

import (
	"context"
	"time"

	"github.com/d60-Lab/casa-followups/internal/cache"
	"github.com/d60-Lab/casa-followups/internal/notify"
	"github.com/d60-Lab/casa-followups/internal/repository"
	"github.com/d60-Lab/casa-followups/internal/service"
)

// InboxReader 读取站内通知；由 notify.RedisDeliverer 实现
type InboxReader interface {
	Inbox(ctx context.Context, userID string, n int64) ([]notify.Event, error)
}

// Handler 聚合 HTTP 处理函数的依赖
type Handler struct {
	followups service.FollowupService
	contacts  repository.CaseContactRepository
	openCache *cache.FollowupCache
	inbox     InboxReader
	ping      func(ctx context.Context) error
	now       func() time.Time
}

// Options 可选依赖，缺省时对应功能降级
type Options struct {
	OpenCache *cache.FollowupCache
	Inbox     InboxReader
	Ping      func(ctx context.Context) error
}

func New(followups service.FollowupService, contacts repository.CaseContactRepository, opts Options) *Handler {
	return &Handler{
		followups: followups,
		contacts:  contacts,
		openCache: opts.OpenCache,
		inbox:     opts.Inbox,
		ping:      opts.Ping,
		now:       func() time.Time { return time.Now().UTC() },
	}
}
