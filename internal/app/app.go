// Package app 按配置组装跟进服务
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/casa-followups/config"
	"github.com/d60-Lab/casa-followups/internal/api"
	"github.com/d60-Lab/casa-followups/internal/api/handler"
	"github.com/d60-Lab/casa-followups/internal/cache"
	"github.com/d60-Lab/casa-followups/internal/notify"
	"github.com/d60-Lab/casa-followups/internal/repository"
	"github.com/d60-Lab/casa-followups/internal/service"
	"github.com/d60-Lab/casa-followups/pkg/database"
	"github.com/d60-Lab/casa-followups/pkg/logger"
)

// App 持有进程内所有长生命周期依赖
type App struct {
	Config     *config.Config
	DB         *gorm.DB
	Redis      *redis.Client
	Outbox     repository.NotificationRepository
	Deliverer  notify.MultiDeliverer
	Dispatcher notify.Dispatcher
	Followups  service.FollowupService
	OpenCache  *cache.FollowupCache
	Inbox      *notify.RedisDeliverer

	async   *notify.AsyncDispatcher
	closers []func() error
}

// New 打开数据库和 Redis，构建投递渠道以及 notify.mode 指定的派发器；用完调用 Close
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := database.InitDB(cfg)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, DB: db}
	a.closers = append(a.closers, func() error { return database.Close(db) })

	if cfg.Redis.Addr != "" {
		a.Redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.closers = append(a.closers, a.Redis.Close)
	}

	if err := a.buildDeliverers(); err != nil {
		_ = a.Close()
		return nil, err
	}

	users := repository.NewUserRepository(db)
	contacts := repository.NewCaseContactRepository(db)
	followups := repository.NewFollowupRepository(db)
	a.Outbox = repository.NewNotificationRepository(db)
	resolver := notify.NewDirectoryResolver(users, contacts, cfg.Notify.RecipientTTL)

	switch cfg.Notify.Mode {
	case config.NotifyModeAsync:
		a.async = notify.NewAsyncDispatcher(a.Deliverer, resolver, cfg.Notify.QueueSize, cfg.Notify.Timeout)
		a.Dispatcher = a.async
	default:
		a.Dispatcher = notify.NewOutboxDispatcher(a.Outbox, resolver)
	}

	if a.Redis != nil {
		a.OpenCache = cache.NewFollowupCache(a.Redis, followups, cfg.Redis.CacheTTL)
	}
	a.Followups = service.NewFollowupService(followups, a.Dispatcher, a.OpenCache)
	return a, nil
}

func (a *App) buildDeliverers() error {
	cfg := a.Config.Notify
	a.Deliverer = notify.MultiDeliverer{notify.LogDeliverer{}}

	if cfg.WebhookURL != "" {
		a.Deliverer = append(a.Deliverer, notify.NewWebhookDeliverer(cfg.WebhookURL, cfg.WebhookSecret, cfg.Timeout))
	}
	if len(cfg.ShoutrrrURLs) > 0 {
		s, err := notify.NewShoutrrrDeliverer(cfg.ShoutrrrURLs, cfg.Timeout)
		if err != nil {
			return err
		}
		a.Deliverer = append(a.Deliverer, s)
	}
	if k := notify.NewKafkaDeliverer(cfg.KafkaBrokers, cfg.KafkaTopic); k != nil {
		a.Deliverer = append(a.Deliverer, k)
		a.closers = append(a.closers, k.Close)
	}
	if cfg.RedisInbox {
		if a.Redis == nil {
			return errors.New("notify.redis_inbox requires redis.addr")
		}
		a.Inbox = notify.NewRedisDeliverer(a.Redis, cfg.InboxLimit)
		a.Deliverer = append(a.Deliverer, a.Inbox)
	}

	names := make([]string, len(a.Deliverer))
	for i, d := range a.Deliverer {
		names[i] = d.Name()
	}
	logger.Info("delivery channels", zap.Strings("channels", names), zap.String("mode", a.Config.Notify.Mode))
	return nil
}

// Router 构建 HTTP 引擎
func (a *App) Router() *gin.Engine {
	opts := handler.Options{OpenCache: a.OpenCache, Ping: a.ping}
	if a.Inbox != nil {
		opts.Inbox = a.Inbox
	}
	h := handler.New(a.Followups, repository.NewCaseContactRepository(a.DB), opts)
	return api.NewRouter(h, api.RouterOptions{
		ServiceName: a.Config.App.Name,
		JWTSecret:   a.Config.JWT.Secret,
		JWTIssuer:   a.Config.JWT.Issuer,
		Tracing:     a.Config.Tracing.Enabled,
	})
}

// NewRelay 基于已配置渠道构建外发盒 relay
func (a *App) NewRelay() *notify.OutboxRelay {
	rc := a.Config.Relay
	return notify.NewOutboxRelay(a.Outbox, a.Deliverer, notify.RelayOptions{
		Workers:           rc.Workers,
		BatchSize:         rc.BatchSize,
		PollInterval:      rc.PollInterval,
		MaxAttempts:       rc.MaxAttempts,
		Lease:             rc.Lease,
		DeliverTimeout:    a.Config.Notify.Timeout,
		RatePerSecond:     rc.RatePerSecond,
		Burst:             rc.Burst,
		RetryBaseInterval: rc.RetryBaseInterval,
	})
}

// StartBackground 启动异步派发 worker；outbox 模式且 withRelay 时启动进程内 relay。返回停止函数
func (a *App) StartBackground(ctx context.Context, withRelay bool) func(context.Context) error {
	if a.async != nil {
		return a.async.Start(a.Config.Notify.Workers)
	}
	if withRelay {
		return a.NewRelay().Start(ctx)
	}
	return func(context.Context) error { return nil }
}

func (a *App) ping(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close 按获取的逆序释放资源
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
