// Package cache 在 Redis 中按主体缓存未解决跟进 id，列表页的角标计数不必查表。
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/casa-followups/internal/model"
	"github.com/d60-Lab/casa-followups/internal/repository"
	"github.com/d60-Lab/casa-followups/pkg/logger"
)

// emptyMarker 空集合占位，Redis 不保存空 set
const emptyMarker = "-"

// FollowupCache 按主体读穿缓存未解决跟进 id；client 为 nil 时直接查库
type FollowupCache struct {
	client *redis.Client
	repo   repository.FollowupRepository
	ttl    time.Duration

	dbLoads atomic.Int64
	hits    atomic.Int64
}

func NewFollowupCache(client *redis.Client, repo repository.FollowupRepository, ttl time.Duration) *FollowupCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &FollowupCache{client: client, repo: repo, ttl: ttl}
}

// errStaleLoad 回填期间集合被 Invalidate 过，丢弃本次回填
var errStaleLoad = errors.New("open set invalidated during load")

func openKey(s model.Subject) string { return fmt.Sprintf("followups:open:%s:%s", s.Type, s.ID) }

// versionKey 每次 Invalidate 自增；回填前比对，防止旧读覆盖新失效
func versionKey(s model.Subject) string {
	return fmt.Sprintf("followups:open:ver:%s:%s", s.Type, s.ID)
}

// OpenIDs 主体上未解决跟进的 id，已排序
func (c *FollowupCache) OpenIDs(ctx context.Context, subject model.Subject) ([]string, error) {
	if c.client != nil {
		members, err := c.client.SMembers(ctx, openKey(subject)).Result()
		if err == nil && len(members) > 0 {
			c.hits.Add(1)
			return withoutMarker(members), nil
		}
		if err != nil {
			logger.Warn("followup cache read failed", zap.String("subject", subject.String()), zap.Error(err))
		}
	}
	return c.load(ctx, subject)
}

// OpenCount 主体的角标计数
func (c *FollowupCache) OpenCount(ctx context.Context, subject model.Subject) (int, error) {
	ids, err := c.OpenIDs(ctx, subject)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Invalidate 删除缓存集合并递增版本号，此前已查库的读取不会再把旧结果写回
func (c *FollowupCache) Invalidate(ctx context.Context, subject model.Subject) error {
	if c.client == nil {
		return nil
	}
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, versionKey(subject))
	pipe.Expire(ctx, versionKey(subject), c.ttl)
	pipe.Del(ctx, openKey(subject))
	_, err := pipe.Exec(ctx)
	return err
}

func (c *FollowupCache) load(ctx context.Context, subject model.Subject) ([]string, error) {
	c.dbLoads.Add(1)
	fill := c.client != nil
	var version string
	if fill {
		v, err := c.client.Get(ctx, versionKey(subject)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			logger.Warn("followup cache version read failed", zap.String("subject", subject.String()), zap.Error(err))
			fill = false
		}
		version = v
	}

	ids, err := c.repo.OpenIDsBySubject(ctx, subject)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	if fill {
		c.fill(ctx, subject, version, ids)
	}
	return ids, nil
}

// fill 在版本未变时写回集合（WATCH 乐观锁）
func (c *FollowupCache) fill(ctx context.Context, subject model.Subject, version string, ids []string) {
	members := make([]any, 0, len(ids)+1)
	if len(ids) == 0 {
		members = append(members, emptyMarker)
	}
	for _, id := range ids {
		members = append(members, id)
	}
	key, vkey := openKey(subject), versionKey(subject)
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, vkey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != version {
			return errStaleLoad
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SAdd(ctx, key, members...)
			pipe.Expire(ctx, key, c.ttl)
			return nil
		})
		return err
	}, vkey)
	switch {
	case err == nil:
	case errors.Is(err, errStaleLoad), errors.Is(err, redis.TxFailedErr):
		logger.Debug("followup cache fill skipped", zap.String("subject", subject.String()))
	default:
		logger.Warn("followup cache fill failed", zap.String("subject", subject.String()), zap.Error(err))
	}
}

func withoutMarker(members []string) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		if m != emptyMarker {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

// Counters 创建以来的缓存命中数和查库次数
func (c *FollowupCache) Counters() (hits, dbLoads int64) {
	return c.hits.Load(), c.dbLoads.Load()
}
