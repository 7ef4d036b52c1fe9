package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// PubSubChannel RedisDeliverer 发布事件的频道
const PubSubChannel = "casa:followups"

// RedisDeliverer 站内信渠道：事件写入每个收件人的定长列表（通知收件箱），
// 同时发布到频道供在线订阅者接收。
type RedisDeliverer struct {
	client *redis.Client
	limit  int64
}

func NewRedisDeliverer(client *redis.Client, limit int64) *RedisDeliverer {
	if limit <= 0 {
		limit = 200
	}
	return &RedisDeliverer{client: client, limit: limit}
}

func inboxKey(userID string) string { return fmt.Sprintf("notifications:%s", userID) }

func (r *RedisDeliverer) Name() string { return "redis" }

func (r *RedisDeliverer) Deliver(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	for _, uid := range e.Recipients {
		key := inboxKey(uid)
		pipe.LPush(ctx, key, payload)
		pipe.LTrim(ctx, key, 0, r.limit-1)
	}
	pipe.Publish(ctx, PubSubChannel, payload)
	_, err = pipe.Exec(ctx)
	return err
}

// Inbox 返回 userID 最新的 n 条通知，新的在前
func (r *RedisDeliverer) Inbox(ctx context.Context, userID string, n int64) ([]Event, error) {
	if n <= 0 || n > r.limit {
		n = r.limit
	}
	raw, err := r.client.LRange(ctx, inboxKey(userID), 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(raw))
	for _, s := range raw {
		var e Event
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
