// Command resolvebench 让多个并发 resolver 争抢同一批跟进，统计延迟、胜出次数和外发盒排空耗时。
package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/casa-followups/config"
	"github.com/d60-Lab/casa-followups/internal/model"
	"github.com/d60-Lab/casa-followups/internal/notify"
	"github.com/d60-Lab/casa-followups/internal/repository"
	"github.com/d60-Lab/casa-followups/internal/service"
	"github.com/d60-Lab/casa-followups/pkg/database"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// countingDeliverer 只计数，不真正投递
type countingDeliverer struct{ n atomic.Int64 }

func (c *countingDeliverer) Name() string { return "count" }
func (c *countingDeliverer) Deliver(context.Context, notify.Event) error {
	c.n.Add(1)
	return nil
}

func main() {
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	if err := database.AutoMigrate(db); err != nil {
		panic(err)
	}
	ctx := context.Background()

	N := envInt("N", 2000)
	CONTENDERS := envInt("CONTENDERS", 4)
	CONC := envInt("CONC", 16)

	followupRepo := repository.NewFollowupRepository(db)
	outbox := repository.NewNotificationRepository(db)
	svc := service.NewFollowupService(followupRepo, notify.NewOutboxDispatcher(outbox, nil), nil)

	// 准备数据：N 条未解决跟进，各自挂在独立的 case contact 上
	creator := "bench-creator-" + uuid.NewString()[:8]
	followups := make([]*model.Followup, N)
	seedStart := time.Now()
	for i := 0; i < N; i++ {
		subject := model.Subject{Type: model.SubjectTypeCaseContact, ID: uuid.NewString()}
		followups[i] = must(svc.CreateFollowup(ctx, subject, creator, "bench"))
	}
	seedDur := time.Since(seedStart)

	// 每条跟进由 CONTENDERS 个持有旧副本的 resolver 争抢
	type job struct {
		f     model.Followup
		actor string
	}
	feed := make(chan job, N*CONTENDERS)
	for c := 0; c < CONTENDERS; c++ {
		for _, f := range followups {
			feed <- job{f: *f, actor: fmt.Sprintf("resolver-%d", c)}
		}
	}
	close(feed)

	var (
		mu      sync.Mutex
		latency = make([]time.Duration, 0, N*CONTENDERS)
		errs    atomic.Int64
		wg      sync.WaitGroup
	)
	t0 := time.Now()
	for w := 0; w < CONC; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range feed {
				st := time.Now()
				if err := svc.ResolveFollowup(ctx, &j.f, j.actor); err != nil {
					errs.Add(1)
				}
				d := time.Since(st)
				mu.Lock()
				latency = append(latency, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	resolveDur := time.Since(t0)

	resolvedNotifications := int64(0)
	if err := db.Model(&model.NotificationOutbox{}).
		Where("kind = ? AND followup_id IN (?)", model.NotificationResolved,
			db.Model(&model.Followup{}).Select("id").Where("creator_id = ?", creator)).
		Count(&resolvedNotifications).Error; err != nil {
		panic(err)
	}

	// 通过 relay 排空外发盒
	sink := &countingDeliverer{}
	relay := notify.NewOutboxRelay(outbox, sink, notify.RelayOptions{BatchSize: 256, MaxAttempts: 3})
	drainStart := time.Now()
	for {
		stats, err := relay.ProcessOnce(ctx)
		if err != nil {
			panic(err)
		}
		if stats.Claimed == 0 {
			break
		}
	}
	drainDur := time.Since(drainStart)

	pct := func(vs []time.Duration, p float64) time.Duration {
		if len(vs) == 0 {
			return 0
		}
		xs := append([]time.Duration(nil), vs...)
		sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
		k := int(math.Ceil(p*float64(len(xs)))) - 1
		if k < 0 {
			k = 0
		}
		if k >= len(xs) {
			k = len(xs) - 1
		}
		return xs[k]
	}

	fmt.Printf("N=%d CONTENDERS=%d CONC=%d driver=%s\n", N, CONTENDERS, CONC, cfg.Database.Driver)
	fmt.Printf("Seed %d followups: %v\n", N, seedDur)
	fmt.Printf("Resolve calls=%d total=%v p50=%v p95=%v p99=%v errors=%d\n",
		len(latency), resolveDur, pct(latency, 0.50), pct(latency, 0.95), pct(latency, 0.99), errs.Load())
	fmt.Printf("Resolved notifications queued=%d (want %d)\n", resolvedNotifications, N)
	fmt.Printf("Relay drain delivered=%d in %v\n", sink.n.Load(), drainDur)
	if resolvedNotifications != int64(N) {
		fmt.Fprintln(os.Stderr, "duplicate or missing resolved notifications")
		os.Exit(1)
	}
}
