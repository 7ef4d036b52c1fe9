package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/d60-Lab/casa-followups/internal/model"
)

func setupTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(model.All()...))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func openFollowup(id, subjectID, creatorID string) *model.Followup {
	f := model.NewFollowup(model.Subject{Type: model.SubjectTypeCaseContact, ID: subjectID}, creatorID, "call the school")
	f.ID = id
	f.CreatedAt = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return f
}

// recorder is a Deliverer that records events and returns queued errors first.
type recorder struct {
	mu     sync.Mutex
	name   string
	events []Event
	errs   []error
	// before runs ahead of each delivery, outside the lock
	before func(Event)
}

func (r *recorder) Name() string {
	if r.name == "" {
		return "recorder"
	}
	return r.name
}

func (r *recorder) Deliver(_ context.Context, e Event) error {
	if r.before != nil {
		r.before(e)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

type failingDeliverer struct{}

func (failingDeliverer) Name() string                        { return "failing" }
func (failingDeliverer) Deliver(context.Context, Event) error { return errors.New("smtp down") }

type staticResolver []string

func (s staticResolver) Recipients(context.Context, model.NotificationKind, *model.Followup, string) ([]string, error) {
	return s, nil
}

type brokenResolver struct{}

func (brokenResolver) Recipients(context.Context, model.NotificationKind, *model.Followup, string) ([]string, error) {
	return nil, errors.New("directory unavailable")
}
