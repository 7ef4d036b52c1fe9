package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/d60-Lab/casa-followups/internal/cache"
	"github.com/d60-Lab/casa-followups/internal/model"
	"github.com/d60-Lab/casa-followups/internal/notify"
	"github.com/d60-Lab/casa-followups/internal/repository"
	"github.com/d60-Lab/casa-followups/pkg/logger"
	"github.com/d60-Lab/casa-followups/pkg/metrics"
)

var (
	ErrFollowupNotFound = errors.New("followup not found")
	ErrActorRequired    = errors.New("resolving actor is required")
)

var tracer = otel.Tracer("github.com/d60-Lab/casa-followups/internal/service")

// ValidationError 创建失败：字段缺失或存储拒绝。调用方拿到的是未落库的实例。
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "invalid followup: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// FollowupService 跟进的创建与解决
type FollowupService interface {
	// CreateFollowup 创建 open 状态的跟进并发出 created 通知。
	// 失败时返回未落库的实例和 *ValidationError，不发通知。
	CreateFollowup(ctx context.Context, subject model.Subject, creatorID, note string) (*model.Followup, error)
	// ResolveFollowup 原子地把 f 从 open 迁移到 resolved，并就地更新 f。
	// 已经被解决（包括并发竞争失败）时静默成功，不覆盖解决人、不重复通知。
	ResolveFollowup(ctx context.Context, f *model.Followup, actorID string) error
	GetFollowup(ctx context.Context, id string) (*model.Followup, error)
	ListForSubject(ctx context.Context, subject model.Subject, page, pageSize int) ([]*model.Followup, error)
	ListOpenForCreator(ctx context.Context, creatorID string, page, pageSize int) ([]*model.Followup, error)
}

type followupService struct {
	repo       repository.FollowupRepository
	dispatcher notify.Dispatcher
	cache      *cache.FollowupCache
	now        func() time.Time
}

// NewFollowupService cache 可为 nil
func NewFollowupService(repo repository.FollowupRepository, dispatcher notify.Dispatcher, c *cache.FollowupCache) FollowupService {
	if dispatcher == nil {
		dispatcher = notify.NopDispatcher{}
	}
	return &followupService{
		repo:       repo,
		dispatcher: dispatcher,
		cache:      c,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *followupService) CreateFollowup(ctx context.Context, subject model.Subject, creatorID, note string) (*model.Followup, error) {
	ctx, span := tracer.Start(ctx, "FollowupService.CreateFollowup")
	defer span.End()
	span.SetAttributes(attribute.String("subject", subject.String()), attribute.String("creator_id", creatorID))

	f := model.NewFollowup(subject, creatorID, note)
	if err := f.Validate(); err != nil {
		metrics.FollowupsCreated.WithLabelValues("invalid").Inc()
		span.SetStatus(codes.Error, err.Error())
		return f, &ValidationError{Err: err}
	}
	if err := s.repo.Create(ctx, f); err != nil {
		logger.Warn("persist followup failed", zap.String("subject", subject.String()), zap.Error(err))
		metrics.FollowupsCreated.WithLabelValues("rejected").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return f, &ValidationError{Err: err}
	}
	metrics.FollowupsCreated.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.String("followup_id", f.ID))

	s.invalidate(ctx, subject)
	s.dispatcher.NotifyCreated(ctx, f, creatorID)
	return f, nil
}

func (s *followupService) ResolveFollowup(ctx context.Context, f *model.Followup, actorID string) error {
	ctx, span := tracer.Start(ctx, "FollowupService.ResolveFollowup")
	defer span.End()

	if f == nil || !f.Persisted() {
		return ErrFollowupNotFound
	}
	if actorID == "" {
		return ErrActorRequired
	}
	span.SetAttributes(attribute.String("followup_id", f.ID), attribute.String("actor_id", actorID))

	at := s.now()
	won, err := s.repo.Resolve(ctx, f.ID, actorID, at)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
		return fmt.Errorf("resolve followup %s: %w", f.ID, err)
	}

	if !won {
		// 已被别人解决：以存储中的胜者状态为准
		stored, err := s.repo.GetByID(ctx, f.ID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrFollowupNotFound
			}
			return fmt.Errorf("reload followup %s: %w", f.ID, err)
		}
		*f = *stored
		metrics.FollowupsResolved.WithLabelValues("noop").Inc()
		span.SetAttributes(attribute.Bool("noop", true))
		return nil
	}

	f.Status = model.FollowupStatusResolved
	f.ResolvedByID = &actorID
	f.ResolvedAt = &at
	f.UpdatedAt = at
	metrics.FollowupsResolved.WithLabelValues("won").Inc()

	s.invalidate(ctx, f.Subject())
	if actorID != f.CreatorID {
		s.dispatcher.NotifyResolved(ctx, f, actorID)
	}
	return nil
}

func (s *followupService) GetFollowup(ctx context.Context, id string) (*model.Followup, error) {
	f, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrFollowupNotFound
		}
		return nil, err
	}
	return f, nil
}

func (s *followupService) ListForSubject(ctx context.Context, subject model.Subject, page, pageSize int) ([]*model.Followup, error) {
	offset, limit := paginate(page, pageSize)
	return s.repo.ListBySubject(ctx, subject, offset, limit)
}

func (s *followupService) ListOpenForCreator(ctx context.Context, creatorID string, page, pageSize int) ([]*model.Followup, error) {
	offset, limit := paginate(page, pageSize)
	return s.repo.ListOpenByCreator(ctx, creatorID, offset, limit)
}

func (s *followupService) invalidate(ctx context.Context, subject model.Subject) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, subject); err != nil {
		logger.Warn("invalidate followup cache", zap.String("subject", subject.String()), zap.Error(err))
	}
}

func paginate(page, pageSize int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return (page - 1) * pageSize, pageSize
}
