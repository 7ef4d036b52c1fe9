package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/d60-Lab/casa-followups/internal/model"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

type FollowupRepository interface {
	// Create 插入新跟进；失败时实体保持未落库状态
	Create(ctx context.Context, f *model.Followup) error
	GetByID(ctx context.Context, id string) (*model.Followup, error)
	// Resolve 原子条件更新：仅当当前状态为 open 时写入 resolved/resolved_by/resolved_at。
	// 返回 true 表示本次调用赢得了状态迁移。
	Resolve(ctx context.Context, id, actorID string, at time.Time) (bool, error)
	ListBySubject(ctx context.Context, subject model.Subject, offset, limit int) ([]*model.Followup, error)
	ListOpenByCreator(ctx context.Context, creatorID string, offset, limit int) ([]*model.Followup, error)
	OpenIDsBySubject(ctx context.Context, subject model.Subject) ([]string, error)
}

type followupRepository struct {
	db *gorm.DB
}

func NewFollowupRepository(db *gorm.DB) FollowupRepository { return &followupRepository{db: db} }

func (r *followupRepository) Create(ctx context.Context, f *model.Followup) error {
	f.ID = uuid.New().String()
	if f.Status == "" {
		f.Status = model.FollowupStatusOpen
	}
	if err := r.db.WithContext(ctx).Create(f).Error; err != nil {
		f.ID = ""
		f.CreatedAt, f.UpdatedAt = time.Time{}, time.Time{}
		return err
	}
	return nil
}

func (r *followupRepository) GetByID(ctx context.Context, id string) (*model.Followup, error) {
	var f model.Followup
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&f).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

func (r *followupRepository) Resolve(ctx context.Context, id, actorID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Followup{}).
		Where("id = ? AND status = ?", id, model.FollowupStatusOpen).
		Updates(map[string]any{
			"status":         model.FollowupStatusResolved,
			"resolved_by_id": actorID,
			"resolved_at":    at,
			"updated_at":     at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *followupRepository) ListBySubject(ctx context.Context, subject model.Subject, offset, limit int) ([]*model.Followup, error) {
	var res []*model.Followup
	err := r.db.WithContext(ctx).
		Where("subject_type = ? AND subject_id = ?", subject.Type, subject.ID).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&res).Error
	return res, err
}

func (r *followupRepository) ListOpenByCreator(ctx context.Context, creatorID string, offset, limit int) ([]*model.Followup, error) {
	var res []*model.Followup
	err := r.db.WithContext(ctx).
		Where("creator_id = ? AND status = ?", creatorID, model.FollowupStatusOpen).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&res).Error
	return res, err
}

func (r *followupRepository) OpenIDsBySubject(ctx context.Context, subject model.Subject) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.Followup{}).
		Where("subject_type = ? AND subject_id = ? AND status = ?", subject.Type, subject.ID, model.FollowupStatusOpen).
		Order("created_at DESC").
		Pluck("id", &ids).Error
	return ids, err
}
