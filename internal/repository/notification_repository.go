package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/casa-followups/internal/model"
)

// ErrClaimLost 认领已被 ReleaseStale 收回（可能已被其他 relay 重新认领）
var ErrClaimLost = errors.New("outbox claim lost")

// NotificationRepository 通知外发盒仓储
type NotificationRepository interface {
	// Enqueue 写入外发盒；同一 followup+kind 重复写入不报错，返回 false
	Enqueue(ctx context.Context, o *model.NotificationOutbox) (bool, error)
	// ClaimDue 认领一批到期的 pending 记录并置为 processing，每条生成新的 ClaimToken
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.NotificationOutbox, error)
	// Renew 投递前刷新租期；认领已丢失时返回 ErrClaimLost
	Renew(ctx context.Context, o *model.NotificationOutbox, at time.Time) error
	// MarkDone/MarkRetry/MarkFailed 只作用于 o.ClaimToken 对应的认领，同时保存 DeliveredChannels
	MarkDone(ctx context.Context, o *model.NotificationOutbox, at time.Time) error
	MarkRetry(ctx context.Context, o *model.NotificationOutbox, next time.Time, lastErr string) error
	MarkFailed(ctx context.Context, o *model.NotificationOutbox, at time.Time, lastErr string) error
	// ReleaseStale 把认领超过租期仍未完成的记录放回 pending（relay 崩溃后的恢复）
	ReleaseStale(ctx context.Context, claimedBefore time.Time) (int64, error)
	GetByFollowupKind(ctx context.Context, followupID string, kind model.NotificationKind) (*model.NotificationOutbox, error)
	CountByStatus(ctx context.Context, status string) (int64, error)
}

type notificationRepository struct{ db *gorm.DB }

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Enqueue(ctx context.Context, o *model.NotificationOutbox) (bool, error) {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.Status == "" {
		o.Status = model.OutboxPending
	}
	if o.NextAttemptAt.IsZero() {
		o.NextAttemptAt = time.Now()
	}
	// 幂等：同一事件重复入队不报错
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(o)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *notificationRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.NotificationOutbox, error) {
	var batch []*model.NotificationOutbox
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status = ? AND next_attempt_at <= ?", model.OutboxPending, now).
			Order("created_at").
			Limit(limit)
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		// 逐条条件更新，只保留真正由本次调用从 pending 迁移到 processing 的记录
		claimed := batch[:0]
		for _, b := range batch {
			token := uuid.New().String()
			res := tx.Model(&model.NotificationOutbox{}).
				Where("id = ? AND status = ?", b.ID, model.OutboxPending).
				Updates(map[string]any{
					"status":      model.OutboxProcessing,
					"claim_token": token,
					"claimed_at":  now,
					"attempts":    gorm.Expr("attempts + 1"),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			b.Status = model.OutboxProcessing
			b.ClaimToken = token
			b.Attempts++
			at := now
			b.ClaimedAt = &at
			claimed = append(claimed, b)
		}
		batch = claimed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (r *notificationRepository) Renew(ctx context.Context, o *model.NotificationOutbox, at time.Time) error {
	if err := r.updateClaimed(ctx, o, map[string]any{"claimed_at": at}); err != nil {
		return err
	}
	o.ClaimedAt = &at
	return nil
}

func (r *notificationRepository) MarkDone(ctx context.Context, o *model.NotificationOutbox, at time.Time) error {
	return r.updateClaimed(ctx, o, map[string]any{
		"status":             model.OutboxDone,
		"processed_at":       at,
		"last_error":         "",
		"delivered_channels": o.DeliveredChannels,
	})
}

func (r *notificationRepository) MarkRetry(ctx context.Context, o *model.NotificationOutbox, next time.Time, lastErr string) error {
	return r.updateClaimed(ctx, o, map[string]any{
		"status":             model.OutboxPending,
		"next_attempt_at":    next,
		"last_error":         lastErr,
		"delivered_channels": o.DeliveredChannels,
		"claim_token":        "",
		"claimed_at":         nil,
	})
}

func (r *notificationRepository) MarkFailed(ctx context.Context, o *model.NotificationOutbox, at time.Time, lastErr string) error {
	return r.updateClaimed(ctx, o, map[string]any{
		"status":             model.OutboxFailed,
		"processed_at":       at,
		"last_error":         lastErr,
		"delivered_channels": o.DeliveredChannels,
	})
}

// updateClaimed 条件更新：仍处于 processing 且认领令牌未变
func (r *notificationRepository) updateClaimed(ctx context.Context, o *model.NotificationOutbox, values map[string]any) error {
	res := r.db.WithContext(ctx).Model(&model.NotificationOutbox{}).
		Where("id = ? AND status = ? AND claim_token = ?", o.ID, model.OutboxProcessing, o.ClaimToken).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrClaimLost
	}
	return nil
}

func (r *notificationRepository) ReleaseStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.NotificationOutbox{}).
		Where("status = ? AND claimed_at < ?", model.OutboxProcessing, claimedBefore).
		Updates(map[string]any{"status": model.OutboxPending, "claim_token": "", "claimed_at": nil})
	return res.RowsAffected, res.Error
}

func (r *notificationRepository) GetByFollowupKind(ctx context.Context, followupID string, kind model.NotificationKind) (*model.NotificationOutbox, error) {
	var o model.NotificationOutbox
	err := r.db.WithContext(ctx).Where("followup_id = ? AND kind = ?", followupID, kind).First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (r *notificationRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.NotificationOutbox{}).Where("status = ?", status).Count(&cnt).Error
	return cnt, err
}
