package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/d60-Lab/casa-followups/internal/model"
)

type UserRepository interface {
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	ListByOrgRole(ctx context.Context, orgID string, role model.UserRole) ([]*model.User, error)
}

type userRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &userRepository{db: db} }

func (r *userRepository) Create(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// ListByOrgRole 列出机构内某角色的在职用户
func (r *userRepository) ListByOrgRole(ctx context.Context, orgID string, role model.UserRole) ([]*model.User, error) {
	var res []*model.User
	err := r.db.WithContext(ctx).
		Where("casa_org_id = ? AND role = ? AND active = ?", orgID, role, true).
		Order("created_at").
		Find(&res).Error
	return res, err
}
