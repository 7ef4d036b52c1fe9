package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/d60-Lab/casa-followups/internal/model"
)

type CaseContactRepository interface {
	Create(ctx context.Context, c *model.CaseContact) error
	GetByID(ctx context.Context, id string) (*model.CaseContact, error)
}

type caseContactRepository struct{ db *gorm.DB }

func NewCaseContactRepository(db *gorm.DB) CaseContactRepository {
	return &caseContactRepository{db: db}
}

func (r *caseContactRepository) Create(ctx context.Context, c *model.CaseContact) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *caseContactRepository) GetByID(ctx context.Context, id string) (*model.CaseContact, error) {
	var c model.CaseContact
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}
