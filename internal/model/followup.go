package model

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
)

// FollowupStatus 跟进状态，只允许 open -> resolved
type FollowupStatus string

const (
	FollowupStatusOpen     FollowupStatus = "open"
	FollowupStatusResolved FollowupStatus = "resolved"
)

var (
	ErrSubjectRequired = errors.New("followup subject is required")
	ErrCreatorRequired = errors.New("followup creator is required")
)

// Followup 针对某个主体（目前是 CaseContact）提出的待跟进问题
type Followup struct {
	ID           string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	SubjectType  string         `json:"subject_type" gorm:"type:varchar(64);not null;index:idx_followup_subject" validate:"required"`
	SubjectID    string         `json:"subject_id" gorm:"type:varchar(36);not null;index:idx_followup_subject" validate:"required"`
	CreatorID    string         `json:"creator_id" gorm:"type:varchar(36);not null;index:idx_followup_creator" validate:"required"`
	Note         string         `json:"note" gorm:"type:text;not null;default:''"`
	Status       FollowupStatus `json:"status" gorm:"type:varchar(16);not null;default:'open';index" validate:"oneof=open resolved"`
	ResolvedByID *string        `json:"resolved_by_id" gorm:"type:varchar(36)"`
	ResolvedAt   *time.Time     `json:"resolved_at"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (Followup) TableName() string { return "followups" }

// NewFollowup 构造一条 open 状态的跟进，不落库
func NewFollowup(subject Subject, creatorID, note string) *Followup {
	return &Followup{
		SubjectType: subject.Type,
		SubjectID:   subject.ID,
		CreatorID:   creatorID,
		Note:        note,
		Status:      FollowupStatusOpen,
	}
}

var validate = validator.New()

// Validate 检查主体和创建人；note 可以为空
func (f *Followup) Validate() error {
	err := validate.Struct(f)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	var (
		out        []error
		subjectBad bool
	)
	for _, fe := range verrs {
		switch fe.StructField() {
		case "SubjectType", "SubjectID":
			if !subjectBad {
				subjectBad = true
				out = append(out, ErrSubjectRequired)
			}
		case "CreatorID":
			out = append(out, ErrCreatorRequired)
		default:
			out = append(out, fe)
		}
	}
	return errors.Join(out...)
}

// Subject 返回多态主体引用
func (f *Followup) Subject() Subject { return Subject{Type: f.SubjectType, ID: f.SubjectID} }

// IsResolved 只由 status 推导
func (f *Followup) IsResolved() bool { return f.Status == FollowupStatusResolved }

// Persisted 是否已被存储接受
func (f *Followup) Persisted() bool { return f.ID != "" }

// CreatedBy 判断 userID 是否为创建人
func (f *Followup) CreatedBy(userID string) bool { return userID != "" && f.CreatorID == userID }
