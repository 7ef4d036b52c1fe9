package model

import "time"

// SubjectTypeCaseContact 跟进主体类型标签
const SubjectTypeCaseContact = "CaseContact"

// CaseContact 志愿者对某个案件的一次联络记录
type CaseContact struct {
	ID              string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CasaCaseID      string    `json:"casa_case_id" gorm:"type:varchar(36);index;not null"`
	CreatorID       string    `json:"creator_id" gorm:"type:varchar(36);index;not null"`
	OccurredAt      time.Time `json:"occurred_at" gorm:"not null"`
	ContactMade     bool      `json:"contact_made" gorm:"not null;default:false"`
	MediumType      string    `json:"medium_type" gorm:"type:varchar(32)"` // in-person, text/email, video, voice-only, letter
	DurationMinutes int       `json:"duration_minutes"`
	Notes           string    `json:"notes" gorm:"type:text"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (CaseContact) TableName() string { return "case_contacts" }

// FollowupSubject 实现 Subjectable
func (c *CaseContact) FollowupSubject() Subject {
	if c == nil {
		return Subject{}
	}
	return Subject{Type: SubjectTypeCaseContact, ID: c.ID}
}
