// Package presenter 计算跟进的展示状态，不修改跟进也不访问存储。
package presenter

import (
	"fmt"
	"time"

	"github.com/d60-Lab/casa-followups/internal/model"
)

const (
	StatusOpen     = "Open"
	StatusResolved = "Resolved"
)

// CanResolve 是否向 actorID 展示"解决"操作；任何人都可解决未关闭的跟进，更细的权限不在这里
func CanResolve(f *model.Followup, actorID string) bool {
	return f != nil && f.Persisted() && actorID != "" && !f.IsResolved()
}

func DisplayStatus(f *model.Followup) string {
	if f != nil && f.IsResolved() {
		return StatusResolved
	}
	return StatusOpen
}

// ReminderText 跟进旁的提示，如 "Followup requested 3 days ago"；已解决的显示解决时长
func ReminderText(f *model.Followup, now time.Time) string {
	if f == nil {
		return ""
	}
	if f.IsResolved() && f.ResolvedAt != nil {
		return "Resolved " + ago(now.Sub(*f.ResolvedAt))
	}
	return "Followup requested " + ago(now.Sub(f.CreatedAt))
}

func ago(d time.Duration) string {
	if d < time.Minute {
		return "just now"
	}
	var n int
	var unit string
	switch {
	case d < time.Hour:
		n, unit = int(d/time.Minute), "minute"
	case d < 24*time.Hour:
		n, unit = int(d/time.Hour), "hour"
	default:
		n, unit = int(d/(24*time.Hour)), "day"
	}
	if n != 1 {
		unit += "s"
	}
	return fmt.Sprintf("%d %s ago", n, unit)
}

// BadgeCount fs 中未解决的数量
func BadgeCount(fs []*model.Followup) int {
	n := 0
	for _, f := range fs {
		if f != nil && !f.IsResolved() {
			n++
		}
	}
	return n
}

// FollowupView API 输出的只读视图
type FollowupView struct {
	ID            string     `json:"id"`
	SubjectType   string     `json:"subject_type"`
	SubjectID     string     `json:"subject_id"`
	CreatorID     string     `json:"creator_id"`
	Note          string     `json:"note"`
	Status        string     `json:"status"`
	DisplayStatus string     `json:"display_status"`
	ResolvedByID  *string    `json:"resolved_by_id,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	Reminder      string     `json:"reminder"`
	CanResolve    bool       `json:"can_resolve"`
	CreatedByMe   bool       `json:"created_by_me"`
}

func View(f *model.Followup, actorID string, now time.Time) FollowupView {
	return FollowupView{
		ID:            f.ID,
		SubjectType:   f.SubjectType,
		SubjectID:     f.SubjectID,
		CreatorID:     f.CreatorID,
		Note:          f.Note,
		Status:        string(f.Status),
		DisplayStatus: DisplayStatus(f),
		ResolvedByID:  f.ResolvedByID,
		ResolvedAt:    f.ResolvedAt,
		CreatedAt:     f.CreatedAt,
		Reminder:      ReminderText(f, now),
		CanResolve:    CanResolve(f, actorID),
		CreatedByMe:   f.CreatedBy(actorID),
	}
}

func Views(fs []*model.Followup, actorID string, now time.Time) []FollowupView {
	out := make([]FollowupView, 0, len(fs))
	for _, f := range fs {
		out = append(out, View(f, actorID, now))
	}
	return out
}
