// Package notify 把跟进状态变更转换为通知事件并交给各投递渠道。
package notify

import (
	"fmt"
	"time"

	"github.com/d60-Lab/casa-followups/internal/model"
)

// Event 交给投递渠道的结构化通知
type Event struct {
	Kind       model.NotificationKind `json:"kind"`
	FollowupID string                 `json:"followup_id"`
	Subject    model.Subject          `json:"subject"`
	ActorID    string                 `json:"actor_id"`
	CreatorID  string                 `json:"creator_id"`
	Recipients []string               `json:"recipients"`
	Note       string                 `json:"note,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// NewEvent 构造由 actorID 触发的 f 的事件
func NewEvent(kind model.NotificationKind, f *model.Followup, actorID string, recipients []string) Event {
	at := f.CreatedAt
	if kind == model.NotificationResolved && f.ResolvedAt != nil {
		at = *f.ResolvedAt
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return Event{
		Kind:       kind,
		FollowupID: f.ID,
		Subject:    f.Subject(),
		ActorID:    actorID,
		CreatorID:  f.CreatorID,
		Recipients: recipients,
		Note:       f.Note,
		OccurredAt: at,
	}
}

// Key 去重键，每个 followup 每种 kind 一个
func (e Event) Key() string { return e.FollowupID + ":" + string(e.Kind) }

func (e Event) Title() string {
	switch e.Kind {
	case model.NotificationResolved:
		return "Followup resolved"
	default:
		return "New followup"
	}
}

func (e Event) Message() string {
	switch e.Kind {
	case model.NotificationResolved:
		return fmt.Sprintf("The followup on %s was resolved.", e.Subject)
	default:
		if e.Note == "" {
			return fmt.Sprintf("A followup was requested on %s.", e.Subject)
		}
		return fmt.Sprintf("A followup was requested on %s: %s", e.Subject, e.Note)
	}
}
