package model

import (
	"strings"
	"time"
)

// NotificationKind 跟进事件类型
type NotificationKind string

const (
	NotificationCreated  NotificationKind = "created"
	NotificationResolved NotificationKind = "resolved"
)

// 外发盒状态
const (
	OutboxPending    = "pending"
	OutboxProcessing = "processing"
	OutboxDone       = "done"
	OutboxFailed     = "failed"
)

// NotificationOutbox 通知外发盒；同一 followup 同一 kind 只允许一条
type NotificationOutbox struct {
	ID                string           `gorm:"primaryKey;type:varchar(36)"`
	FollowupID        string           `gorm:"type:varchar(36);not null;uniqueIndex:ux_outbox_followup_kind"`
	Kind              NotificationKind `gorm:"type:varchar(16);not null;uniqueIndex:ux_outbox_followup_kind"`
	ActorID           string           `gorm:"type:varchar(36);not null"`
	Recipients        string           `gorm:"type:text"` // 逗号分隔的 user id
	Payload           []byte           `gorm:"not null"`  // JSON 编码的 notify.Event
	Status            string           `gorm:"type:varchar(16);not null;index:idx_outbox_status_next"` // pending, processing, done, failed
	Attempts          int              `gorm:"not null;default:0"`
	NextAttemptAt     time.Time        `gorm:"not null;index:idx_outbox_status_next"`
	LastError         string           `gorm:"type:text"`
	DeliveredChannels string           `gorm:"type:text"`               // 已成功的渠道名，重试时跳过
	ClaimToken        string           `gorm:"type:varchar(36);index"` // 每次认领重新生成，Mark* 按它匹配
	ClaimedAt         *time.Time
	ProcessedAt       *time.Time
	CreatedAt         time.Time `gorm:"index"`
	UpdatedAt         time.Time
}

func (NotificationOutbox) TableName() string { return "notification_outbox" }

// RecipientIDs 拆分收件人
func (o *NotificationOutbox) RecipientIDs() []string { return splitList(o.Recipients) }

// ChannelDelivered 该渠道此前是否已投递成功
func (o *NotificationOutbox) ChannelDelivered(name string) bool {
	for _, c := range splitList(o.DeliveredChannels) {
		if c == name {
			return true
		}
	}
	return false
}

// AddDeliveredChannels 追加成功渠道，去重
func (o *NotificationOutbox) AddDeliveredChannels(names ...string) {
	list := splitList(o.DeliveredChannels)
	for _, n := range names {
		if n != "" && !o.ChannelDelivered(n) {
			list = append(list, n)
			o.DeliveredChannels = strings.Join(list, ",")
		}
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// JoinRecipients 收件人编码为逗号分隔字符串
func JoinRecipients(ids []string) string { return strings.Join(ids, ",") }
