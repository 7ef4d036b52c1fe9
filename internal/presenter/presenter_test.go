package presenter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/d60-Lab/casa-followups/internal/model"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func persisted(createdAgo time.Duration) *model.Followup {
	f := model.NewFollowup(model.Subject{Type: model.SubjectTypeCaseContact, ID: "42"}, "volunteer-7", "missed visit")
	f.ID = "f1"
	f.CreatedAt = now.Add(-createdAgo)
	return f
}

func resolve(f *model.Followup, by string, at time.Time) *model.Followup {
	f.Status = model.FollowupStatusResolved
	f.ResolvedByID = &by
	f.ResolvedAt = &at
	return f
}

func TestCanResolve(t *testing.T) {
	open := persisted(time.Hour)
	assert.True(t, CanResolve(open, "supervisor-3"))
	assert.True(t, CanResolve(open, "volunteer-7"))
	assert.False(t, CanResolve(open, ""))
	assert.False(t, CanResolve(nil, "supervisor-3"))
	assert.False(t, CanResolve(model.NewFollowup(model.Subject{}, "v", ""), "supervisor-3"))
	assert.False(t, CanResolve(resolve(persisted(time.Hour), "s", now), "supervisor-3"))
}

func TestDisplayStatus(t *testing.T) {
	assert.Equal(t, "Open", DisplayStatus(persisted(0)))
	assert.Equal(t, "Resolved", DisplayStatus(resolve(persisted(0), "s", now)))
}

func TestReminderText(t *testing.T) {
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{10 * time.Second, "Followup requested just now"},
		{time.Minute, "Followup requested 1 minute ago"},
		{45 * time.Minute, "Followup requested 45 minutes ago"},
		{5 * time.Hour, "Followup requested 5 hours ago"},
		{24 * time.Hour, "Followup requested 1 day ago"},
		{72*time.Hour + time.Hour, "Followup requested 3 days ago"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ReminderText(persisted(tt.ago), now))
	}

	f := resolve(persisted(72*time.Hour), "s", now.Add(-2*time.Hour))
	assert.Equal(t, "Resolved 2 hours ago", ReminderText(f, now))
	assert.Empty(t, ReminderText(nil, now))
}

func TestBadgeCount(t *testing.T) {
	fs := []*model.Followup{persisted(0), resolve(persisted(0), "s", now), persisted(0), nil}
	assert.Equal(t, 2, BadgeCount(fs))
	assert.Zero(t, BadgeCount(nil))
}

func TestView(t *testing.T) {
	f := persisted(48 * time.Hour)
	v := View(f, "volunteer-7", now)
	assert.Equal(t, "f1", v.ID)
	assert.Equal(t, "open", v.Status)
	assert.Equal(t, "Open", v.DisplayStatus)
	assert.Equal(t, "Followup requested 2 days ago", v.Reminder)
	assert.True(t, v.CanResolve)
	assert.True(t, v.CreatedByMe)
	assert.Nil(t, v.ResolvedByID)

	resolve(f, "supervisor-3", now)
	v = View(f, "supervisor-9", now)
	assert.False(t, v.CanResolve)
	assert.False(t, v.CreatedByMe)
	assert.Equal(t, "supervisor-3", *v.ResolvedByID)
	assert.Len(t, Views([]*model.Followup{f, persisted(0)}, "x", now), 2)
}
