package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/casa-followups/internal/model"
)

var contact42 = model.Subject{Type: model.SubjectTypeCaseContact, ID: "cc-42"}

func TestFollowupRepository_CreateAndGet(t *testing.T) {
	repo := NewFollowupRepository(setupTestDB(t))
	ctx := context.Background()

	f := model.NewFollowup(contact42, "vol-7", "missed visit")
	require.NoError(t, repo.Create(ctx, f))
	require.True(t, f.Persisted())
	assert.False(t, f.CreatedAt.IsZero())

	got, err := repo.GetByID(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FollowupStatusOpen, got.Status)
	assert.Equal(t, contact42, got.Subject())
	assert.Equal(t, "vol-7", got.CreatorID)
	assert.Equal(t, "missed visit", got.Note)
	assert.Nil(t, got.ResolvedByID)
	assert.Nil(t, got.ResolvedAt)
}

func TestFollowupRepository_GetByID_NotFound(t *testing.T) {
	repo := NewFollowupRepository(setupTestDB(t))
	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFollowupRepository_CreateFailureLeavesUnpersisted(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFollowupRepository(db)
	require.NoError(t, db.Migrator().DropTable(&model.Followup{}))

	f := model.NewFollowup(contact42, "vol-7", "")
	err := repo.Create(context.Background(), f)
	require.Error(t, err)
	assert.False(t, f.Persisted())
	assert.True(t, f.CreatedAt.IsZero())
}

func TestFollowupRepository_ResolveIsConditional(t *testing.T) {
	repo := NewFollowupRepository(setupTestDB(t))
	ctx := context.Background()

	f := model.NewFollowup(contact42, "vol-7", "")
	require.NoError(t, repo.Create(ctx, f))

	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	won, err := repo.Resolve(ctx, f.ID, "sup-3", first)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.Resolve(ctx, f.ID, "sup-9", first.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, won, "second resolve must not win")

	got, err := repo.GetByID(ctx, f.ID)
	require.NoError(t, err)
	assert.True(t, got.IsResolved())
	require.NotNil(t, got.ResolvedByID)
	assert.Equal(t, "sup-3", *got.ResolvedByID)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, got.ResolvedAt.Equal(first))
}

func TestFollowupRepository_ResolveMissing(t *testing.T) {
	repo := NewFollowupRepository(setupTestDB(t))
	won, err := repo.Resolve(context.Background(), "missing", "sup-3", time.Now())
	require.NoError(t, err)
	assert.False(t, won)
}

func TestFollowupRepository_ConcurrentResolveHasOneWinner(t *testing.T) {
	repo := NewFollowupRepository(setupTestDB(t))
	ctx := context.Background()

	f := model.NewFollowup(contact42, "vol-7", "")
	require.NoError(t, repo.Create(ctx, f))

	const racers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []string
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(actor string) {
			defer wg.Done()
			won, err := repo.Resolve(ctx, f.ID, actor, time.Now().UTC())
			assert.NoError(t, err)
			if won {
				mu.Lock()
				wins = append(wins, actor)
				mu.Unlock()
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()

	require.Len(t, wins, 1)
	got, err := repo.GetByID(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, wins[0], *got.ResolvedByID)
}

func TestFollowupRepository_Listing(t *testing.T) {
	repo := NewFollowupRepository(setupTestDB(t))
	ctx := context.Background()

	other := model.Subject{Type: model.SubjectTypeCaseContact, ID: "cc-1"}
	a := model.NewFollowup(contact42, "vol-7", "a")
	b := model.NewFollowup(contact42, "vol-8", "b")
	c := model.NewFollowup(other, "vol-7", "c")
	for _, f := range []*model.Followup{a, b, c} {
		require.NoError(t, repo.Create(ctx, f))
	}
	_, err := repo.Resolve(ctx, b.ID, "sup-3", time.Now().UTC())
	require.NoError(t, err)

	bySubject, err := repo.ListBySubject(ctx, contact42, 0, 10)
	require.NoError(t, err)
	assert.Len(t, bySubject, 2)

	open, err := repo.ListOpenByCreator(ctx, "vol-7", 0, 10)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	ids, err := repo.OpenIDsBySubject(ctx, contact42)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, ids)
}
