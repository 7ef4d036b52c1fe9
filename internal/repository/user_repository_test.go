package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/casa-followups/internal/model"
)

func TestUserRepository_ListByOrgRole(t *testing.T) {
	repo := NewUserRepository(setupTestDB(t))
	ctx := context.Background()

	users := []*model.User{
		{ID: "adm-1", CasaOrgID: "org-1", Role: model.RoleCasaAdmin, Name: "A1", Email: "a1@casa.test", Active: true},
		{ID: "adm-2", CasaOrgID: "org-1", Role: model.RoleCasaAdmin, Name: "A2", Email: "a2@casa.test", Active: false},
		{ID: "adm-3", CasaOrgID: "org-2", Role: model.RoleCasaAdmin, Name: "A3", Email: "a3@casa.test", Active: true},
		{ID: "sup-1", CasaOrgID: "org-1", Role: model.RoleSupervisor, Name: "S1", Email: "s1@casa.test", Active: true},
	}
	for _, u := range users {
		require.NoError(t, repo.Create(ctx, u))
	}

	admins, err := repo.ListByOrgRole(ctx, "org-1", model.RoleCasaAdmin)
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, "adm-1", admins[0].ID)

	got, err := repo.GetByID(ctx, "sup-1")
	require.NoError(t, err)
	assert.Equal(t, model.RoleSupervisor, got.Role)

	_, err = repo.GetByID(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCaseContactRepository(t *testing.T) {
	repo := NewCaseContactRepository(setupTestDB(t))
	ctx := context.Background()

	cc := &model.CaseContact{CasaCaseID: "case-1", CreatorID: "vol-7", MediumType: "in-person", ContactMade: true}
	require.NoError(t, repo.Create(ctx, cc))
	require.NotEmpty(t, cc.ID)

	got, err := repo.GetByID(ctx, cc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Subject{Type: model.SubjectTypeCaseContact, ID: cc.ID}, got.FollowupSubject())

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
