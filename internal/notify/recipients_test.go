package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/casa-followups/internal/model"
	"github.com/d60-Lab/casa-followups/internal/repository"
)

type directoryFixture struct {
	resolver *DirectoryResolver
	users    repository.UserRepository
}

// org1: admin1, admin2 active; admin3 inactive; sup1 supervises vol1.
// vol1 wrote case contact cc1.
func newDirectoryFixture(t *testing.T) *directoryFixture {
	t.Helper()
	db := setupTestDB(t)
	users := repository.NewUserRepository(db)
	contacts := repository.NewCaseContactRepository(db)
	ctx := context.Background()

	sup := "sup1"
	for _, u := range []*model.User{
		{ID: "admin1", CasaOrgID: "org1", Role: model.RoleCasaAdmin, Name: "A1", Email: "a1@example.org", Active: true},
		{ID: "admin2", CasaOrgID: "org1", Role: model.RoleCasaAdmin, Name: "A2", Email: "a2@example.org", Active: true},
		{ID: "admin3", CasaOrgID: "org1", Role: model.RoleCasaAdmin, Name: "A3", Email: "a3@example.org", Active: false},
		{ID: "sup1", CasaOrgID: "org1", Role: model.RoleSupervisor, Name: "S1", Email: "s1@example.org", Active: true},
		{ID: "vol1", CasaOrgID: "org1", Role: model.RoleVolunteer, Name: "V1", Email: "v1@example.org", SupervisorID: &sup, Active: true},
	} {
		require.NoError(t, users.Create(ctx, u))
	}
	require.NoError(t, contacts.Create(ctx, &model.CaseContact{
		ID: "cc1", CasaCaseID: "case1", CreatorID: "vol1", OccurredAt: time.Now().UTC(),
	}))
	return &directoryFixture{resolver: NewDirectoryResolver(users, contacts, time.Minute), users: users}
}

func TestDirectoryResolver_Created(t *testing.T) {
	fx := newDirectoryFixture(t)
	f := openFollowup("f1", "cc1", "sup1")

	ids, err := fx.resolver.Recipients(context.Background(), model.NotificationCreated, f, "sup1")
	require.NoError(t, err)
	assert.Equal(t, []string{"vol1", "admin1", "admin2"}, ids)

	// an admin raising the followup is not told about it
	f.CreatorID = "admin1"
	ids, err = fx.resolver.Recipients(context.Background(), model.NotificationCreated, f, "admin1")
	require.NoError(t, err)
	assert.Equal(t, []string{"vol1", "sup1", "admin2"}, ids)
}

func TestDirectoryResolver_CreatedUnknownSubjectFallsBackToActorOrg(t *testing.T) {
	fx := newDirectoryFixture(t)
	f := openFollowup("f1", "missing", "sup1")

	ids, err := fx.resolver.Recipients(context.Background(), model.NotificationCreated, f, "sup1")
	require.NoError(t, err)
	assert.Equal(t, []string{"admin1", "admin2"}, ids)
}

func TestDirectoryResolver_Resolved(t *testing.T) {
	fx := newDirectoryFixture(t)
	f := openFollowup("f1", "cc1", "sup1")

	ids, err := fx.resolver.Recipients(context.Background(), model.NotificationResolved, f, "vol1")
	require.NoError(t, err)
	assert.Equal(t, []string{"sup1"}, ids)

	ids, err = fx.resolver.Recipients(context.Background(), model.NotificationResolved, f, "sup1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDirectoryResolver_CachesAdmins(t *testing.T) {
	fx := newDirectoryFixture(t)
	f := openFollowup("f1", "cc1", "sup1")
	ctx := context.Background()

	_, err := fx.resolver.Recipients(ctx, model.NotificationCreated, f, "sup1")
	require.NoError(t, err)

	require.NoError(t, fx.users.Create(ctx, &model.User{
		ID: "admin4", CasaOrgID: "org1", Role: model.RoleCasaAdmin, Name: "A4", Email: "a4@example.org", Active: true,
	}))
	ids, err := fx.resolver.Recipients(ctx, model.NotificationCreated, f, "sup1")
	require.NoError(t, err)
	assert.NotContains(t, ids, "admin4")
}
