package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/d60-Lab/casa-followups/internal/api/handler"
	"github.com/d60-Lab/casa-followups/internal/api/middleware"
	"github.com/d60-Lab/casa-followups/internal/cache"
	"github.com/d60-Lab/casa-followups/internal/model"
	"github.com/d60-Lab/casa-followups/internal/notify"
	"github.com/d60-Lab/casa-followups/internal/repository"
	"github.com/d60-Lab/casa-followups/internal/service"
)

const secret = "test-secret"

func init() { gin.SetMode(gin.TestMode) }

type apiFixture struct {
	router *gin.Engine
	outbox repository.NotificationRepository
	inbox  *notify.RedisDeliverer
}

func newAPIFixture(t *testing.T, ping func(context.Context) error) *apiFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(model.All()...))
	t.Cleanup(func() { _ = sqlDB.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	followups := repository.NewFollowupRepository(db)
	contacts := repository.NewCaseContactRepository(db)
	outbox := repository.NewNotificationRepository(db)
	require.NoError(t, contacts.Create(context.Background(), &model.CaseContact{
		ID: "42", CasaCaseID: "case-1", CreatorID: "volunteer-7", OccurredAt: time.Now().UTC(),
	}))

	openCache := cache.NewFollowupCache(rdb, followups, time.Minute)
	svc := service.NewFollowupService(followups, notify.NewOutboxDispatcher(outbox, nil), openCache)
	inbox := notify.NewRedisDeliverer(rdb, 10)
	h := handler.New(svc, contacts, handler.Options{OpenCache: openCache, Inbox: inbox, Ping: ping})
	return &apiFixture{
		router: NewRouter(h, RouterOptions{ServiceName: "test", JWTSecret: secret, JWTIssuer: "casa"}),
		outbox: outbox,
		inbox:  inbox,
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (fx *apiFixture) do(t *testing.T, method, path, actor, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		token, err := middleware.GenerateToken(secret, "casa", actor, "", time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)
	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w.Code, env
}

type view struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	DisplayStatus string  `json:"display_status"`
	ResolvedByID  *string `json:"resolved_by_id"`
	CanResolve    bool    `json:"can_resolve"`
	CreatedByMe   bool    `json:"created_by_me"`
	Note          string  `json:"note"`
}

func TestFollowupLifecycle(t *testing.T) {
	fx := newAPIFixture(t, nil)
	ctx := context.Background()

	code, env := fx.do(t, http.MethodPost, "/api/v1/case_contacts/42/followups", "supervisor-3", `{"note":"missed visit"}`)
	require.Equal(t, http.StatusCreated, code)
	var created view
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "open", created.Status)
	assert.Equal(t, "Open", created.DisplayStatus)
	assert.True(t, created.CanResolve)
	assert.True(t, created.CreatedByMe)

	_, err := fx.outbox.GetByFollowupKind(ctx, created.ID, model.NotificationCreated)
	require.NoError(t, err)

	code, env = fx.do(t, http.MethodGet, "/api/v1/case_contacts/42/followups", "volunteer-7", "")
	require.Equal(t, http.StatusOK, code)
	var page struct {
		BadgeCount int    `json:"badge_count"`
		List       []view `json:"list"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, 1, page.BadgeCount)
	require.Len(t, page.List, 1)
	assert.False(t, page.List[0].CreatedByMe)

	code, env = fx.do(t, http.MethodPatch, "/api/v1/followups/"+created.ID+"/resolve", "volunteer-7", "")
	require.Equal(t, http.StatusOK, code)
	var resolved view
	require.NoError(t, json.Unmarshal(env.Data, &resolved))
	assert.Equal(t, "Resolved", resolved.DisplayStatus)
	assert.Equal(t, "volunteer-7", *resolved.ResolvedByID)
	assert.False(t, resolved.CanResolve)

	// repeat resolve by someone else keeps the first resolver
	code, env = fx.do(t, http.MethodPatch, "/api/v1/followups/"+created.ID+"/resolve", "supervisor-9", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &resolved))
	assert.Equal(t, "volunteer-7", *resolved.ResolvedByID)

	_, err = fx.outbox.GetByFollowupKind(ctx, created.ID, model.NotificationResolved)
	require.NoError(t, err)

	code, env = fx.do(t, http.MethodGet, "/api/v1/case_contacts/42/followups", "volunteer-7", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Zero(t, page.BadgeCount)

	code, _ = fx.do(t, http.MethodGet, "/api/v1/followups/"+created.ID, "volunteer-7", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestCreateFollowup_WithoutBody(t *testing.T) {
	fx := newAPIFixture(t, nil)
	code, env := fx.do(t, http.MethodPost, "/api/v1/case_contacts/42/followups", "supervisor-3", "")
	require.Equal(t, http.StatusCreated, code)
	var created view
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Empty(t, created.Note)
}

func TestCreateFollowup_UnknownCaseContact(t *testing.T) {
	fx := newAPIFixture(t, nil)
	code, _ := fx.do(t, http.MethodPost, "/api/v1/case_contacts/nope/followups", "supervisor-3", `{"note":"x"}`)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCreateFollowup_BadJSON(t *testing.T) {
	fx := newAPIFixture(t, nil)
	code, _ := fx.do(t, http.MethodPost, "/api/v1/case_contacts/42/followups", "supervisor-3", `{"note":`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestFollowupNotFound(t *testing.T) {
	fx := newAPIFixture(t, nil)
	code, _ := fx.do(t, http.MethodGet, "/api/v1/followups/missing", "supervisor-3", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = fx.do(t, http.MethodPatch, "/api/v1/followups/missing/resolve", "supervisor-3", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRequiresToken(t *testing.T) {
	fx := newAPIFixture(t, nil)
	code, _ := fx.do(t, http.MethodGet, "/api/v1/followups/mine", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestMyOpenFollowups(t *testing.T) {
	fx := newAPIFixture(t, nil)
	fx.do(t, http.MethodPost, "/api/v1/case_contacts/42/followups", "supervisor-3", `{"note":"a"}`)
	fx.do(t, http.MethodPost, "/api/v1/case_contacts/42/followups", "admin-1", `{"note":"b"}`)

	code, env := fx.do(t, http.MethodGet, "/api/v1/followups/mine", "supervisor-3", "")
	require.Equal(t, http.StatusOK, code)
	var page struct {
		List []view `json:"list"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.List, 1)
	assert.Equal(t, "a", page.List[0].Note)
}

func TestNotificationsInbox(t *testing.T) {
	fx := newAPIFixture(t, nil)
	f := model.NewFollowup(model.Subject{Type: model.SubjectTypeCaseContact, ID: "42"}, "supervisor-3", "x")
	f.ID = "f1"
	require.NoError(t, fx.inbox.Deliver(context.Background(), notify.NewEvent(model.NotificationCreated, f, "supervisor-3", []string{"volunteer-7"})))

	code, env := fx.do(t, http.MethodGet, "/api/v1/notifications", "volunteer-7", "")
	require.Equal(t, http.StatusOK, code)
	var page struct {
		List []notify.Event `json:"list"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.List, 1)
	assert.Equal(t, "f1", page.List[0].FollowupID)
}

func TestHealthzAndMetrics(t *testing.T) {
	fx := newAPIFixture(t, nil)
	code, _ := fx.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")

	down := newAPIFixture(t, func(context.Context) error { return errors.New("db down") })
	code, _ = down.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}
