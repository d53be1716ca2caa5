package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun/migrate"

	"github.com/stackdesk/stackdesk/internal/actions"
	"github.com/stackdesk/stackdesk/internal/auth"
	"github.com/stackdesk/stackdesk/internal/db/bunx"
	"github.com/stackdesk/stackdesk/internal/identity/identitytest"
	"github.com/stackdesk/stackdesk/internal/migrations"
	"github.com/stackdesk/stackdesk/internal/notifications"
	"github.com/stackdesk/stackdesk/internal/repository"
	"github.com/stackdesk/stackdesk/internal/tasks"
)

const testJWTSecret = "test-secret"

// testServer is a fully wired router over in-memory storage and the fake
// identity gateway.
type testServer struct {
	handler http.Handler
	gw      *identitytest.Fake
	tasks   *tasks.Service
	notify  *notifications.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := bunx.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	migrator := migrate.NewMigrator(db, migrations.Migrations)
	require.NoError(t, migrator.Init(ctx))
	_, err = migrator.Migrate(ctx)
	require.NoError(t, err)

	gw := identitytest.NewFake()
	registry, err := actions.NewRegistry()
	require.NoError(t, err)
	enforcer, err := auth.InitEnforcer()
	require.NoError(t, err)

	notify := notifications.NewService(repository.NewBunNotificationRepository(db))
	taskService := tasks.NewService(
		registry,
		repository.NewBunTaskRepository(db),
		repository.NewBunTokenRepository(db),
		notify,
		gw,
		auth.DefaultRoleMap(),
		nil,
		time.Hour,
	)

	handler := NewRouter(RouterOptions{
		TaskService:         taskService,
		NotificationService: notify,
		Enforcer:            enforcer,
		JWTSecret:           testJWTSecret,
	})

	return &testServer{handler: handler, gw: gw, tasks: taskService, notify: notify}
}

func mintJWT(t *testing.T, claims auth.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":    claims.UserID,
		"username":   claims.Username,
		"project_id": claims.ProjectID,
		"domain_id":  claims.DomainID,
		"roles":      claims.Roles,
		"exp":        time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func projectAdmin(projectID string) auth.Claims {
	return auth.Claims{
		UserID:    "u-" + projectID,
		Username:  "admin@" + projectID,
		ProjectID: projectID,
		DomainID:  "D1",
		Roles:     []string{"project_admin"},
	}
}

func platformAdmin() auth.Claims {
	return auth.Claims{
		UserID:   "adm-1",
		Username: "operator@example.com",
		DomainID: "D1",
		Roles:    []string{auth.AdminRole},
	}
}

// do performs one request against the router, optionally authenticated
// and with a JSON body.
func (s *testServer) do(t *testing.T, method, path string, claims *auth.Claims, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if claims != nil {
		req.Header.Set("Authorization", "Bearer "+mintJWT(t, *claims))
	}

	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), out))
}

func TestRouter_Health(t *testing.T) {
	srv := newTestServer(t)
	rr := srv.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
}

func TestRouter_Unauthenticated(t *testing.T) {
	srv := newTestServer(t)

	rr := srv.do(t, http.MethodGet, "/v1/tasks", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// Forged tokens are rejected too.
	req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
	req.Header.Set("Authorization", "Bearer not.a.jwt")
	rr = httptest.NewRecorder()
	srv.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// Token endpoints carry their own credential: no 401, just a miss.
	rr = srv.do(t, http.MethodGet, "/v1/tokens/bogus", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_CreateTask(t *testing.T) {
	srv := newTestServer(t)
	srv.gw.AddUser("carol@example.com", "carol@example.com", "D1")
	requester := projectAdmin("P1")

	rr := srv.do(t, http.MethodPost, "/v1/tasks", &requester, map[string]any{
		"task_type": "reset_password",
		"payload":   map[string]any{"email": "carol@example.com"},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created taskView
	decodeBody(t, rr, &created)
	assert.Equal(t, "reset_password", created.Type)
	require.Len(t, created.Actions, 1)
	assert.True(t, created.Actions[0].Valid)
}

func TestRouter_CreateTaskValidation(t *testing.T) {
	srv := newTestServer(t)
	requester := projectAdmin("P1")

	rr := srv.do(t, http.MethodPost, "/v1/tasks", &requester, map[string]any{
		"task_type": "reset_password",
		"payload":   map[string]any{},
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "email")

	rr = srv.do(t, http.MethodPost, "/v1/tasks", &requester, map[string]any{
		"task_type": "summon_dragon",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "task_type")
}

func TestRouter_MemberCannotApprove(t *testing.T) {
	srv := newTestServer(t)
	srv.gw.AddUser("carol@example.com", "carol@example.com", "D1")

	requester := projectAdmin("P1")
	rr := srv.do(t, http.MethodPost, "/v1/tasks", &requester, map[string]any{
		"task_type": "reset_password",
		"payload":   map[string]any{"email": "carol@example.com"},
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	var created taskView
	decodeBody(t, rr, &created)

	member := auth.Claims{
		UserID:    "m-1",
		Username:  "member@example.com",
		ProjectID: "P1",
		DomainID:  "D1",
		Roles:     []string{"member"},
	}
	rr = srv.do(t, http.MethodPost, fmt.Sprintf("/v1/tasks/%s/approve", created.ID), &member, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRouter_ScopedVisibility(t *testing.T) {
	srv := newTestServer(t)
	srv.gw.AddUser("carol@example.com", "carol@example.com", "D1")

	requester := projectAdmin("P1")
	rr := srv.do(t, http.MethodPost, "/v1/tasks", &requester, map[string]any{
		"task_type": "reset_password",
		"payload":   map[string]any{"email": "carol@example.com"},
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	var created taskView
	decodeBody(t, rr, &created)

	// Same project sees it.
	rr = srv.do(t, http.MethodGet, "/v1/tasks/"+created.ID, &requester, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	// Another project gets a response indistinguishable from absent.
	outsider := projectAdmin("P2")
	rr = srv.do(t, http.MethodGet, "/v1/tasks/"+created.ID, &outsider, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "Not found.")

	// The operator role sees everything.
	admin := platformAdmin()
	rr = srv.do(t, http.MethodGet, "/v1/tasks/"+created.ID, &admin, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	// Listing is pinned to the caller's project for non-admins.
	var listing struct {
		Tasks []taskView `json:"tasks"`
	}
	rr = srv.do(t, http.MethodGet, "/v1/tasks", &outsider, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeBody(t, rr, &listing)
	assert.Empty(t, listing.Tasks)

	rr = srv.do(t, http.MethodGet, "/v1/tasks", &requester, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeBody(t, rr, &listing)
	assert.Len(t, listing.Tasks, 1)
}

func TestRouter_TokenFlow(t *testing.T) {
	srv := newTestServer(t)
	user := srv.gw.AddUser("carol@example.com", "carol@example.com", "D1")

	requester := projectAdmin("P1")
	rr := srv.do(t, http.MethodPost, "/v1/tasks", &requester, map[string]any{
		"task_type": "reset_password",
		"payload":   map[string]any{"email": "carol@example.com"},
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	var created taskView
	decodeBody(t, rr, &created)

	admin := platformAdmin()
	rr = srv.do(t, http.MethodPost, fmt.Sprintf("/v1/tasks/%s/approve", created.ID), &admin, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var approved approveResponse
	decodeBody(t, rr, &approved)
	require.NotEmpty(t, approved.Token)
	assert.Contains(t, approved.Notes, "created token")
	require.NotNil(t, approved.TokenExpiresAt)

	// The holder inspects the token without authenticating.
	rr = srv.do(t, http.MethodGet, "/v1/tokens/"+approved.Token, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var info tasks.TokenInfo
	decodeBody(t, rr, &info)
	assert.Equal(t, created.ID, info.TaskID)
	assert.Equal(t, []string{"password"}, info.RequiredFields)

	// Missing secret fields are reported per field.
	rr = srv.do(t, http.MethodPost, "/v1/tokens/"+approved.Token, nil, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "password")

	rr = srv.do(t, http.MethodPost, "/v1/tokens/"+approved.Token, nil, map[string]any{
		"password": "s3cret",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var submitted approveResponse
	decodeBody(t, rr, &submitted)
	assert.True(t, submitted.Task.Completed)
	assert.Equal(t, "s3cret", srv.gw.Password(user.ID))

	// Redeemed means gone.
	rr = srv.do(t, http.MethodGet, "/v1/tokens/"+approved.Token, nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_ApproveCompletesWithoutToken(t *testing.T) {
	srv := newTestServer(t)
	existing := srv.gw.AddUser("dave@example.com", "dave@example.com", "D1")
	project := srv.gw.AddProject("shared", "D1")
	role := srv.gw.AddRole("member")
	srv.gw.Grant(existing.ID, project.ID, role.ID)

	requester := projectAdmin(project.ID)
	rr := srv.do(t, http.MethodPost, "/v1/tasks", &requester, map[string]any{
		"task_type": "invite_user",
		"payload": map[string]any{
			"email":      "dave@example.com",
			"project_id": project.ID,
			"roles":      []string{"member"},
		},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created taskView
	decodeBody(t, rr, &created)

	admin := platformAdmin()
	rr = srv.do(t, http.MethodPost, fmt.Sprintf("/v1/tasks/%s/approve", created.ID), &admin, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var approved approveResponse
	decodeBody(t, rr, &approved)
	assert.Empty(t, approved.Token)
	assert.Contains(t, approved.Notes, "Task completed successfully.")
	assert.True(t, approved.Task.Completed)
}

func TestRouter_CancelTask(t *testing.T) {
	srv := newTestServer(t)
	srv.gw.AddUser("carol@example.com", "carol@example.com", "D1")

	requester := projectAdmin("P1")
	rr := srv.do(t, http.MethodPost, "/v1/tasks", &requester, map[string]any{
		"task_type": "reset_password",
		"payload":   map[string]any{"email": "carol@example.com"},
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	var created taskView
	decodeBody(t, rr, &created)

	rr = srv.do(t, http.MethodDelete, "/v1/tasks/"+created.ID, &requester, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var cancelled taskView
	decodeBody(t, rr, &cancelled)
	assert.True(t, cancelled.Cancelled)

	// A second cancel reports the terminal state.
	rr = srv.do(t, http.MethodDelete, "/v1/tasks/"+created.ID, &requester, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "This task has been cancelled.")
}

func TestRouter_Notifications(t *testing.T) {
	srv := newTestServer(t)
	srv.gw.AddUser("carol@example.com", "carol@example.com", "D1")

	requester := projectAdmin("P1")
	rr := srv.do(t, http.MethodPost, "/v1/tasks", &requester, map[string]any{
		"task_type": "reset_password",
		"payload":   map[string]any{"email": "carol@example.com"},
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	admin := platformAdmin()
	rr = srv.do(t, http.MethodGet, "/v1/notifications", &admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var listing struct {
		Notifications []notificationView `json:"notifications"`
	}
	decodeBody(t, rr, &listing)
	require.NotEmpty(t, listing.Notifications)
	target := listing.Notifications[0]

	rr = srv.do(t, http.MethodPost, "/v1/notifications/"+target.ID+"/ack", &admin, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	// Acknowledged entries drop out of the default listing.
	rr = srv.do(t, http.MethodGet, "/v1/notifications", &admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeBody(t, rr, &listing)
	for _, n := range listing.Notifications {
		assert.NotEqual(t, target.ID, n.ID)
	}

	rr = srv.do(t, http.MethodPost, "/v1/notifications/does-not-exist/ack", &admin, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// Plain members have no notification access.
	member := auth.Claims{
		UserID:    "m-1",
		Username:  "member@example.com",
		ProjectID: "P1",
		DomainID:  "D1",
		Roles:     []string{"member"},
	}
	rr = srv.do(t, http.MethodGet, "/v1/notifications", &member, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}
