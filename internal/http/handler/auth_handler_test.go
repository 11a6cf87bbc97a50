package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/accounts-auth/internal/config"
	"github.com/smallbiznis/accounts-auth/internal/domain"
	httptransport "github.com/smallbiznis/accounts-auth/internal/http"
	httpHandler "github.com/smallbiznis/accounts-auth/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/accounts-auth/internal/http/middleware"
	"github.com/smallbiznis/accounts-auth/internal/password"
	"github.com/smallbiznis/accounts-auth/internal/repository"
	"github.com/smallbiznis/accounts-auth/internal/service"
	"github.com/smallbiznis/accounts-auth/internal/token"
)

func newTestRouter(t *testing.T) (*gin.Engine, *fakeUserRepo) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		AccessTokenSecret:  "access-secret-for-tests-0123456789abcdef",
		RefreshTokenSecret: "refresh-secret-for-tests-0123456789abcdef",
		ResetTokenSecret:   "reset-secret-for-tests-0123456789abcdef",
		AccessTokenTTL:     15 * time.Minute,
		RefreshTokenTTL:    15 * 24 * time.Hour,
		ResetTokenTTL:      24 * time.Hour,
		ServiceName:        "accounts-auth-test",
	}

	repo := newFakeUserRepo()
	codec := token.NewCodec(cfg)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	svc := service.NewAuthService(repo, nil, codec, node, cfg, zap.NewNop())

	router := httptransport.NewRouter(
		cfg,
		httpHandler.NewAuthHandler(svc, cfg),
		httpHandler.NewUserHandler(svc),
		httpmiddleware.NewAuth(codec),
		nil,
	)
	return router, repo
}

func seedAccount(t *testing.T, repo *fakeUserRepo, email, plaintext string) domain.User {
	t.Helper()
	hash, err := password.Hash(plaintext)
	require.NoError(t, err)
	user := domain.User{
		ID:           repo.nextID(),
		Email:        email,
		FirstName:    "Alice",
		PasswordHash: hash,
		Role:         domain.RoleDefault,
	}
	repo.put(user)
	return user
}

func doJSON(router *gin.Engine, method, path string, payload any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var body bytes.Buffer
	if payload != nil {
		_ = json.NewEncoder(&body).Encode(payload)
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func refreshCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == "refresh_token" {
			return cookie
		}
	}
	t.Fatal("refresh_token cookie not set")
	return nil
}

func TestLoginSetsRefreshCookie(t *testing.T) {
	router, repo := newTestRouter(t)
	seedAccount(t, repo, "alice@example.com", "P@ss1")

	w := doJSON(router, http.MethodPost, "/auth/login", gin.H{"email": "alice@example.com", "password": "P@ss1"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var resp struct {
		ID          string `json:"id"`
		Email       string `json:"email"`
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "alice@example.com", resp.Email)
	require.NotEmpty(t, resp.AccessToken)
	require.NotContains(t, w.Body.String(), "refresh")

	cookie := refreshCookie(t, w)
	require.NotEmpty(t, cookie.Value)
	require.True(t, cookie.HttpOnly)
	require.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	require.Equal(t, int((15 * 24 * time.Hour).Seconds()), cookie.MaxAge)
}

func TestLoginMissingFields(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/auth/login", gin.H{"email": "alice@example.com"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "invalid_request")
}

func TestLoginInvalidPassword(t *testing.T) {
	router, repo := newTestRouter(t)
	seedAccount(t, repo, "alice@example.com", "P@ss1")

	w := doJSON(router, http.MethodPost, "/auth/login", gin.H{"email": "alice@example.com", "password": "nope"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "invalid_credentials")
}

func TestSessionLifecycle(t *testing.T) {
	router, repo := newTestRouter(t)
	seedAccount(t, repo, "alice@example.com", "P@ss1")

	login := doJSON(router, http.MethodPost, "/auth/login", gin.H{"email": "alice@example.com", "password": "P@ss1"})
	require.Equal(t, http.StatusOK, login.Code)
	cookie := refreshCookie(t, login)

	refresh := doJSON(router, http.MethodPost, "/auth/refresh", nil, cookie)
	require.Equal(t, http.StatusOK, refresh.Code)
	var refreshed struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(refresh.Body.Bytes(), &refreshed))
	require.NotEmpty(t, refreshed.AccessToken)

	logout := doJSON(router, http.MethodPost, "/auth/logout", nil, cookie)
	require.Equal(t, http.StatusNoContent, logout.Code)
	cleared := refreshCookie(t, logout)
	require.Empty(t, cleared.Value)
	require.Less(t, cleared.MaxAge, 0)

	// The cleared session can no longer refresh.
	after := doJSON(router, http.MethodPost, "/auth/refresh", nil, cookie)
	require.Equal(t, http.StatusForbidden, after.Code)
	require.Contains(t, after.Body.String(), "session_not_found")
}

func TestRefreshWithoutCookie(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/auth/refresh", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "invalid_token")
}

func TestLogoutWithoutCookie(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/auth/logout", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestPasswordResetFlow(t *testing.T) {
	router, repo := newTestRouter(t)
	seedAccount(t, repo, "alice@example.com", "P@ss1")

	request := doJSON(router, http.MethodPost, "/auth/request-reset", gin.H{"email": "alice@example.com"})
	require.Equal(t, http.StatusOK, request.Code)
	var issued struct {
		ResetToken string `json:"reset_token"`
	}
	require.NoError(t, json.Unmarshal(request.Body.Bytes(), &issued))
	require.NotEmpty(t, issued.ResetToken)

	reset := doJSON(router, http.MethodPost, "/auth/reset-password", gin.H{"token": issued.ResetToken, "password": "N3wP@ss"})
	require.Equal(t, http.StatusNoContent, reset.Code)

	// Old password out, new password in.
	old := doJSON(router, http.MethodPost, "/auth/login", gin.H{"email": "alice@example.com", "password": "P@ss1"})
	require.Equal(t, http.StatusBadRequest, old.Code)
	fresh := doJSON(router, http.MethodPost, "/auth/login", gin.H{"email": "alice@example.com", "password": "N3wP@ss"})
	require.Equal(t, http.StatusOK, fresh.Code)

	// The token was consumed.
	again := doJSON(router, http.MethodPost, "/auth/reset-password", gin.H{"token": issued.ResetToken, "password": "0therP@ss"})
	require.Equal(t, http.StatusBadRequest, again.Code)
	require.Contains(t, again.Body.String(), "invalid_token")
}

func TestLogoutClearsCookieOnStorageFailure(t *testing.T) {
	router, repo := newTestRouter(t)
	seedAccount(t, repo, "alice@example.com", "P@ss1")

	login := doJSON(router, http.MethodPost, "/auth/login", gin.H{"email": "alice@example.com", "password": "P@ss1"})
	require.Equal(t, http.StatusOK, login.Code)
	cookie := refreshCookie(t, login)

	repo.mu.Lock()
	repo.refreshLookupErr = errors.New("connection reset")
	repo.mu.Unlock()

	w := doJSON(router, http.MethodPost, "/auth/logout", nil, cookie)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Body.String(), "server_error")

	// The cookie is dropped even when the backend failed.
	cleared := refreshCookie(t, w)
	require.Empty(t, cleared.Value)
	require.Less(t, cleared.MaxAge, 0)
}

func TestUserRoutesRequireBearerToken(t *testing.T) {
	router, repo := newTestRouter(t)
	seedAccount(t, repo, "alice@example.com", "P@ss1")

	w := doJSON(router, http.MethodGet, "/users", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	login := doJSON(router, http.MethodPost, "/auth/login", gin.H{"email": "alice@example.com", "password": "P@ss1"})
	require.Equal(t, http.StatusOK, login.Code)
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(login.Body.Bytes(), &resp))

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req.Header.Set("Authorization", "Bearer "+resp.AccessToken)
	authed := httptest.NewRecorder()
	router.ServeHTTP(authed, req)
	require.Equal(t, http.StatusOK, authed.Code)
	require.Contains(t, authed.Body.String(), "alice@example.com")
}

func doAuthJSON(router *gin.Engine, method, path, accessToken string, payload any) *httptest.ResponseRecorder {
	var body bytes.Buffer
	if payload != nil {
		_ = json.NewEncoder(&body).Encode(payload)
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func loginFor(t *testing.T, router *gin.Engine, email, plaintext string) string {
	t.Helper()
	w := doJSON(router, http.MethodPost, "/auth/login", gin.H{"email": email, "password": plaintext})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.AccessToken
}

func TestUserMutationRequiresSelfOrAdmin(t *testing.T) {
	router, repo := newTestRouter(t)
	alice := seedAccount(t, repo, "alice@example.com", "P@ss1")
	bob := seedAccount(t, repo, "bob@example.com", "P@ss2")
	root := seedAccount(t, repo, "root@example.com", "P@ss3")
	root.Role = domain.RoleAdmin
	repo.put(root)

	aliceToken := loginFor(t, router, alice.Email, "P@ss1")

	// Another user's record is off limits without the admin role.
	w := doAuthJSON(router, http.MethodPut, fmt.Sprintf("/users/%d", bob.ID), aliceToken, gin.H{"first_name": "Robert"})
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Contains(t, w.Body.String(), "forbidden")

	w = doAuthJSON(router, http.MethodDelete, fmt.Sprintf("/users/%d", bob.ID), aliceToken, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	// Own record is fine.
	w = doAuthJSON(router, http.MethodPut, fmt.Sprintf("/users/%d", alice.ID), aliceToken, gin.H{"last_name": "Liddell"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Liddell")

	// Admins can manage anyone.
	rootToken := loginFor(t, router, root.Email, "P@ss3")
	w = doAuthJSON(router, http.MethodPut, fmt.Sprintf("/users/%d", bob.ID), rootToken, gin.H{"first_name": "Robert"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doAuthJSON(router, http.MethodDelete, fmt.Sprintf("/users/%d", bob.ID), rootToken, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestCreateUserValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/users", gin.H{"email": "not-an-email", "first_name": "Alice"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodPost, "/users", gin.H{"email": "bob@example.com", "first_name": "Bob"})
	require.Equal(t, http.StatusCreated, w.Code)
	require.Contains(t, w.Body.String(), "bob@example.com")
}

type fakeUserRepo struct {
	mu    sync.Mutex
	seq   int64
	users map[int64]domain.User

	refreshLookupErr error
}

var _ repository.UserRepository = (*fakeUserRepo)(nil)

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[int64]domain.User)}
}

func (f *fakeUserRepo) nextID() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return f.seq
}

func (f *fakeUserRepo) put(user domain.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
}

func (f *fakeUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return domain.User{}, pgx.ErrNoRows
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id int64) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return user, nil
}

func (f *fakeUserRepo) GetByRefreshToken(ctx context.Context, token string) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshLookupErr != nil {
		return domain.User{}, f.refreshLookupErr
	}
	if token != "" {
		for _, user := range f.users {
			if user.RefreshToken == token {
				return user, nil
			}
		}
	}
	return domain.User{}, pgx.ErrNoRows
}

func (f *fakeUserRepo) List(ctx context.Context) ([]domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := make([]domain.User, 0, len(f.users))
	for _, user := range f.users {
		users = append(users, user)
	}
	return users, nil
}

func (f *fakeUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeUserRepo) Update(ctx context.Context, id int64, update repository.UserUpdate) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	if update.Email != nil {
		user.Email = *update.Email
	}
	if update.FirstName != nil {
		user.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		user.LastName = *update.LastName
	}
	if update.Role != nil {
		user.Role = *update.Role
	}
	f.users[id] = user
	return user, nil
}

func (f *fakeUserRepo) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(f.users, id)
	return nil
}

func (f *fakeUserRepo) SetRefreshToken(ctx context.Context, id int64, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	user.RefreshToken = token
	f.users[id] = user
	return nil
}

func (f *fakeUserRepo) SetResetToken(ctx context.Context, id int64, token string, expiry time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	user.ResetToken = token
	user.ResetTokenExpiry = &expiry
	f.users[id] = user
	return nil
}

func (f *fakeUserRepo) UpdatePassword(ctx context.Context, id int64, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	user.PasswordHash = hash
	user.ResetToken = ""
	user.ResetTokenExpiry = nil
	f.users[id] = user
	return nil
}
