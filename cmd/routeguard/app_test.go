package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/routeguard/routeguard/internal/authz"
	"github.com/routeguard/routeguard/internal/config"
	"github.com/routeguard/routeguard/internal/guard"
	"github.com/routeguard/routeguard/internal/observability"
	"github.com/routeguard/routeguard/internal/ratelimit"
)

const (
	testUserPassword  = "user-password-1"
	testAdminPassword = "admin-password-1"
)

// ============================================================
// Application Tests
// ============================================================

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func newTestApp(t *testing.T, mutate func(*config.Config)) *application {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Signing.Secret = "test-secret-test-secret-test-secret!"
	cfg.Audit.Enabled = false
	cfg.Routes = []guard.RouteConfig{
		{Path: "/api/login", SecurityLevel: authz.LevelPublic, RateLimitCategory: ratelimit.CategoryLogin},
		{Path: "/api/token/refresh", SecurityLevel: authz.LevelPublic},
		{Path: "/api/logout", SecurityLevel: authz.LevelAuthenticated, CSRFRequired: true},
		{Path: "/api/admin/*", SecurityLevel: authz.LevelAdmin},
		{Path: "/api/*", SecurityLevel: authz.LevelAuthenticated},
	}
	// Generous login limit so lockout tests are not rate limited first.
	cfg.RateLimit.Categories[ratelimit.CategoryLogin] = config.CategoryConfig{
		MaxRequests: 100,
		Window:      config.Duration(time.Minute),
	}
	cfg.Users = []config.UserConfig{
		{ID: "u-1", Email: "user@example.com", Role: "user", PasswordHash: hashPassword(t, testUserPassword)},
		{ID: "a-1", Email: "admin@example.com", Role: "admin", PasswordHash: hashPassword(t, testAdminPassword)},
	}
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, config.Validate(cfg))

	app, err := newApplication(cfg, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		app.csrf.Close()
		app.sessions.Close()
		_ = app.auditLog.Close()
		_ = app.store.Close()
	})
	return app
}

func doJSON(app *application, method, path, ip, bearer string, body string, headers map[string]string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	r.Header.Set("X-Forwarded-For", ip)
	r.Header.Set("User-Agent", "app-test-agent")
	if bearer != "" {
		r.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, v := range headers {
		r.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	app.server.Handler.ServeHTTP(w, r)
	return w
}

func doLogin(app *application, ip, email, password string) *httptest.ResponseRecorder {
	body := `{"email":"` + email + `","password":"` + password + `"}`
	return doJSON(app, http.MethodPost, "/api/login", ip, "", body, nil)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func loginTokens(t *testing.T, app *application, ip, email, password string) (access, refresh, csrfToken string) {
	t.Helper()
	w := doLogin(app, ip, email, password)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	return body["accessToken"].(string), body["refreshToken"].(string), body["csrfToken"].(string)
}

func TestLoginSuccess(t *testing.T) {
	app := newTestApp(t, nil)

	w := doLogin(app, "10.1.0.1", "user@example.com", testUserPassword)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.NotEmpty(t, body["accessToken"])
	assert.NotEmpty(t, body["refreshToken"])
	assert.NotEmpty(t, body["csrfToken"])
	assert.NotEmpty(t, body["sessionId"])

	cookies := w.Result().Cookies()
	names := make([]string, 0, len(cookies))
	for _, c := range cookies {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, guard.SessionCookieName)
	assert.Contains(t, names, "csrf_token")
}

func TestLoginInvalidCredentials(t *testing.T) {
	app := newTestApp(t, nil)

	wrong := doLogin(app, "10.1.0.2", "user@example.com", "bad-password")
	unknown := doLogin(app, "10.1.0.2", "nobody@example.com", "bad-password")

	// Identical responses whether or not the account exists.
	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.JSONEq(t, wrong.Body.String(), unknown.Body.String())
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	app := newTestApp(t, nil)

	for i := 0; i < 5; i++ {
		w := doLogin(app, "10.1.0.3", "user@example.com", "bad-password")
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}

	// Correct password is rejected while the account is locked.
	w := doLogin(app, "10.1.0.3", "user@example.com", testUserPassword)
	require.Equal(t, http.StatusLocked, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "account_locked", body["code"])
	assert.NotEmpty(t, body["nextAvailableAt"])
}

func TestLoginRateLimited(t *testing.T) {
	app := newTestApp(t, func(cfg *config.Config) {
		cfg.RateLimit.Categories[ratelimit.CategoryLogin] = config.CategoryConfig{
			MaxRequests: 3,
			Window:      config.Duration(time.Minute),
		}
	})

	for i := 0; i < 3; i++ {
		w := doLogin(app, "10.1.0.4", "user@example.com", "bad-password")
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w := doLogin(app, "10.1.0.4", "user@example.com", testUserPassword)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Another client is unaffected.
	other := doLogin(app, "10.1.0.5", "user@example.com", testUserPassword)
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestLoginSkipSuccessfulRequests(t *testing.T) {
	app := newTestApp(t, func(cfg *config.Config) {
		cfg.RateLimit.Categories[ratelimit.CategoryLogin] = config.CategoryConfig{
			MaxRequests:            3,
			Window:                 config.Duration(time.Minute),
			SkipSuccessfulRequests: true,
		}
	})

	// Successful logins are uncounted, so they never exhaust the limit.
	for i := 0; i < 5; i++ {
		w := doLogin(app, "10.1.0.40", "user@example.com", testUserPassword)
		require.Equal(t, http.StatusOK, w.Code)
	}

	// Failures still accumulate toward the limit.
	for i := 0; i < 3; i++ {
		w := doLogin(app, "10.1.0.40", "user@example.com", "bad-password")
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w := doLogin(app, "10.1.0.40", "user@example.com", testUserPassword)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestProtectedEndpointRequiresAuth(t *testing.T) {
	app := newTestApp(t, nil)

	w := doJSON(app, http.MethodGet, "/api/me", "10.1.0.6", "", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "authentication_required", decodeBody(t, w)["code"])

	access, _, _ := loginTokens(t, app, "10.1.0.6", "user@example.com", testUserPassword)
	w = doJSON(app, http.MethodGet, "/api/me", "10.1.0.6", access, "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, "u-1", body["userId"])
	assert.Equal(t, "user", body["role"])
	assert.Equal(t, "low", body["riskLevel"])
}

func TestRefreshFlow(t *testing.T) {
	app := newTestApp(t, nil)
	_, refresh, _ := loginTokens(t, app, "10.1.0.7", "user@example.com", testUserPassword)

	w := doJSON(app, http.MethodPost, "/api/token/refresh", "10.1.0.7", "",
		`{"refreshToken":"`+refresh+`"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	newAccess := decodeBody(t, w)["accessToken"].(string)
	require.NotEmpty(t, newAccess)

	me := doJSON(app, http.MethodGet, "/api/me", "10.1.0.7", newAccess, "", nil)
	assert.Equal(t, http.StatusOK, me.Code)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	app := newTestApp(t, nil)
	access, _, _ := loginTokens(t, app, "10.1.0.8", "user@example.com", testUserPassword)

	w := doJSON(app, http.MethodPost, "/api/token/refresh", "10.1.0.8", "",
		`{"refreshToken":"`+access+`"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogoutRequiresCSRF(t *testing.T) {
	app := newTestApp(t, nil)
	access, _, csrfToken := loginTokens(t, app, "10.1.0.9", "user@example.com", testUserPassword)

	w := doJSON(app, http.MethodPost, "/api/logout", "10.1.0.9", access, "", nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "csrf_missing", decodeBody(t, w)["code"])

	w = doJSON(app, http.MethodPost, "/api/logout", "10.1.0.9", access, "",
		map[string]string{"X-CSRF-Token": csrfToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The session is gone.
	me := doJSON(app, http.MethodGet, "/api/me", "10.1.0.9", access, "", nil)
	require.Equal(t, http.StatusUnauthorized, me.Code)
	assert.Equal(t, "session_invalid", decodeBody(t, me)["code"])
}

func TestAdminEndpointRBAC(t *testing.T) {
	app := newTestApp(t, nil)

	userAccess, _, _ := loginTokens(t, app, "10.1.0.10", "user@example.com", testUserPassword)
	w := doJSON(app, http.MethodPost, "/api/admin/unlock", "10.1.0.10", userAccess,
		`{"userId":"u-1"}`, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "insufficient_privileges", body["code"])
	assert.Equal(t, "admin", body["required"])
	assert.Equal(t, "user", body["actual"])
}

func TestAdminUnlockClearsLockout(t *testing.T) {
	app := newTestApp(t, nil)

	for i := 0; i < 5; i++ {
		doLogin(app, "10.1.0.11", "user@example.com", "bad-password")
	}
	locked := doLogin(app, "10.1.0.11", "user@example.com", testUserPassword)
	require.Equal(t, http.StatusLocked, locked.Code)

	adminAccess, _, _ := loginTokens(t, app, "10.1.0.12", "admin@example.com", testAdminPassword)
	w := doJSON(app, http.MethodPost, "/api/admin/unlock", "10.1.0.12", adminAccess,
		`{"userId":"u-1","reason":"verified with user"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	recovered := doLogin(app, "10.1.0.11", "user@example.com", testUserPassword)
	assert.Equal(t, http.StatusOK, recovered.Code)

	violations := doJSON(app, http.MethodGet, "/api/admin/violations/u-1", "10.1.0.12", adminAccess, "", nil)
	require.Equal(t, http.StatusOK, violations.Code)
	assert.Contains(t, violations.Body.String(), "resolved")
}

func TestSessionListAndTerminate(t *testing.T) {
	app := newTestApp(t, nil)

	access1, _, _ := loginTokens(t, app, "10.1.0.13", "user@example.com", testUserPassword)
	access2, _, _ := loginTokens(t, app, "10.1.0.13", "user@example.com", testUserPassword)

	w := doJSON(app, http.MethodGet, "/api/sessions", "10.1.0.13", access1, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var listed struct {
		Sessions []struct {
			ID string `json:"id"`
		} `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed.Sessions, 2)

	// Terminate one session; its token stops working, the other survives.
	w = doJSON(app, http.MethodDelete, "/api/sessions/"+listed.Sessions[0].ID, "10.1.0.13", access1, "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	ok1 := doJSON(app, http.MethodGet, "/api/me", "10.1.0.13", access1, "", nil)
	ok2 := doJSON(app, http.MethodGet, "/api/me", "10.1.0.13", access2, "", nil)
	codes := []int{ok1.Code, ok2.Code}
	assert.Contains(t, codes, http.StatusOK)
	assert.Contains(t, codes, http.StatusUnauthorized)
}

func TestTerminateForeignSessionRejected(t *testing.T) {
	app := newTestApp(t, nil)

	_, _, _ = loginTokens(t, app, "10.1.0.14", "admin@example.com", testAdminPassword)
	userAccess, _, _ := loginTokens(t, app, "10.1.0.14", "user@example.com", testUserPassword)

	adminSessions, err := app.sessions.GetUserSessions(t.Context(), "a-1")
	require.NoError(t, err)
	require.NotEmpty(t, adminSessions)

	w := doJSON(app, http.MethodDelete, "/api/sessions/"+adminSessions[0].ID, "10.1.0.14", userAccess, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGuardHotSwap(t *testing.T) {
	app := newTestApp(t, nil)
	access, _, _ := loginTokens(t, app, "10.1.0.15", "user@example.com", testUserPassword)

	w := doJSON(app, http.MethodGet, "/api/me", "10.1.0.15", access, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Tighten /api/* to admin and swap the pipeline in place.
	reloaded := config.DefaultConfig()
	*reloaded = *app.config
	reloaded.Routes = []guard.RouteConfig{
		{Path: "/api/login", SecurityLevel: authz.LevelPublic, RateLimitCategory: ratelimit.CategoryLogin},
		{Path: "/api/*", SecurityLevel: authz.LevelAdmin},
	}
	require.NoError(t, app.initGuard(reloaded))

	w = doJSON(app, http.MethodGet, "/api/me", "10.1.0.15", access, "", nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "insufficient_privileges", decodeBody(t, w)["code"])
}

func TestHealthAndMetricsBypassPipeline(t *testing.T) {
	app := newTestApp(t, nil)

	health := doJSON(app, http.MethodGet, "/healthz", "10.1.0.16", "", "", nil)
	require.Equal(t, http.StatusOK, health.Code)
	assert.Equal(t, "healthy", decodeBody(t, health)["status"])

	ready := doJSON(app, http.MethodGet, "/readyz", "10.1.0.16", "", "", nil)
	require.Equal(t, http.StatusOK, ready.Code)
	assert.Contains(t, ready.Body.String(), `"store"`)

	metrics := doJSON(app, http.MethodGet, "/metrics", "10.1.0.16", "", "", nil)
	assert.Equal(t, http.StatusOK, metrics.Code)
}

func TestUserStoreTimingUniformity(t *testing.T) {
	s := newUserStore()
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)
	s.add(&user{Email: "Known@Example.com", Role: "user", PasswordHash: hash})

	// Case-insensitive lookup.
	u, err := s.authenticate("known@example.com", "pw")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)

	_, err = s.authenticate("known@example.com", "wrong")
	assert.ErrorIs(t, err, errInvalidCredentials)
	_, err = s.authenticate("missing@example.com", "pw")
	assert.ErrorIs(t, err, errInvalidCredentials)
}
