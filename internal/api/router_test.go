package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/campusbridge/campusbridge/internal/auth"
	"github.com/campusbridge/campusbridge/internal/db"
	"github.com/campusbridge/campusbridge/internal/health"
	"github.com/campusbridge/campusbridge/internal/metrics"
	"github.com/campusbridge/campusbridge/internal/middleware"
	"github.com/campusbridge/campusbridge/internal/posts"
	"github.com/campusbridge/campusbridge/internal/websocket"
)

type envelope struct {
	Success    bool            `json:"success"`
	StatusCode int             `json:"statusCode"`
	Code       string          `json:"code"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	RequestID  string          `json:"requestId"`
}

type testServer struct {
	router  *Router
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T, limiter *middleware.RateLimiter) *testServer {
	t.Helper()

	users := db.NewMemoryUserRepository()
	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{
		AccessSecret:  "router-access-secret",
		RefreshSecret: "router-refresh-secret",
	})
	require.NoError(t, err)

	m := metrics.New()
	authService := auth.NewService(users, auth.NewBcryptHasher(bcrypt.MinCost), issuer, auth.NewValidator("vgecg.ac.in"), m)
	postService := posts.NewService(db.NewMemoryPostRepository(users), nil, 0, nil)
	hub := websocket.NewHub(m.SetWSConnections)

	router := NewRouter(Deps{
		Auth:           auth.NewHandlers(authService, issuer, auth.CookieConfig{Secure: true}),
		Verifier:       auth.NewVerifier(issuer, users),
		Posts:          posts.NewHandlers(postService),
		Feed:           websocket.NewHandler(hub, []string{"http://localhost:5173"}),
		Health:         health.NewHandler(health.NewChecker(&health.CheckerConfig{Version: "test"})),
		Metrics:        m,
		Limiter:        limiter,
		AllowedOrigins: []string{"http://localhost:5173"},
	})
	return &testServer{router: router, metrics: m}
}

func (s *testServer) do(t *testing.T, method, path string, body any, token string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)

	var env envelope
	if w.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

var asha = map[string]string{
	"name":     "Asha Patel",
	"email":    "asha@vgecg.ac.in",
	"password": "secret1",
	"userName": "asha_p",
	"branch":   "CSE",
}

type session struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func TestAshaSessionLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	w, env := s.do(t, http.MethodPost, "/api/v1/users/register", asha, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.True(t, env.Success)
	assert.NotContains(t, string(env.Data), "password")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w, env = s.do(t, http.MethodPost, "/api/v1/users/login", map[string]string{"email": "asha@vgecg.ac.in", "password": "secret1"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var login session
	require.NoError(t, json.Unmarshal(env.Data, &login))
	require.NotEmpty(t, login.AccessToken)
	require.NotEmpty(t, login.RefreshToken)

	cookies := map[string]*http.Cookie{}
	for _, c := range w.Result().Cookies() {
		cookies[c.Name] = c
	}
	require.Contains(t, cookies, auth.AccessTokenCookie)
	assert.True(t, cookies[auth.AccessTokenCookie].HttpOnly)
	assert.True(t, cookies[auth.RefreshTokenCookie].Secure)

	w, env = s.do(t, http.MethodGet, "/api/v1/users/profile", nil, login.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var profile auth.UserInfo
	require.NoError(t, json.Unmarshal(env.Data, &profile))
	assert.Equal(t, "asha_p", profile.UserName)
	assert.Equal(t, "asha@vgecg.ac.in", profile.Email)

	w, env = s.do(t, http.MethodPost, "/api/v1/users/refresh-token", map[string]string{"refreshToken": login.RefreshToken}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var rotated session
	require.NoError(t, json.Unmarshal(env.Data, &rotated))
	assert.NotEqual(t, login.RefreshToken, rotated.RefreshToken)
	assert.NotEqual(t, login.AccessToken, rotated.AccessToken)

	w, env = s.do(t, http.MethodPost, "/api/v1/users/refresh-token", map[string]string{"refreshToken": login.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, env.Success)

	w, _ = s.do(t, http.MethodPost, "/api/v1/users/logout", nil, rotated.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/users/refresh-token", map[string]string{"refreshToken": rotated.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegistrationConflicts(t *testing.T) {
	s := newTestServer(t, nil)

	w, _ := s.do(t, http.MethodPost, "/api/v1/users/register", asha, "")
	require.Equal(t, http.StatusCreated, w.Code)

	sameEmail := map[string]string{"name": "A", "email": "ASHA@vgecg.ac.in", "password": "secret1", "userName": "other", "branch": "IT"}
	w, env := s.do(t, http.MethodPost, "/api/v1/users/register", sameEmail, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "USER_EXISTS", env.Code)

	sameUserName := map[string]string{"name": "A", "email": "other@vgecg.ac.in", "password": "secret1", "userName": "asha_p", "branch": "IT"}
	w, _ = s.do(t, http.MethodPost, "/api/v1/users/register", sameUserName, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestProtectedRoutesRejectMissingToken(t *testing.T) {
	s := newTestServer(t, nil)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/users/profile"},
		{http.MethodPost, "/api/v1/users/logout"},
		{http.MethodPost, "/api/v1/users/change-password"},
		{http.MethodPost, "/api/v1/posts/createpost"},
		{http.MethodGet, "/api/v1/posts/feed"},
	} {
		w, env := s.do(t, route.method, route.path, nil, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, route.path)
		assert.Equal(t, "unauthorized request - no token provided", env.Message, route.path)
	}

	w, _ := s.do(t, http.MethodGet, "/api/v1/users/profile", nil, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	body := scrapeMetrics(t, s)
	assert.Contains(t, body, `campusbridge_auth_verifier_rejections_total{reason="no_token"} 5`)
	assert.Contains(t, body, `campusbridge_auth_verifier_rejections_total{reason="malformed"} 1`)
}

func TestPostsThroughRouter(t *testing.T) {
	s := newTestServer(t, nil)

	s.do(t, http.MethodPost, "/api/v1/users/register", asha, "")
	_, env := s.do(t, http.MethodPost, "/api/v1/users/login", map[string]string{"email": "asha@vgecg.ac.in", "password": "secret1"}, "")
	var login session
	require.NoError(t, json.Unmarshal(env.Data, &login))

	post := map[string]any{
		"companyName":     "Acme Corp",
		"jobTitle":        "SDE Intern",
		"topicsCovered":   []string{"DSA"},
		"interviewType":   "On-campus",
		"roundDetails":    "Two technical rounds",
		"date":            "2025-01-15",
		"tips":            "Practice graphs",
		"difficultyLevel": "Hard",
		"results":         "Selected",
	}
	w, env := s.do(t, http.MethodPost, "/api/v1/posts/createpost", post, login.AccessToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created posts.View
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "asha_p", created.Owner.UserName)

	w, _ = s.do(t, http.MethodGet, "/api/v1/posts/post/"+created.ID.String(), nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/v1/posts/allposts", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodDelete, "/api/v1/posts/deletepost/"+created.ID.String(), nil, login.AccessToken)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/v1/posts/post/"+created.ID.String(), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLoginIsRateLimited(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newTestServer(t, middleware.NewRateLimiter(ctx, 0.001, 2, nil))
	creds := map[string]string{"email": "nobody@vgecg.ac.in", "password": "secret1"}

	w, _ := s.do(t, http.MethodPost, "/api/v1/users/login", creds, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = s.do(t, http.MethodPost, "/api/v1/users/login", creds, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env := s.do(t, http.MethodPost, "/api/v1/users/login", creds, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", env.Code)
}

func loginFrom(s *testServer, remoteAddr string, headers map[string]string) int {
	body := bytes.NewBufferString(`{"email":"nobody@vgecg.ac.in","password":"secret1"}`)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/users/login", body)
	r.Header.Set("Content-Type", "application/json")
	r.RemoteAddr = remoteAddr
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	return w.Code
}

func TestRateLimitIgnoresForwardingHeadersFromUntrustedPeers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newTestServer(t, middleware.NewRateLimiter(ctx, 0.001, 1, nil))

	allowed := 0
	for i := 0; i < 20; i++ {
		code := loginFrom(s, "203.0.113.7:40000", map[string]string{
			"X-Forwarded-For": fmt.Sprintf("198.51.100.%d", i+1),
			"X-Real-IP":       fmt.Sprintf("198.51.100.%d", i+101),
		})
		if code != http.StatusTooManyRequests {
			allowed++
		}
	}
	assert.Equal(t, 1, allowed)
}

func TestRateLimitUsesForwardedClientBehindTrustedProxy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proxies, err := middleware.ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	s := newTestServer(t, middleware.NewRateLimiter(ctx, 0.001, 1, proxies))

	viaProxy := func(client string) int {
		return loginFrom(s, "10.1.2.3:8080", map[string]string{"X-Forwarded-For": client})
	}

	assert.Equal(t, http.StatusNotFound, viaProxy("198.51.100.1"))
	assert.Equal(t, http.StatusNotFound, viaProxy("198.51.100.2"))
	assert.Equal(t, http.StatusTooManyRequests, viaProxy("198.51.100.1"))
}

func TestUnknownRoutesUseErrorEnvelope(t *testing.T) {
	s := newTestServer(t, nil)

	w, env := s.do(t, http.MethodGet, "/api/v1/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.False(t, env.Success)
	assert.Equal(t, "NOT_FOUND", env.Code)
	assert.NotEmpty(t, env.RequestID)

	w, env = s.do(t, http.MethodGet, "/api/v1/users/login", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "METHOD_NOT_ALLOWED", env.Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.StatusCode)
	assert.Contains(t, w.Header().Get("Allow"), http.MethodPost)
}

func TestJunkPathsDoNotGrowMetricSeries(t *testing.T) {
	s := newTestServer(t, nil)

	s.do(t, http.MethodGet, "/junk-seed", nil, "")
	s.do(t, http.MethodGet, "/api/v1/posts/post/seed", nil, "")
	before := testutil.CollectAndCount(s.metrics.Registry())

	for i := 0; i < 50; i++ {
		s.do(t, http.MethodGet, fmt.Sprintf("/junk-%d", i), nil, "")
		s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/posts/post/not-a-post-%d", i), nil, "")
	}

	assert.Equal(t, before, testutil.CollectAndCount(s.metrics.Registry()))
	body := scrapeMetrics(t, s)
	assert.Contains(t, body, `campusbridge_http_requests_total{endpoint="unmatched",method="GET",status="404"} 51`)
	assert.Contains(t, body, `campusbridge_http_requests_total{endpoint="/api/v1/posts/post/{postId}",method="GET",status="404"} 51`)
	assert.NotContains(t, body, "junk-")
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	w, _ := s.do(t, http.MethodGet, "/health/live", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(t, http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	s.do(t, http.MethodGet, "/api/v1/posts/allposts", nil, "")
	assert.Contains(t, scrapeMetrics(t, s), `campusbridge_http_requests_total{endpoint="/api/v1/posts/allposts",method="GET",status="200"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, nil)

	r := httptest.NewRequest(http.MethodOptions, "/api/v1/users/login", nil)
	r.Header.Set("Origin", "http://localhost:5173")
	r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func scrapeMetrics(t *testing.T, s *testServer) string {
	t.Helper()
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}
