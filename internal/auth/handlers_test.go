package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "github.com/campusbridge/campusbridge/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success    bool            `json:"success"`
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	Errors     []apperrors.FieldError
}

func serve(h apperrors.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	apperrors.HandleFunc(h)(w, r)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func cookieByName(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestHandlers_RegisterHidesPassword(t *testing.T) {
	f := newServiceFixture(t)
	h := NewHandlers(f.service, f.issuer, CookieConfig{Secure: true})

	body := `{"name":"Asha Patel","email":"asha@vgecg.ac.in","password":"secret1","userName":"asha_p","branch":"CSE"}`
	w := serve(h.Register, httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body)))

	assert.Equal(t, http.StatusCreated, w.Code)
	env := decodeEnvelope(t, w)
	assert.True(t, env.Success)
	assert.NotContains(t, string(env.Data), "secret1")
	assert.NotContains(t, strings.ToLower(string(env.Data)), "password")
	assert.Contains(t, string(env.Data), `"userName":"asha_p"`)
}

func TestHandlers_RegisterBadBody(t *testing.T) {
	f := newServiceFixture(t)
	h := NewHandlers(f.service, f.issuer, CookieConfig{})

	w := serve(h.Register, httptest.NewRequest(http.MethodPost, "/register", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(h.Register, httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(`{"name":"Asha Patel"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeEnvelope(t, w)
	assert.False(t, env.Success)
	assert.Equal(t, "all fields are required", env.Message)
}

func TestHandlers_LoginSetsCookies(t *testing.T) {
	f := newServiceFixture(t)
	f.registerAndLogin(t)
	h := NewHandlers(f.service, f.issuer, CookieConfig{Secure: true})

	w := serve(h.Login, httptest.NewRequest(http.MethodPost, "/login",
		strings.NewReader(`{"email":"asha@vgecg.ac.in","password":"secret1"}`)))
	require.Equal(t, http.StatusOK, w.Code)

	var data loginResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &data))
	assert.NotEmpty(t, data.AccessToken)
	assert.NotEmpty(t, data.RefreshToken)
	assert.Equal(t, "asha_p", data.User.UserName)

	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		c := cookieByName(w, name)
		require.NotNil(t, c, name)
		assert.True(t, c.HttpOnly)
		assert.True(t, c.Secure)
		assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
		assert.Equal(t, "/", c.Path)
	}
	assert.Equal(t, data.AccessToken, cookieByName(w, AccessTokenCookie).Value)
	assert.Equal(t, int(f.issuer.RefreshTTL().Seconds()), cookieByName(w, RefreshTokenCookie).MaxAge)
}

func TestHandlers_RefreshFromCookieOrBody(t *testing.T) {
	f := newServiceFixture(t)
	login := f.registerAndLogin(t)
	h := NewHandlers(f.service, f.issuer, CookieConfig{})

	r := httptest.NewRequest(http.MethodPost, "/refresh-token", nil)
	r.AddCookie(&http.Cookie{Name: RefreshTokenCookie, Value: login.RefreshToken})
	w := serve(h.RefreshToken, r)
	require.Equal(t, http.StatusOK, w.Code)

	var pair TokenPair
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &pair))
	assert.NotEmpty(t, pair.AccessToken)

	w = serve(h.RefreshToken, httptest.NewRequest(http.MethodPost, "/refresh-token",
		strings.NewReader(`{"refreshToken":"`+pair.RefreshToken+`"}`)))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandlers_RefreshWithoutToken(t *testing.T) {
	f := newServiceFixture(t)
	h := NewHandlers(f.service, f.issuer, CookieConfig{})

	for _, body := range []string{"", "{}", "not json"} {
		w := serve(h.RefreshToken, httptest.NewRequest(http.MethodPost, "/refresh-token", strings.NewReader(body)))
		assert.Equal(t, http.StatusUnauthorized, w.Code, "body %q", body)
	}
}

func TestHandlers_LogoutClearsCookies(t *testing.T) {
	f := newServiceFixture(t)
	login := f.registerAndLogin(t)
	h := NewHandlers(f.service, f.issuer, CookieConfig{})

	r := httptest.NewRequest(http.MethodPost, "/logout", nil)
	r = r.WithContext(WithUser(r.Context(), login.User))
	w := serve(h.Logout, r)

	require.Equal(t, http.StatusOK, w.Code)
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		c := cookieByName(w, name)
		require.NotNil(t, c, name)
		assert.Empty(t, c.Value)
		assert.Equal(t, -1, c.MaxAge)
	}
}

func TestHandlers_RequireUserInContext(t *testing.T) {
	f := newServiceFixture(t)
	h := NewHandlers(f.service, f.issuer, CookieConfig{})

	for _, handler := range []apperrors.Handler{h.Logout, h.Profile, h.ChangePassword} {
		w := serve(handler, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
}
