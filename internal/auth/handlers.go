package auth

import (
	"net/http"
	"time"

	apperrors "github.com/campusbridge/campusbridge/internal/errors"
)

// CookieConfig controls how session cookies are written.
type CookieConfig struct {
	Secure bool
}

type Handlers struct {
	service *Service
	issuer  *TokenIssuer
	cookies CookieConfig
}

func NewHandlers(service *Service, issuer *TokenIssuer, cookies CookieConfig) *Handlers {
	return &Handlers{service: service, issuer: issuer, cookies: cookies}
}

type loginResponse struct {
	User         *UserInfo `json:"user"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) error {
	var req RegisterRequest
	if err := apperrors.DecodeJSON(r, &req, false); err != nil {
		return err
	}

	user, err := h.service.Register(r.Context(), req)
	if err != nil {
		return err
	}

	apperrors.WriteSuccess(w, apperrors.GetRequestID(r.Context()), http.StatusCreated, "user registered successfully", user)
	return nil
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) error {
	var req LoginRequest
	if err := apperrors.DecodeJSON(r, &req, false); err != nil {
		return err
	}

	result, err := h.service.Login(r.Context(), req)
	if err != nil {
		return err
	}

	h.setSessionCookies(w, &result.TokenPair)
	apperrors.WriteSuccess(w, apperrors.GetRequestID(r.Context()), http.StatusOK, "user logged in successfully", loginResponse{
		User:         result.User,
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
	})
	return nil
}

// RefreshToken accepts the refresh token from its cookie or, failing that,
// from a JSON body. A missing or unreadable body is treated as no token.
func (h *Handlers) RefreshToken(w http.ResponseWriter, r *http.Request) error {
	token := CookieExtractor(RefreshTokenCookie).Extract(r)
	if token == "" {
		var req RefreshRequest
		if err := apperrors.DecodeJSON(r, &req, true); err == nil {
			token = req.RefreshToken
		}
	}

	pair, err := h.service.Refresh(r.Context(), token)
	if err != nil {
		return err
	}

	h.setSessionCookies(w, pair)
	apperrors.WriteSuccess(w, apperrors.GetRequestID(r.Context()), http.StatusOK, "access token refreshed", pair)
	return nil
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) error {
	user := UserFromContext(r.Context())
	if user == nil {
		return apperrors.Unauthorized("not authenticated")
	}

	if err := h.service.Logout(r.Context(), user.ID); err != nil {
		return err
	}

	h.clearSessionCookies(w)
	apperrors.WriteSuccess(w, apperrors.GetRequestID(r.Context()), http.StatusOK, "user logged out", nil)
	return nil
}

func (h *Handlers) Profile(w http.ResponseWriter, r *http.Request) error {
	user := UserFromContext(r.Context())
	if user == nil {
		return apperrors.Unauthorized("not authenticated")
	}

	apperrors.WriteSuccess(w, apperrors.GetRequestID(r.Context()), http.StatusOK, "user profile", user)
	return nil
}

func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) error {
	user := UserFromContext(r.Context())
	if user == nil {
		return apperrors.Unauthorized("not authenticated")
	}

	var req ChangePasswordRequest
	if err := apperrors.DecodeJSON(r, &req, false); err != nil {
		return err
	}

	if err := h.service.ChangePassword(r.Context(), user.ID, req); err != nil {
		return err
	}

	h.clearSessionCookies(w)
	apperrors.WriteSuccess(w, apperrors.GetRequestID(r.Context()), http.StatusOK, "password changed successfully", nil)
	return nil
}

func (h *Handlers) setSessionCookies(w http.ResponseWriter, pair *TokenPair) {
	http.SetCookie(w, h.cookie(AccessTokenCookie, pair.AccessToken, h.issuer.AccessTTL(), pair.AccessExpiresAt))
	http.SetCookie(w, h.cookie(RefreshTokenCookie, pair.RefreshToken, h.issuer.RefreshTTL(), pair.RefreshExpiresAt))
}

func (h *Handlers) clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		c := h.cookie(name, "", 0, time.Unix(0, 0))
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

func (h *Handlers) cookie(name, value string, ttl time.Duration, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
		Expires:  expires,
	}
}
