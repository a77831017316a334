package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/campusbridge/campusbridge/internal/db"
	apperrors "github.com/campusbridge/campusbridge/internal/errors"
	"github.com/google/uuid"
)

// UserInfo is the sanitized view of a user. It never carries the password
// hash or the refresh token.
type UserInfo struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	UserName  string    `json:"userName"`
	Branch    string    `json:"branch"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func NewUserInfo(u *db.User) *UserInfo {
	return &UserInfo{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		UserName:  u.UserName,
		Branch:    u.Branch,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// Rejection says why a request could not be authenticated.
type Rejection int

const (
	RejectNone Rejection = iota
	RejectNoToken
	RejectMalformed
	RejectInvalidToken
	RejectExpiredToken
	RejectUnknownUser
	RejectUnavailable
)

func (r Rejection) String() string {
	switch r {
	case RejectNone:
		return "none"
	case RejectNoToken:
		return "no_token"
	case RejectMalformed:
		return "malformed"
	case RejectInvalidToken:
		return "invalid_token"
	case RejectExpiredToken:
		return "expired_token"
	case RejectUnknownUser:
		return "unknown_user"
	case RejectUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// AppError maps a rejection to the response the client receives.
func (r Rejection) AppError() *apperrors.AppError {
	switch r {
	case RejectNoToken:
		return apperrors.Unauthorized("unauthorized request - no token provided")
	case RejectMalformed:
		return apperrors.InvalidToken("invalid token format")
	case RejectExpiredToken:
		return apperrors.TokenExpired("invalid or expired token")
	case RejectInvalidToken:
		return apperrors.InvalidToken("invalid or expired token")
	case RejectUnknownUser:
		return apperrors.InvalidToken("invalid access token - user not found")
	default:
		return apperrors.InternalError("an unexpected error occurred")
	}
}

// Verification is the outcome of Verify. Exactly one of User or Rejection
// is meaningful; Err carries the store failure behind RejectUnavailable.
type Verification struct {
	User      *UserInfo
	Rejection Rejection
	Err       error
}

func (v Verification) OK() bool {
	return v.Rejection == RejectNone && v.User != nil
}

// UserLookup is the slice of the credential store the verifier needs.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*db.User, error)
}

type Verifier struct {
	issuer     *TokenIssuer
	users      UserLookup
	extractors []Extractor
}

// NewVerifier uses DefaultExtractors when none are given.
func NewVerifier(issuer *TokenIssuer, users UserLookup, extractors ...Extractor) *Verifier {
	if len(extractors) == 0 {
		extractors = DefaultExtractors()
	}
	return &Verifier{issuer: issuer, users: users, extractors: extractors}
}

func (v *Verifier) Verify(ctx context.Context, r *http.Request) Verification {
	token := ExtractToken(r, v.extractors)
	if token == "" {
		return Verification{Rejection: RejectNoToken}
	}

	if !hasJWTShape(token) {
		return Verification{Rejection: RejectMalformed}
	}

	claims, err := v.issuer.ParseAccessToken(token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return Verification{Rejection: RejectExpiredToken}
		}
		return Verification{Rejection: RejectInvalidToken}
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return Verification{Rejection: RejectInvalidToken}
	}

	user, err := v.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return Verification{Rejection: RejectUnknownUser}
		}
		return Verification{Rejection: RejectUnavailable, Err: err}
	}

	return Verification{User: NewUserInfo(user)}
}

func hasJWTShape(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}
