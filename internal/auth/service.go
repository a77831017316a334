package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/campusbridge/campusbridge/internal/db"
	apperrors "github.com/campusbridge/campusbridge/internal/errors"
	"github.com/campusbridge/campusbridge/internal/logger"
	"github.com/google/uuid"
)

// UserStore is the credential store behind the auth endpoints. Both
// db.UserRepository and db.MemoryUserRepository satisfy it.
type UserStore interface {
	UserLookup
	Create(ctx context.Context, user *db.User) error
	ExistsByEmailOrUserName(ctx context.Context, email, userName string) (bool, error)
	GetByEmail(ctx context.Context, email string) (*db.User, error)
	SetRefreshToken(ctx context.Context, id uuid.UUID, hash string) error
	SwapRefreshToken(ctx context.Context, id uuid.UUID, expected, next string) error
	ClearRefreshToken(ctx context.Context, id uuid.UUID) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
}

type LoginResult struct {
	User *UserInfo
	TokenPair
}

const (
	eventRegister       = "register"
	eventLogin          = "login"
	eventRefresh        = "refresh"
	eventLogout         = "logout"
	eventChangePassword = "change_password"
)

type Service struct {
	users     UserStore
	hasher    Hasher
	issuer    *TokenIssuer
	validator *Validator
	recorder  Recorder
	log       *logger.Logger
	now       func() time.Time
}

func NewService(users UserStore, hasher Hasher, issuer *TokenIssuer, validator *Validator, recorder Recorder) *Service {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		users:     users,
		hasher:    hasher,
		issuer:    issuer,
		validator: validator,
		recorder:  recorder,
		log:       logger.Default().WithComponent("auth"),
		now:       time.Now,
	}
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (_ *UserInfo, err error) {
	defer s.record(eventRegister, &err)

	if err := s.validator.Register(&req); err != nil {
		return nil, err
	}

	exists, err := s.users.ExistsByEmailOrUserName(ctx, req.Email, req.UserName)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to check existing users").WithCause(err)
	}
	if exists {
		return nil, apperrors.UserExists()
	}

	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, apperrors.InternalError("failed to secure password").WithCause(err)
	}

	now := s.now().UTC()
	user := &db.User{
		ID:           uuid.New(),
		Name:         req.Name,
		Email:        req.Email,
		UserName:     req.UserName,
		PasswordHash: passwordHash,
		Branch:       req.Branch,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, db.ErrEmailExists) || errors.Is(err, db.ErrUserNameExists) {
			return nil, apperrors.UserExists()
		}
		return nil, apperrors.DatabaseError("failed to create user").WithCause(err)
	}

	s.log.Info(ctx, "user registered", map[string]interface{}{"user_id": user.ID.String()})
	return NewUserInfo(user), nil
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (_ *LoginResult, err error) {
	defer s.record(eventLogin, &err)

	if err := s.validator.Login(&req); err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return nil, apperrors.New(apperrors.CodeUserNotFound, "user does not exist", apperrors.CategoryClient, http.StatusNotFound)
		}
		return nil, apperrors.DatabaseError("failed to load user").WithCause(err)
	}

	if !s.hasher.Verify(req.Password, user.PasswordHash) {
		return nil, apperrors.InvalidCredentials()
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return nil, err
	}
	if err := s.users.SetRefreshToken(ctx, user.ID, HashToken(pair.RefreshToken)); err != nil {
		return nil, apperrors.DatabaseError("failed to store refresh token").WithCause(err)
	}

	s.log.Info(ctx, "user logged in", map[string]interface{}{"user_id": user.ID.String()})
	return &LoginResult{User: NewUserInfo(user), TokenPair: *pair}, nil
}

// Refresh rotates the caller's refresh token. The presented token must be
// the one currently stored; it is replaced with compare-and-swap so that of
// two concurrent calls with the same token only one succeeds.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (_ *TokenPair, err error) {
	defer s.record(eventRefresh, &err)

	if refreshToken == "" {
		return nil, apperrors.Unauthorized("unauthorized request - refresh token is required")
	}

	claims, err := s.issuer.ParseRefreshToken(refreshToken)
	if err != nil {
		return nil, apperrors.InvalidToken("invalid or expired refresh token")
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, apperrors.InvalidToken("invalid refresh token")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return nil, apperrors.InvalidToken("invalid refresh token")
		}
		return nil, apperrors.DatabaseError("failed to load user").WithCause(err)
	}

	presented := HashToken(refreshToken)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(user.RefreshTokenHash)) != 1 {
		return nil, apperrors.InvalidToken("refresh token is expired or used")
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return nil, err
	}

	if err := s.users.SwapRefreshToken(ctx, user.ID, presented, HashToken(pair.RefreshToken)); err != nil {
		if errors.Is(err, db.ErrRefreshTokenMismatch) || errors.Is(err, db.ErrUserNotFound) {
			return nil, apperrors.InvalidToken("refresh token is expired or used")
		}
		return nil, apperrors.DatabaseError("failed to rotate refresh token").WithCause(err)
	}

	return pair, nil
}

// Logout ends the user's refresh session. Access tokens already issued stay
// valid until they expire.
func (s *Service) Logout(ctx context.Context, userID uuid.UUID) (err error) {
	defer s.record(eventLogout, &err)

	if err := s.users.ClearRefreshToken(ctx, userID); err != nil && !errors.Is(err, db.ErrUserNotFound) {
		return apperrors.DatabaseError("failed to clear refresh token").WithCause(err)
	}

	s.log.Info(ctx, "user logged out", map[string]interface{}{"user_id": userID.String()})
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, req ChangePasswordRequest) (err error) {
	defer s.record(eventChangePassword, &err)

	if err := s.validator.ChangePassword(&req); err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return apperrors.UserNotFound()
		}
		return apperrors.DatabaseError("failed to load user").WithCause(err)
	}

	if !s.hasher.Verify(req.OldPassword, user.PasswordHash) {
		return apperrors.New(apperrors.CodeInvalidCredentials, "invalid old password", apperrors.CategoryClient, http.StatusUnauthorized)
	}

	passwordHash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return apperrors.InternalError("failed to secure password").WithCause(err)
	}

	if err := s.users.UpdatePassword(ctx, userID, passwordHash); err != nil {
		return apperrors.DatabaseError("failed to update password").WithCause(err)
	}

	s.log.Info(ctx, "password changed", map[string]interface{}{"user_id": userID.String()})
	return nil
}

func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (*UserInfo, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return nil, apperrors.UserNotFound()
		}
		return nil, apperrors.DatabaseError("failed to load user").WithCause(err)
	}
	return NewUserInfo(user), nil
}

func (s *Service) issuePair(user *db.User) (*TokenPair, error) {
	access, accessExp, err := s.issuer.IssueAccessToken(user)
	if err != nil {
		return nil, apperrors.InternalError("failed to generate tokens").WithCause(err)
	}
	refresh, refreshExp, err := s.issuer.IssueRefreshToken(user)
	if err != nil {
		return nil, apperrors.InternalError("failed to generate tokens").WithCause(err)
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *Service) record(event string, err *error) {
	outcome := "success"
	if *err != nil {
		outcome = "failure"
		if apperrors.IsServerError(*err) {
			outcome = "error"
		}
	}
	s.recorder.AuthEvent(event, outcome)
}
