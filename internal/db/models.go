package db

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrEmailExists          = errors.New("email already exists")
	ErrUserNameExists       = errors.New("username already exists")
	ErrRefreshTokenMismatch = errors.New("refresh token is not the current token")
	ErrPostNotFound         = errors.New("post not found")
)

// Branches a student may register under.
var Branches = []string{"CSE", "IT", "ECE", "EEE", "MECH", "CIVIL"}

// Difficulty levels a post may carry.
var DifficultyLevels = []string{"Easy", "Medium", "Hard"}

// User is a registered student. RefreshTokenHash is empty when no refresh
// session is live.
type User struct {
	ID               uuid.UUID
	Name             string
	Email            string
	UserName         string
	PasswordHash     string
	Branch           string
	RefreshTokenHash string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PostOwner is the public slice of a user shown alongside a post.
type PostOwner struct {
	ID       uuid.UUID
	Name     string
	UserName string
}

// Post is an interview-experience write-up.
type Post struct {
	ID              uuid.UUID
	OwnerID         uuid.UUID
	Owner           PostOwner
	CompanyName     string
	JobTitle        string
	TopicsCovered   []string
	InterviewType   string
	RoundDetails    string
	Date            time.Time
	Tips            string
	MaterialLinks   []string
	DifficultyLevel string
	Results         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
