package auth

import (
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/campusbridge/campusbridge/internal/db"
	apperrors "github.com/campusbridge/campusbridge/internal/errors"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const (
	minNameLength     = 3
	minUserNameLength = 3
	minPasswordLength = 6
	maxPasswordBytes  = 72 // bcrypt ignores anything longer
)

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	UserName string `json:"userName"`
	Branch   string `json:"branch"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// Validator checks and canonicalises auth input for one institutional email
// domain.
type Validator struct {
	domain  string
	emailRe *regexp.Regexp
}

func NewValidator(domain string) *Validator {
	domain = strings.ToLower(strings.TrimSpace(domain))
	return &Validator{
		domain:  domain,
		emailRe: regexp.MustCompile(`^[^\s@]+@` + regexp.QuoteMeta(domain) + `$`),
	}
}

func normalizeText(s string) string {
	return norm.NFKC.String(strings.TrimSpace(s))
}

// NormalizeEmail folds case and applies NFKC so that lookups and uniqueness
// checks see one canonical form.
func (v *Validator) NormalizeEmail(email string) string {
	// Casers hold state, so each call gets its own
	return cases.Fold().String(normalizeText(email))
}

// Register canonicalises req in place and returns a validation error listing
// every offending field.
func (v *Validator) Register(req *RegisterRequest) error {
	req.Name = normalizeText(req.Name)
	req.Email = v.NormalizeEmail(req.Email)
	req.UserName = normalizeText(req.UserName)
	req.Branch = strings.ToUpper(normalizeText(req.Branch))

	var missing, invalid []apperrors.FieldError
	required := func(field, value string) bool {
		if value == "" {
			missing = append(missing, apperrors.FieldError{Field: field, Message: field + " is required"})
			return false
		}
		return true
	}

	if required("name", req.Name) && utf8.RuneCountInString(req.Name) < minNameLength {
		invalid = append(invalid, apperrors.FieldError{Field: "name", Message: "name must be at least 3 characters long"})
	}
	if required("email", req.Email) && !v.emailRe.MatchString(req.Email) {
		invalid = append(invalid, apperrors.FieldError{Field: "email", Message: "please enter a valid " + v.domain + " email"})
	}
	if required("password", req.Password) {
		if msg := passwordProblem(req.Password); msg != "" {
			invalid = append(invalid, apperrors.FieldError{Field: "password", Message: msg})
		}
	}
	if required("userName", req.UserName) && utf8.RuneCountInString(req.UserName) < minUserNameLength {
		invalid = append(invalid, apperrors.FieldError{Field: "userName", Message: "username must be at least 3 characters long"})
	}
	if required("branch", req.Branch) && !slices.Contains(db.Branches, req.Branch) {
		invalid = append(invalid, apperrors.FieldError{Field: "branch", Message: "branch must be one of " + strings.Join(db.Branches, ", ")})
	}

	if len(missing) > 0 {
		return apperrors.ValidationError("all fields are required").WithFields(append(missing, invalid...))
	}
	if len(invalid) > 0 {
		return apperrors.ValidationError("invalid registration details").WithFields(invalid)
	}
	return nil
}

func (v *Validator) Login(req *LoginRequest) error {
	req.Email = v.NormalizeEmail(req.Email)
	if req.Email == "" || req.Password == "" {
		return apperrors.ValidationError("email and password are required")
	}
	return nil
}

func (v *Validator) ChangePassword(req *ChangePasswordRequest) error {
	if req.OldPassword == "" || req.NewPassword == "" {
		return apperrors.ValidationError("old and new password are required")
	}
	if msg := passwordProblem(req.NewPassword); msg != "" {
		return apperrors.ValidationError(msg).WithFields([]apperrors.FieldError{{Field: "newPassword", Message: msg}})
	}
	return nil
}

func passwordProblem(password string) string {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return "password must be at least 6 characters long"
	}
	if len(password) > maxPasswordBytes {
		return "password must be at most 72 bytes long"
	}
	return ""
}
