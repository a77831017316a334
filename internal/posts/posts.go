package posts

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/campusbridge/campusbridge/internal/db"
	apperrors "github.com/campusbridge/campusbridge/internal/errors"
	"github.com/google/uuid"
)

// Event types pushed to live-feed subscribers.
const (
	EventCreated = "post_created"
	EventUpdated = "post_updated"
	EventDeleted = "post_deleted"
)

type Owner struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	UserName string    `json:"userName"`
}

// View is the JSON shape of a post.
type View struct {
	ID              uuid.UUID `json:"id"`
	Owner           Owner     `json:"owner"`
	CompanyName     string    `json:"companyName"`
	JobTitle        string    `json:"jobTitle"`
	TopicsCovered   []string  `json:"topicsCovered"`
	InterviewType   string    `json:"interviewType"`
	RoundDetails    string    `json:"roundDetails"`
	Date            time.Time `json:"date"`
	Tips            string    `json:"tips"`
	MaterialLinks   []string  `json:"materialLinks"`
	DifficultyLevel string    `json:"difficultyLevel"`
	Results         string    `json:"results"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func NewView(p *db.Post) *View {
	v := &View{
		ID:              p.ID,
		Owner:           Owner{ID: p.Owner.ID, Name: p.Owner.Name, UserName: p.Owner.UserName},
		CompanyName:     p.CompanyName,
		JobTitle:        p.JobTitle,
		TopicsCovered:   p.TopicsCovered,
		InterviewType:   p.InterviewType,
		RoundDetails:    p.RoundDetails,
		Date:            p.Date,
		Tips:            p.Tips,
		MaterialLinks:   p.MaterialLinks,
		DifficultyLevel: p.DifficultyLevel,
		Results:         p.Results,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
	if v.TopicsCovered == nil {
		v.TopicsCovered = []string{}
	}
	if v.MaterialLinks == nil {
		v.MaterialLinks = []string{}
	}
	return v
}

// Event is broadcast to feed subscribers after every successful write.
type Event struct {
	Type string `json:"type"`
	Post *View  `json:"post"`
}

// Input is the body accepted by create and edit.
type Input struct {
	CompanyName     string   `json:"companyName"`
	JobTitle        string   `json:"jobTitle"`
	TopicsCovered   []string `json:"topicsCovered"`
	InterviewType   string   `json:"interviewType"`
	RoundDetails    string   `json:"roundDetails"`
	Date            string   `json:"date"`
	Tips            string   `json:"tips"`
	MaterialLinks   []string `json:"materialLinks"`
	DifficultyLevel string   `json:"difficultyLevel"`
	Results         string   `json:"results"`
}

var dateLayouts = []string{time.RFC3339, "2006-01-02"}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// validate trims in and returns the parsed interview date.
func (in *Input) validate() (time.Time, error) {
	in.CompanyName = strings.TrimSpace(in.CompanyName)
	in.JobTitle = strings.TrimSpace(in.JobTitle)
	in.InterviewType = strings.TrimSpace(in.InterviewType)
	in.RoundDetails = strings.TrimSpace(in.RoundDetails)
	in.Tips = strings.TrimSpace(in.Tips)
	in.Results = strings.TrimSpace(in.Results)
	in.DifficultyLevel = strings.TrimSpace(in.DifficultyLevel)
	in.TopicsCovered = cleanList(in.TopicsCovered)
	in.MaterialLinks = cleanList(in.MaterialLinks)

	var fields []apperrors.FieldError
	require := func(field, value string) {
		if value == "" {
			fields = append(fields, apperrors.FieldError{Field: field, Message: field + " is required"})
		}
	}
	require("companyName", in.CompanyName)
	require("jobTitle", in.JobTitle)
	require("interviewType", in.InterviewType)
	require("roundDetails", in.RoundDetails)
	require("tips", in.Tips)
	require("difficultyLevel", in.DifficultyLevel)
	if len(in.TopicsCovered) == 0 {
		fields = append(fields, apperrors.FieldError{Field: "topicsCovered", Message: "topicsCovered is required"})
	}

	in.Date = strings.TrimSpace(in.Date)
	date, ok := parseDate(in.Date)
	if in.Date == "" {
		require("date", "")
	} else if !ok {
		fields = append(fields, apperrors.FieldError{Field: "date", Message: "date must be YYYY-MM-DD or RFC 3339"})
	}

	if in.DifficultyLevel != "" && !slices.Contains(db.DifficultyLevels, in.DifficultyLevel) {
		fields = append(fields, apperrors.FieldError{Field: "difficultyLevel", Message: "difficultyLevel must be one of " + strings.Join(db.DifficultyLevels, ", ")})
	}

	if len(fields) > 0 {
		return time.Time{}, apperrors.ValidationError("please fill all required fields").WithFields(fields)
	}
	return date, nil
}

func (in *Input) apply(p *db.Post, date time.Time) {
	p.CompanyName = in.CompanyName
	p.JobTitle = in.JobTitle
	p.TopicsCovered = in.TopicsCovered
	p.InterviewType = in.InterviewType
	p.RoundDetails = in.RoundDetails
	p.Date = date
	p.Tips = in.Tips
	p.MaterialLinks = in.MaterialLinks
	p.DifficultyLevel = in.DifficultyLevel
	p.Results = in.Results
}

// Store is the persistence the posts service needs.
type Store interface {
	Create(ctx context.Context, post *db.Post) error
	List(ctx context.Context) ([]*db.Post, error)
	GetByID(ctx context.Context, id uuid.UUID) (*db.Post, error)
	Update(ctx context.Context, post *db.Post) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Cache is an optional read-through cache for post views.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) bool
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Publisher fans events out to live-feed subscribers.
type Publisher interface {
	Publish(event any)
}
