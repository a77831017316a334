package posts

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/campusbridge/campusbridge/internal/db"
	apperrors "github.com/campusbridge/campusbridge/internal/errors"
	"github.com/campusbridge/campusbridge/internal/logger"
	"github.com/google/uuid"
)

const (
	feedKey       = "posts:all"
	postKeyPrefix = "posts:"

	DefaultCacheTTL = time.Minute
)

func postKey(id uuid.UUID) string { return postKeyPrefix + id.String() }

type nopCache struct{}

func (nopCache) GetJSON(context.Context, string, any) bool                   { return false }
func (nopCache) SetJSON(context.Context, string, any, time.Duration) error { return nil }
func (nopCache) Delete(context.Context, ...string) error                     { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(any) {}

type Service struct {
	store     Store
	cache     Cache
	cacheTTL  time.Duration
	publisher Publisher
	log       *logger.Logger
	now       func() time.Time

	// generation is bumped on every invalidation. Reads only fill the
	// cache when no invalidation happened while they hit the store.
	generation atomic.Uint64
}

// NewService wires the posts service. cache and publisher may be nil.
func NewService(store Store, cache Cache, cacheTTL time.Duration, publisher Publisher) *Service {
	if cache == nil {
		cache = nopCache{}
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &Service{
		store:     store,
		cache:     cache,
		cacheTTL:  cacheTTL,
		publisher: publisher,
		log:       logger.Default().WithComponent("posts"),
		now:       time.Now,
	}
}

func (s *Service) Create(ctx context.Context, author Owner, in Input) (*View, error) {
	date, err := in.validate()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	post := &db.Post{
		ID:        uuid.New(),
		OwnerID:   author.ID,
		Owner:     db.PostOwner{ID: author.ID, Name: author.Name, UserName: author.UserName},
		CreatedAt: now,
		UpdatedAt: now,
	}
	in.apply(post, date)

	if err := s.store.Create(ctx, post); err != nil {
		return nil, apperrors.DatabaseError("failed to create post").WithCause(err)
	}

	view := NewView(post)
	s.invalidate(ctx, post.ID)
	s.publisher.Publish(Event{Type: EventCreated, Post: view})
	s.log.Info(ctx, "post created", map[string]interface{}{"post_id": post.ID.String(), "owner_id": author.ID.String()})
	return view, nil
}

func (s *Service) List(ctx context.Context) ([]*View, error) {
	var cached []*View
	if s.cache.GetJSON(ctx, feedKey, &cached) {
		return cached, nil
	}

	gen := s.generation.Load()
	posts, err := s.store.List(ctx)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to list posts").WithCause(err)
	}

	views := make([]*View, len(posts))
	for i, p := range posts {
		views[i] = NewView(p)
	}

	s.fill(ctx, gen, feedKey, views)
	return views, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*View, error) {
	var cached View
	if s.cache.GetJSON(ctx, postKey(id), &cached) {
		return &cached, nil
	}

	gen := s.generation.Load()
	post, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	view := NewView(post)
	s.fill(ctx, gen, postKey(id), view)
	return view, nil
}

// Update replaces the editable fields of a post owned by callerID.
func (s *Service) Update(ctx context.Context, callerID, id uuid.UUID, in Input) (*View, error) {
	post, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.OwnerID != callerID {
		return nil, apperrors.Forbidden("you can only edit your own posts")
	}

	date, err := in.validate()
	if err != nil {
		return nil, err
	}
	in.apply(post, date)
	post.UpdatedAt = s.now().UTC()

	if err := s.store.Update(ctx, post); err != nil {
		if errors.Is(err, db.ErrPostNotFound) {
			return nil, apperrors.PostNotFound()
		}
		return nil, apperrors.DatabaseError("failed to update post").WithCause(err)
	}

	view := NewView(post)
	s.invalidate(ctx, id)
	s.publisher.Publish(Event{Type: EventUpdated, Post: view})
	return view, nil
}

// Delete removes a post owned by callerID and returns what was removed.
func (s *Service) Delete(ctx context.Context, callerID, id uuid.UUID) (*View, error) {
	post, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.OwnerID != callerID {
		return nil, apperrors.Forbidden("you can only delete your own posts")
	}

	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, db.ErrPostNotFound) {
			return nil, apperrors.PostNotFound()
		}
		return nil, apperrors.DatabaseError("failed to delete post").WithCause(err)
	}

	view := NewView(post)
	s.invalidate(ctx, id)
	s.publisher.Publish(Event{Type: EventDeleted, Post: view})
	s.log.Info(ctx, "post deleted", map[string]interface{}{"post_id": id.String()})
	return view, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*db.Post, error) {
	post, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrPostNotFound) {
			return nil, apperrors.PostNotFound()
		}
		return nil, apperrors.DatabaseError("failed to load post").WithCause(err)
	}
	return post, nil
}

func (s *Service) invalidate(ctx context.Context, id uuid.UUID) {
	s.generation.Add(1)
	_ = s.cache.Delete(ctx, feedKey, postKey(id))
}

// fill caches value unless a write invalidated the cache after gen was read.
func (s *Service) fill(ctx context.Context, gen uint64, key string, value any) {
	if s.generation.Load() != gen {
		s.log.Debug(ctx, "skipping stale cache fill", map[string]interface{}{"key": key})
		return
	}
	_ = s.cache.SetJSON(ctx, key, value, s.cacheTTL)
}
