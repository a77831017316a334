package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryUserRepository keeps users in process memory. It honours the same
// uniqueness and compare-and-swap rules as UserRepository.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[uuid.UUID]*User)}
}

func (r *MemoryUserRepository) Create(ctx context.Context, user *User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Email == user.Email {
			return ErrEmailExists
		}
		if u.UserName == user.UserName {
			return ErrUserNameExists
		}
	}

	stored := *user
	r.users[user.ID] = &stored
	return nil
}

func (r *MemoryUserRepository) ExistsByEmailOrUserName(ctx context.Context, email, userName string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.Email == email || u.UserName == userName {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.Email == email {
			found := *u
			return &found, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *MemoryUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	found := *u
	return &found, nil
}

func (r *MemoryUserRepository) SetRefreshToken(ctx context.Context, id uuid.UUID, hash string) error {
	return r.update(ctx, id, func(u *User) error {
		u.RefreshTokenHash = hash
		return nil
	})
}

func (r *MemoryUserRepository) SwapRefreshToken(ctx context.Context, id uuid.UUID, expected, next string) error {
	return r.update(ctx, id, func(u *User) error {
		if expected == "" || u.RefreshTokenHash != expected {
			return ErrRefreshTokenMismatch
		}
		u.RefreshTokenHash = next
		return nil
	})
}

func (r *MemoryUserRepository) ClearRefreshToken(ctx context.Context, id uuid.UUID) error {
	return r.update(ctx, id, func(u *User) error {
		u.RefreshTokenHash = ""
		return nil
	})
}

func (r *MemoryUserRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return r.update(ctx, id, func(u *User) error {
		u.PasswordHash = passwordHash
		u.RefreshTokenHash = ""
		return nil
	})
}

func (r *MemoryUserRepository) update(ctx context.Context, id uuid.UUID, fn func(u *User) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	if err := fn(u); err != nil {
		return err
	}
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryUserRepository) owner(id uuid.UUID) PostOwner {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owner := PostOwner{ID: id}
	if u, ok := r.users[id]; ok {
		owner.Name = u.Name
		owner.UserName = u.UserName
	}
	return owner
}

// MemoryPostRepository keeps posts in process memory, resolving owners
// against a MemoryUserRepository.
type MemoryPostRepository struct {
	mu    sync.RWMutex
	posts map[uuid.UUID]*Post
	users *MemoryUserRepository
}

func NewMemoryPostRepository(users *MemoryUserRepository) *MemoryPostRepository {
	return &MemoryPostRepository{
		posts: make(map[uuid.UUID]*Post),
		users: users,
	}
}

func (r *MemoryPostRepository) Create(ctx context.Context, post *Post) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := r.users.GetByID(ctx, post.OwnerID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.posts[post.ID] = clonePost(post)
	return nil
}

func (r *MemoryPostRepository) List(ctx context.Context) ([]*Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	posts := make([]*Post, 0, len(r.posts))
	for _, p := range r.posts {
		posts = append(posts, clonePost(p))
	}
	r.mu.RUnlock()

	sort.Slice(posts, func(i, j int) bool {
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
	for _, p := range posts {
		p.Owner = r.users.owner(p.OwnerID)
	}
	return posts, nil
}

func (r *MemoryPostRepository) GetByID(ctx context.Context, id uuid.UUID) (*Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	p, ok := r.posts[id]
	if ok {
		p = clonePost(p)
	}
	r.mu.RUnlock()

	if !ok {
		return nil, ErrPostNotFound
	}
	p.Owner = r.users.owner(p.OwnerID)
	return p, nil
}

func (r *MemoryPostRepository) Update(ctx context.Context, post *Post) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.posts[post.ID]
	if !ok {
		return ErrPostNotFound
	}
	updated := clonePost(post)
	updated.OwnerID = existing.OwnerID
	updated.CreatedAt = existing.CreatedAt
	r.posts[post.ID] = updated
	return nil
}

func (r *MemoryPostRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.posts[id]; !ok {
		return ErrPostNotFound
	}
	delete(r.posts, id)
	return nil
}

func clonePost(p *Post) *Post {
	c := *p
	c.TopicsCovered = append([]string(nil), p.TopicsCovered...)
	c.MaterialLinks = append([]string(nil), p.MaterialLinks...)
	return &c
}
