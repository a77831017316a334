package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const postSelect = `
	SELECT p.id, p.owner_id, u.name, u.user_name, p.company_name, p.job_title,
	       p.topics_covered, p.interview_type, p.round_details, p.interview_date,
	       p.tips, p.material_links, p.difficulty_level, p.results,
	       p.created_at, p.updated_at
	FROM posts p
	JOIN users u ON u.id = p.owner_id
`

type PostRepository struct {
	db *DB
}

func NewPostRepository(db *DB) *PostRepository {
	return &PostRepository{db: db}
}

func (r *PostRepository) Create(ctx context.Context, post *Post) error {
	query := `
		INSERT INTO posts (id, owner_id, company_name, job_title, topics_covered, interview_type,
		                   round_details, interview_date, tips, material_links, difficulty_level,
		                   results, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.db.ExecContext(ctx, query,
		post.ID, post.OwnerID, post.CompanyName, post.JobTitle, pq.Array(post.TopicsCovered),
		post.InterviewType, post.RoundDetails, post.Date, post.Tips, pq.Array(post.MaterialLinks),
		post.DifficultyLevel, post.Results, post.CreatedAt, post.UpdatedAt,
	)
	return err
}

// List returns every post, newest first.
func (r *PostRepository) List(ctx context.Context) ([]*Post, error) {
	rows, err := r.db.QueryContext(ctx, postSelect+` ORDER BY p.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := []*Post{}
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}

	return posts, rows.Err()
}

func (r *PostRepository) GetByID(ctx context.Context, id uuid.UUID) (*Post, error) {
	post, err := scanPost(r.db.QueryRowContext(ctx, postSelect+` WHERE p.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}
	return post, nil
}

// Update overwrites the editable fields of a post.
func (r *PostRepository) Update(ctx context.Context, post *Post) error {
	query := `
		UPDATE posts
		SET company_name = $2, job_title = $3, topics_covered = $4, interview_type = $5,
		    round_details = $6, interview_date = $7, tips = $8, material_links = $9,
		    difficulty_level = $10, results = $11, updated_at = $12
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		post.ID, post.CompanyName, post.JobTitle, pq.Array(post.TopicsCovered), post.InterviewType,
		post.RoundDetails, post.Date, post.Tips, pq.Array(post.MaterialLinks),
		post.DifficultyLevel, post.Results, post.UpdatedAt,
	)
	if err != nil {
		return err
	}

	return requireRow(result, ErrPostNotFound)
}

func (r *PostRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return err
	}

	return requireRow(result, ErrPostNotFound)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*Post, error) {
	post := &Post{}
	err := row.Scan(
		&post.ID, &post.OwnerID, &post.Owner.Name, &post.Owner.UserName,
		&post.CompanyName, &post.JobTitle, pq.Array(&post.TopicsCovered), &post.InterviewType,
		&post.RoundDetails, &post.Date, &post.Tips, pq.Array(&post.MaterialLinks),
		&post.DifficultyLevel, &post.Results, &post.CreatedAt, &post.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	post.Owner.ID = post.OwnerID
	return post, nil
}

func requireRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
