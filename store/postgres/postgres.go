// Package postgres implements story store over PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"weaver/store"
)

const (
	codeForeignKey = "23503"
	codeUnique     = "23505"
)

// Store keeps stories in weaver_* tables.
type Store struct {
	db  *pgxpool.Pool
	log *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to database and creates schema if necessary.
func Open(ctx context.Context, url string, log *zap.Logger) (*Store, error) {
	db, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	s := &Store{db: db, log: log.Named("store").With(zap.String("driver", "postgres"))}
	if err := s.CreateSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// CreateSchema creates tables if they do not exist.
func (s *Store) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS weaver_stories (
			id         UUID PRIMARY KEY,
			title      TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS weaver_pages (
			id         BIGSERIAL PRIMARY KEY,
			story_id   UUID NOT NULL REFERENCES weaver_stories(id) ON DELETE CASCADE,
			page_index INTEGER NOT NULL,
			image      TEXT,
			text       TEXT,
			UNIQUE (story_id, page_index)
		);
	`)
	if err != nil {
		return fmt.Errorf("unable to create schema: %w", err)
	}
	return nil
}

// DropSchema drops all weaver tables.
func (s *Store) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		DROP TABLE IF EXISTS weaver_pages CASCADE;
		DROP TABLE IF EXISTS weaver_stories CASCADE;
	`)
	return err
}

func (s *Store) CreateStory(ctx context.Context, title string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("unable to create story id: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO weaver_stories (id, title) VALUES ($1, $2)`,
		id, store.Title(title),
	)
	if err != nil {
		return "", fmt.Errorf("unable to create story: %w", err)
	}
	s.log.Debug("Story created", zap.Stringer("id", id))
	return id.String(), nil
}

func (s *Store) AppendPage(ctx context.Context, storyID string, page store.Page) error {
	id, err := uuid.Parse(storyID)
	if err != nil {
		return store.ErrStoryNotFound
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO weaver_pages (story_id, page_index, image, text) VALUES ($1, $2, $3, $4)`,
		id, page.Index, store.EncodeImage(page.Image), store.EncodeText(page.Text),
	)
	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &pgErr) && pgErr.Code == codeForeignKey:
		return store.ErrStoryNotFound
	case errors.As(err, &pgErr) && pgErr.Code == codeUnique:
		return fmt.Errorf("page %d: %w", page.Index, store.ErrPageExists)
	default:
		return fmt.Errorf("unable to append page: %w", err)
	}
}

func (s *Store) FetchStory(ctx context.Context, storyID string) (*store.Story, error) {
	id, err := uuid.Parse(storyID)
	if err != nil {
		return nil, store.ErrStoryNotFound
	}

	story := &store.Story{ID: id.String()}
	err = s.db.QueryRow(ctx,
		`SELECT title, created_at FROM weaver_stories WHERE id = $1`,
		id,
	).Scan(&story.Title, &story.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrStoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unable to fetch story: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT page_index, image, text FROM weaver_pages WHERE story_id = $1 ORDER BY page_index ASC`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch pages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			page  store.Page
			image *string
		)
		if err := rows.Scan(&page.Index, &image, &page.Text); err != nil {
			return nil, fmt.Errorf("unable to scan page: %w", err)
		}
		if image != nil {
			if page.Image, err = store.DecodeImage(*image); err != nil {
				return nil, fmt.Errorf("page %d: %w", page.Index, err)
			}
		}
		story.Pages = append(story.Pages, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("unable to fetch pages: %w", err)
	}
	return story, nil
}

func (s *Store) ListStories(ctx context.Context) ([]store.Summary, error) {
	rows, err := s.db.Query(ctx, `
		SELECT s.id::text, s.title, s.created_at, COUNT(p.id)
		FROM weaver_stories s LEFT JOIN weaver_pages p ON p.story_id = s.id
		GROUP BY s.id ORDER BY s.id`)
	if err != nil {
		return nil, fmt.Errorf("unable to list stories: %w", err)
	}
	defer rows.Close()

	var list []store.Summary
	for rows.Next() {
		var sum store.Summary
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.CreatedAt, &sum.Pages); err != nil {
			return nil, fmt.Errorf("unable to scan story: %w", err)
		}
		list = append(list, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("unable to list stories: %w", err)
	}
	return list, nil
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}
