// Package store defines durable storage for finished books.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"weaver/media"
)

// DefaultTitle is used for stories created without a title.
const DefaultTitle = "Untitled Story"

var (
	ErrStoryNotFound = errors.New("story not found")
	ErrPageExists    = errors.New("page already stored")
)

// Page is a stored book page. Either field may be absent.
type Page struct {
	Index int
	Image *media.Media
	Text  *string
}

// Story is a stored book with pages ordered by index.
type Story struct {
	ID        string
	Title     string
	CreatedAt time.Time
	Pages     []Page
}

// Summary describes stored story without its pages.
type Summary struct {
	ID        string
	Title     string
	CreatedAt time.Time
	Pages     int
}

// Store keeps stories. Pages are write-once per index, there are no update
// or delete operations.
type Store interface {
	CreateStory(ctx context.Context, title string) (string, error)
	AppendPage(ctx context.Context, storyID string, page Page) error
	FetchStory(ctx context.Context, id string) (*Story, error)
	ListStories(ctx context.Context) ([]Summary, error)
	Close() error
}

// Title returns trimmed title or DefaultTitle when nothing is left.
func Title(title string) string {
	if t := strings.TrimSpace(title); len(t) > 0 {
		return t
	}
	return DefaultTitle
}

// EncodeImage returns column value for page image, nil when there is none.
func EncodeImage(m *media.Media) any {
	if m == nil || len(m.Data) == 0 {
		return nil
	}
	return m.DataURL()
}

// DecodeImage is reverse of EncodeImage.
func DecodeImage(s string) (*media.Media, error) {
	if len(s) == 0 {
		return nil, nil
	}
	return media.ParseDataURL(s)
}

// EncodeText returns column value for page text, nil when there is none.
func EncodeText(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
