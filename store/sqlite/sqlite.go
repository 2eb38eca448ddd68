// Package sqlite implements story store over embedded SQLite database.
package sqlite

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"weaver/store"
)

// Memory opens private in-memory database.
const Memory = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS stories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS pages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	story_id INTEGER,
	page_index INTEGER,
	image TEXT,
	text TEXT,
	FOREIGN KEY(story_id) REFERENCES stories(id)
);
CREATE UNIQUE INDEX IF NOT EXISTS pages_story_page ON pages(story_id, page_index);
`

// CURRENT_TIMESTAMP format
const timestampLayout = "2006-01-02 15:04:05"

// Store keeps stories in a single connection guarded by mutex.
type Store struct {
	mu   sync.Mutex
	conn *sqlite.Conn
	log  *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if necessary) database at path and prepares schema.
func Open(path string, log *zap.Logger) (*Store, error) {
	flags := []sqlite.OpenFlags{sqlite.OpenReadWrite, sqlite.OpenCreate, sqlite.OpenWAL}
	if path == Memory {
		flags = []sqlite.OpenFlags{sqlite.OpenReadWrite, sqlite.OpenMemory}
	}
	conn, err := sqlite.OpenConn(path, flags...)
	if err != nil {
		return nil, fmt.Errorf("unable to open database %s: %w", path, err)
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to prepare schema: %w", err)
	}
	s := &Store{conn: conn, log: log.Named("store").With(zap.String("driver", "sqlite"))}
	s.log.Debug("Database opened", zap.String("path", path))
	return s, nil
}

// lock serializes access to connection and makes ctx interrupt running
// statements.
func (s *Store) lock(ctx context.Context) func() {
	s.mu.Lock()
	s.conn.SetInterrupt(ctx.Done())
	return func() {
		s.conn.SetInterrupt(nil)
		s.mu.Unlock()
	}
}

func (s *Store) CreateStory(ctx context.Context, title string) (string, error) {
	defer s.lock(ctx)()

	err := sqlitex.Execute(s.conn, `INSERT INTO stories (title) VALUES (?)`,
		&sqlitex.ExecOptions{Args: []any{store.Title(title)}})
	if err != nil {
		return "", fmt.Errorf("unable to create story: %w", err)
	}
	id := strconv.FormatInt(s.conn.LastInsertRowID(), 10)
	s.log.Debug("Story created", zap.String("id", id))
	return id, nil
}

func (s *Store) exists(id int64) (bool, error) {
	found := false
	err := sqlitex.Execute(s.conn, `SELECT 1 FROM stories WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(*sqlite.Stmt) error {
				found = true
				return nil
			}})
	return found, err
}

func (s *Store) AppendPage(ctx context.Context, storyID string, page store.Page) (err error) {
	id, err := strconv.ParseInt(storyID, 10, 64)
	if err != nil {
		return store.ErrStoryNotFound
	}

	defer s.lock(ctx)()
	defer sqlitex.Save(s.conn)(&err)

	found, err := s.exists(id)
	if err != nil {
		return fmt.Errorf("unable to append page: %w", err)
	}
	if !found {
		return store.ErrStoryNotFound
	}

	stored := false
	err = sqlitex.Execute(s.conn, `SELECT 1 FROM pages WHERE story_id = ? AND page_index = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id, page.Index},
			ResultFunc: func(*sqlite.Stmt) error {
				stored = true
				return nil
			}})
	if err != nil {
		return fmt.Errorf("unable to append page: %w", err)
	}
	if stored {
		return fmt.Errorf("page %d: %w", page.Index, store.ErrPageExists)
	}

	err = sqlitex.Execute(s.conn, `INSERT INTO pages (story_id, page_index, image, text) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{id, page.Index, store.EncodeImage(page.Image), store.EncodeText(page.Text)}})
	if err != nil {
		return fmt.Errorf("unable to append page: %w", err)
	}
	return nil
}

func (s *Store) FetchStory(ctx context.Context, storyID string) (*store.Story, error) {
	id, err := strconv.ParseInt(storyID, 10, 64)
	if err != nil {
		return nil, store.ErrStoryNotFound
	}

	defer s.lock(ctx)()

	var story *store.Story
	err = sqlitex.Execute(s.conn, `SELECT id, title, created_at FROM stories WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				story = &store.Story{
					ID:        strconv.FormatInt(stmt.ColumnInt64(0), 10),
					Title:     stmt.ColumnText(1),
					CreatedAt: parseTimestamp(stmt.ColumnText(2)),
				}
				return nil
			}})
	if err != nil {
		return nil, fmt.Errorf("unable to fetch story: %w", err)
	}
	if story == nil {
		return nil, store.ErrStoryNotFound
	}

	err = sqlitex.Execute(s.conn, `SELECT page_index, image, text FROM pages WHERE story_id = ? ORDER BY page_index, id`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				page := store.Page{Index: int(stmt.ColumnInt64(0))}
				if stmt.ColumnType(1) != sqlite.TypeNull {
					img, err := store.DecodeImage(stmt.ColumnText(1))
					if err != nil {
						return fmt.Errorf("page %d: %w", page.Index, err)
					}
					page.Image = img
				}
				if stmt.ColumnType(2) != sqlite.TypeNull {
					text := stmt.ColumnText(2)
					page.Text = &text
				}
				story.Pages = append(story.Pages, page)
				return nil
			}})
	if err != nil {
		return nil, fmt.Errorf("unable to fetch pages: %w", err)
	}
	return story, nil
}

func (s *Store) ListStories(ctx context.Context) ([]store.Summary, error) {
	defer s.lock(ctx)()

	var list []store.Summary
	err := sqlitex.Execute(s.conn, `
		SELECT s.id, s.title, s.created_at, COUNT(p.id)
		FROM stories s LEFT JOIN pages p ON p.story_id = s.id
		GROUP BY s.id ORDER BY s.id`,
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			list = append(list, store.Summary{
				ID:        strconv.FormatInt(stmt.ColumnInt64(0), 10),
				Title:     stmt.ColumnText(1),
				CreatedAt: parseTimestamp(stmt.ColumnText(2)),
				Pages:     int(stmt.ColumnInt64(3)),
			})
			return nil
		}})
	if err != nil {
		return nil, fmt.Errorf("unable to list stories: %w", err)
	}
	return list, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

func parseTimestamp(v string) time.Time {
	t, err := time.ParseInLocation(timestampLayout, v, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}
