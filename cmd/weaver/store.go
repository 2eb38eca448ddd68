package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"weaver/book"
	"weaver/config"
	"weaver/store"
	"weaver/store/postgres"
	"weaver/store/sqlite"
)

// openStore selects story store backend.
func openStore(ctx context.Context, cfg *config.StoreConfig, log *zap.Logger) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		st, err := postgres.Open(ctx, cfg.Postgres.URL.Value(), log)
		if err != nil {
			return nil, fmt.Errorf("unable to open postgres store: %w", err)
		}
		return st, nil
	case "sqlite":
		st, err := sqlite.Open(cfg.SQLite.Path, log)
		if err != nil {
			return nil, fmt.Errorf("unable to open sqlite store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

// bookPages lays stored pages out by index. Indexes never written become
// holes.
func bookPages(st *store.Story) []book.Page {
	size := 0
	for _, p := range st.Pages {
		size = max(size, p.Index+1)
	}
	pages := make([]book.Page, size)
	for _, p := range st.Pages {
		pages[p.Index] = book.Page{Image: p.Image, Text: p.Text}
	}
	return pages
}

// saveBook writes pages into st as a new story, holes are skipped.
func saveBook(ctx context.Context, st store.Store, title string, pages []book.Page) (string, error) {
	id, err := st.CreateStory(ctx, title)
	if err != nil {
		return "", fmt.Errorf("unable to create story: %w", err)
	}
	for i, p := range pages {
		if p.Empty() {
			continue
		}
		if err := st.AppendPage(ctx, id, store.Page{Index: i, Image: p.Image, Text: p.Text}); err != nil {
			return "", fmt.Errorf("unable to save page %d: %w", i, err)
		}
	}
	return id, nil
}
