package book

import (
	"weaver/media"
)

// Page is a single book page. Position in the sequence is its identity, page
// 0 is the cover. Both fields are optional and are updated independently.
type Page struct {
	Image *media.Media
	Text  *string
}

// Empty is true for holes - pages which were never targeted directly.
func (p Page) Empty() bool {
	return p.Image == nil && p.Text == nil
}

// PagePatch is partial page update, nil fields are left untouched.
type PagePatch struct {
	Image *media.Media
	Text  *string
}

func (p PagePatch) empty() bool {
	return p.Image == nil && p.Text == nil
}

// MergePage returns old with non nil fields of patch applied.
func MergePage(old Page, patch PagePatch) Page {
	if patch.Image != nil {
		old.Image = patch.Image
	}
	if patch.Text != nil {
		old.Text = patch.Text
	}
	return old
}

// Book is the mutable page sequence with navigation cursor. It is not safe
// for concurrent use, Session serializes access to it.
type Book struct {
	pages    []Page
	cursor   int
	finished bool
}

// Len returns number of pages including holes.
func (b *Book) Len() int {
	return len(b.pages)
}

// Effective turns target into concrete page index. Unresolved targets
// continue the most recently started page.
func (b *Book) Effective(t Target) int {
	if t.Resolved {
		return t.Index
	}
	return max(0, len(b.pages)-1)
}

// Apply merges patch into page at index growing sequence with empty pages as
// necessary. Sequence never shrinks. Empty patch still claims the position.
func (b *Book) Apply(index int, patch PagePatch) {
	if index < 0 {
		return
	}
	for len(b.pages) <= index {
		b.pages = append(b.pages, Page{})
	}
	if patch.empty() {
		return
	}
	b.pages[index] = MergePage(b.pages[index], patch)
}

// Advance moves cursor following directive driven navigation, positional
// fallbacks do not move it.
func (b *Book) Advance(t Target) {
	if t.Resolved {
		b.cursor = t.Index
	}
}

func (b *Book) Cursor() int {
	return b.cursor
}

// SetCursor performs user navigation, index is clamped to existing pages.
func (b *Book) SetCursor(index int) {
	if len(b.pages) == 0 {
		return
	}
	b.cursor = min(max(index, 0), len(b.pages)-1)
}

// MarkFinished is irreversible.
func (b *Book) MarkFinished() {
	b.finished = true
}

func (b *Book) Finished() bool {
	return b.finished
}

// Pages returns copy of the page sequence. Media and strings are shared, they
// are never modified in place.
func (b *Book) Pages() []Page {
	out := make([]Page, len(b.pages))
	copy(out, b.pages)
	return out
}
