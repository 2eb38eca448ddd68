package book

import (
	"fmt"
	"regexp"
	"strings"
)

// DirectiveKind identifies an instruction recognized in assistant reply.
type DirectiveKind int

const (
	DirectiveImagePrompt DirectiveKind = iota
	DirectivePageText
	DirectiveStoryFinished
)

func (k DirectiveKind) String() string {
	switch k {
	case DirectiveImagePrompt:
		return "image-prompt"
	case DirectivePageText:
		return "page-text"
	case DirectiveStoryFinished:
		return "story-finished"
	default:
		return fmt.Sprintf("DirectiveKind(%d)", int(k))
	}
}

// Directive is a single structured instruction extracted from model output.
// Payload is empty for DirectiveStoryFinished.
type Directive struct {
	Kind    DirectiveKind
	Payload string
}

// Directives is everything recognized in a single reply. Every marker kind
// is considered at most once.
type Directives struct {
	ImagePrompt *string
	PageText    *string
	Finished    bool
}

var (
	reImagePrompt = regexp.MustCompile(`(?s)\[NANO_BANANA_PROMPT:\s*(.*?)\]`)
	rePageText    = regexp.MustCompile(`(?s)\[BOOK_PAGE_TEXT:\s*(.*?)\]`)
	reFinished    = regexp.MustCompile(`\[STORY_FINISHED\]`)
)

// ParseDirectives scans reply for known markers. Unterminated markers are
// ignored, only the first occurrence of each kind is used.
func ParseDirectives(reply string) Directives {
	var d Directives
	if m := reImagePrompt.FindStringSubmatch(reply); m != nil {
		p := strings.TrimSpace(m[1])
		d.ImagePrompt = &p
	}
	if m := rePageText.FindStringSubmatch(reply); m != nil {
		p := strings.TrimSpace(m[1])
		d.PageText = &p
	}
	d.Finished = reFinished.MatchString(reply)
	return d
}

// Empty is true when there is nothing to apply to the pages.
func (d Directives) Empty() bool {
	return d.ImagePrompt == nil && d.PageText == nil
}

// List returns directives in stable order: image prompt, page text, finished.
func (d Directives) List() []Directive {
	var out []Directive
	if d.ImagePrompt != nil {
		out = append(out, Directive{Kind: DirectiveImagePrompt, Payload: *d.ImagePrompt})
	}
	if d.PageText != nil {
		out = append(out, Directive{Kind: DirectivePageText, Payload: *d.PageText})
	}
	if d.Finished {
		out = append(out, Directive{Kind: DirectiveStoryFinished})
	}
	return out
}

var reAnyMarker = regexp.MustCompile(`(?s)\[(?:NANO_BANANA_PROMPT|BOOK_PAGE_TEXT):.*?\]|\[STORY_FINISHED\]`)

// Visible removes markers from reply leaving text meant for the reader.
func Visible(reply string) string {
	return strings.TrimSpace(reAnyMarker.ReplaceAllString(reply, ""))
}
