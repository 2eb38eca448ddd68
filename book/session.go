package book

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"weaver/media"
)

const (
	DefaultOpeningMessage = "Hello, please start."
	DefaultApologyMessage = "I'm sorry, I encountered an error. Please try again."
	DefaultImageTimeout   = 2 * time.Minute
	DefaultMaxPages       = 200
)

var (
	ErrNotFinished = errors.New("story is not finished yet")
	ErrStarted     = errors.New("session already started")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is a single immutable entry of the dialogue.
type ConversationTurn struct {
	Role Role
	Text string
}

// Conversation is the chat model. History does not include text being sent.
type Conversation interface {
	Send(ctx context.Context, history []ConversationTurn, text string) (string, error)
}

// ImageSynthesizer turns prompt into image. Nil media without error means no
// result.
type ImageSynthesizer interface {
	SynthesizeImage(ctx context.Context, prompt string) (*media.Media, error)
}

// SpeechSynthesizer turns page text into audio.
type SpeechSynthesizer interface {
	SynthesizeSpeech(ctx context.Context, text string) (*media.Media, error)
}

// State of the turn processing.
type State int

const (
	StateIdle State = iota
	StateAwaitingModelReply
	StateReconciling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingModelReply:
		return "awaiting-model-reply"
	case StateReconciling:
		return "reconciling"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Snapshot is a consistent copy of session state.
type Snapshot struct {
	Pages      []Page
	Cursor     int
	Finished   bool
	Generating bool
}

type Option func(*Session)

func WithLogger(log *zap.Logger) Option {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithImageTimeout bounds every image synthesis call, zero disables the limit.
func WithImageTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.imageTimeout = d
	}
}

func WithOpeningMessage(text string) Option {
	return func(s *Session) {
		if len(text) > 0 {
			s.opening = text
		}
	}
}

func WithApologyMessage(text string) Option {
	return func(s *Session) {
		if len(text) > 0 {
			s.apology = text
		}
	}
}

// WithMaxPages limits how far model directives may grow the book. Replies
// targeting pages past the limit are ignored.
func WithMaxPages(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxPages = n
		}
	}
}

// WithObserver registers callback invoked after every state change. It may be
// called from background goroutine finishing image synthesis.
func WithObserver(fn func(Snapshot)) Option {
	return func(s *Session) {
		s.observer = fn
	}
}

type entry struct {
	turn   ConversationTurn
	hidden bool
	// failed turns, never sent to the model again
	local bool
}

// Session drives the dialogue and owns the book being built. Directives of
// every turn are applied strictly in order of submission.
type Session struct {
	conv   Conversation
	images ImageSynthesizer
	log    *zap.Logger

	opening      string
	apology      string
	imageTimeout time.Duration
	maxPages     int
	observer     func(Snapshot)

	mu      sync.Mutex
	book    Book
	entries []entry
	state   State
	started bool
	pending int
	// closed when the most recently submitted turn is completely applied
	tail chan struct{}
}

func NewSession(conv Conversation, images ImageSynthesizer, opts ...Option) *Session {
	s := &Session{
		conv:         conv,
		images:       images,
		log:          zap.NewNop(),
		opening:      DefaultOpeningMessage,
		apology:      DefaultApologyMessage,
		imageTimeout: DefaultImageTimeout,
		maxPages:     DefaultMaxPages,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("session")
	return s
}

// Start sends opening message to elicit introduction. Opening message itself
// is not a part of visible transcript.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrStarted
	}
	s.started = true
	s.mu.Unlock()

	return s.submit(ctx, s.opening, true)
}

// SubmitUserMessage performs one full turn. Returned error is informational,
// the apology is already in transcript and book is unchanged. Calls must not
// overlap: the next turn is submitted after the previous call returned, image
// synthesis of earlier turns may still be running.
func (s *Session) SubmitUserMessage(ctx context.Context, text string) error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	return s.submit(ctx, text, false)
}

func (s *Session) submit(ctx context.Context, text string, hidden bool) error {
	s.mu.Lock()
	history := s.history()
	at := len(s.entries)
	s.entries = append(s.entries, entry{turn: ConversationTurn{Role: RoleUser, Text: text}, hidden: hidden})
	s.state = StateAwaitingModelReply

	prev := s.tail
	done := make(chan struct{})
	s.tail = done
	s.mu.Unlock()

	s.log.Debug("Sending turn", zap.Int("history", len(history)), zap.Bool("synthetic", hidden), zap.String("text", text))
	s.notify()

	reply, err := s.conv.Send(ctx, history, text)

	// previous turn may still be waiting for its image
	waited := prev == nil
	if !waited {
		select {
		case <-prev:
			waited = true
		case <-ctx.Done():
			if err == nil {
				err = ctx.Err()
			}
		}
	}

	if err != nil {
		s.mu.Lock()
		s.entries[at].local = true
		s.entries = append(s.entries, entry{turn: ConversationTurn{Role: RoleAssistant, Text: s.apology}, local: true})
		s.state = StateIdle
		s.mu.Unlock()

		if waited {
			close(done)
		} else {
			// keep turns ordered for whoever waits on this one
			go func() {
				<-prev
				close(done)
			}()
		}
		s.notify()
		return fmt.Errorf("unable to get model reply: %w", err)
	}

	s.log.Debug("Model reply", zap.String("text", reply))

	prompt, index := s.reconcile(reply)
	s.notify()

	if prompt == nil {
		close(done)
		return nil
	}
	go s.generate(context.WithoutCancel(ctx), *prompt, index, done)
	return nil
}

// reconcile records reply and applies its directives. When image should be
// generated returns prompt and page index bound at this moment.
func (s *Session) reconcile(reply string) (*string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry{turn: ConversationTurn{Role: RoleAssistant, Text: reply}})
	s.state = StateReconciling
	defer func() { s.state = StateIdle }()

	d := ParseDirectives(reply)
	for _, dir := range d.List() {
		switch dir.Kind {
		case DirectiveStoryFinished:
			if !s.book.Finished() {
				s.log.Info("Story finished")
			}
			s.book.MarkFinished()
		case DirectiveImagePrompt, DirectivePageText:
			// applied below, to the same target
		}
	}
	if d.Empty() {
		return nil, 0
	}

	t := ResolveTarget(reply, d, s.book.Cursor())
	index := s.book.Effective(t)
	if index >= s.maxPages {
		s.log.Warn("Reply targets page past the limit, directives ignored", zap.Int("index", index), zap.Int("max", s.maxPages))
		return nil, 0
	}

	s.book.Apply(index, PagePatch{Text: d.PageText})
	s.book.Advance(t)

	s.log.Debug("Directives applied",
		zap.Int("index", index),
		zap.Bool("resolved", t.Resolved),
		zap.Bool("text", d.PageText != nil),
		zap.Bool("image", d.ImagePrompt != nil),
		zap.Int("cursor", s.book.Cursor()),
		zap.Int("pages", s.book.Len()))

	if d.ImagePrompt == nil {
		return nil, 0
	}
	s.pending++
	return d.ImagePrompt, index
}

func (s *Session) generate(ctx context.Context, prompt string, index int, done chan struct{}) {
	defer close(done)

	if s.imageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.imageTimeout)
		defer cancel()
	}

	start := time.Now()
	img, err := s.images.SynthesizeImage(ctx, prompt)

	s.mu.Lock()
	s.pending--
	switch {
	case err != nil:
		s.log.Warn("Image generation failed, page left unchanged", zap.Int("index", index), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
	case img == nil:
		s.log.Warn("Image generation produced nothing, page left unchanged", zap.Int("index", index))
	default:
		s.book.Apply(index, PagePatch{Image: img})
		s.log.Debug("Image applied", zap.Int("index", index), zap.String("type", img.MimeType), zap.Int("size", len(img.Data)), zap.Duration("elapsed", time.Since(start)))
	}
	s.mu.Unlock()

	s.notify()
}

// history returns what conversation collaborator sees, including synthetic
// turns. Failed turns and apologies are display only.
func (s *Session) history() []ConversationTurn {
	out := make([]ConversationTurn, 0, len(s.entries))
	for _, e := range s.entries {
		if !e.local {
			out = append(out, e.turn)
		}
	}
	return out
}

func (s *Session) notify() {
	if s.observer == nil {
		return
	}
	s.observer(s.Snapshot())
}

// Wait blocks until every submitted turn, including image synthesis, is applied.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	tail := s.tail
	s.mu.Unlock()

	if tail == nil {
		return nil
	}
	select {
	case <-tail:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Transcript returns visible dialogue.
func (s *Session) Transcript() []ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ConversationTurn, 0, len(s.entries))
	for _, e := range s.entries {
		if !e.hidden {
			out = append(out, e.turn)
		}
	}
	return out
}

func (s *Session) Pages() []Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book.Pages()
}

func (s *Session) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book.Cursor()
}

// SetCursor is user navigation, independent of directive driven moves.
func (s *Session) SetCursor(index int) {
	s.mu.Lock()
	s.book.SetCursor(index)
	s.mu.Unlock()
	s.notify()
}

func (s *Session) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book.Finished()
}

// Generating reports whether image synthesis is in flight.
func (s *Session) Generating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending > 0
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Pages:      s.book.Pages(),
		Cursor:     s.book.Cursor(),
		Finished:   s.book.Finished(),
		Generating: s.pending > 0,
	}
}

// FinishedPages returns pages for publishing, only complete story could be
// shared.
func (s *Session) FinishedPages() ([]Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.book.Finished() {
		return nil, ErrNotFinished
	}
	return s.book.Pages(), nil
}
