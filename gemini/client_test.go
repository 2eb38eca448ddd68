package gemini

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"

	"weaver/book"
	"weaver/config"
	"weaver/media"
)

type generateCall struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

type fakeModels struct {
	mu    sync.Mutex
	calls []generateCall
	resp  func(call generateCall) (*genai.GenerateContentResponse, error)
}

func (f *fakeModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	call := generateCall{model: model, contents: contents, config: cfg}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	return f.resp(call)
}

func (f *fakeModels) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func respond(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Role: "model", Parts: parts}}},
	}
}

func testConfig() config.GeminiConfig {
	return config.GeminiConfig{
		ChatModel:     "chat",
		ImageModel:    "image",
		SpeechModel:   "speech",
		Voice:         "Puck",
		AspectRatio:   "1:1",
		ImageCacheTTL: time.Minute,
	}
}

func newTestClient(t *testing.T, f *fakeModels) *Client {
	t.Helper()
	return newClient(f, testConfig(), "be Weaver", zaptest.NewLogger(t, zaptest.WrapOptions(zap.AddCaller(), zap.AddCallerSkip(1))))
}

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 'I', 'H', 'D', 'R'}

func TestSend(t *testing.T) {
	f := &fakeModels{resp: func(generateCall) (*genai.GenerateContentResponse, error) {
		return respond(&genai.Part{Text: "Hello! I am Weaver."}), nil
	}}
	c := newTestClient(t, f)

	history := []book.ConversationTurn{
		{Role: book.RoleUser, Text: "Hello, please start."},
		{Role: book.RoleAssistant, Text: "What is the title?"},
	}
	reply, err := c.Send(context.Background(), history, "The Brave Fox")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if reply != "Hello! I am Weaver." {
		t.Errorf("reply = %q", reply)
	}

	call := f.calls[0]
	if call.model != "chat" {
		t.Errorf("model = %q, want chat", call.model)
	}
	if len(call.contents) != 3 {
		t.Fatalf("contents = %d, want 3", len(call.contents))
	}
	wantRoles := []string{"user", "model", "user"}
	for i, c := range call.contents {
		if c.Role != wantRoles[i] {
			t.Errorf("content %d role = %q, want %q", i, c.Role, wantRoles[i])
		}
	}
	if call.contents[2].Parts[0].Text != "The Brave Fox" {
		t.Errorf("last content = %q", call.contents[2].Parts[0].Text)
	}
	if si := call.config.SystemInstruction; si == nil || si.Parts[0].Text != "be Weaver" {
		t.Error("system instruction not passed")
	}
}

func TestSend_Errors(t *testing.T) {
	boom := errors.New("unavailable")
	tests := []struct {
		name string
		resp *genai.GenerateContentResponse
		err  error
		want error
	}{
		{"transport", nil, boom, boom},
		{"empty", respond(&genai.Part{Text: "  "}), nil, ErrEmptyReply},
		{"no candidates", &genai.GenerateContentResponse{}, nil, ErrEmptyReply},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeModels{resp: func(generateCall) (*genai.GenerateContentResponse, error) { return tt.resp, tt.err }}
			_, err := newTestClient(t, f).Send(context.Background(), nil, "hi")
			if !errors.Is(err, tt.want) {
				t.Errorf("Send() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSynthesizeImage(t *testing.T) {
	f := &fakeModels{resp: func(generateCall) (*genai.GenerateContentResponse, error) {
		return respond(
			&genai.Part{Text: "here you go"},
			&genai.Part{InlineData: &genai.Blob{Data: pngHeader, MIMEType: "image/png"}},
		), nil
	}}
	c := newTestClient(t, f)

	m, err := c.SynthesizeImage(context.Background(), "a fox in the forest")
	if err != nil {
		t.Fatalf("SynthesizeImage() error = %v", err)
	}
	if m == nil || m.MimeType != "image/png" {
		t.Fatalf("media = %+v", m)
	}
	call := f.calls[0]
	if call.model != "image" || call.config.ImageConfig == nil || call.config.ImageConfig.AspectRatio != "1:1" {
		t.Errorf("unexpected request: model=%q config=%+v", call.model, call.config.ImageConfig)
	}

	// cached
	again, err := c.SynthesizeImage(context.Background(), "a fox in the forest")
	if err != nil {
		t.Fatalf("SynthesizeImage() error = %v", err)
	}
	if again != m || f.count() != 1 {
		t.Errorf("repeated prompt was not served from cache, calls = %d", f.count())
	}
}

func TestSynthesizeImage_NoImage(t *testing.T) {
	f := &fakeModels{resp: func(generateCall) (*genai.GenerateContentResponse, error) {
		return respond(&genai.Part{Text: "I cannot draw that"}), nil
	}}
	c := newTestClient(t, f)

	for range 2 {
		m, err := c.SynthesizeImage(context.Background(), "prompt")
		if err != nil || m != nil {
			t.Fatalf("SynthesizeImage() = %v, %v, want nil, nil", m, err)
		}
	}
	// empty results are not cached
	if f.count() != 2 {
		t.Errorf("calls = %d, want 2", f.count())
	}
}

func TestSynthesizeImage_Concurrent(t *testing.T) {
	var inflight atomic.Int32
	release := make(chan struct{})
	f := &fakeModels{resp: func(generateCall) (*genai.GenerateContentResponse, error) {
		inflight.Add(1)
		<-release
		return respond(&genai.Part{InlineData: &genai.Blob{Data: pngHeader}}), nil
	}}
	c := newTestClient(t, f)

	const n = 4
	var wg sync.WaitGroup
	results := make([]*media.Media, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.SynthesizeImage(context.Background(), "same prompt")
		}()
	}
	// let goroutines pile up behind single request
	deadline := time.After(5 * time.Second)
	for inflight.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("request never started")
		case <-time.After(time.Millisecond):
		}
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range n {
		if errs[i] != nil || results[i] == nil {
			t.Fatalf("result %d = %v, %v", i, results[i], errs[i])
		}
		if results[i].MimeType != "image/png" {
			t.Errorf("sniffed mime = %q", results[i].MimeType)
		}
	}
	if got := f.count(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestSynthesizeImage_CanceledCaller(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	f := &fakeModels{resp: func(call generateCall) (*genai.GenerateContentResponse, error) {
		close(started)
		<-release
		return respond(&genai.Part{InlineData: &genai.Blob{Data: pngHeader}}), nil
	}}
	c := newTestClient(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.SynthesizeImage(ctx, "shared prompt")
		first <- err
	}()
	<-started

	second := make(chan *media.Media, 1)
	go func() {
		m, err := c.SynthesizeImage(context.Background(), "shared prompt")
		if err != nil {
			t.Errorf("second caller error = %v", err)
		}
		second <- m
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Errorf("first caller error = %v, want context.Canceled", err)
	}
	close(release)

	select {
	case m := <-second:
		if m == nil {
			t.Error("second caller got no image")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("second caller never returned")
	}
	if got := f.count(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestSynthesizeSpeech(t *testing.T) {
	pcm := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	f := &fakeModels{resp: func(generateCall) (*genai.GenerateContentResponse, error) {
		return respond(&genai.Part{InlineData: &genai.Blob{Data: pcm, MIMEType: "audio/L16;codec=pcm;rate=24000"}}), nil
	}}
	c := newTestClient(t, f)

	m, err := c.SynthesizeSpeech(context.Background(), "Once upon a time.")
	if err != nil {
		t.Fatalf("SynthesizeSpeech() error = %v", err)
	}
	if m.MimeType != "audio/wav" {
		t.Errorf("mime = %q, want audio/wav", m.MimeType)
	}
	if got := media.PCMFromWAV(m.Data); string(got) != string(pcm) {
		t.Errorf("pcm = %v, want %v", got, pcm)
	}

	call := f.calls[0]
	if call.model != "speech" || len(call.config.ResponseModalities) != 1 || call.config.ResponseModalities[0] != "AUDIO" {
		t.Errorf("unexpected request: %q %v", call.model, call.config.ResponseModalities)
	}
	if v := call.config.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; v != "Puck" {
		t.Errorf("voice = %q", v)
	}
}

func TestSynthesizeSpeech_NoAudio(t *testing.T) {
	f := &fakeModels{resp: func(generateCall) (*genai.GenerateContentResponse, error) {
		return respond(&genai.Part{InlineData: &genai.Blob{Data: pngHeader, MIMEType: "image/png"}}), nil
	}}
	m, err := newTestClient(t, f).SynthesizeSpeech(context.Background(), "text")
	if err != nil || m != nil {
		t.Errorf("SynthesizeSpeech() = %v, %v, want nil, nil", m, err)
	}
}

func TestNew_NoKey(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	_, err := New(context.Background(), testConfig(), zap.NewNop())
	if !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("New() error = %v, want %v", err, ErrNoAPIKey)
	}
}

func TestDefaultInstruction(t *testing.T) {
	for _, tag := range []string{"[NANO_BANANA_PROMPT:", "[BOOK_PAGE_TEXT:", "[STORY_FINISHED]"} {
		if !strings.Contains(DefaultInstruction, tag) {
			t.Errorf("instruction does not mention %s", tag)
		}
	}
}
