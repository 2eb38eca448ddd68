// Package gemini implements book collaborators over Google Gemini API.
package gemini

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"weaver/book"
	"weaver/config"
	"weaver/media"
)

//go:embed instruction.txt
var DefaultInstruction string

// APIKeyEnv is consulted when configuration has no api key.
const APIKeyEnv = "GEMINI_API_KEY"

const limiterBurst = 2

var (
	ErrEmptyReply = errors.New("model returned empty reply")
	ErrNoAPIKey   = errors.New("gemini api key is not configured")
)

// generator is the part of genai.Models we use.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client talks to Gemini for chat, pictures and speech. It is safe for
// concurrent use.
type Client struct {
	models      generator
	cfg         config.GeminiConfig
	instruction string
	limiter     *rate.Limiter
	images      *cache.Cache
	group       singleflight.Group
	log         *zap.Logger
}

var (
	_ book.Conversation      = (*Client)(nil)
	_ book.ImageSynthesizer  = (*Client)(nil)
	_ book.SpeechSynthesizer = (*Client)(nil)
)

// New creates Gemini client from configuration.
func New(ctx context.Context, cfg config.GeminiConfig, log *zap.Logger) (*Client, error) {
	key := cfg.APIKey.Value()
	if len(key) == 0 {
		key = os.Getenv(APIKeyEnv)
	}
	if len(key) == 0 {
		return nil, ErrNoAPIKey
	}

	instruction := DefaultInstruction
	if len(cfg.SystemInstructionPath) > 0 {
		data, err := os.ReadFile(cfg.SystemInstructionPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read system instruction: %w", err)
		}
		instruction = string(data)
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create gemini client: %w", err)
	}
	return newClient(gc.Models, cfg, instruction, log), nil
}

func newClient(models generator, cfg config.GeminiConfig, instruction string, log *zap.Logger) *Client {
	limit := rate.Inf
	if cfg.RequestInterval > 0 {
		limit = rate.Every(cfg.RequestInterval)
	}
	ttl := cfg.ImageCacheTTL
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &Client{
		models:      models,
		cfg:         cfg,
		instruction: instruction,
		limiter:     rate.NewLimiter(limit, limiterBurst),
		images:      cache.New(ttl, 2*max(ttl, time.Minute)),
		log:         log.Named("gemini"),
	}
}

func (c *Client) generate(ctx context.Context, timeout time.Duration, model string, contents []*genai.Content, gcfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := c.models.GenerateContent(ctx, model, contents, gcfg)
	c.log.Debug("Request completed", zap.String("model", model), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
	return resp, err
}

// Send implements book.Conversation.
func (c *Client) Send(ctx context.Context, history []book.ConversationTurn, text string) (string, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, turn := range history {
		var role genai.Role = genai.RoleUser
		if turn.Role == book.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, role))
	}
	contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))

	resp, err := c.generate(ctx, c.cfg.ReplyTimeout, c.cfg.ChatModel, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(c.instruction, genai.RoleUser),
	})
	if err != nil {
		return "", fmt.Errorf("unable to send message: %w", err)
	}
	reply := resp.Text()
	if len(strings.TrimSpace(reply)) == 0 {
		return "", ErrEmptyReply
	}
	return reply, nil
}

// SynthesizeImage implements book.ImageSynthesizer. Repeated prompts are
// served from cache, identical concurrent prompts share single request. Shared
// request is bounded by image timeout only, caller cancellation abandons the
// wait but not the request.
func (c *Client) SynthesizeImage(ctx context.Context, prompt string) (*media.Media, error) {
	if m, ok := c.images.Get(prompt); ok {
		c.log.Debug("Image served from cache", zap.Int("prompt", len(prompt)))
		return m.(*media.Media), nil
	}

	ch := c.group.DoChan(prompt, func() (any, error) {
		resp, err := c.generate(context.WithoutCancel(ctx), c.cfg.ImageTimeout, c.cfg.ImageModel,
			[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
			&genai.GenerateContentConfig{
				ImageConfig: &genai.ImageConfig{AspectRatio: c.cfg.AspectRatio},
			})
		if err != nil {
			return nil, fmt.Errorf("unable to generate image: %w", err)
		}
		m := firstInline(resp, "image/")
		if m != nil {
			c.images.SetDefault(prompt, m)
		}
		return m, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		c.log.Debug("Image request shared", zap.Int("prompt", len(prompt)))
	}
	m, ok := res.Val.(*media.Media)
	if !ok {
		return nil, fmt.Errorf("unexpected return type from singleflight: %T", res.Val)
	}
	return m, nil
}

// SynthesizeSpeech implements book.SpeechSynthesizer. Raw PCM returned by the
// service is wrapped into WAV.
func (c *Client) SynthesizeSpeech(ctx context.Context, text string) (*media.Media, error) {
	resp, err := c.generate(ctx, c.cfg.SpeechTimeout, c.cfg.SpeechModel,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.GenerateContentConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &genai.SpeechConfig{
				VoiceConfig: &genai.VoiceConfig{
					PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: c.cfg.Voice},
				},
			},
		})
	if err != nil {
		return nil, fmt.Errorf("unable to generate speech: %w", err)
	}
	m := firstInline(resp, "audio/")
	if m == nil {
		return nil, nil
	}
	return media.Normalize(m), nil
}

// firstInline returns first inline data part of the first candidate. Parts
// with declared mime type not matching prefix are skipped.
func firstInline(resp *genai.GenerateContentResponse, prefix string) *media.Media {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		mt := part.InlineData.MIMEType
		if len(mt) > 0 && !strings.HasPrefix(strings.ToLower(mt), prefix) {
			continue
		}
		return media.New(part.InlineData.Data, mt)
	}
	return nil
}
