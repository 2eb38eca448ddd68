package share

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"weaver/book"
	"weaver/store"
)

// maximum error body kept in StatusError
const maxErrorBody = 4096

// StatusError is returned for every non-successful response. Body is kept
// verbatim so it could be shown to the user.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) == 0 {
		return fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("%d %s: %s", e.Status, http.StatusText(e.Status), body)
}

// Is makes 404 responses match store.ErrStoryNotFound.
func (e *StatusError) Is(target error) bool {
	return target == store.ErrStoryNotFound && e.Status == http.StatusNotFound
}

// Client talks to share server. It implements store.Store so remote server
// could be used wherever local store is expected.
type Client struct {
	base string
	hc   *http.Client
	log  *zap.Logger
}

var _ store.Store = (*Client)(nil)

// NewClient creates client for server at baseURL. Nil hc means
// http.DefaultClient.
func NewClient(baseURL string, hc *http.Client, log *zap.Logger) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), hc: hc, log: log.Named("share")}
}

// ShareURL returns address of the story viewer.
func (c *Client) ShareURL(id string) string {
	return c.base + "/share/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("unable to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("unable to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Status: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("unable to decode response: %w", err)
	}
	return nil
}

func (c *Client) CreateStory(ctx context.Context, title string) (string, error) {
	var resp createResponse
	if err := c.do(ctx, http.MethodPost, "/api/stories", createRequest{Title: title}, &resp); err != nil {
		return "", err
	}
	if !resp.Success || len(resp.ID) == 0 {
		return "", errors.New("server did not return story id")
	}
	return resp.ID, nil
}

func (c *Client) AppendPage(ctx context.Context, storyID string, page store.Page) error {
	index := page.Index
	req := pageRequest{PageIndex: &index, Image: encodeImage(page.Image), Text: page.Text}
	return c.do(ctx, http.MethodPost, "/api/stories/"+url.PathEscape(storyID)+"/pages", req, nil)
}

func (c *Client) FetchStory(ctx context.Context, id string) (*store.Story, error) {
	var resp storyJSON
	if err := c.do(ctx, http.MethodGet, "/api/stories/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return fromStoryJSON(resp)
}

func (c *Client) ListStories(ctx context.Context) ([]store.Summary, error) {
	var resp []summaryJSON
	if err := c.do(ctx, http.MethodGet, "/api/stories", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]store.Summary, 0, len(resp))
	for _, s := range resp {
		out = append(out, store.Summary{ID: s.ID, Title: s.Title, CreatedAt: s.CreatedAt, Pages: s.Pages})
	}
	return out, nil
}

// Close is a no-op.
func (c *Client) Close() error {
	return nil
}

// Publish stores book on the server: creates story and uploads every page
// sequentially in index order. Returns share URL. Failures are returned as
// is, nothing is retried.
func (c *Client) Publish(ctx context.Context, title string, pages []book.Page) (string, error) {
	id, err := c.CreateStory(ctx, title)
	if err != nil {
		return "", fmt.Errorf("unable to create story: %w", err)
	}
	c.log.Debug("Story created", zap.String("id", id), zap.Int("pages", len(pages)))

	for i, p := range pages {
		if err := c.AppendPage(ctx, id, store.Page{Index: i, Image: p.Image, Text: p.Text}); err != nil {
			return "", fmt.Errorf("unable to upload page %d: %w", i, err)
		}
	}
	link := c.ShareURL(id)
	c.log.Info("Story published", zap.String("id", id), zap.String("url", link))
	return link, nil
}
