// Package media holds binary references produced by synthesis collaborators
// (images and narration) and the few conversions the rest of the program
// needs to move them around.
package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/h2non/filetype"
)

// Media is a piece of generated binary content with its declared MIME type.
type Media struct {
	Data     []byte
	MimeType string
}

var ErrNotDataURL = errors.New("not a data url")

// New creates media from raw data, detecting type when none was declared.
func New(data []byte, mimeType string) *Media {
	if len(mimeType) == 0 {
		mimeType = Sniff(data)
	}
	return &Media{Data: data, MimeType: mimeType}
}

// Sniff returns MIME type for data using magic numbers, "application/octet-stream" if unknown.
func Sniff(data []byte) string {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return "application/octet-stream"
	}
	return kind.MIME.Value
}

// IsImage reports whether data looks like a supported image.
func (m *Media) IsImage() bool {
	if m == nil {
		return false
	}
	return filetype.IsImage(m.Data)
}

// Extension returns file extension without leading dot.
func (m *Media) Extension() string {
	if m == nil {
		return ""
	}
	base, _, _ := strings.Cut(strings.ToLower(m.MimeType), ";")
	switch strings.TrimSpace(base) {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	}
	if exts, err := mime.ExtensionsByType(base); err == nil && len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	if kind, err := filetype.Match(m.Data); err == nil && kind != filetype.Unknown && kind.Extension != "" {
		return kind.Extension
	}
	return "bin"
}

// DataURL renders media as "data:<mime>;base64,<payload>".
func (m *Media) DataURL() string {
	if m == nil {
		return ""
	}
	return "data:" + m.MimeType + ";base64," + base64.StdEncoding.EncodeToString(m.Data)
}

// ParseDataURL is the reverse of DataURL. Only base64 payloads are accepted.
func ParseDataURL(s string) (*Media, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, ErrNotDataURL
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("malformed data url: %w", ErrNotDataURL)
	}
	mimeType, ok := strings.CutSuffix(header, ";base64")
	if !ok {
		return nil, fmt.Errorf("data url is not base64 encoded: %w", ErrNotDataURL)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("unable to decode data url payload: %w", err)
	}
	return New(data, mimeType), nil
}
