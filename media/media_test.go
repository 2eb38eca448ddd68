package media

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// smallest valid PNG signature + IHDR, enough for magic number detection
var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52}

func TestSniff(t *testing.T) {
	if got := Sniff(pngHeader); got != "image/png" {
		t.Errorf("Sniff(png) = %q, want image/png", got)
	}
	if got := Sniff([]byte("plain text")); got != "application/octet-stream" {
		t.Errorf("Sniff(text) = %q, want application/octet-stream", got)
	}
}

func TestNewDetectsType(t *testing.T) {
	m := New(pngHeader, "")
	if m.MimeType != "image/png" {
		t.Fatalf("MimeType = %q", m.MimeType)
	}
	if !m.IsImage() {
		t.Error("IsImage() = false for png")
	}
	m = New(pngHeader, "image/jpeg")
	if m.MimeType != "image/jpeg" {
		t.Errorf("declared type overwritten: %q", m.MimeType)
	}
}

func TestDataURLRoundTrip(t *testing.T) {
	orig := &Media{Data: pngHeader, MimeType: "image/png"}
	url := orig.DataURL()
	if url[:22] != "data:image/png;base64," {
		t.Fatalf("unexpected prefix: %s", url[:22])
	}
	back, err := ParseDataURL(url)
	if err != nil {
		t.Fatalf("ParseDataURL() error = %v", err)
	}
	if back.MimeType != orig.MimeType || !bytes.Equal(back.Data, orig.Data) {
		t.Errorf("round trip mismatch: %+v", back)
	}
}

func TestParseDataURLErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"no scheme", "http://example.com/a.png"},
		{"no comma", "data:image/png;base64"},
		{"not base64", "data:image/png,abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDataURL(tt.in); !errors.Is(err, ErrNotDataURL) {
				t.Errorf("ParseDataURL(%q) error = %v, want ErrNotDataURL", tt.in, err)
			}
		})
	}
	if _, err := ParseDataURL("data:image/png;base64,!!!"); err == nil {
		t.Error("expected error for broken payload")
	}
}

func TestExtension(t *testing.T) {
	tests := map[string]string{
		"image/jpeg":            "jpg",
		"image/png":             "png",
		"audio/wav":             "wav",
		"image/webp; charset=x": "webp",
	}
	for mt, want := range tests {
		if got := (&Media{MimeType: mt}).Extension(); got != want {
			t.Errorf("Extension(%q) = %q, want %q", mt, got, want)
		}
	}
	var m *Media
	if m.Extension() != "" {
		t.Error("nil media must have empty extension")
	}
}

func TestWrapPCM(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	wav := WrapPCM(pcm, 16000)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE header")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Errorf("sample rate = %d", rate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); size != uint32(len(pcm)) {
		t.Errorf("data size = %d", size)
	}
	if !bytes.Equal(PCMFromWAV(wav), pcm) {
		t.Error("PCMFromWAV did not return samples")
	}
	if PCMFromWAV([]byte("short")) != nil {
		t.Error("PCMFromWAV must reject garbage")
	}
}

func TestNormalize(t *testing.T) {
	m := Normalize(&Media{Data: []byte{0, 0}, MimeType: "audio/L16;codec=pcm;rate=22050"})
	if m.MimeType != "audio/wav" {
		t.Fatalf("MimeType = %q", m.MimeType)
	}
	if rate := binary.LittleEndian.Uint32(m.Data[24:28]); rate != 22050 {
		t.Errorf("rate = %d", rate)
	}

	same := &Media{Data: []byte("x"), MimeType: "audio/mpeg"}
	if Normalize(same) != same {
		t.Error("non PCM media must be returned unchanged")
	}
	if Normalize(nil) != nil {
		t.Error("Normalize(nil) != nil")
	}
}
