package images

import (
	"bytes"
	"image"
	"image/color"
	"testing"
)

func TestEnsureJFIFAPP0(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		wantAdded bool
		wantErr   bool
	}{
		{"missing", []byte{0xFF, 0xD8, 0xFF, 0xDB, 0x00, 0x04}, true, false},
		{"present", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}, false, false},
		{"too small", []byte{0xFF, 0xD8}, false, true},
		{"not jpeg", []byte{0x89, 0x50, 0x4E, 0x47}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, added, err := EnsureJFIFAPP0(tt.data, DpiPxPerInch, 300, 300)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if added != tt.wantAdded {
				t.Fatalf("added = %v, want %v", added, tt.wantAdded)
			}
			if !bytes.Equal(out[2:4], []byte{0xFF, 0xE0}) {
				t.Fatal("expected JFIF APP0 marker at position 2-3")
			}
			if !added && !bytes.Equal(out, tt.data) {
				t.Fatal("expected same bytes")
			}
		})
	}
}

func TestEncodeJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	img.Set(0, 0, color.RGBA{255, 0, 0, 255})

	data, err := EncodeJPEG(img, 80)
	if err != nil {
		t.Fatalf("EncodeJPEG() error = %v", err)
	}
	if !bytes.Equal(data[:4], []byte{0xFF, 0xD8, 0xFF, 0xE0}) {
		t.Fatalf("unexpected header % x", data[:4])
	}
	if _, _, err := image.Decode(bytes.NewReader(data)); err != nil {
		t.Fatalf("result is not decodable: %v", err)
	}
}
