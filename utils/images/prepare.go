package images

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Options controls picture normalization for books.
type Options struct {
	// maximum width, wider pictures are scaled down
	Width       int
	JPEGQuality int
	// keep, jpeg or png
	Format string
}

// Prepared is a picture ready to be put into a book.
type Prepared struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
}

// Prepare decodes picture, scales it down to requested width and re-encodes
// it according to options. Untouched pictures in formats every reading system
// supports are returned as is.
func Prepare(data []byte, opts Options) (*Prepared, error) {
	img, imgType, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unable to decode image: %w", err)
	}

	changed := false
	if opts.Width > 0 && img.Bounds().Dx() > opts.Width {
		img = imaging.Resize(img, opts.Width, 0, imaging.Lanczos)
		changed = true
	}

	target := opts.Format
	if target == "keep" || len(target) == 0 {
		switch imgType {
		case "jpeg", "png":
			target = imgType
		default:
			// webp, bmp and gif frames become png
			target = "png"
			changed = true
		}
		if !changed {
			return &Prepared{Data: data, MimeType: "image/" + imgType, Width: img.Bounds().Dx(), Height: img.Bounds().Dy()}, nil
		}
	}

	p := &Prepared{Width: img.Bounds().Dx(), Height: img.Bounds().Dy()}
	switch target {
	case "jpeg":
		if p.Data, err = EncodeJPEG(img, opts.JPEGQuality); err != nil {
			return nil, fmt.Errorf("unable to encode jpeg: %w", err)
		}
		p.MimeType = "image/jpeg"
	case "png":
		buf := new(bytes.Buffer)
		if err := imaging.Encode(buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
			return nil, fmt.Errorf("unable to encode png: %w", err)
		}
		p.Data, p.MimeType = buf.Bytes(), "image/png"
	default:
		return nil, fmt.Errorf("unsupported image format %q", target)
	}
	return p, nil
}
