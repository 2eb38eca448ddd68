// Package narrate turns page text into audio files.
package narrate

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"weaver/book"
	"weaver/config"
	"weaver/media"
)

var ErrNoAudio = errors.New("no audio returned")

// Narrate synthesizes speech for every page with text and writes it into
// outDir as page-NN.<ext>, NN is page index. Pages are processed
// concurrently. Page which could not be narrated is logged and skipped.
// Returns paths of written files in page order.
func Narrate(ctx context.Context, pages []book.Page, speech book.SpeechSynthesizer, outDir string, cfg *config.NarrationConfig, log *zap.Logger) ([]string, error) {
	log = log.Named("narrate")

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("unable to create output directory: %w", err)
	}

	results := make([]string, len(pages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Workers, 1))

	for i, p := range pages {
		if p.Text == nil || len(strings.TrimSpace(*p.Text)) == 0 {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			name, err := narratePage(gctx, i, *p.Text, speech, outDir, cfg.MaxChars)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn("Unable to narrate page", zap.Int("page", i), zap.Error(err))
				return nil
			}
			log.Debug("Page narrated", zap.Int("page", i), zap.String("file", name))
			results[i] = name
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	files := make([]string, 0, len(pages))
	for _, name := range results {
		if len(name) > 0 {
			files = append(files, name)
		}
	}
	log.Info("Narration done", zap.Int("files", len(files)), zap.String("dir", outDir))
	return files, nil
}

func narratePage(ctx context.Context, index int, text string, speech book.SpeechSynthesizer, outDir string, maxChars int) (string, error) {
	chunks := Chunks(text, maxChars)

	var (
		audio *media.Media
		pcm   []byte
		rate  int
	)
	for n, chunk := range chunks {
		m, err := speech.SynthesizeSpeech(ctx, chunk)
		if err != nil {
			return "", fmt.Errorf("unable to synthesize part %d: %w", n, err)
		}
		if m == nil || len(m.Data) == 0 {
			return "", fmt.Errorf("part %d: %w", n, ErrNoAudio)
		}
		m = media.Normalize(m)
		if len(chunks) == 1 {
			audio = m
			break
		}

		samples := media.PCMFromWAV(m.Data)
		if samples == nil {
			return "", fmt.Errorf("part %d: unable to join %s audio", n, m.MimeType)
		}
		r := int(binary.LittleEndian.Uint32(m.Data[24:28]))
		if rate == 0 {
			rate = r
		} else if r != rate {
			return "", fmt.Errorf("part %d: sample rate %d does not match %d", n, r, rate)
		}
		pcm = append(pcm, samples...)
	}
	if audio == nil {
		audio = &media.Media{Data: media.WrapPCM(pcm, rate), MimeType: "audio/wav"}
	}

	name := filepath.Join(outDir, fmt.Sprintf("page-%02d.%s", index, audio.Extension()))
	if err := os.WriteFile(name, audio.Data, 0644); err != nil {
		return "", fmt.Errorf("unable to write audio: %w", err)
	}
	return name, nil
}
