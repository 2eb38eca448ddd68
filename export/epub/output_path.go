package epub

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/template"

	sprig "github.com/go-task/slim-sprig/v3"
	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"weaver/config"
)

const outputExt = ".epub"

// used when template produced nothing
const defaultBaseName = "story"

// OutputPath returns path of the book file for story. When dst already names
// an .epub file it is used as is, otherwise dst is output directory and file
// name is built from output_name_template (or story title). Template may
// produce path separators to put books into subdirectories. Every path
// segment is cleaned and, if requested, transliterated.
func OutputPath(st *Story, dst string, cfg *config.ExportConfig, log *zap.Logger) string {
	if strings.EqualFold(filepath.Ext(dst), outputExt) {
		return dst
	}

	name := st.Title
	if len(cfg.OutputNameTemplate) > 0 {
		expanded, err := expandOutputNameTemplate(st, cfg.OutputNameTemplate)
		if err != nil {
			log.Warn("Unable to prepare output filename", zap.Error(err))
		} else {
			name = filepath.FromSlash(expanded)
		}
	}
	if len(strings.TrimSpace(name)) == 0 {
		name = defaultBaseName
	}
	return assemblePathWithSubdirs(dst, name, cfg.FileNameTransliterate)
}

type nameValues struct {
	ID    string
	Title string
	Pages int
}

func expandOutputNameTemplate(st *Story, text string) (string, error) {
	tmpl, err := template.New(string(config.OutputNameTemplateFieldName)).Funcs(sprig.FuncMap()).Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, nameValues{ID: st.ID, Title: st.Title, Pages: len(st.Pages)}); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func assemblePathWithSubdirs(outDir, name string, transliterate bool) string {
	segments := splitPath(name)

	if len(segments) == 0 {
		return filepath.Join(outDir, defaultBaseName+outputExt)
	}

	parts := make([]string, 0, len(segments)+1)
	parts = append(parts, outDir)
	for _, segment := range segments[:len(segments)-1] {
		parts = append(parts, cleanPathSegment(segment, transliterate))
	}
	parts = append(parts, cleanPathSegment(segments[len(segments)-1], transliterate)+outputExt)
	return filepath.Join(parts...)
}

func splitPath(p string) []string {
	p = strings.TrimSuffix(p, string(os.PathSeparator))
	segments := make([]string, 0, 4)
	for head, tail := filepath.Split(p); len(tail) > 0; head, tail = filepath.Split(head) {
		segments = slices.Insert(segments, 0, tail)
		head = strings.TrimSuffix(head, string(os.PathSeparator))
		if len(head) == 0 {
			break
		}
	}
	return segments
}

func cleanPathSegment(segment string, transliterate bool) string {
	if transliterate {
		segment = slug.Make(segment)
	}
	return config.CleanFileName(strings.TrimSpace(segment))
}
