// Package debug renders human readable state dumps for logs and reports.
package debug

import (
	"fmt"
	"strconv"
	"strings"
)

// TreeWriter accumulates indented lines, two spaces per level.
type TreeWriter struct {
	w *strings.Builder
}

func NewTreeWriter() *TreeWriter {
	return &TreeWriter{
		w: &strings.Builder{},
	}
}

func (tw TreeWriter) String() string {
	return tw.w.String()
}

func (tw TreeWriter) indent(depth int) {
	for range depth {
		tw.w.WriteString("  ")
	}
}

func (tw TreeWriter) Line(depth int, format string, args ...any) {
	tw.indent(depth)
	fmt.Fprintf(tw.w, format, args...)
	tw.w.WriteByte('\n')
}

// TextBlock writes quoted value under label.
func (tw TreeWriter) TextBlock(depth int, label, value string) {
	tw.indent(depth)
	tw.w.WriteString(label)
	tw.w.WriteString(": ")
	tw.w.WriteString(encodeText(value))
	tw.w.WriteByte('\n')
}

// Optional is TextBlock for values which may be absent.
func (tw TreeWriter) Optional(depth int, label string, value *string) {
	if value == nil {
		tw.Line(depth, "%s: <none>", label)
		return
	}
	tw.TextBlock(depth, label, *value)
}

// Blob summarizes binary content without dumping it.
func (tw TreeWriter) Blob(depth int, label, mimeType string, size int) {
	if size == 0 && len(mimeType) == 0 {
		tw.Line(depth, "%s: <none>", label)
		return
	}
	tw.Line(depth, "%s: %s, %s", label, mimeType, humanSize(size))
}

func encodeText(raw string) string {
	if raw == "" {
		return raw
	}
	return strconv.Quote(raw)
}

func humanSize(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return strconv.Itoa(n) + " bytes"
	}
}
