package book

import (
	"strconv"
	"strings"
)

// PageLabel names page by its position: 0 is the cover, others are scenes.
func PageLabel(index int) string {
	if index == 0 {
		return "Cover"
	}
	return "Scene " + strconv.Itoa(index)
}

// Paragraphs splits page text on blank lines dropping empty ones. Text
// without blank lines is a single paragraph.
func Paragraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); len(p) > 0 {
			out = append(out, p)
		}
	}
	return out
}
