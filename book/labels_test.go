package book

import (
	"slices"
	"testing"
)

func TestPageLabel(t *testing.T) {
	for i, want := range []string{"Cover", "Scene 1", "Scene 2"} {
		if got := PageLabel(i); got != want {
			t.Errorf("PageLabel(%d) = %q, want %q", i, got, want)
		}
	}
}

func TestParagraphs(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"blank", " \n\n \n", nil},
		{"single", "Once upon a time.\nThere was a fox.", []string{"Once upon a time.\nThere was a fox."}},
		{"two", "First.\n\nSecond.", []string{"First.", "Second."}},
		{"crlf", "First.\r\n\r\n  Second.  ", []string{"First.", "Second."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Paragraphs(tt.in); !slices.Equal(got, tt.want) {
				t.Errorf("Paragraphs(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
