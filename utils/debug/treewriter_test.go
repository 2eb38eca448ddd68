package debug

import (
	"testing"
)

func TestTreeWriter_Line(t *testing.T) {
	tests := []struct {
		name   string
		depth  int
		format string
		args   []any
		want   string
	}{
		{name: "no depth", depth: 0, format: "test", want: "test\n"},
		{name: "depth 1", depth: 1, format: "indented", want: "  indented\n"},
		{name: "depth 2", depth: 2, format: "double indent", want: "    double indent\n"},
		{name: "with formatting", depth: 1, format: "page %d of %d", args: []any{1, 3}, want: "  page 1 of 3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tw := NewTreeWriter()
			tw.Line(tt.depth, tt.format, tt.args...)
			if got := tw.String(); got != tt.want {
				t.Errorf("Line() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTreeWriter_TextBlock(t *testing.T) {
	tw := NewTreeWriter()
	tw.TextBlock(1, "text", "Once upon\na time")
	tw.TextBlock(0, "empty", "")
	want := "  text: \"Once upon\\na time\"\nempty: \n"
	if got := tw.String(); got != want {
		t.Errorf("TextBlock() = %q, want %q", got, want)
	}
}

func TestTreeWriter_Optional(t *testing.T) {
	tw := NewTreeWriter()
	v := "value"
	tw.Optional(0, "a", nil)
	tw.Optional(0, "b", &v)
	want := "a: <none>\nb: \"value\"\n"
	if got := tw.String(); got != want {
		t.Errorf("Optional() = %q, want %q", got, want)
	}
}

func TestTreeWriter_Blob(t *testing.T) {
	tests := []struct {
		mime string
		size int
		want string
	}{
		{"", 0, "image: <none>\n"},
		{"image/png", 512, "image: image/png, 512 bytes\n"},
		{"image/png", 2048, "image: image/png, 2.0 KiB\n"},
		{"image/jpeg", 3 << 20, "image: image/jpeg, 3.0 MiB\n"},
	}
	for _, tt := range tests {
		tw := NewTreeWriter()
		tw.Blob(0, "image", tt.mime, tt.size)
		if got := tw.String(); got != tt.want {
			t.Errorf("Blob(%q, %d) = %q, want %q", tt.mime, tt.size, got, tt.want)
		}
	}
}
