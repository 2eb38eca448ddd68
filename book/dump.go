package book

import (
	"strconv"

	"weaver/utils/debug"
)

// String renders session state for debugging.
func (s *Session) String() string {
	snap := s.Snapshot()

	tw := debug.NewTreeWriter()
	tw.Line(0, "Session: state=%s cursor=%d finished=%t generating=%t", s.State(), snap.Cursor, snap.Finished, snap.Generating)
	tw.Line(1, "Pages: %d", len(snap.Pages))
	for i, p := range snap.Pages {
		marker := ""
		if i == snap.Cursor {
			marker = " <"
		}
		tw.Line(2, "[%d] %s%s", i, PageLabel(i), marker)
		if p.Image != nil {
			tw.Blob(3, "image", p.Image.MimeType, len(p.Image.Data))
		} else {
			tw.Blob(3, "image", "", 0)
		}
		tw.Optional(3, "text", p.Text)
	}
	return tw.String()
}

// TranscriptString renders visible dialogue, used for debug reports.
func (s *Session) TranscriptString() string {
	tw := debug.NewTreeWriter()
	for i, turn := range s.Transcript() {
		tw.TextBlock(0, string(turn.Role)+"#"+strconv.Itoa(i), turn.Text)
	}
	return tw.String()
}
