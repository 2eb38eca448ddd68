package narrate

import (
	"strings"
	"sync"
	"unicode"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
)

var (
	tokenizer     *sentences.DefaultSentenceTokenizer
	tokenizerErr  error
	tokenizerOnce sync.Once
)

func englishTokenizer() (*sentences.DefaultSentenceTokenizer, error) {
	tokenizerOnce.Do(func() {
		tokenizer, tokenizerErr = english.NewSentenceTokenizer(nil)
	})
	return tokenizer, tokenizerErr
}

// Sentences splits text into sentences. Whitespace separating sentences stays
// with the preceding one so joining results gives original text back. When
// tokenizer is not available text is returned as a single sentence.
func Sentences(text string) []string {
	if len(strings.TrimSpace(text)) == 0 {
		return nil
	}
	tok, err := englishTokenizer()
	if err != nil {
		return []string{text}
	}

	var out []string
	for _, s := range tok.Tokenize(text) {
		out = append(out, s.Text)
	}
	if len(out) == 0 {
		return []string{text}
	}

	// tokenizer attaches trailing spaces to the next sentence, move them back
	for i := range len(out) - 1 {
		for idx, sym := range out[i+1] {
			if !unicode.IsSpace(sym) {
				out[i] += out[i+1][:idx]
				out[i+1] = out[i+1][idx:]
				break
			}
		}
	}
	return out
}

// Chunks groups sentences of text so every group is at most maxChars long.
// Sentence longer than maxChars makes a group of its own. Non-positive
// maxChars means no limit.
func Chunks(text string, maxChars int) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); len(s) > 0 {
			out = append(out, s)
		}
		cur.Reset()
	}
	for _, s := range Sentences(text) {
		if maxChars > 0 && cur.Len() > 0 && cur.Len()+len(s) > maxChars {
			flush()
		}
		cur.WriteString(s)
	}
	flush()
	return out
}
