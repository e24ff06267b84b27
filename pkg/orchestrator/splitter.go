package orchestrator

import (
	"regexp"
	"strings"
)

var (
	sentenceBoundary = regexp.MustCompile(`[.!?\n]+\s`)
	unspokenMarkup   = regexp.MustCompile("[*_#`~>|\\[\\]{}<]+")
	whitespaceRun    = regexp.MustCompile(`\s+`)
)

// SentenceSplitter accumulates streamed text and cuts it into sentence units
// at terminal punctuation followed by whitespace.
type SentenceSplitter struct {
	buf      strings.Builder
	minChars int
	seq      int
}

// NewSentenceSplitter drops units whose trimmed length is minChars or less.
func NewSentenceSplitter(minChars int) *SentenceSplitter {
	return &SentenceSplitter{minChars: minChars}
}

// Add appends a token and returns any units it completed.
func (s *SentenceSplitter) Add(token string) []SentenceUnit {
	s.buf.WriteString(token)

	content := s.buf.String()
	var units []SentenceUnit
	for {
		loc := sentenceBoundary.FindStringIndex(content)
		if loc == nil {
			break
		}
		if u, ok := s.unit(content[:loc[1]]); ok {
			units = append(units, u)
		}
		content = content[loc[1]:]
	}

	s.buf.Reset()
	s.buf.WriteString(content)
	return units
}

// Flush returns the remainder as a final unit, if any.
func (s *SentenceSplitter) Flush() (SentenceUnit, bool) {
	rest := s.buf.String()
	s.buf.Reset()
	return s.unit(rest)
}

func (s *SentenceSplitter) Pending() string {
	return s.buf.String()
}

func (s *SentenceSplitter) unit(text string) (SentenceUnit, bool) {
	text = strings.TrimSpace(text)
	if len(text) <= s.minChars {
		return SentenceUnit{}, false
	}
	u := SentenceUnit{Seq: s.seq, Text: text}
	s.seq++
	return u, true
}

// Sanitize strips formatting characters that should not be spoken and
// collapses whitespace.
func Sanitize(text string) string {
	text = unspokenMarkup.ReplaceAllString(text, "")
	text = whitespaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
