package annotation

import (
	"regexp"
	"strings"
)

// keywordPattern matches the first [[ ... ]] span on a single line
var keywordPattern = regexp.MustCompile(`\[\[(.*?)\]\]`)

// Annotation is the result of extracting tokens from a response buffer
type Annotation struct {
	Keywords []string `json:"keywords"`
	Icon     string   `json:"icon,omitempty"` // empty when absent
	Found    bool     `json:"found"`          // a keyword span was present
	End      int      `json:"-"`              // byte offset just after the closing brackets
}

// Extract parses the keyword list and trailing icon token from buf.
// A buffer without a bracketed span yields an empty Annotation.
func Extract(buf string) Annotation {
	loc := keywordPattern.FindStringSubmatchIndex(buf)
	if loc == nil {
		return Annotation{Keywords: []string{}}
	}
	return fromMatch(buf, loc)
}

func fromMatch(buf string, loc []int) Annotation {
	return Annotation{
		Keywords: SplitKeywords(buf[loc[2]:loc[3]]),
		Icon:     strings.TrimSpace(buf[loc[1]:]),
		Found:    true,
		End:      loc[1],
	}
}

// SplitKeywords splits the inner text of a keyword span on commas and trims
// each piece. Empty pieces and duplicates are kept.
func SplitKeywords(inner string) []string {
	parts := strings.Split(inner, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// Update lists tokens that became available since the previous observation
type Update struct {
	Keywords    []string // non-nil exactly once, when the keyword span completes
	Icon        string
	IconChanged bool
}

// Empty reports whether the update carries nothing new
func (u Update) Empty() bool {
	return u.Keywords == nil && !u.IconChanged
}

// Scanner extracts tokens from a growing buffer and reports each newly
// completed token once. Results match Extract on the full buffer.
type Scanner struct {
	scanned    int // length of the buffer at the previous observation
	prefix     string
	searchFrom int
	match      []int
	icon       string
}

// NewScanner creates a scanner with no observations
func NewScanner() *Scanner {
	return &Scanner{}
}

// Observe re-evaluates the accumulated buffer. The buffer is expected to
// only grow; anything else restarts the scan.
func (s *Scanner) Observe(buf string) Update {
	if len(buf) < s.scanned || !strings.HasPrefix(buf, s.prefix) {
		s.Reset()
	}

	var u Update
	if s.match == nil {
		rest := buf[s.searchFrom:]
		if loc := keywordPattern.FindStringSubmatchIndex(rest); loc != nil {
			for i := range loc {
				loc[i] += s.searchFrom
			}
			s.match = loc
			u.Keywords = fromMatch(buf, loc).Keywords
		} else if nl := strings.LastIndexByte(rest, '\n'); nl >= 0 {
			// a span cannot cross a newline
			s.searchFrom += nl + 1
		}
	}

	if s.match != nil {
		if icon := strings.TrimSpace(buf[s.match[1]:]); icon != s.icon {
			s.icon = icon
			u.Icon = icon
			u.IconChanged = true
		}
	}

	s.scanned = len(buf)
	s.prefix = buf[:min(len(buf), s.prefixLen())]
	return u
}

// prefixLen bounds how much of the buffer is remembered for the growth check
func (s *Scanner) prefixLen() int {
	if s.match != nil {
		return s.match[1]
	}
	return s.searchFrom
}

// Current returns the annotation as of the last observation
func (s *Scanner) Current(buf string) Annotation {
	if s.match == nil || len(buf) < s.match[1] {
		return Extract(buf)
	}
	return fromMatch(buf, s.match)
}

// Reset forgets all observations
func (s *Scanner) Reset() {
	*s = Scanner{}
}
