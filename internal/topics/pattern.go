package topics

import (
	"fmt"
	"strings"
)

const (
	separator     = '.'
	escape        = '\\'
	multiWildcard = '>'
)

// Segment is a single matcher within a parsed Pattern.
type Segment struct {
	// Literal is the unescaped text of a literal segment.
	Literal string
	// Wildcard is set for `{}` and `{name}` segments.
	Wildcard bool
	// Name is the display name of a wildcard; empty for `{}`.
	Name string
}

// Pattern is an immutable, compiled topic matcher.
type Pattern struct {
	raw         string
	segments    []Segment
	trailingAny bool
}

// ParseError reports a malformed pattern together with the byte offset at
// which parsing failed.
type ParseError struct {
	Pattern string
	Offset  int
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid pattern %q at offset %d: %s", e.Pattern, e.Offset, e.Reason)
}

func parseErr(text string, offset int, format string, args ...any) *ParseError {
	return &ParseError{Pattern: text, Offset: offset, Reason: fmt.Sprintf(format, args...)}
}

// Parse compiles text into a Pattern. The returned error is always a
// *ParseError.
func Parse(text string) (*Pattern, error) {
	if text == "" {
		return nil, parseErr(text, 0, "empty pattern")
	}

	p := &Pattern{raw: text}
	if text == string(multiWildcard) {
		p.trailingAny = true
		return p, nil
	}

	pos := 0
	for {
		seg, next, err := parseSegment(text, pos)
		if err != nil {
			return nil, err
		}
		p.segments = append(p.segments, seg)

		if next == len(text) {
			return p, nil
		}

		// parseSegment only stops early on a separator.
		pos = next + 1
		switch {
		case pos == len(text):
			return nil, parseErr(text, pos, "empty segment")
		case text[pos:] == string(multiWildcard):
			p.trailingAny = true
			return p, nil
		}
	}
}

// MustParse is like Parse but panics on error. Intended for package-level
// pattern definitions.
func MustParse(text string) *Pattern {
	p, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return p
}

func parseSegment(text string, start int) (Segment, int, error) {
	switch text[start] {
	case separator:
		return Segment{}, 0, parseErr(text, start, "empty segment")
	case multiWildcard:
		return Segment{}, 0, parseErr(text, start, "'>' is only allowed as the final segment")
	case '{':
		return parseWildcard(text, start)
	}

	var b strings.Builder
	i := start
	for i < len(text) && text[i] != separator {
		c := text[i]
		switch c {
		case escape:
			if i+1 >= len(text) {
				return Segment{}, 0, parseErr(text, i, "dangling escape")
			}
			n := text[i+1]
			if !isMeta(n) {
				return Segment{}, 0, parseErr(text, i, "invalid escape sequence \\%c", n)
			}
			b.WriteByte(n)
			i += 2
			continue
		case '{', '}', multiWildcard:
			return Segment{}, 0, parseErr(text, i, "unescaped %q in literal segment", c)
		}
		b.WriteByte(c)
		i++
	}

	return Segment{Literal: b.String()}, i, nil
}

func parseWildcard(text string, start int) (Segment, int, error) {
	end := strings.IndexByte(text[start:], '}')
	if end < 0 {
		return Segment{}, 0, parseErr(text, start, "unterminated wildcard")
	}
	end += start

	name := text[start+1 : end]
	if name != "" && !isIdentifier(name) {
		return Segment{}, 0, parseErr(text, start+1, "invalid wildcard name %q", name)
	}

	next := end + 1
	if next < len(text) && text[next] != separator {
		return Segment{}, 0, parseErr(text, next, "wildcard must span the whole segment")
	}

	return Segment{Wildcard: true, Name: name}, next, nil
}

func isMeta(c byte) bool {
	switch c {
	case '{', '}', separator, escape, multiWildcard:
		return true
	}
	return false
}

func isIdentifier(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		letter := c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		digit := c >= '0' && c <= '9'
		if !letter && (i == 0 || !digit) {
			return false
		}
	}
	return s != ""
}

// Matches reports whether topic satisfies the pattern. It is pure and safe for
// concurrent use.
func (p *Pattern) Matches(topic string) bool {
	if len(p.segments) == 0 {
		return p.trailingAny
	}

	pos := 0
	for i, seg := range p.segments {
		if i > 0 {
			if pos >= len(topic) || topic[pos] != separator {
				return false
			}
			pos++
		}

		if seg.Wildcard {
			n := strings.IndexByte(topic[pos:], separator)
			if n < 0 {
				n = len(topic) - pos
			}
			if n == 0 {
				return false
			}
			pos += n
			continue
		}

		// Literals may contain escaped separators, so compare against the raw
		// topic text rather than a pre-split segment.
		if !strings.HasPrefix(topic[pos:], seg.Literal) {
			return false
		}
		pos += len(seg.Literal)
		if pos < len(topic) && topic[pos] != separator {
			return false
		}
	}

	if pos == len(topic) {
		return true
	}
	return p.trailingAny
}

// Segments returns a copy of the pattern's segment matchers.
func (p *Pattern) Segments() []Segment {
	out := make([]Segment, len(p.segments))
	copy(out, p.segments)
	return out
}

// TrailingAny reports whether the pattern ends in the multi-segment wildcard.
func (p *Pattern) TrailingAny() bool {
	return p.trailingAny
}

// Raw returns the text the pattern was parsed from.
func (p *Pattern) Raw() string {
	return p.raw
}

// String renders the canonical form of the pattern. Literal metacharacters are
// escaped so the output parses back to an equivalent pattern.
func (p *Pattern) String() string {
	parts := make([]string, 0, len(p.segments)+1)
	for _, seg := range p.segments {
		switch {
		case seg.Wildcard:
			parts = append(parts, "{"+seg.Name+"}")
		default:
			parts = append(parts, escapeLiteral(seg.Literal))
		}
	}
	if p.trailingAny {
		parts = append(parts, string(multiWildcard))
	}
	return strings.Join(parts, string(separator))
}

func escapeLiteral(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if isMeta(s[i]) {
			b.WriteByte(escape)
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Match parses pattern and tests topic against it.
func Match(pattern, topic string) (bool, error) {
	p, err := Parse(pattern)
	if err != nil {
		return false, err
	}
	return p.Matches(topic), nil
}
