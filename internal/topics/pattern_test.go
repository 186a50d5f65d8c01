package topics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/modular/internal/topics"
)

func TestParse(t *testing.T) {
	t.Run("literal and wildcard segments", func(t *testing.T) {
		p, err := topics.Parse("chat.{room}.{}.sent")
		require.NoError(t, err)

		segs := p.Segments()
		require.Len(t, segs, 4)
		assert.Equal(t, topics.Segment{Literal: "chat"}, segs[0])
		assert.Equal(t, topics.Segment{Wildcard: true, Name: "room"}, segs[1])
		assert.Equal(t, topics.Segment{Wildcard: true}, segs[2])
		assert.Equal(t, topics.Segment{Literal: "sent"}, segs[3])
		assert.False(t, p.TrailingAny())
	})

	t.Run("trailing multi wildcard", func(t *testing.T) {
		p, err := topics.Parse("a.b.>")
		require.NoError(t, err)
		assert.True(t, p.TrailingAny())
		assert.Len(t, p.Segments(), 2)
	})

	t.Run("bare multi wildcard", func(t *testing.T) {
		p, err := topics.Parse(">")
		require.NoError(t, err)
		assert.True(t, p.TrailingAny())
		assert.Empty(t, p.Segments())
	})

	t.Run("escaped metacharacters", func(t *testing.T) {
		p, err := topics.Parse(`a\.b.\{x\}.\\.\>`)
		require.NoError(t, err)

		segs := p.Segments()
		require.Len(t, segs, 4)
		assert.Equal(t, "a.b", segs[0].Literal)
		assert.Equal(t, "{x}", segs[1].Literal)
		assert.Equal(t, `\`, segs[2].Literal)
		assert.Equal(t, ">", segs[3].Literal)
	})

	invalid := []struct {
		pattern string
		offset  int
	}{
		{"", 0},
		{"a..b", 2},
		{"a.", 2},
		{".a", 0},
		{"a.>.b", 2},
		{">a", 0},
		{"a>", 1},
		{"a.{", 2},
		{"a.{x}y", 5},
		{"a.{1x}", 3},
		{"a.{x-y}", 3},
		{`a\`, 1},
		{`a\q`, 1},
		{"a}b", 1},
	}
	for _, tc := range invalid {
		t.Run("rejects "+tc.pattern, func(t *testing.T) {
			p, err := topics.Parse(tc.pattern)
			assert.Nil(t, p)

			var perr *topics.ParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tc.pattern, perr.Pattern)
			assert.Equal(t, tc.offset, perr.Offset, "offset for %q", tc.pattern)
			assert.NotEmpty(t, perr.Reason)
		})
	}
}

func TestMatches(t *testing.T) {
	cases := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"a.{}.c", "a.x.c", true},
		{"a.{}.c", "a.y.c", true},
		{"a.{}.c", "a.c", false},
		{"a.{}.c", "a.x.y.c", false},
		{"a.{}.c", "a..c", false},
		{"a.>", "a", true},
		{"a.>", "a.b", true},
		{"a.>", "a.b.c", true},
		{"a.>", "b.c", false},
		{"a.>", "ab", false},
		{"a.b", "a.b", true},
		{"a.b", "a", false},
		{"a.b", "a.b.c", false},
		{"a.b", "a.bc", false},
		{"a.b", "ab.b", false},
		{`a\.b`, "a.b", true},
		{`a\.b`, "a", false},
		{`a\.b.c`, "a.b.c", true},
		{`a\.b.{}`, "a.b.c", true},
		{">", "anything.at.all", true},
		{">", "", true},
		{"{}", "x", true},
		{"{}", "x.y", false},
		{"{}", "", false},
		{"{}.>", "x", true},
		{"{name}.b", "a.b", true},
	}

	for _, tc := range cases {
		t.Run(tc.pattern+" ~ "+tc.topic, func(t *testing.T) {
			p := topics.MustParse(tc.pattern)
			assert.Equal(t, tc.want, p.Matches(tc.topic))
			// Matching is pure: a second evaluation yields the same answer.
			assert.Equal(t, tc.want, p.Matches(tc.topic))
		})
	}
}

func TestString(t *testing.T) {
	cases := map[string]string{
		"a.{room}.{}.>": "a.{room}.{}.>",
		">":             ">",
		`a\.b`:          `a\.b`,
		`x.\>`:          `x.\>`,
	}
	for in, want := range cases {
		p := topics.MustParse(in)
		assert.Equal(t, want, p.String())
		assert.Equal(t, in, p.Raw())

		again, err := topics.Parse(p.String())
		require.NoError(t, err)
		assert.Equal(t, p.Segments(), again.Segments())
	}
}

func TestMatch(t *testing.T) {
	ok, err := topics.Match("a.{}", "a.b")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = topics.Match("a..b", "a.b")
	assert.Error(t, err)
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { topics.MustParse("a..") })
}
