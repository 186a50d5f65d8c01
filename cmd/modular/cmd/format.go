package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/nfrund/modular/internal/topics"
)

// SegmentDisplay represents a pattern segment for display purposes
type SegmentDisplay struct {
	Kind  string `json:"kind"`
	Value string `json:"value,omitempty"`
}

// PatternDisplay represents a parsed pattern for display purposes
type PatternDisplay struct {
	Pattern     string           `json:"pattern"`
	Canonical   string           `json:"canonical"`
	Segments    []SegmentDisplay `json:"segments"`
	TrailingAny bool             `json:"trailing_any"`
}

// MatchDisplay is the outcome of testing one topic.
type MatchDisplay struct {
	Topic   string `json:"topic"`
	Matches bool   `json:"matches"`
}

func newPatternDisplay(p *topics.Pattern) PatternDisplay {
	d := PatternDisplay{
		Pattern:     p.Raw(),
		Canonical:   p.String(),
		TrailingAny: p.TrailingAny(),
	}
	for _, seg := range p.Segments() {
		switch {
		case seg.Wildcard:
			d.Segments = append(d.Segments, SegmentDisplay{Kind: "wildcard", Value: seg.Name})
		default:
			d.Segments = append(d.Segments, SegmentDisplay{Kind: "literal", Value: seg.Literal})
		}
	}
	if d.TrailingAny {
		d.Segments = append(d.Segments, SegmentDisplay{Kind: "any"})
	}
	return d
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func writePatternTable(w io.Writer, d PatternDisplay) {
	fmt.Fprintf(w, "Pattern:   %s\n", d.Pattern)
	fmt.Fprintf(w, "Canonical: %s\n\n", d.Canonical)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "#\tKIND\tVALUE")
	fmt.Fprintln(tw, "-\t----\t-----")
	for i, seg := range d.Segments {
		value := seg.Value
		if value == "" {
			value = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", i, seg.Kind, value)
	}
}

func writeMatchTable(w io.Writer, results []MatchDisplay) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "TOPIC\tMATCH")
	fmt.Fprintln(tw, "-----\t-----")
	for _, r := range results {
		mark := "no"
		if r.Matches {
			mark = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\n", r.Topic, mark)
	}
}
