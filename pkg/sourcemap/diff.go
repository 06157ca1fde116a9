package sourcemap

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
)

// Columns returns the width of s in UTF-16 code units, the unit source map
// columns are counted in.
func Columns(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

type char_class int

const (
	class_space char_class = iota
	class_word
	class_punct
)

func classify(r rune) char_class {
	switch {
	case unicode.IsSpace(r):
		return class_space
	case r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r):
		return class_word
	}
	return class_punct
}

// BoundaryColumns lists the columns of line worth a mapping segment: the
// line start, the start of every word, and every punctuation character.
func BoundaryColumns(line string) []int {
	cols := []int{0}
	col := 0
	prev := class_space
	first := true
	for len(line) > 0 {
		r, size := utf8.DecodeRuneInString(line)
		class := classify(r)
		if !first && class != class_space && (class == class_punct || class != prev) {
			cols = append(cols, col)
		}
		first = false
		prev = class
		if r >= 0x10000 {
			col += 2
		} else {
			col++
		}
		line = line[size:]
	}
	return cols
}

func split_lines(text string) []string {
	lines := strings.SplitAfter(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func identity_line(line string, orig_line int) []Segment {
	cols := BoundaryColumns(strings.TrimRight(line, "\r\n"))
	segs := make([]Segment, len(cols))
	for i, c := range cols {
		segs[i] = Segment{GenColumn: c, OrigLine: orig_line, OrigColumn: c, HasSource: true}
	}
	return segs
}

func new_single_source(source, content string) *SourceMap {
	return &SourceMap{
		Version:        3,
		Sources:        []string{source},
		SourcesContent: []*string{&content},
		Names:          []string{},
	}
}

// Identity maps every line of text onto itself.
func Identity(source, text string) *SourceMap {
	lines := split_lines(text)
	mappings := make(Mappings, len(lines))
	for i, line := range lines {
		mappings[i] = identity_line(line, i)
	}
	m := new_single_source(source, text)
	m.Mappings = Encode(mappings)
	return m
}

// FromLineDiff derives a line granular map from before to after. Unchanged
// lines map onto their original line; inserted lines stay unmapped.
func FromLineDiff(source, before, after string) *SourceMap {
	if before == after {
		return Identity(source, before)
	}
	edits := myers.ComputeEdits(span.URIFromPath(source), before, after)
	before_lines := split_lines(before)
	after_lines := split_lines(after)
	mappings := make(Mappings, 0, len(after_lines))

	orig := 0
	keep := func(until int) {
		for ; orig < until && orig < len(before_lines); orig++ {
			mappings = append(mappings, identity_line(before_lines[orig], orig))
		}
	}
	for _, edit := range edits {
		start := edit.Span.Start().Line() - 1
		end := edit.Span.End().Line() - 1
		keep(start)
		for range split_lines(edit.NewText) {
			mappings = append(mappings, nil)
		}
		if end > orig {
			orig = end
		}
	}
	keep(len(before_lines))
	for len(mappings) > len(after_lines) && len(mappings) > 0 && mappings[len(mappings)-1] == nil {
		mappings = mappings[:len(mappings)-1]
	}

	m := new_single_source(source, before)
	m.Mappings = Encode(mappings)
	return m
}
