// Package editbuf records edits against an original text, in the manner of
// JavaScript's magic-string, so that the edited result can be emitted along
// with a source map back to the original.
//
// All indexes are byte offsets into the original text, regardless of the
// edits already applied.
package editbuf

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/greuben92/bundlekit/pkg/sourcemap"
)

var (
	ErrOutOfRange  = errors.New("editbuf: index out of range")
	ErrEditedRange = errors.New("editbuf: cannot split an edited range")
)

type chunk struct {
	start   int
	end     int
	content string
	edited  bool
	intro   string
}

type Buffer struct {
	original string
	intro    string
	outro    string
	chunks   []*chunk
}

func New(original string) *Buffer {
	b := &Buffer{original: original}
	if original != "" {
		b.chunks = []*chunk{{start: 0, end: len(original), content: original}}
	}
	return b
}

func (b *Buffer) Original() string { return b.original }

func (b *Buffer) String() string {
	var sb strings.Builder
	sb.WriteString(b.intro)
	for _, c := range b.chunks {
		sb.WriteString(c.intro)
		sb.WriteString(c.content)
	}
	sb.WriteString(b.outro)
	return sb.String()
}

// Changed reports whether the buffer renders to something other than the
// original text.
func (b *Buffer) Changed() bool {
	return b.String() != b.original
}

func (b *Buffer) Prepend(s string) {
	b.intro = s + b.intro
}

func (b *Buffer) Append(s string) {
	b.outro += s
}

// Insert places s before the original character at index. Repeated inserts
// at one index keep call order.
func (b *Buffer) Insert(index int, s string) error {
	if index < 0 || index > len(b.original) {
		return fmt.Errorf("%w: %d", ErrOutOfRange, index)
	}
	if index == len(b.original) {
		b.outro += s
		return nil
	}
	i, err := b.split(index)
	if err != nil {
		return err
	}
	b.chunks[i].intro += s
	return nil
}

// Overwrite replaces original[start:end] with s. Text inserted inside the
// range is dropped; text inserted at start is kept.
func (b *Buffer) Overwrite(start, end int, s string) error {
	first, last, err := b.span(start, end)
	if err != nil {
		return err
	}
	for i := first; i < last; i++ {
		c := b.chunks[i]
		c.edited = true
		c.content = ""
		if i > first {
			c.intro = ""
		}
	}
	b.chunks[first].content = s
	return nil
}

// Remove deletes original[start:end], keeping inserted text.
func (b *Buffer) Remove(start, end int) error {
	first, last, err := b.span(start, end)
	if err != nil {
		return err
	}
	for i := first; i < last; i++ {
		b.chunks[i].edited = true
		b.chunks[i].content = ""
	}
	return nil
}

// Replace overwrites every occurrence of old in the original text and returns
// how many were replaced.
func (b *Buffer) Replace(old, replacement string) (int, error) {
	if old == "" {
		return 0, nil
	}
	n := 0
	for offset := 0; ; {
		i := strings.Index(b.original[offset:], old)
		if i < 0 {
			return n, nil
		}
		start := offset + i
		if err := b.Overwrite(start, start+len(old), replacement); err != nil {
			return n, err
		}
		n++
		offset = start + len(old)
	}
}

// ReplaceRegexp overwrites every match of re in the original text with the
// value returned by repl. Matches that repl returns unchanged stay unedited.
func (b *Buffer) ReplaceRegexp(re *regexp.Regexp, repl func(match string) string) (int, error) {
	n := 0
	for _, loc := range re.FindAllStringIndex(b.original, -1) {
		if loc[0] == loc[1] {
			continue
		}
		match := b.original[loc[0]:loc[1]]
		s := repl(match)
		if s == match {
			continue
		}
		if err := b.Overwrite(loc[0], loc[1], s); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (b *Buffer) span(start, end int) (int, int, error) {
	if start < 0 || end > len(b.original) || start >= end {
		return 0, 0, fmt.Errorf("%w: [%d, %d)", ErrOutOfRange, start, end)
	}
	first, err := b.split(start)
	if err != nil {
		return 0, 0, err
	}
	last := len(b.chunks)
	if end < len(b.original) {
		if last, err = b.split(end); err != nil {
			return 0, 0, err
		}
	}
	return first, last, nil
}

// split makes sure a chunk starts at index and returns its position.
func (b *Buffer) split(index int) (int, error) {
	i := sort.Search(len(b.chunks), func(i int) bool { return b.chunks[i].end > index })
	c := b.chunks[i]
	if c.start == index {
		return i, nil
	}
	if c.edited {
		return 0, fmt.Errorf("%w at %d", ErrEditedRange, index)
	}
	tail := &chunk{start: index, end: c.end, content: b.original[index:c.end]}
	c.end = index
	c.content = b.original[c.start:index]
	b.chunks = append(b.chunks, nil)
	copy(b.chunks[i+2:], b.chunks[i+1:])
	b.chunks[i+1] = tail
	return i + 1, nil
}

type MapOptions struct {
	Source         string
	File           string
	IncludeContent bool
}

type map_writer struct {
	mappings sourcemap.Mappings
	line     int
	column   int
}

func (w *map_writer) write(s string) {
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		s = s[size:]
		if r == '\n' {
			w.line++
			w.column = 0
			w.mappings = append(w.mappings, nil)
			continue
		}
		if r >= 0x10000 {
			w.column += 2
		} else {
			w.column++
		}
	}
}

func (w *map_writer) add(gen_column, orig_line, orig_column int) {
	segs := w.mappings[w.line]
	if n := len(segs); n > 0 && segs[n-1].GenColumn == gen_column {
		return
	}
	w.mappings[w.line] = append(segs, sourcemap.Segment{
		GenColumn:  gen_column,
		OrigLine:   orig_line,
		OrigColumn: orig_column,
		HasSource:  true,
	})
}

// GenerateMap describes String() in terms of the original text. Untouched
// text is mapped at word and punctuation boundaries, edited ranges at their
// start only.
func (b *Buffer) GenerateMap(opts MapOptions) *sourcemap.SourceMap {
	line_starts := []int{0}
	for i := 0; i < len(b.original); i++ {
		if b.original[i] == '\n' {
			line_starts = append(line_starts, i+1)
		}
	}
	position := func(offset int) (int, int) {
		line := sort.Search(len(line_starts), func(i int) bool { return line_starts[i] > offset }) - 1
		return line, sourcemap.Columns(b.original[line_starts[line]:offset])
	}

	w := &map_writer{mappings: sourcemap.Mappings{nil}}
	w.write(b.intro)
	for _, c := range b.chunks {
		w.write(c.intro)
		if c.edited {
			if c.content != "" {
				line, col := position(c.start)
				w.add(w.column, line, col)
				w.write(c.content)
			}
			continue
		}
		for offset := c.start; offset < c.end; {
			stop := strings.IndexByte(b.original[offset:c.end], '\n')
			piece_end := c.end
			if stop >= 0 {
				piece_end = offset + stop
			}
			line, col := position(offset)
			piece := b.original[offset:piece_end]
			if piece != "" {
				for _, bc := range sourcemap.BoundaryColumns(piece) {
					w.add(w.column+bc, line, col+bc)
				}
			}
			w.write(piece)
			if stop < 0 {
				break
			}
			w.write("\n")
			offset = piece_end + 1
		}
	}
	w.write(b.outro)

	m := &sourcemap.SourceMap{
		Version:  3,
		File:     opts.File,
		Sources:  []string{opts.Source},
		Names:    []string{},
		Mappings: sourcemap.Encode(w.mappings),
	}
	if opts.IncludeContent {
		content := b.original
		m.SourcesContent = []*string{&content}
	}
	return m
}
