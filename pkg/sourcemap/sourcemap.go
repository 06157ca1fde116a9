// Package sourcemap implements version 3 source maps: parsing, mapping
// (de)serialization, chain composition and the sourceMappingURL trailer
// conventions used by JavaScript and CSS files.
package sourcemap

import (
	"encoding/json"
	"fmt"
	"strings"
)

type SourceMap struct {
	Version        int       `json:"version"`
	File           string    `json:"file,omitempty"`
	SourceRoot     string    `json:"sourceRoot,omitempty"`
	Sources        []string  `json:"sources"`
	SourcesContent []*string `json:"sourcesContent,omitempty"`
	Names          []string  `json:"names"`
	Mappings       string    `json:"mappings"`
}

// Segment is one decoded mapping. Source, OrigLine, OrigColumn and Name are
// absolute indexes, not deltas.
type Segment struct {
	GenColumn  int
	Source     int
	OrigLine   int
	OrigColumn int
	Name       int
	HasSource  bool
	HasName    bool
}

// Mappings holds segments grouped by generated line.
type Mappings [][]Segment

func Parse(data []byte) (*SourceMap, error) {
	m := new(SourceMap)
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("sourcemap: parse: %w", err)
	}
	if m.Version != 3 {
		return nil, fmt.Errorf("sourcemap: unsupported version %d", m.Version)
	}
	return m, nil
}

func (m *SourceMap) JSON() ([]byte, error) {
	if m.Sources == nil {
		m.Sources = []string{}
	}
	if m.Names == nil {
		m.Names = []string{}
	}
	return json.Marshal(m)
}

func (m *SourceMap) Clone() *SourceMap {
	if m == nil {
		return nil
	}
	c := *m
	c.Sources = append([]string(nil), m.Sources...)
	c.Names = append([]string(nil), m.Names...)
	if m.SourcesContent != nil {
		c.SourcesContent = append([]*string(nil), m.SourcesContent...)
	}
	return &c
}

// Content returns the embedded text of source i, if any.
func (m *SourceMap) Content(i int) (string, bool) {
	if i < 0 || i >= len(m.SourcesContent) || m.SourcesContent[i] == nil {
		return "", false
	}
	return *m.SourcesContent[i], true
}

func (m *SourceMap) Decode() (Mappings, error) {
	return Decode(m.Mappings)
}

func Decode(mappings string) (Mappings, error) {
	var (
		out       = Mappings{nil}
		source    int
		orig_line int
		orig_col  int
		name      int
	)
	line := 0
	gen_col := 0
	i := 0
	for i < len(mappings) {
		switch mappings[i] {
		case ';':
			out = append(out, nil)
			line++
			gen_col = 0
			i++
			continue
		case ',':
			i++
			continue
		}

		var fields [5]int
		n := 0
		for i < len(mappings) && mappings[i] != ',' && mappings[i] != ';' {
			if n == 5 {
				return nil, fmt.Errorf("sourcemap: segment with more than 5 fields on line %d", line)
			}
			v, size, err := DecodeVLQ(mappings[i:])
			if err != nil {
				return nil, fmt.Errorf("sourcemap: line %d: %w", line, err)
			}
			fields[n] = v
			n++
			i += size
		}

		gen_col += fields[0]
		seg := Segment{GenColumn: gen_col}
		switch n {
		case 1:
		case 4, 5:
			source += fields[1]
			orig_line += fields[2]
			orig_col += fields[3]
			seg.Source, seg.OrigLine, seg.OrigColumn, seg.HasSource = source, orig_line, orig_col, true
			if n == 5 {
				name += fields[4]
				seg.Name, seg.HasName = name, true
			}
		default:
			return nil, fmt.Errorf("sourcemap: segment with %d fields on line %d", n, line)
		}
		out[line] = append(out[line], seg)
	}
	return out, nil
}

func Encode(mappings Mappings) string {
	var (
		sb        strings.Builder
		source    int
		orig_line int
		orig_col  int
		name      int
	)
	for line, segs := range mappings {
		if line > 0 {
			sb.WriteByte(';')
		}
		gen_col := 0
		for i, seg := range segs {
			if i > 0 {
				sb.WriteByte(',')
			}
			EncodeVLQ(&sb, seg.GenColumn-gen_col)
			gen_col = seg.GenColumn
			if !seg.HasSource {
				continue
			}
			EncodeVLQ(&sb, seg.Source-source)
			EncodeVLQ(&sb, seg.OrigLine-orig_line)
			EncodeVLQ(&sb, seg.OrigColumn-orig_col)
			source, orig_line, orig_col = seg.Source, seg.OrigLine, seg.OrigColumn
			if seg.HasName {
				EncodeVLQ(&sb, seg.Name-name)
				name = seg.Name
			}
		}
	}
	return sb.String()
}

// Lookup returns the segment covering generated position (line, column):
// the last segment on that line whose column is not greater than column.
func (ms Mappings) Lookup(line, column int) (Segment, bool) {
	if line < 0 || line >= len(ms) {
		return Segment{}, false
	}
	segs := ms[line]
	lo, hi := 0, len(segs)
	for lo < hi {
		mid := (lo + hi) / 2
		if segs[mid].GenColumn <= column {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return Segment{}, false
	}
	return segs[lo-1], true
}
