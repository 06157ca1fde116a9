package sourcemap

import (
	"errors"
	"fmt"
)

var ErrNoMaps = errors.New("sourcemap: nothing to compose")

// Compose folds a chain of maps, oldest first, into one map from the newest
// generated text back to the sources of the oldest map. Each map must
// describe the text produced by the map before it. Nil entries are skipped.
//
// Segments of the newest map are traced backwards one map at a time; a
// segment that lands on an unmapped position in any earlier map is dropped.
func Compose(maps ...*SourceMap) (*SourceMap, error) {
	chain := make([]*SourceMap, 0, len(maps))
	for _, m := range maps {
		if m != nil {
			chain = append(chain, m)
		}
	}
	if len(chain) == 0 {
		return nil, ErrNoMaps
	}
	if len(chain) == 1 {
		return chain[0].Clone(), nil
	}

	decoded := make([]Mappings, len(chain))
	for i, m := range chain {
		d, err := m.Decode()
		if err != nil {
			return nil, fmt.Errorf("sourcemap: compose map %d: %w", i, err)
		}
		decoded[i] = d
	}

	oldest := chain[0]
	last := len(chain) - 1
	name_index := map[string]int{}
	out := &SourceMap{
		Version:    3,
		File:       chain[last].File,
		SourceRoot: oldest.SourceRoot,
		Sources:    append([]string{}, oldest.Sources...),
		Names:      []string{},
	}
	if oldest.SourcesContent != nil {
		out.SourcesContent = append([]*string(nil), oldest.SourcesContent...)
	}

	result := make(Mappings, len(decoded[last]))
	for line, segs := range decoded[last] {
		for _, seg := range segs {
			if !seg.HasSource {
				continue
			}
			traced, name, ok := trace(chain, decoded, seg)
			if !ok {
				continue
			}
			traced.GenColumn = seg.GenColumn
			traced.HasName = false
			if name != "" {
				idx, seen := name_index[name]
				if !seen {
					idx = len(out.Names)
					out.Names = append(out.Names, name)
					name_index[name] = idx
				}
				traced.Name, traced.HasName = idx, true
			}
			result[line] = append(result[line], traced)
		}
	}
	out.Mappings = Encode(result)
	return out, nil
}

func trace(chain []*SourceMap, decoded []Mappings, seg Segment) (Segment, string, bool) {
	name := ""
	last := len(chain) - 1
	if seg.HasName && seg.Name < len(chain[last].Names) {
		name = chain[last].Names[seg.Name]
	}
	cur := seg
	for i := last - 1; i >= 0; i-- {
		prev, ok := decoded[i].Lookup(cur.OrigLine, cur.OrigColumn)
		if !ok || !prev.HasSource {
			return Segment{}, "", false
		}
		if prev.HasName && prev.Name < len(chain[i].Names) {
			name = chain[i].Names[prev.Name]
		}
		cur = prev
	}
	return cur, name, true
}
