package emit

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

type Kind string

const (
	KindFile  Kind = "file"
	KindChunk Kind = "chunk"
)

const (
	param_emit      = "emit"
	param_transform = "transform"
)

// ChunkOptions is the transform blob carried by a chunk marker and applied
// on top of the inherited build options of the chunk sub-build.
type ChunkOptions struct {
	Format     string            `json:"format,omitempty"`
	Platform   string            `json:"platform,omitempty"`
	Target     string            `json:"target,omitempty"`
	Minify     *bool             `json:"minify,omitempty"`
	Sourcemap  string            `json:"sourcemap,omitempty"`
	Define     map[string]string `json:"define,omitempty"`
	External   []string          `json:"external,omitempty"`
	EntryNames string            `json:"entryNames,omitempty"`
}

// Specifier is an import path with its emit markers split off.
type Specifier struct {
	Path      string
	Kind      Kind
	Transform *ChunkOptions
}

func split_query(spec string) (string, string) {
	if i := strings.IndexByte(spec, '?'); i >= 0 {
		return spec[:i], spec[i+1:]
	}
	return spec, ""
}

func has_marker(query string) bool {
	for _, part := range strings.Split(query, "&") {
		if part == param_emit || strings.HasPrefix(part, param_emit+"=") {
			return true
		}
	}
	return false
}

func with_params(spec string, params ...string) string {
	sep := "?"
	if strings.Contains(spec, "?") {
		sep = "&"
	}
	return spec + sep + strings.Join(params, "&")
}

// File marks path to be emitted as a file asset. Paths that already carry
// an emit marker are returned unchanged.
func File(path string) string {
	if _, query := split_query(path); has_marker(query) {
		return path
	}
	return with_params(path, param_emit+"="+string(KindFile))
}

// Chunk marks path to be built as a separate chunk whose output is emitted
// as a file asset. Paths that already carry an emit marker are returned
// unchanged.
func Chunk(path string, opts *ChunkOptions) (string, error) {
	if _, query := split_query(path); has_marker(query) {
		return path, nil
	}
	params := []string{param_emit + "=" + string(KindChunk)}
	if opts != nil {
		b, err := json.Marshal(opts)
		if err != nil {
			return "", fmt.Errorf("emit: encode transform: %w", err)
		}
		params = append(params, param_transform+"="+url.QueryEscape(string(b)))
	}
	return with_params(path, params...), nil
}

// ParseSpecifier splits emit markers off spec. Query parameters other than
// the markers stay on the path. ok is false when spec carries no valid
// marker.
func ParseSpecifier(spec string) (Specifier, bool, error) {
	path, query := split_query(spec)
	if query == "" {
		return Specifier{Path: spec}, false, nil
	}

	var (
		out  = Specifier{}
		kept []string
		blob string
	)
	for _, part := range strings.Split(query, "&") {
		key, value, _ := strings.Cut(part, "=")
		switch key {
		case param_emit:
			out.Kind = Kind(value)
		case param_transform:
			blob = value
		default:
			if part != "" {
				kept = append(kept, part)
			}
		}
	}

	if out.Kind != KindFile && out.Kind != KindChunk {
		return Specifier{Path: spec}, false, nil
	}
	out.Path = path
	if len(kept) > 0 {
		out.Path += "?" + strings.Join(kept, "&")
	}
	if out.Kind == KindChunk && blob != "" {
		raw, err := url.QueryUnescape(blob)
		if err != nil {
			return out, true, fmt.Errorf("emit: transform parameter: %w", err)
		}
		out.Transform = new(ChunkOptions)
		if err := json.Unmarshal([]byte(raw), out.Transform); err != nil {
			return out, true, fmt.Errorf("emit: transform parameter: %w", err)
		}
	}
	return out, true, nil
}
