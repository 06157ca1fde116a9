package sourcemap

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var url_comment = regexp.MustCompile(`(?m)^[ \t]*(?://|/\*)[#@][ \t]+sourceMappingURL=([^\s'"*]+)[ \t]*(?:\*/)?[ \t]*\r?\n?`)

// FindURL returns the target of the last sourceMappingURL comment in code.
func FindURL(code string) string {
	matches := url_comment.FindAllStringSubmatch(code, -1)
	if len(matches) == 0 {
		return ""
	}
	return matches[len(matches)-1][1]
}

// StripComment removes every sourceMappingURL comment from code.
func StripComment(code string) string {
	return url_comment.ReplaceAllString(code, "")
}

// Comment renders a trailer line pointing at target. CSS files need the
// block comment form.
func Comment(target string, css bool) string {
	if css {
		return "/*# sourceMappingURL=" + target + " */"
	}
	return "//# sourceMappingURL=" + target
}

func DataURI(m *SourceMap) (string, error) {
	b, err := m.JSON()
	if err != nil {
		return "", err
	}
	return "data:application/json;charset=utf-8;base64," + base64.StdEncoding.EncodeToString(b), nil
}

// AppendInline appends a data URI trailer for m to code.
func AppendInline(code string, m *SourceMap, css bool) (string, error) {
	uri, err := DataURI(m)
	if err != nil {
		return "", err
	}
	if code != "" && !strings.HasSuffix(code, "\n") {
		code += "\n"
	}
	return code + Comment(uri, css) + "\n", nil
}

// FromCode loads the map referenced by code's trailer, either embedded as a
// data URI or stored in a file relative to filename. It returns nil and no
// error when code carries no trailer.
func FromCode(code, filename string) (*SourceMap, error) {
	target := FindURL(code)
	if target == "" {
		return nil, nil
	}
	if strings.HasPrefix(target, "data:") {
		data, err := decode_data_uri(target)
		if err != nil {
			return nil, err
		}
		return Parse(data)
	}

	path := target
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if strings.HasPrefix(path, "file://") {
		u, err := url.Parse(path)
		if err != nil {
			return nil, fmt.Errorf("sourcemap: bad url %q: %w", target, err)
		}
		path = u.Path
	} else if unescaped, err := url.PathUnescape(path); err == nil {
		path = unescaped
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(filename), filepath.FromSlash(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sourcemap: read %s: %w", path, err)
	}
	return Parse(data)
}

func decode_data_uri(uri string) ([]byte, error) {
	comma := strings.IndexByte(uri, ',')
	if comma < 0 {
		return nil, fmt.Errorf("sourcemap: malformed data uri")
	}
	header, payload := uri[len("data:"):comma], uri[comma+1:]
	if !strings.HasPrefix(header, "application/json") {
		return nil, fmt.Errorf("sourcemap: unexpected data uri media type %q", header)
	}
	if strings.HasSuffix(header, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		}
		if err != nil {
			return nil, fmt.Errorf("sourcemap: data uri: %w", err)
		}
		return data, nil
	}
	s, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("sourcemap: data uri: %w", err)
	}
	return []byte(s), nil
}
