// Package sass resolves stylesheet imports the way Sass users coming from
// webpack expect (legacy "~" prefixes, partials, node_modules packages) and
// compiles .scss/.sass files for esbuild through Dart Sass.
package sass

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/buger/jsonparser"
)

var ErrNotFound = errors.New("sass: import not found")

var DefaultExtensions = []string{".scss", ".sass", ".css"}

type Options struct {
	Extensions   []string
	IncludePaths []string
	// Root is used as the base directory for imports without an importer.
	// Defaults to the working directory.
	Root string
}

// Result of a resolution. Empty is set when Path was already handed out by
// the same resolver; the caller should include nothing for it.
type Result struct {
	Path       string
	Empty      bool
	Unresolved string
}

// Resolver remembers every stylesheet it resolved so that a file imported
// from several places is only included once. Use one Resolver per
// compilation; it is not safe for concurrent use.
type Resolver struct {
	opts     Options
	resolved map[string]bool
	order    []string
}

func NewResolver(o Options) *Resolver {
	if len(o.Extensions) == 0 {
		o.Extensions = DefaultExtensions
	}
	if o.Root == "" {
		o.Root, _ = os.Getwd()
	}
	return &Resolver{opts: o, resolved: map[string]bool{}}
}

// Resolved lists the files resolved so far, in resolution order.
func (r *Resolver) Resolved() []string {
	return slices.Clone(r.order)
}

// Normalize strips the legacy "~" and "package:" module prefixes and turns
// file URLs into paths.
func Normalize(u string) string {
	switch {
	case strings.HasPrefix(u, "file://"):
		if parsed, err := url.Parse(u); err == nil {
			return filepath.FromSlash(parsed.Path)
		}
		return strings.TrimPrefix(u, "file://")
	case strings.HasPrefix(u, "package:"):
		return strings.TrimPrefix(u, "package:")
	case strings.HasPrefix(u, "~"):
		return strings.TrimPrefix(strings.TrimPrefix(u, "~"), "/")
	}
	return u
}

func partial(p string) string {
	dir, base := path.Split(p)
	if strings.HasPrefix(base, "_") {
		return ""
	}
	return dir + "_" + base
}

// Candidates expands an import into the file names Sass would look for: the
// name itself and its "_" partial for every extension, followed by the
// index files of a directory of that name.
func Candidates(u string, exts []string) []string {
	u = filepath.ToSlash(u)
	var out []string
	add := func(c string) {
		if c != "" && !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	if slices.Contains(exts, path.Ext(u)) {
		add(u)
		if p := partial(u); p != "" {
			add(p)
		}
		return out
	}
	for _, ext := range exts {
		add(u + ext)
		if p := partial(u); p != "" {
			add(p + ext)
		}
	}
	for _, ext := range exts {
		add(u + "/index" + ext)
		add(u + "/_index" + ext)
	}
	return out
}

func is_relative(u string) bool {
	return u == "." || u == ".." || strings.HasPrefix(u, "./") || strings.HasPrefix(u, "../")
}

func is_file(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// node_modules lists node_modules directories from dir up to the root.
func node_modules(dir string) []string {
	var dirs []string
	for {
		if filepath.Base(dir) != "node_modules" {
			nm := filepath.Join(dir, "node_modules")
			if info, err := os.Stat(nm); err == nil && info.IsDir() {
				dirs = append(dirs, nm)
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dirs
		}
		dir = parent
	}
}

// package_name splits "@scope/pkg/sub/file" into "@scope/pkg" and "sub/file".
func package_name(u string) (string, string) {
	parts := strings.SplitN(u, "/", 3)
	if strings.HasPrefix(u, "@") && len(parts) >= 2 {
		name := parts[0] + "/" + parts[1]
		return name, strings.TrimPrefix(strings.TrimPrefix(u, name), "/")
	}
	name, sub, _ := strings.Cut(u, "/")
	return name, sub
}

// Resolve finds the stylesheet imported as u from the file prev. Relative
// imports are looked up next to prev; bare imports next to prev, then in
// the include paths, then in node_modules directories up from prev.
func (r *Resolver) Resolve(u, prev string) (Result, error) {
	norm := Normalize(u)
	base := r.opts.Root
	if prev != "" {
		base = filepath.Dir(Normalize(prev))
	}

	var dirs []string
	switch {
	case filepath.IsAbs(norm):
		dirs = []string{""}
	case is_relative(norm):
		dirs = []string{base}
	default:
		dirs = append([]string{base}, r.opts.IncludePaths...)
		dirs = append(dirs, node_modules(base)...)
	}

	for _, c := range Candidates(norm, r.opts.Extensions) {
		for _, dir := range dirs {
			p := filepath.FromSlash(c)
			if dir != "" {
				p = filepath.Join(dir, p)
			}
			if is_file(p) {
				return r.hit(p), nil
			}
		}
	}

	if !filepath.IsAbs(norm) && !is_relative(norm) {
		if p, ok := r.package_entry(norm, base); ok {
			return r.hit(p), nil
		}
	}
	return Result{Unresolved: u}, fmt.Errorf("%w: %s", ErrNotFound, u)
}

// package_entry resolves a bare package import through the "sass" or
// "style" field of its package.json.
func (r *Resolver) package_entry(u, base string) (string, bool) {
	name, sub := package_name(u)
	if sub != "" {
		return "", false
	}
	for _, nm := range node_modules(base) {
		dir := filepath.Join(nm, name)
		data, err := os.ReadFile(filepath.Join(dir, "package.json"))
		if err != nil {
			continue
		}
		for _, field := range []string{"sass", "style"} {
			entry, err := jsonparser.GetString(data, field)
			if err != nil || entry == "" {
				continue
			}
			p := filepath.Join(dir, filepath.FromSlash(entry))
			if is_file(p) {
				return p, true
			}
		}
	}
	return "", false
}

func (r *Resolver) hit(p string) Result {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	if r.resolved[p] {
		return Result{Path: p, Empty: true}
	}
	r.resolved[p] = true
	r.order = append(r.order, p)
	return Result{Path: p}
}
