package emit

import (
	"encoding/json"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

// Metafile is the subset of esbuild's metafile used to map outputs back to
// their entry points.
type Metafile struct {
	Inputs  map[string]json.RawMessage `json:"inputs"`
	Outputs map[string]MetafileOutput  `json:"outputs"`
}

type MetafileOutput struct {
	EntryPoint string `json:"entryPoint"`
}

func ParseMetafile(s string) (*Metafile, error) {
	m := new(Metafile)
	if s == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), m); err != nil {
		return nil, err
	}
	return m, nil
}

// InputFiles lists the absolute paths of the file-namespace inputs.
func (m *Metafile) InputFiles(workdir string) []string {
	var files []string
	for key := range m.Inputs {
		if i := strings.IndexByte(key, ':'); i > 1 {
			// namespaced input such as "emit-chunk:..."; a single letter
			// before the colon is a windows drive
			continue
		}
		files = append(files, resolve(workdir, key))
	}
	sort.Strings(files)
	return files
}

func resolve(workdir, path string) string {
	path = filepath.FromSlash(path)
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(workdir, path)
}

// SelectOutput picks, among the non-map outputs, the one esbuild reports as
// built from entry. Without such an output it falls back to the first
// non-map output.
func SelectOutput(files []esbuild.OutputFile, meta *Metafile, workdir, entry string) (esbuild.OutputFile, bool) {
	var candidates []esbuild.OutputFile
	for _, f := range files {
		if !strings.HasSuffix(f.Path, ".map") {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return esbuild.OutputFile{}, false
	}

	entry = filepath.Clean(entry)
	for _, f := range candidates {
		rel, err := filepath.Rel(workdir, f.Path)
		if err != nil {
			continue
		}
		out, ok := meta.Outputs[filepath.ToSlash(rel)]
		if ok && out.EntryPoint != "" && resolve(workdir, out.EntryPoint) == entry {
			return f, true
		}
	}

	if len(candidates) > 1 {
		slog.Warn("no chunk output matches its entry point, using the first one",
			"entry", entry, "output", candidates[0].Path, "outputs", len(candidates))
	}
	return candidates[0], true
}
