package transform

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"

	"github.com/greuben92/bundlekit/pkg/editbuf"
	"github.com/greuben92/bundlekit/pkg/esflags"
	"github.com/greuben92/bundlekit/pkg/sourcemap"
)

type TSOptions struct {
	// Target for the emitted JavaScript. Empty keeps the pipeline target.
	Target      string
	Format      string
	TsconfigRaw string
}

// TypeScript strips types (and JSX) with esbuild's transform API. Plain
// JavaScript passes through untouched.
func TypeScript(o TSOptions) Step {
	return func(buf *editbuf.Buffer, st State) (*StepResult, error) {
		switch st.Loader {
		case esbuild.LoaderTS, esbuild.LoaderTSX, esbuild.LoaderJSX:
		default:
			return nil, nil
		}

		target_name := o.Target
		if target_name == "" {
			target_name = st.Target
		}
		target, engines, err := esflags.Target(target_name)
		if err != nil {
			return nil, err
		}
		format, err := esflags.Format(o.Format)
		if err != nil {
			return nil, err
		}

		res := esbuild.Transform(buf.Original(), esbuild.TransformOptions{
			Loader:         st.Loader,
			Sourcefile:     st.Source,
			Sourcemap:      esbuild.SourceMapExternal,
			SourcesContent: esbuild.SourcesContentInclude,
			Target:         target,
			Engines:        engines,
			Format:         format,
			TsconfigRaw:    o.TsconfigRaw,
		})
		if err := esflags.Messages(res.Errors); err != nil {
			return nil, err
		}

		result := &StepResult{Code: string(res.Code), Loader: esbuild.LoaderJS, Target: target_name}
		if len(res.Map) > 0 {
			m, err := sourcemap.Parse(res.Map)
			if err != nil {
				return nil, fmt.Errorf("typescript %s: %w", st.Source, err)
			}
			result.Map = m
		}
		return result, nil
	}
}

var ident_path = regexp.MustCompile(`[\p{L}\p{N}_$]+(?:\.[\p{L}\p{N}_$]+)*`)

// Define replaces whole identifier paths such as process.env.NODE_ENV with
// the given expressions. A key also matches the head of a longer path, and
// longer keys win over keys they contain.
func Define(defines map[string]string) Step {
	keys := make([]string, 0, len(defines))
	for k := range defines {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	return func(buf *editbuf.Buffer, st State) (*StepResult, error) {
		_, err := buf.ReplaceRegexp(ident_path, func(path string) string {
			for _, key := range keys {
				if path == key {
					return defines[key]
				}
				if strings.HasPrefix(path, key+".") {
					return defines[key] + path[len(key):]
				}
			}
			return path
		})
		return nil, err
	}
}
