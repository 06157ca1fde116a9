// Package manifest writes esbuild's metafile and an entry point manifest
// next to the build output once a build ends.
package manifest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

const (
	Name         = "manifest"
	ManifestFile = "manifest.json"
	MetafileFile = "metafile.json"
)

type Options struct {
	// Dir receives the files. Defaults to the build's outdir.
	Dir string
	// Metafile also writes esbuild's raw metafile.
	Metafile bool
	// OnWrite is called with the manifest after a successful build.
	OnWrite func(Manifest)
}

// Manifest maps entry points, as esbuild reports them, to output paths
// relative to the output directory.
type Manifest map[string]string

type metafile struct {
	Outputs map[string]metafile_output `json:"outputs"`
}

type metafile_output struct {
	EntryPoint string `json:"entryPoint"`
}

// Plugin requires the build to run with Metafile enabled; it turns it on
// when the initial options leave it off.
func Plugin(o Options) esbuild.Plugin {
	return esbuild.Plugin{
		Name: Name,
		Setup: func(pb esbuild.PluginBuild) {
			pb.InitialOptions.Metafile = true
			dir := o.Dir
			if dir == "" {
				dir = pb.InitialOptions.Outdir
				if dir == "" && pb.InitialOptions.Outfile != "" {
					dir = filepath.Dir(pb.InitialOptions.Outfile)
				}
			}
			workdir := pb.InitialOptions.AbsWorkingDir

			pb.OnEnd(func(result *esbuild.BuildResult) (esbuild.OnEndResult, error) {
				if len(result.Errors) > 0 {
					return esbuild.OnEndResult{}, nil
				}
				m, err := Build(result.Metafile, workdir, dir)
				if err != nil {
					slog.Error("esbuild metafile", "error", err)
					return esbuild.OnEndResult{}, nil
				}
				if err := Write(dir, m, result.Metafile, o.Metafile); err != nil {
					slog.Error("failed to write manifest file", "error", err)
					return esbuild.OnEndResult{}, nil
				}
				if o.OnWrite != nil {
					o.OnWrite(m)
				}
				return esbuild.OnEndResult{}, nil
			})
		},
	}
}

// Build derives the manifest from a metafile. Output keys in the metafile
// are relative to workdir; the manifest values are relative to outdir.
func Build(meta string, workdir, outdir string) (Manifest, error) {
	mfile := new(metafile)
	if err := json.Unmarshal([]byte(meta), mfile); err != nil {
		return nil, err
	}
	if workdir == "" {
		workdir, _ = os.Getwd()
	}
	abs_out := outdir
	if !filepath.IsAbs(abs_out) {
		abs_out = filepath.Join(workdir, abs_out)
	}

	m := Manifest{}
	for filename, output := range mfile.Outputs {
		if output.EntryPoint == "" {
			continue
		}
		rel, err := filepath.Rel(abs_out, filepath.Join(workdir, filepath.FromSlash(filename)))
		if err != nil {
			rel = filename
		}
		m[output.EntryPoint] = filepath.ToSlash(rel)
	}
	return m, nil
}

func Write(dir string, m Manifest, meta string, with_metafile bool) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), b, 0644); err != nil {
		return err
	}
	if with_metafile {
		return os.WriteFile(filepath.Join(dir, MetafileFile), []byte(meta), 0644)
	}
	return nil
}

func Read(dir string) (Manifest, error) {
	b, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", ManifestFile, err)
	}
	return m, nil
}
