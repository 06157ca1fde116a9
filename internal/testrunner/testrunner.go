// Package testrunner bundles test files with esbuild and runs them with
// node's built-in test runner, or serves them to a browser.
package testrunner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar"
	esbuild "github.com/evanw/esbuild/pkg/api"

	"github.com/greuben92/bundlekit/internal/task"
	"github.com/greuben92/bundlekit/pkg/esflags"
	"github.com/greuben92/bundlekit/pkg/manifest"
)

const (
	DefaultOutdir = ".bundlekit/test"
	DefaultRunner = "node"
)

var ErrNoSpecs = errors.New("testrunner: no test files found")

type Options struct {
	Workdir string
	// Specs are file names or glob patterns relative to Workdir.
	Specs   []string
	Exclude []string
	Outdir  string
	Runner  string
	// Coverage asks node for a coverage report.
	Coverage bool
	// Browser bundles for the browser instead of node.
	Browser bool
	Define  map[string]string
	Plugins []esbuild.Plugin
	Stdout  io.Writer
	Stderr  io.Writer
}

type Runner struct {
	opts  Options
	specs []string
}

func New(o Options) (*Runner, error) {
	if o.Workdir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		o.Workdir = wd
	}
	if o.Outdir == "" {
		o.Outdir = DefaultOutdir
	}
	if !filepath.IsAbs(o.Outdir) {
		o.Outdir = filepath.Join(o.Workdir, o.Outdir)
	}
	if o.Runner == "" {
		o.Runner = DefaultRunner
	}

	specs, err := FindSpecs(o.Workdir, o.Specs, append([]string{"node_modules", o.Outdir}, o.Exclude...))
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, ErrNoSpecs
	}
	return &Runner{opts: o, specs: specs}, nil
}

func (r *Runner) Specs() []string {
	return slices.Clone(r.specs)
}

func (r *Runner) Outdir() string {
	return r.opts.Outdir
}

// FindSpecs expands patterns into the sorted list of matching files.
// Matches inside an excluded directory are dropped.
func FindSpecs(workdir string, patterns []string, exclude []string) ([]string, error) {
	var specs []string
	for _, pattern := range patterns {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(workdir, pattern)
		}
		matches, err := doublestar.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("testrunner: bad pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || info.IsDir() || excluded(workdir, m, exclude) {
				continue
			}
			if !slices.Contains(specs, m) {
				specs = append(specs, m)
			}
		}
	}
	slices.Sort(specs)
	return specs, nil
}

func excluded(workdir, path string, exclude []string) bool {
	rel, err := filepath.Rel(workdir, path)
	if err != nil {
		return false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for _, e := range exclude {
		if filepath.IsAbs(e) {
			if strings.HasPrefix(path, e+string(filepath.Separator)) {
				return true
			}
			continue
		}
		if slices.Contains(parts[:len(parts)-1], filepath.ToSlash(e)) || strings.HasPrefix(filepath.ToSlash(rel), filepath.ToSlash(e)+"/") {
			return true
		}
	}
	return false
}

// BuildOptions bundles every spec into Outdir, one output per spec.
func (r *Runner) BuildOptions() esbuild.BuildOptions {
	opts := esbuild.BuildOptions{
		AbsWorkingDir: r.opts.Workdir,
		EntryPoints:   r.specs,
		Outbase:       r.opts.Workdir,
		Outdir:        r.opts.Outdir,
		Bundle:        true,
		Write:         true,
		Metafile:      true,
		Format:        esbuild.FormatESModule,
		Sourcemap:     esbuild.SourceMapLinked,
		Target:        esbuild.ESNext,
		Define:        r.opts.Define,
		LogLevel:      esbuild.LogLevelWarning,
		Plugins:       r.opts.Plugins,
	}
	if r.opts.Browser {
		opts.Platform = esbuild.PlatformBrowser
	} else {
		opts.Platform = esbuild.PlatformNode
		opts.Packages = esbuild.PackagesExternal
		opts.OutExtension = map[string]string{".js": ".mjs"}
	}
	return opts
}

// Outputs lists the bundled test files of a build, relative to Outdir,
// in spec order.
func (r *Runner) Outputs(result esbuild.BuildResult) ([]string, error) {
	if err := esflags.Messages(result.Errors); err != nil {
		return nil, err
	}
	m, err := manifest.Build(result.Metafile, r.opts.Workdir, r.opts.Outdir)
	if err != nil {
		return nil, err
	}
	outputs := make([]string, 0, len(m))
	for _, spec := range r.specs {
		rel, err := filepath.Rel(r.opts.Workdir, spec)
		if err != nil {
			return nil, err
		}
		if out, ok := m[filepath.ToSlash(rel)]; ok {
			outputs = append(outputs, out)
		}
	}
	return outputs, nil
}

func (r *Runner) Build() ([]string, error) {
	if err := os.RemoveAll(r.opts.Outdir); err != nil {
		return nil, err
	}
	slog.Info("building tests", "files", len(r.specs))
	return r.Outputs(esbuild.Build(r.BuildOptions()))
}

// Args is the runner command line for the given outputs.
func (r *Runner) Args(outputs []string) []string {
	args := []string{"--test", "--enable-source-maps"}
	if r.opts.Coverage {
		args = append(args, "--experimental-test-coverage")
	}
	for _, out := range outputs {
		args = append(args, filepath.Join(r.opts.Outdir, filepath.FromSlash(out)))
	}
	return args
}

func (r *Runner) task_options() task.Options {
	return task.Options{Dir: r.opts.Workdir, Stdout: r.opts.Stdout, Stderr: r.opts.Stderr}
}

// Start runs the built outputs without waiting for them.
func (r *Runner) Start(outputs []string) (*task.Task, error) {
	return task.Start(r.task_options(), r.opts.Runner, r.Args(outputs)...)
}

// Run builds and runs the tests once. The runner is stopped when ctx is
// done.
func (r *Runner) Run(ctx context.Context) error {
	outputs, err := r.Build()
	if err != nil {
		return err
	}
	t, err := r.Start(outputs)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- t.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if err := t.Stop(); err != nil && !errors.Is(err, task.ErrNotRunning) {
			return err
		}
		return ctx.Err()
	}
}

// Open shows url in the default browser.
func Open(url string) error {
	prog := "xdg-open"
	switch runtime.GOOS {
	case "darwin":
		prog = "open"
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	}
	return exec.Command(prog, url).Start()
}
