package main

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	esbuild "github.com/evanw/esbuild/pkg/api"

	"github.com/greuben92/bundlekit/internal/config"
	"github.com/greuben92/bundlekit/pkg/emit"
	"github.com/greuben92/bundlekit/pkg/esflags"
	"github.com/greuben92/bundlekit/pkg/sass"
	"github.com/greuben92/bundlekit/pkg/transform"
)

// plugins are the plugins every command builds with, followed by extra.
func plugins(c *config.Config, extra ...esbuild.Plugin) ([]esbuild.Plugin, error) {
	defines, err := c.Transform.Defines()
	if err != nil {
		return nil, err
	}
	list := []esbuild.Plugin{
		emit.Plugin(emit.Options{
			MaxDepth:        c.Emit.MaxDepth,
			SubBuildExclude: c.Emit.SubBuildExclude,
		}),
		sass.Plugin(sass.PluginOptions{
			Binary:       c.Sass.Binary,
			IncludePaths: c.Sass.IncludePaths,
			Style:        c.Sass.Style,
		}),
		transform.Plugin(transform.PluginOptions{Define: defines}),
	}
	return append(list, extra...), nil
}

func build_options(c *config.Config, entries []string) (esbuild.BuildOptions, error) {
	b := c.Build
	format, err := esflags.Format(b.Format)
	if err != nil {
		return esbuild.BuildOptions{}, err
	}
	platform, err := esflags.Platform(b.Platform)
	if err != nil {
		return esbuild.BuildOptions{}, err
	}
	target, engines, err := esflags.Target(b.Target)
	if err != nil {
		return esbuild.BuildOptions{}, err
	}
	sourcemap, err := esflags.Sourcemap(b.Sourcemap)
	if err != nil {
		return esbuild.BuildOptions{}, err
	}
	defines, err := c.Transform.Defines()
	if err != nil {
		return esbuild.BuildOptions{}, err
	}
	wd, err := os.Getwd()
	if err != nil {
		return esbuild.BuildOptions{}, err
	}

	return esbuild.BuildOptions{
		AbsWorkingDir:     wd,
		EntryPoints:       entries,
		EntryNames:        b.EntryNames,
		Bundle:            b.Bundle,
		Write:             true,
		Metafile:          true,
		Outdir:            b.Outdir,
		Format:            format,
		Platform:          platform,
		PublicPath:        b.PublicPath,
		External:          b.External,
		Define:            defines,
		MinifySyntax:      b.Minify,
		MinifyWhitespace:  b.Minify,
		MinifyIdentifiers: b.Minify,
		Sourcemap:         sourcemap,
		Target:            target,
		Engines:           engines,
		LogLimit:          6,
		LogLevel:          esbuild.LogLevelInfo,
	}, nil
}

func create_bundler(opts esbuild.BuildOptions) (esbuild.BuildContext, error) {
	ctx, err := esbuild.Context(opts)
	if err != nil {
		return nil, fmt.Errorf("esbuild context error: %w", esflags.Messages(err.Errors))
	}
	return ctx, nil
}

type bundler_t struct {
	mutex sync.Mutex
	ctx   esbuild.BuildContext
}

// rebuild reports whether the build succeeded. esbuild prints the
// diagnostics itself.
func (b *bundler_t) rebuild() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	slog.Info("building assets")
	result := b.ctx.Rebuild()
	if len(result.Errors) > 0 {
		slog.Error("esbuild error", "errors", len(result.Errors))
		return false
	}
	if len(result.Warnings) > 0 {
		slog.Warn("esbuild warnings", "warnings", len(result.Warnings))
	}
	return true
}
