package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	esbuild "github.com/evanw/esbuild/pkg/api"
	"github.com/spf13/cobra"

	"github.com/greuben92/bundlekit/internal/config"
	"github.com/greuben92/bundlekit/internal/watch"
	"github.com/greuben92/bundlekit/pkg/manifest"
)

var buildCmd = &cobra.Command{
	Use:   "build [entry...]",
	Short: "Bundle entry points into the output directory",
	Example: `  bundlekit build src/main.ts src/main.scss -o dist --minify
  bundlekit build --watch --entry-names "[name]-[hash]"`,
	RunE: run_build,
}

func init() {
	flags := buildCmd.Flags()
	flags.StringP("outdir", "o", "dist", "output directory")
	flags.String("format", "esm", "output format: esm, cjs, iife")
	flags.String("platform", "browser", "platform: browser, node, neutral")
	flags.Bool("bundle", true, "bundle imports into the output")
	flags.Bool("minify", false, "minify the output")
	flags.Bool("watch", false, "rebuild when files change")
	flags.String("public-path", "", "prefix for URLs of emitted files")
	flags.String("target", "es2020", "language and engine targets, e.g. es2020,chrome97")
	flags.String("entry-names", "[name]", "output name template for entry points")
	flags.Bool("clean", false, "empty the output directory first")
	flags.Bool("metafile", false, "write esbuild's metafile next to the manifest")
	flags.String("sourcemap", "linked", "source maps: none, linked, inline, external, both")
	flags.StringSlice("external", nil, "modules left out of the bundle")
	cobra.CheckErr(config.BindFlags(v, "build", flags,
		"outdir", "format", "platform", "bundle", "minify", "watch", "public-path",
		"target", "entry-names", "clean", "metafile", "sourcemap", "external"))
}

func run_build(cmd *cobra.Command, args []string) error {
	b := cfg.Build
	entries := args
	if len(entries) == 0 {
		entries = b.EntryPoints
	}
	if len(entries) == 0 {
		return errors.New("no entry points given")
	}

	opts, err := build_options(cfg, entries)
	if err != nil {
		return err
	}
	opts.Plugins, err = plugins(cfg, manifest.Plugin(manifest.Options{Metafile: b.Metafile}))
	if err != nil {
		return err
	}

	if b.Clean {
		if err := os.RemoveAll(b.Outdir); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(b.Outdir, 0750); err != nil {
		return err
	}

	if !b.Watch {
		result := esbuild.Build(opts)
		if len(result.Errors) > 0 {
			return errBuildFailed
		}
		return nil
	}
	return watch_build(opts, b.Outdir)
}

// watch_build rebuilds on every change under the working directory until
// interrupted.
func watch_build(opts esbuild.BuildOptions, outdir string) error {
	ctx, err := create_bundler(opts)
	if err != nil {
		return err
	}
	defer ctx.Dispose()

	bundler := &bundler_t{ctx: ctx}
	bundler.rebuild()

	abs_out, err := filepath.Abs(outdir)
	if err != nil {
		return err
	}
	w, err := watch.New(watch.Options{
		Root:    opts.AbsWorkingDir,
		Exclude: append([]string{abs_out}, cfg.Watch.Exclude...),
		OnChange: func(path string) {
			bundler.rebuild()
		},
	})
	if err != nil {
		return err
	}

	sig, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return w.Run(sig)
}
