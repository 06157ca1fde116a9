package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	esbuild "github.com/evanw/esbuild/pkg/api"
	"github.com/spf13/cobra"

	"github.com/greuben92/bundlekit/internal/config"
	"github.com/greuben92/bundlekit/internal/devserver"
	"github.com/greuben92/bundlekit/pkg/manifest"
)

var serveCmd = &cobra.Command{
	Use:   "serve [root]",
	Short: "Serve a directory, rebuilding entry points and reloading the browser on change",
	Args:  cobra.MaximumNArgs(1),
	RunE:  run_serve,
}

func init() {
	flags := serveCmd.Flags()
	flags.IntP("port", "p", 8000, "port to listen on")
	flags.String("host", "localhost", "host to listen on")
	flags.Bool("metafile", false, "also write the manifest and esbuild's metafile to disk")
	flags.StringSlice("entrypoints", nil, "entry points to build (default is build.entry_points)")
	cobra.CheckErr(config.BindFlags(v, "serve", flags, "port", "host", "metafile"))
	cobra.CheckErr(v.BindPFlag("serve.entry_points", flags.Lookup("entrypoints")))
}

// free_port asks the kernel for an unused local port for esbuild.
func free_port() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// serve_outdir keeps the output directory inside the absolute root so
// esbuild can serve it.
func serve_outdir(root, outdir string) (string, error) {
	abs_out, err := filepath.Abs(outdir)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, abs_out)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.Join(root, filepath.Base(abs_out)), nil
	}
	return abs_out, nil
}

func run_serve(cmd *cobra.Command, args []string) error {
	s := cfg.Serve
	root := s.Root
	if len(args) == 1 {
		root = args[0]
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	entries := s.EntryPoints
	if len(entries) == 0 {
		entries = cfg.Build.EntryPoints
	}
	if len(entries) == 0 {
		return errors.New("no entry points given")
	}

	opts, err := build_options(cfg, entries)
	if err != nil {
		return err
	}
	opts.Write = false
	if opts.Outdir, err = serve_outdir(root, cfg.Build.Outdir); err != nil {
		return err
	}
	assets, err := filepath.Rel(root, opts.Outdir)
	if err != nil {
		return err
	}

	srv := devserver.New(devserver.Options{
		Host:        s.Host,
		Port:        s.Port,
		Root:        root,
		AssetsPath:  filepath.ToSlash(assets),
		ManifestDir: opts.Outdir,
	})
	extra := []esbuild.Plugin{srv.Plugin()}
	if s.Metafile {
		extra = append(extra, manifest.Plugin(manifest.Options{Metafile: true}))
	}
	if opts.Plugins, err = plugins(cfg, extra...); err != nil {
		return err
	}
	return serve(opts, srv, root, nil)
}

// serve runs the esbuild context behind srv until interrupted. opened, when
// set, receives the page URL once the server listens.
func serve(opts esbuild.BuildOptions, srv *devserver.Server, servedir string, opened func(url string)) error {
	if err := os.MkdirAll(opts.Outdir, 0750); err != nil {
		return err
	}
	ctx, err := create_bundler(opts)
	if err != nil {
		return err
	}
	defer ctx.Dispose()

	if err := ctx.Watch(esbuild.WatchOptions{}); err != nil {
		return err
	}
	port, err := free_port()
	if err != nil {
		return err
	}
	result, err := ctx.Serve(esbuild.ServeOptions{
		Host:     "127.0.0.1",
		Port:     uint16(port),
		Servedir: servedir,
	})
	if err != nil {
		return err
	}
	srv.SetUpstream(&url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(result.Host, strconv.Itoa(int(result.Port))),
	})

	sig, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.ListenAndServe(sig, func(addr string) {
		page := "http://" + addr
		slog.Info("starting server", "url", page)
		if opened != nil {
			opened(page)
		}
	})
}
