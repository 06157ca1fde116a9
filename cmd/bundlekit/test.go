package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"

	"github.com/a-h/templ"
	"github.com/spf13/cobra"

	"github.com/greuben92/bundlekit/internal/config"
	"github.com/greuben92/bundlekit/internal/devserver"
	"github.com/greuben92/bundlekit/internal/task"
	"github.com/greuben92/bundlekit/internal/testrunner"
	"github.com/greuben92/bundlekit/internal/watch"
	"github.com/greuben92/bundlekit/pkg/manifest"
)

var testCmd = &cobra.Command{
	Use:   "test [specs...]",
	Short: "Bundle test files and run them with node, or in the browser",
	RunE:  run_test,
}

func init() {
	flags := testCmd.Flags()
	flags.Bool("watch", false, "rerun the tests when files change")
	flags.Bool("coverage", false, "report coverage")
	flags.Bool("open", false, "run the tests in the browser")
	cobra.CheckErr(config.BindFlags(v, "test", flags, "watch", "coverage", "open"))
}

func run_test(cmd *cobra.Command, args []string) error {
	t := cfg.Test
	specs := args
	if len(specs) == 0 {
		specs = t.Specs
	}
	defines, err := cfg.Transform.Defines()
	if err != nil {
		return err
	}
	list, err := plugins(cfg)
	if err != nil {
		return err
	}
	r, err := testrunner.New(testrunner.Options{
		Specs:    specs,
		Exclude:  cfg.Watch.Exclude,
		Outdir:   t.Outdir,
		Runner:   t.Runner,
		Coverage: t.Coverage,
		Browser:  t.Open,
		Define:   defines,
		Plugins:  list,
	})
	if err != nil {
		return err
	}

	if t.Open {
		return open_tests(r)
	}
	sig, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if !t.Watch {
		return r.Run(sig)
	}
	return watch_tests(sig, r)
}

// watch_tests rebuilds and reruns the tests after every change.
func watch_tests(ctx context.Context, r *testrunner.Runner) error {
	var (
		mutex  sync.Mutex
		runner *task.Task
	)
	rerun := func() {
		mutex.Lock()
		defer mutex.Unlock()

		outputs, err := r.Build()
		if err != nil {
			slog.Error("failed to build tests", "error", err)
			return
		}
		if runner == nil {
			if runner, err = r.Start(outputs); err != nil {
				slog.Error("failed to start tests", "error", err)
			}
			return
		}
		if err := runner.Restart(); err != nil {
			slog.Error("failed to restart tests", "error", err)
		}
	}
	rerun()

	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	w, err := watch.New(watch.Options{
		Root:     wd,
		Exclude:  append([]string{r.Outdir()}, cfg.Watch.Exclude...),
		OnChange: func(string) { rerun() },
	})
	if err != nil {
		return err
	}
	err = w.Run(ctx)

	mutex.Lock()
	defer mutex.Unlock()
	if runner != nil {
		if err := runner.Stop(); err != nil && !errors.Is(err, task.ErrNotRunning) {
			slog.Error("failed to stop tests", "error", err)
		}
	}
	return err
}

// open_tests serves the test bundles in a harness page and opens it.
func open_tests(r *testrunner.Runner) error {
	srv := devserver.New(devserver.Options{
		Host: cfg.Serve.Host,
		Port: cfg.Serve.Port,
		Page: func(m manifest.Manifest) templ.Component {
			scripts := make([]string, 0, len(m))
			for _, out := range m {
				scripts = append(scripts, "/"+out)
			}
			slices.Sort(scripts)
			return devserver.Harness(devserver.HarnessData{Title: "bundlekit tests", Scripts: scripts})
		},
	})

	opts := r.BuildOptions()
	opts.Write = false
	opts.Plugins = append(slices.Clone(opts.Plugins), srv.Plugin())
	return serve(opts, srv, r.Outdir(), func(page string) {
		if err := testrunner.Open(page); err != nil {
			slog.Warn("failed to open browser", "url", page, "error", err)
		}
	})
}
