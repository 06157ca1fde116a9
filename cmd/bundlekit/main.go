package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/greuben92/bundlekit/internal/config"
)

var errBuildFailed = errors.New("build failed")

var (
	// Global flags
	cfgFile  string
	logLevel string

	v   = viper.New()
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "bundlekit",
	Short: "Build, serve and test web assets with esbuild",
	Long: `bundlekit bundles JavaScript, TypeScript and Sass with esbuild.

Imports can be marked to emit files or separately built chunks:
  import logo from "./logo.svg?emit=file"
  import worker from "./worker.ts?emit=chunk"

Settings are read from bundlekit.yaml, BUNDLEKIT_* environment variables
and flags, in increasing precedence.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		level, err := config.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./bundlekit.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level: debug, info, warn, error")
	cobra.CheckErr(config.BindFlags(v, "", rootCmd.PersistentFlags(), "log-level"))

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(testCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
