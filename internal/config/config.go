// Package config loads bundlekit settings from bundlekit.yaml, BUNDLEKIT_*
// environment variables and command line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	FileName  = "bundlekit"
	EnvPrefix = "BUNDLEKIT"
)

type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	Build     BuildConfig     `mapstructure:"build"`
	Serve     ServeConfig     `mapstructure:"serve"`
	Test      TestConfig      `mapstructure:"test"`
	Sass      SassConfig      `mapstructure:"sass"`
	Emit      EmitConfig      `mapstructure:"emit"`
	Transform TransformConfig `mapstructure:"transform"`
	Watch     WatchConfig     `mapstructure:"watch"`
}

type BuildConfig struct {
	EntryPoints []string `mapstructure:"entry_points"`
	Outdir      string   `mapstructure:"outdir"`
	Format      string   `mapstructure:"format"`
	Platform    string   `mapstructure:"platform"`
	Bundle      bool     `mapstructure:"bundle"`
	Minify      bool     `mapstructure:"minify"`
	Watch       bool     `mapstructure:"watch"`
	PublicPath  string   `mapstructure:"public_path"`
	Target      string   `mapstructure:"target"`
	EntryNames  string   `mapstructure:"entry_names"`
	Clean       bool     `mapstructure:"clean"`
	Metafile    bool     `mapstructure:"metafile"`
	Sourcemap   string   `mapstructure:"sourcemap"`
	External    []string `mapstructure:"external"`
}

type ServeConfig struct {
	Root        string   `mapstructure:"root"`
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	Metafile    bool     `mapstructure:"metafile"`
	EntryPoints []string `mapstructure:"entry_points"`
}

type TestConfig struct {
	Specs    []string `mapstructure:"specs"`
	Outdir   string   `mapstructure:"outdir"`
	Runner   string   `mapstructure:"runner"`
	Watch    bool     `mapstructure:"watch"`
	Coverage bool     `mapstructure:"coverage"`
	Open     bool     `mapstructure:"open"`
}

type SassConfig struct {
	Binary       string   `mapstructure:"binary"`
	IncludePaths []string `mapstructure:"include_paths"`
	Style        string   `mapstructure:"style"`
}

type EmitConfig struct {
	MaxDepth int `mapstructure:"max_depth"`

	// SubBuildExclude names the plugins chunk sub-builds run without.
	SubBuildExclude []string `mapstructure:"sub_build_exclude"`
}

// Define entries are KEY=VALUE strings; viper lowercases map keys and
// identifiers are case sensitive.
type TransformConfig struct {
	Define []string `mapstructure:"define"`
}

func (c TransformConfig) Defines() (map[string]string, error) {
	if len(c.Define) == 0 {
		return nil, nil
	}
	defines := make(map[string]string, len(c.Define))
	for _, d := range c.Define {
		key, value, ok := strings.Cut(d, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid define %q, expected KEY=VALUE", d)
		}
		defines[key] = value
	}
	return defines, nil
}

type WatchConfig struct {
	Exclude []string `mapstructure:"exclude"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("build.outdir", "dist")
	v.SetDefault("build.format", "esm")
	v.SetDefault("build.platform", "browser")
	v.SetDefault("build.bundle", true)
	v.SetDefault("build.target", "es2020")
	v.SetDefault("build.entry_names", "[name]")
	v.SetDefault("build.sourcemap", "linked")

	v.SetDefault("serve.root", ".")
	v.SetDefault("serve.host", "localhost")
	v.SetDefault("serve.port", 8000)

	v.SetDefault("test.specs", []string{"**/*.test.{js,jsx,ts,tsx}", "**/*.spec.{js,jsx,ts,tsx}"})
	v.SetDefault("test.outdir", ".bundlekit/test")
	v.SetDefault("test.runner", "node")

	v.SetDefault("sass.style", "")
	v.SetDefault("emit.max_depth", 8)
	v.SetDefault("emit.sub_build_exclude", []string{"manifest", "devserver"})
	v.SetDefault("watch.exclude", []string{"node_modules", "dist", ".bundlekit"})
}

// Load reads the config file into v and decodes the result. A missing file
// is not an error unless it was named explicitly.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var not_found viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &not_found) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		slog.Debug("config file loaded", "file", v.ConfigFileUsed())
	}

	config := new(Config)
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return config, nil
}

// BindFlags binds each named flag to the key section.name, with dashes in
// the flag name turned into underscores.
func BindFlags(v *viper.Viper, section string, flags *pflag.FlagSet, names ...string) error {
	for _, name := range names {
		flag := flags.Lookup(name)
		if flag == nil {
			return fmt.Errorf("unknown flag %q", name)
		}
		key := strings.ReplaceAll(name, "-", "_")
		if section != "" {
			key = section + "." + key
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return err
		}
	}
	return nil
}

func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}
