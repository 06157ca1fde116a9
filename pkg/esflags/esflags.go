// Package esflags converts the string forms of esbuild options, as they
// appear on the command line, in config files and in emit transform blobs,
// into esbuild API values.
package esflags

import (
	"fmt"
	"path/filepath"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

var targets = map[string]esbuild.Target{
	"esnext": esbuild.ESNext,
	"es5":    esbuild.ES5,
	"es6":    esbuild.ES2015,
	"es2015": esbuild.ES2015,
	"es2016": esbuild.ES2016,
	"es2017": esbuild.ES2017,
	"es2018": esbuild.ES2018,
	"es2019": esbuild.ES2019,
	"es2020": esbuild.ES2020,
	"es2021": esbuild.ES2021,
	"es2022": esbuild.ES2022,
}

var engines = map[string]esbuild.EngineName{
	"chrome":  esbuild.EngineChrome,
	"deno":    esbuild.EngineDeno,
	"edge":    esbuild.EngineEdge,
	"firefox": esbuild.EngineFirefox,
	"hermes":  esbuild.EngineHermes,
	"ie":      esbuild.EngineIE,
	"ios":     esbuild.EngineIOS,
	"node":    esbuild.EngineNode,
	"opera":   esbuild.EngineOpera,
	"rhino":   esbuild.EngineRhino,
	"safari":  esbuild.EngineSafari,
}

// Target parses a comma separated target list such as "es2020,chrome97".
// An empty string yields esbuild's default target.
func Target(s string) (esbuild.Target, []esbuild.Engine, error) {
	target := esbuild.DefaultTarget
	var list []esbuild.Engine
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if t, ok := targets[part]; ok {
			target = t
			continue
		}
		i := strings.IndexAny(part, "0123456789")
		if i <= 0 {
			return 0, nil, fmt.Errorf("unknown target %q", part)
		}
		name, ok := engines[part[:i]]
		if !ok {
			return 0, nil, fmt.Errorf("unknown target engine %q", part[:i])
		}
		list = append(list, esbuild.Engine{Name: name, Version: part[i:]})
	}
	return target, list, nil
}

// TargetName is the inverse of Target for plain language targets.
func TargetName(t esbuild.Target) string {
	for name, v := range targets {
		if v == t && name != "es6" {
			return name
		}
	}
	return "esnext"
}

func Format(s string) (esbuild.Format, error) {
	switch strings.ToLower(s) {
	case "":
		return esbuild.FormatDefault, nil
	case "esm":
		return esbuild.FormatESModule, nil
	case "cjs":
		return esbuild.FormatCommonJS, nil
	case "iife":
		return esbuild.FormatIIFE, nil
	}
	return 0, fmt.Errorf("unknown format %q", s)
}

func Platform(s string) (esbuild.Platform, error) {
	switch strings.ToLower(s) {
	case "", "browser":
		return esbuild.PlatformBrowser, nil
	case "node":
		return esbuild.PlatformNode, nil
	case "neutral":
		return esbuild.PlatformNeutral, nil
	}
	return 0, fmt.Errorf("unknown platform %q", s)
}

func Sourcemap(s string) (esbuild.SourceMap, error) {
	switch strings.ToLower(s) {
	case "", "none", "false":
		return esbuild.SourceMapNone, nil
	case "linked", "true":
		return esbuild.SourceMapLinked, nil
	case "inline":
		return esbuild.SourceMapInline, nil
	case "external":
		return esbuild.SourceMapExternal, nil
	case "both":
		return esbuild.SourceMapInlineAndExternal, nil
	}
	return 0, fmt.Errorf("unknown sourcemap mode %q", s)
}

// Loader picks the esbuild loader for a file name by extension.
func Loader(path string) esbuild.Loader {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts", ".mts", ".cts":
		return esbuild.LoaderTS
	case ".tsx":
		return esbuild.LoaderTSX
	case ".jsx":
		return esbuild.LoaderJSX
	case ".js", ".mjs", ".cjs":
		return esbuild.LoaderJS
	case ".json":
		return esbuild.LoaderJSON
	case ".css":
		return esbuild.LoaderCSS
	}
	return esbuild.LoaderDefault
}

// IsTypeScript reports whether loader parses TypeScript syntax.
func IsTypeScript(loader esbuild.Loader) bool {
	return loader == esbuild.LoaderTS || loader == esbuild.LoaderTSX
}

// Messages joins esbuild diagnostics into one error, formatted
// file:line:col: text. It returns nil for an empty list.
func Messages(msgs []esbuild.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	lines := make([]string, len(msgs))
	for i, msg := range msgs {
		lines[i] = Message(msg)
	}
	return fmt.Errorf("%s", strings.Join(lines, "\n"))
}

func Message(msg esbuild.Message) string {
	var s string
	if loc := msg.Location; loc != nil {
		s = fmt.Sprintf("%s:%d:%d: ", loc.File, loc.Line, loc.Column)
	}
	if msg.PluginName != "" {
		s += "[" + msg.PluginName + "] "
	}
	return s + msg.Text
}
