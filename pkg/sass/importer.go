package sass

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/bep/godartsass/v2"
)

// canonical URLs of stylesheets that were already included
const dedupe_scheme = "bundlekit-dedupe"

type importer struct {
	r       *Resolver
	entry   string
	repeats int
}

// Importer adapts the resolver to Dart Sass. Imports it cannot resolve are
// left to Dart Sass's own load paths; stylesheets resolved a second time
// load as empty.
func (r *Resolver) Importer(entry string) godartsass.ImportResolver {
	return &importer{r: r, entry: entry}
}

func (im *importer) CanonicalizeURL(u string) (string, error) {
	res, err := im.r.Resolve(u, im.entry)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if res.Empty {
		// every repeat needs its own URL or Dart Sass reuses the first load
		im.repeats++
		return fmt.Sprintf("%s:%s?%d", dedupe_scheme, filepath.ToSlash(res.Path), im.repeats), nil
	}
	return FileURL(res.Path), nil
}

func (im *importer) Load(canonical string) (godartsass.Import, error) {
	if strings.HasPrefix(canonical, dedupe_scheme+":") {
		return godartsass.Import{SourceSyntax: godartsass.SourceSyntaxSCSS}, nil
	}
	p := Normalize(canonical)
	b, err := os.ReadFile(p)
	if err != nil {
		return godartsass.Import{}, err
	}
	return godartsass.Import{Content: string(b), SourceSyntax: Syntax(p)}, nil
}

func FileURL(p string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(p)}
	return u.String()
}

func Syntax(p string) godartsass.SourceSyntax {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".sass":
		return godartsass.SourceSyntaxSASS
	case ".css":
		return godartsass.SourceSyntaxCSS
	}
	return godartsass.SourceSyntaxSCSS
}
