package devserver

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greuben92/bundlekit/pkg/manifest"
)

func TestIndexTemplate(t *testing.T) {
	data := IndexData{
		Title:      "app",
		AssetsPath: "static/dist",
		Manifest: manifest.Manifest{
			"src/worker.ts": "worker.js",
			"src/main.ts":   "main.js",
			"src/main.scss": "main.css",
		},
	}
	assert.Equal(t, []string{"/static/dist/main.css"}, data.styles())
	assert.Equal(t, []string{"/static/dist/main.js", "/static/dist/worker.js"}, data.scripts())

	var sb strings.Builder
	require.NoError(t, Index(data).Render(context.Background(), &sb))
	html := sb.String()
	assert.True(t, strings.HasPrefix(html, `<!doctype html><html lang="en"><head>`))
	assert.Contains(t, html, `<li><a href="/static/dist/main.js">src/main.ts</a></li>`)
	assert.Less(t, strings.Index(html, "src/main.scss"), strings.Index(html, "src/worker.ts"))
	assert.Less(t, strings.Index(html, `src="/static/dist/worker.js"`), strings.Index(html, `src="`+ClientPath+`"`))
	assert.True(t, strings.HasSuffix(html, "</body></html>"))
}

func TestHarnessTemplate(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, Harness(HarnessData{Title: "a & b", Scripts: []string{"/x.test.js"}}).Render(context.Background(), &sb))
	html := sb.String()
	assert.Contains(t, html, "<title>a &amp; b</title>")
	assert.NotContains(t, html, "stylesheet")
	assert.Contains(t, html, `<script type="module" src="/x.test.js"></script><script type="module" src="`+ClientPath+`"></script>`)
}
