package devserver

import (
	"path"
	"slices"
	"strings"

	"github.com/greuben92/bundlekit/pkg/manifest"
)

const client_script = `(() => {
  const url = (location.protocol === "https:" ? "wss://" : "ws://") + location.host + "` + ReloadPath + `";
  const connect = () => {
    const ws = new WebSocket(url);
    ws.onmessage = (e) => {
      if (e.data === "reload") location.reload();
      else if (e.data.startsWith("error:")) console.error("[bundlekit] " + e.data.slice(6));
    };
    ws.onclose = () => setTimeout(connect, 1000);
  };
  connect();
})();
`

type IndexData struct {
	Title    string
	Manifest manifest.Manifest

	// AssetsPath is the URL prefix manifest outputs are served under.
	AssetsPath string
}

type HarnessData struct {
	Title   string
	Scripts []string
}

type index_link struct {
	Entry string
	Href  string
}

// links pairs every entry point with its output URL, sorted by entry.
func (d IndexData) links() []index_link {
	entries := make([]string, 0, len(d.Manifest))
	for entry := range d.Manifest {
		entries = append(entries, entry)
	}
	slices.Sort(entries)

	links := make([]index_link, len(entries))
	for i, entry := range entries {
		links[i] = index_link{Entry: entry, Href: path.Join("/", d.AssetsPath, d.Manifest[entry])}
	}
	return links
}

func (d IndexData) with_ext(ext string) []string {
	var hrefs []string
	for _, link := range d.links() {
		if strings.HasSuffix(link.Href, ext) {
			hrefs = append(hrefs, link.Href)
		}
	}
	return hrefs
}

func (d IndexData) styles() []string { return d.with_ext(".css") }
func (d IndexData) scripts() []string { return d.with_ext(".js") }
