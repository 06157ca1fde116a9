package transform

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// tsconfigs finds the tsconfig.json governing a source file, caching the
// answer per directory. "extends" is not followed; esbuild's transform API
// only reads the compiler options of the raw text it is given.
type tsconfigs struct {
	mutex sync.Mutex
	dirs  map[string]string
}

func (c *tsconfigs) nearest(dir string) (string, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.dirs == nil {
		c.dirs = make(map[string]string)
	}

	var visited []string
	raw := ""
	for {
		if cached, ok := c.dirs[dir]; ok {
			raw = cached
			break
		}
		visited = append(visited, dir)
		b, err := os.ReadFile(filepath.Join(dir, "tsconfig.json"))
		if err == nil {
			raw = string(b)
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	for _, d := range visited {
		c.dirs[d] = raw
	}
	return raw, nil
}
