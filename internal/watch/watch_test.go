package watch

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func start(t *testing.T, o Options) (*Watcher, chan string) {
	t.Helper()
	changes := make(chan string, 16)
	o.OnChange = func(path string) { changes <- path }
	w, err := New(o)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, w.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w, changes
}

func next(t *testing.T, changes chan string) string {
	t.Helper()
	select {
	case path := <-changes:
		return path
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
		return ""
	}
}

func TestSkipsHiddenAndExcluded(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{".git", "node_modules/pkg", "src/lib", "dist"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0755))
	}

	w, err := New(Options{Root: root, Exclude: []string{"node_modules", "dist"}})
	require.NoError(t, err)
	defer w.watcher.Close()

	dirs := w.Dirs()
	assert.ElementsMatch(t, []string{root, filepath.Join(root, "src"), filepath.Join(root, "src", "lib")}, dirs)
}

func TestReportsDebouncedWrites(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "main.ts")
	require.NoError(t, os.WriteFile(file, []byte("1"), 0644))

	_, changes := start(t, Options{Root: root, Extensions: []string{".ts"}, Delay: 200 * time.Millisecond})

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(file, []byte{byte('a' + i)}, 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0644))

	assert.Equal(t, file, next(t, changes))
	select {
	case path := <-changes:
		t.Fatalf("unexpected change %s", path)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	w, changes := start(t, Options{Root: root, Delay: 20 * time.Millisecond})

	sub := filepath.Join(root, "components")
	require.NoError(t, os.Mkdir(sub, 0755))
	require.Eventually(t, func() bool {
		return slices.Contains(w.Dirs(), sub)
	}, 5*time.Second, 10*time.Millisecond)

	file := filepath.Join(sub, "button.tsx")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	assert.Equal(t, file, next(t, changes))

	require.NoError(t, os.RemoveAll(sub))
	require.Eventually(t, func() bool {
		return !slices.Contains(w.Dirs(), sub)
	}, 5*time.Second, 10*time.Millisecond)
}
