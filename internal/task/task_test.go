package task

import (
	"bytes"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sync_buffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *sync_buffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *sync_buffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func require_sh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestWait(t *testing.T) {
	require_sh(t)
	out := &sync_buffer{}
	task, err := Start(Options{Stdout: out}, "sh", "-c", "echo hello")
	require.NoError(t, err)
	require.NoError(t, task.Wait())
	assert.Equal(t, "hello\n", out.String())
	assert.False(t, task.Running())
	assert.ErrorIs(t, task.Stop(), ErrNotRunning)
}

func TestStopKillsProcessGroup(t *testing.T) {
	require_sh(t)
	task, err := Start(Options{}, "sh", "-c", "sleep 30 & sleep 30")
	require.NoError(t, err)
	assert.True(t, task.Running())

	start := time.Now()
	require.NoError(t, task.Stop())
	assert.Less(t, time.Since(start), StopTimeout)
	assert.False(t, task.Running())
}

func TestRestart(t *testing.T) {
	require_sh(t)
	out := &sync_buffer{}
	task, err := Start(Options{Stdout: out, Env: []string{"GREETING=hi"}}, "sh", "-c", "echo $GREETING; sleep 30")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return out.String() == "hi\n"
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, task.Restart())
	assert.True(t, task.Running())
	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "hi\n") == 2
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, task.Stop())

	// a finished task can be restarted
	require.NoError(t, task.Restart())
	require.NoError(t, task.Stop())
}
