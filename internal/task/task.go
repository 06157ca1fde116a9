// Package task supervises child processes. Each process runs in its own
// process group so that stopping it also stops whatever it spawned.
package task

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const StopTimeout = 5 * time.Second

var ErrNotRunning = errors.New("task: not running")

type Options struct {
	Dir    string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

type Task struct {
	mutex sync.Mutex
	opts  Options
	prog  string
	args  []string
	run   *run
}

type run struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (o Options) create_cmd(prog string, args ...string) *exec.Cmd {
	cmd := exec.Command(prog, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Dir = o.Dir
	if len(o.Env) > 0 {
		cmd.Env = append(os.Environ(), o.Env...)
	}
	cmd.Stdout = o.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = o.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	return cmd
}

func Start(o Options, prog string, args ...string) (*Task, error) {
	task := &Task{opts: o, prog: prog, args: args}
	if err := task.start(); err != nil {
		return nil, err
	}
	return task, nil
}

func (task *Task) start() error {
	cmd := task.opts.create_cmd(task.prog, task.args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	r := &run{cmd: cmd, done: make(chan struct{})}
	go func() {
		r.err = cmd.Wait()
		close(r.done)
	}()
	task.run = r
	return nil
}

func (task *Task) Restart() error {
	task.mutex.Lock()
	defer task.mutex.Unlock()

	if err := task.stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return task.start()
}

// Stop sends SIGTERM to the process group and escalates to SIGKILL when
// the process is still running after StopTimeout.
func (task *Task) Stop() error {
	task.mutex.Lock()
	defer task.mutex.Unlock()
	return task.stop()
}

func (task *Task) stop() error {
	r := task.run
	if r == nil {
		return ErrNotRunning
	}
	select {
	case <-r.done:
		return ErrNotRunning
	default:
	}

	pgid, err := syscall.Getpgid(r.cmd.Process.Pid)
	if err != nil {
		return err
	}
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		return err
	}

	select {
	case <-r.done:
	case <-time.After(StopTimeout):
		if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil {
			return err
		}
		<-r.done
	}
	return nil
}

// Wait blocks until the current process exits and returns its error.
func (task *Task) Wait() error {
	task.mutex.Lock()
	r := task.run
	task.mutex.Unlock()
	<-r.done
	return r.err
}

func (task *Task) Running() bool {
	task.mutex.Lock()
	defer task.mutex.Unlock()
	if task.run == nil {
		return false
	}
	select {
	case <-task.run.done:
		return false
	default:
		return true
	}
}
