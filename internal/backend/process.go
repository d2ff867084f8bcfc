package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// Command describes how to launch a backend language server.
type Command struct {
	Path string   `json:"path" yaml:"path"`
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`
	Env  []string `json:"env,omitempty" yaml:"env,omitempty"`
	Dir  string   `json:"dir,omitempty" yaml:"dir,omitempty"`
}

func (c Command) String() string {
	return fmt.Sprintf("%s %v", c.Path, c.Args)
}

// Start launches the backend and connects to it over its stdin and stdout.
// The backend's stderr is passed through to ours.
func Start(ctx context.Context, name string, command Command, inbound Inbound, debug bool) (*Client, error) {
	if command.Path == "" {
		return nil, fmt.Errorf("%s: no command configured", name)
	}
	cmd := exec.Command(command.Path, command.Args...)
	cmd.Dir = command.Dir
	cmd.Env = append(os.Environ(), command.Env...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%s: start %s: %w", name, command, err)
	}

	c := NewClient(ctx, name, pipe{stdout, stdin}, inbound, debug)
	c.log.Infof("started %s (pid %d)", command, cmd.Process.Pid)

	exited := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		exited <- err
		close(exited)
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			c.log.Errorf("wait: %s", err)
		} else if err != nil {
			c.log.Warningf("exited: %s", err)
		}
		// Unblock pending calls.
		c.conn.Close()
	}()

	c.closers = append(c.closers, func() error {
		select {
		case <-exited:
			return nil
		case <-time.After(2 * time.Second):
		}
		c.log.Warning("backend did not exit, killing it")
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
		<-exited
		return nil
	})
	return c, nil
}

// pipe joins a child's stdout and stdin into one stream.
type pipe struct {
	io.ReadCloser
	io.WriteCloser
}

// io.ReadWriteCloser interface
func (p pipe) Close() error {
	werr := p.WriteCloser.Close()
	rerr := p.ReadCloser.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

var _ io.ReadWriteCloser = pipe{}
