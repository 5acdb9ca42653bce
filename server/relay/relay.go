package relay

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"
	"golang.org/x/sys/unix"
)

// DefaultChunkSize is 441 stereo 16-bit frames, 10ms of 44.1kHz audio.
const DefaultChunkSize = 441 * 4

// Result describes how a relay ended.
type Result struct {
	// Aborted is true if a write failed and the process was killed.
	Aborted bool
	// WriteErr is the write error that aborted the relay.
	WriteErr error
	Written  int64
	ExitCode int
}

type Process struct {
	log    *zap.SugaredLogger
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *zapio.Writer

	waitOnce sync.Once
	waitErr  error
}

// Start runs command with shell -c. Stdin is the null device.
func Start(log *zap.SugaredLogger, shell, command string) (*Process, error) {
	cmd := exec.Command(shell, "-c", command)
	// own process group, so that children of the shell are killed with it
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// stderr is copied by a goroutine, don't let a grandchild holding it open block Wait forever
	cmd.WaitDelay = time.Second

	stderr := &zapio.Writer{Log: log.Desugar(), Level: zapcore.DebugLevel}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	err = cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("starting %q: %w", command, err)
	}
	log.Debugw("process started", "PID", cmd.Process.Pid, "Command", command)

	return &Process{
		log:    log,
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
	}, nil
}

// PID returns the process ID of the shell.
func (p *Process) PID() int { return p.cmd.Process.Pid }

// CopyTo copies stdout to w in chunks of at most chunkSize bytes until stdout ends or a write fails.
// The process is reaped before CopyTo returns.
func (p *Process) CopyTo(w io.Writer, chunkSize int) (Result, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	var res Result
	buf := make([]byte, chunkSize)
	for {
		n, readErr := p.stdout.Read(buf)
		if n > 0 {
			written, err := w.Write(buf[:n])
			res.Written += int64(written)
			if err == nil && written < n {
				err = io.ErrShortWrite
			}
			if err != nil {
				p.log.Debugw("write failed, killing process", "PID", p.PID(), "Error", err)
				p.Close()
				res.Aborted = true
				res.WriteErr = err
				res.ExitCode = p.exitCode()
				return res, nil
			}
		}
		if errors.Is(readErr, io.EOF) {
			p.wait()
			res.ExitCode = p.exitCode()
			p.log.Debugw("process output ended", "PID", p.PID(), "ExitCode", res.ExitCode, "Written", res.Written)
			return res, nil
		}
		if readErr != nil {
			p.Close()
			res.ExitCode = p.exitCode()
			return res, fmt.Errorf("reading process output: %w", readErr)
		}
	}
}

func (p *Process) kill() {
	// negative pid signals the whole group
	err := unix.Kill(-p.cmd.Process.Pid, unix.SIGKILL)
	if err != nil && !errors.Is(err, unix.ESRCH) {
		p.log.Debugf("error killing process group %d: %s", p.cmd.Process.Pid, err)
	}
}

// Close kills the process if it has not been reaped yet and waits for it. It is safe to call more than once.
func (p *Process) Close() error {
	if p.cmd.ProcessState == nil {
		p.kill()
	}
	return p.wait()
}

func (p *Process) wait() error {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		p.stderr.Close()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			p.log.Debugf("process %d exited with code %d", p.cmd.Process.Pid, exitErr.ExitCode())
			err = nil
		}
		p.waitErr = err
	})
	return p.waitErr
}

func (p *Process) exitCode() int {
	if p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}
