package relay

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sys/unix"
)

// chunkRecorder records the size of every write and fails after failAfter writes if failAfter > 0.
type chunkRecorder struct {
	bytes.Buffer
	sizes     []int
	failAfter int
}

var errClientGone = errors.New("broken pipe")

func (c *chunkRecorder) Write(b []byte) (int, error) {
	if c.failAfter > 0 && len(c.sizes) >= c.failAfter {
		return 0, errClientGone
	}
	c.sizes = append(c.sizes, len(b))
	return c.Buffer.Write(b)
}

func TestCopyTo(t *testing.T) {
	cases := []struct {
		name        string
		command     string
		chunkSize   int
		expOutput   string
		expExitCode int
	}{
		{
			name:      "printf",
			command:   "printf 'ab'",
			expOutput: "ab",
		},
		{
			name:        "no output, nonzero exit",
			command:     "false",
			expExitCode: 1,
		},
		{
			name:      "stderr is not relayed",
			command:   "printf out; printf err 1>&2",
			expOutput: "out",
		},
		{
			name:      "small chunks",
			command:   "printf 0123456789",
			chunkSize: 3,
			expOutput: "0123456789",
		},
		{
			name:      "pipeline",
			command:   "seq 1 5 | tr -d '\\n'",
			expOutput: "12345",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p, err := Start(zaptest.NewLogger(t).Sugar(), "/bin/sh", c.command)
			require.NoError(t, err)
			defer p.Close()

			w := &chunkRecorder{}
			res, err := p.CopyTo(w, c.chunkSize)
			require.NoError(t, err)

			assert.False(t, res.Aborted)
			assert.Equal(t, c.expOutput, w.String())
			assert.Equal(t, int64(len(c.expOutput)), res.Written)
			assert.Equal(t, c.expExitCode, res.ExitCode)
			if c.chunkSize > 0 {
				for _, n := range w.sizes {
					assert.LessOrEqual(t, n, c.chunkSize)
				}
			}
		})
	}
}

func TestCopyToDefaultChunkSize(t *testing.T) {
	assert.Equal(t, 1764, DefaultChunkSize)

	p, err := Start(zaptest.NewLogger(t).Sugar(), "/bin/sh", "head -c 100000 /dev/zero")
	require.NoError(t, err)

	w := &chunkRecorder{}
	res, err := p.CopyTo(w, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), res.Written)
	for _, n := range w.sizes {
		assert.LessOrEqual(t, n, DefaultChunkSize)
	}
}

func TestCopyToWriteFailureKillsProcess(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	// the background child shares the process group and must be killed too
	p, err := Start(zaptest.NewLogger(t).Sugar(), "/bin/sh", "sleep 60 & echo $! > "+pidFile+"; yes")
	require.NoError(t, err)
	defer p.Close()

	w := &chunkRecorder{failAfter: 3}
	res, err := p.CopyTo(w, 16)
	require.NoError(t, err)

	assert.True(t, res.Aborted)
	assert.ErrorIs(t, res.WriteErr, errClientGone)
	assert.Equal(t, int64(w.Len()), res.Written)
	assert.Equal(t, -1, res.ExitCode)

	// shell was reaped
	assert.NotNil(t, p.cmd.ProcessState)
	assert.ErrorIs(t, unix.Kill(p.PID(), 0), unix.ESRCH)

	// so was its background child, eventually
	b, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	var childPID int
	_, err = fmt.Sscan(string(b), &childPID)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return processGone(childPID) }, 5*time.Second, 10*time.Millisecond)
}

// processGone reports whether pid no longer exists or is a zombie waiting for a reaper other than us.
func processGone(pid int) bool {
	if errors.Is(unix.Kill(pid, 0), unix.ESRCH) {
		return true
	}
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return os.IsNotExist(err)
	}
	stat := string(b)
	i := strings.LastIndexByte(stat, ')')
	return i >= 0 && i+2 < len(stat) && stat[i+2] == 'Z'
}

func TestCloseKillsRunningProcess(t *testing.T) {
	p, err := Start(zaptest.NewLogger(t).Sugar(), "/bin/sh", "sleep 60")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- p.Close() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not kill the process")
	}
	assert.NotNil(t, p.cmd.ProcessState)

	// idempotent
	require.NoError(t, p.Close())
}

func TestStartFailure(t *testing.T) {
	_, err := Start(zaptest.NewLogger(t).Sugar(), "/nonexistent/shell", "true")
	require.Error(t, err)
	assert.ErrorContains(t, err, "starting \"true\"")
}
