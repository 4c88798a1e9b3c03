//go:build !windows

package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/tramline/internal/errors"
)

func TestStartProcessCancelledContextSpawnsNothing(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "spawned")
	script := writeScript(t, t.TempDir(), "touch-marker", "touch \""+marker+"\"\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, err := StartProcess(ctx, Command{Name: script})
	assert.Nil(t, p)
	assert.True(t, errors.IsCanceled(err))

	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunProcessCapturesStreams(t *testing.T) {
	script := writeScript(t, t.TempDir(), "tool", "echo out\necho err >&2\n")

	p, err := RunProcess(context.Background(), Command{Name: script})
	require.NoError(t, err)
	assert.Equal(t, "out\n", p.Stdout())
	assert.Equal(t, "err", p.Diagnostics())
}

func TestRunProcessNonZeroExit(t *testing.T) {
	script := writeScript(t, t.TempDir(), "tool", "echo 'only on stdout'\nexit 3\n")

	p, err := RunProcess(context.Background(), Command{Name: script})
	require.Error(t, err)
	require.NotNil(t, p)
	assert.False(t, errors.IsCanceled(err))
	assert.Equal(t, "only on stdout", p.Diagnostics())
}

func TestRunProcessHonoursDirAndEnv(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, t.TempDir(), "tool", "pwd\necho \"$TRAMLINE_PROBE\"\n")

	p, err := RunProcess(context.Background(), Command{
		Name: script,
		Dir:  dir,
		Env:  []string{"TRAMLINE_PROBE=yes"},
	})
	require.NoError(t, err)

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Contains(t, p.Stdout(), resolved)
	assert.Contains(t, p.Stdout(), "yes")
}

func TestTerminateReleasesProcess(t *testing.T) {
	script := writeScript(t, t.TempDir(), "sleeper", "exec sleep 30\n")

	p, err := StartProcess(context.Background(), Command{Name: script})
	require.NoError(t, err)
	pid := p.Pid()

	start := time.Now()
	p.Terminate()
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.True(t, errors.IsCanceled(p.Wait()))

	// The child has been reaped, so signalling it fails.
	assert.Error(t, syscall.Kill(pid, 0))
}

func TestCancellationStopsRunningProcess(t *testing.T) {
	script := writeScript(t, t.TempDir(), "sleeper", "exec sleep 30\n")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := RunProcess(ctx, Command{Name: script})
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.IsCanceled(err))
	case <-time.After(10 * time.Second):
		t.Fatal("process outlived its context")
	}
}

func TestStartProcessRejectsUnsafeInput(t *testing.T) {
	tests := []struct {
		name    string
		command Command
	}{
		{name: "empty command", command: Command{}},
		{name: "metacharacter in command", command: Command{Name: "sass; rm -rf /"}},
		{name: "newline in argument", command: Command{Name: "sass", Args: []string{"a\nb"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := StartProcess(context.Background(), tt.command)
			assert.Nil(t, p)
			assert.Error(t, err)
		})
	}
}

func TestCommandString(t *testing.T) {
	cmd := Command{Name: "sass", Args: []string{"--no-source-map", "in.scss", "out.css"}}
	assert.Equal(t, "sass --no-source-map in.scss out.css", cmd.String())
}
