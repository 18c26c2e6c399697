package main

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/and161185/fbrt/internal/errs"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version", "--format=xml")
	require.NoError(t, err)
	require.Contains(t, out, "fbrt dev")
}

func TestListenCmd_ConfigErrors(t *testing.T) {
	_, err := run(t, "listen")
	require.ErrorContains(t, err, "one of appstate or dsn is required")

	_, err = run(t, "listen", "--format=xml", "--appstate=x.json")
	require.ErrorContains(t, err, "unknown format")

	_, err = run(t, "listen", "--log-level=loud", "--appstate=x.json")
	require.ErrorContains(t, err, "log level")

	_, err = run(t, "account", "list")
	require.ErrorContains(t, err, "dsn is required")

	_, err = run(t, "typing")
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	log, err := newLogger("debug")
	require.NoError(t, err)
	require.True(t, log.Core().Enabled(zapcore.DebugLevel))

	log, err = newLogger("warn")
	require.NoError(t, err)
	require.False(t, log.Core().Enabled(zapcore.InfoLevel))
}

type fakeSender struct {
	notReady atomic.Int32
	err      error
	done     chan struct{}
	runErr   error
}

func (f *fakeSender) SendTyping(context.Context, string, bool) error {
	if f.notReady.Add(-1) >= 0 {
		return errs.ErrNotConnected
	}
	return f.err
}
func (f *fakeSender) Done() <-chan struct{} { return f.done }
func (f *fakeSender) Err() error            { return f.runErr }

func TestSendTyping(t *testing.T) {
	f := &fakeSender{done: make(chan struct{})}
	f.notReady.Store(2)
	require.NoError(t, sendTyping(context.Background(), f, "1", true))

	boom := errors.New("publish failed")
	f = &fakeSender{done: make(chan struct{}), err: boom}
	require.ErrorIs(t, sendTyping(context.Background(), f, "1", true), boom)

	f = &fakeSender{done: make(chan struct{})}
	f.notReady.Store(1 << 20)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, sendTyping(ctx, f, "1", true), context.DeadlineExceeded)

	f = &fakeSender{done: make(chan struct{}), runErr: errs.ErrHandshakeTimeout}
	f.notReady.Store(1 << 20)
	close(f.done)
	require.ErrorIs(t, sendTyping(context.Background(), f, "1", true), errs.ErrHandshakeTimeout)
}
