package console

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Meander-Cloud/go-pairsync/arbiter"
	"github.com/Meander-Cloud/go-pairsync/bridge"
	"github.com/Meander-Cloud/go-pairsync/config"
	"github.com/Meander-Cloud/go-pairsync/session"
	"github.com/Meander-Cloud/go-pairsync/session/sessiontest"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func setup(t *testing.T, tr session.Transport) (*Console, *bridge.Bridge, *session.Session, *syncBuffer) {
	t.Helper()
	color.NoColor = true

	c := &config.Config{
		Host:                 "watch",
		Instance:             "1",
		Role:                 config.RoleCompanion,
		Transport:            config.TransportTcp,
		ActivationSettleWait: 20,
		LogPrefix:            t.Name(),
	}
	a := arbiter.NewArbiter(c)
	t.Cleanup(a.Shutdown)

	s, err := session.NewSession(c, a, tr, nil)
	require.NoError(t, err)

	out := &syncBuffer{}
	con := NewConsole(out)
	b, err := bridge.NewBridge(c, s, con)
	require.NoError(t, err)

	return con, b, s, out
}

func TestRunCommands(t *testing.T) {
	tr := sessiontest.NewTransport()
	con, b, s, out := setup(t, tr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	in := strings.NewReader("init\n+\ninc\n-\nset 10\n\nshow\nbogus\nset x\nquit\n+\n")
	require.NoError(t, con.Run(ctx, in, b))

	text := out.String()
	assert.Contains(t, text, "initialized connected")
	assert.Contains(t, text, "counter 10 connected")
	assert.Contains(t, text, `unknown command "bogus"`)
	assert.Contains(t, text, "invalid N=x")

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), snap.Value)

	// the command after quit is never run
	assert.Equal(t, []int64{1, 2, 1, 10}, tr.Sent())
}

func TestRunSendNotDelivered(t *testing.T) {
	tr := sessiontest.NewTransport()
	con, b, s, out := setup(t, tr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, con.Run(ctx, strings.NewReader("init\n"), b))
	tr.SetReachable(false)
	require.NoError(t, con.Run(ctx, strings.NewReader("set 4\n"), b))

	assert.Contains(t, out.String(), "counter 4 not delivered")
	assert.Empty(t, tr.Sent())

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), snap.Value)
}

func TestRunEndOfInput(t *testing.T) {
	con, b, _, _ := setup(t, sessiontest.NewTransport())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.NoError(t, con.Run(ctx, strings.NewReader("show\n"), b))
}

func TestRunContextDone(t *testing.T) {
	con, b, _, _ := setup(t, sessiontest.NewTransport())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in, w := io.Pipe()
	defer w.Close()
	assert.ErrorIs(t, con.Run(ctx, in, b), context.Canceled)
}

func TestPeerUpdateShown(t *testing.T) {
	con, _, _, out := setup(t, sessiontest.NewTransport())

	con.InvokeMethod(bridge.EventCounterUpdated, map[string]any{"counter": int64(42)})
	con.InvokeMethod(bridge.EventSessionStateChanged, map[string]any{"status_key": "not_reachable"})

	assert.Equal(t, int64(42), con.value())
	assert.Contains(t, out.String(), "peer 42")
	assert.Contains(t, out.String(), "status not_reachable")

	con.InvokeMethod(bridge.EventCounterUpdated, map[string]any{"counter": "nope"})
	assert.Equal(t, int64(42), con.value())
	assert.Contains(t, out.String(), "bad event")
}
