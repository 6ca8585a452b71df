package protocol

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Meander-Cloud/go-transport/tcp"

	"github.com/Meander-Cloud/go-pairsync/arbiter"
	"github.com/Meander-Cloud/go-pairsync/config"
	m "github.com/Meander-Cloud/go-pairsync/message"
)

const waitFor = 2 * time.Second

type recordingHandler struct {
	mu      sync.Mutex
	ready   int
	gone    int
	updates []int64
	acks    []uint64
}

func (h *recordingHandler) PeerReady(*Protocol, *ConnState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready++
}

func (h *recordingHandler) PeerGone(*Protocol, *ConnState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gone++
}

func (h *recordingHandler) CounterUpdate(_ *Protocol, _ *ConnState, msg *m.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates = append(h.updates, msg.CounterUpdate.Counter)
}

func (h *recordingHandler) CounterAck(_ *Protocol, _ *ConnState, msg *m.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.acks = append(h.acks, msg.ReplyTo)
}

func (h *recordingHandler) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready, h.gone
}

func participant(host string) *m.Participant {
	return &m.Participant{
		Host:     host,
		Instance: "1",
		Role:     config.RoleCompanion,
		Time:     time.Now().UTC().UnixMilli(),
	}
}

func newTestProtocol(t *testing.T, pairedHost string) (*Protocol, *recordingHandler) {
	t.Helper()

	a := arbiter.NewArbiter(&config.Config{LogPrefix: t.Name()})
	t.Cleanup(a.Shutdown)

	h := &recordingHandler{}
	p, err := NewProtocol(
		&Options{
			Options: &tcp.Options{
				Address:   "pipe",
				LogPrefix: t.Name(),
			},
			Arbiter: a,
			Handler: h,
			Txid:    PrimarySenderID,
			RxidMap: map[byte]struct{}{
				CompanionSenderID: {},
			},
			SelfParticipant: participant("phone"),
			PairedHost:      pairedHost,
		},
	)
	require.NoError(t, err)
	return p, h
}

// remote plays the companion side of a pipe.
type remote struct {
	t         *testing.T
	connState *ConnState
	txseq     uint64
}

func newRemote(t *testing.T, conn net.Conn) *remote {
	cs := &ConnState{ConnID: 1, Conn: conn}
	cs.Data.Store(&ConnVolatileData{Descriptor: "remote"})
	return &remote{t: t, connState: cs}
}

func (r *remote) write(msg *m.Message) {
	r.txseq++
	msg.Txseq = r.txseq
	msg.Txtime = time.Now().UTC().UnixMilli()
	// may run off the test goroutine
	assert.NoError(r.t, writeWireData("remote", CompanionSenderID, r.connState, msg))
}

func (r *remote) read() *m.Message {
	r.t.Helper()
	msg, err := readWireData("remote", "remote", r.connState.Conn, map[byte]struct{}{PrimarySenderID: {}}, false)
	require.NoError(r.t, err)
	return msg
}

func TestWireRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	sender := newRemote(t, a)
	go sender.write(&m.Message{ReplyTo: 4, CounterAck: m.NewCounterAck()})

	msg, err := readWireData("test", "test", b, map[byte]struct{}{CompanionSenderID: {}}, true)
	require.NoError(t, err)
	assert.Equal(t, m.KindCounterAck, msg.Kind())
	assert.Equal(t, uint64(4), msg.ReplyTo)
	assert.Equal(t, uint64(1), msg.Txseq)
}

func TestReadRejectsForeignSender(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	sender := newRemote(t, a)
	msg := &m.Message{Txseq: 1, Txtime: time.Now().UTC().UnixMilli(), CounterUpdate: &m.CounterUpdate{Counter: 1}}
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		// the reader rejects after the header, so this write may fail once a is closed
		_ = writeWireData("remote", CompanionSenderID, sender.connState, msg)
	}()

	_, err := readWireData("test", "test", b, map[byte]struct{}{PrimarySenderID: {}}, false)
	assert.Error(t, err)

	a.Close()
	<-writeDone
}

func TestReadRejectsBadPattern(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	go a.Write([]byte{0x00, protocolVersion, CompanionSenderID, 0, 0, 0, 0})

	_, err := readWireData("test", "test", b, map[byte]struct{}{CompanionSenderID: {}}, false)
	assert.Error(t, err)
}

func TestHandshakeAndTraffic(t *testing.T) {
	p, h := newTestProtocol(t, "watch")
	local, far := net.Pipe()
	defer far.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.ReadLoop(local)
	}()

	r := newRemote(t, far)

	hello := r.read()
	require.Equal(t, m.KindPeerHello, hello.Kind())
	assert.Equal(t, "phone", hello.PeerHello.Participant.Host)
	assert.False(t, hello.PeerHello.InReconnect)
	assert.False(t, p.Connected())

	r.write(&m.Message{PeerHello: &m.PeerHello{Participant: participant("watch")}})
	require.Eventually(t, p.Connected, waitFor, 5*time.Millisecond)
	assert.True(t, p.Installed())

	connState, err := p.GetConnection()
	require.NoError(t, err)

	r.write(&m.Message{CounterUpdate: &m.CounterUpdate{Counter: 7}})
	r.write(&m.Message{ReplyTo: 9, CounterAck: m.NewCounterAck()})
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.updates) == 1 && len(h.acks) == 1
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, []int64{7}, h.updates)
	assert.Equal(t, []uint64{9}, h.acks)

	go func() {
		// arbiter goroutine is not required for a pipe write in tests
		p.WriteSync(connState, &m.Message{Txseq: p.GetNextTxseq(), CounterUpdate: &m.CounterUpdate{Counter: -2}})
	}()
	update := r.read()
	assert.Equal(t, int64(-2), update.CounterUpdate.Counter)

	r.write(&m.Message{PeerBye: &m.PeerBye{InShutdown: true}})
	require.Eventually(t, func() bool { return !p.Connected() }, waitFor, 5*time.Millisecond)

	far.Close()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("ReadLoop did not exit")
	}

	ready, gone := h.counts()
	assert.Equal(t, 1, ready)
	assert.Equal(t, 1, gone)
	assert.True(t, p.Installed())
}

func TestHandshakeRejectsUnpairedHost(t *testing.T) {
	p, h := newTestProtocol(t, "watch")
	local, far := net.Pipe()
	defer far.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.ReadLoop(local)
	}()

	r := newRemote(t, far)
	r.read()
	r.write(&m.Message{PeerHello: &m.PeerHello{Participant: participant("tablet")}})

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("ReadLoop accepted unpaired host")
	}

	ready, gone := h.counts()
	assert.Equal(t, 0, ready)
	assert.Equal(t, 0, gone)
	assert.False(t, p.Installed())
	assert.False(t, p.Connected())
}

func TestTrafficBeforeHelloCloses(t *testing.T) {
	p, h := newTestProtocol(t, "watch")
	local, far := net.Pipe()
	defer far.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.ReadLoop(local)
	}()

	r := newRemote(t, far)
	r.read()
	r.write(&m.Message{CounterUpdate: &m.CounterUpdate{Counter: 1}})

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("ReadLoop processed update before hello")
	}
	assert.Empty(t, h.updates)
}

func startReadLoop(t *testing.T, p *Protocol) (*remote, net.Conn, <-chan struct{}) {
	t.Helper()

	local, far := net.Pipe()
	t.Cleanup(func() { far.Close() })

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.ReadLoop(local)
	}()

	return newRemote(t, far), far, done
}

func waitDone(t *testing.T, done <-chan struct{}, msg string) {
	t.Helper()

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal(msg)
	}
}

func TestSilentConnectionKeepsReadyOne(t *testing.T) {
	p, h := newTestProtocol(t, "watch")

	paired, _, _ := startReadLoop(t, p)
	paired.read()
	paired.write(&m.Message{PeerHello: &m.PeerHello{Participant: participant("watch")}})
	require.Eventually(t, p.Connected, waitFor, 5*time.Millisecond)
	current, err := p.GetConnection()
	require.NoError(t, err)

	// a second connection that never says hello
	silent, silentConn, silentDone := startReadLoop(t, p)
	hello := silent.read()
	require.Equal(t, m.KindPeerHello, hello.Kind())

	assert.True(t, p.Connected())
	connState, err := p.GetConnection()
	require.NoError(t, err)
	assert.Equal(t, current.ConnID, connState.ConnID)

	silentConn.Close()
	waitDone(t, silentDone, "ReadLoop of silent connection did not exit")

	// ready connection still carries traffic
	paired.write(&m.Message{CounterUpdate: &m.CounterUpdate{Counter: 3}})
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.updates) == 1
	}, waitFor, 5*time.Millisecond)

	ready, gone := h.counts()
	assert.Equal(t, 1, ready)
	assert.Equal(t, 0, gone)
	assert.True(t, p.Connected())
}

func TestUnpairedConnectionKeepsReadyOne(t *testing.T) {
	p, h := newTestProtocol(t, "watch")

	paired, _, _ := startReadLoop(t, p)
	paired.read()
	paired.write(&m.Message{PeerHello: &m.PeerHello{Participant: participant("watch")}})
	require.Eventually(t, p.Connected, waitFor, 5*time.Millisecond)

	intruder, _, intruderDone := startReadLoop(t, p)
	intruder.read()
	intruder.write(&m.Message{PeerHello: &m.PeerHello{Participant: participant("tablet")}})
	waitDone(t, intruderDone, "ReadLoop accepted unpaired host")

	ready, gone := h.counts()
	assert.Equal(t, 1, ready)
	assert.Equal(t, 0, gone)
	assert.True(t, p.Connected())
}

func TestPairedHelloReplacesStaleConnection(t *testing.T) {
	p, h := newTestProtocol(t, "watch")

	first, _, firstDone := startReadLoop(t, p)
	first.read()
	first.write(&m.Message{PeerHello: &m.PeerHello{Participant: participant("watch")}})
	require.Eventually(t, p.Connected, waitFor, 5*time.Millisecond)
	stale, err := p.GetConnection()
	require.NoError(t, err)

	second, _, _ := startReadLoop(t, p)
	hello := second.read()
	assert.True(t, hello.PeerHello.InReconnect)
	second.write(&m.Message{PeerHello: &m.PeerHello{Participant: participant("watch")}})

	require.Eventually(t, func() bool {
		connState, err := p.GetConnection()
		return err == nil && connState.ConnID != stale.ConnID
	}, waitFor, 5*time.Millisecond)
	waitDone(t, firstDone, "stale ReadLoop did not exit")

	require.Eventually(t, func() bool {
		ready, gone := h.counts()
		return ready == 2 && gone == 1
	}, waitFor, 5*time.Millisecond)
	assert.True(t, p.Connected())
	assert.False(t, stale.Ready.Load())
}
