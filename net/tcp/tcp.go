// Package tcp implements the session Transport over a single TCP link.
// The primary peer listens and the companion dials; both ends run the same
// framing protocol and reconnect handling from go-transport.
package tcp

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Meander-Cloud/go-transport/tcp"

	"github.com/Meander-Cloud/go-pairsync/arbiter"
	"github.com/Meander-Cloud/go-pairsync/config"
	m "github.com/Meander-Cloud/go-pairsync/message"
	tp "github.com/Meander-Cloud/go-pairsync/net/tcp/protocol"
	"github.com/Meander-Cloud/go-pairsync/session"
)

var errConnectionClosed = errors.New("connection closed")

type pendingReply struct {
	connID  uint32
	onReply session.ReplyHandler
	onError session.ErrorHandler
}

type Link struct {
	c        *config.Config
	protocol *tp.Protocol

	mutex      sync.Mutex
	delegate   session.Delegate
	active     bool
	inShutdown bool
	tcpServer  *tcp.TcpServer
	tcpClient  *tcp.TcpClient
	pendingMap map[uint64]*pendingReply // txseq -> reply callbacks
}

func NewLink(
	c *config.Config,
	a *arbiter.Arbiter,
	selfParticipant *m.Participant,
) (*Link, error) {
	var txid, rxid byte
	var address, logPrefix string
	if c.IsPrimary() {
		txid, rxid = tp.PrimarySenderID, tp.CompanionSenderID
		address = c.SelfAddress
		logPrefix = fmt.Sprintf("%s-Server", c.LogPrefix)
	} else {
		txid, rxid = tp.CompanionSenderID, tp.PrimarySenderID
		address = c.PeerAddress
		logPrefix = fmt.Sprintf("%s-Client", c.LogPrefix)
	}

	l := &Link{
		c:          c,
		pendingMap: make(map[uint64]*pendingReply),
	}

	var err error
	l.protocol, err = tp.NewProtocol(
		&tp.Options{
			Options: &tcp.Options{
				Address:           address,
				KeepAliveInterval: c.GetTcpKeepAliveInterval(),
				KeepAliveCount:    c.GetTcpKeepAliveCount(),
				DialTimeout:       c.GetTcpDialTimeout(),
				ReconnectInterval: c.GetTcpReconnectInterval(),
				ReconnectLogEvery: c.GetTcpReconnectLogEvery(),
				Protocol:          nil,
				LogPrefix:         logPrefix,
				LogDebug:          c.LogDebug,
			},
			Arbiter: a,
			Handler: &handler{l: l},
			Txid:    txid,
			RxidMap: map[byte]struct{}{
				rxid: {},
			},
			SelfParticipant: selfParticipant,
			PairedHost:      c.PairedHost,
		},
	)
	if err != nil {
		return nil, err
	}
	l.protocol.Options().Protocol = l.protocol

	return l, nil
}

func (l *Link) IsSupported() bool {
	return true
}

func (l *Link) IsPaired() bool {
	return l.c.PairedHost != ""
}

func (l *Link) IsAppInstalled() bool {
	return l.protocol.Installed()
}

func (l *Link) IsReachable() bool {
	return l.protocol.Connected()
}

func (l *Link) Activate(d session.Delegate) {
	l.mutex.Lock()
	l.delegate = d
	active := l.active
	l.mutex.Unlock()

	if active {
		go d.ActivationComplete(session.ActivationActivated, nil)
		return
	}

	go l.start(d)
}

// invoked on activation goroutine
func (l *Link) start(d session.Delegate) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.inShutdown {
		return
	}

	if l.active {
		// raced with a concurrent activation
		d.ActivationComplete(session.ActivationActivated, nil)
		return
	}

	options := l.protocol.Options().Options
	var err error
	if l.c.IsPrimary() {
		l.tcpServer, err = tcp.NewTcpServer(options)
	} else {
		l.tcpClient, err = tcp.NewTcpClient(options)
	}
	if err != nil {
		err = fmt.Errorf("%s: failed to start link on %s, err=%w", l.c.LogPrefix, options.Address, err)
		log.Printf("%s", err.Error())
		d.ActivationComplete(session.ActivationNotActivated, err)
		return
	}

	l.active = true
	log.Printf("%s: link active on %s", l.c.LogPrefix, options.Address)

	d.ActivationComplete(session.ActivationActivated, nil)
}

// Shutdown stops the link. A delegate that saw the link activate is told it
// went inactive, after pending sends have failed.
func (l *Link) Shutdown() {
	l.mutex.Lock()
	l.inShutdown = true
	wasActive := l.active
	l.active = false
	d := l.delegate
	tcpServer := l.tcpServer
	tcpClient := l.tcpClient
	l.mutex.Unlock()

	if tcpServer != nil {
		tcpServer.Shutdown() // wait
	}
	if tcpClient != nil {
		tcpClient.Shutdown() // wait
	}

	l.failPending(
		func(*pendingReply) bool { return true },
		session.ErrSendUnreachable,
	)

	if wasActive && d != nil {
		log.Printf("%s: link inactive", l.c.LogPrefix)
		d.ActivationComplete(session.ActivationInactive, nil)
	}
}

// caller must be on arbiter goroutine
func (l *Link) Send(update *m.CounterUpdate, onReply session.ReplyHandler, onError session.ErrorHandler) {
	connState, err := l.protocol.GetConnection()
	if err != nil {
		onError(session.ErrSendUnreachable)
		return
	}

	txseq := l.protocol.GetNextTxseq()

	l.mutex.Lock()
	l.pendingMap[txseq] = &pendingReply{
		connID:  connState.ConnID,
		onReply: onReply,
		onError: onError,
	}
	l.mutex.Unlock()

	err = l.protocol.WriteSync(
		connState,
		&m.Message{
			Txseq:  txseq,
			Txtime: time.Now().UTC().UnixMilli(),

			CounterUpdate: update,
		},
	)
	if err != nil {
		l.mutex.Lock()
		delete(l.pendingMap, txseq)
		l.mutex.Unlock()

		onError(&session.SendFailedError{Cause: err})
	}
}

func (l *Link) failPending(match func(*pendingReply) bool, cause error) {
	var failed []*pendingReply

	func() {
		l.mutex.Lock()
		defer l.mutex.Unlock()

		for txseq, pending := range l.pendingMap {
			if match(pending) {
				failed = append(failed, pending)
				delete(l.pendingMap, txseq)
			}
		}
	}()

	for _, pending := range failed {
		pending.onError(cause)
	}
}

func (l *Link) getDelegate() session.Delegate {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.delegate
}

type handler struct {
	l *Link
}

// invoked on ReadLoop goroutine
func (h *handler) PeerReady(p *tp.Protocol, connState *tp.ConnState) {
	d := h.l.getDelegate()
	if d == nil {
		return
	}
	d.ReachabilityChanged(true)
}

// invoked on ReadLoop goroutine
func (h *handler) PeerGone(p *tp.Protocol, connState *tp.ConnState) {
	connID := connState.ConnID
	h.l.failPending(
		func(pending *pendingReply) bool { return pending.connID == connID },
		&session.SendFailedError{Cause: errConnectionClosed},
	)

	d := h.l.getDelegate()
	if d == nil {
		return
	}
	// a newer connection may already be ready
	d.ReachabilityChanged(p.Connected())
}

// invoked on ReadLoop goroutine
func (h *handler) CounterUpdate(p *tp.Protocol, connState *tp.ConnState, messageStruct *m.Message) {
	d := h.l.getDelegate()
	if d == nil {
		log.Printf("%s: %s: link not activated, dropping %s", h.l.c.LogPrefix, connState.Data.Load().Descriptor, messageStruct.Kind())
		return
	}

	replyTo := messageStruct.Txseq
	d.MessageReceived(
		messageStruct.CounterUpdate,
		func(ack *m.CounterAck) {
			// invoked on arbiter goroutine
			err := p.WriteSync(
				connState,
				&m.Message{
					Txseq:   p.GetNextTxseq(),
					Txtime:  time.Now().UTC().UnixMilli(),
					ReplyTo: replyTo,

					CounterAck: ack,
				},
			)
			if err != nil {
				log.Printf("%s: %s: failed to acknowledge txseq=%d", h.l.c.LogPrefix, connState.Data.Load().Descriptor, replyTo)
			}
		},
	)
}

// invoked on ReadLoop goroutine
func (h *handler) CounterAck(p *tp.Protocol, connState *tp.ConnState, messageStruct *m.Message) {
	h.l.mutex.Lock()
	pending, found := h.l.pendingMap[messageStruct.ReplyTo]
	if found {
		delete(h.l.pendingMap, messageStruct.ReplyTo)
	}
	h.l.mutex.Unlock()

	if !found {
		log.Printf("%s: %s: no pending send for reply_to=%d", h.l.c.LogPrefix, connState.Data.Load().Descriptor, messageStruct.ReplyTo)
		return
	}

	pending.onReply(messageStruct.CounterAck)
}
