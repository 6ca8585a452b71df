package protocol

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Meander-Cloud/go-transport/tcp"

	"github.com/Meander-Cloud/go-pairsync/arbiter"
	m "github.com/Meander-Cloud/go-pairsync/message"
)

// Handler receives peer traffic. All methods are invoked on the ReadLoop
// goroutine of the connection concerned.
type Handler interface {
	PeerReady(*Protocol, *ConnState)
	PeerGone(*Protocol, *ConnState)
	CounterUpdate(*Protocol, *ConnState, *m.Message)
	CounterAck(*Protocol, *ConnState, *m.Message)
}

type Options struct {
	*tcp.Options
	Arbiter *arbiter.Arbiter
	Handler

	Txid    byte
	RxidMap map[byte]struct{}

	SelfParticipant *m.Participant
	// only a hello from this host makes the connection ready
	PairedHost string
}

// Protocol is one end of a pairing link. It keeps at most one ready
// connection; a newer connection replaces it only once the paired host has
// said hello on it.
type Protocol struct {
	options           *Options
	selfID            string
	defaultDescriptor string
	inShutdown        atomic.Bool
	installed         atomic.Bool

	// if increment overflow will wrap to zero
	connIDGen atomic.Uint32
	txseqGen  atomic.Uint64

	mutex     sync.Mutex
	connState *ConnState            // current ready tcp connection, if any
	connMap   map[uint32]*ConnState // every open connection, ready or not
}

func NewProtocol(options *Options) (*Protocol, error) {
	if options.Options == nil {
		err := fmt.Errorf("nil tcp Options")
		log.Printf("%s", err.Error())
		return nil, err
	}

	if options.Arbiter == nil {
		err := fmt.Errorf("%s: nil Arbiter", options.LogPrefix)
		log.Printf("%s", err.Error())
		return nil, err
	}

	if options.Handler == nil {
		err := fmt.Errorf("%s: nil Handler", options.LogPrefix)
		log.Printf("%s", err.Error())
		return nil, err
	}

	if options.SelfParticipant == nil {
		err := fmt.Errorf("%s: nil SelfParticipant", options.LogPrefix)
		log.Printf("%s", err.Error())
		return nil, err
	}

	selfID := options.SelfParticipant.ID()
	p := &Protocol{
		options: options,
		selfID:  selfID,
		connMap: make(map[uint32]*ConnState),
		defaultDescriptor: fmt.Sprintf(
			"%s<->%s<%s>",
			selfID,
			options.PairedHost,
			options.Address,
		),
	}

	return p, nil
}

func (p *Protocol) Options() *Options {
	return p.options
}

func (p *Protocol) Close() {
	log.Printf("%s: %s: protocol closing", p.options.LogPrefix, p.defaultDescriptor)
	p.inShutdown.Store(true)

	var exitwg sync.WaitGroup

	// send PeerBye
	func() {
		p.mutex.Lock()
		defer p.mutex.Unlock()

		if p.connState == nil {
			return
		}
		connState := p.connState
		if !connState.Ready.Swap(false) {
			return
		}

		exitwg.Add(1)
		err := p.options.Arbiter.Dispatch(
			"peer bye",
			func() {
				// invoked on arbiter goroutine
				defer exitwg.Done()

				writeWireData(
					p.options.LogPrefix,
					p.options.Txid,
					connState,
					&m.Message{
						Txseq:  p.GetNextTxseq(),
						Txtime: time.Now().UTC().UnixMilli(),

						PeerBye: &m.PeerBye{
							InShutdown: true,
						},
					},
				)
			},
		)
		if err != nil {
			exitwg.Done()
		}
	}()

	// wait until peer update is sent plus grace period
	exitwg.Wait()
	<-time.After(closeGrace)

	// close connections, including those still waiting for PeerHello
	func() {
		p.mutex.Lock()
		defer p.mutex.Unlock()

		if len(p.connMap) == 0 {
			log.Printf("%s: %s: no active connection", p.options.LogPrefix, p.defaultDescriptor)
			return
		}

		for _, connState := range p.connMap {
			connState.Conn.Close()
		}
	}()

	log.Printf("%s: %s: protocol closed", p.options.LogPrefix, p.defaultDescriptor)
}

func (p *Protocol) ReadLoop(conn net.Conn) {
	connState := &ConnState{
		ConnID: p.getNextConnID(),
		Conn:   conn,
	}
	cvd := &ConnVolatileData{
		// to be communicated by peer in PeerHello
		PeerParticipant: nil,
		PeerID:          "",

		Descriptor: fmt.Sprintf(
			"[%d]%s<-><%s>",
			connState.ConnID,
			p.selfID,
			conn.RemoteAddr().String(),
		),
	}
	connState.Data.Store(cvd)

	network := conn.RemoteAddr().Network()
	peerInShutdown := false
	goneReported := false

	log.Printf("%s: %s: new %s connection", p.options.LogPrefix, cvd.Descriptor, network)

	defer func() {
		log.Printf("%s: %s: closing %s connection", p.options.LogPrefix, cvd.Descriptor, network)
		wasReady := connState.Ready.Swap(false)

		func() {
			p.mutex.Lock()
			defer p.mutex.Unlock()

			delete(p.connMap, connState.ConnID)
			if p.connState == nil || p.connState.ConnID != connState.ConnID {
				// never ready, or replaced by a newer connection
				return
			}
			p.connState = nil
		}()

		conn.Close()

		if (wasReady || cvd.PeerID != "") && !goneReported {
			p.options.PeerGone(p, connState)
		}

		log.Printf(
			"%s: %s: %s connection closed, selfInShutdown=%t, peerInShutdown=%t",
			p.options.LogPrefix,
			cvd.Descriptor,
			network,
			p.inShutdown.Load(),
			peerInShutdown,
		)
	}()

	func() {
		p.mutex.Lock()
		defer p.mutex.Unlock()

		// current connection stays until this one says hello
		p.connMap[connState.ConnID] = connState
	}()

	err := conn.SetReadDeadline(time.Now().Add(helloWait))
	if err != nil {
		log.Printf("%s: %s: failed to set hello deadline, err=%s", p.options.LogPrefix, cvd.Descriptor, err.Error())
		return
	}

	// initiate PeerHello
	err = p.options.Arbiter.Dispatch(
		"peer hello",
		func() {
			// invoked on arbiter goroutine
			writeWireData(
				p.options.LogPrefix,
				p.options.Txid,
				connState,
				&m.Message{
					Txseq:  p.GetNextTxseq(),
					Txtime: time.Now().UTC().UnixMilli(),

					PeerHello: &m.PeerHello{
						Participant: p.options.SelfParticipant,
						InReconnect: p.installed.Load(),
					},
				},
			)
		},
	)
	if err != nil {
		return
	}

	handleMessage := func(messageStruct *m.Message) error {
		kind := messageStruct.Kind()

		if kind == m.KindPeerHello {
			peerParticipant := messageStruct.PeerHello.Participant

			if cvd.PeerID != "" {
				err := fmt.Errorf("%s: %s: already processed PeerHello, incoming Participant=%+v", p.options.LogPrefix, cvd.Descriptor, *peerParticipant)
				log.Printf("%s", err.Error())
				return err
			}

			if p.options.PairedHost == "" || peerParticipant.Host != p.options.PairedHost {
				err := fmt.Errorf("%s: %s: Host=%s is not paired, PairedHost=%s", p.options.LogPrefix, cvd.Descriptor, peerParticipant.Host, p.options.PairedHost)
				log.Printf("%s", err.Error())
				return err
			}

			// update volatile data
			cvd = &ConnVolatileData{
				PeerParticipant: peerParticipant,
				PeerID:          peerParticipant.ID(),

				// populated next
				Descriptor: "",
			}
			cvd.Descriptor = fmt.Sprintf(
				"[%d]%s<->%s<%s>",
				connState.ConnID,
				p.selfID,
				cvd.PeerID,
				conn.RemoteAddr().String(),
			)
			connState.Data.Store(cvd) // atomic

			err := conn.SetReadDeadline(time.Time{})
			if err != nil {
				err = fmt.Errorf("%s: %s: failed to clear hello deadline, err=%w", p.options.LogPrefix, cvd.Descriptor, err)
				log.Printf("%s", err.Error())
				return err
			}

			func() {
				p.mutex.Lock()
				defer p.mutex.Unlock()

				if p.connState != nil {
					stale := p.connState
					log.Printf("%s: %s: replacing stale connection %s", p.options.LogPrefix, cvd.Descriptor, stale.Data.Load().Descriptor)
					stale.Ready.Store(false)
					stale.Conn.Close()
				}
				p.connState = connState
				connState.Ready.Store(true)
			}()

			p.installed.Store(true)
			log.Printf("%s: %s: connection now ready, peerInReconnect=%t", p.options.LogPrefix, cvd.Descriptor, messageStruct.PeerHello.InReconnect)

			p.options.PeerReady(p, connState)
			return nil
		}

		if cvd.PeerID == "" {
			err := fmt.Errorf("%s: %s: peer unknown, cannot process %s", p.options.LogPrefix, cvd.Descriptor, kind)
			log.Printf("%s", err.Error())
			return err
		}

		switch kind {
		case m.KindPeerBye:
			peerInShutdown = messageStruct.PeerBye.InShutdown
			connState.Ready.Store(false)
			log.Printf("%s: %s: connection no longer ready, peerInShutdown=%t", p.options.LogPrefix, cvd.Descriptor, peerInShutdown)

			if !goneReported {
				goneReported = true
				p.options.PeerGone(p, connState)
			}
			return nil
		case m.KindCounterUpdate:
			p.options.CounterUpdate(p, connState, messageStruct)
			return nil
		case m.KindCounterAck:
			p.options.CounterAck(p, connState, messageStruct)
			return nil
		default:
			err := fmt.Errorf("%s: %s: unsupported messageStruct=%+v", p.options.LogPrefix, cvd.Descriptor, messageStruct)
			log.Printf("%s", err.Error())
			return err
		}
	}

	for {
		messageStruct, err := readWireData(
			p.options.LogPrefix,
			cvd.Descriptor,
			conn,
			p.options.RxidMap,
			p.options.LogDebug,
		)
		if err != nil {
			log.Printf("%s", err.Error())
			return
		}

		err = handleMessage(messageStruct)
		if err != nil {
			return
		}
	}
}

// invoked on ReadLoop goroutine
func (p *Protocol) getNextConnID() uint32 {
	return p.connIDGen.Add(1)
}

// invoked on any goroutine
func (p *Protocol) GetNextTxseq() uint64 {
	return p.txseqGen.Add(1)
}

// Connected reports whether the current connection completed the hello.
func (p *Protocol) Connected() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.connState == nil {
		return false
	}

	return p.connState.Ready.Load()
}

// Installed reports whether the paired host ever completed a hello.
func (p *Protocol) Installed() bool {
	return p.installed.Load()
}

// invoked on any goroutine
func (p *Protocol) GetConnection() (*ConnState, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.connState == nil {
		return nil, fmt.Errorf("%s: %s: no active connection", p.options.LogPrefix, p.defaultDescriptor)
	}
	if !p.connState.Ready.Load() {
		return nil, fmt.Errorf("%s: %s: connection not ready", p.options.LogPrefix, p.connState.Data.Load().Descriptor)
	}

	return p.connState, nil
}

// caller must be on arbiter goroutine
func (p *Protocol) WriteSync(connState *ConnState, messageStruct *m.Message) error {
	return writeWireData(
		p.options.LogPrefix,
		p.options.Txid,
		connState,
		messageStruct,
	)
}
