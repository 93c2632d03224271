package ros

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// connState is the PublisherConnection/SubscriberConnection state machine
// enum, in the style of actionlib/client_state_machine.go's CommState: a
// small integer with a String() method, guarded by the owning struct's
// mutex rather than exposed as an atomic on its own.
type connState int32

const (
	stateIdle connState = iota
	stateConnecting
	stateAwaitingHeader
	stateStreaming
	stateResponded
	stateServing
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateIdle:
		return "IDLE"
	case stateConnecting:
		return "CONNECTING"
	case stateAwaitingHeader:
		return "AWAITING_HEADER"
	case stateStreaming:
		return "STREAMING"
	case stateResponded:
		return "RESPONDED"
	case stateServing:
		return "SERVING"
	case stateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// handshakeTimeout is one deadline set over a whole header exchange (write
// and read together) on each outbound (re)connect attempt and each inbound
// handshake, mirroring the deadlines ros/service_client.go sets with
// conn.SetDeadline.
const handshakeTimeout = 3 * time.Second

// TransportInfo describes the two endpoints of an established TCPROS
// connection (spec §4.D "transport_info()").
type TransportInfo struct {
	Local  string
	Remote string
}

// PublisherConnection is the outbound TCPROS client state machine (spec
// §4.D): Idle -> Connecting -> AwaitingHeader -> Streaming -> Closed, with a
// Connecting->Connecting self-transition on reconnect. It maintains a
// subscriber-side session to one remote publisher for one topic. Grounded
// on ros/subscription.go's defaultSubscription.run/connectToPublisher/
// readFromPublisher, restructured around an explicit state and the
// cenkalti/backoff-based retry helper instead of fixed timers.
type PublisherConnection struct {
	id             uint64
	topic          string
	remoteAddr     string
	requestHeader  []header
	requestTypeKey string // the "type" field of requestHeader, cached for handshake validation
	requestMD5     string

	dialer  SocketFactory
	parser  MessageDefinitionParser
	logger  Logger
	backoff *Backoff

	stats *Stats

	mu          sync.Mutex
	state       connState
	conn        net.Conn
	msgType     MessageType
	headerSnap  headerMap
	connected   bool
	localAddr   string
	remoteAddrS string

	headerEvt  headerListeners
	messageEvt messageListeners
	errorEvt   errorListeners

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPublisherConnection constructs a PublisherConnection. The request
// header is fixed for the connection's lifetime per spec §4.D's invariant
// and is sent unmodified on every (re)connect attempt.
func NewPublisherConnection(id uint64, topic, remoteAddr string, requestHeader []header, dialer SocketFactory, parser MessageDefinitionParser, logger Logger) *PublisherConnection {
	c := &PublisherConnection{
		id:            id,
		topic:         topic,
		remoteAddr:    remoteAddr,
		requestHeader: requestHeader,
		dialer:        dialer,
		parser:        parser,
		logger:        logger,
		backoff:       NewBackoff(),
		stats:         newOutboundStats(),
		state:         stateIdle,
		done:          make(chan struct{}),
	}
	for _, h := range requestHeader {
		switch h.key {
		case "type":
			c.requestTypeKey = h.value
		case "md5sum":
			c.requestMD5 = h.value
		}
	}
	return c
}

// ID returns this connection's node-unique connection_id.
func (c *PublisherConnection) ID() uint64 { return c.id }

// OnHeader registers an observer invoked once per successful handshake,
// when the peer's response header is received and parsed (so again after
// every reconnect).
func (c *PublisherConnection) OnHeader(fn func(headerMap)) { c.headerEvt.add(fn) }

// OnMessage registers an observer invoked once per decoded message.
func (c *PublisherConnection) OnMessage(fn func([]byte, MessageEvent)) { c.messageEvt.add(fn) }

// OnError registers an observer invoked on every non-fatal fault.
func (c *PublisherConnection) OnError(fn func(error)) { c.errorEvt.add(fn) }

// Start begins the asynchronous connect-handshake-stream-reconnect loop.
// ctx governs the connection's entire lifetime; cancelling it is equivalent
// to calling Close.
func (c *PublisherConnection) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.state = stateConnecting
	c.mu.Unlock()
	go c.run(runCtx)
}

// Close transitions the connection to Closed. Once Closed it never
// reconnects, regardless of subsequent socket events (spec §4.D).
func (c *PublisherConnection) Close() {
	c.mu.Lock()
	if c.cancel == nil {
		// Never started: there is no run loop to wait for.
		c.state = stateClosed
		c.mu.Unlock()
		return
	}
	c.cancel()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	<-c.done
}

func (c *PublisherConnection) setState(s connState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State returns the connection's current state-machine state.
func (c *PublisherConnection) State() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether a handshake has completed and the connection is
// currently streaming.
func (c *PublisherConnection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Header returns the most recently received response header, if any.
func (c *PublisherConnection) Header() headerMap {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headerSnap
}

// Stats returns a snapshot of this connection's byte/message counters.
func (c *PublisherConnection) Stats() StatsSnapshot { return c.stats.Snapshot() }

// TransportInfo describes the local and remote endpoints of the current (or
// most recent) socket.
func (c *PublisherConnection) TransportInfo() TransportInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return TransportInfo{Local: c.localAddr, Remote: c.remoteAddrS}
}

func (c *PublisherConnection) run(ctx context.Context) {
	defer close(c.done)
	retries := 0
	for {
		select {
		case <-ctx.Done():
			c.setState(stateClosed)
			return
		default:
		}

		c.setState(stateConnecting)
		conn, err := c.dialer.Dial(ctx, c.remoteAddr)
		if err != nil {
			c.logger.WithFields(logrus.Fields{"topic": c.topic, "remote": c.remoteAddr, "error": err}).Error("publisher connect failed")
			c.errorEvt.emit(errors.Wrap(err, "tcpros: dial publisher"))
			retries++
			if !c.sleepBackoff(ctx, retries) {
				c.setState(stateClosed)
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.localAddr = conn.LocalAddr().String()
		c.remoteAddrS = conn.RemoteAddr().String()
		c.state = stateAwaitingHeader
		c.mu.Unlock()

		msgType, hdrMap, err := c.handshake(conn)
		if err != nil {
			c.logger.WithFields(logrus.Fields{"topic": c.topic, "error": err}).Warn("publisher handshake failed")
			c.errorEvt.emit(err)
			conn.Close()
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			retries++
			if !c.sleepBackoff(ctx, retries) {
				c.setState(stateClosed)
				return
			}
			continue
		}

		retries = 0
		c.mu.Lock()
		c.msgType = msgType
		c.headerSnap = hdrMap
		c.connected = true
		c.state = stateStreaming
		c.mu.Unlock()
		c.headerEvt.emit(hdrMap)

		c.stream(ctx, conn, msgType, hdrMap)

		conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.connected = false
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			c.setState(stateClosed)
			return
		default:
		}
		retries++
		if !c.sleepBackoff(ctx, retries) {
			c.setState(stateClosed)
			return
		}
	}
}

// sleepBackoff waits Delay(retries), returning false if ctx is cancelled
// first (spec §4.C cancellation: "the next sleep returns early").
func (c *PublisherConnection) sleepBackoff(ctx context.Context, retries int) bool {
	d := c.backoff.Delay(retries)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// handshake writes the (immutable) request header and reads+validates the
// peer's response header, then resolves a MessageType via the external
// message-definition parser. Mirrors
// ros/subscription.go:connectToPublisher.
func (c *PublisherConnection) handshake(conn net.Conn) (MessageType, headerMap, error) {
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	if err := WriteConnectionHeader(c.requestHeader, conn); err != nil {
		return nil, nil, errors.Wrap(err, "tcpros: write request header")
	}

	respHeaders, err := ReadConnectionHeader(conn)
	if err != nil {
		return nil, nil, errors.Wrap(err, "tcpros: read response header")
	}
	hdrMap := headersToMap(respHeaders)

	if hdrMap["type"] != c.requestTypeKey && hdrMap["type"] != "*" && c.requestTypeKey != "*" {
		return nil, nil, errors.Errorf("tcpros: incompatible type: want %q got %q", c.requestTypeKey, hdrMap["type"])
	}
	if hdrMap["md5sum"] != c.requestMD5 && hdrMap["md5sum"] != "*" && c.requestMD5 != "*" {
		return nil, nil, errors.Errorf("tcpros: incompatible md5sum: want %q got %q", c.requestMD5, hdrMap["md5sum"])
	}
	if hdrMap["topic"] == "" {
		// Some incomplete TCPROS implementations omit topic in the
		// response; fill it in, matching the teacher's tolerance.
		hdrMap["topic"] = c.topic
	}

	var msgType MessageType
	if c.parser != nil {
		msgType, err = c.parser.Parse(hdrMap["type"], hdrMap["message_definition"])
		if err != nil {
			return nil, nil, errors.Wrap(err, "tcpros: parse message definition")
		}
	}
	return msgType, hdrMap, nil
}

// stream reads frames off conn until it fails or ctx is cancelled, emitting
// a message event per frame. A per-frame decode failure is reported but
// does not end the loop (spec §4.D "Reader errors are reported but do not
// tear down the connection").
func (c *PublisherConnection) stream(ctx context.Context, conn net.Conn, msgType MessageType, hdrMap headerMap) {
	dec := NewFrameDecoder()
	buf := make([]byte, 64*1024)
	baseEvt := MessageEvent{PublisherName: hdrMap["callerid"], ConnectionHeader: hdrMap}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, err := conn.Read(buf)
		if n > 0 {
			c.stats.addBytesReceived(n)
			frames, ferr := dec.Feed(buf[:n])
			for _, f := range frames {
				c.stats.addMessageReceived()
				evt := baseEvt
				if msgType != nil {
					msg := msgType.NewMessage()
					if derr := msg.Deserialize(bytes.NewReader(f)); derr != nil {
						c.stats.addDropped()
						c.errorEvt.emit(errors.Wrap(derr, "tcpros: decode message"))
						continue
					}
					evt.Decoded = msg
				}
				c.messageEvt.emit(f, evt)
			}
			if ferr != nil {
				c.errorEvt.emit(ferr)
				return
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
	}
}

func (c *PublisherConnection) String() string {
	return fmt.Sprintf("PublisherConnection{topic=%s remote=%s id=%d}", c.topic, c.remoteAddr, c.id)
}
