package ros

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// publicationLookup resolves a topic name to the Publication a
// SubscriberConnection's handshake must validate against. Node supplies
// this; it is an interface so SubscriberConnection does not import Node
// directly (observational back-reference only, per spec §9).
type publicationLookup interface {
	lookupPublication(topic string) (*Publication, bool)
}

// SubscriberConnection is the inbound TCPROS server-side state machine
// (spec §4.E): AwaitingHeader -> Responded -> Serving -> Closed. It serves
// one accepted socket that expects to receive messages from us on exactly
// one topic. There is no teacher file to ground this on directly (the
// publisher-side of edwinhayes-rosgo was not part of this retrieval pack);
// it is built in the same idiom as ros/publisher_connection.go and the
// header-validation shape of ros/service_client.go's doServiceRequest.
type SubscriberConnection struct {
	id      uint64
	conn    net.Conn
	lookup  publicationLookup
	logger  Logger

	stats *Stats

	mu    sync.Mutex
	state connState

	topic      string
	callerID   string
	declared   headerMap
	pub        *Publication
	writeMu    sync.Mutex // serializes writes to conn independent of other connections

	subscribeEvt subscribeListeners
	errorEvt     errorListeners

	done chan struct{}
}

// NewSubscriberConnection wraps an already-accepted socket. The caller
// (Node's accept loop) is responsible for invoking Serve, typically in its
// own goroutine.
func NewSubscriberConnection(id uint64, conn net.Conn, lookup publicationLookup, logger Logger) *SubscriberConnection {
	return &SubscriberConnection{
		id:     id,
		conn:   conn,
		lookup: lookup,
		logger: logger,
		stats:  newInboundStats(),
		state:  stateAwaitingHeader,
		done:   make(chan struct{}),
	}
}

func (c *SubscriberConnection) ID() uint64 { return c.id }
func (c *SubscriberConnection) Topic() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topic
}

func (c *SubscriberConnection) State() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Publication returns the Publication this connection validated its
// handshake against, or nil before the handshake completes. Used by the
// OnSubscribe listener to attach the connection to the right fan-out set.
func (c *SubscriberConnection) Publication() *Publication {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pub
}

// Stats returns a snapshot of this connection's byte counters. DropEstimate
// is always -1: inbound connections do not track drops (spec §3).
func (c *SubscriberConnection) Stats() StatsSnapshot { return c.stats.Snapshot() }

func (c *SubscriberConnection) OnSubscribe(fn func(*SubscriberConnection)) { c.subscribeEvt.add(fn) }
func (c *SubscriberConnection) OnError(fn func(error))                    { c.errorEvt.add(fn) }

// Serve runs the handshake and then the (empty) serving loop; it returns
// once the connection closes for any reason. Intended to be called from a
// dedicated goroutine per accepted socket.
func (c *SubscriberConnection) Serve() {
	defer close(c.done)
	defer c.conn.Close()

	if err := c.handshake(); err != nil {
		c.setState(stateClosed)
		c.errorEvt.emit(err)
		return
	}

	c.mu.Lock()
	c.state = stateServing
	c.mu.Unlock()
	c.subscribeEvt.emit(c)

	c.serve()
	c.setState(stateClosed)
	if c.pub != nil {
		c.pub.detach(c.id)
	}
}

// Close closes the underlying socket, which unblocks Serve and drives the
// connection to Closed.
func (c *SubscriberConnection) Close() {
	c.conn.Close()
	<-c.done
}

func (c *SubscriberConnection) setState(s connState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// handshake reads the subscriber's request header, validates it against the
// node's publication table, and on success writes a response header plus
// any latched payload (spec §4.E AwaitingHeader transitions).
func (c *SubscriberConnection) handshake() error {
	c.conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer c.conn.SetDeadline(time.Time{})

	hs, err := ReadConnectionHeader(c.conn)
	if err != nil {
		return errors.Wrap(err, "tcpros: read request header")
	}
	req := headersToMap(hs)
	c.mu.Lock()
	c.declared = req
	c.mu.Unlock()

	topic := req["topic"]
	callerID := req["callerid"]
	reqType := req["type"]
	if topic == "" || callerID == "" || reqType == "" {
		return errors.Wrapf(ErrMissingHeaderField, "tcpros: request header %v", req)
	}

	pub, ok := c.lookup.lookupPublication(topic)
	if !ok {
		return errors.Wrapf(ErrTopicNotAdvertised, "tcpros: topic %q", topic)
	}
	if reqType != pub.DataType() && reqType != "*" && pub.DataType() != "*" {
		return errors.Wrapf(ErrHandshakeRejected, "tcpros: type mismatch: want %q got %q", pub.DataType(), reqType)
	}
	reqMD5 := req["md5sum"]
	if reqMD5 != pub.MD5Sum() && reqMD5 != "*" && pub.MD5Sum() != "*" {
		return errors.Wrapf(ErrHandshakeRejected, "tcpros: md5sum mismatch: want %q got %q", pub.MD5Sum(), reqMD5)
	}

	if tc, ok := c.conn.(*net.TCPConn); ok {
		tc.SetNoDelay(req["tcp_nodelay"] == "1")
	}

	latchingStr := "0"
	if pub.Latching() {
		latchingStr = "1"
	}
	respHeaders := []header{
		{"callerid", callerID},
		{"latching", latchingStr},
		{"md5sum", pub.MD5Sum()},
		{"message_definition", pub.definitionText},
		{"topic", topic},
		{"type", pub.DataType()},
	}
	if err := WriteConnectionHeader(respHeaders, c.conn); err != nil {
		return errors.Wrap(err, "tcpros: write response header")
	}

	c.mu.Lock()
	c.topic = topic
	c.callerID = callerID
	c.pub = pub
	c.state = stateResponded
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{"topic": topic, "callerid": callerID}).Debug("subscriber handshake accepted")

	if latched := pub.latchedPayload(); latched != nil {
		if err := c.writeRaw(latched); err != nil {
			return errors.Wrap(err, "tcpros: write latched payload")
		}
	}
	return nil
}

// serve discards any bytes the subscriber sends after the handshake: per
// spec §4.E ("Serving -> Serving: data from the peer after the handshake is
// unexpected"), subscribers do not send message traffic, so the bytes are
// only counted.
func (c *SubscriberConnection) serve() {
	buf := make([]byte, 4096)
	for {
		c.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.stats.addBytesReceived(n)
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
	}
}

// sendFramed writes an already-framed (length-prefixed) payload to this
// connection. Used by Publication.Publish's fan-out; independent of every
// other connection's write (spec §4.E "Concurrency").
func (c *SubscriberConnection) sendFramed(framed []byte) error {
	return c.writeRaw(framed)
}

func (c *SubscriberConnection) writeRaw(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	n, err := c.conn.Write(b)
	c.stats.addBytesSent(n)
	if err != nil {
		return err
	}
	c.stats.addMessageSent()
	return nil
}
