package ros

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Publication is a node's advertised topic (spec §3 "Publication"). It owns
// the table of SubscriberConnections currently attached to it and, when
// latching, the most recently published pre-framed payload.
type Publication struct {
	topic           string
	dataType        string
	md5sum          string
	latching        bool
	definitionText  string
	msgType         MessageType

	logger Logger

	mu          sync.RWMutex
	subscribers map[uint64]*SubscriberConnection
	latched     []byte // pre-framed (u32le length || payload) TCPROS bytes
	closed      bool
}

// NewPublication constructs a Publication. msgType may be nil (e.g. tests);
// it is stored but not consulted: the handshake response header is built
// from definitionText and md5sum, and Publish takes already-serialized bytes.
func NewPublication(topic, dataType string, latching bool, definitionText, md5sum string, msgType MessageType, logger Logger) *Publication {
	return &Publication{
		topic:          topic,
		dataType:       dataType,
		md5sum:         md5sum,
		latching:       latching,
		definitionText: definitionText,
		msgType:        msgType,
		logger:         logger,
		subscribers:    make(map[uint64]*SubscriberConnection),
	}
}

func (p *Publication) Topic() string    { return p.topic }
func (p *Publication) DataType() string { return p.dataType }
func (p *Publication) MD5Sum() string   { return p.md5sum }
func (p *Publication) Latching() bool   { return p.latching }

// NumSubscribers returns the number of currently attached subscriber
// connections.
func (p *Publication) NumSubscribers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscribers)
}

// attach registers a SubscriberConnection that has completed its handshake,
// keyed by its node-unique connection_id (spec §3 invariant: ids are never
// reused within a process lifetime). If a latched payload exists it is
// expected to already have been written by the connection itself during its
// own handshake (spec §4.E), so attach only needs to track membership here.
func (p *Publication) attach(id uint64, conn *SubscriberConnection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		conn.Close()
		return
	}
	p.subscribers[id] = conn
}

// detach removes a subscriber connection from the fan-out set; called when
// a SubscriberConnection closes for any reason.
func (p *Publication) detach(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subscribers, id)
}

// latchedPayload returns the cached pre-framed TCPROS bytes for replay to a
// newly handshaking subscriber, or nil if nothing has been published yet
// (or latching is disabled).
func (p *Publication) latchedPayload() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latched
}

// Publish frames raw, an already-serialized message (Publish does not
// encode with msgType), once and fans it out to every currently attached
// subscriber connection. Per spec §5, fan-out has no-fail-fast semantics:
// a write failure on one connection must not block or abort delivery to
// the others, and does not itself fail Publish. Each write runs on its own
// goroutine; Publish returns once every write has completed or failed
// (each write carries its own deadline).
func (p *Publication) Publish(raw []byte) error {
	framed := EncodeFrame(raw)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPublicationClosed
	}
	if p.latching {
		p.latched = framed
	}
	conns := make([]*SubscriberConnection, 0, len(p.subscribers))
	for _, c := range p.subscribers {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(len(conns))
	for _, c := range conns {
		c := c
		go func() {
			defer wg.Done()
			if err := c.sendFramed(framed); err != nil {
				p.logger.WithFields(logrus.Fields{"topic": p.topic, "error": err}).Warn("publish: failed to deliver to one subscriber")
			}
		}()
	}
	wg.Wait()
	return nil
}

// Close tears down every attached subscriber connection and marks the
// publication unusable for further publishes (spec §3 "Destruction closes
// every attached subscriber connection").
func (p *Publication) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	conns := make([]*SubscriberConnection, 0, len(p.subscribers))
	for _, c := range p.subscribers {
		conns = append(conns, c)
	}
	p.subscribers = make(map[uint64]*SubscriberConnection)
	p.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
