package ros

import (
	"context"
	"sync"
)

// Subscription is a node's subscribed topic (spec §3 "Subscription"). It
// owns the table of PublisherConnections currently attached to it, keyed by
// the publisher's follower URL so that Node.publisherUpdate can diff
// against the URL set the master reports (spec §4.F). Folds together the
// teacher's ros/subscriber.go (the goroutine owning pubListChan and its
// setDifference diff, see ApplyPublisherURLs below) and this file's own
// defaultSubscription (the per-socket reader, now PublisherConnection in
// ros/publisher_connection.go).
type Subscription struct {
	topic      string
	dataType   string
	md5sum     string
	tcpNoDelay bool

	logger Logger

	mu     sync.RWMutex
	byURL  map[string]*PublisherConnection
	closed bool
	ctx    context.Context
	cancel context.CancelFunc

	headerEvt  headerListeners
	messageEvt messageListeners
	errorEvt   errorListeners
}

// NewSubscription constructs a Subscription. parentCtx is cancelled when
// the owning Node shuts down; cancelling it tears down every attached
// PublisherConnection and stops any in-flight registerSubscriber retry.
func NewSubscription(parentCtx context.Context, topic, dataType, md5sum string, tcpNoDelay bool, logger Logger) *Subscription {
	ctx, cancel := context.WithCancel(parentCtx)
	return &Subscription{
		topic:      topic,
		dataType:   dataType,
		md5sum:     md5sum,
		tcpNoDelay: tcpNoDelay,
		logger:     logger,
		byURL:      make(map[string]*PublisherConnection),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *Subscription) Topic() string    { return s.topic }
func (s *Subscription) DataType() string { return s.dataType }
func (s *Subscription) MD5Sum() string   { return s.md5sum }

// Context returns the subscription's lifetime context; anything performing
// an asynchronous action on behalf of this subscription (Node's
// registerSubscriber retry loop, _subscribe_to_publisher) must select on
// Done() at every suspension point, per spec §5 "Cancellation".
func (s *Subscription) Context() context.Context { return s.ctx }

// Alive reports whether the subscription has not yet been closed; used by
// in-flight _subscribe_to_publisher attempts to check the subscription's
// liveness before each suspension point (spec §4.F).
func (s *Subscription) Alive() bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// HasURL reports whether a PublisherConnection for the given follower URL
// is already attached.
func (s *Subscription) HasURL(url string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byURL[url]
	return ok
}

// URLs returns the set of follower URLs this subscription currently holds
// connections to.
func (s *Subscription) URLs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	urls := make([]string, 0, len(s.byURL))
	for u := range s.byURL {
		urls = append(urls, u)
	}
	return urls
}

// NumPublishers returns the number of currently attached publisher
// connections.
func (s *Subscription) NumPublishers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byURL)
}

// Attach registers conn under the publisher's follower URL, wires its
// events through to the subscription's own listener registries, and starts
// it. Returns false (without attaching) if the subscription has already
// been closed.
func (s *Subscription) Attach(url string, conn *PublisherConnection) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.byURL[url] = conn
	s.mu.Unlock()

	conn.OnHeader(func(h headerMap) { s.headerEvt.emit(h) })
	conn.OnMessage(func(raw []byte, evt MessageEvent) { s.messageEvt.emit(raw, evt) })
	conn.OnError(func(err error) { s.errorEvt.emit(err) })
	conn.Start(s.ctx)
	return true
}

// Detach closes and removes the connection previously attached under url,
// if any (spec §4.F publisherUpdate: "For each URL that disappeared, close
// the corresponding PublisherConnection and remove it").
func (s *Subscription) Detach(url string) {
	s.mu.Lock()
	conn, ok := s.byURL[url]
	delete(s.byURL, url)
	s.mu.Unlock()
	if ok {
		conn.Close()
	}
}

func (s *Subscription) OnHeader(fn func(headerMap))             { s.headerEvt.add(fn) }
func (s *Subscription) OnMessage(fn func([]byte, MessageEvent)) { s.messageEvt.add(fn) }
func (s *Subscription) OnError(fn func(error))                  { s.errorEvt.add(fn) }

// ApplyPublisherURLs diffs newURLs against the currently attached set and
// returns the URLs that appeared (added) and disappeared (removed). This is
// the generalized form of the teacher's setDifference(lhs, rhs) pairing
// used in ros/subscriber.go:defaultSubscriber.start's pubListChan case, and
// backs every publisherUpdate push (spec §4.F); the URLs returned by the
// initial registerSubscriber call are dialed by Node.registerSubscriberLoop
// without passing through this diff. The caller is responsible for
// detaching removed URLs and dialing+attaching added ones.
func (s *Subscription) ApplyPublisherURLs(newURLs []string) (added, removed []string) {
	s.mu.RLock()
	current := make(map[string]bool, len(s.byURL))
	for u := range s.byURL {
		current[u] = true
	}
	s.mu.RUnlock()

	want := make(map[string]bool, len(newURLs))
	for _, u := range newURLs {
		want[u] = true
		if !current[u] {
			added = append(added, u)
		}
	}
	for u := range current {
		if !want[u] {
			removed = append(removed, u)
		}
	}
	return added, removed
}

// Close tears down every attached publisher connection and cancels the
// subscription's context, stopping any in-flight registration retry or
// _subscribe_to_publisher attempt (spec §3 "destruction closes every
// attached publisher connection").
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := make([]*PublisherConnection, 0, len(s.byURL))
	for _, c := range s.byURL {
		conns = append(conns, c)
	}
	s.byURL = make(map[string]*PublisherConnection)
	s.mu.Unlock()

	s.cancel()
	for _, c := range conns {
		c.Close()
	}
}
