package ros

import (
	"context"
	"net"
	"testing"

	"github.com/pkg/errors"
)

// alwaysFailDialer is a SocketFactory whose Dial always fails immediately,
// used to exercise a PublisherConnection's Connecting state (and its
// cancellation) without a real socket.
type alwaysFailDialer struct{}

func (alwaysFailDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	return nil, errors.New("dial refused")
}

func newTestSubscription(t *testing.T) *Subscription {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewSubscription(ctx, "/test/topic", "std_msgs/Bool", "8b94c1b53db61fb6aed406028ad6332a", false, NewDiscardLogger().Module("sub"))
}

func TestSubscriptionApplyPublisherURLsDiffsAgainstCurrentSet(t *testing.T) {
	s := newTestSubscription(t)

	added, removed := s.ApplyPublisherURLs([]string{"http://u1", "http://u2"})
	if len(removed) != 0 {
		t.Fatalf("removed = %v, want none on first diff", removed)
	}
	assertSameSet(t, added, []string{"http://u1", "http://u2"})

	// Simulate the caller attaching connections for the added URLs, the way
	// Node.subscribeToPublisher does once requestTopic returns an endpoint
	// (the dial and handshake run after Attach starts the connection).
	s.Attach("http://u1", newStubPublisherConnection())
	s.Attach("http://u2", newStubPublisherConnection())

	// A follow-up publisherUpdate with [u2, u3]: u1 disappears, u3 appears,
	// u2 is untouched (spec §8 scenario 4).
	added, removed = s.ApplyPublisherURLs([]string{"http://u2", "http://u3"})
	assertSameSet(t, added, []string{"http://u3"})
	assertSameSet(t, removed, []string{"http://u1"})
}

func TestSubscriptionDetachClosesTheConnection(t *testing.T) {
	s := newTestSubscription(t)
	conn := newStubPublisherConnection()
	s.Attach("http://u1", conn)
	if !s.HasURL("http://u1") {
		t.Fatalf("HasURL(u1) = false after Attach")
	}
	s.Detach("http://u1")
	if s.HasURL("http://u1") {
		t.Fatalf("HasURL(u1) = true after Detach")
	}
	if conn.State() != stateClosed {
		t.Fatalf("detached connection state = %v, want Closed", conn.State())
	}
}

func TestSubscriptionCloseClosesEveryConnection(t *testing.T) {
	s := newTestSubscription(t)
	c1 := newStubPublisherConnection()
	c2 := newStubPublisherConnection()
	s.Attach("http://u1", c1)
	s.Attach("http://u2", c2)

	s.Close()

	if s.Alive() {
		t.Fatalf("Alive() = true after Close")
	}
	if c1.State() != stateClosed || c2.State() != stateClosed {
		t.Fatalf("Close did not close every attached connection")
	}
	if s.NumPublishers() != 0 {
		t.Fatalf("NumPublishers() = %d after Close, want 0", s.NumPublishers())
	}
}

func TestSubscriptionAttachAfterCloseIsRejected(t *testing.T) {
	s := newTestSubscription(t)
	s.Close()
	if s.Attach("http://u1", newStubPublisherConnection()) {
		t.Fatalf("Attach succeeded on a closed subscription")
	}
}

// newStubPublisherConnection returns a PublisherConnection wired to a dialer
// that always fails, so Subscription.Attach's call to Start puts it into a
// real Connecting/backoff loop that Close cancels promptly (the select in
// sleepBackoff picks ctx.Done() as soon as it is cancelled, regardless of
// the backoff duration). Exercises Subscription's attach/detach bookkeeping
// against the real PublisherConnection state machine rather than a fake.
func newStubPublisherConnection() *PublisherConnection {
	return NewPublisherConnection(0, "/test/topic", "127.0.0.1:0", nil, alwaysFailDialer{}, nil, NewDiscardLogger().Module("pubconn"))
}

func assertSameSet(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want set %v", got, want)
	}
	set := make(map[string]bool, len(want))
	for _, w := range want {
		set[w] = true
	}
	for _, g := range got {
		if !set[g] {
			t.Fatalf("got %v, want set %v", got, want)
		}
	}
}
