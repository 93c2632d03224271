package ros

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"
)

func newTestPublication(t *testing.T, latching bool) *Publication {
	t.Helper()
	return NewPublication("/test/topic", "std_msgs/Bool", latching, "bool data", "8b94c1b53db61fb6aed406028ad6332a", nil, NewDiscardLogger().Module("pub"))
}

// acceptSubscriberConnection dials addr, drives the handshake as a well
// behaved subscriber, and returns the live socket plus the parsed response
// header so the caller can assert on it or read subsequent frames.
func acceptSubscriberConnection(t *testing.T, addr string, topic, dataType, md5sum string) (net.Conn, headerMap) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	reqHeaders := []header{
		{"topic", topic},
		{"md5sum", md5sum},
		{"callerid", "/sub"},
		{"type", dataType},
		{"tcp_nodelay", "0"},
	}
	if err := WriteConnectionHeader(reqHeaders, conn); err != nil {
		t.Fatalf("write request header: %v", err)
	}
	respHeaders, err := ReadConnectionHeader(conn)
	if err != nil {
		t.Fatalf("read response header: %v", err)
	}
	return conn, headersToMap(respHeaders)
}

func acceptOneSubscriberConnection(t *testing.T, pub *Publication, id uint64) net.Listener {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	go func() {
		c, err := l.Accept()
		if err != nil {
			return
		}
		sc := NewSubscriberConnection(id, c, acceptLookup{pub}, NewDiscardLogger().Module("subconn"))
		sc.OnSubscribe(func(conn *SubscriberConnection) {
			if p := conn.Publication(); p != nil {
				p.attach(conn.ID(), conn)
			}
		})
		go sc.Serve()
	}()
	return l
}

// acceptLookup is a single-publication publicationLookup stub.
type acceptLookup struct{ pub *Publication }

func (a acceptLookup) lookupPublication(topic string) (*Publication, bool) {
	if topic != a.pub.Topic() {
		return nil, false
	}
	return a.pub, true
}

func readOneFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var lenBuf [4]byte
	if _, err := readFull(conn, lenBuf[:]); err != nil {
		t.Fatalf("read frame length: %v", err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := readFull(conn, buf); err != nil {
		t.Fatalf("read frame payload: %v", err)
	}
	return buf
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestPublicationFanOutDeliversToEverySubscriber(t *testing.T) {
	pub := newTestPublication(t, false)
	l1 := acceptOneSubscriberConnection(t, pub, 1)
	l2 := acceptOneSubscriberConnection(t, pub, 2)

	c1, _ := acceptSubscriberConnection(t, l1.Addr().String(), pub.Topic(), pub.DataType(), pub.MD5Sum())
	c2, _ := acceptSubscriberConnection(t, l2.Addr().String(), pub.Topic(), pub.DataType(), pub.MD5Sum())

	deadline := time.Now().Add(time.Second)
	for pub.NumSubscribers() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n := pub.NumSubscribers(); n != 2 {
		t.Fatalf("NumSubscribers() = %d, want 2", n)
	}

	if err := pub.Publish([]byte{0x01}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if got := readOneFrame(t, c1); !bytes.Equal(got, []byte{0x01}) {
		t.Fatalf("c1 got %v, want [0x01]", got)
	}
	if got := readOneFrame(t, c2); !bytes.Equal(got, []byte{0x01}) {
		t.Fatalf("c2 got %v, want [0x01]", got)
	}
}

// TestPublicationLatchingReplaysToLateSubscriber covers spec §8 scenario 2:
// a subscriber connecting after a latched publish must still receive the
// most recent message before any further publish.
func TestPublicationLatchingReplaysToLateSubscriber(t *testing.T) {
	pub := newTestPublication(t, true)
	if err := pub.Publish([]byte{0x01}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	l := acceptOneSubscriberConnection(t, pub, 1)
	conn, _ := acceptSubscriberConnection(t, l.Addr().String(), pub.Topic(), pub.DataType(), pub.MD5Sum())

	if got := readOneFrame(t, conn); !bytes.Equal(got, []byte{0x01}) {
		t.Fatalf("late subscriber got %v, want latched [0x01]", got)
	}
}

func TestPublicationCloseClosesAllSubscriberConnections(t *testing.T) {
	pub := newTestPublication(t, false)
	l := acceptOneSubscriberConnection(t, pub, 1)
	conn, _ := acceptSubscriberConnection(t, l.Addr().String(), pub.Topic(), pub.DataType(), pub.MD5Sum())

	deadline := time.Now().Add(time.Second)
	for pub.NumSubscribers() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	pub.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatalf("expected connection to be closed after Publication.Close")
	}
}
