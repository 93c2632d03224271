package ros

import "sync/atomic"

// Stats holds the per-connection counters described in spec §3. DropEstimate
// is -1 when the connection does not track dropped messages (inbound
// connections never drop; spec only requires the estimate on outbound).
type Stats struct {
	bytesSent     int64
	bytesReceived int64
	messagesSent  int64
	messagesRecv  int64
	dropEstimate  int64
}

// newOutboundStats returns a Stats with DropEstimate tracking enabled
// (starts at 0), for use by PublisherConnection.
func newOutboundStats() *Stats {
	return &Stats{}
}

// newInboundStats returns a Stats with DropEstimate fixed at -1 ("not
// tracked"), for use by SubscriberConnection.
func newInboundStats() *Stats {
	return &Stats{dropEstimate: -1}
}

func (s *Stats) addBytesSent(n int)     { atomic.AddInt64(&s.bytesSent, int64(n)) }
func (s *Stats) addBytesReceived(n int) { atomic.AddInt64(&s.bytesReceived, int64(n)) }
func (s *Stats) addMessageSent()        { atomic.AddInt64(&s.messagesSent, 1) }
func (s *Stats) addMessageReceived()    { atomic.AddInt64(&s.messagesRecv, 1) }
func (s *Stats) addDropped()            { atomic.AddInt64(&s.dropEstimate, 1) }

// Snapshot returns a consistent point-in-time copy of the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		BytesSent:     atomic.LoadInt64(&s.bytesSent),
		BytesReceived: atomic.LoadInt64(&s.bytesReceived),
		MessagesSent:  atomic.LoadInt64(&s.messagesSent),
		MessagesRecv:  atomic.LoadInt64(&s.messagesRecv),
		DropEstimate:  atomic.LoadInt64(&s.dropEstimate),
	}
}

// StatsSnapshot is an immutable copy of Stats' counters at one instant.
type StatsSnapshot struct {
	BytesSent     int64
	BytesReceived int64
	MessagesSent  int64
	MessagesRecv  int64
	DropEstimate  int64
}
