package ros

import (
	"context"
	"net"
)

// SocketFactory is the abstract byte-stream collaborator spec §1 calls out
// as external to this package's core ("concrete TCP sockets and listeners").
// PublisherConnection dials through one instead of calling net.Dial
// directly, so tests can substitute an in-memory pipe.
type SocketFactory interface {
	Dial(ctx context.Context, address string) (net.Conn, error)
}

// netSocketFactory is the production SocketFactory, backed by net.Dialer.
type netSocketFactory struct {
	dialer net.Dialer
}

// NewNetSocketFactory returns the default SocketFactory used by a Node
// unless overridden with WithSocketFactory.
func NewNetSocketFactory() SocketFactory {
	return &netSocketFactory{}
}

func (f *netSocketFactory) Dial(ctx context.Context, address string) (net.Conn, error) {
	return f.dialer.DialContext(ctx, "tcp", address)
}
