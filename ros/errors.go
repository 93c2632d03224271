package ros

import "github.com/pkg/errors"

// Sentinel errors checked with errors.Is at call sites (ambient error
// handling, spec "Error handling design" §7 / DESIGN.md component K).
var (
	ErrPublicationClosed    = errors.New("ros: publication is closed")
	ErrSubscriptionClosed   = errors.New("ros: subscription is closed")
	ErrNodeShutdown         = errors.New("ros: node is shut down")
	ErrTopicNotAdvertised   = errors.New("tcpros: topic not advertised")
	ErrUnsupportedProtocol  = errors.New("unsupported protocol")
	ErrCannotReceiveInbound = errors.New("cannot receive incoming connections")
	ErrHandshakeRejected    = errors.New("tcpros: handshake rejected")
	ErrMissingHeaderField   = errors.New("tcpros: missing required header field")
)
