package ros

import (
	"io"
)

// MessageType describes the schema of a ROS message. Concrete implementations
// are provided by a message-definition parser external to this package (see
// MessageDefinitionParser); this package only consumes the interface.
type MessageType interface {
	// Text returns the canonical message definition text.
	Text() string
	// MD5Sum returns the 32-character hex MD5 checksum of the definition.
	MD5Sum() string
	// Name returns the fully-qualified ROS type name, e.g. "std_msgs/Bool".
	Name() string
	// NewMessage allocates a zero-valued instance of this message type.
	NewMessage() Message
}

// Message is a single decoded/encodable ROS message value.
type Message interface {
	// Serialize writes the wire encoding of the message to w.
	Serialize(w io.Writer) error
	// Deserialize populates the message by reading its wire encoding from r.
	Deserialize(r io.Reader) error
}

// MessageDefinitionParser turns a message type name and its canonical
// definition text into a MessageType, computing the MD5 checksum along the
// way. It is the external collaborator referenced by spec §4.D ("feed the
// header's message_definition field through the external message-definition
// parser").
type MessageDefinitionParser interface {
	Parse(typeName string, definitionText string) (MessageType, error)
}

// header is one key=value pair of a ROS connection header, in the order it
// was encoded or decoded.
type header struct {
	key   string
	value string
}

// headerMap is the decoded form of a connection header, used for the
// user-facing snapshot exposed by PublisherConnection.Header / by the
// follower RPC surface.
type headerMap map[string]string

func headersToMap(hs []header) headerMap {
	m := make(headerMap, len(hs))
	for _, h := range hs {
		m[h.key] = h.value
	}
	return m
}

