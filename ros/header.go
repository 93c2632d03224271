package ros

import (
	"encoding/binary"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// EncodeHeader serializes a ROS connection header (spec §4.B): each
// "key=value" string is prefixed with its own u32le byte length, and the
// concatenation of all entries becomes the single payload of one framed
// message (see EncodeFrame). This is the dual of DecodeHeader.
func EncodeHeader(hs []header) []byte {
	var out []byte
	for _, h := range hs {
		entry := h.key + "=" + h.value
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(entry)))
		out = append(out, lenBuf[:]...)
		out = append(out, entry...)
	}
	return out
}

// DecodeHeader parses the payload of a connection-header frame into its
// key=value entries. Per spec §4.B it tolerates a missing "=" (the whole
// field becomes the key with an empty value) and clamps any declared field
// length to the number of bytes actually remaining in buf, defending
// against a malformed peer that overstates a field length. An understated
// length is not detected.
func DecodeHeader(buf []byte) []header {
	var hs []header
	for len(buf) > 0 {
		if len(buf) < 4 {
			// Not enough bytes left for another length prefix; stop rather
			// than fail the whole header, matching the codec's defensive
			// posture toward malformed peers.
			break
		}
		fieldLen := int(binary.LittleEndian.Uint32(buf[:4]))
		buf = buf[4:]
		if fieldLen > len(buf) {
			fieldLen = len(buf)
		}
		entry := string(buf[:fieldLen])
		buf = buf[fieldLen:]

		key := entry
		value := ""
		if idx := strings.IndexByte(entry, '='); idx >= 0 {
			key = entry[:idx]
			value = entry[idx+1:]
		}
		hs = append(hs, header{key: key, value: value})
	}
	return hs
}

// WriteConnectionHeader frames and writes a connection header to w, i.e. it
// combines EncodeHeader with the 4.A frame envelope. Mirrors the call shape
// of writeConnectionHeader(headers, conn) used throughout the teacher's
// ros/subscription.go and ros/service_client.go.
func WriteConnectionHeader(hs []header, w io.Writer) error {
	frame := EncodeFrame(EncodeHeader(hs))
	_, err := w.Write(frame)
	if err != nil {
		return errors.Wrap(err, "tcpros: write connection header")
	}
	return nil
}

// ReadConnectionHeader reads exactly one framed connection header from r.
// Mirrors readConnectionHeader(conn) in the teacher's call sites.
func ReadConnectionHeader(r io.Reader) ([]header, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, errors.Wrap(err, "tcpros: read header frame length")
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length > maxFrameLength {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "tcpros: read header frame payload")
	}
	return DecodeHeader(buf), nil
}
