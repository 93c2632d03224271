package ros

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// maxFrameLength is the declared-length ceiling from spec §4.A / §8: any
// frame claiming to carry more than this many payload bytes poisons the
// stream, the same defensive ceiling the teacher applies (at a smaller
// value) in ros/subscription.go's readSize.
const maxFrameLength = 1000000000

// ErrFrameTooLarge is returned by FrameDecoder.Feed when a peer declares a
// frame length above maxFrameLength. The caller must close the underlying
// socket; the decoder does not recover from this state.
var ErrFrameTooLarge = errors.New("tcpros: frame length exceeds maximum")

// frameDecodeState tracks whether the decoder is accumulating the 4-byte
// length prefix or the payload bytes it describes.
type frameDecodeState int

const (
	readingLength frameDecodeState = iota
	readingPayload
)

// FrameDecoder turns an arbitrarily-chunked byte stream into discrete
// length-prefixed frames (spec §4.A). It is stateful across calls to Feed:
// a chunk that ends mid-frame leaves the remainder buffered for the next
// call. Zero-length frames are emitted as empty byte slices.
type FrameDecoder struct {
	state     frameDecodeState
	lenBuf    [4]byte
	lenFilled int
	length    uint32
	payload   []byte
	filled    int
	poisoned  bool
}

// NewFrameDecoder returns a FrameDecoder ready to consume bytes from the
// start of a fresh TCPROS stream.
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{state: readingLength}
}

// Feed consumes buf greedily: every complete frame contained in buf (plus
// whatever was buffered from prior calls) is appended to out and returned.
// A partial trailing frame is retained internally for the next call. Once
// Feed returns a non-nil error the decoder is poisoned and must not be fed
// again; the caller is expected to close the socket.
func (d *FrameDecoder) Feed(buf []byte) (frames [][]byte, err error) {
	if d.poisoned {
		return nil, ErrFrameTooLarge
	}
	for len(buf) > 0 {
		switch d.state {
		case readingLength:
			n := copy(d.lenBuf[d.lenFilled:], buf)
			d.lenFilled += n
			buf = buf[n:]
			if d.lenFilled < 4 {
				continue
			}
			d.length = binary.LittleEndian.Uint32(d.lenBuf[:])
			d.lenFilled = 0
			if d.length > maxFrameLength {
				d.poisoned = true
				return frames, ErrFrameTooLarge
			}
			if d.length == 0 {
				frames = append(frames, []byte{})
				d.state = readingLength
				continue
			}
			d.payload = make([]byte, d.length)
			d.filled = 0
			d.state = readingPayload
		case readingPayload:
			n := copy(d.payload[d.filled:], buf)
			d.filled += n
			buf = buf[n:]
			if d.filled < int(d.length) {
				continue
			}
			frames = append(frames, d.payload)
			d.payload = nil
			d.state = readingLength
		}
	}
	return frames, nil
}

// EncodeFrame returns the u32le(len(payload)) || payload encoding of a
// single frame (the dual of FrameDecoder.Feed), matching the write side of
// ros/service_client.go's TCPROS framing.
func EncodeFrame(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(payload)))
	copy(out[4:], payload)
	return out
}
