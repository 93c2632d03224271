package ros

import (
	"bytes"
	"testing"
)

// TestFrameDecoderRoundTripsArbitraryChunking verifies spec §8's framing
// invariant: for any sequence of encoded payloads, delivered in arbitrary
// chunk sizes, the decoder emits exactly the original payloads in order.
func TestFrameDecoderRoundTripsArbitraryChunking(t *testing.T) {
	payloads := [][]byte{
		[]byte("hello"),
		{},
		[]byte("a"),
		bytes.Repeat([]byte{0xAB}, 300),
	}

	var wire []byte
	for _, p := range payloads {
		wire = append(wire, EncodeFrame(p)...)
	}

	for _, chunkSize := range []int{1, 2, 3, 7, len(wire)} {
		dec := NewFrameDecoder()
		var got [][]byte
		for i := 0; i < len(wire); i += chunkSize {
			end := i + chunkSize
			if end > len(wire) {
				end = len(wire)
			}
			frames, err := dec.Feed(wire[i:end])
			if err != nil {
				t.Fatalf("chunkSize=%d: Feed returned %v", chunkSize, err)
			}
			got = append(got, frames...)
		}
		if len(got) != len(payloads) {
			t.Fatalf("chunkSize=%d: got %d frames, want %d", chunkSize, len(got), len(payloads))
		}
		for i, p := range payloads {
			if !bytes.Equal(got[i], p) {
				t.Fatalf("chunkSize=%d: frame %d = %v, want %v", chunkSize, i, got[i], p)
			}
		}
	}
}

func TestFrameDecoderEmitsAllCompleteFramesInOneChunk(t *testing.T) {
	wire := append(EncodeFrame([]byte("one")), EncodeFrame([]byte("two"))...)
	wire = append(wire, 0x02, 0x00, 0x00, 0x00, 'h') // partial trailing frame

	dec := NewFrameDecoder()
	frames, err := dec.Feed(wire)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames from one chunk, want 2 complete plus a buffered partial", len(frames))
	}

	frames, err = dec.Feed([]byte("i"))
	if err != nil {
		t.Fatalf("Feed (completing partial): %v", err)
	}
	if len(frames) != 1 || string(frames[0]) != "hi" {
		t.Fatalf("completed partial frame = %q, want %q", frames, "hi")
	}
}

func TestFrameDecoderRejectsLengthOverMaximum(t *testing.T) {
	dec := NewFrameDecoder()
	// 0x3B9ACA01 little-endian = 1,000,000,001.
	_, err := dec.Feed([]byte{0x01, 0xCA, 0x9A, 0x3B})
	if err != ErrFrameTooLarge {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
	// Once poisoned, the decoder must not be fed again.
	if _, err := dec.Feed([]byte{0x00}); err != ErrFrameTooLarge {
		t.Fatalf("poisoned decoder err = %v, want ErrFrameTooLarge", err)
	}
}

func TestFrameDecoderAcceptsExactlyOneBillionBytes(t *testing.T) {
	dec := NewFrameDecoder()
	lenBuf := []byte{0x00, 0xCA, 0x9A, 0x3B} // 1,000,000,000 little-endian
	frames, err := dec.Feed(lenBuf)
	if err != nil {
		t.Fatalf("Feed(exact max length): %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("expected no complete frames yet, got %d", len(frames))
	}
}

func TestEncodeFrameZeroLengthPayload(t *testing.T) {
	got := EncodeFrame(nil)
	want := []byte{0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("EncodeFrame(nil) = %v, want %v", got, want)
	}
}
