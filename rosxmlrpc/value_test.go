package rosxmlrpc

import (
	"encoding/xml"
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, v interface{}) interface{} {
	t.Helper()
	enc, err := encodeValue(v)
	require.NoError(t, err)

	raw, err := xml.Marshal(enc)
	require.NoError(t, err)

	var decoded value
	require.NoError(t, xml.Unmarshal(raw, &decoded))

	out, err := decoded.decode()
	require.NoError(t, err)
	return out
}

func TestValueRoundTripScalars(t *testing.T) {
	require.Equal(t, true, roundTrip(t, true))
	require.Equal(t, int64(42), roundTrip(t, 42))
	require.Equal(t, "hello", roundTrip(t, "hello"))
	require.InDelta(t, 3.5, roundTrip(t, 3.5).(float64), 1e-9)
}

func TestValueRoundTripArray(t *testing.T) {
	in := []interface{}{"a", int64(1), true}
	out := roundTrip(t, in)
	require.Equal(t, in, out)
}

func TestValueRoundTripStruct(t *testing.T) {
	in := map[string]interface{}{"x": int64(1), "y": "two"}
	out := roundTrip(t, in).(map[string]interface{})
	require.Equal(t, in["x"], out["x"])
	require.Equal(t, in["y"], out["y"])
}

func TestValueRoundTripTriple(t *testing.T) {
	in := []interface{}{int64(1), "Success", []interface{}{"pub1", "pub2"}}
	out := roundTrip(t, in)
	require.Equal(t, in, out)
}
