package record

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	r := Record{Key: []byte("k"), Value: []byte("v"), Headers: map[string]string{"h": "1"}}
	ts := Now()

	frame, err := Serialize(r, 42, ts)
	require.NoError(t, err)

	got, err := Deserialize(bytes.NewReader(frame), 0)
	require.NoError(t, err)

	require.Equal(t, uint64(42), got.Offset)
	require.Equal(t, ts, got.Timestamp)
	require.Equal(t, r.Key, got.Key)
	require.Equal(t, r.Value, got.Value)
	require.Equal(t, r.Headers, got.Headers)
}

func TestReadHeaderThenSkipPayload(t *testing.T) {
	r := Record{Value: []byte("hello world")}
	ts := Now()
	frame, err := Serialize(r, 7, ts)
	require.NoError(t, err)

	buf := bytes.NewReader(frame)
	h, err := ReadHeader(buf, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(7), h.Offset)

	require.NoError(t, SkipPayload(buf, h))
	require.Equal(t, 0, buf.Len())
}

func TestSerializeIntoAppendsFrame(t *testing.T) {
	var buf []byte
	r := Record{Value: []byte("a")}
	ts := Now()

	buf, n, err := SerializeInto(buf, r, 0, ts)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)

	buf2, n2, err := SerializeInto(buf, Record{Value: []byte("b")}, 1, ts)
	require.NoError(t, err)
	require.Equal(t, len(buf)+n2, len(buf2))

	got, err := Deserialize(bytes.NewReader(buf2[n:]), 0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.Offset)
	require.Equal(t, []byte("b"), got.Value)
}

func TestDeserializeDetectsCorruption(t *testing.T) {
	r := Record{Value: []byte("x")}
	frame, err := Serialize(r, 0, Now())
	require.NoError(t, err)

	truncated := frame[:len(frame)-2]
	_, err = Deserialize(bytes.NewReader(truncated), 0)
	require.Error(t, err)
}

func TestReadHeaderBadTimestampYieldsZeroMs(t *testing.T) {
	frame, err := Serialize(Record{Value: []byte("x")}, 0, "not-a-timestamp")
	require.NoError(t, err)
	h, err := ReadHeader(bytes.NewReader(frame), 0)
	require.NoError(t, err)
	require.Equal(t, int64(0), h.TimestampMs)
}
