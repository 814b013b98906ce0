package record

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/grafana/flashq/flashqerr"
)

// Header is the decoded fixed-size prefix of a framed record, plus the
// already-decoded timestamp string. The reader is left positioned at
// the start of the JSON payload after ReadHeader returns.
type Header struct {
	PayloadSize  uint32
	Offset       uint64
	TimestampLen uint32
	Timestamp    string
	TimestampMs  int64
	StartPos     int64
}

type jsonPayload struct {
	Key     []byte            `json:"key,omitempty"`
	Value   []byte            `json:"value"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Serialize produces the framed record bytes for r at offset o, using
// the supplied RFC 3339 UTC timestamp.
func Serialize(r Record, offset uint64, timestamp string) ([]byte, error) {
	payload, err := json.Marshal(jsonPayload{Key: r.Key, Value: r.Value, Headers: r.Headers})
	if err != nil {
		return nil, fmt.Errorf("marshal record payload: %w", err)
	}
	tsBytes := []byte(timestamp)
	payloadSize := 4 + len(tsBytes) + len(payload)

	buf := make([]byte, 4+8+payloadSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(payloadSize))
	binary.BigEndian.PutUint64(buf[4:12], offset)
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(tsBytes)))
	copy(buf[16:16+len(tsBytes)], tsBytes)
	copy(buf[16+len(tsBytes):], payload)
	return buf, nil
}

// SerializeInto appends the framed record for r at offset to buf,
// returning the extended buffer and the number of bytes written. Used
// by bulk append to avoid a per-record allocation of the final frame.
func SerializeInto(buf []byte, r Record, offset uint64, timestamp string) ([]byte, int, error) {
	frame, err := Serialize(r, offset, timestamp)
	if err != nil {
		return buf, 0, err
	}
	return append(buf, frame...), len(frame), nil
}

// ReadHeader decodes the fixed header and timestamp, leaving the
// reader positioned at the start of the JSON payload. startPos is the
// absolute file offset the caller observed before reading, used to
// report Header.StartPos.
func ReadHeader(r io.Reader, startPos int64) (Header, error) {
	var fixed [16]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return Header{}, err
	}
	payloadSize := binary.BigEndian.Uint32(fixed[0:4])
	offset := binary.BigEndian.Uint64(fixed[4:12])
	tsLen := binary.BigEndian.Uint32(fixed[12:16])

	if uint64(payloadSize) < 4+uint64(tsLen) {
		return Header{}, &flashqerr.DataCorruptionError{
			Context: "record header",
			Details: fmt.Sprintf("payload_size %d smaller than timestamp_len %d", payloadSize, tsLen),
		}
	}

	tsBytes := make([]byte, tsLen)
	if _, err := io.ReadFull(r, tsBytes); err != nil {
		return Header{}, err
	}
	ts := string(tsBytes)
	tsMs := parseTimestampMs(ts)

	return Header{
		PayloadSize:  payloadSize,
		Offset:       offset,
		TimestampLen: tsLen,
		Timestamp:    ts,
		TimestampMs:  tsMs,
		StartPos:     startPos,
	}, nil
}

// SkipPayload advances r past the JSON payload described by h without
// allocating for the payload body. It requires a ReaderSeeker-capable
// stream or a plain discard; callers pass an io.Reader and we read
// into a bounded discard sink.
func SkipPayload(r io.Reader, h Header) error {
	remaining := int64(h.PayloadSize) - 4 - int64(h.TimestampLen)
	if remaining < 0 {
		return &flashqerr.DataCorruptionError{Context: "record payload", Details: "negative payload remainder"}
	}
	_, err := io.CopyN(io.Discard, r, remaining)
	return err
}

// DeserializePayload reads the JSON payload following an already
//-decoded header (the reader must be positioned right after the
// timestamp bytes, i.e. where ReadHeader left it) and returns the
// reconstructed record. Used by the time-seek fast path to finish
// decoding a record whose header already proved it matches, without
// re-reading the header from the start of the frame.
func DeserializePayload(r io.Reader, h Header) (WithOffset, error) {
	remaining := int64(h.PayloadSize) - 4 - int64(h.TimestampLen)
	if remaining < 0 {
		return WithOffset{}, &flashqerr.DataCorruptionError{Context: "record payload", Details: "negative payload remainder"}
	}
	payload := make([]byte, remaining)
	if _, err := io.ReadFull(r, payload); err != nil {
		return WithOffset{}, err
	}
	var p jsonPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return WithOffset{}, &flashqerr.DataCorruptionError{Context: "record json payload", Details: err.Error()}
	}
	return WithOffset{
		Record:    Record{Key: p.Key, Value: p.Value, Headers: p.Headers},
		Offset:    h.Offset,
		Timestamp: h.Timestamp,
	}, nil
}

// Deserialize reads one full framed record, including its JSON payload.
func Deserialize(r io.Reader, startPos int64) (WithOffset, error) {
	h, err := ReadHeader(r, startPos)
	if err != nil {
		return WithOffset{}, err
	}
	return DeserializePayload(r, h)
}

// FrameSize returns the total number of bytes a serialized record of
// this shape occupies on disk: 12 bytes of fixed header plus payload_size.
func FrameSize(h Header) int64 { return 12 + int64(h.PayloadSize) }

// Now returns the current time as an RFC 3339 UTC string, the
// canonical timestamp format stored in every frame.
func Now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// ParseTimestampMs parses an RFC 3339 timestamp to epoch milliseconds.
// On parse failure it yields 0, matching read_header's documented
// fallback rather than failing the whole decode.
func ParseTimestampMs(ts string) int64 { return parseTimestampMs(ts) }

func parseTimestampMs(ts string) int64 {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		t, err = time.Parse(time.RFC3339, ts)
		if err != nil {
			return 0
		}
	}
	return t.UnixMilli()
}
