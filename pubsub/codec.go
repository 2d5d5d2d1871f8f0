package pubsub

import "errors"

// ErrTruncatedEnvelope is returned when a bus payload is too short to
// contain a valid sourceId-prefixed envelope.
var ErrTruncatedEnvelope = errors.New("pubsub: truncated envelope")

// encodeEnvelope prefixes payload with its publishing sourceId so that
// subscribers sharing a raw Backend (which only moves bytes) can still
// recover who sent a message and suppress their own echoes.
// Same varint length-prefix convention as the wire package: 7 data bits
// per byte, MSB continuation.
func encodeEnvelope(sourceID string, payload []byte) []byte {
	idBytes := []byte(sourceID)
	out := make([]byte, 0, len(idBytes)+len(payload)+5)
	out = appendVarUint(out, uint64(len(idBytes)))
	out = append(out, idBytes...)
	out = append(out, payload...)
	return out
}

func decodeEnvelope(b []byte) (sourceID string, payload []byte, err error) {
	n, rest, err := readVarUint(b)
	if err != nil {
		return "", nil, err
	}
	if uint64(len(rest)) < n {
		return "", nil, ErrTruncatedEnvelope
	}
	return string(rest[:n]), rest[n:], nil
}

func appendVarUint(out []byte, n uint64) []byte {
	for n >= 0x80 {
		out = append(out, byte(n&0x7f)|0x80)
		n >>= 7
	}
	return append(out, byte(n))
}

func readVarUint(b []byte) (uint64, []byte, error) {
	var result uint64
	var shift uint
	for i, byt := range b {
		if shift >= 64 {
			return 0, nil, ErrTruncatedEnvelope
		}
		result |= uint64(byt&0x7f) << shift
		if byt&0x80 == 0 {
			return result, b[i+1:], nil
		}
		shift += 7
	}
	return 0, nil, ErrTruncatedEnvelope
}
