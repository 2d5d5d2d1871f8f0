package awareness

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// ErrTruncated is returned when an encoded awareness snapshot ends
// mid-entry.
var ErrTruncated = errors.New("awareness: truncated update")

func encodeEntries(clients map[string]Entry) []byte {
	var buf bytes.Buffer
	writeVarUint(&buf, uint64(len(clients)))
	for clientID, e := range clients {
		writeVarString(&buf, clientID)
		writeVarUint(&buf, e.Clock)
		writeVarUint(&buf, uint64(len(e.State)))
		buf.Write(e.State)
	}
	return buf.Bytes()
}

func decodeEntries(b []byte) (map[string]Entry, error) {
	r := bytes.NewReader(b)
	count, err := readVarUint(r)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Entry, count)
	for i := uint64(0); i < count; i++ {
		clientID, err := readVarString(r)
		if err != nil {
			return nil, err
		}
		clock, err := readVarUint(r)
		if err != nil {
			return nil, err
		}
		n, err := readVarUint(r)
		if err != nil {
			return nil, err
		}
		state := make([]byte, n)
		if n > 0 {
			if _, err := io.ReadFull(r, state); err != nil {
				return nil, ErrTruncated
			}
		}
		out[clientID] = Entry{Clock: clock, State: state}
	}
	return out, nil
}

func writeVarUint(buf *bytes.Buffer, n uint64) {
	var tmp [binary.MaxVarintLen64]byte
	w := binary.PutUvarint(tmp[:], n)
	buf.Write(tmp[:w])
}

func readVarUint(r *bytes.Reader) (uint64, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, ErrTruncated
	}
	return n, nil
}

func writeVarString(buf *bytes.Buffer, s string) {
	writeVarUint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func readVarString(r *bytes.Reader) (string, error) {
	n, err := readVarUint(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, b); err != nil {
			return "", ErrTruncated
		}
	}
	return string(b), nil
}
