package crdtcore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"
	"unicode/utf8"
)

// ErrTruncatedUpdate is returned when an encoded update ends mid-field.
var ErrTruncatedUpdate = errors.New("crdtcore: truncated update")

// Update is the opaque binary blob carried between replicas: a
// deterministically encoded list of Ops. Merge-commutative because Ops
// apply idempotently regardless of order (ties broken by (Seq, NodeID),
// see rga.go).
type Update []byte

// StateVector is the opaque compact summary of what a replica has seen:
// here, the highest Seq observed per NodeID.
type StateVector map[string]uint64

func writeVarUint(buf *bytes.Buffer, n uint64) {
	var tmp [binary.MaxVarintLen64]byte
	w := binary.PutUvarint(tmp[:], n)
	buf.Write(tmp[:w])
}

func readVarUint(r *bytes.Reader) (uint64, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, ErrTruncatedUpdate
	}
	return n, nil
}

func writeString(buf *bytes.Buffer, s string) {
	writeVarUint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readVarUint(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(b); err != nil {
			return "", ErrTruncatedUpdate
		}
	}
	if !utf8.Valid(b) {
		return "", errors.New("crdtcore: invalid utf8 in op")
	}
	return string(b), nil
}

func writeID(buf *bytes.Buffer, id ID) {
	writeVarUint(buf, id.Seq)
	writeString(buf, id.NodeID)
}

func readID(r *bytes.Reader) (ID, error) {
	seq, err := readVarUint(r)
	if err != nil {
		return ID{}, err
	}
	nodeID, err := readString(r)
	if err != nil {
		return ID{}, err
	}
	return ID{Seq: seq, NodeID: nodeID}, nil
}

// EncodeUpdate serializes ops deterministically: a count prefix followed
// by each op's fields in a fixed order.
func EncodeUpdate(ops []Op) Update {
	var buf bytes.Buffer
	writeVarUint(&buf, uint64(len(ops)))
	for _, op := range ops {
		writeID(&buf, op.ID)
		writeID(&buf, op.InsertAfter)
		if op.Deleted {
			buf.WriteByte(0x01)
		} else {
			buf.WriteByte(0x00)
			writeVarUint(&buf, uint64(op.Char))
		}
	}
	return buf.Bytes()
}

// DecodeUpdate reverses EncodeUpdate.
func DecodeUpdate(u Update) ([]Op, error) {
	r := bytes.NewReader(u)
	count, err := readVarUint(r)
	if err != nil {
		return nil, err
	}
	ops := make([]Op, 0, count)
	for i := uint64(0); i < count; i++ {
		id, err := readID(r)
		if err != nil {
			return nil, err
		}
		after, err := readID(r)
		if err != nil {
			return nil, err
		}
		flag, err := r.ReadByte()
		if err != nil {
			return nil, ErrTruncatedUpdate
		}
		op := Op{ID: id, InsertAfter: after, Deleted: flag == 0x01}
		if !op.Deleted {
			charVal, err := readVarUint(r)
			if err != nil {
				return nil, err
			}
			op.Char = rune(charVal)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// EncodeStateVector serializes sv deterministically (sorted by NodeID so
// identical maps always produce identical bytes).
func EncodeStateVector(sv StateVector) []byte {
	nodeIDs := make([]string, 0, len(sv))
	for id := range sv {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	var buf bytes.Buffer
	writeVarUint(&buf, uint64(len(nodeIDs)))
	for _, id := range nodeIDs {
		writeString(&buf, id)
		writeVarUint(&buf, sv[id])
	}
	return buf.Bytes()
}

// DecodeStateVector reverses EncodeStateVector. An empty input decodes to
// an empty state vector.
func DecodeStateVector(b []byte) (StateVector, error) {
	if len(b) == 0 {
		return StateVector{}, nil
	}
	r := bytes.NewReader(b)
	count, err := readVarUint(r)
	if err != nil {
		return nil, err
	}
	sv := make(StateVector, count)
	for i := uint64(0); i < count; i++ {
		nodeID, err := readString(r)
		if err != nil {
			return nil, err
		}
		seq, err := readVarUint(r)
		if err != nil {
			return nil, err
		}
		sv[nodeID] = seq
	}
	return sv, nil
}
