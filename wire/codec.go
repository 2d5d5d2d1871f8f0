package wire

import "bytes"

// PingFrame and PongFrame are the two out-of-band keep-alive frames. They
// share the ordinary magic but carry no version/body and are never
// assigned a content id — they are not Messages.
var (
	PingFrame = append(append([]byte{}, magic[:]...), []byte("ping")...)
	PongFrame = append(append([]byte{}, magic[:]...), []byte("pong")...)
)

// IsKeepAlive reports whether b is exactly one of the two keep-alive frames.
func IsKeepAlive(b []byte) bool {
	return bytes.Equal(b, PingFrame) || bytes.Equal(b, PongFrame)
}

// Decode parses one encoded message. The byte layout is:
//
//	magic(3) version(1) category(1) [document encrypted] subtype payload
//
// Ack messages omit the bracketed document/encrypted fields; the
// category tag is read immediately after the version so the decoder can
// branch on it before deciding whether those fields are present.
func Decode(b []byte) (Message, error) {
	if len(b) < 4 {
		return nil, ErrTruncated
	}
	if !bytes.Equal(b[:3], magic[:]) {
		return nil, ErrInvalidMagic
	}
	if b[3] != version1 {
		return nil, ErrUnsupportedVersion
	}
	r := bytes.NewReader(b[4:])
	catByte, err := readByte(r)
	if err != nil {
		return nil, err
	}
	switch Category(catByte) {
	case CategoryAck:
		id, err := readVarString(r)
		if err != nil {
			return nil, err
		}
		return NewAckMessage(id), nil
	case CategoryDoc:
		doc, encrypted, err := readDocAndEncrypted(r)
		if err != nil {
			return nil, err
		}
		payload, err := decodeDocPayload(r)
		if err != nil {
			return nil, err
		}
		return NewDocMessage(doc, encrypted, payload), nil
	case CategoryAwareness:
		doc, encrypted, err := readDocAndEncrypted(r)
		if err != nil {
			return nil, err
		}
		payload, err := decodeAwarenessPayload(r)
		if err != nil {
			return nil, err
		}
		return NewAwarenessMessage(doc, encrypted, payload), nil
	case CategoryFile:
		doc, encrypted, err := readDocAndEncrypted(r)
		if err != nil {
			return nil, err
		}
		payload, err := decodeFilePayload(r)
		if err != nil {
			return nil, err
		}
		return NewFileMessage(doc, encrypted, payload), nil
	default:
		return nil, ErrUnknownCategory
	}
}

func readDocAndEncrypted(r *bytes.Reader) (string, bool, error) {
	doc, err := readVarString(r)
	if err != nil {
		return "", false, err
	}
	encrypted, err := readBool(r)
	if err != nil {
		return "", false, err
	}
	return doc, encrypted, nil
}

// EncodeArray frames a batch of messages: repeated (varuint length, bytes)
// pairs with no leading count, "message arrays".
func EncodeArray(msgs []Message) []byte {
	var buf bytes.Buffer
	for _, m := range msgs {
		encoded := m.Encode()
		writeVarUint(&buf, uint64(len(encoded)))
		buf.Write(encoded)
	}
	return buf.Bytes()
}

// DecodeArray reverses EncodeArray, decoding until the buffer is exhausted.
func DecodeArray(b []byte) ([]Message, error) {
	r := bytes.NewReader(b)
	var out []Message
	for r.Len() > 0 {
		n, err := readVarUint(r)
		if err != nil {
			return nil, err
		}
		chunk := make([]byte, n)
		if _, err := readFull(r, chunk); err != nil {
			return nil, ErrTruncated
		}
		msg, err := Decode(chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}
