package wire

import "bytes"

const (
	awarenessUpdateSub  byte = 0x00
	awarenessRequestSub byte = 0x01
)

// AwarenessPayload is the tagged-union contract for AwarenessMessage variants.
type AwarenessPayload interface {
	awarenessSubtype() byte
	encodeAwarenessPayload(buf *bytes.Buffer)
}

type AwarenessUpdate struct{ Update []byte }

func (AwarenessUpdate) awarenessSubtype() byte { return awarenessUpdateSub }
func (p AwarenessUpdate) encodeAwarenessPayload(buf *bytes.Buffer) { writeVarByteArray(buf, p.Update) }

type AwarenessRequest struct{}

func (AwarenessRequest) awarenessSubtype() byte                  { return awarenessRequestSub }
func (AwarenessRequest) encodeAwarenessPayload(buf *bytes.Buffer) {}

// AwarenessMessage carries ephemeral per-client presence state.
type AwarenessMessage struct {
	Document  string
	Encrypted bool
	Payload   AwarenessPayload

	ctx   Context
	cache idCache
}

func NewAwarenessMessage(document string, encrypted bool, payload AwarenessPayload) *AwarenessMessage {
	return &AwarenessMessage{Document: document, Encrypted: encrypted, Payload: payload}
}

func (m *AwarenessMessage) Context() Context     { return m.ctx }
func (m *AwarenessMessage) SetContext(c Context) { m.ctx = c }

func (m *AwarenessMessage) Encode() []byte {
	_, encoded := m.cache.get(m.encodeBytes)
	return encoded
}

func (m *AwarenessMessage) ID() string {
	id, _ := m.cache.get(m.encodeBytes)
	return id
}

func (m *AwarenessMessage) encodeBytes() []byte {
	var buf bytes.Buffer
	writeHeader(&buf, CategoryAwareness)
	writeDocAndEncrypted(&buf, m.Document, m.Encrypted)
	buf.WriteByte(m.Payload.awarenessSubtype())
	m.Payload.encodeAwarenessPayload(&buf)
	return buf.Bytes()
}

func decodeAwarenessPayload(r *bytes.Reader) (AwarenessPayload, error) {
	subtype, err := readByte(r)
	if err != nil {
		return nil, err
	}
	switch subtype {
	case awarenessUpdateSub:
		u, err := readVarByteArray(r)
		if err != nil {
			return nil, err
		}
		return AwarenessUpdate{Update: u}, nil
	case awarenessRequestSub:
		return AwarenessRequest{}, nil
	default:
		return nil, ErrUnknownSubtype
	}
}
