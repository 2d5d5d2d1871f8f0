package wire

import "bytes"

// AckMessage carries the content id being acknowledged. It has no document
// name and no encrypted flag: the wire layout is magic+version+category+
// payload, skipping the document/encrypted fields that every other
// category carries.
type AckMessage struct {
	MessageID string

	ctx   Context
	cache idCache
}

func NewAckMessage(messageID string) *AckMessage {
	return &AckMessage{MessageID: messageID}
}

func (m *AckMessage) Context() Context     { return m.ctx }
func (m *AckMessage) SetContext(c Context) { m.ctx = c }

func (m *AckMessage) Encode() []byte {
	_, encoded := m.cache.get(m.encodeBytes)
	return encoded
}

func (m *AckMessage) ID() string {
	id, _ := m.cache.get(m.encodeBytes)
	return id
}

func (m *AckMessage) encodeBytes() []byte {
	var buf bytes.Buffer
	writeHeader(&buf, CategoryAck)
	writeVarString(&buf, m.MessageID)
	return buf.Bytes()
}
