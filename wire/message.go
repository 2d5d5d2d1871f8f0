// Package wire implements the binary protocol: every message variant this
// system exchanges, their content-addressed ids, and the message-array
// batching container.
package wire

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"sync"
)

// Category is the 1-byte tag that selects which payload table applies.
type Category byte

const (
	CategoryDoc       Category = 0x00
	CategoryAwareness Category = 0x01
	CategoryAck       Category = 0x02
	CategoryFile      Category = 0x03
)

var magic = [3]byte{0x59, 0x4A, 0x53}

const version1 = 0x01

// Permission mirrors the 1-byte permission flag used by auth-message and
// file-auth payloads.
type Permission byte

const (
	PermissionDenied  Permission = 0x00
	PermissionAllowed Permission = 0x01
)

// Context is server-assigned routing metadata. It travels alongside a
// decoded Message but is never part of the encoded bytes or the content
// id — it is attached by the server after a message is read off a
// transport, and cleared again when re-encoding for a different peer.
type Context struct {
	ClientID string
	UserID   string
	Room     string
}

// Message is the common interface satisfied by every wire variant.
// Encode is required to be deterministic: identical logical messages must
// produce identical bytes so that ID() is stable and content-addressed
// deduplication works.
type Message interface {
	Encode() []byte
	ID() string
	Context() Context
	SetContext(Context)
}

// idCache memoizes the encoded form and its content id. Safe for
// concurrent use: messages are routinely shared across session goroutines
// and fan-out readers.
type idCache struct {
	once    sync.Once
	encoded []byte
	id      string
}

func (c *idCache) get(encode func() []byte) (string, []byte) {
	c.once.Do(func() {
		c.encoded = encode()
		sum := sha256.Sum256(c.encoded)
		c.id = base64.StdEncoding.EncodeToString(sum[:])
	})
	return c.id, c.encoded
}

func writeHeader(buf *bytes.Buffer, category Category) {
	buf.Write(magic[:])
	buf.WriteByte(version1)
	buf.WriteByte(byte(category))
}

func writeDocAndEncrypted(buf *bytes.Buffer, document string, encrypted bool) {
	writeVarString(buf, document)
	writeBool(buf, encrypted)
}
