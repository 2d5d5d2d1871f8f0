package envelope

import (
	"errors"

	"github.com/Polqt/collabsync/crdtcore"
	"github.com/Polqt/collabsync/wire"
)

// ErrUnsupportedPayload names a payload type with no encrypted form (only
// update and sync-step-2 payloads are sealed). Encrypt and Decrypt do not
// return it: they pass such payloads through.
var ErrUnsupportedPayload = errors.New("envelope: payload is not encryptable")

// fauxStateVector is the placeholder sync-step-1 payload sent in place of
// a real state vector once a session is encrypted: the server cannot
// compute a meaningful diff over ciphertext, so sync-step-1 degrades to
// "give me everything you have" and the client-side envelope reconciles
// via its own locally retained faux updates.
var fauxStateVector = []byte{0x00}

// Encrypt transforms an outbound DocMessage carrying a plaintext update
// or sync-step-2 payload into its encrypted form. A sync-step-1 payload is
// replaced by the faux state vector and marked encrypted. Other payload
// types are returned unchanged, since they carry no document content to
// protect.
func Encrypt(key Key, msg *wire.DocMessage) (*wire.DocMessage, error) {
	switch p := msg.Payload.(type) {
	case wire.DocUpdate:
		blob, err := sealPayload(key, p.Update)
		if err != nil {
			return nil, err
		}
		return wire.NewDocMessage(msg.Document, true, wire.DocUpdate{Update: blob}), nil
	case wire.SyncStep2:
		blob, err := sealPayload(key, p.Update)
		if err != nil {
			return nil, err
		}
		return wire.NewDocMessage(msg.Document, true, wire.SyncStep2{Update: blob}), nil
	case wire.SyncStep1:
		return wire.NewDocMessage(msg.Document, true, wire.SyncStep1{SV: fauxStateVector}), nil
	default:
		return msg, nil
	}
}

func sealPayload(key Key, plaintext []byte) ([]byte, error) {
	fu, err := Seal(key, plaintext)
	if err != nil {
		return nil, err
	}
	return EncodeList([]FauxUpdate{fu}), nil
}

// Decrypt transforms an inbound encrypted DocMessage back to plaintext.
// When the faux update list contains multiple entries, they are merged
// via the CRDT's merge operation into a single update message.
func Decrypt(key Key, msg *wire.DocMessage) (*wire.DocMessage, error) {
	if !msg.Encrypted {
		return msg, nil
	}
	switch p := msg.Payload.(type) {
	case wire.DocUpdate:
		plain, err := openPayload(key, p.Update)
		if err != nil {
			return nil, err
		}
		return wire.NewDocMessage(msg.Document, false, wire.DocUpdate{Update: plain}), nil
	case wire.SyncStep2:
		plain, err := openPayload(key, p.Update)
		if err != nil {
			return nil, err
		}
		return wire.NewDocMessage(msg.Document, false, wire.SyncStep2{Update: plain}), nil
	case wire.SyncStep1:
		// Faux state vector carries no real information to decode; the
		// caller treats an encrypted session's sync-step-1 as empty.
		return wire.NewDocMessage(msg.Document, false, wire.SyncStep1{SV: nil}), nil
	default:
		return msg, nil
	}
}

func openPayload(key Key, blob []byte) ([]byte, error) {
	entries, err := DecodeList(blob)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrTruncatedEnvelope
	}
	plains := make([]crdtcore.Update, 0, len(entries))
	for _, fu := range entries {
		plain, err := Open(key, fu)
		if err != nil {
			return nil, err
		}
		plains = append(plains, plain)
	}
	if len(plains) == 1 {
		return plains[0], nil
	}
	return crdtcore.Merge(plains...)
}
