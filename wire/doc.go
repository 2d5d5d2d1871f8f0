package wire

import "bytes"

// Doc subtypes
const (
	docSyncStep1          byte = 0x00
	docSyncStep2          byte = 0x01
	docUpdate             byte = 0x02
	docSyncDone           byte = 0x03
	docAuthMessage        byte = 0x04
	docMilestoneListReq   byte = 0x05
	docMilestoneListResp  byte = 0x06
	docMilestoneSnapReq   byte = 0x07
	docMilestoneSnapResp  byte = 0x08
	docMilestoneCreateReq byte = 0x09
	docMilestoneCreateResp byte = 0x0A
	docMilestoneRenameReq byte = 0x0B
	docMilestoneRenameResp byte = 0x0C
	docMilestoneAuth      byte = 0x0D
	docMilestoneSoftDelReq byte = 0x0E
	docMilestoneSoftDelResp byte = 0x0F
	docMilestoneRestoreReq byte = 0x10
	docMilestoneRestoreResp byte = 0x11
)

// DocPayload is the tagged-union contract for every DocMessage variant.
type DocPayload interface {
	docSubtype() byte
	encodeDocPayload(buf *bytes.Buffer)
}

// MilestoneCreator identifies who produced a milestone.
type MilestoneCreator struct {
	Type string // "user" or "system"
	ID   string
}

const (
	creatorTypeUser   byte = 0x00
	creatorTypeSystem byte = 0x01
)

// MilestoneMeta is the persisted metadata describing a named snapshot.
type MilestoneMeta struct {
	ID           string
	Name         string
	DocumentID   string
	CreatedAt    uint64
	DeletedAt    *uint64
	LifecycleState *string
	ExpiresAt    *uint64
	CreatedBy    MilestoneCreator
}

func encodeMilestoneMeta(buf *bytes.Buffer, m MilestoneMeta) {
	writeVarString(buf, m.ID)
	writeVarString(buf, m.Name)
	writeVarString(buf, m.DocumentID)
	writeVarUint(buf, m.CreatedAt)
	writeBool(buf, m.DeletedAt != nil)
	if m.DeletedAt != nil {
		writeVarUint(buf, *m.DeletedAt)
	}
	writeBool(buf, m.LifecycleState != nil)
	if m.LifecycleState != nil {
		writeVarString(buf, *m.LifecycleState)
	}
	writeBool(buf, m.ExpiresAt != nil)
	if m.ExpiresAt != nil {
		writeVarUint(buf, *m.ExpiresAt)
	}
	if m.CreatedBy.Type == "system" {
		buf.WriteByte(creatorTypeSystem)
	} else {
		buf.WriteByte(creatorTypeUser)
	}
	writeVarString(buf, m.CreatedBy.ID)
}

func decodeMilestoneMeta(r *bytes.Reader) (MilestoneMeta, error) {
	var m MilestoneMeta
	var err error
	if m.ID, err = readVarString(r); err != nil {
		return m, err
	}
	if m.Name, err = readVarString(r); err != nil {
		return m, err
	}
	if m.DocumentID, err = readVarString(r); err != nil {
		return m, err
	}
	if m.CreatedAt, err = readVarUint(r); err != nil {
		return m, err
	}
	hasDeleted, err := readBool(r)
	if err != nil {
		return m, err
	}
	if hasDeleted {
		v, err := readVarUint(r)
		if err != nil {
			return m, err
		}
		m.DeletedAt = &v
	}
	hasLifecycle, err := readBool(r)
	if err != nil {
		return m, err
	}
	if hasLifecycle {
		s, err := readVarString(r)
		if err != nil {
			return m, err
		}
		m.LifecycleState = &s
	}
	hasExpires, err := readBool(r)
	if err != nil {
		return m, err
	}
	if hasExpires {
		v, err := readVarUint(r)
		if err != nil {
			return m, err
		}
		m.ExpiresAt = &v
	}
	tb, err := readByte(r)
	if err != nil {
		return m, err
	}
	if tb == creatorTypeSystem {
		m.CreatedBy.Type = "system"
	} else {
		m.CreatedBy.Type = "user"
	}
	if m.CreatedBy.ID, err = readVarString(r); err != nil {
		return m, err
	}
	return m, nil
}

// ── payload variants ──────────────────────────────────────────

type SyncStep1 struct{ SV []byte }

func (SyncStep1) docSubtype() byte { return docSyncStep1 }
func (p SyncStep1) encodeDocPayload(buf *bytes.Buffer) { writeVarByteArray(buf, p.SV) }

type SyncStep2 struct{ Update []byte }

func (SyncStep2) docSubtype() byte { return docSyncStep2 }
func (p SyncStep2) encodeDocPayload(buf *bytes.Buffer) { writeVarByteArray(buf, p.Update) }

type DocUpdate struct{ Update []byte }

func (DocUpdate) docSubtype() byte { return docUpdate }
func (p DocUpdate) encodeDocPayload(buf *bytes.Buffer) { writeVarByteArray(buf, p.Update) }

type SyncDone struct{}

func (SyncDone) docSubtype() byte                     { return docSyncDone }
func (SyncDone) encodeDocPayload(buf *bytes.Buffer)    {}

type AuthMessage struct {
	Permission Permission
	Reason     string
}

func (AuthMessage) docSubtype() byte { return docAuthMessage }
func (p AuthMessage) encodeDocPayload(buf *bytes.Buffer) {
	buf.WriteByte(byte(p.Permission))
	writeVarString(buf, p.Reason)
}

type MilestoneListReq struct{ SnapshotIDs []string }

func (MilestoneListReq) docSubtype() byte { return docMilestoneListReq }
func (p MilestoneListReq) encodeDocPayload(buf *bytes.Buffer) {
	writeVarUint(buf, uint64(len(p.SnapshotIDs)))
	for _, id := range p.SnapshotIDs {
		writeVarString(buf, id)
	}
}

type MilestoneListResp struct{ Milestones []MilestoneMeta }

func (MilestoneListResp) docSubtype() byte { return docMilestoneListResp }
func (p MilestoneListResp) encodeDocPayload(buf *bytes.Buffer) {
	writeVarUint(buf, uint64(len(p.Milestones)))
	for _, m := range p.Milestones {
		encodeMilestoneMeta(buf, m)
	}
}

type MilestoneSnapshotReq struct{ MilestoneID string }

func (MilestoneSnapshotReq) docSubtype() byte { return docMilestoneSnapReq }
func (p MilestoneSnapshotReq) encodeDocPayload(buf *bytes.Buffer) { writeVarString(buf, p.MilestoneID) }

type MilestoneSnapshotResp struct {
	MilestoneID string
	Snapshot    []byte
}

func (MilestoneSnapshotResp) docSubtype() byte { return docMilestoneSnapResp }
func (p MilestoneSnapshotResp) encodeDocPayload(buf *bytes.Buffer) {
	writeVarString(buf, p.MilestoneID)
	writeVarByteArray(buf, p.Snapshot)
}

type MilestoneCreateReq struct {
	HasName  bool
	Name     string
	Snapshot []byte
}

func (MilestoneCreateReq) docSubtype() byte { return docMilestoneCreateReq }
func (p MilestoneCreateReq) encodeDocPayload(buf *bytes.Buffer) {
	writeBool(buf, p.HasName)
	if p.HasName {
		writeVarString(buf, p.Name)
	}
	writeVarByteArray(buf, p.Snapshot)
}

type MilestoneCreateResp struct{ Milestone MilestoneMeta }

func (MilestoneCreateResp) docSubtype() byte { return docMilestoneCreateResp }
func (p MilestoneCreateResp) encodeDocPayload(buf *bytes.Buffer) { encodeMilestoneMeta(buf, p.Milestone) }

type MilestoneRenameReq struct {
	MilestoneID string
	Name        string
}

func (MilestoneRenameReq) docSubtype() byte { return docMilestoneRenameReq }
func (p MilestoneRenameReq) encodeDocPayload(buf *bytes.Buffer) {
	writeVarString(buf, p.MilestoneID)
	writeVarString(buf, p.Name)
}

type MilestoneRenameResp struct{ Milestone MilestoneMeta }

func (MilestoneRenameResp) docSubtype() byte { return docMilestoneRenameResp }
func (p MilestoneRenameResp) encodeDocPayload(buf *bytes.Buffer) { encodeMilestoneMeta(buf, p.Milestone) }

type MilestoneAuth struct {
	Permission Permission
	Reason     string
}

func (MilestoneAuth) docSubtype() byte { return docMilestoneAuth }
func (p MilestoneAuth) encodeDocPayload(buf *bytes.Buffer) {
	buf.WriteByte(byte(p.Permission))
	writeVarString(buf, p.Reason)
}

type MilestoneSoftDeleteReq struct{ MilestoneID string }

func (MilestoneSoftDeleteReq) docSubtype() byte { return docMilestoneSoftDelReq }
func (p MilestoneSoftDeleteReq) encodeDocPayload(buf *bytes.Buffer) { writeVarString(buf, p.MilestoneID) }

type MilestoneSoftDeleteResp struct{ MilestoneID string }

func (MilestoneSoftDeleteResp) docSubtype() byte { return docMilestoneSoftDelResp }
func (p MilestoneSoftDeleteResp) encodeDocPayload(buf *bytes.Buffer) { writeVarString(buf, p.MilestoneID) }

type MilestoneRestoreReq struct{ MilestoneID string }

func (MilestoneRestoreReq) docSubtype() byte { return docMilestoneRestoreReq }
func (p MilestoneRestoreReq) encodeDocPayload(buf *bytes.Buffer) { writeVarString(buf, p.MilestoneID) }

type MilestoneRestoreResp struct{ MilestoneID string }

func (MilestoneRestoreResp) docSubtype() byte { return docMilestoneRestoreResp }
func (p MilestoneRestoreResp) encodeDocPayload(buf *bytes.Buffer) { writeVarString(buf, p.MilestoneID) }

// ── DocMessage ─────────────────────────────────────────────────

// DocMessage carries sync traffic and milestone management for one document.
type DocMessage struct {
	Document  string
	Encrypted bool
	Payload   DocPayload

	ctx   Context
	cache idCache
}

func NewDocMessage(document string, encrypted bool, payload DocPayload) *DocMessage {
	return &DocMessage{Document: document, Encrypted: encrypted, Payload: payload}
}

func (m *DocMessage) Context() Context     { return m.ctx }
func (m *DocMessage) SetContext(c Context) { m.ctx = c }

func (m *DocMessage) Encode() []byte {
	id, encoded := m.cache.get(m.encodeBytes)
	_ = id
	return encoded
}

func (m *DocMessage) ID() string {
	id, _ := m.cache.get(m.encodeBytes)
	return id
}

func (m *DocMessage) encodeBytes() []byte {
	var buf bytes.Buffer
	writeHeader(&buf, CategoryDoc)
	writeDocAndEncrypted(&buf, m.Document, m.Encrypted)
	buf.WriteByte(m.Payload.docSubtype())
	m.Payload.encodeDocPayload(&buf)
	return buf.Bytes()
}

func decodeDocPayload(r *bytes.Reader) (DocPayload, error) {
	subtype, err := readByte(r)
	if err != nil {
		return nil, err
	}
	switch subtype {
	case docSyncStep1:
		sv, err := readVarByteArray(r)
		if err != nil {
			return nil, err
		}
		return SyncStep1{SV: sv}, nil
	case docSyncStep2:
		u, err := readVarByteArray(r)
		if err != nil {
			return nil, err
		}
		return SyncStep2{Update: u}, nil
	case docUpdate:
		u, err := readVarByteArray(r)
		if err != nil {
			return nil, err
		}
		return DocUpdate{Update: u}, nil
	case docSyncDone:
		return SyncDone{}, nil
	case docAuthMessage:
		p, err := readByte(r)
		if err != nil {
			return nil, err
		}
		reason, err := readVarString(r)
		if err != nil {
			return nil, err
		}
		return AuthMessage{Permission: Permission(p), Reason: reason}, nil
	case docMilestoneListReq:
		n, err := readVarUint(r)
		if err != nil {
			return nil, err
		}
		ids := make([]string, n)
		for i := range ids {
			if ids[i], err = readVarString(r); err != nil {
				return nil, err
			}
		}
		return MilestoneListReq{SnapshotIDs: ids}, nil
	case docMilestoneListResp:
		n, err := readVarUint(r)
		if err != nil {
			return nil, err
		}
		ms := make([]MilestoneMeta, n)
		for i := range ms {
			if ms[i], err = decodeMilestoneMeta(r); err != nil {
				return nil, err
			}
		}
		return MilestoneListResp{Milestones: ms}, nil
	case docMilestoneSnapReq:
		id, err := readVarString(r)
		if err != nil {
			return nil, err
		}
		return MilestoneSnapshotReq{MilestoneID: id}, nil
	case docMilestoneSnapResp:
		id, err := readVarString(r)
		if err != nil {
			return nil, err
		}
		snap, err := readVarByteArray(r)
		if err != nil {
			return nil, err
		}
		return MilestoneSnapshotResp{MilestoneID: id, Snapshot: snap}, nil
	case docMilestoneCreateReq:
		hasName, err := readBool(r)
		if err != nil {
			return nil, err
		}
		var name string
		if hasName {
			if name, err = readVarString(r); err != nil {
				return nil, err
			}
		}
		snap, err := readVarByteArray(r)
		if err != nil {
			return nil, err
		}
		return MilestoneCreateReq{HasName: hasName, Name: name, Snapshot: snap}, nil
	case docMilestoneCreateResp:
		m, err := decodeMilestoneMeta(r)
		if err != nil {
			return nil, err
		}
		return MilestoneCreateResp{Milestone: m}, nil
	case docMilestoneRenameReq:
		id, err := readVarString(r)
		if err != nil {
			return nil, err
		}
		name, err := readVarString(r)
		if err != nil {
			return nil, err
		}
		return MilestoneRenameReq{MilestoneID: id, Name: name}, nil
	case docMilestoneRenameResp:
		m, err := decodeMilestoneMeta(r)
		if err != nil {
			return nil, err
		}
		return MilestoneRenameResp{Milestone: m}, nil
	case docMilestoneAuth:
		p, err := readByte(r)
		if err != nil {
			return nil, err
		}
		reason, err := readVarString(r)
		if err != nil {
			return nil, err
		}
		return MilestoneAuth{Permission: Permission(p), Reason: reason}, nil
	case docMilestoneSoftDelReq:
		id, err := readVarString(r)
		if err != nil {
			return nil, err
		}
		return MilestoneSoftDeleteReq{MilestoneID: id}, nil
	case docMilestoneSoftDelResp:
		id, err := readVarString(r)
		if err != nil {
			return nil, err
		}
		return MilestoneSoftDeleteResp{MilestoneID: id}, nil
	case docMilestoneRestoreReq:
		id, err := readVarString(r)
		if err != nil {
			return nil, err
		}
		return MilestoneRestoreReq{MilestoneID: id}, nil
	case docMilestoneRestoreResp:
		id, err := readVarString(r)
		if err != nil {
			return nil, err
		}
		return MilestoneRestoreResp{MilestoneID: id}, nil
	default:
		return nil, ErrUnknownSubtype
	}
}
