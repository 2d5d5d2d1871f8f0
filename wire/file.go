package wire

import "bytes"

const (
	fileDownloadSub byte = 0x00
	fileUploadSub   byte = 0x01
	filePartSub     byte = 0x02
	fileAuthSub     byte = 0x03
)

// FilePayload is the tagged-union contract for FileMessage variants.
type FilePayload interface {
	fileSubtype() byte
	encodeFilePayload(buf *bytes.Buffer)
}

type FileDownload struct{ FileID string }

func (FileDownload) fileSubtype() byte { return fileDownloadSub }
func (p FileDownload) encodeFilePayload(buf *bytes.Buffer) { writeVarString(buf, p.FileID) }

type FileUpload struct {
	Encrypted    bool
	FileID       string
	Filename     string
	Size         uint64
	MimeType     string
	LastModified uint64
}

func (FileUpload) fileSubtype() byte { return fileUploadSub }
func (p FileUpload) encodeFilePayload(buf *bytes.Buffer) {
	writeBool(buf, p.Encrypted)
	writeVarString(buf, p.FileID)
	writeVarString(buf, p.Filename)
	writeVarUint(buf, p.Size)
	writeVarString(buf, p.MimeType)
	writeVarUint(buf, p.LastModified)
}

type FilePart struct {
	FileID        string
	ChunkIndex    uint64
	ChunkData     []byte
	MerkleProof   [][]byte
	TotalChunks   uint64
	BytesUploaded uint64
	Encrypted     bool
}

func (FilePart) fileSubtype() byte { return filePartSub }
func (p FilePart) encodeFilePayload(buf *bytes.Buffer) {
	writeVarString(buf, p.FileID)
	writeVarUint(buf, p.ChunkIndex)
	writeVarByteArray(buf, p.ChunkData)
	writeVarUint(buf, uint64(len(p.MerkleProof)))
	for _, h := range p.MerkleProof {
		writeVarByteArray(buf, h)
	}
	writeVarUint(buf, p.TotalChunks)
	writeVarUint(buf, p.BytesUploaded)
	writeBool(buf, p.Encrypted)
}

type FileAuth struct {
	Permission Permission
	FileID     string
	StatusCode uint64
	HasReason  bool
	Reason     string
}

func (FileAuth) fileSubtype() byte { return fileAuthSub }
func (p FileAuth) encodeFilePayload(buf *bytes.Buffer) {
	buf.WriteByte(byte(p.Permission))
	writeVarString(buf, p.FileID)
	writeVarUint(buf, p.StatusCode)
	writeBool(buf, p.HasReason)
	if p.HasReason {
		writeVarString(buf, p.Reason)
	}
}

// FileMessage carries chunked upload/download traffic
type FileMessage struct {
	Document  string
	Encrypted bool
	Payload   FilePayload

	ctx   Context
	cache idCache
}

func NewFileMessage(document string, encrypted bool, payload FilePayload) *FileMessage {
	return &FileMessage{Document: document, Encrypted: encrypted, Payload: payload}
}

func (m *FileMessage) Context() Context     { return m.ctx }
func (m *FileMessage) SetContext(c Context) { m.ctx = c }

func (m *FileMessage) Encode() []byte {
	_, encoded := m.cache.get(m.encodeBytes)
	return encoded
}

func (m *FileMessage) ID() string {
	id, _ := m.cache.get(m.encodeBytes)
	return id
}

func (m *FileMessage) encodeBytes() []byte {
	var buf bytes.Buffer
	writeHeader(&buf, CategoryFile)
	writeDocAndEncrypted(&buf, m.Document, m.Encrypted)
	buf.WriteByte(m.Payload.fileSubtype())
	m.Payload.encodeFilePayload(&buf)
	return buf.Bytes()
}

func decodeFilePayload(r *bytes.Reader) (FilePayload, error) {
	subtype, err := readByte(r)
	if err != nil {
		return nil, err
	}
	switch subtype {
	case fileDownloadSub:
		id, err := readVarString(r)
		if err != nil {
			return nil, err
		}
		return FileDownload{FileID: id}, nil
	case fileUploadSub:
		encrypted, err := readBool(r)
		if err != nil {
			return nil, err
		}
		id, err := readVarString(r)
		if err != nil {
			return nil, err
		}
		filename, err := readVarString(r)
		if err != nil {
			return nil, err
		}
		size, err := readVarUint(r)
		if err != nil {
			return nil, err
		}
		mime, err := readVarString(r)
		if err != nil {
			return nil, err
		}
		lastMod, err := readVarUint(r)
		if err != nil {
			return nil, err
		}
		return FileUpload{Encrypted: encrypted, FileID: id, Filename: filename, Size: size, MimeType: mime, LastModified: lastMod}, nil
	case filePartSub:
		id, err := readVarString(r)
		if err != nil {
			return nil, err
		}
		idx, err := readVarUint(r)
		if err != nil {
			return nil, err
		}
		data, err := readVarByteArray(r)
		if err != nil {
			return nil, err
		}
		n, err := readVarUint(r)
		if err != nil {
			return nil, err
		}
		proof := make([][]byte, n)
		for i := range proof {
			if proof[i], err = readVarByteArray(r); err != nil {
				return nil, err
			}
		}
		total, err := readVarUint(r)
		if err != nil {
			return nil, err
		}
		uploaded, err := readVarUint(r)
		if err != nil {
			return nil, err
		}
		encrypted, err := readBool(r)
		if err != nil {
			return nil, err
		}
		return FilePart{FileID: id, ChunkIndex: idx, ChunkData: data, MerkleProof: proof, TotalChunks: total, BytesUploaded: uploaded, Encrypted: encrypted}, nil
	case fileAuthSub:
		p, err := readByte(r)
		if err != nil {
			return nil, err
		}
		id, err := readVarString(r)
		if err != nil {
			return nil, err
		}
		status, err := readVarUint(r)
		if err != nil {
			return nil, err
		}
		hasReason, err := readBool(r)
		if err != nil {
			return nil, err
		}
		var reason string
		if hasReason {
			if reason, err = readVarString(r); err != nil {
				return nil, err
			}
		}
		return FileAuth{Permission: Permission(p), FileID: id, StatusCode: status, HasReason: hasReason, Reason: reason}, nil
	default:
		return nil, ErrUnknownSubtype
	}
}
