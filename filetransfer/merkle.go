// Package filetransfer implements chunked upload/download with Merkle
// verification: fixed-size chunking, a complete binary Merkle
// tree over chunk hashes, proof generation/verification, and the
// upload/download handshakes. Chunking and content-addressing are
// grounded on the stdlib-chunked-encryption idiom in the retrieval pack's
// s3-encryption-gateway example; the Merkle tree itself is new (no pack
// repo builds one).
package filetransfer

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// ChunkSize is the fixed plaintext chunk size.
const ChunkSize = 64 * 1024

// ErrEmptyChunk is returned when building a tree from a zero-length chunk
// (boundary behavior: "Zero-length chunk: rejected").
var ErrEmptyChunk = errors.New("filetransfer: zero-length chunk rejected")

// Chunk splits data into fixed ChunkSize pieces (the last may be shorter).
// An empty input yields no chunks.
func Chunk(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	var chunks [][]byte
	for i := 0; i < len(data); i += ChunkSize {
		end := i + ChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[i:end])
	}
	return chunks
}

func leafHash(chunk []byte) ([32]byte, error) {
	if len(chunk) == 0 {
		return [32]byte{}, ErrEmptyChunk
	}
	return sha256.Sum256(chunk), nil
}

func parentHash(left, right [32]byte) [32]byte {
	return sha256.Sum256(append(left[:], right[:]...))
}

// Tree is a complete binary Merkle tree over chunk hashes: leaves are
// SHA-256(chunk); an odd node at any level is paired with itself.
type Tree struct {
	levels [][][32]byte // levels[0] = leaves, levels[len-1] = {root}
}

// BuildTree builds a Merkle tree from plaintext chunks. A single chunk
// yields a single-leaf tree whose root is that leaf hash.
func BuildTree(chunks [][]byte) (*Tree, error) {
	if len(chunks) == 0 {
		return nil, errors.New("filetransfer: cannot build a tree with no chunks")
	}
	leaves := make([][32]byte, len(chunks))
	for i, c := range chunks {
		h, err := leafHash(c)
		if err != nil {
			return nil, err
		}
		leaves[i] = h
	}
	t := &Tree{levels: [][][32]byte{leaves}}
	level := leaves
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, parentHash(level[i], level[i+1]))
			} else {
				next = append(next, parentHash(level[i], level[i])) // lone child paired with itself
			}
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t, nil
}

// Root returns the tree's root hash, the file's permanent content id.
func (t *Tree) Root() [32]byte {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// RootBase64 returns base64(Root()), the permanent fileId.
func (t *Tree) RootBase64() string {
	root := t.Root()
	return base64.StdEncoding.EncodeToString(root[:])
}

// Proof returns the sibling hashes from chunk i's leaf level up to the
// root's child level. A single-leaf tree has an empty proof.
func (t *Tree) Proof(index int) ([][]byte, error) {
	if index < 0 || index >= len(t.levels[0]) {
		return nil, errors.New("filetransfer: chunk index out of range")
	}
	var proof [][]byte
	idx := index
	for level := 0; level < len(t.levels)-1; level++ {
		nodes := t.levels[level]
		var sibling [32]byte
		if idx%2 == 0 {
			if idx+1 < len(nodes) {
				sibling = nodes[idx+1]
			} else {
				sibling = nodes[idx] // lone child paired with itself
			}
		} else {
			sibling = nodes[idx-1]
		}
		proof = append(proof, append([]byte(nil), sibling[:]...))
		idx /= 2
	}
	return proof, nil
}

// RootFromProof recomputes the root a chunk+proof pair folds to: the
// chunk's leaf hash combined with each sibling in order, leaf-to-root.
// This is what StoreChunk uses to cross-check every chunk of an upload
// against the same pending root without the wire protocol needing to
// carry the root explicitly (the client already committed to it when it
// built its local tree before the upload began).
func RootFromProof(chunk []byte, index int, proof [][]byte) ([32]byte, error) {
	h, err := leafHash(chunk)
	if err != nil {
		return [32]byte{}, err
	}
	idx := index
	for _, sibling := range proof {
		var sib [32]byte
		copy(sib[:], sibling)
		if idx%2 == 0 {
			h = parentHash(h, sib)
		} else {
			h = parentHash(sib, h)
		}
		idx /= 2
	}
	return h, nil
}

// VerifyProof recomputes the root from chunk and proof (sibling hashes
// leaf-to-root) and compares it against expectedRoot.
func VerifyProof(chunk []byte, index int, proof [][]byte, expectedRoot [32]byte) (bool, error) {
	h, err := RootFromProof(chunk, index, proof)
	if err != nil {
		return false, err
	}
	return bytes.Equal(h[:], expectedRoot[:]), nil
}
