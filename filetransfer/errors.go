package filetransfer

import "errors"

var (
	// ErrFileTooLarge is returned when an upload's declared size exceeds
	// the configured maxFileSize (reported to the caller as FileAuth 413).
	ErrFileTooLarge = errors.New("filetransfer: file exceeds maximum size")

	// ErrFileNotFound is returned when a download targets an unknown fileId
	// (reported to the caller as FileAuth 404).
	ErrFileNotFound = errors.New("filetransfer: file not found")

	// ErrChunkVerifyFailure is returned when a chunk's Merkle proof does not
	// fold to the root established by the upload's other chunks, or when
	// the rebuilt tree at completion disagrees with it.
	ErrChunkVerifyFailure = errors.New("filetransfer: chunk failed merkle verification")

	// ErrIncompleteDownload names a download session that exceeded its
	// deadline before every chunk was delivered. Manager does not return
	// it: an expired download is reported through StartDownload's
	// onTimeout callback.
	ErrIncompleteDownload = errors.New("filetransfer: download timed out before completion")
)
