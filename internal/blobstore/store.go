// Package blobstore abstracts the object store that owns uploaded document
// blobs. Records hold only the reference; create and delete of the bytes
// happen here.
package blobstore

import "context"

// ProgressFunc receives byte-level upload progress as a percentage in
// [0,100]. Implementations report monotonically.
type ProgressFunc func(percent int)

// File is one document to store.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// Object describes a stored blob.
type Object struct {
	// URL is the reference persisted on the record.
	URL string
	// Path identifies the blob for Delete.
	Path string
	// SizeBytes is the stored size.
	SizeBytes int64
}

// Store uploads and deletes blobs.
type Store interface {
	// Upload stores the file under the owner's namespace, reporting byte
	// progress through onProgress (may be nil).
	Upload(ctx context.Context, ownerID string, file File, onProgress ProgressFunc) (*Object, error)

	// Delete removes a stored blob. Deleting a missing blob is an error.
	Delete(ctx context.Context, path string) error
}
