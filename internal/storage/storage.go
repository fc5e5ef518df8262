// Package storage persists uploaded knowledge files as opaque byte blobs.
//
// Two backends exist: MinIO for deployments and a flock-guarded local
// directory for development and tests. Object paths are deterministic from
// tenant/project/batch/filename, so re-uploading the same file overwrites
// the same object instead of accumulating copies.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
)

// ErrNotFound indicates the requested object does not exist.
var ErrNotFound = errors.New("object not found")

// BlobStore is the byte blob get/put capability consumed by the batch
// orchestrator. Implementations must be safe for concurrent use.
type BlobStore interface {
	// Put stores data under the given object path and returns the object URI.
	Put(ctx context.Context, objectPath string, data []byte, contentType string) (string, error)

	// Get retrieves the object stored under the given path.
	Get(ctx context.Context, objectPath string) ([]byte, error)

	// URI returns the URI an object path resolves to, without touching storage.
	URI(objectPath string) string
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeFilename strips directory components and replaces characters that
// are unsafe in object paths.
func SanitizeFilename(name string) string {
	base := path.Base(name)
	if base == "." || base == "/" {
		base = "upload"
	}
	return unsafeFilenameChars.ReplaceAllString(base, "_")
}

// OriginalObjectPath builds the deterministic path for a batch's raw upload.
func OriginalObjectPath(orgID, projectID, batchID, fileName string) string {
	return fmt.Sprintf("org/%s/project/%s/batch/%s/original/%s",
		orgID, projectID, batchID, SanitizeFilename(fileName))
}

// NormalizedObjectPath builds the deterministic path for a batch's
// normalized row export.
func NormalizedObjectPath(orgID, projectID, batchID string) string {
	return fmt.Sprintf("org/%s/project/%s/batch/%s/normalized/rows.jsonl",
		orgID, projectID, batchID)
}
