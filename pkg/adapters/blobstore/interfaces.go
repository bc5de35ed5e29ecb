// Package blobstore defines the source file-store collaborator: the
// object store holding uploaded CSV files. Read-only from the engine's
// side.
package blobstore

import "context"

// Store lists and reads source objects.
type Store interface {
	// List returns object keys under the prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// Get returns the full content of one object.
	Get(ctx context.Context, key string) ([]byte, error)
}
