package interfaces

import (
	"context"
	"errors"
)

// ErrBlobNotFound is returned when a named blob doesn't exist in a backend.
var ErrBlobNotFound = errors.New("blob not found")

// StorageBackend persists named blobs, used for the sealed policy store.
// Backends are constructed from location URIs by the storage factory:
//
//	file:///var/lib/trustagent
//	vault://vault.example.com:8200/secret
//	s3://bucket/prefix?region=us-east-1
type StorageBackend interface {
	// Fetch retrieves a blob by name. Returns ErrBlobNotFound if it does not
	// exist.
	Fetch(ctx context.Context, name string) ([]byte, error)

	// Store writes a blob under name, replacing any previous content.
	Store(ctx context.Context, name string, data []byte) error

	// Available checks whether the backend is currently reachable.
	Available(ctx context.Context) bool

	// Name returns a unique identifier for this backend instance.
	Name() string

	// LocationURI returns the URI this backend was created from.
	LocationURI() string
}
