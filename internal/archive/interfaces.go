package archive

import (
	"context"
)

// Sink stores and retrieves archived snapshots by object name.
// This interface enables faking the archive in tests.
type Sink interface {
	// Put writes data under name, replacing any existing object.
	Put(ctx context.Context, name string, data []byte) error

	// Get reads the object stored under name.
	Get(ctx context.Context, name string) ([]byte, error)
}
