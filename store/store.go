package store

import (
	"context"

	"github.com/xraph/guard/usage"
)

// Store is the storage interface for Guard. Backends live in subpackages.
type Store interface {
	usage.Store

	// Migrate creates the tables, collections or indexes the backend needs.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
