package secrets

import "context"

// Backend is the pluggable secret-material source behind the Store. All
// backends expose the same capability set (spec.md §4.A: "the same
// capability set applies to all backends").
type Backend interface {
	// Name identifies the backend for audit records ("env", "keyring",
	// "vault").
	Name() string
	// Get returns the raw private-key bytes for network.
	Get(ctx context.Context, network string) ([]byte, error)
	// Put stores raw private-key bytes for network.
	Put(ctx context.Context, network string, raw []byte) error
	// Remove deletes the entry for network, if any.
	Remove(ctx context.Context, network string) error
	// List returns every network with a stored entry.
	List(ctx context.Context) ([]string, error)
	// Remote reports whether backend reads go over the network — only
	// remote backends get cache-fallback-on-failure treatment
	// (spec.md §4.A).
	Remote() bool
}

// ErrNotFound is returned by a Backend when no entry exists for a
// network.
var ErrNotFound = backendError("secret not found")

type backendError string

func (e backendError) Error() string { return string(e) }
