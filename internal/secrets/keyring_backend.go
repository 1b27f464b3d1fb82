package secrets

import "context"

// KeyringBackend is the backend selected by key_storage.backend
// "keyring". It keeps entries in a map in process memory only: it does
// not talk to an OS keyring service (Secret Service, Keychain,
// Credential Manager), so stored keys do not outlive the process. It is
// not safe for concurrent use.
type KeyringBackend struct {
	service string
	store   map[string][]byte
}

// NewKeyringBackend constructs a keyring-shaped backend scoped to
// service, starting with an empty in-memory store.
func NewKeyringBackend(service string) *KeyringBackend {
	return &KeyringBackend{service: service, store: map[string][]byte{}}
}

func (b *KeyringBackend) Name() string { return "keyring" }
func (b *KeyringBackend) Remote() bool { return false }

func (b *KeyringBackend) Get(_ context.Context, network string) ([]byte, error) {
	v, ok := b.store[network]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (b *KeyringBackend) Put(_ context.Context, network string, raw []byte) error {
	b.store[network] = raw
	return nil
}

func (b *KeyringBackend) Remove(_ context.Context, network string) error {
	delete(b.store, network)
	return nil
}

func (b *KeyringBackend) List(_ context.Context) ([]string, error) {
	out := make([]string, 0, len(b.store))
	for k := range b.store {
		out = append(out, k)
	}
	return out, nil
}
