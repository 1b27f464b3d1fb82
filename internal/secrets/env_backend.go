package secrets

import (
	"context"
	"os"
	"strings"
)

// EnvBackend reads/writes signing keys as <NETWORK>_PRIVATE_KEY
// environment variables, matching the env_backend wiring named in
// spec.md §6. Put/Remove only affect this process's environment (there
// is no durable store to write back to), which is sufficient for the
// "process environment" backend described in spec.md §4.A.
type EnvBackend struct{}

// NewEnvBackend constructs the environment-variable backend.
func NewEnvBackend() *EnvBackend { return &EnvBackend{} }

func (b *EnvBackend) Name() string  { return "env" }
func (b *EnvBackend) Remote() bool  { return false }

func envKey(network string) string {
	return strings.ToUpper(network) + "_PRIVATE_KEY"
}

func (b *EnvBackend) Get(_ context.Context, network string) ([]byte, error) {
	v, ok := os.LookupEnv(envKey(network))
	if !ok || v == "" {
		return nil, ErrNotFound
	}
	return []byte(v), nil
}

func (b *EnvBackend) Put(_ context.Context, network string, raw []byte) error {
	return os.Setenv(envKey(network), string(raw))
}

func (b *EnvBackend) Remove(_ context.Context, network string) error {
	return os.Unsetenv(envKey(network))
}

func (b *EnvBackend) List(_ context.Context) ([]string, error) {
	var networks []string
	suffix := "_PRIVATE_KEY"
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.HasSuffix(parts[0], suffix) && parts[1] != "" {
			name := strings.TrimSuffix(parts[0], suffix)
			networks = append(networks, strings.ToLower(name))
		}
	}
	return networks, nil
}
