package secrets

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultCacheTTL is the default TTL cache lifetime (spec.md §4.A).
const DefaultCacheTTL = 5 * time.Minute

// Store is the uniform get/put/remove/list surface over a pluggable
// Backend, with a TTL cache and audit trail (component A).
type Store struct {
	backend Backend
	cache   *ttlCache
	auditor *Auditor

	stop chan struct{}
}

// NewStore wires a Backend behind a TTL cache and auditor. Call Close
// to stop the background eviction goroutine.
func NewStore(backend Backend, ttl time.Duration, auditor *Auditor) *Store {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	s := &Store{
		backend: backend,
		cache:   newTTLCache(ttl),
		auditor: auditor,
		stop:    make(chan struct{}),
	}
	go s.evictLoop(ttl)
	return s
}

func (s *Store) evictLoop(ttl time.Duration) {
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.cache.evictExpired()
		}
	}
}

// Close stops the background eviction loop.
func (s *Store) Close() { close(s.stop) }

// Get returns the signing Secret for network. Cache hits never touch
// the backend. On a remote backend's read failure, a cached entry
// (even if expired) is returned as a fallback read, and audited as
// such; an unreachable non-remote backend with no cache entry fails
// outright (spec.md §4.A/§7/§8 scenario 7).
func (s *Store) Get(ctx context.Context, network string) (*Secret, error) {
	if raw, fresh, ok := s.cache.get(network); ok && fresh {
		return s.buildSecret(network, raw)
	}

	raw, err := s.backend.Get(ctx, network)
	if err == nil {
		s.cache.put(network, raw)
		s.audit(AuditGet, network, true)
		return s.buildSecret(network, raw)
	}

	if s.backend.Remote() {
		if cached, _, ok := s.cache.get(network); ok {
			s.audit(AuditGetFallback, network, true)
			return s.buildSecret(network, cached)
		}
	}

	s.audit(AuditGet, network, false)
	return nil, fmt.Errorf("get secret for %s: %w", network, err)
}

func (s *Store) buildSecret(network string, raw []byte) (*Secret, error) {
	key, err := crypto.HexToECDSA(trim0x(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("parse private key for %s: %w", network, err)
	}
	return NewSecret(network, raw, key), nil
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// Put stores raw key material for network and repopulates the cache.
// Putting the same value twice is idempotent: the observable cache and
// backend state after two identical Puts matches one Put (spec.md §8).
func (s *Store) Put(ctx context.Context, network string, raw []byte) error {
	if err := s.backend.Put(ctx, network, raw); err != nil {
		s.audit(AuditPut, network, false)
		return fmt.Errorf("put secret for %s: %w", network, err)
	}
	s.cache.put(network, raw)
	s.audit(AuditPut, network, true)
	return nil
}

// Remove deletes the entry for network from both backend and cache.
func (s *Store) Remove(ctx context.Context, network string) error {
	if err := s.backend.Remove(ctx, network); err != nil {
		s.audit(AuditRemove, network, false)
		return fmt.Errorf("remove secret for %s: %w", network, err)
	}
	s.cache.remove(network)
	s.audit(AuditRemove, network, true)
	return nil
}

// List returns every network with a stored secret.
func (s *Store) List(ctx context.Context) ([]string, error) {
	networks, err := s.backend.List(ctx)
	s.audit(AuditList, "", err == nil)
	if err != nil {
		return nil, fmt.Errorf("list secrets: %w", err)
	}
	return networks, nil
}

func (s *Store) audit(op AuditOp, network string, success bool) {
	if s.auditor == nil {
		return
	}
	s.auditor.Record(AuditRecord{
		Operation: op,
		Network:   network,
		Success:   success,
		Timestamp: time.Now(),
		Backend:   s.backend.Name(),
	})
}
