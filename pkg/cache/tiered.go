package cache

import (
	"context"
	"time"

	"github.com/mik-tf/mycelium-chat/pkg/observability"
)

// TieredStore fronts the Redis primary with the in-process fallback.
// When the primary is nil (connect failure at startup) or a call against
// it fails, the same operation runs against the fallback instead; the
// caller never sees a tier switch. Login correctness does not depend on
// the cache, so degraded behavior here is logged and absorbed.
type TieredStore struct {
	primary  Store // nil when Redis was unavailable at startup
	fallback *MemoryStore
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewTieredStore builds the facade. primary may be nil; fallback and
// logger must not be.
func NewTieredStore(primary Store, fallback *MemoryStore, logger *observability.Logger, metrics *observability.Metrics) *TieredStore {
	return &TieredStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		metrics:  metrics,
	}
}

func (s *TieredStore) fellBack(op string, ns Namespace, err error) {
	s.logger.WithError(err).WithFields(map[string]interface{}{
		"op":        op,
		"namespace": string(ns),
	}).Warn("cache primary failed, using in-process fallback")
	if s.metrics != nil {
		s.metrics.CacheFallbacksTotal.WithLabelValues(op).Inc()
	}
}

// Get reads from the primary, falling back on error.
func (s *TieredStore) Get(ctx context.Context, ns Namespace, key string) ([]byte, bool, error) {
	if s.primary != nil {
		val, ok, err := s.primary.Get(ctx, ns, key)
		if err == nil {
			return val, ok, nil
		}
		s.fellBack("get", ns, err)
	}
	return s.fallback.Get(ctx, ns, key)
}

// Set writes to the primary, falling back on error. The fallback write
// keeps the caller-supplied TTL; the memory tier enforces it lazily.
func (s *TieredStore) Set(ctx context.Context, ns Namespace, key string, value []byte, ttl time.Duration) error {
	if s.primary != nil {
		err := s.primary.Set(ctx, ns, key, value, ttl)
		if err == nil {
			return nil
		}
		s.fellBack("set", ns, err)
	}
	return s.fallback.Set(ctx, ns, key, value, ttl)
}

// Delete removes the key from both tiers so a fallback copy cannot
// resurrect state deleted from the primary.
func (s *TieredStore) Delete(ctx context.Context, ns Namespace, key string) error {
	if s.primary != nil {
		if err := s.primary.Delete(ctx, ns, key); err != nil {
			s.fellBack("delete", ns, err)
		}
	}
	return s.fallback.Delete(ctx, ns, key)
}

// SetBestEffort is Set for write-through paths where a cache failure
// must never fail the surrounding login: any residual error is logged
// and dropped.
func (s *TieredStore) SetBestEffort(ctx context.Context, ns Namespace, key string, value []byte, ttl time.Duration) {
	if err := s.Set(ctx, ns, key, value, ttl); err != nil {
		s.logger.WithError(err).WithField("namespace", string(ns)).Warn("best-effort cache write dropped")
	}
}

// Sweep expires dead entries in the fallback tier.
func (s *TieredStore) Sweep() int {
	return s.fallback.Sweep()
}

// Close closes both tiers.
func (s *TieredStore) Close() error {
	var err error
	if s.primary != nil {
		err = s.primary.Close()
	}
	if ferr := s.fallback.Close(); err == nil {
		err = ferr
	}
	return err
}
