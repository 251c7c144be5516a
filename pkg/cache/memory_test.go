package cache

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore(16)
	ctx := context.Background()

	if err := s.Set(ctx, NamespaceToken, "k", []byte("v"), time.Hour); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	val, ok, err := s.Get(ctx, NamespaceToken, "k")
	if err != nil || !ok {
		t.Fatalf("Get() = (%v, %v), want hit", ok, err)
	}
	if string(val) != "v" {
		t.Errorf("value = %q", val)
	}

	// Same key in another namespace is a miss.
	if _, ok, _ := s.Get(ctx, NamespaceUser, "k"); ok {
		t.Error("namespace leak")
	}

	if err := s.Delete(ctx, NamespaceToken, "k"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, ok, _ := s.Get(ctx, NamespaceToken, "k"); ok {
		t.Error("value survived Delete()")
	}
}

func TestMemoryStoreTTL(t *testing.T) {
	s := NewMemoryStore(16)
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }

	s.Set(ctx, NamespaceToken, "expiring", []byte("v"), time.Minute)
	s.Set(ctx, NamespaceToken, "forever", []byte("v"), 0)

	s.now = func() time.Time { return base.Add(2 * time.Minute) }

	if _, ok, _ := s.Get(ctx, NamespaceToken, "expiring"); ok {
		t.Error("expired entry still readable")
	}
	if _, ok, _ := s.Get(ctx, NamespaceToken, "forever"); !ok {
		t.Error("ttl=0 entry should never expire")
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	s := NewMemoryStore(16)
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		s.Set(ctx, NamespaceSession, fmt.Sprintf("s%d", i), []byte("v"), time.Minute)
	}
	s.Set(ctx, NamespaceSession, "live", []byte("v"), time.Hour)

	s.now = func() time.Time { return base.Add(2 * time.Minute) }

	if removed := s.Sweep(); removed != 5 {
		t.Errorf("Sweep() = %d, want 5", removed)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d after sweep, want 1", s.Len())
	}
}

func TestMemoryStoreBounded(t *testing.T) {
	s := NewMemoryStore(8)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		s.Set(ctx, NamespaceToken, fmt.Sprintf("k%d", i), []byte("v"), time.Hour)
	}
	if s.Len() > 8 {
		t.Errorf("Len() = %d, want <= 8", s.Len())
	}
	// The most recent insert survives.
	if _, ok, _ := s.Get(ctx, NamespaceToken, "k99"); !ok {
		t.Error("most recent entry evicted")
	}
}
