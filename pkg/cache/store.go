// Package cache provides the tiered key/value store backing token
// verification results, user profile snapshots, and pending login
// sessions. The primary tier is Redis; when Redis is unreachable every
// operation transparently falls back to a bounded in-process store.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Namespace partitions cache keys by what they hold.
type Namespace string

const (
	// NamespaceToken holds verified-token results keyed by credential digest.
	NamespaceToken Namespace = "token"
	// NamespaceUser holds cached user profile snapshots keyed by Matrix user ID.
	NamespaceUser Namespace = "user"
	// NamespaceSession holds pending login sessions keyed by session ID.
	NamespaceSession Namespace = "session"
)

// Store is the contract both tiers and the tiered facade implement.
type Store interface {
	// Get retrieves the value for key in the namespace. The boolean is
	// false when the key is absent or expired; error is reserved for
	// backend failures.
	Get(ctx context.Context, ns Namespace, key string) ([]byte, bool, error)

	// Set stores value under key with the given TTL.
	Set(ctx context.Context, ns Namespace, key string, value []byte, ttl time.Duration) error

	// Delete removes key from the namespace. Deleting an absent key is
	// not an error.
	Delete(ctx context.Context, ns Namespace, key string) error

	// Close releases backend resources.
	Close() error
}

// DigestKey computes the fixed-length one-way digest used as the cache
// key for raw credentials. The raw credential is never stored or logged;
// only this digest ever reaches a backend.
func DigestKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func storageKey(ns Namespace, key string) string {
	return string(ns) + ":" + key
}
