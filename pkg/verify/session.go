package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mik-tf/mycelium-chat/pkg/cache"
	"github.com/mik-tf/mycelium-chat/pkg/identity"
	"github.com/mik-tf/mycelium-chat/pkg/observability"
)

// PendingSession is the placeholder created when the popup flow starts.
// The callback flow attaches the verified identity once the IdP
// handshake completes; the login path then consumes the session.
type PendingSession struct {
	SessionID string             `json:"session_id"`
	State     string             `json:"state,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	Identity  *identity.Verified `json:"identity,omitempty"`
}

// Sessions manages pending login sessions in the session cache
// namespace. Expired sessions are reaped lazily when touched; the cache
// TTL acts as a second line of defense.
type Sessions struct {
	store   *cache.TieredStore
	timeout time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewSessions creates a session verifier with the configured
// session_timeout.
func NewSessions(store *cache.TieredStore, timeout time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Sessions {
	return &Sessions{
		store:   store,
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Create mints a new pending session with no identity attached. state
// is the CSRF value bound to this login attempt.
func (s *Sessions) Create(ctx context.Context, state string) (*PendingSession, error) {
	sess := &PendingSession{
		SessionID: uuid.NewString(),
		State:     state,
		CreatedAt: s.now(),
	}
	if err := s.put(ctx, sess); err != nil {
		return nil, err
	}
	s.metrics.PendingSessionsTotal.WithLabelValues("created").Inc()
	return sess, nil
}

// Attach deposits a verified identity into an existing pending session.
// Fails when the session is unknown or already past its timeout.
func (s *Sessions) Attach(ctx context.Context, sessionID string, id *identity.Verified) error {
	sess, err := s.get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("unknown session")
	}
	if s.expired(sess) {
		s.reap(ctx, sessionID)
		return fmt.Errorf("session expired")
	}

	sess.Identity = id
	// The CSRF state is single use: clearing it here means the same
	// session/state pair cannot authorize a second callback, so the
	// attached identity cannot be overwritten later.
	sess.State = ""
	return s.put(ctx, sess)
}

// Verify resolves a session ID to its attached identity. Returns nil
// when the session is unknown, expired (the session is deleted), or not
// yet completed by the out-of-band flow. A session that yields an
// identity is deleted first, so it can be consumed at most once.
func (s *Sessions) Verify(ctx context.Context, sessionID string) *identity.Verified {
	if sessionID == "" {
		return nil
	}

	sess, err := s.get(ctx, sessionID)
	if err != nil {
		s.logger.WithError(err).Warn("session lookup failed")
		return nil
	}
	if sess == nil {
		return nil
	}

	if s.expired(sess) {
		s.reap(ctx, sessionID)
		s.metrics.PendingSessionsTotal.WithLabelValues("expired").Inc()
		return nil
	}

	if sess.Identity == nil {
		// Handshake still in flight; leave the session for a later poll.
		return nil
	}

	s.reap(ctx, sessionID)
	s.metrics.PendingSessionsTotal.WithLabelValues("consumed").Inc()
	return sess.Identity
}

// StateMatches reports whether the stored CSRF state of a live session
// equals the presented one.
func (s *Sessions) StateMatches(ctx context.Context, sessionID, state string) bool {
	sess, err := s.get(ctx, sessionID)
	if err != nil || sess == nil || s.expired(sess) {
		return false
	}
	return state != "" && sess.State == state
}

func (s *Sessions) expired(sess *PendingSession) bool {
	return s.now().Sub(sess.CreatedAt) > s.timeout
}

func (s *Sessions) get(ctx context.Context, sessionID string) (*PendingSession, error) {
	data, ok, err := s.store.Get(ctx, cache.NamespaceSession, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var sess PendingSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("corrupt session record: %w", err)
	}
	return &sess, nil
}

func (s *Sessions) put(ctx context.Context, sess *PendingSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	// TTL covers the remaining lifetime so backends expire in step with
	// the logical timeout.
	ttl := sess.CreatedAt.Add(s.timeout).Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("session expired")
	}
	return s.store.Set(ctx, cache.NamespaceSession, sess.SessionID, data, ttl)
}

func (s *Sessions) reap(ctx context.Context, sessionID string) {
	if err := s.store.Delete(ctx, cache.NamespaceSession, sessionID); err != nil {
		s.logger.WithError(err).Warn("failed to delete session")
	}
}
