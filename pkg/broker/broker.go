// Package broker orchestrates a TF Connect login end to end: rate
// check, credential verification, domain policy, identity mapping,
// account provisioning, and the profile cache write.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mik-tf/mycelium-chat/pkg/account"
	"github.com/mik-tf/mycelium-chat/pkg/cache"
	"github.com/mik-tf/mycelium-chat/pkg/identity"
	"github.com/mik-tf/mycelium-chat/pkg/observability"
	"github.com/mik-tf/mycelium-chat/pkg/ratelimit"
	"github.com/mik-tf/mycelium-chat/pkg/verify"
)

var tracer = otel.Tracer("github.com/mik-tf/mycelium-chat/pkg/broker")

// LoginTypeTFConnect is the custom login type the service advertises
// alongside the password shim.
const LoginTypeTFConnect = "org.threefold.connect"

// SupportedLoginTypes maps each advertised login type to the credential
// fields it accepts.
var SupportedLoginTypes = map[string][]string{
	LoginTypeTFConnect: {"tf_token", "session_id"},
	"m.login.password": {"password"},
}

// Credentials carries whichever credential the client presented. Token
// wins when both are set.
type Credentials struct {
	Token     string
	SessionID string
}

// Result is a successful login decision.
type Result struct {
	AccountID   string
	DisplayName string
	Identity    *identity.Verified
}

// Config carries the policy knobs the broker enforces.
type Config struct {
	ServerName     string
	AllowedDomains []string
	UserCacheTTL   time.Duration
}

// Broker wires the verification pipeline together. Construction order
// mirrors a login: limiter first, then verifiers, then provisioning.
type Broker struct {
	mu          sync.RWMutex
	config      Config
	limiter     *ratelimit.Limiter
	tokens      *verify.TokenVerifier
	sessions    *verify.Sessions
	provisioner *account.Provisioner
	store       *cache.TieredStore
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// New creates a broker.
func New(config Config, limiter *ratelimit.Limiter, tokens *verify.TokenVerifier, sessions *verify.Sessions, provisioner *account.Provisioner, store *cache.TieredStore, logger *observability.Logger, metrics *observability.Metrics) *Broker {
	return &Broker{
		config:      config,
		limiter:     limiter,
		tokens:      tokens,
		sessions:    sessions,
		provisioner: provisioner,
		store:       store,
		logger:      logger,
		metrics:     metrics,
	}
}

// CheckAuth decides a login attempt. clientKey identifies the caller
// for rate limiting, normally the client IP. On success the account is
// guaranteed to exist locally. Every refusal maps to one of the package
// sentinel errors; other errors are internal failures.
func (b *Broker) CheckAuth(ctx context.Context, clientKey string, creds Credentials) (*Result, error) {
	flow := "token"
	if creds.Token == "" {
		flow = "session"
	}

	ctx, span := tracer.Start(ctx, "broker.CheckAuth",
		trace.WithAttributes(attribute.String("login.flow", flow)))
	defer span.End()

	start := time.Now()
	result, err := b.checkAuth(ctx, clientKey, flow, creds)
	if err != nil {
		span.RecordError(err)
	}
	span.SetAttributes(attribute.String("login.outcome", outcomeLabel(err)))
	b.metrics.LoginDuration.WithLabelValues(flow).Observe(time.Since(start).Seconds())
	b.metrics.LoginAttemptsTotal.WithLabelValues(flow, outcomeLabel(err)).Inc()
	return result, err
}

func (b *Broker) checkAuth(ctx context.Context, clientKey, flow string, creds Credentials) (*Result, error) {
	if creds.Token == "" && creds.SessionID == "" {
		return nil, ErrMissingParameter
	}

	// The rate check precedes any verification work so a locked-out
	// client cannot burn IdP calls.
	if !b.limiter.Allow(clientKey) {
		b.logger.WithField("client", clientKey).Warn("login attempt rate limited")
		return nil, &RateLimitedError{RetryAfter: b.limiter.RetryAfter(clientKey)}
	}

	var id *identity.Verified
	if creds.Token != "" {
		id = b.tokens.Verify(ctx, creds.Token)
	} else {
		id = b.sessions.Verify(ctx, creds.SessionID)
	}
	if id == nil {
		b.limiter.RecordFailure(clientKey)
		b.logger.WithFields(map[string]interface{}{
			"client": clientKey,
			"flow":   flow,
		}).Info("login rejected: credential did not verify")
		return nil, ErrInvalidCredential
	}

	// A domain-gate rejection is a policy refusal of a genuine identity,
	// not a forged-credential attempt, so it never counts against the
	// rate limit.
	if !identity.Allowed(id, b.allowedDomains()) {
		b.logger.WithFields(map[string]interface{}{
			"client": clientKey,
			"user":   id.SubjectName(),
		}).Info("login rejected: email domain not allowed")
		return nil, ErrForbidden
	}

	accountID := identity.AccountID(id, b.config.ServerName)

	if err := b.provisioner.Ensure(ctx, accountID, id); err != nil {
		// The client's credential was fine; do not count this against
		// their rate limit.
		b.logger.WithError(err).WithField("user_id", accountID).Error("provisioning failed")
		return nil, fmt.Errorf("%w: %v", ErrProvisioning, err)
	}

	b.cacheProfile(ctx, accountID, id)

	b.logger.WithFields(map[string]interface{}{
		"user_id": accountID,
		"flow":    flow,
	}).Info("login succeeded")

	return &Result{
		AccountID:   accountID,
		DisplayName: id.DisplayName(),
		Identity:    id,
	}, nil
}

func (b *Broker) allowedDomains() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config.AllowedDomains
}

// SetAllowedDomains swaps the email domain allow-list, used by config
// hot reload. Takes effect on the next login attempt.
func (b *Broker) SetAllowedDomains(domains []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config.AllowedDomains = domains
}

// VerifyToken resolves a raw token outside the login pipeline. The
// popup callback uses it to validate the IdP result before attaching an
// identity to its pending session.
func (b *Broker) VerifyToken(ctx context.Context, token string) *identity.Verified {
	return b.tokens.Verify(ctx, token)
}

// cacheProfile snapshots the verified profile under the account ID so
// later profile reads skip the IdP. Best effort.
func (b *Broker) cacheProfile(ctx context.Context, accountID string, id *identity.Verified) {
	data, err := json.Marshal(id)
	if err != nil {
		return
	}
	b.store.SetBestEffort(ctx, cache.NamespaceUser, accountID, data, b.config.UserCacheTTL)
}

// CachedProfile returns the profile snapshot written on the last
// successful login, if still cached.
func (b *Broker) CachedProfile(ctx context.Context, accountID string) *identity.Verified {
	data, ok, err := b.store.Get(ctx, cache.NamespaceUser, accountID)
	if err != nil || !ok {
		return nil
	}
	var id identity.Verified
	if err := json.Unmarshal(data, &id); err != nil {
		_ = b.store.Delete(ctx, cache.NamespaceUser, accountID)
		return nil
	}
	return &id
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case err == ErrMissingParameter:
		return "missing_param"
	case err == ErrInvalidCredential:
		return "invalid_credential"
	case err == ErrForbidden:
		return "forbidden"
	default:
		if _, ok := IsRateLimited(err); ok {
			return "rate_limited"
		}
		return "provisioning_error"
	}
}
