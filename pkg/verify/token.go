// Package verify resolves TF Connect credentials into verified
// identities: directly against the IdP profile endpoint for bearer
// tokens, or by consuming a pending session populated by the popup flow.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mik-tf/mycelium-chat/pkg/cache"
	"github.com/mik-tf/mycelium-chat/pkg/identity"
	"github.com/mik-tf/mycelium-chat/pkg/observability"
)

// idpTimeout bounds every call to the profile endpoint so a slow IdP
// cannot stall logins.
const idpTimeout = 10 * time.Second

// maxProfileBody caps how much of a profile response is read.
const maxProfileBody = 1 << 20

// TokenVerifier verifies TF Connect bearer tokens against the IdP's
// "who am I" endpoint, with a digest-keyed cache in front. Verification
// never returns an error to callers: every failure mode, including IdP
// unavailability, reads as "not verified" (fail closed, no retry).
type TokenVerifier struct {
	store    *cache.TieredStore
	baseURL  string
	appID    string
	cacheTTL time.Duration
	client   *http.Client
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewTokenVerifier creates a verifier for the given IdP base URL.
func NewTokenVerifier(store *cache.TieredStore, baseURL, appID string, cacheTTL time.Duration, logger *observability.Logger, metrics *observability.Metrics) *TokenVerifier {
	return &TokenVerifier{
		store:    store,
		baseURL:  baseURL,
		appID:    appID,
		cacheTTL: cacheTTL,
		client: &http.Client{
			Timeout:   idpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger:  logger,
		metrics: metrics,
	}
}

// Verify resolves a raw token to an identity, or nil when the token is
// invalid, expired, or the IdP cannot be reached. The raw token is
// digested before any cache use and never logged.
func (v *TokenVerifier) Verify(ctx context.Context, rawToken string) *identity.Verified {
	if rawToken == "" {
		return nil
	}

	digest := cache.DigestKey(rawToken)

	if cached, ok, err := v.store.Get(ctx, cache.NamespaceToken, digest); err == nil && ok {
		var id identity.Verified
		if err := json.Unmarshal(cached, &id); err == nil {
			v.metrics.TokenCacheHitsTotal.Inc()
			return &id
		}
		// Corrupt entry: drop it and fall through to the IdP.
		_ = v.store.Delete(ctx, cache.NamespaceToken, digest)
	}
	v.metrics.TokenCacheMissesTotal.Inc()

	id, err := v.fetchProfile(ctx, rawToken)
	if err != nil {
		v.logger.WithError(err).WithField("token_digest", digest[:12]).Warn("token verification failed")
		return nil
	}
	if id == nil {
		return nil
	}

	if data, err := json.Marshal(id); err == nil {
		v.store.SetBestEffort(ctx, cache.NamespaceToken, digest, data, v.cacheTTL)
	}
	return id
}

// fetchProfile calls GET {base}/api/users/me with the token as a bearer
// credential. A nil identity with nil error means the IdP said the
// token is invalid (401); an error means we could not get an answer.
func (v *TokenVerifier) fetchProfile(ctx context.Context, rawToken string) (*identity.Verified, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/api/users/me", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+rawToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "MyceliumChat/"+v.appID)

	start := time.Now()
	resp, err := v.client.Do(req)
	v.metrics.IdPRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		v.metrics.IdPRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("idp unavailable: %w", err)
	}
	defer resp.Body.Close()

	v.metrics.IdPRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBody))
		if err != nil {
			return nil, fmt.Errorf("failed to read profile response: %w", err)
		}
		id, err := identity.ParseClaims(body)
		if err != nil {
			return nil, err
		}
		return id, nil
	case resp.StatusCode == http.StatusUnauthorized:
		v.logger.Debug("token rejected by idp")
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected idp status %d", resp.StatusCode)
	}
}
