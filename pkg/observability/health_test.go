package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveness(t *testing.T) {
	checker := NewHealthChecker(nil, nil, "", "test")

	r := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	w := httptest.NewRecorder()
	checker.Liveness(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), StatusHealthy)
}

func TestCheckNoDependencies(t *testing.T) {
	checker := NewHealthChecker(nil, nil, "", "test")

	status := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, status.Status)
	assert.Empty(t, status.Dependencies)
}

func TestCheckIdPHealthy(t *testing.T) {
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer idp.Close()

	checker := NewHealthChecker(nil, nil, idp.URL, "test")
	status := checker.Check(context.Background())

	require.Contains(t, status.Dependencies, "idp")
	assert.Equal(t, StatusHealthy, status.Dependencies["idp"].Status)
	assert.Equal(t, StatusHealthy, status.Status)
}

func TestCheckIdPDownDegradesOnly(t *testing.T) {
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer idp.Close()

	checker := NewHealthChecker(nil, nil, idp.URL, "test")
	status := checker.Check(context.Background())

	assert.Equal(t, StatusUnhealthy, status.Dependencies["idp"].Status)
	// Cached verifications keep working, so the service is degraded,
	// not down.
	assert.Equal(t, StatusDegraded, status.Status)
}

func TestReadinessStatusCodes(t *testing.T) {
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer idp.Close()

	checker := NewHealthChecker(nil, nil, idp.URL, "test")

	r := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w := httptest.NewRecorder()
	checker.Readiness(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status"`)
}

func TestRegisterHealthRoutes(t *testing.T) {
	mux := http.NewServeMux()
	RegisterHealthRoutes(mux, NewHealthChecker(nil, nil, "", "test"))

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}
