package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mik-tf/mycelium-chat/pkg/account"
	"github.com/mik-tf/mycelium-chat/pkg/broker"
	"github.com/mik-tf/mycelium-chat/pkg/cache"
	"github.com/mik-tf/mycelium-chat/pkg/httputil"
	"github.com/mik-tf/mycelium-chat/pkg/observability"
	"github.com/mik-tf/mycelium-chat/pkg/ratelimit"
	"github.com/mik-tf/mycelium-chat/pkg/verify"
)

// newTestServer wires the full stack against a stub IdP that accepts
// "good-token".
func newTestServer(t *testing.T) (*Server, *verify.Sessions) {
	t.Helper()

	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"doubleName":"Jo.Doe","name":"Jo Doe","email":"jo@allowed.com"}`))
	}))
	t.Cleanup(idp.Close)

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	store := cache.NewTieredStore(nil, cache.NewMemoryStore(64), logger, metrics)
	limiter := ratelimit.New(ratelimit.Config{MaxAttempts: 2, Window: time.Minute})
	tokens := verify.NewTokenVerifier(store, idp.URL, "mycelium-chat", time.Hour, logger, metrics)
	sessions := verify.NewSessions(store, time.Hour, logger, metrics)
	provisioner := account.NewProvisioner(account.NewMemoryStore(), logger, metrics)

	b := broker.New(broker.Config{
		ServerName:   "example.org",
		UserCacheTTL: time.Hour,
	}, limiter, tokens, sessions, provisioner, store, logger, metrics)

	srv := NewServer(Config{
		ServerName:  "example.org",
		APIBaseURL:  idp.URL,
		AppID:       "mycelium-chat",
		RedirectURI: "https://chat.example.org/auth/callback",
	}, b, sessions, metrics)

	return srv, sessions
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	r.RemoteAddr = "1.2.3.4:5678"
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)
	return w
}

func TestGetLoginFlows(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/_matrix/client/r0/login", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body struct {
		Flows []struct {
			Type string `json:"type"`
		} `json:"flows"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Flows) != 2 {
		t.Fatalf("flows = %+v", body.Flows)
	}
	if body.Flows[0].Type != broker.LoginTypeTFConnect {
		t.Errorf("first flow = %q, want %q", body.Flows[0].Type, broker.LoginTypeTFConnect)
	}
}

func TestPostLoginWithToken(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/_matrix/client/r0/login", map[string]string{
		"type":     broker.LoginTypeTFConnect,
		"tf_token": "good-token",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var body loginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.UserID != "@jo_doe:example.org" {
		t.Errorf("user_id = %q", body.UserID)
	}
	if body.HomeServer != "example.org" {
		t.Errorf("home_server = %q", body.HomeServer)
	}
}

func TestPostLoginWithBearerHeader(t *testing.T) {
	srv, _ := newTestServer(t)

	r := httptest.NewRequest(http.MethodPost, "/_matrix/client/r0/login", strings.NewReader("{}"))
	r.Header.Set("Authorization", "Bearer good-token")
	r.RemoteAddr = "1.2.3.4:5678"
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestPostLoginMissingCredentials(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/_matrix/client/r0/login", map[string]string{
		"type": broker.LoginTypeTFConnect,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	var body httputil.MatrixError
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.ErrCode != httputil.ErrCodeMissingParam {
		t.Errorf("errcode = %q", body.ErrCode)
	}
}

func TestPostLoginInvalidToken(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/_matrix/client/r0/login", map[string]string{
		"tf_token": "bad-token",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
	var body httputil.MatrixError
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.ErrCode != httputil.ErrCodeForbidden {
		t.Errorf("errcode = %q", body.ErrCode)
	}
}

func TestPostLoginRateLimited(t *testing.T) {
	srv, _ := newTestServer(t)

	for i := 0; i < 2; i++ {
		doJSON(t, srv, http.MethodPost, "/_matrix/client/r0/login", map[string]string{"tf_token": "bad-token"})
	}

	w := doJSON(t, srv, http.MethodPost, "/_matrix/client/r0/login", map[string]string{"tf_token": "good-token"})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	var body httputil.MatrixError
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.ErrCode != httputil.ErrCodeLimitExceeded {
		t.Errorf("errcode = %q", body.ErrCode)
	}
	if body.RetryAfterMS <= 0 {
		t.Errorf("retry_after_ms = %d", body.RetryAfterMS)
	}
}

func TestPostLoginPasswordShim(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/_matrix/client/r0/login", map[string]string{
		"type":     "m.login.password",
		"password": "hunter2",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestPostLoginUnsupportedType(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/_matrix/client/r0/login", map[string]string{
		"type": "m.login.sso",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestPopupFlowEndToEnd(t *testing.T) {
	srv, _ := newTestServer(t)

	// Start the popup flow, asking for JSON.
	r := httptest.NewRequest(http.MethodGet, "/_matrix/client/r0/login/tf_connect", nil)
	r.Header.Set("Accept", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("popup status = %d", w.Code)
	}

	var popup struct {
		SessionID    string `json:"session_id"`
		State        string `json:"state"`
		AuthorizeURL string `json:"authorize_url"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &popup); err != nil {
		t.Fatal(err)
	}
	if popup.SessionID == "" || popup.State == "" {
		t.Fatalf("popup = %+v", popup)
	}
	if !strings.Contains(popup.AuthorizeURL, "state="+popup.State) {
		t.Errorf("authorize_url %q missing state", popup.AuthorizeURL)
	}
	if !strings.Contains(popup.AuthorizeURL, "appId=mycelium-chat") {
		t.Errorf("authorize_url %q missing appId", popup.AuthorizeURL)
	}

	// Complete the handshake through the callback.
	w = doJSON(t, srv, http.MethodPost, "/_matrix/client/r0/login/tf_connect/callback", map[string]string{
		"session_id": popup.SessionID,
		"state":      popup.State,
		"token":      "good-token",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("callback status = %d, body = %s", w.Code, w.Body.String())
	}

	// The session now logs in.
	w = doJSON(t, srv, http.MethodPost, "/_matrix/client/r0/login", map[string]string{
		"session_id": popup.SessionID,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", w.Code, w.Body.String())
	}
	var body loginResponse
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.UserID != "@jo_doe:example.org" {
		t.Errorf("user_id = %q", body.UserID)
	}

	// And only once.
	w = doJSON(t, srv, http.MethodPost, "/_matrix/client/r0/login", map[string]string{
		"session_id": popup.SessionID,
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("replayed session status = %d", w.Code)
	}
}

func TestPopupServesHTML(t *testing.T) {
	srv, _ := newTestServer(t)

	r := httptest.NewRequest(http.MethodGet, "/_matrix/client/r0/login/tf_connect", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "postMessage") {
		t.Error("popup page missing postMessage relay")
	}
}

func TestCallbackStateSingleUse(t *testing.T) {
	srv, sessions := newTestServer(t)

	sess, err := sessions.Create(context.Background(), "one-shot-state")
	if err != nil {
		t.Fatal(err)
	}

	payload := map[string]string{
		"session_id": sess.SessionID,
		"state":      "one-shot-state",
		"token":      "good-token",
	}

	w := doJSON(t, srv, http.MethodPost, "/_matrix/client/r0/login/tf_connect/callback", payload)
	if w.Code != http.StatusOK {
		t.Fatalf("first callback status = %d", w.Code)
	}

	// Replaying the same session/state pair must not be able to swap
	// the attached identity.
	w = doJSON(t, srv, http.MethodPost, "/_matrix/client/r0/login/tf_connect/callback", payload)
	if w.Code != http.StatusForbidden {
		t.Fatalf("second callback status = %d, want forbidden", w.Code)
	}
}

func TestCallbackStateMismatch(t *testing.T) {
	srv, sessions := newTestServer(t)

	sess, err := sessions.Create(context.Background(), "real-state")
	if err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, srv, http.MethodPost, "/_matrix/client/r0/login/tf_connect/callback", map[string]string{
		"session_id": sess.SessionID,
		"state":      "forged-state",
		"token":      "good-token",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want forbidden for forged state", w.Code)
	}
}

func TestCallbackInvalidToken(t *testing.T) {
	srv, sessions := newTestServer(t)

	sess, err := sessions.Create(context.Background(), "state")
	if err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, srv, http.MethodPost, "/_matrix/client/r0/login/tf_connect/callback", map[string]string{
		"session_id": sess.SessionID,
		"state":      "state",
		"token":      "bad-token",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestCallbackMissingFields(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/_matrix/client/r0/login/tf_connect/callback", map[string]string{
		"session_id": "x",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestStateValuesAreRandomAndURLSafe(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		state := newState()
		if _, err := base64.RawURLEncoding.DecodeString(state); err != nil {
			t.Fatalf("state %q is not base64url: %v", state, err)
		}
		if len(state) != 32 {
			t.Fatalf("len(state) = %d, want 32", len(state))
		}
		if seen[state] {
			t.Fatalf("duplicate state %q", state)
		}
		seen[state] = true
	}
}
