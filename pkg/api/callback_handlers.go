package api

import (
	"crypto/rand"
	"encoding/base64"
	"html/template"
	"net/http"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/mik-tf/mycelium-chat/pkg/httputil"
)

// popupPage drives the TF Connect popup: it opens the IdP login window
// and relays the result back to the opener via postMessage, then posts
// the signed attempt to the callback endpoint.
var popupPage = template.Must(template.New("popup").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Sign in with ThreeFold Connect</title>
</head>
<body>
<p>Continue in the ThreeFold Connect window&hellip;</p>
<script>
(function() {
  var sessionId = {{.SessionID}};
  var state = {{.State}};
  var popup = window.open({{.AuthorizeURL}}, "tfconnect-login", "width=400,height=600");

  window.addEventListener("message", function(event) {
    if (!event.data || event.data.state !== state) {
      return;
    }
    fetch({{.CallbackURL}}, {
      method: "POST",
      headers: {"Content-Type": "application/json"},
      body: JSON.stringify({
        session_id: sessionId,
        state: state,
        token: event.data.token
      })
    }).then(function(resp) {
      if (popup) { popup.close(); }
      if (window.opener) {
        window.opener.postMessage({
          type: "tfconnect.login",
          session_id: sessionId,
          ok: resp.ok
        }, "*");
      }
    });
  });
})();
</script>
</body>
</html>
`))

type popupData struct {
	SessionID    string
	State        string
	AuthorizeURL string
	CallbackURL  string
}

// authorizeURL builds the IdP login URL carrying the CSRF state and the
// deployment's callback parameters.
func (s *Server) authorizeURL(state string) string {
	conf := &oauth2.Config{
		ClientID: s.config.AppID,
		Scopes:   []string{s.config.Scope},
		Endpoint: oauth2.Endpoint{AuthURL: s.config.APIBaseURL},
	}
	return conf.AuthCodeURL(state,
		oauth2.SetAuthURLParam("appId", s.config.AppID),
		oauth2.SetAuthURLParam("redirectUrl", s.config.RedirectURI),
	)
}

// getLoginPopup handles GET /_matrix/client/r0/login/tf_connect. It
// mints a pending session bound to a fresh CSRF state and serves the
// popup page. Clients that prefer to drive the flow themselves can ask
// for JSON.
func (s *Server) getLoginPopup(w http.ResponseWriter, r *http.Request) {
	state := newState()
	sess, err := s.sessions.Create(r.Context(), state)
	if err != nil {
		logrus.WithError(err).Error("failed to create pending session")
		httputil.WriteInternalError(w)
		return
	}

	data := popupData{
		SessionID:    sess.SessionID,
		State:        state,
		AuthorizeURL: s.authorizeURL(state),
		CallbackURL:  "/_matrix/client/r0/login/tf_connect/callback",
	}

	if r.Header.Get("Accept") == "application/json" {
		httputil.WriteSuccess(w, map[string]string{
			"session_id":    data.SessionID,
			"state":         data.State,
			"authorize_url": data.AuthorizeURL,
			"callback_url":  data.CallbackURL,
		})
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := popupPage.Execute(w, data); err != nil {
		logrus.WithError(err).Error("failed to render popup page")
	}
}

// callbackRequest is posted by the popup page once the IdP handshake
// completes.
type callbackRequest struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Token     string `json:"token"`
}

// postCallback handles POST /_matrix/client/r0/login/tf_connect/callback.
// It verifies the presented token against the IdP and attaches the
// resulting identity to the pending session, completing the popup flow.
func (s *Server) postCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if req.SessionID == "" || req.State == "" || req.Token == "" {
		httputil.WriteMissingParam(w, "session_id, state and token are required")
		return
	}

	// State mismatch means the response was not produced by the popup we
	// opened. Treat it the same as an unknown session.
	if !s.sessions.StateMatches(r.Context(), req.SessionID, req.State) {
		httputil.WriteForbidden(w, "invalid session or state")
		return
	}

	id := s.broker.VerifyToken(r.Context(), req.Token)
	if id == nil {
		httputil.WriteForbidden(w, "invalid credentials")
		return
	}

	if err := s.sessions.Attach(r.Context(), req.SessionID, id); err != nil {
		logrus.WithError(err).Warn("failed to attach identity to session")
		httputil.WriteForbidden(w, "invalid session or state")
		return
	}

	httputil.WriteSuccess(w, map[string]bool{"success": true})
}

// newState mints an unguessable CSRF state value.
func newState() string {
	buf := make([]byte, 24)
	rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}
