package api

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/mik-tf/mycelium-chat/pkg/broker"
	"github.com/mik-tf/mycelium-chat/pkg/httputil"
)

// loginRequest is the Matrix login request body. The TF Connect type
// accepts either a bearer token or a completed popup session.
type loginRequest struct {
	Type      string `json:"type"`
	TFToken   string `json:"tf_token,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Password  string `json:"password,omitempty"`
}

// loginResponse is returned on a successful login decision.
type loginResponse struct {
	UserID      string `json:"user_id"`
	HomeServer  string `json:"home_server"`
	DisplayName string `json:"display_name,omitempty"`
}

type loginFlow struct {
	Type string `json:"type"`
}

// getLoginFlows handles GET /_matrix/client/r0/login
func (s *Server) getLoginFlows(w http.ResponseWriter, r *http.Request) {
	flows := make([]loginFlow, 0, len(broker.SupportedLoginTypes))
	// Advertise the native type first.
	flows = append(flows, loginFlow{Type: broker.LoginTypeTFConnect})
	for t := range broker.SupportedLoginTypes {
		if t != broker.LoginTypeTFConnect {
			flows = append(flows, loginFlow{Type: t})
		}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"flows": flows})
}

// postLogin handles POST /_matrix/client/r0/login
func (s *Server) postLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if req.Type != "" {
		if _, ok := broker.SupportedLoginTypes[req.Type]; !ok {
			httputil.WriteMatrixError(w, http.StatusBadRequest, httputil.ErrCodeUnknown, "unsupported login type: "+req.Type)
			return
		}
	}

	// The password shim exists only so clients probing m.login.password
	// get a clean refusal instead of a parse error.
	if req.Type == "m.login.password" {
		httputil.WriteForbidden(w, "password login is not available, use TF Connect")
		return
	}

	token := req.TFToken
	if token == "" {
		token = httputil.BearerToken(r)
	}

	result, err := s.broker.CheckAuth(r.Context(), httputil.ClientIP(r), broker.Credentials{
		Token:     token,
		SessionID: req.SessionID,
	})
	if err != nil {
		s.writeLoginError(w, err)
		return
	}

	httputil.WriteSuccess(w, loginResponse{
		UserID:      result.AccountID,
		HomeServer:  s.config.ServerName,
		DisplayName: result.DisplayName,
	})
}

// writeLoginError maps broker refusals onto Matrix error bodies.
func (s *Server) writeLoginError(w http.ResponseWriter, err error) {
	if rl, ok := broker.IsRateLimited(err); ok {
		httputil.WriteRateLimited(w, rl.RetryAfter.Milliseconds(), "too many failed login attempts")
		return
	}
	switch err {
	case broker.ErrMissingParameter:
		httputil.WriteMissingParam(w, "missing token or session_id")
	case broker.ErrInvalidCredential:
		httputil.WriteForbidden(w, "invalid credentials")
	case broker.ErrForbidden:
		httputil.WriteForbidden(w, "email domain not allowed")
	default:
		logrus.WithError(err).Error("login failed internally")
		httputil.WriteInternalError(w)
	}
}
