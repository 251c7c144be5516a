// Package identity defines the verified identity returned by ThreeFold
// Connect and the deterministic mapping from that identity to a Matrix
// user ID on the local homeserver.
package identity

import (
	"encoding/json"
	"fmt"
)

// Verified holds the claims ThreeFold Connect asserts about a user after
// a successful verification. It is immutable once produced; verifiers
// hand it to the broker and caches store it as-is.
type Verified struct {
	// DoubleName is the TF Connect account name (e.g. "jo.doe.3bot").
	DoubleName string `json:"doubleName,omitempty"`
	// Username is a legacy alias some IdP responses carry instead of
	// doubleName.
	Username string `json:"username,omitempty"`
	// Name is the free-form display name, when the user set one.
	Name string `json:"name,omitempty"`
	// Email is the verified email address, if the requested scope
	// included it.
	Email string `json:"email,omitempty"`
	// Claims keeps the full response body so callers can reach fields
	// this struct does not model.
	Claims map[string]interface{} `json:"claims,omitempty"`
}

// SubjectName returns the IdP-assigned name for the user, preferring
// doubleName over the legacy username field. Falls back to "unknown" so
// the account mapping stays total.
func (v *Verified) SubjectName() string {
	if v.DoubleName != "" {
		return v.DoubleName
	}
	if v.Username != "" {
		return v.Username
	}
	return "unknown"
}

// DisplayName returns the name to show in the homeserver profile:
// name, then subject name, then a generic placeholder.
func (v *Verified) DisplayName() string {
	if v.Name != "" {
		return v.Name
	}
	if v.DoubleName != "" {
		return v.DoubleName
	}
	if v.Username != "" {
		return v.Username
	}
	return "Unknown"
}

// ParseClaims decodes an IdP profile response body into a Verified
// identity, keeping the raw claim map alongside the modeled fields.
func ParseClaims(body []byte) (*Verified, error) {
	var v Verified
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("invalid identity claims: %w", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err == nil {
		v.Claims = raw
	}

	return &v, nil
}
