package identity

import "strings"

// Localpart derives the Matrix localpart for an identity. TF Connect
// names contain "." and "@" which are not valid in a localpart, so both
// are folded to "_" and the result is lowercased. The mapping is total:
// every identity yields exactly one localpart, and the same identity
// always yields the same one.
func Localpart(v *Verified) string {
	name := v.SubjectName()
	name = strings.ReplaceAll(name, ".", "_")
	name = strings.ReplaceAll(name, "@", "_")
	return strings.ToLower(name)
}

// AccountID composes the full Matrix user ID for an identity on the
// given homeserver.
func AccountID(v *Verified, serverName string) string {
	return "@" + Localpart(v) + ":" + serverName
}

// Allowed reports whether the identity passes the domain allow-list.
// An empty list means no restriction. Otherwise the identity must carry
// an email whose domain (lowercased, after the last "@") is listed.
func Allowed(v *Verified, allowedDomains []string) bool {
	if len(allowedDomains) == 0 {
		return true
	}

	if v.Email == "" {
		return false
	}

	at := strings.LastIndex(v.Email, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(v.Email[at+1:])

	for _, d := range allowedDomains {
		if domain == strings.ToLower(d) {
			return true
		}
	}
	return false
}
