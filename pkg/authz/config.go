package authz

import "fmt"

// AuthMode selects how callers are identified.
type AuthMode string

const (
	// AuthModeHeader trusts the X-Remote-User header (dev / trusted proxy).
	AuthModeHeader AuthMode = "header"
	// AuthModeJWT verifies HS256 bearer tokens issued by /token.
	AuthModeJWT AuthMode = "jwt"
)

// RemoteUserHeader carries the caller's user name in header mode.
const RemoteUserHeader = "X-Remote-User"

// ParseAuthMode converts a string to an AuthMode.
// Empty string defaults to AuthModeHeader.
func ParseAuthMode(s string) (AuthMode, error) {
	switch s {
	case "", string(AuthModeHeader):
		return AuthModeHeader, nil
	case string(AuthModeJWT):
		return AuthModeJWT, nil
	default:
		return "", fmt.Errorf("unknown auth mode %q (expected header or jwt)", s)
	}
}
