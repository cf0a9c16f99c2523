// Package userutil derives per-user names for pipes, sockets and locks.
package userutil

import (
	"os"
	"os/user"
	"regexp"
	"strings"
)

var invalidUsernameRune = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeUsername normalizes username-like values used in pipe/lock names.
func SanitizeUsername(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return invalidUsernameRune.ReplaceAllString(value, "_")
}

// currentUserFn is replaced in tests.
var currentUserFn = user.Current

// CurrentUsername returns the sanitized login name of the current user.
// USERNAME (Windows) and USER (Unix) take precedence over the account lookup.
func CurrentUsername() string {
	for _, key := range []string{"USERNAME", "USER"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return SanitizeUsername(v)
		}
	}
	if current, err := currentUserFn(); err == nil {
		return SanitizeUsername(current.Username)
	}
	return SanitizeUsername("")
}
