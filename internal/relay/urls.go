package relay

import "strings"

// DefaultAppURLPrefixes are the page URLs that host the chat web app.
var DefaultAppURLPrefixes = []string{
	"https://discord.com/app",
	"https://discord.com/channels",
}

// IsAppURL reports whether url starts with one of prefixes.
func IsAppURL(url string, prefixes []string) bool {
	if url == "" {
		return false
	}
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(url, p) {
			return true
		}
	}
	return false
}
