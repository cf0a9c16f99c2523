// Package wsserver is the background endpoint's WebSocket hub. Content
// endpoints and pttctl connect to it and exchange relay envelopes as text
// frames.
//
// # Connect URL
//
//	ws://127.0.0.1:<port>/ws?tab=<id>&url=<page url>
//
//   - tab: stable id chosen by the endpoint. Reconnecting with the same id
//     replaces the previous connection. Omitted ids get a random uuid.
//   - url: the page URL the endpoint runs in. Used to match app URL prefixes.
package wsserver

import (
	"fmt"
	"net/url"
	"strings"
)

// EndpointPath is the HTTP path of the WebSocket endpoint.
const EndpointPath = "/ws"

// Query parameter names of the connect URL.
const (
	queryTab = "tab"
	queryURL = "url"
)

// maxTabIDLen bounds client supplied tab ids; longer ids are truncated.
const maxTabIDLen = 128

// ConnectParams identify a connecting endpoint.
type ConnectParams struct {
	TabID   string
	PageURL string
}

// ParseConnectParams reads the connect parameters from a request query.
func ParseConnectParams(q url.Values) ConnectParams {
	id := strings.TrimSpace(q.Get(queryTab))
	if len(id) > maxTabIDLen {
		id = id[:maxTabIDLen]
	}
	return ConnectParams{
		TabID:   id,
		PageURL: strings.TrimSpace(q.Get(queryURL)),
	}
}

// ConnectURL builds the URL an endpoint dials. base is either a full
// ws:// URL or a host:port address.
func ConnectURL(base string, p ConnectParams) (string, error) {
	if base == "" {
		return "", fmt.Errorf("wsserver: connect url: empty base")
	}
	if !strings.Contains(base, "://") {
		base = "ws://" + base + EndpointPath
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("wsserver: connect url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("wsserver: connect url: unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" {
		u.Path = EndpointPath
	}
	q := u.Query()
	if p.TabID != "" {
		q.Set(queryTab, p.TabID)
	}
	if p.PageURL != "" {
		q.Set(queryURL, p.PageURL)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
