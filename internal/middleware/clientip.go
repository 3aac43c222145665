// Package middleware provides the gin middleware in front of the filter
// pipeline: panic recovery, client IP resolution and per-merchant rate
// limiting.
package middleware

import (
	"net"
	"net/http"
)

// headerCFConnectingIP carries the real client address when traffic enters
// through the CDN.
const headerCFConnectingIP = "CF-Connecting-IP"

// ClientIP resolves the caller address: the CDN header when present,
// otherwise the connection's remote address without the port.
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get(headerCFConnectingIP); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
