// Package proxy implements the data plane: admission, body-size guarding,
// route matching, and streaming requests to upstreams.
package proxy

import (
	"net/http"
	"strings"
)

// hopByHopHeaders are meaningful only on a single connection segment and
// are stripped in both directions.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// forwardedHeaders are client-attribution headers. Inbound values are
// stripped unconditionally before injection so clients cannot spoof their
// attributed IP.
var forwardedHeaders = []string{
	"X-Forwarded-For",
	"X-Forwarded-Proto",
	"X-Forwarded-Host",
	"X-Real-IP",
}

// removeHopByHop strips the standard hop-by-hop set plus any header named
// by the Connection header itself.
func removeHopByHop(h http.Header) {
	for _, name := range strings.Split(h.Get("Connection"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			h.Del(name)
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// sanitizeRequestHeaders prepares the outbound header set: copies all
// inbound headers, strips hop-by-hop and inbound forwarding headers, then
// injects the attribution set.
func sanitizeRequestHeaders(out, in http.Header, clientIP, scheme, host string, appendXFF bool) {
	prior := in.Get("X-Forwarded-For")

	for key, values := range in {
		for _, v := range values {
			out.Add(key, v)
		}
	}
	removeHopByHop(out)
	for _, name := range forwardedHeaders {
		out.Del(name)
	}

	if appendXFF && prior != "" {
		out.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		out.Set("X-Forwarded-For", clientIP)
	}
	out.Set("X-Forwarded-Proto", scheme)
	out.Set("X-Forwarded-Host", host)
	out.Set("X-Real-IP", clientIP)
}

// copyResponseHeaders copies upstream response headers to the client,
// stripping hop-by-hop headers. Everything else is preserved bit-exactly.
func copyResponseHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, v := range values {
			dst.Add(key, v)
		}
	}
	removeHopByHop(dst)
}
