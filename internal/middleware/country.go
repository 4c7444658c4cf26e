package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type countryContextKey struct{}

// CountryLookup resolves ISO country codes for an IP address.
type CountryLookup func(ip string) (string, error)

// Headers set by the edge proxy in front of the service. They are only read
// when the deployment says the proxy strips client-supplied copies.
var edgeCountryHeaders = []string{"CF-IPCountry", "X-Appengine-Country", "X-Country-Code"}

// ClientIP returns the client address as seen by the nearest proxy. Only the
// right-most X-Forwarded-For hop is used: earlier entries are whatever the
// caller sent and cannot be trusted.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		if ip := strings.TrimSpace(parts[len(parts)-1]); net.ParseIP(ip) != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ResolveCountry resolves an upper-case ISO country code for the request, or "".
func ResolveCountry(r *http.Request, lookup CountryLookup, trustEdgeHeaders bool) string {
	if r == nil {
		return ""
	}
	if trustEdgeHeaders {
		for _, key := range edgeCountryHeaders {
			if val := strings.TrimSpace(r.Header.Get(key)); val != "" && val != "XX" {
				return strings.ToUpper(val)
			}
		}
	}
	if lookup == nil {
		return ""
	}
	ip := ClientIP(r)
	if ip == "" {
		return ""
	}
	country, err := lookup(ip)
	if err != nil {
		return ""
	}
	return strings.ToUpper(country)
}

// SourceCountry only admits requests resolved to one of allowed. An empty
// allowlist admits everything. Rejections use the same generic 401 as a bad
// webhook token.
func SourceCountry(allowed []string, lookup CountryLookup, trustEdgeHeaders bool) func(http.Handler) http.Handler {
	allow := make(map[string]struct{}, len(allowed))
	for _, c := range allowed {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			allow[c] = struct{}{}
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(allow) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			country := ResolveCountry(r, lookup, trustEdgeHeaders)
			if _, ok := allow[country]; !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), countryContextKey{}, country)))
		})
	}
}

// CountryFromContext returns the country admitted by SourceCountry.
func CountryFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(countryContextKey{}).(string); ok {
		return v
	}
	return ""
}
