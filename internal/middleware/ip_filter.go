package middleware

import (
	"net"
	"net/http"
	"strings"
)

// IPFilter restricts a route to an allowlist of source IPs or CIDR
// ranges; the callback route uses it with Safaricom's published ranges.
func IPFilter(allowedIPs []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := getRealIP(r)

			if !isIPAllowed(clientIP, allowedIPs) {
				http.Error(w, "Forbidden: Source IP not allowed", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getRealIP extracts the real client IP from request
func getRealIP(r *http.Request) string {
	// X-Real-IP first (set by nginx, etc.)
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	// X-Forwarded-For may contain a chain of IPs; take the first.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	ip, _, _ := net.SplitHostPort(r.RemoteAddr)
	return ip
}

// isIPAllowed checks if client IP is in the allowlist
func isIPAllowed(clientIP string, allowedIPs []string) bool {
	// Empty allowlist = allow all (for development)
	if len(allowedIPs) == 0 {
		return true
	}

	ip := net.ParseIP(clientIP)
	if ip == nil {
		return false
	}

	for _, allowed := range allowedIPs {
		if strings.Contains(allowed, "/") {
			_, ipNet, err := net.ParseCIDR(allowed)
			if err == nil && ipNet.Contains(ip) {
				return true
			}
		} else {
			allowedIP := net.ParseIP(allowed)
			if allowedIP != nil && ip.Equal(allowedIP) {
				return true
			}
		}
	}

	return false
}
