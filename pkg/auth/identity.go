package auth

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// nonPublicPrefixes lists ranges netip does not classify on its own
var nonPublicPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),       // "this" network
	netip.MustParsePrefix("100.64.0.0/10"),   // carrier-grade NAT
	netip.MustParsePrefix("192.0.0.0/24"),    // IETF protocol assignments
	netip.MustParsePrefix("192.0.2.0/24"),    // TEST-NET-1
	netip.MustParsePrefix("198.18.0.0/15"),   // benchmarking
	netip.MustParsePrefix("198.51.100.0/24"), // TEST-NET-2
	netip.MustParsePrefix("203.0.113.0/24"),  // TEST-NET-3
	netip.MustParsePrefix("240.0.0.0/4"),     // reserved, includes broadcast
	netip.MustParsePrefix("2001:db8::/32"),   // documentation
	netip.MustParsePrefix("100::/64"),        // discard-only
	netip.MustParsePrefix("2001::/23"),       // IETF protocol assignments
}

// IsPublicIP reports whether addr is a globally routable unicast address
func IsPublicIP(addr netip.Addr) bool {
	addr = addr.Unmap()
	if !addr.IsValid() ||
		addr.IsUnspecified() ||
		addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast() {
		return false
	}
	for _, p := range nonPublicPrefixes {
		if p.Contains(addr) {
			return false
		}
	}
	return true
}

// IdentityResolver derives the rate limit identity of a request
type IdentityResolver struct {
	trustForwardedFor bool
}

// NewIdentityResolver creates a resolver. X-Forwarded-For is consulted only
// when trustForwardedFor is set.
func NewIdentityResolver(trustForwardedFor bool) *IdentityResolver {
	return &IdentityResolver{trustForwardedFor: trustForwardedFor}
}

// Identity returns user:<id> for authenticated callers and ip:<addr> otherwise
func (r *IdentityResolver) Identity(req *http.Request) string {
	if user, ok := GetUserFromContext(req.Context()); ok && user.UserID != "" {
		return "user:" + user.UserID
	}
	return "ip:" + r.ClientIP(req)
}

// ClientIP returns the caller address. The first X-Forwarded-For entry wins
// only if forwarding is trusted and the entry is a public address.
func (r *IdentityResolver) ClientIP(req *http.Request) string {
	if r.trustForwardedFor {
		if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil && IsPublicIP(addr) {
				return addr.Unmap().String()
			}
		}
	}

	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap().String()
	}
	if host == "" {
		return "unknown"
	}
	return host
}
