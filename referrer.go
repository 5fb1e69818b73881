package principal

import "strings"

// DefaultReferrerAllowList covers the local development hosts. Deployments
// embed-hosted in production append the host's known domains.
const DefaultReferrerAllowList = "localhost,127.0.0.1"

// ValidReferrer decides whether the referrer is acceptable for embed trust.
//
// Host-asserted identity is self-authenticating (the host already vouches for
// the user), so the referrer is only a secondary signal when no identity was
// asserted. An empty referrer is accepted so privacy-restricted and
// non-browser contexts do not hard-fail; this is a deliberate openness
// tradeoff, not a security boundary.
func ValidReferrer(referrer, allowList string, hostIdentityPresent bool) bool {
	if hostIdentityPresent {
		return true
	}

	if referrer == "" {
		return true
	}

	ref := strings.ToLower(referrer)
	for _, domain := range strings.Split(allowList, ",") {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain == "" {
			continue
		}
		if strings.Contains(ref, domain) {
			return true
		}
	}

	return false
}
