package access

import (
	"net/netip"

	"docvault/internal/model"
)

// checkTimeWindow enforces the daily access window. "HH:mm" bounds compare
// lexically and are inclusive, so the end bound admits the whole of its
// minute (17:00:59 is inside a window ending "17:00"). A window whose end
// precedes its start wraps midnight. Returns the denial reason, or "" when
// the check passes.
func checkTimeWindow(r model.Restrictions, actx model.AccessContext) string {
	if r.TimeWindowStart == "" || r.TimeWindowEnd == "" {
		return ""
	}

	at := actx.Timestamp.Format("15:04")
	if r.TimeWindowStart <= r.TimeWindowEnd {
		if at < r.TimeWindowStart || at > r.TimeWindowEnd {
			return ReasonOutsideAllowedHours
		}
		return ""
	}
	// Wrapping window, e.g. 22:00-06:00.
	if at < r.TimeWindowStart && at > r.TimeWindowEnd {
		return ReasonOutsideAllowedHours
	}
	return ""
}

// checkNetwork enforces the network and country allow-lists. An empty list
// imposes no restriction of that kind. A non-empty network list with no
// usable source IP fails closed. Country codes are only checked when the
// context carries a geolocation.
func checkNetwork(r model.Restrictions, actx model.AccessContext) string {
	if len(r.AllowedNetworks) > 0 {
		if !actx.IP.IsValid() {
			return ReasonNetworkNotPermitted
		}
		if !ipAllowed(actx.IP, r.AllowedNetworks) {
			return ReasonNetworkNotPermitted
		}
	}

	if len(r.AllowedCountries) > 0 && actx.Country != "" {
		allowed := false
		for _, c := range r.AllowedCountries {
			if c == actx.Country {
				allowed = true
				break
			}
		}
		if !allowed {
			return ReasonLocationNotPermitted
		}
	}

	return ""
}

// ipAllowed matches the source IP against allow-list entries: exact
// addresses or CIDR prefixes. Malformed entries are skipped; they can only
// narrow access, never widen it.
func ipAllowed(ip netip.Addr, entries []string) bool {
	for _, entry := range entries {
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			if prefix.Contains(ip) {
				return true
			}
			continue
		}
		if addr, err := netip.ParseAddr(entry); err == nil {
			if addr == ip {
				return true
			}
		}
	}
	return false
}
