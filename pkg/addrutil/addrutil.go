// Package addrutil normalizes peer addresses and classifies the network a
// peer is reachable over. Overlay networks (Tor, I2P, CJDNS) and reserved IP
// ranges can never be geolocated by IP and are treated as private.
package addrutil

import (
	"net"
	"strings"
)

// Network identifies how a peer is reachable.
type Network string

const (
	NetworkIPv4    Network = "ipv4"
	NetworkIPv6    Network = "ipv6"
	NetworkOnion   Network = "onion"
	NetworkI2P     Network = "i2p"
	NetworkCJDNS   Network = "cjdns"
	NetworkUnknown Network = "unknown"
)

var (
	// rfc1918Nets specifies the IPv4 private address blocks as defined by
	// RFC1918 (10.0.0.0/8, 172.16.0.0/12, and 192.168.0.0/16).
	rfc1918Nets = []net.IPNet{
		ipNet("10.0.0.0", 8, 32),
		ipNet("172.16.0.0", 12, 32),
		ipNet("192.168.0.0", 16, 32),
	}

	// rfc3927Net specifies the IPv4 auto configuration address block as
	// defined by RFC3927 (169.254.0.0/16).
	rfc3927Net = ipNet("169.254.0.0", 16, 32)

	// rfc5737Nets specifies the IPv4 documentation address blocks as
	// defined by RFC5737 (192.0.2.0/24, 198.51.100.0/24, 203.0.113.0/24).
	rfc5737Nets = []net.IPNet{
		ipNet("192.0.2.0", 24, 32),
		ipNet("198.51.100.0", 24, 32),
		ipNet("203.0.113.0", 24, 32),
	}

	// rfc6598Net specifies the IPv4 carrier-grade NAT block as defined by
	// RFC6598 (100.64.0.0/10).
	rfc6598Net = ipNet("100.64.0.0", 10, 32)

	// rfc3849Net specifies the IPv6 documentation address block as defined
	// by RFC3849 (2001:DB8::/32).
	rfc3849Net = ipNet("2001:DB8::", 32, 128)

	// rfc4193Net specifies the IPv6 unique local address block as defined
	// by RFC4193 (FC00::/7). CJDNS lives inside it.
	rfc4193Net = ipNet("FC00::", 7, 128)

	// rfc4862Net specifies the IPv6 link-local address block as defined by
	// RFC4862 (FE80::/64).
	rfc4862Net = ipNet("FE80::", 64, 128)

	// cjdnsNet is the fc00::/8 half of the RFC4193 range used by CJDNS.
	cjdnsNet = ipNet("fc00::", 8, 128)
)

func ipNet(ip string, ones, bits int) net.IPNet {
	return net.IPNet{IP: net.ParseIP(ip), Mask: net.CIDRMask(ones, bits)}
}

// ParseNetwork maps a node-reported network name onto a Network. Unrecognized
// values come back as NetworkUnknown so the caller can fall through to
// Classify.
func ParseNetwork(s string) Network {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ipv4":
		return NetworkIPv4
	case "ipv6":
		return NetworkIPv6
	case "onion", "tor":
		return NetworkOnion
	case "i2p":
		return NetworkI2P
	case "cjdns":
		return NetworkCJDNS
	default:
		return NetworkUnknown
	}
}

// Classify infers the network type from a normalized host (no port).
func Classify(host string) Network {
	host = strings.ToLower(host)
	switch {
	case strings.HasSuffix(host, ".onion"):
		return NetworkOnion
	case strings.HasSuffix(host, ".i2p"):
		return NetworkI2P
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return NetworkUnknown
	}
	if ip.To4() != nil {
		return NetworkIPv4
	}
	if cjdnsNet.Contains(ip) {
		return NetworkCJDNS
	}
	return NetworkIPv6
}

// IsOverlay reports whether the network is an overlay that has no public IP
// to geolocate.
func IsOverlay(n Network) bool {
	return n == NetworkOnion || n == NetworkI2P || n == NetworkCJDNS
}

// IsRoutable reports whether host is a publicly routable IP address. Overlay
// hostnames, reserved ranges, loopback, link-local and unique-local space all
// come back false.
func IsRoutable(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	if ip.IsUnspecified() || ip.IsLoopback() || ip.IsMulticast() {
		return false
	}
	for _, n := range rfc1918Nets {
		if n.Contains(ip) {
			return false
		}
	}
	for _, n := range rfc5737Nets {
		if n.Contains(ip) {
			return false
		}
	}
	if rfc3927Net.Contains(ip) || rfc6598Net.Contains(ip) {
		return false
	}
	if rfc3849Net.Contains(ip) || rfc4193Net.Contains(ip) || rfc4862Net.Contains(ip) {
		return false
	}
	return true
}

// Normalize reduces a peer address to its cache key: the lowercase host with
// any port and IPv6 brackets stripped. Addresses that carry no port pass
// through unchanged apart from case.
func Normalize(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return strings.ToLower(host)
	}
	addr = strings.TrimPrefix(addr, "[")
	addr = strings.TrimSuffix(addr, "]")
	return strings.ToLower(addr)
}
