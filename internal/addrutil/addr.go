// Package addrutil selects candidate endpoints for hole punching.
package addrutil

import (
	"net"
	"strconv"
	"strings"
)

// PunchCandidates returns the addresses to probe when punching toward a
// host, ordered by preference: the STUN-observed public address first,
// then the registered endpoint. Duplicates are dropped.
func PunchCandidates(publicAddr, endpoint string) []string {
	out := make([]string, 0, 2)
	for _, a := range []string{publicAddr, endpoint} {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(a); err != nil {
			continue
		}
		if len(out) > 0 && out[0] == a {
			continue
		}
		out = append(out, a)
	}
	return out
}

// WithPort joins the host portion of addr with a fixed port. It returns
// false when no usable host can be extracted. Useful when the data port
// is fixed while STUN observed an ephemeral mapping.
func WithPort(addr string, port int) (string, bool) {
	if port <= 0 {
		return "", false
	}
	host := hostOf(addr)
	if host == "" {
		return "", false
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), true
}

// AdvertisedAddr rewrites a wildcard-bound listen address ("[::]:7000",
// "0.0.0.0:7000") to one peers can dial: the preferred outbound
// interface address, falling back to loopback. Concrete addresses pass
// through unchanged.
func AdvertisedAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	ip := net.ParseIP(host)
	if host != "" && (ip == nil || !ip.IsUnspecified()) {
		return listen
	}
	return net.JoinHostPort(outboundIP(), port)
}

func outboundIP() string {
	// No packets are sent; the kernel just picks the route.
	conn, err := net.Dial("udp", "192.0.2.1:9")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && addr.IP != nil && !addr.IP.IsUnspecified() {
		return addr.IP.String()
	}
	return "127.0.0.1"
}

func hostOf(addr string) string {
	a := strings.TrimSpace(addr)
	if a == "" {
		return ""
	}

	if h, _, err := net.SplitHostPort(a); err == nil {
		return h
	}
	if ip := net.ParseIP(strings.Trim(a, "[]")); ip != nil {
		return strings.Trim(a, "[]")
	}

	// Unbracketed IPv6 "host:port": peel off the trailing ":port".
	if strings.Count(a, ":") > 1 && !strings.HasPrefix(a, "[") {
		if last := strings.LastIndexByte(a, ':'); last > 0 && last < len(a)-1 {
			if _, err := strconv.Atoi(a[last+1:]); err == nil {
				return a[:last]
			}
		}
	}

	if strings.Contains(a, ":") {
		// Raw IPv6 without a port.
		return strings.Trim(a, "[]")
	}
	return a
}
