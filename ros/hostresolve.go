package ros

import (
	"net"
	"os"
	"strings"
)

// determineHost resolves the hostname a node advertises to the master and
// binds its listeners to (spec §4.F "Hostname resolution"), in the order:
// ROS_HOSTNAME, ROS_IP, the OS hostname, then a network interface scan.
// Grounded on the call site `node.hostname, onlyLocalhost = determineHost()`
// in the rosgo node.go forks in this corpus; the function itself is not
// present in the retrieval pack, so the scan below is built directly from
// the ordering and classification rules the spec states.
func determineHost() string {
	if v := os.Getenv("ROS_HOSTNAME"); v != "" {
		return v
	}
	if v := os.Getenv("ROS_IP"); v != "" {
		return v
	}
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	if ip, ok := scanInterfacesForHost(); ok {
		return ip
	}
	return "127.0.0.1"
}

// isPrivateIP reports whether an IPv4 address is in 10.*, 192.168.* or
// 169.254.*, per spec §4.F: "private = 192.168.*, 10.*, 169.254.*". The
// other RFC1918 block, 172.16.0.0/12, is not treated as private, and no
// IPv6 address is.
func isPrivateIP(ip net.IP) bool {
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	switch {
	case v4[0] == 10:
		return true
	case v4[0] == 192 && v4[1] == 168:
		return true
	case v4[0] == 169 && v4[1] == 254:
		return true
	default:
		return false
	}
}

// scanInterfacesForHost walks the host's network interfaces skipping
// loopback and non-IP addresses, preferring a public address over a
// private one and an IPv6 address over IPv4, per spec §4.F.
func scanInterfacesForHost() (string, bool) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", false
	}

	var bestPublicV6, bestPublicV4, bestPrivateV6, bestPrivateV4 string

	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		ip := ipNet.IP
		isV4 := ip.To4() != nil
		private := isV4 && isPrivateIP(ip)

		switch {
		case !private && !isV4 && bestPublicV6 == "":
			bestPublicV6 = ip.String()
		case !private && isV4 && bestPublicV4 == "":
			bestPublicV4 = ip.String()
		case private && !isV4 && bestPrivateV6 == "":
			bestPrivateV6 = ip.String()
		case private && isV4 && bestPrivateV4 == "":
			bestPrivateV4 = ip.String()
		}
	}

	for _, candidate := range []string{bestPublicV6, bestPublicV4, bestPrivateV6, bestPrivateV4} {
		if candidate != "" {
			return candidate, true
		}
	}
	return "", false
}

// bracketHost wraps an IPv6 literal in brackets for use in a host:port
// pair, per spec §6 "Peer URL format": "IPv6 hosts are bracketed".
func bracketHost(host string) string {
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		return "[" + host + "]"
	}
	return host
}
