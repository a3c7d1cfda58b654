// Package ifconfig is the kernel boundary of the tun module: it opens
// device nodes and control sockets, and issues the interface control
// requests (ioctls) that create and configure TUN/TAP devices.
package ifconfig

import (
	"net"
)

// MaxNameLen is the longest interface name the kernel accepts (IFNAMSIZ
// minus the terminating NUL byte).
const MaxNameLen = 15

// IsIPv4 reports whether ip is a 4-byte address or an IPv4-mapped IPv6
// address.
func IsIPv4(ip net.IP) bool {
	return len(ip) == net.IPv4len || (len(ip) > 11 && isZeros(ip[0:10]) && ip[10] == 0xff && ip[11] == 0xff)
}

func isZeros(ip net.IP) bool {
	for _, b := range ip {
		if b != 0 {
			return false
		}
	}
	return true
}
