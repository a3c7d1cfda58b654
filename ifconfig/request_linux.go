package ifconfig

import (
	"fmt"
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var (
	// ErrNameTooLong is returned for interface names exceeding MaxNameLen.
	ErrNameTooLong = errors.Errorf("interface name exceeds %d bytes", MaxNameLen)

	// ErrNotIPv4 is returned when an address does not fit into a
	// sockaddr_in.
	ErrNotIPv4 = errors.New("not an IPv4 address")
)

// NewRequest returns a zeroed control request carrying ifname. Only one
// value field of the request is meaningful per call, selected by the
// request code it is issued with.
func NewRequest(ifname string) (*unix.Ifreq, error) {
	if len(ifname) > MaxNameLen {
		return nil, ErrNameTooLong
	}
	return unix.NewIfreq(ifname)
}

// SetInet4 stores ip as the sockaddr_in value of ifr.
func SetInet4(ifr *unix.Ifreq, ip net.IP) error {
	if !IsIPv4(ip) {
		return ErrNotIPv4
	}
	return ifr.SetInet4Addr(ip.To4())
}

// Inet4 decodes the sockaddr_in value of ifr.
func Inet4(ifr *unix.Ifreq) (net.IP, error) {
	raw, err := ifr.Inet4Addr()
	if err != nil {
		return nil, err
	}
	return net.IPv4(raw[0], raw[1], raw[2], raw[3]).To4(), nil
}

// RequestName returns the symbolic name of an ioctl request code.
func RequestName(req uint) string {
	switch req {
	case unix.TUNSETIFF:
		return "TUNSETIFF"
	case unix.TUNSETPERSIST:
		return "TUNSETPERSIST"
	case unix.TUNSETOWNER:
		return "TUNSETOWNER"
	case unix.TUNSETGROUP:
		return "TUNSETGROUP"
	case unix.SIOCGIFMTU:
		return "SIOCGIFMTU"
	case unix.SIOCSIFMTU:
		return "SIOCSIFMTU"
	case unix.SIOCGIFFLAGS:
		return "SIOCGIFFLAGS"
	case unix.SIOCSIFFLAGS:
		return "SIOCSIFFLAGS"
	case unix.SIOCGIFADDR:
		return "SIOCGIFADDR"
	case unix.SIOCSIFADDR:
		return "SIOCSIFADDR"
	case unix.SIOCGIFDSTADDR:
		return "SIOCGIFDSTADDR"
	case unix.SIOCSIFDSTADDR:
		return "SIOCSIFDSTADDR"
	case unix.SIOCGIFBRDADDR:
		return "SIOCGIFBRDADDR"
	case unix.SIOCSIFBRDADDR:
		return "SIOCSIFBRDADDR"
	case unix.SIOCGIFNETMASK:
		return "SIOCGIFNETMASK"
	case unix.SIOCSIFNETMASK:
		return "SIOCSIFNETMASK"
	}
	return fmt.Sprintf("%%!(ioctl value=%#x)", req)
}
