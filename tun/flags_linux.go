package tun

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// Flags is the interface flags bitmask (ifr_flags).
type Flags uint16

// Interface flags commonly seen on TUN/TAP devices.
const (
	FlagUp           Flags = unix.IFF_UP
	FlagBroadcast    Flags = unix.IFF_BROADCAST
	FlagDebug        Flags = unix.IFF_DEBUG
	FlagLoopback     Flags = unix.IFF_LOOPBACK
	FlagPointToPoint Flags = unix.IFF_POINTOPOINT
	FlagNoTrailers   Flags = unix.IFF_NOTRAILERS
	FlagRunning      Flags = unix.IFF_RUNNING
	FlagNoARP        Flags = unix.IFF_NOARP
	FlagPromisc      Flags = unix.IFF_PROMISC
	FlagAllMulti     Flags = unix.IFF_ALLMULTI
	FlagMulticast    Flags = unix.IFF_MULTICAST
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagUp, "UP"},
	{FlagBroadcast, "BROADCAST"},
	{FlagDebug, "DEBUG"},
	{FlagLoopback, "LOOPBACK"},
	{FlagPointToPoint, "POINTOPOINT"},
	{FlagNoTrailers, "NOTRAILERS"},
	{FlagRunning, "RUNNING"},
	{FlagNoARP, "NOARP"},
	{FlagPromisc, "PROMISC"},
	{FlagAllMulti, "ALLMULTI"},
	{FlagMulticast, "MULTICAST"},
}

// Has reports whether all bits of mask are set.
func (f Flags) Has(mask Flags) bool {
	return f&mask == mask
}

// String returns the flags in ifconfig notation, e.g. "UP|RUNNING".
func (f Flags) String() string {
	if f == 0 {
		return "0"
	}
	var names []string
	rest := f
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
			rest &^= fn.flag
		}
	}
	if rest != 0 {
		names = append(names, fmt.Sprintf("%#x", uint16(rest)))
	}
	return strings.Join(names, "|")
}
