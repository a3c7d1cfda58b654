package tun

import (
	"net"

	"github.com/digineo/tun/ifconfig"
	"github.com/songgao/water"
)

// MTU limits accepted by Config.Validate and Interface.SetMTU.
const (
	MinMTU = 68
	MaxMTU = 65535
)

// Config describes the interface to create. Zero values leave the
// corresponding kernel setting untouched.
type Config struct {
	// Name of the interface. An empty name lets the kernel pick one
	// (tun0, tun1, ... or tap0, ...).
	Name string

	// DeviceType selects water.TUN (IP packets, the default) or
	// water.TAP (Ethernet frames).
	DeviceType water.DeviceType

	// PacketInfo prefixes every packet with the 4-byte flags/protocol
	// header of the kernel.
	PacketInfo bool

	MTU   int
	Owner *int // uid allowed to attach to the device
	Group *int // gid allowed to attach to the device

	Address     net.IP
	Netmask     net.IP
	Destination net.IP
	Broadcast   net.IP

	// Persist keeps the interface after the last queue is closed.
	Persist bool

	// Up brings the interface up after all addresses are assigned.
	Up bool
}

// Validate checks the configuration without talking to the kernel.
func (c *Config) Validate() error {
	if len(c.Name) > ifconfig.MaxNameLen {
		return paramError("config", "name %q exceeds %d bytes", c.Name, ifconfig.MaxNameLen)
	}
	switch c.DeviceType {
	case 0, water.TUN, water.TAP:
	default:
		return paramError("config", "unknown device type %d", c.DeviceType)
	}
	if c.MTU != 0 && (c.MTU < MinMTU || c.MTU > MaxMTU) {
		return paramError("config", "mtu must be in [%d..%d], got %d", MinMTU, MaxMTU, c.MTU)
	}
	if c.Owner != nil && *c.Owner < 0 {
		return paramError("config", "negative owner %d", *c.Owner)
	}
	if c.Group != nil && *c.Group < 0 {
		return paramError("config", "negative group %d", *c.Group)
	}

	for _, a := range []struct {
		field string
		ip    net.IP
	}{
		{"address", c.Address},
		{"netmask", c.Netmask},
		{"destination", c.Destination},
		{"broadcast", c.Broadcast},
	} {
		if a.ip != nil && !ifconfig.IsIPv4(a.ip) {
			return paramError("config", "%s %s is not an IPv4 address", a.field, a.ip)
		}
	}
	return nil
}

// IsTAP reports whether the configuration selects a TAP device.
func (c *Config) IsTAP() bool {
	return c.DeviceType == water.TAP
}
