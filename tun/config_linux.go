package tun

import (
	"github.com/songgao/water"
	"golang.org/x/sys/unix"
)

// ConfigFromWater converts a github.com/songgao/water configuration.
// Water never enables packet information, so neither does the result.
func ConfigFromWater(wc water.Config) Config {
	cfg := Config{
		Name:       wc.Name,
		DeviceType: wc.DeviceType,
		Persist:    wc.Persist,
	}
	if p := wc.Permissions; p != nil {
		owner, group := int(p.Owner), int(p.Group)
		cfg.Owner = &owner
		cfg.Group = &group
	}
	return cfg
}

// attachFlags returns the TUNSETIFF flags for a single queue.
func (c *Config) attachFlags() uint16 {
	var flags uint16 = unix.IFF_TUN
	if c.IsTAP() {
		flags = unix.IFF_TAP
	}
	if !c.PacketInfo {
		flags |= unix.IFF_NO_PI
	}
	return flags
}
