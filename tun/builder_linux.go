package tun

import (
	"net"

	"github.com/songgao/water"
)

// Builder assembles a Config step by step.
type Builder struct {
	cfg Config
}

// NewBuilder returns a Builder for a TUN device without packet
// information and a kernel-assigned name.
func NewBuilder() *Builder {
	return &Builder{cfg: Config{DeviceType: water.TUN}}
}

// Name sets the interface name.
func (b *Builder) Name(name string) *Builder {
	b.cfg.Name = name
	return b
}

// Tap selects a TAP (true) or TUN (false) device.
func (b *Builder) Tap(tap bool) *Builder {
	if tap {
		b.cfg.DeviceType = water.TAP
	} else {
		b.cfg.DeviceType = water.TUN
	}
	return b
}

// PacketInfo toggles the 4-byte packet information header.
func (b *Builder) PacketInfo(on bool) *Builder {
	b.cfg.PacketInfo = on
	return b
}

// MTU sets the MTU.
func (b *Builder) MTU(mtu int) *Builder {
	b.cfg.MTU = mtu
	return b
}

// Owner sets the uid allowed to attach to the device.
func (b *Builder) Owner(uid int) *Builder {
	b.cfg.Owner = &uid
	return b
}

// Group sets the gid allowed to attach to the device.
func (b *Builder) Group(gid int) *Builder {
	b.cfg.Group = &gid
	return b
}

// Address sets the IPv4 address.
func (b *Builder) Address(ip net.IP) *Builder {
	b.cfg.Address = ip
	return b
}

// Netmask sets the IPv4 netmask.
func (b *Builder) Netmask(ip net.IP) *Builder {
	b.cfg.Netmask = ip
	return b
}

// Destination sets the IPv4 point-to-point destination.
func (b *Builder) Destination(ip net.IP) *Builder {
	b.cfg.Destination = ip
	return b
}

// Broadcast sets the IPv4 broadcast address.
func (b *Builder) Broadcast(ip net.IP) *Builder {
	b.cfg.Broadcast = ip
	return b
}

// Persist keeps the device after its last queue is closed.
func (b *Builder) Persist() *Builder {
	b.cfg.Persist = true
	return b
}

// Up brings the interface up once it is configured.
func (b *Builder) Up() *Builder {
	b.cfg.Up = true
	return b
}

// Config returns a copy of the assembled configuration.
func (b *Builder) Config() Config {
	return b.cfg
}

// Build creates a single-queue device.
func (b *Builder) Build() (*Tun, error) {
	return New(b.cfg)
}

// BuildMultiQueue creates a device with n queues.
func (b *Builder) BuildMultiQueue(n int) ([]*Tun, error) {
	return NewMultiQueue(b.cfg, n)
}
