package tun

import (
	"net"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
)

// Stats holds the interface counters reported by the kernel.
type Stats struct {
	RxPackets uint64
	TxPackets uint64
	RxBytes   uint64
	TxBytes   uint64
	RxDropped uint64
	TxDropped uint64
}

func (iface *Interface) link() (netlink.Link, error) {
	link, err := netlink.LinkByName(iface.name)
	if err != nil {
		return nil, ioError("RTM_GETLINK", errors.Wrapf(err, "interface %s", iface.name))
	}
	return link, nil
}

// AddAddress assigns addr to the interface, replacing an equal address.
// Unlike SetAddress it accepts IPv6 and keeps existing addresses.
func (iface *Interface) AddAddress(addr *net.IPNet) error {
	if addr == nil {
		return paramError("RTM_NEWADDR", "missing address")
	}
	link, err := iface.link()
	if err != nil {
		return err
	}
	if err := netlink.AddrReplace(link, &netlink.Addr{IPNet: addr}); err != nil {
		return ioError("RTM_NEWADDR", errors.Wrapf(err, "add %s to %s", addr, iface.name))
	}
	return nil
}

// AddRoute routes dst through the interface.
func (iface *Interface) AddRoute(dst *net.IPNet) error {
	if dst == nil {
		return paramError("RTM_NEWROUTE", "missing destination")
	}
	link, err := iface.link()
	if err != nil {
		return err
	}
	route := netlink.Route{
		LinkIndex: link.Attrs().Index,
		Dst:       dst,
		Scope:     netlink.SCOPE_LINK,
	}
	if err := netlink.RouteReplace(&route); err != nil {
		return ioError("RTM_NEWROUTE", errors.Wrapf(err, "route %s via %s", dst, iface.name))
	}
	return nil
}

// Stats returns the packet and byte counters of the interface.
func (iface *Interface) Stats() (Stats, error) {
	link, err := iface.link()
	if err != nil {
		return Stats{}, err
	}
	s := link.Attrs().Statistics
	if s == nil {
		return Stats{}, nil
	}
	return Stats{
		RxPackets: s.RxPackets,
		TxPackets: s.TxPackets,
		RxBytes:   s.RxBytes,
		TxBytes:   s.TxBytes,
		RxDropped: s.RxDropped,
		TxDropped: s.TxDropped,
	}, nil
}

// Destroy clears the persist flag on every queue and deletes the link.
func (iface *Interface) Destroy(queues []*Queue) error {
	if err := iface.SetPersist(false, queues); err != nil {
		return err
	}
	link, err := iface.link()
	if err != nil {
		return err
	}
	if err := netlink.LinkDel(link); err != nil {
		return ioError("RTM_DELLINK", errors.Wrapf(err, "interface %s", iface.name))
	}
	return nil
}
