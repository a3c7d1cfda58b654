package tun

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/digineo/tun/ifconfig"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Interface is a TUN/TAP network interface attached to one or more
// queues. It owns the control socket used for network parameter requests.
//
// An Interface is reference counted: every Tun holds one reference, and
// the control socket is closed when the last one is released. Setters
// are not synchronised; concurrent reconfiguration is up to the caller.
type Interface struct {
	kernel ifconfig.Kernel
	socket ifconfig.Handle
	name   string

	refs      atomic.Int32
	closeOnce sync.Once
}

// newInterface attaches every queue to the interface name, creating the
// interface if it does not exist yet.
func newInterface(k ifconfig.Kernel, queues []*Queue, name string, flags uint16) (*Interface, error) {
	ifr, err := ifconfig.NewRequest(name)
	if err != nil {
		return nil, paramError("TUNSETIFF", "name %q: %v", name, err)
	}
	if len(queues) > 1 {
		flags |= unix.IFF_MULTI_QUEUE
	}
	ifr.SetUint16(flags)

	// The kernel writes the resolved name back into ifr, so an empty
	// name is assigned by the first attach and reused by the others.
	for _, q := range queues {
		if err := q.ioctlIfreq(unix.TUNSETIFF, ifr); err != nil {
			return nil, err
		}
	}

	socket, err := k.Socket()
	if err != nil {
		return nil, ioError("socket", err)
	}

	iface := &Interface{
		kernel: k,
		socket: socket,
		name:   ifr.Name(),
	}
	iface.refs.Store(1)

	log.WithFields(logrus.Fields{
		"ifname": iface.name,
		"queues": len(queues),
		"flags":  flags,
	}).Info("interface attached")

	return iface, nil
}

// configure applies cfg in a fixed order, bringing the interface up last
// so it never goes live before it is addressable. There is no rollback:
// on error the steps before the failing one stay applied.
func (iface *Interface) configure(cfg *Config, queues []*Queue) error {
	step := func(name string, apply func() error) error {
		log.WithFields(logrus.Fields{
			"ifname": iface.name,
			"step":   name,
		}).Debug("configure")
		return apply()
	}

	if cfg.MTU != 0 {
		if err := step("mtu", func() error { return iface.SetMTU(cfg.MTU) }); err != nil {
			return err
		}
	}
	if cfg.Owner != nil {
		if err := step("owner", func() error { return iface.SetOwner(*cfg.Owner, queues) }); err != nil {
			return err
		}
	}
	if cfg.Group != nil {
		if err := step("group", func() error { return iface.SetGroup(*cfg.Group, queues) }); err != nil {
			return err
		}
	}
	if cfg.Address != nil {
		if err := step("address", func() error { return iface.SetAddress(cfg.Address) }); err != nil {
			return err
		}
	}
	if cfg.Netmask != nil {
		if err := step("netmask", func() error { return iface.SetNetmask(cfg.Netmask) }); err != nil {
			return err
		}
	}
	if cfg.Destination != nil {
		if err := step("destination", func() error { return iface.SetDestination(cfg.Destination) }); err != nil {
			return err
		}
	}
	if cfg.Broadcast != nil {
		if err := step("broadcast", func() error { return iface.SetBroadcast(cfg.Broadcast) }); err != nil {
			return err
		}
	}
	if cfg.Persist {
		if err := step("persist", func() error { return iface.SetPersist(true, queues) }); err != nil {
			return err
		}
	}
	if cfg.Up {
		return step("up", func() error {
			_, err := iface.AddFlags(FlagUp | FlagRunning)
			return err
		})
	}
	return nil
}

// Name returns the interface name resolved by the kernel.
func (iface *Interface) Name() string {
	return iface.name
}

// request returns a fresh control request for the resolved name. The
// kernel has already accepted that name, so it always fits.
func (iface *Interface) request() *unix.Ifreq {
	ifr, err := ifconfig.NewRequest(iface.name)
	if err != nil {
		panic(err)
	}
	return ifr
}

func (iface *Interface) ioctl(req uint, ifr *unix.Ifreq) error {
	err := ifconfig.Control(iface.socket, func(fd uintptr) error {
		return iface.kernel.IoctlIfreq(fd, req, ifr)
	})
	if err != nil {
		return ioError(ifconfig.RequestName(req), errors.Wrapf(err, "interface %s", iface.name))
	}
	return nil
}

// MTU returns the current MTU.
func (iface *Interface) MTU() (int, error) {
	ifr := iface.request()
	if err := iface.ioctl(unix.SIOCGIFMTU, ifr); err != nil {
		return 0, err
	}
	return int(int32(ifr.Uint32())), nil
}

// SetMTU sets the MTU. It does not read the value back.
func (iface *Interface) SetMTU(mtu int) error {
	if mtu < MinMTU || mtu > MaxMTU {
		return paramError("SIOCSIFMTU", "mtu must be in [%d..%d], got %d", MinMTU, MaxMTU, mtu)
	}
	ifr := iface.request()
	ifr.SetUint32(uint32(mtu))
	return iface.ioctl(unix.SIOCSIFMTU, ifr)
}

// Flags returns the current interface flags.
func (iface *Interface) Flags() (Flags, error) {
	ifr := iface.request()
	if err := iface.ioctl(unix.SIOCGIFFLAGS, ifr); err != nil {
		return 0, err
	}
	return Flags(ifr.Uint16()), nil
}

// AddFlags sets bits on top of the current flags and returns the result.
// It never clears a bit, so applying the same bits twice is a no-op.
func (iface *Interface) AddFlags(bits Flags) (Flags, error) {
	ifr := iface.request()
	if err := iface.ioctl(unix.SIOCGIFFLAGS, ifr); err != nil {
		return 0, err
	}
	flags := Flags(ifr.Uint16()) | bits
	ifr.SetUint16(uint16(flags))
	if err := iface.ioctl(unix.SIOCSIFFLAGS, ifr); err != nil {
		return 0, err
	}
	return flags, nil
}

// Address returns the IPv4 address.
func (iface *Interface) Address() (net.IP, error) {
	return iface.inet4(unix.SIOCGIFADDR)
}

// SetAddress sets the IPv4 address.
func (iface *Interface) SetAddress(ip net.IP) error {
	return iface.setInet4(unix.SIOCSIFADDR, ip)
}

// Netmask returns the IPv4 netmask.
func (iface *Interface) Netmask() (net.IP, error) {
	return iface.inet4(unix.SIOCGIFNETMASK)
}

// SetNetmask sets the IPv4 netmask.
func (iface *Interface) SetNetmask(ip net.IP) error {
	return iface.setInet4(unix.SIOCSIFNETMASK, ip)
}

// Destination returns the IPv4 point-to-point destination address.
func (iface *Interface) Destination() (net.IP, error) {
	return iface.inet4(unix.SIOCGIFDSTADDR)
}

// SetDestination sets the IPv4 point-to-point destination address.
func (iface *Interface) SetDestination(ip net.IP) error {
	return iface.setInet4(unix.SIOCSIFDSTADDR, ip)
}

// Broadcast returns the IPv4 broadcast address.
func (iface *Interface) Broadcast() (net.IP, error) {
	return iface.inet4(unix.SIOCGIFBRDADDR)
}

// SetBroadcast sets the IPv4 broadcast address.
func (iface *Interface) SetBroadcast(ip net.IP) error {
	return iface.setInet4(unix.SIOCSIFBRDADDR, ip)
}

func (iface *Interface) inet4(req uint) (net.IP, error) {
	ifr := iface.request()
	if err := iface.ioctl(req, ifr); err != nil {
		return nil, err
	}
	ip, err := ifconfig.Inet4(ifr)
	if err != nil {
		return nil, ioError(ifconfig.RequestName(req), errors.Wrap(err, "decode address"))
	}
	return ip, nil
}

func (iface *Interface) setInet4(req uint, ip net.IP) error {
	ifr := iface.request()
	if err := ifconfig.SetInet4(ifr, ip); err != nil {
		return paramError(ifconfig.RequestName(req), "%s: %v", ip, err)
	}
	return iface.ioctl(req, ifr)
}

// SetOwner sets the uid allowed to attach to the device, on every queue.
func (iface *Interface) SetOwner(uid int, queues []*Queue) error {
	if uid < 0 {
		return paramError("TUNSETOWNER", "negative owner %d", uid)
	}
	return eachQueue(queues, unix.TUNSETOWNER, uid)
}

// SetGroup sets the gid allowed to attach to the device, on every queue.
func (iface *Interface) SetGroup(gid int, queues []*Queue) error {
	if gid < 0 {
		return paramError("TUNSETGROUP", "negative group %d", gid)
	}
	return eachQueue(queues, unix.TUNSETGROUP, gid)
}

// SetPersist marks the device persistent (or not) on every queue. A
// persistent device survives the close of its last queue.
func (iface *Interface) SetPersist(persist bool, queues []*Queue) error {
	value := 0
	if persist {
		value = 1
	}
	return eachQueue(queues, unix.TUNSETPERSIST, value)
}

func eachQueue(queues []*Queue, req uint, value int) error {
	for _, q := range queues {
		if err := q.ioctlSetInt(req, value); err != nil {
			return err
		}
	}
	return nil
}

func (iface *Interface) acquire() *Interface {
	iface.refs.Add(1)
	return iface
}

// Release drops one reference. Releasing the last one closes the control
// socket; a close failure is logged and otherwise ignored.
func (iface *Interface) Release() {
	if err := iface.release(); err != nil {
		log.WithFields(logrus.Fields{
			logrus.ErrorKey: err,
			"ifname":        iface.name,
		}).Warn("unable to close control socket")
	}
}

func (iface *Interface) release() (err error) {
	if iface.refs.Add(-1) > 0 {
		return nil
	}
	iface.closeOnce.Do(func() {
		err = ioError("close", iface.socket.Close())
	})
	return
}
