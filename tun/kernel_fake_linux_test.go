package tun

import (
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/digineo/tun/ifconfig"
	"golang.org/x/sys/unix"
)

// fakeKernel is an in-memory ifconfig.Kernel. It keeps a table of
// interfaces, counts every call, and lets tests script I/O results and
// readiness events per handle.
type fakeKernel struct {
	mu      sync.Mutex
	nextFd  uintptr
	handles map[uintptr]*fakeHandle
	links   map[string]*fakeLink

	openErr   error
	socketErr error
	failOn    map[uint]error // ioctl request -> error

	attachFlags []uint16 // flags of every TUNSETIFF
	requests    []string // every ioctl, in order
}

type fakeLink struct {
	name    string
	tap     bool
	queues  int
	persist bool
	owner   int
	group   int
	mtu     uint32
	flags   uint16
	addrs   map[uint]net.IP // keyed by SIOCSIF* request
}

func newFakeKernel() *fakeKernel {
	return &fakeKernel{
		nextFd:  3,
		handles: make(map[uintptr]*fakeHandle),
		links:   make(map[string]*fakeLink),
		failOn:  make(map[uint]error),
	}
}

var _ ifconfig.Kernel = (*fakeKernel)(nil)

func (k *fakeKernel) newHandle(socket bool) *fakeHandle {
	h := &fakeHandle{
		kernel:   k,
		fd:       k.nextFd,
		socket:   socket,
		closed:   make(chan struct{}),
		readable: make(chan struct{}, 64),
		writable: make(chan struct{}, 64),
	}
	h.rdl.init()
	h.wdl.init()
	k.nextFd++
	k.handles[h.fd] = h
	return h
}

func (k *fakeKernel) handle(fd uintptr) *fakeHandle {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.handles[fd]
}

// Open implements ifconfig.Kernel.
func (k *fakeKernel) Open(path string) (ifconfig.Handle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.openErr != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: k.openErr}
	}
	if path != ifconfig.CloneDevicePath {
		return nil, &os.PathError{Op: "open", Path: path, Err: unix.ENOENT}
	}
	return k.newHandle(false), nil
}

// Socket implements ifconfig.Kernel.
func (k *fakeKernel) Socket() (ifconfig.Handle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.socketErr != nil {
		return nil, os.NewSyscallError("socket", k.socketErr)
	}
	return k.newHandle(true), nil
}

// IoctlIfreq implements ifconfig.Kernel.
func (k *fakeKernel) IoctlIfreq(fd uintptr, req uint, ifr *unix.Ifreq) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.requests = append(k.requests, ifconfig.RequestName(req))
	if err := k.failOn[req]; err != nil {
		return err
	}
	h := k.handles[fd]
	if h == nil || h.isClosed() {
		return unix.EBADF
	}

	if req == unix.TUNSETIFF {
		return k.attach(h, ifr)
	}
	if !h.socket {
		return unix.ENOTTY
	}
	link := k.links[ifr.Name()]
	if link == nil {
		return unix.ENODEV
	}

	switch req {
	case unix.SIOCGIFMTU:
		ifr.SetUint32(link.mtu)
	case unix.SIOCSIFMTU:
		link.mtu = ifr.Uint32()
	case unix.SIOCGIFFLAGS:
		ifr.SetUint16(link.flags)
	case unix.SIOCSIFFLAGS:
		link.flags = ifr.Uint16()
	case unix.SIOCGIFADDR, unix.SIOCGIFNETMASK, unix.SIOCGIFDSTADDR, unix.SIOCGIFBRDADDR:
		ip := link.addrs[getToSet[req]]
		if ip == nil {
			return unix.EADDRNOTAVAIL
		}
		return ifr.SetInet4Addr(ip.To4())
	case unix.SIOCSIFADDR, unix.SIOCSIFNETMASK, unix.SIOCSIFDSTADDR, unix.SIOCSIFBRDADDR:
		ip, err := ifconfig.Inet4(ifr)
		if err != nil {
			return err
		}
		link.addrs[req] = ip
	default:
		return unix.EINVAL
	}
	return nil
}

var getToSet = map[uint]uint{
	unix.SIOCGIFADDR:    unix.SIOCSIFADDR,
	unix.SIOCGIFNETMASK: unix.SIOCSIFNETMASK,
	unix.SIOCGIFDSTADDR: unix.SIOCSIFDSTADDR,
	unix.SIOCGIFBRDADDR: unix.SIOCSIFBRDADDR,
}

func (k *fakeKernel) attach(h *fakeHandle, ifr *unix.Ifreq) error {
	if h.socket || h.link != nil {
		return unix.EINVAL
	}
	flags := ifr.Uint16()
	k.attachFlags = append(k.attachFlags, flags)
	tap := flags&unix.IFF_TAP != 0

	name := ifr.Name()
	if name == "" {
		prefix := "tun"
		if tap {
			prefix = "tap"
		}
		for i := 0; ; i++ {
			name = fmt.Sprintf("%s%d", prefix, i)
			if k.links[name] == nil {
				break
			}
		}
	}

	link := k.links[name]
	switch {
	case link == nil:
		link = &fakeLink{
			name:  name,
			tap:   tap,
			mtu:   1500,
			flags: unix.IFF_POINTOPOINT | unix.IFF_NOARP | unix.IFF_MULTICAST,
			addrs: make(map[uint]net.IP),
		}
		k.links[name] = link
	case link.tap != tap:
		return unix.EINVAL
	case link.queues > 0 && flags&unix.IFF_MULTI_QUEUE == 0:
		return unix.EBUSY
	}
	link.queues++
	h.link = link

	// the kernel echoes the resolved name
	resolved, err := unix.NewIfreq(name)
	if err != nil {
		return err
	}
	*ifr = *resolved
	ifr.SetUint16(flags)
	return nil
}

// IoctlSetInt implements ifconfig.Kernel.
func (k *fakeKernel) IoctlSetInt(fd uintptr, req uint, value int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.requests = append(k.requests, ifconfig.RequestName(req))
	if err := k.failOn[req]; err != nil {
		return err
	}
	h := k.handles[fd]
	if h == nil || h.isClosed() {
		return unix.EBADF
	}
	if h.link == nil {
		return unix.EBADFD
	}
	switch req {
	case unix.TUNSETOWNER:
		h.link.owner = value
	case unix.TUNSETGROUP:
		h.link.group = value
	case unix.TUNSETPERSIST:
		h.link.persist = value != 0
	default:
		return unix.EINVAL
	}
	return nil
}

// Read implements ifconfig.Kernel.
func (k *fakeKernel) Read(fd uintptr, p []byte) (int, error) {
	h := k.handle(fd)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reads++
	if len(h.inbox) == 0 {
		return 0, unix.EAGAIN
	}
	r := h.inbox[0]
	h.inbox = h.inbox[1:]
	if r.err != nil {
		return 0, r.err
	}
	return copy(p, r.data), nil
}

// Write implements ifconfig.Kernel.
func (k *fakeKernel) Write(fd uintptr, p []byte) (int, error) {
	h := k.handle(fd)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writes++
	if len(h.writeErrs) > 0 {
		err := h.writeErrs[0]
		h.writeErrs = h.writeErrs[1:]
		return 0, err
	}
	h.outbox = append(h.outbox, append([]byte(nil), p...))
	return len(p), nil
}

// Fsync implements ifconfig.Kernel.
func (k *fakeKernel) Fsync(fd uintptr) error {
	h := k.handle(fd)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fsyncs++
	if len(h.fsyncErrs) > 0 {
		err := h.fsyncErrs[0]
		h.fsyncErrs = h.fsyncErrs[1:]
		return err
	}
	return nil
}

// closes returns the number of Close calls on device nodes and sockets.
func (k *fakeKernel) closes() (nodes, sockets int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, h := range k.handles {
		n := h.closeCount()
		if h.socket {
			sockets += n
		} else {
			nodes += n
		}
	}
	return
}

func (k *fakeKernel) count(socket bool) (n int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, h := range k.handles {
		if h.socket == socket {
			n++
		}
	}
	return
}

// nodes returns the device-node handles in creation order.
func (k *fakeKernel) nodes() (nodes []*fakeHandle) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for fd := uintptr(3); fd < k.nextFd; fd++ {
		if h := k.handles[fd]; h != nil && !h.socket {
			nodes = append(nodes, h)
		}
	}
	return
}

type readResult struct {
	data []byte
	err  error
}

// fakeHandle is a device node or control socket of fakeKernel.
type fakeHandle struct {
	kernel *fakeKernel
	fd     uintptr
	socket bool
	link   *fakeLink

	mu        sync.Mutex
	closeN    int
	closed    chan struct{}
	inbox     []readResult
	outbox    [][]byte
	writeErrs []error
	fsyncErrs []error
	reads     int
	writes    int
	fsyncs    int
	waits     int

	readable chan struct{}
	writable chan struct{}
	rdl, wdl fakeDeadline
}

var _ ifconfig.Handle = (*fakeHandle)(nil)

// push queues a packet and signals read readiness.
func (h *fakeHandle) push(data []byte) {
	h.mu.Lock()
	h.inbox = append(h.inbox, readResult{data: data})
	h.mu.Unlock()
	h.readable <- struct{}{}
}

// pushErr queues a read error and signals read readiness.
func (h *fakeHandle) pushErr(err error) {
	h.mu.Lock()
	h.inbox = append(h.inbox, readResult{err: err})
	h.mu.Unlock()
	h.readable <- struct{}{}
}

// wakeRead signals read readiness without queuing anything, like a
// wake-up lost to a racing reader.
func (h *fakeHandle) wakeRead() { h.readable <- struct{}{} }

func (h *fakeHandle) wakeWrite() { h.writable <- struct{}{} }

func (h *fakeHandle) stats() (reads, writes, fsyncs, waits int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reads, h.writes, h.fsyncs, h.waits
}

func (h *fakeHandle) written() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outbox
}

func (h *fakeHandle) isClosed() bool {
	select {
	case <-h.closed:
		return true
	default:
		return false
	}
}

func (h *fakeHandle) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closeN
}

// Close implements ifconfig.Handle. Like *os.File, a second Close fails;
// the call is still counted.
func (h *fakeHandle) Close() error {
	h.mu.Lock()
	h.closeN++
	first := h.closeN == 1
	h.mu.Unlock()
	if !first {
		return os.ErrClosed
	}
	close(h.closed)

	k := h.kernel
	k.mu.Lock()
	defer k.mu.Unlock()
	if l := h.link; l != nil {
		l.queues--
		if l.queues == 0 && !l.persist {
			delete(k.links, l.name)
		}
	}
	return nil
}

// SyscallConn implements syscall.Conn.
func (h *fakeHandle) SyscallConn() (syscall.RawConn, error) {
	return fakeConn{h}, nil
}

// SetReadDeadline implements ifconfig.Handle.
func (h *fakeHandle) SetReadDeadline(t time.Time) error {
	h.rdl.set(t)
	return nil
}

// SetWriteDeadline implements ifconfig.Handle.
func (h *fakeHandle) SetWriteDeadline(t time.Time) error {
	h.wdl.set(t)
	return nil
}

var errFileClosing = fmt.Errorf("use of closed file")

// fakeConn mimics the runtime poller: one attempt, then one further
// attempt per readiness event.
type fakeConn struct {
	h *fakeHandle
}

func (c fakeConn) Control(f func(fd uintptr)) error {
	if c.h.isClosed() {
		return errFileClosing
	}
	f(c.h.fd)
	return nil
}

func (c fakeConn) Read(f func(fd uintptr) bool) error {
	return c.h.wait(c.h.readable, &c.h.rdl, f)
}

func (c fakeConn) Write(f func(fd uintptr) bool) error {
	return c.h.wait(c.h.writable, &c.h.wdl, f)
}

func (h *fakeHandle) wait(ready <-chan struct{}, dl *fakeDeadline, f func(fd uintptr) bool) error {
	for {
		if h.isClosed() {
			return errFileClosing
		}
		if dl.expired() {
			return os.ErrDeadlineExceeded
		}
		if f(h.fd) {
			return nil
		}
		select {
		case <-ready:
			h.mu.Lock()
			h.waits++
			h.mu.Unlock()
		case <-h.closed:
			return errFileClosing
		case <-dl.done():
			return os.ErrDeadlineExceeded
		}
	}
}

// fakeDeadline is a resettable deadline channel.
type fakeDeadline struct {
	mu    sync.Mutex
	ch    chan struct{}
	timer *time.Timer
}

func (d *fakeDeadline) init() {
	d.ch = make(chan struct{})
}

func (d *fakeDeadline) set(t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	select {
	case <-d.ch:
		d.ch = make(chan struct{})
	default:
	}
	if t.IsZero() {
		return
	}
	ch := d.ch
	if dur := time.Until(t); dur <= 0 {
		close(ch)
	} else {
		d.timer = time.AfterFunc(dur, func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			if d.ch == ch {
				select {
				case <-ch:
				default:
					close(ch)
				}
			}
		})
	}
}

func (d *fakeDeadline) done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ch
}

func (d *fakeDeadline) expired() bool {
	select {
	case <-d.done():
		return true
	default:
		return false
	}
}
