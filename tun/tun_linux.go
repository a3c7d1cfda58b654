package tun

import (
	"context"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/digineo/tun/ifconfig"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// Tun is one queue of a TUN/TAP interface as an io.ReadWriteCloser.
//
// Read, Write and Flush make one non-blocking attempt per readiness
// notification from the runtime network poller and park the calling
// goroutine in between, so EAGAIN never reaches the caller. A genuine
// error is returned on its first occurrence and never retried.
//
// Read and Write may be called concurrently with each other. Concurrent
// Reads (or Writes) on the same Tun are serialised.
type Tun struct {
	iface *Interface
	queue *Queue
	conn  syscall.RawConn

	closed    atomic.Bool
	closeOnce sync.Once
}

var (
	_ io.ReadWriteCloser = (*Tun)(nil)
	_ syscall.Conn       = (*Tun)(nil)
)

// New creates a single-queue interface.
func New(cfg Config) (*Tun, error) {
	tuns, err := newMultiQueue(ifconfig.System{}, cfg, 1)
	if err != nil {
		return nil, err
	}
	return tuns[0], nil
}

// NewMultiQueue creates an interface with n queues. All returned Tuns
// share one Interface.
func NewMultiQueue(cfg Config, n int) ([]*Tun, error) {
	return newMultiQueue(ifconfig.System{}, cfg, n)
}

func newMultiQueue(k ifconfig.Kernel, cfg Config, n int) ([]*Tun, error) {
	iface, queues, err := allocate(k, &cfg, n)
	if err != nil {
		return nil, err
	}
	// each Tun holds its own reference
	defer iface.Release()

	tuns := make([]*Tun, 0, n)
	for i, q := range queues {
		t, err := Wrap(iface, q)
		if err != nil {
			cerr := closeAll(tuns, queues[i:])
			return nil, multierr.Append(err, cerr)
		}
		tuns = append(tuns, t)
	}
	return tuns, nil
}

func closeAll(tuns []*Tun, queues []*Queue) (err error) {
	for _, t := range tuns {
		err = multierr.Append(err, t.Close())
	}
	for _, q := range queues {
		err = multierr.Append(err, q.Close())
	}
	return
}

// Wrap registers q with the network poller. The Tun takes ownership of q
// and a new reference to iface.
func Wrap(iface *Interface, q *Queue) (*Tun, error) {
	conn, err := q.handle.SyscallConn()
	if err != nil {
		return nil, ioError("register", err)
	}
	return &Tun{
		iface: iface.acquire(),
		queue: q,
		conn:  conn,
	}, nil
}

// Read reads one packet into p, waiting until one is available.
func (t *Tun) Read(p []byte) (int, error) {
	var n int
	var opErr error
	err := t.conn.Read(func(fd uintptr) bool {
		n, opErr = t.queue.kernel.Read(fd, p)
		return !ifconfig.WouldBlock(opErr)
	})
	if err != nil {
		return 0, t.pollError("read", err)
	}
	if opErr != nil {
		return 0, t.opError("read", opErr)
	}
	return n, nil
}

// Write writes one packet from p, waiting until the queue accepts it.
func (t *Tun) Write(p []byte) (int, error) {
	var n int
	var opErr error
	err := t.conn.Write(func(fd uintptr) bool {
		n, opErr = t.queue.kernel.Write(fd, p)
		return !ifconfig.WouldBlock(opErr)
	})
	if err != nil {
		return 0, t.pollError("write", err)
	}
	if opErr != nil {
		return 0, t.opError("write", opErr)
	}
	return n, nil
}

// Flush waits for write readiness and issues fsync on the queue.
func (t *Tun) Flush() error {
	var opErr error
	err := t.conn.Write(func(fd uintptr) bool {
		opErr = t.queue.kernel.Fsync(fd)
		return !ifconfig.WouldBlock(opErr)
	})
	if err != nil {
		return t.pollError("fsync", err)
	}
	return t.opError("fsync", opErr)
}

// Shutdown is Flush: TUN/TAP devices have no half-close.
func (t *Tun) Shutdown() error {
	return t.Flush()
}

// ReadContext is Read, abandoned when ctx is done. It clears any read
// deadline before returning.
func (t *Tun) ReadContext(ctx context.Context, p []byte) (int, error) {
	stop, err := watchContext(ctx, t.queue.handle.SetReadDeadline)
	if err != nil {
		return 0, err
	}
	n, err := t.Read(p)
	stop()
	return n, contextError(ctx, err)
}

// WriteContext is Write, abandoned when ctx is done. It clears any write
// deadline before returning.
func (t *Tun) WriteContext(ctx context.Context, p []byte) (int, error) {
	stop, err := watchContext(ctx, t.queue.handle.SetWriteDeadline)
	if err != nil {
		return 0, err
	}
	n, err := t.Write(p)
	stop()
	return n, contextError(ctx, err)
}

// SetReadDeadline sets the deadline for pending and future Reads.
func (t *Tun) SetReadDeadline(d time.Time) error {
	return ioError("deadline", t.queue.handle.SetReadDeadline(d))
}

// SetWriteDeadline sets the deadline for pending and future Writes and
// Flushes.
func (t *Tun) SetWriteDeadline(d time.Time) error {
	return ioError("deadline", t.queue.handle.SetWriteDeadline(d))
}

var aLongTimeAgo = time.Unix(1, 0)

// watchContext arms a deadline that fires when ctx is done. The returned
// function disarms it; after it returns, no deadline is set.
func watchContext(ctx context.Context, setDeadline func(time.Time) error) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d, ok := ctx.Deadline(); ok {
		if err := setDeadline(d); err != nil {
			return nil, ioError("deadline", err)
		}
	}

	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = setDeadline(aLongTimeAgo)
		close(fired)
	})
	return func() {
		if !stop() {
			<-fired
		}
		_ = setDeadline(time.Time{})
	}, nil
}

// contextError replaces a deadline error armed by watchContext with the
// context's error. Kernel errors pass through unchanged.
func contextError(ctx context.Context, err error) error {
	if err == nil || !errors.Is(err, os.ErrDeadlineExceeded) {
		return err
	}
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	if _, ok := ctx.Deadline(); ok {
		return context.DeadlineExceeded
	}
	return err
}

// pollError maps a failed wait on the poller.
func (t *Tun) pollError(op string, err error) error {
	if t.closed.Load() {
		err = os.ErrClosed
	}
	return ioError(op, err)
}

// opError maps a failed system call.
func (t *Tun) opError(op string, err error) error {
	if errors.Is(err, unix.EBADFD) {
		err = os.ErrClosed
	}
	return ioError(op, err)
}

// Close closes the queue and releases its reference to the interface.
// Pending Reads and Writes return os.ErrClosed.
func (t *Tun) Close() (err error) {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		err = multierr.Append(t.queue.Close(), t.iface.release())
	})
	return
}

// SyscallConn returns the raw descriptor of the queue, e.g. for socket
// options or an external event loop. The descriptor stays owned by the Tun.
func (t *Tun) SyscallConn() (syscall.RawConn, error) {
	if t.closed.Load() {
		return nil, ioError("register", os.ErrClosed)
	}
	return t.conn, nil
}

// Interface returns the interface this queue belongs to.
func (t *Tun) Interface() *Interface {
	return t.iface
}

// Name returns the interface name.
func (t *Tun) Name() string {
	return t.iface.Name()
}

// MTU returns the MTU of the interface.
func (t *Tun) MTU() (int, error) {
	return t.iface.MTU()
}

// Flags returns the interface flags.
func (t *Tun) Flags() (Flags, error) {
	return t.iface.Flags()
}

// Address returns the IPv4 address of the interface.
func (t *Tun) Address() (net.IP, error) {
	return t.iface.Address()
}

// Netmask returns the IPv4 netmask of the interface.
func (t *Tun) Netmask() (net.IP, error) {
	return t.iface.Netmask()
}

// Destination returns the IPv4 destination address of the interface.
func (t *Tun) Destination() (net.IP, error) {
	return t.iface.Destination()
}

// Broadcast returns the IPv4 broadcast address of the interface.
func (t *Tun) Broadcast() (net.IP, error) {
	return t.iface.Broadcast()
}
