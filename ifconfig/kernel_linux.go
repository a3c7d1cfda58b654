package ifconfig

import (
	"os"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// CloneDevicePath is the TUN/TAP clone device.
const CloneDevicePath = "/dev/net/tun"

// Handle is an open kernel file handle. *os.File satisfies it; when the
// underlying descriptor is non-blocking, the file is registered with the
// runtime network poller and SyscallConn exposes its readiness.
type Handle interface {
	syscall.Conn
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Kernel issues the system calls needed to manage TUN/TAP devices. System
// talks to the running kernel; tests substitute their own implementation.
//
// Descriptor arguments are obtained from Handle.SyscallConn and are only
// valid for the duration of the callback they were passed to.
type Kernel interface {
	// Open opens a device node in read-write, non-blocking mode.
	Open(path string) (Handle, error)

	// Socket opens the datagram socket used for interface requests.
	Socket() (Handle, error)

	IoctlIfreq(fd uintptr, req uint, ifr *unix.Ifreq) error
	IoctlSetInt(fd uintptr, req uint, value int) error

	Read(fd uintptr, p []byte) (int, error)
	Write(fd uintptr, p []byte) (int, error)
	Fsync(fd uintptr) error
}

// Control runs f with the raw descriptor of h.
func Control(h Handle, f func(fd uintptr) error) error {
	rc, err := h.SyscallConn()
	if err != nil {
		return err
	}
	var ferr error
	if err := rc.Control(func(fd uintptr) { ferr = f(fd) }); err != nil {
		return err
	}
	return ferr
}

// WouldBlock reports whether err is the "try again" condition of a
// non-blocking descriptor.
func WouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN)
}

// System implements Kernel on top of golang.org/x/sys/unix.
type System struct{}

var _ Kernel = System{}

// Open implements Kernel.
func (System) Open(path string) (Handle, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return os.NewFile(uintptr(fd), path), nil
}

// Socket implements Kernel.
func (System) Socket() (Handle, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	return os.NewFile(uintptr(fd), "ifconfig"), nil
}

// IoctlIfreq implements Kernel.
func (System) IoctlIfreq(fd uintptr, req uint, ifr *unix.Ifreq) error {
	return unix.IoctlIfreq(int(fd), req, ifr)
}

// IoctlSetInt implements Kernel.
func (System) IoctlSetInt(fd uintptr, req uint, value int) error {
	return unix.IoctlSetInt(int(fd), req, value)
}

// Read implements Kernel. It never blocks; an empty queue yields EAGAIN.
func (System) Read(fd uintptr, p []byte) (int, error) {
	n, err := unix.Read(int(fd), p)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Write implements Kernel.
func (System) Write(fd uintptr, p []byte) (int, error) {
	n, err := unix.Write(int(fd), p)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Fsync implements Kernel.
func (System) Fsync(fd uintptr) error {
	return unix.Fsync(int(fd))
}
