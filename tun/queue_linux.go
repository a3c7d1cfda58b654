package tun

import (
	"sync"

	"github.com/digineo/tun/ifconfig"
	"golang.org/x/sys/unix"
)

// Queue is one non-blocking device-node handle of an interface. Its
// methods map 1:1 to system calls: a Read on an empty queue fails with
// EAGAIN instead of waiting. Use Tun for reads and writes that wait for
// readiness.
type Queue struct {
	kernel ifconfig.Kernel
	handle ifconfig.Handle

	closeOnce sync.Once
}

func openQueue(k ifconfig.Kernel, path string) (*Queue, error) {
	h, err := k.Open(path)
	if err != nil {
		return nil, ioError("open", err)
	}
	return &Queue{kernel: k, handle: h}, nil
}

// Read reads one packet into p.
func (q *Queue) Read(p []byte) (int, error) {
	var n int
	err := ifconfig.Control(q.handle, func(fd uintptr) (err error) {
		n, err = q.kernel.Read(fd, p)
		return
	})
	return n, ioError("read", err)
}

// Write writes one packet from p.
func (q *Queue) Write(p []byte) (int, error) {
	var n int
	err := ifconfig.Control(q.handle, func(fd uintptr) (err error) {
		n, err = q.kernel.Write(fd, p)
		return
	})
	return n, ioError("write", err)
}

// Flush issues fsync on the device node.
func (q *Queue) Flush() error {
	err := ifconfig.Control(q.handle, q.kernel.Fsync)
	return ioError("fsync", err)
}

// Close closes the device node. Only the first call reaches the kernel.
func (q *Queue) Close() (err error) {
	q.closeOnce.Do(func() {
		err = ioError("close", q.handle.Close())
	})
	return
}

func (q *Queue) ioctlIfreq(req uint, ifr *unix.Ifreq) error {
	err := ifconfig.Control(q.handle, func(fd uintptr) error {
		return q.kernel.IoctlIfreq(fd, req, ifr)
	})
	return ioError(ifconfig.RequestName(req), err)
}

func (q *Queue) ioctlSetInt(req uint, value int) error {
	err := ifconfig.Control(q.handle, func(fd uintptr) error {
		return q.kernel.IoctlSetInt(fd, req, value)
	})
	return ioError(ifconfig.RequestName(req), err)
}
