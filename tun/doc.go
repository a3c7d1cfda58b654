// Package tun creates Linux TUN/TAP interfaces, configures them through
// kernel control requests, and exposes every queue of an interface as an
// io.ReadWriteCloser whose blocking calls park on the runtime network
// poller instead of a thread.
//
// A single-queue device:
//
//	dev, err := tun.NewBuilder().
//		MTU(1350).
//		Address(net.IPv4(10, 21, 22, 1)).
//		Netmask(net.IPv4(255, 255, 255, 0)).
//		Up().
//		Build()
//
// Multi-queue devices share one *Interface between all their queues; its
// control socket is closed when the last Tun referencing it is closed.
//
// Setters such as Interface.SetMTU and Interface.SetAddress issue a single
// set request and return only an error. They do not echo the value back;
// call the matching getter to see what the kernel stored. AddFlags is the
// exception and returns the resulting flags.
package tun
