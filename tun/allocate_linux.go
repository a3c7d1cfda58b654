package tun

import (
	"github.com/digineo/tun/ifconfig"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Allocate creates the interface described by cfg with n queues and
// applies cfg once. The caller owns the returned queues and one reference
// to the interface; wrap the queues with Wrap or close them directly.
func Allocate(cfg Config, n int) (*Interface, []*Queue, error) {
	return allocate(ifconfig.System{}, &cfg, n)
}

func allocate(k ifconfig.Kernel, cfg *Config, n int) (iface *Interface, queues []*Queue, err error) {
	if n < 1 {
		return nil, nil, paramError("allocate", "queue count must be positive, got %d", n)
	}
	if err = cfg.Validate(); err != nil {
		return nil, nil, err
	}

	defer func() {
		if err == nil {
			return
		}
		var cerr error
		for _, q := range queues {
			cerr = multierr.Append(cerr, q.Close())
		}
		if iface != nil {
			cerr = multierr.Append(cerr, iface.release())
		}
		if cerr != nil {
			log.WithFields(logrus.Fields{
				logrus.ErrorKey: cerr,
				"ifname":        cfg.Name,
			}).Warn("cleanup after failed allocation")
		}
		iface, queues = nil, nil
	}()

	for i := 0; i < n; i++ {
		var q *Queue
		if q, err = openQueue(k, ifconfig.CloneDevicePath); err != nil {
			return
		}
		queues = append(queues, q)
	}

	if iface, err = newInterface(k, queues, cfg.Name, cfg.attachFlags()); err != nil {
		return
	}
	err = iface.configure(cfg, queues)
	return
}
