package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/digineo/tun/tun"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/songgao/water/waterutil"
)

// room for the packet information header and an Ethernet header with a
// VLAN tag on top of the largest MTU
const bufSize = tun.MaxMTU + 4 + 18

func run(configFile string) error {
	cfg, err := readConfig(configFile)
	if err != nil {
		return errors.Wrapf(err, "cannot read config file %q", configFile)
	}
	if err = cfg.Validate(); err != nil {
		return errors.Wrap(err, "error validating config")
	}

	tc := cfg.tunConfig()
	if cfg.NamePrefix != "" {
		if tc.Name, err = findName(cfg.NamePrefix); err != nil {
			return err
		}
	}

	tuns, err := tun.NewMultiQueue(tc, cfg.Queues)
	if err != nil {
		return errors.Wrap(err, "error creating tun device")
	}
	defer func() {
		for _, t := range tuns {
			if err := t.Close(); err != nil {
				log.WithError(err).Warn("close failed")
			}
		}
	}()

	iface := tuns[0].Interface()
	for _, addr := range cfg.addresses {
		if err = iface.AddAddress(addr); err != nil {
			return err
		}
	}
	for _, dst := range cfg.routes {
		if err = iface.AddRoute(dst); err != nil {
			return err
		}
	}

	if err = logInterface(iface); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for i, t := range tuns {
		wg.Add(1)
		go func(queue int, t *tun.Tun) {
			defer wg.Done()
			pump(ctx, queue, t, tc.IsTAP(), tc.PacketInfo)
		}(i, t)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		log.Info("interrupt received")
		<-done
	case <-done:
		log.Warn("all queues stopped")
	}

	if stats, err := iface.Stats(); err == nil {
		log.WithFields(logrus.Fields{
			"rx_packets": stats.RxPackets,
			"rx_bytes":   stats.RxBytes,
			"tx_packets": stats.TxPackets,
			"tx_bytes":   stats.TxBytes,
		}).Info("interface counters")
	}
	return nil
}

func logInterface(iface *tun.Interface) error {
	mtu, err := iface.MTU()
	if err != nil {
		return err
	}
	flags, err := iface.Flags()
	if err != nil {
		return err
	}

	fields := logrus.Fields{
		"ifname": iface.Name(),
		"mtu":    mtu,
		"flags":  flags.String(),
	}
	if addr, err := iface.Address(); err == nil {
		fields["address"] = addr.String()
	}
	if mask, err := iface.Netmask(); err == nil {
		fields["netmask"] = mask.String()
	}
	if dst, err := iface.Destination(); err == nil && flags.Has(tun.FlagPointToPoint) {
		fields["destination"] = dst.String()
	}
	log.WithFields(fields).Info("interface ready")
	return nil
}

type packetReader interface {
	ReadContext(ctx context.Context, p []byte) (int, error)
}

// pump reads packets from one queue and logs them until ctx is done or a
// read fails.
func pump(ctx context.Context, queue int, r packetReader, tap, packetInfo bool) {
	l := log.WithField("queue", queue)
	buf := make([]byte, bufSize)

	for {
		n, err := r.ReadContext(ctx, buf)
		if err != nil {
			switch {
			case ctx.Err() != nil:
			case errors.Is(err, os.ErrClosed):
				l.Warn("queue closed")
			default:
				l.WithError(err).Error("read failed, stopping queue")
			}
			return
		}

		pkt := buf[:n]
		if packetInfo && len(pkt) >= 4 {
			pkt = pkt[4:]
		}
		l.WithFields(describe(pkt, tap)).Debugf("got %d bytes", n)
	}
}

// describe returns the header fields of a packet worth logging.
func describe(pkt []byte, tap bool) logrus.Fields {
	fields := logrus.Fields{}
	if tap {
		if len(pkt) >= 14+int(waterutil.DoubleTagged) {
			et := waterutil.MACEthertype(pkt)
			fields["src"] = waterutil.MACSource(pkt).String()
			fields["dst"] = waterutil.MACDestination(pkt).String()
			fields["ethertype"] = fmt.Sprintf("0x%02x%02x", et[0], et[1])
		}
		return fields
	}

	switch {
	case len(pkt) >= 20 && waterutil.IsIPv4(pkt):
		fields["src"] = waterutil.IPv4Source(pkt).String()
		fields["dst"] = waterutil.IPv4Destination(pkt).String()
		fields["proto"] = int(waterutil.IPv4Protocol(pkt))
	case len(pkt) > 0 && waterutil.IsIPv6(pkt):
		fields["version"] = 6
	}
	return fields
}
