package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/digineo/tun/tun"
	"github.com/sirupsen/logrus"
)

var (
	log       = logrus.StandardLogger()
	attachTap = false
)

const usage = `usage: tund <command> [flags] [args]

commands:
  run     [-config PATH]       create an interface and log its traffic
  mtu     IFNAME [MTU]         show or set the MTU
  addr    IFNAME CIDR [DST]    set the IPv4 address and netmask
  flags   IFNAME [up]          show the interface flags or bring it up
  route   IFNAME CIDR          route CIDR through the interface
  stats   IFNAME               show the interface counters
  destroy IFNAME               remove a persistent interface

mtu, addr, flags, route, stats and destroy attach to a persistent
interface.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "run":
		var configFile = "./config.json"
		flags := newFlagSet(cmd)
		flags.StringVar(&configFile, "config", configFile, "`PATH` to config file")
		parse(flags, args)
		err = run(configFile)
	case "mtu":
		args = parse(newFlagSet(cmd), args)
		err = withInterface(args, 1, func(iface *tun.Interface, _ []*tun.Queue) error {
			if len(args) > 1 {
				mtu, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("invalid MTU %q", args[1])
				}
				if err = iface.SetMTU(mtu); err != nil {
					return err
				}
			}
			mtu, err := iface.MTU()
			if err != nil {
				return err
			}
			fmt.Println(mtu)
			return nil
		})
	case "addr":
		args = parse(newFlagSet(cmd), args)
		err = withInterface(args, 2, func(iface *tun.Interface, _ []*tun.Queue) error {
			ip, ipnet, err := net.ParseCIDR(args[1])
			if err != nil {
				return err
			}
			if err = iface.SetAddress(ip); err != nil {
				return err
			}
			if err = iface.SetNetmask(net.IP(ipnet.Mask)); err != nil {
				return err
			}
			if len(args) > 2 {
				return iface.SetDestination(net.ParseIP(args[2]))
			}
			return nil
		})
	case "flags":
		args = parse(newFlagSet(cmd), args)
		err = withInterface(args, 1, func(iface *tun.Interface, _ []*tun.Queue) error {
			var flags tun.Flags
			var err error
			if len(args) > 1 && args[1] == "up" {
				flags, err = iface.AddFlags(tun.FlagUp | tun.FlagRunning)
			} else {
				flags, err = iface.Flags()
			}
			if err != nil {
				return err
			}
			fmt.Println(flags)
			return nil
		})
	case "route":
		args = parse(newFlagSet(cmd), args)
		err = withInterface(args, 2, func(iface *tun.Interface, _ []*tun.Queue) error {
			_, dst, err := net.ParseCIDR(args[1])
			if err != nil {
				return err
			}
			return iface.AddRoute(dst)
		})
	case "stats":
		args = parse(newFlagSet(cmd), args)
		err = withInterface(args, 1, func(iface *tun.Interface, _ []*tun.Queue) error {
			stats, err := iface.Stats()
			if err != nil {
				return err
			}
			fmt.Printf("%+v\n", stats)
			return nil
		})
	case "destroy":
		args = parse(newFlagSet(cmd), args)
		err = withInterface(args, 1, func(iface *tun.Interface, queues []*tun.Queue) error {
			return iface.Destroy(queues)
		})
	default:
		fmt.Fprintf(os.Stderr, "invalid command: %s\n\n%s", cmd, usage)
		os.Exit(1)
	}

	if err != nil {
		log.WithError(err).Fatal(cmd + " failed")
	}
}

// newFlagSet returns a flag set with the flags every command accepts.
func newFlagSet(name string) *flag.FlagSet {
	flags := flag.NewFlagSet("tund "+name, flag.ExitOnError)
	flags.Func("log-level", "minimum `LEVEL` to log (debug, info, warn, error)", func(s string) error {
		level, err := logrus.ParseLevel(s)
		if err != nil {
			return err
		}
		log.SetLevel(level)
		return nil
	})
	flags.BoolVar(&attachTap, "tap", attachTap, "the interface is a TAP device")
	flags.BoolFunc("log-json", "log as JSON", func(string) error {
		log.SetFormatter(&logrus.JSONFormatter{})
		return nil
	})
	return flags
}

func parse(flags *flag.FlagSet, args []string) []string {
	flags.Parse(args)
	tun.SetLogger(log)
	return flags.Args()
}

// withInterface attaches a single queue to the interface named by args[0]
// and runs f. It requires at least nargs arguments.
func withInterface(args []string, nargs int, f func(*tun.Interface, []*tun.Queue) error) error {
	if len(args) < nargs {
		return fmt.Errorf("expected at least %d arguments, got %d", nargs, len(args))
	}

	cfg := tun.NewBuilder().Name(args[0]).Tap(attachTap).Config()
	iface, queues, err := tun.Allocate(cfg, 1)
	if err != nil {
		return err
	}
	defer func() {
		for _, q := range queues {
			q.Close()
		}
		iface.Release()
	}()

	return f(iface, queues)
}
