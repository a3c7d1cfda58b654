package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/digineo/tun/tun"
	"github.com/songgao/water"
)

type config struct {
	Name       string `json:"name"`        // fixed interface name
	NamePrefix string `json:"name_prefix"` // pick the first free <prefix><n>
	Tap        bool   `json:"tap"`
	PacketInfo bool   `json:"packet_info"`
	Queues     int    `json:"queues"`
	MTU        int    `json:"mtu"`
	Owner      *int   `json:"owner"`
	Group      *int   `json:"group"`

	Address     string   `json:"address"` // IPv4 CIDR, e.g. 10.21.22.1/24
	Destination string   `json:"destination"`
	Broadcast   string   `json:"broadcast"`
	Addresses   []string `json:"addresses"` // additional CIDRs, IPv6 allowed
	Routes      []string `json:"routes"`

	Persist bool `json:"persist"`
	Down    bool `json:"down"` // leave the interface down

	address     *net.IPNet
	destination net.IP
	broadcast   net.IP
	addresses   []*net.IPNet
	routes      []*net.IPNet
}

func readConfig(fname string) (*config, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg config
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *config) Validate() error {
	if c.Name != "" && c.NamePrefix != "" {
		return fmt.Errorf("config.name and config.name_prefix are mutually exclusive")
	}
	if c.Queues == 0 {
		c.Queues = 1
	} else if c.Queues < 0 || c.Queues > 256 {
		return fmt.Errorf("config.queues must be in [1..256], got %d", c.Queues)
	}
	if c.MTU != 0 && (c.MTU < tun.MinMTU || c.MTU > tun.MaxMTU) {
		return fmt.Errorf("config.mtu must be in [%d..%d], got %d", tun.MinMTU, tun.MaxMTU, c.MTU)
	}

	var err error
	if c.Address != "" {
		var ip net.IP
		if ip, c.address, err = net.ParseCIDR(c.Address); err != nil {
			return fmt.Errorf("config.address is invalid: %v", err)
		}
		if ip.To4() == nil {
			return fmt.Errorf("config.address must be IPv4, use config.addresses for %s", c.Address)
		}
		c.address.IP = ip.To4()
	}
	if c.destination, err = parseIPv4("destination", c.Destination); err != nil {
		return err
	}
	if c.broadcast, err = parseIPv4("broadcast", c.Broadcast); err != nil {
		return err
	}
	if c.addresses, err = parseCIDRs("addresses", c.Addresses, false); err != nil {
		return err
	}
	if c.routes, err = parseCIDRs("routes", c.Routes, true); err != nil {
		return err
	}

	tc := c.tunConfig()
	return tc.Validate()
}

func parseIPv4(field, s string) (net.IP, error) {
	if s == "" {
		return nil, nil
	}
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("config.%s must be an IPv4 address, got %q", field, s)
	}
	return ip.To4(), nil
}

// parseCIDRs parses a list of CIDRs. With network set, the host bits are
// cleared (as required for routes).
func parseCIDRs(field string, list []string, network bool) ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for i, s := range list {
		ip, n, err := net.ParseCIDR(s)
		if err != nil {
			return nil, fmt.Errorf("config.%s[%d] is invalid: %v", field, i, err)
		}
		if !network {
			n.IP = ip
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// tunConfig converts the validated file into a device configuration.
func (c *config) tunConfig() tun.Config {
	cfg := tun.Config{
		Name:        c.Name,
		DeviceType:  water.TUN,
		PacketInfo:  c.PacketInfo,
		MTU:         c.MTU,
		Owner:       c.Owner,
		Group:       c.Group,
		Destination: c.destination,
		Broadcast:   c.broadcast,
		Persist:     c.Persist,
		Up:          !c.Down,
	}
	if c.Tap {
		cfg.DeviceType = water.TAP
	}
	if c.address != nil {
		cfg.Address = c.address.IP
		cfg.Netmask = net.IP(c.address.Mask)
	}
	return cfg
}

// findName returns the first name <prefix><n> not taken by an existing
// interface.
func findName(prefix string) (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}

	samePrefix := make(map[string]struct{})
	mark := struct{}{}

	for _, iface := range ifaces {
		if strings.HasPrefix(iface.Name, prefix) {
			samePrefix[iface.Name] = mark
		}
	}

	var name string
	for id := 0; ; id++ {
		name = fmt.Sprintf("%s%d", prefix, id)
		if _, exists := samePrefix[name]; !exists {
			break
		}
	}
	return name, nil
}
