package config

import (
	"bytes"
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"fakenet/internal/addr"
	"fakenet/internal/log"
	"fakenet/internal/slaac"
)

// Backends.
const (
	BackendTap    = "tap"
	BackendPacket = "packet"
)

// Status formats.
const (
	FormatEvents   = "events"
	FormatSnapshot = "snapshot"
)

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// AddressConfig is one manually configured address.
type AddressConfig struct {
	// Address is "addr/len"; a bare address means /128.
	Address           string `toml:"address"`
	Anycast           bool   `toml:"anycast,omitempty"`
	SkipDAD           bool   `toml:"skip_dad,omitempty"`
	PreferredLifetime string `toml:"preferred_lifetime,omitempty"`
	ValidLifetime     string `toml:"valid_lifetime,omitempty"`
}

// NodeConfig describes the node's attachment to the link
type NodeConfig struct {
	EtherAddress string `toml:"ether_address"`
	// IPv4Address, when set, is answered for in ARP requests.
	IPv4Address string          `toml:"ipv4_address,omitempty"`
	Backend     string          `toml:"backend"`
	Interface   string          `toml:"interface"`
	InterfaceID string          `toml:"interface_id"`
	Addresses   []AddressConfig `toml:"address,omitempty"`
}

// NDPConfig holds the neighbor discovery protocol variables
type NDPConfig struct {
	DupAddrDetectTransmits  int      `toml:"dup_addr_detect_transmits"`
	RetransTimer            Duration `toml:"retrans_timer"`
	MaxRtrSolicitationDelay Duration `toml:"max_rtr_solicitation_delay"`
	MaxRtrSolicitations     int      `toml:"max_rtr_solicitations"`
	RtrSolicitationInterval Duration `toml:"rtr_solicitation_interval"`
	SendRouterSolicitations bool     `toml:"send_router_solicitations"`
	LoopbackMulticast       bool     `toml:"loopback_multicast"`
}

type LogConfig struct {
	Output string `toml:"output"`
	Level  string `toml:"level"`
}

type StatusConfig struct {
	Format string `toml:"format"`
	// File, when set, receives a copy of the status output.
	File string `toml:"file,omitempty"`
}

type CaptureConfig struct {
	Pcap string `toml:"pcap"`
}

// Config main configuration structure
type Config struct {
	Node    NodeConfig    `toml:"node"`
	NDP     NDPConfig     `toml:"ndp"`
	Log     LogConfig     `toml:"log"`
	Status  StatusConfig  `toml:"status"`
	Capture CaptureConfig `toml:"capture"`
}

// Default returns a complete configuration for a TAP node with a random
// interface identifier.
func Default() Config {
	nd := slaac.DefaultConfig()
	return Config{
		Node: NodeConfig{
			EtherAddress: "02:00:00:00:00:01",
			Backend:      BackendTap,
			InterfaceID:  "random",
		},
		NDP: NDPConfig{
			DupAddrDetectTransmits:  int(nd.DupAddrDetectTransmits),
			RetransTimer:            Duration(nd.RetransTimer),
			MaxRtrSolicitationDelay: Duration(nd.MaxRtrSolicitationDelay),
			MaxRtrSolicitations:     nd.MaxRtrSolicitations,
			RtrSolicitationInterval: Duration(nd.RtrSolicitationInterval),
			SendRouterSolicitations: nd.SendRouterSolicitations,
			LoopbackMulticast:       nd.LoopbackMulticast,
		},
		Log:    LogConfig{Output: "stderr", Level: "info"},
		Status: StatusConfig{Format: FormatEvents},
	}
}

// ReadConfig reads and validates the config file at path
func ReadConfig(path string) (Config, string, error) {
	configFile, err := filepath.Abs(path)
	if err != nil {
		return Config{}, "", fmt.Errorf("invalid config file path: %w", err)
	}
	data, err := os.ReadFile(configFile)
	if err != nil {
		return Config{}, "", fmt.Errorf("could not read config file %s: %w", configFile, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, "", fmt.Errorf("%s: %w", configFile, err)
	}
	return cfg, configFile, nil
}

// Parse decodes a TOML document, fills unset keys with defaults and
// validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Config{}
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("could not parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		log.Warning("Ignoring unknown config keys: %s", strings.Join(keys, ", "))
	}

	def := Default()
	if cfg.Node.Backend == "" {
		cfg.Node.Backend = def.Node.Backend
	}
	if cfg.Node.InterfaceID == "" {
		cfg.Node.InterfaceID = def.Node.InterfaceID
	}
	if !md.IsDefined("ndp", "dup_addr_detect_transmits") {
		cfg.NDP.DupAddrDetectTransmits = def.NDP.DupAddrDetectTransmits
	}
	if !md.IsDefined("ndp", "retrans_timer") {
		cfg.NDP.RetransTimer = def.NDP.RetransTimer
	}
	if !md.IsDefined("ndp", "max_rtr_solicitation_delay") {
		cfg.NDP.MaxRtrSolicitationDelay = def.NDP.MaxRtrSolicitationDelay
	}
	if !md.IsDefined("ndp", "max_rtr_solicitations") {
		cfg.NDP.MaxRtrSolicitations = def.NDP.MaxRtrSolicitations
	}
	if !md.IsDefined("ndp", "rtr_solicitation_interval") {
		cfg.NDP.RtrSolicitationInterval = def.NDP.RtrSolicitationInterval
	}
	if !md.IsDefined("ndp", "send_router_solicitations") {
		cfg.NDP.SendRouterSolicitations = def.NDP.SendRouterSolicitations
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = def.Log.Output
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Status.Format == "" {
		cfg.Status.Format = def.Status.Format
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Node.EtherAddress == "" {
		return fmt.Errorf("config missing required field: node.ether_address")
	}
	if _, err := addr.ParseMAC(c.Node.EtherAddress); err != nil {
		return fmt.Errorf("invalid node.ether_address: %w", err)
	}
	if c.Node.IPv4Address != "" {
		a, err := netip.ParseAddr(c.Node.IPv4Address)
		if err != nil {
			return fmt.Errorf("invalid node.ipv4_address: %w", err)
		}
		if !a.Is4() || a.IsUnspecified() || a.IsMulticast() {
			return fmt.Errorf("node.ipv4_address %s is not a unicast IPv4 address", a)
		}
	}
	switch c.Node.Backend {
	case BackendTap:
	case BackendPacket:
		if c.Node.Interface == "" {
			return fmt.Errorf("backend %q requires node.interface", BackendPacket)
		}
	default:
		return fmt.Errorf("unsupported node.backend %q, supported: %s, %s", c.Node.Backend, BackendTap, BackendPacket)
	}
	if c.NDP.DupAddrDetectTransmits < 0 || c.NDP.DupAddrDetectTransmits > 255 {
		return fmt.Errorf("ndp.dup_addr_detect_transmits must be within 0..255, got %d", c.NDP.DupAddrDetectTransmits)
	}
	if c.NDP.MaxRtrSolicitations < 0 {
		return fmt.Errorf("ndp.max_rtr_solicitations must not be negative")
	}
	switch c.Status.Format {
	case FormatEvents, FormatSnapshot:
	default:
		return fmt.Errorf("unsupported status.format %q, supported: %s, %s", c.Status.Format, FormatEvents, FormatSnapshot)
	}
	if _, _, err := c.Engine(); err != nil {
		return err
	}
	return nil
}

// MAC returns the node's hardware address.
// IPv4 returns the node's IPv4 address, or the zero Addr when none is set.
func (c Config) IPv4() netip.Addr {
	a, _ := netip.ParseAddr(c.Node.IPv4Address)
	return a
}

func (c Config) MAC() net.HardwareAddr {
	mac, _ := addr.ParseMAC(c.Node.EtherAddress)
	return mac
}

// Engine converts the configuration into the autoconfiguration settings and
// the manual addresses of the interface.
func (c Config) Engine() (slaac.Config, []slaac.ManualAddress, error) {
	nd := slaac.Config{
		DupAddrDetectTransmits:  uint8(c.NDP.DupAddrDetectTransmits),
		RetransTimer:            time.Duration(c.NDP.RetransTimer),
		MaxRtrSolicitationDelay: time.Duration(c.NDP.MaxRtrSolicitationDelay),
		MaxRtrSolicitations:     c.NDP.MaxRtrSolicitations,
		RtrSolicitationInterval: time.Duration(c.NDP.RtrSolicitationInterval),
		SendRouterSolicitations: c.NDP.SendRouterSolicitations,
		LoopbackMulticast:       c.NDP.LoopbackMulticast,
	}
	switch c.Node.InterfaceID {
	case "", "random":
		nd.IIDMode = slaac.IIDRandom
	case "eui64":
		nd.IIDMode = slaac.IIDEUI64
	default:
		id, err := addr.ParseInterfaceID(c.Node.InterfaceID)
		if err != nil {
			return slaac.Config{}, nil, fmt.Errorf("invalid node.interface_id: %w", err)
		}
		nd.IIDMode = slaac.IIDFixed
		nd.FixedIID = id
	}

	var manual []slaac.ManualAddress
	for i, a := range c.Node.Addresses {
		m, err := a.manual()
		if err != nil {
			return slaac.Config{}, nil, fmt.Errorf("node.address[%d]: %w", i, err)
		}
		manual = append(manual, m)
	}
	return nd, manual, nil
}

func (a AddressConfig) manual() (slaac.ManualAddress, error) {
	var p netip.Prefix
	var err error
	if strings.Contains(a.Address, "/") {
		p, err = netip.ParsePrefix(a.Address)
	} else {
		var ip netip.Addr
		ip, err = netip.ParseAddr(a.Address)
		if err == nil {
			p = netip.PrefixFrom(ip, 128)
		}
	}
	if err != nil {
		return slaac.ManualAddress{}, fmt.Errorf("invalid address %q: %w", a.Address, err)
	}
	if !p.Addr().Is6() || p.Addr().Is4In6() {
		return slaac.ManualAddress{}, fmt.Errorf("%s is not an IPv6 address", a.Address)
	}
	if p.Addr().IsMulticast() || p.Addr().IsUnspecified() {
		return slaac.ManualAddress{}, fmt.Errorf("%s cannot be assigned to an interface", a.Address)
	}
	preferred, err := addr.ParseLifetime(a.PreferredLifetime)
	if err != nil {
		return slaac.ManualAddress{}, err
	}
	valid, err := addr.ParseLifetime(a.ValidLifetime)
	if err != nil {
		return slaac.ManualAddress{}, err
	}
	if preferred > valid {
		return slaac.ManualAddress{}, fmt.Errorf("%s: %w", a.Address, addr.ErrLifetimeInversion)
	}
	return slaac.ManualAddress{
		Address:           p.Addr(),
		PrefixLen:         p.Bits(),
		Anycast:           a.Anycast,
		SkipDAD:           a.SkipDAD,
		PreferredLifetime: preferred,
		ValidLifetime:     valid,
	}, nil
}

// WriteConfig writes config to the given path
func WriteConfig(path string, config Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}
