package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"fakenet/internal/addr"
	"fakenet/internal/slaac"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
[node]
ether_address = "02:00:00:00:00:01"
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("defaults mismatch (-want +got):\n%s", diff)
	}
	nd, manual, err := cfg.Engine()
	if err != nil {
		t.Fatalf("Engine: %v", err)
	}
	want := slaac.DefaultConfig()
	if diff := cmp.Diff(want, nd); diff != "" {
		t.Fatalf("engine config mismatch (-want +got):\n%s", diff)
	}
	if len(manual) != 0 {
		t.Fatalf("manual addresses = %v", manual)
	}
	if cfg.IPv4().IsValid() {
		t.Fatalf("ipv4 = %s without ipv4_address", cfg.IPv4())
	}
}

func TestParseFull(t *testing.T) {
	cfg, err := Parse([]byte(`
[node]
ether_address = "02:00:00:00:00:01"
ipv4_address = "10.0.0.1"
backend = "packet"
interface = "eth0"
interface_id = "::a:b:c:d"

[[node.address]]
address = "2001:db8::10/64"
preferred_lifetime = "30m"
valid_lifetime = "1h"

[[node.address]]
address = "2001:db8::"
anycast = true

[ndp]
dup_addr_detect_transmits = 0
retrans_timer = "250ms"
send_router_solicitations = false

[status]
format = "snapshot"
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Node.Backend != BackendPacket || cfg.Status.Format != FormatSnapshot {
		t.Fatalf("node = %+v, status = %+v", cfg.Node, cfg.Status)
	}
	if cfg.IPv4() != netip.MustParseAddr("10.0.0.1") {
		t.Fatalf("ipv4 = %s", cfg.IPv4())
	}
	nd, manual, err := cfg.Engine()
	if err != nil {
		t.Fatalf("Engine: %v", err)
	}
	if nd.DupAddrDetectTransmits != 0 || nd.RetransTimer != 250*time.Millisecond || nd.SendRouterSolicitations {
		t.Fatalf("ndp = %+v", nd)
	}
	if nd.MaxRtrSolicitations != 3 {
		t.Fatalf("unset max_rtr_solicitations = %d", nd.MaxRtrSolicitations)
	}
	if nd.IIDMode != slaac.IIDFixed || nd.FixedIID != (addr.InterfaceID{0, 0xa, 0, 0xb, 0, 0xc, 0, 0xd}) {
		t.Fatalf("interface id = %v %s", nd.IIDMode, nd.FixedIID)
	}
	want := []slaac.ManualAddress{
		{
			Address:           netip.MustParseAddr("2001:db8::10"),
			PrefixLen:         64,
			PreferredLifetime: addr.Lifetime(30 * time.Minute),
			ValidLifetime:     addr.Lifetime(time.Hour),
		},
		{
			Address:           netip.MustParseAddr("2001:db8::"),
			PrefixLen:         128,
			Anycast:           true,
			PreferredLifetime: addr.Infinite,
			ValidLifetime:     addr.Infinite,
		},
	}
	if diff := cmp.Diff(want, manual, cmp.Comparer(func(a, b netip.Addr) bool { return a == b })); diff != "" {
		t.Fatalf("manual addresses (-want +got):\n%s", diff)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{name: "missing mac", doc: "[node]\n", want: "ether_address"},
		{name: "multicast mac", doc: "[node]\nether_address = \"01:00:5e:00:00:01\"\n", want: "multicast"},
		{name: "bad backend", doc: "[node]\nether_address = \"02:00:00:00:00:01\"\nbackend = \"pcap\"\n", want: "backend"},
		{name: "packet without interface", doc: "[node]\nether_address = \"02:00:00:00:00:01\"\nbackend = \"packet\"\n", want: "interface"},
		{name: "transmits", doc: "[node]\nether_address = \"02:00:00:00:00:01\"\n[ndp]\ndup_addr_detect_transmits = 256\n", want: "0..255"},
		{name: "interface id", doc: "[node]\nether_address = \"02:00:00:00:00:01\"\ninterface_id = \"2001:db8::1\"\n", want: "interface_id"},
		{name: "status format", doc: "[node]\nether_address = \"02:00:00:00:00:01\"\n[status]\nformat = \"xml\"\n", want: "status.format"},
		{
			name: "lifetime inversion",
			doc:  "[node]\nether_address = \"02:00:00:00:00:01\"\n[[node.address]]\naddress = \"2001:db8::1/64\"\nvalid_lifetime = \"1h\"\n",
			want: "preferred lifetime exceeds",
		},
		{
			name: "ipv4 manual address",
			doc:  "[node]\nether_address = \"02:00:00:00:00:01\"\n[[node.address]]\naddress = \"10.0.0.1/24\"\n",
			want: "not an IPv6",
		},
		{name: "ipv6 as ipv4", doc: "[node]\nether_address = \"02:00:00:00:00:01\"\nipv4_address = \"2001:db8::1\"\n", want: "ipv4_address"},
		{name: "bad ipv4", doc: "[node]\nether_address = \"02:00:00:00:00:01\"\nipv4_address = \"10.0.0\"\n", want: "ipv4_address"},
		{name: "bad duration", doc: "[node]\nether_address = \"02:00:00:00:00:01\"\n[ndp]\nretrans_timer = \"soon\"\n", want: "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatalf("Parse accepted %q", tt.doc)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestWriteReadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fakenet.toml")
	cfg := Default()
	cfg.Node.Addresses = []AddressConfig{{Address: "2001:db8::10/64", ValidLifetime: "2h", PreferredLifetime: "1h"}}
	if err := WriteConfig(path, cfg); err != nil {
		t.Fatalf("WriteConfig: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), `retrans_timer = "1s"`) {
		t.Fatalf("written config:\n%s", data)
	}
	got, file, err := ReadConfig(path)
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	if file != path {
		t.Fatalf("config file = %s, want %s", file, path)
	}
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}
