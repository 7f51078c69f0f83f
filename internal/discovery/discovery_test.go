package discovery

import (
	"errors"
	"net"
	"testing"

	"github.com/lattice-sec/linkwatch/internal/registry"
)

func newTestEngine() *Engine {
	return &Engine{reg: registry.New(nil)}
}

func TestIngestClassifiesNewDevice(t *testing.T) {
	e := newTestEngine()
	dev := e.ingest("b8:27:eb:00:11:22", "192.168.1.50")

	if dev.MAC != "b8:27:eb:00:11:22" {
		t.Fatalf("unexpected MAC: %s", dev.MAC)
	}
	if dev.Category == "" {
		t.Errorf("expected a classification on first sighting")
	}
}

func TestIngestDoesNotReclassifyExistingDevice(t *testing.T) {
	e := newTestEngine()
	e.reg.AddOrUpdate("aa:bb:cc:dd:ee:ff", "192.168.1.50", "Acme")
	e.reg.SetClassification("aa:bb:cc:dd:ee:ff", registry.CategoryIoT, 90)

	e.ingest("aa:bb:cc:dd:ee:ff", "192.168.1.51")

	dev := e.reg.LookupByMAC("aa:bb:cc:dd:ee:ff")
	if dev.Confidence != 90 {
		t.Errorf("expected existing classification preserved, got confidence %d", dev.Confidence)
	}
}

func TestEnrichByIPSetsHostnameAndService(t *testing.T) {
	e := newTestEngine()
	e.reg.AddOrUpdate("aa:bb:cc:dd:ee:ff", "192.168.1.50", "Acme")

	e.enrichByIP("192.168.1.50", "kitchen-tv.local", "mDNS")

	dev := e.reg.LookupByMAC("aa:bb:cc:dd:ee:ff")
	if dev.Hostname != "kitchen-tv.local" {
		t.Errorf("expected hostname set, got %q", dev.Hostname)
	}
	if len(dev.Services) != 1 || dev.Services[0] != "mDNS" {
		t.Errorf("expected mDNS service recorded, got %v", dev.Services)
	}
}

func TestEnrichByIPUnknownDeviceIsNoop(t *testing.T) {
	e := newTestEngine()
	e.enrichByIP("10.0.0.99", "ghost.local", "mDNS")
}

func TestSubnetIPsExcludesNetworkAndBroadcast(t *testing.T) {
	_, subnet, err := net.ParseCIDR("192.168.1.0/30")
	if err != nil {
		t.Fatalf("ParseCIDR: %v", err)
	}
	ips := subnetIPs(subnet)

	want := []string{"192.168.1.1", "192.168.1.2"}
	if len(ips) != len(want) {
		t.Fatalf("expected %d host addresses, got %d: %v", len(want), len(ips), ips)
	}
	for i, ip := range ips {
		if ip.String() != want[i] {
			t.Errorf("ip[%d] = %s, want %s", i, ip, want[i])
		}
	}
}

func TestIncrementIPCarries(t *testing.T) {
	ip := net.ParseIP("192.168.1.255").To4()
	next := incrementIP(ip)
	if next.String() != "192.168.2.0" {
		t.Errorf("expected carry to 192.168.2.0, got %s", next)
	}
}

func TestIsPermissionError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("you don't have permission to capture on that device"), true},
		{errors.New("operation not permitted"), true},
		{errors.New("no such device"), false},
	}
	for _, c := range cases {
		if got := isPermissionError(c.err); got != c.want {
			t.Errorf("isPermissionError(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestParseSSDPServer(t *testing.T) {
	content := "NOTIFY * HTTP/1.1\r\nHOST: 239.255.255.250:1900\r\nSERVER: Linux/3.10 UPnP/1.0 MyDevice/1.0\r\n\r\n"
	if got := parseSSDPServer(content); got != "Linux/3.10 UPnP/1.0 MyDevice/1.0" {
		t.Errorf("unexpected SERVER value: %q", got)
	}
}

func TestParseSSDPServerAbsent(t *testing.T) {
	if got := parseSSDPServer("NOTIFY * HTTP/1.1\r\nHOST: 239.255.255.250:1900\r\n"); got != "" {
		t.Errorf("expected empty string when SERVER header absent, got %q", got)
	}
}

func TestCleanMDNSName(t *testing.T) {
	cases := map[string]string{
		"kitchen-tv._googlecast._tcp.local.": "kitchen-tv",
		"printer._ipp._tcp.local":            "printer",
		"plain.local.":                       "plain",
	}
	for in, want := range cases {
		if got := cleanMDNSName(in); got != want {
			t.Errorf("cleanMDNSName(%q) = %q, want %q", in, got, want)
		}
	}
}
