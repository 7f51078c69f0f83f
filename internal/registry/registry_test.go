package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeParanoid bool

func (f fakeParanoid) IsParanoidMode() bool { return bool(f) }

func newTestRegistry(t *testing.T, paranoid bool) *Registry {
	t.Helper()
	r := New(fakeParanoid(paranoid))
	return r
}

type fakeSettings struct {
	paranoid    bool
	domainLimit int
}

func (f fakeSettings) IsParanoidMode() bool { return f.paranoid }
func (f fakeSettings) DomainLogLimit() int  { return f.domainLimit }

func TestDomainLimitHonorsSettings(t *testing.T) {
	r := New(fakeSettings{domainLimit: 3})
	r.AddOrUpdate("aa:aa:aa:aa:aa:aa", "192.168.1.50", "Vendor A")

	for i := 0; i < 5; i++ {
		r.AddDomain("aa:aa:aa:aa:aa:aa", "domain"+string(rune('a'+i))+".example.com")
	}

	dev := r.LookupByMAC("aa:aa:aa:aa:aa:aa")
	if len(dev.Domains) != 3 {
		t.Errorf("expected domains bounded to configured limit 3, got %d", len(dev.Domains))
	}
}

func TestAddOrUpdateCreatesDevice(t *testing.T) {
	r := newTestRegistry(t, false)
	dev := r.AddOrUpdate("aa:bb:cc:dd:ee:ff", "192.168.1.50", "Acme")

	if dev.MAC != "aa:bb:cc:dd:ee:ff" || dev.IP != "192.168.1.50" || dev.Vendor != "Acme" {
		t.Fatalf("unexpected device: %+v", dev)
	}
	if dev.IsBlocked {
		t.Errorf("expected not blocked without paranoid mode")
	}
}

func TestAddOrUpdateParanoidModeAutoBlocks(t *testing.T) {
	r := newTestRegistry(t, true)
	dev := r.AddOrUpdate("aa:bb:cc:dd:ee:ff", "192.168.1.50", "Acme")
	if !dev.IsBlocked {
		t.Errorf("expected auto-block under paranoid mode")
	}
}

func TestVendorNonRegression(t *testing.T) {
	r := newTestRegistry(t, false)
	r.AddOrUpdate("aa:bb:cc:dd:ee:ff", "192.168.1.50", "Acme Real Vendor")
	dev := r.AddOrUpdate("aa:bb:cc:dd:ee:ff", "192.168.1.50", "Unknown")
	if dev.Vendor != "Acme Real Vendor" {
		t.Errorf("vendor regressed to %q", dev.Vendor)
	}
}

func TestVendorUpgradeFromUnknown(t *testing.T) {
	r := newTestRegistry(t, false)
	r.AddOrUpdate("aa:bb:cc:dd:ee:ff", "192.168.1.50", "")
	dev := r.AddOrUpdate("aa:bb:cc:dd:ee:ff", "192.168.1.50", "Acme Real Vendor")
	if dev.Vendor != "Acme Real Vendor" {
		t.Errorf("expected vendor upgrade, got %q", dev.Vendor)
	}
}

func TestIPConflictArbitrationWithinWindow(t *testing.T) {
	r := newTestRegistry(t, false)
	now := time.Now()
	r.now = func() time.Time { return now }

	r.AddOrUpdate("aa:aa:aa:aa:aa:aa", "192.168.1.50", "Vendor A")

	r.now = func() time.Time { return now.Add(5 * time.Second) }
	other := r.AddOrUpdate("bb:bb:bb:bb:bb:bb", "192.168.1.50", "Vendor B")
	if other.IP == "192.168.1.50" {
		t.Errorf("new device should not steal a recently active IP")
	}

	original := r.LookupByMAC("aa:aa:aa:aa:aa:aa")
	if original.IP != "192.168.1.50" {
		t.Errorf("original owner should keep the IP inside the ownership window")
	}
}

func TestIPConflictArbitrationAfterWindow(t *testing.T) {
	r := newTestRegistry(t, false)
	now := time.Now()
	r.now = func() time.Time { return now }

	r.AddOrUpdate("aa:aa:aa:aa:aa:aa", "192.168.1.50", "Vendor A")

	r.now = func() time.Time { return now.Add(31 * time.Second) }
	other := r.AddOrUpdate("bb:bb:bb:bb:bb:bb", "192.168.1.50", "Vendor B")
	if other.IP != "192.168.1.50" {
		t.Errorf("new device should acquire a stale IP after the ownership window elapses")
	}
}

func TestMarkStaleClearsIP(t *testing.T) {
	r := newTestRegistry(t, false)
	now := time.Now()
	r.now = func() time.Time { return now }
	r.AddOrUpdate("aa:aa:aa:aa:aa:aa", "192.168.1.50", "Vendor A")

	r.now = func() time.Time { return now.Add(2 * time.Minute) }
	r.MarkStale(time.Minute)

	dev := r.LookupByMAC("aa:aa:aa:aa:aa:aa")
	if dev.IP != "" {
		t.Errorf("expected IP cleared after stale threshold, got %q", dev.IP)
	}
}

func TestBoundedServiceAndDomainLists(t *testing.T) {
	r := newTestRegistry(t, false)
	r.AddOrUpdate("aa:aa:aa:aa:aa:aa", "192.168.1.50", "Vendor A")

	for i := 0; i < 15; i++ {
		r.AddService("aa:aa:aa:aa:aa:aa", "svc"+string(rune('a'+i)))
	}
	for i := 0; i < 25; i++ {
		r.AddDomain("aa:aa:aa:aa:aa:aa", "domain"+string(rune('a'+i))+".example.com")
	}

	dev := r.LookupByMAC("aa:aa:aa:aa:aa:aa")
	if len(dev.Services) != 10 {
		t.Errorf("expected services bounded to 10, got %d", len(dev.Services))
	}
	if len(dev.Domains) != 20 {
		t.Errorf("expected domains bounded to 20, got %d", len(dev.Domains))
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	r := newTestRegistry(t, false)
	r.AddOrUpdate("aa:aa:aa:aa:aa:aa", "192.168.1.50", "Vendor A")
	r.AddService("aa:aa:aa:aa:aa:aa", "_airplay._tcp")
	r.AccountTraffic("aa:aa:aa:aa:aa:aa", 100, 200)

	path := filepath.Join(t.TempDir(), "devices.json")
	if err := r.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	r2 := newTestRegistry(t, false)
	if err := r2.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}

	dev := r2.LookupByMAC("aa:aa:aa:aa:aa:aa")
	if dev == nil {
		t.Fatal("device missing after round trip")
	}
	if dev.IP != "192.168.1.50" || dev.TotalUp != 100 || dev.TotalDown != 200 {
		t.Errorf("round trip mismatch: %+v", dev)
	}
	if len(dev.Services) != 1 || dev.Services[0] != "_airplay._tcp" {
		t.Errorf("services not preserved: %+v", dev.Services)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	r := newTestRegistry(t, false)
	if err := r.Load(filepath.Join(t.TempDir(), "missing.json")); err != nil {
		t.Errorf("expected no error for missing file, got %v", err)
	}
}

func TestLoadSkipsMalformedEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")
	content := `{"aa:aa:aa:aa:aa:aa": {"mac": "aa:aa:aa:aa:aa:aa", "ip": "192.168.1.1"}, "bb:bb:bb:bb:bb:bb": "not an object"}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	r := newTestRegistry(t, false)
	if err := r.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.LookupByMAC("aa:aa:aa:aa:aa:aa") == nil {
		t.Error("well-formed entry should still load")
	}
	if r.LookupByMAC("bb:bb:bb:bb:bb:bb") != nil {
		t.Error("malformed entry should be skipped, not loaded")
	}
}
