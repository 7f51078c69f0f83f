package monitor

import (
	"testing"
	"time"

	"github.com/lattice-sec/linkwatch/internal/registry"
)

func TestShouldBlockKillSwitch(t *testing.T) {
	m := New(nil, registry.New(nil), nil)
	dev := &registry.Device{MAC: "aa:bb:cc:dd:ee:ff"}

	if m.shouldBlock(dev) {
		t.Fatalf("expected not blocked before kill switch is on")
	}
	m.SetKillSwitch(true)
	if !m.shouldBlock(dev) {
		t.Fatalf("expected blocked once kill switch is on")
	}
}

func TestShouldBlockManualFlag(t *testing.T) {
	m := New(nil, registry.New(nil), nil)
	dev := &registry.Device{MAC: "aa:bb:cc:dd:ee:ff", IsBlocked: true}

	if !m.shouldBlock(dev) {
		t.Fatalf("expected blocked when IsBlocked is set")
	}
}

func TestShouldBlockScheduleWindowSimple(t *testing.T) {
	m := New(nil, registry.New(nil), nil)
	dev := &registry.Device{ScheduleStart: "14:00", ScheduleEnd: "16:00"}

	restore := nowClock
	defer func() { nowClock = restore }()

	nowClock = func() string { return "15:00" }
	if !m.shouldBlock(dev) {
		t.Errorf("expected blocked at 15:00 within 14:00-16:00")
	}

	nowClock = func() string { return "17:00" }
	if m.shouldBlock(dev) {
		t.Errorf("expected not blocked at 17:00 outside 14:00-16:00")
	}

	nowClock = func() string { return "14:00" }
	if !m.shouldBlock(dev) {
		t.Errorf("expected blocked at the inclusive start boundary 14:00")
	}

	nowClock = func() string { return "16:00" }
	if m.shouldBlock(dev) {
		t.Errorf("expected not blocked at the exclusive end boundary 16:00")
	}
}

func TestShouldBlockScheduleOvernightWrap(t *testing.T) {
	m := New(nil, registry.New(nil), nil)
	dev := &registry.Device{ScheduleStart: "22:00", ScheduleEnd: "06:00"}

	restore := nowClock
	defer func() { nowClock = restore }()

	nowClock = func() string { return "23:30" }
	if !m.shouldBlock(dev) {
		t.Errorf("expected blocked at 23:30 within overnight 22:00-06:00")
	}

	nowClock = func() string { return "02:00" }
	if !m.shouldBlock(dev) {
		t.Errorf("expected blocked at 02:00 within overnight 22:00-06:00")
	}

	nowClock = func() string { return "12:00" }
	if m.shouldBlock(dev) {
		t.Errorf("expected not blocked at noon, outside overnight 22:00-06:00")
	}
}

func TestShouldBlockNilDevice(t *testing.T) {
	m := New(nil, registry.New(nil), nil)
	if m.shouldBlock(nil) {
		t.Errorf("expected a nil device never to be blocked")
	}
}

func TestDueForNormalSpoofRateLimitsToOnceEvery2s(t *testing.T) {
	m := New(nil, registry.New(nil), nil)
	const mac = "aa:bb:cc:dd:ee:ff"

	if !m.dueForNormalSpoof(mac) {
		t.Fatalf("expected first call to be due")
	}
	if m.dueForNormalSpoof(mac) {
		t.Fatalf("expected immediate second call to be rate-limited")
	}

	m.lastNormalMu.Lock()
	m.lastNormal[mac] = time.Now().Add(-3 * time.Second)
	m.lastNormalMu.Unlock()

	if !m.dueForNormalSpoof(mac) {
		t.Fatalf("expected call to be due again after 2s window elapses")
	}
}

func TestAddTargetExcludesHostAndGateway(t *testing.T) {
	cfg := &fakeNetConfig{gateway: "192.168.1.1", localIP: "192.168.1.50"}
	m := New(cfg, registry.New(nil), nil)

	m.AddTarget("192.168.1.1")
	m.AddTarget("192.168.1.50")
	m.AddTarget("192.168.1.77")

	targets := m.snapshotTargets()
	if len(targets) != 1 || targets[0] != "192.168.1.77" {
		t.Errorf("expected only 192.168.1.77 as a target, got %v", targets)
	}
}
