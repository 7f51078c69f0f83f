// Package monitor implements the appliance's MITM interception engine: it
// ARP-spoofs targeted devices onto the host for traffic accounting, blocks
// specific devices or schedule windows with poisoned ARP/NDP, and sniffs
// the resulting traffic for bandwidth totals and TLS SNI / DNS metadata.
package monitor

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket/pcap"

	"github.com/lattice-sec/linkwatch/internal/logger"
	"github.com/lattice-sec/linkwatch/internal/netconfig"
	"github.com/lattice-sec/linkwatch/internal/registry"
)

const (
	spoofTick          = 500 * time.Millisecond
	normalSpoofPeriod  = 2 * time.Second
	macActivityWindow  = 10 * time.Minute
	arpResolveTimeout  = 1 * time.Second
	restoreRounds      = 10
	restoreRoundPeriod = 100 * time.Millisecond

	bogusMACBlock      = "00:00:00:00:00:01"
	bogusMACIPConflict = "00:00:00:00:00:02"
)

// StatusLevel indicates the severity of a monitor status update.
type StatusLevel string

const (
	StatusLevelInfo    StatusLevel = "info"
	StatusLevelWarning StatusLevel = "warning"
	StatusLevelError   StatusLevel = "error"
)

// StatusUpdate reports monitor health or progress to the coordinator.
type StatusUpdate struct {
	Level     StatusLevel
	Component string
	Message   string
	Time      time.Time
}

// StatusSink receives monitor status updates.
type StatusSink func(StatusUpdate)

// NetworkConfigProvider supplies the resolved interface/gateway/host IP the
// monitor spoofs against.
type NetworkConfigProvider interface {
	GetConfig() *netconfig.NetworkConfig
}

// Monitor runs the spoofing cadence loop, the unblock-restoration task, and
// the sniffer/accounting loop against one registry.
type Monitor struct {
	netConfig NetworkConfigProvider
	reg       *registry.Registry
	log       *logger.Logger
	status    StatusSink

	targetsMu sync.Mutex
	targets   map[string]struct{}

	killSwitchMu sync.Mutex
	killSwitch   bool

	lastNormalMu sync.Mutex
	lastNormal   map[string]time.Time

	writeMu     sync.Mutex
	writeHandle *pcap.Handle

	restoreWG sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Monitor. status may be nil to discard progress updates.
func New(netConfig NetworkConfigProvider, reg *registry.Registry, status StatusSink) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		netConfig:  netConfig,
		reg:        reg,
		log:        logger.NewComponentLogger("monitor"),
		status:     status,
		targets:    make(map[string]struct{}),
		lastNormal: make(map[string]time.Time),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Name identifies this component for coordinator logging.
func (m *Monitor) Name() string { return "Monitor" }

// Start opens the packet handles and launches the spoofing and sniffing
// loops. IP forwarding is enabled first since blocking relies on the host
// still forwarding traffic for devices that are not currently blocked.
func (m *Monitor) Start() error {
	if err := enableIPForwarding(); err != nil {
		m.log.Warn("failed to enable IP forwarding: %v (blocking/interception may not work)", err)
	}

	cfg := m.netConfig.GetConfig()
	if cfg == nil {
		return fmt.Errorf("network configuration not available")
	}

	handle, err := pcap.OpenLive(cfg.Interface, 65536, true, pcap.BlockForever)
	if err != nil {
		return fmt.Errorf("open write handle on %s: %w", cfg.Interface, err)
	}
	m.writeHandle = handle

	m.wg.Add(1)
	go m.spoofLoop()

	m.wg.Add(1)
	go m.sniffLoop()

	m.log.Info("monitor started on interface %s", cfg.Interface)
	return nil
}

// Stop cancels every loop, waits (bounded) for them to exit, and closes the
// write handle. It does not wait for in-flight restoration bursts, which
// are intentionally detached background tasks (see RemoveTarget).
func (m *Monitor) Stop() error {
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info("monitor stopped")
	case <-time.After(5 * time.Second):
		m.log.Warn("monitor shutdown timed out, forcing stop")
	}

	m.writeMu.Lock()
	if m.writeHandle != nil {
		m.writeHandle.Close()
	}
	m.writeMu.Unlock()

	if err := disableIPForwarding(); err != nil {
		m.log.Warn("failed to disable IP forwarding: %v", err)
	}
	return nil
}

// SetKillSwitch turns global blocking on or off for every target.
func (m *Monitor) SetKillSwitch(on bool) {
	m.killSwitchMu.Lock()
	m.killSwitch = on
	m.killSwitchMu.Unlock()
}

func (m *Monitor) killSwitchOn() bool {
	m.killSwitchMu.Lock()
	defer m.killSwitchMu.Unlock()
	return m.killSwitch
}

// AddTarget starts actively intercepting targetIP. The host's own IP and
// the gateway IP are never added.
func (m *Monitor) AddTarget(targetIP string) {
	cfg := m.netConfig.GetConfig()
	if cfg != nil {
		if cfg.LocalIP != nil && cfg.LocalIP.String() == targetIP {
			return
		}
		if cfg.Gateway != nil && cfg.Gateway.String() == targetIP {
			return
		}
	}

	m.targetsMu.Lock()
	m.targets[targetIP] = struct{}{}
	m.targetsMu.Unlock()
}

// RemoveTarget stops intercepting targetIP and fires a detached restoration
// burst so connectivity recovers promptly without blocking the caller.
func (m *Monitor) RemoveTarget(targetIP string) {
	m.targetsMu.Lock()
	delete(m.targets, targetIP)
	m.targetsMu.Unlock()

	m.restoreWG.Add(1)
	go func() {
		defer m.restoreWG.Done()
		m.restore(targetIP)
	}()
}

func (m *Monitor) snapshotTargets() []string {
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	out := make([]string, 0, len(m.targets))
	for ip := range m.targets {
		out = append(out, ip)
	}
	return out
}

// shouldBlock implements the §4.5.1 blocking predicate: global kill switch,
// per-device block flag, or a schedule window (with overnight wrap when
// start >= end).
func (m *Monitor) shouldBlock(dev *registry.Device) bool {
	if dev == nil {
		return false
	}
	if m.killSwitchOn() {
		return true
	}
	if dev.IsBlocked {
		return true
	}
	if dev.ScheduleStart == "" || dev.ScheduleEnd == "" {
		return false
	}

	now := nowClock()
	start, end := dev.ScheduleStart, dev.ScheduleEnd
	if start < end {
		return now >= start && now < end
	}
	return now >= start || now < end
}

// nowClock returns the local HH:MM clock used for schedule comparisons.
var nowClock = func() string {
	return time.Now().Format("15:04")
}

// resolveMAC returns a MAC address for ip, preferring a recent registry
// sighting and falling back to a synchronous ARP who-has for ip alone.
func (m *Monitor) resolveMAC(ip string) (string, bool) {
	if macs := m.reg.MACsForIP(ip, macActivityWindow); len(macs) > 0 {
		return macs[0], true
	}

	cfg := m.netConfig.GetConfig()
	if cfg == nil {
		return "", false
	}
	mac, err := arpWhoHas(cfg.Interface, cfg.LocalIP, net.ParseIP(ip), arpResolveTimeout)
	if err != nil || mac == nil {
		return "", false
	}
	macStr := mac.String()
	m.reg.AddOrUpdate(macStr, ip, "")
	return macStr, true
}

func (m *Monitor) reportStatus(level StatusLevel, format string, args ...interface{}) {
	if m.status == nil {
		return
	}
	m.status(StatusUpdate{
		Level:     level,
		Component: "monitor",
		Message:   fmt.Sprintf(format, args...),
		Time:      time.Now(),
	})
}

func (m *Monitor) writePacket(data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if m.writeHandle == nil {
		return fmt.Errorf("write handle not open")
	}
	return m.writeHandle.WritePacketData(data)
}
