// Package coordinator detects the network, wires the Registry, Discovery
// Engine, and Monitor together against it, and supervises their lifecycle.
// It is the sole entry point the control surface (HTTP/WebSocket API, not
// implemented here) drives: listing devices, toggling block state or
// schedules, flipping the kill switch, and pushing settings updates.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lattice-sec/linkwatch/internal/discovery"
	"github.com/lattice-sec/linkwatch/internal/logger"
	"github.com/lattice-sec/linkwatch/internal/monitor"
	"github.com/lattice-sec/linkwatch/internal/netconfig"
	"github.com/lattice-sec/linkwatch/internal/registry"
	"github.com/lattice-sec/linkwatch/internal/settings"
	"github.com/lattice-sec/linkwatch/internal/vendorid"
)

const engineStopTimeout = 2 * time.Second

// Engine is the lifecycle contract both the Discovery Engine and Monitor
// satisfy.
type Engine interface {
	Start() error
	Stop() error
	Name() string
}

// Stats is the global snapshot the control surface's "read global stats"
// operation returns.
type Stats struct {
	DeviceCount  int
	TotalUp      int64
	TotalDown    int64
	BlockedCount int
	KillSwitch   bool
}

// Coordinator owns network detection and the lifecycle of every engine
// sharing one Registry.
type Coordinator struct {
	settingsPath string
	ouiPath      string
	registryPath string

	settings *settings.Provider
	netConf  *netconfig.AutoConfig
	oracle   *vendorid.Oracle
	reg      *registry.Registry
	disc     *discovery.Engine
	mon      *monitor.Monitor

	log *logger.Logger
}

// Config names the on-disk paths the coordinator loads at Start.
type Config struct {
	SettingsPath string
	OUIPath      string
	RegistryPath string
}

// New builds an unstarted Coordinator. Network detection, registry loading,
// and engine construction all happen in Start, not here, mirroring the
// teacher orchestrator's blocking-until-ready initialization step.
func New(cfg Config) *Coordinator {
	return &Coordinator{
		settingsPath: cfg.SettingsPath,
		ouiPath:      cfg.OUIPath,
		registryPath: cfg.RegistryPath,
		log:          logger.NewComponentLogger("coordinator"),
	}
}

// Start resolves the network, loads settings/OUI table/registry, wires the
// Discovery Engine and Monitor against one Registry, and starts both.
func (c *Coordinator) Start() error {
	c.log.Info("=== linkwatch starting ===")

	c.settings = settings.New(c.settingsPath)

	oracle, err := vendorid.LoadFile(c.ouiPath)
	if err != nil {
		c.log.Warn("failed to load OUI table from %s: %v (vendor lookups will be empty)", c.ouiPath, err)
		oracle = vendorid.NewOracle()
	}
	c.oracle = oracle

	c.reg = registry.New(c.settings)
	if err := c.reg.Load(c.registryPath); err != nil {
		c.log.Warn("failed to load registry from %s: %v (starting empty)", c.registryPath, err)
	}

	c.netConf = netconfig.NewAutoConfig()
	netCfg := c.netConf.Detect(c.settings)
	c.log.Info("network detected: interface=%s ip=%s gateway=%s cidr=%s",
		netCfg.Interface, netCfg.LocalIP, netCfg.Gateway, netCfg.CIDR)

	c.disc = discovery.New(c.netConf, c.reg, c.oracle, c.settings, c.discoveryStatus)
	c.mon = monitor.New(c.netConf, c.reg, c.monitorStatus)

	if err := c.disc.Start(); err != nil {
		return fmt.Errorf("start discovery engine: %w", err)
	}
	if err := c.mon.Start(); err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}

	c.applyExistingBlockState()

	c.log.Info("=== linkwatch running ===")
	return nil
}

// applyExistingBlockState seeds the Monitor's target set from devices that
// were already blocked or scheduled when the registry was loaded, so a
// restart doesn't silently drop enforcement.
func (c *Coordinator) applyExistingBlockState() {
	for _, dev := range c.reg.AllDevices() {
		if dev.IsBlocked || (dev.ScheduleStart != "" && dev.ScheduleEnd != "") {
			if dev.IP != "" {
				c.mon.AddTarget(dev.IP)
			}
		}
	}
}

// Stop asks every engine to quit, joining each with a 2s timeout via
// errgroup so one wedged engine never blocks the others or hangs the
// process — generalizes the teacher's raw WaitGroup+timeout join to a
// variable-size engine set.
func (c *Coordinator) Stop() error {
	c.log.Info("=== linkwatch stopping ===")

	engines := []Engine{}
	if c.disc != nil {
		engines = append(engines, c.disc)
	}
	if c.mon != nil {
		engines = append(engines, c.mon)
	}

	g, _ := errgroup.WithContext(context.Background())
	for _, e := range engines {
		e := e
		g.Go(func() error {
			done := make(chan error, 1)
			go func() { done <- e.Stop() }()
			select {
			case err := <-done:
				return err
			case <-time.After(engineStopTimeout):
				c.log.Warn("engine %s did not stop within %s, abandoning", e.Name(), engineStopTimeout)
				return nil
			}
		})
	}
	if err := g.Wait(); err != nil {
		c.log.Warn("error stopping engines: %v", err)
	}

	if c.reg != nil {
		if err := c.reg.Save(c.registryPath); err != nil {
			c.log.Warn("failed to save registry to %s: %v", c.registryPath, err)
		}
	}

	c.log.Info("=== linkwatch stopped ===")
	return nil
}

// UpdateSettings persists new settings and hands the interface override to
// the control surface caller's discretion on when to trigger a re-detect;
// network re-detection is not automatic since changing interfaces mid-run
// would orphan in-flight spoof state.
func (c *Coordinator) UpdateSettings(updated settings.Settings) {
	c.settings.Update(updated)
}

// Devices returns every known device for the control surface's "list
// devices" operation.
func (c *Coordinator) Devices() []*registry.Device {
	return c.reg.AllDevices()
}

// SetBlocked toggles a device's manual block flag, adding or removing it
// from the Monitor's target set accordingly. Unblocking triggers the
// Monitor's detached restoration burst; this call itself returns
// immediately.
func (c *Coordinator) SetBlocked(mac string, blocked bool) error {
	dev := c.reg.LookupByMAC(mac)
	if dev == nil {
		return fmt.Errorf("unknown device %s", mac)
	}
	c.reg.SetBlocked(mac, blocked)

	if dev.IP == "" {
		return nil
	}
	if blocked {
		c.mon.AddTarget(dev.IP)
	} else if !c.hasActiveSchedule(dev) {
		c.mon.RemoveTarget(dev.IP)
	}
	return nil
}

// SetSchedule sets or clears a device's block schedule window, adding or
// removing it from the Monitor's target set to match.
func (c *Coordinator) SetSchedule(mac, start, end string) error {
	dev := c.reg.LookupByMAC(mac)
	if dev == nil {
		return fmt.Errorf("unknown device %s", mac)
	}
	c.reg.SetSchedule(mac, start, end)

	if dev.IP == "" {
		return nil
	}
	if start != "" && end != "" {
		c.mon.AddTarget(dev.IP)
	} else if !dev.IsBlocked {
		c.mon.RemoveTarget(dev.IP)
	}
	return nil
}

func (c *Coordinator) hasActiveSchedule(dev *registry.Device) bool {
	return dev.ScheduleStart != "" && dev.ScheduleEnd != ""
}

// SetKillSwitch flips global blocking for every target.
func (c *Coordinator) SetKillSwitch(on bool) {
	c.mon.SetKillSwitch(on)
}

// Stats reports aggregate counters for the control surface's "read global
// stats" operation.
func (c *Coordinator) Stats() Stats {
	devices := c.reg.AllDevices()
	stats := Stats{DeviceCount: len(devices)}
	for _, dev := range devices {
		stats.TotalUp += dev.TotalUp
		stats.TotalDown += dev.TotalDown
		if dev.IsBlocked {
			stats.BlockedCount++
		}
	}
	return stats
}

func (c *Coordinator) discoveryStatus(u discovery.StatusUpdate) {
	c.log.Info("[discovery:%s] %s", u.Level, u.Message)
}

func (c *Coordinator) monitorStatus(u monitor.StatusUpdate) {
	c.log.Info("[monitor:%s] %s", u.Level, u.Message)
}
