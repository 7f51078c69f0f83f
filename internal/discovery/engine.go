// Package discovery finds hosts on the LAN and enriches their registry
// records with vendor, hostname, and service information. It runs three
// families of concurrent subtasks: a passive ARP listener plus active ARP
// sweeper, a passive mDNS/SSDP multicast listener plus supplemental active
// mDNS queries, and a reverse-DNS hostname enrichment loop.
package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lattice-sec/linkwatch/internal/classifier"
	"github.com/lattice-sec/linkwatch/internal/discovery/hostname"
	"github.com/lattice-sec/linkwatch/internal/logger"
	"github.com/lattice-sec/linkwatch/internal/netconfig"
	"github.com/lattice-sec/linkwatch/internal/registry"
	"github.com/lattice-sec/linkwatch/internal/vendorid"
)

// StatusLevel indicates the severity of a discovery status update.
type StatusLevel string

const (
	StatusLevelInfo    StatusLevel = "info"
	StatusLevelWarning StatusLevel = "warning"
	StatusLevelError   StatusLevel = "error"
)

// StatusUpdate reports discovery health or progress to the coordinator.
type StatusUpdate struct {
	Level     StatusLevel
	Component string
	Message   string
	Time      time.Time
}

// StatusSink receives discovery status updates.
type StatusSink func(StatusUpdate)

// ScanIntervalSource supplies the active-sweep cadence; satisfied by
// *settings.Provider.
type ScanIntervalSource interface {
	ScanInterval() time.Duration
}

// NetworkConfigProvider supplies the resolved interface/subnet to scan.
type NetworkConfigProvider interface {
	GetConfig() *netconfig.NetworkConfig
}

// Engine runs every discovery subtask against one registry.
type Engine struct {
	netConfig NetworkConfigProvider
	reg       *registry.Registry
	oracle    *vendorid.Oracle
	settings  ScanIntervalSource
	hostRes   *hostname.Resolver
	log       *logger.Logger
	status    StatusSink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a discovery Engine. oracle or settings may be nil; oracle=nil
// means every device classifies as "Unknown" vendor, settings=nil means a
// 30s default active-sweep interval.
func New(netConfig NetworkConfigProvider, reg *registry.Registry, oracle *vendorid.Oracle, settings ScanIntervalSource, status StatusSink) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		netConfig: netConfig,
		reg:       reg,
		oracle:    oracle,
		settings:  settings,
		hostRes:   hostname.NewResolver(2 * time.Second),
		log:       logger.NewComponentLogger("discovery"),
		status:    status,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Name identifies this component for coordinator logging.
func (e *Engine) Name() string { return "DiscoveryEngine" }

// Start launches every discovery subtask as its own goroutine.
func (e *Engine) Start() error {
	e.log.Info("starting discovery engine")

	e.wg.Add(1)
	go e.passiveARPLoop()

	e.wg.Add(1)
	go e.activeARPSweepLoop()

	e.wg.Add(1)
	go e.passiveMDNSLoop()

	e.wg.Add(1)
	go e.passiveSSDPLoop()

	e.wg.Add(1)
	go e.activeMDNSEnrichmentLoop()

	e.wg.Add(1)
	go e.hostnameEnrichmentLoop()

	return nil
}

// Stop cancels every subtask and waits for them to exit.
func (e *Engine) Stop() error {
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.log.Info("discovery engine stopped")
	case <-time.After(5 * time.Second):
		e.log.Warn("discovery engine shutdown timed out, forcing stop")
	}
	return nil
}

func (e *Engine) reportStatus(level StatusLevel, format string, args ...interface{}) {
	if e.status == nil {
		return
	}
	e.status(StatusUpdate{
		Level:     level,
		Component: "discovery",
		Message:   fmt.Sprintf(format, args...),
		Time:      time.Now(),
	})
}

// ingest is the single entry point every subtask uses to record a sighting:
// look up the vendor if unknown, add-or-update the registry, and classify
// newly-created devices immediately so the first observer sees a category.
func (e *Engine) ingest(mac, ip string) *registry.Device {
	vendor := ""
	if e.oracle != nil {
		vendor = e.oracle.Lookup(mac)
	}

	existed := e.reg.LookupByMAC(mac) != nil
	dev := e.reg.AddOrUpdate(mac, ip, vendor)
	if !existed {
		cat, confidence := classifier.Classify(dev)
		e.reg.SetClassification(mac, cat, confidence)
	}
	return dev
}
