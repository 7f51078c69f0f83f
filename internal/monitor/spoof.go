package monitor

import (
	"net"
	"time"

	"github.com/lattice-sec/linkwatch/internal/registry"
)

// spoofLoop is the 500ms cadence loop described in §4.5.2: resolve a MAC for
// each active target, then either poison it every tick (if blocked) or at
// most every 2s (if not).
func (m *Monitor) spoofLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(spoofTick)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.spoofTick()
		}
	}
}

func (m *Monitor) spoofTick() {
	cfg := m.netConfig.GetConfig()
	if cfg == nil || cfg.Gateway == nil {
		return
	}
	iface, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		m.log.Warn("interface lookup failed: %v", err)
		return
	}
	hostMAC := iface.HardwareAddr
	gatewayIP := cfg.Gateway

	gatewayMACStr, ok := m.resolveMAC(gatewayIP.String())
	if !ok {
		return
	}
	gatewayMAC, err := net.ParseMAC(gatewayMACStr)
	if err != nil {
		return
	}

	for _, targetIP := range m.snapshotTargets() {
		macStr, ok := m.resolveMAC(targetIP)
		if !ok {
			continue
		}
		targetMAC, err := net.ParseMAC(macStr)
		if err != nil {
			continue
		}

		dev := m.reg.LookupByMAC(macStr)
		ip := net.ParseIP(targetIP)

		if m.shouldBlock(dev) {
			m.sendBlockBurst(hostMAC, ip, targetMAC, gatewayIP, gatewayMAC, dev)
			continue
		}

		if m.dueForNormalSpoof(macStr) {
			m.sendNormalIntercept(hostMAC, ip, targetMAC, gatewayIP, gatewayMAC)
		}
	}
}

func (m *Monitor) dueForNormalSpoof(mac string) bool {
	m.lastNormalMu.Lock()
	defer m.lastNormalMu.Unlock()
	last, ok := m.lastNormal[mac]
	if ok && time.Since(last) < normalSpoofPeriod {
		return false
	}
	m.lastNormal[mac] = time.Now()
	return true
}

// sendNormalIntercept emits the two spoofed ARP replies that route the
// target<->gateway conversation through the host for accounting, relying on
// the host's own IP forwarding to keep the link working.
func (m *Monitor) sendNormalIntercept(hostMAC net.HardwareAddr, targetIP net.IP, targetMAC net.HardwareAddr, gatewayIP net.IP, gatewayMAC net.HardwareAddr) {
	toTarget, err := buildARPReply(hostMAC, targetMAC, gatewayIP, targetIP, hostMAC, targetMAC)
	if err == nil {
		m.writePacket(toTarget)
	}
	toGateway, err := buildARPReply(hostMAC, gatewayMAC, targetIP, gatewayIP, hostMAC, gatewayMAC)
	if err == nil {
		m.writePacket(toGateway)
	}
}

// sendBlockBurst emits the four §4.5.2 block packets for one tick.
func (m *Monitor) sendBlockBurst(hostMAC net.HardwareAddr, targetIP net.IP, targetMAC net.HardwareAddr, gatewayIP net.IP, gatewayMAC net.HardwareAddr, dev *registry.Device) {
	bogus1, _ := net.ParseMAC(bogusMACBlock)
	bogus2, _ := net.ParseMAC(bogusMACIPConflict)

	if p, err := buildARPReply(hostMAC, targetMAC, gatewayIP, targetIP, bogus1, targetMAC); err == nil {
		m.writePacket(p)
	}
	if p, err := buildARPReply(hostMAC, gatewayMAC, targetIP, gatewayIP, bogus1, gatewayMAC); err == nil {
		m.writePacket(p)
	}
	if p, err := buildARPReply(hostMAC, broadcastMAC, targetIP, targetIP, bogus2, broadcastMAC); err == nil {
		m.writePacket(p)
	}

	if dev != nil && dev.IPv6 != "" {
		if v6 := net.ParseIP(dev.IPv6); v6 != nil {
			m.sendBlockNA(hostMAC, targetMAC, v6, v6)
		}
	}
}

// sendBlockNA sends an unsolicited NA claiming targetAddr resolves to the
// bogus link-layer address, addressed back to solicitorIP (the peer being
// lied to — itself, in the periodic block-burst case with only one known
// address; the actual NS requester in the loophole-closing case).
func (m *Monitor) sendBlockNA(hostMAC, dstMAC net.HardwareAddr, solicitorIP, targetAddr net.IP) {
	bogus1, _ := net.ParseMAC(bogusMACBlock)
	p, err := buildUnsolicitedNA(hostMAC, dstMAC, targetAddr, solicitorIP, targetAddr, bogus1)
	if err != nil {
		return
	}
	m.writePacket(p)
}

// restore sends the §4.5.3 ten-round restoration burst so a removed target
// regains connectivity promptly.
func (m *Monitor) restore(targetIP string) {
	cfg := m.netConfig.GetConfig()
	if cfg == nil || cfg.Gateway == nil {
		return
	}
	iface, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return
	}
	hostMAC := iface.HardwareAddr
	gatewayIP := cfg.Gateway

	targetMACStr, ok := m.resolveMAC(targetIP)
	if !ok {
		return
	}
	gatewayMACStr, ok := m.resolveMAC(gatewayIP.String())
	if !ok {
		return
	}
	targetMAC, err1 := net.ParseMAC(targetMACStr)
	gatewayMAC, err2 := net.ParseMAC(gatewayMACStr)
	if err1 != nil || err2 != nil {
		return
	}
	targetIPAddr := net.ParseIP(targetIP)

	// Runs to completion even if the monitor context is cancelled mid-burst:
	// a caller removing a target must not be left mid-poison.
	for i := 0; i < restoreRounds; i++ {
		if p, err := buildARPReply(hostMAC, targetMAC, gatewayIP, targetIPAddr, gatewayMAC, targetMAC); err == nil {
			m.writePacket(p)
		}
		if p, err := buildARPReply(hostMAC, gatewayMAC, targetIPAddr, gatewayIP, targetMAC, gatewayMAC); err == nil {
			m.writePacket(p)
		}
		time.Sleep(restoreRoundPeriod)
	}
}
