package discovery

import (
	"fmt"
	"net"
	"runtime"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

const arpSweepReplyTimeout = 2 * time.Second

// passiveARPLoop subscribes to every ARP request/reply frame on the
// configured interface and ingests the sender's MAC/IP pair immediately,
// so devices appear without waiting for the next active sweep.
func (e *Engine) passiveARPLoop() {
	defer e.wg.Done()

	cfg := e.netConfig.GetConfig()
	if cfg == nil {
		e.log.Warn("no network configuration available, passive ARP listener not started")
		return
	}

	handle, err := pcap.OpenLive(cfg.Interface, 65536, true, pcap.BlockForever)
	if err != nil {
		e.reportPermissionAware(err, "passive ARP listener")
		return
	}
	defer handle.Close()

	if err := handle.SetBPFFilter("arp"); err != nil {
		e.log.Error("failed to set ARP BPF filter: %v", err)
		return
	}

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	for {
		select {
		case <-e.ctx.Done():
			return
		case packet, ok := <-packetSource.Packets():
			if !ok || packet == nil {
				return
			}
			arpLayer := packet.Layer(layers.LayerTypeARP)
			if arpLayer == nil {
				continue
			}
			arp, ok := arpLayer.(*layers.ARP)
			if !ok {
				continue
			}
			if arp.Operation != layers.ARPRequest && arp.Operation != layers.ARPReply {
				continue
			}

			srcIP := net.IP(arp.SourceProtAddress)
			if srcIP.IsUnspecified() || srcIP.String() == "0.0.0.0" {
				continue
			}
			mac := net.HardwareAddr(arp.SourceHwAddress).String()
			e.ingest(mac, srcIP.String())
		}
	}
}

// activeARPSweepLoop runs a broadcast ARP sweep of the whole subnet at the
// configured scan interval (30s by default).
func (e *Engine) activeARPSweepLoop() {
	defer e.wg.Done()

	interval := 30 * time.Second
	if e.settings != nil {
		if si := e.settings.ScanInterval(); si > 0 {
			interval = si
		}
	}

	e.runARPSweep()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.runARPSweep()
		}
	}
}

func (e *Engine) runARPSweep() {
	cfg := e.netConfig.GetConfig()
	if cfg == nil {
		e.log.Warn("no network configuration available, skipping ARP sweep")
		return
	}

	subnet := cfg.Subnet
	if subnet == nil {
		_, fallback, _ := net.ParseCIDR("192.168.1.0/24")
		subnet = fallback
		e.log.Warn("subnet unavailable, falling back to 192.168.1.0/24")
	}

	handle, err := pcap.OpenLive(cfg.Interface, 65536, true, pcap.BlockForever)
	if err != nil {
		e.reportPermissionAware(err, "active ARP sweep")
		return
	}
	defer handle.Close()

	if err := handle.SetBPFFilter("arp"); err != nil {
		e.log.Error("failed to set ARP BPF filter: %v", err)
		return
	}

	iface, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		e.log.Error("interface lookup failed: %v", err)
		return
	}
	srcMAC := iface.HardwareAddr

	replies := make(chan arpReply, 256)
	done := make(chan struct{})
	go e.collectARPReplies(handle, replies, done)

	ips := subnetIPs(subnet)
	for _, ip := range ips {
		if ip.Equal(cfg.LocalIP) {
			continue
		}
		if err := sendARPRequest(handle, srcMAC, cfg.LocalIP, ip); err != nil {
			e.log.Warn("failed to send ARP request to %s: %v", ip, err)
		}
		time.Sleep(time.Millisecond)
		select {
		case <-e.ctx.Done():
			close(done)
			return
		default:
		}
	}

	timeout := time.After(arpSweepReplyTimeout)
	count := 0
collect:
	for {
		select {
		case reply := <-replies:
			e.ingest(reply.mac, reply.ip)
			count++
		case <-timeout:
			break collect
		case <-e.ctx.Done():
			break collect
		}
	}
	close(done)
	e.reportStatus(StatusLevelInfo, "ARP sweep completed (%d devices)", count)
}

type arpReply struct {
	mac string
	ip  string
}

func (e *Engine) collectARPReplies(handle *pcap.Handle, out chan<- arpReply, done <-chan struct{}) {
	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	for {
		select {
		case <-done:
			return
		case <-e.ctx.Done():
			return
		case packet, ok := <-packetSource.Packets():
			if !ok || packet == nil {
				continue
			}
			arpLayer := packet.Layer(layers.LayerTypeARP)
			if arpLayer == nil {
				continue
			}
			arp, ok := arpLayer.(*layers.ARP)
			if !ok || arp.Operation != layers.ARPReply {
				continue
			}
			reply := arpReply{
				mac: net.HardwareAddr(arp.SourceHwAddress).String(),
				ip:  net.IP(arp.SourceProtAddress).String(),
			}
			select {
			case out <- reply:
			default:
			}
		}
	}
}

func sendARPRequest(handle *pcap.Handle, srcMAC net.HardwareAddr, srcIP, dstIP net.IP) error {
	eth := layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   srcMAC,
		SourceProtAddress: srcIP.To4(),
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    dstIP.To4(),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &arp); err != nil {
		return fmt.Errorf("serialize ARP request: %w", err)
	}
	return handle.WritePacketData(buf.Bytes())
}

// subnetIPs returns every host address between the network and broadcast
// address of subnet, exclusive of both.
func subnetIPs(subnet *net.IPNet) []net.IP {
	var ips []net.IP

	ip := subnet.IP.To4()
	if ip == nil {
		return ips
	}
	mask := subnet.Mask

	network := ip.Mask(mask)
	broadcast := make(net.IP, 4)
	for i := 0; i < 4; i++ {
		broadcast[i] = network[i] | ^mask[i]
	}

	for cur := incrementIP(network); !cur.Equal(broadcast); cur = incrementIP(cur) {
		ips = append(ips, copyIP(cur))
	}
	return ips
}

func incrementIP(ip net.IP) net.IP {
	result := make(net.IP, len(ip))
	copy(result, ip)
	for i := len(result) - 1; i >= 0; i-- {
		result[i]++
		if result[i] != 0 {
			break
		}
	}
	return result
}

func copyIP(ip net.IP) net.IP {
	result := make(net.IP, len(ip))
	copy(result, ip)
	return result
}

func (e *Engine) reportPermissionAware(err error, what string) {
	if isPermissionError(err) {
		e.reportStatus(StatusLevelError, "%s requires elevated privileges: %v. %s", what, err, permissionGuidance())
		e.log.Error("%s permission denied: %v", what, err)
		return
	}
	e.reportStatus(StatusLevelWarning, "%s failed: %v", what, err)
	e.log.Warn("%s failed: %v", what, err)
}

func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission") ||
		strings.Contains(msg, "operation not permitted") ||
		strings.Contains(msg, "access is denied")
}

func permissionGuidance() string {
	switch runtime.GOOS {
	case "darwin":
		return "grant packet capture access and run with sudo on first launch"
	case "linux":
		return "run as root or grant CAP_NET_RAW/CAP_NET_ADMIN (setcap cap_net_raw,cap_net_admin=eip <binary>)"
	case "windows":
		return "run as Administrator and install Npcap with WinPcap compatibility mode"
	default:
		return "ensure the process has permission to open raw sockets on this platform"
	}
}
