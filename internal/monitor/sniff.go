package monitor

import (
	"net"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/time/rate"
)

// sniffRateLimit bounds how many packets per second the accounting/rejection
// path will process, matching the admission control the teacher's analyzer
// sniffer applies ahead of its own packet handling.
const sniffRateLimit = 10000

// sniffLoop implements §4.5.4: accounting, IPv6 learning, active rejection
// of blocked-device traffic, and SNI/DNS metadata extraction.
func (m *Monitor) sniffLoop() {
	defer m.wg.Done()

	cfg := m.netConfig.GetConfig()
	if cfg == nil {
		m.log.Warn("no network configuration available, sniffer not started")
		return
	}

	handle, err := pcap.OpenLive(cfg.Interface, 65536, true, pcap.BlockForever)
	if err != nil {
		m.log.Error("failed to open sniffer handle on %s: %v", cfg.Interface, err)
		return
	}
	defer handle.Close()

	if err := handle.SetBPFFilter("ip or ip6"); err != nil {
		m.log.Error("failed to set sniffer BPF filter: %v", err)
		return
	}

	limiter := rate.NewLimiter(rate.Limit(sniffRateLimit), sniffRateLimit)

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	for {
		select {
		case <-m.ctx.Done():
			return
		case packet, ok := <-packetSource.Packets():
			if !ok || packet == nil {
				return
			}
			if !limiter.Allow() {
				continue
			}
			m.processPacket(packet)
		}
	}
}

func (m *Monitor) processPacket(packet gopacket.Packet) {
	ethLayer := packet.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return
	}
	eth, ok := ethLayer.(*layers.Ethernet)
	if !ok {
		return
	}
	srcMAC, dstMAC := eth.SrcMAC.String(), eth.DstMAC.String()
	length := int64(len(packet.Data()))

	srcDev := m.reg.LookupByMAC(srcMAC)
	if srcDev != nil {
		m.reg.AccountTraffic(srcMAC, length, 0)
	}
	if m.reg.LookupByMAC(dstMAC) != nil {
		m.reg.AccountTraffic(dstMAC, 0, length)
	}

	if ip6Layer := packet.Layer(layers.LayerTypeIPv6); ip6Layer != nil {
		ip6, ok := ip6Layer.(*layers.IPv6)
		if ok && srcDev != nil {
			m.reg.SetIPv6(srcMAC, ip6.SrcIP.String())
		}
		m.handleNeighborSolicitation(packet, eth)
	}

	if srcDev == nil {
		return
	}

	if m.shouldBlock(srcDev) {
		m.rejectPacket(packet)
	}

	m.extractMetadata(packet, srcMAC)
}

// handleNeighborSolicitation closes the "IPv6 loophole": if a blocked MAC
// sends a Neighbor Solicitation to the solicited-node multicast address, an
// unsolicited NA for the requested target is sent back immediately rather
// than waiting for the next spoof tick.
func (m *Monitor) handleNeighborSolicitation(packet gopacket.Packet, eth *layers.Ethernet) {
	nsLayer := packet.Layer(layers.LayerTypeICMPv6NeighborSolicitation)
	if nsLayer == nil {
		return
	}
	ns, ok := nsLayer.(*layers.ICMPv6NeighborSolicitation)
	if !ok {
		return
	}
	ip6Layer := packet.Layer(layers.LayerTypeIPv6)
	if ip6Layer == nil {
		return
	}
	ip6, ok := ip6Layer.(*layers.IPv6)
	if !ok || !isSolicitedNodeMulticast(ip6.DstIP) {
		return
	}

	srcMAC := eth.SrcMAC.String()
	dev := m.reg.LookupByMAC(srcMAC)
	if dev == nil || !m.shouldBlock(dev) {
		return
	}

	cfg := m.netConfig.GetConfig()
	if cfg == nil {
		return
	}
	iface, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return
	}
	m.sendBlockNA(iface.HardwareAddr, eth.SrcMAC, ip6.SrcIP, ns.TargetAddress)
}

func isSolicitedNodeMulticast(ip net.IP) bool {
	ip = ip.To16()
	if ip == nil || !ip.IsMulticast() {
		return false
	}
	return ip[11] == 0x01 && ip[12] == 0xff
}

// rejectPacket sends an ICMP/ICMPv6 Destination Unreachable (admin
// prohibited) back to a blocked source, quoting the offending datagram.
func (m *Monitor) rejectPacket(packet gopacket.Packet) {
	cfg := m.netConfig.GetConfig()
	if cfg == nil {
		return
	}
	iface, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return
	}
	ethLayer := packet.Layer(layers.LayerTypeEthernet)
	eth, ok := ethLayer.(*layers.Ethernet)
	if !ok {
		return
	}

	if ip4Layer := packet.Layer(layers.LayerTypeIPv4); ip4Layer != nil {
		ip4, ok := ip4Layer.(*layers.IPv4)
		if !ok {
			return
		}
		quoted := append(append([]byte{}, ip4.Contents...), ip4.Payload...)
		p, err := buildICMPv4Unreachable(iface.HardwareAddr, eth.SrcMAC, ip4.DstIP, ip4.SrcIP, quoted)
		if err == nil {
			m.writePacket(p)
		}
		return
	}

	if ip6Layer := packet.Layer(layers.LayerTypeIPv6); ip6Layer != nil {
		ip6, ok := ip6Layer.(*layers.IPv6)
		if !ok {
			return
		}
		quoted := append(append([]byte{}, ip6.Contents...), ip6.Payload...)
		p, err := buildICMPv6Unreachable(iface.HardwareAddr, eth.SrcMAC, ip6.DstIP, ip6.SrcIP, quoted)
		if err == nil {
			m.writePacket(p)
		}
	}
}

// extractMetadata implements the TLS SNI and DNS QNAME extraction rules.
func (m *Monitor) extractMetadata(packet gopacket.Packet, srcMAC string) {
	if tcpLayer := packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		tcp, ok := tcpLayer.(*layers.TCP)
		if ok && tcp.DstPort == 443 && len(tcp.Payload) >= 6 && tcp.Payload[0] == 0x16 && tcp.Payload[5] == 0x01 {
			if sni, ok := extractSNI(tcp.Payload); ok {
				m.reg.AddDomain(srcMAC, sni)
			}
		}
	}

	if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp, ok := udpLayer.(*layers.UDP)
		if ok && udp.DstPort == 53 {
			if dnsLayer := packet.Layer(layers.LayerTypeDNS); dnsLayer != nil {
				dns, ok := dnsLayer.(*layers.DNS)
				if ok && !dns.QR && len(dns.Questions) > 0 {
					qname := strings.TrimSuffix(string(dns.Questions[0].Name), ".")
					if qname != "" {
						m.reg.AddDomain(srcMAC, qname)
					}
				}
			}
		}
	}
}

