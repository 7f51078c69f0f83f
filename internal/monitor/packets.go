package monitor

import (
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

var broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// buildARPReply serializes an Ethernet+ARP reply: ethSrc/ethDst address the
// frame at the link layer, psrc/pdst/hwsrc/hwdst are the ARP fields proper
// (hwsrc is what the reply claims psrc's hardware address to be).
func buildARPReply(ethSrc, ethDst net.HardwareAddr, psrc, pdst net.IP, hwsrc, hwdst net.HardwareAddr) ([]byte, error) {
	eth := layers.Ethernet{
		SrcMAC:       ethSrc,
		DstMAC:       ethDst,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPReply,
		SourceHwAddress:   hwsrc,
		SourceProtAddress: psrc.To4(),
		DstHwAddress:      hwdst,
		DstProtAddress:    pdst.To4(),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &arp); err != nil {
		return nil, fmt.Errorf("serialize ARP reply: %w", err)
	}
	return buf.Bytes(), nil
}

// buildUnsolicitedNA serializes an unsolicited ICMPv6 Neighbor Advertisement
// with R=S=O=1 and a target-link-layer-address option carrying lladdr,
// claiming that targetAddr is reachable at lladdr.
func buildUnsolicitedNA(ethSrc, ethDst net.HardwareAddr, srcIP, dstIP net.IP, targetAddr net.IP, lladdr net.HardwareAddr) ([]byte, error) {
	eth := layers.Ethernet{
		SrcMAC:       ethSrc,
		DstMAC:       ethDst,
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip6 := layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   255,
		SrcIP:      srcIP,
		DstIP:      dstIP,
	}
	icmp6 := layers.ICMPv6{
		TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeNeighborAdvertisement, 0),
	}
	na := layers.ICMPv6NeighborAdvertisement{
		Flags:         0xe0, // R=1 S=1 O=1
		TargetAddress: targetAddr,
		Options: layers.ICMPv6Options{
			{Type: layers.ICMPv6OptTargetAddress, Data: lladdr},
		},
	}
	if err := icmp6.SetNetworkLayerForChecksum(&ip6); err != nil {
		return nil, fmt.Errorf("set checksum layer: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &ip6, &icmp6, &na); err != nil {
		return nil, fmt.Errorf("serialize neighbor advertisement: %w", err)
	}
	return buf.Bytes(), nil
}

// buildICMPv4Unreachable serializes an ICMP Destination Unreachable
// (Communication Administratively Prohibited, type 3 code 13) quoting
// quoted (the offending IPv4 header + payload) as its data.
func buildICMPv4Unreachable(ethSrc, ethDst net.HardwareAddr, srcIP, dstIP net.IP, quoted []byte) ([]byte, error) {
	eth := layers.Ethernet{
		SrcMAC:       ethSrc,
		DstMAC:       ethDst,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    srcIP,
		DstIP:    dstIP,
	}
	icmp := layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeDestinationUnreachable, 13),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &ip4, &icmp, gopacket.Payload(quoted)); err != nil {
		return nil, fmt.Errorf("serialize ICMP unreachable: %w", err)
	}
	return buf.Bytes(), nil
}

// buildICMPv6Unreachable serializes an ICMPv6 Destination Unreachable
// (Communication with Destination Administratively Prohibited, type 1 code
// 1) quoting quoted (the offending IPv6 header + payload) as its data.
func buildICMPv6Unreachable(ethSrc, ethDst net.HardwareAddr, srcIP, dstIP net.IP, quoted []byte) ([]byte, error) {
	eth := layers.Ethernet{
		SrcMAC:       ethSrc,
		DstMAC:       ethDst,
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip6 := layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   64,
		SrcIP:      srcIP,
		DstIP:      dstIP,
	}
	icmp6 := layers.ICMPv6{
		TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeDestinationUnreachable, 1),
	}
	if err := icmp6.SetNetworkLayerForChecksum(&ip6); err != nil {
		return nil, fmt.Errorf("set checksum layer: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &ip6, &icmp6, gopacket.Payload(quoted)); err != nil {
		return nil, fmt.Errorf("serialize ICMPv6 unreachable: %w", err)
	}
	return buf.Bytes(), nil
}

// arpWhoHas sends a single ARP request for dstIP (in a link-layer broadcast
// frame) and waits up to timeout for a matching reply, returning the
// replying MAC.
func arpWhoHas(iface string, srcIP, dstIP net.IP, timeout time.Duration) (net.HardwareAddr, error) {
	if dstIP == nil {
		return nil, fmt.Errorf("no destination IP")
	}

	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("interface lookup: %w", err)
	}

	handle, err := pcap.OpenLive(iface, 65536, true, timeout)
	if err != nil {
		return nil, fmt.Errorf("open handle: %w", err)
	}
	defer handle.Close()

	if err := handle.SetBPFFilter("arp"); err != nil {
		return nil, fmt.Errorf("set BPF filter: %w", err)
	}

	eth := layers.Ethernet{
		SrcMAC:       ifi.HardwareAddr,
		DstMAC:       broadcastMAC,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   ifi.HardwareAddr,
		SourceProtAddress: srcIP.To4(),
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    dstIP.To4(),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &arp); err != nil {
		return nil, fmt.Errorf("serialize ARP request: %w", err)
	}
	if err := handle.WritePacketData(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("send ARP request: %w", err)
	}

	deadline := time.Now().Add(timeout)
	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	for time.Now().Before(deadline) {
		select {
		case packet, ok := <-packetSource.Packets():
			if !ok || packet == nil {
				continue
			}
			arpLayer := packet.Layer(layers.LayerTypeARP)
			if arpLayer == nil {
				continue
			}
			reply, ok := arpLayer.(*layers.ARP)
			if !ok || reply.Operation != layers.ARPReply {
				continue
			}
			if net.IP(reply.SourceProtAddress).Equal(dstIP) {
				return net.HardwareAddr(reply.SourceHwAddress), nil
			}
		case <-time.After(time.Until(deadline)):
			return nil, fmt.Errorf("timeout waiting for ARP reply from %s", dstIP)
		}
	}
	return nil, fmt.Errorf("timeout waiting for ARP reply from %s", dstIP)
}
