package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/mdns"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

const (
	mdnsGroup = "224.0.0.251"
	mdnsPort  = 5353
)

var localNamePattern = regexp.MustCompile(`[\w-]+\.local`)

// passiveMDNSLoop joins the mDNS multicast group and, for each datagram,
// extracts a best-effort "<name>.local" substring and records it as the
// hostname (if not already set) plus an "mDNS" service tag against
// whichever device currently owns the sender's IPv4 address.
func (e *Engine) passiveMDNSLoop() {
	defer e.wg.Done()

	conn, err := joinMulticastV4(mdnsGroup, mdnsPort)
	if err != nil {
		e.log.Warn("mDNS passive listener unavailable: %v", err)
		return
	}
	defer conn.Close()

	buf := make([]byte, 10240)
	for {
		select {
		case <-e.ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(time.Second))
		n, srcAddr, err := conn.ReadFrom(buf)
		if err != nil {
			continue
		}

		udpAddr, ok := srcAddr.(*net.UDPAddr)
		if !ok {
			continue
		}

		match := localNamePattern.FindString(string(buf[:n]))
		if match == "" {
			continue
		}

		e.enrichByIP(udpAddr.IP.String(), match, "mDNS")
	}
}

// enrichByIP fills hostname (if empty) and appends a service tag for the
// device currently holding ip, per the multicast listener contract: both
// are best-effort and never create a new device record.
func (e *Engine) enrichByIP(ip, hostname, service string) {
	dev := e.reg.LookupByIP(ip)
	if dev == nil {
		return
	}
	if hostname != "" {
		e.reg.SetHostname(dev.MAC, hostname)
	}
	if service != "" {
		e.reg.AddService(dev.MAC, service)
	}
}

// joinMulticastV4 opens a UDP socket bound to port with SO_REUSEADDR set,
// joins group on every multicast-capable interface, and returns the packet
// conn. SO_REUSEADDR lets a restarted listener rebind immediately instead of
// waiting out the previous socket's TIME_WAIT.
func joinMulticastV4(group string, port int) (net.PacketConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
	conn, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}

	pc := ipv4.NewPacketConn(conn)
	groupAddr := &net.UDPAddr{IP: net.ParseIP(group)}

	ifaces, err := net.Interfaces()
	if err != nil {
		conn.Close()
		return nil, err
	}

	joined := false
	for _, iface := range ifaces {
		if iface.Flags&net.FlagMulticast == 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if err := pc.JoinGroup(&iface, groupAddr); err == nil {
			joined = true
		}
	}
	if !joined {
		conn.Close()
		return nil, errors.New("no multicast-capable interface available")
	}

	return conn, nil
}

// activeMDNSEnrichmentLoop supplements the passive listener with periodic
// active mDNS queries across common service types, giving devices that
// never announce unsolicited mDNS records (and this appliance's own
// go-mdns client) a second chance at hostname/service enrichment.
func (e *Engine) activeMDNSEnrichmentLoop() {
	defer e.wg.Done()

	select {
	case <-e.ctx.Done():
		return
	case <-time.After(5 * time.Second):
	}
	e.runActiveMDNSQuery()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.runActiveMDNSQuery()
		}
	}
}

var mdnsServiceTypes = []string{
	"_workstation._tcp",
	"_device-info._tcp",
	"_airplay._tcp",
	"_googlecast._tcp",
	"_hap._tcp",
	"_homekit._tcp",
	"_printer._tcp",
	"_ipp._tcp",
	"_raop._tcp",
}

func (e *Engine) runActiveMDNSQuery() {
	entries := make(chan *mdns.ServiceEntry, 64)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for entry := range entries {
			e.processActiveMDNSEntry(entry)
		}
	}()

	for _, svc := range mdnsServiceTypes {
		select {
		case <-e.ctx.Done():
			break
		default:
		}
		params := &mdns.QueryParam{
			Service:             svc,
			Domain:              "local",
			Timeout:             2 * time.Second,
			Entries:             entries,
			WantUnicastResponse: false,
		}
		if err := mdns.Query(params); err != nil {
			e.log.Debug("mDNS query for %s failed: %v", svc, err)
		}
	}
	close(entries)
	<-done
}

func (e *Engine) processActiveMDNSEntry(entry *mdns.ServiceEntry) {
	if entry == nil {
		return
	}
	var ip string
	switch {
	case entry.AddrV4 != nil:
		ip = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		ip = entry.AddrV6.String()
	default:
		return
	}

	service := ""
	for _, svc := range mdnsServiceTypes {
		if strings.Contains(entry.Name, "."+svc+".") {
			service = svc
			break
		}
	}
	name := cleanMDNSName(entry.Name)
	e.enrichByIP(ip, name, service)
}

func cleanMDNSName(name string) string {
	name = strings.TrimSuffix(name, ".local.")
	name = strings.TrimSuffix(name, ".local")
	for _, suffix := range mdnsServiceTypes {
		name = strings.TrimSuffix(name, "."+suffix)
	}
	return strings.Trim(name, ".")
}
