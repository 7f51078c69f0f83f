package discovery

import (
	"net"
	"strings"
	"time"
)

const (
	ssdpGroup = "239.255.255.250"
	ssdpPort  = 1900
)

// passiveSSDPLoop joins the SSDP multicast group and, for each datagram,
// extracts the "SERVER:" header value and appends it as a service tag (the
// generic tag "SSDP" when the header is absent) for whichever device
// currently owns the sender's address.
func (e *Engine) passiveSSDPLoop() {
	defer e.wg.Done()

	conn, err := joinMulticastV4(ssdpGroup, ssdpPort)
	if err != nil {
		e.log.Warn("SSDP passive listener unavailable: %v", err)
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

		service := parseSSDPServer(string(buf[:n]))
		if service == "" {
			service = "SSDP"
		}
		e.enrichByIP(udpAddr.IP.String(), "", service)
	}
}

// parseSSDPServer extracts the value of a one-line "SERVER:" header from
// raw SSDP NOTIFY/response text.
func parseSSDPServer(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, "SERVER:") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[1])
			}
		}
	}
	return ""
}
