// Package netconfig resolves the interface, gateway, and subnet the
// appliance should operate against.
//
// Resolution order:
//  1. the operator override from settings (an explicit interface name), or
//     else the first up, non-loopback interface with an IPv4 address,
//     preferring the names eth0, wlan0, en0, enp* and wlp*
//  2. that interface's default-route next-hop from /proc/net/route
//  3. a safe fallback of 192.168.1.1 / 192.168.1.0/24
//
// The interface is not chosen from the OS default route, and
// /proc/net/route is the only gateway source read.
package netconfig

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/lattice-sec/linkwatch/internal/logger"
)

const fallbackGateway = "192.168.1.1"

// NetworkConfig is the resolved interface/gateway/subnet triple.
type NetworkConfig struct {
	Interface string
	LocalIP   net.IP
	Gateway   net.IP
	Subnet    *net.IPNet
	CIDR      string
}

// OverrideSource supplies an operator-configured interface name, or "" if
// none is set.
type OverrideSource interface {
	Interface() string
}

// AutoConfig resolves and caches the network configuration, safe for
// concurrent reads.
type AutoConfig struct {
	config *NetworkConfig
	log    *logger.Logger
	mu     sync.RWMutex
}

// NewAutoConfig creates an AutoConfig with no configuration resolved yet.
func NewAutoConfig() *AutoConfig {
	return &AutoConfig{log: logger.NewComponentLogger("netconfig")}
}

// Detect resolves the network configuration once, following the order
// above, and caches the result. It never fails outright: if any detection
// step fails, it falls back to gateway 192.168.1.1 and subnet
// 192.168.1.0/24 on the override interface, or else the primary interface
// found as in step 1 (or no interface at all).
func (ac *AutoConfig) Detect(override OverrideSource) *NetworkConfig {
	var overrideIface string
	if override != nil {
		overrideIface = override.Interface()
	}

	config, err := ac.detectOnce(overrideIface)
	if err != nil {
		ac.log.Warn("network detection failed, using fallback gateway %s: %v", fallbackGateway, err)
		config = ac.fallbackConfig(overrideIface)
	}

	ac.mu.Lock()
	ac.config = config
	ac.mu.Unlock()
	ac.log.Info("network configuration resolved: interface=%s ip=%s gateway=%s",
		config.Interface, config.LocalIP, config.Gateway)
	return config
}

func (ac *AutoConfig) detectOnce(overrideIface string) (*NetworkConfig, error) {
	iface, localIP, err := ac.resolveInterface(overrideIface)
	if err != nil {
		return nil, fmt.Errorf("resolve interface: %w", err)
	}

	gateway, err := ac.getGateway(iface)
	if err != nil {
		return nil, fmt.Errorf("resolve gateway: %w", err)
	}

	subnet, cidr, err := ac.getSubnet(iface, localIP)
	if err != nil {
		return nil, fmt.Errorf("resolve subnet: %w", err)
	}

	return &NetworkConfig{
		Interface: iface,
		LocalIP:   localIP,
		Gateway:   gateway,
		Subnet:    subnet,
		CIDR:      cidr,
	}, nil
}

// resolveInterface honors an operator override if given; otherwise it
// falls back to the teacher's preferred-name heuristic.
func (ac *AutoConfig) resolveInterface(overrideIface string) (string, net.IP, error) {
	if overrideIface != "" {
		iface, err := net.InterfaceByName(overrideIface)
		if err != nil {
			return "", nil, fmt.Errorf("operator-specified interface %s: %w", overrideIface, err)
		}
		ip, err := ac.getInterfaceIP(*iface)
		if err != nil {
			return "", nil, fmt.Errorf("operator-specified interface %s has no IPv4 address: %w", overrideIface, err)
		}
		return iface.Name, ip, nil
	}
	return ac.findPrimaryInterface()
}

func (ac *AutoConfig) findPrimaryInterface() (string, net.IP, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", nil, fmt.Errorf("list interfaces: %w", err)
	}

	preferredNames := []string{"eth0", "wlan0", "en0", "enp", "wlp"}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		for _, preferred := range preferredNames {
			if strings.HasPrefix(iface.Name, preferred) {
				if ip, err := ac.getInterfaceIP(iface); err == nil && ip != nil {
					return iface.Name, ip, nil
				}
			}
		}
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if ip, err := ac.getInterfaceIP(iface); err == nil && ip != nil {
			return iface.Name, ip, nil
		}
	}

	return "", nil, fmt.Errorf("no suitable network interface found")
}

func (ac *AutoConfig) getInterfaceIP(iface net.Interface) (net.IP, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ipNet.IP.To4() != nil {
			return ipNet.IP, nil
		}
	}
	return nil, fmt.Errorf("no IPv4 address found")
}

// getGateway parses /proc/net/route for iface's default gateway.
func (ac *AutoConfig) getGateway(iface string) (net.IP, error) {
	file, err := os.Open("/proc/net/route")
	if err != nil {
		return nil, fmt.Errorf("open /proc/net/route: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		return nil, fmt.Errorf("empty route table")
	}

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		if fields[0] == iface && fields[1] == "00000000" {
			var gatewayInt uint32
			if _, err := fmt.Sscanf(fields[2], "%X", &gatewayInt); err != nil {
				return nil, fmt.Errorf("parse gateway hex: %w", err)
			}
			gateway := make(net.IP, 4)
			binary.LittleEndian.PutUint32(gateway, gatewayInt)
			return gateway, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read route table: %w", err)
	}

	return nil, fmt.Errorf("no default gateway found for interface %s", iface)
}

func (ac *AutoConfig) getSubnet(iface string, localIP net.IP) (*net.IPNet, string, error) {
	netIface, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, "", fmt.Errorf("lookup interface %s: %w", iface, err)
	}

	addrs, err := netIface.Addrs()
	if err != nil {
		return nil, "", fmt.Errorf("get addresses for %s: %w", iface, err)
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ipNet.IP.To4() != nil && ipNet.IP.Equal(localIP) {
			ones, _ := ipNet.Mask.Size()
			cidr := fmt.Sprintf("%s/%d", ipNet.IP.Mask(ipNet.Mask).String(), ones)
			return ipNet, cidr, nil
		}
	}

	return nil, "", fmt.Errorf("subnet not found for interface %s", iface)
}

// fallbackConfig builds the safe-fallback configuration: whatever
// interface we can find (possibly the override, possibly none at all) with
// a 192.168.1.1/24 assumption.
func (ac *AutoConfig) fallbackConfig(overrideIface string) *NetworkConfig {
	iface := overrideIface
	var localIP net.IP

	if iface == "" {
		if name, ip, err := ac.findPrimaryInterface(); err == nil {
			iface, localIP = name, ip
		}
	} else if netIface, err := net.InterfaceByName(iface); err == nil {
		localIP, _ = ac.getInterfaceIP(*netIface)
	}

	_, subnet, _ := net.ParseCIDR("192.168.1.0/24")
	return &NetworkConfig{
		Interface: iface,
		LocalIP:   localIP,
		Gateway:   net.ParseIP(fallbackGateway),
		Subnet:    subnet,
		CIDR:      "192.168.1.0/24",
	}
}

// GetConfig returns a copy of the current configuration, or nil if Detect
// has not yet run.
func (ac *AutoConfig) GetConfig() *NetworkConfig {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	if ac.config == nil {
		return nil
	}
	cp := *ac.config
	return &cp
}

// GetInterface returns the resolved interface name, or "".
func (ac *AutoConfig) GetInterface() string {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	if ac.config == nil {
		return ""
	}
	return ac.config.Interface
}

// GetGatewayIP returns the resolved gateway address, or nil.
func (ac *AutoConfig) GetGatewayIP() net.IP {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	if ac.config == nil {
		return nil
	}
	return ac.config.Gateway
}

// GetLocalIP returns the resolved local IPv4 address, or nil.
func (ac *AutoConfig) GetLocalIP() net.IP {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	if ac.config == nil {
		return nil
	}
	return ac.config.LocalIP
}

// GetCIDR returns the resolved subnet in CIDR notation, or "".
func (ac *AutoConfig) GetCIDR() string {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	if ac.config == nil {
		return ""
	}
	return ac.config.CIDR
}

// GetSubnet returns the resolved subnet, or nil.
func (ac *AutoConfig) GetSubnet() *net.IPNet {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	if ac.config == nil {
		return nil
	}
	return ac.config.Subnet
}
