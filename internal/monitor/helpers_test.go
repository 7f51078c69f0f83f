package monitor

import (
	"net"

	"github.com/lattice-sec/linkwatch/internal/netconfig"
)

// fakeNetConfig is a minimal NetworkConfigProvider test double.
type fakeNetConfig struct {
	iface   string
	localIP string
	gateway string
}

func (f *fakeNetConfig) GetConfig() *netconfig.NetworkConfig {
	cfg := &netconfig.NetworkConfig{Interface: f.iface}
	if f.localIP != "" {
		cfg.LocalIP = net.ParseIP(f.localIP)
	}
	if f.gateway != "" {
		cfg.Gateway = net.ParseIP(f.gateway)
	}
	return cfg
}
