package core

import (
	"net"

	"xrayclient/internal/core/xray"
)

// DetectLANIP returns the IPv4 address LAN-exposed listeners bind to. When
// several interfaces qualify the last one wins; loopback is the fallback.
func DetectLANIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return xray.LoopbackIP
	}

	lanIP := xray.LoopbackIP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip := ipNet.IP.To4(); ip != nil && !ip.IsLoopback() {
				lanIP = ip.String()
			}
		}
	}
	return lanIP
}
