package netcheck

import (
	"net"
	"strings"
)

// vpnNames are interface-name fragments that indicate a tunnel is up.
var vpnNames = []string{"tun", "tap", "wg", "ppp", "warp"}

// ShouldForceRelay reports whether this machine is likely behind a VPN or
// CGNAT, where host and server-reflexive candidates rarely pair. Forcing
// relayed candidates up front skips a doomed direct-connect attempt before
// ICE falls back on its own.
func ShouldForceRelay() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	// Cloudflare WARP, Tailscale, and carrier-grade NATs hand out
	// addresses from 100.64.0.0/10.
	_, cgnatBlock, _ := net.ParseCIDR("100.64.0.0/10")

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		name := strings.ToLower(iface.Name)
		for _, fragment := range vpnNames {
			if strings.Contains(name, fragment) {
				return true
			}
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if cgnatBlock.Contains(ip) {
				return true
			}
		}
	}

	return false
}
