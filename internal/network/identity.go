package network

import (
	"fmt"
	"net"
	"strings"

	"pi-signage/internal/models"
)

// Identity is how the device introduces itself to the schedule server.
type Identity struct {
	IPAddress  string
	MACAddress string
}

// probeAddr is never contacted; dialing UDP only selects the outbound route.
const probeAddr = "8.8.8.8:80"

// LocalIP returns the address of the interface used for outbound traffic.
func LocalIP() (string, error) {
	conn, err := net.Dial("udp", probeAddr)
	if err != nil {
		return "", fmt.Errorf("%w: resolve local address: %v", models.ErrNetworkUnavailable, err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP == nil || addr.IP.IsUnspecified() {
		return "", fmt.Errorf("%w: no local address", models.ErrNetworkUnavailable)
	}
	return addr.IP.String(), nil
}

// HardwareAddr returns the MAC address of the first non-loopback interface,
// upper-case and colon separated.
func HardwareAddr() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("%w: list interfaces: %v", models.ErrNetworkUnavailable, err)
	}
	return firstHardwareAddr(ifaces)
}

func firstHardwareAddr(ifaces []net.Interface) (string, error) {
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return strings.ToUpper(iface.HardwareAddr.String()), nil
	}
	return "", fmt.Errorf("%w: no hardware address", models.ErrNetworkUnavailable)
}
