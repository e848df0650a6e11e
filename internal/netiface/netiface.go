// Package netiface enumerates local network interfaces with a category
// tag, walking local addresses and classifying each by name prefix rather
// than discovering peers over the network.
package netiface

import (
	"net"
	"strings"

	"lanxfer/internal/models"
)

// List enumerates local network interfaces, categorized by name prefix.
func List() ([]models.NetworkInterface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []models.NetworkInterface
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		isLoopback := iface.Flags&net.FlagLoopback != 0
		category := categorize(iface.Name)
		for _, addr := range addrs {
			ip := ipFromAddr(addr)
			if ip == "" {
				continue
			}
			out = append(out, models.NetworkInterface{
				Name:       iface.Name,
				IP:         ip,
				IsLoopback: isLoopback,
				Category:   category,
			})
		}
	}
	return out, nil
}

// Filter drops interfaces whose category the given filters hide.
func Filter(ifaces []models.NetworkInterface, filters models.InterfaceFilters) []models.NetworkInterface {
	out := make([]models.NetworkInterface, 0, len(ifaces))
	for _, iface := range ifaces {
		if filters.ShouldShow(iface.Category) {
			out = append(out, iface)
		}
	}
	return out
}

func ipFromAddr(addr net.Addr) string {
	switch a := addr.(type) {
	case *net.IPNet:
		return a.IP.String()
	case *net.IPAddr:
		return a.IP.String()
	default:
		return ""
	}
}

// categorize derives an InterfaceCategory from the interface name prefix.
func categorize(name string) models.InterfaceCategory {
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, "tailscale"), strings.HasPrefix(lower, "tun"):
		return models.CategoryVPN
	case strings.HasPrefix(lower, "wl"):
		return models.CategoryWiFi
	case strings.HasPrefix(lower, "en"), strings.HasPrefix(lower, "eth"):
		return models.CategoryEthernet
	case strings.HasPrefix(lower, "docker"), strings.HasPrefix(lower, "br-"):
		return models.CategoryDocker
	default:
		return models.CategoryOther
	}
}

// OutboundIP returns this host's IP as seen by the OS routing table for a
// connection to an external address, falling back to the first
// non-loopback IPv4 address if that lookup fails.
func OutboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return localIP()
	}
	defer conn.Close()
	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}

func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, address := range addrs {
		if ipnet, ok := address.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}
	return ""
}
