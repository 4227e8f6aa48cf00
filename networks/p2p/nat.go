package p2p

import (
	"net"
	"time"

	"github.com/huin/goupnp/dcps/internetgateway1"
	natpmp "github.com/jackpal/go-nat-pmp"
)

const natMappingLifetime = 20 * time.Minute

// mapPort keeps a best-effort NAT mapping alive for the listening
// port, trying NAT-PMP first and falling back to UPnP. Failures are
// logged and otherwise ignored: a node behind an unmappable NAT can
// still dial out.
func mapPort(port int, quit <-chan struct{}) {
	refresh := time.NewTimer(0)
	defer refresh.Stop()
	for {
		select {
		case <-refresh.C:
			if !mapPortNATPMP(port) && !mapPortUPnP(port) {
				logger.Debug("NAT port mapping unavailable", "port", port)
			}
			refresh.Reset(natMappingLifetime / 2)
		case <-quit:
			return
		}
	}
}

func mapPortNATPMP(port int) bool {
	for _, gw := range potentialGateways() {
		client := natpmp.NewClientWithTimeout(gw, 1*time.Second)
		if _, err := client.AddPortMapping("tcp", port, port, int(natMappingLifetime/time.Second)); err == nil {
			logger.Info("Mapped listening port via NAT-PMP", "gateway", gw, "port", port)
			return true
		}
	}
	return false
}

func mapPortUPnP(port int) bool {
	clients, _, err := internetgateway1.NewWANIPConnection1Clients()
	if err != nil || len(clients) == 0 {
		return false
	}
	internal := internalAddress()
	if internal == nil {
		return false
	}
	for _, c := range clients {
		err := c.AddPortMapping("", uint16(port), "TCP", uint16(port), internal.String(), true, "axledger", uint32(natMappingLifetime/time.Second))
		if err == nil {
			logger.Info("Mapped listening port via UPnP", "port", port)
			return true
		}
	}
	return false
}

// potentialGateways guesses NAT-PMP gateways: the .1 address of every
// RFC1918 interface subnet this host sits on.
func potentialGateways() []net.IP {
	var out []net.IP
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipnet.IP.To4()
			if ip == nil || !ip.IsPrivate() {
				continue
			}
			gw := ip.Mask(ipnet.Mask)
			gw[3] |= 0x01
			out = append(out, gw)
		}
	}
	return out
}

func internalAddress() net.IP {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok {
				if ip := ipnet.IP.To4(); ip != nil && !ip.IsLoopback() {
					return ip
				}
			}
		}
	}
	return nil
}
