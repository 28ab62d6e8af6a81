package internal

import (
	"net"
)

// LocalIPv4 returns the first non-loopback IPv4 address of an interface that
// is up, or "" if there is none.
func LocalIPv4() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		Debug("interface enumeration failed", Fields{FieldError: err.Error()})
		return ""
	}
	var addrs []net.Addr
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		a, err := ifc.Addrs()
		if err != nil {
			continue
		}
		addrs = append(addrs, a...)
	}
	return firstIPv4(addrs)
}

func firstIPv4(addrs []net.Addr) string {
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		if v4 := ip.To4(); v4 != nil {
			return v4.String()
		}
	}
	return ""
}
