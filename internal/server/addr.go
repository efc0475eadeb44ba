package server

import (
	"net"
	"os"
)

// AdvertiseAddr returns addr with an empty or unspecified host, as in
// ":2525" or "[::]:2525", replaced by an address of this machine. Other
// addresses are returned unchanged.
func AdvertiseAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host != "" {
		if ip := net.ParseIP(host); ip == nil || !ip.IsUnspecified() {
			return addr
		}
	}
	return net.JoinHostPort(localIP(), port)
}

// localIP resolves the host name to its first IPv4 address, falling back
// to loopback.
func localIP() string {
	name, err := os.Hostname()
	if err != nil {
		return "127.0.0.1"
	}
	addrs, err := net.LookupHost(name)
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			return a
		}
	}
	return "127.0.0.1"
}
