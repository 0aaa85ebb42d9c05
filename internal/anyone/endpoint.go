package anyone

import (
	"fmt"
	"net"

	ma "github.com/multiformats/go-multiaddr"
)

// ControlAddrFromMultiaddr turns "/ip4/127.0.0.1/tcp/9051" (or ip6, dns)
// into a dialable host:port.
func ControlAddrFromMultiaddr(s string) (string, error) {
	addr, err := ma.NewMultiaddr(s)
	if err != nil {
		return "", fmt.Errorf("parse control multiaddr: %w", err)
	}
	port, err := addr.ValueForProtocol(ma.P_TCP)
	if err != nil {
		return "", fmt.Errorf("control multiaddr %s has no tcp port", s)
	}
	for _, code := range []int{ma.P_IP4, ma.P_IP6, ma.P_DNS, ma.P_DNS4, ma.P_DNS6} {
		if host, err := addr.ValueForProtocol(code); err == nil {
			return net.JoinHostPort(host, port), nil
		}
	}
	return "", fmt.Errorf("control multiaddr %s has no host", s)
}
