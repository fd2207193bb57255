// Package networking provides small TCP helpers shared by the proxy, the
// direct server, and their tests.
package networking

import (
	"fmt"
	"net"
)

// IsAvailable checks whether a TCP port can be bound on the loopback
// interface.
func IsAvailable(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}

// FindAvailable asks the kernel for a free loopback TCP port. Returns 0 when
// none could be allocated.
func FindAvailable() int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// JoinHostPort formats an address from a host and a numeric port.
func JoinHostPort(host string, port int) string {
	return net.JoinHostPort(host, fmt.Sprintf("%d", port))
}
