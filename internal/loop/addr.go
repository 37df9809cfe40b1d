//go:build linux

package loop

import (
	"net"

	"golang.org/x/sys/unix"
)

// sockaddrToNetAddr converts the raw sockaddr Accept4 hands back into
// a net.Addr for logging and for Conn.peer, without pulling in a full
// net.Listener/net.Conn wrapper around the raw fd.
func sockaddrToNetAddr(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}
	default:
		return nil
	}
}
