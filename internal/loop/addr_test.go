//go:build linux

package loop

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestSockaddrToNetAddrInet4(t *testing.T) {
	sa := &unix.SockaddrInet4{Port: 8080, Addr: [4]byte{127, 0, 0, 1}}
	addr := sockaddrToNetAddr(sa)
	if addr == nil {
		t.Fatalf("expected non-nil net.Addr")
	}
	if addr.String() != "127.0.0.1:8080" {
		t.Fatalf("addr = %q, want 127.0.0.1:8080", addr.String())
	}
}

func TestSockaddrToNetAddrUnknownIsNil(t *testing.T) {
	if addr := sockaddrToNetAddr(&unix.SockaddrUnix{Name: "/tmp/x"}); addr != nil {
		t.Fatalf("expected nil for unsupported sockaddr type, got %v", addr)
	}
}
