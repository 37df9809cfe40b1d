//go:build linux

package loop

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// listen creates a non-blocking, SO_REUSEADDR TCP listening socket
// bound to 0.0.0.0:port, mirroring main.cpp's socket/setsockopt/
// bind/listen sequence at the syscall level so the resulting fd can
// be registered directly with epoll.
func listen(port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}

	addr := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind: %w", err)
	}

	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("set listen socket non-blocking: %w", err)
	}

	return fd, nil
}
