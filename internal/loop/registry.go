//go:build linux

package loop

import (
	"golang.org/x/sys/unix"
)

// armMask is the fixed, ET+RDHUP+ONESHOT event set every registered
// connection fd carries; only the EPOLLIN/EPOLLOUT bit varies.
const armMask = unix.EPOLLRDHUP | unix.EPOLLET | unix.EPOLLONESHOT

// addFD registers fd for readiness notifications. oneShot is false
// only for the listening socket and the self-pipe read end, which are
// level-triggered and never re-armed.
func addFD(epfd, fd int, events uint32, oneShot bool) error {
	ev := unix.EpollEvent{Fd: int32(fd)}
	if oneShot {
		ev.Events = events | armMask
	} else {
		ev.Events = events
	}
	return unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// modifyFD resets the one-shot arming on fd to the given direction
// (EPOLLIN or EPOLLOUT), the Go analogue of modify_fd_epoll. It
// returns the underlying error unchanged so callers can distinguish
// ENOENT (fd already removed by a concurrent close) from a real
// failure.
func modifyFD(epfd, fd int, events uint32) error {
	ev := unix.EpollEvent{Fd: int32(fd), Events: events | armMask}
	return unix.EpollCtl(epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// removeFD unregisters fd. Errors are ignored by callers: removing an
// fd the kernel already dropped (e.g. on close) is not exceptional.
func removeFD(epfd, fd int) error {
	return unix.EpollCtl(epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// RearmRead satisfies httpconn.Rearmer: the connection has no response
// ready and wants to be woken on the next inbound byte.
func (l *Loop) RearmRead(fd int) {
	if err := modifyFD(l.epfd, fd, unix.EPOLLIN); err != nil {
		l.logger.WithError(err).WithField("fd", fd).Debug("rearm read failed, fd likely already closed")
	}
}

// RearmWrite satisfies httpconn.Rearmer: a response is assembled and
// the connection wants to be woken once the socket can accept more
// bytes.
func (l *Loop) RearmWrite(fd int) {
	if err := modifyFD(l.epfd, fd, unix.EPOLLOUT); err != nil {
		l.logger.WithError(err).WithField("fd", fd).Debug("rearm write failed, fd likely already closed")
	}
}

// RequestClose satisfies httpconn.Rearmer. Workers never close a fd
// themselves: that would race the event-loop goroutine, which may be
// concurrently handling an EPOLLRDHUP/EPOLLHUP/EPOLLERR for the same
// fd (the "known race" spec.md flags). Instead the request is funneled
// through closeCh and the event-loop goroutine performs the one,
// serialized close.
func (l *Loop) RequestClose(fd int) {
	select {
	case l.closeCh <- fd:
	case <-l.stopCh:
	}
}
