//go:build linux

package loop

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/oneshot/staticd/internal/httpconn"
	"github.com/oneshot/staticd/internal/reaper"
)

func newTestLoop(t *testing.T) *Loop {
	t.Helper()
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		t.Skipf("epoll_create1 unavailable in this environment: %v", err)
	}
	t.Cleanup(func() { unix.Close(epfd) })

	return &Loop{
		cfg:        Config{TimeSlot: 5 * time.Second, MaxFD: 10},
		logger:     logrus.NewEntry(logrus.New()),
		epfd:       epfd,
		timers:     reaper.NewList(),
		conns:      make(map[int]*httpconn.Conn),
		clientData: make(map[int]*reaper.ClientData),
		closeCh:    make(chan int, 8),
		stopCh:     make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

func registerPipe(t *testing.T, l *Loop) (readFD int, conn *httpconn.Conn, data *reaper.ClientData) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() { unix.Close(fds[1]) })

	if err := addFD(l.epfd, fds[0], unix.EPOLLIN, true); err != nil {
		t.Fatalf("addFD: %v", err)
	}

	conn = httpconn.New(fds[0], nil, l.cfg.DocRoot, l)
	data = &reaper.ClientData{FD: fds[0]}
	timer := reaper.NewTimer(time.Now().Add(l.cfg.idleAfter()), l.reapCallback, data)
	l.timers.Add(timer)

	l.conns[fds[0]] = conn
	l.clientData[fds[0]] = data
	return fds[0], conn, data
}

func TestCloseConnRemovesBookkeepingAndTimer(t *testing.T) {
	l := newTestLoop(t)
	fd, _, data := registerPipe(t, l)

	l.closeConn(fd)

	if _, ok := l.conns[fd]; ok {
		t.Fatalf("expected conns entry to be removed")
	}
	if _, ok := l.clientData[fd]; ok {
		t.Fatalf("expected clientData entry to be removed")
	}
	if data.Timer() != nil && !l.timers.Empty() {
		t.Fatalf("expected timer to be unlinked from the list")
	}
}

func TestCloseConnOnUnknownFDIsNoop(t *testing.T) {
	l := newTestLoop(t)
	l.closeConn(99999)
}

func TestRequestCloseFunnelsThroughCloseChannel(t *testing.T) {
	l := newTestLoop(t)
	fd, conn, _ := registerPipe(t, l)
	_ = conn

	l.RequestClose(fd)

	select {
	case got := <-l.closeCh:
		if got != fd {
			t.Fatalf("closeCh delivered fd %d, want %d", got, fd)
		}
	default:
		t.Fatalf("expected fd to be queued on closeCh")
	}
}

func TestRearmReadAndWriteDoNotPanicOnLiveFD(t *testing.T) {
	l := newTestLoop(t)
	fd, _, _ := registerPipe(t, l)

	l.RearmRead(fd)
	l.RearmWrite(fd)
}

func TestReapCallbackRequestsClose(t *testing.T) {
	l := newTestLoop(t)
	fd, _, data := registerPipe(t, l)

	l.reapCallback(data)

	select {
	case got := <-l.closeCh:
		if got != fd {
			t.Fatalf("reapCallback queued fd %d, want %d", got, fd)
		}
	default:
		t.Fatalf("expected reapCallback to request a close")
	}
}
