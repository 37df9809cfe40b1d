//go:build linux

// Package loop implements the single event-loop goroutine that bridges
// epoll readiness, OS signals, and the sorted idle-connection timer
// list into dispatch onto the worker pool. It is the Go realization of
// the acceptor/event-loop component: one epoll set, a self-pipe for
// signal delivery, and a strictly serialized close path.
package loop

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/oneshot/staticd/internal/httpconn"
	"github.com/oneshot/staticd/internal/reaper"
	"github.com/oneshot/staticd/internal/workpool"
)

// Config bounds the event loop's resource usage, mirroring spec.md §6's
// compile-time constants as runtime-configurable fields.
type Config struct {
	Port        int
	DocRoot     string
	MaxFD       int
	MaxEvents   int
	TimeSlot    time.Duration
	Threads     int
	MaxRequests int

	// RespondBusy switches worker-queue saturation from a silent drop
	// to a canned 503 Service Unavailable, per SPEC_FULL.md's queue-
	// saturation resolution.
	RespondBusy bool
}

// idleAfter returns the idle deadline granted to a freshly accepted or
// recently active connection: three times TimeSlot (3·TIMESLOT, per
// spec.md §4.4 and §6).
func (c Config) idleAfter() time.Duration {
	return 3 * c.TimeSlot
}

// Loop owns the epoll set, the self-pipe, the timer list, and the
// per-fd connection/timer-data tables. Only the serve goroutine ever
// reads or writes those tables: a worker holds its Conn directly and
// never touches the loop's bookkeeping, which is why a worker wanting
// a connection closed funnels the request through closeCh instead of
// closing it inline.
type Loop struct {
	cfg    Config
	logger *logrus.Entry

	epfd     int
	listenFD int
	pipeR    int
	pipeW    int

	pool   *workpool.Pool
	timers *reaper.List

	conns      map[int]*httpconn.Conn
	clientData map[int]*reaper.ClientData

	closeCh  chan int
	stopCh   chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	pendingTimeout bool
}

// requestStop closes stopCh exactly once, however shutdown was
// triggered (an external Stop call, a self-pipe-delivered SIGTERM, or
// a fatal epoll_wait error), so signalBridge and alarmTicker always
// observe it and exit.
func (l *Loop) requestStop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// New creates the epoll set, the self-pipe, and the listening socket,
// and starts the worker pool. The Loop is not yet running events until
// Run is called.
func New(cfg Config, logger *logrus.Entry) (*Loop, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("socketpair: %w", err)
	}
	pipeR, pipeW := fds[0], fds[1]
	if err := unix.SetNonblock(pipeW, true); err != nil {
		unix.Close(epfd)
		unix.Close(pipeR)
		unix.Close(pipeW)
		return nil, fmt.Errorf("set self-pipe write end non-blocking: %w", err)
	}
	if err := unix.SetNonblock(pipeR, true); err != nil {
		unix.Close(epfd)
		unix.Close(pipeR)
		unix.Close(pipeW)
		return nil, fmt.Errorf("set self-pipe read end non-blocking: %w", err)
	}

	listenFD, err := listen(cfg.Port)
	if err != nil {
		unix.Close(epfd)
		unix.Close(pipeR)
		unix.Close(pipeW)
		return nil, err
	}

	if err := addFD(epfd, listenFD, unix.EPOLLIN, false); err != nil {
		unix.Close(epfd)
		unix.Close(pipeR)
		unix.Close(pipeW)
		unix.Close(listenFD)
		return nil, fmt.Errorf("register listen fd: %w", err)
	}
	if err := addFD(epfd, pipeR, unix.EPOLLIN, false); err != nil {
		unix.Close(epfd)
		unix.Close(pipeR)
		unix.Close(pipeW)
		unix.Close(listenFD)
		return nil, fmt.Errorf("register self-pipe: %w", err)
	}

	pool, err := workpool.New(cfg.Threads, cfg.MaxRequests)
	if err != nil {
		unix.Close(epfd)
		unix.Close(pipeR)
		unix.Close(pipeW)
		unix.Close(listenFD)
		return nil, err
	}

	l := &Loop{
		cfg:        cfg,
		logger:     logger,
		epfd:       epfd,
		listenFD:   listenFD,
		pipeR:      pipeR,
		pipeW:      pipeW,
		pool:       pool,
		timers:     reaper.NewList(),
		conns:      make(map[int]*httpconn.Conn),
		clientData: make(map[int]*reaper.ClientData),
		closeCh:    make(chan int, 64),
		stopCh:     make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	return l, nil
}

// Run bridges SIGTERM into shutdown and SIGALRM-equivalent periodic
// reaping into the self-pipe, then drives the epoll loop until ctx is
// canceled or a termination signal arrives. It blocks until the loop
// has torn everything down.
func (l *Loop) Run(ctx context.Context) error {
	signal.Ignore(syscall.SIGPIPE)

	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go l.signalBridge(ctx, sigCh)
	go l.alarmTicker(ctx)

	defer close(l.stopped)
	return l.serve()
}

// signalBridge relays a received SIGTERM into the self-pipe exactly
// like the original's sig_handler, so the epoll thread learns about it
// as ordinary read-readiness rather than through asynchronous-signal-
// unsafe state.
func (l *Loop) signalBridge(ctx context.Context, sigCh <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			l.writeSelfPipe(unix.SIGTERM)
			return
		case <-sigCh:
			l.writeSelfPipe(unix.SIGTERM)
		case <-l.stopCh:
			return
		}
	}
}

// alarmTicker is the Go-idiomatic replacement for SIGALRM: a
// time.Ticker firing every TimeSlot writes a synthetic "alarm" byte
// into the self-pipe, preserving the self-pipe-as-sole-wakeup
// architecture without requiring a real signal handler.
func (l *Loop) alarmTicker(ctx context.Context) {
	t := time.NewTicker(l.cfg.TimeSlot)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-t.C:
			l.writeSelfPipe(unix.SIGALRM)
		}
	}
}

func (l *Loop) writeSelfPipe(sig int) {
	b := [1]byte{byte(sig)}
	_, _ = unix.Write(l.pipeW, b[:])
}

// serve is the translation of main.cpp's epoll_wait loop.
func (l *Loop) serve() error {
	events := make([]unix.EpollEvent, l.cfg.MaxEvents)
	timeout := false

	for {
		select {
		case <-l.stopCh:
			return l.shutdown()
		default:
		}

		n, err := unix.EpollWait(l.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			l.logger.WithError(err).Error("epoll_wait failed")
			return l.shutdown()
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			mask := events[i].Events

			switch {
			case fd == l.listenFD:
				l.acceptLoop()
			case mask&(unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0:
				l.closeConn(fd)
			case fd == l.pipeR && mask&unix.EPOLLIN != 0:
				if stop := l.drainSelfPipe(); stop {
					return l.shutdown()
				}
				if l.pendingTimeout {
					timeout = true
					l.pendingTimeout = false
				}
			case mask&unix.EPOLLIN != 0:
				l.handleReadable(fd)
			case mask&unix.EPOLLOUT != 0:
				l.handleWritable(fd)
			}
		}

		// Drain any closes workers requested mid-batch before acting on
		// the timer tick, so a just-closed fd's timer is gone first.
		l.drainCloseRequests()

		if timeout {
			l.timers.Tick(time.Now())
			timeout = false
		}
	}
}

// drainSelfPipe reads the queued signal bytes, 1024 at a time until the
// pipe is empty, and interprets each one like main.cpp's pipefd[0]
// branch: SIGALRM marks a
// pending timer tick (handled after the event batch, not inline, so
// I/O keeps priority), SIGTERM requests shutdown.
func (l *Loop) drainSelfPipe() (stop bool) {
	var buf [1024]byte
	for {
		n, err := unix.Read(l.pipeR, buf[:])
		if err != nil || n <= 0 {
			return stop
		}
		for _, b := range buf[:n] {
			switch int(b) {
			case unix.SIGALRM:
				l.pendingTimeout = true
			case unix.SIGTERM:
				stop = true
			}
		}
		if n < len(buf) {
			return stop
		}
	}
}

// acceptLoop accepts connections until EAGAIN, enforcing the MAX_FD
// live-connection cap and seeding both the Conn and its ClientData/
// Timer pair, exactly as main.cpp's accept branch does.
func (l *Loop) acceptLoop() {
	for {
		fd, sa, err := unix.Accept4(l.listenFD, unix.SOCK_NONBLOCK)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			l.logger.WithError(err).Debug("accept failed")
			return
		}

		if len(l.conns) >= l.cfg.MaxFD {
			unix.Close(fd)
			continue
		}

		peer := sockaddrToNetAddr(sa)
		conn := httpconn.New(fd, peer, l.cfg.DocRoot, l)

		if err := addFD(l.epfd, fd, unix.EPOLLIN, true); err != nil {
			l.logger.WithError(err).Warn("register accepted fd failed")
			unix.Close(fd)
			continue
		}

		data := &reaper.ClientData{Addr: peer, FD: fd}
		timer := reaper.NewTimer(time.Now().Add(l.cfg.idleAfter()), l.reapCallback, data)
		l.timers.Add(timer)

		l.conns[fd] = conn
		l.clientData[fd] = data

		l.logger.WithField("fd", fd).WithField("peer", peer).Debug("accepted connection")
	}
}

// reapCallback is the timer list's deadline callback: it requests the
// fd be closed, same disposition as main.cpp's cb_func, but funneled
// through the same serialized close path workers use.
func (l *Loop) reapCallback(data *reaper.ClientData) {
	l.RequestClose(data.FD)
}

// handleReadable drains the socket and, on success, hands the
// connection to the worker pool and pushes its idle deadline out. A
// saturated pool silently drops the buffered request per spec.md §7 and
// re-arms the fd for read, unless RespondBusy is enabled, in which case
// a canned 503 is sent instead; a read failure deletes the timer and
// closes the connection (both done by closeConn).
func (l *Loop) handleReadable(fd int) {
	conn := l.conns[fd]
	data := l.clientData[fd]
	if conn == nil {
		return
	}

	if !conn.Read() {
		l.closeConn(fd)
		return
	}

	if !l.pool.Append(conn) {
		if l.cfg.RespondBusy {
			conn.RespondBusy()
		} else {
			conn.ResetBuffer()
			l.RearmRead(fd)
		}
		return
	}

	if data != nil && data.Timer() != nil {
		data.Timer().Expire = time.Now().Add(l.cfg.idleAfter())
		l.timers.Adjust(data.Timer())
	}
}

// handleWritable performs the actual scatter-gather write on EPOLLOUT,
// in the event-loop goroutine itself rather than a worker — mirroring
// main.cpp, where only the first (header-assembly) write pass happens
// inside process(); every subsequent partial write is driven by the
// main thread's own write() call on EPOLLOUT.
func (l *Loop) handleWritable(fd int) {
	conn := l.conns[fd]
	if conn == nil {
		return
	}
	if !conn.Write() {
		l.closeConn(fd)
	}
}

// drainCloseRequests applies every close a worker or the reaper
// requested since the previous batch. Workers and the reaper never
// close an fd themselves; together with the direct closeConn calls in
// serve, handleReadable, handleWritable and shutdown, every close runs
// on the event-loop goroutine, closing the "known race" spec.md flags
// between a worker's rearm and the event loop's own hangup-driven close.
func (l *Loop) drainCloseRequests() {
	for {
		select {
		case fd := <-l.closeCh:
			l.closeConn(fd)
		default:
			return
		}
	}
}

func (l *Loop) closeConn(fd int) {
	data, ok := l.clientData[fd]
	delete(l.conns, fd)
	delete(l.clientData, fd)
	if !ok {
		return
	}

	if data.Timer() != nil {
		l.timers.Delete(data.Timer())
	}
	_ = removeFD(l.epfd, fd)
	unix.Close(fd)
}

// Stop requests a graceful shutdown and waits for the loop to exit.
func (l *Loop) Stop() {
	l.requestStop()
	<-l.stopped
}

func (l *Loop) shutdown() error {
	l.requestStop()
	fds := make([]int, 0, len(l.conns))
	for fd := range l.conns {
		fds = append(fds, fd)
	}
	for _, fd := range fds {
		l.closeConn(fd)
	}

	unix.Close(l.epfd)
	unix.Close(l.listenFD)
	unix.Close(l.pipeR)
	unix.Close(l.pipeW)
	l.pool.Close()
	return nil
}
