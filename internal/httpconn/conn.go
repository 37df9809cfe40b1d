package httpconn

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrPathTooLong is returned by resolve when doc_root+url would not fit
// in the bounded real-file-path buffer. Unlike the original server,
// which silently truncates (a latent aliasing bug spec.md flags), this
// port refuses the request with BadRequest instead. resolve also
// returns it when the canonicalized path falls outside doc_root.
var ErrPathTooLong = errors.New("httpconn: resolved path exceeds buffer")

// Rearmer is the event loop's registration surface. A Conn never calls
// epoll_ctl itself; it only ever asks the loop to flip its armed mask,
// preserving one-shot arming as the sole mutual-exclusion mechanism
// between the loop and whichever worker currently holds the Conn.
type Rearmer interface {
	RearmRead(fd int)
	RearmWrite(fd int)
	RequestClose(fd int)
}

// Conn is one live HTTP/1.1 connection: the read/write buffers, parser
// cursors, resolved file state, and the mmap'd file region backing a
// 200 response. It is created once per accepted fd and Init-reset
// between keep-alive requests.
type Conn struct {
	fd     int
	peer   net.Addr
	docRoot string
	loop   Rearmer

	readBuf  [ReadBufferSize]byte
	checked  int
	startLine int
	filled   int

	state CheckState

	method        string
	url           string
	version       string
	host          string
	contentLength int64
	keepAlive     bool

	realFile string
	fileSize int64
	fileMode os.FileMode

	writeBuf   [WriteBufferSize]byte
	writeIndex int

	mapped []byte

	iov        [][]byte
	bytesToSend int64
	bytesSent   int64
}

// New returns a Conn bound to fd, ready to serve requests rooted at
// docRoot. The caller (the event loop) registers fd for read-readiness
// before handing the Conn to a worker.
func New(fd int, peer net.Addr, docRoot string, loop Rearmer) *Conn {
	c := &Conn{
		fd:      fd,
		peer:    peer,
		docRoot: docRoot,
		loop:    loop,
	}
	c.Init()
	return c
}

// Init resets per-request state, preserving the fd, peer, docRoot, and
// loop back-reference across keep-alive reuse.
func (c *Conn) Init() {
	c.checked = 0
	c.startLine = 0
	c.filled = 0
	c.state = StateRequestLine

	c.method = ""
	c.url = ""
	c.version = ""
	c.host = ""
	c.contentLength = 0
	c.keepAlive = false

	c.realFile = ""
	c.fileSize = 0

	c.writeIndex = 0
	c.iov = nil
	c.bytesToSend = 0
	c.bytesSent = 0

	for i := range c.readBuf {
		c.readBuf[i] = 0
	}
	for i := range c.writeBuf {
		c.writeBuf[i] = 0
	}
}

// FD returns the underlying socket file descriptor.
func (c *Conn) FD() int { return c.fd }

// ResetBuffer discards whatever has been read so far without closing
// the connection, for the worker-queue-saturation path: the request is
// dropped silently and the connection stays open for the next one.
func (c *Conn) ResetBuffer() {
	c.checked = 0
	c.startLine = 0
	c.filled = 0
	c.state = StateRequestLine
}

// Read drains the socket non-blockingly into readBuf[filled:] until
// EAGAIN (success), a zero-byte read (peer closed), or another error.
// It must be called at most once per edge-triggered read-readiness
// event, and returns false immediately if the buffer is already full.
func (c *Conn) Read() bool {
	if c.filled >= ReadBufferSize {
		return false
	}

	for {
		n, err := unix.Read(c.fd, c.readBuf[c.filled:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return true
			}
			return false
		}
		if n == 0 {
			return false
		}
		c.filled += n
		if c.filled >= ReadBufferSize {
			return true
		}
	}
}

// Process is the worker-pool entry point: it drives the request parser
// over whatever has been read so far, and on NoRequest simply re-arms
// for more input. A fully parsed request (or a terminal parse error)
// flows into response assembly and a re-arm for write-readiness.
func (c *Conn) Process() {
	ret := c.processRead()
	if ret == NoRequest {
		c.loop.RearmRead(c.fd)
		return
	}

	if !c.assembleResponse(ret) {
		c.loop.RequestClose(c.fd)
		return
	}
	c.loop.RearmWrite(c.fd)
}

// RespondBusy assembles a canned 503 Service Unavailable response in
// place of processing whatever has been buffered, for the event loop
// to call when the worker pool is saturated and config.RespondBusy is
// enabled. Like every other error response, the connection closes once
// it has been sent.
func (c *Conn) RespondBusy() {
	if !c.assembleResponse(ServiceBusy) {
		c.loop.RequestClose(c.fd)
		return
	}
	c.loop.RearmWrite(c.fd)
}

// doRequest resolves the parsed URL against docRoot and, for a
// regular, world-readable file, establishes the mmap region backing
// the eventual 200 response.
func (c *Conn) doRequest() Code {
	real, err := c.resolve()
	if err != nil {
		return BadRequest
	}
	c.realFile = real

	st, err := os.Stat(real)
	if err != nil {
		return NoResource
	}
	if st.Mode()&0o004 == 0 {
		return ForbiddenRequest
	}
	if st.IsDir() {
		return BadRequest
	}

	f, err := os.Open(real)
	if err != nil {
		return BadRequest
	}
	defer f.Close()

	size := st.Size()
	if size > 0 {
		mapped, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
		if err != nil {
			return BadRequest
		}
		c.mapped = mapped
	} else {
		c.mapped = nil
	}
	c.fileSize = size
	c.fileMode = st.Mode()

	return FileRequest
}

// resolve joins docRoot and the request URL into the bounded real-file
// path. A path that would exceed the buffer is rejected (400) rather
// than silently truncated, and the result is canonicalized and checked
// to still live under docRoot before being returned, closing the
// aliasing hole the original's strncpy-based concatenation left open.
func (c *Conn) resolve() (string, error) {
	joined := c.docRoot + c.url
	if len(joined) >= MaxFileNameLen {
		return "", ErrPathTooLong
	}

	clean := filepath.Clean(joined)
	root := filepath.Clean(c.docRoot)
	if clean != root && !strings.HasPrefix(clean, root+string(filepath.Separator)) {
		return "", ErrPathTooLong
	}
	return clean, nil
}

// unmap releases the mmap'd file region, if any.
func (c *Conn) unmap() {
	if c.mapped != nil {
		_ = unix.Munmap(c.mapped)
		c.mapped = nil
	}
}

// Write issues scatter-gather writes of the current I/O vector until
// it is exhausted, EAGAIN is hit, or a fatal error occurs. On success
// with nothing left to send it unmaps the file and either resets for
// keep-alive reuse (re-arming for read) or signals the caller to close
// by returning false.
func (c *Conn) Write() bool {
	if c.bytesToSend == 0 {
		c.unmap()
		c.loop.RearmRead(c.fd)
		c.Init()
		return true
	}

	for {
		n, err := writev(c.fd, c.iov)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				c.loop.RearmWrite(c.fd)
				return true
			}
			c.unmap()
			return false
		}

		c.bytesSent += int64(n)
		c.bytesToSend -= int64(n)
		c.slideVector(int64(n))

		if c.bytesToSend <= 0 {
			c.unmap()
			if c.keepAlive {
				keep := c.keepAlive
				_ = keep
				c.loop.RearmRead(c.fd)
				c.Init()
				return true
			}
			return false
		}
	}
}

// slideVector advances the two-slot scatter-gather vector by n bytes
// sent: once the header slot is exhausted it collapses to the mapped
// file region at the correct offset, otherwise it slides the header
// slot forward in place.
func (c *Conn) slideVector(n int64) {
	if len(c.iov) == 0 {
		return
	}

	headerLen := int64(0)
	if len(c.iov) > 0 {
		headerLen = int64(len(c.iov[0]))
	}

	if n >= headerLen {
		rest := n - headerLen
		if len(c.iov) > 1 {
			c.iov = [][]byte{c.iov[1][rest:]}
		} else {
			c.iov = nil
		}
		return
	}

	c.iov[0] = c.iov[0][n:]
}

// writev performs one scatter-gather write of vec over fd.
func writev(fd int, vec [][]byte) (int, error) {
	if len(vec) == 0 {
		return 0, nil
	}
	n, err := unix.Writev(fd, vec)
	if err != nil {
		return int(n), err
	}
	return int(n), nil
}
