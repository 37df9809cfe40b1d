package httpconn

import "fmt"

// statusLine holds the wire status and the canned body for every
// non-200 outcome. The 200 body is never canned text: it is the
// mmap'd file region sliced into the I/O vector by assembleResponse.
type statusLine struct {
	code   int
	reason string
	body   string
}

var statusFor = map[Code]statusLine{
	BadRequest:       {400, "Bad Request", badRequestBody},
	NoResource:       {404, "Not Found", notFoundBody},
	ForbiddenRequest: {403, "Forbidden", forbiddenBody},
	InternalError:    {500, "Internal Error", internalErrorBody},
	ServiceBusy:      {503, "Service Unavailable", serviceBusyBody},
}

const (
	badRequestBody    = "Your request has bad syntax or is inherently impossible to satisfy.\n"
	notFoundBody      = "The requested file was not found on this server.\n"
	forbiddenBody     = "You do not have permission to get the requested file from this server.\n"
	internalErrorBody = "There was an unusual problem serving the requested file.\n"
	serviceBusyBody   = "The server is too busy to handle your request right now.\n"
)

// assembleResponse writes the status line, headers, blank line, and
// (for errors) canned body into writeBuf, then builds the scatter-
// gather I/O vector: two slots for a 200 (header + mmap region), one
// slot for an error or for a 200 serving an empty file. It returns false on write-buffer overflow, per the
// contract that response-assembly overflow always closes the
// connection.
func (c *Conn) assembleResponse(ret Code) bool {
	if ret == FileRequest {
		return c.assembleFileResponse()
	}

	sl, ok := statusFor[ret]
	if !ok {
		sl = statusFor[InternalError]
	}
	return c.assembleErrorResponse(sl)
}

func (c *Conn) assembleFileResponse() bool {
	if !c.addStatusLine(200, "OK") {
		return false
	}
	if !c.addContentLength(c.fileSize) {
		return false
	}
	if !c.addContentType() {
		return false
	}
	if !c.addKeepAlive() {
		return false
	}
	if !c.addBlankLine() {
		return false
	}

	header := append([]byte(nil), c.writeBuf[:c.writeIndex]...)
	if c.fileSize > 0 {
		c.iov = [][]byte{header, c.mapped[:c.fileSize]}
	} else {
		c.iov = [][]byte{header}
	}
	c.bytesToSend = int64(c.writeIndex) + c.fileSize
	return true
}

func (c *Conn) assembleErrorResponse(sl statusLine) bool {
	if ret := c.closeOnAssembly(sl); !ret {
		return false
	}

	header := append([]byte(nil), c.writeBuf[:c.writeIndex]...)
	c.iov = [][]byte{header}
	c.bytesToSend = int64(c.writeIndex)
	return true
}

// closeOnAssembly writes an error response's header block and body.
// Error responses are never keep-alive: the original server always
// closes after a non-200 reply, and this port preserves that.
func (c *Conn) closeOnAssembly(sl statusLine) bool {
	c.keepAlive = false

	if !c.addStatusLine(sl.code, sl.reason) {
		return false
	}
	if !c.addContentLength(int64(len(sl.body))) {
		return false
	}
	if !c.addContentType() {
		return false
	}
	if !c.addConnection(false) {
		return false
	}
	if !c.addBlankLine() {
		return false
	}
	return c.addContent(sl.body)
}

// addResponse appends a formatted fragment to writeBuf, reporting
// overflow rather than ever writing past WriteBufferSize.
func (c *Conn) addResponse(format string, args ...any) bool {
	s := fmt.Sprintf(format, args...)
	if c.writeIndex+len(s) > WriteBufferSize {
		return false
	}
	copy(c.writeBuf[c.writeIndex:], s)
	c.writeIndex += len(s)
	return true
}

func (c *Conn) addStatusLine(code int, reason string) bool {
	return c.addResponse("HTTP/1.1 %d %s\r\n", code, reason)
}

func (c *Conn) addContentLength(n int64) bool {
	return c.addResponse("Content-Length: %d\r\n", n)
}

func (c *Conn) addContentType() bool {
	return c.addResponse("Content-Type: text/html\r\n")
}

func (c *Conn) addKeepAlive() bool {
	return c.addConnection(c.keepAlive)
}

func (c *Conn) addConnection(keepAlive bool) bool {
	if keepAlive {
		return c.addResponse("Connection: keep-alive\r\n")
	}
	return c.addResponse("Connection: close\r\n")
}

func (c *Conn) addBlankLine() bool {
	return c.addResponse("\r\n")
}

func (c *Conn) addContent(body string) bool {
	return c.addResponse("%s", body)
}
