package httpconn

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func joinVec(vec [][]byte) string {
	var sb strings.Builder
	for _, v := range vec {
		sb.Write(v)
	}
	return sb.String()
}

func TestAssembleFileResponseMatchesScenario(t *testing.T) {
	dir := t.TempDir()
	body := "hello world\n"
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	c := &Conn{docRoot: dir, url: "/index.html", loop: &fakeRearmer{}}
	ret := c.doRequest()
	if ret != FileRequest {
		t.Fatalf("doRequest = %v, want FileRequest", ret)
	}
	defer c.unmap()

	if !c.assembleResponse(ret) {
		t.Fatalf("assembleResponse reported overflow")
	}

	got := joinVec(c.iov)
	want := "HTTP/1.1 200 OK\r\nContent-Length: 12\r\nContent-Type: text/html\r\nConnection: close\r\n\r\nhello world\n"
	if got != want {
		t.Fatalf("response = %q, want %q", got, want)
	}
	if c.bytesToSend != int64(len(want)) {
		t.Fatalf("bytesToSend = %d, want %d", c.bytesToSend, len(want))
	}
}

func TestAssembleErrorResponseNotFoundMatchesScenario(t *testing.T) {
	dir := t.TempDir()
	c := &Conn{docRoot: dir, url: "/missing", loop: &fakeRearmer{}}

	ret := c.doRequest()
	if ret != NoResource {
		t.Fatalf("doRequest = %v, want NoResource", ret)
	}
	if !c.assembleResponse(ret) {
		t.Fatalf("assembleResponse reported overflow")
	}

	got := joinVec(c.iov)
	want := "HTTP/1.1 404 Not Found\r\nContent-Length: 49\r\nContent-Type: text/html\r\nConnection: close\r\n\r\nThe requested file was not found on this server.\n"
	if got != want {
		t.Fatalf("response = %q, want %q", got, want)
	}
}

func TestAssembleErrorResponseServiceBusyMatchesScenario(t *testing.T) {
	c := newTestConn()
	c.keepAlive = true

	if !c.assembleResponse(ServiceBusy) {
		t.Fatalf("assembleResponse reported overflow")
	}

	got := joinVec(c.iov)
	want := "HTTP/1.1 503 Service Unavailable\r\nContent-Length: " +
		strconv.Itoa(len(serviceBusyBody)) +
		"\r\nContent-Type: text/html\r\nConnection: close\r\n\r\n" + serviceBusyBody
	if got != want {
		t.Fatalf("response = %q, want %q", got, want)
	}
	if c.keepAlive {
		t.Fatalf("503 responses must force Connection: close")
	}
}

func TestAssembleErrorResponseBadRequestClosesConnection(t *testing.T) {
	c := newTestConn()
	c.keepAlive = true

	if !c.assembleResponse(BadRequest) {
		t.Fatalf("assembleResponse reported overflow")
	}
	if c.keepAlive {
		t.Fatalf("error responses must force Connection: close")
	}
	got := joinVec(c.iov)
	if !strings.Contains(got, "400 Bad Request") {
		t.Fatalf("response missing 400 status line: %q", got)
	}
	if !strings.HasSuffix(got, badRequestBody) {
		t.Fatalf("response missing canned body: %q", got)
	}
}

func TestAddResponseReportsOverflow(t *testing.T) {
	c := newTestConn()
	c.writeIndex = WriteBufferSize - 3

	if c.addResponse("this is far too long to fit") {
		t.Fatalf("expected overflow to be reported")
	}
}

func TestDirectoryTargetYieldsBadRequest(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "etc"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	c := &Conn{docRoot: dir, url: "/etc", loop: &fakeRearmer{}}

	if ret := c.doRequest(); ret != BadRequest {
		t.Fatalf("expected BadRequest, got %v", ret)
	}
}
