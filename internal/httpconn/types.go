// Package httpconn implements the per-connection HTTP/1.1 engine: the
// request-line/header parser, the GET-only resolver, the response
// assembler, and the scatter-gather write path that streams a
// memory-mapped file alongside the response header in one syscall.
package httpconn

// CheckState is the main parser state machine's current phase.
type CheckState int

const (
	StateRequestLine CheckState = iota
	StateHeaders
	StateContent
)

// Code is the outcome of parsing and resolving one request.
type Code int

const (
	NoRequest Code = iota
	GetRequest
	BadRequest
	NoResource
	ForbiddenRequest
	FileRequest
	InternalError
	ServiceBusy
)

func (c Code) String() string {
	switch c {
	case NoRequest:
		return "NoRequest"
	case GetRequest:
		return "GetRequest"
	case BadRequest:
		return "BadRequest"
	case NoResource:
		return "NoResource"
	case ForbiddenRequest:
		return "ForbiddenRequest"
	case FileRequest:
		return "FileRequest"
	case InternalError:
		return "InternalError"
	case ServiceBusy:
		return "ServiceBusy"
	default:
		return "Unknown"
	}
}

// lineStatus is the lazy line tokenizer's verdict for one scan.
type lineStatus int

const (
	lineOK lineStatus = iota
	lineBad
	lineOpen
)

const (
	// ReadBufferSize is the fixed size of the per-connection read buffer (N_R).
	ReadBufferSize = 4096
	// WriteBufferSize is the fixed size of the per-connection write buffer (N_W).
	WriteBufferSize = 2048
	// MaxFileNameLen bounds the resolved absolute file path (L_F).
	MaxFileNameLen = 200
)
