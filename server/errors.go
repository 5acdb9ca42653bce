package server

import (
	"errors"
	"fmt"
)

// ErrNoStatusFunc is returned when the server is built without a status callback.
var ErrNoStatusFunc = errors.New("argument 2 must be a function")

const (
	OpSocket      = "socket"
	OpBind        = "bind"
	OpListen      = "listen"
	OpAccept      = "accept"
	OpGetsockname = "getsockname"
	OpRead        = "read"
	OpWrite       = "write"
	OpPopen       = "popen"
)

// OpError is a failed server operation.
// Socket setup failures are fatal and returned from Run, the rest are emitted as EventError.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	switch e.Op {
	case OpBind, OpListen:
		return fmt.Sprintf("webserver (%s): %s", e.Op, e.Err)
	}
	return fmt.Sprintf("server error (%s): %s", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }
