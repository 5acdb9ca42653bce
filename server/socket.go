package server

import (
	"fmt"
	"net"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// listen creates, binds and listens on an IPv4 TCP socket step by step, emitting a status event after each step.
// On failure the socket is closed and an *OpError is returned.
func (s *Server) listen() (net.Listener, error) {
	// writes to a disconnected client must fail with EPIPE, not stop the process
	signal.Ignore(unix.SIGPIPE)

	addr, port, err := s.cfg.sockaddr()
	if err != nil {
		return nil, &OpError{Op: OpSocket, Err: err}
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, &OpError{Op: OpSocket, Err: err}
	}
	s.emit(newEvent(EventSocketCreated))

	fail := func(op string, err error) (net.Listener, error) {
		unix.Close(fd)
		return nil, &OpError{Op: op, Err: err}
	}

	// allow rebinding right after a previous run while its connections are in TIME_WAIT
	err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if err != nil {
		return fail(OpBind, err)
	}
	err = unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: addr.As4()})
	if err != nil {
		return fail(OpBind, err)
	}
	s.emit(newEvent(EventBound))

	err = unix.Listen(fd, unix.SOMAXCONN)
	if err != nil {
		return fail(OpListen, err)
	}

	// FileListener dups the descriptor, so the file is closed either way
	f := os.NewFile(uintptr(fd), fmt.Sprintf("tcp:%s", s.cfg.ListenAddr))
	ln, err := net.FileListener(f)
	f.Close()
	if err != nil {
		return nil, &OpError{Op: OpListen, Err: err}
	}
	// Addr must be valid by the time the listening event is delivered
	s.addrMut.Lock()
	s.addr = ln.Addr()
	s.addrMut.Unlock()
	s.emit(newEvent(EventListening))
	return ln, nil
}
