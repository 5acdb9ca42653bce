package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/guseggert/streamserver/server/relay"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Server streams the standard output of a shell command to the first client that sends a GET request.
// OPTIONS preflights are answered with the response headers only and any number of them may precede the GET.
// Connections are handled one at a time on the goroutine that calls Run.
type Server struct {
	log      *zap.SugaredLogger
	cfg      Config
	command  string
	onStatus StatusFunc

	addrMut sync.Mutex
	addr    net.Addr
}

// New constructs a server that runs command for the GET request.
func New(command string, onStatus StatusFunc, opts ...Option) (*Server, error) {
	if onStatus == nil {
		return nil, ErrNoStatusFunc
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	s := &Server{
		log:      logger.Named("streamserver").Sugar().WithOptions(zap.IncreaseLevel(zapcore.InfoLevel)),
		cfg:      DefaultConfig(),
		command:  command,
		onStatus: onStatus,
	}
	for _, o := range opts {
		o(s)
	}
	err = s.cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return s, nil
}

// Serve listens on the configured address and streams command to the first GET client, reporting progress as plain strings.
func Serve(ctx context.Context, command string, onStatus func(string), opts ...Option) error {
	s, err := New(command, Lines(onStatus), opts...)
	if err != nil {
		return err
	}
	return s.Run(ctx)
}

// Addr returns the address the server is listening on, or nil before it is listening.
func (s *Server) Addr() net.Addr {
	s.addrMut.Lock()
	defer s.addrMut.Unlock()
	return s.addr
}

func (s *Server) emit(e Event) {
	s.onStatus(e)
}

// Run listens and serves connections until a GET request has been relayed.
// Socket setup failures and spawn failures are returned.
// If ctx is canceled while waiting for a connection, Run returns the context error.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}
	defer ln.Close()
	s.log.Infow("listening", "Addr", ln.Addr().String(), "Command", s.command)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-stop:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.emit(errorEvent(&OpError{Op: OpAccept, Err: err}))
			continue
		}
		s.emit(newEvent(EventAccepted))

		done, err := s.handle(conn)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// handle serves one connection and closes it. It returns true once a GET has been served.
func (s *Server) handle(conn net.Conn) (bool, error) {
	defer conn.Close()
	log := s.log.With("conn", uuid.NewString())

	peer, err := peerIP(conn)
	if err != nil {
		s.emit(errorEvent(&OpError{Op: OpGetsockname, Err: err}))
		return false, nil
	}

	buf := make([]byte, s.cfg.ReadBufferSize)
	n, err := conn.Read(buf)
	if err != nil && !(errors.Is(err, io.EOF) && n == 0) {
		s.emit(errorEvent(&OpError{Op: OpRead, Err: err}))
		return false, nil
	}

	req := &Request{PeerIP: peer}
	req.Method, req.Target, req.Version = parseRequestLine(buf[:n])
	log.Debugw("got request", "Peer", req.PeerIP, "Method", req.Method, "Target", req.Target, "Version", req.Version)
	s.emit(requestEvent(req))

	switch req.Method {
	case "OPTIONS":
		err = s.writeHeader(conn)
		if err != nil {
			s.emit(errorEvent(err))
		}
		return false, nil
	case "GET":
		err = s.writeHeader(conn)
		if err != nil {
			s.emit(errorEvent(err))
			return false, nil
		}
		return true, s.relay(log, conn)
	default:
		log.Debugw("ignoring request", "Method", req.Method)
		return false, nil
	}
}

func (s *Server) writeHeader(conn net.Conn) error {
	_, err := io.WriteString(conn, responseHeader)
	if err != nil {
		return &OpError{Op: OpWrite, Err: err}
	}
	return nil
}

func (s *Server) relay(log *zap.SugaredLogger, conn net.Conn) error {
	proc, err := relay.Start(log.Named("relay"), s.cfg.Shell, s.command)
	if err != nil {
		return &OpError{Op: OpPopen, Err: err}
	}
	defer proc.Close()

	res, err := proc.CopyTo(conn, s.cfg.ChunkSize)
	if err != nil {
		s.emit(errorEvent(&OpError{Op: OpRead, Err: err}))
		return nil
	}
	if res.Aborted {
		log.Debugw("client went away", "Error", res.WriteErr, "Written", res.Written)
		s.emit(newEvent(EventAborted))
		return nil
	}
	log.Infow("relay finished", "Written", res.Written, "ExitCode", res.ExitCode)
	return nil
}

func peerIP(conn net.Conn) (string, error) {
	addr := conn.RemoteAddr()
	if addr == nil {
		return "", errors.New("no peer address")
	}
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.IP.String(), nil
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "", fmt.Errorf("parsing peer address %q: %w", addr, err)
	}
	return host, nil
}
