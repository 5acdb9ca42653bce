package server

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/docker/go-connections/nat"
	"github.com/guseggert/streamserver/server/relay"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	DefaultListenAddr     = "0.0.0.0:8080"
	DefaultReadBufferSize = 1024
	DefaultChunkSize      = relay.DefaultChunkSize
	DefaultShell          = "/bin/sh"
)

// Config is fixed for the lifetime of a Server.
type Config struct {
	ListenAddr string
	// ReadBufferSize bounds the single read of the request.
	ReadBufferSize int
	// ChunkSize bounds each read of the command output.
	ChunkSize int
	Shell     string
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:     DefaultListenAddr,
		ReadBufferSize: DefaultReadBufferSize,
		ChunkSize:      DefaultChunkSize,
		Shell:          DefaultShell,
	}
}

// sockaddr resolves ListenAddr to an IPv4 address and port.
func (c Config) sockaddr() (netip.Addr, int, error) {
	host, portStr, err := net.SplitHostPort(c.ListenAddr)
	if err != nil {
		return netip.Addr{}, 0, fmt.Errorf("parsing listen address %q: %w", c.ListenAddr, err)
	}
	port, err := nat.ParsePort(portStr)
	if err != nil {
		return netip.Addr{}, 0, fmt.Errorf("parsing listen port %q: %w", portStr, err)
	}
	if host == "" {
		host = "0.0.0.0"
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, 0, fmt.Errorf("parsing listen host %q: %w", host, err)
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return netip.Addr{}, 0, fmt.Errorf("listen host %q is not an IPv4 address", host)
	}
	return addr, port, nil
}

func (c Config) validate() error {
	if _, _, err := c.sockaddr(); err != nil {
		return err
	}
	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("read buffer size must be positive, got %d", c.ReadBufferSize)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.Shell == "" {
		return fmt.Errorf("shell must not be empty")
	}
	return nil
}

type Option func(s *Server)

func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.cfg.ListenAddr = addr
	}
}

func WithReadBufferSize(n int) Option {
	return func(s *Server) {
		s.cfg.ReadBufferSize = n
	}
}

func WithChunkSize(n int) Option {
	return func(s *Server) {
		s.cfg.ChunkSize = n
	}
}

func WithShell(shell string) Option {
	return func(s *Server) {
		s.cfg.Shell = shell
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.log = l.Named("streamserver").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(s *Server) {
		s.log = s.log.WithOptions(zap.IncreaseLevel(l))
	}
}
