package socket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/sourcegraph/conc"
)

const (
	defaultReadTimeout = 500 * time.Millisecond
	maxPayloadSize     = 1 << 20
)

// Handler answers one payload with the reply written back to the sender.
type Handler interface {
	HandleLocalPayload(ctx context.Context, data []byte) string
}

// Server accepts check results from local processes over TCP and UDP on the
// same address.
type Server struct {
	log         *slog.Logger
	addr        string
	handler     Handler
	readTimeout time.Duration

	tcp net.Listener
	udp net.PacketConn
}

func NewServer(log *slog.Logger, addr string, handler Handler) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:         log.With(slog.String("component", "socket")),
		addr:        addr,
		handler:     handler,
		readTimeout: defaultReadTimeout,
	}
}

// Listen binds both sockets. With port 0 the UDP socket gets the port the
// TCP listener was given.
func (s *Server) Listen() error {
	tcp, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on tcp %s: %w", s.addr, err)
	}

	udp, err := net.ListenPacket("udp", tcp.Addr().String())
	if err != nil {
		_ = tcp.Close()
		return fmt.Errorf("failed to listen on udp %s: %w", tcp.Addr(), err)
	}

	s.tcp, s.udp = tcp, udp
	return nil
}

func (s *Server) TCPAddr() net.Addr { return s.tcp.Addr() }

func (s *Server) UDPAddr() net.Addr { return s.udp.LocalAddr() }

// Serve runs until ctx is done. Listen must have been called.
func (s *Server) Serve(ctx context.Context) error {
	if s.tcp == nil || s.udp == nil {
		return errors.New("socket server is not listening")
	}
	s.log.Info("socket server started", slog.String("address", s.tcp.Addr().String()))

	var wg conc.WaitGroup
	wg.Go(func() {
		<-ctx.Done()
		_ = s.tcp.Close()
		_ = s.udp.Close()
	})
	wg.Go(func() { s.serveTCP(ctx) })
	wg.Go(func() { s.serveUDP(ctx) })
	wg.Wait()

	s.log.Info("socket server stopped")
	return nil
}

func (s *Server) serveTCP(ctx context.Context) {
	var conns conc.WaitGroup
	defer conns.Wait()

	for {
		conn, err := s.tcp.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error("failed to accept connection", slog.String("error", err.Error()))
			continue
		}
		conns.Go(func() { s.handleConn(ctx, conn) })
	}
}

// handleConn reads until the payload is complete: "ping", a full JSON
// document, the peer closing its side, or a read timeout.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var buf bytes.Buffer
	chunk := make([]byte, 4096)
	for buf.Len() < maxPayloadSize {
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		n, err := conn.Read(chunk)
		buf.Write(chunk[:n])

		if complete(buf.Bytes()) {
			break
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrDeadlineExceeded) {
				s.log.Debug("failed to read payload", slog.String("error", err.Error()))
				return
			}
			break
		}
	}

	if len(bytes.TrimSpace(buf.Bytes())) == 0 {
		return
	}

	reply := s.handler.HandleLocalPayload(ctx, buf.Bytes())
	if _, err := conn.Write([]byte(reply)); err != nil {
		s.log.Debug("failed to write reply", slog.String("error", err.Error()))
	}
}

func (s *Server) serveUDP(ctx context.Context) {
	packet := make([]byte, 64*1024)
	for {
		n, addr, err := s.udp.ReadFrom(packet)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error("failed to read datagram", slog.String("error", err.Error()))
			continue
		}

		data := append([]byte(nil), packet[:n]...)
		reply := s.handler.HandleLocalPayload(ctx, data)
		if _, err := s.udp.WriteTo([]byte(reply), addr); err != nil {
			s.log.Debug("failed to write reply", slog.String("error", err.Error()), slog.String("peer", addr.String()))
		}
	}
}

func complete(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return false
	}
	return string(trimmed) == "ping" || json.Valid(trimmed)
}
