// Package server exposes the database over a line-oriented TCP protocol:
// length-prefixed JSON requests dispatched onto the storage facade, one
// response per request, in submission order per connection.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bobboyms/tsdb/pkg/storage"
)

// DefaultPort is the stock listen port.
const DefaultPort = 9999

// Server accepts connections and feeds decoded operations to the
// database facade. The facade serializes the operations themselves; the
// server only frames and logs.
type Server struct {
	db     *storage.Database
	addr   string
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[string]net.Conn
	wg       sync.WaitGroup
}

// New builds a server for db listening on addr (":9999" style).
func New(db *storage.Database, addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		db:     db,
		addr:   addr,
		logger: logger,
		conns:  make(map[string]net.Conn),
	}
}

// Run listens until ctx is cancelled. Cancellation closes the listener
// and every open connection; in-flight operations run to completion and
// their responses are discarded with the sockets.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("server listening", zap.String("addr", listener.Addr().String()))

	go func() {
		<-ctx.Done()
		s.shutdown()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		id := uuid.NewString()
		s.mu.Lock()
		s.conns[id] = conn
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(ctx, id, conn)
	}

	s.wg.Wait()
	return nil
}

// Addr returns the bound listen address once Run has opened it.
func (s *Server) Addr() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return "", false
	}
	return s.listener.Addr().String(), true
}

func (s *Server) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		s.listener.Close()
	}
	for _, conn := range s.conns {
		conn.Close()
	}
}

func (s *Server) dropConn(id string, conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
	conn.Close()
}

// serveConn reads frames until the peer disconnects. Operations on one
// connection execute and respond in submission order.
func (s *Server) serveConn(ctx context.Context, id string, conn net.Conn) {
	defer s.wg.Done()
	defer s.dropConn(id, conn)

	log := s.logger.With(zap.String("conn", id), zap.String("remote", conn.RemoteAddr().String()))
	log.Debug("connection made")

	reader := bufio.NewReader(conn)
	for {
		msg, err := ReadFrame(reader)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrUnexpectedEOF) {
				log.Warn("failed to read frame", zap.Error(err))
			}
			log.Debug("connection lost")
			return
		}

		response := s.dispatch(ctx, msg)

		out, err := Serialize(response)
		if err != nil {
			log.Error("failed to encode response", zap.Error(err))
			return
		}
		if _, err := conn.Write(out); err != nil {
			// the socket went away while the operation ran; the work is
			// committed, the response is dropped
			log.Debug("failed to write response", zap.Error(err))
			return
		}

		log.Debug("operation served",
			zap.String("op", response.Op),
			zap.String("status", string(response.Status)))
	}
}

func zapOp(op string) zap.Field {
	return zap.String("op", op)
}

func zapErr(err error) zap.Field {
	return zap.Error(err)
}
