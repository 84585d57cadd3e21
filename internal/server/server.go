package server

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"saltbox/internal/config"
	"saltbox/internal/db"
	"saltbox/internal/logger"
	"saltbox/internal/repl"
)

// Server accepts inbound TCP connections and runs one session per
// connection. On replicas it also dials the upstream master and drives the
// replication feed through the same session loop.
type Server struct {
	cfg    config.Config
	db     *db.Db
	ln     net.Listener
	addr   string
	closed atomic.Bool
}

func New(cfg config.Config) *Server {
	return &Server{
		cfg: cfg,
		db:  db.New(cfg),
	}
}

// Start binds the listener, starts the DB actor, and, on a replica, kicks
// off replication. A bind failure is returned to the caller and is fatal.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.cfg.ListenAddr(), err)
	}
	s.ln = ln
	s.addr = ln.Addr().String()

	go s.db.Run()
	go s.serve()

	if s.cfg.Role == config.RoleSlave {
		go s.replicate()
	}
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string { return s.addr }

// DB exposes the actor, mainly so tests can submit queries directly.
func (s *Server) DB() *db.Db { return s.db }

// Close stops accepting connections and stops the DB actor. Established
// sessions end when their peers disconnect.
func (s *Server) Close() error {
	s.closed.Store(true)
	err := s.ln.Close()
	s.db.Stop()
	return err
}

func (s *Server) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Errorf("accept failed: %v", err)
			continue
		}
		rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
		go s.session(conn, rw, false)
	}
}

// replicate dials the master, runs the handshake, loads the snapshot, and
// then consumes the master's command feed over the same connection.
func (s *Server) replicate() {
	masterAddr := s.cfg.MasterAddr()
	proxy, err := repl.DialMaster(masterAddr)
	if err != nil {
		logger.Errorf("replication: %v", err)
		return
	}

	snapshot, err := proxy.Handshake(s.cfg.Port)
	if err != nil {
		logger.Errorf("replication handshake with %s failed: %v", masterAddr, err)
		_ = proxy.Conn().Close()
		return
	}
	logger.Infof("replication handshake with %s complete", masterAddr)
	s.db.LoadSnapshot(snapshot)

	s.session(proxy.Conn(), proxy.Stream(), true)
}
