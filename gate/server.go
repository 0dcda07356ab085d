// Package gate exposes named services to TCP clients. Every frame is a
// length-prefixed CBOR envelope; a frame carrying a session is a call
// and gets exactly one reply frame, a frame without one is a send.
package gate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/najoast/sndispatch/codec"
	"github.com/najoast/sndispatch/core"
)

// Options configures a Server.
type Options struct {
	// Address to listen on, host:port
	Address string

	// MaxFrame bounds the CBOR body of one frame
	MaxFrame int

	// MaxConnections caps concurrent clients; 0 means unlimited
	MaxConnections int

	// ReadTimeout closes idle connections; 0 disables it
	ReadTimeout time.Duration

	// WriteTimeout bounds a single flush to the client
	WriteTimeout time.Duration

	// CallTimeout bounds every call forwarded into the system
	CallTimeout time.Duration
}

// DefaultOptions returns options for a local gate.
func DefaultOptions() Options {
	return Options{
		Address:      "127.0.0.1:8888",
		MaxFrame:     1 << 20,
		WriteTimeout: 10 * time.Second,
		CallTimeout:  30 * time.Second,
	}
}

// Server forwards client frames into a core.System.
type Server struct {
	sys      *core.System
	opts     Options
	listener net.Listener
	running  atomic.Bool

	conns   map[uuid.UUID]*conn
	connsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	totalConnections   atomic.Int64
	currentConnections atomic.Int64
	rejected           atomic.Int64
	totalFrames        atomic.Int64
	startTime          time.Time
}

// Statistics is a snapshot of server counters.
type Statistics struct {
	Address            string
	Running            bool
	StartTime          time.Time
	Uptime             time.Duration
	TotalConnections   int64
	CurrentConnections int64
	Rejected           int64
	TotalFrames        int64
}

// NewServer creates a gate in front of sys.
func NewServer(sys *core.System, opts Options) *Server {
	if opts.MaxFrame <= 0 {
		opts.MaxFrame = DefaultOptions().MaxFrame
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		sys:    sys,
		opts:   opts,
		conns:  make(map[uuid.UUID]*conn),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins listening. A server can be started once.
func (s *Server) Start() error {
	if s.ctx.Err() != nil {
		return fmt.Errorf("gate was stopped")
	}
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("gate is already running")
	}

	listener, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Address, err)
	}
	s.listener = listener
	s.startTime = time.Now()

	s.wg.Add(1)
	go s.acceptLoop()

	log.Infof("gate listening on %s", listener.Addr())
	return nil
}

// Stop closes the listener and every connection and waits for their
// goroutines. Calls still in flight are cancelled.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.cancel()
	s.listener.Close()

	s.connsMu.Lock()
	for _, c := range s.conns {
		c.close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	log.Info("gate stopped")
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ConnectionCount returns the number of open connections.
func (s *Server) ConnectionCount() int {
	return int(s.currentConnections.Load())
}

// Connections returns per-connection statistics.
func (s *Server) Connections() []ConnectionStats {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()

	stats := make([]ConnectionStats, 0, len(s.conns))
	for _, c := range s.conns {
		stats = append(stats, c.stats())
	}
	return stats
}

// Stats returns server statistics.
func (s *Server) Stats() Statistics {
	st := Statistics{
		Running:            s.running.Load(),
		StartTime:          s.startTime,
		TotalConnections:   s.totalConnections.Load(),
		CurrentConnections: s.currentConnections.Load(),
		Rejected:           s.rejected.Load(),
		TotalFrames:        s.totalFrames.Load(),
	}
	if addr := s.Addr(); addr != nil {
		st.Address = addr.String()
	}
	if !s.startTime.IsZero() {
		st.Uptime = time.Since(s.startTime)
	}
	return st
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		netc, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warningf("accept failed: %s", err.Error())
			continue
		}

		if limit := s.opts.MaxConnections; limit > 0 && s.currentConnections.Load() >= int64(limit) {
			log.Warningf("connection limit reached (%d), rejecting %s", limit, netc.RemoteAddr())
			s.rejected.Add(1)
			netc.Close()
			continue
		}

		c := newConn(netc, s.opts.MaxFrame, s.opts.ReadTimeout, s.opts.WriteTimeout)
		if !s.addConnection(c) {
			c.close()
			return
		}
		s.totalConnections.Add(1)

		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			c.writeLoop()
		}()
		go s.handleConnection(c)
	}
}

// handleConnection reads frames from c until it fails or closes.
func (s *Server) handleConnection(c *conn) {
	defer s.wg.Done()
	defer s.removeConnection(c)

	log.Debugf("connection %s opened", c)
	for {
		env, err := c.read()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				log.Debugf("connection %s closed", c)
			default:
				log.Infof("connection %s dropped: %s", c, err.Error())
			}
			return
		}
		s.totalFrames.Add(1)
		s.handleFrame(c, env)
	}
}

// handleFrame forwards one inbound envelope. Calls run on their own
// goroutine so a slow service does not stall the connection.
func (s *Server) handleFrame(c *conn, env *codec.Envelope) {
	session := core.SessionID(env.Session)
	typ := core.MessageType(env.Type)

	if session.IsReply() || reservedType(typ) {
		s.answer(c, session, core.Reply{Status: core.StatusFailed}, fmt.Sprintf("invalid frame type %s", typ))
		return
	}

	if session == core.NoSession {
		if err := s.sys.SendByName(core.NoHandle, env.Service, typ, env.Data); err != nil {
			log.Debugf("connection %s send to %q failed: %s", c, env.Service, err.Error())
		}
		return
	}

	if _, ok := s.sys.ServiceByName(env.Service); !ok {
		s.answer(c, session, core.Reply{Status: core.StatusUnreachable}, fmt.Sprintf("unknown service %q", env.Service))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx := s.ctx
		if s.opts.CallTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.opts.CallTimeout)
			defer cancel()
		}
		r := s.sys.CallByName(ctx, env.Service, typ, env.Data)
		s.answer(c, session, r, "")
	}()
}

// answer queues the reply for session. Sessionless frames get nothing.
func (s *Server) answer(c *conn, session core.SessionID, r core.Reply, text string) {
	if session == core.NoSession {
		log.Debugf("connection %s: %s", c, text)
		return
	}
	env := &codec.Envelope{
		Session: uint64(session.ToReply()),
		Type:    uint8(core.MessageTypeResponse),
		Status:  uint8(r.Status),
		Data:    r.Data(),
		Error:   text,
	}
	if r.Status != core.StatusOK {
		env.Type = uint8(core.MessageTypeError)
		env.Data = nil
		switch {
		case env.Error != "":
		case r.Status == core.StatusFailed:
			env.Error = string(r.Data())
		default:
			env.Error = r.Err().Error()
		}
	}
	if !c.enqueue(env) {
		log.Debugf("connection %s closed before reply %s", c, session)
	}
}

// reservedType reports types clients may not originate.
func reservedType(t core.MessageType) bool {
	switch t {
	case core.MessageTypeResponse, core.MessageTypeError, core.MessageTypeTimeout, core.MessageTypeSystem:
		return true
	}
	return false
}

func (s *Server) addConnection(c *conn) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()

	if s.ctx.Err() != nil {
		return false
	}
	s.conns[c.id] = c
	s.currentConnections.Add(1)
	return true
}

func (s *Server) removeConnection(c *conn) {
	c.close()

	s.connsMu.Lock()
	defer s.connsMu.Unlock()

	if _, ok := s.conns[c.id]; ok {
		delete(s.conns, c.id)
		s.currentConnections.Add(-1)
	}
}
