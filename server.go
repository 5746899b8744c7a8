package filo

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-metrics"
	"golang.org/x/sync/errgroup"

	"github.com/raskyld/filo/pkg/broadcast"
)

// Server listens for inbound connections, keeps a registry of the
// live ones and fans connection state transitions out to any number
// of subscribers.
type Server struct {
	cfg    config
	logger *slog.Logger
	msink  metrics.MetricSink

	conns  *registry
	events *broadcast.Broadcaster[Event]

	// lk guards listener replacement, hot paths only read the atomics.
	lk        sync.Mutex
	ln        net.Listener
	listening atomic.Bool
	closed    atomic.Bool
	acceptWg  sync.WaitGroup
}

// NewServer builds a Server. Nothing is bound until `Open` is called.
func NewServer(opts ...Option) (*Server, error) {
	srv := &Server{
		cfg:   defaultConfig(),
		conns: newRegistry(),
	}

	for _, opt := range opts {
		if err := opt(&srv.cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
		}
	}

	if srv.cfg.logHandler == nil {
		srv.logger = slog.Default()
	} else {
		srv.logger = slog.New(srv.cfg.logHandler)
	}

	if srv.cfg.msink == nil {
		srv.msink = metrics.Default()
	} else {
		srv.msink = srv.cfg.msink
	}

	srv.events = broadcast.New[Event](srv.cfg.streamBuffer)
	return srv, nil
}

// Open binds `ep` and starts accepting connections. The endpoint is
// validated before any socket operation. Calling Open while already
// listening is a no-op.
func (srv *Server) Open(ep Endpoint) error {
	if srv.closed.Load() {
		return ErrServerClosed
	}
	if err := ep.Validate(); err != nil {
		return err
	}

	srv.lk.Lock()
	defer srv.lk.Unlock()
	if srv.closed.Load() {
		return ErrServerClosed
	}
	if srv.listening.Load() {
		return nil
	}

	ln, err := net.Listen(ep.Protocol.network(), ep.addr())
	if err != nil {
		srv.logger.Error("failed to bind", LabelEndpoint.L(ep.String()), LabelError.L(err))
		return fmt.Errorf("%w: %w", ErrSocket, err)
	}

	srv.ln = ln
	srv.listening.Store(true)
	srv.logger.Info("listening", LabelLocalAddr.L(ln.Addr().String()))

	srv.acceptWg.Add(1)
	go srv.acceptLoop(ln)
	return nil
}

// acceptLoop wraps every accepted socket into a `Conn` and registers
// it. Any accept failure ends the loop: silently when it is our own
// shutdown, logged otherwise.
func (srv *Server) acceptLoop(ln net.Listener) {
	defer srv.acceptWg.Done()
	defer srv.listening.Store(false)

	for {
		sock, err := ln.Accept()
		if err != nil {
			if !srv.closed.Load() {
				srv.logger.Error("stopped accepting connections", LabelError.L(err))
				srv.msink.IncrCounterWithLabels(MetricAcceptErrorCount, 1.0, srv.cfg.metricLabels)
				ln.Close()
			}
			return
		}
		srv.track(sock)
	}
}

// track wires an accepted socket: wrap, observe closure, register,
// publish, then start the receive loop.
func (srv *Server) track(sock net.Conn) {
	conn := newConn(sock, &srv.cfg, srv.logger, srv.msink)

	cancel := conn.OnClose(func(c *Conn) {
		if srv.conns.remove(c) {
			srv.logger.Debug("connection removed", LabelConnID.L(c.ID().String()))
			srv.events.Publish(Event{Type: EventDisconnected})
		}
	})
	srv.conns.add(conn, cancel)

	srv.msink.IncrCounterWithLabels(MetricConnEstCount, 1.0, srv.cfg.metricLabels)
	srv.logger.Info(
		"connection established",
		LabelConnID.L(conn.ID().String()),
		LabelPeerAddr.L(conn.RemoteAddr().String()),
	)

	srv.events.Publish(Event{Type: EventConnected, Conn: conn})
	conn.start()
}

// Broadcast sends `payload` to every registered connection at once
// and returns when the whole fan-out completed. Individual send
// failures are logged and counted, they never fail the broadcast.
// The returned count is how many connections accepted the payload.
func (srv *Server) Broadcast(payload []byte) (int, error) {
	if srv.closed.Load() {
		return 0, ErrServerClosed
	}

	conns := srv.conns.snapshot()
	srv.msink.IncrCounterWithLabels(MetricBroadcastCount, 1.0, srv.cfg.metricLabels)

	var sent atomic.Int64
	var g errgroup.Group
	for _, conn := range conns {
		conn := conn
		g.Go(func() error {
			if err := conn.Send(payload); err != nil {
				srv.logger.Warn(
					"broadcast delivery failed",
					LabelConnID.L(conn.ID().String()),
					LabelError.L(err),
				)
				srv.msink.IncrCounterWithLabels(MetricBroadcastErrCount, 1.0, srv.cfg.metricLabels)
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	g.Wait()

	return int(sent.Load()), nil
}

// BroadcastText encodes `text` as ASCII and broadcasts it.
func (srv *Server) BroadcastText(text string) (int, error) {
	return srv.Broadcast(encodeASCII(text))
}

// Clients returns a point-in-time snapshot of the registered
// connections. The slice is owned by the caller and never mutated by
// the Server.
func (srv *Server) Clients() []*Conn {
	return srv.conns.snapshot()
}

// ClientCount reports how many connections are currently registered.
func (srv *Server) ClientCount() int {
	return srv.conns.size()
}

// IsListening reports whether the accept loop is running.
func (srv *Server) IsListening() bool {
	return srv.listening.Load()
}

// Addr is the bound address, nil when not listening. Useful when
// `Open` was asked for an ephemeral port.
func (srv *Server) Addr() net.Addr {
	srv.lk.Lock()
	defer srv.lk.Unlock()
	if srv.ln == nil || !srv.listening.Load() {
		return nil
	}
	return srv.ln.Addr()
}

// Events attaches a new subscription to the connection state stream.
// There is no replay, subscribers only observe transitions published
// after they attached. The channel completes when the Server closes.
func (srv *Server) Events() *broadcast.Subscription[Event] {
	return srv.events.Subscribe()
}

// Close stops accepting, waits for the accept loop to exit, closes
// every registered connection concurrently and completes the event
// stream, in that order. The first call wins, later ones are no-ops.
func (srv *Server) Close() error {
	if !srv.closed.CompareAndSwap(false, true) {
		return nil
	}

	start := time.Now()
	srv.logger.Info("shutting down...")

	srv.lk.Lock()
	ln := srv.ln
	srv.ln = nil
	srv.lk.Unlock()

	if ln != nil {
		ln.Close()
	}
	srv.acceptWg.Wait()

	conns := srv.conns.snapshot()
	srv.logger.Info("shutdown: closing connections", "count", len(conns))
	var g errgroup.Group
	for _, conn := range conns {
		conn := conn
		g.Go(func() error { return conn.Close() })
	}
	err := g.Wait()

	srv.events.Close()
	if dropped := srv.events.Dropped(); dropped > 0 {
		srv.logger.Warn("slow subscribers missed events", "dropped", dropped)
		srv.msink.IncrCounterWithLabels(MetricStreamDropCount, float32(dropped), srv.cfg.metricLabels)
	}

	srv.logger.Info("shutdown: completed", LabelDuration.L(time.Since(start)))
	return err
}
