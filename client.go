package filo

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-metrics"

	"github.com/raskyld/filo/pkg/broadcast"
)

// Client dials a remote listener and holds at most one live
// connection. There is no automatic reconnection: when the connection
// dies, calling `Connect` again is the caller's move.
type Client struct {
	cfg    config
	logger *slog.Logger
	msink  metrics.MetricSink

	events *broadcast.Broadcaster[Event]

	lk     sync.Mutex
	conn   *Conn
	closed atomic.Bool
}

// NewClient builds a Client. Nothing is dialed until `Connect` is
// called.
func NewClient(opts ...Option) (*Client, error) {
	cl := &Client{
		cfg: defaultConfig(),
	}

	for _, opt := range opts {
		if err := opt(&cl.cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
		}
	}

	if cl.cfg.logHandler == nil {
		cl.logger = slog.Default()
	} else {
		cl.logger = slog.New(cl.cfg.logHandler)
	}

	if cl.cfg.msink == nil {
		cl.msink = metrics.Default()
	} else {
		cl.msink = cl.cfg.msink
	}

	cl.events = broadcast.New[Event](cl.cfg.streamBuffer)
	return cl, nil
}

// Connect dials `ep` and keeps the resulting connection. The endpoint
// is validated before any socket operation. Connecting while already
// connected is a no-op; a previously held dead connection is disposed
// first. The dial runs under the client's lock, so `Session`,
// `IsConnected` and the delegating methods block until it resolves,
// bounded by `WithDialTimeout`. Dial failures are logged and reported
// as `ErrNotConnected`, check `IsConnected` rather than dissecting
// the cause.
func (cl *Client) Connect(ctx context.Context, ep Endpoint) error {
	if cl.closed.Load() {
		return ErrClientClosed
	}
	if err := ep.Validate(); err != nil {
		return err
	}

	cl.lk.Lock()
	defer cl.lk.Unlock()
	if cl.closed.Load() {
		return ErrClientClosed
	}
	if cl.conn != nil && cl.conn.IsConnected() {
		return nil
	}
	if cl.conn != nil {
		cl.conn.Close()
		cl.conn = nil
	}

	dialer := net.Dialer{Timeout: cl.cfg.dialTimeout}
	sock, err := dialer.DialContext(ctx, ep.Protocol.network(), ep.addr())
	if err != nil {
		cl.logger.Error("failed to dial", LabelEndpoint.L(ep.String()), LabelError.L(err))
		cl.msink.IncrCounterWithLabels(MetricDialErrorCount, 1.0, cl.cfg.metricLabels)
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}

	conn := newConn(sock, &cl.cfg, cl.logger, cl.msink)
	conn.OnClose(func(*Conn) {
		cl.events.Publish(Event{Type: EventDisconnected})
	})
	cl.conn = conn

	cl.msink.IncrCounterWithLabels(MetricConnEstCount, 1.0, cl.cfg.metricLabels)
	cl.logger.Info("connected", LabelPeerAddr.L(conn.RemoteAddr().String()))

	cl.events.Publish(Event{Type: EventConnected, Conn: conn})
	conn.start()
	return nil
}

// Send writes to the held connection. Without one, or once it closed,
// this is a silent no-op.
func (cl *Client) Send(payload []byte) error {
	conn := cl.Session()
	if conn == nil {
		return nil
	}
	return conn.Send(payload)
}

// SendText encodes `text` as ASCII and sends it.
func (cl *Client) SendText(text string) error {
	return cl.Send(encodeASCII(text))
}

// Messages attaches a subscription to the held connection's message
// stream. Without a connection the returned subscription is already
// completed.
func (cl *Client) Messages() *broadcast.Subscription[Message] {
	conn := cl.Session()
	if conn == nil {
		return broadcast.Completed[Message]()
	}
	return conn.Messages()
}

// Events attaches a new subscription to the client's connection state
// stream. The channel completes when the Client closes.
func (cl *Client) Events() *broadcast.Subscription[Event] {
	return cl.events.Subscribe()
}

// Session exposes the held connection, nil when none was established
// yet.
func (cl *Client) Session() *Conn {
	cl.lk.Lock()
	defer cl.lk.Unlock()
	return cl.conn
}

// IsConnected reports whether a live connection is held.
func (cl *Client) IsConnected() bool {
	conn := cl.Session()
	return conn != nil && conn.IsConnected()
}

// Close disposes the held connection and completes the event stream.
// The first call wins, later ones are no-ops.
func (cl *Client) Close() error {
	if !cl.closed.CompareAndSwap(false, true) {
		return nil
	}

	cl.lk.Lock()
	conn := cl.conn
	cl.lk.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	cl.events.Close()
	if dropped := cl.events.Dropped(); dropped > 0 {
		cl.logger.Warn("slow subscribers missed events", "dropped", dropped)
		cl.msink.IncrCounterWithLabels(MetricStreamDropCount, float32(dropped), cl.cfg.metricLabels)
	}
	return err
}
