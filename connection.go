package filo

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-metrics"
	"github.com/valyala/bytebufferpool"

	"github.com/raskyld/filo/pkg/broadcast"
)

// drainWindow is how long the receive loop waits for more bytes
// before it considers the current accumulation a complete message.
// The probe only happens after a full chunk was read, a short read
// already means the socket buffer was drained.
//
// TODO(raskyld): expose it as an Option if the fixed default proves
// too coarse for slow links.
const drainWindow = 5 * time.Millisecond

// Conn wraps one connected socket. It owns it: a receive loop drains
// inbound bytes into `Message` values and `Close` tears everything
// down exactly once, whether the user, the peer, or a socket failure
// initiated it.
type Conn struct {
	id     uuid.UUID
	sock   net.Conn
	logger *slog.Logger
	msink  metrics.MetricSink
	labels []metrics.Label

	chunkSize int
	msgs      *broadcast.Broadcaster[Message]

	closed atomic.Bool
	recvWg sync.WaitGroup

	// close observers, fired exactly once
	obsLk  sync.Mutex
	obsSeq int
	obs    map[int]func(*Conn)
}

func newConn(sock net.Conn, cfg *config, logger *slog.Logger, msink metrics.MetricSink) *Conn {
	c := &Conn{
		id:        uuid.New(),
		sock:      sock,
		msink:     msink,
		chunkSize: cfg.chunkSize,
		msgs:      broadcast.New[Message](cfg.streamBuffer),
		obs:       make(map[int]func(*Conn)),
	}

	c.labels = make([]metrics.Label, 0, len(cfg.metricLabels)+1)
	c.labels = append(c.labels, cfg.metricLabels...)
	c.labels = append(c.labels, LabelPeerAddr.M(sock.RemoteAddr().String()))

	c.logger = logger.With(
		LabelConnID.L(c.id.String()),
		LabelPeerAddr.L(sock.RemoteAddr().String()),
	)

	// The loop is accounted for at construction: owners announce the
	// Conn to observers before `start`, and a Close arriving in that
	// window must still wait for the loop to come and go.
	c.recvWg.Add(1)
	return c
}

// start spawns the receive loop. It runs once the owner had a chance
// to register its close observer and announce the Conn. Every
// constructed Conn must be started, `Close` waits on the loop.
func (c *Conn) start() {
	go c.receiveLoop()
}

// ID identifies the connection in logs and registries. The socket
// itself stays the identity on the wire.
func (c *Conn) ID() uuid.UUID {
	return c.id
}

func (c *Conn) LocalAddr() net.Addr {
	return c.sock.LocalAddr()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.sock.RemoteAddr()
}

// IsConnected reports whether the connection is still usable. It
// turns false as soon as either side closes or a socket failure is
// observed by the send path or the receive loop.
func (c *Conn) IsConnected() bool {
	return !c.closed.Load()
}

// Messages attaches a new subscription to the inbound message stream.
// Every subscriber observes each message independently; the channel
// completes when the connection closes.
//
// Message boundaries are heuristic, see the package documentation.
func (c *Conn) Messages() *broadcast.Subscription[Message] {
	return c.msgs.Subscribe()
}

// Send writes `payload` to the socket. Sending on a closed connection
// is a silent no-op. A write failure closes the connection: the error
// is logged, the peer is considered gone, and the wrapped cause is
// returned for callers that want it.
func (c *Conn) Send(payload []byte) error {
	if c.closed.Load() {
		return nil
	}
	if len(payload) == 0 {
		return nil
	}

	n, err := c.sock.Write(payload)
	if err != nil {
		if !c.closed.Load() {
			c.logger.Error("error writing to the socket", LabelError.L(err))
			c.msink.IncrCounterWithLabels(MetricConnOutErrorCount, 1.0, c.labels)
		}
		c.closeWith(ClosedBySendError)
		return fmt.Errorf("%w: %w", ErrSocket, err)
	}

	c.msink.IncrCounterWithLabels(MetricConnOutBytes, float32(n), c.labels)
	return nil
}

// SendText encodes `text` as ASCII and sends it. See `TextMessage`
// for the substitution rule.
func (c *Conn) SendText(text string) error {
	return c.Send(encodeASCII(text))
}

// OnClose registers `fn` to run once when the connection closes. The
// returned cancel detaches it again. When the connection is already
// closed, `fn` runs synchronously before OnClose returns.
//
// `fn` runs on the goroutine that initiated the close and MUST NOT
// call `Close` itself.
func (c *Conn) OnClose(fn func(*Conn)) (cancel func()) {
	c.obsLk.Lock()
	if c.closed.Load() {
		c.obsLk.Unlock()
		fn(c)
		return func() {}
	}
	id := c.obsSeq
	c.obsSeq++
	c.obs[id] = fn
	c.obsLk.Unlock()

	return func() {
		c.obsLk.Lock()
		delete(c.obs, id)
		c.obsLk.Unlock()
	}
}

// Close tears the connection down: the socket is closed, the message
// stream completes and close observers fire. The first call wins,
// later ones are no-ops. It returns once the receive loop is gone.
func (c *Conn) Close() error {
	err := c.closeWith(ClosedByUser)
	c.recvWg.Wait()
	return err
}

func (c *Conn) closeWith(cause ClosedBy) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := c.sock.Close()
	c.msgs.Close()
	if dropped := c.msgs.Dropped(); dropped > 0 {
		c.logger.Warn("slow subscribers missed messages", "dropped", dropped)
		c.msink.IncrCounterWithLabels(MetricStreamDropCount, float32(dropped), c.labels)
	}

	c.obsLk.Lock()
	obs := make([]func(*Conn), 0, len(c.obs))
	for _, fn := range c.obs {
		obs = append(obs, fn)
	}
	clear(c.obs)
	c.obsLk.Unlock()
	for _, fn := range obs {
		fn(c)
	}

	c.logger.Debug("connection closed", LabelClosedBy.L(cause.String()))
	c.msink.IncrCounterWithLabels(
		MetricConnClosedCount,
		1.0,
		append(c.labels, LabelClosedBy.M(cause.String())),
	)

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrSocket, err)
	}
	return nil
}

// receiveLoop reads into a fixed chunk and accumulates chunks into a
// pooled buffer until the socket has nothing immediately available,
// then emits the accumulation as one `Message`. A short read already
// proves the kernel buffer was drained; only a full chunk warrants a
// probe for more.
func (c *Conn) receiveLoop() {
	defer c.recvWg.Done()

	chunk := make([]byte, c.chunkSize)
	for {
		n, err := c.sock.Read(chunk)
		if n <= 0 {
			if err != nil {
				c.endReceive(err)
				return
			}
			continue
		}

		acc := bytebufferpool.Get()
		acc.Write(chunk[:n])

		for err == nil && n == len(chunk) {
			c.sock.SetReadDeadline(time.Now().Add(drainWindow))
			n, err = c.sock.Read(chunk)
			if n > 0 {
				acc.Write(chunk[:n])
			}
			if isTimeout(err) {
				err = nil
				break
			}
		}
		c.sock.SetReadDeadline(time.Time{})

		c.emit(acc)

		if err != nil {
			c.endReceive(err)
			return
		}
	}
}

// emit publishes the accumulated bytes as one Message and hands the
// buffer back to the pool.
func (c *Conn) emit(acc *bytebufferpool.ByteBuffer) {
	defer bytebufferpool.Put(acc)
	if acc.Len() == 0 {
		return
	}

	msg := NewMessage(acc.B)
	c.msgs.Publish(msg)
	c.msink.IncrCounterWithLabels(MetricMsgInCount, 1.0, c.labels)
	c.msink.IncrCounterWithLabels(MetricConnInBytes, float32(msg.Len()), c.labels)
}

// endReceive translates the error that ended the loop into the right
// close cause. A zero-length read means the peer closed in an orderly
// way, `net.ErrClosed` means our own Close unblocked the read.
func (c *Conn) endReceive(err error) {
	switch {
	case errors.Is(err, io.EOF):
		c.logger.Debug("peer closed the connection")
		c.closeWith(ClosedByRemote)
	case c.closed.Load():
	default:
		c.logger.Error("error reading from the socket", LabelError.L(err))
		c.msink.IncrCounterWithLabels(MetricConnInErrorCount, 1.0, c.labels)
		c.closeWith(ClosedByRecvError)
	}
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
