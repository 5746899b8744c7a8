package filo

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raskyld/filo/pkg/broadcast"
)

func testHandler(t *testing.T, name string) slog.Handler {
	t.Helper()
	return slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
	}).WithAttrs([]slog.Attr{
		{Key: "emitter", Value: slog.StringValue(name)},
	})
}

// openTestServer builds a Server listening on an ephemeral loopback
// port and tears it down with the test.
func openTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()

	opts = append(opts, WithLogHandler(testHandler(t, "server")))
	srv, err := NewServer(opts...)
	require.NoError(t, err)
	require.NoError(t, srv.Open(Endpoint{IP: "127.0.0.1", Port: 0}))
	t.Cleanup(func() { srv.Close() })
	return srv
}

func serverEndpoint(t *testing.T, srv *Server) Endpoint {
	t.Helper()

	addr, ok := srv.Addr().(*net.TCPAddr)
	require.True(t, ok, "server is not listening")
	return Endpoint{IP: "127.0.0.1", Port: addr.Port}
}

// dialTestServer connects a fresh Client to `srv` and tears it down
// with the test.
func dialTestServer(t *testing.T, srv *Server, name string) *Client {
	t.Helper()

	cl, err := NewClient(WithLogHandler(testHandler(t, name)))
	require.NoError(t, err)
	require.NoError(t, cl.Connect(context.Background(), serverEndpoint(t, srv)))
	t.Cleanup(func() { cl.Close() })
	return cl
}

func TestServerOpen(t *testing.T) {
	srv, err := NewServer(WithLogHandler(testHandler(t, "server")))
	require.NoError(t, err)
	defer srv.Close()

	require.False(t, srv.IsListening())
	require.Nil(t, srv.Addr())

	require.NoError(t, srv.Open(Endpoint{IP: "127.0.0.1", Port: 0}))
	require.True(t, srv.IsListening())
	require.NotNil(t, srv.Addr())

	t.Run("reopen is a no-op", func(t *testing.T) {
		port := srv.Addr().(*net.TCPAddr).Port
		require.NoError(t, srv.Open(Endpoint{IP: "127.0.0.1", Port: 0}))
		require.Equal(t, port, srv.Addr().(*net.TCPAddr).Port)
	})

	t.Run("invalid ip", func(t *testing.T) {
		require.ErrorIs(t, srv.Open(Endpoint{IP: "not-an-ip", Port: 4040}), ErrAddrFormat)
	})

	t.Run("invalid port", func(t *testing.T) {
		require.ErrorIs(t, srv.Open(Endpoint{IP: "127.0.0.1", Port: 123456}), ErrPortRange)
	})
}

func TestServerOptionsReachConnections(t *testing.T) {
	srv := openTestServer(t, WithChunkSize(8), WithStreamBuffer(4))
	events := srv.Events()
	require.Equal(t, 4, cap(events.C()))

	cl := dialTestServer(t, srv, "client")

	var serverConn *Conn
	select {
	case ev := <-events.C():
		require.Equal(t, EventConnected, ev.Type)
		serverConn = ev.Conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connected event")
	}

	msgs := serverConn.Messages()
	require.Equal(t, 8, serverConn.chunkSize)
	require.Equal(t, 4, cap(msgs.C()))

	// exactly one chunk worth of bytes still comes out as one message
	require.NoError(t, cl.SendText("8bytes!!"))
	require.Equal(t, "8bytes!!", recvOne(t, msgs).Text())

	payload := []byte("spans multiple chunk reads now")
	require.NoError(t, cl.Send(payload))
	require.Equal(t, payload, recvOne(t, msgs).Bytes())
}

func TestServerTracksConnectionCycles(t *testing.T) {
	srv := openTestServer(t)
	endpoint := serverEndpoint(t, srv)

	cl, err := NewClient(WithLogHandler(testHandler(t, "client")))
	require.NoError(t, err)
	defer cl.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, cl.Connect(context.Background(), endpoint))
		require.Eventually(t, func() bool { return srv.ClientCount() == 1 },
			2*time.Second, 10*time.Millisecond, "cycle %d: connection never registered", i)

		require.NoError(t, cl.Session().Close())
		require.Eventually(t, func() bool { return srv.ClientCount() == 0 },
			2*time.Second, 10*time.Millisecond, "cycle %d: connection never removed", i)
	}

	require.NoError(t, cl.Connect(context.Background(), endpoint))
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)
	require.Len(t, srv.Clients(), 1)
}

func TestServerAcceptFailureStopsListeningOnly(t *testing.T) {
	srv := openTestServer(t)
	events := srv.Events()

	cl := dialTestServer(t, srv, "client")

	var serverConn *Conn
	select {
	case ev := <-events.C():
		require.Equal(t, EventConnected, ev.Type)
		serverConn = ev.Conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connected event")
	}

	// rip the listener socket out from under the accept loop
	srv.lk.Lock()
	ln := srv.ln
	srv.lk.Unlock()
	require.NoError(t, ln.Close())

	require.Eventually(t, func() bool { return !srv.IsListening() },
		2*time.Second, 10*time.Millisecond)

	// the in-flight connection is unaffected
	require.Equal(t, 1, srv.ClientCount())
	msgs := serverConn.Messages()
	require.NoError(t, cl.SendText("still here"))
	require.Equal(t, "still here", recvOne(t, msgs).Text())

	// and the server can bind again
	require.NoError(t, srv.Open(Endpoint{IP: "127.0.0.1", Port: 0}))
	require.True(t, srv.IsListening())

	cl2 := dialTestServer(t, srv, "client-2")
	require.True(t, cl2.IsConnected())
	require.Eventually(t, func() bool { return srv.ClientCount() == 2 },
		2*time.Second, 10*time.Millisecond)
}

func TestServerBroadcast(t *testing.T) {
	srv := openTestServer(t)

	const clients = 3
	subs := make([]*broadcast.Subscription[Message], 0, clients)
	for i := 0; i < clients; i++ {
		cl := dialTestServer(t, srv, fmt.Sprintf("client-%d", i))
		subs = append(subs, cl.Messages())
	}

	require.Eventually(t, func() bool { return srv.ClientCount() == clients },
		2*time.Second, 10*time.Millisecond)

	sent, err := srv.BroadcastText("pulse")
	require.NoError(t, err)
	require.Equal(t, clients, sent)

	for i, sub := range subs {
		select {
		case msg := <-sub.C():
			require.Equal(t, "pulse", msg.Text(), "client %d", i)
		case <-time.After(2 * time.Second):
			t.Fatalf("client %d never received the broadcast", i)
		}

		// exactly one message each, nothing must trail behind
		select {
		case extra := <-sub.C():
			t.Fatalf("client %d received an extra message: %q", i, extra.Text())
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func TestServerReceivesAndReplies(t *testing.T) {
	srv := openTestServer(t)
	events := srv.Events()

	cl := dialTestServer(t, srv, "client")

	var serverConn *Conn
	select {
	case ev := <-events.C():
		require.Equal(t, EventConnected, ev.Type)
		require.NotNil(t, ev.Conn)
		serverConn = ev.Conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connected event")
	}

	msgs := serverConn.Messages()
	require.NoError(t, cl.SendText("ping"))
	require.Equal(t, "ping", recvOne(t, msgs).Text())

	clMsgs := cl.Messages()
	require.NoError(t, serverConn.SendText("pong"))
	require.Equal(t, "pong", recvOne(t, clMsgs).Text())
}

func TestServerEvents(t *testing.T) {
	srv := openTestServer(t)
	events := srv.Events()

	cl := dialTestServer(t, srv, "client")

	select {
	case ev := <-events.C():
		require.Equal(t, EventConnected, ev.Type)
		require.NotNil(t, ev.Conn)
	case <-time.After(2 * time.Second):
		t.Fatal("no connected event")
	}

	require.NoError(t, cl.Session().Close())

	select {
	case ev := <-events.C():
		require.Equal(t, EventDisconnected, ev.Type)
		require.Nil(t, ev.Conn)
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnected event")
	}

	require.NoError(t, srv.Close())
	select {
	case _, ok := <-events.C():
		require.False(t, ok, "event stream must complete when the server closes")
	case <-time.After(2 * time.Second):
		t.Fatal("event stream never completed")
	}
}

func TestServerConnClosedFromConnectedEvent(t *testing.T) {
	srv := openTestServer(t)
	events := srv.Events()

	// tear every connection down the moment it is announced, racing
	// the receive loop startup
	var connected, disconnected atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events.C() {
			switch ev.Type {
			case EventConnected:
				connected.Add(1)
				ev.Conn.Close()
			case EventDisconnected:
				disconnected.Add(1)
			}
		}
	}()

	endpoint := serverEndpoint(t, srv)
	const rounds = 10
	for i := 0; i < rounds; i++ {
		cl, err := NewClient(WithLogHandler(testHandler(t, "client")))
		require.NoError(t, err)

		require.NoError(t, cl.Connect(context.Background(), endpoint))
		require.Eventually(t, func() bool { return !cl.IsConnected() },
			2*time.Second, 5*time.Millisecond, "round %d: conn never torn down", i)
		require.Eventually(t, func() bool { return srv.ClientCount() == 0 },
			2*time.Second, 5*time.Millisecond, "round %d: registry not drained", i)
		require.NoError(t, cl.Close())
	}

	require.NoError(t, srv.Close())
	<-done

	require.Equal(t, int32(rounds), connected.Load())
	require.Equal(t, int32(rounds), disconnected.Load())
}

func TestServerCloseDisconnectsClients(t *testing.T) {
	srv := openTestServer(t)

	clients := []*Client{
		dialTestServer(t, srv, "client-0"),
		dialTestServer(t, srv, "client-1"),
		dialTestServer(t, srv, "client-2"),
	}
	require.Eventually(t, func() bool { return srv.ClientCount() == len(clients) },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, srv.Close())
	require.False(t, srv.IsListening())
	require.Equal(t, 0, srv.ClientCount())

	for i, cl := range clients {
		require.Eventually(t, func() bool { return !cl.IsConnected() },
			2*time.Second, 10*time.Millisecond, "client %d still looks connected", i)
	}
}

func TestServerCloseIsIdempotent(t *testing.T) {
	srv := openTestServer(t)

	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())

	require.ErrorIs(t, srv.Open(Endpoint{IP: "127.0.0.1", Port: 0}), ErrServerClosed)
	_, err := srv.Broadcast([]byte("nope"))
	require.ErrorIs(t, err, ErrServerClosed)
}
