// `filo` manages bidirectional TCP sessions: a `Server` accepts and
// tracks many connections, a `Client` maintains a single one, and both
// expose *hot streams* so any number of subscribers can observe
// connection state transitions and inbound messages independently.
//
// ## How it works
//
// `Server.Open` binds an `Endpoint` and accepts in a dedicated
// goroutine; every accepted socket becomes a `Conn` with its own
// receive loop. The `Server` keeps a registry of live `Conn`s so you
// can `Broadcast` to all of them or walk a `Clients` snapshot. On the
// other side, `Client.Connect` dials the listener and delegates its
// whole surface to the held `Conn`, degrading to safe no-ops when
// there is none.
//
// Subscribers are never trusted: every subscription owns a *bounded*
// buffer and a slow consumer only ever loses its OWN events, it cannot
// stall a receive loop nor starve its siblings.
//
// ## Message boundaries, a warning
//
// There is NO framing on the wire. The receive loop accumulates chunks
// until the socket has nothing immediately available, then emits the
// accumulation as one `Message`. This heuristic is simple and fast but
// it is a *heuristic*: a slow network can split one logical message
// across several emissions, and two rapid sends can coalesce into one.
// If your protocol needs exact boundaries, frame your payloads
// yourself on top of `filo`.
//
// ## Errors
//
// Configuration mistakes (`ErrAddrFormat`, `ErrPortRange`) surface
// synchronously, before any socket operation. Socket failures do NOT:
// they are logged, counted, and converted into a state transition you
// can observe on the event stream. There is no automatic reconnection,
// calling `Client.Connect` again is your move.
//
// ## Dependencies
//
// I want `filo` to stay a small foundational library, so the
// dependency list is short enough to enumerate:
//
// * [`hashicorp/go-metrics`][dep-met], to let you chose your metric sink.
// * [`valyala/bytebufferpool`][dep-bbp], pooled receive accumulators.
// * [`google/uuid`][dep-uid], connection identities in logs.
// * [`golang.org/x/sync`][dep-xsc], broadcast and shutdown fan-out.
// * [`gopkg.in/yaml.v3`][dep-yml], [`caarlos0/env`][dep-env], [`joho/godotenv`][dep-dot], the host-facing `Config` surface.
//
// Structured logs go through `log/slog`, bring your own handler with
// `WithLogHandler`.
//
// [dep-met]: https://pkg.go.dev/github.com/hashicorp/go-metrics
// [dep-bbp]: https://pkg.go.dev/github.com/valyala/bytebufferpool
// [dep-uid]: https://pkg.go.dev/github.com/google/uuid
// [dep-xsc]: https://pkg.go.dev/golang.org/x/sync
// [dep-yml]: https://pkg.go.dev/gopkg.in/yaml.v3
// [dep-env]: https://pkg.go.dev/github.com/caarlos0/env/v11
// [dep-dot]: https://pkg.go.dev/github.com/joho/godotenv
package filo
