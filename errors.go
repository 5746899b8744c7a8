package filo

import (
	"errors"
)

var (
	ErrInvalidCfg = errors.New("filo: invalid options")

	ErrAddrFormat = errors.New("endpoint: the IP you provided cannot be parsed")
	ErrPortRange  = errors.New("endpoint: the port is outside the valid range")

	ErrSocket = errors.New("conn: socket failure")

	ErrServerClosed = errors.New("server: already closed")

	ErrClientClosed = errors.New("client: already closed")
	ErrNotConnected = errors.New("client: not connected")
)

const (
	ClosedByUnknown ClosedBy = iota
	ClosedByUser
	ClosedByRemote
	ClosedBySendError
	ClosedByRecvError
)

// ClosedBy records which side or failure tore a connection down.
type ClosedBy uint8

func (cause ClosedBy) String() string {
	switch cause {
	case ClosedByUser:
		return "explicit user close"
	case ClosedByRemote:
		return "remote"
	case ClosedBySendError:
		return "send error"
	case ClosedByRecvError:
		return "receive error"
	default:
		return "unknown"
	}
}
