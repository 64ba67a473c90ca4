// Package transport implements the protocol-agnostic transport manager:
// a registry of pluggable Protocol backends, a connection pool, and the
// selection strategy that picks which backend to use for a new
// connection.
package transport

import (
	"context"
	"io"
	"net"
)

// ProtocolType names a registered transport backend.
type ProtocolType string

const (
	ProtocolTLSALPN ProtocolType = "tlsalpn" // TLS 1.3 + ALPN hq-29
	ProtocolWebRTC  ProtocolType = "webrtc"  // declared; no backend implements it
)

// Strategy controls which registered protocol a Manager picks for a new
// outbound connection.
type Strategy string

const (
	StrategyPreferQuic  Strategy = "prefer_quic"
	StrategyPreferWebRTC Strategy = "prefer_webrtc"
	StrategyQuicOnly    Strategy = "quic_only"
	StrategyWebRTCOnly  Strategy = "webrtc_only"
	StrategyAll         Strategy = "all"
)

// Stream is a single logical, possibly-unreliable byte stream
// multiplexed over a Connection.
type Stream interface {
	io.ReadWriteCloser
	ID() string
}

// Connection is an established transport-layer connection to a peer,
// capable of opening multiple Streams.
type Connection interface {
	RemoteAddr() net.Addr
	OpenStream(ctx context.Context) (Stream, error)
	Close() error
}

// Protocol is a pluggable transport backend (TLS+ALPN, WebRTC, ...).
type Protocol interface {
	Type() ProtocolType
	Dial(ctx context.Context, addr string) (Connection, error)
	Listen(ctx context.Context, addr string) (net.Listener, error)
}
