// Package tlsalpn implements HoneyLink's shipped transport backend: a
// TLS 1.3 listener/dialer negotiating the "hq-29" ALPN protocol id, used
// in place of QUIC where a QUIC implementation is unavailable. The spec
// permits either; this backend satisfies "at least one backend MUST be
// shipped" without depending on a QUIC library.
package tlsalpn

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	honeylink "github.com/honeylink/core"
	"github.com/honeylink/core/lib/transport"
)

// ALPNProtocolID is the negotiated protocol identifier, per §4.5.
const ALPNProtocolID = "hq-29"

// HandshakeReadDeadline bounds how long the TLS handshake may take
// before a connection is dropped, matching the multiplexer's slow
// handshake detection pattern.
const HandshakeReadDeadline = 10 * time.Second

// Protocol implements transport.Protocol over TLS 1.3 + ALPN.
type Protocol struct {
	tlsConfig *tls.Config
	clock     clockwork.Clock
	log       *log.Entry
}

// NewProtocol constructs a Protocol. tlsConfig's NextProtos is forced to
// contain exactly ALPNProtocolID.
func NewProtocol(tlsConfig *tls.Config, clock clockwork.Clock) *Protocol {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	cfg := tlsConfig.Clone()
	cfg.NextProtos = []string{ALPNProtocolID}
	cfg.MinVersion = tls.VersionTLS13
	return &Protocol{
		tlsConfig: cfg,
		clock:     clock,
		log:       log.WithField(trace.Component, honeylink.Component("transport", "tlsalpn")),
	}
}

// Type implements transport.Protocol.
func (p *Protocol) Type() transport.ProtocolType {
	return transport.ProtocolTLSALPN
}

// Dial implements transport.Protocol.
func (p *Protocol) Dial(ctx context.Context, addr string) (transport.Connection, error) {
	dialer := &tls.Dialer{Config: p.tlsConfig}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, trace.Wrap(err, "tlsalpn dial to %s failed", addr)
	}
	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		conn.Close()
		return nil, trace.BadParameter("expected *tls.Conn from tls.Dialer")
	}
	if got := tlsConn.ConnectionState().NegotiatedProtocol; got != ALPNProtocolID {
		tlsConn.Close()
		return nil, trace.ConnectionProblem(nil, "peer negotiated unexpected ALPN protocol %q", got)
	}
	return &Conn{conn: tlsConn}, nil
}

// Listen implements transport.Protocol: it returns a net.Listener whose
// Accept performs the ALPN handshake and rejects connections that do not
// negotiate ALPNProtocolID.
func (p *Protocol) Listen(ctx context.Context, addr string) (net.Listener, error) {
	inner, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &listener{Listener: tls.NewListener(inner, p.tlsConfig), clock: p.clock, log: p.log}, nil
}

type listener struct {
	net.Listener
	clock clockwork.Clock
	log   *log.Entry
}

// Accept performs the handshake inline (unlike the multiplexing
// TLSListener this is grounded on, there is only one protocol to detect
// here) so a caller's Accept loop only ever sees fully negotiated hq-29
// connections.
func (l *listener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		tlsConn, ok := conn.(*tls.Conn)
		if !ok {
			conn.Close()
			continue
		}
		if err := tlsConn.SetReadDeadline(l.clock.Now().Add(HandshakeReadDeadline)); err != nil {
			tlsConn.Close()
			continue
		}
		start := l.clock.Now()
		if err := tlsConn.Handshake(); err != nil {
			if trace.Unwrap(err) != io.EOF {
				l.log.WithError(err).Warn("tlsalpn handshake failed")
			}
			tlsConn.Close()
			continue
		}
		if elapsed := l.clock.Now().Sub(start); elapsed > time.Second {
			l.log.Warnf("slow TLS handshake from %v, took %v", tlsConn.RemoteAddr(), elapsed)
		}
		if err := tlsConn.SetReadDeadline(time.Time{}); err != nil {
			tlsConn.Close()
			continue
		}
		if tlsConn.ConnectionState().NegotiatedProtocol != ALPNProtocolID {
			tlsConn.Close()
			continue
		}
		return tlsConn, nil
	}
}

// Conn adapts a *tls.Conn to transport.Connection.
type Conn struct {
	conn *tls.Conn
}

// RemoteAddr implements transport.Connection.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// OpenStream implements transport.Connection. This backend is
// single-stream-per-connection; HoneyLink's stream multiplexing happens
// at the qos.Scheduler layer, one tlsalpn connection per admitted
// stream.
func (c *Conn) OpenStream(ctx context.Context) (transport.Stream, error) {
	return &connStream{Conn: c.conn}, nil
}

// Close implements transport.Connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

type connStream struct {
	*tls.Conn
}

func (s *connStream) ID() string {
	return s.Conn.RemoteAddr().String()
}
