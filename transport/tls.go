package transport

import (
	"crypto/tls"
	"net"
)

// alpnProtocols is offered in that order during the TLS handshake, h2
// before http/1.1, only ever on a TLS listener — matching the recovered
// daphne HTTPFactory.acceptableProtocols rule (SPEC_FULL.md §5.3): h2c
// (cleartext HTTP/2) is never offered.
var alpnProtocols = []string{"h2", "http/1.1"}

// TLS wraps a TCP listener with a TLS handshake and ALPN negotiation
// between HTTP/1.1 and HTTP/2 (spec.md §4.1, §4.3).
type TLS struct {
	certs []tls.Certificate
	TCP
}

func NewTLS(certs []tls.Certificate) *TLS {
	return &TLS{certs: certs}
}

func (t *TLS) Bind(addr string) error {
	tcp, err := bindTCP(addr)
	if err != nil {
		return err
	}

	l := tls.NewListener(tcp, &tls.Config{
		Certificates: t.certs,
		NextProtos:   alpnProtocols,
	})
	t.TCP = newTCP(tlsAdapter{tcp, l})

	return nil
}

type tlsAdapter struct {
	*net.TCPListener
	tls net.Listener
}

func (t tlsAdapter) Accept() (net.Conn, error) {
	return t.tls.Accept()
}

// NegotiatedProtocol reports the ALPN protocol the peer agreed on, for a
// net.Conn fresh off a TLS listener's Accept, running the TLS handshake
// first if it has not happened yet (empty if it fails). Callers use this
// to decide whether to hand the connection to protocol/http1 or
// protocol/http2.
func NegotiatedProtocol(conn net.Conn) string {
	tconn, ok := conn.(*tls.Conn)
	if !ok {
		return ""
	}
	if err := tconn.Handshake(); err != nil {
		return ""
	}
	return tconn.ConnectionState().NegotiatedProtocol
}
