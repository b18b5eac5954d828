// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package policy implements the outbound decision layer: Direct,
// Reject, Reject-TinyGIF and Proxy policies each turn a selected
// profile.Policy (already cloned with a Destination, per spec.md §4.3)
// into a connected outbound stream or an error.
package policy

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"strconv"
	"time"

	"grimm.is/relaygate/internal/errors"
	"grimm.is/relaygate/internal/outbound/httpconnect"
	"grimm.is/relaygate/internal/outbound/shadowsocks"
	"grimm.is/relaygate/internal/outbound/socks5"
	"grimm.is/relaygate/internal/outbound/vmess"
	"grimm.is/relaygate/internal/profile"
	"grimm.is/relaygate/internal/socksaddr"
	"grimm.is/relaygate/internal/wsconn"
)

// DefaultConnectTimeout is the outbound connect timeout spec.md §5
// defaults to when a profile doesn't override it.
const DefaultConnectTimeout = 30 * time.Second

// Maker dials an outbound stream for a cloned, destination-attached
// Policy. ConnectTimeout <= 0 falls back to DefaultConnectTimeout.
type Maker struct {
	ConnectTimeout time.Duration
}

// New builds a Maker with the default connect timeout.
func New() *Maker { return &Maker{ConnectTimeout: DefaultConnectTimeout} }

func (m *Maker) timeout() time.Duration {
	if m.ConnectTimeout <= 0 {
		return DefaultConnectTimeout
	}
	return m.ConnectTimeout
}

// MakeConnection dials pol's outbound stream, per spec.md §4.3.
func (m *Maker) MakeConnection(ctx context.Context, pol profile.Policy) (io.ReadWriteCloser, error) {
	switch pol.Kind {
	case profile.PolicyDirect:
		return m.dialDirect(ctx, pol.Destination)
	case profile.PolicyReject:
		return nil, rejectedError(profile.Reject)
	case profile.PolicyRejectTinyGIF:
		return nil, rejectedError(profile.RejectTinyGIF)
	case profile.PolicyProxy:
		return m.dialProxy(ctx, pol)
	default:
		return nil, errors.Errorf(errors.KindConfiguration, "policy: unknown policy kind for %q", pol.Name)
	}
}

// rejectedError builds the RejectedByRule error spec.md §4.3 requires;
// callers that need to answer a rejected CONNECT with a 1x1 GIF inspect
// the "policy" attribute above this layer.
func rejectedError(policyName string) error {
	err := errors.New(errors.KindProtocol, "policy: rejected by rule")
	return errors.Attr(err, "policy", policyName)
}

func (m *Maker) dialDirect(ctx context.Context, dest profile.TargetAddress) (io.ReadWriteCloser, error) {
	if dest.Host == "" && len(dest.IP) == 0 {
		return nil, errors.New(errors.KindProtocol, "policy: direct destination is neither domain nor socket address")
	}
	dialer := &net.Dialer{Timeout: m.timeout()}
	conn, err := dialer.DialContext(ctx, "tcp", dest.String())
	if err != nil {
		return nil, connectTimeoutOr(err, errors.Wrap(err, errors.KindTransport, "policy: direct connect failed"))
	}
	return conn, nil
}

func connectTimeoutOr(err error, fallback error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		e := errors.Wrap(err, errors.KindTransport, "policy: connect timed out")
		return errors.Attr(e, "reason", "ConnectionRequestTimeout")
	}
	return fallback
}

// proxyConn pairs a protocol-framed ReadWriter (raw TCP/TLS for HTTP
// and SOCKS5, or an AEAD-framed Conn for Shadowsocks/VMESS) with the
// underlying transport's Close, since the framed Conn types don't own
// the socket.
type proxyConn struct {
	io.ReadWriter
	closer io.Closer
}

func (p *proxyConn) Close() error { return p.closer.Close() }

func (m *Maker) dialProxy(ctx context.Context, pol profile.Policy) (io.ReadWriteCloser, error) {
	cfg := pol.Proxy

	dialer := &net.Dialer{Timeout: m.timeout()}
	addr := net.JoinHostPort(cfg.ServerHost, portString(cfg.ServerPort))
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, connectTimeoutOr(err, errors.Wrap(err, errors.KindTransport, "policy: proxy server connect failed"))
	}

	transport := net.Conn(conn)
	if cfg.OverTLS {
		tlsConn, err := wrapTLS(transport, cfg)
		if err != nil {
			conn.Close()
			return nil, err
		}
		transport = tlsConn
	}

	var rw io.ReadWriter = transport
	if cfg.OverWebSocket {
		ws, err := wsconn.Dial(transport, wsScheme(cfg), addr, cfg.WebSocketPath)
		if err != nil {
			transport.Close()
			return nil, err
		}
		rw = ws
	}

	switch cfg.Protocol {
	case profile.ProtocolHTTP:
		if err := httpconnect.Dial(rw, pol.Destination, cfg.Username, resolvePassword(cfg)); err != nil {
			transport.Close()
			return nil, err
		}
		return &proxyConn{ReadWriter: rw, closer: transport}, nil

	case profile.ProtocolSOCKS:
		if err := socks5.Dial(rw, pol.Destination, cfg.Username, resolvePassword(cfg)); err != nil {
			transport.Close()
			return nil, err
		}
		return &proxyConn{ReadWriter: rw, closer: transport}, nil

	case profile.ProtocolSS:
		ssConn, err := shadowsocks.Dial(rw, cfg.SSAlgorithm, resolvePassword(cfg), pol.Destination)
		if err != nil {
			transport.Close()
			return nil, err
		}
		return &proxyConn{ReadWriter: ssConn, closer: transport}, nil

	case profile.ProtocolVMess:
		vmConn, err := vmess.Dial(rw, cfg.Username, cfg.SSAlgorithm, vmess.DefaultOptions(), pol.Destination)
		if err != nil {
			transport.Close()
			return nil, err
		}
		return &proxyConn{ReadWriter: vmConn, closer: transport}, nil

	default:
		transport.Close()
		return nil, errors.Errorf(errors.KindConfiguration, "policy: unsupported proxy protocol %q", cfg.Protocol)
	}
}

func wsScheme(cfg profile.ProxyConfig) string {
	if cfg.OverTLS {
		return "wss"
	}
	return "ws"
}

// resolvePassword resolves the proxy's credential. PasswordRef names an
// external secret in a full deployment (e.g. a secrets-manager key); the
// core here treats it as the literal password, leaving indirection to
// the CLI wrapper that loads the profile.
func resolvePassword(cfg profile.ProxyConfig) string {
	return cfg.PasswordRef
}

func portString(port uint16) string {
	return strconv.Itoa(int(port))
}

func wrapTLS(conn net.Conn, cfg profile.ProxyConfig) (net.Conn, error) {
	serverName := cfg.SNI
	if serverName == "" {
		serverName = cfg.ServerHost
	}
	tlsCfg := &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: cfg.SkipCertVerify,
	}
	if cfg.CertPin != "" {
		tlsCfg.InsecureSkipVerify = true
		tlsCfg.VerifyPeerCertificate = pinVerifier(cfg.CertPin)
	}

	tlsConn := tls.Client(conn, tlsCfg)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return nil, errors.Wrap(err, errors.KindTransport, "policy: TLS handshake failed")
	}
	return tlsConn, nil
}

// pinVerifier rejects the handshake unless the leaf certificate's
// SHA-256 fingerprint matches pin (hex-encoded).
func pinVerifier(pin string) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.New(errors.KindProtocol, "policy: no peer certificate presented for cert-pin check")
		}
		sum := sha256.Sum256(rawCerts[0])
		if socksaddr.HexString(sum[:]) != pin {
			return errors.New(errors.KindProtocol, "policy: peer certificate does not match configured cert-pin")
		}
		return nil
	}
}
