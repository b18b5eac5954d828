// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package inbound

import (
	"bufio"
	"io"
	"net"

	"grimm.is/relaygate/internal/errors"
	"grimm.is/relaygate/internal/profile"
	"grimm.is/relaygate/internal/socksaddr"
)

// SOCKS5 wire constants (RFC 1928 + RFC 1929).
const (
	socks5Version = 0x05

	authNone             = 0x00
	authUsernamePassword = 0x02
	authNoAcceptable     = 0xFF

	userPassVersion = 0x01
	userPassSuccess = 0x00
	userPassFailure = 0x01

	cmdConnect = 0x01
)

// SOCKS5 reply codes (RFC 1928 §6) the dispatcher maps outcomes to.
const (
	ReplySucceeded       = 0x00
	ReplyGeneralFailure  = 0x01
	ReplyHostUnreachable = 0x04
	ReplyCmdNotSupported = 0x07
)

// SOCKSAuth configures the inbound SOCKS5 listener's RFC 1929
// username/password requirement. The zero value accepts any client
// offering no-authentication.
type SOCKSAuth struct {
	Required bool
	Username string
	Password string
}

// NegotiateSOCKS5 runs the RFC 1928 greeting, the optional RFC 1929
// sub-negotiation, and the CONNECT request over br/conn and returns the
// requested destination. It does NOT send the final reply: the
// dispatcher answers with SOCKS5Succeed or SOCKS5Fail only after the
// outbound connect settles (spec.md §5's ordering guarantee). Only the
// CONNECT command is supported; BIND/UDP-ASSOCIATE are answered with
// command-not-supported and returned as an error.
func NegotiateSOCKS5(br *bufio.Reader, conn io.Writer, auth SOCKSAuth) (profile.TargetAddress, error) {
	if err := negotiateMethod(br, conn, auth); err != nil {
		return profile.TargetAddress{}, err
	}
	return negotiateRequest(br, conn)
}

func negotiateMethod(br *bufio.Reader, conn io.Writer, auth SOCKSAuth) error {
	var header [2]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return errors.Wrap(err, errors.KindProtocol, "inbound: failed to read SOCKS5 greeting")
	}
	if header[0] != socks5Version {
		return errors.Errorf(errors.KindProtocol, "inbound: unsupported SOCKS version 0x%02x", header[0])
	}

	methods := make([]byte, header[1])
	if _, err := io.ReadFull(br, methods); err != nil {
		return errors.Wrap(err, errors.KindProtocol, "inbound: failed to read SOCKS5 auth methods")
	}

	if auth.Required {
		if !hasMethod(methods, authUsernamePassword) {
			conn.Write([]byte{socks5Version, authNoAcceptable})
			err := errors.New(errors.KindProtocol, "inbound: authentication required but client offered no username/password method")
			return errors.Attr(err, "reason", "no-valid-method")
		}
		if _, err := conn.Write([]byte{socks5Version, authUsernamePassword}); err != nil {
			return errors.Wrap(err, errors.KindTransport, "inbound: failed to write SOCKS5 method selection")
		}
		return verifyCredentials(br, conn, auth)
	}

	if hasMethod(methods, authNone) {
		_, err := conn.Write([]byte{socks5Version, authNone})
		return err
	}

	conn.Write([]byte{socks5Version, authNoAcceptable})
	err := errors.New(errors.KindProtocol, "inbound: client offered no acceptable SOCKS5 auth method")
	return errors.Attr(err, "reason", "no-valid-method")
}

func hasMethod(methods []byte, want byte) bool {
	for _, m := range methods {
		if m == want {
			return true
		}
	}
	return false
}

// verifyCredentials runs the RFC 1929 username/password sub-negotiation
// on the server side.
func verifyCredentials(br *bufio.Reader, conn io.Writer, auth SOCKSAuth) error {
	var header [2]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return errors.Wrap(err, errors.KindProtocol, "inbound: failed to read username/password header")
	}
	if header[0] != userPassVersion {
		return errors.Errorf(errors.KindProtocol, "inbound: unsupported username/password sub-negotiation version 0x%02x", header[0])
	}

	username := make([]byte, header[1])
	if _, err := io.ReadFull(br, username); err != nil {
		return errors.Wrap(err, errors.KindProtocol, "inbound: failed to read username")
	}
	var plen [1]byte
	if _, err := io.ReadFull(br, plen[:]); err != nil {
		return errors.Wrap(err, errors.KindProtocol, "inbound: failed to read password length")
	}
	password := make([]byte, plen[0])
	if _, err := io.ReadFull(br, password); err != nil {
		return errors.Wrap(err, errors.KindProtocol, "inbound: failed to read password")
	}

	if string(username) != auth.Username || string(password) != auth.Password {
		conn.Write([]byte{userPassVersion, userPassFailure})
		err := errors.New(errors.KindProtocol, "inbound: SOCKS5 credentials rejected")
		return errors.Attr(err, "reason", "incorrect-credentials")
	}

	_, err := conn.Write([]byte{userPassVersion, userPassSuccess})
	return err
}

func negotiateRequest(br *bufio.Reader, conn io.Writer) (profile.TargetAddress, error) {
	var header [3]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return profile.TargetAddress{}, errors.Wrap(err, errors.KindProtocol, "inbound: failed to read SOCKS5 request header")
	}
	if header[0] != socks5Version {
		return profile.TargetAddress{}, errors.Errorf(errors.KindProtocol, "inbound: unsupported SOCKS version 0x%02x", header[0])
	}

	dest, err := socksaddr.Decode(br)
	if err != nil {
		return profile.TargetAddress{}, errors.Wrap(err, errors.KindProtocol, "inbound: failed to read SOCKS5 request address")
	}

	if header[1] != cmdConnect {
		SOCKS5Fail(conn, ReplyCmdNotSupported)
		return profile.TargetAddress{}, errors.Errorf(errors.KindProtocol, "inbound: unsupported SOCKS5 command 0x%02x", header[1])
	}
	return dest, nil
}

// SOCKS5Succeed answers a CONNECT request with reply code succeeded and
// the locally-bound address of the outbound socket (RFC 1928 §6). bound
// may be nil when the outbound stream has no meaningful local address
// (a framed proxy transport); the reply then carries 0.0.0.0:0.
func SOCKS5Succeed(conn io.Writer, bound net.Addr) error {
	reply := []byte{socks5Version, ReplySucceeded, 0x00}
	reply = append(reply, boundAddressBytes(bound)...)
	if _, err := conn.Write(reply); err != nil {
		return errors.Wrap(err, errors.KindTransport, "inbound: failed to write SOCKS5 reply")
	}
	return nil
}

// SOCKS5Fail answers a CONNECT request with the given failure reply
// code before the caller closes the connection.
func SOCKS5Fail(conn io.Writer, code byte) error {
	reply := []byte{socks5Version, code, 0x00}
	reply = append(reply, boundAddressBytes(nil)...)
	_, err := conn.Write(reply)
	return err
}

func boundAddressBytes(bound net.Addr) []byte {
	zero := []byte{socksaddr.ATypIPv4, 0, 0, 0, 0, 0, 0}
	tcp, ok := bound.(*net.TCPAddr)
	if !ok || tcp == nil {
		return zero
	}

	var addr profile.TargetAddress
	var err error
	if v4 := tcp.IP.To4(); v4 != nil {
		addr, err = profile.NewSocketAddress(v4, uint16(tcp.Port))
	} else {
		addr, err = profile.NewSocketAddress(tcp.IP.To16(), uint16(tcp.Port))
	}
	if err != nil {
		return zero
	}
	encoded, err := socksaddr.Encode(addr)
	if err != nil {
		return zero
	}
	return encoded
}
