// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package inbound

import (
	"bufio"
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"grimm.is/relaygate/internal/profile"
	"grimm.is/relaygate/internal/socksaddr"
)

func TestNegotiateHTTPConnect(t *testing.T) {
	req := bytes.NewBufferString("CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n")

	hs, err := NegotiateHTTP(bufio.NewReader(req))
	require.NoError(t, err)
	require.Equal(t, "example.com:443", hs.Destination.String())
	require.True(t, hs.Tunnel)
	require.Nil(t, hs.Replay)

	var reply bytes.Buffer
	require.NoError(t, hs.AckSuccess(&reply))
	require.Equal(t, connectEstablished, reply.String())
}

func TestNegotiateHTTPAbsoluteURI(t *testing.T) {
	req := bytes.NewBufferString("GET http://example.com/path HTTP/1.1\r\nHost: example.com\r\n\r\n")

	hs, err := NegotiateHTTP(bufio.NewReader(req))
	require.NoError(t, err)
	require.Equal(t, "example.com:80", hs.Destination.String())
	require.False(t, hs.Tunnel)
	require.NotEmpty(t, hs.Replay)
	require.Contains(t, string(hs.Replay), "GET /path HTTP/1.1")

	// Non-tunnel requests are never acknowledged locally.
	var reply bytes.Buffer
	require.NoError(t, hs.AckSuccess(&reply))
	require.Empty(t, reply.String())
}

func TestAckFailureConnect(t *testing.T) {
	req := bytes.NewBufferString("CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n")
	hs, err := NegotiateHTTP(bufio.NewReader(req))
	require.NoError(t, err)

	var reply bytes.Buffer
	require.NoError(t, hs.AckFailure(&reply))
	require.Contains(t, reply.String(), "502 Bad Gateway")
}

func TestNegotiateSOCKS5Connect(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	destAddr, err := profile.NewDomainPort("example.com", 443)
	require.NoError(t, err)

	type result struct {
		dest profile.TargetAddress
		err  error
	}
	done := make(chan result, 1)
	go func() {
		br := bufio.NewReader(serverSide)
		dest, err := NegotiateSOCKS5(br, serverSide, SOCKSAuth{})
		if err == nil {
			err = SOCKS5Succeed(serverSide, nil)
		}
		done <- result{dest, err}
	}()

	// Greeting: version 5, one method, no-auth.
	_, err = clientSide.Write([]byte{socks5Version, 1, authNone})
	require.NoError(t, err)

	var methodReply [2]byte
	_, err = clientSide.Read(methodReply[:])
	require.NoError(t, err)
	require.Equal(t, [2]byte{socks5Version, authNone}, methodReply)

	// CONNECT request.
	addrBytes, err := socksaddr.Encode(destAddr)
	require.NoError(t, err)
	request := append([]byte{socks5Version, cmdConnect, 0x00}, addrBytes...)
	_, err = clientSide.Write(request)
	require.NoError(t, err)

	requestReply := make([]byte, 10)
	_, err = clientSide.Read(requestReply)
	require.NoError(t, err)
	require.Equal(t, byte(socks5Version), requestReply[0])
	require.Equal(t, byte(ReplySucceeded), requestReply[1])

	got := <-done
	require.NoError(t, got.err)
	require.Equal(t, "example.com:443", got.dest.String())
}

func TestNegotiateSOCKS5AuthRequiredNoAcceptableMethod(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	auth := SOCKSAuth{Required: true, Username: "foo", Password: "bar"}
	done := make(chan error, 1)
	go func() {
		_, err := NegotiateSOCKS5(bufio.NewReader(serverSide), serverSide, auth)
		done <- err
	}()

	// Client offers only no-auth; the server must answer 0xFF and fail.
	_, err := clientSide.Write([]byte{socks5Version, 1, authNone})
	require.NoError(t, err)

	var reply [2]byte
	_, err = clientSide.Read(reply[:])
	require.NoError(t, err)
	require.Equal(t, [2]byte{socks5Version, authNoAcceptable}, reply)

	require.Error(t, <-done)
}

func TestNegotiateSOCKS5UsernamePassword(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	destAddr, err := profile.NewDomainPort("example.com", 80)
	require.NoError(t, err)

	auth := SOCKSAuth{Required: true, Username: "foo", Password: "bar"}
	type result struct {
		dest profile.TargetAddress
		err  error
	}
	done := make(chan result, 1)
	go func() {
		dest, err := NegotiateSOCKS5(bufio.NewReader(serverSide), serverSide, auth)
		done <- result{dest, err}
	}()

	_, err = clientSide.Write([]byte{socks5Version, 2, authNone, authUsernamePassword})
	require.NoError(t, err)

	var methodReply [2]byte
	_, err = clientSide.Read(methodReply[:])
	require.NoError(t, err)
	require.Equal(t, [2]byte{socks5Version, authUsernamePassword}, methodReply)

	// RFC 1929 sub-negotiation.
	sub := []byte{userPassVersion, 3}
	sub = append(sub, "foo"...)
	sub = append(sub, 3)
	sub = append(sub, "bar"...)
	_, err = clientSide.Write(sub)
	require.NoError(t, err)

	var subReply [2]byte
	_, err = clientSide.Read(subReply[:])
	require.NoError(t, err)
	require.Equal(t, [2]byte{userPassVersion, userPassSuccess}, subReply)

	addrBytes, err := socksaddr.Encode(destAddr)
	require.NoError(t, err)
	request := append([]byte{socks5Version, cmdConnect, 0x00}, addrBytes...)
	_, err = clientSide.Write(request)
	require.NoError(t, err)

	got := <-done
	require.NoError(t, got.err)
	require.Equal(t, "example.com:80", got.dest.String())
}

func TestNegotiateSOCKS5BadCredentials(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	auth := SOCKSAuth{Required: true, Username: "foo", Password: "bar"}
	done := make(chan error, 1)
	go func() {
		_, err := NegotiateSOCKS5(bufio.NewReader(serverSide), serverSide, auth)
		done <- err
	}()

	_, err := clientSide.Write([]byte{socks5Version, 1, authUsernamePassword})
	require.NoError(t, err)

	var methodReply [2]byte
	_, err = clientSide.Read(methodReply[:])
	require.NoError(t, err)

	sub := []byte{userPassVersion, 3}
	sub = append(sub, "foo"...)
	sub = append(sub, 5)
	sub = append(sub, "wrong"...)
	_, err = clientSide.Write(sub)
	require.NoError(t, err)

	var subReply [2]byte
	_, err = clientSide.Read(subReply[:])
	require.NoError(t, err)
	require.Equal(t, [2]byte{userPassVersion, userPassFailure}, subReply)

	require.Error(t, <-done)
}

func TestSOCKS5SucceedBoundAddress(t *testing.T) {
	var reply bytes.Buffer
	bound := &net.TCPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 4242}
	require.NoError(t, SOCKS5Succeed(&reply, bound))

	got := reply.Bytes()
	require.Len(t, got, 10)
	require.Equal(t, byte(socks5Version), got[0])
	require.Equal(t, byte(ReplySucceeded), got[1])
	require.Equal(t, byte(socksaddr.ATypIPv4), got[3])
	require.Equal(t, []byte{192, 0, 2, 1}, []byte(got[4:8]))
	require.Equal(t, []byte{0x10, 0x92}, []byte(got[8:10]))
}
