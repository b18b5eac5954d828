// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dispatcher

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"grimm.is/relaygate/internal/policy"
	"grimm.is/relaygate/internal/profile"
	"grimm.is/relaygate/internal/ruleengine"
	"grimm.is/relaygate/internal/socksaddr"
)

func testProfile(finalPolicy string) *profile.Profile {
	return &profile.Profile{
		Rules: []profile.Rule{
			{Kind: profile.RuleFinal, Policy: finalPolicy},
		},
		Policies: []profile.Policy{
			{Name: profile.Direct, Kind: profile.PolicyDirect},
			{Name: profile.Reject, Kind: profile.PolicyReject},
			{Name: profile.RejectTinyGIF, Kind: profile.PolicyRejectTinyGIF},
		},
	}
}

func newTestDispatcher(t *testing.T, finalPolicy string) *Dispatcher {
	t.Helper()
	prof := testProfile(finalPolicy)
	engine := ruleengine.New(prof.Rules, ruleengine.Resources{}, 0)
	return New(prof, nil, engine, policy.New(), nil, nil)
}

func TestHandleHTTPConnectDirect(t *testing.T) {
	echoLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer echoLn.Close()
	go func() {
		conn, err := echoLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()

	d := newTestDispatcher(t, profile.Direct)

	clientSide, serverSide := net.Pipe()
	done := make(chan struct{})
	go func() {
		d.Handle(context.Background(), serverSide, ProtocolHTTP)
		close(done)
	}()

	req := "CONNECT " + echoLn.Addr().String() + " HTTP/1.1\r\nHost: " + echoLn.Addr().String() + "\r\n\r\n"
	_, err = clientSide.Write([]byte(req))
	require.NoError(t, err)

	reply := make([]byte, len(connectEstablishedForTest))
	_, err = io.ReadFull(clientSide, reply)
	require.NoError(t, err)
	require.Equal(t, connectEstablishedForTest, string(reply))

	_, err = clientSide.Write([]byte("ping"))
	require.NoError(t, err)

	echoBuf := make([]byte, 4)
	clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadFull(clientSide, echoBuf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(echoBuf))

	clientSide.Close()
	<-done
}

const connectEstablishedForTest = "HTTP/1.1 200 Connection Established\r\n\r\n"

func TestHandleSOCKS5Direct(t *testing.T) {
	echoLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer echoLn.Close()
	go func() {
		conn, err := echoLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()

	d := newTestDispatcher(t, profile.Direct)

	clientSide, serverSide := net.Pipe()
	done := make(chan struct{})
	go func() {
		d.Handle(context.Background(), serverSide, ProtocolSOCKS5)
		close(done)
	}()

	_, err = clientSide.Write([]byte{0x05, 1, 0x00})
	require.NoError(t, err)
	var methodReply [2]byte
	_, err = io.ReadFull(clientSide, methodReply[:])
	require.NoError(t, err)
	require.Equal(t, [2]byte{0x05, 0x00}, methodReply)

	addr := echoLn.Addr().(*net.TCPAddr)
	dest, err := profile.NewSocketAddress(addr.IP.To4(), uint16(addr.Port))
	require.NoError(t, err)
	addrBytes, err := socksaddr.Encode(dest)
	require.NoError(t, err)
	_, err = clientSide.Write(append([]byte{0x05, 0x01, 0x00}, addrBytes...))
	require.NoError(t, err)

	// Reply arrives only after the outbound connect succeeded, carrying
	// the locally-bound outbound address.
	header := make([]byte, 4)
	clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadFull(clientSide, header)
	require.NoError(t, err)
	require.Equal(t, byte(0x05), header[0])
	require.Equal(t, byte(0x00), header[1])
	require.Equal(t, byte(socksaddr.ATypIPv4), header[3])
	rest := make([]byte, 6)
	_, err = io.ReadFull(clientSide, rest)
	require.NoError(t, err)

	_, err = clientSide.Write([]byte("ping"))
	require.NoError(t, err)
	echoBuf := make([]byte, 4)
	_, err = io.ReadFull(clientSide, echoBuf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(echoBuf))

	clientSide.Close()
	<-done
}

func TestHandleSOCKS5ConnectFailureRepliesHostUnreachable(t *testing.T) {
	// A listener that is closed immediately: the dial must fail.
	closedLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := closedLn.Addr().(*net.TCPAddr)
	closedLn.Close()

	d := newTestDispatcher(t, profile.Direct)

	clientSide, serverSide := net.Pipe()
	done := make(chan struct{})
	go func() {
		d.Handle(context.Background(), serverSide, ProtocolSOCKS5)
		close(done)
	}()

	_, err = clientSide.Write([]byte{0x05, 1, 0x00})
	require.NoError(t, err)
	var methodReply [2]byte
	_, err = io.ReadFull(clientSide, methodReply[:])
	require.NoError(t, err)

	dest, err := profile.NewSocketAddress(addr.IP.To4(), uint16(addr.Port))
	require.NoError(t, err)
	addrBytes, err := socksaddr.Encode(dest)
	require.NoError(t, err)
	_, err = clientSide.Write(append([]byte{0x05, 0x01, 0x00}, addrBytes...))
	require.NoError(t, err)

	reply := make([]byte, 10)
	clientSide.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = io.ReadFull(clientSide, reply)
	require.NoError(t, err)
	require.Equal(t, byte(0x05), reply[0])
	require.Equal(t, byte(0x04), reply[1]) // host unreachable

	clientSide.Close()
	<-done
}

func TestHandleRejectTinyGIF(t *testing.T) {
	d := newTestDispatcher(t, profile.RejectTinyGIF)

	clientSide, serverSide := net.Pipe()
	done := make(chan struct{})
	go func() {
		d.Handle(context.Background(), serverSide, ProtocolHTTP)
		close(done)
	}()

	req := "GET http://ads.example.com/pixel HTTP/1.1\r\nHost: ads.example.com\r\n\r\n"
	_, err := clientSide.Write([]byte(req))
	require.NoError(t, err)

	clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	response, err := io.ReadAll(clientSide)
	require.NoError(t, err)
	require.Contains(t, string(response), "200 OK")
	require.Contains(t, string(response), "image/gif")

	clientSide.Close()
	<-done
}

func TestHandleRejectConnectGets502(t *testing.T) {
	d := newTestDispatcher(t, profile.Reject)

	clientSide, serverSide := net.Pipe()
	done := make(chan struct{})
	go func() {
		d.Handle(context.Background(), serverSide, ProtocolHTTP)
		close(done)
	}()

	req := "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n"
	_, err := clientSide.Write([]byte(req))
	require.NoError(t, err)

	clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	response, err := io.ReadAll(clientSide)
	require.NoError(t, err)
	require.Contains(t, string(response), "502 Bad Gateway")

	clientSide.Close()
	<-done
}
