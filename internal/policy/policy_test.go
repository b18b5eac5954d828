// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policy

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"grimm.is/relaygate/internal/errors"
	"grimm.is/relaygate/internal/profile"
)

func TestMakeConnectionReject(t *testing.T) {
	m := New()

	for _, pol := range []profile.Policy{
		{Name: profile.Reject, Kind: profile.PolicyReject},
		{Name: profile.RejectTinyGIF, Kind: profile.PolicyRejectTinyGIF},
	} {
		conn, err := m.MakeConnection(context.Background(), pol)
		require.Error(t, err)
		require.Nil(t, conn)
		require.Equal(t, errors.KindProtocol, errors.GetKind(err))
		require.Equal(t, pol.Name, errors.GetAttributes(err)["policy"])
	}
}

func TestMakeConnectionDirect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	dest, err := profile.NewSocketAddress(addr.IP.To4(), uint16(addr.Port))
	require.NoError(t, err)

	m := New()
	pol := profile.Policy{Name: profile.Direct, Kind: profile.PolicyDirect}.Clone(dest)

	conn, err := m.MakeConnection(context.Background(), pol)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	if nc, ok := conn.(net.Conn); ok {
		nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	}
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))
}

func TestMakeConnectionDirectEmptyDestination(t *testing.T) {
	m := New()
	pol := profile.Policy{Name: profile.Direct, Kind: profile.PolicyDirect}

	_, err := m.MakeConnection(context.Background(), pol)
	require.Error(t, err)
}

func TestDialProtocolTimeout(t *testing.T) {
	m := &Maker{ConnectTimeout: 50 * time.Millisecond}

	// 192.0.2.0/24 is TEST-NET-1: connects reliably hang or fail fast.
	dest, err := profile.NewSocketAddress([]byte{192, 0, 2, 1}, 81)
	require.NoError(t, err)
	pol := profile.Policy{Name: profile.Direct, Kind: profile.PolicyDirect}.Clone(dest)

	start := time.Now()
	_, err = m.MakeConnection(context.Background(), pol)
	require.Error(t, err)
	require.Less(t, time.Since(start), 5*time.Second)
}
