// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package socks5

import (
	"bytes"
	"io"
	"testing"

	"grimm.is/relaygate/internal/errors"
	"grimm.is/relaygate/internal/profile"
)

type pipeConn struct {
	out bytes.Buffer
	in  *bytes.Reader
}

func (p *pipeConn) Read(b []byte) (int, error)  { return p.in.Read(b) }
func (p *pipeConn) Write(b []byte) (int, error) { return p.out.Write(b) }

func TestDialNoAuthSuccess(t *testing.T) {
	dest, _ := profile.NewSocketAddress([]byte{1, 2, 3, 4}, 80)
	// selection: version 5, method 0 (no auth); reply: version 5, 0x00 success, rsv, atyp ipv4, addr, port
	reply := []byte{0x05, 0x00, 0x00, 0x01, 9, 9, 9, 9, 0, 80}
	conn := &pipeConn{in: bytes.NewReader(append([]byte{0x05, 0x00}, reply...))}

	if err := Dial(conn, dest, "", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDialNoAcceptableMethods(t *testing.T) {
	dest, _ := profile.NewDomainPort("example.com", 443)
	conn := &pipeConn{in: bytes.NewReader([]byte{0x05, 0xFF})}

	err := Dial(conn, dest, "", "")
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestDialAuthFailure(t *testing.T) {
	dest, _ := profile.NewDomainPort("example.com", 443)
	// selection: method 0x02 (user/pass); auth response: version 1, status 0x01 (fail)
	conn := &pipeConn{in: bytes.NewReader([]byte{0x05, 0x02, 0x01, 0x01})}

	err := Dial(conn, dest, "foo", "bar")
	if err == nil {
		t.Fatal("expected an authentication failure")
	}
	if errors.GetAttributes(err)["reason"] != "incorrect-credentials" {
		t.Fatalf("expected incorrect-credentials reason, got %v", errors.GetAttributes(err))
	}
}

func TestDialConnectReplyFailure(t *testing.T) {
	dest, _ := profile.NewDomainPort("example.com", 443)
	reply := []byte{0x05, 0x05, 0x00, 0x01, 0, 0, 0, 0, 0, 0} // 0x05 connection-refused
	conn := &pipeConn{in: bytes.NewReader(append([]byte{0x05, 0x00}, reply...))}

	err := Dial(conn, dest, "", "")
	if err == nil {
		t.Fatal("expected a reply-failed error")
	}
	if errors.GetAttributes(err)["reason"] != "connection-refused" {
		t.Fatalf("expected connection-refused, got %v", errors.GetAttributes(err))
	}
}

var _ io.ReadWriter = (*pipeConn)(nil)
