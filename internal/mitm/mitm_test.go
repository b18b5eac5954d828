// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package mitm

import (
	"bufio"
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"grimm.is/relaygate/internal/certstore"
	"grimm.is/relaygate/internal/httpcapture"
	"grimm.is/relaygate/internal/tlsdetect"
)

// clientHelloBytes captures the raw ClientHello crypto/tls emits for
// serverName, so Detect is exercised against a real handshake record.
func clientHelloBytes(t *testing.T, serverName string) []byte {
	t.Helper()

	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	go func() {
		conn := tls.Client(clientSide, &tls.Config{ServerName: serverName, InsecureSkipVerify: true})
		conn.Handshake()
	}()

	serverSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16*1024)
	n, err := serverSide.Read(buf)
	require.NoError(t, err)
	require.Greater(t, n, 5)
	return buf[:n]
}

func TestDetectClientHelloSNI(t *testing.T) {
	raw := clientHelloBytes(t, "a.example.com")

	kind, sni, err := Detect(bufio.NewReaderSize(bytes.NewReader(raw), 32*1024))
	require.NoError(t, err)
	require.Equal(t, tlsdetect.KindTLS, kind)
	require.Equal(t, "a.example.com", sni)
}

func TestDetectDoesNotConsume(t *testing.T) {
	raw := clientHelloBytes(t, "a.example.com")

	br := bufio.NewReaderSize(bytes.NewReader(raw), 32*1024)
	_, _, err := Detect(br)
	require.NoError(t, err)

	// The full record must still be readable after detection.
	got, err := io.ReadAll(br)
	require.NoError(t, err)
	require.Equal(t, raw, got)
}

func TestDetectCleartextHTTP(t *testing.T) {
	br := bufio.NewReader(bytes.NewReader([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")))
	kind, sni, err := Detect(br)
	require.NoError(t, err)
	require.Equal(t, tlsdetect.KindHTTP, kind)
	require.Empty(t, sni)
}

type recordingSink struct {
	records []httpcapture.Record
}

func (s *recordingSink) Capture(r httpcapture.Record) { s.records = append(s.records, r) }

func newTestCA(t *testing.T) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "mitm test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, key
}

func selfSignedServerCert(t *testing.T, host string) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: host},
		DNSNames:     []string{host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

// End to end: a client trusting the MitM CA connects through the
// intercept pipeline to a self-signed origin; its GET / must succeed,
// the minted leaf must cover the SNI hostname, and the request/response
// pair must land in the capture sink with status and headers present.
func TestInterceptTLSCapturesInnerHTTP(t *testing.T) {
	const host = "a.example.com"

	caCert, caKey := newTestCA(t)
	store := certstore.New(caCert, caKey)
	store.SetMitMHostnames([]string{"*.example.com"})
	require.True(t, store.MatchesHostname(host))

	inClient, inServer := net.Pipe()
	outClient, outServer := net.Pipe()
	defer inClient.Close()
	defer outServer.Close()

	sink := &recordingSink{}
	pipelineDone := make(chan error, 1)
	go func() {
		pipelineDone <- InterceptTLS(inServer, outClient, host, store, true, sink)
	}()

	// Origin server: terminate TLS with a self-signed cert (the
	// pipeline runs with skip-verification on) and answer one request.
	originDone := make(chan error, 1)
	go func() {
		srv := tls.Server(outServer, &tls.Config{Certificates: []tls.Certificate{selfSignedServerCert(t, host)}})
		req, err := http.ReadRequest(bufio.NewReader(srv))
		if err != nil {
			originDone <- err
			return
		}
		resp := &http.Response{
			StatusCode: 200,
			Status:     "200 OK",
			Proto:      "HTTP/1.1",
			ProtoMajor: 1,
			ProtoMinor: 1,
			Header:     http.Header{"Content-Type": {"text/plain"}},
			Body:       http.NoBody,
			Request:    req,
		}
		originDone <- resp.Write(srv)
	}()

	pool := x509.NewCertPool()
	pool.AddCert(caCert)
	cli := tls.Client(inClient, &tls.Config{ServerName: host, RootCAs: pool})
	require.NoError(t, cli.Handshake())

	// The presented leaf must be minted for the SNI hostname and chain
	// to the configured CA.
	leaf := cli.ConnectionState().PeerCertificates[0]
	require.Contains(t, leaf.DNSNames, host)

	req, err := http.NewRequest(http.MethodGet, "http://"+host+"/", nil)
	require.NoError(t, err)
	require.NoError(t, req.Write(cli))

	resp, err := http.ReadResponse(bufio.NewReader(cli), req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	require.NoError(t, <-originDone)
	cli.Close()

	select {
	case <-pipelineDone:
	case <-time.After(2 * time.Second):
		t.Fatal("intercept pipeline did not finish after client closed")
	}

	require.Len(t, sink.records, 1)
	record := sink.records[0]
	require.Equal(t, "GET", record.Method)
	require.Equal(t, 200, record.StatusCode)
	require.NotEmpty(t, record.Status)
	require.NotEmpty(t, record.ResponseHeaders)
}
