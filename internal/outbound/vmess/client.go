// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package vmess

import (
	"io"
	"time"

	"grimm.is/relaygate/internal/errors"
	"grimm.is/relaygate/internal/profile"
)

// Conn wraps an established TCP (or TLS/WebSocket-wrapped) connection
// with VMESS AEAD request/response framing. The first Write seals and
// sends the request header before any payload flows.
type Conn struct {
	raw io.ReadWriter

	accountID [16]byte
	algo      byte
	opt       byte
	options   Options
	sess      session

	wroteHeader bool
	readHeader  bool

	writeDir *bodyDirection
	readDir  *bodyDirection
	readBuf  []byte
}

// Dial validates username as a VMESS account UUID, builds a fresh
// per-connection session, and returns a Conn ready to seal the request
// header and first body chunk on the first Write (spec.md §4.5).
func Dial(raw io.ReadWriter, username string, algorithm string, options Options, destination profile.TargetAddress) (*Conn, error) {
	accountID, err := ParseAccount(username)
	if err != nil {
		return nil, err
	}
	algo, err := algoByte(algorithm)
	if err != nil {
		return nil, err
	}
	sess, err := newSession()
	if err != nil {
		return nil, err
	}

	opt := optionChunkStream
	if options.Masking {
		opt |= optionChunkMasking
	}
	if options.AuthenticatedLength {
		opt |= optionAuthenticatedLength
	}
	if options.Padding {
		opt |= optionGlobalPadding
	}

	padLen := 0
	if options.Padding {
		padLen = 4
	}

	plaintext, err := buildRequestHeaderPlaintext(sess, destination, algo, opt, padLen)
	if err != nil {
		return nil, err
	}
	authID, err := buildAuthID(accountID, time.Now().Unix())
	if err != nil {
		return nil, err
	}
	sealed, err := sealRequestHeader(accountID, authID, plaintext)
	if err != nil {
		return nil, err
	}
	if _, err := raw.Write(sealed); err != nil {
		return nil, errors.Wrap(err, errors.KindTransport, "vmess: failed to write request header")
	}

	writeDir, err := newBodyDirection(sess.requestKey[:], sess.requestIV[:], algo, options)
	if err != nil {
		return nil, err
	}

	return &Conn{
		raw:       raw,
		accountID: accountID,
		algo:      algo,
		opt:       opt,
		options:   options,
		sess:      sess,
		writeDir:  writeDir,
	}, nil
}

// Write encrypts and sends p as one or more VMESS body chunks.
func (c *Conn) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		n := len(p)
		if n > maxBodyChunk {
			n = maxBodyChunk
		}
		chunk, err := c.writeDir.sealChunk(p[:n])
		if err != nil {
			return 0, err
		}
		if _, err := c.raw.Write(chunk); err != nil {
			return 0, errors.Wrap(err, errors.KindTransport, "vmess: failed to write body chunk")
		}
		p = p[n:]
	}
	return total, nil
}

// Read decrypts the response header on the first call (verifying the
// response verify code), then returns decrypted body payload.
func (c *Conn) Read(p []byte) (int, error) {
	if !c.readHeader {
		if err := c.readResponseHeader(); err != nil {
			return 0, err
		}
		c.readHeader = true
	}

	if len(c.readBuf) > 0 {
		n := copy(p, c.readBuf)
		c.readBuf = c.readBuf[n:]
		return n, nil
	}

	payload, err := c.readDir.openChunk(c.raw)
	if err != nil {
		return 0, err
	}
	n := copy(p, payload)
	if n < len(payload) {
		c.readBuf = payload[n:]
	}
	return n, nil
}

// readResponseHeader decrypts the server's response header and checks
// its verify code against the one this client sent, per spec.md §4.5:
// "Response parsing must verify the response verify code ... equals
// the code sent; otherwise PayloadTooLarge/InvalidResponse and close."
func (c *Conn) readResponseHeader() error {
	lenKey, lenIV, hdrKey, hdrIV := responseHeaderKeys(c.sess)

	lenAEAD, err := newAEAD(lenKey, algoAES128GCM)
	if err != nil {
		return errors.Wrap(err, errors.KindCrypto, "vmess: failed to construct response length AEAD")
	}
	hdrAEAD, err := newAEAD(hdrKey, algoAES128GCM)
	if err != nil {
		return errors.Wrap(err, errors.KindCrypto, "vmess: failed to construct response header AEAD")
	}

	sealedLen := make([]byte, 2+lenAEAD.Overhead())
	if _, err := io.ReadFull(c.raw, sealedLen); err != nil {
		return errors.Wrap(err, errors.KindTransport, "vmess: failed to read response length")
	}
	lenPlain, err := lenAEAD.Open(nil, lenIV, sealedLen, nil)
	if err != nil {
		return errors.Wrap(err, errors.KindCrypto, "vmess: response length AEAD verification failed")
	}
	respLen := int(lenPlain[0])<<8 | int(lenPlain[1])

	sealedHdr := make([]byte, respLen)
	if _, err := io.ReadFull(c.raw, sealedHdr); err != nil {
		return errors.Wrap(err, errors.KindTransport, "vmess: failed to read response header")
	}
	hdrPlain, err := hdrAEAD.Open(nil, hdrIV, sealedHdr, nil)
	if err != nil {
		return errors.Wrap(err, errors.KindCrypto, "vmess: response header AEAD verification failed")
	}
	if len(hdrPlain) < 1 || hdrPlain[0] != c.sess.responseVerify {
		return errors.New(errors.KindProtocol, "vmess: response verify code mismatch")
	}

	respKey, respIV := responseBodyKeys(c.sess)
	readDir, err := newBodyDirection(respKey, respIV, c.algo, c.options)
	if err != nil {
		return err
	}
	c.readDir = readDir
	return nil
}
