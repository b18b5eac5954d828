// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package shadowsocks

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"io"

	"grimm.is/relaygate/internal/errors"
	"grimm.is/relaygate/internal/profile"
	"grimm.is/relaygate/internal/socksaddr"
)

const maxChunkSize = 16384

// Conn wraps an established TCP connection with Shadowsocks AEAD
// framing. The first Write seals the SOCKS-style destination address
// ahead of the caller's payload, as spec.md §4.5 requires.
type Conn struct {
	raw io.ReadWriter

	aead        cipher.AEAD
	nonceLen    int
	writeNonce  uint64
	readNonce   uint64
	wroteHeader bool
	destination []byte

	readBuf []byte
}

// Dial derives the session key from password and destination, writes
// the salt, and returns a Conn ready to carry the first chunk (which
// will be prefixed with destination's SOCKS-style address).
func Dial(raw io.ReadWriter, algorithm, password string, destination profile.TargetAddress) (*Conn, error) {
	spec, err := lookupAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, spec.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, errors.Wrap(err, errors.KindCrypto, "shadowsocks: failed to generate salt")
	}
	if _, err := raw.Write(salt); err != nil {
		return nil, errors.Wrap(err, errors.KindTransport, "shadowsocks: failed to write salt")
	}

	masterKey := deriveMasterKey(password, spec.keyLen)
	sessionKey, err := deriveSessionKey(masterKey, salt, spec.keyLen)
	if err != nil {
		return nil, err
	}
	aead, err := spec.newAEAD(sessionKey)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindCrypto, "shadowsocks: failed to construct AEAD cipher")
	}

	destBytes, err := socksaddr.Encode(destination)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindProtocol, "shadowsocks: failed to encode destination address")
	}

	return &Conn{
		raw:         raw,
		aead:        aead,
		nonceLen:    spec.nonceLen,
		destination: destBytes,
	}, nil
}

func (c *Conn) nextWriteNonce() []byte {
	n := socksaddr.LittleEndianCounterNonce(c.writeNonce, c.nonceLen)
	c.writeNonce++
	return n
}

func (c *Conn) nextReadNonce() []byte {
	n := socksaddr.LittleEndianCounterNonce(c.readNonce, c.nonceLen)
	c.readNonce++
	return n
}

// Write encrypts and sends p as one or more chunks of up to
// maxChunkSize bytes, each chunk sealed as seal(len) || seal(payload).
func (c *Conn) Write(p []byte) (int, error) {
	total := len(p)
	if !c.wroteHeader {
		p = append(append([]byte(nil), c.destination...), p...)
		c.wroteHeader = true
	}

	for len(p) > 0 {
		n := len(p)
		if n > maxChunkSize {
			n = maxChunkSize
		}
		if err := c.writeChunk(p[:n]); err != nil {
			return 0, err
		}
		p = p[n:]
	}
	return total, nil
}

func (c *Conn) writeChunk(payload []byte) error {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)))

	sealedLen := c.aead.Seal(nil, c.nextWriteNonce(), lenBuf[:], nil)
	if _, err := c.raw.Write(sealedLen); err != nil {
		return errors.Wrap(err, errors.KindTransport, "shadowsocks: failed to write chunk length")
	}

	sealedPayload := c.aead.Seal(nil, c.nextWriteNonce(), payload, nil)
	if _, err := c.raw.Write(sealedPayload); err != nil {
		return errors.Wrap(err, errors.KindTransport, "shadowsocks: failed to write chunk payload")
	}
	return nil
}

// Read decrypts and returns the next chunk's payload into p.
func (c *Conn) Read(p []byte) (int, error) {
	if len(c.readBuf) > 0 {
		n := copy(p, c.readBuf)
		c.readBuf = c.readBuf[n:]
		return n, nil
	}

	payload, err := c.readChunk()
	if err != nil {
		return 0, err
	}
	n := copy(p, payload)
	if n < len(payload) {
		c.readBuf = payload[n:]
	}
	return n, nil
}

func (c *Conn) readChunk() ([]byte, error) {
	tagLen := c.aead.Overhead()

	sealedLen := make([]byte, 2+tagLen)
	if _, err := io.ReadFull(c.raw, sealedLen); err != nil {
		return nil, errors.Wrap(err, errors.KindTransport, "shadowsocks: failed to read chunk length")
	}
	lenBuf, err := c.aead.Open(nil, c.nextReadNonce(), sealedLen, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindCrypto, "shadowsocks: chunk length AEAD verification failed")
	}
	size := binary.BigEndian.Uint16(lenBuf)
	if int(size) > maxChunkSize {
		return nil, errors.Errorf(errors.KindCrypto, "shadowsocks: chunk size %d exceeds maximum", size)
	}

	sealedPayload := make([]byte, int(size)+tagLen)
	if _, err := io.ReadFull(c.raw, sealedPayload); err != nil {
		return nil, errors.Wrap(err, errors.KindTransport, "shadowsocks: failed to read chunk payload")
	}
	payload, err := c.aead.Open(nil, c.nextReadNonce(), sealedPayload, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindCrypto, "shadowsocks: chunk payload AEAD verification failed")
	}
	return payload, nil
}
