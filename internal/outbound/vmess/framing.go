// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package vmess

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/sha3"

	"grimm.is/relaygate/internal/errors"
)

const maxBodyChunk = 16 * 1024

// bodyDirection carries the AEAD and SHAKE128 state for one direction
// (request or response) of VMESS body framing (spec.md §4.5).
type bodyDirection struct {
	aead    cipher.AEAD
	iv      []byte // 16 bytes; nonce = be16(counter) || iv[2:12]
	counter uint16

	masking             bool
	authenticatedLength bool
	padding             bool

	maskShake  sha3.ShakeHash // nil unless masking or padding is enabled
	authLenKey []byte         // derived lazily, only when authenticatedLength is set
}

func newBodyDirection(key, iv []byte, algo byte, opt Options) (*bodyDirection, error) {
	aead, err := newAEAD(key, algo)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindCrypto, "vmess: failed to construct body AEAD")
	}
	d := &bodyDirection{
		aead:                aead,
		iv:                  append([]byte(nil), iv...),
		masking:             opt.Masking,
		authenticatedLength: opt.AuthenticatedLength,
		padding:             opt.Padding,
	}
	if d.masking || d.padding {
		shake := sha3.NewShake128()
		shake.Write(iv)
		d.maskShake = shake
	}
	if d.authenticatedLength {
		d.authLenKey = kdf(key, labelAuthLen)[:16]
	}
	return d, nil
}

// nextNonce returns the nonce for the next packet: be16(N) || iv[2:12],
// advancing the packet counter. Within a packet the same nonce serves
// both the authenticated-length field and the payload — they are sealed
// under different keys, so no nonce is ever reused with one key.
func (d *bodyDirection) nextNonce() []byte {
	n := make([]byte, 12)
	binary.BigEndian.PutUint16(n[0:2], d.counter)
	copy(n[2:], d.iv[2:12])
	d.counter++
	return n
}

func (d *bodyDirection) nextPadLen() int {
	if !d.padding || d.maskShake == nil {
		return 0
	}
	var buf [2]byte
	io.ReadFull(d.maskShake, buf[:])
	return int(binary.BigEndian.Uint16(buf[:]) % 64)
}

func (d *bodyDirection) maskWord() uint16 {
	if d.maskShake == nil {
		return 0
	}
	var buf [2]byte
	io.ReadFull(d.maskShake, buf[:])
	return binary.BigEndian.Uint16(buf[:])
}

// sealChunk encrypts one body chunk: payload || padding, sealed under
// the direction's AEAD, prefixed by a plaintext-masked or AEAD-sealed
// length field (spec.md §4.5).
func (d *bodyDirection) sealChunk(payload []byte) ([]byte, error) {
	padLen := d.nextPadLen()
	padding := make([]byte, padLen)
	if padLen > 0 {
		if _, err := rand.Read(padding); err != nil {
			return nil, errors.Wrap(err, errors.KindCrypto, "vmess: failed to generate chunk padding")
		}
	}

	nonce := d.nextNonce()
	plain := append(append([]byte(nil), payload...), padding...)
	sealed := d.aead.Seal(nil, nonce, plain, nil)

	lenField, err := d.sealLength(len(sealed), nonce)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(lenField)+len(sealed))
	out = append(out, lenField...)
	out = append(out, sealed...)
	return out, nil
}

func (d *bodyDirection) sealLength(rawLen int, nonce []byte) ([]byte, error) {
	if d.authenticatedLength {
		aead, err := newAEAD(d.authLenKey, algoAES128GCM)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindCrypto, "vmess: failed to construct auth-len AEAD")
		}
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(rawLen))
		return aead.Seal(nil, nonce, lenBuf[:], nil), nil
	}

	masked := uint16(rawLen)
	if d.masking {
		masked ^= d.maskWord()
	}
	var out [2]byte
	binary.BigEndian.PutUint16(out[:], masked)
	return out[:], nil
}

// readChunkLength reads and reverses the length field written by
// sealLength on the peer's matching direction.
func (d *bodyDirection) readChunkLength(r io.Reader, nonce []byte) (int, error) {
	if d.authenticatedLength {
		aead, err := newAEAD(d.authLenKey, algoAES128GCM)
		if err != nil {
			return 0, errors.Wrap(err, errors.KindCrypto, "vmess: failed to construct auth-len AEAD")
		}
		tagLen := aead.Overhead()
		sealed := make([]byte, 2+tagLen)
		if _, err := io.ReadFull(r, sealed); err != nil {
			return 0, errors.Wrap(err, errors.KindTransport, "vmess: failed to read authenticated length field")
		}
		plain, err := aead.Open(nil, nonce, sealed, nil)
		if err != nil {
			return 0, errors.Wrap(err, errors.KindCrypto, "vmess: authenticated length AEAD verification failed")
		}
		return int(binary.BigEndian.Uint16(plain)), nil
	}

	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errors.Wrap(err, errors.KindTransport, "vmess: failed to read chunk length")
	}
	masked := binary.BigEndian.Uint16(buf[:])
	if d.masking {
		masked ^= d.maskWord()
	}
	return int(masked), nil
}

// openChunk reads, decrypts and returns one body chunk's payload, with
// the trailing padding stripped (its length comes from the SHAKE128
// stream, since VMESS doesn't carry an explicit padding length).
func (d *bodyDirection) openChunk(r io.Reader) ([]byte, error) {
	// Pull the padding-length word from the mask stream before the
	// length word, mirroring sealChunk's pull order so the shared
	// SHAKE128 stream stays in sync between sealer and opener.
	padLen := d.nextPadLen()

	nonce := d.nextNonce()
	rawLen, err := d.readChunkLength(r, nonce)
	if err != nil {
		return nil, err
	}
	if rawLen > maxBodyChunk+d.aead.Overhead() {
		return nil, errors.Errorf(errors.KindCrypto, "vmess: chunk size %d exceeds maximum", rawLen)
	}
	sealed := make([]byte, rawLen)
	if _, err := io.ReadFull(r, sealed); err != nil {
		return nil, errors.Wrap(err, errors.KindTransport, "vmess: failed to read chunk body")
	}
	plain, err := d.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindCrypto, "vmess: chunk body AEAD verification failed")
	}
	if padLen > 0 && padLen <= len(plain) {
		plain = plain[:len(plain)-padLen]
	}
	return plain, nil
}

func responseBodyKeys(s session) (key, iv []byte) {
	sum := sha256.Sum256(s.requestKey[:])
	key = sum[:16]
	sumIV := sha256.Sum256(s.requestIV[:])
	iv = sumIV[:16]
	return
}
