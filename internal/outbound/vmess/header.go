// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package vmess

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"

	"golang.org/x/crypto/chacha20poly1305"

	"grimm.is/relaygate/internal/errors"
	"grimm.is/relaygate/internal/profile"
	"grimm.is/relaygate/internal/socksaddr"
)

// session holds the 33 random bytes generated per connection: a 16-byte
// request key, a 16-byte request IV, and a 1-byte response verify code
// (spec.md §4.5).
type session struct {
	requestKey      [16]byte
	requestIV       [16]byte
	responseVerify  byte
}

func newSession() (session, error) {
	var buf [33]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return session{}, errors.Wrap(err, errors.KindCrypto, "vmess: failed to generate session bytes")
	}
	var s session
	copy(s.requestKey[:], buf[0:16])
	copy(s.requestIV[:], buf[16:32])
	s.responseVerify = buf[32]
	return s, nil
}

// buildRequestHeaderPlaintext assembles the plaintext request header:
// version, request IV, request key, response verify, options,
// (padding<<4)|algo, reserved, command, encoded address, padding bytes,
// then a trailing FNV-1a-like checksum of everything before it
// (spec.md §4.5).
func buildRequestHeaderPlaintext(s session, destination profile.TargetAddress, algo byte, opt byte, padLen int) ([]byte, error) {
	addr, err := encodeAddress(destination)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindProtocol, "vmess: failed to encode destination address")
	}

	buf := make([]byte, 0, 1+16+16+1+1+1+1+1+len(addr)+padLen+4)
	buf = append(buf, requestVersion)
	buf = append(buf, s.requestIV[:]...)
	buf = append(buf, s.requestKey[:]...)
	buf = append(buf, s.responseVerify)
	buf = append(buf, opt)
	buf = append(buf, byte(padLen<<4)|algo)
	buf = append(buf, 0x00) // reserved
	buf = append(buf, commandTCP)
	buf = append(buf, addr...)

	if padLen > 0 {
		padding := make([]byte, padLen)
		if _, err := rand.Read(padding); err != nil {
			return nil, errors.Wrap(err, errors.KindCrypto, "vmess: failed to generate header padding")
		}
		buf = append(buf, padding...)
	}

	buf = socksaddr.PutUint32(buf, fnv1a(buf))
	return buf, nil
}

// fnv1a is the 32-bit FNV-1a hash spec.md §4.5 calls the header
// checksum: "an FNV-1a-like 32-bit checksum".
func fnv1a(data []byte) uint32 {
	const (
		offsetBasis uint32 = 2166136261
		prime       uint32 = 16777619
	)
	h := offsetBasis
	for _, b := range data {
		h ^= uint32(b)
		h *= prime
	}
	return h
}

func newAEAD(key []byte, algo byte) (cipher.AEAD, error) {
	switch algo {
	case algoChaCha20Poly1305:
		return chacha20poly1305.New(chachaBodyKey(key))
	default:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	}
}

// chachaBodyKey stretches a 16-byte VMESS body key to ChaCha20's
// 32-byte key: MD5(MD5(key)) || MD5(MD5(MD5(key))). The derivation is
// wire-compatible and must stay bit-for-bit as is.
func chachaBodyKey(key []byte) []byte {
	if len(key) == chacha20poly1305.KeySize {
		return key
	}
	first := md5.Sum(key)
	second := md5.Sum(first[:])
	third := md5.Sum(second[:])
	out := make([]byte, 0, 32)
	out = append(out, second[:]...)
	out = append(out, third[:]...)
	return out
}

// sealRequestHeader produces the bytes sent to the server to open a
// VMESS connection: authID(16) || sealedLength || sealedHeader. The
// header AEAD keys are KDF-derived from the account ID with the
// "VMess Header AEAD ..." labels (spec.md §4.5).
func sealRequestHeader(accountID [16]byte, authID [16]byte, plaintext []byte) ([]byte, error) {
	lenKey := kdf(accountID[:], labelHeaderLenKey)[:16]
	lenIV := kdf(accountID[:], labelHeaderLenIV)[:12]
	hdrKey := kdf(accountID[:], labelHeaderKey)[:16]
	hdrIV := kdf(accountID[:], labelHeaderIV)[:12]

	lenAEAD, err := newAEAD(lenKey, algoAES128GCM)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindCrypto, "vmess: failed to construct header-length AEAD")
	}
	hdrAEAD, err := newAEAD(hdrKey, algoAES128GCM)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindCrypto, "vmess: failed to construct header AEAD")
	}

	lenBuf := []byte{byte(len(plaintext) >> 8), byte(len(plaintext))}
	sealedLen := lenAEAD.Seal(nil, lenIV, lenBuf, authID[:])
	sealedHeader := hdrAEAD.Seal(nil, hdrIV, plaintext, authID[:])

	out := make([]byte, 0, 16+len(sealedLen)+len(sealedHeader))
	out = append(out, authID[:]...)
	out = append(out, sealedLen...)
	out = append(out, sealedHeader...)
	return out, nil
}

// responseHeaderKeys derives the response-header AEAD keys from the
// response body key/IV (themselves SHA-256 truncations of the request
// key/IV), mirroring sealRequestHeader's derivation but scoped to the
// response direction (spec.md §4.5).
func responseHeaderKeys(s session) (lenKey, lenIV, hdrKey, hdrIV []byte) {
	bodyKey, bodyIV := responseBodyKeys(s)
	lenKey = kdf(bodyKey, labelRespHeaderLenKey)[:16]
	lenIV = kdf(bodyIV, labelRespHeaderLenIV)[:12]
	hdrKey = kdf(bodyKey, labelRespHeaderKey)[:16]
	hdrIV = kdf(bodyIV, labelRespHeaderIV)[:12]
	return
}
