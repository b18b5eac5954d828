// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package shadowsocks implements the Shadowsocks AEAD outbound client
// (spec.md §4.5, §6.3): EVP_BytesToKey master key derivation,
// HKDF-SHA1 per-connection session key, chunked length||payload AEAD
// framing with a little-endian counter nonce (12 bytes; 24 for
// xchacha20-poly1305).
package shadowsocks

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/sha1"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"grimm.is/relaygate/internal/errors"
)

// Algorithm names accepted in a profile's ProxyConfig.SSAlgorithm.
const (
	AES128GCM        = "aes-128-gcm"
	AES192GCM        = "aes-192-gcm"
	AES256GCM        = "aes-256-gcm"
	ChaCha20Poly1305 = "chacha20-poly1305"
	XChaCha20        = "xchacha20-poly1305"
)

const hkdfInfo = "ss-subkey"

type algoSpec struct {
	keyLen, saltLen, nonceLen int
	newAEAD                   func(key []byte) (cipher.AEAD, error)
}

var algorithms = map[string]algoSpec{
	AES128GCM: {keyLen: 16, saltLen: 16, nonceLen: 12, newAEAD: newAESGCM},
	AES192GCM: {keyLen: 24, saltLen: 24, nonceLen: 12, newAEAD: newAESGCM},
	AES256GCM: {keyLen: 32, saltLen: 32, nonceLen: 12, newAEAD: newAESGCM},
	ChaCha20Poly1305: {keyLen: 32, saltLen: 32, nonceLen: 12, newAEAD: chacha20poly1305.New},
	XChaCha20:        {keyLen: 32, saltLen: 32, nonceLen: 24, newAEAD: chacha20poly1305.NewX},
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// deriveMasterKey stretches password into a key of keyLen bytes using
// the EVP_BytesToKey MD5 stretch (OpenSSL's classic KDF).
func deriveMasterKey(password string, keyLen int) []byte {
	var out []byte
	var prev []byte
	for len(out) < keyLen {
		h := md5.New()
		h.Write(prev)
		h.Write([]byte(password))
		prev = h.Sum(nil)
		out = append(out, prev...)
	}
	return out[:keyLen]
}

// deriveSessionKey runs HKDF-SHA1(salt, masterKey, "ss-subkey") to
// produce a per-connection session key of keyLen bytes.
func deriveSessionKey(masterKey, salt []byte, keyLen int) ([]byte, error) {
	r := hkdf.New(sha1.New, masterKey, salt, []byte(hkdfInfo))
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, errors.Wrap(err, errors.KindCrypto, "shadowsocks: HKDF-SHA1 session key derivation failed")
	}
	return key, nil
}

func lookupAlgorithm(name string) (algoSpec, error) {
	spec, ok := algorithms[name]
	if !ok {
		return algoSpec{}, errors.Errorf(errors.KindCrypto, "shadowsocks: unsupported algorithm %q", name)
	}
	return spec, nil
}
