// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package vmess

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"

	"grimm.is/relaygate/internal/profile"
)

func TestParseAccountRejectsNonUUID(t *testing.T) {
	_, err := ParseAccount("not-a-uuid")
	require.Error(t, err)
}

func TestParseAccountAcceptsUUID(t *testing.T) {
	id := uuid.New()
	got, err := ParseAccount(id.String())
	require.NoError(t, err)
	require.Equal(t, [16]byte(id), got)
}

func TestFNV1aDeterministic(t *testing.T) {
	require.Equal(t, fnv1a([]byte("hello")), fnv1a([]byte("hello")))
	require.NotEqual(t, fnv1a([]byte("hello")), fnv1a([]byte("hellp")))
}

func TestRequestHeaderSealOpenRoundTrip(t *testing.T) {
	accountID, err := ParseAccount(uuid.New().String())
	require.NoError(t, err)

	sess, err := newSession()
	require.NoError(t, err)

	dest, err := profile.NewDomainPort("example.com", 443)
	require.NoError(t, err)

	plaintext, err := buildRequestHeaderPlaintext(sess, dest, algoAES128GCM, optionChunkStream, 0)
	require.NoError(t, err)

	authID, err := buildAuthID(accountID, 1_700_000_000)
	require.NoError(t, err)

	sealed, err := sealRequestHeader(accountID, authID, plaintext)
	require.NoError(t, err)
	require.True(t, len(sealed) > 16)

	// Reopen using the same derivation the server side would use.
	lenKey := kdf(accountID[:], labelHeaderLenKey)[:16]
	lenIV := kdf(accountID[:], labelHeaderLenIV)[:12]
	hdrKey := kdf(accountID[:], labelHeaderKey)[:16]
	hdrIV := kdf(accountID[:], labelHeaderIV)[:12]

	lenAEAD, err := newAEAD(lenKey, algoAES128GCM)
	require.NoError(t, err)
	hdrAEAD, err := newAEAD(hdrKey, algoAES128GCM)
	require.NoError(t, err)

	gotAuthID := sealed[:16]
	require.Equal(t, authID[:], gotAuthID)

	sealedLen := sealed[16 : 16+2+lenAEAD.Overhead()]
	lenPlain, err := lenAEAD.Open(nil, lenIV, sealedLen, gotAuthID)
	require.NoError(t, err)
	respLen := int(lenPlain[0])<<8 | int(lenPlain[1])
	require.Equal(t, len(plaintext), respLen)

	sealedHdr := sealed[16+2+lenAEAD.Overhead():]
	hdrPlain, err := hdrAEAD.Open(nil, hdrIV, sealedHdr, gotAuthID)
	require.NoError(t, err)
	require.Equal(t, plaintext, hdrPlain)

	// Tampering any header byte must cause the open to fail.
	tampered := append([]byte(nil), sealedHdr...)
	tampered[0] ^= 0xFF
	_, err = hdrAEAD.Open(nil, hdrIV, tampered, gotAuthID)
	require.Error(t, err)
}

func TestBodyFramingRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 16)
	iv := bytes.Repeat([]byte{0x24}, 16)
	opts := Options{Masking: true}

	sender, err := newBodyDirection(key, iv, algoAES128GCM, opts)
	require.NoError(t, err)
	receiver, err := newBodyDirection(key, iv, algoAES128GCM, opts)
	require.NoError(t, err)

	payload := []byte("the quick brown fox jumps over the lazy dog")
	chunk, err := sender.sealChunk(payload)
	require.NoError(t, err)

	got, err := receiver.openChunk(bytes.NewReader(chunk))
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestBodyFramingWithAuthenticatedLength(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 16)
	iv := bytes.Repeat([]byte{0x22}, 16)
	opts := Options{AuthenticatedLength: true}

	sender, err := newBodyDirection(key, iv, algoAES128GCM, opts)
	require.NoError(t, err)
	receiver, err := newBodyDirection(key, iv, algoAES128GCM, opts)
	require.NoError(t, err)

	payload := []byte("authenticated length body")
	chunk, err := sender.sealChunk(payload)
	require.NoError(t, err)

	got, err := receiver.openChunk(bytes.NewReader(chunk))
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestBodyFramingChaCha20Poly1305(t *testing.T) {
	key := bytes.Repeat([]byte{0x33}, 16)
	iv := bytes.Repeat([]byte{0x44}, 16)
	opts := Options{Masking: true}

	sender, err := newBodyDirection(key, iv, algoChaCha20Poly1305, opts)
	require.NoError(t, err)
	receiver, err := newBodyDirection(key, iv, algoChaCha20Poly1305, opts)
	require.NoError(t, err)

	payload := []byte("chacha body payload")
	chunk, err := sender.sealChunk(payload)
	require.NoError(t, err)

	got, err := receiver.openChunk(bytes.NewReader(chunk))
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

// The first body frame's length field must equal the next SHAKE128 word
// (keyed by the direction IV) XORed with the sealed chunk size.
func TestMaskedLengthWord(t *testing.T) {
	key := bytes.Repeat([]byte{0x55}, 16)
	iv := bytes.Repeat([]byte{0x66}, 16)

	sender, err := newBodyDirection(key, iv, algoAES128GCM, Options{Masking: true})
	require.NoError(t, err)

	payload := []byte("hello")
	chunk, err := sender.sealChunk(payload)
	require.NoError(t, err)

	shake := sha3.NewShake128()
	shake.Write(iv)
	var word [2]byte
	_, err = io.ReadFull(shake, word[:])
	require.NoError(t, err)
	mask := binary.BigEndian.Uint16(word[:])

	sealedLen := uint16(len(payload) + sender.aead.Overhead())
	require.Equal(t, mask^sealedLen, binary.BigEndian.Uint16(chunk[:2]))
}
