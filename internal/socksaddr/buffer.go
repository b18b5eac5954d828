// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package socksaddr provides the wire-level helpers shared by every
// outbound protocol client and the inbound SOCKS5 server: reading and
// writing network integers, encoding/decoding SOCKS-style addresses, and
// small hex/crc helpers used by the VMESS and Shadowsocks framing.
package socksaddr

import (
	"encoding/binary"
	"encoding/hex"
	"hash/crc32"
	"io"
)

// PutUint16 appends the big-endian encoding of v to buf.
func PutUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

// ReadUint16 reads a big-endian uint16 from r.
func ReadUint16(r io.Reader) (uint16, error) {
	var tmp [2]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(tmp[:]), nil
}

// PutUint32 appends the big-endian encoding of v to buf.
func PutUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// ReadUint32 reads a big-endian uint32 from r.
func ReadUint32(r io.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

// PutUint64 appends the big-endian encoding of v to buf.
func PutUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// HexString renders b as a lowercase hex string.
func HexString(b []byte) string { return hex.EncodeToString(b) }

// CRC32 returns the IEEE CRC32 checksum of b, used by the VMESS auth-id
// frame.
func CRC32(b []byte) uint32 { return crc32.ChecksumIEEE(b) }

// LittleEndianCounterNonce renders counter as a little-endian counter
// nonce of size bytes (12 for most AEADs, 24 for XChaCha20), per the
// Shadowsocks AEAD chunk framing.
func LittleEndianCounterNonce(counter uint64, size int) []byte {
	nonce := make([]byte, size)
	binary.LittleEndian.PutUint64(nonce[:8], counter)
	return nonce
}
