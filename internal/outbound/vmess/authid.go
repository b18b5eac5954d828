// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package vmess

import (
	"crypto/aes"
	"crypto/rand"
	"encoding/binary"

	"grimm.is/relaygate/internal/errors"
	"grimm.is/relaygate/internal/socksaddr"
)

// buildAuthID produces the 16-byte auth-id frame a VMESS server uses to
// identify the client: an 8-byte UTC timestamp, 4 random bytes, and a
// 4-byte CRC32 of the two, then AES-ECB-encrypted (single block) under
// a KDF-derived key (spec.md §4.5: "Auth-id" in the GLOSSARY).
func buildAuthID(accountID [16]byte, unixSeconds int64) ([16]byte, error) {
	var plain [16]byte
	binary.BigEndian.PutUint64(plain[0:8], uint64(unixSeconds))
	if _, err := rand.Read(plain[8:12]); err != nil {
		return [16]byte{}, errors.Wrap(err, errors.KindCrypto, "vmess: failed to generate auth-id random bytes")
	}
	binary.BigEndian.PutUint32(plain[12:16], socksaddr.CRC32(plain[:12]))

	key := kdf(accountID[:], labelAuthIDEncryption)[:16]
	block, err := aes.NewCipher(key)
	if err != nil {
		return [16]byte{}, errors.Wrap(err, errors.KindCrypto, "vmess: failed to construct auth-id cipher")
	}
	var out [16]byte
	block.Encrypt(out[:], plain[:])
	return out, nil
}
