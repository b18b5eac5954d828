// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package vmess

import (
	"crypto/hmac"
	"crypto/sha256"
)

// kdfSalt seeds the whole KDF chain (spec.md §4.5's "KDF-SHA256 with
// labels" derivation).
const kdfSalt = "VMess AEAD KDF"

// Header AEAD key/IV labels (spec.md §4.5).
const (
	labelHeaderLenKey = "VMess Header AEAD Key_Length"
	labelHeaderLenIV  = "VMess Header AEAD Nonce_Length"
	labelHeaderKey    = "VMess Header AEAD Key"
	labelHeaderIV     = "VMess Header AEAD Nonce"

	labelAuthIDEncryption = "AES Auth ID Encryption"

	labelRespHeaderLenKey = "AEAD Resp Header Len Key"
	labelRespHeaderLenIV  = "AEAD Resp Header Len IV"
	labelRespHeaderKey    = "AEAD Resp Header Key"
	labelRespHeaderIV     = "AEAD Resp Header IV"

	labelAuthLen = "auth_len"
)

// kdf chains HMAC-SHA256 over path, seeding the first HMAC key with
// kdfSalt, then uses the final chained key to MAC key. Each successive
// path element re-keys the HMAC with the previous stage's output,
// exactly as spec.md §4.5 describes ("KDF-SHA256 with labels").
func kdf(key []byte, path ...string) []byte {
	chainKey := []byte(kdfSalt)
	for _, p := range path {
		chainKey = hmacSum(chainKey, []byte(p))
	}
	return hmacSum(chainKey, key)
}

func hmacSum(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
