// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package vmess implements the VMESS outbound protocol client
// (spec.md §4.5, §6.3): AEAD request-header framing, masked/authenticated
// length body framing, and the tcp command. Only the subset spec.md
// names is implemented: no mux, no UDP command.
package vmess

import (
	"github.com/google/uuid"

	"grimm.is/relaygate/internal/errors"
)

// Content-security algorithm codes, matching the wire values VMESS
// servers expect in the request header's security nibble.
const (
	SecurityAES128GCM        = "aes-128-gcm"
	SecurityChaCha20Poly1305 = "chacha20-poly1305"

	algoAES128GCM    byte = 0x03
	algoChaCha20Poly1305 byte = 0x04
)

const (
	commandTCP byte = 0x01

	optionChunkStream         byte = 0x01
	optionChunkMasking        byte = 0x04
	optionGlobalPadding       byte = 0x08
	optionAuthenticatedLength byte = 0x10

	requestVersion byte = 0x01
)

// Options toggles the independent VMESS framing features spec.md §4.5
// describes. Masking is on by default, matching common deployments;
// AuthenticatedLength and Padding are both off by default since they're
// newer, opt-in extensions not every server speaks.
type Options struct {
	Masking             bool
	AuthenticatedLength bool
	Padding             bool
}

// DefaultOptions returns the conservative default most VMESS servers
// accept: chunked streaming with length masking, no authenticated
// length, no global padding.
func DefaultOptions() Options {
	return Options{Masking: true}
}

func algoByte(name string) (byte, error) {
	switch name {
	case SecurityAES128GCM, "":
		return algoAES128GCM, nil
	case SecurityChaCha20Poly1305:
		return algoChaCha20Poly1305, nil
	default:
		return 0, errors.Errorf(errors.KindConfiguration, "vmess: unsupported security algorithm %q", name)
	}
}

// ParseAccount validates that username is a well-formed UUID, per
// spec.md §3's "For VMESS, username must be a UUID" invariant, and
// returns its raw 16 bytes (the account's "ID" used throughout the AEAD
// key derivation).
func ParseAccount(username string) ([16]byte, error) {
	id, err := uuid.Parse(username)
	if err != nil {
		return [16]byte{}, errors.Wrapf(err, errors.KindConfiguration, "vmess: username %q is not a UUID", username)
	}
	return [16]byte(id), nil
}
