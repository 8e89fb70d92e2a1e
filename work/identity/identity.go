// Package identity implements C1: virtual-ID derivation and the signed,
// restart-stable URL rewrite tokens used by the resource cache and the
// stream sessions.
//
// The corpus carries no blake3 implementation (zeebo/blake3 never appears in
// any example go.mod); golang.org/x/crypto/blake2b is declared in the
// teacher's go.mod but never imported anywhere in its tree. blake2b's keyed
// mode gives the same shape the spec asks of blake3_keyed (a keyed hash
// usable both unkeyed for virtual-ID derivation and keyed for MACing), so it
// is used here as the corpus-grounded stand-in. See DESIGN.md.
package identity

import (
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// SecretSize is the required length, in raw bytes, of rewrite_secret once
// decoded from its 32-hex-character configuration form.
const SecretSize = 16

// Secret is the persistent key used to MAC rewrite tokens. It must be loaded
// from configuration; the proxy never auto-generates one, because doing so
// would invalidate every previously minted rewrite link on restart.
type Secret [SecretSize]byte

// ParseSecret decodes a 32-hex-character rewrite_secret. Returns
// ConfigInvalid-shaped errors (as plain errors; apperr wrapping happens at
// the config-loading call site) for anything else.
func ParseSecret(hexStr string) (Secret, error) {
	var s Secret
	if len(hexStr) != SecretSize*2 {
		return s, fmt.Errorf("rewrite_secret must be %d hex characters, got %d", SecretSize*2, len(hexStr))
	}
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return s, fmt.Errorf("rewrite_secret is not valid hex: %w", err)
	}
	copy(s[:], raw)
	return s, nil
}

// VirtualID derives the 64-bit opaque identifier for (inputName,
// providerStreamID), truncating a blake2b-256 digest of their concatenation
// to its first 8 bytes. Stable across process restarts for the same pair
// (spec §3 invariant 1 / §8 property 1): it is a pure function of its inputs.
func VirtualID(inputName, providerStreamID string) uint64 {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(inputName))
	h.Write([]byte{0}) // domain separator between the two fields
	h.Write([]byte(providerStreamID))
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// AliasVirtualID derives the domain-separated virtual id for a
// create_alias=true mapper clone (spec §4.4, §8 property 8): guaranteed to
// differ from VirtualID(inputName, providerStreamID) for the same pair.
func AliasVirtualID(inputName, providerStreamID string) uint64 {
	h, _ := blake2b.New256(nil)
	h.Write([]byte("alias\x00"))
	h.Write([]byte(inputName))
	h.Write([]byte{0})
	h.Write([]byte(providerStreamID))
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// mac computes blake2b_keyed(secret, payload), the stand-in for
// blake3_keyed named in spec §4.1/§3.
func mac(secret Secret, payload []byte) []byte {
	h, err := blake2b.New256(secret[:])
	if err != nil {
		// secret is always exactly SecretSize==16 bytes, well within blake2b's
		// accepted key range, so New256 cannot fail here.
		panic(err)
	}
	h.Write(payload)
	return h.Sum(nil)
}

// verify checks mac over payload in constant time, per spec §4.1: "Verification
// is constant-time over mac."
func verify(secret Secret, payload, candidateMAC []byte) bool {
	want := mac(secret, payload)
	return subtle.ConstantTimeCompare(want, candidateMAC) == 1
}
