/**
 * @description
 * This package implements deterministic address derivation for ledger accounts
 * owned by the lockbox-service. Given a domain tag and a parent identity, it
 * produces the unique child address together with a bump proof that makes the
 * derivation verifiable: any party holding the tag, the parent, and the bump can
 * recompute the address and confirm it is canonical.
 *
 * The service never trusts a stored or caller-supplied vault address on its own.
 * Every operation re-derives the address from the lockbox record and compares.
 *
 * @dependencies
 * - crypto/sha256, encoding/hex, errors, fmt: Standard Go libraries.
 */
package derive

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Domain tags namespace the derivation so a record address and a vault address
// can never collide even for the same parent.
const (
	LockBoxTag = "lockbox"
	VaultTag   = "vault"
)

// addressBytes is the truncated digest length used for addresses. 20 bytes
// matches the ledger host's account address width.
const addressBytes = 20

// ErrNoCanonicalBump is returned when no bump in [0, 255] yields a usable
// address. With a 1/256 skip probability per bump this is not reachable in
// practice, but the search is still bounded.
var ErrNoCanonicalBump = errors.New("no canonical bump found for derivation")

// Derive computes the canonical child address for the given domain tag and
// parent identity. The bump is searched downward from 255; the first bump whose
// digest falls outside the ledger's reserved address space wins. Callers must
// persist the bump alongside the address so the derivation can be re-verified.
func Derive(tag, parent string) (string, uint8, error) {
	if tag == "" || parent == "" {
		return "", 0, fmt.Errorf("derive: tag and parent must be non-empty")
	}
	for bump := 255; bump >= 0; bump-- {
		addr, ok := candidate(tag, parent, uint8(bump))
		if !ok {
			continue
		}
		return addr, uint8(bump), nil
	}
	return "", 0, ErrNoCanonicalBump
}

// Verify reports whether the given address/bump pair is the canonical
// derivation for the tag and parent. A pair that re-derives to the right
// address but uses a non-canonical bump is rejected.
func Verify(tag, parent, address string, bump uint8) bool {
	canonicalAddr, canonicalBump, err := Derive(tag, parent)
	if err != nil {
		return false
	}
	return canonicalAddr == address && canonicalBump == bump
}

// candidate computes the address for one specific bump. Digests whose leading
// byte is zero land in the ledger's reserved address space and are unusable.
func candidate(tag, parent string, bump uint8) (string, bool) {
	h := sha256.New()
	h.Write([]byte(tag))
	h.Write([]byte{0x00})
	h.Write([]byte(parent))
	h.Write([]byte{bump})
	sum := h.Sum(nil)
	if sum[0] == 0x00 {
		return "", false
	}
	return fmt.Sprintf("%s_%s", tag, hex.EncodeToString(sum[:addressBytes])), true
}
