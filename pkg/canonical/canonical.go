// Package canonical produces the deterministic byte form of a credential's
// provable fields and the claim hash computed over it. The encoding follows
// RFC 8785 (JSON Canonicalization Scheme) so any implementation, in any
// language, recomputes the same bytes from the same field values and can
// match a proof's stored claim hash.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/idp-org/idp-go/pkg/document"
)

// HashPrefix tags every claim hash with its digest algorithm.
const HashPrefix = "sha256:"

// provable is the exact field set a proof commits to. Nothing else on the
// credential participates in the hash; an absent expiry omits the member
// entirely rather than encoding an empty value.
type provable struct {
	Claim     string `json:"claim"`
	IssuedBy  string `json:"issued_by"`
	IssuedAt  string `json:"issued_at"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// CredentialBytes returns the canonical byte serialization of the
// credential's provable fields. Timestamps are normalized to UTC at
// second precision, so producer timezone offsets and sub-second noise
// cannot change the result. The output depends only on field values,
// never on in-memory ordering.
func CredentialBytes(c document.Credential) ([]byte, error) {
	p := provable{
		Claim:    c.Claim,
		IssuedBy: c.IssuedBy,
		IssuedAt: c.IssuedAt.UTC().Format(time.RFC3339),
	}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.UTC().Format(time.RFC3339)
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("canonical credential: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical credential: %w", err)
	}
	return out, nil
}

// ClaimHash computes the claim hash a proof stores: the SHA-256 of the
// canonical credential bytes, hex-encoded under the sha256: prefix.
func ClaimHash(c document.Credential) (string, error) {
	b, err := CredentialBytes(c)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes digests arbitrary bytes in the same sha256:<hex> convention.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return HashPrefix + hex.EncodeToString(sum[:])
}
