package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idp-org/idp-go/pkg/document"
)

func cred(claim, issuedBy string, issuedAt time.Time, expiresAt *time.Time) document.Credential {
	return document.Credential{
		Claim:     claim,
		IssuedBy:  issuedBy,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
		ProofRef:  "proof-1",
	}
}

func TestCredentialBytesExactForm(t *testing.T) {
	issued := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	exp := time.Date(2027, 3, 15, 10, 30, 0, 0, time.UTC)

	b, err := CredentialBytes(cred("skill:rust:expert", "self", issued, &exp))
	require.NoError(t, err)

	// RFC 8785 sorts members and strips insignificant whitespace.
	want := `{"claim":"skill:rust:expert","expires_at":"2027-03-15T10:30:00Z","issued_at":"2026-03-15T10:30:00Z","issued_by":"self"}`
	assert.Equal(t, want, string(b))
}

func TestCredentialBytesDeterministic(t *testing.T) {
	issued := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	c := cred("skill:go:expert", "idp:key:issuer", issued, nil)

	b1, err := CredentialBytes(c)
	require.NoError(t, err)
	b2, err := CredentialBytes(c)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestCredentialBytesNormalizesTimezone(t *testing.T) {
	utc := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	offset := utc.In(time.FixedZone("CEST", 2*60*60))
	require.True(t, utc.Equal(offset))

	b1, err := CredentialBytes(cred("a", "self", utc, nil))
	require.NoError(t, err)
	b2, err := CredentialBytes(cred("a", "self", offset, nil))
	require.NoError(t, err)
	assert.Equal(t, string(b1), string(b2), "same instant in another zone must hash identically")
}

func TestCredentialBytesDropsSubsecondNoise(t *testing.T) {
	base := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	noisy := base.Add(312 * time.Millisecond)

	b1, err := CredentialBytes(cred("a", "self", base, nil))
	require.NoError(t, err)
	b2, err := CredentialBytes(cred("a", "self", noisy, nil))
	require.NoError(t, err)
	assert.Equal(t, string(b1), string(b2))
}

func TestCredentialBytesOmitsAbsentExpiry(t *testing.T) {
	issued := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)

	b, err := CredentialBytes(cred("a", "self", issued, nil))
	require.NoError(t, err)
	assert.NotContains(t, string(b), "expires_at", "absent expiry must omit the member, not encode an empty value")

	exp := issued.AddDate(1, 0, 0)
	withExp, err := CredentialBytes(cred("a", "self", issued, &exp))
	require.NoError(t, err)
	assert.NotEqual(t, string(b), string(withExp))
}

func TestClaimHash(t *testing.T) {
	issued := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	c := cred("skill:rust:expert", "self", issued, nil)

	h, err := ClaimHash(c)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^sha256:[0-9a-f]{64}$`), h)

	b, err := CredentialBytes(c)
	require.NoError(t, err)
	sum := sha256.Sum256(b)
	assert.Equal(t, HashPrefix+hex.EncodeToString(sum[:]), h)

	// Any provable-field change moves the hash.
	h2, err := ClaimHash(cred("skill:rust:novice", "self", issued, nil))
	require.NoError(t, err)
	assert.NotEqual(t, h, h2)

	// Non-provable fields do not participate.
	other := c
	other.ProofRef = "proof-2"
	h3, err := ClaimHash(other)
	require.NoError(t, err)
	assert.Equal(t, h, h3)
}

func TestHashBytes(t *testing.T) {
	h := HashBytes([]byte("payload"))
	sum := sha256.Sum256([]byte("payload"))
	assert.Equal(t, "sha256:"+hex.EncodeToString(sum[:]), h)
}
