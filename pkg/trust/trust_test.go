package trust

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/schemes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idp-org/idp-go/pkg/document"
	"github.com/idp-org/idp-go/pkg/hybrid"
	"github.com/idp-org/idp-go/pkg/verdict"
)

var fixedNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newSubject(t *testing.T, seedBase byte, algs ...string) (*document.Document, []sign.PrivateKey) {
	t.Helper()
	var records []document.PublicKeyRecord
	var privs []sign.PrivateKey
	for i, alg := range algs {
		scheme := schemes.ByName(alg)
		require.NotNil(t, scheme)
		seed := bytes.Repeat([]byte{seedBase + byte(i)}, scheme.SeedSize())
		pub, priv := scheme.DeriveKey(seed)
		rec, err := hybrid.NewKeyRecord("root-key-01", pub)
		require.NoError(t, err)
		records = append(records, rec)
		privs = append(privs, priv)
	}
	doc := &document.Document{
		Identity: document.IdentityBlock{ID: document.DeriveID(records[0].Value)},
		System:   document.SystemBlock{PublicKeys: records},
	}
	return doc, privs
}

// attach issues a proof for cred with the holder's own keys and wires the
// credential and proof into the document.
func attach(t *testing.T, reg *hybrid.Registry, doc *document.Document, keys []sign.PrivateKey, cred document.Credential) {
	t.Helper()
	proof, err := reg.IssueProof(doc.Identity.ID, "root-key-01", cred, keys)
	require.NoError(t, err)
	cred.ProofRef = proof.ProofID
	doc.Credentials = append(doc.Credentials, cred)
	doc.Proofs = append(doc.Proofs, proof)
}

func selfCred() document.Credential {
	return document.Credential{
		Claim:    "skill:rust:expert",
		IssuedBy: IssuerSelf,
		IssuedAt: time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC),
	}
}

func TestValidateSelfIssued(t *testing.T) {
	reg := hybrid.NewRegistry()
	val := NewValidator(reg)
	doc, keys := newSubject(t, 1, hybrid.AlgEd25519, hybrid.AlgMLDSA65)
	attach(t, reg, doc, keys, selfCred())

	v := val.Validate(&doc.Credentials[0], doc, nil, fixedNow)
	require.True(t, v.Valid, "verdict: %s", v)
}

func TestValidateDanglingProofRef(t *testing.T) {
	reg := hybrid.NewRegistry()
	val := NewValidator(reg)
	doc, keys := newSubject(t, 1, hybrid.AlgEd25519)
	attach(t, reg, doc, keys, selfCred())
	doc.Credentials[0].ProofRef = "proof-gone"

	v := val.Validate(&doc.Credentials[0], doc, nil, fixedNow)
	require.False(t, v.Valid)
	assert.Equal(t, verdict.ReasonDanglingProofRef, v.Reason)
	assert.Equal(t, verdict.ClassStructural, v.Class())
}

func TestValidateUnsupportedProofType(t *testing.T) {
	reg := hybrid.NewRegistry()
	val := NewValidator(reg)
	doc, keys := newSubject(t, 1, hybrid.AlgEd25519)
	attach(t, reg, doc, keys, selfCred())
	doc.Proofs[0].Type = "attestation"

	v := val.Validate(&doc.Credentials[0], doc, nil, fixedNow)
	require.False(t, v.Valid)
	assert.Equal(t, verdict.ReasonSchemaViolation, v.Reason)
}

func TestValidateHashMismatch(t *testing.T) {
	reg := hybrid.NewRegistry()
	val := NewValidator(reg)
	doc, keys := newSubject(t, 1, hybrid.AlgEd25519)
	attach(t, reg, doc, keys, selfCred())

	// The signature still covers the original claim, so the bundle itself
	// is intact. Editing the claim must surface as a hash mismatch, not a
	// signature failure.
	doc.Credentials[0].Claim = "skill:rust:novice"

	v := val.Validate(&doc.Credentials[0], doc, nil, fixedNow)
	require.False(t, v.Valid)
	assert.Equal(t, verdict.ReasonHashMismatch, v.Reason)
	assert.Equal(t, verdict.ClassCryptographic, v.Class())
}

func TestValidateThirdPartyIssuer(t *testing.T) {
	reg := hybrid.NewRegistry()
	val := NewValidator(reg)
	issuer, issuerKeys := newSubject(t, 10, hybrid.AlgEd25519, hybrid.AlgMLDSA65)
	subject, _ := newSubject(t, 20, hybrid.AlgEd25519)

	cred := document.Credential{
		Claim:    "role:auditor",
		IssuedBy: issuer.Identity.ID,
		IssuedAt: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	proof, err := reg.IssueProof(issuer.Identity.ID, "root-key-01", cred, issuerKeys)
	require.NoError(t, err)
	cred.ProofRef = proof.ProofID
	subject.Credentials = append(subject.Credentials, cred)
	subject.Proofs = append(subject.Proofs, proof)

	directory := map[string]*document.Document{issuer.Identity.ID: issuer}
	resolve := ResolverFunc(func(id string) (*document.Document, error) {
		return directory[id], nil
	})

	v := val.Validate(&subject.Credentials[0], subject, resolve, fixedNow)
	require.True(t, v.Valid, "verdict: %s", v)

	t.Run("unknown signer", func(t *testing.T) {
		empty := ResolverFunc(func(string) (*document.Document, error) { return nil, nil })
		v := val.Validate(&subject.Credentials[0], subject, empty, fixedNow)
		require.False(t, v.Valid)
		assert.Equal(t, verdict.ReasonUnknownSigner, v.Reason)
		assert.Contains(t, v.Detail, issuer.Identity.ID)
	})

	t.Run("resolver error", func(t *testing.T) {
		failing := ResolverFunc(func(string) (*document.Document, error) {
			return nil, errors.New("directory offline")
		})
		v := val.Validate(&subject.Credentials[0], subject, failing, fixedNow)
		require.False(t, v.Valid)
		assert.Equal(t, verdict.ReasonUnknownSigner, v.Reason)
	})

	t.Run("nil resolver", func(t *testing.T) {
		v := val.Validate(&subject.Credentials[0], subject, nil, fixedNow)
		require.False(t, v.Valid)
		assert.Equal(t, verdict.ReasonUnknownSigner, v.Reason)
	})
}

func TestValidateBundleReasonPassThrough(t *testing.T) {
	reg := hybrid.NewRegistry()
	val := NewValidator(reg)
	doc, keys := newSubject(t, 1, hybrid.AlgEd25519)
	attach(t, reg, doc, keys, selfCred())

	raw, err := base64.StdEncoding.DecodeString(doc.Proofs[0].Signature[0].Value)
	require.NoError(t, err)
	raw[0] ^= 0xff
	doc.Proofs[0].Signature[0].Value = base64.StdEncoding.EncodeToString(raw)

	v := val.Validate(&doc.Credentials[0], doc, nil, fixedNow)
	require.False(t, v.Valid)
	assert.Equal(t, verdict.ReasonSignatureMismatch, v.Reason)
}

func TestValidateExpiry(t *testing.T) {
	reg := hybrid.NewRegistry()
	val := NewValidator(reg)

	mk := func(t *testing.T, expires time.Time) (*document.Document, *Validator) {
		doc, keys := newSubject(t, 1, hybrid.AlgEd25519)
		cred := selfCred()
		cred.ExpiresAt = &expires
		attach(t, reg, doc, keys, cred)
		return doc, val
	}

	t.Run("still valid just before expiry", func(t *testing.T) {
		doc, val := mk(t, fixedNow.Add(time.Second))
		v := val.Validate(&doc.Credentials[0], doc, nil, fixedNow)
		require.True(t, v.Valid, "verdict: %s", v)
	})

	t.Run("expired at the exact instant", func(t *testing.T) {
		doc, val := mk(t, fixedNow)
		v := val.Validate(&doc.Credentials[0], doc, nil, fixedNow)
		require.False(t, v.Valid)
		assert.Equal(t, verdict.ReasonExpired, v.Reason)
		assert.Equal(t, verdict.ClassTemporal, v.Class())
	})

	t.Run("expired in the past", func(t *testing.T) {
		doc, val := mk(t, fixedNow.Add(-24*time.Hour))
		v := val.Validate(&doc.Credentials[0], doc, nil, fixedNow)
		require.False(t, v.Valid)
		assert.Equal(t, verdict.ReasonExpired, v.Reason)
	})

	t.Run("tampering outranks expiry", func(t *testing.T) {
		doc, val := mk(t, fixedNow.Add(-24*time.Hour))
		doc.Credentials[0].Claim = "skill:rust:novice"
		v := val.Validate(&doc.Credentials[0], doc, nil, fixedNow)
		require.False(t, v.Valid)
		assert.Equal(t, verdict.ReasonHashMismatch, v.Reason)
	})
}

func TestValidateAll(t *testing.T) {
	reg := hybrid.NewRegistry()
	val := NewValidator(reg)
	doc, keys := newSubject(t, 1, hybrid.AlgEd25519)
	attach(t, reg, doc, keys, selfCred())

	second := selfCred()
	second.Claim = "skill:go:expert"
	attach(t, reg, doc, keys, second)
	doc.Credentials[1].ProofRef = "proof-gone"

	got := val.ValidateAll(doc, nil, fixedNow)
	require.Len(t, got, 2)
	assert.True(t, got[doc.Credentials[0].ProofRef].Valid)
	assert.Equal(t, verdict.ReasonDanglingProofRef, got["proof-gone"].Reason)
}
