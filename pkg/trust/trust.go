// Package trust decides whether a credential held by an identity document
// is currently trustworthy. Validation is a fixed pipeline over the
// document's own structure, the canonical claim hash, the signer's key
// material and the credential's lifetime. The pipeline is pure: the caller
// supplies the clock and a resolver for third-party signers, and the
// outcome is a verdict value, never an error.
package trust

import (
	"time"

	"github.com/idp-org/idp-go/pkg/canonical"
	"github.com/idp-org/idp-go/pkg/document"
	"github.com/idp-org/idp-go/pkg/hybrid"
	"github.com/idp-org/idp-go/pkg/verdict"
)

// IssuerSelf marks a credential issued by the holder itself. Self-issued
// credentials verify against the subject document's own keys.
const IssuerSelf = "self"

// Resolver looks up the identity document behind an idp id. Implementations
// return a nil document when the id is unknown.
type Resolver interface {
	Resolve(idpID string) (*document.Document, error)
}

// ResolverFunc adapts a plain function to the Resolver interface.
type ResolverFunc func(idpID string) (*document.Document, error)

func (f ResolverFunc) Resolve(idpID string) (*document.Document, error) {
	return f(idpID)
}

// Validator runs the credential validation pipeline.
type Validator struct {
	registry *hybrid.Registry
}

func NewValidator(registry *hybrid.Registry) *Validator {
	return &Validator{registry: registry}
}

// Validate checks a single credential of the subject document. The steps
// run in a fixed order and the first failure wins:
//
//  1. the credential's proof reference must resolve inside the subject
//  2. the proof's recorded claim hash must match the recomputed one
//  3. the signer's document must be resolvable
//  4. the proof's signature bundle must verify against the signer's keys
//  5. the credential must not be past its expiry
//
// Expiry runs last so that a tampered or forged credential is reported as
// tampered even once it has also expired.
func (v *Validator) Validate(cred *document.Credential, subject *document.Document, resolve Resolver, now time.Time) verdict.Verdict {
	proof, ok := subject.FindProof(cred.ProofRef)
	if !ok {
		return verdict.Invalidf(verdict.ReasonDanglingProofRef,
			"credential %q references proof %q which does not exist", cred.Claim, cred.ProofRef)
	}
	if proof.Type != document.ProofTypeSignature {
		return verdict.Invalidf(verdict.ReasonSchemaViolation,
			"proof %q has unsupported type %q", proof.ProofID, proof.Type)
	}

	wantHash, err := canonical.ClaimHash(*cred)
	if err != nil {
		return verdict.Invalidf(verdict.ReasonSchemaViolation, "canonicalize claim: %v", err)
	}
	if wantHash != proof.ClaimHash {
		return verdict.Invalidf(verdict.ReasonHashMismatch,
			"claim hash %s does not match recorded %s", wantHash, proof.ClaimHash)
	}

	signer, vd := v.resolveSigner(cred, subject, proof, resolve)
	if !vd.Valid {
		return vd
	}

	if bv := v.registry.VerifyBundle(proof, signer, proof.ClaimHash); !bv.Valid {
		return bv
	}

	if cred.ExpiresAt != nil && !now.Before(*cred.ExpiresAt) {
		return verdict.Invalidf(verdict.ReasonExpired,
			"credential %q expired at %s", cred.Claim, cred.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return verdict.OK()
}

// ValidateAll runs Validate over every credential of the subject and
// returns the verdicts keyed by proof reference.
func (v *Validator) ValidateAll(subject *document.Document, resolve Resolver, now time.Time) map[string]verdict.Verdict {
	out := make(map[string]verdict.Verdict, len(subject.Credentials))
	for i := range subject.Credentials {
		cred := &subject.Credentials[i]
		out[cred.ProofRef] = v.Validate(cred, subject, resolve, now)
	}
	return out
}

func (v *Validator) resolveSigner(cred *document.Credential, subject *document.Document, proof *document.Proof, resolve Resolver) (*document.Document, verdict.Verdict) {
	signerID := proof.SignedBy.IDPID
	if cred.IssuedBy == IssuerSelf || signerID == subject.Identity.ID {
		return subject, verdict.OK()
	}
	if resolve == nil {
		return nil, verdict.Invalidf(verdict.ReasonUnknownSigner,
			"no resolver available for signer %s", signerID)
	}
	signer, err := resolve.Resolve(signerID)
	if err != nil {
		return nil, verdict.Invalidf(verdict.ReasonUnknownSigner,
			"resolve signer %s: %v", signerID, err)
	}
	if signer == nil {
		return nil, verdict.Invalidf(verdict.ReasonUnknownSigner,
			"signer %s is not known", signerID)
	}
	return signer, verdict.OK()
}
