// Package hybrid verifies and issues multi-algorithm signature bundles.
// A bundle pairs a classical signature with a post-quantum one over the
// same claim hash; it is valid only when every component verifies against
// an active key of the signer. There is no fallback between components:
// hybrid means AND, not OR.
package hybrid

import (
	"encoding/base64"
	"fmt"

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/schemes"
	"github.com/google/uuid"

	"github.com/idp-org/idp-go/pkg/canonical"
	"github.com/idp-org/idp-go/pkg/document"
	"github.com/idp-org/idp-go/pkg/verdict"
)

// Algorithm names, as written into key records and signature components.
// Classical names follow RFC 8032, post-quantum names NIST FIPS 204.
const (
	AlgEd25519 = "Ed25519"
	AlgEd448   = "Ed448"
	AlgMLDSA44 = "ML-DSA-44"
	AlgMLDSA65 = "ML-DSA-65"
	AlgMLDSA87 = "ML-DSA-87"
)

// Registry resolves algorithm names to their signature schemes. The zero
// value is unusable; construct with NewRegistry.
type Registry struct {
	schemes map[string]sign.Scheme
}

// NewRegistry returns a registry covering every supported algorithm.
func NewRegistry() *Registry {
	r := &Registry{schemes: make(map[string]sign.Scheme)}
	for _, name := range []string{AlgEd25519, AlgEd448, AlgMLDSA44, AlgMLDSA65, AlgMLDSA87} {
		if s := schemes.ByName(name); s != nil {
			r.schemes[name] = s
		}
	}
	return r
}

// Scheme returns the scheme registered under the algorithm name.
func (r *Registry) Scheme(algorithm string) (sign.Scheme, bool) {
	s, ok := r.schemes[algorithm]
	return s, ok
}

// RequiredFamilies returns the algorithm families a valid bundle from this
// signer must cover: always classical, plus quantum once the signer's
// document declares post-quantum capability by carrying any quantum-family
// key record. A revoked quantum key still declares the capability.
func RequiredFamilies(signer *document.Document) []document.Family {
	fams := []document.Family{document.FamilyClassical}
	if signer.HasQuantumKeys() {
		fams = append(fams, document.FamilyQuantum)
	}
	return fams
}

// VerifyBundle checks a proof's signature bundle against the signer's key
// records. The signed message is the claim hash string itself, so every
// component commits to the same bytes independently.
//
// The bundle's key id resolves through a multimap: one logical key id may
// map to several records, one per algorithm family. Each component picks
// the record matching both the key id and its own algorithm. Two active
// records for the same (key id, algorithm) make the signer ambiguous and
// the bundle is rejected rather than silently picking one.
//
// Pure function of its inputs; key status is read as recorded, with no
// clock involved.
func (r *Registry) VerifyBundle(proof *document.Proof, signer *document.Document, claimHash string) verdict.Verdict {
	if len(proof.Signature) == 0 {
		return verdict.Invalid(verdict.ReasonIncompleteBundle, "empty signature bundle")
	}

	// Family coverage comes first: a bundle that cannot be hybrid-complete
	// is rejected before any key or signature is examined.
	present := make(map[document.Family]bool, 2)
	for _, comp := range proof.Signature {
		present[document.AlgorithmFamily(comp.Algorithm)] = true
	}
	for _, fam := range RequiredFamilies(signer) {
		if !present[fam] {
			return verdict.Invalidf(verdict.ReasonIncompleteBundle, "bundle lacks a %s-family component", fam)
		}
	}

	records := signer.KeysByID(proof.SignedBy.KeyID)
	if len(records) == 0 {
		return verdict.Invalidf(verdict.ReasonUnknownKey, "signer %s has no key records under key id %q", signer.Identity.ID, proof.SignedBy.KeyID)
	}

	for _, comp := range proof.Signature {
		if v := r.verifyComponent(comp, records, claimHash); !v.Valid {
			return v
		}
	}
	return verdict.OK()
}

func (r *Registry) verifyComponent(comp document.SignatureComponent, records []document.PublicKeyRecord, claimHash string) verdict.Verdict {
	var candidates []document.PublicKeyRecord
	for _, rec := range records {
		if rec.Algorithm == comp.Algorithm {
			candidates = append(candidates, rec)
		}
	}
	if len(candidates) == 0 {
		return verdict.Invalidf(verdict.ReasonAlgorithmMismatch, "no key record for algorithm %s under key id %q", comp.Algorithm, records[0].KeyID)
	}

	var active []document.PublicKeyRecord
	for _, rec := range candidates {
		if rec.Status == document.KeyStatusActive {
			active = append(active, rec)
		}
	}
	if len(active) == 0 {
		return verdict.Invalidf(verdict.ReasonRevokedKey, "all %s keys under key id %q are revoked", comp.Algorithm, candidates[0].KeyID)
	}
	if len(active) > 1 {
		return verdict.Invalidf(verdict.ReasonAmbiguousKey, "%d active %s keys under key id %q", len(active), comp.Algorithm, candidates[0].KeyID)
	}
	key := active[0]

	scheme, ok := r.Scheme(comp.Algorithm)
	if !ok {
		return verdict.Invalidf(verdict.ReasonAlgorithmMismatch, "unsupported algorithm %s", comp.Algorithm)
	}

	rawKey, err := base64.StdEncoding.DecodeString(key.Value)
	if err != nil {
		return verdict.Invalidf(verdict.ReasonSignatureMismatch, "key %q material is not base64: %v", key.KeyID, err)
	}
	pub, err := scheme.UnmarshalBinaryPublicKey(rawKey)
	if err != nil {
		return verdict.Invalidf(verdict.ReasonSignatureMismatch, "key %q is not a valid %s public key: %v", key.KeyID, comp.Algorithm, err)
	}
	rawSig, err := base64.StdEncoding.DecodeString(comp.Value)
	if err != nil {
		return verdict.Invalidf(verdict.ReasonSignatureMismatch, "%s signature is not base64: %v", comp.Algorithm, err)
	}

	if !scheme.Verify(pub, []byte(claimHash), rawSig, nil) {
		return verdict.Invalidf(verdict.ReasonSignatureMismatch, "%s signature does not verify against key %q", comp.Algorithm, key.KeyID)
	}
	return verdict.OK()
}

// SignBundle signs the claim hash with every supplied private key and
// returns the components with classical algorithms ordered first. Keys
// are caller-supplied; this package never generates or stores them.
func (r *Registry) SignBundle(keys []sign.PrivateKey, claimHash string) ([]document.SignatureComponent, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("sign bundle: no keys supplied")
	}

	byFamily := map[document.Family][]document.SignatureComponent{}
	for i, key := range keys {
		if key == nil {
			return nil, fmt.Errorf("sign bundle: key %d is nil", i)
		}
		scheme := key.Scheme()
		name := scheme.Name()
		if _, ok := r.schemes[name]; !ok {
			return nil, fmt.Errorf("sign bundle: unsupported algorithm %s", name)
		}
		fam := document.AlgorithmFamily(name)
		sig := scheme.Sign(key, []byte(claimHash), nil)
		byFamily[fam] = append(byFamily[fam], document.SignatureComponent{
			Algorithm: name,
			Value:     base64.StdEncoding.EncodeToString(sig),
		})
	}

	out := append(byFamily[document.FamilyClassical], byFamily[document.FamilyQuantum]...)
	return out, nil
}

// NewKeyRecord builds the document record for a public key, active by
// default. The algorithm name is taken from the key's own scheme.
func NewKeyRecord(keyID string, pub sign.PublicKey) (document.PublicKeyRecord, error) {
	raw, err := pub.MarshalBinary()
	if err != nil {
		return document.PublicKeyRecord{}, fmt.Errorf("key record %q: %w", keyID, err)
	}
	return document.PublicKeyRecord{
		KeyID:     keyID,
		Algorithm: pub.Scheme().Name(),
		Value:     base64.StdEncoding.EncodeToString(raw),
		Status:    document.KeyStatusActive,
	}, nil
}

// NewProof assembles a signature proof with a fresh proof id.
func NewProof(signerID, keyID, claimHash string, components []document.SignatureComponent) document.Proof {
	return document.Proof{
		ProofID:   "proof-" + uuid.New().String(),
		Type:      document.ProofTypeSignature,
		ClaimHash: claimHash,
		SignedBy:  document.Signer{IDPID: signerID, KeyID: keyID},
		Signature: components,
	}
}

// IssueProof is the issuer-side counterpart of VerifyBundle: it computes
// the credential's claim hash, signs it with every supplied key, and
// assembles the proof record the credential will cite.
func (r *Registry) IssueProof(signerID, keyID string, cred document.Credential, keys []sign.PrivateKey) (document.Proof, error) {
	hash, err := canonical.ClaimHash(cred)
	if err != nil {
		return document.Proof{}, fmt.Errorf("issue proof: %w", err)
	}
	components, err := r.SignBundle(keys, hash)
	if err != nil {
		return document.Proof{}, fmt.Errorf("issue proof: %w", err)
	}
	return NewProof(signerID, keyID, hash, components), nil
}
