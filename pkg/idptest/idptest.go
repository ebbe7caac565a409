// Package idptest builds deterministic identity fixtures for tests. Keys
// derive from fixed byte seeds, so every run produces the same documents
// and the same signatures without touching an entropy source.
//
// Fixture construction panics on failure: the inputs are compile-time
// constants, so an error here is a bug in the fixture, not a runtime
// condition a test should handle.
package idptest

import (
	"bytes"
	"fmt"
	"time"

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/schemes"

	"github.com/idp-org/idp-go/pkg/document"
	"github.com/idp-org/idp-go/pkg/hybrid"
)

// Now is the fixed instant fixtures are stamped with. Tests pass their
// own now to the operations under test; this one only fills document
// timestamps.
var Now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

// RootKeyID is the logical key id every fixture identity signs under.
const RootKeyID = "root-key-01"

const issuerSelf = "self"

// Identity bundles a document with the private keys that control it.
type Identity struct {
	Doc  *document.Document
	Keys []sign.PrivateKey // same order as the root key records, classical first
}

// DeriveKey derives a deterministic key pair for the algorithm from a
// seed byte repeated to the scheme's seed size.
func DeriveKey(algorithm string, seed byte) (sign.PublicKey, sign.PrivateKey) {
	scheme := schemes.ByName(algorithm)
	if scheme == nil {
		panic(fmt.Sprintf("idptest: unknown algorithm %q", algorithm))
	}
	return scheme.DeriveKey(bytes.Repeat([]byte{seed}, scheme.SeedSize()))
}

// NewIdentity builds an identity holding one active key record per
// algorithm, all under RootKeyID, with the document id derived from the
// first record. Algorithms default to Ed25519 plus ML-DSA-65, the hybrid
// pair, when none are given.
func NewIdentity(name string, seed byte, algorithms ...string) *Identity {
	if len(algorithms) == 0 {
		algorithms = []string{hybrid.AlgEd25519, hybrid.AlgMLDSA65}
	}

	records := make([]document.PublicKeyRecord, 0, len(algorithms))
	keys := make([]sign.PrivateKey, 0, len(algorithms))
	for _, alg := range algorithms {
		pub, priv := DeriveKey(alg, seed)
		rec, err := hybrid.NewKeyRecord(RootKeyID, pub)
		if err != nil {
			panic(fmt.Sprintf("idptest: key record for %s: %v", alg, err))
		}
		records = append(records, rec)
		keys = append(keys, priv)
	}

	doc := &document.Document{
		Identity: document.IdentityBlock{
			ID:        document.DeriveID(records[0].Value),
			Version:   document.Version,
			SchemaURL: document.SchemaURL,
			CreatedAt: Now,
			UpdatedAt: Now,
		},
		System: document.SystemBlock{PublicKeys: records},
		Core:   document.CoreBlock{Name: name},
	}
	return &Identity{Doc: doc, Keys: keys}
}

// ClassicalIdentity builds an Ed25519-only identity, one that has never
// declared post-quantum capability.
func ClassicalIdentity(name string, seed byte) *Identity {
	return NewIdentity(name, seed, hybrid.AlgEd25519)
}

// ID returns the identity's document id.
func (id *Identity) ID() string { return id.Doc.Identity.ID }

// SelfSign issues a self-signed credential for the claim, wires the proof
// into the document, and returns the stored credential.
func (id *Identity) SelfSign(reg *hybrid.Registry, claim string, expires *time.Time) document.Credential {
	return id.sign(reg, id, claim, issuerSelf, expires)
}

// Endorse issues a credential on the subject signed by this identity. The
// proof lands in the subject's document alongside the credential, as the
// wire format stores third-party proofs with the subject.
func (id *Identity) Endorse(reg *hybrid.Registry, subject *Identity, claim string, expires *time.Time) document.Credential {
	return id.sign(reg, subject, claim, id.ID(), expires)
}

func (id *Identity) sign(reg *hybrid.Registry, subject *Identity, claim, issuedBy string, expires *time.Time) document.Credential {
	cred := document.Credential{
		Claim:     claim,
		IssuedBy:  issuedBy,
		IssuedAt:  Now,
		ExpiresAt: expires,
	}
	proof, err := reg.IssueProof(id.ID(), RootKeyID, cred, id.Keys)
	if err != nil {
		panic(fmt.Sprintf("idptest: issue proof for %q: %v", claim, err))
	}
	cred.ProofRef = proof.ProofID

	subject.Doc.Proofs = append(subject.Doc.Proofs, proof)
	subject.Doc.Credentials = append(subject.Doc.Credentials, cred)
	return cred
}

// AddContract appends an active contract owned by this identity. Parties
// are identity ids; the identity itself is usually parties[0].
func (id *Identity) AddContract(contractID string, parties []string, onSuccess, onFailure string) *document.Contract {
	id.Doc.Contracts = append(id.Doc.Contracts, document.Contract{
		ContractID: contractID,
		Status:     document.ContractActive,
		Parties:    parties,
		Consequence: document.Consequence{
			OnSuccess: onSuccess,
			OnFailure: onFailure,
		},
	})
	return &id.Doc.Contracts[len(id.Doc.Contracts)-1]
}

// Grant appends a consent grant on the identity's document.
func (id *Identity) Grant(grantee string, fields []string, expires time.Time, purpose string) document.ConsentGrant {
	g := document.ConsentGrant{
		GrantedTo: grantee,
		Fields:    fields,
		ExpiresAt: expires,
		Purpose:   purpose,
	}
	id.Doc.Consent = append(id.Doc.Consent, g)
	return g
}

// Expiry returns a pointer to Now shifted by d, for credential expiries.
func Expiry(d time.Duration) *time.Time {
	t := Now.Add(d)
	return &t
}
