// Package document defines the typed in-memory representation of an IDP
// identity document, its YAML codec, and its structural invariants. The
// document is the unit every other package operates on: verification reads
// it, the consequence engine mutates it, consent evaluation projects it.
//
// A document is owned exclusively by its subject. Other parties hold
// read-only copies plus whatever proofs they issued against it; nothing in
// this package or its consumers mutates another identity's document.
package document

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"
)

// Format constants for freshly created documents.
const (
	Version   = "0.2.1"
	SchemaURL = "https://idp.org/schemas/v0.2.1"

	// IDPrefix starts every identity id derived from a root public key.
	IDPrefix = "idp:key:sha256:"
)

// KeyStatus is the recorded lifecycle state of a public key.
type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusRevoked KeyStatus = "revoked"
)

// ContractStatus is a contract's lifecycle state. Transitions are
// one-directional; completed and failed are terminal.
type ContractStatus string

const (
	ContractActive    ContractStatus = "active"
	ContractCompleted ContractStatus = "completed"
	ContractFailed    ContractStatus = "failed"
	ContractInDispute ContractStatus = "in_dispute"
)

// ProofType discriminates proof mechanisms. Only signature proofs exist.
type ProofType string

const ProofTypeSignature ProofType = "signature"

// Family groups signature algorithms by cryptographic lineage. A hybrid
// signature carries one component per required family.
type Family string

const (
	FamilyClassical Family = "classical"
	FamilyQuantum   Family = "quantum"
	FamilyUnknown   Family = "unknown"
)

// AlgorithmFamily classifies a signature algorithm name. Names follow the
// registry used for verification: Ed25519/Ed448 are classical, the ML-DSA
// parameter sets are post-quantum.
func AlgorithmFamily(algorithm string) Family {
	switch algorithm {
	case "Ed25519", "Ed448":
		return FamilyClassical
	case "ML-DSA-44", "ML-DSA-65", "ML-DSA-87":
		return FamilyQuantum
	default:
		return FamilyUnknown
	}
}

// Document is the root of an `.idp` identity document.
type Document struct {
	Identity    IdentityBlock     `yaml:"identity" json:"identity"`
	System      SystemBlock       `yaml:"system" json:"system"`
	Core        CoreBlock         `yaml:"core" json:"core"`
	Credentials []Credential      `yaml:"credentials,omitempty" json:"credentials,omitempty"`
	Proofs      []Proof           `yaml:"proofs,omitempty" json:"proofs,omitempty"`
	Contracts   []Contract        `yaml:"contracts,omitempty" json:"contracts,omitempty"`
	Reputation  []ReputationScore `yaml:"reputation,omitempty" json:"reputation,omitempty"`
	Consent     []ConsentGrant    `yaml:"consent,omitempty" json:"consent,omitempty"`
}

// IdentityBlock carries the document's stable identity and versioning.
// ID is derived from the root public key at creation and never reassigned,
// including across key rotation.
type IdentityBlock struct {
	ID        string    `yaml:"id" json:"id"`
	Version   string    `yaml:"version" json:"version"`
	SchemaURL string    `yaml:"schema_url" json:"schema_url"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
}

// SystemBlock holds the machine-facing key material.
type SystemBlock struct {
	PublicKeys []PublicKeyRecord `yaml:"public_keys" json:"public_keys"`
}

// CoreBlock holds the human-facing profile fields.
type CoreBlock struct {
	Name string `yaml:"name" json:"name"`
	Bio  string `yaml:"bio" json:"bio"`
}

// PublicKeyRecord is one public key the identity controls. Value is the
// standard-base64 encoding of the raw public key. A logical key identity
// may span several records sharing a KeyID, one per algorithm family, so
// records are unique by (KeyID, Algorithm) rather than KeyID alone.
type PublicKeyRecord struct {
	KeyID     string    `yaml:"key_id" json:"key_id"`
	Algorithm string    `yaml:"algorithm" json:"algorithm"`
	Value     string    `yaml:"value" json:"value"`
	Status    KeyStatus `yaml:"status" json:"status"`
}

// Family returns the record's algorithm family.
func (k PublicKeyRecord) Family() Family { return AlgorithmFamily(k.Algorithm) }

// Credential is a claim the subject carries, backed by a proof.
type Credential struct {
	Claim     string     `yaml:"claim" json:"claim"`
	IssuedBy  string     `yaml:"issued_by" json:"issued_by"`
	IssuedAt  time.Time  `yaml:"issued_at" json:"issued_at"`
	ExpiresAt *time.Time `yaml:"expires_at,omitempty" json:"expires_at,omitempty"`
	ProofRef  string     `yaml:"proof" json:"proof"`
}

// SelfIssued reports whether the credential names its own subject as issuer.
func (c Credential) SelfIssued() bool { return c.IssuedBy == "self" }

// Proof binds a claim hash to a signature bundle from one signer.
type Proof struct {
	ProofID   string               `yaml:"proof_id" json:"proof_id"`
	Type      ProofType            `yaml:"type" json:"type"`
	ClaimHash string               `yaml:"claim_hash" json:"claim_hash"`
	SignedBy  Signer               `yaml:"signed_by" json:"signed_by"`
	Signature []SignatureComponent `yaml:"signature,omitempty" json:"signature,omitempty"`
}

// Signer names the identity and logical key that produced a proof. The
// KeyID covers the whole bundle: each component resolves to the record
// under this id whose algorithm matches the component.
type Signer struct {
	IDPID string `yaml:"idp_id" json:"idp_id"`
	KeyID string `yaml:"key_id" json:"key_id"`
}

// SignatureComponent is one algorithm's signature over the claim hash.
// Value is standard-base64. A proof is valid only if every component
// verifies; there is no fallback between components.
type SignatureComponent struct {
	Algorithm string `yaml:"algorithm" json:"algorithm"`
	Value     string `yaml:"value" json:"value"`
}

// Contract is an agreement between parties with reputation consequences.
type Contract struct {
	ContractID  string         `yaml:"contract_id" json:"contract_id"`
	Status      ContractStatus `yaml:"status" json:"status"`
	Parties     []string       `yaml:"parties" json:"parties"`
	Terms       string         `yaml:"terms" json:"terms"`
	Consequence Consequence    `yaml:"consequence" json:"consequence"`
}

// Consequence holds the outcome expressions applied when the contract
// resolves. Each is a semicolon-separated statement list; empty means the
// resolution carries no reputation effect.
type Consequence struct {
	OnSuccess string `yaml:"on_success" json:"on_success"`
	OnFailure string `yaml:"on_failure" json:"on_failure"`
}

// ReputationScore is one named score with its full history. Value is
// derived: it always equals the sum of the history changes. History is
// append-only.
type ReputationScore struct {
	ScoreName string            `yaml:"score_name" json:"score_name"`
	Value     int64             `yaml:"value" json:"value"`
	History   []ReputationEvent `yaml:"history,omitempty" json:"history,omitempty"`
}

// ReputationEvent is one applied change.
type ReputationEvent struct {
	Event     string    `yaml:"event" json:"event"`
	Change    int64     `yaml:"change" json:"change"`
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
}

// ConsentGrant authorizes one grantee to see the listed fields until the
// grant expires. Expired grants stay in the document and deny all access;
// removing them is the owner's concern, not the engine's.
type ConsentGrant struct {
	GrantedTo string    `yaml:"granted_to" json:"granted_to"`
	Fields    []string  `yaml:"fields" json:"fields"`
	ExpiresAt time.Time `yaml:"expires_at" json:"expires_at"`
	Purpose   string    `yaml:"purpose" json:"purpose"`
}

// DeriveID computes the stable identity id from the root public key's
// base64 value string: the SHA-256 of the value bytes, standard-base64
// encoded, under the idp:key:sha256: prefix. Hashing the encoded string
// rather than the raw key keeps the derivation reproducible from the
// document text alone.
func DeriveID(rootKeyValue string) string {
	sum := sha256.Sum256([]byte(rootKeyValue))
	return IDPrefix + base64.StdEncoding.EncodeToString(sum[:])
}

// New constructs a fresh document around caller-supplied key records. The
// first record is the root key: it must be an active classical-family key,
// and the document id is derived from its value. Key generation and
// storage are the caller's concern.
func New(name, bio string, keys []PublicKeyRecord, now time.Time) (*Document, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("new document: at least one public key required")
	}
	root := keys[0]
	if root.Family() != FamilyClassical {
		return nil, fmt.Errorf("new document: root key %q must be classical-family, got %s", root.KeyID, root.Algorithm)
	}
	if root.Status != KeyStatusActive {
		return nil, fmt.Errorf("new document: root key %q must be active", root.KeyID)
	}

	now = now.UTC()
	return &Document{
		Identity: IdentityBlock{
			ID:        DeriveID(root.Value),
			Version:   Version,
			SchemaURL: SchemaURL,
			CreatedAt: now,
			UpdatedAt: now,
		},
		System: SystemBlock{PublicKeys: keys},
		Core:   CoreBlock{Name: name, Bio: bio},
	}, nil
}

// Touch records a mutation time. Every operation that changes the
// document calls this with the same now it stamps elsewhere.
func (d *Document) Touch(now time.Time) {
	d.Identity.UpdatedAt = now.UTC()
}

// FindProof resolves a proof id, as cited by a credential's proof field.
func (d *Document) FindProof(proofID string) (*Proof, bool) {
	for i := range d.Proofs {
		if d.Proofs[i].ProofID == proofID {
			return &d.Proofs[i], true
		}
	}
	return nil, false
}

// KeysByID returns every key record sharing the logical key id, in
// document order. A hybrid signer typically yields one record per
// algorithm family.
func (d *Document) KeysByID(keyID string) []PublicKeyRecord {
	var out []PublicKeyRecord
	for _, k := range d.System.PublicKeys {
		if k.KeyID == keyID {
			out = append(out, k)
		}
	}
	return out
}

// FindContract resolves a contract id.
func (d *Document) FindContract(contractID string) (*Contract, bool) {
	for i := range d.Contracts {
		if d.Contracts[i].ContractID == contractID {
			return &d.Contracts[i], true
		}
	}
	return nil, false
}

// Score returns the named reputation score, if present.
func (d *Document) Score(name string) (*ReputationScore, bool) {
	for i := range d.Reputation {
		if d.Reputation[i].ScoreName == name {
			return &d.Reputation[i], true
		}
	}
	return nil, false
}

// EnsureScore returns the named score, creating it at value 0 with empty
// history when the document does not carry it yet.
func (d *Document) EnsureScore(name string) *ReputationScore {
	if s, ok := d.Score(name); ok {
		return s
	}
	d.Reputation = append(d.Reputation, ReputationScore{ScoreName: name})
	return &d.Reputation[len(d.Reputation)-1]
}

// HasQuantumKeys reports whether the document declares post-quantum
// capability, i.e. carries any quantum-family key record regardless of
// status. Once declared, hybrid verification demands a quantum component.
func (d *Document) HasQuantumKeys() bool {
	for _, k := range d.System.PublicKeys {
		if k.Family() == FamilyQuantum {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. The engine snapshots documents before
// computing consequence deltas so a conflicted commit can retry from
// fresh state without partial mutation ever becoming visible.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.System.PublicKeys = append([]PublicKeyRecord(nil), d.System.PublicKeys...)
	out.Credentials = make([]Credential, len(d.Credentials))
	for i, c := range d.Credentials {
		out.Credentials[i] = c
		if c.ExpiresAt != nil {
			t := *c.ExpiresAt
			out.Credentials[i].ExpiresAt = &t
		}
	}
	out.Proofs = make([]Proof, len(d.Proofs))
	for i, p := range d.Proofs {
		out.Proofs[i] = p
		out.Proofs[i].Signature = append([]SignatureComponent(nil), p.Signature...)
	}
	out.Contracts = make([]Contract, len(d.Contracts))
	for i, c := range d.Contracts {
		out.Contracts[i] = c
		out.Contracts[i].Parties = append([]string(nil), c.Parties...)
	}
	out.Reputation = make([]ReputationScore, len(d.Reputation))
	for i, s := range d.Reputation {
		out.Reputation[i] = s
		out.Reputation[i].History = append([]ReputationEvent(nil), s.History...)
	}
	out.Consent = make([]ConsentGrant, len(d.Consent))
	for i, g := range d.Consent {
		out.Consent[i] = g
		out.Consent[i].Fields = append([]string(nil), g.Fields...)
	}
	return &out
}
