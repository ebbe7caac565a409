package document

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaJSON string

var (
	documentSchema   = mustCompileSchema()
	acceptedVersions = mustConstraint(">=0.2.0, <0.3.0")
)

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	if err := c.AddResource(SchemaURL, strings.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("document schema load: %v", err))
	}
	schema, err := c.Compile(SchemaURL)
	if err != nil {
		panic(fmt.Sprintf("document schema compile: %v", err))
	}
	return schema
}

func mustConstraint(expr string) *semver.Constraints {
	c, err := semver.NewConstraint(expr)
	if err != nil {
		panic(fmt.Sprintf("version constraint %q: %v", expr, err))
	}
	return c
}

// Violation is one structural defect found in a document.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (v Violation) String() string { return v.Path + ": " + v.Message }

// Validate checks the document against the embedded schema and the
// semantic invariants the schema cannot express: version range, key
// record uniqueness and family coverage, proof reference integrity, and
// the reputation sum rule. All violations are collected and returned
// together; nil means the document is structurally sound.
func (d *Document) Validate() []Violation {
	out := d.schemaViolations()
	out = append(out, d.semanticViolations()...)
	if len(out) == 0 {
		return nil
	}
	return out
}

func (d *Document) schemaViolations() []Violation {
	raw, err := json.Marshal(d)
	if err != nil {
		return []Violation{{Path: "$", Message: fmt.Sprintf("encode for schema check: %v", err)}}
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return []Violation{{Path: "$", Message: fmt.Sprintf("decode for schema check: %v", err)}}
	}

	err = documentSchema.Validate(generic)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []Violation{{Path: "$", Message: err.Error()}}
	}
	var out []Violation
	flattenSchemaError(ve, &out)
	return out
}

// flattenSchemaError collects leaf causes; intermediate nodes only repeat
// that a child failed.
func flattenSchemaError(ve *jsonschema.ValidationError, out *[]Violation) {
	if len(ve.Causes) == 0 {
		path := ve.InstanceLocation
		if path == "" {
			path = "$"
		}
		*out = append(*out, Violation{Path: path, Message: ve.Message})
		return
	}
	for _, cause := range ve.Causes {
		flattenSchemaError(cause, out)
	}
}

func (d *Document) semanticViolations() []Violation {
	var out []Violation
	add := func(path, format string, args ...any) {
		out = append(out, Violation{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if v, err := semver.NewVersion(d.Identity.Version); err != nil {
		add("identity.version", "not a semantic version: %v", err)
	} else if !acceptedVersions.Check(v) {
		add("identity.version", "version %s outside supported range %s", v, acceptedVersions)
	}

	if d.Identity.CreatedAt.IsZero() {
		add("identity.created_at", "timestamp missing")
	}
	if d.Identity.UpdatedAt.IsZero() {
		add("identity.updated_at", "timestamp missing")
	} else if !d.Identity.CreatedAt.IsZero() && d.Identity.UpdatedAt.Before(d.Identity.CreatedAt) {
		add("identity.updated_at", "precedes created_at")
	}

	seenKeys := make(map[string]bool, len(d.System.PublicKeys))
	var activeClassical, activeQuantum, hasQuantum bool
	for i, k := range d.System.PublicKeys {
		path := fmt.Sprintf("system.public_keys[%d]", i)
		fam := k.Family()
		if fam == FamilyUnknown {
			add(path, "unknown algorithm %q", k.Algorithm)
		}
		pair := k.KeyID + "\x00" + k.Algorithm
		if seenKeys[pair] {
			add(path, "duplicate key record for (%s, %s)", k.KeyID, k.Algorithm)
		}
		seenKeys[pair] = true

		if fam == FamilyQuantum {
			hasQuantum = true
		}
		if k.Status == KeyStatusActive {
			switch fam {
			case FamilyClassical:
				activeClassical = true
			case FamilyQuantum:
				activeQuantum = true
			}
		}
	}
	if !activeClassical {
		add("system.public_keys", "no active classical-family key")
	}
	if hasQuantum && !activeQuantum {
		add("system.public_keys", "quantum capability declared but no active quantum-family key")
	}

	proofIDs := make(map[string]bool, len(d.Proofs))
	for i, p := range d.Proofs {
		if proofIDs[p.ProofID] {
			add(fmt.Sprintf("proofs[%d]", i), "duplicate proof_id %q", p.ProofID)
		}
		proofIDs[p.ProofID] = true
	}
	for i, c := range d.Credentials {
		if !proofIDs[c.ProofRef] {
			add(fmt.Sprintf("credentials[%d].proof", i), "references unknown proof %q", c.ProofRef)
		}
	}

	contractIDs := make(map[string]bool, len(d.Contracts))
	for i, c := range d.Contracts {
		if contractIDs[c.ContractID] {
			add(fmt.Sprintf("contracts[%d]", i), "duplicate contract_id %q", c.ContractID)
		}
		contractIDs[c.ContractID] = true
	}

	scoreNames := make(map[string]bool, len(d.Reputation))
	for i, s := range d.Reputation {
		path := fmt.Sprintf("reputation[%d]", i)
		if scoreNames[s.ScoreName] {
			add(path, "duplicate score_name %q", s.ScoreName)
		}
		scoreNames[s.ScoreName] = true

		var sum int64
		for _, e := range s.History {
			sum += e.Change
		}
		if sum != s.Value {
			add(path, "value %d does not equal history sum %d", s.Value, sum)
		}
	}

	for i, g := range d.Consent {
		if g.ExpiresAt.IsZero() {
			add(fmt.Sprintf("consent[%d].expires_at", i), "timestamp missing")
		}
	}

	return out
}
