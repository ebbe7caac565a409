// Package verdict defines the reason taxonomy shared by credential
// validation, proof verification, the consequence engine, and consent
// evaluation. Every rejection is a result value carrying a Reason, and
// every Reason maps onto one of four classes so callers can tell
// "never valid" apart from "no longer valid" without string matching.
package verdict

import "fmt"

// Class categorizes a rejection by failure mode.
type Class string

const (
	// ClassStructural covers malformed or unresolvable material: dangling
	// proof references, unknown signers, schema violations, bad selectors,
	// consequence expressions that do not parse. Never retried.
	ClassStructural Class = "structural"
	// ClassCryptographic covers material that resolved but failed
	// verification: signature mismatch, hash mismatch, key problems.
	ClassCryptographic Class = "cryptographic"
	// ClassTemporal covers material that was valid once and has aged out.
	ClassTemporal Class = "temporal"
	// ClassState covers operations rejected by lifecycle rules: invalid
	// contract transitions, replayed consequences, commit conflicts.
	ClassState Class = "state"
)

// Reason identifies why an operation rejected its input.
type Reason string

const (
	// Structural.
	ReasonDanglingProofRef     Reason = "DANGLING_PROOF_REF"
	ReasonUnknownSigner        Reason = "UNKNOWN_SIGNER"
	ReasonSchemaViolation      Reason = "SCHEMA_VIOLATION"
	ReasonMalformedSelector    Reason = "MALFORMED_SELECTOR"
	ReasonMalformedConsequence Reason = "MALFORMED_CONSEQUENCE"

	// Cryptographic.
	ReasonHashMismatch      Reason = "HASH_MISMATCH"
	ReasonSignatureMismatch Reason = "SIGNATURE_MISMATCH"
	ReasonRevokedKey        Reason = "REVOKED_KEY"
	ReasonUnknownKey        Reason = "UNKNOWN_KEY"
	ReasonAlgorithmMismatch Reason = "ALGORITHM_MISMATCH"
	ReasonIncompleteBundle  Reason = "INCOMPLETE_BUNDLE"
	ReasonAmbiguousKey      Reason = "AMBIGUOUS_KEY"

	// Temporal.
	ReasonExpired        Reason = "EXPIRED"
	ReasonConsentExpired Reason = "CONSENT_EXPIRED"

	// State.
	ReasonNotGrantee        Reason = "NOT_GRANTEE"
	ReasonInvalidTransition Reason = "INVALID_TRANSITION"
	ReasonAlreadyApplied    Reason = "ALREADY_APPLIED"
	ReasonConflict          Reason = "CONFLICT"
)

// Class returns the failure class for the reason. Unknown reasons are
// treated as structural, the most conservative class.
func (r Reason) Class() Class {
	switch r {
	case ReasonHashMismatch, ReasonSignatureMismatch, ReasonRevokedKey,
		ReasonUnknownKey, ReasonAlgorithmMismatch, ReasonIncompleteBundle,
		ReasonAmbiguousKey:
		return ClassCryptographic
	case ReasonExpired, ReasonConsentExpired:
		return ClassTemporal
	case ReasonNotGrantee, ReasonInvalidTransition, ReasonAlreadyApplied,
		ReasonConflict:
		return ClassState
	default:
		return ClassStructural
	}
}

// Verdict is the outcome of validating one credential or proof. It is a
// plain value: an invalid verdict is a result, not an error, and unrelated
// verifications proceed regardless.
type Verdict struct {
	Valid  bool   `json:"valid"`
	Reason Reason `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// OK is the verdict for material that passed every check.
func OK() Verdict {
	return Verdict{Valid: true}
}

// Invalid builds a rejection verdict.
func Invalid(reason Reason, detail string) Verdict {
	return Verdict{Reason: reason, Detail: detail}
}

// Invalidf builds a rejection verdict with a formatted detail.
func Invalidf(reason Reason, format string, args ...any) Verdict {
	return Verdict{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Class returns the failure class, or "" for a valid verdict.
func (v Verdict) Class() Class {
	if v.Valid {
		return ""
	}
	return v.Reason.Class()
}

func (v Verdict) String() string {
	if v.Valid {
		return "valid"
	}
	if v.Detail == "" {
		return string(v.Reason)
	}
	return fmt.Sprintf("%s: %s", v.Reason, v.Detail)
}
