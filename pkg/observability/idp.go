package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Identity-engine semantic convention attributes.
var (
	// Subject attributes
	AttrSubjectID = attribute.Key("idp.subject.id")
	AttrSignerID  = attribute.Key("idp.signer.id")

	// Credential attributes
	AttrClaim   = attribute.Key("idp.credential.claim")
	AttrProofID = attribute.Key("idp.proof.id")

	// Verdict attributes
	AttrVerdict = attribute.Key("idp.verdict")
	AttrReason  = attribute.Key("idp.verdict.reason")

	// Contract attributes
	AttrContractID     = attribute.Key("idp.contract.id")
	AttrContractTarget = attribute.Key("idp.contract.target")

	// Consent attributes
	AttrGrantee = attribute.Key("idp.consent.grantee")
	AttrPurpose = attribute.Key("idp.consent.purpose")

	// Crypto attributes
	AttrCryptoAlgorithm = attribute.Key("idp.crypto.algorithm")
	AttrCryptoOperation = attribute.Key("idp.crypto.operation")
	AttrCryptoKeyID     = attribute.Key("idp.crypto.key_id")
)

// VerificationOperation creates attributes for credential validation.
func VerificationOperation(subjectID, claim, proofRef string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSubjectID.String(subjectID),
		AttrClaim.String(claim),
		AttrProofID.String(proofRef),
	}
}

// ConsequenceOperation creates attributes for contract transitions.
func ConsequenceOperation(ownerID, contractID, target string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSubjectID.String(ownerID),
		AttrContractID.String(contractID),
		AttrContractTarget.String(target),
	}
}

// DisclosureOperation creates attributes for consent evaluations.
func DisclosureOperation(subjectID, grantee, purpose string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSubjectID.String(subjectID),
		AttrGrantee.String(grantee),
		AttrPurpose.String(purpose),
	}
}

// CryptoOperation creates attributes for cryptographic operations.
func CryptoOperation(algorithm, operation, keyID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCryptoAlgorithm.String(algorithm),
		AttrCryptoOperation.String(operation),
		AttrCryptoKeyID.String(keyID),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus sets the span status based on error.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
