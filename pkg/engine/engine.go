// Package engine is the facade over the identity document machinery: it
// owns the in-memory document set and exposes credential validation,
// contract consequence application, consent disclosure and raw proof
// bundle verification as instrumented operations.
//
// Every time-dependent check takes an explicit now; the engine never reads
// a wall clock. The context on each operation carries tracing only, there
// is no cancellation concept inside an operation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/idp-org/idp-go/pkg/consent"
	"github.com/idp-org/idp-go/pkg/contract"
	"github.com/idp-org/idp-go/pkg/document"
	"github.com/idp-org/idp-go/pkg/hybrid"
	"github.com/idp-org/idp-go/pkg/observability"
	"github.com/idp-org/idp-go/pkg/trust"
	"github.com/idp-org/idp-go/pkg/verdict"
)

var (
	// ErrUnknownIdentity reports an identity id the document set does not
	// hold.
	ErrUnknownIdentity = errors.New("identity not in document set")
	// ErrUnknownContract reports a contract id the owner document does not
	// carry.
	ErrUnknownContract = errors.New("contract not found")
)

// Config configures the engine.
type Config struct {
	// MaxRetries bounds how many times a consequence application is
	// re-planned after a concurrent commit invalidates its first plan.
	// Exhausting the retries reports a Conflict verdict.
	MaxRetries int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{MaxRetries: 3}
}

// Option customizes an engine.
type Option func(*Engine)

// WithProvider attaches an observability provider. A nil provider keeps
// instrumentation as no-ops.
func WithProvider(p *observability.Provider) Option {
	return func(e *Engine) { e.provider = p }
}

// WithAudit attaches an audit timeline that records every engine decision.
func WithAudit(tl *observability.AuditTimeline) Option {
	return func(e *Engine) { e.audit = tl }
}

// WithLogger overrides the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// Engine ties the document set, the signature registry and the credential
// validator together.
type Engine struct {
	cfg       Config
	set       *DocumentSet
	registry  *hybrid.Registry
	validator *trust.Validator
	provider  *observability.Provider
	audit     *observability.AuditTimeline
	log       *slog.Logger

	// testHookPlanned runs between planning and commit so tests can
	// interleave a competing commit deterministically.
	testHookPlanned func()
}

// New creates an engine with an empty document set.
func New(cfg Config, opts ...Option) *Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	registry := hybrid.NewRegistry()
	e := &Engine{
		cfg:       cfg,
		set:       NewDocumentSet(),
		registry:  registry,
		validator: trust.NewValidator(registry),
		log:       slog.Default().With("component", "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Documents returns the engine's document set for seeding and inspection.
func (e *Engine) Documents() *DocumentSet { return e.set }

// Registry returns the signature scheme registry the engine verifies with.
func (e *Engine) Registry() *hybrid.Registry { return e.registry }

// ValidateCredential runs the full credential validation pipeline for a
// credential of the identified subject. Third-party signers resolve
// through the document set.
func (e *Engine) ValidateCredential(ctx context.Context, subjectID string, cred document.Credential, now time.Time) (verdict.Verdict, error) {
	ctx, span := e.provider.StartSpan(ctx, "idp.validate_credential",
		trace.WithAttributes(observability.VerificationOperation(subjectID, cred.Claim, cred.ProofRef)...))
	defer span.End()

	subject, ok := e.set.Snapshot(subjectID)
	if !ok {
		err := fmt.Errorf("subject %s: %w", subjectID, ErrUnknownIdentity)
		span.RecordError(err)
		return verdict.Verdict{}, err
	}

	v := e.validator.Validate(&cred, subject, e.set, now)
	label := verdictLabel(v)
	span.SetAttributes(observability.AttrVerdict.String(label))
	e.provider.RecordVerification(ctx, label)
	e.log.DebugContext(ctx, "credential validated",
		"subject", subjectID, "claim", cred.Claim, "verdict", label)
	_ = e.audit.Record(observability.TimelineEntry{
		EntryType: observability.EntryTypeValidation,
		SubjectID: subjectID,
		Summary:   fmt.Sprintf("validate %s: %s", cred.Claim, label),
		Details:   map[string]any{"proof": cred.ProofRef, "verdict": label, "detail": v.Detail},
	})
	return v, nil
}

// VerifyProofBundle verifies a proof's signature bundle directly against
// the identified signer's keys, using the claim hash the proof records.
func (e *Engine) VerifyProofBundle(ctx context.Context, signerID string, proof *document.Proof) (verdict.Verdict, error) {
	ctx, span := e.provider.StartSpan(ctx, "idp.verify_proof_bundle",
		trace.WithAttributes(
			observability.AttrSignerID.String(signerID),
			observability.AttrProofID.String(proof.ProofID),
		))
	defer span.End()

	signer, ok := e.set.Snapshot(signerID)
	if !ok {
		err := fmt.Errorf("signer %s: %w", signerID, ErrUnknownIdentity)
		span.RecordError(err)
		return verdict.Verdict{}, err
	}

	v := e.registry.VerifyBundle(proof, signer, proof.ClaimHash)
	label := verdictLabel(v)
	span.SetAttributes(observability.AttrVerdict.String(label))
	e.provider.RecordVerification(ctx, label)
	_ = e.audit.Record(observability.TimelineEntry{
		EntryType: observability.EntryTypeVerification,
		SubjectID: signerID,
		Summary:   fmt.Sprintf("verify %s: %s", proof.ProofID, label),
		Details:   map[string]any{"proof": proof.ProofID, "verdict": label, "detail": v.Detail},
	})
	return v, nil
}

// Disclose evaluates a consent grant against the identified subject's
// document on behalf of a requester.
func (e *Engine) Disclose(ctx context.Context, subjectID, requesterID string, grant *document.ConsentGrant, now time.Time) (*consent.Disclosure, verdict.Verdict, error) {
	ctx, span := e.provider.StartSpan(ctx, "idp.disclose",
		trace.WithAttributes(observability.DisclosureOperation(subjectID, grant.GrantedTo, grant.Purpose)...))
	defer span.End()

	subject, ok := e.set.Snapshot(subjectID)
	if !ok {
		err := fmt.Errorf("subject %s: %w", subjectID, ErrUnknownIdentity)
		span.RecordError(err)
		return nil, verdict.Verdict{}, err
	}

	disc, v := consent.Evaluate(subject, grant, requesterID, now)
	label := "granted"
	if !v.Valid {
		label = string(v.Reason)
	}
	span.SetAttributes(observability.AttrVerdict.String(label))
	e.provider.RecordDisclosure(ctx, label)
	e.log.DebugContext(ctx, "disclosure evaluated",
		"subject", subjectID, "requester", requesterID, "decision", label)

	entry := observability.TimelineEntry{
		EntryType: observability.EntryTypeDisclosure,
		SubjectID: subjectID,
		Actor:     requesterID,
		Summary:   "disclosure " + label,
	}
	if disc != nil {
		entry.Details = map[string]any{"matched": disc.Matched, "purpose": grant.Purpose}
	}
	_ = e.audit.Record(entry)
	return disc, v, nil
}

// ApplyConsequence moves a contract of the owner document to the target
// status and applies the bound consequence to every party's reputation
// ledger, all-or-nothing.
//
// Application is optimistic: the transition is planned against a snapshot,
// then committed under the touched identities' locks only if the
// contract's status still matches the snapshot. A concurrent commit that
// invalidates the plan triggers a retry from scratch; when the retries are
// exhausted the application reports a Conflict verdict. A replayed
// terminal transition reports AlreadyApplied, so redelivered requests are
// safe.
func (e *Engine) ApplyConsequence(ctx context.Context, ownerID, contractID string, target document.ContractStatus, now time.Time) (*contract.Outcome, verdict.Verdict, error) {
	ctx, span := e.provider.StartSpan(ctx, "idp.apply_consequence",
		trace.WithAttributes(observability.ConsequenceOperation(ownerID, contractID, string(target))...))
	defer span.End()

	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		outcome, v, stale, err := e.tryApply(ownerID, contractID, target, now)
		if err != nil {
			span.RecordError(err)
			return nil, verdict.Verdict{}, err
		}
		if stale {
			e.log.DebugContext(ctx, "consequence plan went stale, retrying",
				"owner", ownerID, "contract", contractID, "attempt", attempt)
			continue
		}

		label := "applied"
		if !v.Valid {
			label = string(v.Reason)
		}
		span.SetAttributes(observability.AttrVerdict.String(label))
		e.provider.RecordApplication(ctx, label)
		if v.Valid {
			e.log.InfoContext(ctx, "contract transition applied",
				"owner", ownerID, "contract", contractID,
				"from", string(outcome.From), "to", string(outcome.To),
				"deltas", len(outcome.Applied), "attempt", attempt)
			_ = e.audit.Record(observability.TimelineEntry{
				EntryType: observability.EntryTypeTransition,
				SubjectID: ownerID,
				Summary:   fmt.Sprintf("%s %s", contractID, target),
				Details:   map[string]any{"from": string(outcome.From), "to": string(outcome.To), "deltas": len(outcome.Applied)},
			})
		}
		return outcome, v, nil
	}

	v := verdict.Invalidf(verdict.ReasonConflict,
		"contract %s: plan invalidated %d times by concurrent commits", contractID, e.cfg.MaxRetries+1)
	span.SetAttributes(observability.AttrVerdict.String(string(v.Reason)))
	e.provider.RecordApplication(ctx, string(v.Reason))
	e.log.WarnContext(ctx, "consequence application gave up",
		"owner", ownerID, "contract", contractID, "retries", e.cfg.MaxRetries)
	return nil, v, nil
}

// tryApply runs one plan-then-commit attempt. stale reports that a
// concurrent commit changed the contract's status between the snapshot and
// the commit, so the caller should re-plan.
func (e *Engine) tryApply(ownerID, contractID string, target document.ContractStatus, now time.Time) (outcome *contract.Outcome, v verdict.Verdict, stale bool, err error) {
	// Phase one: plan against a snapshot, no locks held, nothing mutated.
	owner, ok := e.set.Snapshot(ownerID)
	if !ok {
		return nil, verdict.Verdict{}, false, fmt.Errorf("owner %s: %w", ownerID, ErrUnknownIdentity)
	}
	c, ok := owner.FindContract(contractID)
	if !ok {
		return nil, verdict.Verdict{}, false, fmt.Errorf("contract %s on %s: %w", contractID, ownerID, ErrUnknownContract)
	}
	readStatus := c.Status
	deltas, pv := contract.Plan(c, target)
	if !pv.Valid {
		return nil, pv, false, nil
	}
	if e.testHookPlanned != nil {
		e.testHookPlanned()
	}

	// Phase two: commit under the touched identities' locks, in sorted-id
	// order so concurrent applications cannot deadlock.
	ids := make([]string, 0, len(deltas)+1)
	ids = append(ids, ownerID)
	for _, d := range deltas {
		ids = append(ids, d.PartyID)
	}
	ids = uniqueSorted(ids)

	release, missing := e.set.lockAll(ids)
	if missing != "" {
		return nil, verdict.Verdict{}, false, fmt.Errorf("party %s: %w", missing, ErrUnknownIdentity)
	}
	defer release()

	live := e.set.get(ownerID)
	lc, ok := live.FindContract(contractID)
	if !ok {
		return nil, verdict.Verdict{}, false, fmt.Errorf("contract %s on %s: %w", contractID, ownerID, ErrUnknownContract)
	}
	if lc.Status != readStatus {
		return nil, verdict.Verdict{}, true, nil
	}

	lc.Status = target
	touched := map[string]*document.Document{ownerID: live}
	for _, d := range deltas {
		doc := touched[d.PartyID]
		if doc == nil {
			doc = e.set.get(d.PartyID)
			touched[d.PartyID] = doc
		}
		contract.ApplyDelta(doc, d, now)
	}
	for _, doc := range touched {
		doc.Touch(now)
	}

	outcome = &contract.Outcome{
		ContractID: contractID,
		From:       readStatus,
		To:         target,
		Applied:    deltas,
	}
	seen := make(map[string]bool, len(deltas))
	for _, d := range deltas {
		key := d.PartyID + "\x00" + d.Score
		if seen[key] {
			continue
		}
		seen[key] = true
		if sc, ok := touched[d.PartyID].Score(d.Score); ok {
			outcome.Scores = append(outcome.Scores, contract.ScoreValue{
				PartyID: d.PartyID, Score: d.Score, Value: sc.Value,
			})
		}
	}
	return outcome, verdict.OK(), false, nil
}

func verdictLabel(v verdict.Verdict) string {
	if v.Valid {
		return "valid"
	}
	return string(v.Reason)
}
