// Package observability provides OpenTelemetry tracing and metrics for the
// identity engine, plus a queryable audit timeline of engine decisions.
//
// # Provider
//
// Initialize the provider at application startup:
//
//	provider, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "idp-engine",
//		OTLPEndpoint: "otel-collector:4317",
//		SampleRate:   0.1, // 10% sampling in production
//		Enabled:      true,
//	})
//	defer provider.Shutdown(ctx)
//
// Create spans manually:
//
//	ctx, span := provider.StartSpan(ctx, "idp.validate_credential")
//	defer span.End()
//
// Record outcome counters:
//
//	provider.RecordVerification(ctx, "SIGNATURE_MISMATCH")
//	provider.RecordApplication(ctx, "applied")
//	provider.RecordDisclosure(ctx, "granted")
//
// A nil *Provider is safe everywhere and records nothing, so libraries can
// instrument unconditionally.
//
// # Audit timeline
//
// The audit timeline keeps an in-memory, hash-stamped record of every
// engine decision:
//
//	timeline := observability.NewAuditTimeline()
//	timeline.Record(observability.TimelineEntry{
//		EntryType: observability.EntryTypeDisclosure,
//		SubjectID: subject,
//		Actor:     requester,
//		Summary:   "disclosed core.name",
//	})
//	entries := timeline.Query(observability.TimelineQuery{SubjectID: subject})
package observability
