package pipeline

import (
	"testing"
	"time"

	"shiplink/internal"
	"shiplink/internal/config"
	"shiplink/internal/shipments"
)

func testConfig() config.Config {
	return config.Config{ContainerRecentDays: 90, WorkerPoolSize: 2, RunBatchSize: 100}
}

func booking(value string) internal.IdentifierCandidate {
	return internal.IdentifierCandidate{Kind: internal.KindBooking, RawValue: value}
}

func container(value string) internal.IdentifierCandidate {
	return internal.IdentifierCandidate{Kind: internal.KindContainer, RawValue: value}
}

func TestResolveExactBooking(t *testing.T) {
	// Scenario: booking 26123456 exists only on S1; the document carries the
	// exact string in its body, so confidence hits the ceiling.
	idx := shipments.BuildIndex([]internal.Shipment{
		{ID: "S1", BookingNumber: internal.StringPtr("26123456"), Status: internal.ShipmentOpen},
	})
	r := NewResolver(testConfig(), idx)

	doc := internal.ClassifiedDocument{
		EmailID:     "m1",
		Identifiers: []internal.IdentifierCandidate{booking("26123456")},
		BodyText:    "Please find booking 26123456 attached.",
	}
	res := r.Resolve(doc)
	if res.Outcome != internal.ResolutionLinked || res.MatchType != internal.MatchBooking {
		t.Fatalf("unexpected resolution: %+v", res)
	}
	if res.ShipmentID == nil || *res.ShipmentID != "S1" {
		t.Fatalf("wrong shipment: %+v", res)
	}
	if res.Confidence != 100 {
		t.Fatalf("confidence = %d, want 100", res.Confidence)
	}
}

func TestResolveBookingWithoutLiteralText(t *testing.T) {
	idx := shipments.BuildIndex([]internal.Shipment{
		{ID: "S1", BookingNumber: internal.StringPtr("26123456"), Status: internal.ShipmentOpen},
	})
	r := NewResolver(testConfig(), idx)

	doc := internal.ClassifiedDocument{
		EmailID:     "m1",
		Identifiers: []internal.IdentifierCandidate{booking("26-12-34-56")},
		BodyText:    "see attached",
	}
	res := r.Resolve(doc)
	if res.Outcome != internal.ResolutionLinked || res.Confidence != 95 {
		t.Fatalf("unexpected resolution: %+v", res)
	}
}

func TestResolveBookingBeatsContainer(t *testing.T) {
	// Priority cascade: a unique booking match never falls through to a
	// container candidate pointing at another shipment.
	idx := shipments.BuildIndex([]internal.Shipment{
		{ID: "S1", BookingNumber: internal.StringPtr("26123456"), Status: internal.ShipmentOpen},
		{ID: "S3", ContainerNumber: internal.StringPtr("MAEU1234567"), Status: internal.ShipmentOpen},
	})
	r := NewResolver(testConfig(), idx)

	doc := internal.ClassifiedDocument{
		EmailID: "m1",
		Identifiers: []internal.IdentifierCandidate{
			booking("26123456"),
			container("MAEU1234567"),
		},
	}
	res := r.Resolve(doc)
	if res.Outcome != internal.ResolutionLinked || res.MatchType != internal.MatchBooking || *res.ShipmentID != "S1" {
		t.Fatalf("booking should win: %+v", res)
	}
}

func TestResolveSharedBookingIsAmbiguous(t *testing.T) {
	// Two shipments carrying the same booking is a data error; the resolver
	// must surface it, not pick one.
	idx := shipments.BuildIndex([]internal.Shipment{
		{ID: "S1", BookingNumber: internal.StringPtr("26123456"), Status: internal.ShipmentOpen},
		{ID: "S2", BookingNumber: internal.StringPtr("26123456"), Status: internal.ShipmentOpen},
	})
	r := NewResolver(testConfig(), idx)

	res := r.Resolve(internal.ClassifiedDocument{
		EmailID:     "m1",
		Identifiers: []internal.IdentifierCandidate{booking("26123456")},
	})
	if res.Outcome != internal.ResolutionAmbiguous {
		t.Fatalf("expected ambiguous, got %+v", res)
	}
	if len(res.Candidates) < 2 {
		t.Fatalf("expected both candidates, got %+v", res.Candidates)
	}
}

func TestResolveBookingAmbiguityDoesNotFallThrough(t *testing.T) {
	// A booking-level ambiguity is terminal even when a container candidate
	// would resolve cleanly.
	idx := shipments.BuildIndex([]internal.Shipment{
		{ID: "S1", BookingNumber: internal.StringPtr("26123456"), Status: internal.ShipmentOpen},
		{ID: "S2", BookingNumber: internal.StringPtr("26123456"), Status: internal.ShipmentOpen},
		{ID: "S3", ContainerNumber: internal.StringPtr("MAEU1234567"), Status: internal.ShipmentOpen},
	})
	r := NewResolver(testConfig(), idx)

	res := r.Resolve(internal.ClassifiedDocument{
		EmailID: "m1",
		Identifiers: []internal.IdentifierCandidate{
			booking("26123456"),
			container("MAEU1234567"),
		},
	})
	if res.Outcome != internal.ResolutionAmbiguous {
		t.Fatalf("expected ambiguous, got %+v", res)
	}
}

func TestResolveReusedContainerIsAmbiguous(t *testing.T) {
	// Scenario: MAEU1234567 is listed on active S2 and on S9 closed months
	// ago; container matches never silently pick the recent one.
	closed := time.Now().Add(-8 * 30 * 24 * time.Hour)
	idx := shipments.BuildIndex([]internal.Shipment{
		{ID: "S2", ContainerNumber: internal.StringPtr("MAEU1234567"), Status: internal.ShipmentOpen},
		{ID: "S9", ContainerNumber: internal.StringPtr("MAEU1234567"), Status: internal.ShipmentClosed, ClosedAt: &closed},
	})
	r := NewResolver(testConfig(), idx)

	res := r.Resolve(internal.ClassifiedDocument{
		EmailID:     "m1",
		Identifiers: []internal.IdentifierCandidate{container("MAEU1234567")},
	})
	if res.Outcome != internal.ResolutionAmbiguous {
		t.Fatalf("expected ambiguous, got %+v", res)
	}
	got := map[string]bool{}
	for _, cand := range res.Candidates {
		got[cand.ShipmentID] = true
	}
	if !got["S2"] || !got["S9"] {
		t.Fatalf("expected S2 and S9 candidates, got %+v", res.Candidates)
	}
}

func TestResolveContainerConfidenceBand(t *testing.T) {
	stale := time.Now().Add(-300 * 24 * time.Hour)
	idx := shipments.BuildIndex([]internal.Shipment{
		{ID: "OPEN", ContainerNumber: internal.StringPtr("MAEU1111111"), Status: internal.ShipmentOpen},
		{ID: "STALE", ContainerNumber: internal.StringPtr("TCLU2222222"), Status: internal.ShipmentClosed, ClosedAt: &stale},
	})
	r := NewResolver(testConfig(), idx)

	open := r.Resolve(internal.ClassifiedDocument{
		EmailID:     "m1",
		Identifiers: []internal.IdentifierCandidate{container("MAEU1111111")},
	})
	if open.Outcome != internal.ResolutionLinked || open.MatchType != internal.MatchContainer {
		t.Fatalf("open: %+v", open)
	}
	if open.Confidence < 61 || open.Confidence > 75 {
		t.Fatalf("open shipment confidence %d outside raised band", open.Confidence)
	}

	staleRes := r.Resolve(internal.ClassifiedDocument{
		EmailID:     "m2",
		Identifiers: []internal.IdentifierCandidate{container("TCLU2222222")},
	})
	if staleRes.Confidence != 60 {
		t.Fatalf("stale shipment confidence %d, want floor 60", staleRes.Confidence)
	}
	if open.Confidence <= staleRes.Confidence {
		t.Fatalf("open (%d) should outscore stale (%d)", open.Confidence, staleRes.Confidence)
	}
}

func TestResolveOrphanAndMalformed(t *testing.T) {
	idx := shipments.BuildIndex([]internal.Shipment{
		{ID: "S1", BookingNumber: internal.StringPtr("26123456"), Status: internal.ShipmentOpen},
	})
	r := NewResolver(testConfig(), idx)

	res := r.Resolve(internal.ClassifiedDocument{
		EmailID: "m1",
		Identifiers: []internal.IdentifierCandidate{
			booking("---"),
			booking(""),
			{Kind: internal.KindUnrecognized, RawValue: "whatever"},
		},
	})
	if res.Outcome != internal.ResolutionOrphan {
		t.Fatalf("expected orphan, got %+v", res)
	}
	if res.Skipped != 2 {
		t.Fatalf("expected 2 skipped malformed values, got %d", res.Skipped)
	}
}
