package pipeline

import (
	"testing"
	"time"

	"shiplink/internal"
)

func TestGroupDuplicatesEarliestWins(t *testing.T) {
	// Scenario: the same confirmation hits the thread three times (original,
	// forward, re-send). One group, primary is the earliest copy.
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	docs := []internal.ClassifiedDocument{
		{EmailID: "m3", ThreadID: "t1", DocumentType: "booking_confirmation", ReceivedAt: base.Add(2 * time.Hour), BodyText: "Booking 26123456 is confirmed."},
		{EmailID: "m1", ThreadID: "t1", DocumentType: "booking_confirmation", ReceivedAt: base, BodyText: "Booking 26123456 is confirmed."},
		{EmailID: "m2", ThreadID: "t1", DocumentType: "booking_confirmation", ReceivedAt: base.Add(time.Hour), BodyText: "Booking 26123456 is confirmed.\n\nBest regards"},
	}

	groups := GroupDuplicates(docs)
	if len(groups) != 1 {
		t.Fatalf("groups = %+v", groups)
	}
	if groups[0].Primary != "m1" || len(groups[0].Duplicates) != 2 {
		t.Fatalf("group = %+v", groups[0])
	}
}

func TestGroupDuplicatesDistinctContentSplits(t *testing.T) {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	docs := []internal.ClassifiedDocument{
		{EmailID: "m1", ThreadID: "t1", DocumentType: "booking_confirmation", ReceivedAt: base, BodyText: "Booking 26123456 is confirmed."},
		{EmailID: "m2", ThreadID: "t1", DocumentType: "booking_amendment", ReceivedAt: base.Add(time.Hour), BodyText: "Booking 26123456 amended: new ETD 2026-03-15."},
	}

	groups := GroupDuplicates(docs)
	if len(groups) != 2 {
		t.Fatalf("distinct content must not collapse: %+v", groups)
	}
}

func TestGroupDuplicatesIgnoresReplyDepth(t *testing.T) {
	// RE:/FW: depth never enters the grouping decision: a forwarded copy of
	// identical content still collapses.
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	docs := []internal.ClassifiedDocument{
		{EmailID: "m1", ThreadID: "t1", Subject: "Booking 26123456", ThreadPosition: 0, ReceivedAt: base, BodyText: "Booking 26123456 is confirmed."},
		{EmailID: "m2", ThreadID: "t1", Subject: "FW: RE: Booking 26123456", ThreadPosition: 2, ReceivedAt: base.Add(time.Hour), BodyText: "Booking 26123456 is confirmed."},
	}

	groups := GroupDuplicates(docs)
	if len(groups) != 1 || groups[0].Primary != "m1" {
		t.Fatalf("groups = %+v", groups)
	}
}

func TestGroupDuplicatesTimestampTieBreaksOnEmailID(t *testing.T) {
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	docs := []internal.ClassifiedDocument{
		{EmailID: "mB", ThreadID: "t1", ReceivedAt: at, BodyText: "same content"},
		{EmailID: "mA", ThreadID: "t1", ReceivedAt: at, BodyText: "same content"},
	}
	groups := GroupDuplicates(docs)
	if groups[0].Primary != "mA" {
		t.Fatalf("tie-break should be deterministic, got %+v", groups[0])
	}
}

func TestDedupeThreadPersistsAndIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	docs := []internal.ClassifiedDocument{
		{EmailID: "m1", ThreadID: "t1", DocumentType: "booking_confirmation", Direction: internal.DirectionInbound, ReceivedAt: base, BodyText: "Booking 26123456 is confirmed.", Status: internal.DocImported},
		{EmailID: "m2", ThreadID: "t1", DocumentType: "booking_confirmation", Direction: internal.DirectionInbound, ReceivedAt: base.Add(time.Hour), BodyText: "Booking 26123456 is confirmed.", Status: internal.DocImported},
	}
	for _, doc := range docs {
		if err := db.UpsertDocument(doc); err != nil {
			t.Fatal(err)
		}
	}

	dedup := NewDeduplicator(db)
	res, err := dedup.DedupeThread("t1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Groups != 1 || res.Collapsed != 1 {
		t.Fatalf("result = %+v", res)
	}

	primary, err := db.GetDocument("m1")
	if err != nil {
		t.Fatal(err)
	}
	if !primary.IsPrimary || primary.Status != internal.DocDeduped || primary.Fingerprint == "" {
		t.Fatalf("primary = %+v", primary)
	}

	dup, err := db.GetDocument("m2")
	if err != nil {
		t.Fatal(err)
	}
	if dup.IsPrimary || dup.PrimaryEmailID == nil || *dup.PrimaryEmailID != "m1" {
		t.Fatalf("duplicate = %+v", dup)
	}

	// Re-running reproduces the same assignment.
	again, err := dedup.DedupeThread("t1")
	if err != nil {
		t.Fatal(err)
	}
	if again.Groups != 1 || again.Collapsed != 1 {
		t.Fatalf("rerun = %+v", again)
	}
	dup, _ = db.GetDocument("m2")
	if dup.IsPrimary || *dup.PrimaryEmailID != "m1" {
		t.Fatalf("rerun flipped assignment: %+v", dup)
	}
}
