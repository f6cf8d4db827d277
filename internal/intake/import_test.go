package intake

import (
	"os"
	"path/filepath"
	"testing"

	"shiplink/internal"
	"shiplink/internal/storage"
)

func newTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestImportFileCountsBadLines(t *testing.T) {
	jsonl := `{"emailId":"m1","threadId":"t1","documentType":"booking_confirmation","direction":"inbound","identifiers":[{"type":"booking_number","value":"26-123456"}],"receivedAt":"2026-03-01T08:00:00Z","subject":"RE: Booking","bodyText":"Booking 26123456 is confirmed."}
not json at all
{"emailId":"","receivedAt":"2026-03-01T08:00:00Z"}
{"emailId":"m2","documentType":"arrival_notice","direction":"INBOUND","identifiers":[],"receivedAt":"not-a-time"}
{"emailId":"m3","documentType":"gate_in","direction":"weird","identifiers":[{"type":"container_no","value":"MAEU1234567"}],"receivedAt":"2026-03-02T08:00:00Z","bodyText":"gated in"}
`
	path := writeFile(t, "docs.jsonl", jsonl)
	db := newTestDB(t)

	res, err := NewImporter(db).ImportFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Imported != 2 || res.Failed != 3 {
		t.Fatalf("result = %+v", res)
	}

	doc, err := db.GetDocument("m1")
	if err != nil {
		t.Fatal(err)
	}
	if doc == nil {
		t.Fatal("m1 not imported")
	}
	if doc.Direction != internal.DirectionInbound || doc.Status != internal.DocImported {
		t.Fatalf("doc = %+v", doc)
	}
	if len(doc.Identifiers) != 1 || doc.Identifiers[0].Kind != internal.KindBooking || doc.Identifiers[0].RawValue != "26-123456" {
		t.Fatalf("identifiers = %+v", doc.Identifiers)
	}
	if doc.Fingerprint == "" {
		t.Fatal("fingerprint must be computed at import")
	}
	if doc.ThreadPosition != 1 {
		t.Fatalf("threadPosition = %d for a RE: subject", doc.ThreadPosition)
	}

	// Unknown direction strings degrade to unknown, never fail the line.
	weird, err := db.GetDocument("m3")
	if err != nil || weird == nil {
		t.Fatalf("m3: doc=%+v err=%v", weird, err)
	}
	if weird.Direction != internal.DirectionUnknown {
		t.Fatalf("direction = %s", weird.Direction)
	}
	if weird.ThreadID != "m3" {
		t.Fatalf("missing threadId should fall back to emailId, got %q", weird.ThreadID)
	}
	if weird.Identifiers[0].Kind != internal.KindContainer {
		t.Fatalf("identifiers = %+v", weird.Identifiers)
	}
}

func TestImportFileRecoversBodyFromEML(t *testing.T) {
	eml := "Subject: Booking 26123456 confirmed\r\n" +
		"From: ops@carrier.example\r\n" +
		"To: docs@forwarder.example\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Booking 26123456 is confirmed.\r\n"
	emlPath := writeFile(t, "m1.eml", eml)

	jsonl := `{"emailId":"m1","threadId":"t1","documentType":"booking_confirmation","direction":"inbound","identifiers":[{"type":"booking","value":"26123456"}],"receivedAt":"2026-03-01T08:00:00Z","rawRef":"` + emlPath + `"}` + "\n"
	path := writeFile(t, "docs.jsonl", jsonl)
	db := newTestDB(t)

	res, err := NewImporter(db).ImportFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Imported != 1 {
		t.Fatalf("result = %+v", res)
	}

	doc, err := db.GetDocument("m1")
	if err != nil || doc == nil {
		t.Fatalf("doc=%+v err=%v", doc, err)
	}
	if doc.Subject != "Booking 26123456 confirmed" {
		t.Fatalf("subject = %q", doc.Subject)
	}
	if doc.BodyText == "" {
		t.Fatal("body should be recovered from the eml")
	}
}

func TestImportFileMissingFile(t *testing.T) {
	db := newTestDB(t)
	if _, err := NewImporter(db).ImportFile(filepath.Join(t.TempDir(), "nope.jsonl")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
