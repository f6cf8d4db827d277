package pipeline

import (
	"testing"
	"time"

	"shiplink/internal"
)

func TestNormalizeBodyDropsBoilerplate(t *testing.T) {
	body := "Booking 26123456 is confirmed.\n\nBest regards,\nTel: +49 40 1234\nThis e-mail is confidential and intended solely for the addressee."
	got := NormalizeBody(body)
	if got != "booking 26123456 is confirmed." {
		t.Fatalf("normalized body = %q", got)
	}
}

func TestNormalizeBodyDropsQuotedReplies(t *testing.T) {
	body := "Please resend the draft.\n\nOn Mon, Jan 5, someone wrote:\n> Booking 26123456 is confirmed.\n> See attached."
	got := NormalizeBody(body)
	if got != "please resend the draft." {
		t.Fatalf("normalized body = %q", got)
	}
}

func TestFingerprintHTMLAndPlainAgree(t *testing.T) {
	// The same confirmation sent as text/plain and as text/html must land in
	// one dedup group.
	plain := internal.ClassifiedDocument{
		DocumentType: "booking_confirmation",
		BodyText:     "Booking 26123456 is confirmed.\nVessel: MSC ANNA",
	}
	html := internal.ClassifiedDocument{
		DocumentType: "booking_confirmation",
		BodyText:     "<html><body><p>Booking 26123456 is confirmed.</p><p>Vessel: MSC ANNA</p></body></html>",
	}
	if Fingerprint(plain) != Fingerprint(html) {
		t.Fatalf("plain %q vs html %q:\n%q\n%q",
			Fingerprint(plain), Fingerprint(html),
			NormalizeBody(plain.BodyText), NormalizeBody(html.BodyText))
	}
}

func TestFingerprintEmptyBodyFallsBackToSubject(t *testing.T) {
	a := internal.ClassifiedDocument{
		DocumentType: "arrival_notice",
		Subject:      "Arrival Notice  MAEU1234567",
		ReceivedAt:   time.Now(),
	}
	b := internal.ClassifiedDocument{
		DocumentType: "arrival_notice",
		Subject:      "arrival notice maeu1234567",
	}
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatal("subject fallback should be case and whitespace insensitive")
	}

	c := internal.ClassifiedDocument{
		DocumentType: "delivery_order",
		Subject:      "Arrival Notice  MAEU1234567",
	}
	if Fingerprint(a) == Fingerprint(c) {
		t.Fatal("different document types must not collide on the same subject")
	}
}

func TestNormalizeIdentifiersCountsMalformed(t *testing.T) {
	out, skipped := NormalizeIdentifiers([]internal.IdentifierCandidate{
		{Kind: internal.KindBooking, RawValue: "26-12 34 56"},
		{Kind: internal.KindMBL, RawValue: "///"},
		{Kind: internal.KindContainer, RawValue: ""},
	})
	if skipped != 2 {
		t.Fatalf("skipped = %d, want 2", skipped)
	}
	if len(out) != 1 || out[0].Normalized != "26123456" {
		t.Fatalf("kept = %+v", out)
	}
}
