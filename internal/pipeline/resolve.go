package pipeline

import (
	"strings"
	"time"

	"shiplink/internal"
	"shiplink/internal/config"
	"shiplink/internal/shipments"
)

// Resolver matches one classified document against the identifier index
// snapshot. The cascade runs strictly by identifier specificity; an ambiguity
// at a higher level is terminal and is never "rescued" by a lower-priority
// identifier type.
type Resolver struct {
	cfg config.Config
	idx *shipments.Index
	now func() time.Time
}

func NewResolver(cfg config.Config, idx *shipments.Index) *Resolver {
	return &Resolver{cfg: cfg, idx: idx, now: time.Now}
}

var cascade = []struct {
	kind      internal.IdentifierKind
	matchType internal.MatchType
	base      int
}{
	{internal.KindBooking, internal.MatchBooking, 95},
	{internal.KindMBL, internal.MatchMBL, 90},
	{internal.KindHBL, internal.MatchHBL, 85},
	{internal.KindContainer, internal.MatchContainer, 60},
}

func (r *Resolver) Resolve(doc internal.ClassifiedDocument) internal.Resolution {
	candidates, skipped := NormalizeIdentifiers(doc.Identifiers)

	for _, step := range cascade {
		matched := r.lookupKind(candidates, step.kind)
		if len(matched) == 0 {
			continue
		}

		distinct := distinctShipments(matched)
		if len(distinct) > 1 {
			return internal.Resolution{
				Outcome:    internal.ResolutionAmbiguous,
				MatchType:  step.matchType,
				Candidates: matched,
				Skipped:    skipped,
			}
		}

		shipmentID := distinct[0]
		confidence := step.base
		if step.kind == internal.KindContainer {
			confidence = r.containerConfidence(doc, shipmentID)
		} else if r.literalMatch(doc, shipmentID, step.kind) {
			confidence += 5
		}

		return internal.Resolution{
			Outcome:    internal.ResolutionLinked,
			MatchType:  step.matchType,
			Confidence: confidence,
			ShipmentID: &shipmentID,
			Candidates: matched,
			Skipped:    skipped,
		}
	}

	return internal.Resolution{
		Outcome:   internal.ResolutionOrphan,
		MatchType: internal.MatchNone,
		Skipped:   skipped,
	}
}

func (r *Resolver) lookupKind(candidates []internal.IdentifierCandidate, kind internal.IdentifierKind) []internal.CandidateMatch {
	var out []internal.CandidateMatch
	for _, cand := range candidates {
		if cand.Kind != kind {
			continue
		}
		for _, id := range r.idx.Lookup(kind, cand.Normalized) {
			out = append(out, internal.CandidateMatch{
				ShipmentID:   id,
				MatchedKind:  string(kind),
				MatchedValue: cand.Normalized,
			})
		}
	}
	return out
}

// containerConfidence stays in the 60-75 band: containers are reused, so even
// an exact value match is weak evidence. A still-open shipment pulls the
// score toward the ceiling, a long-closed one leaves it at the floor.
func (r *Resolver) containerConfidence(doc internal.ClassifiedDocument, shipmentID string) int {
	confidence := 60
	shipment, ok := r.idx.ShipmentsByID[shipmentID]
	if !ok {
		return confidence
	}

	switch {
	case shipment.Status == internal.ShipmentOpen:
		confidence += 12
	case shipment.ClosedAt != nil && r.now().Sub(*shipment.ClosedAt) <= time.Duration(r.cfg.ContainerRecentDays)*24*time.Hour:
		confidence += 6
	}

	if r.literalMatch(doc, shipmentID, internal.KindContainer) {
		confidence += 3
	}
	if confidence > 75 {
		confidence = 75
	}
	return confidence
}

// literalMatch reports whether the shipment's own identifier string appears
// verbatim in the document's subject or body.
func (r *Resolver) literalMatch(doc internal.ClassifiedDocument, shipmentID string, kind internal.IdentifierKind) bool {
	shipment, ok := r.idx.ShipmentsByID[shipmentID]
	if !ok {
		return false
	}

	var values []string
	switch kind {
	case internal.KindBooking:
		if shipment.BookingNumber != nil {
			values = append(values, *shipment.BookingNumber)
		}
	case internal.KindMBL:
		if shipment.MBLNumber != nil {
			values = append(values, *shipment.MBLNumber)
		}
	case internal.KindHBL:
		if shipment.HBLNumber != nil {
			values = append(values, *shipment.HBLNumber)
		}
	case internal.KindContainer:
		values = shipment.Containers()
	}

	text := doc.Subject + "\n" + doc.BodyText
	for _, v := range values {
		if v != "" && strings.Contains(text, v) {
			return true
		}
	}
	return false
}

func distinctShipments(matches []internal.CandidateMatch) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, m := range matches {
		if _, ok := seen[m.ShipmentID]; ok {
			continue
		}
		seen[m.ShipmentID] = struct{}{}
		out = append(out, m.ShipmentID)
	}
	return out
}
