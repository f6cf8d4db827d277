package pipeline

import (
	"fmt"

	"shiplink/internal"
	"shiplink/internal/shipments"
	"shiplink/internal/storage"
	"shiplink/internal/util"
)

// Validator re-audits existing links against document content. It removes a
// link only on contradiction (the text names a different shipment's
// booking/MBL/HBL); absence of evidence merely flags, because container-only
// documents and generic reports legitimately carry no shipment-specific text.
type Validator struct {
	db  *storage.DB
	idx *shipments.Index
}

func NewValidator(db *storage.DB, idx *shipments.Index) *Validator {
	return &Validator{db: db, idx: idx}
}

type ValidateResult struct {
	Confirmed int
	Removed   int
	Flagged   int
	Errors    int
}

func (v *Validator) ValidateAll() (ValidateResult, error) {
	links, err := v.db.ListLinks()
	if err != nil {
		return ValidateResult{}, err
	}

	result := ValidateResult{}
	for _, link := range links {
		doc, err := v.db.GetDocument(link.EmailID)
		if err != nil || doc == nil {
			result.Errors++
			continue
		}

		verdict, evidence := v.verdict(*doc, link)
		switch verdict {
		case internal.VerdictConfirmed:
			result.Confirmed++
		case internal.VerdictContradicted:
			if err := v.db.DeleteLink(link.EmailID); err != nil {
				result.Errors++
				continue
			}
			if err := v.db.InsertLinkAudit(internal.LinkAudit{
				EmailID:    link.EmailID,
				ShipmentID: link.ShipmentID,
				Verdict:    verdict,
				Evidence:   evidence,
			}); err != nil {
				result.Errors++
				continue
			}
			result.Removed++
		case internal.VerdictInconclusive:
			if err := v.db.InsertLinkAudit(internal.LinkAudit{
				EmailID:    link.EmailID,
				ShipmentID: link.ShipmentID,
				Verdict:    verdict,
				Evidence:   evidence,
			}); err != nil {
				result.Errors++
				continue
			}
			result.Flagged++
		}
	}
	return result, nil
}

func (v *Validator) verdict(doc internal.ClassifiedDocument, link internal.ShipmentDocumentLink) (internal.AuditVerdict, string) {
	text := doc.Subject + "\n" + doc.BodyText + "\n" + doc.AttachmentText
	tokens := util.ExtractReferenceTokens(text)
	if len(tokens) == 0 {
		return internal.VerdictInconclusive, "no identifier-shaped tokens in document text"
	}

	own := v.ownIdentifiers(link.ShipmentID)
	foreign := ""
	containerMismatch := false

	for _, token := range tokens {
		if _, ok := own[token]; ok {
			return internal.VerdictConfirmed, fmt.Sprintf("document text contains linked shipment identifier %s", token)
		}

		kind, owners := v.idx.LookupOwner(token)
		if len(owners) > 0 && !containsString(owners, link.ShipmentID) {
			// Only a booking/MBL/HBL hit is a contradiction; LookupOwner
			// never matches containers.
			if foreign == "" {
				foreign = fmt.Sprintf("%s %s belongs to shipment %s", kind, token, owners[0])
			}
			continue
		}

		if util.LooksLikeContainer(token) {
			if ids := v.idx.Lookup(internal.KindContainer, token); len(ids) > 0 && !containsString(ids, link.ShipmentID) {
				containerMismatch = true
			}
		}
	}

	if foreign != "" {
		return internal.VerdictContradicted, foreign
	}
	if containerMismatch {
		return internal.VerdictInconclusive, "container in text indexed to a different shipment"
	}
	return internal.VerdictInconclusive, "no linked-shipment identifiers in document text"
}

func (v *Validator) ownIdentifiers(shipmentID string) map[string]struct{} {
	own := map[string]struct{}{}
	shipment, ok := v.idx.ShipmentsByID[shipmentID]
	if !ok {
		return own
	}
	add := func(value *string) {
		if value == nil {
			return
		}
		if norm := util.NormalizeIdentifier(*value); norm != "" {
			own[norm] = struct{}{}
		}
	}
	add(shipment.BookingNumber)
	add(shipment.MBLNumber)
	add(shipment.HBLNumber)
	for _, container := range shipment.Containers() {
		c := container
		add(&c)
	}
	return own
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
