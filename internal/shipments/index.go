package shipments

import (
	"shiplink/internal"
	"shiplink/internal/util"
)

// Index is the read-only identifier snapshot a resolver pass runs against.
// Every map is multi-valued: containers are reused across shipments over
// time, and booking/BL collisions are data errors the resolver must surface
// as ambiguity instead of picking a winner.
type Index struct {
	ShipmentsByID map[string]internal.Shipment
	ByBooking     map[string][]string
	ByMBL         map[string][]string
	ByHBL         map[string][]string
	ByContainer   map[string][]string
}

func BuildIndex(all []internal.Shipment) *Index {
	idx := &Index{
		ShipmentsByID: map[string]internal.Shipment{},
		ByBooking:     map[string][]string{},
		ByMBL:         map[string][]string{},
		ByHBL:         map[string][]string{},
		ByContainer:   map[string][]string{},
	}

	for _, s := range all {
		idx.ShipmentsByID[s.ID] = s

		add := func(m map[string][]string, value *string) {
			if value == nil {
				return
			}
			norm := util.NormalizeIdentifier(*value)
			if norm == "" {
				return
			}
			m[norm] = append(m[norm], s.ID)
		}

		add(idx.ByBooking, s.BookingNumber)
		add(idx.ByMBL, s.MBLNumber)
		add(idx.ByHBL, s.HBLNumber)
		for _, container := range s.Containers() {
			c := container
			add(idx.ByContainer, &c)
		}
	}

	return idx
}

// Lookup returns the shipment ids indexed under a normalized identifier
// value. Ids whose shipment is missing from the snapshot are dropped, so a
// stale entry heals to a no-match instead of a phantom link.
func (idx *Index) Lookup(kind internal.IdentifierKind, normalized string) []string {
	var ids []string
	switch kind {
	case internal.KindBooking:
		ids = idx.ByBooking[normalized]
	case internal.KindMBL:
		ids = idx.ByMBL[normalized]
	case internal.KindHBL:
		ids = idx.ByHBL[normalized]
	case internal.KindContainer:
		ids = idx.ByContainer[normalized]
	default:
		return nil
	}

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := idx.ShipmentsByID[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// LookupOwner resolves a normalized booking/MBL/HBL value to its owning
// shipments, used by the cross-link validator to spot contradictions.
func (idx *Index) LookupOwner(normalized string) (internal.IdentifierKind, []string) {
	if ids := idx.Lookup(internal.KindBooking, normalized); len(ids) > 0 {
		return internal.KindBooking, ids
	}
	if ids := idx.Lookup(internal.KindMBL, normalized); len(ids) > 0 {
		return internal.KindMBL, ids
	}
	if ids := idx.Lookup(internal.KindHBL, normalized); len(ids) > 0 {
		return internal.KindHBL, ids
	}
	return internal.KindUnrecognized, nil
}
