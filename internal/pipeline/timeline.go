package pipeline

import (
	"sort"
	"time"

	"shiplink/internal"
	"shiplink/internal/storage"
)

// Timeline is the walked event history of one shipment. Current carries the
// monotonic state (highest rank accepted so far); Anomalies preserve the
// out-of-order events without letting them regress the state.
type Timeline struct {
	Accepted  []internal.WorkflowEvent
	Anomalies []internal.Anomaly
	Current   *internal.WorkflowEvent
	Unmapped  int
}

// WalkEvents sorts by occurrence time and replays the sequence tracking the
// highest rank seen. Equal timestamps prefer the higher rank, so batch
// imports with identical received times stay deterministic. No event is ever
// rejected: late or amended paperwork lands as an anomaly instead.
func WalkEvents(events []internal.WorkflowEvent, detectedAt time.Time) Timeline {
	sorted := make([]internal.WorkflowEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].OccurredAt.Equal(sorted[j].OccurredAt) {
			return sorted[i].OccurredAt.Before(sorted[j].OccurredAt)
		}
		if sorted[i].Rank != sorted[j].Rank {
			return sorted[i].Rank > sorted[j].Rank
		}
		return sorted[i].EmailID < sorted[j].EmailID
	})

	timeline := Timeline{}
	maxRankSeen := -1
	for _, event := range sorted {
		if event.Rank < maxRankSeen {
			timeline.Anomalies = append(timeline.Anomalies, internal.Anomaly{
				ShipmentID:      event.ShipmentID,
				EmailID:         event.EmailID,
				StateCode:       event.StateCode,
				Rank:            event.Rank,
				ExpectedMinRank: maxRankSeen,
				Gap:             maxRankSeen - event.Rank,
				DetectedAt:      detectedAt,
			})
			continue
		}
		maxRankSeen = event.Rank
		accepted := event
		timeline.Accepted = append(timeline.Accepted, accepted)
		timeline.Current = &timeline.Accepted[len(timeline.Accepted)-1]
	}
	return timeline
}

type TimelineBuilder struct {
	db    *storage.DB
	table *StateTable
}

func NewTimelineBuilder(db *storage.DB, table *StateTable) *TimelineBuilder {
	return &TimelineBuilder{db: db, table: table}
}

// RebuildShipment derives the timeline from the shipment's primary linked
// documents, persists any anomalies, and advances the stored workflow state.
// Events themselves are derived on every pass, not stored.
func (b *TimelineBuilder) RebuildShipment(shipmentID string) (Timeline, error) {
	docs, err := b.db.ListPrimaryDocumentsForShipment(shipmentID)
	if err != nil {
		return Timeline{}, err
	}

	events := make([]internal.WorkflowEvent, 0, len(docs))
	unmapped := 0
	for _, doc := range docs {
		event, ok := b.table.Event(doc, shipmentID)
		if !ok {
			unmapped++
			continue
		}
		events = append(events, event)
	}

	timeline := WalkEvents(events, time.Now().UTC())
	timeline.Unmapped = unmapped

	for _, anomaly := range timeline.Anomalies {
		if err := b.db.UpsertAnomaly(anomaly); err != nil {
			return timeline, err
		}
	}
	if timeline.Current != nil {
		if err := b.db.UpdateShipmentWorkflow(shipmentID, timeline.Current.StateCode, timeline.Current.Phase); err != nil {
			return timeline, err
		}
	}
	return timeline, nil
}
