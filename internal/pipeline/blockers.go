package pipeline

import (
	"time"

	"shiplink/internal"
	"shiplink/internal/storage"
)

// Deadline rules: a declared cutoff, the state that must have occurred before
// it, and the blocker emitted when it has not.
var deadlineRules = []struct {
	blockerType   internal.BlockerType
	expectedState string
	cutoff        func(internal.Shipment) *time.Time
}{
	{internal.BlockerMissingSI, "si_submitted", func(s internal.Shipment) *time.Time { return s.SICutoff }},
	{internal.BlockerMissingVGM, "vgm_submitted", func(s internal.Shipment) *time.Time { return s.VGMCutoff }},
	{internal.BlockerMissingCargo, "gated_in", func(s internal.Shipment) *time.Time { return s.CargoCutoff }},
}

// SeverityForOverdue scales with how long the deadline has been missed:
// up to one day medium, up to three days high, beyond that critical.
func SeverityForOverdue(overdue time.Duration) internal.BlockerSeverity {
	switch {
	case overdue <= 24*time.Hour:
		return internal.SeverityMedium
	case overdue <= 72*time.Hour:
		return internal.SeverityHigh
	default:
		return internal.SeverityCritical
	}
}

type BlockerDeriver struct {
	db  *storage.DB
	now func() time.Time
}

func NewBlockerDeriver(db *storage.DB) *BlockerDeriver {
	return &BlockerDeriver{db: db, now: func() time.Time { return time.Now().UTC() }}
}

type BlockerResult struct {
	Opened  int
	Updated int
	Closed  int
}

// DeriveShipment compares the shipment's declared cutoffs against the states
// present in its timeline. Upserts are keyed by (shipment, type), so re-runs
// refresh severity instead of stacking duplicates, and a state that finally
// arrives resolves its blocker.
func (b *BlockerDeriver) DeriveShipment(shipment internal.Shipment, timeline Timeline) (BlockerResult, error) {
	result := BlockerResult{}
	now := b.now()

	delivered := timeline.Current != nil && timeline.Current.Rank >= DeliveredRank

	for _, rule := range deadlineRules {
		if timelineHasState(timeline, rule.expectedState) {
			closed, err := b.db.ResolveBlocker(shipment.ID, rule.blockerType, now)
			if err != nil {
				return result, err
			}
			if closed {
				result.Closed++
			}
			continue
		}
		if delivered {
			continue
		}

		cutoff := rule.cutoff(shipment)
		if cutoff == nil || !now.After(*cutoff) {
			continue
		}

		opened, err := b.db.UpsertBlocker(internal.Blocker{
			ShipmentID: shipment.ID,
			Type:       rule.blockerType,
			Severity:   SeverityForOverdue(now.Sub(*cutoff)),
			DetectedAt: now,
		})
		if err != nil {
			return result, err
		}
		if opened {
			result.Opened++
		} else {
			result.Updated++
		}
	}
	return result, nil
}

// timelineHasState checks accepted events and anomalies alike: a late SI is
// out of order, but the instruction did happen.
func timelineHasState(timeline Timeline, state string) bool {
	for _, event := range timeline.Accepted {
		if event.StateCode == state {
			return true
		}
	}
	for _, anomaly := range timeline.Anomalies {
		if anomaly.StateCode == state {
			return true
		}
	}
	return false
}
