package pipeline

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"shiplink/internal"
)

//go:embed statetable.yaml
var defaultStateTable []byte

var phaseOrder = map[string]int{
	"pre_departure": 1,
	"in_transit":    2,
	"pre_arrival":   3,
	"arrival":       4,
	"delivery":      5,
}

// DeliveredRank is the ordinal at which a shipment counts as delivered and
// stops being eligible for blockers.
const DeliveredRank = 400

type StateMapping struct {
	State string `yaml:"state"`
	Phase string `yaml:"phase"`
	Rank  int    `yaml:"rank"`
}

type stateEntry struct {
	Type      string `yaml:"type"`
	Direction string `yaml:"direction"`
	StateMapping `yaml:",inline"`
}

type stateTableFile struct {
	Version int          `yaml:"version"`
	States  []stateEntry `yaml:"states"`
}

// StateTable is the versioned (document type, direction) -> state lookup
// injected into the timeline builder. Pairs the table does not know produce
// an explicit miss, never a default state.
type StateTable struct {
	Version int
	entries map[stateKey]StateMapping
}

type stateKey struct {
	docType   string
	direction internal.Direction
}

// LoadStateTable reads the table from path, or the embedded default when
// path is empty.
func LoadStateTable(path string) (*StateTable, error) {
	blob := defaultStateTable
	if path != "" {
		var err error
		blob, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}

	var file stateTableFile
	if err := yaml.Unmarshal(blob, &file); err != nil {
		return nil, err
	}
	if file.Version < 1 {
		return nil, fmt.Errorf("state table: missing version")
	}

	table := &StateTable{Version: file.Version, entries: map[stateKey]StateMapping{}}
	for _, entry := range file.States {
		if _, ok := phaseOrder[entry.Phase]; !ok {
			return nil, fmt.Errorf("state table: unknown phase %q for %s/%s", entry.Phase, entry.Type, entry.Direction)
		}
		dir := internal.Direction(entry.Direction)
		if dir != internal.DirectionInbound && dir != internal.DirectionOutbound {
			return nil, fmt.Errorf("state table: invalid direction %q for %s", entry.Direction, entry.Type)
		}
		key := stateKey{docType: entry.Type, direction: dir}
		if _, dup := table.entries[key]; dup {
			return nil, fmt.Errorf("state table: duplicate entry %s/%s", entry.Type, entry.Direction)
		}
		table.entries[key] = entry.StateMapping
	}
	return table, nil
}

// Map resolves a (document type, direction) pair. ok=false means unmapped:
// the caller counts it for table maintenance and moves on.
func (t *StateTable) Map(docType string, direction internal.Direction) (StateMapping, bool) {
	mapping, ok := t.entries[stateKey{docType: docType, direction: direction}]
	return mapping, ok
}

// Event derives the workflow event for a linked, primary document, or ok=false
// when the pair is unmapped.
func (t *StateTable) Event(doc internal.ClassifiedDocument, shipmentID string) (internal.WorkflowEvent, bool) {
	mapping, ok := t.Map(doc.DocumentType, doc.Direction)
	if !ok {
		return internal.WorkflowEvent{}, false
	}
	return internal.WorkflowEvent{
		EmailID:    doc.EmailID,
		ShipmentID: shipmentID,
		StateCode:  mapping.State,
		Phase:      mapping.Phase,
		Rank:       mapping.Rank,
		OccurredAt: doc.ReceivedAt,
	}, true
}
