package internal

import "time"

type IdentifierKind string

const (
	KindBooking      IdentifierKind = "booking"
	KindMBL          IdentifierKind = "mbl"
	KindHBL          IdentifierKind = "hbl"
	KindContainer    IdentifierKind = "container"
	KindUnrecognized IdentifierKind = "unrecognized"
)

// ParseIdentifierKind maps the classifier's loose identifier-type strings onto
// the closed set of kinds the resolver cascades over. Anything unknown stays
// Unrecognized so it can be counted without ever matching.
func ParseIdentifierKind(raw string) IdentifierKind {
	switch raw {
	case "booking", "booking_number", "booking_ref":
		return KindBooking
	case "mbl", "mbl_number", "bl_number", "master_bl":
		return KindMBL
	case "hbl", "hbl_number", "house_bl_number":
		return KindHBL
	case "container", "container_number", "container_no":
		return KindContainer
	default:
		return KindUnrecognized
	}
}

type IdentifierCandidate struct {
	Kind       IdentifierKind `json:"kind"`
	RawValue   string         `json:"rawValue"`
	Normalized string         `json:"normalized"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionUnknown  Direction = "unknown"
)

type ShipmentStatus string

const (
	ShipmentOpen   ShipmentStatus = "open"
	ShipmentClosed ShipmentStatus = "closed"
)

type Shipment struct {
	ID              string
	BookingNumber   *string
	MBLNumber       *string
	HBLNumber       *string
	ContainerNumber *string
	ExtraContainers []string
	Status          ShipmentStatus
	ClosedAt        *time.Time
	SICutoff        *time.Time
	VGMCutoff       *time.Time
	CargoCutoff     *time.Time
	WorkflowState   *string
	WorkflowPhase   *string
	RawJSON         string
}

// Containers returns the primary container followed by the secondary ones.
func (s Shipment) Containers() []string {
	out := make([]string, 0, 1+len(s.ExtraContainers))
	if s.ContainerNumber != nil && *s.ContainerNumber != "" {
		out = append(out, *s.ContainerNumber)
	}
	out = append(out, s.ExtraContainers...)
	return out
}

type DocumentStatus string

const (
	DocImported DocumentStatus = "imported"
	DocDeduped  DocumentStatus = "deduped"
	DocResolved DocumentStatus = "resolved"
)

type ClassifiedDocument struct {
	EmailID        string
	ThreadID       string
	DocumentType   string
	Direction      Direction
	Identifiers    []IdentifierCandidate
	ReceivedAt     time.Time
	Subject        string
	BodyText       string
	AttachmentText string
	Fingerprint    string
	ThreadPosition int
	IsPrimary      bool
	PrimaryEmailID *string
	Status         DocumentStatus
}

type MatchType string

const (
	MatchBooking   MatchType = "booking"
	MatchMBL       MatchType = "mbl"
	MatchHBL       MatchType = "hbl"
	MatchContainer MatchType = "container"
	MatchNone      MatchType = "none"
)

type LinkSource string

const (
	SourceRealtime  LinkSource = "realtime"
	SourceBackfill  LinkSource = "backfill"
	SourceMigration LinkSource = "migration"
)

type ShipmentDocumentLink struct {
	EmailID    string
	ShipmentID string
	MatchType  MatchType
	Confidence int
	Source     LinkSource
	IsPrimary  bool
	CreatedAt  time.Time
}

type ResolutionOutcome string

const (
	ResolutionLinked    ResolutionOutcome = "linked"
	ResolutionAmbiguous ResolutionOutcome = "ambiguous"
	ResolutionOrphan    ResolutionOutcome = "orphan"
)

type CandidateMatch struct {
	ShipmentID   string `json:"shipmentId"`
	MatchedKind  string `json:"matchedKind"`
	MatchedValue string `json:"matchedValue"`
}

type Resolution struct {
	Outcome    ResolutionOutcome
	MatchType  MatchType
	Confidence int
	ShipmentID *string
	Candidates []CandidateMatch
	Skipped    int // malformed/empty identifier values dropped before lookup
}

type LinkCandidate struct {
	EmailID    string
	Candidates []CandidateMatch
	Status     string // "open" until actioned externally
	CreatedAt  time.Time
}

type WorkflowEvent struct {
	EmailID    string
	ShipmentID string
	StateCode  string
	Phase      string
	Rank       int
	OccurredAt time.Time
}

type Anomaly struct {
	ShipmentID      string
	EmailID         string
	StateCode       string
	Rank            int
	ExpectedMinRank int
	Gap             int
	DetectedAt      time.Time
}

type BlockerType string

const (
	BlockerMissingSI    BlockerType = "missing_si"
	BlockerMissingVGM   BlockerType = "missing_vgm"
	BlockerMissingCargo BlockerType = "missing_cargo"
)

type BlockerSeverity string

const (
	SeverityMedium   BlockerSeverity = "medium"
	SeverityHigh     BlockerSeverity = "high"
	SeverityCritical BlockerSeverity = "critical"
)

type Blocker struct {
	ShipmentID string
	Type       BlockerType
	Severity   BlockerSeverity
	DetectedAt time.Time
	ResolvedAt *time.Time
}

type AuditVerdict string

const (
	VerdictConfirmed    AuditVerdict = "confirmed"
	VerdictContradicted AuditVerdict = "contradicted"
	VerdictInconclusive AuditVerdict = "inconclusive"
)

type LinkAudit struct {
	EmailID    string
	ShipmentID string
	Verdict    AuditVerdict
	Evidence   string
	CreatedAt  time.Time
}

// RunReport is the per-run operational summary persisted in the runs table
// and exported to XLSX on demand.
type RunReport struct {
	Linked          map[MatchType]int
	Ambiguous       int
	Orphans         int
	DupGroups       int
	DupCollapsed    int
	LinksConfirmed  int
	LinksRemoved    int
	LinksFlagged    int
	Anomalies       int
	BlockersOpened  int
	BlockersUpdated int
	BlockersClosed  int
	Unmapped        int
	SkippedValues   int
	Errors          int
}

func NewRunReport() *RunReport {
	return &RunReport{Linked: map[MatchType]int{}}
}

func (r *RunReport) Counts() map[string]int {
	out := map[string]int{
		"ambiguous":       r.Ambiguous,
		"orphans":         r.Orphans,
		"dupGroups":       r.DupGroups,
		"dupCollapsed":    r.DupCollapsed,
		"linksConfirmed":  r.LinksConfirmed,
		"linksRemoved":    r.LinksRemoved,
		"linksFlagged":    r.LinksFlagged,
		"anomalies":       r.Anomalies,
		"blockersOpened":  r.BlockersOpened,
		"blockersUpdated": r.BlockersUpdated,
		"blockersClosed":  r.BlockersClosed,
		"unmappedStates":  r.Unmapped,
		"skippedValues":   r.SkippedValues,
		"errors":          r.Errors,
	}
	for mt, n := range r.Linked {
		out["linked."+string(mt)] = n
	}
	return out
}

func StringPtr(v string) *string { return &v }

func TimePtr(v time.Time) *time.Time { return &v }
