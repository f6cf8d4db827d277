package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"shiplink/internal"
)

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS shipments (
  id TEXT PRIMARY KEY,
  bookingNumber TEXT,
  mblNumber TEXT,
  hblNumber TEXT,
  containerNumber TEXT,
  extraContainers TEXT,
  status TEXT NOT NULL DEFAULT 'open',
  closedAt TEXT,
  siCutoff TEXT,
  vgmCutoff TEXT,
  cargoCutoff TEXT,
  workflowState TEXT,
  workflowPhase TEXT,
  raw_json TEXT NOT NULL,
  lastSeenAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_shipments_booking ON shipments(bookingNumber);
CREATE INDEX IF NOT EXISTS idx_shipments_mbl ON shipments(mblNumber);
CREATE INDEX IF NOT EXISTS idx_shipments_hbl ON shipments(hblNumber);

CREATE TABLE IF NOT EXISTS documents (
  emailId TEXT PRIMARY KEY,
  threadId TEXT NOT NULL,
  documentType TEXT NOT NULL,
  direction TEXT NOT NULL DEFAULT 'unknown',
  identifiersJson TEXT NOT NULL,
  receivedAt TEXT NOT NULL,
  subject TEXT,
  bodyText TEXT,
  attachmentText TEXT,
  fingerprint TEXT,
  threadPosition INTEGER NOT NULL DEFAULT 0,
  isPrimary INTEGER NOT NULL DEFAULT 1,
  primaryEmailId TEXT,
  status TEXT NOT NULL DEFAULT 'imported',
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_documents_thread ON documents(threadId);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);

CREATE TABLE IF NOT EXISTS links (
  emailId TEXT PRIMARY KEY,
  shipmentId TEXT NOT NULL,
  matchType TEXT NOT NULL,
  confidence INTEGER NOT NULL,
  source TEXT NOT NULL,
  isPrimary INTEGER NOT NULL DEFAULT 1,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(shipmentId) REFERENCES shipments(id)
);
CREATE INDEX IF NOT EXISTS idx_links_shipment ON links(shipmentId);

CREATE TABLE IF NOT EXISTS link_candidates (
  emailId TEXT PRIMARY KEY,
  candidatesJson TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'open',
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS link_audit (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  emailId TEXT NOT NULL,
  shipmentId TEXT NOT NULL,
  verdict TEXT NOT NULL,
  evidence TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS anomalies (
  shipmentId TEXT NOT NULL,
  emailId TEXT NOT NULL,
  stateCode TEXT NOT NULL,
  rank INTEGER NOT NULL,
  expectedMinRank INTEGER NOT NULL,
  gap INTEGER NOT NULL,
  detectedAt TEXT NOT NULL,
  PRIMARY KEY (shipmentId, emailId, stateCode)
);

CREATE TABLE IF NOT EXISTS blockers (
  shipmentId TEXT NOT NULL,
  type TEXT NOT NULL,
  severity TEXT NOT NULL,
  detectedAt TEXT NOT NULL,
  resolvedAt TEXT,
  PRIMARY KEY (shipmentId, type)
);

CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  source TEXT NOT NULL,
  countsJson TEXT NOT NULL,
  timingsJson TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := d.conn.Exec(schema)
	return err
}

func (d *DB) UpsertShipments(shipments []internal.Shipment) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
INSERT INTO shipments (
  id, bookingNumber, mblNumber, hblNumber, containerNumber, extraContainers,
  status, closedAt, siCutoff, vgmCutoff, cargoCutoff, raw_json, lastSeenAt
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(id) DO UPDATE SET
  bookingNumber=excluded.bookingNumber,
  mblNumber=excluded.mblNumber,
  hblNumber=excluded.hblNumber,
  containerNumber=excluded.containerNumber,
  extraContainers=excluded.extraContainers,
  status=excluded.status,
  closedAt=excluded.closedAt,
  siCutoff=excluded.siCutoff,
  vgmCutoff=excluded.vgmCutoff,
  cargoCutoff=excluded.cargoCutoff,
  raw_json=excluded.raw_json,
  lastSeenAt=CURRENT_TIMESTAMP
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range shipments {
		extraJSON, _ := json.Marshal(s.ExtraContainers)
		if _, err := stmt.Exec(
			s.ID, s.BookingNumber, s.MBLNumber, s.HBLNumber, s.ContainerNumber, string(extraJSON),
			string(s.Status), timeText(s.ClosedAt), timeText(s.SICutoff), timeText(s.VGMCutoff), timeText(s.CargoCutoff), s.RawJSON,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

const shipmentColumns = `
id, bookingNumber, mblNumber, hblNumber, containerNumber, extraContainers,
status, closedAt, siCutoff, vgmCutoff, cargoCutoff, workflowState, workflowPhase, raw_json`

func (d *DB) ListShipments() ([]internal.Shipment, error) {
	rows, err := d.conn.Query(`SELECT ` + shipmentColumns + ` FROM shipments`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.Shipment
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (d *DB) GetShipment(id string) (*internal.Shipment, error) {
	row := d.conn.QueryRow(`SELECT `+shipmentColumns+` FROM shipments WHERE id = ?`, id)
	s, err := scanShipment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShipment(row rowScanner) (internal.Shipment, error) {
	var s internal.Shipment
	var extraJSON string
	var closedAt, siCutoff, vgmCutoff, cargoCutoff *string
	var status string
	if err := row.Scan(
		&s.ID, &s.BookingNumber, &s.MBLNumber, &s.HBLNumber, &s.ContainerNumber, &extraJSON,
		&status, &closedAt, &siCutoff, &vgmCutoff, &cargoCutoff, &s.WorkflowState, &s.WorkflowPhase, &s.RawJSON,
	); err != nil {
		return internal.Shipment{}, err
	}
	s.Status = internal.ShipmentStatus(status)
	_ = json.Unmarshal([]byte(extraJSON), &s.ExtraContainers)
	s.ClosedAt = parseTimeText(closedAt)
	s.SICutoff = parseTimeText(siCutoff)
	s.VGMCutoff = parseTimeText(vgmCutoff)
	s.CargoCutoff = parseTimeText(cargoCutoff)
	return s, nil
}

func (d *DB) UpdateShipmentWorkflow(id, state, phase string) error {
	_, err := d.conn.Exec(`UPDATE shipments SET workflowState = ?, workflowPhase = ? WHERE id = ?`, state, phase, id)
	return err
}

func (d *DB) UpsertDocument(doc internal.ClassifiedDocument) error {
	identifiersJSON, _ := json.Marshal(doc.Identifiers)
	_, err := d.conn.Exec(`
INSERT INTO documents (
  emailId, threadId, documentType, direction, identifiersJson, receivedAt,
  subject, bodyText, attachmentText, fingerprint, threadPosition, isPrimary, primaryEmailId, status
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(emailId) DO UPDATE SET
  threadId=excluded.threadId,
  documentType=excluded.documentType,
  direction=excluded.direction,
  identifiersJson=excluded.identifiersJson,
  receivedAt=excluded.receivedAt,
  subject=excluded.subject,
  bodyText=excluded.bodyText,
  attachmentText=excluded.attachmentText,
  fingerprint=excluded.fingerprint,
  threadPosition=excluded.threadPosition,
  updatedAt=CURRENT_TIMESTAMP
`,
		doc.EmailID, doc.ThreadID, doc.DocumentType, string(doc.Direction), string(identifiersJSON),
		doc.ReceivedAt.UTC().Format(time.RFC3339), doc.Subject, doc.BodyText, doc.AttachmentText,
		doc.Fingerprint, doc.ThreadPosition, boolInt(doc.IsPrimary), doc.PrimaryEmailID, string(doc.Status),
	)
	return err
}

const documentColumns = `
emailId, threadId, documentType, direction, identifiersJson, receivedAt,
subject, bodyText, attachmentText, fingerprint, threadPosition, isPrimary, primaryEmailId, status`

func (d *DB) GetDocument(emailID string) (*internal.ClassifiedDocument, error) {
	row := d.conn.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE emailId = ?`, emailID)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func scanDocument(row rowScanner) (internal.ClassifiedDocument, error) {
	var doc internal.ClassifiedDocument
	var identifiersJSON, receivedAt, direction, status string
	var isPrimary int
	if err := row.Scan(
		&doc.EmailID, &doc.ThreadID, &doc.DocumentType, &direction, &identifiersJSON, &receivedAt,
		&doc.Subject, &doc.BodyText, &doc.AttachmentText, &doc.Fingerprint, &doc.ThreadPosition,
		&isPrimary, &doc.PrimaryEmailID, &status,
	); err != nil {
		return internal.ClassifiedDocument{}, err
	}
	doc.Direction = internal.Direction(direction)
	doc.Status = internal.DocumentStatus(status)
	doc.IsPrimary = isPrimary != 0
	_ = json.Unmarshal([]byte(identifiersJSON), &doc.Identifiers)
	if parsed, err := time.Parse(time.RFC3339, receivedAt); err == nil {
		doc.ReceivedAt = parsed
	}
	return doc, nil
}

func (d *DB) listDocuments(query string, args ...any) ([]internal.ClassifiedDocument, error) {
	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.ClassifiedDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (d *DB) ListDocumentsByStatus(status internal.DocumentStatus, limit int) ([]internal.ClassifiedDocument, error) {
	return d.listDocuments(`SELECT `+documentColumns+` FROM documents WHERE status = ? ORDER BY receivedAt ASC LIMIT ?`, string(status), limit)
}

func (d *DB) ListDocumentsByThread(threadID string) ([]internal.ClassifiedDocument, error) {
	return d.listDocuments(`SELECT `+documentColumns+` FROM documents WHERE threadId = ? ORDER BY receivedAt ASC, emailId ASC`, threadID)
}

func (d *DB) ListThreadIDs(status internal.DocumentStatus) ([]string, error) {
	rows, err := d.conn.Query(`SELECT DISTINCT threadId FROM documents WHERE status = ?`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (d *DB) UpdateDocumentDedup(emailID string, isPrimary bool, primaryEmailID *string, status internal.DocumentStatus) error {
	_, err := d.conn.Exec(`
UPDATE documents SET isPrimary = ?, primaryEmailId = ?, status = ?, updatedAt = CURRENT_TIMESTAMP
WHERE emailId = ?`, boolInt(isPrimary), primaryEmailID, string(status), emailID)
	return err
}

func (d *DB) UpdateDocumentStatus(emailID string, status internal.DocumentStatus) error {
	_, err := d.conn.Exec(`UPDATE documents SET status = ?, updatedAt = CURRENT_TIMESTAMP WHERE emailId = ?`, string(status), emailID)
	return err
}

// UpsertLink keeps one active link per document: the emailId primary key
// makes re-linking an idempotent overwrite, never a second row.
func (d *DB) UpsertLink(link internal.ShipmentDocumentLink) error {
	_, err := d.conn.Exec(`
INSERT INTO links (emailId, shipmentId, matchType, confidence, source, isPrimary)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(emailId) DO UPDATE SET
  shipmentId=excluded.shipmentId,
  matchType=excluded.matchType,
  confidence=excluded.confidence,
  source=excluded.source,
  isPrimary=excluded.isPrimary
`, link.EmailID, link.ShipmentID, string(link.MatchType), link.Confidence, string(link.Source), boolInt(link.IsPrimary))
	return err
}

func (d *DB) GetLink(emailID string) (*internal.ShipmentDocumentLink, error) {
	var link internal.ShipmentDocumentLink
	var matchType, source, createdAt string
	var isPrimary int
	err := d.conn.QueryRow(`
SELECT emailId, shipmentId, matchType, confidence, source, isPrimary, createdAt
FROM links WHERE emailId = ?`, emailID).Scan(
		&link.EmailID, &link.ShipmentID, &matchType, &link.Confidence, &source, &isPrimary, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	link.MatchType = internal.MatchType(matchType)
	link.Source = internal.LinkSource(source)
	link.IsPrimary = isPrimary != 0
	if parsed, err := time.Parse("2006-01-02 15:04:05", createdAt); err == nil {
		link.CreatedAt = parsed
	}
	return &link, nil
}

func (d *DB) DeleteLink(emailID string) error {
	_, err := d.conn.Exec(`DELETE FROM links WHERE emailId = ?`, emailID)
	return err
}

func (d *DB) ListLinks() ([]internal.ShipmentDocumentLink, error) {
	rows, err := d.conn.Query(`SELECT emailId, shipmentId, matchType, confidence, source, isPrimary FROM links`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.ShipmentDocumentLink
	for rows.Next() {
		var link internal.ShipmentDocumentLink
		var matchType, source string
		var isPrimary int
		if err := rows.Scan(&link.EmailID, &link.ShipmentID, &matchType, &link.Confidence, &source, &isPrimary); err != nil {
			return nil, err
		}
		link.MatchType = internal.MatchType(matchType)
		link.Source = internal.LinkSource(source)
		link.IsPrimary = isPrimary != 0
		out = append(out, link)
	}
	return out, rows.Err()
}

// ListLinkedShipmentIDs returns every shipment that has at least one active
// link, i.e. the unit set for timeline/blocker fan-out.
func (d *DB) ListLinkedShipmentIDs() ([]string, error) {
	rows, err := d.conn.Query(`SELECT DISTINCT shipmentId FROM links`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListOpenShipmentIDs returns every shipment still marked open, linked or
// not. Blocker derivation covers these even when no document ever matched.
func (d *DB) ListOpenShipmentIDs() ([]string, error) {
	rows, err := d.conn.Query(`SELECT id FROM shipments WHERE status = 'open'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListPrimaryDocumentsForShipment returns the linked, non-duplicate documents
// that feed a shipment's timeline.
func (d *DB) ListPrimaryDocumentsForShipment(shipmentID string) ([]internal.ClassifiedDocument, error) {
	return d.listDocuments(`
SELECT d.emailId, d.threadId, d.documentType, d.direction, d.identifiersJson, d.receivedAt,
       d.subject, d.bodyText, d.attachmentText, d.fingerprint, d.threadPosition, d.isPrimary, d.primaryEmailId, d.status
FROM documents d
JOIN links l ON l.emailId = d.emailId
WHERE l.shipmentId = ? AND d.isPrimary = 1
ORDER BY d.receivedAt ASC, d.emailId ASC`, shipmentID)
}

func (d *DB) UpsertLinkCandidate(cand internal.LinkCandidate) error {
	candidatesJSON, _ := json.Marshal(cand.Candidates)
	_, err := d.conn.Exec(`
INSERT INTO link_candidates (emailId, candidatesJson, status)
VALUES (?, ?, ?)
ON CONFLICT(emailId) DO UPDATE SET
  candidatesJson=excluded.candidatesJson,
  updatedAt=CURRENT_TIMESTAMP
`, cand.EmailID, string(candidatesJSON), cand.Status)
	return err
}

func (d *DB) GetLinkCandidate(emailID string) (*internal.LinkCandidate, error) {
	var cand internal.LinkCandidate
	var candidatesJSON, createdAt string
	err := d.conn.QueryRow(`
SELECT emailId, candidatesJson, status, createdAt FROM link_candidates WHERE emailId = ?`, emailID).Scan(
		&cand.EmailID, &candidatesJSON, &cand.Status, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(candidatesJSON), &cand.Candidates)
	return &cand, nil
}

func (d *DB) UpsertAnomaly(a internal.Anomaly) error {
	_, err := d.conn.Exec(`
INSERT INTO anomalies (shipmentId, emailId, stateCode, rank, expectedMinRank, gap, detectedAt)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(shipmentId, emailId, stateCode) DO UPDATE SET
  rank=excluded.rank,
  expectedMinRank=excluded.expectedMinRank,
  gap=excluded.gap
`, a.ShipmentID, a.EmailID, a.StateCode, a.Rank, a.ExpectedMinRank, a.Gap, a.DetectedAt.UTC().Format(time.RFC3339))
	return err
}

func (d *DB) ListAnomaliesByShipment(shipmentID string) ([]internal.Anomaly, error) {
	rows, err := d.conn.Query(`
SELECT shipmentId, emailId, stateCode, rank, expectedMinRank, gap, detectedAt
FROM anomalies WHERE shipmentId = ? ORDER BY detectedAt ASC`, shipmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.Anomaly
	for rows.Next() {
		var a internal.Anomaly
		var detectedAt string
		if err := rows.Scan(&a.ShipmentID, &a.EmailID, &a.StateCode, &a.Rank, &a.ExpectedMinRank, &a.Gap, &detectedAt); err != nil {
			return nil, err
		}
		if parsed, err := time.Parse(time.RFC3339, detectedAt); err == nil {
			a.DetectedAt = parsed
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertBlocker reports whether the blocker was newly opened (as opposed to
// refreshed). Re-running the deriver updates severity in place; a previously
// resolved blocker re-opens with a fresh detection time if the deadline is
// missed again, while a still-open one keeps its original detectedAt.
func (d *DB) UpsertBlocker(b internal.Blocker) (bool, error) {
	var existing string
	err := d.conn.QueryRow(`SELECT severity FROM blockers WHERE shipmentId = ? AND type = ? AND resolvedAt IS NULL`,
		b.ShipmentID, string(b.Type)).Scan(&existing)
	opened := errors.Is(err, sql.ErrNoRows)
	if err != nil && !opened {
		return false, err
	}

	_, err = d.conn.Exec(`
INSERT INTO blockers (shipmentId, type, severity, detectedAt, resolvedAt)
VALUES (?, ?, ?, ?, NULL)
ON CONFLICT(shipmentId, type) DO UPDATE SET
  severity=excluded.severity,
  detectedAt=CASE WHEN blockers.resolvedAt IS NULL THEN blockers.detectedAt ELSE excluded.detectedAt END,
  resolvedAt=NULL
`, b.ShipmentID, string(b.Type), string(b.Severity), b.DetectedAt.UTC().Format(time.RFC3339))
	return opened, err
}

// ResolveBlocker reports whether an open blocker was actually closed.
func (d *DB) ResolveBlocker(shipmentID string, blockerType internal.BlockerType, at time.Time) (bool, error) {
	res, err := d.conn.Exec(`
UPDATE blockers SET resolvedAt = ? WHERE shipmentId = ? AND type = ? AND resolvedAt IS NULL`,
		at.UTC().Format(time.RFC3339), shipmentID, string(blockerType))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (d *DB) ListBlockersByShipment(shipmentID string) ([]internal.Blocker, error) {
	rows, err := d.conn.Query(`
SELECT shipmentId, type, severity, detectedAt, resolvedAt FROM blockers WHERE shipmentId = ?`, shipmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.Blocker
	for rows.Next() {
		var b internal.Blocker
		var blockerType, severity, detectedAt string
		var resolvedAt *string
		if err := rows.Scan(&b.ShipmentID, &blockerType, &severity, &detectedAt, &resolvedAt); err != nil {
			return nil, err
		}
		b.Type = internal.BlockerType(blockerType)
		b.Severity = internal.BlockerSeverity(severity)
		if parsed, err := time.Parse(time.RFC3339, detectedAt); err == nil {
			b.DetectedAt = parsed
		}
		b.ResolvedAt = parseTimeText(resolvedAt)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (d *DB) InsertLinkAudit(audit internal.LinkAudit) error {
	_, err := d.conn.Exec(`
INSERT INTO link_audit (emailId, shipmentId, verdict, evidence) VALUES (?, ?, ?, ?)`,
		audit.EmailID, audit.ShipmentID, string(audit.Verdict), audit.Evidence)
	return err
}

func (d *DB) InsertRun(runID, source string, counts map[string]int, timings map[string]float64) error {
	countsJSON, _ := json.Marshal(counts)
	timingsJSON, _ := json.Marshal(timings)
	_, err := d.conn.Exec(`INSERT INTO runs (id, source, countsJson, timingsJson) VALUES (?, ?, ?, ?)`,
		runID, source, string(countsJSON), string(timingsJSON))
	return err
}

func (d *DB) GetRunCounts(runID string) (map[string]int, error) {
	var countsJSON string
	err := d.conn.QueryRow(`SELECT countsJson FROM runs WHERE id = ?`, runID).Scan(&countsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	if err := json.Unmarshal([]byte(countsJSON), &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

func (d *DB) SetMetadata(key, value string) error {
	_, err := d.conn.Exec(`
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, key, value)
	return err
}

func (d *DB) GetMetadata(key string) (*string, error) {
	var value string
	err := d.conn.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func timeText(v *time.Time) *string {
	if v == nil {
		return nil
	}
	s := v.UTC().Format(time.RFC3339)
	return &s
}

func parseTimeText(v *string) *time.Time {
	if v == nil || *v == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, *v)
	if err != nil {
		return nil
	}
	return &parsed
}
