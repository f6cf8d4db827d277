package intake

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
	pdf "github.com/ledongthuc/pdf"

	"shiplink/internal"
	"shiplink/internal/pipeline"
	"shiplink/internal/storage"
	"shiplink/internal/util"
)

// DocumentRecord is the wire form the upstream classifier emits, one JSON
// object per line. Identifier types and values come with no correctness
// guarantee; the resolver treats them as candidates only.
type DocumentRecord struct {
	EmailID      string `json:"emailId"`
	ThreadID     string `json:"threadId"`
	DocumentType string `json:"documentType"`
	Direction    string `json:"direction"`
	Identifiers  []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"identifiers"`
	ReceivedAt string `json:"receivedAt"`
	Subject    string `json:"subject"`
	BodyText   string `json:"bodyText"`
	// RawRef optionally points at the stored .eml; subject/body are
	// recovered from it when the record carries none inline.
	RawRef string `json:"rawRef"`
	// Attachments are paths to extracted attachment files; PDF text is
	// pulled in as validation text.
	Attachments []string `json:"attachments"`
}

type Importer struct {
	db *storage.DB
}

func NewImporter(db *storage.DB) *Importer {
	return &Importer{db: db}
}

type ImportResult struct {
	Imported int
	Failed   int
}

// ImportFile ingests a JSONL stream of classified documents. Malformed lines
// are counted and skipped; the import never aborts on a single record.
func (imp *Importer) ImportFile(path string) (ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImportResult{}, err
	}
	defer f.Close()

	result := ImportResult{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		doc, err := imp.toDocument([]byte(line))
		if err != nil {
			result.Failed++
			continue
		}
		if err := imp.db.UpsertDocument(doc); err != nil {
			result.Failed++
			continue
		}
		result.Imported++
	}
	if err := scanner.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (imp *Importer) toDocument(line []byte) (internal.ClassifiedDocument, error) {
	var record DocumentRecord
	if err := json.Unmarshal(line, &record); err != nil {
		return internal.ClassifiedDocument{}, err
	}
	if strings.TrimSpace(record.EmailID) == "" {
		return internal.ClassifiedDocument{}, fmt.Errorf("missing emailId")
	}
	if strings.TrimSpace(record.ThreadID) == "" {
		record.ThreadID = record.EmailID
	}

	receivedAt, err := time.Parse(time.RFC3339, record.ReceivedAt)
	if err != nil {
		return internal.ClassifiedDocument{}, fmt.Errorf("bad receivedAt %q: %w", record.ReceivedAt, err)
	}

	doc := internal.ClassifiedDocument{
		EmailID:      record.EmailID,
		ThreadID:     record.ThreadID,
		DocumentType: record.DocumentType,
		Direction:    parseDirection(record.Direction),
		ReceivedAt:   receivedAt,
		Subject:      record.Subject,
		BodyText:     record.BodyText,
		IsPrimary:    true,
		Status:       internal.DocImported,
	}

	for _, ident := range record.Identifiers {
		doc.Identifiers = append(doc.Identifiers, internal.IdentifierCandidate{
			Kind:     internal.ParseIdentifierKind(ident.Type),
			RawValue: ident.Value,
		})
	}

	if doc.BodyText == "" && record.RawRef != "" {
		subject, body, err := readEnvelope(record.RawRef)
		if err == nil {
			if doc.Subject == "" {
				doc.Subject = subject
			}
			doc.BodyText = body
		}
	}

	for _, attachment := range record.Attachments {
		if !strings.HasSuffix(strings.ToLower(attachment), ".pdf") {
			continue
		}
		if text, err := pdfText(attachment); err == nil && text != "" {
			if doc.AttachmentText != "" {
				doc.AttachmentText += "\n"
			}
			doc.AttachmentText += text
		}
	}

	doc.ThreadPosition = util.ReplyDepth(doc.Subject)
	doc.Fingerprint = pipeline.Fingerprint(doc)
	return doc, nil
}

func parseDirection(raw string) internal.Direction {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "inbound":
		return internal.DirectionInbound
	case "outbound":
		return internal.DirectionOutbound
	default:
		return internal.DirectionUnknown
	}
}

func readEnvelope(path string) (subject, body string, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return "", "", err
	}
	body = env.Text
	if body == "" {
		body = env.HTML
	}
	return env.GetHeader("Subject"), body, nil
}

func pdfText(path string) (string, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	r, err := pdf.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String()), nil
}
