package pipeline

import (
	"sort"

	"shiplink/internal"
	"shiplink/internal/storage"
)

// DupGroup is one fingerprint-equality class within a thread. The primary is
// the earliest received copy; everything else is a duplicate of it.
type DupGroup struct {
	Fingerprint string
	Primary     string
	Duplicates  []string
}

// GroupDuplicates partitions a thread's documents by content fingerprint.
// Grouping is decided strictly by fingerprint equality; RE:/FW: depth never
// enters the decision. The assignment is deterministic for any input order,
// so re-running dedup can only reproduce itself.
func GroupDuplicates(docs []internal.ClassifiedDocument) []DupGroup {
	byPrint := map[string][]internal.ClassifiedDocument{}
	order := []string{}
	for _, doc := range docs {
		print := doc.Fingerprint
		if print == "" {
			print = Fingerprint(doc)
		}
		if _, ok := byPrint[print]; !ok {
			order = append(order, print)
		}
		byPrint[print] = append(byPrint[print], doc)
	}

	out := make([]DupGroup, 0, len(order))
	for _, print := range order {
		group := byPrint[print]
		sort.Slice(group, func(i, j int) bool {
			if !group[i].ReceivedAt.Equal(group[j].ReceivedAt) {
				return group[i].ReceivedAt.Before(group[j].ReceivedAt)
			}
			return group[i].EmailID < group[j].EmailID
		})

		g := DupGroup{Fingerprint: print, Primary: group[0].EmailID}
		for _, dup := range group[1:] {
			g.Duplicates = append(g.Duplicates, dup.EmailID)
		}
		out = append(out, g)
	}
	return out
}

type Deduplicator struct {
	db *storage.DB
}

func NewDeduplicator(db *storage.DB) *Deduplicator {
	return &Deduplicator{db: db}
}

type DedupResult struct {
	Groups    int
	Collapsed int
}

// DedupeThread fingerprints and groups every document in one thread, marking
// exactly one primary per group and pointing duplicates at it.
func (d *Deduplicator) DedupeThread(threadID string) (DedupResult, error) {
	docs, err := d.db.ListDocumentsByThread(threadID)
	if err != nil {
		return DedupResult{}, err
	}

	for i := range docs {
		if docs[i].Fingerprint == "" {
			docs[i].Fingerprint = Fingerprint(docs[i])
			docs[i].Status = internal.DocImported
			if err := d.db.UpsertDocument(docs[i]); err != nil {
				return DedupResult{}, err
			}
		}
	}

	groups := GroupDuplicates(docs)
	result := DedupResult{Groups: len(groups)}
	for _, g := range groups {
		if err := d.db.UpdateDocumentDedup(g.Primary, true, nil, internal.DocDeduped); err != nil {
			return DedupResult{}, err
		}
		for _, dup := range g.Duplicates {
			primary := g.Primary
			if err := d.db.UpdateDocumentDedup(dup, false, &primary, internal.DocDeduped); err != nil {
				return DedupResult{}, err
			}
			result.Collapsed++
		}
	}
	return result, nil
}
