package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"shiplink/internal"
	"shiplink/internal/config"
	"shiplink/internal/shipments"
	"shiplink/internal/storage"
)

// ProcessingService drives one batch run: dedupe per thread, resolve
// primaries, audit links, rebuild per-shipment timelines and derive blockers.
// Units of work (threads, shipments) are independent and fan out over a
// bounded pool; inside a unit processing stays sequential. Every write is an
// idempotent upsert, so an aborted run can simply be re-run.
type ProcessingService struct {
	db    *storage.DB
	cfg   config.Config
	table *StateTable
	log   *slog.Logger
}

func NewProcessingService(db *storage.DB, cfg config.Config, log *slog.Logger) (*ProcessingService, error) {
	table, err := LoadStateTable(cfg.StateTablePath)
	if err != nil {
		return nil, fmt.Errorf("load state table: %w", err)
	}
	return &ProcessingService{db: db, cfg: cfg, table: table, log: log}, nil
}

func (s *ProcessingService) StateTable() *StateTable {
	return s.table
}

// Run executes the full batch. The only fatal condition is failing to build
// the identifier snapshot; per-document and per-shipment failures are
// counted and the run continues.
func (s *ProcessingService) Run(ctx context.Context, source internal.LinkSource) (string, *internal.RunReport, error) {
	start := time.Now()
	report := internal.NewRunReport()
	timings := map[string]float64{}

	idx, err := shipments.Snapshot(s.db)
	if err != nil {
		return "", nil, fmt.Errorf("identifier index snapshot: %w", err)
	}

	stepStart := time.Now()
	if err := s.DedupePending(ctx, report); err != nil {
		return "", nil, err
	}
	timings["dedupeMs"] = msSince(stepStart)

	stepStart = time.Now()
	if err := s.ResolvePending(ctx, idx, source, report); err != nil {
		return "", nil, err
	}
	timings["resolveMs"] = msSince(stepStart)

	if s.cfg.ValidateAfterResolve {
		stepStart = time.Now()
		s.ValidateLinks(idx, report)
		timings["validateMs"] = msSince(stepStart)
	}

	stepStart = time.Now()
	if err := s.RebuildShipments(ctx, report); err != nil {
		return "", nil, err
	}
	timings["timelineMs"] = msSince(stepStart)
	timings["totalMs"] = msSince(start)

	runID := uuid.NewString()
	if err := s.db.InsertRun(runID, string(source), report.Counts(), timings); err != nil {
		return "", nil, err
	}

	s.log.Info("batch run complete",
		"runId", runID,
		"source", string(source),
		"ambiguous", report.Ambiguous,
		"orphans", report.Orphans,
		"dupCollapsed", report.DupCollapsed,
		"linksRemoved", report.LinksRemoved,
		"anomalies", report.Anomalies,
		"blockersOpened", report.BlockersOpened,
		"errors", report.Errors,
		"totalMs", timings["totalMs"],
	)
	return runID, report, nil
}

// DedupePending runs the deduplicator over every thread that still has
// freshly imported documents.
func (s *ProcessingService) DedupePending(ctx context.Context, report *internal.RunReport) error {
	threads, err := s.db.ListThreadIDs(internal.DocImported)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	dedup := NewDeduplicator(s.db)
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(s.poolSize())

	for _, threadID := range threads {
		threadID := threadID
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := dedup.DedupeThread(threadID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Errors++
				s.log.Warn("dedupe thread failed", "threadId", threadID, "error", err)
				return nil
			}
			report.DupGroups += res.Groups
			report.DupCollapsed += res.Collapsed
			return nil
		})
	}
	return group.Wait()
}

// ResolvePending resolves deduplicated primaries against the index snapshot.
// Duplicates inherit their primary's link (marked non-primary) so they stay
// queryable for audit without ever feeding the timeline.
func (s *ProcessingService) ResolvePending(ctx context.Context, idx *shipments.Index, source internal.LinkSource, report *internal.RunReport) error {
	docs, err := s.db.ListDocumentsByStatus(internal.DocDeduped, s.cfg.RunBatchSize)
	if err != nil {
		return err
	}

	resolver := NewResolver(s.cfg, idx)

	var duplicates []internal.ClassifiedDocument
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !doc.IsPrimary {
			duplicates = append(duplicates, doc)
			continue
		}
		if err := s.resolveOne(resolver, doc, source, report); err != nil {
			report.Errors++
			s.log.Warn("resolve failed", "emailId", doc.EmailID, "error", err)
		}
	}

	for _, dup := range duplicates {
		linked, err := s.linkDuplicate(dup, source)
		if err != nil {
			report.Errors++
			s.log.Warn("link duplicate failed", "emailId", dup.EmailID, "error", err)
			continue
		}
		if !linked {
			// Primary is still unlinked; the duplicate stays pending with it.
			continue
		}
		if err := s.db.UpdateDocumentStatus(dup.EmailID, internal.DocResolved); err != nil {
			report.Errors++
		}
	}
	return nil
}

func (s *ProcessingService) resolveOne(resolver *Resolver, doc internal.ClassifiedDocument, source internal.LinkSource, report *internal.RunReport) error {
	resolution := resolver.Resolve(doc)
	report.SkippedValues += resolution.Skipped

	switch resolution.Outcome {
	case internal.ResolutionLinked:
		link := internal.ShipmentDocumentLink{
			EmailID:    doc.EmailID,
			ShipmentID: *resolution.ShipmentID,
			MatchType:  resolution.MatchType,
			Confidence: resolution.Confidence,
			Source:     source,
			IsPrimary:  true,
		}
		if err := s.db.UpsertLink(link); err != nil {
			return err
		}
		report.Linked[resolution.MatchType]++
	case internal.ResolutionAmbiguous:
		cand := internal.LinkCandidate{
			EmailID:    doc.EmailID,
			Candidates: resolution.Candidates,
			Status:     "open",
		}
		if err := s.db.UpsertLinkCandidate(cand); err != nil {
			return err
		}
		report.Ambiguous++
	case internal.ResolutionOrphan:
		// Stays unlinked and pending; the next run retries it against a
		// grown index.
		report.Orphans++
		return nil
	}

	return s.db.UpdateDocumentStatus(doc.EmailID, internal.DocResolved)
}

func (s *ProcessingService) linkDuplicate(dup internal.ClassifiedDocument, source internal.LinkSource) (bool, error) {
	if dup.PrimaryEmailID == nil {
		return false, nil
	}
	primaryLink, err := s.db.GetLink(*dup.PrimaryEmailID)
	if err != nil || primaryLink == nil {
		return false, err
	}
	err = s.db.UpsertLink(internal.ShipmentDocumentLink{
		EmailID:    dup.EmailID,
		ShipmentID: primaryLink.ShipmentID,
		MatchType:  primaryLink.MatchType,
		Confidence: primaryLink.Confidence,
		Source:     source,
		IsPrimary:  false,
	})
	return err == nil, err
}

func (s *ProcessingService) ValidateLinks(idx *shipments.Index, report *internal.RunReport) {
	validator := NewValidator(s.db, idx)
	res, err := validator.ValidateAll()
	if err != nil {
		report.Errors++
		s.log.Warn("cross-link validation failed", "error", err)
		return
	}
	report.LinksConfirmed += res.Confirmed
	report.LinksRemoved += res.Removed
	report.LinksFlagged += res.Flagged
	report.Errors += res.Errors
}

// RebuildShipments fans timeline rebuilds and blocker derivation out over the
// worker pool, one shipment per unit. The unit set is every linked shipment
// plus every open one: an open shipment with zero matched documents and a
// cutoff in the past is precisely the case that must raise a blocker.
func (s *ProcessingService) RebuildShipments(ctx context.Context, report *internal.RunReport) error {
	linked, err := s.db.ListLinkedShipmentIDs()
	if err != nil {
		return err
	}
	open, err := s.db.ListOpenShipmentIDs()
	if err != nil {
		return err
	}
	shipmentIDs := mergeIDs(linked, open)

	builder := NewTimelineBuilder(s.db, s.table)
	deriver := NewBlockerDeriver(s.db)

	var mu sync.Mutex
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(s.poolSize())

	for _, shipmentID := range shipmentIDs {
		shipmentID := shipmentID
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			timeline, err := builder.RebuildShipment(shipmentID)
			if err != nil {
				mu.Lock()
				report.Errors++
				mu.Unlock()
				s.log.Warn("timeline rebuild failed", "shipmentId", shipmentID, "error", err)
				return nil
			}

			shipment, err := s.db.GetShipment(shipmentID)
			if err != nil || shipment == nil {
				mu.Lock()
				report.Errors++
				mu.Unlock()
				return nil
			}

			blockers, err := deriver.DeriveShipment(*shipment, timeline)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Errors++
				s.log.Warn("blocker derivation failed", "shipmentId", shipmentID, "error", err)
				return nil
			}
			report.Anomalies += len(timeline.Anomalies)
			report.Unmapped += timeline.Unmapped
			report.BlockersOpened += blockers.Opened
			report.BlockersUpdated += blockers.Updated
			report.BlockersClosed += blockers.Closed
			return nil
		})
	}
	return group.Wait()
}

func mergeIDs(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, id := range append(a, b...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (s *ProcessingService) poolSize() int {
	if s.cfg.WorkerPoolSize > 0 {
		return s.cfg.WorkerPoolSize
	}
	return 1
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Milliseconds())
}
