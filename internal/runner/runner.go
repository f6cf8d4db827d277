package runner

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"shiplink/internal"
	"shiplink/internal/config"
	"shiplink/internal/pipeline"
	"shiplink/internal/shipments"
	"shiplink/internal/storage"
)

// Service runs the batch cycle on an interval: refresh the shipment book,
// then dedupe/resolve/validate/rebuild. Each cycle is independently
// resumable, so a failed cycle just logs and waits for the next tick.
type Service struct {
	db  *storage.DB
	cfg config.Config
	log *slog.Logger
}

func NewService(db *storage.DB, cfg config.Config, log *slog.Logger) *Service {
	return &Service{db: db, cfg: cfg, log: log}
}

func (s *Service) Run(ctx context.Context) error {
	for {
		if err := s.runCycle(ctx); err != nil {
			s.log.Error("worker cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Duration(s.cfg.WorkerIntervalSec) * time.Second):
		}
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	if s.cfg.TMSAPIBaseURL != "" {
		sync := shipments.NewSyncService(s.db, s.cfg)
		count, err := sync.IncrementalSync(ctx)
		if err != nil {
			// The resolver can still run against the last good snapshot.
			s.log.Warn("shipment sync failed, using stored snapshot", "error", err)
		} else {
			s.log.Info("shipment sync done", "updated", count)
		}
	}

	processor, err := pipeline.NewProcessingService(s.db, s.cfg, s.log)
	if err != nil {
		return err
	}

	runID, report, err := processor.Run(ctx, internal.SourceRealtime)
	if err != nil {
		return err
	}

	if s.cfg.WorkerAutoExport {
		outputPath := filepath.Join(s.cfg.OutputDir, "runs", runID+".xlsx")
		if err := pipeline.ExportRunReportXLSX(report.Counts(), outputPath); err != nil {
			s.log.Warn("run report export failed", "runId", runID, "error", err)
		}
	}
	return nil
}
