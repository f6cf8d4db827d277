package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"shiplink/internal"
	"shiplink/internal/config"
	"shiplink/internal/intake"
	"shiplink/internal/pipeline"
	"shiplink/internal/runner"
	"shiplink/internal/shipments"
	"shiplink/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	log := newLogger(cfg.LogLevel)

	cmd := os.Args[1]
	switch cmd {
	case "shipments:initial-sync":
		svc := shipments.NewSyncService(db, cfg)
		count, err := svc.InitialSync(context.Background())
		must(err)
		fmt.Printf("initial sync complete: %d shipments\n", count)
	case "shipments:incremental-sync":
		svc := shipments.NewSyncService(db, cfg)
		count, err := svc.IncrementalSync(context.Background())
		must(err)
		fmt.Printf("incremental sync complete: %d shipments\n", count)
	case "docs:import":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		file := fs.String("file", "", "classified documents JSONL file")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*file) == "" {
			must(fmt.Errorf("--file is required"))
		}
		importer := intake.NewImporter(db)
		res, err := importer.ImportFile(*file)
		must(err)
		fmt.Printf("import done imported=%d failed=%d\n", res.Imported, res.Failed)
	case "run":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		source := fs.String("source", "realtime", "realtime|backfill|migration")
		_ = fs.Parse(os.Args[2:])
		processor, err := pipeline.NewProcessingService(db, cfg, log)
		must(err)
		runID, report, err := processor.Run(context.Background(), parseSource(*source))
		must(err)
		fmt.Printf("run %s done: linked=%d ambiguous=%d orphans=%d anomalies=%d blockersOpened=%d\n",
			runID, totalLinked(report), report.Ambiguous, report.Orphans, report.Anomalies, report.BlockersOpened)
	case "links:validate":
		idx, err := shipments.Snapshot(db)
		must(err)
		validator := pipeline.NewValidator(db, idx)
		res, err := validator.ValidateAll()
		must(err)
		fmt.Printf("validate done confirmed=%d removed=%d flagged=%d errors=%d\n",
			res.Confirmed, res.Removed, res.Flagged, res.Errors)
	case "timeline:rebuild":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		shipmentID := fs.String("shipmentId", "", "rebuild a single shipment")
		_ = fs.Parse(os.Args[2:])
		processor, err := pipeline.NewProcessingService(db, cfg, log)
		must(err)
		if strings.TrimSpace(*shipmentID) != "" {
			builder := pipeline.NewTimelineBuilder(db, processor.StateTable())
			timeline, err := builder.RebuildShipment(*shipmentID)
			must(err)
			state := "none"
			if timeline.Current != nil {
				state = timeline.Current.StateCode
			}
			fmt.Printf("rebuilt %s: events=%d anomalies=%d state=%s\n",
				*shipmentID, len(timeline.Accepted), len(timeline.Anomalies), state)
			return
		}
		report := internal.NewRunReport()
		must(processor.RebuildShipments(context.Background(), report))
		fmt.Printf("rebuilt timelines: anomalies=%d blockersOpened=%d blockersClosed=%d errors=%d\n",
			report.Anomalies, report.BlockersOpened, report.BlockersClosed, report.Errors)
	case "blockers:derive":
		processor, err := pipeline.NewProcessingService(db, cfg, log)
		must(err)
		report := internal.NewRunReport()
		must(processor.RebuildShipments(context.Background(), report))
		fmt.Printf("blockers derived: opened=%d updated=%d closed=%d errors=%d\n",
			report.BlockersOpened, report.BlockersUpdated, report.BlockersClosed, report.Errors)
	case "report:xlsx":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		runID := fs.String("runId", "", "run id")
		out := fs.String("out", "", "output xlsx path")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*runID) == "" || strings.TrimSpace(*out) == "" {
			must(fmt.Errorf("--runId and --out are required"))
		}
		counts, err := db.GetRunCounts(*runID)
		must(err)
		must(pipeline.ExportRunReportXLSX(counts, *out))
		fmt.Printf("exported run %s to %s\n", *runID, *out)
	case "watch":
		svc := runner.NewService(db, cfg, log)
		must(svc.Run(context.Background()))
	default:
		usage()
		os.Exit(1)
	}
}

func parseSource(raw string) internal.LinkSource {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "backfill":
		return internal.SourceBackfill
	case "migration":
		return internal.SourceMigration
	default:
		return internal.SourceRealtime
	}
}

func totalLinked(report *internal.RunReport) int {
	total := 0
	for _, n := range report.Linked {
		total += n
	}
	return total
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func usage() {
	fmt.Println("usage: shiplink <command>")
	fmt.Println("commands:")
	fmt.Println("  shipments:initial-sync")
	fmt.Println("  shipments:incremental-sync")
	fmt.Println("  docs:import --file=documents.jsonl")
	fmt.Println("  run [--source=realtime|backfill|migration]")
	fmt.Println("  links:validate")
	fmt.Println("  timeline:rebuild [--shipmentId=...]")
	fmt.Println("  blockers:derive")
	fmt.Println("  report:xlsx --runId=... --out=./out/report.xlsx")
	fmt.Println("  watch")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
