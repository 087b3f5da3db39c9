package feed

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/lossharvest/harvestd/internal/domain"
	"github.com/lossharvest/harvestd/internal/export"
	"github.com/lossharvest/harvestd/internal/notify"
	"github.com/lossharvest/harvestd/internal/service"
)

// ReportFeeder subscribes to pass-completion events and drives the follow-up
// work: archive the run's export and send the operator notification. Either
// half may be absent; the other still runs.
type ReportFeeder struct {
	bus      domain.ReportBus
	oppStore domain.OpportunityStore
	archiver *export.Archiver
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewReportFeeder creates a ReportFeeder. archiver and notifier may be nil.
func NewReportFeeder(bus domain.ReportBus, oppStore domain.OpportunityStore, archiver *export.Archiver, notifier *notify.Notifier, logger *slog.Logger) *ReportFeeder {
	return &ReportFeeder{
		bus:      bus,
		oppStore: oppStore,
		archiver: archiver,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "report_feeder")),
	}
}

// Run subscribes and consumes report events until ctx is cancelled.
func (f *ReportFeeder) Run(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, service.ReportChannel)
	if err != nil {
		return err
	}
	f.logger.Info("report feeder started")
	defer f.logger.Info("report feeder stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			f.handleMessage(ctx, data)
		}
	}
}

func (f *ReportFeeder) handleMessage(ctx context.Context, data []byte) {
	var ev service.ReportEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		f.logger.Debug("report feeder bad payload", slog.String("error", err.Error()))
		return
	}
	if ev.Event != "report_ready" || ev.RunID == uuid.Nil {
		return
	}

	if f.archiver != nil {
		if res, err := f.archiver.ArchiveRun(ctx, ev.RunID); err != nil {
			f.logger.ErrorContext(ctx, "run archive failed",
				slog.String("run_id", ev.RunID.String()),
				slog.String("error", err.Error()))
		} else {
			f.logger.InfoContext(ctx, "run exported",
				slog.String("run_id", ev.RunID.String()),
				slog.String("path", res.Path))
		}
	}

	if f.notifier != nil {
		summary, err := f.oppStore.GetSummary(ctx, ev.RunID)
		if err != nil {
			f.logger.WarnContext(ctx, "summary lookup failed",
				slog.String("run_id", ev.RunID.String()),
				slog.String("error", err.Error()))
			return
		}
		if err := f.notifier.ReportReady(ctx, summary); err != nil {
			f.logger.WarnContext(ctx, "report notification failed",
				slog.String("run_id", ev.RunID.String()),
				slog.String("error", err.Error()))
		}
	}
}
