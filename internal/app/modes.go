package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/lossharvest/harvestd/internal/benefit"
	"github.com/lossharvest/harvestd/internal/crypto"
	"github.com/lossharvest/harvestd/internal/eligibility"
	"github.com/lossharvest/harvestd/internal/export"
	"github.com/lossharvest/harvestd/internal/feed"
	"github.com/lossharvest/harvestd/internal/harvest"
	"github.com/lossharvest/harvestd/internal/ingest"
	"github.com/lossharvest/harvestd/internal/server"
	"github.com/lossharvest/harvestd/internal/server/handler"
	"github.com/lossharvest/harvestd/internal/service"
)

// services holds the application services built on top of the wired
// dependencies; the same set backs every mode.
type services struct {
	harvestSvc *service.HarvestService
	priceSvc   *service.PriceService
	signalSvc  *service.SignalService
	archiver   *export.Archiver
}

// buildEngine maps the injectable harvest parameters from configuration onto
// an engine instance.
func (a *App) buildEngine() (*harvest.Engine, error) {
	cfg := harvest.Config{
		Eligibility: eligibility.Thresholds{
			MinLossUSD:   decimal.NewFromFloat(a.cfg.Harvest.MinLossUSD),
			MinLiquidity: a.cfg.Harvest.MinLiquidity,
			MinRiskScore: a.cfg.Harvest.MinRiskScore,
		},
		Benefit: benefit.Params{
			TaxRate:           decimal.NewFromFloat(a.cfg.Harvest.TaxRate),
			MarginalCutoffUSD: decimal.NewFromFloat(a.cfg.Harvest.MarginalCutoffUSD),
		},
		LongTermDays:       a.cfg.Harvest.LongTermDays,
		WashSaleWindowDays: a.cfg.Harvest.WashSaleWindowDays,
		Parallelism:        a.cfg.Harvest.Parallelism,
	}
	return harvest.NewEngine(cfg, a.logger)
}

// buildServices constructs the service layer shared by all modes. The archiver
// is nil when blob storage is not wired.
func (a *App) buildServices(deps *Dependencies) (*services, error) {
	engine, err := a.buildEngine()
	if err != nil {
		return nil, fmt.Errorf("build services: engine: %w", err)
	}

	s := &services{
		harvestSvc: service.NewHarvestService(
			engine,
			deps.TxStore, deps.OppStore, deps.AuditStore,
			deps.PriceCache, deps.SignalCache, deps.EstimateCache,
			deps.ReportBus,
			a.logger,
		),
		priceSvc:  service.NewPriceService(deps.PriceCache, a.logger),
		signalSvc: service.NewSignalService(deps.SignalCache, deps.EstimateCache, a.logger),
	}

	if deps.BlobWriter != nil {
		s.archiver = export.NewArchiver(deps.OppStore, deps.BlobWriter, deps.AuditStore, a.logger)
	}

	return s, nil
}

// ServeMode runs the HTTP API plus the bus consumers: price updates into the
// cache and finished runs into the exporter and notifier.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs, err := a.buildServices(deps)
	if err != nil {
		return fmt.Errorf("serve mode: %w", err)
	}

	a.startFeeders(ctx, g, deps, svcs)
	a.startHTTPServer(ctx, g, deps, svcs, nil)

	return g.Wait()
}

// IngestMode runs transfer-event ingestion only: backfill then live streaming
// for every configured chain, writing ledger transactions.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode")

	g, ctx := errgroup.WithContext(ctx)
	if _, err := a.startIngestion(ctx, g, deps); err != nil {
		return fmt.Errorf("ingest mode: %w", err)
	}
	return g.Wait()
}

// HarvestMode runs one synchronous harvest pass for the configured user and
// exits. It is intended for cron-style batch invocation.
func (a *App) HarvestMode(ctx context.Context, deps *Dependencies) error {
	userID := a.cfg.Ingest.UserID
	if userID == "" {
		return fmt.Errorf("harvest mode: ingest.user_id must be set")
	}
	a.logger.InfoContext(ctx, "starting harvest mode", slog.String("user_id", userID))

	svcs, err := a.buildServices(deps)
	if err != nil {
		return fmt.Errorf("harvest mode: %w", err)
	}

	report, err := svcs.harvestSvc.RunPass(ctx, userID)
	if err != nil {
		return fmt.Errorf("harvest mode: %w", err)
	}

	if svcs.archiver != nil {
		res, err := svcs.archiver.ArchiveRun(ctx, report.RunID)
		if err != nil {
			a.logger.WarnContext(ctx, "harvest mode: archive failed",
				slog.String("run_id", report.RunID.String()),
				slog.String("error", err.Error()),
			)
		} else {
			a.logger.InfoContext(ctx, "harvest mode: run archived",
				slog.String("path", res.Path),
				slog.String("proof_hash", res.ProofHash),
			)
		}
	}

	a.logger.InfoContext(ctx, "harvest pass complete",
		slog.String("run_id", report.RunID.String()),
		slog.Int("opportunities", len(report.Opportunities)),
		slog.String("total_net_benefit_usd", report.Summary.TotalNetBenefitUSD.String()),
	)
	return nil
}

// FullMode starts all subsystems: ingestion, the HTTP API, and the bus
// consumers.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs, err := a.buildServices(deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	var webhooks *handler.WebhookHandler
	if a.cfg.Ingest.Enabled {
		ingestSvc, err := a.startIngestion(ctx, g, deps)
		if err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
		if a.cfg.Ingest.WebhookSecret != "" {
			verifier, err := crypto.NewWebhookVerifier(a.cfg.Ingest.WebhookSecret)
			if err != nil {
				return fmt.Errorf("full mode: %w", err)
			}
			webhooks = handler.NewWebhookHandler(ingestSvc, verifier, a.logger)
		}
	} else {
		a.logger.InfoContext(ctx, "full mode: ingest.enabled is false, skipping ingestion")
	}

	a.startFeeders(ctx, g, deps, svcs)
	a.startHTTPServer(ctx, g, deps, svcs, webhooks)

	return g.Wait()
}

// startIngestion builds the configured providers and adds the ingestion
// service goroutine to the errgroup. The service is returned so full mode can
// also expose the webhook push endpoint on top of it.
func (a *App) startIngestion(ctx context.Context, g *errgroup.Group, deps *Dependencies) (*ingest.Service, error) {
	var primary, fallback ingest.Provider

	alchemyAvailable := a.cfg.Ingest.AlchemyAPIKey != ""
	moralisAvailable := a.cfg.Ingest.MoralisAPIKey != ""

	switch a.cfg.Ingest.PrimaryProvider {
	case "moralis":
		if !moralisAvailable {
			return nil, fmt.Errorf("start ingestion: moralis is primary but moralis_api_key is empty")
		}
		primary = ingest.NewMoralisProvider(a.cfg.Ingest.MoralisAPIKey)
		if alchemyAvailable {
			fallback = ingest.NewAlchemyProvider(a.cfg.Ingest.AlchemyAPIKey)
		}
	default:
		if !alchemyAvailable {
			return nil, fmt.Errorf("start ingestion: alchemy is primary but alchemy_api_key is empty")
		}
		primary = ingest.NewAlchemyProvider(a.cfg.Ingest.AlchemyAPIKey)
		if moralisAvailable {
			fallback = ingest.NewMoralisProvider(a.cfg.Ingest.MoralisAPIKey)
		}
	}

	svc, err := ingest.NewService(ingest.Options{
		UserID:           a.cfg.Ingest.UserID,
		Addresses:        a.cfg.Ingest.Addresses,
		Chains:           a.cfg.Ingest.Chains,
		BackfillDays:     a.cfg.Ingest.BackfillDays,
		StreamLag:        a.cfg.Ingest.StreamLag.Duration,
		RateLimitPerSec:  a.cfg.Ingest.RateLimitPerSec,
		RetryBase:        secondsToDuration(a.cfg.Ingest.RetryBaseSeconds),
		RetryMax:         secondsToDuration(a.cfg.Ingest.RetryMaxSeconds),
		RetryMaxAttempts: a.cfg.Ingest.RetryMaxAttempts,
	}, primary, fallback, deps.TxStore, deps.PriceCache, deps.RateLimiter, a.logger)
	if err != nil {
		return nil, fmt.Errorf("start ingestion: %w", err)
	}

	g.Go(func() error {
		err := svc.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	return svc, nil
}

// startFeeders adds the bus consumer goroutines to the errgroup.
func (a *App) startFeeders(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	priceFeeder := feed.NewPriceFeeder(deps.ReportBus, svcs.priceSvc, a.logger)
	g.Go(func() error {
		err := priceFeeder.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	reportFeeder := feed.NewReportFeeder(deps.ReportBus, deps.OppStore, svcs.archiver, deps.Notifier, a.logger)
	g.Go(func() error {
		err := reportFeeder.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
}

// startHTTPServer adds the HTTP server goroutine plus its graceful shutdown
// watcher to the errgroup. webhooks is optional.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services, webhooks *handler.WebhookHandler) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "server.enabled is false, skipping HTTP server")
		return
	}

	harvestHandler := handler.NewHarvestHandler(svcs.harvestSvc, a.logger)
	if deps.BlobReader != nil {
		harvestHandler = harvestHandler.WithBlobReader(deps.BlobReader)
	}

	handlers := server.Handlers{
		Health:       handler.NewHealthHandler(a.logger),
		Harvest:      harvestHandler,
		Signals:      handler.NewSignalHandler(svcs.priceSvc, svcs.signalSvc, a.logger),
		Transactions: handler.NewTransactionHandler(deps.TxStore, a.logger),
		Webhooks:     webhooks,
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimiter: deps.RateLimiter,
		RateLimit:   a.cfg.Server.RateLimitPerSec,
		RateWindow:  time.Second,
	}, handlers, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
