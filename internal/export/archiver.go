package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lossharvest/harvestd/internal/domain"
)

// RunSource is the narrow read surface the archiver needs: just enough to
// rebuild one run, not the full opportunity store.
type RunSource interface {
	ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.HarvestOpportunity, error)
	GetSummary(ctx context.Context, runID uuid.UUID) (domain.Summary, error)
}

// Archiver renders a finished run to canonical CSV and uploads it, together
// with its proof hash, to object storage. The archival is recorded in the
// audit log. Records are never deleted here; the store keeps every run.
type Archiver struct {
	source RunSource
	writer domain.BlobWriter
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(source RunSource, writer domain.BlobWriter, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		source: source,
		writer: writer,
		audit:  audit,
		logger: logger.With(slog.String("component", "export_archiver")),
	}
}

// Result describes one archived run.
type Result struct {
	RunID     uuid.UUID
	Path      string
	ProofPath string
	ProofHash string
	Rows      int
}

// ArchiveRun exports one run: canonical CSV at reports/YYYY/MM/<run>.csv and
// the hex proof hash beside it at <run>.sha3-256.
func (a *Archiver) ArchiveRun(ctx context.Context, runID uuid.UUID) (Result, error) {
	summary, err := a.source.GetSummary(ctx, runID)
	if err != nil {
		return Result{}, fmt.Errorf("export: load summary %s: %w", runID, err)
	}
	opps, err := a.source.ListByRun(ctx, runID)
	if err != nil {
		return Result{}, fmt.Errorf("export: load opportunities %s: %w", runID, err)
	}

	data, err := MarshalCSV(summary, opps)
	if err != nil {
		return Result{}, err
	}
	proof := ProofHash(data)

	path := RunPath(runID, summary.ComputedAt)
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "text/csv"); err != nil {
		return Result{}, fmt.Errorf("export: upload %s: %w", path, err)
	}
	proofPath := path[:len(path)-len(".csv")] + ".sha3-256"
	if err := a.writer.Put(ctx, proofPath, strings.NewReader(proof+"\n"), "text/plain"); err != nil {
		return Result{}, fmt.Errorf("export: upload proof %s: %w", proofPath, err)
	}

	res := Result{
		RunID:     runID,
		Path:      path,
		ProofPath: proofPath,
		ProofHash: proof,
		Rows:      len(opps),
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "export.run", map[string]any{
			"run_id": runID.String(),
			"path":   path,
			"proof":  proof,
			"rows":   res.Rows,
		}); err != nil {
			a.logger.WarnContext(ctx, "export audit log failed", slog.String("error", err.Error()))
		}
	}

	a.logger.InfoContext(ctx, "run archived",
		slog.String("run_id", runID.String()),
		slog.String("path", path),
		slog.Int("rows", res.Rows))

	return res, nil
}

// RunPath builds the object key for a run export, partitioned by year-month
// of the pass.
func RunPath(runID uuid.UUID, computedAt time.Time) string {
	return fmt.Sprintf("reports/%s/%s.csv", computedAt.UTC().Format("2006/01"), runID)
}
