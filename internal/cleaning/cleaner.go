// Package cleaning implements the basic cleaning step: fetch a tabular
// artifact, drop price outliers, normalize review dates and register the
// result as a new artifact.
package cleaning

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/animus-labs/basic-cleaning/internal/dataset"
	"github.com/animus-labs/basic-cleaning/internal/tracking"
	"github.com/dustin/go-humanize"
)

const (
	JobType = "basic_cleaning"

	priceColumn      = "price"
	lastReviewColumn = "last_review"
)

// Run is the slice of a tracking run the cleaner needs.
type Run interface {
	UseArtifact(ctx context.Context, ref string) (string, error)
	LogArtifact(ctx context.Context, artifact *tracking.Artifact) (tracking.Reference, error)
}

type Options struct {
	Logger *slog.Logger
	// WorkDir receives the serialized output before it is registered.
	WorkDir string
}

type Cleaner struct {
	logger  *slog.Logger
	workDir string
}

func New(opts Options) *Cleaner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	workDir := strings.TrimSpace(opts.WorkDir)
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &Cleaner{logger: logger, workDir: workDir}
}

// Clean runs the whole step against run. Every error it returns is a
// *PhaseError.
func (c *Cleaner) Clean(ctx context.Context, run Run, cfg Config) (tracking.Reference, error) {
	if run == nil {
		return tracking.Reference{}, phaseErr(PhaseConfig, ErrConfiguration, errors.New("tracking run is required"))
	}
	if err := cfg.Validate(); err != nil {
		return tracking.Reference{}, phaseErr(PhaseConfig, ErrConfiguration, err)
	}
	if cfg.MinPrice > cfg.MaxPrice {
		c.logger.Warn("min_price is greater than max_price, output will be empty",
			"min_price", cfg.MinPrice, "max_price", cfg.MaxPrice)
	}

	c.logger.Info(fmt.Sprintf("Downloading %s Artifact", cfg.InputArtifact))
	path, err := run.UseArtifact(ctx, cfg.InputArtifact)
	if err != nil {
		return tracking.Reference{}, phaseErr(PhaseDownload, ErrArtifactNotFound, err)
	}

	table, err := dataset.ReadFile(path)
	if err != nil {
		return tracking.Reference{}, phaseErr(PhaseParse, ErrParse, err)
	}
	if err := table.Require(priceColumn, lastReviewColumn); err != nil {
		return tracking.Reference{}, phaseErr(PhaseParse, ErrParse, err)
	}
	rowsIn := table.Len()

	c.logger.Info("Dropping price outliers")
	dropped, err := table.FilterRange(priceColumn, cfg.MinPrice, cfg.MaxPrice)
	if err != nil {
		return tracking.Reference{}, phaseErr(PhaseFilter, nil, err)
	}

	c.logger.Info("Convert last_review feature to datetime")
	nulled, err := table.NormalizeDates(lastReviewColumn)
	if err != nil {
		return tracking.Reference{}, phaseErr(PhaseTransform, nil, err)
	}
	c.logger.Debug("cleaned dataset",
		"rows_in", rowsIn,
		"rows_out", table.Len(),
		"rows_dropped", dropped,
		"dates_nulled", nulled,
	)

	if err := os.MkdirAll(c.workDir, 0o755); err != nil {
		return tracking.Reference{}, phaseErr(PhaseExport, nil, err)
	}
	outPath := filepath.Join(c.workDir, cfg.OutputArtifact)
	if err := table.WriteFile(outPath); err != nil {
		return tracking.Reference{}, phaseErr(PhaseExport, nil, err)
	}
	if info, err := os.Stat(outPath); err == nil {
		c.logger.Debug("output written", "path", outPath, "size", humanize.Bytes(uint64(info.Size())))
	}

	artifact := tracking.NewArtifact(cfg.OutputArtifact, cfg.OutputType, cfg.OutputDescription)
	artifact.Metadata["rows_in"] = rowsIn
	artifact.Metadata["rows_out"] = table.Len()
	artifact.Metadata["rows_dropped"] = dropped
	artifact.Metadata["dates_nulled"] = nulled
	artifact.Metadata["min_price"] = cfg.MinPrice
	artifact.Metadata["max_price"] = cfg.MaxPrice
	artifact.Metadata["input_artifact"] = cfg.InputArtifact

	c.logger.Info("Logging artifact")
	ref, err := c.register(ctx, run, artifact, outPath)
	if err != nil {
		c.logger.Warn("output file left on disk after failed registration", "path", outPath)
		return tracking.Reference{}, phaseErr(PhaseRegistration, ErrRegistration, err)
	}
	if !ref.Created {
		c.logger.Info("artifact already registered", "ref", ref.String())
	}

	if err := os.Remove(outPath); err != nil {
		c.logger.Warn("remove output file", "path", outPath, "error", err)
	}
	return ref, nil
}

func (c *Cleaner) register(ctx context.Context, run Run, artifact *tracking.Artifact, path string) (tracking.Reference, error) {
	if err := artifact.AddFile(path); err != nil {
		return tracking.Reference{}, err
	}
	return run.LogArtifact(ctx, artifact)
}
