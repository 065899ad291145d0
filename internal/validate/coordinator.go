// Package validate implements the sharded validation coordinator: the
// dataset is split across worker processes by round-robin index assignment,
// each worker scores its share locally, and the per-folder score tables are
// sum-reduced to rank 0 for reporting.
package validate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/framelab/sreval/internal/collective"
	"github.com/framelab/sreval/internal/dataset"
	"github.com/framelab/sreval/internal/imageio"
	"github.com/framelab/sreval/internal/infer"
	"github.com/framelab/sreval/internal/metric"
	"github.com/framelab/sreval/internal/tracker"
)

var (
	// ErrSaveImageDuringTraining rejects image dumping while training;
	// it is disallowed outright, never skipped silently.
	ErrSaveImageDuringTraining = errors.New("saving images is not supported during training")

	// ErrNotImplemented marks the single-process validation path, which is
	// intentionally unsupported. Callers must not mistake it for a no-op.
	ErrNotImplemented = errors.New("single-process validation is not implemented")
)

// Options is the validation configuration surface.
type Options struct {
	// DatasetName is the display name used in logs and save paths.
	DatasetName string

	// IsTraining marks a training run as opposed to standalone evaluation.
	IsTraining bool

	// SaveImages persists every output frame under VizRoot.
	SaveImages bool

	// VizRoot is the root directory for saved output images.
	VizRoot string

	// Suffix, when set, is appended to saved image names; otherwise the
	// experiment name is.
	Suffix string

	// Experiment is the experiment name.
	Experiment string
}

// Coordinator runs one worker's share of a distributed validation pass.
type Coordinator struct {
	engine  infer.Engine
	group   *collective.Group
	scorers []metric.Scorer
	sink    tracker.Sink
	logger  *slog.Logger
	opts    Options
}

// New wires a coordinator. scorers is the ordered metric list and may be
// empty to skip scoring; sink may be nil.
func New(engine infer.Engine, group *collective.Group, scorers []metric.Scorer,
	sink tracker.Sink, logger *slog.Logger, opts Options) *Coordinator {
	return &Coordinator{
		engine:  engine,
		group:   group,
		scorers: scorers,
		sink:    sink,
		logger:  logger,
		opts:    opts,
	}
}

// Report is the aggregated outcome of a validation pass.
type Report struct {
	// MetricNames preserves the configured metric order.
	MetricNames []string

	// Totals are the global per-metric averages, unweighted across folders.
	Totals map[string]float64

	// Folders maps each folder to its per-metric averages, ordered like
	// MetricNames.
	Folders map[string][]float64
}

// RunDistributed executes this worker's share of the validation pass and
// returns the aggregated report. The report is non-nil on rank 0 only; other
// ranks return nil. state must be owned by the caller and reused across
// passes so table shapes stay fixed.
//
// Every rank must reach the reduction and the trailing barrier; a stalled
// peer blocks the whole group.
func (c *Coordinator) RunDistributed(ctx context.Context, ds dataset.Dataset, state *State, iter int) (*Report, error) {
	if c.opts.SaveImages && c.opts.IsTraining {
		return nil, ErrSaveImageDuringTraining
	}

	withMetrics := len(c.scorers) > 0
	if withMetrics {
		state.EnsureAllocated(ds.FolderCounts(), len(c.scorers))
		state.Reset()
	}

	rank := c.group.Rank()
	size := c.group.Size()

	for idx := rank; idx < ds.Len(); idx += size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item, err := ds.Item(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load item %d: %w", idx, err)
		}
		frameIdx, maxIdx, err := parseFrameIndex(item.Index)
		if err != nil {
			return nil, fmt.Errorf("item %d in folder %q: %w", idx, item.Folder, err)
		}

		c.engine.Feed(item)
		if err := c.engine.Test(ctx); err != nil {
			return nil, fmt.Errorf("inference failed on item %d: %w", idx, err)
		}
		vis := c.engine.Visuals()

		if c.opts.SaveImages {
			path := c.saveImagePath(item)
			if err := imageio.WritePNG(vis.Result, path); err != nil {
				return nil, err
			}
		}

		if withMetrics {
			table := state.Table(item.Folder)
			if table == nil {
				return nil, fmt.Errorf("item %d references unknown folder %q", idx, item.Folder)
			}
			for mi, scorer := range c.scorers {
				v, err := scorer.Score(vis.Result, vis.GT)
				if err != nil {
					return nil, fmt.Errorf("%s on %s frame %d: %w", scorer.Name(), item.Folder, frameIdx, err)
				}
				if err := table.Add(frameIdx, mi, v); err != nil {
					return nil, fmt.Errorf("folder %q: %w", item.Folder, err)
				}
			}
		}

		c.engine.Release()

		if rank == 0 {
			// Shards advance in lockstep, so frameIdx+size extrapolates the
			// global position without querying peers. An approximation, not
			// an exact count.
			c.logger.Info("validating",
				"dataset", c.opts.DatasetName,
				"folder", item.Folder,
				"frame", fmt.Sprintf("%d/%d", frameIdx+size, maxIdx))
		}
	}

	if !withMetrics {
		return nil, nil
	}

	for _, folder := range state.Folders() {
		if err := c.group.Reduce("val/"+folder, state.Table(folder).Raw(), 0); err != nil {
			return nil, fmt.Errorf("failed to reduce folder %q: %w", folder, err)
		}
	}
	if err := c.group.Barrier(); err != nil {
		return nil, fmt.Errorf("validation barrier failed: %w", err)
	}

	if rank != 0 {
		return nil, nil
	}
	return c.report(state, iter)
}

// RunLocal is the non-distributed entry point, declared by the interface but
// intentionally unsupported.
func (c *Coordinator) RunLocal(ctx context.Context, ds dataset.Dataset, state *State, iter int) (*Report, error) {
	return nil, ErrNotImplemented
}

// report averages every folder's table over the frame dimension, then
// averages across folders. Folders contribute equally regardless of their
// frame count; that matches the reference behaviour and is deliberate.
func (c *Coordinator) report(state *State, iter int) (*Report, error) {
	folders := state.Folders()
	perFolder := make(map[string][]float64, len(folders))
	for _, folder := range folders {
		perFolder[folder] = state.Table(folder).ColMeans()
	}

	names := make([]string, len(c.scorers))
	totals := make(map[string]float64, len(c.scorers))
	for mi, scorer := range c.scorers {
		names[mi] = scorer.Name()
		var sum float64
		for _, folder := range folders {
			sum += perFolder[folder][mi]
		}
		totals[scorer.Name()] = sum / float64(len(folders))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Validation %s\n", c.opts.DatasetName)
	for mi, scorer := range c.scorers {
		fmt.Fprintf(&sb, "\t # %s: %.4f", scorer.Name(), totals[scorer.Name()])
		for _, folder := range folders {
			fmt.Fprintf(&sb, "\t # %s: %.4f", folder, perFolder[folder][mi])
		}
		sb.WriteString("\n")
	}
	c.logger.Info(sb.String())

	if c.sink != nil {
		for mi, scorer := range c.scorers {
			name := scorer.Name()
			if err := c.sink.AddScalar("metrics/"+name, totals[name], iter); err != nil {
				return nil, err
			}
			for _, folder := range folders {
				if err := c.sink.AddScalar("metrics/"+name+"/"+folder, perFolder[folder][mi], iter); err != nil {
					return nil, err
				}
			}
		}
		if err := c.sink.Flush(); err != nil {
			return nil, err
		}
	}

	return &Report{MetricNames: names, Totals: totals, Folders: perFolder}, nil
}

func (c *Coordinator) saveImagePath(item dataset.Item) string {
	base := saveBaseName(c.opts.DatasetName, item.LQPath)
	suffix := c.opts.Suffix
	if suffix == "" {
		suffix = c.opts.Experiment
	}
	return filepath.Join(c.opts.VizRoot, c.opts.DatasetName, item.Folder,
		base+"_"+suffix+".png")
}

// saveBaseName derives the saved image's base name from the source path.
// Vimeo-style benchmarks store frames as <seq>/<clip>/<frame>.png and need
// all three parts to stay unique; other datasets use the bare file stem.
func saveBaseName(datasetName, lqPath string) string {
	stem := strings.TrimSuffix(filepath.Base(lqPath), filepath.Ext(lqPath))
	if !strings.Contains(strings.ToLower(datasetName), "vimeo") {
		return stem
	}
	parts := strings.Split(filepath.ToSlash(lqPath), "/")
	if len(parts) < 3 {
		return stem
	}
	return parts[len(parts)-3] + "_" + parts[len(parts)-2] + "_" + stem
}

// parseFrameIndex splits a "frame_idx/max_idx" pair. Malformed values are
// dataset bugs and fail the pass.
func parseFrameIndex(s string) (int, int, error) {
	frameStr, maxStr, ok := strings.Cut(s, "/")
	if !ok {
		return 0, 0, fmt.Errorf("malformed frame index %q", s)
	}
	frame, err := strconv.Atoi(frameStr)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed frame index %q: %w", s, err)
	}
	max, err := strconv.Atoi(maxStr)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed frame index %q: %w", s, err)
	}
	return frame, max, nil
}
