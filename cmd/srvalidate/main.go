package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/framelab/sreval/internal/collective"
	"github.com/framelab/sreval/internal/config"
	"github.com/framelab/sreval/internal/dataset"
	"github.com/framelab/sreval/internal/extractor"
	"github.com/framelab/sreval/internal/infer"
	"github.com/framelab/sreval/internal/storage"
	"github.com/framelab/sreval/internal/tracker"
	"github.com/framelab/sreval/internal/validate"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	return slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: "15:04:05",
		}),
	)
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "srvalidate",
		Short:         "Distributed validation runner for video super-resolution models",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to the run configuration")
	root.AddCommand(newRunCmd(&cfgPath))
	root.AddCommand(newExtractCmd())
	root.AddCommand(newInitDBCmd(&cfgPath))
	return root
}

func newRunCmd(cfgPath *string) *cobra.Command {
	var rank int
	var iter int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run this worker's share of a validation pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if rank >= 0 {
				if rank >= len(cfg.Cluster.Peers) {
					return fmt.Errorf("--rank %d out of range [0,%d)", rank, len(cfg.Cluster.Peers))
				}
				cfg.Cluster.Rank = rank
			}
			return runValidation(cmd.Context(), cfg, iter)
		},
	}
	cmd.Flags().IntVar(&rank, "rank", -1, "override the configured worker rank")
	cmd.Flags().IntVar(&iter, "iter", 0, "training iteration counter used as the tracking step")
	return cmd
}

func runValidation(ctx context.Context, cfg *config.Config, iter int) error {
	logger := newLogger()

	scorers, err := cfg.Scorers()
	if err != nil {
		return err
	}

	ds, err := dataset.Open(cfg.Dataset.Name, cfg.Dataset.LQRoot, cfg.Dataset.GTRoot)
	if err != nil {
		return err
	}

	peers, err := collective.ParsePeerList(cfg.Cluster.Peers)
	if err != nil {
		return err
	}
	group, err := collective.New(peers[cfg.Cluster.Rank], peers, logger)
	if err != nil {
		return err
	}
	defer group.Close()

	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}

	var sink tracker.Sink
	if cfg.Paths.Events != "" {
		sink = tracker.NewJSONLSink(cfg.Paths.Events)
	}

	coord := validate.New(engine, group, scorers, sink, logger, validate.Options{
		DatasetName: cfg.Dataset.Name,
		IsTraining:  cfg.IsTrain,
		SaveImages:  cfg.Validation.SaveImages,
		VizRoot:     cfg.Paths.Visualization,
		Suffix:      cfg.Validation.Suffix,
		Experiment:  cfg.Experiment,
	})

	logger.Info("starting validation",
		"dataset", cfg.Dataset.Name,
		"frames", ds.Len(),
		"rank", group.Rank(),
		"world_size", group.Size())

	state := validate.NewState()
	report, err := coord.RunDistributed(ctx, ds, state, iter)
	if err != nil {
		return err
	}

	if report != nil && cfg.Postgres != nil {
		store, err := storage.NewPostgresStore(ctx, storage.PostgresConfig{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			DBName:   cfg.Postgres.DBName,
		})
		if err != nil {
			return err
		}
		defer store.Close()

		totals := make([]float64, len(report.MetricNames))
		for i, name := range report.MetricNames {
			totals[i] = report.Totals[name]
		}
		runID, err := store.SaveRun(ctx, storage.RunResult{
			Experiment:  cfg.Experiment,
			Dataset:     cfg.Dataset.Name,
			Iteration:   iter,
			MetricNames: report.MetricNames,
			Totals:      totals,
			Folders:     report.Folders,
		})
		if err != nil {
			return err
		}
		logger.Info("stored validation run", "run_id", runID.String())
	}

	return nil
}

func newEngine(cfg *config.Config) (infer.Engine, error) {
	switch cfg.Engine.Type {
	case config.EngineBicubic:
		return infer.NewBicubicEngine(cfg.Engine.Scale)
	case config.EngineHTTP:
		return infer.NewHTTPEngine(cfg.Engine.Endpoint), nil
	}
	return nil, fmt.Errorf("unknown engine type %q", cfg.Engine.Type)
}

func newExtractCmd() *cobra.Command {
	var root string
	var parallel int

	cmd := &cobra.Command{
		Use:   "extract <video>...",
		Short: "Decode source videos into the dataset frame layout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			g, _ := errgroup.WithContext(cmd.Context())
			g.SetLimit(parallel)
			for _, video := range args {
				video := video
				g.Go(func() error {
					return extractor.ExtractFrames(logger, video, root)
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&root, "root", "data/frames", "dataset root to extract into")
	cmd.Flags().IntVar(&parallel, "parallel", 4, "videos to decode concurrently")
	return cmd
}

func newInitDBCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the results database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if cfg.Postgres == nil {
				return fmt.Errorf("config has no postgres section")
			}
			return storage.InitSchema(cmd.Context(), storage.PostgresConfig{
				Host:     cfg.Postgres.Host,
				Port:     cfg.Postgres.Port,
				User:     cfg.Postgres.User,
				Password: cfg.Postgres.Password,
				DBName:   cfg.Postgres.DBName,
			})
		},
	}
}
