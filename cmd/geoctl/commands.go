package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/nabachouhan/gatishakti3.0/internal/config"
	"github.com/nabachouhan/gatishakti3.0/internal/db"
	"github.com/nabachouhan/gatishakti3.0/internal/ingest"
	"github.com/nabachouhan/gatishakti3.0/internal/layers"
)

func connect(cmd *cobra.Command) (*config.Config, *gorm.DB, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	log := cfg.NewLogger()
	d, err := db.Connect(cmd.Context(), cfg.DatabaseURL, log)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, d, log, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending catalog migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, d, log, err := connect(cmd)
			if err != nil {
				return err
			}
			defer db.Close(d)
			if err := db.Migrate(cmd.Context(), d); err != nil {
				return err
			}
			log.Info("catalog up to date")
			return nil
		},
	}
}

func newIngestCmd() *cobra.Command {
	var (
		srid        int
		mode        string
		title       string
		description string
	)
	cmd := &cobra.Command{
		Use:   "ingest <department> <layer> <archive.zip>",
		Short: "Load a local shapefile archive as a layer",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := ingest.ParseMode(mode)
			if err != nil {
				return err
			}
			cfg, d, log, err := connect(cmd)
			if err != nil {
				return err
			}
			defer db.Close(d)

			pipeline, err := layers.Init(cmd.Context(), d, cfg, log)
			if err != nil {
				return err
			}

			f, err := os.Open(args[2])
			if err != nil {
				return err
			}
			defer f.Close()

			req := ingest.Request{Department: args[0], Layer: args[1], SRID: srid, Mode: m}
			if cmd.Flags().Changed("title") {
				req.Title = &title
			}
			if cmd.Flags().Changed("description") {
				req.Description = &description
			}

			res, err := pipeline.Run(cmd.Context(), req, &ingest.Upload{Filename: filepath.Base(args[2]), Body: f})
			if err != nil {
				return fmt.Errorf("%s: %w", ingest.MessageForError(err), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s loaded: srid=%d type=%s (%s)\n",
				res.Table, res.SRID, res.GeometryType, res.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().IntVar(&srid, "srid", 0, "EPSG code of the source data (required)")
	cmd.Flags().StringVar(&mode, "mode", string(ingest.ModeCreate), `"create" a new layer or "replace" an existing one`)
	cmd.Flags().StringVar(&title, "title", "", "layer title")
	cmd.Flags().StringVar(&description, "description", "", "layer description")
	_ = cmd.MarkFlagRequired("srid")
	return cmd
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove stale job workspaces from the scratch directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			n, err := ingest.NewSweeper(cfg.ScratchDir, cfg.SweepMaxAge, cfg.NewLogger()).Sweep()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d workspace(s)\n", n)
			return nil
		},
	}
}
