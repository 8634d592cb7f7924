package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/uralreduktor/seny/pkg/models"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		return migrate(cfg.Database.ConnectionString(), cfg.MigrationsPath, logger)
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed <file>",
	Short: "Create the presets and classifier nodes described by a YAML file",
	Long: `Create the presets and classifier nodes described by a YAML file and publish
their schemas. Codes that already exist are skipped, so the command can be
re-run after editing the file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.applySeed(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "presets created: %d, nodes created: %d, nodes skipped: %d, schemas published: %d\n",
			stats.PresetsCreated, stats.NodesCreated, stats.NodesSkipped, stats.SchemasPublished)
		return nil
	},
}

var backfillLimit int

var backfillCmd = &cobra.Command{
	Use:   "backfill-embeddings",
	Short: "Embed cards that were stored without an embedding",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		var result *models.EmbeddingBackfillResult
		err = a.db.WithScope(cmd.Context(), func(ctx context.Context) error {
			result, err = a.backfill.Run(ctx, backfillLimit)
			return err
		})
		if err != nil {
			logger.Error("Embedding backfill failed", zap.Error(err))
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "scanned: %d, embedded: %d, failed: %d\n",
			result.Scanned, result.Embedded, result.Failed)
		return nil
	},
}

func init() {
	backfillCmd.Flags().IntVar(&backfillLimit, "limit", 100, "maximum number of cards to embed")

	rootCmd.AddCommand(migrateCmd, seedCmd, backfillCmd)
}
