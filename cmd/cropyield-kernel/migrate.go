package main

import (
	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var seed bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the store schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			storeCfg := opts.cfg.Store
			storeCfg.SeedDemo = storeCfg.SeedDemo || seed

			store, err := openStore(ctx, storeCfg)
			if err != nil {
				opts.logger.Error("migration failed", "error", err)
				return err
			}
			defer store.Close()

			// opening a store applies the schema; memory needs nothing more
			if err := store.Migrate(ctx); err != nil {
				opts.logger.Error("migration failed", "error", err)
				return err
			}
			opts.logger.Info("schema applied", "driver", storeCfg.Driver, "seeded", storeCfg.SeedDemo)
			return nil
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "load the demo catalog and yield history")
	return cmd
}
