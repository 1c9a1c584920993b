package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// newDispatchCmd runs one sweep and executes what it dispatched before
// exiting, so no row is left marked dispatched without a consumer.
func newDispatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Run a single dispatch sweep and print the number of dispatched tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts.logger, opts.cfg)
			if err != nil {
				opts.logger.Error("dispatch failed", "error", err)
				return err
			}

			n, sweepErr := a.consumer.DrainDuring(ctx, a.scheduler.Sweep)
			if sweepErr != nil {
				opts.logger.Error("dispatch failed", "error", sweepErr)
			}

			if err := a.shutdown(context.WithoutCancel(ctx)); err != nil && sweepErr == nil {
				return err
			}
			if sweepErr != nil {
				return sweepErr
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}
