package cli

import (
	"errors"
	"fmt"

	"github.com/eunmann/opendata-ingest/internal/logctx"
	"github.com/eunmann/opendata-ingest/pkg/pipeline"
	"github.com/spf13/cobra"
)

func newCacheCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached snapshots.",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "purge PATH...",
		Short: "Invalidate the snapshots of the given endpoint paths.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := pipeline.OpenCache(ctx, a.cfg, a.deps())
			if err != nil {
				return err
			}
			defer c.Close()

			log := logctx.FromContext(ctx)
			var errs []error
			for _, path := range args {
				if err := c.Delete(ctx, path); err != nil {
					errs = append(errs, err)
					continue
				}
				log.Info().Str("key", c.Key(path)).Msg("snapshot purged")
			}
			if err := errors.Join(errs...); err != nil {
				return fmt.Errorf("purge: %w", err)
			}
			return nil
		},
	})
	return cmd
}
