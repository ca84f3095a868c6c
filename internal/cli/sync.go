package cli

import (
	"errors"

	"github.com/eunmann/opendata-ingest/internal/logctx"
	"github.com/spf13/cobra"
)

func newSyncCommand(a *app) *cobra.Command {
	var force, watch bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Load every dataset and materialize every table.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if watch && a.cfg.RefreshInterval <= 0 {
				return errors.New("--watch requires a positive --refresh-interval")
			}
			ctx := cmd.Context()
			p, closeFn, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			err = p.Init(ctx, force)
			if !watch {
				return err
			}
			if err != nil {
				log := logctx.FromContext(ctx)
				log.Warn().Err(err).Msg("initial load incomplete")
			}
			return p.Watch(ctx, a.cfg.RefreshInterval)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Ignore cached snapshots and fetch from upstream.")
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep reloading every refresh interval until interrupted.")
	return cmd
}
