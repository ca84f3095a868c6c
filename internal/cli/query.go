package cli

import (
	"encoding/json"
	"fmt"

	"github.com/eunmann/opendata-ingest/pkg/groupindex"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Query levels.
const (
	LevelYear       = "year"
	LevelYearOffice = "year-office"
)

func newQueryCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query materialized aggregates.",
	}
	cmd.AddCommand(newQueryFiscalCommand(a))
	return cmd
}

func newQueryFiscalCommand(a *app) *cobra.Command {
	var (
		level      string
		start, end int
		page, size int
	)
	cmd := &cobra.Command{
		Use:   "fiscal",
		Short: "Print a page of the per-year budget aggregates as JSON.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if level != LevelYear && level != LevelYearOffice {
				return fmt.Errorf("invalid --level %q: must be %s or %s", level, LevelYear, LevelYearOffice)
			}
			ctx := cmd.Context()
			p, closeFn, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := p.Init(ctx, false); err != nil {
				return err
			}

			from, to := optionalInt(cmd.Flags(), "start", start), optionalInt(cmd.Flags(), "end", end)
			var out groupindex.Page
			if level == LevelYear {
				out, err = p.Fiscal().ByYear(from, to, page, size)
			} else {
				out, err = p.Fiscal().ByYearOffice(from, to, page, size)
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(a.stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&level, "level", LevelYear, "Aggregate level: year or year-office.")
	cmd.Flags().IntVar(&start, "start", 0, "First year, inclusive.")
	cmd.Flags().IntVar(&end, "end", 0, "Last year, exclusive.")
	cmd.Flags().IntVar(&page, "page", 1, "Page number, 1-based.")
	cmd.Flags().IntVar(&size, "size", 50, "Year buckets per page.")
	return cmd
}

// optionalInt returns nil unless the named flag was set.
func optionalInt(fs *pflag.FlagSet, name string, v int) *int {
	if !fs.Changed(name) {
		return nil
	}
	return &v
}
