package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/eunmann/opendata-ingest/internal/logctx"
	"github.com/eunmann/opendata-ingest/pkg/export"
	"github.com/eunmann/opendata-ingest/pkg/fileutil"
	"github.com/eunmann/opendata-ingest/pkg/logging"
	"github.com/spf13/cobra"
)

func newExportCommand(a *app) *cobra.Command {
	var table, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a materialized table to a Parquet file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if table == "" {
				return errors.New("--table is required")
			}
			if out == "" {
				return errors.New("--out is required")
			}
			ctx := cmd.Context()
			p, closeFn, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			m, ok := p.Table(table)
			if !ok {
				return fmt.Errorf("unknown table %q", table)
			}
			if err := p.Init(ctx, false); err != nil {
				return err
			}
			if m.Builds() == 0 {
				return fmt.Errorf("table %s was not built", table)
			}
			frame := m.Frame()

			if err := fileutil.CleanupTmpFiles(filepath.Dir(out), filepath.Base(out)); err != nil {
				return fmt.Errorf("clean up %s: %w", out, err)
			}
			start := time.Now()
			replaced := fileutil.Exists(out)
			err = fileutil.WriteTmpThenMove(out, func(w io.Writer) error {
				return export.WriteParquet(w, table, frame)
			})
			if err != nil {
				return fmt.Errorf("export %s: %w", table, err)
			}
			info, err := os.Stat(out)
			if err != nil {
				return fmt.Errorf("stat %s: %w", out, err)
			}

			logging.PhaseComplete(logctx.FromContext(ctx), logging.PhaseExport, time.Since(start)).
				Str("table", table).
				Str("path", out).
				Count("rows", int64(frame.Len())).
				Bytes("bytes", info.Size()).
				Bool("replaced", replaced).
				Log("table exported")
			return nil
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "Materialized table name.")
	cmd.Flags().StringVar(&out, "out", "", "Output Parquet file.")
	return cmd
}
