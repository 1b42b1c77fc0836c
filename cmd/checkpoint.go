package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-dedup/internal/model"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or clear the fetch checkpoint",
}

var checkpointStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show how far the contact fetch has progressed",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cps, closeFn, err := initCheckpoint(ctx)
		if err != nil {
			return err
		}
		if closeFn != nil {
			defer closeFn() //nolint:errcheck
		}

		cp, err := cps.Load(ctx)
		if err != nil {
			return err
		}
		formatCheckpointStatus(os.Stdout, cp)
		return nil
	},
}

var checkpointClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the checkpoint so the next run fetches everything again",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cps, closeFn, err := initCheckpoint(ctx)
		if err != nil {
			return err
		}
		if closeFn != nil {
			defer closeFn() //nolint:errcheck
		}

		if err := cps.Clear(ctx); err != nil {
			return err
		}
		zap.L().Info("checkpoint cleared", zap.String("driver", cfg.Checkpoint.Driver))
		fmt.Fprintln(os.Stderr, "Checkpoint cleared.")
		return nil
	},
}

func init() {
	checkpointCmd.AddCommand(checkpointStatusCmd)
	checkpointCmd.AddCommand(checkpointClearCmd)
	rootCmd.AddCommand(checkpointCmd)
}

// formatCheckpointStatus writes a short description of cp to out. A nil
// checkpoint means nothing has been fetched yet.
func formatCheckpointStatus(out io.Writer, cp *model.Checkpoint) {
	if cp == nil {
		_, _ = fmt.Fprintln(out, "No checkpoint.")
		return
	}

	archived := 0
	for _, r := range cp.Records {
		if r.Archived {
			archived++
		}
	}

	state := "in progress"
	if cp.Completed {
		state = "complete"
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Database:\t%s\n", cp.DatabaseID)
	_, _ = fmt.Fprintf(w, "State:\t%s\n", state)
	_, _ = fmt.Fprintf(w, "Pages:\t%d\n", cp.Pages)
	_, _ = fmt.Fprintf(w, "Records:\t%d (%d archived)\n", len(cp.Records), archived)
	if !cp.Completed && cp.Cursor != "" {
		_, _ = fmt.Fprintf(w, "Next cursor:\t%s\n", cp.Cursor)
	}
	if !cp.UpdatedAt.IsZero() {
		_, _ = fmt.Fprintf(w, "Updated:\t%s UTC\n", cp.UpdatedAt.UTC().Format(time.DateTime))
	}
	_ = w.Flush()
}
