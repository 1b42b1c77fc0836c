package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/sells-group/crm-dedup/internal/dedup"
	"github.com/sells-group/crm-dedup/internal/model"
	"github.com/sells-group/crm-dedup/internal/report"
)

var (
	dedupReset      bool
	dedupDryRun     bool
	dedupPageSize   int
	dedupBatchSize  int
	dedupYes        bool
	dedupReportPath string
	dedupOutput     string
	dedupMaxDur     time.Duration
)

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Fetch contacts, detect duplicates and archive them",
	Long: "Fetches every contact of the configured Notion database, resuming from the " +
		"checkpoint when one exists, groups duplicates and archives every record but the " +
		"most recently edited one of each group. Archival needs confirmation unless --yes is given.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		switch dedupOutput {
		case report.FormatText, report.FormatJSON, report.FormatYAML:
		default:
			return eris.Errorf("unsupported output format %q (want text, json or yaml)", dedupOutput)
		}

		env, err := initPipeline(ctx, pipelineOverrides{
			PageSize:  dedupPageSize,
			BatchSize: dedupBatchSize,
		})
		if err != nil {
			return err
		}
		defer env.Close()

		maxDuration := cfg.Archive.MaxDuration()
		if dedupMaxDur > 0 {
			maxDuration = dedupMaxDur
		}

		p := &presenter{out: os.Stdout, format: dedupOutput, reportPath: dedupReportPath}
		opts := dedup.RunOptions{
			Reset:       dedupReset,
			DryRun:      dedupDryRun,
			MaxDuration: maxDuration,
			Confirm: func(ctx context.Context, groups []model.DuplicateGroup, decisions []model.Decision) (bool, error) {
				if err := p.present(groups, decisions); err != nil {
					return false, err
				}
				return confirmArchive(ctx, os.Stdin, os.Stderr, dedupYes, term.IsTerminal(int(os.Stdin.Fd())), len(decisions))
			},
		}

		outcome, runErr := env.Pipeline.Run(ctx, opts)
		if runErr == nil {
			if err := p.present(outcome.Groups, outcome.Decisions); err != nil {
				return err
			}
		}

		printSummary(os.Stderr, outcome)
		if runErr != nil {
			zap.L().Error("dedup run finished with error", zap.String("run_id", outcome.RunID), zap.Error(runErr))
		}
		return runErr
	},
}

func init() {
	dedupCmd.Flags().BoolVar(&dedupReset, "reset", false, "discard the checkpoint and fetch every contact again")
	dedupCmd.Flags().BoolVar(&dedupDryRun, "dry-run", false, "compute decisions without archiving anything")
	dedupCmd.Flags().IntVar(&dedupPageSize, "page-size", 0, "contacts per page, 1-100 (overrides fetch.page_size)")
	dedupCmd.Flags().IntVar(&dedupBatchSize, "batch-size", 0, "decisions per archive batch (overrides archive.batch_size)")
	dedupCmd.Flags().BoolVarP(&dedupYes, "yes", "y", false, "archive without asking for confirmation")
	dedupCmd.Flags().StringVar(&dedupReportPath, "report", "", "write the duplicate groups to this .xlsx file")
	dedupCmd.Flags().DurationVar(&dedupMaxDur, "max-duration", 0, "stop archiving after this long, keeping the checkpoint (overrides archive.max_minutes)")
	dedupCmd.Flags().StringVarP(&dedupOutput, "output", "o", report.FormatText, "decision output format: text, json or yaml")
	rootCmd.AddCommand(dedupCmd)
}

// presenter prints the decisions and writes the spreadsheet report once per
// run, whichever of confirmation or dry run comes first.
type presenter struct {
	out        io.Writer
	format     string
	reportPath string
	done       bool
}

func (p *presenter) present(groups []model.DuplicateGroup, decisions []model.Decision) error {
	if p.done {
		return nil
	}
	p.done = true

	if err := report.WriteDecisions(p.out, p.format, decisions); err != nil {
		return eris.Wrap(err, "print decisions")
	}
	if p.reportPath != "" {
		if err := report.WriteXLSX(p.reportPath, groups); err != nil {
			return err
		}
		zap.L().Info("duplicate report written", zap.String("path", p.reportPath), zap.Int("groups", len(groups)))
	}
	return nil
}

// errNotInteractive is returned when confirmation is needed but stdin is not
// a terminal.
var errNotInteractive = eris.New("stdin is not a terminal; pass --yes to archive without confirmation")

// confirmArchive asks the operator to approve archival. Only "y" or "yes"
// approves. Cancelling ctx while waiting for an answer aborts the prompt.
func confirmArchive(ctx context.Context, in io.Reader, out io.Writer, assumeYes, interactive bool, n int) (bool, error) {
	if assumeYes {
		return true, nil
	}
	if !interactive {
		return false, errNotInteractive
	}

	_, _ = fmt.Fprintf(out, "Apply %d decision(s) to Notion? [y/N]: ", n)

	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(in).ReadString('\n')
		answer <- line
	}()

	select {
	case <-ctx.Done():
		_, _ = fmt.Fprintln(out)
		return false, ctx.Err()
	case line := <-answer:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}

// printSummary writes the final counters and every failed decision.
func printSummary(w io.Writer, o *dedup.Outcome) {
	s := o.Summary
	if o.RunID != "" {
		_, _ = fmt.Fprintf(w, "Run %s\n", o.RunID)
	}
	switch {
	case s.DryRun:
		_, _ = fmt.Fprintf(w, "Dry run: fetched %d, groups %d, decisions %d\n", s.Fetched, s.Groups, s.Decisions)
	default:
		_, _ = fmt.Fprintf(w, "Fetched %d, groups %d, archived %d, skipped %d, failed %d\n",
			s.Fetched, s.Groups, s.Applied, s.Skipped, s.Failed)
	}
	if s.Pending > 0 {
		_, _ = fmt.Fprintf(w, "Not applied (interrupted): %d\n", s.Pending)
	}
	for _, f := range o.Result.Failed {
		_, _ = fmt.Fprintf(w, "  FAILED %s %s: %v\n", f.Decision.Action, f.Decision.RecordID, f.Err)
	}
}
