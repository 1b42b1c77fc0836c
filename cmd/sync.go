package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-dedup/internal/checkpoint"
	"github.com/sells-group/crm-dedup/internal/contactsync"
	"github.com/sells-group/crm-dedup/internal/dedup"
	"github.com/sells-group/crm-dedup/internal/notify"
	"github.com/sells-group/crm-dedup/internal/resilience"
	"github.com/sells-group/crm-dedup/pkg/google"
)

var (
	syncFull     bool
	syncDryRun   bool
	syncPageSize int
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Add Google Contacts that are missing from the CRM",
	Long: "Lists the Google contacts changed since the last sync (every contact on the first " +
		"run or when the stored sync token has expired), compares them with the Notion " +
		"database by phone, or by name when a contact has no phone, and creates the missing " +
		"ones. The sync token is saved only when every missing contact was created.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := cfg.ValidateGoogle(); err != nil {
			return err
		}

		tokens, closeTokens, err := initTokenStore(ctx)
		if err != nil {
			return err
		}
		if closeTokens != nil {
			defer func() { _ = closeTokens() }()
		}

		svc, err := google.NewPeopleService(ctx, google.Credentials{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RefreshToken: cfg.Google.RefreshToken,
		})
		if err != nil {
			return err
		}

		retry := resilience.FromConfig(cfg.Retry)
		pageSize := cfg.Google.PageSize
		if syncPageSize > 0 {
			pageSize = syncPageSize
		}
		people := google.NewPeopleSyncer(svc,
			google.WithPageSize(pageSize),
			google.WithRateLimit(cfg.Google.RateLimit),
			google.WithRetry(retry),
		)

		source := initNotionSource()
		// The CRM is read in full every time; the dedup checkpoint is left alone.
		loader := dedup.NewFetcher(source, checkpoint.NewMemoryStore(), dedup.FetchConfig{
			DatabaseID:     cfg.Notion.DatabaseID,
			PageSize:       cfg.Fetch.PageSize,
			RequestTimeout: cfg.Notion.RequestTimeout(),
			Retry:          retry,
		})

		syncer := contactsync.NewSyncer(people, tokens, loader, source, notify.New(cfg.Notify), contactsync.Config{
			RequestTimeout: cfg.Notion.RequestTimeout(),
			Retry:          retry,
		})

		res, runErr := syncer.Run(ctx, contactsync.Options{Full: syncFull, DryRun: syncDryRun})
		printSyncSummary(os.Stdout, res, syncDryRun)
		if runErr != nil {
			zap.L().Error("contact sync finished with error", zap.Error(runErr))
		}
		return runErr
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "ignore the stored sync token and list every Google contact")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "list the missing contacts without creating them")
	syncCmd.Flags().IntVar(&syncPageSize, "page-size", 0, "Google contacts per page, 1-1000 (overrides google.page_size)")
	rootCmd.AddCommand(syncCmd)
}

// printSyncSummary writes the counters, the contacts to be created on a dry
// run and every failed creation.
func printSyncSummary(w io.Writer, res *contactsync.Result, dryRun bool) {
	if res == nil {
		return
	}
	mode := "incremental"
	if res.FullSync {
		mode = "full"
	}
	_, _ = fmt.Fprintf(w, "Google %s sync: %d changed, %d deleted; CRM has %d contact(s)\n",
		mode, res.Changed, res.Deleted, res.Existing)

	if dryRun {
		_, _ = fmt.Fprintf(w, "Dry run: %d contact(s) would be created\n", len(res.Missing))
		for _, c := range res.Missing {
			_, _ = fmt.Fprintf(w, "  + %s %s\n", c.Name, c.PrimaryPhone())
		}
		return
	}

	_, _ = fmt.Fprintf(w, "Missing %d, created %d, failed %d\n", len(res.Missing), res.Created, len(res.Failed))
	if res.Pending > 0 {
		_, _ = fmt.Fprintf(w, "Not created (interrupted): %d\n", res.Pending)
	}
	for _, f := range res.Failed {
		_, _ = fmt.Fprintf(w, "  FAILED %s: %v\n", f.Contact.Name, f.Err)
	}
	if !res.TokenSaved {
		_, _ = fmt.Fprintln(w, "Sync token not advanced; the next run lists these changes again")
	}
}
