package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-dedup/internal/checkpoint"
	"github.com/sells-group/crm-dedup/internal/config"
	"github.com/sells-group/crm-dedup/internal/contactsync"
	"github.com/sells-group/crm-dedup/internal/dedup"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "crm-dedup",
	Short: "Find and archive duplicate contacts in a Notion CRM",
	Long: "Fetches every contact of a Notion CRM database with a resumable checkpoint, " +
		"groups duplicates by phone or by name and address, keeps the most recently edited " +
		"record of each group and archives the rest. The sync command adds Google Contacts " +
		"missing from the CRM.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// Process exit codes.
const (
	exitOK           = 0
	exitError        = 1 // generic error, FetchFailed, interrupted, declined
	exitRejected     = 2 // FetchRejected or a corrupt checkpoint
	exitArchiveFails = 3 // one or more decisions or contacts could not be applied
)

// exitCode maps a command error to the process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, dedup.ErrFetchRejected), errors.Is(err, checkpoint.ErrCorrupt):
		return exitRejected
	case errors.Is(err, dedup.ErrArchiveFailed), errors.Is(err, contactsync.ErrCreateFailed):
		return exitArchiveFails
	default:
		return exitError
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}
