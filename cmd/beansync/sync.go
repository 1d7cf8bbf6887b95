package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/plaidtext/beansync/internal/cli"
	"github.com/plaidtext/beansync/internal/engine"
	"github.com/plaidtext/beansync/internal/plaid"
	"github.com/plaidtext/beansync/internal/storage"
)

func syncCmd() *cobra.Command {
	var (
		archivePath     string
		noArchive       bool
		pageSize        int
		investmentsFrom string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch new transactions and merge them into the ledger",
		Long: `Fetch new transactions for every item declared in the root ledger file
and merge them into per-account beancount files.

Cursor positions are recorded in the root file as plaid_cursor custom
directives, so repeated runs only fetch what is new. Items whose login
has expired are skipped with a warning; relink them and run again.

Examples:
  # Sync everything declared in ledger.beancount
  beansync sync

  # Sync a different root file without archiving raw records
  beansync sync --ledger ~/finances/main.beancount --no-archive`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rootPath := viper.GetString("ledger.root")

			plaidCfg := plaid.Config{
				ClientID:    viper.GetString("plaid.client_id"),
				Secret:      viper.GetString("plaid.secret"),
				Environment: viper.GetString("plaid.environment"),
			}
			client, err := plaid.NewClient(plaidCfg)
			if err != nil {
				return err
			}

			var opts []engine.Option
			if pageSize > 0 {
				opts = append(opts, engine.WithPageSize(pageSize))
			}
			if investmentsFrom != "" {
				start, parseErr := time.Parse("2006-01-02", investmentsFrom)
				if parseErr != nil {
					return fmt.Errorf("invalid investments-from date (use YYYY-MM-DD): %w", parseErr)
				}
				opts = append(opts, engine.WithInvestmentStart(start))
			}
			if !noArchive {
				archive, archiveErr := storage.NewSQLiteArchive(resolveArchivePath(archivePath, rootPath))
				if archiveErr != nil {
					slog.Warn("Archive unavailable, continuing without it", "error", archiveErr)
				} else {
					defer func() { _ = archive.Close() }()
					opts = append(opts, engine.WithArchive(archive))
				}
			}

			syncer := engine.New(client, opts...)
			result, err := syncer.Sync(ctx, rootPath)
			if err != nil {
				return err
			}

			printSyncResult(result)
			if len(result.FailedItems) > 0 {
				return fmt.Errorf("sync failed for items: %s", strings.Join(result.FailedItems, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&archivePath, "archive", "", "path to the raw-record archive database (default: <ledger dir>/.beansync/archive.db)")
	cmd.Flags().BoolVar(&noArchive, "no-archive", false, "skip archiving raw fetched records")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "transactions per sync page (default 100)")
	cmd.Flags().StringVar(&investmentsFrom, "investments-from", "", "start of the investment history window (YYYY-MM-DD)")

	return cmd
}

func resolveArchivePath(explicit, rootPath string) string {
	if explicit != "" {
		return explicit
	}
	return filepath.Join(filepath.Dir(rootPath), ".beansync", "archive.db")
}

func printSyncResult(result *engine.Result) {
	fmt.Println(cli.FormatTitle("Sync complete"))
	fmt.Printf("  Items synced:    %d\n", result.ItemsSynced)
	fmt.Printf("  Fetched:         %d\n", result.TransactionsFetched)
	fmt.Printf("  Entries written: %d\n", result.EntriesWritten)

	if result.ClassificationFailures > 0 {
		fmt.Println(cli.FormatWarning(fmt.Sprintf("%d records could not be classified; see the log for raw payloads", result.ClassificationFailures)))
	}
	for _, item := range result.SkippedItems {
		fmt.Println(cli.FormatWarning(fmt.Sprintf("Item %s needs reauthorization; relink it with Plaid Link and sync again", item)))
	}
	for _, item := range result.FailedItems {
		fmt.Println(cli.FormatError(fmt.Sprintf("Item %s failed to sync", item)))
	}
	if len(result.SkippedItems) == 0 && len(result.FailedItems) == 0 {
		fmt.Println(cli.FormatSuccess("All items synced"))
	}
}
