package main

import (
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/plaidtext/beansync/internal/cli"
	"github.com/plaidtext/beansync/internal/merge"
	"github.com/plaidtext/beansync/internal/resolver"
)

func recategorizeCmd() *cobra.Command {
	var (
		fromDate string
		toDate   string
	)

	cmd := &cobra.Command{
		Use:   "recategorize",
		Short: "Re-apply payee rules to already-written entries",
		Long: `Walk every per-account output file and rewrite the expense posting of
entries whose payee now matches a payee rule pointing at a different
account. Only the matched entries are rewritten; surrounding lines,
comments included, are left untouched.

Examples:
  # Recategorize the whole ledger
  beansync recategorize

  # Only entries from 2024
  beansync recategorize --from 2024-01-01 --to 2024-12-31`,
		RunE: func(_ *cobra.Command, _ []string) error {
			rootPath := viper.GetString("ledger.root")

			var fromTime, toTime *time.Time
			if fromDate != "" {
				parsed, err := time.Parse("2006-01-02", fromDate)
				if err != nil {
					return fmt.Errorf("invalid from date format (use YYYY-MM-DD): %w", err)
				}
				fromTime = &parsed
			}
			if toDate != "" {
				parsed, err := time.Parse("2006-01-02", toDate)
				if err != nil {
					return fmt.Errorf("invalid to date format (use YYYY-MM-DD): %w", err)
				}
				// Set to end of day
				endOfDay := parsed.Add(23*time.Hour + 59*time.Minute + 59*time.Second)
				toTime = &endOfDay
			}
			if fromTime != nil && toTime != nil && fromTime.After(*toTime) {
				return fmt.Errorf("from date must be before to date")
			}

			mappings, err := resolver.Load(rootPath)
			if err != nil {
				return err
			}
			bar := progressbar.NewOptions(len(mappings.OutputFiles()),
				progressbar.OptionSetDescription("Recategorizing"),
				progressbar.OptionClearOnFinish(),
				progressbar.OptionShowCount(),
			)

			count, err := merge.Recategorize(rootPath, merge.RecategorizeOptions{
				FromDate: fromTime,
				ToDate:   toTime,
				OnFile:   func(string) { _ = bar.Add(1) },
			})
			if err != nil {
				return err
			}
			_ = bar.Finish()

			if count == merge.ValidationFailed {
				fmt.Println(cli.FormatError("Ledger failed validation after recategorization; review the rewritten files"))
				return fmt.Errorf("ledger validation failed")
			}
			if count == 0 {
				fmt.Println(cli.FormatInfo("No entries needed recategorization"))
				return nil
			}
			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Recategorized %d entries", count)))
			return nil
		},
	}

	cmd.Flags().StringVar(&fromDate, "from", "", "only consider entries on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&toDate, "to", "", "only consider entries on or before this date (YYYY-MM-DD)")

	return cmd
}
