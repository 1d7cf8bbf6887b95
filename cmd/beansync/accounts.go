package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/plaidtext/beansync/internal/cli"
	"github.com/plaidtext/beansync/internal/resolver"
)

func accountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List the accounts declared in the root ledger file",
		RunE: func(_ *cobra.Command, _ []string) error {
			rootPath := viper.GetString("ledger.root")
			mappings, err := resolver.Load(rootPath)
			if err != nil {
				return err
			}

			accounts := mappings.Accounts()
			if len(accounts) == 0 {
				fmt.Println(cli.FormatWarning("No accounts with plaid_account_id metadata found"))
				return nil
			}

			names := make([]string, 0, len(accounts))
			byName := map[string]string{}
			for _, account := range accounts {
				names = append(names, account.LedgerName)
				byName[account.LedgerName] = account.OutputFile
			}
			sort.Strings(names)

			var b strings.Builder
			for i, name := range names {
				if i > 0 {
					b.WriteString("\n")
				}
				fmt.Fprintf(&b, "%s  %s", name, cli.SubtleStyle.Render("→ "+byName[name]))
			}
			fmt.Println(cli.RenderBox(fmt.Sprintf("%d accounts", len(names)), b.String()))

			items := mappings.Items()
			fmt.Println(cli.FormatInfo(fmt.Sprintf("%d linked items", len(items))))
			return nil
		},
	}
}
