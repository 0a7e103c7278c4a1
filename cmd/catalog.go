package main

import (
	"os"
	"strconv"

	"github.com/BetterCallFirewall/Intruder/internal/payloads"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newCatalogCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List the built-in payload lists",
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := payloads.DefaultCatalog()
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "Name", "Payloads", "Description"})
			table.SetAutoWrapText(false)
			for _, e := range catalog.Entries() {
				table.Append([]string{e.ID, e.Name, strconv.Itoa(e.Size), e.Description})
			}
			table.Render()
			return nil
		},
	}
}
