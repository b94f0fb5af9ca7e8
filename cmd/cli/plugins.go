package cli

import (
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/portscan/internal/plugin"
)

func newPluginsCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List port scanner plugins and whether they can run here",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}

			registry := plugin.NewRegistry()
			if err := plugin.RegisterBuiltins(registry); err != nil {
				return err
			}
			deps := plugin.Deps{Config: cfg.ScanningConfig("")}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("ID", "Description", "Selected", "Available")
			for _, id := range registry.IDs() {
				f, _ := registry.Lookup(id)
				selected := ""
				if id == cfg.Scanner.Plugin {
					selected = "*"
				}
				status := "yes"
				if a := registry.Check(cmd.Context(), id, deps); !a.Available {
					status = "no: " + a.Reason
				}
				_ = table.Append([]string{id, f.Description, selected, status})
			}
			return table.Render()
		},
	}
}
