package cli

import (
	"github.com/spf13/cobra"
)

func newReportsCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Browse stored scan reports",
		Long: `Browse reports saved with "portscan scan --save". The store is
selected by the store section of the config file.`,
	}
	cmd.AddCommand(newReportsListCommand(root), newReportsShowCommand(root))
	return cmd
}

func newReportsListCommand(root *rootOptions) *cobra.Command {
	var (
		limit  int
		format string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored reports, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			s, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			summaries, err := s.ListReports(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return renderSummaries(cmd.OutOrStdout(), format, summaries)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of reports")
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "output format: table, json")
	return cmd
}

func newReportsShowCommand(root *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show the services of a stored report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			s, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			report, err := s.GetReport(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if format == formatJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			return renderReport(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "output format: table, json")
	return cmd
}
