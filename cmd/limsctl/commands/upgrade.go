package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"limscore/pkg/domain"
	"limscore/plugins/lims"
)

func productArg(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return lims.Product
}

func newUpgradeCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Inspect and run upgrade steps",
	}
	cmd.AddCommand(newUpgradeRunCommand(opts), newUpgradeStatusCommand(opts))
	return cmd
}

func newUpgradeRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run [product]",
		Short: "Run every pending upgrade step of a product",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), opts.bootstrapOptions(cmd))
			if err != nil {
				return err
			}
			defer func() { _ = a.close() }()

			product := productArg(args)
			outcomes, err := a.svc.RunUpgrades(cmd.Context(), product)
			out := cmd.OutOrStdout()
			for _, o := range outcomes {
				fmt.Fprintf(out, "%s %s: %s\n", product, o.Version, o.Status)
			}
			if err != nil {
				return fmt.Errorf("upgrade %s: %w", product, err)
			}
			return nil
		},
	}
}

type upgradeReport struct {
	Product   string                 `json:"product"`
	Installed string                 `json:"installed,omitempty"`
	Pending   []string               `json:"pending"`
	History   []domain.UpgradeRecord `json:"history"`
}

func newUpgradeStatusCommand(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status [product]",
		Short: "Show the installed version and pending steps of a product",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, opts.bootstrapOptions(cmd))
			if err != nil {
				return err
			}
			defer func() { _ = a.close() }()

			report := upgradeReport{Product: productArg(args), Pending: []string{}}
			runner := a.svc.Upgrades()
			if report.Installed, _, err = runner.InstalledVersion(ctx, report.Product); err != nil {
				return err
			}
			pending, err := runner.Pending(ctx, report.Product)
			if err != nil {
				return err
			}
			for _, step := range pending {
				report.Pending = append(report.Pending, step.Version)
			}
			if report.History, err = runner.History(ctx, report.Product); err != nil {
				return err
			}
			if report.History == nil {
				report.History = []domain.UpgradeRecord{}
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func printReport(w io.Writer, r upgradeReport) {
	installed := r.Installed
	if installed == "" {
		installed = "(unknown)"
	}
	fmt.Fprintf(w, "product:   %s\n", r.Product)
	fmt.Fprintf(w, "installed: %s\n", installed)
	if len(r.Pending) == 0 {
		fmt.Fprintln(w, "pending:   none")
	} else {
		fmt.Fprintln(w, "pending:")
		for _, v := range r.Pending {
			fmt.Fprintf(w, "  - %s\n", v)
		}
	}
	for _, rec := range r.History {
		line := fmt.Sprintf("history:   %s %s", rec.Version, rec.Status)
		if rec.Error != "" {
			line += " (" + rec.Error + ")"
		}
		fmt.Fprintln(w, line)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
