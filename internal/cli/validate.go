package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/stampede/internal/report"
)

func newValidateCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config]",
		Short: "Check a config file, or a report with --report",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if path, _ := cmd.Flags().GetString("report"); path != "" {
				return validateReport(cmd, path)
			}

			cfg, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}

			var errs []error
			if len(cfg.Scenarios) > 0 {
				errs = append(errs, cfg.Validate())
			}
			if cfg.Stress != nil {
				errs = append(errs, cfg.ValidateStress())
			}
			if len(cfg.Benchmarks) > 0 {
				errs = append(errs, cfg.ValidateBenchmarks())
			}
			if len(errs) == 0 {
				errs = append(errs, errors.New("config defines no scenarios or benchmarks"))
			}
			if err := errors.Join(errs...); err != nil {
				return configError(err)
			}
			if !g.quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: config is valid (%d scenario(s), %d benchmark(s))\n",
					cfg.Name, len(cfg.Scenarios), len(cfg.Benchmarks))
			}
			return nil
		},
	}
	cmd.Flags().StringP("config", "c", "", "path to a YAML or JSON config file")
	cmd.Flags().String("report", "", "validate a load test JSON report against its schema instead")
	return cmd
}

func validateReport(cmd *cobra.Command, path string) error {
	if _, err := report.ReadTestResult(path); err != nil {
		return configError(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: report is valid\n", path)
	return nil
}
