package cli

import (
	"fmt"
	"os"

	"github.com/dmitrijs2005/docvault/internal/buildinfo"
	"github.com/dmitrijs2005/docvault/internal/cryptox"
	"github.com/dmitrijs2005/docvault/internal/server"
	"github.com/spf13/cobra"
)

func newRotateKeyCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotate-kek",
		Short: "Re-wrap every data key under a new master key",
		Long: `Re-wrap the data key of every document and grant from the current master
key to a new one. Ciphertext is not touched. The new key is read from
VAULT_NEW_MASTER_KEY or prompted for. Restart every vault process with the
new key afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			newKey := os.Getenv("VAULT_NEW_MASTER_KEY")
			if newKey == "" {
				var err error
				if newKey, err = promptMasterKey(cmd.ErrOrStderr(), "New master key (hex): "); err != nil {
					return err
				}
			}

			return run(cmd, opts, func(s *session) error {
				next, err := cryptox.NewEngineFromHex(newKey, s.app.Engine().Algorithm())
				if err != nil {
					return err
				}
				defer next.Close()

				report, err := s.app.Vault.RotateMasterKey(s.ctx, next)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), report)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Re-wrapped %d document key(s) and %d grant key(s)\n", report.Documents, report.Grants)
				return nil
			})
		},
	}
	return cmd
}

func newServeMetricsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve Prometheus metrics until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(s *session) error {
				ctx, stop := server.WithSignals(s.ctx)
				defer stop()
				fmt.Fprintf(cmd.ErrOrStderr(), "Serving metrics on %s\n", s.app.MetricsAddr())
				return s.app.ServeMetrics(ctx, s.app.MetricsAddr())
			})
		},
	}
}

func newVersionInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build-info",
		Short: "Print build version, date and commit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			buildinfo.PrintBuildData(cmd.OutOrStdout())
		},
	}
}
