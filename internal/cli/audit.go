package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var errChainInvalid = errors.New("audit chain is invalid")

func newTrailCmd(opts *globalOptions) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "trail <document-id>",
		Short: "Show a document's audit trail, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "document id")
			if err != nil {
				return err
			}
			return run(cmd, opts, func(s *session) error {
				entries, total, err := s.app.Ledger.GetTrail(s.ctx, id, limit, offset)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), map[string]any{"entries": entries, "total": total})
				}
				return writeTrail(cmd.OutOrStdout(), entries, total)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

func newVerifyCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <document-id>",
		Short: "Verify a document's audit hash chain",
		Long: `Replay every audit entry of a document from the genesis hash and compare
each recomputed hash with the stored one. Exits non-zero on the first
mismatch, naming the entry.

Examples:
  vault verify 7
  vault verify 7 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "document id")
			if err != nil {
				return err
			}
			return run(cmd, opts, func(s *session) error {
				res, err := s.app.Ledger.VerifyIntegrity(s.ctx, id)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					if err := printJSON(cmd.OutOrStdout(), res); err != nil {
						return err
					}
				} else if res.Valid {
					fmt.Fprintf(cmd.OutOrStdout(), "Document %d: OK (%d entries)\n", id, res.EntriesChecked)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Document %d: TAMPERED at entry %d after %d valid entries: %s\n", id, res.FailedEntryID, res.EntriesChecked, res.Error)
				}
				if !res.Valid {
					return errChainInvalid
				}
				return nil
			})
		},
	}
}
