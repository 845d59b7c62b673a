package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/docvault/internal/common"
	"github.com/dmitrijs2005/docvault/internal/server/models"
	"github.com/dmitrijs2005/docvault/internal/server/services"
	"github.com/spf13/cobra"
)

// parseExpiry accepts a duration from now ("72h") or an RFC 3339 time.
func parseExpiry(s string, now time.Time) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		t := now.Add(d)
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("%w: --expires must be a duration or RFC 3339 time", common.ErrValidation)
	}
	return &t, nil
}

func newShareCmd(opts *globalOptions) *cobra.Command {
	var (
		email        string
		perms        []string
		maxDownloads int
		expires      string
		requiresAuth bool
	)

	cmd := &cobra.Command{
		Use:   "share <document-id>",
		Short: "Create an access grant and print its token",
		Long: `Create an access grant for a document. The bearer token is printed once
and is not stored anywhere else in readable form.

Examples:
  vault share 7 --email bob@example.com --max-downloads 1 --expires 72h
  vault share 7 --grantee 42 --perm view --perm sign`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "document id")
			if err != nil {
				return err
			}
			expiresAt, err := parseExpiry(expires, time.Now())
			if err != nil {
				return err
			}

			req := services.ShareRequest{
				DocumentID:   id,
				GranteeID:    optionalID(cmd, "grantee"),
				GranteeEmail: email,
				ExpiresAt:    expiresAt,
				RequiresAuth: requiresAuth,
			}
			for _, p := range perms {
				req.Permissions = append(req.Permissions, models.Permission(p))
			}
			if cmd.Flags().Changed("max-downloads") {
				req.MaxDownloads = &maxDownloads
			}

			return run(cmd, opts, func(s *session) error {
				grant, token, err := s.app.Grants.Share(s.ctx, req)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), map[string]any{"grant": viewGrant(grant), "token": token})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Grant %d\nToken %s\n", grant.ID, token)
				return nil
			})
		},
	}
	cmd.Flags().Int64("grantee", 0, "grantee user id")
	cmd.Flags().StringVar(&email, "email", "", "grantee email for external sharing")
	cmd.Flags().StringSliceVar(&perms, "perm", nil, "permission (view|download|sign), repeatable (default view,download)")
	cmd.Flags().IntVar(&maxDownloads, "max-downloads", 0, "download limit")
	cmd.Flags().StringVar(&expires, "expires", "", "expiry as duration from now or RFC 3339 time")
	cmd.Flags().BoolVar(&requiresAuth, "requires-auth", false, "require an authenticated recipient")
	return cmd
}

func newRevokeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <grant-id>",
		Short: "Revoke one access grant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "grant id")
			if err != nil {
				return err
			}
			return run(cmd, opts, func(s *session) error {
				if err := s.app.Grants.Revoke(s.ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Revoked grant %d\n", id)
				return nil
			})
		},
	}
}

func newRevokeAllCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke-all <document-id>",
		Short: "Revoke every access grant of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "document id")
			if err != nil {
				return err
			}
			return run(cmd, opts, func(s *session) error {
				n, err := s.app.Grants.RevokeAll(s.ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Revoked %d grant(s) of document %d\n", n, id)
				return nil
			})
		},
	}
}

func newDownloadCmd(opts *globalOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "download <token>",
		Short: "Download a shared document with a bearer token",
		Long: `Validate a token, decrypt the document with the grant's key and count
the download. Denials report revoked, expired, limit reached or unavailable.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(s *session) error {
				plaintext, _, err := s.app.Grants.Download(s.ctx, args[0])
				if err != nil {
					// recipients only learn why access was refused
					return errors.New(common.PublicMessage(err))
				}
				return writeContent(cmd, out, plaintext)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: stdout)")
	return cmd
}

func newGrantsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "grants <document-id>",
		Short: "List active grants of a document, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "document id")
			if err != nil {
				return err
			}
			return run(cmd, opts, func(s *session) error {
				grants, err := s.app.Grants.ListGrants(s.ctx, id)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					views := make([]grantView, len(grants))
					for i, g := range grants {
						views[i] = viewGrant(g)
					}
					return printJSON(cmd.OutOrStdout(), views)
				}
				return writeGrants(cmd.OutOrStdout(), grants)
			})
		},
	}
}

func newSharedWithCmd(opts *globalOptions) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "shared-with <user-id>",
		Short: "List documents shared with a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "user id")
			if err != nil {
				return err
			}
			return run(cmd, opts, func(s *session) error {
				docs, total, err := s.app.Grants.ListSharedWith(s.ctx, id, limit, offset)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					views := make([]documentView, len(docs))
					for i, d := range docs {
						views[i] = viewDocument(d)
					}
					return printJSON(cmd.OutOrStdout(), map[string]any{"documents": views, "total": total})
				}
				return writeDocuments(cmd.OutOrStdout(), docs, total)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}
