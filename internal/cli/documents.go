package cli

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dmitrijs2005/docvault/internal/common"
	"github.com/dmitrijs2005/docvault/internal/server/models"
	"github.com/dmitrijs2005/docvault/internal/server/services"
	"github.com/spf13/cobra"
)

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", common.ErrValidation, what, s)
	}
	return id, nil
}

func detectMime(filename string) string {
	if t := mime.TypeByExtension(filepath.Ext(filename)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func optionalID(cmd *cobra.Command, name string) *int64 {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetInt64(name)
	return &v
}

// writeContent writes plaintext to path, or to stdout when path is empty or "-".
func writeContent(cmd *cobra.Command, path string, data []byte) error {
	defer common.WipeByteArray(data)
	if path == "" || path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func newStoreCmd(opts *globalOptions) *cobra.Command {
	var title, mimeType string

	cmd := &cobra.Command{
		Use:   "store <file>",
		Short: "Encrypt and store a file",
		Long: `Encrypt a file under a fresh data key and store it as version 1 of a
new document.

Examples:
  vault store contract.pdf --title "Lease 2024" --case 12`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			defer common.WipeByteArray(content)

			filename := filepath.Base(args[0])
			if title == "" {
				title = filename
			}
			if mimeType == "" {
				mimeType = detectMime(filename)
			}

			return run(cmd, opts, func(s *session) error {
				doc, err := s.app.Vault.Store(s.ctx, services.StoreRequest{
					Content:    content,
					Title:      title,
					Filename:   filename,
					MimeType:   mimeType,
					CaseID:     optionalID(cmd, "case"),
					CategoryID: optionalID(cmd, "category"),
				})
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), viewDocument(doc))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored document %d (%s), sha256 %s\n", doc.ID, doc.UUID, doc.ContentHash)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "document title (default: file name)")
	cmd.Flags().StringVar(&mimeType, "mime", "", "MIME type (default: from extension)")
	cmd.Flags().Int64("case", 0, "case id")
	cmd.Flags().Int64("category", 0, "category id")
	return cmd
}

func newGetCmd(opts *globalOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "get <document-id>",
		Short: "Decrypt a document",
		Long: `Decrypt a document, verify its content hash and write the plaintext to
--out or stdout. The read is recorded as "viewed".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "document id")
			if err != nil {
				return err
			}
			return run(cmd, opts, func(s *session) error {
				plaintext, _, err := s.app.Vault.Retrieve(s.ctx, id)
				if err != nil {
					return err
				}
				return writeContent(cmd, out, plaintext)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: stdout)")
	return cmd
}

func newVersionCmd(opts *globalOptions) *cobra.Command {
	var mimeType string

	cmd := &cobra.Command{
		Use:   "version <parent-id> <file>",
		Short: "Store a new version of a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parentID, err := parseID(args[0], "parent id")
			if err != nil {
				return err
			}
			content, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			defer common.WipeByteArray(content)

			filename := filepath.Base(args[1])
			if mimeType == "" {
				mimeType = detectMime(filename)
			}

			return run(cmd, opts, func(s *session) error {
				doc, err := s.app.Vault.CreateVersion(s.ctx, services.VersionRequest{
					ParentID: parentID,
					Content:  content,
					Filename: filename,
					MimeType: mimeType,
				})
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), viewDocument(doc))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored document %d as version %d of %d\n", doc.ID, doc.Version, parentID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mimeType, "mime", "", "MIME type (default: from extension)")
	return cmd
}

func newVersionsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "versions <document-id>",
		Short: "List every version of a document's chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "document id")
			if err != nil {
				return err
			}
			return run(cmd, opts, func(s *session) error {
				docs, err := s.app.Vault.GetVersions(s.ctx, id)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					views := make([]documentView, len(docs))
					for i, d := range docs {
						views[i] = viewDocument(d)
					}
					return printJSON(cmd.OutOrStdout(), views)
				}
				return writeDocuments(cmd.OutOrStdout(), docs, -1)
			})
		},
	}
}

func newDeleteCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Soft-delete a document",
		Long: `Mark a document deleted. Ciphertext, keys and audit history are kept;
the document can no longer be read, shared or versioned.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "document id")
			if err != nil {
				return err
			}
			return run(cmd, opts, func(s *session) error {
				if err := s.app.Vault.SoftDelete(s.ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted document %d\n", id)
				return nil
			})
		},
	}
}

func newListCmd(opts *globalOptions) *cobra.Command {
	var (
		status         string
		includeDeleted bool
		limit, offset  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := models.DocumentFilter{
				Status:         models.DocumentStatus(status),
				OwnerID:        optionalID(cmd, "owner"),
				CaseID:         optionalID(cmd, "case"),
				CategoryID:     optionalID(cmd, "category"),
				IncludeDeleted: includeDeleted,
			}
			return run(cmd, opts, func(s *session) error {
				docs, total, err := s.app.Vault.ListDocuments(s.ctx, filter, limit, offset)
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
	cmd.Flags().StringVar(&status, "status", "", "filter by status (active|deleted)")
	cmd.Flags().BoolVar(&includeDeleted, "include-deleted", false, "include deleted documents")
	cmd.Flags().Int64("owner", 0, "filter by owner id")
	cmd.Flags().Int64("case", 0, "filter by case id")
	cmd.Flags().Int64("category", 0, "filter by category id")
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}
