// Package cli implements the vault command line: document storage,
// sharing, audit inspection and key rotation against a configured vault.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/docvault/internal/actor"
	"github.com/dmitrijs2005/docvault/internal/server"
	"github.com/dmitrijs2005/docvault/internal/server/config"
	"github.com/spf13/cobra"
)

// openApp is a seam for tests; it returns the app and the func that releases it.
var openApp = func(ctx context.Context, cfg *config.Config, logOut io.Writer) (*server.App, func() error, error) {
	app, err := server.NewApp(ctx, cfg, logOut)
	if err != nil {
		return nil, nil, err
	}
	return app, app.Close, nil
}

type globalOptions struct {
	actorID    int64
	clientIP   string
	jsonOutput bool
}

// NewRootCmd builds the vault command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "vault",
		Short: "docvault - encrypted document vault",
		Long: `docvault stores documents under per-document keys wrapped by a master key,
shares them through revocable bearer tokens and keeps a hash-chained audit
ledger for every document.

The master key is read from VAULT_MASTER_KEY, --master-key, the config file,
or prompted for when stdin is a terminal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	config.RegisterFlags(pf)
	pf.Int64Var(&opts.actorID, "actor", 0, "acting user id recorded in the audit ledger")
	pf.StringVar(&opts.clientIP, "ip", "", "client address recorded in the audit ledger")
	pf.BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")

	root.AddCommand(
		newStoreCmd(opts),
		newGetCmd(opts),
		newVersionCmd(opts),
		newVersionsCmd(opts),
		newDeleteCmd(opts),
		newListCmd(opts),
		newShareCmd(opts),
		newRevokeCmd(opts),
		newRevokeAllCmd(opts),
		newDownloadCmd(opts),
		newGrantsCmd(opts),
		newSharedWithCmd(opts),
		newTrailCmd(opts),
		newVerifyCmd(opts),
		newRotateKeyCmd(opts),
		newServeMetricsCmd(opts),
		newVersionInfoCmd(),
	)
	return root
}

// Execute runs the root command and reports the error on stderr.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

// session is an opened vault plus the context commands run in.
type session struct {
	app   *server.App
	ctx   context.Context
	close func() error
}

// open loads configuration, prompts for a missing master key and builds
// the app. The returned context carries the --actor and --ip identity.
func open(cmd *cobra.Command, opts *globalOptions) (*session, error) {
	cfg, err := config.LoadConfig(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if cfg.MasterKeyHex == "" {
		key, err := promptMasterKey(cmd.ErrOrStderr(), "Master key (hex): ")
		if err != nil {
			return nil, err
		}
		cfg.MasterKeyHex = key
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, closeApp, err := openApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	a := actor.Actor{IP: opts.clientIP}
	if opts.actorID != 0 {
		a.ID = actor.Int64(opts.actorID)
	}
	return &session{app: app, ctx: actor.WithActor(ctx, a), close: closeApp}, nil
}

// run opens a session, runs fn and always releases the session.
func run(cmd *cobra.Command, opts *globalOptions, fn func(s *session) error) (err error) {
	s, err := open(cmd, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(s)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
