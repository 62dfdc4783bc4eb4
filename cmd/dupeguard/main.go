package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/dupeguard/internal/app"
	"github.com/dharsanguruparan/dupeguard/internal/config"
	"github.com/dharsanguruparan/dupeguard/internal/fingerprint"
	"github.com/dharsanguruparan/dupeguard/internal/ingest"
	"github.com/dharsanguruparan/dupeguard/internal/model"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	store      string
	sqlitePath string
	verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand(os.Stdout)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "dupeguard: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "dupeguard",
		Short: "DupeGuard duplicate detection CLI",
		Long: `dupeguard fingerprints files, ingests them into an owner's corpus, reports
exact and similar duplicates, and manages the suppression ledger.

Settings come from DUPEGUARD_* environment variables, an optional TOML file
named by DUPEGUARD_CONFIG and the flags below.`,
		SilenceUsage: true,
	}
	cmd.SetOut(out)
	cmd.PersistentFlags().StringVar(&opts.store, "store", "", "Store backend override (memory, sqlite, postgres)")
	cmd.PersistentFlags().StringVar(&opts.sqlitePath, "sqlite-path", "", "SQLite database file override")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log events to stderr")
	cmd.AddCommand(
		newFingerprintCmd(),
		newServeCmd(opts),
		newWorkerCmd(opts),
		newMigrateCmd(opts),
		newIngestCmd(opts),
		newScanCmd(opts),
		newRelationshipsCmd(opts),
		newReviewCmd(opts),
		newDeleteDuplicateCmd(opts),
		newSuppressionsCmd(opts),
	)
	return cmd
}

// open loads config, applies flag overrides and wires the components.
func open(ctx context.Context, opts *globalOptions) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.store != "" {
		cfg.StoreBackend = opts.store
	}
	if opts.sqlitePath != "" {
		cfg.SQLitePath = opts.sqlitePath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return app.New(ctx, cfg, logger)
}

func newFingerprintCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "fingerprint <file>...",
		Short: "Print the content hash of each file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := fingerprint.ParseMode(mode)
			if err != nil {
				return err
			}
			fp := fingerprint.New(m)
			for _, path := range args {
				hash, err := hashFile(fp, path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", hash, path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(fingerprint.ModeRaw), "Fingerprint mode (raw, legacy-text)")
	return cmd
}

func newServeCmd(opts *globalOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := open(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			if addr != "" {
				a.Config.Address = addr
			}
			return a.Server(ctx).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address override")
	return cmd
}

func newWorkerCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the fingerprint task worker (postgres store only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := open(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.RunWorker(ctx)
		},
	}
}

func newMigrateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the configured store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s)\n", a.Config.StoreBackend)
			return nil
		},
	}
}

func newIngestCmd(opts *globalOptions) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Hash files into the owner's corpus and report duplicates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := open(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			var results []*ingest.Outcome
			for _, path := range args {
				out, err := ingestFile(ctx, a, owner, path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				results = append(results, out)
			}
			return writeJSON(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner id (required)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newScanCmd(opts *globalOptions) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "scan <document-id>",
		Short: "Scan a stored document against the owner's corpus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := open(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			doc, err := a.Store.GetDocument(ctx, args[0])
			if err != nil {
				return err
			}
			if owner == "" {
				owner = doc.OwnerID
			}
			if !doc.Hashed() {
				return fmt.Errorf("document %s has no content hash yet", doc.ID)
			}
			result, err := a.Detector.Scan(ctx, owner, doc.Hash(), doc.ID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner id (defaults to the document's owner)")
	return cmd
}

func newRelationshipsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "relationships <document-id>",
		Short: "List duplicate relationships that involve a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := open(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			rels, err := a.Registry.Relationships(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rels)
		},
	}
}

func newReviewCmd(opts *globalOptions) *cobra.Command {
	var reviewer string
	cmd := &cobra.Command{
		Use:   "review <relationship-id> <reviewed|dismissed>",
		Short: "Move a relationship to a terminal review status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := open(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			rel, err := a.Registry.TransitionStatus(ctx, args[0], model.RelationshipStatus(args[1]), reviewer)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rel)
		},
	}
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "Reviewer id recorded on the relationship")
	return cmd
}

func newDeleteDuplicateCmd(opts *globalOptions) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "delete-duplicate <source-id> <duplicate-id>",
		Short: "Delete a duplicate and suppress the pair from future scans",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := open(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			outcome, err := a.Registry.DeleteDuplicate(ctx, args[0], args[1], owner)
			if err != nil {
				return err
			}
			if key := outcome.Deleted.ObjectKey; key != "" {
				if err := a.Objects.RemoveRaw(ctx, key); err != nil {
					a.Logger.Warn("remove object failed", "object_key", key, "error", err)
				}
			}
			return writeJSON(cmd.OutOrStdout(), outcome)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner id (required)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newSuppressionsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suppressions",
		Short: "Inspect the suppression ledger",
	}
	var owner string
	count := &cobra.Command{
		Use:   "count",
		Short: "Print how many pairs the owner has suppressed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := open(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			n, err := a.Ledger.Count(ctx, owner)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
	count.Flags().StringVar(&owner, "owner", "", "Owner id (required)")
	_ = count.MarkFlagRequired("owner")

	list := &cobra.Command{
		Use:   "list",
		Short: "List the owner's suppressed pairs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := open(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			entries, err := a.Store.ListSuppressions(ctx, owner)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), entries)
		},
	}
	list.Flags().StringVar(&owner, "owner", "", "Owner id (required)")
	_ = list.MarkFlagRequired("owner")

	cmd.AddCommand(count, list)
	return cmd
}

func hashFile(fp fingerprint.Fingerprinter, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	hash, _, err := fp.SumReader(f)
	return hash, err
}

// ingestFile streams path into object storage, hashing it on the way, and
// records it with its hash already attached.
func ingestFile(ctx context.Context, a *app.App, owner, path string) (*ingest.Outcome, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	name := filepath.Base(path)
	key := fmt.Sprintf("uploads/%s/%s/%s", owner, id, name)
	w := a.Fingerprint.Writer()
	if err := a.Objects.UploadRaw(ctx, key, io.TeeReader(f, w), info.Size(), "application/octet-stream"); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	out, err := a.Ingest.Ingest(ctx, ingest.NewDocument{
		ID:          id,
		OwnerID:     owner,
		Name:        name,
		Size:        w.Len(),
		ContentType: "application/octet-stream",
		ObjectKey:   key,
	}, w.Sum())
	if err != nil {
		_ = a.Objects.RemoveRaw(ctx, key)
		return nil, err
	}
	return out, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
