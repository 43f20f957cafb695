package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dvloznov/ledger-importer/internal/aggregator"
	"github.com/dvloznov/ledger-importer/internal/archive"
	"github.com/dvloznov/ledger-importer/internal/importer"
	"github.com/google/subcommands"
)

// --- syncCmd ---

type syncCmd struct {
	start            string
	end              string
	noPairing        bool
	deleteCategories bool
}

func (*syncCmd) Name() string     { return "sync" }
func (*syncCmd) Synopsis() string { return "imports accounts and transactions from Akahu into the ledger" }
func (*syncCmd) Usage() string {
	return `sync [-start 2006-01-02T15:04:05] [-end 2006-01-02T15:04:05] [-no-pairing] [-delete-categories]

Mirrors accounts, settled and pending transactions into the ledger database,
pairs transfers between your own accounts and fixes beginning balances so
they match the bank. Without -start the last 30 days are imported.
`
}

func (c *syncCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.start, "start", "", "Start of the import window (2006-01-02T15:04:05).")
	f.StringVar(&c.end, "end", "", "End of the import window (2006-01-02T15:04:05). Defaults to now.")
	f.BoolVar(&c.noPairing, "no-pairing", false, "Do not infer transfers and currency conversions.")
	f.BoolVar(&c.deleteCategories, "delete-categories", false, "After the import, delete categories not linked to Akahu.")
}

func (c *syncCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, cancel, err := setup(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return subcommands.ExitFailure
	}
	defer cancel()

	if err := e.cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return subcommands.ExitUsageError
	}
	start, end, err := parseWindow(c.start, c.end, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return subcommands.ExitUsageError
	}

	st, err := e.openStore()
	if err != nil {
		e.log.Error().Err(err).Msg("Failed to open ledger")
		return subcommands.ExitFailure
	}
	defer st.Close()

	sink, closeSink, err := e.archiveSink()
	if err != nil {
		e.log.Error().Err(err).Msg("Failed to connect to snapshot archive")
		return subcommands.ExitFailure
	}
	defer closeSink()
	publisher, closePublisher := e.publisher()
	defer closePublisher()

	opts := importer.Options{
		InferPairs: e.cfg.InferPairs && !c.noPairing,
		Publisher:  publisher,
	}
	if sink != nil {
		opts.Archive = sink
	}

	client := aggregator.NewHTTPClient(e.cfg.BaseURL, e.cfg.AppToken, e.cfg.UserToken)
	im := importer.New(client, st, opts)

	res, err := im.Run(e.ctx, start, end)
	if err != nil {
		e.log.Error().Err(err).Msg("Import failed")
		return subcommands.ExitFailure
	}
	printResult(res)

	if c.deleteCategories {
		deleted, err := im.DeleteCategories(e.ctx)
		if err != nil {
			e.log.Error().Err(err).Msg("Deleting categories failed")
			return subcommands.ExitFailure
		}
		fmt.Printf("Deleted %d unlinked categories.\n", deleted)
	}
	return subcommands.ExitSuccess
}

func printResult(res *importer.Result) {
	fmt.Printf("Import %s completed.\n", res.RunID)
	fmt.Printf("  Records:   %d created, %d updated\n", res.Records.Created, res.Records.Updated)
	fmt.Printf("  Pending:   %d\n", res.Pending)
	fmt.Printf("  Transfers: %d paired, %d conversions recategorized\n", res.TransfersPaired, res.ConversionsRecategorized)
	for _, a := range res.Adjustments {
		fmt.Printf("  Account %d beginning balance %s -> %s (expected %s, computed %s)\n",
			a.AccountID, a.Previous, a.New, a.Expected, a.Computed)
	}
	if res.SnapshotName != "" {
		fmt.Printf("  Snapshot:  %s\n", res.SnapshotName)
	}
}

// --- deleteCategoriesCmd ---

type deleteCategoriesCmd struct{}

func (*deleteCategoriesCmd) Name() string { return "delete-categories" }
func (*deleteCategoriesCmd) Synopsis() string {
	return "deletes every ledger category not linked to an Akahu group or category"
}
func (*deleteCategoriesCmd) Usage() string {
	return `delete-categories

Removes categories that no Akahu group or category is linked to, including
the Uncategorized, Pending and Transfer categories. Records keep existing but
lose their category. The next sync recreates the well-known categories.
`
}
func (*deleteCategoriesCmd) SetFlags(*flag.FlagSet) {}

func (*deleteCategoriesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, cancel, err := setup(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return subcommands.ExitFailure
	}
	defer cancel()

	st, err := e.openStore()
	if err != nil {
		e.log.Error().Err(err).Msg("Failed to open ledger")
		return subcommands.ExitFailure
	}
	defer st.Close()

	// No aggregator calls are made, so no client is needed.
	deleted, err := importer.New(nil, st, importer.Options{}).DeleteCategories(e.ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("Deleting categories failed")
		return subcommands.ExitFailure
	}
	fmt.Printf("Deleted %d unlinked categories.\n", deleted)
	return subcommands.ExitSuccess
}

// --- replayCmd ---

type replayCmd struct {
	snapshot  string
	noPairing bool
}

func (*replayCmd) Name() string     { return "replay" }
func (*replayCmd) Synopsis() string { return "re-imports an archived snapshot into the ledger" }
func (*replayCmd) Usage() string {
	return `replay -snapshot gs://bucket/snapshots/2024/05/10/<run id>.json [-no-pairing]

Runs the import against a snapshot archived by an earlier sync instead of the
live Akahu API. Useful to rebuild a ledger or to reproduce a bad import.
`
}

func (c *replayCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.snapshot, "snapshot", "", "GCS URI of the archived snapshot.")
	f.BoolVar(&c.noPairing, "no-pairing", false, "Do not infer transfers and currency conversions.")
}

func (c *replayCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.snapshot == "" {
		fmt.Fprintln(os.Stderr, "Error: -snapshot is required.")
		return subcommands.ExitUsageError
	}
	bucket, name, err := archive.ParseURI(c.snapshot)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return subcommands.ExitUsageError
	}

	e, cancel, err := setup(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return subcommands.ExitFailure
	}
	defer cancel()

	sink, err := archive.NewGCSSink(e.ctx, bucket, e.cfg.ArchiveCredentialsFile)
	if err != nil {
		e.log.Error().Err(err).Msg("Failed to connect to snapshot archive")
		return subcommands.ExitFailure
	}
	defer sink.Close()

	snap, err := archive.Load(e.ctx, sink, name)
	if err != nil {
		e.log.Error().Err(err).Msg("Failed to load snapshot")
		return subcommands.ExitFailure
	}
	e.log.Info().Str("snapshot_run_id", snap.RunID).Time("fetched_at", snap.FetchedAt).Msg("Loaded snapshot")

	st, err := e.openStore()
	if err != nil {
		e.log.Error().Err(err).Msg("Failed to open ledger")
		return subcommands.ExitFailure
	}
	defer st.Close()

	publisher, closePublisher := e.publisher()
	defer closePublisher()

	im := importer.New(snap.Client(), st, importer.Options{
		InferPairs: e.cfg.InferPairs && !c.noPairing,
		Publisher:  publisher,
	})
	res, err := im.Run(e.ctx, snap.Start, snap.End)
	if err != nil {
		e.log.Error().Err(err).Msg("Replay failed")
		return subcommands.ExitFailure
	}
	printResult(res)
	return subcommands.ExitSuccess
}

// --- migrateCmd ---

type migrateCmd struct{}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "creates or upgrades the ledger database schema" }
func (*migrateCmd) Usage() string {
	return `migrate

Applies pending schema migrations to the database at LEDGER_DB_PATH. sync
does this too; migrate only prepares the database without importing.
`
}
func (*migrateCmd) SetFlags(*flag.FlagSet) {}

func (*migrateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, cancel, err := setup(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return subcommands.ExitFailure
	}
	defer cancel()

	st, err := e.openStore()
	if err != nil {
		e.log.Error().Err(err).Msg("Migration failed")
		return subcommands.ExitFailure
	}
	defer st.Close()

	fmt.Printf("Database schema is up to date at %s.\n", e.cfg.DatabasePath)
	return subcommands.ExitSuccess
}
