package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/ledger-importer/internal/aggregator"
	"github.com/dvloznov/ledger-importer/internal/archive"
	"github.com/dvloznov/ledger-importer/internal/events"
	"github.com/dvloznov/ledger-importer/internal/logger"
	"github.com/dvloznov/ledger-importer/internal/store"
	"github.com/google/uuid"
)

// Options configures an Importer.
type Options struct {
	// InferPairs enables transfer and conversion pairing.
	InferPairs bool

	// Archive receives a raw snapshot of every successful run. Nil disables archiving.
	Archive archive.Sink

	// Publisher is told about every successful run. Nil means events.Nop.
	Publisher events.Publisher

	// Clock returns the current time. Nil means time.Now.
	Clock func() time.Time
}

// Result summarizes one import run.
type Result struct {
	RunID string

	Accounts UpsertStats
	Mirrored ChunkStats

	TransfersPaired          int
	ConversionsRecategorized int

	AccountLinks  LinkStats
	GroupLinks    LinkStats
	CategoryLinks LinkStats

	Records     SyncStats
	Pending     int
	Adjustments []Adjustment

	// SnapshotName is the archived object name, empty when nothing was archived.
	SnapshotName string
}

// Importer mirrors aggregator data into the ledger.
type Importer struct {
	client aggregator.Client
	store  store.Store
	opts   Options
}

// New creates an Importer reading from client and writing through st.
func New(client aggregator.Client, st store.Store, opts Options) *Importer {
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Importer{client: client, store: st, opts: opts}
}

// now is the single timestamp stamped on everything one run writes.
// Millisecond precision keeps it stable across the store's time encoding.
func (im *Importer) now() time.Time {
	return im.opts.Clock().UTC().Truncate(time.Millisecond)
}

// Run imports the window [start, end]. All work happens in one session; on
// failure the uncommitted part is rolled back and the error names the step
// that failed. Batches committed before the failure stay.
func (im *Importer) Run(ctx context.Context, start, end time.Time) (*Result, error) {
	runID := uuid.NewString()
	log := logger.FromContext(ctx).With().Str("run_id", runID).Logger()
	ctx = logger.WithContext(ctx, log)

	log.Info().Time("start", start).Time("end", end).Bool("infer_pairs", im.opts.InferPairs).Msg("Starting import")

	sess, err := im.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("Run: begin session: %w", err)
	}
	defer sess.Close()

	state := &State{
		Start:   start,
		End:     end,
		Now:     im.now(),
		Session: sess,
		Result:  &Result{RunID: runID},
	}

	if err := NewImportPipeline(im.client, im.opts.InferPairs).Execute(ctx, state); err != nil {
		if rbErr := sess.Rollback(ctx); rbErr != nil {
			log.Error().Err(rbErr).Msg("Rollback failed")
		}
		log.Error().Err(err).Msg("Import failed")
		return nil, fmt.Errorf("Run: %w", err)
	}

	im.archive(ctx, state)
	im.publish(ctx, state)

	log.Info().
		Int("records_created", state.Result.Records.Created).
		Int("records_updated", state.Result.Records.Updated).
		Int("pending", state.Result.Pending).
		Msg("Import finished")
	return state.Result, nil
}

func (im *Importer) archive(ctx context.Context, state *State) {
	if im.opts.Archive == nil {
		return
	}
	snap := &archive.Snapshot{
		RunID:        state.Result.RunID,
		Start:        state.Start,
		End:          state.End,
		FetchedAt:    state.Now,
		Accounts:     state.Accounts,
		Transactions: aggregator.Flatten(state.Chunks),
		Pending:      state.Pending,
	}
	log := logger.FromContext(ctx)
	name, err := archive.Save(ctx, im.opts.Archive, snap)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to archive snapshot")
		return
	}
	state.Result.SnapshotName = name
	log.Info().Str("object", name).Msg("Archived snapshot")
}

// locator is implemented by sinks that can address an object outside the process.
type locator interface {
	URI(name string) string
}

func (im *Importer) publish(ctx context.Context, state *State) {
	r := state.Result
	snapshotURI := r.SnapshotName
	if l, ok := im.opts.Archive.(locator); ok && snapshotURI != "" {
		snapshotURI = l.URI(snapshotURI)
	}
	event := events.ImportCompleted{
		RunID:           r.RunID,
		Start:           state.Start,
		End:             state.End,
		FinishedAt:      state.Now,
		Accounts:        len(state.Accounts),
		Transactions:    r.Mirrored.Transactions.Created + r.Mirrored.Transactions.Updated,
		Pending:         r.Pending,
		RecordsCreated:  r.Records.Created,
		RecordsUpdated:  r.Records.Updated,
		TransfersPaired: r.TransfersPaired,
		Conversions:     r.ConversionsRecategorized,
		Adjustments:     len(r.Adjustments),
		SnapshotURI:     snapshotURI,
	}
	if err := im.opts.Publisher.PublishImportCompleted(ctx, event); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("Failed to publish import event")
	}
}

// DeleteCategories removes every ledger category that no shadow group or
// shadow category links to, including bootstrap categories. Records and
// child categories pointing at a removed category lose that reference.
func (im *Importer) DeleteCategories(ctx context.Context) (int, error) {
	log := logger.FromContext(ctx)

	sess, err := im.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("DeleteCategories: begin session: %w", err)
	}
	defer sess.Close()

	deleted, err := deleteUnlinkedCategories(ctx, sess)
	if err != nil {
		if rbErr := sess.Rollback(ctx); rbErr != nil {
			log.Error().Err(rbErr).Msg("Rollback failed")
		}
		return 0, fmt.Errorf("DeleteCategories: %w", err)
	}

	log.Info().Int("deleted", deleted).Msg("Deleted unlinked categories")
	return deleted, nil
}

func deleteUnlinkedCategories(ctx context.Context, sess store.Session) (int, error) {
	groups, err := sess.ShadowGroups().List(ctx)
	if err != nil {
		return 0, err
	}
	categories, err := sess.ShadowCategories().List(ctx)
	if err != nil {
		return 0, err
	}

	var keep []int64
	for _, g := range groups {
		if g.LinkedCategoryID.Valid {
			keep = append(keep, g.LinkedCategoryID.Int64)
		}
	}
	for _, c := range categories {
		if c.LinkedCategoryID.Valid {
			keep = append(keep, c.LinkedCategoryID.Int64)
		}
	}

	deleted, err := sess.DeleteCategoriesExcept(ctx, keep)
	if err != nil {
		return 0, err
	}
	if err := sess.Commit(ctx); err != nil {
		return 0, err
	}
	return deleted, nil
}
