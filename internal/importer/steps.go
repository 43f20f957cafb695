package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/ledger-importer/internal/aggregator"
	"github.com/dvloznov/ledger-importer/internal/logger"
	"github.com/dvloznov/ledger-importer/internal/store"
)

// Step is a single stage of an import run.
type Step interface {
	Name() string
	Execute(ctx context.Context, state *State) error
}

// State holds what the steps of one run hand to each other.
type State struct {
	Start time.Time
	End   time.Time
	Now   time.Time

	Session store.Session
	Boot    *Bootstrap

	Accounts    []aggregator.Account
	Chunks      [][]aggregator.Transaction
	Pending     []aggregator.PendingTransaction
	Conversions []Pair

	Result *Result
}

// BootstrapStep makes sure the well-known categories exist.
type BootstrapStep struct{}

func (s *BootstrapStep) Name() string { return "bootstrap categories" }

func (s *BootstrapStep) Execute(ctx context.Context, state *State) error {
	boot, err := EnsureBootstrapCategories(ctx, state.Session, state.Now)
	if err != nil {
		return err
	}
	state.Boot = boot
	return nil
}

// MirrorAccountsStep fetches the aggregator accounts and mirrors them.
type MirrorAccountsStep struct {
	Client aggregator.Client
}

func (s *MirrorAccountsStep) Name() string { return "mirror accounts" }

func (s *MirrorAccountsStep) Execute(ctx context.Context, state *State) error {
	accounts, err := s.Client.ListAccounts(ctx)
	if err != nil {
		return err
	}
	state.Accounts = accounts

	stats, err := MirrorAccounts(ctx, state.Session, accounts, state.Now)
	if err != nil {
		return err
	}
	state.Result.Accounts = stats
	log := logger.FromContext(ctx)
	log.Info().
		Int("fetched", len(accounts)).
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Msg("Mirrored accounts")
	return nil
}

// FetchTransactionsStep reads every page of settled transactions in the window.
type FetchTransactionsStep struct {
	Client aggregator.Client
}

func (s *FetchTransactionsStep) Name() string { return "fetch transactions" }

func (s *FetchTransactionsStep) Execute(ctx context.Context, state *State) error {
	chunks, err := aggregator.FetchAllTransactions(ctx, s.Client, state.Start, state.End)
	if err != nil {
		return err
	}
	state.Chunks = chunks
	log := logger.FromContext(ctx)
	log.Info().
		Int("pages", len(chunks)).
		Int("transactions", len(aggregator.Flatten(chunks))).
		Msg("Fetched transactions")
	return nil
}

// MirrorTransactionsStep mirrors the fetched pages one at a time.
type MirrorTransactionsStep struct{}

func (s *MirrorTransactionsStep) Name() string { return "mirror transactions" }

func (s *MirrorTransactionsStep) Execute(ctx context.Context, state *State) error {
	log := logger.FromContext(ctx)
	total := &state.Result.Mirrored

	for i, chunk := range state.Chunks {
		stats, err := MirrorChunk(ctx, state.Session, chunk, state.Now)
		if err != nil {
			return fmt.Errorf("page %d: %w", i+1, err)
		}
		total.add(stats)
		log.Debug().Int("page", i+1).Int("transactions", len(chunk)).Msg("Mirrored page")
	}

	log.Info().
		Int("groups", total.Groups.Created+total.Groups.Updated).
		Int("categories", total.Categories.Created+total.Categories.Updated).
		Int("created", total.Transactions.Created).
		Int("updated", total.Transactions.Updated).
		Msg("Mirrored transactions")
	return nil
}

func (c *ChunkStats) add(o ChunkStats) {
	c.Groups.Created += o.Groups.Created
	c.Groups.Updated += o.Groups.Updated
	c.Categories.Created += o.Categories.Created
	c.Categories.Updated += o.Categories.Updated
	c.Transactions.Created += o.Transactions.Created
	c.Transactions.Updated += o.Transactions.Updated
}

// PairStep flags transfer pairs on the shadow rows and remembers the
// conversion pairs for after the records exist.
type PairStep struct{}

func (s *PairStep) Name() string { return "pair transactions" }

func (s *PairStep) Execute(ctx context.Context, state *State) error {
	all := aggregator.Flatten(state.Chunks)

	applied, err := ApplyTransfers(ctx, state.Session, PairTransfers(all), state.Now)
	if err != nil {
		return err
	}
	state.Result.TransfersPaired = applied
	state.Conversions = PairConversions(all)

	log := logger.FromContext(ctx)
	log.Info().
		Int("transfers", applied).
		Int("conversions", len(state.Conversions)).
		Msg("Paired transactions")
	return nil
}

// FetchPendingStep reads the current pending transactions.
type FetchPendingStep struct {
	Client aggregator.Client
}

func (s *FetchPendingStep) Name() string { return "fetch pending transactions" }

func (s *FetchPendingStep) Execute(ctx context.Context, state *State) error {
	pending, err := s.Client.ListPendingTransactions(ctx)
	if err != nil {
		return err
	}
	state.Pending = pending
	log := logger.FromContext(ctx)
	log.Info().Int("pending", len(pending)).Msg("Fetched pending transactions")
	return nil
}

// linkFunc is the shape shared by LinkAccounts, LinkGroups and LinkCategories.
type linkFunc func(ctx context.Context, sess store.Session, now time.Time) (LinkStats, error)

// LinkStep links one kind of shadow row to the native ledger.
type LinkStep struct {
	kind   string
	link   linkFunc
	result func(*Result) *LinkStats
}

// NewLinkAccountsStep links shadow accounts to ledger accounts.
func NewLinkAccountsStep() *LinkStep {
	return &LinkStep{kind: "accounts", link: LinkAccounts, result: func(r *Result) *LinkStats { return &r.AccountLinks }}
}

// NewLinkGroupsStep links shadow groups to top-level ledger categories.
func NewLinkGroupsStep() *LinkStep {
	return &LinkStep{kind: "groups", link: LinkGroups, result: func(r *Result) *LinkStats { return &r.GroupLinks }}
}

// NewLinkCategoriesStep links shadow categories to nested ledger categories.
func NewLinkCategoriesStep() *LinkStep {
	return &LinkStep{kind: "categories", link: LinkCategories, result: func(r *Result) *LinkStats { return &r.CategoryLinks }}
}

func (s *LinkStep) Name() string { return "link " + s.kind }

func (s *LinkStep) Execute(ctx context.Context, state *State) error {
	stats, err := s.link(ctx, state.Session, state.Now)
	if err != nil {
		return err
	}
	*s.result(state.Result) = stats
	log := logger.FromContext(ctx)
	log.Info().
		Str("kind", s.kind).
		Int("created", stats.Created).
		Int("reused", stats.Reused).
		Int("updated", stats.Updated).
		Int("skipped", stats.Skipped).
		Msg("Linked shadow rows")
	return nil
}

// SyncTransactionsStep writes ledger records for the mirrored transactions.
type SyncTransactionsStep struct{}

func (s *SyncTransactionsStep) Name() string { return "sync transactions" }

func (s *SyncTransactionsStep) Execute(ctx context.Context, state *State) error {
	stats, err := SyncTransactions(ctx, state.Session, state.Boot, state.Now)
	if err != nil {
		return err
	}
	state.Result.Records = stats
	log := logger.FromContext(ctx)
	log.Info().
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Msg("Synced records")
	return nil
}

// ApplyConversionsStep recategorizes uncategorized conversion records.
type ApplyConversionsStep struct{}

func (s *ApplyConversionsStep) Name() string { return "apply conversions" }

func (s *ApplyConversionsStep) Execute(ctx context.Context, state *State) error {
	n, err := ApplyConversions(ctx, state.Session, state.Conversions, state.Boot, state.Now)
	if err != nil {
		return err
	}
	state.Result.ConversionsRecategorized = n
	log := logger.FromContext(ctx)
	log.Info().Int("recategorized", n).Msg("Applied conversions")
	return nil
}

// SyncPendingStep replaces the pending records.
type SyncPendingStep struct{}

func (s *SyncPendingStep) Name() string { return "sync pending transactions" }

func (s *SyncPendingStep) Execute(ctx context.Context, state *State) error {
	n, err := SyncPending(ctx, state.Session, state.Pending, state.Boot, state.Now)
	if err != nil {
		return err
	}
	state.Result.Pending = n
	log := logger.FromContext(ctx)
	log.Info().Int("created", n).Msg("Synced pending records")
	return nil
}

// ReconcileBalancesStep aligns beginning balances with the aggregator's balances.
type ReconcileBalancesStep struct{}

func (s *ReconcileBalancesStep) Name() string { return "reconcile balances" }

func (s *ReconcileBalancesStep) Execute(ctx context.Context, state *State) error {
	adjustments, err := ReconcileBalances(ctx, state.Session, state.Accounts)
	if err != nil {
		return err
	}
	state.Result.Adjustments = adjustments
	log := logger.FromContext(ctx)
	log.Info().Int("adjusted", len(adjustments)).Msg("Reconciled balances")
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []Step
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// Steps returns the names of the pipeline's steps in order.
func (p *Pipeline) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name()
	}
	return names
}

// Execute runs all steps in the pipeline sequentially, stopping at the first error.
func (p *Pipeline) Execute(ctx context.Context, state *State) error {
	log := logger.FromContext(ctx)
	for i, step := range p.steps {
		log.Debug().Int("step", i+1).Str("name", step.Name()).Msg("Running step")
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d (%s) failed: %w", i+1, step.Name(), err)
		}
	}
	return nil
}

// NewImportPipeline creates the standard import pipeline. Pairing steps are
// left out when inferPairs is false.
func NewImportPipeline(client aggregator.Client, inferPairs bool) *Pipeline {
	steps := []Step{
		&BootstrapStep{},
		&MirrorAccountsStep{Client: client},
		&FetchTransactionsStep{Client: client},
		&MirrorTransactionsStep{},
	}
	if inferPairs {
		steps = append(steps, &PairStep{})
	}
	steps = append(steps,
		&FetchPendingStep{Client: client},
		NewLinkAccountsStep(),
		NewLinkGroupsStep(),
		NewLinkCategoriesStep(),
		&SyncTransactionsStep{},
	)
	if inferPairs {
		steps = append(steps, &ApplyConversionsStep{})
	}
	steps = append(steps,
		&SyncPendingStep{},
		&ReconcileBalancesStep{},
	)
	return NewPipeline(steps...)
}
