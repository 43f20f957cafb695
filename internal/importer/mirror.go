package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/ledger-importer/internal/aggregator"
	"github.com/dvloznov/ledger-importer/internal/shadow"
	"github.com/dvloznov/ledger-importer/internal/store"
)

// Mapper describes how one kind of external entity becomes a shadow row.
type Mapper[E, S any] struct {
	Key    func(ext E) string
	Create func(ext E, now time.Time) *S
	Update func(row *S, ext E)
}

// UpsertStats counts the outcome of one Upsert call.
type UpsertStats struct {
	Created int
	Updated int
}

// Upsert mirrors externals into repo: one bulk lookup by external id, then
// update-in-place or create per entity. Rows are never deleted. Repeated ids
// within externals collapse onto one row, the last occurrence winning.
func Upsert[E, S any](ctx context.Context, repo store.ShadowRepository[S], externals []E, m Mapper[E, S], now time.Time) (UpsertStats, error) {
	var stats UpsertStats
	if len(externals) == 0 {
		return stats, nil
	}

	ids := make([]string, 0, len(externals))
	for _, ext := range externals {
		ids = append(ids, m.Key(ext))
	}

	existing, err := repo.FindByExternalIDs(ctx, ids)
	if err != nil {
		return stats, fmt.Errorf("Upsert: %w", err)
	}
	saved := make(map[*S]bool, len(externals))

	rows := make([]*S, 0, len(externals))
	for _, ext := range externals {
		id := m.Key(ext)
		if row, ok := existing[id]; ok {
			m.Update(row, ext)
			stats.Updated++
			if !saved[row] {
				saved[row] = true
				rows = append(rows, row)
			}
			continue
		}
		row := m.Create(ext, now)
		existing[id] = row
		saved[row] = true
		rows = append(rows, row)
		stats.Created++
	}

	if err := repo.Save(ctx, rows...); err != nil {
		return stats, fmt.Errorf("Upsert: %w", err)
	}
	return stats, nil
}

var (
	accountMapper = Mapper[aggregator.Account, shadow.Account]{
		Key:    func(a aggregator.Account) string { return a.ID },
		Create: shadow.AccountFromExternal,
		Update: (*shadow.Account).UpdateFrom,
	}
	groupMapper = Mapper[aggregator.Group, shadow.Group]{
		Key:    func(g aggregator.Group) string { return g.ID },
		Create: shadow.GroupFromExternal,
		Update: (*shadow.Group).UpdateFrom,
	}
	categoryMapper = Mapper[aggregator.Category, shadow.Category]{
		Key:    func(c aggregator.Category) string { return c.ID },
		Create: shadow.CategoryFromExternal,
		Update: (*shadow.Category).UpdateFrom,
	}
	transactionMapper = Mapper[aggregator.Transaction, shadow.Transaction]{
		Key:    func(t aggregator.Transaction) string { return t.ID },
		Create: shadow.TransactionFromExternal,
		Update: (*shadow.Transaction).UpdateFrom,
	}
)

// MirrorAccounts upserts the aggregator accounts into their shadow rows and commits.
func MirrorAccounts(ctx context.Context, sess store.Session, accounts []aggregator.Account, now time.Time) (UpsertStats, error) {
	stats, err := Upsert(ctx, sess.ShadowAccounts(), accounts, accountMapper, now)
	if err != nil {
		return stats, fmt.Errorf("MirrorAccounts: %w", err)
	}
	if err := sess.Commit(ctx); err != nil {
		return stats, fmt.Errorf("MirrorAccounts: %w", err)
	}
	return stats, nil
}

// ChunkStats counts the rows touched while mirroring one page of transactions.
type ChunkStats struct {
	Groups       UpsertStats
	Categories   UpsertStats
	Transactions UpsertStats
}

// MirrorChunk upserts the groups, categories and transactions of one page,
// committing after each kind.
func MirrorChunk(ctx context.Context, sess store.Session, transactions []aggregator.Transaction, now time.Time) (ChunkStats, error) {
	var stats ChunkStats
	var err error

	if stats.Groups, err = Upsert(ctx, sess.ShadowGroups(), ExtractGroups(transactions), groupMapper, now); err != nil {
		return stats, fmt.Errorf("MirrorChunk: groups: %w", err)
	}
	if err := sess.Commit(ctx); err != nil {
		return stats, fmt.Errorf("MirrorChunk: groups: %w", err)
	}

	if stats.Categories, err = Upsert(ctx, sess.ShadowCategories(), ExtractCategories(transactions), categoryMapper, now); err != nil {
		return stats, fmt.Errorf("MirrorChunk: categories: %w", err)
	}
	if err := sess.Commit(ctx); err != nil {
		return stats, fmt.Errorf("MirrorChunk: categories: %w", err)
	}

	if stats.Transactions, err = Upsert(ctx, sess.ShadowTransactions(), transactions, transactionMapper, now); err != nil {
		return stats, fmt.Errorf("MirrorChunk: transactions: %w", err)
	}
	if err := sess.Commit(ctx); err != nil {
		return stats, fmt.Errorf("MirrorChunk: transactions: %w", err)
	}
	return stats, nil
}

// ExtractGroups returns the distinct personal-finance groups referenced by
// transactions, in order of first appearance.
func ExtractGroups(transactions []aggregator.Transaction) []aggregator.Group {
	var groups []aggregator.Group
	index := make(map[string]int)
	for _, tx := range transactions {
		g := tx.Group()
		if g == nil {
			continue
		}
		if i, ok := index[g.ID]; ok {
			groups[i] = *g
			continue
		}
		index[g.ID] = len(groups)
		groups = append(groups, *g)
	}
	return groups
}

// ExtractCategories returns the distinct categories referenced by
// transactions, in order of first appearance.
func ExtractCategories(transactions []aggregator.Transaction) []aggregator.Category {
	var categories []aggregator.Category
	index := make(map[string]int)
	for _, tx := range transactions {
		if tx.Category == nil {
			continue
		}
		if i, ok := index[tx.Category.ID]; ok {
			categories[i] = *tx.Category
			continue
		}
		index[tx.Category.ID] = len(categories)
		categories = append(categories, *tx.Category)
	}
	return categories
}
