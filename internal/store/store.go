package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dvloznov/ledger-importer/internal/ledger"
	"github.com/dvloznov/ledger-importer/internal/shadow"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store opens transactional sessions against the ledger database.
type Store interface {
	// Begin starts a new session with an open transaction.
	Begin(ctx context.Context) (Session, error)

	// Close releases the underlying database.
	Close() error
}

// ShadowRepository reads and writes one kind of shadow row, keyed by external id.
type ShadowRepository[S any] interface {
	// FindByExternalIDs returns the rows whose external id is in ids,
	// indexed by external id. Missing ids are absent from the map.
	FindByExternalIDs(ctx context.Context, ids []string) (map[string]*S, error)

	// List returns every row ordered by external id.
	List(ctx context.Context) ([]*S, error)

	// Save inserts or replaces rows by external id.
	Save(ctx context.Context, rows ...*S) error
}

// CategoryFilter narrows ListCategories.
type CategoryFilter struct {
	// TopLevelOnly restricts results to categories without a parent.
	TopLevelOnly bool
}

// RecordFilter narrows ListRecords and DeleteRecords. Unset fields match everything.
type RecordFilter struct {
	AccountID           sql.NullInt64
	CategoryID          sql.NullInt64
	TransferToAccountID sql.NullInt64
	TransfersOnly       bool
}

// Matches reports whether r satisfies the filter.
func (f RecordFilter) Matches(r *ledger.Record) bool {
	if f.AccountID.Valid && r.AccountID != f.AccountID.Int64 {
		return false
	}
	if f.CategoryID.Valid && (!r.CategoryID.Valid || r.CategoryID.Int64 != f.CategoryID.Int64) {
		return false
	}
	if f.TransferToAccountID.Valid && (!r.TransferToAccountID.Valid || r.TransferToAccountID.Int64 != f.TransferToAccountID.Int64) {
		return false
	}
	if f.TransfersOnly && !r.IsTransfer {
		return false
	}
	return true
}

// Session is one unit of work against the ledger. All reads observe the
// session's own uncommitted writes. A session is not safe for concurrent use.
type Session interface {
	ShadowAccounts() ShadowRepository[shadow.Account]
	ShadowGroups() ShadowRepository[shadow.Group]
	ShadowCategories() ShadowRepository[shadow.Category]
	ShadowTransactions() ShadowRepository[shadow.Transaction]

	GetAccount(ctx context.Context, id int64) (*ledger.Account, error)
	CreateAccount(ctx context.Context, account *ledger.Account) error
	UpdateAccount(ctx context.Context, account *ledger.Account) error

	GetCategory(ctx context.Context, id int64) (*ledger.Category, error)
	// FindCategoryByName returns the lowest-id category with the given name.
	FindCategoryByName(ctx context.Context, name string) (*ledger.Category, error)
	ListCategories(ctx context.Context, filter CategoryFilter) ([]*ledger.Category, error)
	CreateCategory(ctx context.Context, category *ledger.Category) error
	UpdateCategory(ctx context.Context, category *ledger.Category) error
	// DeleteCategoriesExcept removes every category whose id is not in keep.
	// References from records and child categories are cleared.
	DeleteCategoriesExcept(ctx context.Context, keep []int64) (int, error)

	GetRecord(ctx context.Context, id int64) (*ledger.Record, error)
	CreateRecord(ctx context.Context, record *ledger.Record) error
	UpdateRecord(ctx context.Context, record *ledger.Record) error
	ListRecords(ctx context.Context, filter RecordFilter) ([]*ledger.Record, error)
	DeleteRecords(ctx context.Context, filter RecordFilter) (int, error)

	CreateSplit(ctx context.Context, split *ledger.Split) error
	// ListSplits returns the splits settled into the given account.
	ListSplits(ctx context.Context, accountID int64) ([]*ledger.Split, error)

	// Commit makes the session's writes durable and opens a new transaction,
	// so the session stays usable.
	Commit(ctx context.Context) error

	// Rollback discards writes made since the last commit.
	Rollback(ctx context.Context) error

	// Close releases the session. Uncommitted writes are discarded.
	Close() error
}
