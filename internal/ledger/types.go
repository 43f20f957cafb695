package ledger

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Nature classifies spending for a category.
type Nature string

const (
	NatureWant Nature = "WANT"
	NatureNeed Nature = "NEED"
	NatureMust Nature = "MUST"
)

// Account is a ledger account the user tracks a balance for.
type Account struct {
	ID               int64
	Name             string
	Description      string
	BeginningBalance decimal.Decimal
	Hidden           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Category is a node in the two-level category tree. Top-level categories
// (groups) have no parent.
type Category struct {
	ID               int64
	ParentCategoryID sql.NullInt64
	Name             string
	Nature           Nature
	Color            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsTopLevel reports whether the category has no parent.
func (c *Category) IsTopLevel() bool {
	return !c.ParentCategoryID.Valid
}

// Record is a ledger entry. Amount is never negative; direction is carried
// by IsIncome and IsTransfer.
type Record struct {
	ID                  int64
	AccountID           int64
	CategoryID          sql.NullInt64
	Label               string
	Date                time.Time
	Amount              decimal.Decimal
	IsIncome            bool
	IsTransfer          bool
	TransferToAccountID sql.NullInt64
	IsInProgress        bool
	Tags                string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Split is a share of a record owed by or to someone, settled into AccountID once paid.
type Split struct {
	ID        int64
	RecordID  int64
	AccountID sql.NullInt64
	Amount    decimal.Decimal
	IsPaid    bool
}

// NullID wraps an id as a valid sql.NullInt64.
func NullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: true}
}
