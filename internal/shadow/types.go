package shadow

import (
	"database/sql"
	"time"

	"github.com/dvloznov/ledger-importer/internal/ledger"
	"github.com/shopspring/decimal"
)

// Default display values for mirrored categories. The aggregator has no
// notion of color or spending nature.
const (
	DefaultCategoryColor = "#aa00aa"
	DefaultGroupColor    = "#808080"
	DefaultNature        = ledger.NatureWant
)

// ImportTag is the value of the "imported" tag on every record this importer writes.
const ImportTag = "akahu"

// Account mirrors one aggregator account.
type Account struct {
	ExternalID       string
	LinkedAccountID  sql.NullInt64
	Name             string
	Description      string
	BeginningBalance decimal.Decimal
	Hidden           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Group mirrors one aggregator personal-finance group.
type Group struct {
	ExternalID       string
	LinkedCategoryID sql.NullInt64
	Name             string
	Nature           ledger.Nature
	Color            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Category mirrors one aggregator category.
type Category struct {
	ExternalID       string
	ExternalGroupID  sql.NullString
	LinkedCategoryID sql.NullInt64
	Name             string
	Nature           ledger.Nature
	Color            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Transaction mirrors one settled aggregator transaction.
type Transaction struct {
	ExternalID                  string
	ExternalAccountID           string
	ExternalCategoryID          sql.NullString
	LinkedRecordID              sql.NullInt64
	Label                       string
	Amount                      decimal.Decimal
	Date                        time.Time
	IsIncome                    bool
	IsTransfer                  bool
	TransferToExternalAccountID sql.NullString
	Tags                        string
	CreatedAt                   time.Time
	UpdatedAt                   time.Time
}

// Key accessors used by generic upsert and repository code.

func (a *Account) Key() string     { return a.ExternalID }
func (g *Group) Key() string       { return g.ExternalID }
func (c *Category) Key() string    { return c.ExternalID }
func (t *Transaction) Key() string { return t.ExternalID }

// Touch records that the linked native entity was written at ts.
func (a *Account) Touch(ts time.Time)     { a.UpdatedAt = ts }
func (g *Group) Touch(ts time.Time)       { g.UpdatedAt = ts }
func (c *Category) Touch(ts time.Time)    { c.UpdatedAt = ts }
func (t *Transaction) Touch(ts time.Time) { t.UpdatedAt = ts }

// NullString wraps s as a valid sql.NullString, or an invalid one when s is empty.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
