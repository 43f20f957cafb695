package aggregator

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// TransactionType is the kind of a transaction as declared by the aggregator.
type TransactionType string

const (
	TransactionTypeDebit  TransactionType = "DEBIT"
	TransactionTypeCredit TransactionType = "CREDIT"
)

// Opposite returns the mirrored type for DEBIT and CREDIT.
// Other types have no opposite and report false.
func (t TransactionType) Opposite() (TransactionType, bool) {
	switch t {
	case TransactionTypeDebit:
		return TransactionTypeCredit, true
	case TransactionTypeCredit:
		return TransactionTypeDebit, true
	}
	return "", false
}

// AccountStatusInactive marks accounts that are closed or no longer refreshed.
const AccountStatusInactive = "INACTIVE"

// Account is a bank account connected to the aggregator.
type Account struct {
	ID               string       `json:"_id"`
	Name             string       `json:"name"`
	FormattedAccount string       `json:"formatted_account,omitempty"`
	Status           string       `json:"status"`
	Connection       Connection   `json:"connection"`
	Balance          *Balance     `json:"balance,omitempty"`
	Meta             *AccountMeta `json:"meta,omitempty"`
}

// Connection is the institution an account is sourced from.
type Connection struct {
	ID   string `json:"_id,omitempty"`
	Name string `json:"name"`
}

type Balance struct {
	Current  decimal.Decimal `json:"current"`
	Currency string          `json:"currency,omitempty"`
}

type AccountMeta struct {
	Holder string `json:"holder,omitempty"`
}

// CurrentBalance returns the reported balance, zero when the aggregator sent none.
func (a Account) CurrentBalance() decimal.Decimal {
	if a.Balance == nil {
		return decimal.Zero
	}
	return a.Balance.Current
}

// Transaction is a settled transaction.
type Transaction struct {
	ID          string           `json:"_id"`
	Account     string           `json:"_account"`
	Date        time.Time        `json:"date"`
	Description string           `json:"description"`
	Amount      decimal.Decimal  `json:"amount"`
	Type        TransactionType  `json:"type"`
	Category    *Category        `json:"category,omitempty"`
	Merchant    *Merchant        `json:"merchant,omitempty"`
	Meta        *TransactionMeta `json:"meta,omitempty"`
}

// Day is the calendar date of the transaction in the location of its timestamp.
func (t Transaction) Day() civil.Date {
	return civil.DateOf(t.Date)
}

// Conversion returns the currency conversion metadata, or nil.
func (t Transaction) Conversion() *Conversion {
	if t.Meta == nil {
		return nil
	}
	return t.Meta.Conversion
}

// Group returns the personal-finance group of the transaction's category, or nil.
func (t Transaction) Group() *Group {
	if t.Category == nil {
		return nil
	}
	return t.Category.Group()
}

type Category struct {
	ID     string          `json:"_id"`
	Name   string          `json:"name"`
	Groups *CategoryGroups `json:"groups,omitempty"`
}

// Group returns the personal-finance grouping of the category, or nil.
func (c Category) Group() *Group {
	if c.Groups == nil {
		return nil
	}
	return c.Groups.PersonalFinance
}

type CategoryGroups struct {
	PersonalFinance *Group `json:"personal_finance,omitempty"`
}

// Group is a top-level category grouping such as "Lifestyle" or "Household".
type Group struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

type Merchant struct {
	ID   string `json:"_id,omitempty"`
	Name string `json:"name"`
}

type TransactionMeta struct {
	CardSuffix  string      `json:"card_suffix,omitempty"`
	Particulars string      `json:"particulars,omitempty"`
	Code        string      `json:"code,omitempty"`
	Reference   string      `json:"reference,omitempty"`
	Conversion  *Conversion `json:"conversion,omitempty"`
}

// Conversion describes the foreign-currency side of a transaction.
type Conversion struct {
	Amount   decimal.Decimal `json:"amount"`
	Rate     decimal.Decimal `json:"rate"`
	Currency string          `json:"currency"`
}

// PendingTransaction is an unsettled transaction. Pending transactions have
// no stable id and change between fetches.
type PendingTransaction struct {
	Account     string          `json:"_account"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Type        TransactionType `json:"type"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TransactionPage is one page of a transaction listing.
// NextCursor is empty on the last page.
type TransactionPage struct {
	Items      []Transaction
	NextCursor string
}
