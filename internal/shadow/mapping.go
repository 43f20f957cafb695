package shadow

import (
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/ledger-importer/internal/aggregator"
)

// AccountFromExternal maps an aggregator account onto a new shadow row.
func AccountFromExternal(acc aggregator.Account, now time.Time) *Account {
	holder := ""
	if acc.Meta != nil {
		holder = acc.Meta.Holder
	}
	name := acc.Name
	if holder != "" {
		name = strings.ReplaceAll(name, holder, "")
	}
	name = strings.TrimSpace(name)

	formatted := acc.FormattedAccount
	if formatted == "" {
		formatted = acc.Name
	}

	return &Account{
		ExternalID:       acc.ID,
		Name:             name,
		Description:      fmt.Sprintf("%s - %s", acc.Connection.Name, formatted),
		BeginningBalance: acc.CurrentBalance(),
		Hidden:           acc.Status == aggregator.AccountStatusInactive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// UpdateFrom copies the mapped fields of acc onto the row. Links and
// timestamps are left alone.
func (a *Account) UpdateFrom(acc aggregator.Account) {
	changes := AccountFromExternal(acc, a.CreatedAt)
	a.Name = changes.Name
	a.Description = changes.Description
	a.BeginningBalance = changes.BeginningBalance
	a.Hidden = changes.Hidden
}

// GroupFromExternal maps an aggregator group onto a new shadow row.
func GroupFromExternal(g aggregator.Group, now time.Time) *Group {
	return &Group{
		ExternalID: g.ID,
		Name:       g.Name,
		Nature:     DefaultNature,
		Color:      DefaultGroupColor,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (g *Group) UpdateFrom(ext aggregator.Group) {
	g.Name = ext.Name
	g.Nature = DefaultNature
	g.Color = DefaultGroupColor
}

// CategoryFromExternal maps an aggregator category onto a new shadow row.
func CategoryFromExternal(c aggregator.Category, now time.Time) *Category {
	row := &Category{
		ExternalID: c.ID,
		Name:       c.Name,
		Nature:     DefaultNature,
		Color:      DefaultCategoryColor,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if g := c.Group(); g != nil {
		row.ExternalGroupID = NullString(g.ID)
	}
	return row
}

func (c *Category) UpdateFrom(ext aggregator.Category) {
	changes := CategoryFromExternal(ext, c.CreatedAt)
	c.ExternalGroupID = changes.ExternalGroupID
	c.Name = changes.Name
	c.Nature = changes.Nature
	c.Color = changes.Color
}

// TransactionFromExternal maps an aggregator transaction onto a new shadow row.
func TransactionFromExternal(tx aggregator.Transaction, now time.Time) *Transaction {
	row := &Transaction{
		ExternalID:        tx.ID,
		ExternalAccountID: tx.Account,
		Label:             Label(tx),
		Amount:            tx.Amount.Abs(),
		Date:              tx.Date,
		IsIncome:          tx.Amount.IsPositive(),
		Tags:              TransactionTags(tx),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if tx.Category != nil {
		row.ExternalCategoryID = NullString(tx.Category.ID)
	}
	return row
}

// UpdateFrom copies the mapped fields of tx onto the row. Transfer flags set
// by pairing are kept, and a row already flagged as a transfer stays non-income.
func (t *Transaction) UpdateFrom(tx aggregator.Transaction) {
	changes := TransactionFromExternal(tx, t.CreatedAt)
	t.ExternalCategoryID = changes.ExternalCategoryID
	t.ExternalAccountID = changes.ExternalAccountID
	t.Label = changes.Label
	t.Date = changes.Date
	t.Amount = changes.Amount
	t.IsIncome = changes.IsIncome && !t.IsTransfer
	t.Tags = changes.Tags
}

// Label is the record label for a transaction: the merchant name, when
// known, followed by the bank description.
func Label(tx aggregator.Transaction) string {
	if tx.Merchant != nil && tx.Merchant.Name != "" {
		return fmt.Sprintf("%s: %s", tx.Merchant.Name, tx.Description)
	}
	return tx.Description
}

// Tags renders ordered key/value pairs as "k1: v1, k2: v2".
func Tags(pairs ...[2]string) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p[0]+": "+p[1])
	}
	return strings.Join(parts, ", ")
}

// TransactionTags builds the tag string stored on a transaction's record.
func TransactionTags(tx aggregator.Transaction) string {
	pairs := [][2]string{
		{"type", string(tx.Type)},
		{"imported", ImportTag},
	}
	if tx.Merchant != nil {
		pairs = append(pairs, [2]string{"merchant", tx.Merchant.Name})
	}
	if m := tx.Meta; m != nil {
		reference := strings.TrimSpace(strings.Join([]string{m.Particulars, m.Code, m.Reference}, " "))
		if m.CardSuffix != "" {
			pairs = append(pairs, [2]string{"card", m.CardSuffix})
		}
		if reference != "" {
			pairs = append(pairs, [2]string{"reference", reference})
		}
		if fx := m.Conversion; fx != nil && fx.Currency != "" {
			pairs = append(pairs, [2]string{"conversion", fmt.Sprintf("%s %s @ %s", fx.Currency, fx.Amount, fx.Rate)})
		}
	}
	return Tags(pairs...)
}

// PendingTags builds the tag string stored on a pending transaction's record.
func PendingTags(tx aggregator.PendingTransaction) string {
	return Tags([2]string{"type", string(tx.Type)}, [2]string{"imported", ImportTag})
}
