package importer

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/dvloznov/ledger-importer/internal/aggregator"
	"github.com/dvloznov/ledger-importer/internal/store"
	"github.com/shopspring/decimal"
)

var (
	day  = time.Date(2024, 5, 9, 21, 30, 0, 0, time.UTC)
	base = time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
)

// fakeClient serves fixed data page by page. The ...Func fields override
// the corresponding method when set.
type fakeClient struct {
	accounts []aggregator.Account
	pages    [][]aggregator.Transaction
	pending  []aggregator.PendingTransaction

	ListAccountsFunc            func(ctx context.Context) ([]aggregator.Account, error)
	ListPendingTransactionsFunc func(ctx context.Context) ([]aggregator.PendingTransaction, error)
}

func (f *fakeClient) ListAccounts(ctx context.Context) ([]aggregator.Account, error) {
	if f.ListAccountsFunc != nil {
		return f.ListAccountsFunc(ctx)
	}
	return f.accounts, nil
}

func (f *fakeClient) ListTransactions(_ context.Context, _, _ time.Time, cursor string) (*aggregator.TransactionPage, error) {
	i := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, err
		}
		i = n
	}
	page := &aggregator.TransactionPage{}
	if i < len(f.pages) {
		page.Items = f.pages[i]
	}
	if i+1 < len(f.pages) {
		page.NextCursor = strconv.Itoa(i + 1)
	}
	return page, nil
}

func (f *fakeClient) ListPendingTransactions(ctx context.Context) ([]aggregator.PendingTransaction, error) {
	if f.ListPendingTransactionsFunc != nil {
		return f.ListPendingTransactionsFunc(ctx)
	}
	return f.pending, nil
}

// fakeClock moves one minute forward on every call.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	c.t = c.t.Add(time.Minute)
	return c.t
}

func begin(t *testing.T, s store.Store) store.Session {
	t.Helper()
	sess, err := s.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func account(id, name, balance string) aggregator.Account {
	return aggregator.Account{
		ID:         id,
		Name:       name,
		Status:     "ACTIVE",
		Connection: aggregator.Connection{Name: "ANZ"},
		Balance:    &aggregator.Balance{Current: dec(balance)},
	}
}

func tx(id, acc, description, amount string, typ aggregator.TransactionType) aggregator.Transaction {
	return aggregator.Transaction{
		ID:          id,
		Account:     acc,
		Date:        day,
		Description: description,
		Amount:      dec(amount),
		Type:        typ,
	}
}

var cafes = &aggregator.Category{
	ID:     "cat_cafes",
	Name:   "Cafes",
	Groups: &aggregator.CategoryGroups{PersonalFinance: &aggregator.Group{ID: "grp_lifestyle", Name: "Lifestyle"}},
}

// newFixtureClient returns two accounts, a transfer between them, a coffee
// purchase, a salary and one pending purchase. Transactions span two pages.
func newFixtureClient() *fakeClient {
	coffee := tx("tx_3", "acc_1", "Coffee", "-4.50", aggregator.TransactionTypeDebit)
	coffee.Category = cafes

	return &fakeClient{
		accounts: []aggregator.Account{
			account("acc_1", "Everyday", "200"),
			account("acc_2", "Savings", "5000"),
		},
		pages: [][]aggregator.Transaction{
			{
				tx("tx_1", "acc_1", "TRANSFER TO J SMITH", "-100", aggregator.TransactionTypeDebit),
				tx("tx_2", "acc_2", "TRANSFER FROM J SMITH", "100", aggregator.TransactionTypeCredit),
			},
			{
				coffee,
				tx("tx_4", "acc_1", "Salary", "2000", aggregator.TransactionTypeCredit),
			},
		},
		pending: []aggregator.PendingTransaction{
			{Account: "acc_1", Date: base, Description: "Groceries", Amount: dec("-30"), Type: "EFTPOS", UpdatedAt: base},
		},
	}
}
