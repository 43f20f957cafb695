package aggregator

import (
	"context"
	"fmt"
	"time"
)

// Client defines the read operations the importer needs from the aggregator.
// This interface enables faking the aggregator in tests.
type Client interface {
	// ListAccounts returns every account the user has connected.
	ListAccounts(ctx context.Context) ([]Account, error)

	// ListTransactions returns one page of settled transactions between start and end.
	// An empty cursor requests the first page.
	ListTransactions(ctx context.Context, start, end time.Time, cursor string) (*TransactionPage, error)

	// ListPendingTransactions returns the current pending transactions.
	ListPendingTransactions(ctx context.Context) ([]PendingTransaction, error)
}

// FetchAllTransactions consumes every page for the window before returning.
// Each page is returned as its own chunk, in fetch order.
func FetchAllTransactions(ctx context.Context, client Client, start, end time.Time) ([][]Transaction, error) {
	var chunks [][]Transaction
	cursor := ""

	for {
		page, err := client.ListTransactions(ctx, start, end, cursor)
		if err != nil {
			return nil, fmt.Errorf("FetchAllTransactions: %w", err)
		}

		chunks = append(chunks, page.Items)

		if page.NextCursor == "" || page.NextCursor == cursor {
			break
		}
		cursor = page.NextCursor
	}

	return chunks, nil
}

// Flatten joins transaction chunks into one slice.
func Flatten(chunks [][]Transaction) []Transaction {
	var n int
	for _, c := range chunks {
		n += len(c)
	}
	out := make([]Transaction, 0, n)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
