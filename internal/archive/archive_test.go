package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/ledger-importer/internal/aggregator"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
)

// memorySink keeps objects in a map.
type memorySink struct {
	objects map[string][]byte
	PutFunc func(ctx context.Context, name string, data []byte) error
}

func (m *memorySink) Put(ctx context.Context, name string, data []byte) error {
	if m.PutFunc != nil {
		return m.PutFunc(ctx, name, data)
	}
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[name] = data
	return nil
}

func (m *memorySink) Get(_ context.Context, name string) ([]byte, error) {
	data, ok := m.objects[name]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func testSnapshot() *Snapshot {
	fetched := time.Date(2024, 5, 10, 22, 15, 0, 0, time.UTC)
	return &Snapshot{
		RunID:     "run-1",
		Start:     fetched.AddDate(0, 0, -30),
		End:       fetched,
		FetchedAt: fetched,
		Accounts: []aggregator.Account{{
			ID: "acc_1", Name: "Everyday", Status: "ACTIVE",
			Connection: aggregator.Connection{Name: "ANZ"},
			Balance:    &aggregator.Balance{Current: decimal.RequireFromString("120.50")},
		}},
		Transactions: []aggregator.Transaction{{
			ID: "tx_1", Account: "acc_1", Date: fetched.Add(-time.Hour),
			Description: "Coffee", Amount: decimal.RequireFromString("-4.5"), Type: aggregator.TransactionTypeDebit,
		}},
		Pending: []aggregator.PendingTransaction{{
			Account: "acc_1", Date: fetched, Description: "Groceries",
			Amount: decimal.RequireFromString("-30"), Type: aggregator.TransactionTypeDebit, UpdatedAt: fetched,
		}},
	}
}

func TestSnapshotName(t *testing.T) {
	snap := testSnapshot()
	if got, want := snap.Name(), "snapshots/2024/05/10/run-1.json"; got != want {
		t.Errorf("Name() = %q, want %q", got, want)
	}
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	sink := &memorySink{}
	snap := testSnapshot()

	name, err := Save(ctx, sink, snap)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(ctx, sink, name)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	opts := cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })
	if diff := cmp.Diff(snap, got, opts); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestSave_PropagatesSinkError(t *testing.T) {
	sink := &memorySink{PutFunc: func(context.Context, string, []byte) error {
		return errors.New("bucket unavailable")
	}}
	if _, err := Save(context.Background(), sink, testSnapshot()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSnapshotClient(t *testing.T) {
	ctx := context.Background()
	snap := testSnapshot()

	chunks, err := aggregator.FetchAllTransactions(ctx, snap.Client(), snap.Start, snap.End)
	if err != nil {
		t.Fatalf("FetchAllTransactions: %v", err)
	}
	if len(chunks) != 1 || len(chunks[0]) != 1 || chunks[0][0].ID != "tx_1" {
		t.Errorf("unexpected chunks: %+v", chunks)
	}

	pending, err := snap.Client().ListPendingTransactions(ctx)
	if err != nil || len(pending) != 1 {
		t.Errorf("ListPendingTransactions = %v, %v", pending, err)
	}
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantName   string
		wantErr    bool
	}{
		{uri: "gs://ledger-archive/snapshots/2024/05/10/run-1.json", wantBucket: "ledger-archive", wantName: "snapshots/2024/05/10/run-1.json"},
		{uri: "s3://bucket/key", wantErr: true},
		{uri: "gs://bucket-only", wantErr: true},
		{uri: "gs://bucket/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, name, err := ParseURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseURI err = %v, wantErr %v", err, tt.wantErr)
			}
			if bucket != tt.wantBucket || name != tt.wantName {
				t.Errorf("ParseURI = %q, %q", bucket, name)
			}
		})
	}
}
