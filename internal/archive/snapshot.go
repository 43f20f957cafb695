package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/dvloznov/ledger-importer/internal/aggregator"
)

// Snapshot is the raw aggregator data one import run worked from.
type Snapshot struct {
	RunID        string                          `json:"run_id"`
	Start        time.Time                       `json:"start"`
	End          time.Time                       `json:"end"`
	FetchedAt    time.Time                       `json:"fetched_at"`
	Accounts     []aggregator.Account            `json:"accounts"`
	Transactions []aggregator.Transaction        `json:"transactions"`
	Pending      []aggregator.PendingTransaction `json:"pending"`
}

// Name is the object name the snapshot is archived under, partitioned by
// fetch date: snapshots/2024/05/10/<run id>.json.
func (s *Snapshot) Name() string {
	return path.Join("snapshots", s.FetchedAt.UTC().Format("2006/01/02"), s.RunID+".json")
}

// Save encodes snap as JSON and writes it to sink, returning the object name.
func Save(ctx context.Context, sink Sink, snap *Snapshot) (string, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("Save: encode snapshot %s: %w", snap.RunID, err)
	}
	name := snap.Name()
	if err := sink.Put(ctx, name, data); err != nil {
		return "", fmt.Errorf("Save: %w", err)
	}
	return name, nil
}

// Load reads and decodes the snapshot stored under name.
func Load(ctx context.Context, sink Sink, name string) (*Snapshot, error) {
	data, err := sink.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("Load: decode %s: %w", name, err)
	}
	return &snap, nil
}

// Client serves an archived snapshot through the aggregator client
// interface so a past run can be replayed. The snapshot's transactions form
// a single page regardless of the requested window.
func (s *Snapshot) Client() aggregator.Client {
	return &snapshotClient{snap: s}
}

type snapshotClient struct {
	snap *Snapshot
}

func (c *snapshotClient) ListAccounts(context.Context) ([]aggregator.Account, error) {
	return c.snap.Accounts, nil
}

func (c *snapshotClient) ListTransactions(_ context.Context, _, _ time.Time, cursor string) (*aggregator.TransactionPage, error) {
	if cursor != "" {
		return &aggregator.TransactionPage{}, nil
	}
	return &aggregator.TransactionPage{Items: c.snap.Transactions}, nil
}

func (c *snapshotClient) ListPendingTransactions(context.Context) ([]aggregator.PendingTransaction, error) {
	return c.snap.Pending, nil
}
