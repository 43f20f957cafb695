package events

import (
	"context"
	"time"
)

// ImportCompleted is published after an import run has committed.
type ImportCompleted struct {
	RunID           string    `json:"run_id"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	FinishedAt      time.Time `json:"finished_at"`
	Accounts        int       `json:"accounts"`
	Transactions    int       `json:"transactions"`
	Pending         int       `json:"pending"`
	RecordsCreated  int       `json:"records_created"`
	RecordsUpdated  int       `json:"records_updated"`
	TransfersPaired int       `json:"transfers_paired"`
	Conversions     int       `json:"conversions"`
	Adjustments     int       `json:"balance_adjustments"`
	SnapshotURI     string    `json:"snapshot_uri,omitempty"`
}

// Publisher announces import events to downstream consumers.
// This interface enables faking the broker in tests.
type Publisher interface {
	PublishImportCompleted(ctx context.Context, event ImportCompleted) error
}

// Nop drops every event. It is used when no brokers are configured.
type Nop struct{}

var _ Publisher = Nop{}

func (Nop) PublishImportCompleted(context.Context, ImportCompleted) error { return nil }
