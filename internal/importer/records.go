package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/ledger-importer/internal/aggregator"
	"github.com/dvloznov/ledger-importer/internal/ledger"
	"github.com/dvloznov/ledger-importer/internal/logger"
	"github.com/dvloznov/ledger-importer/internal/shadow"
	"github.com/dvloznov/ledger-importer/internal/store"
	"github.com/shopspring/decimal"
)

// ErrUnlinkedAccount is returned when a mirrored transaction belongs to an
// account that has no native account. Linking accounts before syncing
// records prevents it.
var ErrUnlinkedAccount = errors.New("transaction account is not linked")

// SyncStats counts what SyncTransactions did.
type SyncStats struct {
	Created int
	Updated int
}

// SyncTransactions creates or updates the ledger record of every mirrored
// transaction. The record's category follows the shadow only when the shadow
// row is strictly newer than the record; all other fields always follow the
// shadow.
func SyncTransactions(ctx context.Context, sess store.Session, boot *Bootstrap, now time.Time) (SyncStats, error) {
	var stats SyncStats

	accounts, err := shadowAccountsByID(ctx, sess)
	if err != nil {
		return stats, fmt.Errorf("SyncTransactions: %w", err)
	}
	categoryRows, err := sess.ShadowCategories().List(ctx)
	if err != nil {
		return stats, fmt.Errorf("SyncTransactions: %w", err)
	}
	categories := make(map[string]*shadow.Category, len(categoryRows))
	for _, c := range categoryRows {
		categories[c.ExternalID] = c
	}

	rows, err := sess.ShadowTransactions().List(ctx)
	if err != nil {
		return stats, fmt.Errorf("SyncTransactions: %w", err)
	}

	for _, row := range rows {
		account, ok := accounts[row.ExternalAccountID]
		if !ok || !account.LinkedAccountID.Valid {
			return stats, fmt.Errorf("SyncTransactions: %s on %s: %w", row.ExternalID, row.ExternalAccountID, ErrUnlinkedAccount)
		}

		record, err := linkedRecord(ctx, sess, row)
		if err != nil {
			return stats, fmt.Errorf("SyncTransactions: %w", err)
		}

		categoryID := recordCategory(row, categories, boot)
		if record == nil {
			record = &ledger.Record{CategoryID: ledger.NullID(categoryID), CreatedAt: now, UpdatedAt: now}
			applyShadow(record, row, account, accounts)
			if err := sess.CreateRecord(ctx, record); err != nil {
				return stats, fmt.Errorf("SyncTransactions: creating record for %s: %w", row.ExternalID, err)
			}
			row.LinkedRecordID = ledger.NullID(record.ID)
			row.Touch(now)
			stats.Created++
		} else {
			if row.UpdatedAt.After(record.UpdatedAt) {
				record.CategoryID = ledger.NullID(categoryID)
				record.UpdatedAt = now
				row.Touch(now)
			}
			applyShadow(record, row, account, accounts)
			if err := sess.UpdateRecord(ctx, record); err != nil {
				return stats, fmt.Errorf("SyncTransactions: updating record %d: %w", record.ID, err)
			}
			stats.Updated++
		}

		if err := sess.ShadowTransactions().Save(ctx, row); err != nil {
			return stats, fmt.Errorf("SyncTransactions: %w", err)
		}
	}

	if err := sess.Commit(ctx); err != nil {
		return stats, fmt.Errorf("SyncTransactions: %w", err)
	}
	return stats, nil
}

func shadowAccountsByID(ctx context.Context, sess store.Session) (map[string]*shadow.Account, error) {
	rows, err := sess.ShadowAccounts().List(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*shadow.Account, len(rows))
	for _, r := range rows {
		byID[r.ExternalID] = r
	}
	return byID, nil
}

// linkedRecord returns the record behind row, or nil when the row has none
// or its record was deleted.
func linkedRecord(ctx context.Context, sess store.Session, row *shadow.Transaction) (*ledger.Record, error) {
	if !row.LinkedRecordID.Valid {
		return nil, nil
	}
	record, err := sess.GetRecord(ctx, row.LinkedRecordID.Int64)
	if errors.Is(err, store.ErrNotFound) {
		log := logger.FromContext(ctx)
		log.Warn().Str("akahu_id", row.ExternalID).Int64("record_id", row.LinkedRecordID.Int64).
			Msg("Linked record no longer exists, recreating")
		return nil, nil
	}
	return record, err
}

// recordCategory picks the category a record should carry: Transfer for
// transfers, the linked native category when there is one, Uncategorized
// otherwise.
func recordCategory(row *shadow.Transaction, categories map[string]*shadow.Category, boot *Bootstrap) int64 {
	if row.IsTransfer {
		return boot.Transfer.ID
	}
	if row.ExternalCategoryID.Valid {
		if c, ok := categories[row.ExternalCategoryID.String]; ok && c.LinkedCategoryID.Valid {
			return c.LinkedCategoryID.Int64
		}
	}
	return boot.Uncategorized.ID
}

func applyShadow(record *ledger.Record, row *shadow.Transaction, account *shadow.Account, accounts map[string]*shadow.Account) {
	record.AccountID = account.LinkedAccountID.Int64
	record.Label = row.Label
	record.Date = row.Date
	record.Amount = row.Amount
	record.IsIncome = row.IsIncome
	record.IsTransfer = row.IsTransfer
	record.Tags = row.Tags
	record.IsInProgress = false

	record.TransferToAccountID.Valid = false
	record.TransferToAccountID.Int64 = 0
	if row.IsTransfer && row.TransferToExternalAccountID.Valid {
		if to, ok := accounts[row.TransferToExternalAccountID.String]; ok && to.LinkedAccountID.Valid {
			record.TransferToAccountID = to.LinkedAccountID
		}
	}
}

// SyncPending replaces every record in the Pending category with one
// in-progress record per pending transaction. Pending transactions on
// accounts that are not mirrored or not linked are skipped.
func SyncPending(ctx context.Context, sess store.Session, pending []aggregator.PendingTransaction, boot *Bootstrap, now time.Time) (int, error) {
	log := logger.FromContext(ctx)

	deleted, err := sess.DeleteRecords(ctx, store.RecordFilter{CategoryID: ledger.NullID(boot.Pending.ID)})
	if err != nil {
		return 0, fmt.Errorf("SyncPending: clearing pending records: %w", err)
	}
	log.Debug().Int("deleted", deleted).Msg("Cleared pending records")

	accounts, err := shadowAccountsByID(ctx, sess)
	if err != nil {
		return 0, fmt.Errorf("SyncPending: %w", err)
	}

	created := 0
	for _, tx := range pending {
		account, ok := accounts[tx.Account]
		if !ok || !account.LinkedAccountID.Valid {
			log.Debug().Str("akahu_account_id", tx.Account).Str("description", tx.Description).
				Msg("Pending transaction on unknown account, skipping")
			continue
		}

		record := &ledger.Record{
			AccountID:    account.LinkedAccountID.Int64,
			CategoryID:   ledger.NullID(boot.Pending.ID),
			Label:        tx.Description,
			Date:         tx.Date,
			Amount:       tx.Amount.Abs(),
			IsIncome:     tx.Amount.GreaterThan(decimal.Zero),
			IsInProgress: true,
			Tags:         shadow.PendingTags(tx),
			CreatedAt:    now,
			UpdatedAt:    tx.UpdatedAt,
		}
		if err := sess.CreateRecord(ctx, record); err != nil {
			return created, fmt.Errorf("SyncPending: %w", err)
		}
		created++
	}

	if err := sess.Commit(ctx); err != nil {
		return created, fmt.Errorf("SyncPending: %w", err)
	}
	return created, nil
}
