package importer

import (
	"context"
	"fmt"

	"github.com/dvloznov/ledger-importer/internal/aggregator"
	"github.com/dvloznov/ledger-importer/internal/ledger"
	"github.com/dvloznov/ledger-importer/internal/logger"
	"github.com/dvloznov/ledger-importer/internal/store"
	"github.com/shopspring/decimal"
)

// balancePlaces is the precision balances are compared and stored at.
const balancePlaces = 4

// Adjustment records one beginning-balance correction.
type Adjustment struct {
	AccountID int64
	Previous  decimal.Decimal
	New       decimal.Decimal
	Expected  decimal.Decimal
	Computed  decimal.Decimal
}

// ComputeBalance derives an account's balance from its beginning balance,
// its own records, transfers into it and paid splits settled into it.
func ComputeBalance(ctx context.Context, sess store.Session, accountID int64) (decimal.Decimal, error) {
	account, err := sess.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ComputeBalance: %w", err)
	}
	balance := account.BeginningBalance

	own, err := sess.ListRecords(ctx, store.RecordFilter{AccountID: ledger.NullID(accountID)})
	if err != nil {
		return decimal.Zero, fmt.Errorf("ComputeBalance: own records: %w", err)
	}
	for _, r := range own {
		switch {
		case r.IsTransfer:
			balance = balance.Sub(r.Amount)
		case r.IsIncome:
			balance = balance.Add(r.Amount)
		default:
			balance = balance.Sub(r.Amount)
		}
	}

	incoming, err := sess.ListRecords(ctx, store.RecordFilter{TransferToAccountID: ledger.NullID(accountID), TransfersOnly: true})
	if err != nil {
		return decimal.Zero, fmt.Errorf("ComputeBalance: incoming transfers: %w", err)
	}
	for _, r := range incoming {
		balance = balance.Add(r.Amount)
	}

	splits, err := sess.ListSplits(ctx, accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ComputeBalance: splits: %w", err)
	}
	for _, s := range splits {
		if !s.IsPaid {
			continue
		}
		parent, err := sess.GetRecord(ctx, s.RecordID)
		if err != nil {
			return decimal.Zero, fmt.Errorf("ComputeBalance: split %d: %w", s.ID, err)
		}
		if parent.IsIncome {
			balance = balance.Sub(s.Amount)
		} else {
			balance = balance.Add(s.Amount)
		}
	}

	return balance, nil
}

// ReconcileBalances shifts the beginning balance of every linked account so
// that the computed balance equals the balance the aggregator reports.
// Accounts without a shadow row or native link are skipped. The account's
// UpdatedAt is left alone so the correction never counts as a local edit.
func ReconcileBalances(ctx context.Context, sess store.Session, accounts []aggregator.Account) ([]Adjustment, error) {
	log := logger.FromContext(ctx)

	ids := make([]string, 0, len(accounts))
	for _, a := range accounts {
		ids = append(ids, a.ID)
	}
	rows, err := sess.ShadowAccounts().FindByExternalIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("ReconcileBalances: %w", err)
	}

	var adjustments []Adjustment
	seen := make(map[int64]bool)
	for _, a := range accounts {
		row, ok := rows[a.ID]
		if !ok || !row.LinkedAccountID.Valid {
			log.Debug().Str("akahu_id", a.ID).Msg("Account not linked, skipping balance")
			continue
		}
		id := row.LinkedAccountID.Int64
		if seen[id] {
			continue
		}
		seen[id] = true

		computed, err := ComputeBalance(ctx, sess, id)
		if err != nil {
			return adjustments, fmt.Errorf("ReconcileBalances: %w", err)
		}
		computed = computed.Round(balancePlaces)
		expected := a.CurrentBalance()

		discrepancy := expected.Sub(computed)
		if discrepancy.IsZero() {
			continue
		}

		account, err := sess.GetAccount(ctx, id)
		if err != nil {
			return adjustments, fmt.Errorf("ReconcileBalances: %w", err)
		}
		adjusted := discrepancy.Add(account.BeginningBalance).Round(balancePlaces)
		if adjusted.Equal(account.BeginningBalance) {
			continue
		}

		adjustments = append(adjustments, Adjustment{
			AccountID: id,
			Previous:  account.BeginningBalance,
			New:       adjusted,
			Expected:  expected,
			Computed:  computed,
		})
		account.BeginningBalance = adjusted
		if err := sess.UpdateAccount(ctx, account); err != nil {
			return adjustments, fmt.Errorf("ReconcileBalances: updating account %d: %w", id, err)
		}
		log.Info().
			Int64("account_id", id).
			Str("expected", expected.String()).
			Str("computed", computed.String()).
			Str("beginning_balance", adjusted.String()).
			Msg("Adjusted beginning balance")
	}

	if err := sess.Commit(ctx); err != nil {
		return adjustments, fmt.Errorf("ReconcileBalances: %w", err)
	}
	return adjustments, nil
}
