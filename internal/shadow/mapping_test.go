package shadow

import (
	"testing"
	"time"

	"github.com/dvloznov/ledger-importer/internal/aggregator"
	"github.com/dvloznov/ledger-importer/internal/ledger"
	"github.com/shopspring/decimal"
)

var now = time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)

func TestAccountFromExternal(t *testing.T) {
	tests := []struct {
		name        string
		account     aggregator.Account
		wantName    string
		wantDesc    string
		wantBalance string
		wantHidden  bool
	}{
		{
			name: "holder removed from name",
			account: aggregator.Account{
				ID: "acc_1", Name: "J Smith Everyday", FormattedAccount: "01-0123-0123456-00",
				Status: "ACTIVE", Connection: aggregator.Connection{Name: "ANZ"},
				Balance: &aggregator.Balance{Current: decimal.RequireFromString("1500.25")},
				Meta:    &aggregator.AccountMeta{Holder: "J Smith"},
			},
			wantName:    "Everyday",
			wantDesc:    "ANZ - 01-0123-0123456-00",
			wantBalance: "1500.25",
		},
		{
			name: "no formatted account, no balance, inactive",
			account: aggregator.Account{
				ID: "acc_2", Name: "KiwiSaver", Status: aggregator.AccountStatusInactive,
				Connection: aggregator.Connection{Name: "Simplicity"},
			},
			wantName:    "KiwiSaver",
			wantDesc:    "Simplicity - KiwiSaver",
			wantBalance: "0",
			wantHidden:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AccountFromExternal(tt.account, now)
			if got.ExternalID != tt.account.ID {
				t.Errorf("ExternalID = %q", got.ExternalID)
			}
			if got.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", got.Name, tt.wantName)
			}
			if got.Description != tt.wantDesc {
				t.Errorf("Description = %q, want %q", got.Description, tt.wantDesc)
			}
			if !got.BeginningBalance.Equal(decimal.RequireFromString(tt.wantBalance)) {
				t.Errorf("BeginningBalance = %s, want %s", got.BeginningBalance, tt.wantBalance)
			}
			if got.Hidden != tt.wantHidden {
				t.Errorf("Hidden = %v, want %v", got.Hidden, tt.wantHidden)
			}
			if !got.CreatedAt.Equal(now) || !got.UpdatedAt.Equal(now) {
				t.Errorf("timestamps not initialised: %v %v", got.CreatedAt, got.UpdatedAt)
			}
		})
	}
}

func TestAccountUpdateFrom_KeepsLinkAndTimestamps(t *testing.T) {
	earlier := now.Add(-24 * time.Hour)
	row := &Account{ExternalID: "acc_1", LinkedAccountID: ledger.NullID(3), Name: "Old", CreatedAt: earlier, UpdatedAt: earlier}

	row.UpdateFrom(aggregator.Account{ID: "acc_1", Name: "New", Connection: aggregator.Connection{Name: "ASB"}})

	if row.Name != "New" || row.Description != "ASB - New" {
		t.Errorf("fields not updated: %+v", row)
	}
	if row.LinkedAccountID.Int64 != 3 {
		t.Errorf("link lost: %+v", row.LinkedAccountID)
	}
	if !row.UpdatedAt.Equal(earlier) || !row.CreatedAt.Equal(earlier) {
		t.Errorf("timestamps moved: %v %v", row.CreatedAt, row.UpdatedAt)
	}
}

func TestGroupAndCategoryDefaults(t *testing.T) {
	group := GroupFromExternal(aggregator.Group{ID: "grp_1", Name: "Lifestyle"}, now)
	if group.Color != DefaultGroupColor || group.Nature != ledger.NatureWant {
		t.Errorf("unexpected group defaults: %+v", group)
	}

	withGroup := CategoryFromExternal(aggregator.Category{
		ID: "cat_1", Name: "Cafes",
		Groups: &aggregator.CategoryGroups{PersonalFinance: &aggregator.Group{ID: "grp_1", Name: "Lifestyle"}},
	}, now)
	if withGroup.Color != DefaultCategoryColor || withGroup.Nature != ledger.NatureWant {
		t.Errorf("unexpected category defaults: %+v", withGroup)
	}
	if withGroup.ExternalGroupID.String != "grp_1" || !withGroup.ExternalGroupID.Valid {
		t.Errorf("ExternalGroupID = %+v", withGroup.ExternalGroupID)
	}

	withoutGroup := CategoryFromExternal(aggregator.Category{ID: "cat_2", Name: "Other"}, now)
	if withoutGroup.ExternalGroupID.Valid {
		t.Errorf("expected no group, got %+v", withoutGroup.ExternalGroupID)
	}

	withGroup.UpdateFrom(aggregator.Category{ID: "cat_1", Name: "Coffee"})
	if withGroup.Name != "Coffee" || withGroup.ExternalGroupID.Valid {
		t.Errorf("category update not applied: %+v", withGroup)
	}
}

func TestTransactionFromExternal(t *testing.T) {
	date := time.Date(2024, 5, 9, 23, 0, 0, 0, time.UTC)
	tx := aggregator.Transaction{
		ID: "tx_1", Account: "acc_1", Date: date,
		Description: "CARD 1234 COFFEE CO", Amount: decimal.RequireFromString("-4.50"),
		Type:     aggregator.TransactionTypeDebit,
		Category: &aggregator.Category{ID: "cat_1", Name: "Cafes"},
		Merchant: &aggregator.Merchant{Name: "Coffee Co"},
		Meta: &aggregator.TransactionMeta{
			CardSuffix: "1234", Particulars: "COFFEE", Reference: "REF9",
			Conversion: &aggregator.Conversion{
				Amount: decimal.RequireFromString("-2.75"), Rate: decimal.RequireFromString("1.6364"), Currency: "USD",
			},
		},
	}

	got := TransactionFromExternal(tx, now)
	if got.Label != "Coffee Co: CARD 1234 COFFEE CO" {
		t.Errorf("Label = %q", got.Label)
	}
	if !got.Amount.Equal(decimal.RequireFromString("4.5")) {
		t.Errorf("Amount = %s, want 4.5", got.Amount)
	}
	if got.IsIncome || got.IsTransfer {
		t.Errorf("unexpected flags: income=%v transfer=%v", got.IsIncome, got.IsTransfer)
	}
	if got.ExternalCategoryID.String != "cat_1" || got.ExternalAccountID != "acc_1" {
		t.Errorf("unexpected external links: %+v", got)
	}
	wantTags := "type: DEBIT, imported: akahu, merchant: Coffee Co, card: 1234, reference: COFFEE  REF9, conversion: USD -2.75 @ 1.6364"
	if got.Tags != wantTags {
		t.Errorf("Tags =\n%q\nwant\n%q", got.Tags, wantTags)
	}
	if !got.Date.Equal(date) {
		t.Errorf("Date = %v", got.Date)
	}
}

func TestTransactionTags_Minimal(t *testing.T) {
	tx := aggregator.Transaction{Type: aggregator.TransactionTypeCredit, Description: "Salary", Meta: &aggregator.TransactionMeta{}}
	if got := TransactionTags(tx); got != "type: CREDIT, imported: akahu" {
		t.Errorf("TransactionTags = %q", got)
	}
	if got := Label(tx); got != "Salary" {
		t.Errorf("Label = %q", got)
	}
}

func TestTransactionUpdateFrom_PreservesTransferFlags(t *testing.T) {
	row := &Transaction{
		ExternalID: "tx_1", IsTransfer: true, IsIncome: false,
		TransferToExternalAccountID: NullString("acc_2"), LinkedRecordID: ledger.NullID(9),
		CreatedAt: now, UpdatedAt: now,
	}

	row.UpdateFrom(aggregator.Transaction{
		ID: "tx_1", Account: "acc_1", Description: "From savings",
		Amount: decimal.NewFromInt(250), Type: aggregator.TransactionTypeCredit,
	})

	if !row.IsTransfer || row.IsIncome {
		t.Errorf("transfer flags changed: transfer=%v income=%v", row.IsTransfer, row.IsIncome)
	}
	if row.TransferToExternalAccountID.String != "acc_2" || row.LinkedRecordID.Int64 != 9 {
		t.Errorf("links changed: %+v", row)
	}
	if !row.Amount.Equal(decimal.NewFromInt(250)) || row.Label != "From savings" {
		t.Errorf("fields not updated: %+v", row)
	}
}

func TestPendingTags(t *testing.T) {
	got := PendingTags(aggregator.PendingTransaction{Type: "EFTPOS"})
	if got != "type: EFTPOS, imported: akahu" {
		t.Errorf("PendingTags = %q", got)
	}
}
