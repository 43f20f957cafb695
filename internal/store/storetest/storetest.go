// Package storetest holds behaviour tests shared by every store.Store implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/ledger-importer/internal/ledger"
	"github.com/dvloznov/ledger-importer/internal/shadow"
	"github.com/dvloznov/ledger-importer/internal/store"
	"github.com/shopspring/decimal"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

var base = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

// Run exercises the store.Store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"AccountCRUD", testAccountCRUD},
		{"CommitPersists", testCommitPersists},
		{"RollbackDiscards", testRollbackDiscards},
		{"CloseDiscardsUncommitted", testCloseDiscardsUncommitted},
		{"CategoriesByNameAndLevel", testCategoriesByNameAndLevel},
		{"DeleteCategoriesExcept", testDeleteCategoriesExcept},
		{"RecordFilters", testRecordFilters},
		{"Splits", testSplits},
		{"ShadowRepositories", testShadowRepositories},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

func begin(t *testing.T, s store.Store) store.Session {
	t.Helper()
	sess, err := s.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	return sess
}

func mustCommit(t *testing.T, sess store.Session) {
	t.Helper()
	if err := sess.Commit(context.Background()); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func testAccountCRUD(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess := begin(t, s)
	defer sess.Close()

	account := &ledger.Account{
		Name:             "Everyday",
		Description:      "ANZ - 01-0000-0000000-00",
		BeginningBalance: decimal.RequireFromString("12.34"),
		CreatedAt:        base,
		UpdatedAt:        base,
	}
	if err := sess.CreateAccount(ctx, account); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if account.ID == 0 {
		t.Fatal("expected CreateAccount to assign an ID")
	}

	got, err := sess.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if got.Name != "Everyday" || got.Description != account.Description {
		t.Errorf("unexpected account: %+v", got)
	}
	if !got.BeginningBalance.Equal(account.BeginningBalance) {
		t.Errorf("BeginningBalance = %s, want %s", got.BeginningBalance, account.BeginningBalance)
	}
	if !got.UpdatedAt.Equal(base) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, base)
	}

	got.Hidden = true
	got.UpdatedAt = base.Add(time.Hour)
	if err := sess.UpdateAccount(ctx, got); err != nil {
		t.Fatalf("UpdateAccount failed: %v", err)
	}
	again, err := sess.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if !again.Hidden || !again.UpdatedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("update not applied: %+v", again)
	}

	if _, err := sess.GetAccount(ctx, account.ID+100); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := sess.UpdateAccount(ctx, &ledger.Account{ID: account.ID + 100}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound on update of missing account, got %v", err)
	}
}

func testCommitPersists(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess := begin(t, s)
	category := &ledger.Category{Name: "Food", Nature: ledger.NatureNeed, Color: "#00ff00", CreatedAt: base, UpdatedAt: base}
	if err := sess.CreateCategory(ctx, category); err != nil {
		t.Fatalf("CreateCategory failed: %v", err)
	}
	mustCommit(t, sess)

	// The session stays usable after a commit.
	if _, err := sess.GetCategory(ctx, category.ID); err != nil {
		t.Fatalf("GetCategory after commit failed: %v", err)
	}
	sess.Close()

	next := begin(t, s)
	defer next.Close()
	got, err := next.GetCategory(ctx, category.ID)
	if err != nil {
		t.Fatalf("GetCategory in new session failed: %v", err)
	}
	if got.Name != "Food" || got.Nature != ledger.NatureNeed {
		t.Errorf("unexpected category: %+v", got)
	}
}

func testRollbackDiscards(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess := begin(t, s)
	defer sess.Close()

	kept := &ledger.Category{Name: "Kept", Nature: ledger.NatureWant, Color: "#111111", CreatedAt: base, UpdatedAt: base}
	if err := sess.CreateCategory(ctx, kept); err != nil {
		t.Fatalf("CreateCategory failed: %v", err)
	}
	mustCommit(t, sess)

	dropped := &ledger.Category{Name: "Dropped", Nature: ledger.NatureWant, Color: "#222222", CreatedAt: base, UpdatedAt: base}
	if err := sess.CreateCategory(ctx, dropped); err != nil {
		t.Fatalf("CreateCategory failed: %v", err)
	}
	if err := sess.Rollback(ctx); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	if _, err := sess.FindCategoryByName(ctx, "Dropped"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected rolled back category to be gone, got %v", err)
	}
	if _, err := sess.FindCategoryByName(ctx, "Kept"); err != nil {
		t.Errorf("expected committed category to survive rollback, got %v", err)
	}
}

func testCloseDiscardsUncommitted(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess := begin(t, s)
	account := &ledger.Account{Name: "Temp", CreatedAt: base, UpdatedAt: base}
	if err := sess.CreateAccount(ctx, account); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := sess.GetAccount(ctx, account.ID); err == nil {
		t.Error("expected error using a closed session")
	}

	next := begin(t, s)
	defer next.Close()
	if _, err := next.GetAccount(ctx, account.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected uncommitted account to be discarded, got %v", err)
	}
}

func testCategoriesByNameAndLevel(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess := begin(t, s)
	defer sess.Close()

	parent := &ledger.Category{Name: "Household", Nature: ledger.NatureNeed, Color: "#123456", CreatedAt: base, UpdatedAt: base}
	if err := sess.CreateCategory(ctx, parent); err != nil {
		t.Fatalf("CreateCategory failed: %v", err)
	}
	child := &ledger.Category{ParentCategoryID: ledger.NullID(parent.ID), Name: "Power", Nature: ledger.NatureNeed, Color: "#123456", CreatedAt: base, UpdatedAt: base}
	if err := sess.CreateCategory(ctx, child); err != nil {
		t.Fatalf("CreateCategory failed: %v", err)
	}
	duplicate := &ledger.Category{Name: "Household", Nature: ledger.NatureWant, Color: "#654321", CreatedAt: base, UpdatedAt: base}
	if err := sess.CreateCategory(ctx, duplicate); err != nil {
		t.Fatalf("CreateCategory failed: %v", err)
	}

	found, err := sess.FindCategoryByName(ctx, "Household")
	if err != nil {
		t.Fatalf("FindCategoryByName failed: %v", err)
	}
	if found.ID != parent.ID {
		t.Errorf("expected lowest id %d, got %d", parent.ID, found.ID)
	}

	all, err := sess.ListCategories(ctx, store.CategoryFilter{})
	if err != nil {
		t.Fatalf("ListCategories failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 categories, got %d", len(all))
	}

	top, err := sess.ListCategories(ctx, store.CategoryFilter{TopLevelOnly: true})
	if err != nil {
		t.Fatalf("ListCategories failed: %v", err)
	}
	if len(top) != 2 || top[0].ID != parent.ID || top[1].ID != duplicate.ID {
		t.Errorf("unexpected top-level categories: %+v", top)
	}
}

func testDeleteCategoriesExcept(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess := begin(t, s)
	defer sess.Close()

	parent := &ledger.Category{Name: "Parent", Nature: ledger.NatureWant, Color: "#000000", CreatedAt: base, UpdatedAt: base}
	if err := sess.CreateCategory(ctx, parent); err != nil {
		t.Fatalf("CreateCategory failed: %v", err)
	}
	child := &ledger.Category{ParentCategoryID: ledger.NullID(parent.ID), Name: "Child", Nature: ledger.NatureWant, Color: "#000000", CreatedAt: base, UpdatedAt: base}
	if err := sess.CreateCategory(ctx, child); err != nil {
		t.Fatalf("CreateCategory failed: %v", err)
	}
	account := &ledger.Account{Name: "Acc", CreatedAt: base, UpdatedAt: base}
	if err := sess.CreateAccount(ctx, account); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	record := &ledger.Record{AccountID: account.ID, CategoryID: ledger.NullID(parent.ID), Label: "x", Date: base, Amount: decimal.NewFromInt(1), CreatedAt: base, UpdatedAt: base}
	if err := sess.CreateRecord(ctx, record); err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	deleted, err := sess.DeleteCategoriesExcept(ctx, []int64{child.ID})
	if err != nil {
		t.Fatalf("DeleteCategoriesExcept failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted category, got %d", deleted)
	}

	gotChild, err := sess.GetCategory(ctx, child.ID)
	if err != nil {
		t.Fatalf("GetCategory failed: %v", err)
	}
	if !gotChild.IsTopLevel() {
		t.Error("expected child to lose its deleted parent")
	}
	gotRecord, err := sess.GetRecord(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if gotRecord.CategoryID.Valid {
		t.Errorf("expected record category to be cleared, got %d", gotRecord.CategoryID.Int64)
	}
}

func testRecordFilters(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess := begin(t, s)
	defer sess.Close()

	a := &ledger.Account{Name: "A", CreatedAt: base, UpdatedAt: base}
	b := &ledger.Account{Name: "B", CreatedAt: base, UpdatedAt: base}
	for _, acc := range []*ledger.Account{a, b} {
		if err := sess.CreateAccount(ctx, acc); err != nil {
			t.Fatalf("CreateAccount failed: %v", err)
		}
	}
	pending := &ledger.Category{Name: "Pending", Nature: ledger.NatureWant, Color: "#808080", CreatedAt: base, UpdatedAt: base}
	if err := sess.CreateCategory(ctx, pending); err != nil {
		t.Fatalf("CreateCategory failed: %v", err)
	}

	records := []*ledger.Record{
		{AccountID: a.ID, Label: "income", Amount: decimal.NewFromInt(100), IsIncome: true},
		{AccountID: a.ID, Label: "transfer out", Amount: decimal.NewFromInt(40), IsTransfer: true, TransferToAccountID: ledger.NullID(b.ID)},
		{AccountID: b.ID, Label: "pending", Amount: decimal.NewFromInt(5), CategoryID: ledger.NullID(pending.ID), IsInProgress: true},
	}
	for _, r := range records {
		r.Date, r.CreatedAt, r.UpdatedAt = base, base, base
		if err := sess.CreateRecord(ctx, r); err != nil {
			t.Fatalf("CreateRecord failed: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter store.RecordFilter
		want   []string
	}{
		{"all", store.RecordFilter{}, []string{"income", "transfer out", "pending"}},
		{"by account", store.RecordFilter{AccountID: ledger.NullID(a.ID)}, []string{"income", "transfer out"}},
		{"incoming transfers", store.RecordFilter{TransferToAccountID: ledger.NullID(b.ID), TransfersOnly: true}, []string{"transfer out"}},
		{"by category", store.RecordFilter{CategoryID: ledger.NullID(pending.ID)}, []string{"pending"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sess.ListRecords(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListRecords failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d records, got %d", len(tt.want), len(got))
			}
			for i, r := range got {
				if r.Label != tt.want[i] {
					t.Errorf("record %d: label = %q, want %q", i, r.Label, tt.want[i])
				}
			}
		})
	}

	deleted, err := sess.DeleteRecords(ctx, store.RecordFilter{CategoryID: ledger.NullID(pending.ID)})
	if err != nil {
		t.Fatalf("DeleteRecords failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted record, got %d", deleted)
	}
	remaining, err := sess.ListRecords(ctx, store.RecordFilter{})
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(remaining) != 2 {
		t.Errorf("expected 2 remaining records, got %d", len(remaining))
	}
}

func testSplits(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess := begin(t, s)
	defer sess.Close()

	account := &ledger.Account{Name: "A", CreatedAt: base, UpdatedAt: base}
	if err := sess.CreateAccount(ctx, account); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	record := &ledger.Record{AccountID: account.ID, Label: "dinner", Date: base, Amount: decimal.NewFromInt(80), CreatedAt: base, UpdatedAt: base}
	if err := sess.CreateRecord(ctx, record); err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	split := &ledger.Split{RecordID: record.ID, AccountID: ledger.NullID(account.ID), Amount: decimal.NewFromInt(40), IsPaid: true}
	if err := sess.CreateSplit(ctx, split); err != nil {
		t.Fatalf("CreateSplit failed: %v", err)
	}
	if err := sess.CreateSplit(ctx, &ledger.Split{RecordID: record.ID + 100, Amount: decimal.NewFromInt(1)}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for split on missing record, got %v", err)
	}

	splits, err := sess.ListSplits(ctx, account.ID)
	if err != nil {
		t.Fatalf("ListSplits failed: %v", err)
	}
	if len(splits) != 1 || !splits[0].Amount.Equal(decimal.NewFromInt(40)) || !splits[0].IsPaid {
		t.Errorf("unexpected splits: %+v", splits)
	}
}

func testShadowRepositories(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess := begin(t, s)
	defer sess.Close()

	repo := sess.ShadowTransactions()
	rows := []*shadow.Transaction{
		{ExternalID: "tx_b", ExternalAccountID: "acc_1", Label: "B", Amount: decimal.RequireFromString("4.50"), Date: base, Tags: "type: DEBIT", CreatedAt: base, UpdatedAt: base},
		{ExternalID: "tx_a", ExternalAccountID: "acc_1", Label: "A", Amount: decimal.NewFromInt(10), Date: base, IsIncome: true, CreatedAt: base, UpdatedAt: base,
			ExternalCategoryID: shadow.NullString("cat_1")},
	}
	if err := repo.Save(ctx, rows...); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	found, err := repo.FindByExternalIDs(ctx, []string{"tx_a", "tx_missing"})
	if err != nil {
		t.Fatalf("FindByExternalIDs failed: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 match, got %d", len(found))
	}
	a := found["tx_a"]
	if a == nil || a.Label != "A" || !a.IsIncome || a.ExternalCategoryID.String != "cat_1" {
		t.Fatalf("unexpected row: %+v", a)
	}

	// Saving an existing external id replaces the row.
	a.IsTransfer = true
	a.IsIncome = false
	a.TransferToExternalAccountID = shadow.NullString("acc_2")
	a.LinkedRecordID = ledger.NullID(7)
	if err := repo.Save(ctx, a); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(all))
	}
	if all[0].ExternalID != "tx_a" || all[1].ExternalID != "tx_b" {
		t.Errorf("expected rows ordered by external id, got %s, %s", all[0].ExternalID, all[1].ExternalID)
	}
	if !all[0].IsTransfer || all[0].TransferToExternalAccountID.String != "acc_2" || all[0].LinkedRecordID.Int64 != 7 {
		t.Errorf("replacement not stored: %+v", all[0])
	}
	if !all[1].Amount.Equal(decimal.RequireFromString("4.5")) {
		t.Errorf("amount = %s, want 4.5", all[1].Amount)
	}

	groups := sess.ShadowGroups()
	if err := groups.Save(ctx, &shadow.Group{ExternalID: "grp_1", Name: "Lifestyle", Nature: ledger.NatureWant, Color: "#808080", CreatedAt: base, UpdatedAt: base}); err != nil {
		t.Fatalf("Save group failed: %v", err)
	}
	gotGroups, err := groups.List(ctx)
	if err != nil {
		t.Fatalf("List groups failed: %v", err)
	}
	if len(gotGroups) != 1 || gotGroups[0].Name != "Lifestyle" || gotGroups[0].LinkedCategoryID.Valid {
		t.Errorf("unexpected groups: %+v", gotGroups)
	}

	if err := sess.ShadowAccounts().Save(ctx, &shadow.Account{}); err == nil {
		t.Error("expected error saving a row without external id")
	}
}
