package inmemory

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/ledger-importer/internal/ledger"
	"github.com/dvloznov/ledger-importer/internal/shadow"
	"github.com/dvloznov/ledger-importer/internal/store"
)

var errClosed = errors.New("session is closed")

type session struct {
	store *Store
	work  *data
}

func (s *session) data() (*data, error) {
	if s.work == nil {
		return nil, errClosed
	}
	return s.work, nil
}

func (s *session) ShadowAccounts() store.ShadowRepository[shadow.Account] {
	return shadowTable[shadow.Account]{
		sess: s,
		rows: func(d *data) map[string]shadow.Account { return d.shadowAccounts },
		key:  (*shadow.Account).Key,
	}
}

func (s *session) ShadowGroups() store.ShadowRepository[shadow.Group] {
	return shadowTable[shadow.Group]{
		sess: s,
		rows: func(d *data) map[string]shadow.Group { return d.shadowGroups },
		key:  (*shadow.Group).Key,
	}
}

func (s *session) ShadowCategories() store.ShadowRepository[shadow.Category] {
	return shadowTable[shadow.Category]{
		sess: s,
		rows: func(d *data) map[string]shadow.Category { return d.shadowCategories },
		key:  (*shadow.Category).Key,
	}
}

func (s *session) ShadowTransactions() store.ShadowRepository[shadow.Transaction] {
	return shadowTable[shadow.Transaction]{
		sess: s,
		rows: func(d *data) map[string]shadow.Transaction { return d.shadowTransactions },
		key:  (*shadow.Transaction).Key,
	}
}

// Accounts

func (s *session) GetAccount(ctx context.Context, id int64) (*ledger.Account, error) {
	work, err := s.data()
	if err != nil {
		return nil, err
	}
	account, ok := work.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %d: %w", id, store.ErrNotFound)
	}
	return &account, nil
}

func (s *session) CreateAccount(ctx context.Context, account *ledger.Account) error {
	work, err := s.data()
	if err != nil {
		return err
	}
	account.ID = work.nextID()
	work.accounts[account.ID] = *account
	return nil
}

func (s *session) UpdateAccount(ctx context.Context, account *ledger.Account) error {
	work, err := s.data()
	if err != nil {
		return err
	}
	if _, ok := work.accounts[account.ID]; !ok {
		return fmt.Errorf("account %d: %w", account.ID, store.ErrNotFound)
	}
	work.accounts[account.ID] = *account
	return nil
}

// Categories

func (s *session) GetCategory(ctx context.Context, id int64) (*ledger.Category, error) {
	work, err := s.data()
	if err != nil {
		return nil, err
	}
	category, ok := work.categories[id]
	if !ok {
		return nil, fmt.Errorf("category %d: %w", id, store.ErrNotFound)
	}
	return &category, nil
}

func (s *session) FindCategoryByName(ctx context.Context, name string) (*ledger.Category, error) {
	work, err := s.data()
	if err != nil {
		return nil, err
	}
	matches := sortedValues(work.categories, func(c *ledger.Category) bool { return c.Name == name })
	if len(matches) == 0 {
		return nil, fmt.Errorf("category %q: %w", name, store.ErrNotFound)
	}
	return matches[0], nil
}

func (s *session) ListCategories(ctx context.Context, filter store.CategoryFilter) ([]*ledger.Category, error) {
	work, err := s.data()
	if err != nil {
		return nil, err
	}
	return sortedValues(work.categories, func(c *ledger.Category) bool {
		return !filter.TopLevelOnly || c.IsTopLevel()
	}), nil
}

func (s *session) CreateCategory(ctx context.Context, category *ledger.Category) error {
	work, err := s.data()
	if err != nil {
		return err
	}
	category.ID = work.nextID()
	work.categories[category.ID] = *category
	return nil
}

func (s *session) UpdateCategory(ctx context.Context, category *ledger.Category) error {
	work, err := s.data()
	if err != nil {
		return err
	}
	if _, ok := work.categories[category.ID]; !ok {
		return fmt.Errorf("category %d: %w", category.ID, store.ErrNotFound)
	}
	work.categories[category.ID] = *category
	return nil
}

func (s *session) DeleteCategoriesExcept(ctx context.Context, keep []int64) (int, error) {
	work, err := s.data()
	if err != nil {
		return 0, err
	}
	kept := make(map[int64]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}

	deleted := make(map[int64]bool)
	for id := range work.categories {
		if !kept[id] {
			deleted[id] = true
			delete(work.categories, id)
		}
	}

	for id, category := range work.categories {
		if category.ParentCategoryID.Valid && deleted[category.ParentCategoryID.Int64] {
			category.ParentCategoryID.Valid = false
			category.ParentCategoryID.Int64 = 0
			work.categories[id] = category
		}
	}
	for id, record := range work.records {
		if record.CategoryID.Valid && deleted[record.CategoryID.Int64] {
			record.CategoryID.Valid = false
			record.CategoryID.Int64 = 0
			work.records[id] = record
		}
	}
	return len(deleted), nil
}

// Records

func (s *session) GetRecord(ctx context.Context, id int64) (*ledger.Record, error) {
	work, err := s.data()
	if err != nil {
		return nil, err
	}
	record, ok := work.records[id]
	if !ok {
		return nil, fmt.Errorf("record %d: %w", id, store.ErrNotFound)
	}
	return &record, nil
}

func (s *session) CreateRecord(ctx context.Context, record *ledger.Record) error {
	work, err := s.data()
	if err != nil {
		return err
	}
	record.ID = work.nextID()
	work.records[record.ID] = *record
	return nil
}

func (s *session) UpdateRecord(ctx context.Context, record *ledger.Record) error {
	work, err := s.data()
	if err != nil {
		return err
	}
	if _, ok := work.records[record.ID]; !ok {
		return fmt.Errorf("record %d: %w", record.ID, store.ErrNotFound)
	}
	work.records[record.ID] = *record
	return nil
}

func (s *session) ListRecords(ctx context.Context, filter store.RecordFilter) ([]*ledger.Record, error) {
	work, err := s.data()
	if err != nil {
		return nil, err
	}
	return sortedValues(work.records, filter.Matches), nil
}

func (s *session) DeleteRecords(ctx context.Context, filter store.RecordFilter) (int, error) {
	work, err := s.data()
	if err != nil {
		return 0, err
	}
	deleted := 0
	for id, record := range work.records {
		if filter.Matches(&record) {
			delete(work.records, id)
			deleted++
		}
	}
	return deleted, nil
}

// Splits

func (s *session) CreateSplit(ctx context.Context, split *ledger.Split) error {
	work, err := s.data()
	if err != nil {
		return err
	}
	if _, ok := work.records[split.RecordID]; !ok {
		return fmt.Errorf("split record %d: %w", split.RecordID, store.ErrNotFound)
	}
	split.ID = work.nextID()
	work.splits[split.ID] = *split
	return nil
}

func (s *session) ListSplits(ctx context.Context, accountID int64) ([]*ledger.Split, error) {
	work, err := s.data()
	if err != nil {
		return nil, err
	}
	return sortedValues(work.splits, func(sp *ledger.Split) bool {
		return sp.AccountID.Valid && sp.AccountID.Int64 == accountID
	}), nil
}

// Transaction boundaries

func (s *session) Commit(ctx context.Context) error {
	work, err := s.data()
	if err != nil {
		return err
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.committed = work.clone()
	return nil
}

func (s *session) Rollback(ctx context.Context) error {
	if _, err := s.data(); err != nil {
		return err
	}
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	s.work = s.store.committed.clone()
	return nil
}

func (s *session) Close() error {
	s.work = nil
	return nil
}

// Ensure session implements store.Session interface.
var _ store.Session = (*session)(nil)
