package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/ledger-importer/internal/ledger"
	"github.com/dvloznov/ledger-importer/internal/store"
)

var errClosed = errors.New("session is closed")

type session struct {
	db *sql.DB
	tx *sql.Tx
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *session) conn() (*sql.Tx, error) {
	if s.tx == nil {
		return nil, errClosed
	}
	return s.tx, nil
}

// Accounts

const accountColumns = `id, createdAt, updatedAt, name, description, beginningBalance, hidden`

func scanAccount(row rowScanner) (*ledger.Account, error) {
	var a ledger.Account
	var description sql.NullString
	if err := row.Scan(&a.ID, scanTime(&a.CreatedAt), scanTime(&a.UpdatedAt), &a.Name, &description, &a.BeginningBalance, &a.Hidden); err != nil {
		return nil, err
	}
	a.Description = description.String
	return &a, nil
}

func (s *session) GetAccount(ctx context.Context, id int64) (*ledger.Account, error) {
	tx, err := s.conn()
	if err != nil {
		return nil, err
	}
	account, err := scanAccount(tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM account WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("GetAccount: account %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetAccount: %w", err)
	}
	return account, nil
}

func (s *session) CreateAccount(ctx context.Context, a *ledger.Account) error {
	tx, err := s.conn()
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO account (createdAt, updatedAt, name, description, beginningBalance, hidden) VALUES (?, ?, ?, ?, ?, ?)`,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt), a.Name, a.Description, a.BeginningBalance.InexactFloat64(), a.Hidden,
	)
	if err != nil {
		return fmt.Errorf("CreateAccount: %w", err)
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("CreateAccount: reading id: %w", err)
	}
	return nil
}

func (s *session) UpdateAccount(ctx context.Context, a *ledger.Account) error {
	tx, err := s.conn()
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE account SET createdAt = ?, updatedAt = ?, name = ?, description = ?, beginningBalance = ?, hidden = ? WHERE id = ?`,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt), a.Name, a.Description, a.BeginningBalance.InexactFloat64(), a.Hidden, a.ID,
	)
	if err != nil {
		return fmt.Errorf("UpdateAccount: %w", err)
	}
	return expectAffected(res, fmt.Sprintf("UpdateAccount: account %d", a.ID))
}

// Categories

const categoryColumns = `id, createdAt, updatedAt, parentCategoryId, name, nature, color`

func scanCategory(row rowScanner) (*ledger.Category, error) {
	var c ledger.Category
	if err := row.Scan(&c.ID, scanTime(&c.CreatedAt), scanTime(&c.UpdatedAt), &c.ParentCategoryID, &c.Name, &c.Nature, &c.Color); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *session) queryCategories(ctx context.Context, query string, args ...any) ([]*ledger.Category, error) {
	tx, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []*ledger.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (s *session) GetCategory(ctx context.Context, id int64) (*ledger.Category, error) {
	tx, err := s.conn()
	if err != nil {
		return nil, err
	}
	category, err := scanCategory(tx.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM category WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("GetCategory: category %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetCategory: %w", err)
	}
	return category, nil
}

func (s *session) FindCategoryByName(ctx context.Context, name string) (*ledger.Category, error) {
	tx, err := s.conn()
	if err != nil {
		return nil, err
	}
	category, err := scanCategory(tx.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM category WHERE name = ? ORDER BY id LIMIT 1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("FindCategoryByName: category %q: %w", name, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("FindCategoryByName: %w", err)
	}
	return category, nil
}

func (s *session) ListCategories(ctx context.Context, filter store.CategoryFilter) ([]*ledger.Category, error) {
	query := `SELECT ` + categoryColumns + ` FROM category`
	if filter.TopLevelOnly {
		query += ` WHERE parentCategoryId IS NULL`
	}
	query += ` ORDER BY id`

	categories, err := s.queryCategories(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ListCategories: %w", err)
	}
	return categories, nil
}

func (s *session) CreateCategory(ctx context.Context, c *ledger.Category) error {
	tx, err := s.conn()
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO category (createdAt, updatedAt, parentCategoryId, name, nature, color) VALUES (?, ?, ?, ?, ?, ?)`,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt), c.ParentCategoryID, c.Name, string(c.Nature), c.Color,
	)
	if err != nil {
		return fmt.Errorf("CreateCategory: %w", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("CreateCategory: reading id: %w", err)
	}
	return nil
}

func (s *session) UpdateCategory(ctx context.Context, c *ledger.Category) error {
	tx, err := s.conn()
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE category SET createdAt = ?, updatedAt = ?, parentCategoryId = ?, name = ?, nature = ?, color = ? WHERE id = ?`,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt), c.ParentCategoryID, c.Name, string(c.Nature), c.Color, c.ID,
	)
	if err != nil {
		return fmt.Errorf("UpdateCategory: %w", err)
	}
	return expectAffected(res, fmt.Sprintf("UpdateCategory: category %d", c.ID))
}

func (s *session) DeleteCategoriesExcept(ctx context.Context, keep []int64) (int, error) {
	tx, err := s.conn()
	if err != nil {
		return 0, err
	}

	doomed := `SELECT id FROM category`
	args := make([]any, 0, len(keep))
	if len(keep) > 0 {
		doomed += ` WHERE id NOT IN (` + placeholders(len(keep)) + `)`
		for _, id := range keep {
			args = append(args, id)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE record SET categoryId = NULL WHERE categoryId IN (`+doomed+`)`, args...); err != nil {
		return 0, fmt.Errorf("DeleteCategoriesExcept: clearing record categories: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE category SET parentCategoryId = NULL WHERE parentCategoryId IN (`+doomed+`)`, args...); err != nil {
		return 0, fmt.Errorf("DeleteCategoriesExcept: clearing parents: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM category WHERE id IN (`+doomed+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("DeleteCategoriesExcept: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("DeleteCategoriesExcept: %w", err)
	}
	return int(n), nil
}

// Records

const recordColumns = `id, createdAt, updatedAt, label, amount, date, accountId, categoryId, isInProgress, isIncome, isTransfer, transferToAccountId, tags`

func scanRecord(row rowScanner) (*ledger.Record, error) {
	var r ledger.Record
	var tags sql.NullString
	if err := row.Scan(&r.ID, scanTime(&r.CreatedAt), scanTime(&r.UpdatedAt), &r.Label, &r.Amount, scanTime(&r.Date),
		&r.AccountID, &r.CategoryID, &r.IsInProgress, &r.IsIncome, &r.IsTransfer, &r.TransferToAccountID, &tags); err != nil {
		return nil, err
	}
	r.Tags = tags.String
	return &r, nil
}

func recordWhere(filter store.RecordFilter) (string, []any) {
	var clauses []string
	var args []any
	if filter.AccountID.Valid {
		clauses = append(clauses, "accountId = ?")
		args = append(args, filter.AccountID.Int64)
	}
	if filter.CategoryID.Valid {
		clauses = append(clauses, "categoryId = ?")
		args = append(args, filter.CategoryID.Int64)
	}
	if filter.TransferToAccountID.Valid {
		clauses = append(clauses, "transferToAccountId = ?")
		args = append(args, filter.TransferToAccountID.Int64)
	}
	if filter.TransfersOnly {
		clauses = append(clauses, "isTransfer = 1")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *session) GetRecord(ctx context.Context, id int64) (*ledger.Record, error) {
	tx, err := s.conn()
	if err != nil {
		return nil, err
	}
	record, err := scanRecord(tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM record WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("GetRecord: record %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetRecord: %w", err)
	}
	return record, nil
}

func (s *session) CreateRecord(ctx context.Context, r *ledger.Record) error {
	tx, err := s.conn()
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO record (createdAt, updatedAt, label, amount, date, accountId, categoryId, isInProgress, isIncome, isTransfer, transferToAccountId, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt), r.Label, r.Amount.InexactFloat64(), formatTime(r.Date),
		r.AccountID, r.CategoryID, r.IsInProgress, r.IsIncome, r.IsTransfer, r.TransferToAccountID, r.Tags,
	)
	if err != nil {
		return fmt.Errorf("CreateRecord: %w", err)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("CreateRecord: reading id: %w", err)
	}
	return nil
}

func (s *session) UpdateRecord(ctx context.Context, r *ledger.Record) error {
	tx, err := s.conn()
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE record SET createdAt = ?, updatedAt = ?, label = ?, amount = ?, date = ?, accountId = ?, categoryId = ?,
		isInProgress = ?, isIncome = ?, isTransfer = ?, transferToAccountId = ?, tags = ? WHERE id = ?`,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt), r.Label, r.Amount.InexactFloat64(), formatTime(r.Date),
		r.AccountID, r.CategoryID, r.IsInProgress, r.IsIncome, r.IsTransfer, r.TransferToAccountID, r.Tags, r.ID,
	)
	if err != nil {
		return fmt.Errorf("UpdateRecord: %w", err)
	}
	return expectAffected(res, fmt.Sprintf("UpdateRecord: record %d", r.ID))
}

func (s *session) ListRecords(ctx context.Context, filter store.RecordFilter) ([]*ledger.Record, error) {
	tx, err := s.conn()
	if err != nil {
		return nil, err
	}
	where, args := recordWhere(filter)
	rows, err := tx.QueryContext(ctx, `SELECT `+recordColumns+` FROM record`+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("ListRecords: %w", err)
	}
	defer rows.Close()

	var records []*ledger.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ListRecords: scanning: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListRecords: %w", err)
	}
	return records, nil
}

func (s *session) DeleteRecords(ctx context.Context, filter store.RecordFilter) (int, error) {
	tx, err := s.conn()
	if err != nil {
		return 0, err
	}
	where, args := recordWhere(filter)
	if _, err := tx.ExecContext(ctx, `DELETE FROM split WHERE recordId IN (SELECT id FROM record`+where+`)`, args...); err != nil {
		return 0, fmt.Errorf("DeleteRecords: deleting splits: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM record`+where, args...)
	if err != nil {
		return 0, fmt.Errorf("DeleteRecords: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("DeleteRecords: %w", err)
	}
	return int(n), nil
}

// Splits

func (s *session) CreateSplit(ctx context.Context, sp *ledger.Split) error {
	tx, err := s.conn()
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO split (recordId, accountId, amount, isPaid) SELECT id, ?, ?, ? FROM record WHERE id = ?`,
		sp.AccountID, sp.Amount.InexactFloat64(), sp.IsPaid, sp.RecordID,
	)
	if err != nil {
		return fmt.Errorf("CreateSplit: %w", err)
	}
	if err := expectAffected(res, fmt.Sprintf("CreateSplit: split record %d", sp.RecordID)); err != nil {
		return err
	}
	if sp.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("CreateSplit: reading id: %w", err)
	}
	return nil
}

func (s *session) ListSplits(ctx context.Context, accountID int64) ([]*ledger.Split, error) {
	tx, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, `SELECT id, recordId, accountId, amount, isPaid FROM split WHERE accountId = ? ORDER BY id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("ListSplits: %w", err)
	}
	defer rows.Close()

	var splits []*ledger.Split
	for rows.Next() {
		var sp ledger.Split
		if err := rows.Scan(&sp.ID, &sp.RecordID, &sp.AccountID, &sp.Amount, &sp.IsPaid); err != nil {
			return nil, fmt.Errorf("ListSplits: scanning: %w", err)
		}
		splits = append(splits, &sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListSplits: %w", err)
	}
	return splits, nil
}

// Transaction boundaries

func (s *session) Commit(ctx context.Context) error {
	tx, err := s.conn()
	if err != nil {
		return err
	}
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Commit: %w", err)
	}
	if s.tx, err = s.db.BeginTx(ctx, nil); err != nil {
		return fmt.Errorf("Commit: beginning next transaction: %w", err)
	}
	return nil
}

func (s *session) Rollback(ctx context.Context) error {
	tx, err := s.conn()
	if err != nil {
		return err
	}
	s.tx = nil
	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("Rollback: %w", err)
	}
	if s.tx, err = s.db.BeginTx(ctx, nil); err != nil {
		return fmt.Errorf("Rollback: beginning next transaction: %w", err)
	}
	return nil
}

func (s *session) Close() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("Close: %w", err)
	}
	return nil
}

func expectAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// Ensure session implements store.Session interface.
var _ store.Session = (*session)(nil)
