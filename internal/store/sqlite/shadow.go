package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dvloznov/ledger-importer/internal/shadow"
	"github.com/dvloznov/ledger-importer/internal/store"
)

// maxLookupIDs bounds the number of bound parameters in one IN clause.
const maxLookupIDs = 500

// shadowTable maps one shadow row type onto its akahu_* table. The first
// column is always the external id.
type shadowTable[S any] struct {
	sess    *session
	table   string
	columns []string
	scan    func(row rowScanner) (*S, error)
	values  func(row *S) []any
	key     func(row *S) string
}

func (t shadowTable[S]) selectSQL() string {
	return `SELECT ` + strings.Join(t.columns, ", ") + ` FROM ` + t.table
}

func (t shadowTable[S]) query(ctx context.Context, query string, args ...any) ([]*S, error) {
	tx, err := t.sess.conn()
	if err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*S
	for rows.Next() {
		row, err := t.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", t.table, err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func (t shadowTable[S]) FindByExternalIDs(ctx context.Context, ids []string) (map[string]*S, error) {
	result := make(map[string]*S, len(ids))
	for start := 0; start < len(ids); start += maxLookupIDs {
		end := start + maxLookupIDs
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		rows, err := t.query(ctx, t.selectSQL()+` WHERE `+t.columns[0]+` IN (`+placeholders(len(batch))+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("FindByExternalIDs: %s: %w", t.table, err)
		}
		for _, row := range rows {
			result[t.key(row)] = row
		}
	}
	return result, nil
}

func (t shadowTable[S]) List(ctx context.Context) ([]*S, error) {
	rows, err := t.query(ctx, t.selectSQL()+` ORDER BY `+t.columns[0])
	if err != nil {
		return nil, fmt.Errorf("List: %s: %w", t.table, err)
	}
	return rows, nil
}

func (t shadowTable[S]) Save(ctx context.Context, rows ...*S) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := t.sess.conn()
	if err != nil {
		return err
	}

	updates := make([]string, 0, len(t.columns)-1)
	for _, c := range t.columns[1:] {
		updates = append(updates, c+" = excluded."+c)
	}
	upsert := `INSERT INTO ` + t.table + ` (` + strings.Join(t.columns, ", ") + `) VALUES (` + placeholders(len(t.columns)) + `)
		ON CONFLICT(` + t.columns[0] + `) DO UPDATE SET ` + strings.Join(updates, ", ")

	stmt, err := tx.PrepareContext(ctx, upsert)
	if err != nil {
		return fmt.Errorf("Save: %s: preparing: %w", t.table, err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if t.key(row) == "" {
			return fmt.Errorf("Save: %s: external ID is required", t.table)
		}
		if _, err := stmt.ExecContext(ctx, t.values(row)...); err != nil {
			return fmt.Errorf("Save: %s %s: %w", t.table, t.key(row), err)
		}
	}
	return nil
}

func (s *session) ShadowAccounts() store.ShadowRepository[shadow.Account] {
	return shadowTable[shadow.Account]{
		sess:    s,
		table:   "akahu_account",
		columns: []string{"akahuId", "accountId", "createdAt", "updatedAt", "name", "description", "beginningBalance", "hidden"},
		scan: func(row rowScanner) (*shadow.Account, error) {
			var a shadow.Account
			var description sql.NullString
			err := row.Scan(&a.ExternalID, &a.LinkedAccountID, scanTime(&a.CreatedAt), scanTime(&a.UpdatedAt),
				&a.Name, &description, &a.BeginningBalance, &a.Hidden)
			a.Description = description.String
			return &a, err
		},
		values: func(a *shadow.Account) []any {
			return []any{a.ExternalID, a.LinkedAccountID, formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
				a.Name, a.Description, a.BeginningBalance.InexactFloat64(), a.Hidden}
		},
		key: (*shadow.Account).Key,
	}
}

func (s *session) ShadowGroups() store.ShadowRepository[shadow.Group] {
	return shadowTable[shadow.Group]{
		sess:    s,
		table:   "akahu_group",
		columns: []string{"akahuId", "groupId", "createdAt", "updatedAt", "name", "nature", "color"},
		scan: func(row rowScanner) (*shadow.Group, error) {
			var g shadow.Group
			err := row.Scan(&g.ExternalID, &g.LinkedCategoryID, scanTime(&g.CreatedAt), scanTime(&g.UpdatedAt),
				&g.Name, &g.Nature, &g.Color)
			return &g, err
		},
		values: func(g *shadow.Group) []any {
			return []any{g.ExternalID, g.LinkedCategoryID, formatTime(g.CreatedAt), formatTime(g.UpdatedAt),
				g.Name, string(g.Nature), g.Color}
		},
		key: (*shadow.Group).Key,
	}
}

func (s *session) ShadowCategories() store.ShadowRepository[shadow.Category] {
	return shadowTable[shadow.Category]{
		sess:    s,
		table:   "akahu_category",
		columns: []string{"akahuId", "akahuGroupId", "categoryId", "createdAt", "updatedAt", "name", "nature", "color"},
		scan: func(row rowScanner) (*shadow.Category, error) {
			var c shadow.Category
			err := row.Scan(&c.ExternalID, &c.ExternalGroupID, &c.LinkedCategoryID, scanTime(&c.CreatedAt), scanTime(&c.UpdatedAt),
				&c.Name, &c.Nature, &c.Color)
			return &c, err
		},
		values: func(c *shadow.Category) []any {
			return []any{c.ExternalID, c.ExternalGroupID, c.LinkedCategoryID, formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
				c.Name, string(c.Nature), c.Color}
		},
		key: (*shadow.Category).Key,
	}
}

func (s *session) ShadowTransactions() store.ShadowRepository[shadow.Transaction] {
	return shadowTable[shadow.Transaction]{
		sess:  s,
		table: "akahu_transaction",
		columns: []string{"akahuId", "akahuAccountId", "akahuCategoryId", "recordId", "createdAt", "updatedAt",
			"label", "amount", "date", "isIncome", "isTransfer", "transferToAkahuAccountId", "tags"},
		scan: func(row rowScanner) (*shadow.Transaction, error) {
			var t shadow.Transaction
			var tags sql.NullString
			err := row.Scan(&t.ExternalID, &t.ExternalAccountID, &t.ExternalCategoryID, &t.LinkedRecordID,
				scanTime(&t.CreatedAt), scanTime(&t.UpdatedAt), &t.Label, &t.Amount, scanTime(&t.Date),
				&t.IsIncome, &t.IsTransfer, &t.TransferToExternalAccountID, &tags)
			t.Tags = tags.String
			return &t, err
		},
		values: func(t *shadow.Transaction) []any {
			return []any{t.ExternalID, t.ExternalAccountID, t.ExternalCategoryID, t.LinkedRecordID,
				formatTime(t.CreatedAt), formatTime(t.UpdatedAt), t.Label, t.Amount.InexactFloat64(), formatTime(t.Date),
				t.IsIncome, t.IsTransfer, t.TransferToExternalAccountID, t.Tags}
		},
		key: (*shadow.Transaction).Key,
	}
}
