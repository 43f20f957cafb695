package importer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dvloznov/ledger-importer/internal/ledger"
	"github.com/dvloznov/ledger-importer/internal/logger"
	"github.com/dvloznov/ledger-importer/internal/shadow"
	"github.com/dvloznov/ledger-importer/internal/store"
	"github.com/shopspring/decimal"
)

// LinkStats counts what a link pass did to the native side.
type LinkStats struct {
	Created int
	Reused  int
	Updated int
	Skipped int
}

// nativeWins reports whether a linked native entity was edited after the
// shadow last synced it. Equal timestamps mean the shadow may write through.
func nativeWins(shadowUpdated, nativeUpdated time.Time) bool {
	return shadowUpdated.Before(nativeUpdated)
}

// LinkAccounts finds or creates the native account of every shadow account
// and copies name, description and hidden flag onto it.
func LinkAccounts(ctx context.Context, sess store.Session, now time.Time) (LinkStats, error) {
	log := logger.FromContext(ctx)
	var stats LinkStats

	rows, err := sess.ShadowAccounts().List(ctx)
	if err != nil {
		return stats, fmt.Errorf("LinkAccounts: %w", err)
	}

	for _, row := range rows {
		native, err := linkedAccount(ctx, sess, row)
		if err != nil {
			return stats, fmt.Errorf("LinkAccounts: %w", err)
		}

		switch {
		case native == nil:
			native = &ledger.Account{
				Name:             row.Name,
				Description:      row.Description,
				BeginningBalance: decimal.Zero,
				Hidden:           row.Hidden,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if err := sess.CreateAccount(ctx, native); err != nil {
				return stats, fmt.Errorf("LinkAccounts: creating account for %s: %w", row.ExternalID, err)
			}
			row.LinkedAccountID = ledger.NullID(native.ID)
			stats.Created++
		case nativeWins(row.UpdatedAt, native.UpdatedAt):
			log.Debug().Str("akahu_id", row.ExternalID).Int64("account_id", native.ID).Msg("Account edited locally, skipping")
			stats.Skipped++
			continue
		default:
			native.Name = row.Name
			native.Description = row.Description
			native.Hidden = row.Hidden
			native.UpdatedAt = now
			if err := sess.UpdateAccount(ctx, native); err != nil {
				return stats, fmt.Errorf("LinkAccounts: updating account %d: %w", native.ID, err)
			}
			stats.Updated++
		}

		row.Touch(native.UpdatedAt)
		if err := sess.ShadowAccounts().Save(ctx, row); err != nil {
			return stats, fmt.Errorf("LinkAccounts: %w", err)
		}
	}

	if err := sess.Commit(ctx); err != nil {
		return stats, fmt.Errorf("LinkAccounts: %w", err)
	}
	return stats, nil
}

func linkedAccount(ctx context.Context, sess store.Session, row *shadow.Account) (*ledger.Account, error) {
	if !row.LinkedAccountID.Valid {
		return nil, nil
	}
	native, err := sess.GetAccount(ctx, row.LinkedAccountID.Int64)
	if errors.Is(err, store.ErrNotFound) {
		log := logger.FromContext(ctx)
		log.Warn().Str("akahu_id", row.ExternalID).Int64("account_id", row.LinkedAccountID.Int64).
			Msg("Linked account no longer exists, relinking")
		return nil, nil
	}
	return native, err
}

// linkedCategory returns the native category behind id, or nil when the link
// is unset or dangling.
func linkedCategory(ctx context.Context, sess store.Session, id sql.NullInt64) (*ledger.Category, error) {
	if !id.Valid {
		return nil, nil
	}
	native, err := sess.GetCategory(ctx, id.Int64)
	if errors.Is(err, store.ErrNotFound) {
		log := logger.FromContext(ctx)
		log.Warn().Int64("category_id", id.Int64).Msg("Linked category no longer exists")
		return nil, nil
	}
	return native, err
}

// colorCycle hands out colors round-robin over a fixed, sorted palette.
type colorCycle struct {
	colors []string
	next   int
}

func newColorCycle(categories []*ledger.Category) *colorCycle {
	seen := make(map[string]bool)
	var colors []string
	for _, c := range categories {
		if c.Color != "" && !seen[c.Color] {
			seen[c.Color] = true
			colors = append(colors, c.Color)
		}
	}
	sort.Strings(colors)
	return &colorCycle{colors: colors}
}

// Next returns the next palette color, or fallback when the palette is empty.
func (c *colorCycle) Next(fallback string) string {
	if len(c.colors) == 0 {
		return fallback
	}
	color := c.colors[c.next%len(c.colors)]
	c.next++
	return color
}

// LinkGroups finds or creates the top-level native category of every shadow
// group. An unlinked group adopts an existing top-level category of the same
// name before a new one is created.
func LinkGroups(ctx context.Context, sess store.Session, now time.Time) (LinkStats, error) {
	log := logger.FromContext(ctx)
	var stats LinkStats

	rows, err := sess.ShadowGroups().List(ctx)
	if err != nil {
		return stats, fmt.Errorf("LinkGroups: %w", err)
	}
	parents, err := sess.ListCategories(ctx, store.CategoryFilter{TopLevelOnly: true})
	if err != nil {
		return stats, fmt.Errorf("LinkGroups: %w", err)
	}

	byName := make(map[string]*ledger.Category, len(parents))
	for _, p := range parents {
		if _, ok := byName[p.Name]; !ok {
			byName[p.Name] = p
		}
	}
	colors := newColorCycle(parents)

	for _, row := range rows {
		native, err := linkedCategory(ctx, sess, row.LinkedCategoryID)
		if err != nil {
			return stats, fmt.Errorf("LinkGroups: %w", err)
		}
		similar := byName[row.Name]

		switch {
		case native == nil && similar != nil:
			native = similar
			native.UpdatedAt = now
			if err := sess.UpdateCategory(ctx, native); err != nil {
				return stats, fmt.Errorf("LinkGroups: adopting category %d: %w", native.ID, err)
			}
			row.LinkedCategoryID = ledger.NullID(native.ID)
			stats.Reused++
		case native == nil:
			native = &ledger.Category{
				Name:      row.Name,
				Nature:    row.Nature,
				Color:     colors.Next(row.Color),
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := sess.CreateCategory(ctx, native); err != nil {
				return stats, fmt.Errorf("LinkGroups: creating category for %s: %w", row.ExternalID, err)
			}
			byName[native.Name] = native
			row.LinkedCategoryID = ledger.NullID(native.ID)
			stats.Created++
		case nativeWins(row.UpdatedAt, native.UpdatedAt):
			log.Debug().Str("akahu_id", row.ExternalID).Int64("category_id", native.ID).Msg("Group edited locally, skipping")
			stats.Skipped++
			continue
		default:
			native.Name = row.Name
			native.UpdatedAt = now
			if err := sess.UpdateCategory(ctx, native); err != nil {
				return stats, fmt.Errorf("LinkGroups: updating category %d: %w", native.ID, err)
			}
			stats.Updated++
		}

		row.Touch(native.UpdatedAt)
		if err := sess.ShadowGroups().Save(ctx, row); err != nil {
			return stats, fmt.Errorf("LinkGroups: %w", err)
		}
	}

	if err := sess.Commit(ctx); err != nil {
		return stats, fmt.Errorf("LinkGroups: %w", err)
	}
	return stats, nil
}

// LinkCategories finds or creates the native child category of every shadow
// category, nested under its group's native category when there is one.
func LinkCategories(ctx context.Context, sess store.Session, now time.Time) (LinkStats, error) {
	log := logger.FromContext(ctx)
	var stats LinkStats

	rows, err := sess.ShadowCategories().List(ctx)
	if err != nil {
		return stats, fmt.Errorf("LinkCategories: %w", err)
	}
	groups, err := sess.ShadowGroups().List(ctx)
	if err != nil {
		return stats, fmt.Errorf("LinkCategories: %w", err)
	}
	groupByID := make(map[string]*shadow.Group, len(groups))
	for _, g := range groups {
		groupByID[g.ExternalID] = g
	}

	for _, row := range rows {
		native, err := linkedCategory(ctx, sess, row.LinkedCategoryID)
		if err != nil {
			return stats, fmt.Errorf("LinkCategories: %w", err)
		}

		switch {
		case native == nil:
			parent, err := groupCategory(ctx, sess, row, groupByID)
			if err != nil {
				return stats, fmt.Errorf("LinkCategories: %w", err)
			}
			native = &ledger.Category{
				Name:      row.Name,
				Nature:    row.Nature,
				Color:     row.Color,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if parent != nil {
				native.ParentCategoryID = ledger.NullID(parent.ID)
				native.Nature = parent.Nature
				native.Color = parent.Color
			}
			if err := sess.CreateCategory(ctx, native); err != nil {
				return stats, fmt.Errorf("LinkCategories: creating category for %s: %w", row.ExternalID, err)
			}
			row.LinkedCategoryID = ledger.NullID(native.ID)
			stats.Created++
		case nativeWins(row.UpdatedAt, native.UpdatedAt):
			log.Debug().Str("akahu_id", row.ExternalID).Int64("category_id", native.ID).Msg("Category edited locally, skipping")
			stats.Skipped++
			continue
		default:
			native.Name = row.Name
			native.UpdatedAt = now
			if err := sess.UpdateCategory(ctx, native); err != nil {
				return stats, fmt.Errorf("LinkCategories: updating category %d: %w", native.ID, err)
			}
			stats.Updated++
		}

		row.Touch(native.UpdatedAt)
		if err := sess.ShadowCategories().Save(ctx, row); err != nil {
			return stats, fmt.Errorf("LinkCategories: %w", err)
		}
	}

	if err := sess.Commit(ctx); err != nil {
		return stats, fmt.Errorf("LinkCategories: %w", err)
	}
	return stats, nil
}

// groupCategory resolves the native parent of a shadow category. Missing
// groups and unlinked or dangling links resolve to no parent.
func groupCategory(ctx context.Context, sess store.Session, row *shadow.Category, groups map[string]*shadow.Group) (*ledger.Category, error) {
	if !row.ExternalGroupID.Valid {
		return nil, nil
	}
	group, ok := groups[row.ExternalGroupID.String]
	if !ok {
		log := logger.FromContext(ctx)
		log.Debug().Str("akahu_id", row.ExternalID).Str("akahu_group_id", row.ExternalGroupID.String).
			Msg("Category group not mirrored, creating without parent")
		return nil, nil
	}
	return linkedCategory(ctx, sess, group.LinkedCategoryID)
}
