package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/ledger-importer/internal/ledger"
	"github.com/dvloznov/ledger-importer/internal/logger"
	"github.com/dvloznov/ledger-importer/internal/store"
)

// Names of the well-known categories every import relies on.
const (
	CategoryUncategorized = "Uncategorized"
	CategoryPending       = "Pending"
	CategoryTransfer      = "Transfer"
)

const bootstrapColor = "#808080"

// Bootstrap holds the well-known categories resolved for one run.
type Bootstrap struct {
	Uncategorized *ledger.Category
	Pending       *ledger.Category
	Transfer      *ledger.Category
}

// EnsureBootstrapCategories looks up each well-known category by name,
// creating it when missing and moving it back to the top level when a user
// nested it under another category. The result is committed.
func EnsureBootstrapCategories(ctx context.Context, sess store.Session, now time.Time) (*Bootstrap, error) {
	log := logger.FromContext(ctx)

	ensure := func(name string) (*ledger.Category, error) {
		category, err := sess.FindCategoryByName(ctx, name)
		if errors.Is(err, store.ErrNotFound) {
			category = &ledger.Category{
				Name:      name,
				Nature:    ledger.NatureWant,
				Color:     bootstrapColor,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := sess.CreateCategory(ctx, category); err != nil {
				return nil, fmt.Errorf("creating %q: %w", name, err)
			}
			log.Info().Str("category", name).Int64("category_id", category.ID).Msg("Created bootstrap category")
			return category, nil
		}
		if err != nil {
			return nil, fmt.Errorf("finding %q: %w", name, err)
		}

		if !category.IsTopLevel() {
			category.ParentCategoryID.Valid = false
			category.ParentCategoryID.Int64 = 0
			if err := sess.UpdateCategory(ctx, category); err != nil {
				return nil, fmt.Errorf("moving %q to top level: %w", name, err)
			}
			log.Info().Str("category", name).Msg("Moved bootstrap category back to top level")
		}
		return category, nil
	}

	boot := &Bootstrap{}
	var err error
	if boot.Uncategorized, err = ensure(CategoryUncategorized); err != nil {
		return nil, fmt.Errorf("EnsureBootstrapCategories: %w", err)
	}
	if boot.Pending, err = ensure(CategoryPending); err != nil {
		return nil, fmt.Errorf("EnsureBootstrapCategories: %w", err)
	}
	if boot.Transfer, err = ensure(CategoryTransfer); err != nil {
		return nil, fmt.Errorf("EnsureBootstrapCategories: %w", err)
	}

	if err := sess.Commit(ctx); err != nil {
		return nil, fmt.Errorf("EnsureBootstrapCategories: %w", err)
	}
	return boot, nil
}
