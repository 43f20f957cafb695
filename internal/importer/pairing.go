package importer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dvloznov/ledger-importer/internal/aggregator"
	"github.com/dvloznov/ledger-importer/internal/ledger"
	"github.com/dvloznov/ledger-importer/internal/logger"
	"github.com/dvloznov/ledger-importer/internal/shadow"
	"github.com/dvloznov/ledger-importer/internal/store"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/shopspring/decimal"
)

// conversionPrefix starts the description of both legs of a currency conversion.
const conversionPrefix = "Converted"

// Pair links the incoming leg (Target, amount >= 0) of a movement to its
// outgoing leg (Source, amount < 0).
type Pair struct {
	Target aggregator.Transaction
	Source aggregator.Transaction
}

// chooser picks one of candidates (indexes into sources) for target, or
// returns -1 when none fits.
type chooser func(target aggregator.Transaction, sources []aggregator.Transaction, candidates []int) int

// partition splits transactions into targets and sources, each ordered by
// absolute amount ascending with input order kept for ties.
func partition(transactions []aggregator.Transaction) (targets, sources []aggregator.Transaction) {
	sorted := make([]aggregator.Transaction, len(transactions))
	copy(sorted, transactions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Amount.Abs().LessThan(sorted[j].Amount.Abs())
	})

	for _, tx := range sorted {
		if tx.Amount.Sign() >= 0 {
			targets = append(targets, tx)
		} else {
			sources = append(sources, tx)
		}
	}
	return targets, sources
}

// pairGreedy walks targets in order and gives each the source picked by
// choose among the still unpaired sources on another account and the same
// calendar date. A chosen source is never offered again; there is no
// backtracking.
func pairGreedy(transactions []aggregator.Transaction, choose chooser) []Pair {
	targets, sources := partition(transactions)
	paired := make(map[string]bool)

	var pairs []Pair
	for _, target := range targets {
		var candidates []int
		for i, src := range sources {
			if src.Account == target.Account || src.Day() != target.Day() || paired[src.ID] {
				continue
			}
			candidates = append(candidates, i)
		}
		if len(candidates) == 0 {
			continue
		}

		i := choose(target, sources, candidates)
		if i < 0 {
			continue
		}
		paired[sources[i].ID] = true
		pairs = append(pairs, Pair{Target: target, Source: sources[i]})
	}
	return pairs
}

// Similarity scores how alike two descriptions are, from 0 to 1, as the
// Ratcliff/Obershelp ratio over characters. The source side's " TO " is read
// as " FROM " so both legs of a bank transfer line up.
func Similarity(source, target string) float64 {
	source = strings.ReplaceAll(source, " TO ", " FROM ")
	return difflib.NewMatcher(characters(source), characters(target)).Ratio()
}

func characters(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// typePreferred reports whether candidate's declared type matches target's or
// is its DEBIT/CREDIT mirror.
func typePreferred(target, candidate aggregator.TransactionType) bool {
	if candidate == target {
		return true
	}
	opposite, ok := target.Opposite()
	return ok && candidate == opposite
}

func chooseTransfer(target aggregator.Transaction, sources []aggregator.Transaction, candidates []int) int {
	type ranked struct {
		index      int
		similarity float64
		preferred  bool
	}

	var matches []ranked
	for _, i := range candidates {
		src := sources[i]
		if !src.Amount.Add(target.Amount).IsZero() {
			continue
		}
		matches = append(matches, ranked{
			index:      i,
			similarity: Similarity(src.Description, target.Description),
			preferred:  typePreferred(target.Type, src.Type),
		})
	}
	if len(matches) == 0 {
		return -1
	}

	// Similarity ranks first; the declared type only orders equally similar candidates.
	sort.SliceStable(matches, func(a, b int) bool {
		if matches[a].similarity != matches[b].similarity {
			return matches[a].similarity > matches[b].similarity
		}
		return matches[a].preferred && !matches[b].preferred
	})
	return matches[0].index
}

// PairTransfers infers transfers between the user's own accounts: equal and
// opposite amounts on different accounts on the same day. Among several
// candidates the most similar description wins, then a matching declared
// type, then the smaller amount order. Several identical transfers between
// the same accounts on one day are told apart only by these heuristics.
func PairTransfers(transactions []aggregator.Transaction) []Pair {
	return pairGreedy(transactions, chooseTransfer)
}

// formatMoney renders an amount with thousands separators and two decimals,
// as the aggregator writes amounts into conversion descriptions.
func formatMoney(d decimal.Decimal) string {
	return humanize.FormatFloat("#,###.##", d.InexactFloat64())
}

// describesConversion reports whether target's description spells out the
// conversion recorded on src, in either phrasing the aggregator uses.
func describesConversion(target, src aggregator.Transaction) bool {
	srcFX := src.Conversion()
	if srcFX == nil {
		return false
	}

	outgoing := fmt.Sprintf("Converted %s %s to %s",
		formatMoney(srcFX.Amount), srcFX.Currency, formatMoney(target.Amount))
	if strings.HasPrefix(target.Description, outgoing) {
		return true
	}

	targetFX := target.Conversion()
	if targetFX == nil {
		return false
	}
	fromBalance := fmt.Sprintf("Converted %s %s from %s balance to %s %s",
		formatMoney(targetFX.Amount), targetFX.Currency, targetFX.Currency, formatMoney(srcFX.Amount), srcFX.Currency)
	return strings.HasPrefix(target.Description, fromBalance)
}

func chooseConversion(target aggregator.Transaction, sources []aggregator.Transaction, candidates []int) int {
	for _, i := range candidates {
		if describesConversion(target, sources[i]) {
			return i
		}
	}
	return -1
}

// PairConversions infers currency conversions: both legs are described as
// "Converted ..." and the incoming leg's description states the outgoing
// leg's converted amount. The first fitting candidate wins.
func PairConversions(transactions []aggregator.Transaction) []Pair {
	var conversions []aggregator.Transaction
	for _, tx := range transactions {
		if strings.HasPrefix(tx.Description, conversionPrefix) {
			conversions = append(conversions, tx)
		}
	}
	return pairGreedy(conversions, chooseConversion)
}

// pairRows loads the shadow rows of both legs. ok is false when either leg
// has not been mirrored.
func pairRows(ctx context.Context, repo store.ShadowRepository[shadow.Transaction], pair Pair) (target, source *shadow.Transaction, ok bool, err error) {
	rows, err := repo.FindByExternalIDs(ctx, []string{pair.Target.ID, pair.Source.ID})
	if err != nil {
		return nil, nil, false, err
	}
	target, source = rows[pair.Target.ID], rows[pair.Source.ID]
	if target == nil || source == nil {
		log := logger.FromContext(ctx)
		log.Warn().Str("target_id", pair.Target.ID).Str("source_id", pair.Source.ID).
			Msg("Paired transaction has no shadow row, skipping")
		return nil, nil, false, nil
	}
	return target, source, true, nil
}

// ApplyTransfers flags both legs of every pair as a transfer to the other
// leg's account. A row that was not a transfer before is stamped with now so
// the next record sync moves its record to the transfer category.
func ApplyTransfers(ctx context.Context, sess store.Session, pairs []Pair, now time.Time) (int, error) {
	log := logger.FromContext(ctx)
	repo := sess.ShadowTransactions()

	applied := 0
	for _, pair := range pairs {
		target, source, ok, err := pairRows(ctx, repo, pair)
		if err != nil {
			return applied, fmt.Errorf("ApplyTransfers: %w", err)
		}
		if !ok {
			continue
		}

		markTransfer(target, pair.Source.Account, now)
		markTransfer(source, pair.Target.Account, now)
		if err := repo.Save(ctx, target, source); err != nil {
			return applied, fmt.Errorf("ApplyTransfers: %w", err)
		}

		log.Debug().
			Str("target_id", pair.Target.ID).
			Str("source_id", pair.Source.ID).
			Str("amount", pair.Target.Amount.String()).
			Msg("Paired transfer")
		applied++
	}

	if err := sess.Commit(ctx); err != nil {
		return applied, fmt.Errorf("ApplyTransfers: %w", err)
	}
	return applied, nil
}

func markTransfer(row *shadow.Transaction, partnerAccount string, now time.Time) {
	if !row.IsTransfer {
		row.Touch(now)
	}
	row.IsTransfer = true
	row.IsIncome = false
	row.TransferToExternalAccountID = shadow.NullString(partnerAccount)
}

// ApplyConversions moves the records of both legs of every conversion pair
// to the transfer category when they are uncategorized. Records with any
// other category are left alone.
func ApplyConversions(ctx context.Context, sess store.Session, pairs []Pair, boot *Bootstrap, now time.Time) (int, error) {
	repo := sess.ShadowTransactions()

	recategorized := 0
	for _, pair := range pairs {
		target, source, ok, err := pairRows(ctx, repo, pair)
		if err != nil {
			return recategorized, fmt.Errorf("ApplyConversions: %w", err)
		}
		if !ok {
			continue
		}

		for _, row := range []*shadow.Transaction{target, source} {
			changed, err := recategorizeConversion(ctx, sess, row, boot, now)
			if err != nil {
				return recategorized, fmt.Errorf("ApplyConversions: %w", err)
			}
			if changed {
				recategorized++
			}
		}
	}

	if err := sess.Commit(ctx); err != nil {
		return recategorized, fmt.Errorf("ApplyConversions: %w", err)
	}
	return recategorized, nil
}

func recategorizeConversion(ctx context.Context, sess store.Session, row *shadow.Transaction, boot *Bootstrap, now time.Time) (bool, error) {
	if !row.LinkedRecordID.Valid {
		return false, nil
	}
	record, err := sess.GetRecord(ctx, row.LinkedRecordID.Int64)
	if err != nil {
		return false, err
	}
	if record.CategoryID.Valid && record.CategoryID.Int64 != boot.Uncategorized.ID {
		return false, nil
	}

	record.CategoryID = ledger.NullID(boot.Transfer.ID)
	record.UpdatedAt = now
	if err := sess.UpdateRecord(ctx, record); err != nil {
		return false, err
	}
	row.Touch(now)
	if err := sess.ShadowTransactions().Save(ctx, row); err != nil {
		return false, err
	}
	return true, nil
}
