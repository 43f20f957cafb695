package importer

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/dvloznov/ledger-importer/internal/aggregator"
	"github.com/dvloznov/ledger-importer/internal/ledger"
	"github.com/dvloznov/ledger-importer/internal/shadow"
	"github.com/dvloznov/ledger-importer/internal/store/inmemory"
)

type pairIDs struct{ target, source string }

func ids(pairs []Pair) []pairIDs {
	out := make([]pairIDs, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, pairIDs{p.Target.ID, p.Source.ID})
	}
	return out
}

func equalIDs(a, b []pairIDs) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPairTransfers(t *testing.T) {
	debit, credit := aggregator.TransactionTypeDebit, aggregator.TransactionTypeCredit
	nextDay := func(tr aggregator.Transaction) aggregator.Transaction {
		tr.Date = tr.Date.Add(24 * time.Hour)
		return tr
	}

	tests := []struct {
		name string
		txs  []aggregator.Transaction
		want []pairIDs
	}{
		{
			name: "matching description beats third transaction",
			txs: []aggregator.Transaction{
				tx("shop", "acc_3", "Payment to shop", "-100", debit),
				tx("out", "acc_1", "TRANSFER TO J SMITH", "-100", debit),
				tx("in", "acc_2", "TRANSFER FROM J SMITH", "100", credit),
			},
			want: []pairIDs{{"in", "out"}},
		},
		{
			name: "same account never pairs",
			txs: []aggregator.Transaction{
				tx("out", "acc_1", "Move", "-50", debit),
				tx("in", "acc_1", "Move", "50", credit),
			},
		},
		{
			name: "different day never pairs",
			txs: []aggregator.Transaction{
				tx("out", "acc_1", "Move", "-50", debit),
				nextDay(tx("in", "acc_2", "Move", "50", credit)),
			},
		},
		{
			name: "amount must negate exactly",
			txs: []aggregator.Transaction{
				tx("out", "acc_1", "Move", "-50.01", debit),
				tx("in", "acc_2", "Move", "50", credit),
			},
		},
		{
			name: "declared type breaks similarity ties",
			txs: []aggregator.Transaction{
				tx("eftpos", "acc_1", "Move", "-20", "EFTPOS"),
				tx("debit", "acc_3", "Move", "-20", debit),
				tx("in", "acc_2", "Move", "20", credit),
			},
			want: []pairIDs{{"in", "debit"}},
		},
		{
			name: "longest common block outranks scattered matches",
			txs: []aggregator.Transaction{
				tx("scattered", "acc_1", "ABAA", "-10", debit),
				tx("block", "acc_3", "AAB", "-10", debit),
				tx("in", "acc_2", "AAA", "10", credit),
			},
			want: []pairIDs{{"in", "block"}},
		},
		{
			name: "identical transfers pair in input order",
			txs: []aggregator.Transaction{
				tx("out_1", "acc_1", "TRANSFER", "-50", debit),
				tx("out_2", "acc_1", "TRANSFER", "-50", debit),
				tx("in_1", "acc_2", "TRANSFER", "50", credit),
				tx("in_2", "acc_2", "TRANSFER", "50", credit),
			},
			want: []pairIDs{{"in_1", "out_1"}, {"in_2", "out_2"}},
		},
		{
			name: "smaller targets choose first",
			txs: []aggregator.Transaction{
				tx("big_in", "acc_2", "Move", "75", credit),
				tx("small_in", "acc_2", "Move", "25", credit),
				tx("small_out", "acc_1", "Move", "-25", debit),
				tx("big_out", "acc_1", "Move", "-75", debit),
			},
			want: []pairIDs{{"small_in", "small_out"}, {"big_in", "big_out"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(PairTransfers(tt.txs))
			if !equalIDs(got, tt.want) {
				t.Errorf("PairTransfers() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		source, target string
		want           float64
	}{
		{"TRANSFER TO J SMITH", "TRANSFER FROM J SMITH", 1},
		{"abcd", "bcde", 0.75},
		{"ABAB", "AAB", 4.0 / 7},
		{"ABAA", "AAA", 4.0 / 7},
		{"SAVINGS TO EVERYDAY", "EVERYDAY FROM SAVINGS", 16.0 / 42},
		{"", "", 1},
	}
	for _, tt := range tests {
		if got := Similarity(tt.source, tt.target); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Similarity(%q, %q) = %v, want %v", tt.source, tt.target, got, tt.want)
		}
	}

	if got := Similarity("TRANSFER TO J SMITH", "TRANSFER FROM J SMITH"); got != 1 {
		t.Errorf("Similarity of mirrored transfer = %v, want 1", got)
	}
	if a, b := Similarity("TRANSFER TO J SMITH", "TRANSFER FROM J SMYTH"), Similarity("Payment to shop", "TRANSFER FROM J SMITH"); a <= b {
		t.Errorf("expected near match (%v) to score above unrelated text (%v)", a, b)
	}
}

func withConversion(tr aggregator.Transaction, amount, currency string) aggregator.Transaction {
	tr.Meta = &aggregator.TransactionMeta{Conversion: &aggregator.Conversion{Amount: dec(amount), Currency: currency, Rate: dec("1")}}
	return tr
}

func TestPairConversions(t *testing.T) {
	debit, credit := aggregator.TransactionTypeDebit, aggregator.TransactionTypeCredit

	tests := []struct {
		name string
		txs  []aggregator.Transaction
		want []pairIDs
	}{
		{
			name: "outgoing phrasing",
			txs: []aggregator.Transaction{
				withConversion(tx("nzd", "acc_nzd", "Converted NZD", "-1234.50", debit), "1234.5", "NZD"),
				tx("usd", "acc_usd", "Converted 1,234.50 NZD to 750.25 USD", "750.25", credit),
			},
			want: []pairIDs{{"usd", "nzd"}},
		},
		{
			name: "from balance phrasing",
			txs: []aggregator.Transaction{
				withConversion(tx("gbp", "acc_gbp", "Converted to EUR", "-40", debit), "46.80", "EUR"),
				withConversion(tx("eur", "acc_eur", "Converted 40.00 GBP from GBP balance to 46.80 EUR", "46.80", credit), "40", "GBP"),
			},
			want: []pairIDs{{"eur", "gbp"}},
		},
		{
			name: "source without conversion metadata",
			txs: []aggregator.Transaction{
				tx("nzd", "acc_nzd", "Converted NZD", "-1234.50", debit),
				tx("usd", "acc_usd", "Converted 1,234.50 NZD to 750.25 USD", "750.25", credit),
			},
		},
		{
			name: "descriptions must start with Converted",
			txs: []aggregator.Transaction{
				withConversion(tx("nzd", "acc_nzd", "FX NZD", "-1234.50", debit), "1234.5", "NZD"),
				tx("usd", "acc_usd", "FX 1,234.50 NZD to 750.25 USD", "750.25", credit),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(PairConversions(tt.txs))
			if !equalIDs(got, tt.want) {
				t.Errorf("PairConversions() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplyTransfers(t *testing.T) {
	ctx := context.Background()
	sess := begin(t, inmemory.NewStore())

	out := tx("out", "acc_1", "TRANSFER TO J SMITH", "-100", aggregator.TransactionTypeDebit)
	in := tx("in", "acc_2", "TRANSFER FROM J SMITH", "100", aggregator.TransactionTypeCredit)
	if _, err := MirrorChunk(ctx, sess, []aggregator.Transaction{out, in}, base); err != nil {
		t.Fatalf("MirrorChunk failed: %v", err)
	}

	now := base.Add(time.Hour)
	pairs := []Pair{
		{Target: in, Source: out},
		{Target: in, Source: tx("missing", "acc_3", "x", "-100", aggregator.TransactionTypeDebit)},
	}
	applied, err := ApplyTransfers(ctx, sess, pairs, now)
	if err != nil {
		t.Fatalf("ApplyTransfers failed: %v", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1", applied)
	}

	rows, err := sess.ShadowTransactions().FindByExternalIDs(ctx, []string{"out", "in"})
	if err != nil {
		t.Fatalf("FindByExternalIDs failed: %v", err)
	}
	for id, partner := range map[string]string{"out": "acc_2", "in": "acc_1"} {
		row := rows[id]
		if !row.IsTransfer || row.IsIncome {
			t.Errorf("%s: transfer=%v income=%v", id, row.IsTransfer, row.IsIncome)
		}
		if row.TransferToExternalAccountID.String != partner {
			t.Errorf("%s: transfer to %q, want %q", id, row.TransferToExternalAccountID.String, partner)
		}
		if !row.UpdatedAt.Equal(now) {
			t.Errorf("%s: UpdatedAt = %v, want %v", id, row.UpdatedAt, now)
		}
	}

	// Applying again leaves timestamps alone.
	if _, err := ApplyTransfers(ctx, sess, pairs[:1], now.Add(time.Hour)); err != nil {
		t.Fatalf("ApplyTransfers failed: %v", err)
	}
	rows, _ = sess.ShadowTransactions().FindByExternalIDs(ctx, []string{"out"})
	if !rows["out"].UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt moved on reapply: %v", rows["out"].UpdatedAt)
	}
}

func TestApplyConversions(t *testing.T) {
	ctx := context.Background()
	sess := begin(t, inmemory.NewStore())

	boot, err := EnsureBootstrapCategories(ctx, sess, base)
	if err != nil {
		t.Fatalf("EnsureBootstrapCategories failed: %v", err)
	}
	food := &ledger.Category{Name: "Food", Nature: ledger.NatureNeed, CreatedAt: base, UpdatedAt: base}
	if err := sess.CreateCategory(ctx, food); err != nil {
		t.Fatalf("CreateCategory failed: %v", err)
	}

	records := map[string]*ledger.Record{
		"a": {AccountID: 1, Label: "no category"},
		"b": {AccountID: 2, Label: "uncategorized", CategoryID: ledger.NullID(boot.Uncategorized.ID)},
		"c": {AccountID: 1, Label: "categorized", CategoryID: ledger.NullID(food.ID)},
		"d": {AccountID: 2, Label: "also uncategorized", CategoryID: ledger.NullID(boot.Uncategorized.ID)},
	}
	for id, r := range records {
		r.CreatedAt, r.UpdatedAt = base, base
		if err := sess.CreateRecord(ctx, r); err != nil {
			t.Fatalf("CreateRecord failed: %v", err)
		}
		row := &shadow.Transaction{ExternalID: id, LinkedRecordID: ledger.NullID(r.ID), CreatedAt: base, UpdatedAt: base}
		if err := sess.ShadowTransactions().Save(ctx, row); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	now := base.Add(time.Hour)
	pairs := []Pair{
		{Target: aggregator.Transaction{ID: "a"}, Source: aggregator.Transaction{ID: "b"}},
		{Target: aggregator.Transaction{ID: "c"}, Source: aggregator.Transaction{ID: "d"}},
	}
	n, err := ApplyConversions(ctx, sess, pairs, boot, now)
	if err != nil {
		t.Fatalf("ApplyConversions failed: %v", err)
	}
	if n != 3 {
		t.Errorf("recategorized = %d, want 3", n)
	}

	wantCategory := map[string]int64{"a": boot.Transfer.ID, "b": boot.Transfer.ID, "c": food.ID, "d": boot.Transfer.ID}
	for id, want := range wantCategory {
		got, err := sess.GetRecord(ctx, records[id].ID)
		if err != nil {
			t.Fatalf("GetRecord failed: %v", err)
		}
		if got.CategoryID.Int64 != want {
			t.Errorf("%s: category = %d, want %d", id, got.CategoryID.Int64, want)
		}
	}

	rows, _ := sess.ShadowTransactions().FindByExternalIDs(ctx, []string{"a", "c"})
	if !rows["a"].UpdatedAt.Equal(now) {
		t.Errorf("recategorized row not stamped: %v", rows["a"].UpdatedAt)
	}
	if !rows["c"].UpdatedAt.Equal(base) {
		t.Errorf("untouched row stamped: %v", rows["c"].UpdatedAt)
	}
}
