package aggregator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestHTTPClient_ListAccounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer user" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("X-Akahu-ID"); got != "app" {
			t.Errorf("X-Akahu-ID = %q", got)
		}
		fmt.Fprint(w, `{"success":true,"items":[{"_id":"acc_1","name":"Everyday","status":"ACTIVE",
			"connection":{"name":"ANZ"},"balance":{"current":1234.56},"meta":{"holder":"J Smith"}}]}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "app", "user")
	accounts, err := c.ListAccounts(context.Background())
	if err != nil {
		t.Fatalf("ListAccounts failed: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(accounts))
	}
	acc := accounts[0]
	if acc.ID != "acc_1" || acc.Connection.Name != "ANZ" || acc.Meta.Holder != "J Smith" {
		t.Errorf("unexpected account: %+v", acc)
	}
	if !acc.CurrentBalance().Equal(decimal.RequireFromString("1234.56")) {
		t.Errorf("CurrentBalance = %s", acc.CurrentBalance())
	}
}

func TestHTTPClient_ListTransactionsPaging(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("start") == "" {
			t.Error("expected start query parameter")
		}
		switch r.URL.Query().Get("cursor") {
		case "":
			fmt.Fprint(w, `{"success":true,"items":[{"_id":"t1","_account":"a","date":"2024-03-01T11:00:00.000Z",
				"description":"Coffee","amount":-4.5,"type":"EFTPOS"}],"cursor":{"next":"c2"}}`)
		case "c2":
			fmt.Fprint(w, `{"success":true,"items":[{"_id":"t2","_account":"a","date":"2024-03-02T11:00:00.000Z",
				"description":"Salary","amount":2000,"type":"CREDIT"}],"cursor":{"next":null}}`)
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "app", "user")
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	chunks, err := FetchAllTransactions(context.Background(), c, start, start.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("FetchAllTransactions failed: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}

	flat := Flatten(chunks)
	if len(flat) != 2 || flat[0].ID != "t1" || flat[1].ID != "t2" {
		t.Fatalf("unexpected transactions: %+v", flat)
	}
	if !flat[0].Amount.Equal(decimal.RequireFromString("-4.5")) {
		t.Errorf("amount = %s", flat[0].Amount)
	}
	if flat[1].Type != TransactionTypeCredit {
		t.Errorf("type = %s", flat[1].Type)
	}
}

func TestHTTPClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"success":false,"message":"Unauthorized"}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "app", "user")
	if _, err := c.ListPendingTransactions(context.Background()); err == nil {
		t.Fatal("expected error for 401 response")
	}
}

// fakePager returns a fixed error on the second page.
type fakePager struct {
	calls int
}

func (f *fakePager) ListAccounts(ctx context.Context) ([]Account, error) { return nil, nil }

func (f *fakePager) ListTransactions(ctx context.Context, start, end time.Time, cursor string) (*TransactionPage, error) {
	f.calls++
	if cursor == "" {
		return &TransactionPage{Items: []Transaction{{ID: "t1"}}, NextCursor: "next"}, nil
	}
	return nil, errors.New("boom")
}

func (f *fakePager) ListPendingTransactions(ctx context.Context) ([]PendingTransaction, error) {
	return nil, nil
}

func TestFetchAllTransactions_PropagatesError(t *testing.T) {
	pager := &fakePager{}
	if _, err := FetchAllTransactions(context.Background(), pager, time.Time{}, time.Time{}); err == nil {
		t.Fatal("expected error from second page")
	}
	if pager.calls != 2 {
		t.Errorf("expected 2 calls, got %d", pager.calls)
	}
}

func TestTransactionType_Opposite(t *testing.T) {
	if got, ok := TransactionTypeDebit.Opposite(); !ok || got != TransactionTypeCredit {
		t.Errorf("DEBIT.Opposite() = %s, %v", got, ok)
	}
	if _, ok := TransactionType("TRANSFER").Opposite(); ok {
		t.Error("TRANSFER should have no opposite")
	}
}
