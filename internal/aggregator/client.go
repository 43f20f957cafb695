package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPClient is the concrete implementation of Client for an Akahu-compatible REST API.
type HTTPClient struct {
	baseURL   string
	appToken  string
	userToken string
	http      *http.Client
}

// NewHTTPClient creates a new HTTPClient authenticating with the given app and user tokens.
func NewHTTPClient(baseURL, appToken, userToken string) *HTTPClient {
	return &HTTPClient{
		baseURL:   baseURL,
		appToken:  appToken,
		userToken: userToken,
		http:      &http.Client{},
	}
}

// envelope is the common response wrapper of the API.
type envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Items   []T    `json:"items"`
	Cursor  *struct {
		Next string `json:"next"`
	} `json:"cursor,omitempty"`
}

// ListAccounts fetches every connected account.
func (c *HTTPClient) ListAccounts(ctx context.Context) ([]Account, error) {
	var resp envelope[Account]
	if err := c.get(ctx, "/accounts", nil, &resp); err != nil {
		return nil, fmt.Errorf("ListAccounts: %w", err)
	}
	return resp.Items, nil
}

// ListTransactions fetches one page of settled transactions.
func (c *HTTPClient) ListTransactions(ctx context.Context, start, end time.Time, cursor string) (*TransactionPage, error) {
	query := url.Values{}
	if !start.IsZero() {
		query.Set("start", start.UTC().Format(time.RFC3339))
	}
	if !end.IsZero() {
		query.Set("end", end.UTC().Format(time.RFC3339))
	}
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	var resp envelope[Transaction]
	if err := c.get(ctx, "/transactions", query, &resp); err != nil {
		return nil, fmt.Errorf("ListTransactions: %w", err)
	}

	page := &TransactionPage{Items: resp.Items}
	if resp.Cursor != nil {
		page.NextCursor = resp.Cursor.Next
	}
	return page, nil
}

// ListPendingTransactions fetches the current pending transactions.
func (c *HTTPClient) ListPendingTransactions(ctx context.Context) ([]PendingTransaction, error) {
	var resp envelope[PendingTransaction]
	if err := c.get(ctx, "/transactions/pending", nil, &resp); err != nil {
		return nil, fmt.Errorf("ListPendingTransactions: %w", err)
	}
	return resp.Items, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.userToken)
	req.Header.Set("X-Akahu-ID", c.appToken)
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("GET %s: reading body: %w", path, err)
	}

	if res.StatusCode != http.StatusOK {
		var failure struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &failure)
		return fmt.Errorf("GET %s: status %d: %s", path, res.StatusCode, failure.Message)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("GET %s: decoding body: %w", path, err)
	}
	return nil
}

// Ensure HTTPClient implements Client interface.
var _ Client = (*HTTPClient)(nil)
