// Package client calls the expense gateway over HTTP and keeps an
// optimistic local copy of the caller's expenses.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tracspend/internal/models"
)

// APIError is a non-2xx gateway response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gateway returned %d", e.Status)
	}
	return fmt.Sprintf("gateway returned %d %s: %s", e.Status, e.Code, e.Message)
}

// NewExpense is the body of a create request. A nil Date lets the server
// stamp the current time.
type NewExpense struct {
	Amount float64    `json:"amount"`
	Tag    string     `json:"tag"`
	Date   *time.Time `json:"date,omitempty"`
}

// ExpenseChanges lists the fields an update sets. Nil fields are unchanged.
type ExpenseChanges struct {
	Amount *float64   `json:"amount,omitempty"`
	Tag    *string    `json:"tag,omitempty"`
	Date   *time.Time `json:"date,omitempty"`
}

// apply copies the set fields of c onto e.
func (c ExpenseChanges) apply(e *models.Expense) {
	if c.Amount != nil {
		e.Amount = *c.Amount
	}
	if c.Tag != nil {
		e.Tag = *c.Tag
	}
	if c.Date != nil {
		e.Date = c.Date.UTC()
	}
}

// TagStats is one tag's share of a month.
type TagStats struct {
	Tag        string  `json:"tag"`
	Total      float64 `json:"total"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// MonthlyStats is the per-tag breakdown of one calendar month.
type MonthlyStats struct {
	Year      int        `json:"year"`
	Month     int        `json:"month"`
	MonthName string     `json:"monthName"`
	Total     float64    `json:"total"`
	Count     int        `json:"count"`
	Tags      []TagStats `json:"tags"`
}

// Client calls the gateway with a bearer identity token.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// New creates a client for the gateway at baseURL.
func New(baseURL, token string, client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

// List returns the caller's expenses, newest first.
func (c *Client) List(ctx context.Context) ([]models.Expense, error) {
	var out struct {
		Count int              `json:"count"`
		Data  []models.Expense `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/expenses", nil, &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		out.Data = []models.Expense{}
	}
	return out.Data, nil
}

// Create adds an expense and returns the stored record.
func (c *Client) Create(ctx context.Context, in NewExpense) (models.Expense, error) {
	var out struct {
		Data models.Expense `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/expenses", in, &out); err != nil {
		return models.Expense{}, err
	}
	return out.Data, nil
}

// Update changes an expense and returns the post-update record.
func (c *Client) Update(ctx context.Context, id string, changes ExpenseChanges) (models.Expense, error) {
	body := struct {
		ID string `json:"id"`
		ExpenseChanges
	}{ID: id, ExpenseChanges: changes}

	var out struct {
		Data models.Expense `json:"data"`
	}
	if err := c.do(ctx, http.MethodPut, "/api/expenses", body, &out); err != nil {
		return models.Expense{}, err
	}
	return out.Data, nil
}

// Delete removes an expense.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/expenses?id="+url.QueryEscape(id), nil, nil)
}

// Reset removes every expense of the caller and returns how many went.
func (c *Client) Reset(ctx context.Context) (int64, error) {
	var out struct {
		DeletedCount int64 `json:"deletedCount"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/expenses/reset", nil, &out); err != nil {
		return 0, err
	}
	return out.DeletedCount, nil
}

// Stats returns the per-tag breakdown of a month. Zero year and month ask
// for the current month.
func (c *Client) Stats(ctx context.Context, year, month int) (MonthlyStats, error) {
	query := url.Values{}
	if year != 0 {
		query.Set("year", strconv.Itoa(year))
	}
	if month != 0 {
		query.Set("month", strconv.Itoa(month))
	}
	path := "/api/expenses/stats"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var out struct {
		Data MonthlyStats `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return MonthlyStats{}, err
	}
	return out.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var failure struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&failure); err == nil {
			apiErr.Code = failure.Error
			apiErr.Message = failure.Message
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
