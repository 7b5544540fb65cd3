package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/promptarchitect/studio/internal/engineer"
	"github.com/promptarchitect/studio/internal/prompt"
	"github.com/promptarchitect/studio/internal/provider"
	"github.com/promptarchitect/studio/internal/storage"
)

// HistoryPage is one page of GET /history.
type HistoryPage struct {
	Items  []storage.HistoryItem `json:"items"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

// Engineer runs the engineer task.
func (c *Client) Engineer(ctx context.Context, req engineer.Request) (prompt.Result, error) {
	req.Task = string(prompt.TaskEngineer)
	var res prompt.Result
	err := c.call(ctx, http.MethodPost, "/engineer-prompt", req, &res)
	return res, err
}

// Title runs the title task on text.
func (c *Client) Title(ctx context.Context, text, providerName, model string) (string, error) {
	req := engineer.Request{UserInput: text, Provider: providerName, Model: model, Task: string(prompt.TaskTitle)}
	var res prompt.TitleResult
	if err := c.call(ctx, http.MethodPost, "/engineer-prompt", req, &res); err != nil {
		return "", err
	}
	return res.Title, nil
}

func (c *Client) ListHistory(ctx context.Context, limit, offset int) (HistoryPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var page HistoryPage
	err := c.call(ctx, http.MethodGet, path, nil, &page)
	return page, err
}

func (c *Client) GetHistory(ctx context.Context, id string) (storage.HistoryItem, error) {
	var item storage.HistoryItem
	err := c.call(ctx, http.MethodGet, "/history/"+url.PathEscape(id), nil, &item)
	return item, err
}

func (c *Client) RenameHistory(ctx context.Context, id, title string) (storage.HistoryItem, error) {
	var item storage.HistoryItem
	err := c.call(ctx, http.MethodPatch, "/history/"+url.PathEscape(id), map[string]string{"title": title}, &item)
	return item, err
}

func (c *Client) DeleteHistory(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/history/"+url.PathEscape(id), nil, nil)
}

// ClearHistory deletes every non-favorite item and returns how many went.
func (c *Client) ClearHistory(ctx context.Context) (int64, error) {
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	err := c.call(ctx, http.MethodDelete, "/history", nil, &out)
	return out.Deleted, err
}

func (c *Client) Lineage(ctx context.Context, id string) (storage.Lineage, error) {
	var l storage.Lineage
	err := c.call(ctx, http.MethodGet, "/history/"+url.PathEscape(id)+"/lineage", nil, &l)
	return l, err
}

func (c *Client) ListFavorites(ctx context.Context) ([]storage.Favorite, error) {
	var out struct {
		Items []storage.Favorite `json:"items"`
	}
	err := c.call(ctx, http.MethodGet, "/favorites", nil, &out)
	return out.Items, err
}

func (c *Client) AddFavorite(ctx context.Context, historyID string) error {
	return c.call(ctx, http.MethodPut, "/favorites/"+url.PathEscape(historyID), nil, nil)
}

func (c *Client) RemoveFavorite(ctx context.Context, historyID string) error {
	return c.call(ctx, http.MethodDelete, "/favorites/"+url.PathEscape(historyID), nil, nil)
}

func (c *Client) GetSettings(ctx context.Context) (storage.Settings, error) {
	var st storage.Settings
	err := c.call(ctx, http.MethodGet, "/settings", nil, &st)
	return st, err
}

func (c *Client) PutSettings(ctx context.Context, st storage.Settings) (storage.Settings, error) {
	in := map[string]string{
		"defaultModel":    st.DefaultModel,
		"defaultProvider": st.DefaultProvider,
		"theme":           st.Theme,
	}
	var out storage.Settings
	err := c.call(ctx, http.MethodPut, "/settings", in, &out)
	return out, err
}

// Models returns the server's model catalogue.
func (c *Client) Models(ctx context.Context) ([]provider.Catalogue, error) {
	var out struct {
		Providers []provider.Catalogue `json:"providers"`
	}
	err := c.call(ctx, http.MethodGet, "/models", nil, &out)
	return out.Providers, err
}

// Health makes a single, unretried health check and returns the reported
// status ("ok" or "degraded").
func (c *Client) Health(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("server not reachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	var out struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("health returned %d: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return out.Status, fmt.Errorf("storage unavailable (see server log)")
	}
	return out.Status, nil
}
