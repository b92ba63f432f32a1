package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stockclass/internal/game"
)

// Client reads the public views of a running stockclass API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type Quote struct {
	game.Stock
	Change  decimal.Decimal `json:"change"`
	Percent decimal.Decimal `json:"percent"`
	Up      bool            `json:"up"`
}

type Market struct {
	Day    int     `json:"day"`
	Stocks []Quote `json:"stocks"`
}

type Standings struct {
	Day         int                   `json:"day"`
	Leaderboard []game.LeaderboardRow `json:"leaderboard"`
}

func (c *Client) Health(ctx context.Context) error {
	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.jsonRequest(ctx, http.MethodGet, "/healthz", nil, &out); err != nil {
		return err
	}
	if !out.OK {
		return fmt.Errorf("api at %s reports unhealthy", c.BaseURL)
	}
	return nil
}

func (c *Client) Market(ctx context.Context) (Market, error) {
	var out Market
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/stocks", nil, &out)
	return out, err
}

func (c *Client) Standings(ctx context.Context) (Standings, error) {
	var out Standings
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/leaderboard", nil, &out)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
